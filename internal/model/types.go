package model

// VersionedRecord tags persisted payloads so the codec can reject
// records written by an incompatible build.
type VersionedRecord struct {
	SchemaVersion int `json:"schema_version"`
	CodecVersion  int `json:"codec_version"`
}

// ParamBlob is a flat snapshot of one named parameter tensor.
type ParamBlob struct {
	Name   string    `json:"name"`
	Values []float64 `json:"values"`
}

// OptimizerState captures the Adam moment estimates alongside the step
// counter used for bias correction.
type OptimizerState struct {
	Step int         `json:"step"`
	M    []ParamBlob `json:"m"`
	V    []ParamBlob `json:"v"`
}

// StepDiagnostics records the loss breakdown of a single optimization
// step. Terms maps each loss name to its weighted value.
type StepDiagnostics struct {
	Step     int                `json:"step"`
	Timestep int                `json:"timestep"`
	Terms    map[string]float64 `json:"terms"`
	Total    float64            `json:"total"`
}

// Checkpoint is a full resumable snapshot of a distillation run.
type Checkpoint struct {
	VersionedRecord
	RunID       string          `json:"run_id"`
	Step        int             `json:"step"`
	Seed        int64           `json:"seed"`
	Params      []ParamBlob     `json:"params"`
	Optimizer   OptimizerState  `json:"optimizer"`
	Diagnostics StepDiagnostics `json:"diagnostics"`
	CreatedUnix int64           `json:"created_unix"`
}

// RunSummary is the bookkeeping record for one run.
type RunSummary struct {
	VersionedRecord
	RunID          string  `json:"run_id"`
	Prompt         string  `json:"prompt"`
	Steps          int     `json:"steps"`
	CompletedSteps int     `json:"completed_steps"`
	LastTotal      float64 `json:"last_total"`
	BestTotal      float64 `json:"best_total"`
	CreatedUnix    int64   `json:"created_unix"`
	UpdatedUnix    int64   `json:"updated_unix"`
}

// EvalRecord points at the image artifacts rendered during a periodic
// evaluation pass.
type EvalRecord struct {
	Step        int     `json:"step"`
	MeanOpacity float64 `json:"mean_opacity"`
	ColorPath   string  `json:"color_path"`
	OpacityPath string  `json:"opacity_path"`
	NormalPath  string  `json:"normal_path"`
}
