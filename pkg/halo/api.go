// Package halo exposes the text-to-3D distillation pipeline behind a
// small client API: configure a run, drive it to completion, resume it
// from the latest checkpoint, and read back its diagnostics.
package halo

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"sort"

	"github.com/google/uuid"

	"halo/internal/field"
	"halo/internal/geometry"
	"halo/internal/guidance"
	"halo/internal/model"
	"halo/internal/nn"
	"halo/internal/render"
	"halo/internal/storage"
	"halo/internal/train"
)

const (
	defaultExportsDir = "exports"
	defaultDBPath     = "halo.db"
)

type Options struct {
	StoreKind  string
	DBPath     string
	ExportsDir string
}

type Client struct {
	store      storage.Store
	exportsDir string
}

func New(opts Options) (*Client, error) {
	storeKind := opts.StoreKind
	if storeKind == "" {
		storeKind = storage.DefaultStoreKind()
	}
	dbPath := opts.DBPath
	if dbPath == "" {
		dbPath = defaultDBPath
	}
	exportsDir := opts.ExportsDir
	if exportsDir == "" {
		exportsDir = defaultExportsDir
	}

	store, err := storage.NewStore(storeKind, dbPath)
	if err != nil {
		return nil, err
	}
	return &Client{store: store, exportsDir: exportsDir}, nil
}

func (c *Client) Close() error {
	return storage.CloseIfSupported(c.store)
}

func (c *Client) Init(ctx context.Context) error {
	return c.store.Init(ctx)
}

// RunRequest carries the full configuration of one distillation run.
// Zero values fall back to working defaults.
type RunRequest struct {
	Prompt string
	Seed   int64
	Steps  int

	BatchSize int
	Width     int
	Height    int

	SceneRadius          float64
	GridResolution       int
	DensityComponents    [3]int
	AppearanceComponents [3]int

	DensityActivation string
	DensityBiasKind   string
	DensityBiasScale  float64
	DensityBiasSpread float64
	NormalEps         float64
	PosEncodingBands  int
	DirEncodingBands  int

	Material          string
	Ambient           float64
	BackgroundBands   int
	BackgroundAugment bool
	SamplesPerRay     int
	Stratified        bool

	CameraDistanceMin  float64
	CameraDistanceMax  float64
	CameraFOVMinDeg    float64
	CameraFOVMaxDeg    float64
	CameraElevationMin float64
	CameraElevationMax float64

	GuidanceScale float64
	MinStepFrac   float64
	MaxStepFrac   float64
	Weighting     string
	PriorURL      string
	PriorModel    string

	GuidanceWeight    float64
	SparsityWeight    float64
	OpaqueWeight      float64
	OrientationWeight float64
	TVDensityWeight   float64
	TVAppWeight       float64

	// Flat (step, value, ...) lists; when set they override the
	// corresponding constant weight.
	GuidanceSchedule    []float64
	SparsitySchedule    []float64
	OpaqueSchedule      []float64
	OrientationSchedule []float64
	TVDensitySchedule   []float64
	TVAppSchedule       []float64

	FieldLR      float64
	HeadLR       float64
	BackgroundLR float64
	Beta1        float64
	Beta2        float64
	Eps          float64

	EvalInterval       int
	CheckpointInterval int

	Control chan train.Command
	Logf    func(format string, args ...any)
}

func (r RunRequest) withDefaults() RunRequest {
	if r.Steps <= 0 {
		r.Steps = 2000
	}
	if r.BatchSize <= 0 {
		r.BatchSize = 1
	}
	if r.Width <= 0 {
		r.Width = 64
	}
	if r.Height <= 0 {
		r.Height = 64
	}
	if r.SceneRadius <= 0 {
		r.SceneRadius = 1
	}
	if r.GridResolution <= 0 {
		r.GridResolution = 64
	}
	if r.DensityComponents == ([3]int{}) {
		r.DensityComponents = [3]int{8, 8, 8}
	}
	if r.AppearanceComponents == ([3]int{}) {
		r.AppearanceComponents = [3]int{8, 8, 8}
	}
	if r.DensityActivation == "" {
		r.DensityActivation = "softplus"
	}
	if r.DensityBiasKind == "" {
		r.DensityBiasKind = "blob_gauss"
	}
	if r.DensityBiasScale == 0 {
		r.DensityBiasScale = 5
	}
	if r.DensityBiasSpread <= 0 {
		r.DensityBiasSpread = 0.2
	}
	if r.NormalEps <= 0 {
		r.NormalEps = 1e-2
	}
	if r.PosEncodingBands <= 0 {
		r.PosEncodingBands = 4
	}
	if r.DirEncodingBands <= 0 {
		r.DirEncodingBands = 2
	}
	if r.Material == "" {
		r.Material = "sigmoid"
	}
	if r.Ambient <= 0 {
		r.Ambient = 0.1
	}
	if r.BackgroundBands <= 0 {
		r.BackgroundBands = 3
	}
	if r.SamplesPerRay <= 0 {
		r.SamplesPerRay = 64
	}
	if r.CameraDistanceMin <= 0 {
		r.CameraDistanceMin = 1.8
	}
	if r.CameraDistanceMax <= 0 {
		r.CameraDistanceMax = 2.4
	}
	if r.CameraFOVMinDeg <= 0 {
		r.CameraFOVMinDeg = 40
	}
	if r.CameraFOVMaxDeg <= 0 {
		r.CameraFOVMaxDeg = 70
	}
	if r.CameraElevationMin == 0 && r.CameraElevationMax == 0 {
		r.CameraElevationMin = -10
		r.CameraElevationMax = 45
	}
	if r.GuidanceScale == 0 {
		r.GuidanceScale = 7.5
	}
	if r.MinStepFrac == 0 && r.MaxStepFrac == 0 {
		r.MinStepFrac = 0.02
		r.MaxStepFrac = 0.98
	}
	if r.GuidanceWeight == 0 && len(r.GuidanceSchedule) == 0 {
		r.GuidanceWeight = 1
	}
	if r.SparsityWeight == 0 && len(r.SparsitySchedule) == 0 {
		r.SparsityWeight = 0.1
	}
	if r.OpaqueWeight == 0 && len(r.OpaqueSchedule) == 0 {
		r.OpaqueWeight = 0.05
	}
	if r.OrientationWeight == 0 && len(r.OrientationSchedule) == 0 {
		r.OrientationWeight = 0.01
	}
	if r.TVDensityWeight == 0 && len(r.TVDensitySchedule) == 0 {
		r.TVDensityWeight = 0.001
	}
	if r.TVAppWeight == 0 && len(r.TVAppSchedule) == 0 {
		r.TVAppWeight = 0.001
	}
	if r.FieldLR <= 0 {
		r.FieldLR = 0.02
	}
	if r.HeadLR <= 0 {
		r.HeadLR = 0.005
	}
	if r.BackgroundLR <= 0 {
		r.BackgroundLR = 0.005
	}
	if r.CheckpointInterval <= 0 {
		r.CheckpointInterval = 100
	}
	return r
}

// RunSummary reports where a run ended up.
type RunSummary struct {
	RunID          string
	CompletedSteps int
	Stopped        bool
	LastTotal      float64
	BestTotal      float64
}

type pipeline struct {
	trainer *train.Trainer
}

func termSchedule(flat []float64, constant float64) (train.Schedule, error) {
	if len(flat) > 0 {
		return train.NewSchedule(flat)
	}
	return train.Constant(constant), nil
}

func (c *Client) buildPipeline(req RunRequest, runID string) (*pipeline, error) {
	rng := rand.New(rand.NewSource(req.Seed))

	fld, err := field.New(field.Config{
		Resolution:           req.GridResolution,
		DensityComponents:    req.DensityComponents,
		AppearanceComponents: req.AppearanceComponents,
		Radius:               req.SceneRadius,
	}, rng)
	if err != nil {
		return nil, fmt.Errorf("field: %w", err)
	}

	geo, err := geometry.New(fld, geometry.Config{
		DensityActivation: req.DensityActivation,
		BiasKind:          req.DensityBiasKind,
		BiasScale:         req.DensityBiasScale,
		BiasSpread:        req.DensityBiasSpread,
		NormalEps:         req.NormalEps,
		PosEncodingBands:  req.PosEncodingBands,
		DirEncodingBands:  req.DirEncodingBands,
	}, rng)
	if err != nil {
		return nil, fmt.Errorf("geometry: %w", err)
	}

	mat, err := render.NewMaterial(req.Material, req.Ambient)
	if err != nil {
		return nil, fmt.Errorf("material: %w", err)
	}
	bg, err := render.NewBackground(req.BackgroundBands, req.BackgroundAugment, rng)
	if err != nil {
		return nil, fmt.Errorf("background: %w", err)
	}
	renderer, err := render.New(geo, mat, bg, req.SamplesPerRay, req.Stratified)
	if err != nil {
		return nil, fmt.Errorf("renderer: %w", err)
	}

	var scorer guidance.Scorer
	var encoder guidance.TextEncoder
	if req.PriorURL != "" {
		client, err := guidance.NewPriorClient(req.PriorURL, req.PriorModel)
		if err != nil {
			return nil, fmt.Errorf("prior client: %w", err)
		}
		scorer, encoder = client, client
	} else {
		prior := guidance.NewOfflinePrior()
		scorer, encoder = prior, prior
	}

	sched, err := guidance.NewScaledLinearSchedule(
		guidance.DefaultTrainSteps, guidance.DefaultBetaStart, guidance.DefaultBetaEnd)
	if err != nil {
		return nil, fmt.Errorf("noise schedule: %w", err)
	}
	guide, err := guidance.New(scorer, sched, guidance.Config{
		Scale:       req.GuidanceScale,
		MinStepFrac: req.MinStepFrac,
		MaxStepFrac: req.MaxStepFrac,
		Weighting:   req.Weighting,
	})
	if err != nil {
		return nil, fmt.Errorf("guidance: %w", err)
	}
	prompts, err := guidance.NewPromptProcessor(encoder)
	if err != nil {
		return nil, fmt.Errorf("prompt processor: %w", err)
	}

	weights := train.LossWeights{}
	if weights.Guidance, err = termSchedule(req.GuidanceSchedule, req.GuidanceWeight); err != nil {
		return nil, fmt.Errorf("guidance schedule: %w", err)
	}
	if weights.Sparsity, err = termSchedule(req.SparsitySchedule, req.SparsityWeight); err != nil {
		return nil, fmt.Errorf("sparsity schedule: %w", err)
	}
	if weights.Opaque, err = termSchedule(req.OpaqueSchedule, req.OpaqueWeight); err != nil {
		return nil, fmt.Errorf("opaque schedule: %w", err)
	}
	if weights.Orientation, err = termSchedule(req.OrientationSchedule, req.OrientationWeight); err != nil {
		return nil, fmt.Errorf("orientation schedule: %w", err)
	}
	if weights.TVDensity, err = termSchedule(req.TVDensitySchedule, req.TVDensityWeight); err != nil {
		return nil, fmt.Errorf("tv density schedule: %w", err)
	}
	if weights.TVApp, err = termSchedule(req.TVAppSchedule, req.TVAppWeight); err != nil {
		return nil, fmt.Errorf("tv appearance schedule: %w", err)
	}

	groups := []*nn.Group{
		{Name: "field", LR: req.FieldLR, Params: fld.Params()},
		{Name: "heads", LR: req.HeadLR, Params: geo.Params()},
		{Name: "background", LR: req.BackgroundLR, Params: bg.Params()},
	}
	opt, err := train.NewAdam(train.AdamConfig{Beta1: req.Beta1, Beta2: req.Beta2, Eps: req.Eps})
	if err != nil {
		return nil, fmt.Errorf("optimizer: %w", err)
	}

	trainer, err := train.NewTrainer(train.Config{
		RunID:     runID,
		Prompt:    req.Prompt,
		Seed:      req.Seed,
		Steps:     req.Steps,
		BatchSize: req.BatchSize,
		Width:     req.Width,
		Height:    req.Height,
		Camera: render.Ranges{
			DistanceMin:     req.CameraDistanceMin,
			DistanceMax:     req.CameraDistanceMax,
			FOVMinDeg:       req.CameraFOVMinDeg,
			FOVMaxDeg:       req.CameraFOVMaxDeg,
			ElevationMinDeg: req.CameraElevationMin,
			ElevationMaxDeg: req.CameraElevationMax,
		},
		Weights:            weights,
		EvalInterval:       req.EvalInterval,
		CheckpointInterval: req.CheckpointInterval,
		ExportDir:          c.exportsDir,
		Control:            req.Control,
		Logf:               req.Logf,
	}, geo, renderer, guide, prompts, groups, opt, c.store)
	if err != nil {
		return nil, err
	}
	return &pipeline{trainer: trainer}, nil
}

// Run starts a fresh distillation run and drives it to completion.
func (c *Client) Run(ctx context.Context, req RunRequest) (RunSummary, error) {
	if req.Prompt == "" {
		return RunSummary{}, errors.New("prompt is required")
	}
	req = req.withDefaults()
	runID := uuid.NewString()

	p, err := c.buildPipeline(req, runID)
	if err != nil {
		return RunSummary{}, err
	}
	result, err := p.trainer.Run(ctx)
	if err != nil {
		return RunSummary{RunID: runID, CompletedSteps: result.CompletedSteps}, err
	}
	return c.summarize(ctx, runID, result)
}

// Resume continues a run from its latest checkpoint. The request must
// describe the same model configuration the run was started with.
func (c *Client) Resume(ctx context.Context, runID string, req RunRequest) (RunSummary, error) {
	if runID == "" {
		return RunSummary{}, errors.New("run id is required")
	}
	if req.Prompt == "" {
		summary, ok, err := c.store.GetRunSummary(ctx, runID)
		if err != nil {
			return RunSummary{}, err
		}
		if !ok {
			return RunSummary{}, fmt.Errorf("run %s not found", runID)
		}
		req.Prompt = summary.Prompt
	}

	cp, ok, err := c.store.GetLatestCheckpoint(ctx, runID)
	if err != nil {
		return RunSummary{}, err
	}
	if !ok {
		return RunSummary{}, fmt.Errorf("run %s has no checkpoint", runID)
	}

	req.Seed = cp.Seed
	req = req.withDefaults()
	p, err := c.buildPipeline(req, runID)
	if err != nil {
		return RunSummary{}, err
	}
	if err := p.trainer.Restore(cp); err != nil {
		return RunSummary{}, err
	}
	result, err := p.trainer.Run(ctx)
	if err != nil {
		return RunSummary{RunID: runID, CompletedSteps: result.CompletedSteps}, err
	}
	return c.summarize(ctx, runID, result)
}

func (c *Client) summarize(ctx context.Context, runID string, result train.RunResult) (RunSummary, error) {
	out := RunSummary{
		RunID:          runID,
		CompletedSteps: result.CompletedSteps,
		Stopped:        result.Stopped,
	}
	stored, ok, err := c.store.GetRunSummary(ctx, runID)
	if err != nil {
		return out, err
	}
	if ok {
		out.LastTotal = stored.LastTotal
		out.BestTotal = stored.BestTotal
	}
	return out, nil
}

// Runs lists stored run summaries, newest first.
func (c *Client) Runs(ctx context.Context) ([]model.RunSummary, error) {
	runs, err := c.store.ListRuns(ctx)
	if err != nil {
		return nil, err
	}
	sort.Slice(runs, func(i, j int) bool { return runs[i].CreatedUnix > runs[j].CreatedUnix })
	return runs, nil
}

// Diagnostics returns the per-step loss breakdown of a run, most
// recent last, optionally truncated to the final limit entries.
func (c *Client) Diagnostics(ctx context.Context, runID string, limit int) ([]model.StepDiagnostics, error) {
	diagnostics, ok, err := c.store.GetStepDiagnostics(ctx, runID)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("run %s has no diagnostics", runID)
	}
	if limit > 0 && len(diagnostics) > limit {
		diagnostics = diagnostics[len(diagnostics)-limit:]
	}
	return diagnostics, nil
}

// EvalRecords returns the evaluation artifacts captured during a run.
func (c *Client) EvalRecords(ctx context.Context, runID string) ([]model.EvalRecord, error) {
	records, ok, err := c.store.GetEvalRecords(ctx, runID)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("run %s has no eval records", runID)
	}
	return records, nil
}
