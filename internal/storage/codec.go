package storage

import (
	"encoding/json"
	"errors"

	"halo/internal/model"
)

const (
	CurrentSchemaVersion = 1
	CurrentCodecVersion  = 1
)

var ErrVersionMismatch = errors.New("record version mismatch")

func EncodeCheckpoint(cp model.Checkpoint) ([]byte, error) {
	return json.Marshal(cp)
}

func DecodeCheckpoint(data []byte) (model.Checkpoint, error) {
	var cp model.Checkpoint
	if err := json.Unmarshal(data, &cp); err != nil {
		return model.Checkpoint{}, err
	}
	if err := checkVersion(cp.VersionedRecord); err != nil {
		return model.Checkpoint{}, err
	}
	return cp, nil
}

func EncodeRunSummary(s model.RunSummary) ([]byte, error) {
	return json.Marshal(s)
}

func DecodeRunSummary(data []byte) (model.RunSummary, error) {
	var summary model.RunSummary
	if err := json.Unmarshal(data, &summary); err != nil {
		return model.RunSummary{}, err
	}
	if err := checkVersion(summary.VersionedRecord); err != nil {
		return model.RunSummary{}, err
	}
	return summary, nil
}

func EncodeStepDiagnostics(diagnostics []model.StepDiagnostics) ([]byte, error) {
	return json.Marshal(diagnostics)
}

func DecodeStepDiagnostics(data []byte) ([]model.StepDiagnostics, error) {
	var diagnostics []model.StepDiagnostics
	if err := json.Unmarshal(data, &diagnostics); err != nil {
		return nil, err
	}
	return diagnostics, nil
}

func EncodeEvalRecords(records []model.EvalRecord) ([]byte, error) {
	return json.Marshal(records)
}

func DecodeEvalRecords(data []byte) ([]model.EvalRecord, error) {
	var records []model.EvalRecord
	if err := json.Unmarshal(data, &records); err != nil {
		return nil, err
	}
	return records, nil
}

func checkVersion(v model.VersionedRecord) error {
	if v.SchemaVersion != CurrentSchemaVersion || v.CodecVersion != CurrentCodecVersion {
		return ErrVersionMismatch
	}
	return nil
}
