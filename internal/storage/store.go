package storage

import (
	"context"

	"halo/internal/model"
)

// Store defines persistence operations for run checkpoints and diagnostics.
type Store interface {
	Init(ctx context.Context) error
	SaveCheckpoint(ctx context.Context, cp model.Checkpoint) error
	GetLatestCheckpoint(ctx context.Context, runID string) (model.Checkpoint, bool, error)
	SaveStepDiagnostics(ctx context.Context, runID string, diagnostics []model.StepDiagnostics) error
	GetStepDiagnostics(ctx context.Context, runID string) ([]model.StepDiagnostics, bool, error)
	SaveRunSummary(ctx context.Context, summary model.RunSummary) error
	GetRunSummary(ctx context.Context, runID string) (model.RunSummary, bool, error)
	ListRuns(ctx context.Context) ([]model.RunSummary, error)
	SaveEvalRecords(ctx context.Context, runID string, records []model.EvalRecord) error
	GetEvalRecords(ctx context.Context, runID string) ([]model.EvalRecord, bool, error)
}
