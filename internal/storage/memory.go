package storage

import (
	"context"
	"sync"

	"halo/internal/model"
)

type MemoryStore struct {
	mu          sync.RWMutex
	initialized bool
	checkpoints map[string][]model.Checkpoint
	diagnostics map[string][]model.StepDiagnostics
	summaries   map[string]model.RunSummary
	evals       map[string][]model.EvalRecord
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{}
}

func (s *MemoryStore) Init(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.initialized = true
	s.checkpoints = make(map[string][]model.Checkpoint)
	s.diagnostics = make(map[string][]model.StepDiagnostics)
	s.summaries = make(map[string]model.RunSummary)
	s.evals = make(map[string][]model.EvalRecord)
	return nil
}

func (s *MemoryStore) SaveCheckpoint(_ context.Context, cp model.Checkpoint) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	existing := s.checkpoints[cp.RunID]
	for i := range existing {
		if existing[i].Step == cp.Step {
			existing[i] = cp
			return nil
		}
	}
	s.checkpoints[cp.RunID] = append(existing, cp)
	return nil
}

func (s *MemoryStore) GetLatestCheckpoint(_ context.Context, runID string) (model.Checkpoint, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	existing, ok := s.checkpoints[runID]
	if !ok || len(existing) == 0 {
		return model.Checkpoint{}, false, nil
	}
	latest := existing[0]
	for _, cp := range existing[1:] {
		if cp.Step > latest.Step {
			latest = cp
		}
	}
	return latest, true, nil
}

func (s *MemoryStore) SaveStepDiagnostics(_ context.Context, runID string, diagnostics []model.StepDiagnostics) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	copied := make([]model.StepDiagnostics, len(diagnostics))
	copy(copied, diagnostics)
	s.diagnostics[runID] = copied
	return nil
}

func (s *MemoryStore) GetStepDiagnostics(_ context.Context, runID string) ([]model.StepDiagnostics, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	diagnostics, ok := s.diagnostics[runID]
	if !ok {
		return nil, false, nil
	}
	out := make([]model.StepDiagnostics, len(diagnostics))
	copy(out, diagnostics)
	return out, true, nil
}

func (s *MemoryStore) SaveRunSummary(_ context.Context, summary model.RunSummary) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.summaries[summary.RunID] = summary
	return nil
}

func (s *MemoryStore) GetRunSummary(_ context.Context, runID string) (model.RunSummary, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	summary, ok := s.summaries[runID]
	return summary, ok, nil
}

func (s *MemoryStore) ListRuns(_ context.Context) ([]model.RunSummary, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]model.RunSummary, 0, len(s.summaries))
	for _, summary := range s.summaries {
		out = append(out, summary)
	}
	return out, nil
}

func (s *MemoryStore) SaveEvalRecords(_ context.Context, runID string, records []model.EvalRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	copied := make([]model.EvalRecord, len(records))
	copy(copied, records)
	s.evals[runID] = copied
	return nil
}

func (s *MemoryStore) GetEvalRecords(_ context.Context, runID string) ([]model.EvalRecord, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	records, ok := s.evals[runID]
	if !ok {
		return nil, false, nil
	}
	out := make([]model.EvalRecord, len(records))
	copy(out, records)
	return out, true, nil
}

func (s *MemoryStore) Reset(ctx context.Context) error {
	return s.Init(ctx)
}
