package train

import (
	"context"
	"errors"
	"fmt"
	"math"
	"math/rand"
	"path/filepath"
	"time"

	"halo/internal/geometry"
	"halo/internal/guidance"
	"halo/internal/model"
	"halo/internal/nn"
	"halo/internal/render"
	"halo/internal/storage"
)

// Command steers a running trainer between steps.
type Command int

const (
	CommandPause Command = iota
	CommandContinue
	CommandStop
)

type Config struct {
	RunID  string
	Prompt string
	Seed   int64
	Steps  int

	BatchSize int
	Width     int
	Height    int
	Camera    render.Ranges

	Weights LossWeights

	EvalInterval       int
	CheckpointInterval int
	ExportDir          string

	Control chan Command
	Logf    func(format string, args ...any)
}

func (c Config) Validate(radius float64) error {
	if c.RunID == "" {
		return errors.New("run id is required")
	}
	if c.Prompt == "" {
		return errors.New("prompt is required")
	}
	if c.Steps <= 0 {
		return fmt.Errorf("steps must be positive, got %d", c.Steps)
	}
	if c.BatchSize <= 0 {
		return fmt.Errorf("batch size must be positive, got %d", c.BatchSize)
	}
	if c.Width <= 0 || c.Height <= 0 {
		return fmt.Errorf("render size must be positive, got %dx%d", c.Width, c.Height)
	}
	if c.EvalInterval < 0 || c.CheckpointInterval < 0 {
		return errors.New("intervals must be non-negative")
	}
	return c.Camera.Validate(radius)
}

// RunResult summarizes a completed or stopped training run.
type RunResult struct {
	CompletedSteps int
	Stopped        bool
	Diagnostics    []model.StepDiagnostics
}

// Trainer drives the score-distillation loop: render a batch of random
// views, inject the guidance gradient, add the regularizer gradients,
// and take one optimizer step.
type Trainer struct {
	cfg      Config
	geo      *geometry.Geometry
	renderer *render.Renderer
	guide    *guidance.Guidance
	prompts  *guidance.PromptProcessor
	groups   []*nn.Group
	opt      *Adam
	store    storage.Store

	startStep   int
	diagnostics []model.StepDiagnostics
	evals       []model.EvalRecord
	createdUnix int64
	bestTotal   float64
}

func NewTrainer(cfg Config, geo *geometry.Geometry, renderer *render.Renderer, guide *guidance.Guidance, prompts *guidance.PromptProcessor, groups []*nn.Group, opt *Adam, store storage.Store) (*Trainer, error) {
	if geo == nil || renderer == nil || guide == nil || prompts == nil || opt == nil || store == nil {
		return nil, errors.New("trainer requires all components")
	}
	if len(groups) == 0 {
		return nil, errors.New("trainer requires at least one parameter group")
	}
	if err := cfg.Validate(geo.Field().Config().Radius); err != nil {
		return nil, err
	}
	return &Trainer{
		cfg:       cfg,
		geo:       geo,
		renderer:  renderer,
		guide:     guide,
		prompts:   prompts,
		groups:    groups,
		opt:       opt,
		store:     store,
		bestTotal: math.Inf(1),
	}, nil
}

func (t *Trainer) logf(format string, args ...any) {
	if t.cfg.Logf != nil {
		t.cfg.Logf(format, args...)
	}
}

// stepSeed mixes the run seed with the step index so every step draws
// from its own reproducible stream, independent of how the run was
// split across resumes.
func stepSeed(seed int64, step int) int64 {
	x := uint64(seed) + 0x9E3779B97F4A7C15*uint64(step+1)
	x ^= x >> 30
	x *= 0xBF58476D1CE4E5B9
	x ^= x >> 27
	x *= 0x94D049BB133111EB
	x ^= x >> 31
	return int64(x)
}

// Run executes steps until the configured total, the context is
// cancelled, or a stop command arrives. When the trainer was restored
// from a checkpoint it continues from the checkpointed step.
func (t *Trainer) Run(ctx context.Context) (RunResult, error) {
	radius := t.geo.Field().Config().Radius
	cond, uncond, err := t.prompts.Embeddings(ctx, t.cfg.Prompt)
	if err != nil {
		return RunResult{}, fmt.Errorf("prompt embeddings: %w", err)
	}

	if t.startStep > 0 && len(t.diagnostics) == 0 {
		prior, ok, err := t.store.GetStepDiagnostics(ctx, t.cfg.RunID)
		if err != nil {
			return RunResult{}, fmt.Errorf("load prior diagnostics: %w", err)
		}
		if ok {
			t.diagnostics = prior
		}
		evals, ok, err := t.store.GetEvalRecords(ctx, t.cfg.RunID)
		if err != nil {
			return RunResult{}, fmt.Errorf("load prior eval records: %w", err)
		}
		if ok {
			t.evals = evals
		}
	}

	completed := t.startStep
	stopped := false
	for step := t.startStep; step < t.cfg.Steps; step++ {
		stop, err := t.applyControl(ctx)
		if err != nil {
			return RunResult{CompletedSteps: completed, Diagnostics: t.diagnostics}, err
		}
		if stop {
			stopped = true
			break
		}

		diag, err := t.runStep(ctx, step, radius, cond, uncond)
		if err != nil {
			return RunResult{CompletedSteps: completed, Diagnostics: t.diagnostics}, err
		}
		completed = step + 1
		t.diagnostics = append(t.diagnostics, diag)
		if diag.Total < t.bestTotal {
			t.bestTotal = diag.Total
		}

		if t.cfg.EvalInterval > 0 && completed%t.cfg.EvalInterval == 0 {
			t.runEval(ctx, completed, radius)
		}
		if (t.cfg.CheckpointInterval > 0 && completed%t.cfg.CheckpointInterval == 0) || completed == t.cfg.Steps {
			if err := t.persist(ctx, completed, diag); err != nil {
				return RunResult{CompletedSteps: completed, Diagnostics: t.diagnostics}, err
			}
		}
	}

	if stopped || completed == t.startStep {
		var last model.StepDiagnostics
		if n := len(t.diagnostics); n > 0 {
			last = t.diagnostics[n-1]
		}
		if err := t.persist(ctx, completed, last); err != nil {
			return RunResult{CompletedSteps: completed, Diagnostics: t.diagnostics}, err
		}
	}
	return RunResult{CompletedSteps: completed, Stopped: stopped, Diagnostics: t.diagnostics}, nil
}

func (t *Trainer) runStep(ctx context.Context, step int, radius float64, cond, uncond []float64) (model.StepDiagnostics, error) {
	rng := rand.New(rand.NewSource(stepSeed(t.cfg.Seed, step)))
	for _, g := range t.groups {
		g.ZeroGrad()
	}

	wGuidance := t.cfg.Weights.Guidance.ValueAt(step)
	wSparsity := t.cfg.Weights.Sparsity.ValueAt(step)
	wOpaque := t.cfg.Weights.Opaque.ValueAt(step)
	wOrient := t.cfg.Weights.Orientation.ValueAt(step)
	wTVDensity := t.cfg.Weights.TVDensity.ValueAt(step)
	wTVApp := t.cfg.Weights.TVApp.ValueAt(step)

	batch := float64(t.cfg.BatchSize)
	terms := map[string]float64{}
	timestep := 0
	for b := 0; b < t.cfg.BatchSize; b++ {
		cam := render.SampleCamera(t.cfg.Camera, radius, rng)
		rays := cam.Rays(t.cfg.Width, t.cfg.Height)
		maps, tape, err := t.renderer.Render(rays, t.cfg.Width, t.cfg.Height, rng, render.Options{
			Tape:    true,
			Normals: wOrient > 0,
		})
		if err != nil {
			return model.StepDiagnostics{}, fmt.Errorf("render at step %d: %w", step, err)
		}

		grad, gdiag, err := t.guide.Gradient(ctx, maps.Color, cond, uncond, rng)
		if err != nil {
			return model.StepDiagnostics{}, fmt.Errorf("guidance at step %d: %w", step, err)
		}
		// Diagnostics carry the first view's timestep; the remaining
		// views of the batch draw their own.
		if b == 0 {
			timestep = gdiag.Timestep
		}
		for i := range grad {
			grad[i] *= wGuidance / batch
		}

		dOpacity := make([]float64, len(maps.Opacity))
		sparsity := sparsityLoss(maps.Opacity, dOpacity, wSparsity/batch)
		opaque := opaqueLoss(maps.Opacity, dOpacity, wOpaque/batch)
		if err := tape.Backward(grad, dOpacity); err != nil {
			return model.StepDiagnostics{}, fmt.Errorf("backward at step %d: %w", step, err)
		}
		orient := tape.AccumulateOrientation(wOrient / batch)

		terms["sds"] += wGuidance * gdiag.Loss / batch
		terms["sparsity"] += wSparsity * sparsity / batch
		terms["opaque"] += wOpaque * opaque / batch
		terms["orient"] += wOrient * orient / batch
	}

	fld := t.geo.Field()
	terms["tv_density"] = wTVDensity * fld.Density.AccumulateTV(wTVDensity)
	terms["tv_app"] = wTVApp * fld.Appearance.AccumulateTV(wTVApp)

	total := 0.0
	for name, v := range terms {
		if err := checkTerm(name, step, v); err != nil {
			return model.StepDiagnostics{}, err
		}
		total += v
	}

	if err := t.opt.Step(t.groups); err != nil {
		return model.StepDiagnostics{}, fmt.Errorf("optimizer at step %d: %w", step, err)
	}
	return model.StepDiagnostics{Step: step + 1, Timestep: timestep, Terms: terms, Total: total}, nil
}

// runEval renders a fixed validation view without gradients. Failures
// are reported and skipped so a bad eval never kills the run.
func (t *Trainer) runEval(ctx context.Context, completed int, radius float64) {
	cam := render.EvalCamera(t.cfg.Camera, radius)
	rays := cam.Rays(t.cfg.Width, t.cfg.Height)
	maps, _, err := t.renderer.Render(rays, t.cfg.Width, t.cfg.Height, nil, render.Options{Normals: true})
	if err != nil {
		t.logf("eval render at step %d failed: %v", completed, err)
		return
	}

	record := model.EvalRecord{Step: completed}
	for _, o := range maps.Opacity {
		record.MeanOpacity += o
	}
	record.MeanOpacity /= float64(len(maps.Opacity))

	if t.cfg.ExportDir != "" {
		prefix := fmt.Sprintf("step_%06d", completed)
		if err := maps.WritePNGs(t.cfg.ExportDir, prefix); err != nil {
			t.logf("eval export at step %d failed: %v", completed, err)
		} else {
			record.ColorPath = filepath.Join(t.cfg.ExportDir, prefix+"_color.png")
			record.OpacityPath = filepath.Join(t.cfg.ExportDir, prefix+"_opacity.png")
			record.NormalPath = filepath.Join(t.cfg.ExportDir, prefix+"_normal.png")
		}
	}

	t.evals = append(t.evals, record)
	if err := t.store.SaveEvalRecords(ctx, t.cfg.RunID, t.evals); err != nil {
		t.logf("eval save at step %d failed: %v", completed, err)
	}
}

func (t *Trainer) persist(ctx context.Context, completed int, diag model.StepDiagnostics) error {
	for _, g := range t.groups {
		for _, p := range g.Params {
			if err := p.CheckFinite(); err != nil {
				return fmt.Errorf("checkpoint at step %d: %w", completed, err)
			}
		}
	}

	cp := t.buildCheckpoint(completed, diag)
	if err := t.store.SaveCheckpoint(ctx, cp); err != nil {
		return fmt.Errorf("save checkpoint at step %d: %w", completed, err)
	}
	if err := t.store.SaveStepDiagnostics(ctx, t.cfg.RunID, t.diagnostics); err != nil {
		return fmt.Errorf("save diagnostics at step %d: %w", completed, err)
	}

	now := time.Now().Unix()
	if t.createdUnix == 0 {
		existing, ok, err := t.store.GetRunSummary(ctx, t.cfg.RunID)
		if err != nil {
			return fmt.Errorf("load run summary: %w", err)
		}
		if ok {
			t.createdUnix = existing.CreatedUnix
			if existing.BestTotal < t.bestTotal {
				t.bestTotal = existing.BestTotal
			}
		} else {
			t.createdUnix = now
		}
	}
	best := t.bestTotal
	if math.IsInf(best, 1) {
		best = diag.Total
	}
	summary := model.RunSummary{
		VersionedRecord: model.VersionedRecord{
			SchemaVersion: storage.CurrentSchemaVersion,
			CodecVersion:  storage.CurrentCodecVersion,
		},
		RunID:          t.cfg.RunID,
		Prompt:         t.cfg.Prompt,
		Steps:          t.cfg.Steps,
		CompletedSteps: completed,
		LastTotal:      diag.Total,
		BestTotal:      best,
		CreatedUnix:    t.createdUnix,
		UpdatedUnix:    now,
	}
	if err := t.store.SaveRunSummary(ctx, summary); err != nil {
		return fmt.Errorf("save run summary: %w", err)
	}
	return nil
}

func (t *Trainer) applyControl(ctx context.Context) (bool, error) {
	if t.cfg.Control == nil {
		return false, ctx.Err()
	}
	for {
		select {
		case <-ctx.Done():
			return false, ctx.Err()
		case cmd := <-t.cfg.Control:
			switch cmd {
			case CommandStop:
				return true, nil
			case CommandPause:
				stop, err := t.waitContinue(ctx)
				if stop || err != nil {
					return stop, err
				}
			}
		default:
			return false, ctx.Err()
		}
	}
}

func (t *Trainer) waitContinue(ctx context.Context) (bool, error) {
	for {
		select {
		case <-ctx.Done():
			return false, ctx.Err()
		case cmd := <-t.cfg.Control:
			switch cmd {
			case CommandStop:
				return true, nil
			case CommandContinue:
				return false, nil
			}
		}
	}
}
