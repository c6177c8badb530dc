package train

import (
	"fmt"
	"time"

	"halo/internal/model"
	"halo/internal/nn"
	"halo/internal/storage"
)

func snapshotParams(groups []*nn.Group) []model.ParamBlob {
	var blobs []model.ParamBlob
	for _, g := range groups {
		for _, p := range g.Params {
			blobs = append(blobs, model.ParamBlob{
				Name:   p.Name,
				Values: append([]float64(nil), p.Data...),
			})
		}
	}
	return blobs
}

func restoreParams(groups []*nn.Group, blobs []model.ParamBlob) error {
	byName := make(map[string][]float64, len(blobs))
	for _, blob := range blobs {
		byName[blob.Name] = blob.Values
	}
	for _, g := range groups {
		for _, p := range g.Params {
			values, ok := byName[p.Name]
			if !ok {
				return fmt.Errorf("checkpoint is missing parameter %s", p.Name)
			}
			if len(values) != len(p.Data) {
				return fmt.Errorf("checkpoint parameter %s has %d values, want %d", p.Name, len(values), len(p.Data))
			}
			copy(p.Data, values)
		}
	}
	return nil
}

func (t *Trainer) buildCheckpoint(step int, diag model.StepDiagnostics) model.Checkpoint {
	return model.Checkpoint{
		VersionedRecord: model.VersionedRecord{
			SchemaVersion: storage.CurrentSchemaVersion,
			CodecVersion:  storage.CurrentCodecVersion,
		},
		RunID:       t.cfg.RunID,
		Step:        step,
		Seed:        t.cfg.Seed,
		Params:      snapshotParams(t.groups),
		Optimizer:   t.opt.State(),
		Diagnostics: diag,
		CreatedUnix: time.Now().Unix(),
	}
}

// Restore loads a checkpoint's parameters and optimizer state so the
// run continues from the step after cp.Step.
func (t *Trainer) Restore(cp model.Checkpoint) error {
	if cp.Seed != t.cfg.Seed {
		return fmt.Errorf("checkpoint seed %d does not match run seed %d", cp.Seed, t.cfg.Seed)
	}
	if err := restoreParams(t.groups, cp.Params); err != nil {
		return err
	}
	if err := t.opt.LoadState(cp.Optimizer); err != nil {
		return err
	}
	t.startStep = cp.Step
	return nil
}
