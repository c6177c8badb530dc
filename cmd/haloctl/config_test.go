package main

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
)

func writeConfig(t *testing.T, cfg map[string]any) string {
	t.Helper()
	data, err := json.Marshal(cfg)
	if err != nil {
		t.Fatalf("marshal config: %v", err)
	}
	path := filepath.Join(t.TempDir(), "run.json")
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoadRunRequestFromConfig(t *testing.T) {
	path := writeConfig(t, map[string]any{
		"prompt":                "a bronze statue of a fox",
		"seed":                  7,
		"steps":                 500,
		"batch":                 2,
		"width":                 64,
		"height":                64,
		"grid_resolution":       32,
		"density_components":    []any{4, 4, 4},
		"appearance_components": []any{8, 8, 8},
		"density_activation":    "exp",
		"density_bias":          "blob_linear",
		"density_bias_scale":    10,
		"material":              "lambert",
		"ambient":               0.2,
		"samples_per_ray":       96,
		"stratified":            true,
		"guidance_scale":        50,
		"weighting":             "fantasia3d",
		"prior_url":             "http://localhost:9090",
		"sparsity_weight":       0.25,
		"tv_density_schedule":   []any{0, 0.01, 1000, 0.001},
		"tv_app_weight":         0.002,
		"field_lr":              0.05,
		"eval_interval":         50,
	})

	req, err := loadRunRequestFromConfig(path)
	if err != nil {
		t.Fatalf("load config: %v", err)
	}

	if req.Prompt != "a bronze statue of a fox" || req.Seed != 7 || req.Steps != 500 {
		t.Fatalf("unexpected core fields: %+v", req)
	}
	if req.GridResolution != 32 || req.DensityComponents != [3]int{4, 4, 4} || req.AppearanceComponents != [3]int{8, 8, 8} {
		t.Fatalf("unexpected grid fields: %+v", req)
	}
	if req.DensityActivation != "exp" || req.DensityBiasKind != "blob_linear" || req.DensityBiasScale != 10 {
		t.Fatalf("unexpected density fields: %+v", req)
	}
	if req.Material != "lambert" || req.Ambient != 0.2 || !req.Stratified || req.SamplesPerRay != 96 {
		t.Fatalf("unexpected render fields: %+v", req)
	}
	if req.GuidanceScale != 50 || req.Weighting != "fantasia3d" || req.PriorURL != "http://localhost:9090" {
		t.Fatalf("unexpected guidance fields: %+v", req)
	}
	if req.SparsityWeight != 0.25 || len(req.TVDensitySchedule) != 4 || req.TVDensitySchedule[2] != 1000 || req.TVAppWeight != 0.002 {
		t.Fatalf("unexpected loss fields: %+v", req)
	}
	if req.FieldLR != 0.05 || req.EvalInterval != 50 {
		t.Fatalf("unexpected trainer fields: %+v", req)
	}
}

func TestLoadRunRequestIgnoresUnknownKeys(t *testing.T) {
	path := writeConfig(t, map[string]any{
		"prompt":  "a chair",
		"unknown": "value",
	})
	req, err := loadRunRequestFromConfig(path)
	if err != nil {
		t.Fatalf("load config: %v", err)
	}
	if req.Prompt != "a chair" {
		t.Fatalf("unexpected prompt: %q", req.Prompt)
	}
}

func TestLoadRunRequestRejectsBadJSON(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.json")
	if err := os.WriteFile(path, []byte("{"), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	if _, err := loadRunRequestFromConfig(path); err == nil {
		t.Fatal("expected error for malformed JSON")
	}
}

func TestRunCommandValidation(t *testing.T) {
	ctx := context.Background()
	if err := run(ctx, nil); err == nil {
		t.Fatal("expected error for missing command")
	}
	if err := run(ctx, []string{"bogus"}); err == nil {
		t.Fatal("expected error for unknown command")
	}
	if err := run(ctx, []string{"resume"}); err == nil {
		t.Fatal("expected error for resume without run id")
	}
}
