package main

import (
	"encoding/json"
	"os"

	haloapi "halo/pkg/halo"
)

// loadRunRequestFromConfig reads a JSON run config. Keys are optional
// and numeric fields accept both integer and float JSON values.
func loadRunRequestFromConfig(path string) (haloapi.RunRequest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return haloapi.RunRequest{}, err
	}
	var raw map[string]any
	if err := json.Unmarshal(data, &raw); err != nil {
		return haloapi.RunRequest{}, err
	}

	var req haloapi.RunRequest
	if v, ok := asString(raw["prompt"]); ok {
		req.Prompt = v
	}
	if v, ok := asInt64(raw["seed"]); ok {
		req.Seed = v
	}
	if v, ok := asInt(raw["steps"]); ok {
		req.Steps = v
	}
	if v, ok := asInt(raw["batch"]); ok {
		req.BatchSize = v
	}
	if v, ok := asInt(raw["width"]); ok {
		req.Width = v
	}
	if v, ok := asInt(raw["height"]); ok {
		req.Height = v
	}
	if v, ok := asFloat64(raw["scene_radius"]); ok {
		req.SceneRadius = v
	}
	if v, ok := asInt(raw["grid_resolution"]); ok {
		req.GridResolution = v
	}
	if v, ok := asIntTriple(raw["density_components"]); ok {
		req.DensityComponents = v
	}
	if v, ok := asIntTriple(raw["appearance_components"]); ok {
		req.AppearanceComponents = v
	}
	if v, ok := asString(raw["density_activation"]); ok {
		req.DensityActivation = v
	}
	if v, ok := asString(raw["density_bias"]); ok {
		req.DensityBiasKind = v
	}
	if v, ok := asFloat64(raw["density_bias_scale"]); ok {
		req.DensityBiasScale = v
	}
	if v, ok := asFloat64(raw["density_bias_spread"]); ok {
		req.DensityBiasSpread = v
	}
	if v, ok := asFloat64(raw["normal_eps"]); ok {
		req.NormalEps = v
	}
	if v, ok := asInt(raw["pos_encoding_bands"]); ok {
		req.PosEncodingBands = v
	}
	if v, ok := asInt(raw["dir_encoding_bands"]); ok {
		req.DirEncodingBands = v
	}
	if v, ok := asString(raw["material"]); ok {
		req.Material = v
	}
	if v, ok := asFloat64(raw["ambient"]); ok {
		req.Ambient = v
	}
	if v, ok := asInt(raw["background_bands"]); ok {
		req.BackgroundBands = v
	}
	if v, ok := asBool(raw["background_augment"]); ok {
		req.BackgroundAugment = v
	}
	if v, ok := asInt(raw["samples_per_ray"]); ok {
		req.SamplesPerRay = v
	}
	if v, ok := asBool(raw["stratified"]); ok {
		req.Stratified = v
	}
	if v, ok := asFloat64(raw["camera_distance_min"]); ok {
		req.CameraDistanceMin = v
	}
	if v, ok := asFloat64(raw["camera_distance_max"]); ok {
		req.CameraDistanceMax = v
	}
	if v, ok := asFloat64(raw["camera_fov_min_deg"]); ok {
		req.CameraFOVMinDeg = v
	}
	if v, ok := asFloat64(raw["camera_fov_max_deg"]); ok {
		req.CameraFOVMaxDeg = v
	}
	if v, ok := asFloat64(raw["camera_elevation_min_deg"]); ok {
		req.CameraElevationMin = v
	}
	if v, ok := asFloat64(raw["camera_elevation_max_deg"]); ok {
		req.CameraElevationMax = v
	}
	if v, ok := asFloat64(raw["guidance_scale"]); ok {
		req.GuidanceScale = v
	}
	if v, ok := asFloat64(raw["min_step_frac"]); ok {
		req.MinStepFrac = v
	}
	if v, ok := asFloat64(raw["max_step_frac"]); ok {
		req.MaxStepFrac = v
	}
	if v, ok := asString(raw["weighting"]); ok {
		req.Weighting = v
	}
	if v, ok := asString(raw["prior_url"]); ok {
		req.PriorURL = v
	}
	if v, ok := asString(raw["prior_model"]); ok {
		req.PriorModel = v
	}
	if v, ok := asFloat64(raw["guidance_weight"]); ok {
		req.GuidanceWeight = v
	}
	if v, ok := asFloat64(raw["sparsity_weight"]); ok {
		req.SparsityWeight = v
	}
	if v, ok := asFloat64(raw["opaque_weight"]); ok {
		req.OpaqueWeight = v
	}
	if v, ok := asFloat64(raw["orientation_weight"]); ok {
		req.OrientationWeight = v
	}
	if v, ok := asFloat64(raw["tv_density_weight"]); ok {
		req.TVDensityWeight = v
	}
	if v, ok := asFloat64(raw["tv_app_weight"]); ok {
		req.TVAppWeight = v
	}
	if v, ok := asFloatSlice(raw["guidance_schedule"]); ok {
		req.GuidanceSchedule = v
	}
	if v, ok := asFloatSlice(raw["sparsity_schedule"]); ok {
		req.SparsitySchedule = v
	}
	if v, ok := asFloatSlice(raw["opaque_schedule"]); ok {
		req.OpaqueSchedule = v
	}
	if v, ok := asFloatSlice(raw["orientation_schedule"]); ok {
		req.OrientationSchedule = v
	}
	if v, ok := asFloatSlice(raw["tv_density_schedule"]); ok {
		req.TVDensitySchedule = v
	}
	if v, ok := asFloatSlice(raw["tv_app_schedule"]); ok {
		req.TVAppSchedule = v
	}
	if v, ok := asFloat64(raw["field_lr"]); ok {
		req.FieldLR = v
	}
	if v, ok := asFloat64(raw["head_lr"]); ok {
		req.HeadLR = v
	}
	if v, ok := asFloat64(raw["background_lr"]); ok {
		req.BackgroundLR = v
	}
	if v, ok := asFloat64(raw["beta1"]); ok {
		req.Beta1 = v
	}
	if v, ok := asFloat64(raw["beta2"]); ok {
		req.Beta2 = v
	}
	if v, ok := asFloat64(raw["eps"]); ok {
		req.Eps = v
	}
	if v, ok := asInt(raw["eval_interval"]); ok {
		req.EvalInterval = v
	}
	if v, ok := asInt(raw["checkpoint_interval"]); ok {
		req.CheckpointInterval = v
	}

	return req, nil
}

func asString(v any) (string, bool) {
	s, ok := v.(string)
	return s, ok
}

func asBool(v any) (bool, bool) {
	b, ok := v.(bool)
	return b, ok
}

func asInt(v any) (int, bool) {
	switch x := v.(type) {
	case int:
		return x, true
	case float64:
		return int(x), true
	default:
		return 0, false
	}
}

func asInt64(v any) (int64, bool) {
	switch x := v.(type) {
	case int64:
		return x, true
	case int:
		return int64(x), true
	case float64:
		return int64(x), true
	default:
		return 0, false
	}
}

func asFloat64(v any) (float64, bool) {
	switch x := v.(type) {
	case float64:
		return x, true
	case int:
		return float64(x), true
	default:
		return 0, false
	}
}

func asFloatSlice(v any) ([]float64, bool) {
	list, ok := v.([]any)
	if !ok {
		return nil, false
	}
	out := make([]float64, 0, len(list))
	for _, item := range list {
		f, ok := asFloat64(item)
		if !ok {
			return nil, false
		}
		out = append(out, f)
	}
	return out, true
}

func asIntTriple(v any) ([3]int, bool) {
	flat, ok := asFloatSlice(v)
	if !ok || len(flat) != 3 {
		return [3]int{}, false
	}
	var out [3]int
	for i, f := range flat {
		out[i] = int(f)
	}
	return out, true
}
