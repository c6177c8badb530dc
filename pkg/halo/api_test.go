package halo

import (
	"context"
	"testing"
)

func smallRequest(steps int) RunRequest {
	return RunRequest{
		Prompt:             "a wooden rowboat",
		Seed:               11,
		Steps:              steps,
		Width:              8,
		Height:             8,
		GridResolution:     4,
		DensityComponents:  [3]int{2, 2, 2},
		SamplesPerRay:      4,
		GuidanceScale:      1,
		CheckpointInterval: 1,
	}
}

func newTestClient(t *testing.T) *Client {
	t.Helper()
	client, err := New(Options{StoreKind: "memory", ExportsDir: t.TempDir()})
	if err != nil {
		t.Fatalf("new client: %v", err)
	}
	if err := client.Init(context.Background()); err != nil {
		t.Fatalf("init client: %v", err)
	}
	t.Cleanup(func() {
		if err := client.Close(); err != nil {
			t.Fatalf("close client: %v", err)
		}
	})
	return client
}

func TestClientRunEndToEnd(t *testing.T) {
	ctx := context.Background()
	client := newTestClient(t)

	summary, err := client.Run(ctx, smallRequest(3))
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if summary.RunID == "" {
		t.Fatal("expected a run id")
	}
	if summary.CompletedSteps != 3 {
		t.Fatalf("expected 3 completed steps, got %d", summary.CompletedSteps)
	}

	runs, err := client.Runs(ctx)
	if err != nil {
		t.Fatalf("list runs: %v", err)
	}
	if len(runs) != 1 || runs[0].RunID != summary.RunID {
		t.Fatalf("unexpected run list: %+v", runs)
	}

	diagnostics, err := client.Diagnostics(ctx, summary.RunID, 0)
	if err != nil {
		t.Fatalf("diagnostics: %v", err)
	}
	if len(diagnostics) != 3 {
		t.Fatalf("expected 3 diagnostic entries, got %d", len(diagnostics))
	}
	if diagnostics[2].Step != 3 {
		t.Fatalf("expected final diagnostic at step 3, got %d", diagnostics[2].Step)
	}

	limited, err := client.Diagnostics(ctx, summary.RunID, 2)
	if err != nil {
		t.Fatalf("limited diagnostics: %v", err)
	}
	if len(limited) != 2 || limited[0].Step != 2 {
		t.Fatalf("expected the last 2 entries, got %+v", limited)
	}
}

func TestClientResumeContinuesRun(t *testing.T) {
	ctx := context.Background()
	client := newTestClient(t)

	req := smallRequest(2)
	started, err := client.Run(ctx, req)
	if err != nil {
		t.Fatalf("initial run: %v", err)
	}

	req.Steps = 4
	resumed, err := client.Resume(ctx, started.RunID, req)
	if err != nil {
		t.Fatalf("resume: %v", err)
	}
	if resumed.CompletedSteps != 4 {
		t.Fatalf("expected 4 completed steps after resume, got %d", resumed.CompletedSteps)
	}

	diagnostics, err := client.Diagnostics(ctx, started.RunID, 0)
	if err != nil {
		t.Fatalf("diagnostics: %v", err)
	}
	if len(diagnostics) != 4 {
		t.Fatalf("expected 4 diagnostic entries after resume, got %d", len(diagnostics))
	}
	if last := diagnostics[len(diagnostics)-1].Step; last != 4 {
		t.Fatalf("expected diagnostics through step 4, got %d", last)
	}
}

func TestClientRunRejectsEmptyPrompt(t *testing.T) {
	client := newTestClient(t)
	if _, err := client.Run(context.Background(), RunRequest{}); err == nil {
		t.Fatal("expected error for missing prompt")
	}
}

func TestClientResumeUnknownRun(t *testing.T) {
	client := newTestClient(t)
	if _, err := client.Resume(context.Background(), "nope", smallRequest(2)); err == nil {
		t.Fatal("expected error for unknown run")
	}
}

func TestClientEvalRecords(t *testing.T) {
	ctx := context.Background()
	client := newTestClient(t)

	req := smallRequest(2)
	req.EvalInterval = 1
	summary, err := client.Run(ctx, req)
	if err != nil {
		t.Fatalf("run: %v", err)
	}

	records, err := client.EvalRecords(ctx, summary.RunID)
	if err != nil {
		t.Fatalf("eval records: %v", err)
	}
	if len(records) != 2 {
		t.Fatalf("expected 2 eval records, got %d", len(records))
	}
}
