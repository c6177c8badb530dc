package main

import (
	"context"
	"encoding/csv"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/mattn/go-isatty"

	"halo/internal/storage"
	haloapi "halo/pkg/halo"
)

func main() {
	if err := run(context.Background(), os.Args[1:]); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(ctx context.Context, args []string) error {
	if len(args) == 0 {
		return usageError("missing command")
	}

	switch args[0] {
	case "init":
		return runInit(ctx, args[1:])
	case "reset":
		return runReset(ctx, args[1:])
	case "run":
		return runRun(ctx, args[1:])
	case "resume":
		return runResume(ctx, args[1:])
	case "runs":
		return runRuns(ctx, args[1:])
	case "diagnostics":
		return runDiagnostics(ctx, args[1:])
	case "evals":
		return runEvals(ctx, args[1:])
	case "export":
		return runExport(ctx, args[1:])
	default:
		return usageError(fmt.Sprintf("unknown command: %s", args[0]))
	}
}

func usageError(msg string) error {
	return fmt.Errorf("%s\nusage: haloctl <init|reset|run|resume|runs|diagnostics|evals|export> [flags]", msg)
}

func storeFlags(fs *flag.FlagSet) (storeKind, dbPath, exportsDir *string) {
	storeKind = fs.String("store", storage.DefaultStoreKind(), "store backend: memory|sqlite")
	dbPath = fs.String("db-path", "halo.db", "sqlite database path")
	exportsDir = fs.String("exports", "exports", "directory for rendered eval images")
	return
}

func newClient(storeKind, dbPath, exportsDir string) (*haloapi.Client, error) {
	return haloapi.New(haloapi.Options{StoreKind: storeKind, DBPath: dbPath, ExportsDir: exportsDir})
}

func runInit(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("init", flag.ContinueOnError)
	storeKind, dbPath, exportsDir := storeFlags(fs)
	if err := fs.Parse(args); err != nil {
		return err
	}

	client, err := newClient(*storeKind, *dbPath, *exportsDir)
	if err != nil {
		return err
	}
	defer func() {
		_ = client.Close()
	}()
	if err := client.Init(ctx); err != nil {
		return err
	}

	fmt.Printf("initialized store=%s\n", *storeKind)
	return nil
}

func runReset(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("reset", flag.ContinueOnError)
	storeKind, dbPath, _ := storeFlags(fs)
	if err := fs.Parse(args); err != nil {
		return err
	}

	store, err := storage.NewStore(*storeKind, *dbPath)
	if err != nil {
		return err
	}
	defer func() {
		_ = storage.CloseIfSupported(store)
	}()
	if err := store.Init(ctx); err != nil {
		return err
	}
	resetter, ok := store.(storage.Resetter)
	if !ok {
		return fmt.Errorf("store backend %s does not support reset", *storeKind)
	}
	if err := resetter.Reset(ctx); err != nil {
		return err
	}

	fmt.Println("store reset")
	return nil
}

func runRun(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("run", flag.ContinueOnError)
	storeKind, dbPath, exportsDir := storeFlags(fs)
	configPath := fs.String("config", "", "JSON config file with run settings")
	prompt := fs.String("prompt", "", "text prompt describing the target object")
	seed := fs.Int64("seed", 0, "run seed")
	steps := fs.Int("steps", 0, "number of optimization steps")
	batch := fs.Int("batch", 0, "views rendered per step")
	width := fs.Int("width", 0, "render width in pixels")
	height := fs.Int("height", 0, "render height in pixels")
	gridRes := fs.Int("grid-res", 0, "factor grid resolution")
	samples := fs.Int("samples", 0, "density samples per ray")
	guidanceScale := fs.Float64("guidance-scale", 0, "classifier-free guidance scale")
	priorURL := fs.String("prior-url", "", "remote prior base URL (empty uses the offline prior)")
	priorModel := fs.String("prior-model", "", "remote prior model name")
	evalEvery := fs.Int("eval-every", 0, "render an eval view every N steps (0 disables)")
	checkpointEvery := fs.Int("checkpoint-every", 0, "checkpoint every N steps")
	if err := fs.Parse(args); err != nil {
		return err
	}

	var req haloapi.RunRequest
	if *configPath != "" {
		loaded, err := loadRunRequestFromConfig(*configPath)
		if err != nil {
			return fmt.Errorf("load config %s: %w", *configPath, err)
		}
		req = loaded
	}
	set := map[string]bool{}
	fs.Visit(func(f *flag.Flag) { set[f.Name] = true })
	if set["prompt"] {
		req.Prompt = *prompt
	}
	if set["seed"] {
		req.Seed = *seed
	}
	if set["steps"] {
		req.Steps = *steps
	}
	if set["batch"] {
		req.BatchSize = *batch
	}
	if set["width"] {
		req.Width = *width
	}
	if set["height"] {
		req.Height = *height
	}
	if set["grid-res"] {
		req.GridResolution = *gridRes
	}
	if set["samples"] {
		req.SamplesPerRay = *samples
	}
	if set["guidance-scale"] {
		req.GuidanceScale = *guidanceScale
	}
	if set["prior-url"] {
		req.PriorURL = *priorURL
	}
	if set["prior-model"] {
		req.PriorModel = *priorModel
	}
	if set["eval-every"] {
		req.EvalInterval = *evalEvery
	}
	if set["checkpoint-every"] {
		req.CheckpointInterval = *checkpointEvery
	}
	attachProgress(&req)

	client, err := newClient(*storeKind, *dbPath, *exportsDir)
	if err != nil {
		return err
	}
	defer func() {
		_ = client.Close()
	}()
	if err := client.Init(ctx); err != nil {
		return err
	}

	started := time.Now()
	summary, err := client.Run(ctx, req)
	if err != nil {
		return err
	}
	printRunSummary(summary, time.Since(started))
	return nil
}

func runResume(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("resume", flag.ContinueOnError)
	storeKind, dbPath, exportsDir := storeFlags(fs)
	runID := fs.String("run-id", "", "run to resume")
	configPath := fs.String("config", "", "JSON config file with run settings")
	steps := fs.Int("steps", 0, "new total step count (0 keeps the config value)")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *runID == "" {
		return usageError("resume requires --run-id")
	}

	var req haloapi.RunRequest
	if *configPath != "" {
		loaded, err := loadRunRequestFromConfig(*configPath)
		if err != nil {
			return fmt.Errorf("load config %s: %w", *configPath, err)
		}
		req = loaded
	}
	if *steps > 0 {
		req.Steps = *steps
	}
	attachProgress(&req)

	client, err := newClient(*storeKind, *dbPath, *exportsDir)
	if err != nil {
		return err
	}
	defer func() {
		_ = client.Close()
	}()
	if err := client.Init(ctx); err != nil {
		return err
	}

	started := time.Now()
	summary, err := client.Resume(ctx, *runID, req)
	if err != nil {
		return err
	}
	printRunSummary(summary, time.Since(started))
	return nil
}

// attachProgress routes trainer messages to stderr, but only when a
// human is watching.
func attachProgress(req *haloapi.RunRequest) {
	if !isatty.IsTerminal(os.Stderr.Fd()) {
		return
	}
	req.Logf = func(format string, args ...any) {
		fmt.Fprintf(os.Stderr, format+"\n", args...)
	}
}

func printRunSummary(summary haloapi.RunSummary, elapsed time.Duration) {
	state := "completed"
	if summary.Stopped {
		state = "stopped"
	}
	fmt.Printf("run %s %s: %s steps in %s (last=%.6f best=%.6f)\n",
		summary.RunID, state,
		humanize.Comma(int64(summary.CompletedSteps)), elapsed.Round(time.Millisecond),
		summary.LastTotal, summary.BestTotal)
}

func runRuns(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("runs", flag.ContinueOnError)
	storeKind, dbPath, exportsDir := storeFlags(fs)
	limit := fs.Int("limit", 0, "maximum number of runs to show (0 shows all)")
	if err := fs.Parse(args); err != nil {
		return err
	}

	client, err := newClient(*storeKind, *dbPath, *exportsDir)
	if err != nil {
		return err
	}
	defer func() {
		_ = client.Close()
	}()
	if err := client.Init(ctx); err != nil {
		return err
	}

	runs, err := client.Runs(ctx)
	if err != nil {
		return err
	}
	if *limit > 0 && len(runs) > *limit {
		runs = runs[:*limit]
	}
	if len(runs) == 0 {
		fmt.Println("no runs")
		return nil
	}
	for _, r := range runs {
		fmt.Printf("%s  %s/%s steps  best=%.6f  updated %s  %q\n",
			r.RunID,
			humanize.Comma(int64(r.CompletedSteps)), humanize.Comma(int64(r.Steps)),
			r.BestTotal,
			humanize.Time(time.Unix(r.UpdatedUnix, 0)),
			r.Prompt)
	}
	return nil
}

func runDiagnostics(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("diagnostics", flag.ContinueOnError)
	storeKind, dbPath, exportsDir := storeFlags(fs)
	runID := fs.String("run-id", "", "run to inspect")
	limit := fs.Int("limit", 20, "show the final N steps (0 shows all)")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *runID == "" {
		return usageError("diagnostics requires --run-id")
	}

	client, err := newClient(*storeKind, *dbPath, *exportsDir)
	if err != nil {
		return err
	}
	defer func() {
		_ = client.Close()
	}()
	if err := client.Init(ctx); err != nil {
		return err
	}

	diagnostics, err := client.Diagnostics(ctx, *runID, *limit)
	if err != nil {
		return err
	}
	for _, d := range diagnostics {
		fmt.Printf("step %d  t=%d  total=%.6f", d.Step, d.Timestep, d.Total)
		for _, name := range termOrder {
			if v, ok := d.Terms[name]; ok {
				fmt.Printf("  %s=%.6f", name, v)
			}
		}
		fmt.Println()
	}
	return nil
}

func runEvals(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("evals", flag.ContinueOnError)
	storeKind, dbPath, exportsDir := storeFlags(fs)
	runID := fs.String("run-id", "", "run to inspect")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *runID == "" {
		return usageError("evals requires --run-id")
	}

	client, err := newClient(*storeKind, *dbPath, *exportsDir)
	if err != nil {
		return err
	}
	defer func() {
		_ = client.Close()
	}()
	if err := client.Init(ctx); err != nil {
		return err
	}

	records, err := client.EvalRecords(ctx, *runID)
	if err != nil {
		return err
	}
	for _, r := range records {
		fmt.Printf("step %d  mean_opacity=%.4f  %s\n", r.Step, r.MeanOpacity, r.ColorPath)
	}
	return nil
}

var termOrder = []string{"sds", "sparsity", "opaque", "orient", "tv_density", "tv_app"}

func runExport(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("export", flag.ContinueOnError)
	storeKind, dbPath, exportsDir := storeFlags(fs)
	runID := fs.String("run-id", "", "run to export")
	outDir := fs.String("out", "", "output directory (defaults to the exports directory)")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *runID == "" {
		return usageError("export requires --run-id")
	}

	client, err := newClient(*storeKind, *dbPath, *exportsDir)
	if err != nil {
		return err
	}
	defer func() {
		_ = client.Close()
	}()
	if err := client.Init(ctx); err != nil {
		return err
	}

	diagnostics, err := client.Diagnostics(ctx, *runID, 0)
	if err != nil {
		return err
	}

	dir := *outDir
	if dir == "" {
		dir = *exportsDir
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	path := filepath.Join(dir, *runID+"_diagnostics.csv")
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer func() {
		_ = f.Close()
	}()

	w := csv.NewWriter(f)
	header := append([]string{"step", "timestep", "total"}, termOrder...)
	if err := w.Write(header); err != nil {
		return err
	}
	for _, d := range diagnostics {
		row := []string{
			strconv.Itoa(d.Step),
			strconv.Itoa(d.Timestep),
			strconv.FormatFloat(d.Total, 'g', -1, 64),
		}
		for _, name := range termOrder {
			row = append(row, strconv.FormatFloat(d.Terms[name], 'g', -1, 64))
		}
		if err := w.Write(row); err != nil {
			return err
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return err
	}

	info, err := f.Stat()
	if err != nil {
		return err
	}
	fmt.Printf("wrote %s (%s, %d rows)\n", path, humanize.Bytes(uint64(info.Size())), len(diagnostics))
	return nil
}
