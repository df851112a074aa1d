// Command docbatch runs asynchronous batch recognitions from a workstation and
// keeps a local ledger of every run so leftover staging artifacts can be found
// and swept later.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/Lllllllleong/docbatch/internal/batch"
	"github.com/Lllllllleong/docbatch/internal/gcp"
	"github.com/Lllllllleong/docbatch/internal/ledger"
	"github.com/Lllllllleong/docbatch/internal/models"
	"github.com/Lllllllleong/docbatch/internal/services"
)

const (
	exitOK         = 0
	exitUsage      = 1
	exitFailed     = 2
	exitUnexpected = 99
)

const usage = `usage: docbatch <command> [flags]

commands:
  recognize <file>       stage, submit, wait, collect and print the result envelope
  combine <part.json>... merge saved result parts
  orphans                list runs whose staging artifacts were never released
  sweep                  delete the artifacts of orphaned runs

run "docbatch <command> -h" for the flags of a command.
`

func init() {
	// --- Set up structured logging ---
	// stdout carries the envelope, so logs go to stderr.
	logger := slog.New(slog.NewJSONHandler(os.Stderr, nil))
	slog.SetDefault(logger)
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	code := run(ctx, os.Args[1:], os.Stdout, os.Stderr)
	stop()
	os.Exit(code)
}

func run(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	if len(args) == 0 {
		fmt.Fprint(stderr, usage)
		return exitUsage
	}
	switch args[0] {
	case "recognize":
		return recognize(ctx, args[1:], stdout, stderr)
	case "combine":
		return combine(args[1:], stdout, stderr)
	case "orphans":
		return orphans(ctx, args[1:], stdout, stderr)
	case "sweep":
		return sweep(ctx, args[1:], stdout, stderr)
	case "-h", "--help", "help":
		fmt.Fprint(stdout, usage)
		return exitOK
	}
	fmt.Fprintf(stderr, "unknown command %q\n\n%s", args[0], usage)
	return exitUsage
}

// profile holds the flags shared by every command that talks to a provider.
type profile struct {
	config   string
	ledger   string
	provider string
	bucket   string
}

func (p *profile) register(fs *flag.FlagSet) {
	fs.StringVar(&p.config, "config", "", "YAML profile")
	fs.StringVar(&p.ledger, "ledger", "", "SQLite run ledger (default ~/.docbatch/ledger.db)")
	fs.StringVar(&p.provider, "provider", "", "documentai, workflow or textract")
	fs.StringVar(&p.bucket, "bucket", "", "staging bucket")
}

// load reads the profile file, applies environment fallbacks for provider
// identifiers and then the explicitly set flags.
func (p *profile) load() (*services.FileConfig, error) {
	cfg := services.DefaultFileConfig()
	if p.config != "" {
		var err error
		if cfg, err = services.LoadFileConfig(p.config); err != nil {
			return nil, err
		}
	}
	fallback(&cfg.ProjectID, "PROJECT_ID")
	fallback(&cfg.ProcessorID, "DOCUMENT_AI_PROCESSOR_ID")
	fallback(&cfg.WorkflowID, "WORKFLOW_ID")
	fallback(&cfg.AWSRegion, "AWS_REGION")
	fallback(&cfg.Bucket, "STAGING_BUCKET")

	if p.provider != "" {
		cfg.Name = p.provider
	}
	if p.bucket != "" {
		cfg.Bucket = p.bucket
	}
	if p.ledger != "" {
		cfg.Ledger = p.ledger
	}
	return cfg, cfg.Validate()
}

func fallback(field *string, key string) {
	if *field == "" {
		*field = gcp.GetEnv(key, "")
	}
}

func newFlagSet(name string, stderr io.Writer) *flag.FlagSet {
	fs := flag.NewFlagSet(name, flag.ContinueOnError)
	fs.SetOutput(stderr)
	return fs
}

func recognize(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	fs := newFlagSet("recognize", stderr)
	var p profile
	p.register(fs)
	layout := fs.Bool("layout", false, "analyze layout")
	tables := fs.Bool("tables", false, "analyze tables (implies --layout)")
	key := fs.String("key", "", "explicit staging key for the input")
	keepStaged := fs.Bool("keep-staged", false, "keep the staged input")
	keepOutput := fs.Bool("keep-output", false, "keep the job output")
	pollingMs := fs.Int("polling-interval", 0, "polling interval in ms (>= 1000)")
	maxWaitMs := fs.Int("max-wait-time", 0, "max wait time in ms (>= 10000)")
	combineParts := fs.Bool("combine", false, "merge the parts into one response")
	out := fs.String("out", "", "write the envelope to this file instead of stdout")
	if err := fs.Parse(args); err != nil {
		return exitUsage
	}
	if fs.NArg() != 1 {
		fmt.Fprintln(stderr, "recognize takes exactly one file")
		return exitUsage
	}
	cfg, err := p.load()
	if err != nil {
		fmt.Fprintln(stderr, err)
		return exitUsage
	}

	opts := cfg.Options()
	opts.AnalyzeLayout = *layout
	opts.AnalyzeLayoutTables = *tables
	opts.StagingKey = *key
	opts.KeepStagedFile = opts.KeepStagedFile || *keepStaged
	opts.KeepOutputFiles = opts.KeepOutputFiles || *keepOutput
	opts.Combine = *combineParts
	if *pollingMs != 0 {
		opts.PollingInterval = time.Duration(*pollingMs) * time.Millisecond
	}
	if *maxWaitMs != 0 {
		opts.MaxWaitTime = time.Duration(*maxWaitMs) * time.Millisecond
	}

	provider, err := services.NewProvider(ctx, cfg.ProviderConfig)
	if err != nil {
		slog.Error("Failed to connect to provider", "provider", cfg.Name, "error", err)
		return exitUnexpected
	}
	defer provider.Close()

	l, err := ledger.Open(cfg.Ledger)
	if err != nil {
		slog.Error("Failed to open ledger", "path", cfg.Ledger, "error", err)
		return exitUnexpected
	}
	defer l.Close()

	orch := batch.NewOrchestrator(provider.Store, provider.Invoker, batch.WithRecorder(l))
	env := orch.RecognizeFileAsync(ctx, fs.Arg(0), opts)
	if err := writeJSON(stdout, *out, env); err != nil {
		slog.Error("Failed to write envelope", "error", err)
		return exitUnexpected
	}
	if !env.Success {
		return exitFailed
	}
	return exitOK
}

func combine(args []string, stdout, stderr io.Writer) int {
	fs := newFlagSet("combine", stderr)
	provider := fs.String("provider", "documentai", "provider whose collections are merged")
	out := fs.String("out", "", "write the envelope to this file instead of stdout")
	if err := fs.Parse(args); err != nil {
		return exitUsage
	}
	if fs.NArg() == 0 {
		fmt.Fprintln(stderr, "combine needs at least one part file")
		return exitUsage
	}

	var env models.ResultEnvelope
	combined, err := services.CombineFiles(*provider, fs.Args())
	if err != nil {
		env = models.Failed(string(batch.CodeOf(err)), err.Error())
	} else {
		env = models.Succeeded(combined)
	}
	if err := writeJSON(stdout, *out, env); err != nil {
		slog.Error("Failed to write envelope", "error", err)
		return exitUnexpected
	}
	if !env.Success {
		return exitFailed
	}
	return exitOK
}

func orphans(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	fs := newFlagSet("orphans", stderr)
	var p profile
	p.register(fs)
	stale := fs.Duration("stale", time.Hour, "runs not updated for this long count as crashed")
	if err := fs.Parse(args); err != nil {
		return exitUsage
	}
	cfg, err := p.load()
	if err != nil {
		fmt.Fprintln(stderr, err)
		return exitUsage
	}
	l, err := ledger.Open(cfg.Ledger)
	if err != nil {
		slog.Error("Failed to open ledger", "path", cfg.Ledger, "error", err)
		return exitUnexpected
	}
	defer l.Close()

	runs, err := l.Orphans(ctx, time.Now().Add(-*stale))
	if err != nil {
		slog.Error("Failed to list orphans", "error", err)
		return exitUnexpected
	}
	if err := writeJSON(stdout, "", models.Succeeded(runs)); err != nil {
		return exitUnexpected
	}
	return exitOK
}

func sweep(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	fs := newFlagSet("sweep", stderr)
	var p profile
	p.register(fs)
	stale := fs.Duration("stale", time.Hour, "runs not updated for this long count as crashed")
	if err := fs.Parse(args); err != nil {
		return exitUsage
	}
	cfg, err := p.load()
	if err != nil {
		fmt.Fprintln(stderr, err)
		return exitUsage
	}

	provider, err := services.NewProvider(ctx, cfg.ProviderConfig)
	if err != nil {
		slog.Error("Failed to connect to provider", "provider", cfg.Name, "error", err)
		return exitUnexpected
	}
	defer provider.Close()

	l, err := ledger.Open(cfg.Ledger)
	if err != nil {
		slog.Error("Failed to open ledger", "path", cfg.Ledger, "error", err)
		return exitUnexpected
	}
	defer l.Close()

	sum, err := services.SweepOrphans(ctx, l, provider.Store, cfg.Name, time.Now().Add(-*stale), slog.Default())
	if err != nil {
		slog.Error("Sweep failed", "error", err)
		return exitUnexpected
	}
	env := models.Succeeded(sum)
	env.Warnings = sum.Warnings
	if err := writeJSON(stdout, "", env); err != nil {
		return exitUnexpected
	}
	if sum.Released < sum.Runs {
		return exitFailed
	}
	return exitOK
}

func writeJSON(stdout io.Writer, path string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	data = append(data, '\n')
	if path == "" {
		_, err = stdout.Write(data)
		return err
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("failed to write %s: %w", path, err)
	}
	return nil
}
