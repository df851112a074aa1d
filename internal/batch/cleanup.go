package batch

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
)

// CleanupTimeout bounds how long Release may spend deleting artifacts.
const CleanupTimeout = 2 * time.Minute

// CleanupReport describes what Release did.
type CleanupReport struct {
	InputDeleted    bool     `json:"inputDeleted"`
	OutputDeleted   int      `json:"outputDeleted"`
	InputRetained   bool     `json:"inputRetained,omitempty"`
	OutputRetained  bool     `json:"outputRetained,omitempty"`
	Warnings        []string `json:"warnings,omitempty"`
	OutputAttempted bool     `json:"-"`

	// OutputCleared is set when every object under the prefix was deleted.
	OutputCleared bool `json:"-"`
}

// CleanupGuard owns the staged input and the job output prefix of one
// orchestration and deletes them exactly once when released. Input and
// output retention are independent.
type CleanupGuard struct {
	store      ObjectStore
	keepInput  bool
	keepOutput bool
	logger     *slog.Logger

	mu       sync.Mutex
	input    *StagingLocation
	output   *StagingLocation
	released bool
	report   CleanupReport
}

// NewCleanupGuard creates an empty guard.
func NewCleanupGuard(store ObjectStore, keepInput, keepOutput bool, logger *slog.Logger) *CleanupGuard {
	if logger == nil {
		logger = slog.Default()
	}
	return &CleanupGuard{store: store, keepInput: keepInput, keepOutput: keepOutput, logger: logger}
}

// AcquireInput registers a staged input object. Call it only after the Put
// succeeded.
func (g *CleanupGuard) AcquireInput(loc StagingLocation) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.input = &loc
}

// AcquireOutput registers a job output prefix. Call it only after the job
// was submitted.
func (g *CleanupGuard) AcquireOutput(loc StagingLocation) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.output = &loc
}

// Release deletes the acquired artifacts unless retained. It runs once;
// later calls return the first report. Deletion failures are reported as
// warnings and never returned as errors. Release is detached from ctx
// cancellation so a cancelled request still cleans up.
func (g *CleanupGuard) Release(ctx context.Context) CleanupReport {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.released {
		return g.report
	}
	g.released = true

	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), CleanupTimeout)
	defer cancel()

	if g.input != nil {
		if g.keepInput {
			g.report.InputRetained = true
			g.logger.Info("Keeping staged input.", "uri", g.input.URI)
		} else {
			g.logger.Info("Cleaning up staged input.", "uri", g.input.URI)
			if err := g.store.Delete(ctx, g.input.Bucket, g.input.Key); err != nil {
				g.warn(fmt.Sprintf("failed to delete staged input %s: %v", g.input.URI, err))
			} else {
				g.report.InputDeleted = true
			}
		}
	}

	if g.output != nil {
		if g.keepOutput {
			g.report.OutputRetained = true
			g.logger.Info("Keeping job output.", "uri", g.output.URI)
		} else {
			g.report.OutputAttempted = true
			g.deleteOutput(ctx, *g.output)
		}
	}
	return g.report
}

func (g *CleanupGuard) deleteOutput(ctx context.Context, out StagingLocation) {
	g.logger.Info("Cleaning up job output.", "prefix", out.URI)

	var names []string
	for name, err := range g.store.List(ctx, out.Bucket, out.Key) {
		if err != nil {
			g.warn(fmt.Sprintf("failed to list output %s: %v", out.URI, err))
			return
		}
		names = append(names, name)
	}

	failed := false
	var mu sync.Mutex
	var eg errgroup.Group
	eg.SetLimit(DefaultCollectConcurrency)
	for _, name := range names {
		eg.Go(func() error {
			err := g.store.Delete(ctx, out.Bucket, name)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				failed = true
				g.warn(fmt.Sprintf("failed to delete output %s: %v", name, err))
				return nil
			}
			g.report.OutputDeleted++
			return nil
		})
	}
	_ = eg.Wait()
	g.report.OutputCleared = !failed
}

// warn records a cleanup warning tagged with CodeCleanupWarning. Callers
// serialize access to the report.
func (g *CleanupGuard) warn(msg string) {
	g.logger.Warn("Cleanup failed.", "errorCode", string(CodeCleanupWarning), "warning", msg)
	g.report.Warnings = append(g.report.Warnings, string(CodeCleanupWarning)+": "+msg)
}
