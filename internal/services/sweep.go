package services

import (
	"context"
	"log/slog"
	"time"

	"github.com/Lllllllleong/docbatch/internal/batch"
	"github.com/Lllllllleong/docbatch/internal/models"
)

// OrphanLedger is the part of the run ledger the sweeper needs.
type OrphanLedger interface {
	Orphans(ctx context.Context, staleBefore time.Time) ([]models.RunRecord, error)
	MarkReleased(ctx context.Context, runID string, inputReleased, outputReleased bool, at time.Time) error
}

// SweepSummary counts what a sweep did.
type SweepSummary struct {
	Runs     int      `json:"runs"`
	Released int      `json:"released"`
	Deleted  int      `json:"deletedObjects"`
	Warnings []string `json:"warnings,omitempty"`
}

// SweepOrphans deletes the leftover artifacts of one provider's orphaned
// runs through a fresh CleanupGuard per run and records what was released.
func SweepOrphans(ctx context.Context, ledger OrphanLedger, store batch.ObjectStore, provider string, staleBefore time.Time, logger *slog.Logger) (SweepSummary, error) {
	if logger == nil {
		logger = slog.Default()
	}
	orphans, err := ledger.Orphans(ctx, staleBefore)
	if err != nil {
		return SweepSummary{}, err
	}

	var sum SweepSummary
	for _, run := range orphans {
		if run.Provider != provider {
			continue
		}
		sum.Runs++
		logCtx := logger.With("runId", run.RunID, "state", run.State)

		guard := batch.NewCleanupGuard(store, run.KeepInput || run.InputReleased, run.KeepOutput || run.OutputReleased, logCtx)
		if run.InputKey != "" {
			guard.AcquireInput(batch.StagingLocation{Bucket: run.Bucket, Key: run.InputKey, URI: store.URI(run.Bucket, run.InputKey)})
		}
		if run.OutputPrefix != "" {
			guard.AcquireOutput(batch.StagingLocation{Bucket: run.Bucket, Key: run.OutputPrefix, URI: store.URI(run.Bucket, run.OutputPrefix)})
		}
		report := guard.Release(ctx)

		inputDone := run.InputReleased || report.InputDeleted || run.InputKey == ""
		outputDone := run.OutputReleased || report.OutputCleared || run.OutputPrefix == ""
		if err := ledger.MarkReleased(ctx, run.RunID, inputDone, outputDone, time.Now()); err != nil {
			logCtx.Warn("Failed to record sweep.", "error", err)
			sum.Warnings = append(sum.Warnings, err.Error())
			continue
		}
		if report.InputDeleted {
			sum.Deleted++
		}
		sum.Deleted += report.OutputDeleted
		sum.Warnings = append(sum.Warnings, report.Warnings...)
		if inputDone && outputDone {
			sum.Released++
		}
		logCtx.Info("Swept orphaned run.", "inputReleased", inputDone, "outputReleased", outputDone)
	}
	return sum, nil
}
