package ledger_test

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/Lllllllleong/docbatch/internal/batch"
	"github.com/Lllllllleong/docbatch/internal/ledger"
)

func openLedger(t *testing.T) *ledger.Ledger {
	t.Helper()
	l, err := ledger.Open(filepath.Join(t.TempDir(), "state", "ledger.db"))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { l.Close() })
	return l
}

var t0 = time.Date(2025, 5, 1, 12, 0, 0, 0, time.UTC)

// replay records a run through the given states, attaching cleanup on Done.
func replay(t *testing.T, l *ledger.Ledger, runID string, states []batch.State, cleanup *batch.CleanupReport) {
	t.Helper()
	tr := batch.Transition{RunID: runID, Provider: "textract", SourceName: "scan.pdf", Bucket: "b"}
	for i, s := range states {
		tr.State = s
		tr.At = t0.Add(time.Duration(i) * time.Second)
		switch s {
		case batch.StateStaged:
			tr.InputKey = "textract-temp/" + runID + ".pdf"
		case batch.StateSubmitted:
			tr.OutputPrefix = "textract-output/" + runID + "/"
			tr.Job = &batch.JobHandle{ID: "job-" + runID, Operation: "analysis"}
		case batch.StateCollecting:
			tr.PartCount = 3
		case batch.StateDone:
			tr.Cleanup = cleanup
		}
		if err := l.Record(context.Background(), tr); err != nil {
			t.Fatalf("Record %s: %v", s, err)
		}
	}
}

var fullRun = []batch.State{
	batch.StateCreated, batch.StateStaged, batch.StateSubmitted, batch.StatePolling,
	batch.StateCollecting, batch.StateCleaningUp, batch.StateDone,
}

func TestLedger_RecordKeepsKnownFields(t *testing.T) {
	l := openLedger(t)
	replay(t, l, "r1", fullRun, &batch.CleanupReport{InputDeleted: true, OutputCleared: true, OutputAttempted: true})

	rec, err := l.Get(context.Background(), "r1")
	if err != nil || rec == nil {
		t.Fatalf("Get = %v, %v", rec, err)
	}
	if rec.State != string(batch.StateDone) || rec.JobID != "job-r1" || rec.JobOperation != "analysis" || rec.PartCount != 3 {
		t.Fatalf("record = %+v", rec)
	}
	if rec.InputKey != "textract-temp/r1.pdf" || !rec.InputReleased || !rec.OutputReleased {
		t.Fatalf("record = %+v", rec)
	}
	if !rec.CreatedAt.Equal(t0) || !rec.UpdatedAt.Equal(t0.Add(6*time.Second)) {
		t.Fatalf("timestamps = %s / %s", rec.CreatedAt, rec.UpdatedAt)
	}

	if missing, err := l.Get(context.Background(), "nope"); err != nil || missing != nil {
		t.Fatalf("Get(unknown) = %v, %v", missing, err)
	}
}

func TestLedger_Orphans(t *testing.T) {
	l := openLedger(t)
	ctx := context.Background()

	replay(t, l, "clean", fullRun, &batch.CleanupReport{InputDeleted: true, OutputCleared: true})
	replay(t, l, "leaky", fullRun, &batch.CleanupReport{InputDeleted: true, Warnings: []string{"403"}})
	replay(t, l, "crashed", fullRun[:4], nil)
	replay(t, l, "staged-only", fullRun[:2], nil)

	orphans, err := l.Orphans(ctx, t0.Add(time.Hour))
	if err != nil {
		t.Fatalf("Orphans: %v", err)
	}
	got := map[string]bool{}
	for _, o := range orphans {
		got[o.RunID] = true
	}
	if len(got) != 3 || !got["leaky"] || !got["crashed"] || !got["staged-only"] {
		t.Fatalf("orphans = %v", got)
	}

	// A recent unfinished run may still be in flight.
	recent, err := l.Orphans(ctx, t0)
	if err != nil {
		t.Fatalf("Orphans: %v", err)
	}
	if len(recent) != 1 || recent[0].RunID != "leaky" {
		t.Fatalf("orphans before staleness = %+v", recent)
	}
	if recent[0].Warnings[0] != "403" {
		t.Fatalf("warnings = %v", recent[0].Warnings)
	}
}

func TestLedger_PollingRunIsNotOrphanBeforeDeadline(t *testing.T) {
	l := openLedger(t)
	ctx := context.Background()
	tr := batch.Transition{RunID: "slow", Provider: "documentai", Bucket: "b", At: t0,
		InputKey: "documentai-temp/slow.pdf", OutputPrefix: "documentai-output/slow/",
		Job: &batch.JobHandle{ID: "op"}}
	for _, s := range []batch.State{batch.StateCreated, batch.StateStaged, batch.StateSubmitted} {
		tr.State = s
		if err := l.Record(ctx, tr); err != nil {
			t.Fatalf("Record %s: %v", s, err)
		}
	}
	tr.State = batch.StatePolling
	tr.Deadline = t0.Add(2 * time.Hour)
	if err := l.Record(ctx, tr); err != nil {
		t.Fatalf("Record: %v", err)
	}

	// Untouched for over an hour, but the job may still be running.
	if orphans, err := l.Orphans(ctx, t0.Add(65*time.Minute)); err != nil || len(orphans) != 0 {
		t.Fatalf("orphans mid-wait = %+v, %v", orphans, err)
	}
	orphans, err := l.Orphans(ctx, t0.Add(3*time.Hour))
	if err != nil || len(orphans) != 1 {
		t.Fatalf("orphans after deadline = %+v, %v", orphans, err)
	}
	if !orphans[0].Deadline.Equal(tr.Deadline) {
		t.Fatalf("deadline = %s", orphans[0].Deadline)
	}

	// Later transitions without a deadline keep the stored one.
	tr.State = batch.StateCollecting
	tr.Deadline = time.Time{}
	tr.At = t0.Add(time.Minute)
	if err := l.Record(ctx, tr); err != nil {
		t.Fatalf("Record: %v", err)
	}
	if rec, _ := l.Get(ctx, "slow"); !rec.Deadline.Equal(t0.Add(2 * time.Hour)) {
		t.Fatalf("deadline overwritten: %+v", rec)
	}
}

func TestLedger_KeptArtifactsAreNotOrphans(t *testing.T) {
	l := openLedger(t)
	tr := batch.Transition{RunID: "kept", Provider: "documentai", State: batch.StateDone, At: t0,
		InputKey: "in.pdf", OutputPrefix: "out/", KeepInput: true, KeepOutput: true,
		Cleanup: &batch.CleanupReport{InputRetained: true, OutputRetained: true}}
	if err := l.Record(context.Background(), tr); err != nil {
		t.Fatalf("Record: %v", err)
	}
	orphans, err := l.Orphans(context.Background(), t0.Add(time.Hour))
	if err != nil || len(orphans) != 0 {
		t.Fatalf("orphans = %+v, %v", orphans, err)
	}
}

func TestLedger_MarkReleased(t *testing.T) {
	l := openLedger(t)
	ctx := context.Background()
	replay(t, l, "leaky", fullRun, &batch.CleanupReport{InputDeleted: true})

	if err := l.MarkReleased(ctx, "leaky", false, true, t0.Add(time.Hour)); err != nil {
		t.Fatalf("MarkReleased: %v", err)
	}
	rec, _ := l.Get(ctx, "leaky")
	if !rec.InputReleased || !rec.OutputReleased {
		t.Fatalf("a false flag must not undo an earlier release: %+v", rec)
	}
	if orphans, _ := l.Orphans(ctx, t0.Add(2*time.Hour)); len(orphans) != 0 {
		t.Fatalf("orphans after release = %+v", orphans)
	}
	if err := l.MarkReleased(ctx, "ghost", true, true, t0); !errors.Is(err, ledger.ErrUnknownRun) {
		t.Fatalf("expected ErrUnknownRun, got %v", err)
	}
}
