package batch

import (
	"context"
	"time"

	"github.com/Lllllllleong/docbatch/internal/models"
)

// State is a step of the orchestration state machine:
//
//	Created → Staged → Submitted → Polling → Collecting → Combining → CleaningUp → Done
//
// Any state but Done can fail; a failure still passes through CleaningUp
// exactly once before Done.
type State string

const (
	StateCreated    State = "CREATED"
	StateStaged     State = "STAGED"
	StateSubmitted  State = "SUBMITTED"
	StatePolling    State = "POLLING"
	StateCollecting State = "COLLECTING"
	StateCombining  State = "COMBINING"
	StateCleaningUp State = "CLEANING_UP"
	StateDone       State = "DONE"
)

// Transition is one recorded step of a run.
type Transition struct {
	RunID      string
	Provider   string
	SourceName string
	State      State
	At         time.Time

	Bucket       string
	InputKey     string
	OutputPrefix string
	KeepInput    bool
	KeepOutput   bool
	Job          *JobHandle
	PageCount    int
	PartCount    int

	// Deadline is when the run will have given up on the job and cleaned up;
	// zero until polling starts.
	Deadline time.Time

	// Set on Done.
	Success   bool
	ErrorCode ErrorCode
	Error     string
	Cleanup   *CleanupReport
}

// RunRecord flattens t into the persisted record shape. Released flags are
// only set once a cleanup report is attached.
func (t Transition) RunRecord() models.RunRecord {
	rec := models.RunRecord{
		RunID:        t.RunID,
		Provider:     t.Provider,
		SourceName:   t.SourceName,
		Bucket:       t.Bucket,
		InputKey:     t.InputKey,
		OutputPrefix: t.OutputPrefix,
		State:        string(t.State),
		ErrorCode:    string(t.ErrorCode),
		ErrorDetails: t.Error,
		PageCount:    t.PageCount,
		PartCount:    t.PartCount,
		KeepInput:    t.KeepInput,
		KeepOutput:   t.KeepOutput,
		Deadline:     t.Deadline,
		UpdatedAt:    t.At,
	}
	if t.Job != nil {
		rec.JobID = t.Job.ID
		rec.JobOperation = t.Job.Operation
	}
	if c := t.Cleanup; c != nil {
		rec.InputReleased = c.InputDeleted || t.InputKey == ""
		rec.OutputReleased = c.OutputCleared || t.OutputPrefix == ""
		rec.Warnings = c.Warnings
	}
	return rec
}

// Recorder persists run transitions. Implementations must be safe to call
// from one goroutine per run; the orchestrator only logs their errors.
type Recorder interface {
	Record(ctx context.Context, t Transition) error
}

// RecorderFunc adapts a function to Recorder.
type RecorderFunc func(ctx context.Context, t Transition) error

func (f RecorderFunc) Record(ctx context.Context, t Transition) error { return f(ctx, t) }

type nopRecorder struct{}

func (nopRecorder) Record(context.Context, Transition) error { return nil }
