package batch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/Lllllllleong/docbatch/internal/models"
	"github.com/google/uuid"
)

// Orchestrator drives one provider's batch jobs end to end.
type Orchestrator struct {
	store              ObjectStore
	invoker            JobInvoker
	recorder           Recorder
	logger             *slog.Logger
	clock              Clock
	keys               KeyGenerator
	collectConcurrency int
	newRunID           func() string
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithRecorder persists every state transition.
func WithRecorder(r Recorder) Option { return func(o *Orchestrator) { o.recorder = r } }

// WithLogger sets the base logger.
func WithLogger(l *slog.Logger) Option { return func(o *Orchestrator) { o.logger = l } }

// WithClock replaces the wall clock, mainly for tests.
func WithClock(c Clock) Option { return func(o *Orchestrator) { o.clock = c } }

// WithKeyGenerator overrides staging key generation.
func WithKeyGenerator(g KeyGenerator) Option { return func(o *Orchestrator) { o.keys = g } }

// WithCollectConcurrency bounds parallel shard downloads.
func WithCollectConcurrency(n int) Option {
	return func(o *Orchestrator) { o.collectConcurrency = n }
}

// WithRunIDGenerator overrides how run IDs are minted.
func WithRunIDGenerator(f func() string) Option { return func(o *Orchestrator) { o.newRunID = f } }

// NewOrchestrator binds a store and an invoker into one orchestrator.
func NewOrchestrator(store ObjectStore, invoker JobInvoker, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		store:    store,
		invoker:  invoker,
		recorder: nopRecorder{},
		logger:   slog.Default(),
		clock:    SystemClock,
		keys:     KeyGenerator{Base: invoker.Name()},
		newRunID: uuid.NewString,
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Provider returns the invoker's name.
func (o *Orchestrator) Provider() string { return o.invoker.Name() }

// Validate runs the invoker's format and configuration checks without
// touching the network.
func (o *Orchestrator) Validate(mimeType string, cfg map[string]string) error {
	return o.invoker.Validate(mimeType, cfg)
}

// Result is the full outcome of one run.
type Result struct {
	RunID    string
	Job      *Job
	Parts    []Response
	Combined Response
	Cleanup  CleanupReport
	Warnings []string
	Err      error
}

// Envelope converts r into the caller-facing envelope. Data holds the
// combined response when one was built, the parts otherwise.
func (r *Result) Envelope() models.ResultEnvelope {
	if r.Err != nil {
		env := models.Failed(string(CodeOf(r.Err)), r.Err.Error())
		env.Warnings = r.Warnings
		return env
	}
	var env models.ResultEnvelope
	if r.Combined != nil {
		env = models.Succeeded(r.Combined)
	} else {
		env = models.Succeeded(r.Parts)
	}
	env.Warnings = r.Warnings
	return env
}

// RecognizeFileAsync reads a file and runs it through the batch pipeline.
// Format, bucket and configuration problems are reported before the file is
// read or anything is staged.
func (o *Orchestrator) RecognizeFileAsync(ctx context.Context, path string, opts Options) models.ResultEnvelope {
	mimeType := MIMETypeOf(path)
	if err := o.precheck(mimeType, opts.WithDefaults(), opts.ProviderConfig); err != nil {
		return models.Failed(string(CodeOf(err)), err.Error())
	}
	data, err := os.ReadFile(path)
	if err != nil {
		e := newError(CodeReadError, err, "failed to read %s", path)
		return models.Failed(string(e.Code), e.Error())
	}
	req := AnalysisRequest{
		Document:       data,
		MIMEType:       mimeType,
		FileName:       filepath.Base(path),
		ProviderConfig: opts.ProviderConfig,
	}
	return o.RecognizeDocumentAsync(ctx, req, opts)
}

// RecognizeDocumentAsync runs an in-memory document through the pipeline.
func (o *Orchestrator) RecognizeDocumentAsync(ctx context.Context, req AnalysisRequest, opts Options) models.ResultEnvelope {
	return o.Run(ctx, req, opts).Envelope()
}

// Run executes the state machine and returns the detailed result. Cleanup has
// finished by the time Run returns.
func (o *Orchestrator) Run(ctx context.Context, req AnalysisRequest, opts Options) *Result {
	opts = opts.WithDefaults()
	if req.ProviderConfig == nil {
		req.ProviderConfig = opts.ProviderConfig
	}
	r := &run{o: o, opts: opts, req: req, res: &Result{RunID: o.newRunID()}}
	r.logCtx = o.logger.With("runId", r.res.RunID, "provider", o.invoker.Name(), "source", req.FileName)
	r.t = Transition{
		RunID:      r.res.RunID,
		Provider:   o.invoker.Name(),
		SourceName: req.FileName,
		Bucket:     opts.Bucket,
		KeepInput:  opts.KeepStagedFile,
		KeepOutput: opts.KeepOutputFiles,
		PageCount:  req.PageCount,
	}
	r.guard = NewCleanupGuard(o.store, opts.KeepStagedFile, opts.KeepOutputFiles, r.logCtx)

	r.logCtx.Info("Starting batch recognition.", "options", opts.String())
	r.record(ctx, StateCreated)
	defer r.finish(ctx)

	r.res.Err = r.execute(ctx)
	return r.res
}

func (o *Orchestrator) precheck(mimeType string, opts Options, cfg map[string]string) error {
	if err := opts.Validate(); err != nil {
		return err
	}
	if err := o.invoker.Validate(mimeType, cfg); err != nil {
		return err
	}
	if opts.Bucket == "" {
		return newError(CodeMissingStagingBucket, nil, "a staging bucket is required for %s batch processing", o.invoker.Name())
	}
	return nil
}

type run struct {
	o      *Orchestrator
	opts   Options
	req    AnalysisRequest
	res    *Result
	guard  *CleanupGuard
	logCtx *slog.Logger
	t      Transition
}

func (r *run) execute(ctx context.Context) error {
	o := r.o
	if err := o.precheck(r.req.MIMEType, r.opts, r.req.ProviderConfig); err != nil {
		r.logCtx.Warn("Request rejected before staging.", "error", err)
		return err
	}

	ext := filepath.Ext(r.req.FileName)
	if ext == "" {
		ext = Extension(r.req.MIMEType)
	}
	keys := o.keys.Keys(ext, r.opts.StagingKey)

	// --- 1. Stage the input ---
	r.logCtx.Info("Uploading document to staging.", "bucket", r.opts.Bucket, "key", keys.Input)
	input, err := o.store.Put(ctx, r.opts.Bucket, keys.Input, r.req.Document, r.req.MIMEType)
	if err != nil {
		return ProviderErr(err, "failed to stage input %s", o.store.URI(r.opts.Bucket, keys.Input))
	}
	r.guard.AcquireInput(input)
	r.t.InputKey = input.Key
	r.record(ctx, StateStaged)

	// --- 2. Submit the job ---
	output := StagingLocation{
		Bucket: r.opts.Bucket,
		Key:    keys.OutputPrefix,
		URI:    o.store.URI(r.opts.Bucket, keys.OutputPrefix),
	}
	h, err := o.invoker.Submit(ctx, SubmitRequest{
		Input:    input,
		Output:   output,
		MIMEType: r.req.MIMEType,
		Features: r.opts.Features(),
		Config:   r.req.ProviderConfig,
	})
	if err != nil {
		var e *Error
		if errors.As(err, &e) {
			return err
		}
		return ProviderErr(err, "failed to submit %s batch job", o.invoker.Name())
	}
	job := &Job{Handle: h, Status: StatusPending, Output: output}
	r.res.Job = job
	r.guard.AcquireOutput(output)
	r.t.OutputPrefix = output.Key
	r.t.Job = &h
	r.logCtx = r.logCtx.With("jobId", h.ID)
	r.record(ctx, StateSubmitted)

	// --- 3. Wait for a terminal state ---
	r.t.Deadline = o.clock.Now().Add(r.opts.MaxWaitTime + CleanupTimeout)
	r.record(ctx, StatePolling)
	w := Waiter{
		Interval: r.opts.PollingInterval,
		Deadline: r.opts.MaxWaitTime,
		Clock:    o.clock,
		OnPoll: func(attempt int, st JobState) {
			job.observe(st.Status)
			r.logCtx.Debug("Polled job status.", "attempt", attempt, "status", st.Status.String())
		},
	}
	st, err := w.WaitUntilTerminal(ctx, o.invoker, h)
	if err != nil {
		if errors.Is(err, ErrTimeout) && r.opts.CancelOnTimeout {
			r.cancelJob(ctx, h)
		}
		return err
	}
	if st.Status == StatusFailed {
		return ProviderErr(nil, "%s job %s failed: %s", o.invoker.Name(), h.ID, st.Detail)
	}

	// --- 4. Collect the result shards ---
	r.record(ctx, StateCollecting)
	format := o.invoker.Output()
	c := &Collector{Store: o.store, Concurrency: o.collectConcurrency}
	parts, err := c.Collect(ctx, output, format.Match)
	if err != nil {
		return err
	}
	r.res.Parts = parts
	r.t.PartCount = len(parts)
	r.logCtx.Info("Collected result parts.", "partCount", len(parts))

	// --- 5. Merge ---
	if r.opts.Combine {
		r.record(ctx, StateCombining)
		combined, err := Combine(parts, format.Collections...)
		if err != nil {
			return err
		}
		r.res.Combined = combined
	}
	return nil
}

// cancelJob makes one best-effort attempt to stop a job we stopped waiting
// for. Its output may still appear after cleanup; the ledger orphan scan
// picks that up.
func (r *run) cancelJob(ctx context.Context, h JobHandle) {
	c, ok := r.o.invoker.(Canceler)
	if !ok {
		return
	}
	ctx = context.WithoutCancel(ctx)
	if err := c.Cancel(ctx, h); err != nil {
		msg := fmt.Sprintf("failed to cancel job %s after timeout: %v", h.ID, err)
		r.logCtx.Warn("Remote cancel failed.", "error", err)
		r.res.Warnings = append(r.res.Warnings, msg)
		return
	}
	r.logCtx.Info("Cancelled remote job after timeout.")
}

func (r *run) finish(ctx context.Context) {
	r.record(ctx, StateCleaningUp)
	report := r.guard.Release(ctx)
	r.res.Cleanup = report
	r.res.Warnings = append(r.res.Warnings, report.Warnings...)

	r.t.Success = r.res.Err == nil
	if r.res.Err != nil {
		r.t.ErrorCode = CodeOf(r.res.Err)
		r.t.Error = r.res.Err.Error()
		r.logCtx.Error("Batch recognition failed.", "errorCode", r.t.ErrorCode, "error", r.res.Err)
	} else {
		r.logCtx.Info("Batch recognition complete.", "partCount", len(r.res.Parts))
	}
	r.t.Cleanup = &report
	r.record(ctx, StateDone)
}

func (r *run) record(ctx context.Context, s State) {
	r.t.State = s
	r.t.At = r.o.clock.Now()
	r.logCtx.Info("Entering state.", "state", string(s))
	if err := r.o.recorder.Record(context.WithoutCancel(ctx), r.t); err != nil {
		r.logCtx.Warn("Failed to record transition.", "state", string(s), "error", err)
	}
}
