package services

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"path"
	"strings"
	"time"

	"github.com/Lllllllleong/docbatch/internal/batch"
	"github.com/Lllllllleong/docbatch/internal/gcp"
	"github.com/Lllllllleong/docbatch/internal/models"
)

// RecognizerFunction holds dependencies for the batch-recognizer function.
type RecognizerFunction struct {
	provider     *Provider
	orchestrator *batch.Orchestrator
	config       RecognizerConfig
}

// NewRecognizer creates a RecognizerFunction from the environment. Runs are
// recorded in Firestore.
func NewRecognizer(ctx context.Context) (*RecognizerFunction, error) {
	config, err := LoadRecognizerConfig()
	if err != nil {
		return nil, err
	}
	firestoreClient, err := gcp.NewFirestoreClient(ctx, config.Provider.ProjectID)
	if err != nil {
		return nil, fmt.Errorf("failed to create firestore client: %w", err)
	}
	provider, err := NewProvider(ctx, config.Provider)
	if err != nil {
		firestoreClient.Close()
		return nil, fmt.Errorf("failed to connect to %s: %w", config.Provider.Name, err)
	}
	provider.closers = append(provider.closers, firestoreClient.Close)

	f := NewRecognizerWith(config, provider, batch.WithRecorder(gcp.NewFirestoreRecorder(firestoreClient, config.CollectionName)))
	slog.Info("Batch recognizer initialized.", "provider", config.Provider.Name, "stagingBucket", config.StagingBucket)
	return f, nil
}

// NewRecognizerWith builds a RecognizerFunction around an existing provider.
func NewRecognizerWith(config RecognizerConfig, provider *Provider, opts ...batch.Option) *RecognizerFunction {
	return &RecognizerFunction{
		provider:     provider,
		orchestrator: batch.NewOrchestrator(provider.Store, provider.Invoker, opts...),
		config:       config,
	}
}

// Close releases the provider clients.
func (f *RecognizerFunction) Close() error { return f.provider.Close() }

// Process reads the source object named by the request and runs it through
// the batch pipeline. Every outcome is reported in the envelope.
func (f *RecognizerFunction) Process(ctx context.Context, req *models.RecognizeRequest) models.ResultEnvelope {
	logCtx := slog.With("sourceUri", req.SourceURI, "provider", f.orchestrator.Provider())
	logCtx.Info("Processing recognition request.")

	analysis, err := f.readSource(ctx, req.SourceURI)
	if err != nil {
		logCtx.Warn("Could not read source document", "error", err)
		return models.Failed(string(batch.CodeOf(err)), err.Error())
	}
	analysis.ProviderConfig = batch.MergeConfig(f.config.Provider.Values(), req.Options.ProviderConfig)
	f.countPages(logCtx, &analysis)

	return f.orchestrator.RecognizeDocumentAsync(ctx, analysis, f.options(req.Options))
}

func (f *RecognizerFunction) readSource(ctx context.Context, uri string) (batch.AnalysisRequest, error) {
	bucket, name, err := SplitObjectURI(uri)
	if err != nil {
		return batch.AnalysisRequest{}, batch.NewError(batch.CodeReadError, "%v", err)
	}
	store := f.provider.Store
	if store.URI(bucket, name) != uri {
		return batch.AnalysisRequest{}, batch.NewError(batch.CodeReadError, "%s is not on the %s object store", uri, f.orchestrator.Provider())
	}
	data, err := store.Get(ctx, bucket, name)
	if err != nil {
		return batch.AnalysisRequest{}, batch.NewError(batch.CodeReadError, "failed to read %s: %v", uri, err)
	}
	return batch.AnalysisRequest{
		Document: data,
		MIMEType: batch.MIMETypeOf(name),
		FileName: path.Base(name),
	}, nil
}

func (f *RecognizerFunction) countPages(logCtx *slog.Logger, req *batch.AnalysisRequest) {
	n, err := PageCount(req.Document, req.MIMEType)
	if err != nil {
		logCtx.Warn("Could not count pages; continuing.", "error", err)
		return
	}
	req.PageCount = n
}

// options applies request overrides on top of the function defaults.
func (f *RecognizerFunction) options(ro models.RecognizeOptions) batch.Options {
	o := batch.Options{
		AnalyzeLayout:       ro.AnalyzeLayout,
		AnalyzeLayoutTables: ro.AnalyzeLayoutTables,
		Bucket:              f.config.StagingBucket,
		StagingKey:          ro.StagingKey,
		KeepStagedFile:      ro.KeepStagedFile,
		KeepOutputFiles:     ro.KeepOutputFiles,
		PollingInterval:     f.config.PollingInterval,
		MaxWaitTime:         f.config.MaxWaitTime,
		Combine:             ro.Combine,
		CancelOnTimeout:     true,
	}
	if ro.StagingBucket != "" {
		o.Bucket = ro.StagingBucket
	}
	if ro.PollingIntervalMs != 0 {
		o.PollingInterval = time.Duration(ro.PollingIntervalMs) * time.Millisecond
	}
	if ro.MaxWaitTimeMs != 0 {
		o.MaxWaitTime = time.Duration(ro.MaxWaitTimeMs) * time.Millisecond
	}
	return o
}

// SplitObjectURI splits scheme://bucket/object into bucket and object.
func SplitObjectURI(uri string) (bucket, name string, err error) {
	_, rest, ok := strings.Cut(uri, "://")
	if !ok {
		return "", "", fmt.Errorf("not an object URI: %q", uri)
	}
	bucket, name, ok = strings.Cut(rest, "/")
	if !ok || bucket == "" || name == "" {
		return "", "", fmt.Errorf("URI %q must name a bucket and an object", uri)
	}
	return bucket, name, nil
}

// Permanent reports whether retrying the same request cannot succeed.
func Permanent(code string) bool {
	switch batch.ErrorCode(code) {
	case batch.CodeUnsupportedFormat, batch.CodeMissingConfiguration, batch.CodeMissingStagingBucket,
		batch.CodeInvalidOptions, batch.CodeReadError, batch.CodeNoOutputFound, batch.CodeEmptyInput:
		return true
	}
	return false
}

// StatusCode maps an envelope to the HTTP status of the function response.
func StatusCode(env models.ResultEnvelope) int {
	switch {
	case env.Success:
		return http.StatusOK
	case batch.ErrorCode(env.ErrorCode) == batch.CodeTimeout:
		return http.StatusGatewayTimeout
	case batch.ErrorCode(env.ErrorCode) == batch.CodeNoOutputFound, batch.ErrorCode(env.ErrorCode) == batch.CodeEmptyInput:
		return http.StatusBadGateway
	case Permanent(env.ErrorCode):
		return http.StatusBadRequest
	}
	return http.StatusBadGateway
}
