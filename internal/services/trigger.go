package services

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"path"
	"strings"

	"cloud.google.com/go/storage"
	"github.com/Lllllllleong/docbatch/internal/batch"
	"github.com/Lllllllleong/docbatch/internal/gcp"
	"github.com/Lllllllleong/docbatch/internal/models"
)

// ResultSink persists the combined result of one upload.
type ResultSink interface {
	Save(ctx context.Context, objectName string, content []byte) error
}

type gcsSink struct {
	bucket *storage.BucketHandle
}

func (s gcsSink) Save(ctx context.Context, objectName string, content []byte) error {
	return gcp.SaveToGCSAtomically(ctx, s.bucket, objectName, content, "application/json")
}

// SourceReader fetches the uploaded object named by an event.
type SourceReader func(ctx context.Context, bucket, name string) ([]byte, error)

// UploadTriggerFunction recognizes every document uploaded to a watched
// bucket and writes the combined result to the results bucket.
type UploadTriggerFunction struct {
	recognizer *RecognizerFunction
	read       SourceReader
	sink       ResultSink
}

// NewUploadTrigger creates an UploadTriggerFunction from the environment.
func NewUploadTrigger(ctx context.Context) (*UploadTriggerFunction, error) {
	recognizer, err := NewRecognizer(ctx)
	if err != nil {
		return nil, err
	}
	if recognizer.config.ResultsBucket == "" {
		recognizer.Close()
		return nil, fmt.Errorf("RESULTS_BUCKET environment variable must be set")
	}
	storageClient, err := storage.NewClient(ctx)
	if err != nil {
		recognizer.Close()
		return nil, fmt.Errorf("failed to create Storage client: %w", err)
	}
	recognizer.provider.closers = append(recognizer.provider.closers, storageClient.Close)

	uploads := gcp.NewGCSStore(storageClient)
	return NewUploadTriggerWith(recognizer, uploads.Get, gcsSink{bucket: storageClient.Bucket(recognizer.config.ResultsBucket)}), nil
}

// NewUploadTriggerWith wires a trigger from its parts.
func NewUploadTriggerWith(recognizer *RecognizerFunction, read SourceReader, sink ResultSink) *UploadTriggerFunction {
	return &UploadTriggerFunction{recognizer: recognizer, read: read, sink: sink}
}

// Process handles one object-finalized event. Permanent failures are logged
// and swallowed so the event is not redelivered.
func (f *UploadTriggerFunction) Process(ctx context.Context, e models.GCSEvent) error {
	logCtx := slog.With("gcsBucket", e.Bucket, "gcsObject", e.Name)
	if f.ownObject(e.Name) {
		logCtx.Info("Skipping staging artifact.")
		return nil
	}
	mimeType := batch.MIMETypeOf(e.Name)
	if err := f.recognizer.orchestrator.Validate(mimeType, f.recognizer.config.Provider.Values()); err != nil {
		logCtx.Info("Skipping unsupported upload.", "reason", err)
		return nil
	}
	logCtx.Info("Processing new upload.")

	data, err := f.read(ctx, e.Bucket, e.Name)
	if err != nil {
		logCtx.Error("Failed to download upload", "error", err)
		return fmt.Errorf("failed to read upload: %w", err)
	}
	req := batch.AnalysisRequest{
		Document:       data,
		MIMEType:       mimeType,
		FileName:       path.Base(e.Name),
		ProviderConfig: f.recognizer.config.Provider.Values(),
	}
	f.recognizer.countPages(logCtx, &req)

	opts := f.recognizer.options(models.RecognizeOptions{Combine: true})
	res := f.recognizer.orchestrator.Run(ctx, req, opts)
	if res.Err != nil {
		env := res.Envelope()
		if Permanent(env.ErrorCode) {
			logCtx.Warn("Upload could not be recognized.", "errorCode", env.ErrorCode, "error", env.Error)
			return nil
		}
		return fmt.Errorf("batch recognition of gs://%s/%s failed: %w", e.Bucket, e.Name, res.Err)
	}

	result := models.CombinedResult{
		RunID:       res.RunID,
		SourceURI:   fmt.Sprintf("gs://%s/%s", e.Bucket, e.Name),
		PageCount:   req.PageCount,
		MergedPages: batch.CollectionLen(res.Combined, "document.pages"),
		Document:    res.Combined,
	}
	content, err := json.Marshal(result)
	if err != nil {
		return fmt.Errorf("failed to marshal combined result: %w", err)
	}
	objectName := e.Name + ".json"
	if err := f.sink.Save(ctx, objectName, content); err != nil {
		logCtx.Error("Failed to save combined result", "error", err)
		return err
	}
	if req.PageCount > 0 && result.MergedPages > 0 && result.MergedPages != req.PageCount {
		logCtx.Warn("Merged page count differs from the source.", "pageCount", req.PageCount, "mergedPages", result.MergedPages)
	}
	logCtx.Info("Combined result saved.", "resultObject", objectName, "runId", res.RunID)
	return nil
}

// ownObject reports whether name lies under this provider's staging
// prefixes, which happens when uploads and staging share a bucket.
func (f *UploadTriggerFunction) ownObject(name string) bool {
	base := f.recognizer.orchestrator.Provider()
	return strings.HasPrefix(name, base+"-temp/") || strings.HasPrefix(name, base+"-output/")
}
