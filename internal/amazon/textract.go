package amazon

import (
	"context"
	"fmt"
	"path"
	"strings"

	"github.com/Lllllllleong/docbatch/internal/batch"
	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/textract"
	"github.com/aws/aws-sdk-go-v2/service/textract/types"
)

// TextractName is the provider name used in staging keys and records.
const TextractName = "textract"

// Job operations. Textract polls analysis and text detection jobs through
// different calls, so the handle remembers which one was started.
const (
	OperationAnalysis = "analysis"
	OperationText     = "text"
)

// TextractCollections are appended across result pages.
var TextractCollections = []string{"Blocks", "Warnings"}

var textractFormats = batch.NewMIMESet("application/pdf", "image/tiff")

// TextractAPI is the subset of *textract.Client used by TextractInvoker.
type TextractAPI interface {
	StartDocumentAnalysis(ctx context.Context, in *textract.StartDocumentAnalysisInput, optFns ...func(*textract.Options)) (*textract.StartDocumentAnalysisOutput, error)
	StartDocumentTextDetection(ctx context.Context, in *textract.StartDocumentTextDetectionInput, optFns ...func(*textract.Options)) (*textract.StartDocumentTextDetectionOutput, error)
	GetDocumentAnalysis(ctx context.Context, in *textract.GetDocumentAnalysisInput, optFns ...func(*textract.Options)) (*textract.GetDocumentAnalysisOutput, error)
	GetDocumentTextDetection(ctx context.Context, in *textract.GetDocumentTextDetectionInput, optFns ...func(*textract.Options)) (*textract.GetDocumentTextDetectionOutput, error)
}

// TextractInvoker starts asynchronous Textract jobs that write their result
// pages to S3.
type TextractInvoker struct {
	client TextractAPI
}

func NewTextractInvoker(client TextractAPI) *TextractInvoker {
	return &TextractInvoker{client: client}
}

func (t *TextractInvoker) Name() string { return TextractName }

// Validate checks the format only; the bucket is the sole required setting
// and the orchestrator checks it.
func (t *TextractInvoker) Validate(mimeType string, _ map[string]string) error {
	return batch.CheckFormat(TextractName, mimeType, textractFormats)
}

// Submit starts document analysis when layout or tables are requested and
// plain text detection otherwise.
func (t *TextractInvoker) Submit(ctx context.Context, req batch.SubmitRequest) (batch.JobHandle, error) {
	if err := t.Validate(req.MIMEType, req.Config); err != nil {
		return batch.JobHandle{}, err
	}
	loc := &types.DocumentLocation{
		S3Object: &types.S3Object{Bucket: aws.String(req.Input.Bucket), Name: aws.String(req.Input.Key)},
	}
	out := &types.OutputConfig{
		S3Bucket: aws.String(req.Output.Bucket),
		S3Prefix: aws.String(strings.TrimSuffix(req.Output.Key, "/")),
	}

	if features := featureTypes(req.Features); len(features) > 0 {
		res, err := t.client.StartDocumentAnalysis(ctx, &textract.StartDocumentAnalysisInput{
			DocumentLocation: loc,
			FeatureTypes:     features,
			OutputConfig:     out,
		})
		if err != nil {
			return batch.JobHandle{}, fmt.Errorf("failed to start document analysis for %s: %w", req.Input.URI, err)
		}
		return batch.JobHandle{ID: aws.ToString(res.JobId), Operation: OperationAnalysis}, nil
	}

	res, err := t.client.StartDocumentTextDetection(ctx, &textract.StartDocumentTextDetectionInput{
		DocumentLocation: loc,
		OutputConfig:     out,
	})
	if err != nil {
		return batch.JobHandle{}, fmt.Errorf("failed to start text detection for %s: %w", req.Input.URI, err)
	}
	return batch.JobHandle{ID: aws.ToString(res.JobId), Operation: OperationText}, nil
}

func featureTypes(f batch.Features) []types.FeatureType {
	var out []types.FeatureType
	if f.Layout || f.Tables {
		out = append(out, types.FeatureTypeLayout)
	}
	if f.Tables {
		out = append(out, types.FeatureTypeTables)
	}
	return out
}

// Status asks for a single result so that a poll stays cheap; the full
// result is read from S3 afterwards.
func (t *TextractInvoker) Status(ctx context.Context, h batch.JobHandle) (batch.JobState, error) {
	var (
		status  types.JobStatus
		message string
	)
	switch h.Operation {
	case OperationAnalysis:
		res, err := t.client.GetDocumentAnalysis(ctx, &textract.GetDocumentAnalysisInput{JobId: aws.String(h.ID), MaxResults: aws.Int32(1)})
		if err != nil {
			return batch.JobState{}, fmt.Errorf("failed to get analysis job %s: %w", h.ID, err)
		}
		status, message = res.JobStatus, aws.ToString(res.StatusMessage)
	case OperationText:
		res, err := t.client.GetDocumentTextDetection(ctx, &textract.GetDocumentTextDetectionInput{JobId: aws.String(h.ID), MaxResults: aws.Int32(1)})
		if err != nil {
			return batch.JobState{}, fmt.Errorf("failed to get text detection job %s: %w", h.ID, err)
		}
		status, message = res.JobStatus, aws.ToString(res.StatusMessage)
	default:
		return batch.JobState{}, fmt.Errorf("unknown textract operation %q for job %s", h.Operation, h.ID)
	}
	return jobState(status, message), nil
}

func jobState(status types.JobStatus, message string) batch.JobState {
	switch status {
	case types.JobStatusSucceeded, types.JobStatusPartialSuccess:
		return batch.JobState{Status: batch.StatusSucceeded, Detail: message}
	case types.JobStatusFailed:
		return batch.JobState{Status: batch.StatusFailed, Detail: message}
	}
	return batch.JobState{Status: batch.StatusRunning, Detail: message}
}

// Output matches the numbered result pages Textract writes under
// <prefix>/<jobId>/ and skips its .s3_access_check marker.
func (t *TextractInvoker) Output() batch.OutputFormat {
	return batch.OutputFormat{
		Match:       IsResultPage,
		Collections: TextractCollections,
	}
}

// IsResultPage reports whether name's base is a page number.
func IsResultPage(name string) bool {
	base := path.Base(name)
	if base == "" || base == "." || base == "/" {
		return false
	}
	for _, r := range base {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}
