package gcp

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	executions "cloud.google.com/go/workflows/executions/apiv1"
	"cloud.google.com/go/workflows/executions/apiv1/executionspb"
	"github.com/Lllllllleong/docbatch/internal/batch"
)

// WorkflowName is the provider name used in staging keys and records.
const WorkflowName = "workflow"

// Provider config keys understood by WorkflowInvoker.
const (
	KeyWorkflowID       = "workflowId"
	KeyWorkflowLocation = "workflowLocation"
)

var workflowFormats = batch.NewMIMESet("application/pdf", "image/tiff")

// WorkflowArgument is the execution argument. The workflow reads the input
// object and writes JSON result shards under OutputURI.
type WorkflowArgument struct {
	InputURI  string `json:"inputUri"`
	OutputURI string `json:"outputUri"`
	MIMEType  string `json:"mimeType"`
	Layout    bool   `json:"layout"`
	Tables    bool   `json:"tables"`
}

// WorkflowInvoker runs a deployed Cloud Workflow as the batch job.
type WorkflowInvoker struct {
	client   *executions.Client
	defaults map[string]string
}

// NewWorkflowInvoker binds an executions client. defaults supplies projectId,
// workflowLocation and workflowId when a request does not.
func NewWorkflowInvoker(client *executions.Client, defaults map[string]string) *WorkflowInvoker {
	return &WorkflowInvoker{client: client, defaults: defaults}
}

func (w *WorkflowInvoker) Name() string { return WorkflowName }

func (w *WorkflowInvoker) Validate(mimeType string, cfg map[string]string) error {
	if err := batch.CheckFormat(WorkflowName, mimeType, workflowFormats); err != nil {
		return err
	}
	return batch.RequireConfig(WorkflowName, batch.MergeConfig(w.defaults, cfg), KeyProjectID, KeyWorkflowLocation, KeyWorkflowID)
}

func (w *WorkflowInvoker) Submit(ctx context.Context, req batch.SubmitRequest) (batch.JobHandle, error) {
	if err := w.Validate(req.MIMEType, req.Config); err != nil {
		return batch.JobHandle{}, err
	}
	cfg := batch.MergeConfig(w.defaults, req.Config)

	payloadBytes, err := json.Marshal(WorkflowArgument{
		InputURI:  req.Input.URI,
		OutputURI: req.Output.URI,
		MIMEType:  req.MIMEType,
		Layout:    req.Features.Layout,
		Tables:    req.Features.Tables,
	})
	if err != nil {
		return batch.JobHandle{}, fmt.Errorf("failed to marshal workflow payload: %w", err)
	}
	exec, err := w.client.CreateExecution(ctx, &executionspb.CreateExecutionRequest{
		Parent: fmt.Sprintf("projects/%s/locations/%s/workflows/%s", cfg[KeyProjectID], cfg[KeyWorkflowLocation], cfg[KeyWorkflowID]),
		Execution: &executionspb.Execution{
			Argument: string(payloadBytes),
		},
	})
	if err != nil {
		return batch.JobHandle{}, fmt.Errorf("failed to trigger workflow execution: %w", err)
	}
	return batch.JobHandle{ID: exec.GetName()}, nil
}

func (w *WorkflowInvoker) Status(ctx context.Context, h batch.JobHandle) (batch.JobState, error) {
	exec, err := w.client.GetExecution(ctx, &executionspb.GetExecutionRequest{Name: h.ID})
	if err != nil {
		return batch.JobState{}, fmt.Errorf("failed to get execution %s: %w", h.ID, err)
	}
	return executionState(exec), nil
}

func executionState(exec *executionspb.Execution) batch.JobState {
	switch exec.GetState() {
	case executionspb.Execution_SUCCEEDED:
		return batch.JobState{Status: batch.StatusSucceeded}
	case executionspb.Execution_FAILED, executionspb.Execution_CANCELLED, executionspb.Execution_UNAVAILABLE:
		detail := exec.GetError().GetPayload()
		if detail == "" {
			detail = exec.GetState().String()
		}
		return batch.JobState{Status: batch.StatusFailed, Detail: detail}
	case executionspb.Execution_QUEUED:
		return batch.JobState{Status: batch.StatusPending}
	}
	return batch.JobState{Status: batch.StatusRunning}
}

// Cancel stops the execution.
func (w *WorkflowInvoker) Cancel(ctx context.Context, h batch.JobHandle) error {
	if _, err := w.client.CancelExecution(ctx, &executionspb.CancelExecutionRequest{Name: h.ID}); err != nil {
		return fmt.Errorf("failed to cancel execution %s: %w", h.ID, err)
	}
	return nil
}

func (w *WorkflowInvoker) Output() batch.OutputFormat {
	return batch.OutputFormat{
		Match:       func(name string) bool { return strings.HasSuffix(name, ".json") },
		Collections: batch.DocumentAICollections,
	}
}
