package gcp

import (
	"context"
	"fmt"
	"strings"
	"sync"

	documentai "cloud.google.com/go/documentai/apiv1"
	"cloud.google.com/go/documentai/apiv1/documentaipb"
	"cloud.google.com/go/longrunning/autogen/longrunningpb"
	"github.com/Lllllllleong/docbatch/internal/batch"
	"google.golang.org/api/option"
)

// DocumentAIName is the provider name used in staging keys and records.
const DocumentAIName = "documentai"

// Provider config keys understood by DocumentAIInvoker.
const (
	KeyProjectID   = "projectId"
	KeyLocation    = "location"
	KeyProcessorID = "processorId"
)

var documentAIFormats = batch.NewMIMESet("application/pdf", "image/tiff", "image/gif")

// DocumentAIConfig identifies the processor used for batch requests.
type DocumentAIConfig struct {
	ProjectID   string
	Location    string
	ProcessorID string
}

// Values returns the config in provider-config form.
func (c DocumentAIConfig) Values() map[string]string {
	return map[string]string{
		KeyProjectID:   c.ProjectID,
		KeyLocation:    c.Location,
		KeyProcessorID: c.ProcessorID,
	}
}

// DocumentAIInvoker submits batchProcessDocuments operations. Document AI
// serves each location from its own endpoint, so one client is kept per
// location and created on first use.
type DocumentAIInvoker struct {
	defaults map[string]string
	opts     []option.ClientOption

	mu      sync.Mutex
	clients map[string]*documentai.DocumentProcessorClient
}

// NewDocumentAIInvoker returns an invoker whose request config falls back to cfg.
func NewDocumentAIInvoker(cfg DocumentAIConfig, opts ...option.ClientOption) *DocumentAIInvoker {
	return &DocumentAIInvoker{
		defaults: cfg.Values(),
		opts:     opts,
		clients:  make(map[string]*documentai.DocumentProcessorClient),
	}
}

func (d *DocumentAIInvoker) Name() string { return DocumentAIName }

func (d *DocumentAIInvoker) Validate(mimeType string, cfg map[string]string) error {
	if err := batch.CheckFormat(DocumentAIName, mimeType, documentAIFormats); err != nil {
		return err
	}
	return batch.RequireConfig(DocumentAIName, batch.MergeConfig(d.defaults, cfg), KeyProjectID, KeyLocation, KeyProcessorID)
}

// Submit starts the batch operation. The processor type decides what is
// extracted, so Features are not forwarded.
func (d *DocumentAIInvoker) Submit(ctx context.Context, req batch.SubmitRequest) (batch.JobHandle, error) {
	if err := d.Validate(req.MIMEType, req.Config); err != nil {
		return batch.JobHandle{}, err
	}
	cfg := batch.MergeConfig(d.defaults, req.Config)
	client, err := d.client(ctx, cfg[KeyLocation])
	if err != nil {
		return batch.JobHandle{}, err
	}

	op, err := client.BatchProcessDocuments(ctx, newBatchProcessRequest(cfg, req))
	if err != nil {
		return batch.JobHandle{}, fmt.Errorf("failed to start batch process for %s: %w", req.Input.URI, err)
	}
	return batch.JobHandle{ID: op.Name()}, nil
}

func newBatchProcessRequest(cfg map[string]string, req batch.SubmitRequest) *documentaipb.BatchProcessRequest {
	return &documentaipb.BatchProcessRequest{
		Name: ProcessorName(cfg[KeyProjectID], cfg[KeyLocation], cfg[KeyProcessorID]),
		InputDocuments: &documentaipb.BatchDocumentsInputConfig{
			Source: &documentaipb.BatchDocumentsInputConfig_GcsDocuments{
				GcsDocuments: &documentaipb.GcsDocuments{
					Documents: []*documentaipb.GcsDocument{{GcsUri: req.Input.URI, MimeType: req.MIMEType}},
				},
			},
		},
		DocumentOutputConfig: &documentaipb.DocumentOutputConfig{
			Destination: &documentaipb.DocumentOutputConfig_GcsOutputConfig_{
				GcsOutputConfig: &documentaipb.DocumentOutputConfig_GcsOutputConfig{GcsUri: req.Output.URI},
			},
		},
	}
}

func (d *DocumentAIInvoker) Status(ctx context.Context, h batch.JobHandle) (batch.JobState, error) {
	client, err := d.client(ctx, operationLocation(h.ID))
	if err != nil {
		return batch.JobState{}, err
	}
	op := client.BatchProcessDocumentsOperation(h.ID)
	if _, err := op.Poll(ctx); err != nil {
		if op.Done() {
			return batch.JobState{Status: batch.StatusFailed, Detail: err.Error()}, nil
		}
		return batch.JobState{}, fmt.Errorf("failed to poll operation %s: %w", h.ID, err)
	}
	meta, err := op.Metadata()
	if err != nil {
		return batch.JobState{}, fmt.Errorf("failed to read metadata of %s: %w", h.ID, err)
	}
	return documentAIState(op.Done(), meta), nil
}

// documentAIState maps an operation snapshot onto a JobState.
func documentAIState(done bool, meta *documentaipb.BatchProcessMetadata) batch.JobState {
	switch meta.GetState() {
	case documentaipb.BatchProcessMetadata_FAILED, documentaipb.BatchProcessMetadata_CANCELLED:
		return batch.JobState{Status: batch.StatusFailed, Detail: meta.GetStateMessage()}
	}
	if done {
		for _, p := range meta.GetIndividualProcessStatuses() {
			if s := p.GetStatus(); s != nil && s.GetCode() != 0 {
				return batch.JobState{Status: batch.StatusFailed, Detail: fmt.Sprintf("%s: %s", p.GetInputGcsSource(), s.GetMessage())}
			}
		}
		return batch.JobState{Status: batch.StatusSucceeded}
	}
	if meta.GetState() == documentaipb.BatchProcessMetadata_WAITING {
		return batch.JobState{Status: batch.StatusPending}
	}
	return batch.JobState{Status: batch.StatusRunning}
}

// Cancel asks Document AI to stop the operation.
func (d *DocumentAIInvoker) Cancel(ctx context.Context, h batch.JobHandle) error {
	client, err := d.client(ctx, operationLocation(h.ID))
	if err != nil {
		return err
	}
	if err := client.CancelOperation(ctx, &longrunningpb.CancelOperationRequest{Name: h.ID}); err != nil {
		return fmt.Errorf("failed to cancel operation %s: %w", h.ID, err)
	}
	return nil
}

func (d *DocumentAIInvoker) Output() batch.OutputFormat {
	return batch.OutputFormat{
		Match:       func(name string) bool { return strings.HasSuffix(name, ".json") },
		Collections: batch.DocumentAICollections,
	}
}

// Close releases every client opened so far.
func (d *DocumentAIInvoker) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	var first error
	for loc, c := range d.clients {
		if err := c.Close(); err != nil && first == nil {
			first = err
		}
		delete(d.clients, loc)
	}
	return first
}

func (d *DocumentAIInvoker) client(ctx context.Context, location string) (*documentai.DocumentProcessorClient, error) {
	if location == "" {
		location = d.defaults[KeyLocation]
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if c, ok := d.clients[location]; ok {
		return c, nil
	}
	opts := append([]option.ClientOption{option.WithEndpoint(Endpoint(location))}, d.opts...)
	c, err := documentai.NewDocumentProcessorClient(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create Document AI client for %s: %w", location, err)
	}
	d.clients[location] = c
	return c, nil
}

// ProcessorName builds the full processor resource name.
func ProcessorName(projectID, location, processorID string) string {
	return fmt.Sprintf("projects/%s/locations/%s/processors/%s", projectID, location, processorID)
}

// Endpoint returns the regional Document AI endpoint for location.
func Endpoint(location string) string {
	return location + "-documentai.googleapis.com:443"
}

// operationLocation extracts the location segment of
// projects/<p>/locations/<loc>/operations/<id>.
func operationLocation(name string) string {
	parts := strings.Split(name, "/")
	for i := 0; i+1 < len(parts); i++ {
		if parts[i] == "locations" {
			return parts[i+1]
		}
	}
	return ""
}
