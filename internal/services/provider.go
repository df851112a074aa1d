package services

import (
	"context"
	"errors"
	"fmt"

	"cloud.google.com/go/storage"
	executions "cloud.google.com/go/workflows/executions/apiv1"
	"github.com/Lllllllleong/docbatch/internal/amazon"
	"github.com/Lllllllleong/docbatch/internal/batch"
	"github.com/Lllllllleong/docbatch/internal/gcp"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/textract"
)

// Provider is a ready-to-use store and invoker pair plus whatever clients
// must be closed afterwards.
type Provider struct {
	Store   batch.ObjectStore
	Invoker batch.JobInvoker
	closers []func() error
}

// Close releases the underlying clients.
func (p *Provider) Close() error {
	var errs []error
	for _, c := range p.closers {
		errs = append(errs, c())
	}
	return errors.Join(errs...)
}

// NewProvider connects to the configured provider. Document AI and Workflow
// stage through Cloud Storage, Textract through S3.
func NewProvider(ctx context.Context, cfg ProviderConfig) (*Provider, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	switch cfg.Name {
	case amazon.TextractName:
		awsCfg, err := amazon.LoadConfig(ctx, cfg.AWSRegion)
		if err != nil {
			return nil, err
		}
		return &Provider{
			Store:   amazon.NewS3Store(s3.NewFromConfig(awsCfg)),
			Invoker: amazon.NewTextractInvoker(textract.NewFromConfig(awsCfg)),
		}, nil
	}

	storageClient, err := storage.NewClient(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to create storage client: %w", err)
	}
	p := &Provider{Store: gcp.NewGCSStore(storageClient), closers: []func() error{storageClient.Close}}

	if cfg.Name == gcp.WorkflowName {
		executionsClient, err := executions.NewClient(ctx)
		if err != nil {
			storageClient.Close()
			return nil, fmt.Errorf("failed to create Workflows Executions client: %w", err)
		}
		p.Invoker = gcp.NewWorkflowInvoker(executionsClient, cfg.Values())
		p.closers = append(p.closers, executionsClient.Close)
		return p, nil
	}

	d := gcp.NewDocumentAIInvoker(gcp.DocumentAIConfig{ProjectID: cfg.ProjectID, Location: cfg.Location, ProcessorID: cfg.ProcessorID})
	p.Invoker = d
	p.closers = append(p.closers, d.Close)
	return p, nil
}
