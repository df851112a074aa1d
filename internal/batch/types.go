// Package batch orchestrates asynchronous document-analysis jobs: it stages
// the input in object storage, submits a remote batch job, polls it to a
// terminal state, collects and merges the output shards, and always cleans up
// what it staged.
//
// The package is provider-agnostic. A provider plugs in through an
// ObjectStore (where input and output live) and a JobInvoker (how the remote
// job is started and polled).
package batch

import (
	"context"
	"iter"
)

// StagingLocation addresses an object, or an object prefix when Key ends in
// "/", in a remote store.
type StagingLocation struct {
	Bucket string `json:"bucket"`
	Key    string `json:"key"`
	URI    string `json:"uri"`
}

// ObjectStore is the remote bucket/blob store used for staging input and
// reading job output.
type ObjectStore interface {
	// Put uploads data and returns where it landed.
	Put(ctx context.Context, bucket, key string, data []byte, contentType string) (StagingLocation, error)
	// List yields object names under prefix in the store's listing order.
	List(ctx context.Context, bucket, prefix string) iter.Seq2[string, error]
	Get(ctx context.Context, bucket, name string) ([]byte, error)
	// Delete removes an object. Deleting a missing object is not an error.
	Delete(ctx context.Context, bucket, name string) error
	// URI renders the provider URI (gs://, s3://) for bucket and key.
	URI(bucket, key string) string
}

// JobStatus is the lifecycle state of a remote batch job.
type JobStatus int

const (
	StatusPending JobStatus = iota
	StatusRunning
	StatusSucceeded
	StatusFailed
)

func (s JobStatus) String() string {
	switch s {
	case StatusPending:
		return "PENDING"
	case StatusRunning:
		return "RUNNING"
	case StatusSucceeded:
		return "SUCCEEDED"
	case StatusFailed:
		return "FAILED"
	}
	return "UNKNOWN"
}

// Terminal reports whether no further transitions can happen.
func (s JobStatus) Terminal() bool {
	return s == StatusSucceeded || s == StatusFailed
}

// JobHandle identifies a submitted job. Operation lets an adapter remember
// which remote API started it.
type JobHandle struct {
	ID        string `json:"id"`
	Operation string `json:"operation,omitempty"`
}

// JobState is the outcome of a single status check.
type JobState struct {
	Status JobStatus
	// Detail carries the provider's message, typically why a job failed.
	Detail string
}

// Job is one submitted job as tracked by the orchestrator. Status only moves
// forward and never changes once terminal.
type Job struct {
	Handle JobHandle
	Status JobStatus
	Output StagingLocation
}

func (j *Job) observe(st JobStatus) {
	if j.Status.Terminal() {
		return
	}
	j.Status = st
}

// Features selects optional analysis on providers that support it.
type Features struct {
	Layout bool
	Tables bool
}

// SubmitRequest is everything an adapter needs to start a job.
type SubmitRequest struct {
	Input    StagingLocation
	Output   StagingLocation
	MIMEType string
	Features Features
	Config   map[string]string
}

// OutputFormat describes how a provider lays out its results.
type OutputFormat struct {
	// Match reports whether an object under the output prefix is a result
	// shard.
	Match func(name string) bool
	// Collections are the dotted paths concatenated by Combine.
	Collections []string
}

// StatusChecker performs a single non-blocking status query.
type StatusChecker interface {
	Status(ctx context.Context, h JobHandle) (JobState, error)
}

// JobInvoker adapts one remote analysis provider.
type JobInvoker interface {
	StatusChecker
	// Name is a short identifier used in logs and staging key prefixes.
	Name() string
	// Validate runs before anything is staged. It fails with
	// MissingConfiguration or UnsupportedFormat.
	Validate(mimeType string, cfg map[string]string) error
	Submit(ctx context.Context, req SubmitRequest) (JobHandle, error)
	Output() OutputFormat
}

// Canceler is implemented by invokers that can abandon a remote job.
type Canceler interface {
	Cancel(ctx context.Context, h JobHandle) error
}

// AnalysisRequest is one document to analyse.
type AnalysisRequest struct {
	Document       []byte
	MIMEType       string
	FileName       string
	ProviderConfig map[string]string
	// PageCount is informational; zero when unknown.
	PageCount int
}

// Response is one parsed result document.
type Response map[string]any
