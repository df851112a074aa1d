package models

// These structs define the JSON payloads of the batch-recognizer HTTP
// function and the upload-trigger CloudEvent function.

// RecognizeOptions mirrors the caller-facing batch options. Durations are in
// milliseconds; zero means the default.
type RecognizeOptions struct {
	AnalyzeLayout       bool              `json:"analyzeLayout,omitempty"`
	AnalyzeLayoutTables bool              `json:"analyzeLayoutTables,omitempty"`
	StagingBucket       string            `json:"stagingBucket,omitempty"`
	StagingKey          string            `json:"stagingKey,omitempty"`
	KeepStagedFile      bool              `json:"keepStagedFile,omitempty"`
	KeepOutputFiles     bool              `json:"keepOutputFiles,omitempty"`
	PollingIntervalMs   int               `json:"pollingIntervalMs,omitempty"`
	MaxWaitTimeMs       int               `json:"maxWaitTimeMs,omitempty"`
	Combine             bool              `json:"combine,omitempty"`
	ProviderConfig      map[string]string `json:"providerConfig,omitempty"`
}

// RecognizeRequest is the input of the batch-recognizer function.
type RecognizeRequest struct {
	SourceURI string           `json:"sourceUri"`
	Options   RecognizeOptions `json:"options"`
}

// GCSEvent is the payload of a storage object-finalized CloudEvent.
type GCSEvent struct {
	Bucket      string `json:"bucket"`
	Name        string `json:"name"`
	ContentType string `json:"contentType,omitempty"`
}

// CombinedResult is what the upload trigger writes next to each processed
// upload.
type CombinedResult struct {
	RunID       string         `json:"runId"`
	SourceURI   string         `json:"sourceUri"`
	PageCount   int            `json:"pageCount,omitempty"`
	MergedPages int            `json:"mergedPages"`
	Document    map[string]any `json:"result"`
}
