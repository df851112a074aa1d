package models

import "time"

// RunRecord is the persisted status of one batch orchestration. It is written
// to Firestore by the cloud functions and to the SQLite ledger by the CLI.
type RunRecord struct {
	RunID          string    `firestore:"runId,omitempty"`
	Provider       string    `firestore:"provider,omitempty"`
	SourceName     string    `firestore:"sourceName,omitempty"`
	Bucket         string    `firestore:"bucket,omitempty"`
	InputKey       string    `firestore:"inputKey,omitempty"`
	OutputPrefix   string    `firestore:"outputPrefix,omitempty"`
	JobID          string    `firestore:"jobId,omitempty"`
	JobOperation   string    `firestore:"jobOperation,omitempty"`
	State          string    `firestore:"state,omitempty"`
	ErrorCode      string    `firestore:"errorCode,omitempty"`
	ErrorDetails   string    `firestore:"errorDetails,omitempty"`
	PageCount      int       `firestore:"pageCount,omitempty"`
	PartCount      int       `firestore:"partCount,omitempty"`
	KeepInput      bool      `firestore:"keepInput"`
	KeepOutput     bool      `firestore:"keepOutput"`
	InputReleased  bool      `firestore:"inputReleased"`
	OutputReleased bool      `firestore:"outputReleased"`
	Warnings       []string  `firestore:"warnings,omitempty"`
	Deadline       time.Time `firestore:"deadline,omitempty"`
	CreatedAt      time.Time `firestore:"createdAt,omitempty"`
	UpdatedAt      time.Time `firestore:"updatedAt,omitempty"`
}
