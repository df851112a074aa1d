package batch

import (
	"fmt"
	"time"
)

const (
	DefaultPollingInterval = 5 * time.Second
	DefaultMaxWaitTime     = 300 * time.Second
	MinPollingInterval     = 1 * time.Second
	MinMaxWaitTime         = 10 * time.Second
)

// Options are the caller-facing settings of one asynchronous recognition.
type Options struct {
	AnalyzeLayout       bool
	AnalyzeLayoutTables bool
	// Bucket is the staging bucket for input and output.
	Bucket string
	// StagingKey overrides the generated input key.
	StagingKey      string
	KeepStagedFile  bool
	KeepOutputFiles bool
	PollingInterval time.Duration
	MaxWaitTime     time.Duration
	// Combine merges the parts into one response before returning.
	Combine bool
	// CancelOnTimeout asks the provider to abandon the remote job when the
	// wait deadline passes, if the provider supports it.
	CancelOnTimeout bool
	ProviderConfig  map[string]string
}

// WithDefaults fills zero durations with the defaults.
func (o Options) WithDefaults() Options {
	if o.PollingInterval == 0 {
		o.PollingInterval = DefaultPollingInterval
	}
	if o.MaxWaitTime == 0 {
		o.MaxWaitTime = DefaultMaxWaitTime
	}
	return o
}

// Validate enforces the minimum polling bounds.
func (o Options) Validate() error {
	if o.PollingInterval < MinPollingInterval {
		return newError(CodeInvalidOptions, nil, "polling interval must be >= %s, got %s", MinPollingInterval, o.PollingInterval)
	}
	if o.MaxWaitTime < MinMaxWaitTime {
		return newError(CodeInvalidOptions, nil, "max wait time must be >= %s, got %s", MinMaxWaitTime, o.MaxWaitTime)
	}
	return nil
}

// Features derives provider features; tables imply layout.
func (o Options) Features() Features {
	return Features{
		Layout: o.AnalyzeLayout || o.AnalyzeLayoutTables,
		Tables: o.AnalyzeLayoutTables,
	}
}

func (o Options) String() string {
	return fmt.Sprintf("bucket=%s interval=%s maxWait=%s keepInput=%t keepOutput=%t combine=%t",
		o.Bucket, o.PollingInterval, o.MaxWaitTime, o.KeepStagedFile, o.KeepOutputFiles, o.Combine)
}
