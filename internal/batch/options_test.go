package batch_test

import (
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/Lllllllleong/docbatch/internal/batch"
)

func TestOptions_DefaultsAndBounds(t *testing.T) {
	o := batch.Options{}.WithDefaults()
	if o.PollingInterval != batch.DefaultPollingInterval || o.MaxWaitTime != batch.DefaultMaxWaitTime {
		t.Fatalf("defaults = %s / %s", o.PollingInterval, o.MaxWaitTime)
	}
	if err := o.Validate(); err != nil {
		t.Fatalf("defaults rejected: %v", err)
	}

	edge := batch.Options{PollingInterval: time.Second, MaxWaitTime: 10 * time.Second}
	if err := edge.Validate(); err != nil {
		t.Fatalf("minimum values rejected: %v", err)
	}
	edge.PollingInterval = 999 * time.Millisecond
	if err := edge.Validate(); !errors.Is(err, batch.ErrInvalidOptions) {
		t.Fatalf("expected InvalidOptions, got %v", err)
	}
}

func TestOptions_TablesImplyLayout(t *testing.T) {
	if f := (batch.Options{AnalyzeLayoutTables: true}).Features(); !f.Layout || !f.Tables {
		t.Fatalf("features = %+v", f)
	}
	if f := (batch.Options{AnalyzeLayout: true}).Features(); !f.Layout || f.Tables {
		t.Fatalf("features = %+v", f)
	}
}

func TestCodeOf(t *testing.T) {
	wrapped := fmt.Errorf("outer: %w", batch.NewError(batch.CodeTimeout, "waited %s", time.Minute))
	if got := batch.CodeOf(wrapped); got != batch.CodeTimeout {
		t.Fatalf("CodeOf(wrapped) = %s", got)
	}
	if got := batch.CodeOf(errors.New("socket closed")); got != batch.CodeProviderError {
		t.Fatalf("CodeOf(foreign) = %s", got)
	}
	cause := errors.New("403")
	err := batch.ProviderErr(cause, "failed to stage %s", "x")
	if !errors.Is(err, cause) || !errors.Is(err, batch.ErrProviderError) || errors.Is(err, batch.ErrTimeout) {
		t.Fatalf("unexpected error chain for %v", err)
	}
	if err.Error() != "failed to stage x: 403" {
		t.Fatalf("message = %q", err.Error())
	}
}

func TestOptions_String(t *testing.T) {
	o := batch.Options{Bucket: "staging", KeepStagedFile: true, Combine: true}.WithDefaults()
	want := "bucket=staging interval=5s maxWait=5m0s keepInput=true keepOutput=false combine=true"
	if got := o.String(); got != want {
		t.Fatalf("String() = %q, want %q", got, want)
	}
}
