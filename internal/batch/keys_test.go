package batch_test

import (
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/Lllllllleong/docbatch/internal/batch"
)

func TestKeys_UniqueUnderConcurrency(t *testing.T) {
	fixed := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	g := batch.KeyGenerator{Base: "documentai", Now: func() time.Time { return fixed }}

	const n = 1000
	keys := make([]batch.StagingKeys, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			keys[i] = g.Keys(".pdf", "")
		}()
	}
	wg.Wait()

	inputs := make(map[string]struct{}, n)
	outputs := make(map[string]struct{}, n)
	for _, k := range keys {
		if _, dup := inputs[k.Input]; dup {
			t.Fatalf("duplicate input key %q", k.Input)
		}
		if _, dup := outputs[k.OutputPrefix]; dup {
			t.Fatalf("duplicate output prefix %q", k.OutputPrefix)
		}
		inputs[k.Input] = struct{}{}
		outputs[k.OutputPrefix] = struct{}{}
	}
}

func TestKeys_Layout(t *testing.T) {
	g := batch.KeyGenerator{Base: "textract", Now: func() time.Time { return time.UnixMilli(1700000000000) }}
	k := g.Keys(".tiff", "")
	if !strings.HasPrefix(k.Input, "textract-temp/1700000000000-") || !strings.HasSuffix(k.Input, ".tiff") {
		t.Fatalf("input key = %q", k.Input)
	}
	if !strings.HasPrefix(k.OutputPrefix, "textract-output/1700000000000-") || !strings.HasSuffix(k.OutputPrefix, "/") {
		t.Fatalf("output prefix = %q", k.OutputPrefix)
	}
	inSuffix := strings.TrimSuffix(strings.TrimPrefix(k.Input, "textract-temp/"), ".tiff")
	outSuffix := strings.TrimSuffix(strings.TrimPrefix(k.OutputPrefix, "textract-output/"), "/")
	if inSuffix != outSuffix {
		t.Fatalf("input and output do not share a suffix: %q vs %q", inSuffix, outSuffix)
	}
}

func TestKeys_ExplicitInputKey(t *testing.T) {
	k := batch.KeyGenerator{}.Keys(".pdf", "uploads/mine.pdf")
	if k.Input != "uploads/mine.pdf" {
		t.Fatalf("explicit key ignored: %q", k.Input)
	}
	if !strings.HasPrefix(k.OutputPrefix, "batch-output/") {
		t.Fatalf("output prefix = %q", k.OutputPrefix)
	}
}
