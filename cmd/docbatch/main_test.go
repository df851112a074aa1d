package main

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/Lllllllleong/docbatch/internal/models"
)

func TestRun_Usage(t *testing.T) {
	tests := map[string][]string{
		"no command":        nil,
		"unknown command":   {"ocr"},
		"recognize no file": {"recognize"},
		"bad flag":          {"recognize", "--nope", "a.pdf"},
		"bad provider":      {"recognize", "--provider", "azure", "a.pdf"},
		"combine no parts":  {"combine"},
	}
	for name, args := range tests {
		t.Run(name, func(t *testing.T) {
			var stdout, stderr bytes.Buffer
			if code := run(context.Background(), args, &stdout, &stderr); code != exitUsage {
				t.Fatalf("exit = %d, want %d (stderr %q)", code, exitUsage, stderr.String())
			}
		})
	}
}

func TestRun_Combine(t *testing.T) {
	dir := t.TempDir()
	a := filepath.Join(dir, "a.json")
	b := filepath.Join(dir, "b.json")
	os.WriteFile(a, []byte(`{"document":{"text":"x","pages":[{"pageNumber":1}]}}`), 0o600)
	os.WriteFile(b, []byte(`{"document":{"pages":[{"pageNumber":2}]}}`), 0o600)

	var stdout, stderr bytes.Buffer
	if code := run(context.Background(), []string{"combine", a, b}, &stdout, &stderr); code != exitOK {
		t.Fatalf("exit = %d, stderr %q", code, stderr.String())
	}
	var env struct {
		Success bool `json:"success"`
		Data    struct {
			Document struct {
				Pages []any `json:"pages"`
			} `json:"document"`
		} `json:"data"`
	}
	if err := json.Unmarshal(stdout.Bytes(), &env); err != nil {
		t.Fatal(err)
	}
	if !env.Success || len(env.Data.Document.Pages) != 2 {
		t.Fatalf("envelope = %s", stdout.String())
	}
}

func TestRun_CombineFailureEnvelope(t *testing.T) {
	out := filepath.Join(t.TempDir(), "env.json")
	var stdout, stderr bytes.Buffer
	code := run(context.Background(), []string{"combine", "--out", out, filepath.Join(t.TempDir(), "absent.json")}, &stdout, &stderr)
	if code != exitFailed {
		t.Fatalf("exit = %d, want %d", code, exitFailed)
	}
	raw, err := os.ReadFile(out)
	if err != nil {
		t.Fatal(err)
	}
	var env models.ResultEnvelope
	if err := json.Unmarshal(raw, &env); err != nil {
		t.Fatal(err)
	}
	if env.Success || env.ErrorCode != "ReadError" {
		t.Fatalf("envelope = %+v", env)
	}
}

func TestRun_OrphansOnEmptyLedger(t *testing.T) {
	var stdout, stderr bytes.Buffer
	args := []string{"orphans", "--ledger", filepath.Join(t.TempDir(), "ledger.db")}
	if code := run(context.Background(), args, &stdout, &stderr); code != exitOK {
		t.Fatalf("exit = %d, stderr %q", code, stderr.String())
	}
	var env models.ResultEnvelope
	if err := json.Unmarshal(stdout.Bytes(), &env); err != nil || !env.Success {
		t.Fatalf("envelope = %s (%v)", stdout.String(), err)
	}
}
