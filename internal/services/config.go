package services

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/Lllllllleong/docbatch/internal/amazon"
	"github.com/Lllllllleong/docbatch/internal/batch"
	"github.com/Lllllllleong/docbatch/internal/gcp"
	"gopkg.in/yaml.v3"
)

// ProviderConfig names the remote service and how to reach it. It is shared
// by the cloud functions (filled from env) and the CLI (filled from YAML).
type ProviderConfig struct {
	Name             string `yaml:"provider"`
	ProjectID        string `yaml:"project_id"`
	Location         string `yaml:"location"`
	ProcessorID      string `yaml:"processor_id"`
	WorkflowID       string `yaml:"workflow_id"`
	WorkflowLocation string `yaml:"workflow_location"`
	AWSRegion        string `yaml:"aws_region"`
}

// Values returns the provider-config map handed to invokers.
func (p ProviderConfig) Values() map[string]string {
	v := gcp.DocumentAIConfig{ProjectID: p.ProjectID, Location: p.Location, ProcessorID: p.ProcessorID}.Values()
	v[gcp.KeyWorkflowID] = p.WorkflowID
	v[gcp.KeyWorkflowLocation] = p.WorkflowLocation
	return v
}

func (p ProviderConfig) validate() error {
	switch p.Name {
	case gcp.DocumentAIName, gcp.WorkflowName, amazon.TextractName:
		return nil
	}
	return fmt.Errorf("unsupported provider %q (use %s, %s or %s)", p.Name, gcp.DocumentAIName, amazon.TextractName, gcp.WorkflowName)
}

// RecognizerConfig holds configuration for the cloud functions.
type RecognizerConfig struct {
	Provider        ProviderConfig
	StagingBucket   string
	ResultsBucket   string
	CollectionName  string
	PollingInterval time.Duration
	MaxWaitTime     time.Duration
}

// LoadRecognizerConfig reads the function configuration from the environment.
func LoadRecognizerConfig() (RecognizerConfig, error) {
	projectID := gcp.GetEnv("PROJECT_ID", "")
	if projectID == "" {
		return RecognizerConfig{}, fmt.Errorf("PROJECT_ID environment variable must be set")
	}
	config := RecognizerConfig{
		Provider: ProviderConfig{
			Name:             gcp.GetEnv("PROVIDER", gcp.DocumentAIName),
			ProjectID:        projectID,
			Location:         gcp.GetEnv("DOCUMENT_AI_LOCATION", "us"),
			ProcessorID:      gcp.GetEnv("DOCUMENT_AI_PROCESSOR_ID", ""),
			WorkflowID:       gcp.GetEnv("WORKFLOW_ID", "document-batch-processor"),
			WorkflowLocation: gcp.GetEnv("WORKFLOW_LOCATION", "us-central1"),
			AWSRegion:        gcp.GetEnv("AWS_REGION", ""),
		},
		StagingBucket:  gcp.GetEnv("STAGING_BUCKET", ""),
		ResultsBucket:  gcp.GetEnv("RESULTS_BUCKET", ""),
		CollectionName: gcp.GetEnv("FIRESTORE_COLLECTION", "batch_runs"),
	}
	if config.StagingBucket == "" {
		return RecognizerConfig{}, fmt.Errorf("STAGING_BUCKET environment variable must be set")
	}
	var err error
	if config.PollingInterval, err = envMillis("POLLING_INTERVAL_MS", batch.DefaultPollingInterval); err != nil {
		return RecognizerConfig{}, err
	}
	if config.MaxWaitTime, err = envMillis("MAX_WAIT_TIME_MS", batch.DefaultMaxWaitTime); err != nil {
		return RecognizerConfig{}, err
	}
	if err := config.Provider.validate(); err != nil {
		return RecognizerConfig{}, err
	}
	return config, nil
}

func envMillis(key string, fallback time.Duration) (time.Duration, error) {
	raw := gcp.GetEnv(key, "")
	if raw == "" {
		return fallback, nil
	}
	ms, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fmt.Errorf("%s must be an integer number of milliseconds: %w", key, err)
	}
	return time.Duration(ms) * time.Millisecond, nil
}

// FileConfig is the CLI profile.
type FileConfig struct {
	ProviderConfig    `yaml:",inline"`
	Bucket            string `yaml:"bucket"`
	PollingIntervalMs int    `yaml:"polling_interval_ms"`
	MaxWaitTimeMs     int    `yaml:"max_wait_time_ms"`
	KeepStagedFile    bool   `yaml:"keep_staged_file"`
	KeepOutputFiles   bool   `yaml:"keep_output_files"`
	CancelOnTimeout   bool   `yaml:"cancel_on_timeout"`
	Ledger            string `yaml:"ledger"`
}

// DefaultFileConfig returns sane defaults.
func DefaultFileConfig() *FileConfig {
	return &FileConfig{
		ProviderConfig: ProviderConfig{
			Name:             gcp.DocumentAIName,
			Location:         "us",
			WorkflowLocation: "us-central1",
		},
		PollingIntervalMs: int(batch.DefaultPollingInterval / time.Millisecond),
		MaxWaitTimeMs:     int(batch.DefaultMaxWaitTime / time.Millisecond),
		CancelOnTimeout:   true,
		Ledger:            DefaultLedgerPath(),
	}
}

// DefaultLedgerPath is ~/.docbatch/ledger.db, or a relative path when the
// home directory is unknown.
func DefaultLedgerPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(".docbatch", "ledger.db")
	}
	return filepath.Join(home, ".docbatch", "ledger.db")
}

// LoadFileConfig reads and parses a YAML profile. Returns DefaultFileConfig merged with the file.
func LoadFileConfig(path string) (*FileConfig, error) {
	cfg := DefaultFileConfig()
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}
	if strings.HasPrefix(cfg.Ledger, "~/") {
		if home, err := os.UserHomeDir(); err == nil {
			cfg.Ledger = filepath.Join(home, cfg.Ledger[2:])
		}
	}
	return cfg, cfg.Validate()
}

// Validate checks the provider name and the polling bounds.
func (c *FileConfig) Validate() error {
	if err := c.ProviderConfig.validate(); err != nil {
		return err
	}
	return c.Options().Validate()
}

// Options converts the profile into batch options.
func (c *FileConfig) Options() batch.Options {
	return batch.Options{
		Bucket:          c.Bucket,
		KeepStagedFile:  c.KeepStagedFile,
		KeepOutputFiles: c.KeepOutputFiles,
		PollingInterval: time.Duration(c.PollingIntervalMs) * time.Millisecond,
		MaxWaitTime:     time.Duration(c.MaxWaitTimeMs) * time.Millisecond,
		CancelOnTimeout: c.CancelOnTimeout,
		ProviderConfig:  c.ProviderConfig.Values(),
	}
}
