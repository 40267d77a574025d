package config

import (
	"time"

	"github.com/evanhollis/eraflow/internal/era"
)

// Config holds eraflow configuration.
// Stored at: config.yaml (or the path given with --config).
type Config struct {
	Server     ServerCfg     `mapstructure:"server" yaml:"server"`
	Database   DatabaseCfg   `mapstructure:"database" yaml:"database"`
	Storage    StorageCfg    `mapstructure:"storage" yaml:"storage"`
	Extraction ExtractionCfg `mapstructure:"extraction" yaml:"extraction"`
	Pipeline   PipelineCfg   `mapstructure:"pipeline" yaml:"pipeline"`
	Sweep      SweepCfg      `mapstructure:"sweep" yaml:"sweep"`
	Billing    BillingCfg    `mapstructure:"billing" yaml:"billing"`
}

// ServerCfg configures the HTTP API.
type ServerCfg struct {
	Host string `mapstructure:"host" yaml:"host"`
	Port int    `mapstructure:"port" yaml:"port"`
}

// DatabaseCfg configures the sqlite analytical store.
type DatabaseCfg struct {
	Path string `mapstructure:"path" yaml:"path"`
}

// ObjectStoreCfg configures one named object store.
type ObjectStoreCfg struct {
	Type string `mapstructure:"type" yaml:"type"` // "fs" or "gcs"
	// Root is the base directory for fs stores.
	Root string `mapstructure:"root" yaml:"root"`
}

// StorageCfg names the object stores and which one holds split pages.
type StorageCfg struct {
	Stores      map[string]ObjectStoreCfg `mapstructure:"stores" yaml:"stores"`
	PageStore   string                    `mapstructure:"page_store" yaml:"page_store"`
	PageBucket  string                    `mapstructure:"page_bucket" yaml:"page_bucket"`
	InboxBucket string                    `mapstructure:"inbox_bucket" yaml:"inbox_bucket"`
}

// ExtractionCfg configures the external extraction service client.
type ExtractionCfg struct {
	Model          string `mapstructure:"model" yaml:"model"`
	APIKey         string `mapstructure:"api_key" yaml:"api_key"` // supports ${ENV_VAR} syntax
	BaseURL        string `mapstructure:"base_url" yaml:"base_url"`
	RateLimit      int    `mapstructure:"rate_limit" yaml:"rate_limit"` // requests per minute
	MaxRetries     int    `mapstructure:"max_retries" yaml:"max_retries"`
	TimeoutSeconds int    `mapstructure:"timeout_seconds" yaml:"timeout_seconds"`
}

// PipelineCfg tunes fan-out and the worker pool.
type PipelineCfg struct {
	MaxPages          int `mapstructure:"max_pages" yaml:"max_pages"`
	MaxAttempts       int `mapstructure:"max_attempts" yaml:"max_attempts"`
	Workers           int `mapstructure:"workers" yaml:"workers"`
	QueueSize         int `mapstructure:"queue_size" yaml:"queue_size"`
	BatchSize         int `mapstructure:"batch_size" yaml:"batch_size"`
	BatchDelayMS      int `mapstructure:"batch_delay_ms" yaml:"batch_delay_ms"`
	ConfirmTimeoutMS  int `mapstructure:"confirm_timeout_ms" yaml:"confirm_timeout_ms"`
	UploadConcurrency int `mapstructure:"upload_concurrency" yaml:"upload_concurrency"`
}

// BatchDelay returns the inter-batch dispatch delay.
func (p PipelineCfg) BatchDelay() time.Duration {
	return time.Duration(p.BatchDelayMS) * time.Millisecond
}

// ConfirmTimeout returns the dispatch confirmation window.
func (p PipelineCfg) ConfirmTimeout() time.Duration {
	return time.Duration(p.ConfirmTimeoutMS) * time.Millisecond
}

// SweepCfg tunes the recovery sweeper.
type SweepCfg struct {
	IntervalSeconds   int `mapstructure:"interval_seconds" yaml:"interval_seconds"`
	StaleAfterSeconds int `mapstructure:"stale_after_seconds" yaml:"stale_after_seconds"`
	CooldownSeconds   int `mapstructure:"cooldown_seconds" yaml:"cooldown_seconds"`
	BatchSize         int `mapstructure:"batch_size" yaml:"batch_size"`
}

// BillingCfg is the tenant billing profile stamped into remittance files.
type BillingCfg struct {
	Name       string `mapstructure:"name" yaml:"name"`
	TaxID      string `mapstructure:"tax_id" yaml:"tax_id"`
	ProviderID string `mapstructure:"provider_id" yaml:"provider_id"`
	Address1   string `mapstructure:"address1" yaml:"address1"`
	Address2   string `mapstructure:"address2" yaml:"address2"`
	City       string `mapstructure:"city" yaml:"city"`
	State      string `mapstructure:"state" yaml:"state"`
	Zip        string `mapstructure:"zip" yaml:"zip"`
}

// Profile converts the billing section to the encoder's profile type.
func (b BillingCfg) Profile() era.Profile {
	return era.Profile{
		Name:       b.Name,
		TaxID:      b.TaxID,
		ProviderID: b.ProviderID,
		Address1:   b.Address1,
		Address2:   b.Address2,
		City:       b.City,
		State:      b.State,
		Zip:        b.Zip,
	}
}

// DefaultConfig returns configuration with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		Server: ServerCfg{
			Host: "localhost",
			Port: 8080,
		},
		Database: DatabaseCfg{
			Path: "eraflow.db",
		},
		Storage: StorageCfg{
			Stores: map[string]ObjectStoreCfg{
				"local": {Type: "fs", Root: "data"},
			},
			PageStore:   "local",
			PageBucket:  "pages",
			InboxBucket: "inbox",
		},
		Extraction: ExtractionCfg{
			Model:          "gpt-4o",
			APIKey:         "${OPENAI_API_KEY}",
			RateLimit:      60,
			MaxRetries:     3,
			TimeoutSeconds: 120,
		},
		Pipeline: PipelineCfg{
			MaxPages:          200,
			MaxAttempts:       3,
			Workers:           4,
			QueueSize:         100,
			BatchSize:         10,
			BatchDelayMS:      500,
			ConfirmTimeoutMS:  5000,
			UploadConcurrency: 4,
		},
		Sweep: SweepCfg{
			IntervalSeconds:   60,
			StaleAfterSeconds: 300,
			CooldownSeconds:   30,
			BatchSize:         50,
		},
	}
}
