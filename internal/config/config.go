// Package config loads eraflow configuration from file, environment and
// defaults, with optional hot reload on file change.
package config

import (
	"errors"
	"fmt"
	"os"
	"regexp"
	"sync"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v2"
)

// Manager handles loading and hot-reloading configuration.
type Manager struct {
	mu        sync.RWMutex
	config    *Config
	callbacks []func(*Config)
}

// NewManager creates a new config manager and loads initial config.
func NewManager(cfgFile string) (*Manager, error) {
	cm := &Manager{
		callbacks: make([]func(*Config), 0),
	}

	if err := cm.initViper(cfgFile); err != nil {
		return nil, err
	}

	cfg, err := cm.load()
	if err != nil {
		return nil, err
	}
	cm.config = cfg

	return cm, nil
}

// initViper sets up viper with defaults and config file.
func (cm *Manager) initViper(cfgFile string) error {
	// Defaults are registered per leaf key. A section-level default would be
	// shadowed wholesale as soon as the file sets any key in that section,
	// collapsing its unset siblings to zero.
	defaults := DefaultConfig()
	viper.SetDefault("server.host", defaults.Server.Host)
	viper.SetDefault("server.port", defaults.Server.Port)
	viper.SetDefault("database.path", defaults.Database.Path)
	viper.SetDefault("storage.stores", defaults.Storage.Stores)
	viper.SetDefault("storage.page_store", defaults.Storage.PageStore)
	viper.SetDefault("storage.page_bucket", defaults.Storage.PageBucket)
	viper.SetDefault("storage.inbox_bucket", defaults.Storage.InboxBucket)
	viper.SetDefault("extraction.model", defaults.Extraction.Model)
	viper.SetDefault("extraction.api_key", defaults.Extraction.APIKey)
	viper.SetDefault("extraction.base_url", defaults.Extraction.BaseURL)
	viper.SetDefault("extraction.rate_limit", defaults.Extraction.RateLimit)
	viper.SetDefault("extraction.max_retries", defaults.Extraction.MaxRetries)
	viper.SetDefault("extraction.timeout_seconds", defaults.Extraction.TimeoutSeconds)
	viper.SetDefault("pipeline.max_pages", defaults.Pipeline.MaxPages)
	viper.SetDefault("pipeline.max_attempts", defaults.Pipeline.MaxAttempts)
	viper.SetDefault("pipeline.workers", defaults.Pipeline.Workers)
	viper.SetDefault("pipeline.queue_size", defaults.Pipeline.QueueSize)
	viper.SetDefault("pipeline.batch_size", defaults.Pipeline.BatchSize)
	viper.SetDefault("pipeline.batch_delay_ms", defaults.Pipeline.BatchDelayMS)
	viper.SetDefault("pipeline.confirm_timeout_ms", defaults.Pipeline.ConfirmTimeoutMS)
	viper.SetDefault("pipeline.upload_concurrency", defaults.Pipeline.UploadConcurrency)
	viper.SetDefault("sweep.interval_seconds", defaults.Sweep.IntervalSeconds)
	viper.SetDefault("sweep.stale_after_seconds", defaults.Sweep.StaleAfterSeconds)
	viper.SetDefault("sweep.cooldown_seconds", defaults.Sweep.CooldownSeconds)
	viper.SetDefault("sweep.batch_size", defaults.Sweep.BatchSize)

	// Environment variables with ERAFLOW_ prefix
	viper.SetEnvPrefix("ERAFLOW")
	viper.AutomaticEnv()

	// Config file
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		viper.SetConfigName("config")
		viper.SetConfigType("yaml")
		viper.AddConfigPath(".")
		viper.AddConfigPath("$HOME/.eraflow")
	}

	// Try to read config file (not required)
	if err := viper.ReadInConfig(); err != nil {
		var configFileNotFoundError viper.ConfigFileNotFoundError
		if !errors.As(err, &configFileNotFoundError) {
			return fmt.Errorf("error reading config file: %w", err)
		}
	}

	return nil
}

// load parses the current viper state into a Config struct.
func (cm *Manager) load() (*Config, error) {
	var cfg Config
	if err := viper.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	return &cfg, nil
}

// Get returns the current configuration (thread-safe).
func (cm *Manager) Get() *Config {
	cm.mu.RLock()
	defer cm.mu.RUnlock()
	return cm.config
}

// OnChange registers a callback for config changes.
func (cm *Manager) OnChange(fn func(*Config)) {
	cm.mu.Lock()
	defer cm.mu.Unlock()
	cm.callbacks = append(cm.callbacks, fn)
}

// WatchConfig enables hot-reloading of configuration.
func (cm *Manager) WatchConfig() {
	viper.OnConfigChange(func(e fsnotify.Event) {
		cfg, err := cm.load()
		if err != nil {
			return
		}

		cm.mu.Lock()
		cm.config = cfg
		callbacks := make([]func(*Config), len(cm.callbacks))
		copy(callbacks, cm.callbacks)
		cm.mu.Unlock()

		for _, fn := range callbacks {
			fn(cfg)
		}
	})
	viper.WatchConfig()
}

// ResolveEnvVars expands ${ENV_VAR} references in a string.
func ResolveEnvVars(value string) string {
	if value == "" {
		return value
	}
	pattern := regexp.MustCompile(`\$\{([^}]+)\}`)
	return pattern.ReplaceAllStringFunc(value, func(match string) string {
		varName := match[2 : len(match)-1]
		return os.Getenv(varName)
	})
}

// WriteDefault writes the default configuration to the specified path.
func WriteDefault(path string) error {
	cfg := DefaultConfig()
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	header := []byte(`# eraflow configuration
# API keys use ${ENV_VAR} syntax to reference environment variables
# Set these in your shell: export OPENAI_API_KEY=xxx

`)
	return os.WriteFile(path, append(header, data...), 0o644)
}
