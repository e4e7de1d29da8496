package config

import (
	"fmt"
	"time"
)

// Config represents the complete application configuration.
type Config struct {
	Group     string          `yaml:"group"`
	Storage   StorageConfig   `yaml:"storage"`
	Sync      SyncConfig      `yaml:"sync"`
	Media     MediaConfig     `yaml:"media"`
	Transport TransportConfig `yaml:"transport"`
	Log       LogConfig       `yaml:"log"`
	Telegram  TelegramConfig  `yaml:"telegram"`
	Metrics   MetricsConfig   `yaml:"metrics"`
}

// StorageConfig contains local persistence paths.
type StorageConfig struct {
	DataDir         string `yaml:"data_dir"`
	DBPath          string `yaml:"db_path"`
	MediaDir        string `yaml:"media_dir"`
	CredentialsPath string `yaml:"credentials_path"`
}

// SyncConfig controls page fetching and retry behavior.
type SyncConfig struct {
	PageSize      int           `yaml:"page_size"`
	RetryAttempts int           `yaml:"retry_attempts"`
	RetryBackoff  time.Duration `yaml:"retry_backoff"`
	PageInterval  time.Duration `yaml:"page_interval"`
}

// MediaConfig controls the media download pipeline.
type MediaConfig struct {
	Concurrency int           `yaml:"concurrency"`
	Timeout     time.Duration `yaml:"timeout"`
}

// TransportConfig controls the outbound HTTP client.
type TransportConfig struct {
	Timeout   time.Duration `yaml:"timeout"`
	UserAgent string        `yaml:"user_agent"`
	UTLS      bool          `yaml:"utls"`
}

// LogConfig contains logging configuration.
type LogConfig struct {
	Level string `yaml:"level"`
}

// TelegramConfig contains optional notification configuration.
type TelegramConfig struct {
	Enabled bool   `yaml:"enabled"`
	Token   string `yaml:"token"`
	ChatID  int64  `yaml:"chat_id"`
}

// MetricsConfig contains the Prometheus exposition configuration.
type MetricsConfig struct {
	Enabled    bool   `yaml:"enabled"`
	ListenAddr string `yaml:"listen_addr"`
}

// Validate checks the configuration for consistency.
func (c *Config) Validate() error {
	if c.Group == "" {
		return fmt.Errorf("group is required")
	}

	if err := c.Storage.Validate(); err != nil {
		return fmt.Errorf("storage: %w", err)
	}

	if err := c.Sync.Validate(); err != nil {
		return fmt.Errorf("sync: %w", err)
	}

	if err := c.Media.Validate(); err != nil {
		return fmt.Errorf("media: %w", err)
	}

	if err := c.Telegram.Validate(); err != nil {
		return fmt.Errorf("telegram: %w", err)
	}

	return nil
}

// Validate checks storage paths.
func (s *StorageConfig) Validate() error {
	if s.DataDir == "" {
		return fmt.Errorf("data_dir is required")
	}
	if s.DBPath == "" {
		return fmt.Errorf("db_path is required")
	}
	return nil
}

// Validate checks sync parameters.
func (s *SyncConfig) Validate() error {
	if s.PageSize <= 0 {
		return fmt.Errorf("page_size must be positive")
	}
	if s.PageSize > 200 {
		return fmt.Errorf("page_size cannot exceed 200 (platform limit)")
	}
	if s.RetryAttempts < 1 {
		return fmt.Errorf("retry_attempts must be at least 1")
	}
	if s.RetryBackoff < 0 {
		return fmt.Errorf("retry_backoff cannot be negative")
	}
	return nil
}

// Validate checks media pipeline parameters.
func (m *MediaConfig) Validate() error {
	if m.Concurrency < 1 {
		return fmt.Errorf("concurrency must be at least 1")
	}
	if m.Concurrency > 16 {
		return fmt.Errorf("concurrency cannot exceed 16")
	}
	return nil
}

// Validate checks telegram notification parameters.
func (t *TelegramConfig) Validate() error {
	if !t.Enabled {
		return nil
	}
	if t.Token == "" {
		return fmt.Errorf("token is required when enabled")
	}
	if t.ChatID == 0 {
		return fmt.Errorf("chat_id is required when enabled")
	}
	return nil
}
