// Copyright (C) 2026 Kairos
// SPDX-License-Identifier: AGPL-3.0-or-later

package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-viper/mapstructure/v2"
	"github.com/spf13/viper"
)

// AppConfig holds all application configuration.
// It is instantiated by NewConfig() and passed to components that need it (dependency injection).
type AppConfig struct {
	Server    ServerConfig    `mapstructure:"server"`
	Log       LogConfig       `mapstructure:"log"`
	Vector    VectorConfig    `mapstructure:"vector"`
	Embedding EmbeddingConfig `mapstructure:"embedding"`
	KV        KVConfig        `mapstructure:"kv"`
	Engine    EngineConfig    `mapstructure:"engine"`
	Snapshot  SnapshotConfig  `mapstructure:"snapshot"`
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	Host           string   `mapstructure:"host"`
	Port           int      `mapstructure:"port"`
	MetricsPort    int      `mapstructure:"metrics_port"`
	AllowedOrigins []string `mapstructure:"allowed_origins"` // Empty = allow all (development); set for production
}

// LogConfig holds logging configuration.
type LogConfig struct {
	Level  string            `mapstructure:"level"`
	Format string            `mapstructure:"format"`
	Output []LogOutputConfig `mapstructure:"output"`
	Levels map[string]string `mapstructure:"levels"`
}

// LogOutputConfig defines where logs are written.
type LogOutputConfig struct {
	Type    string          `mapstructure:"type"` // "file", "console"
	Enabled bool            `mapstructure:"enabled"`
	Path    string          `mapstructure:"path"`
	Rotate  LogRotateConfig `mapstructure:"rotate"`
}

// LogRotateConfig defines log rotation settings.
type LogRotateConfig struct {
	MaxSizeMB  int  `mapstructure:"max_size_mb"`
	MaxBackups int  `mapstructure:"max_backups"`
	MaxAgeDays int  `mapstructure:"max_age_days"`
	Compress   bool `mapstructure:"compress"`
}

// VectorConfig holds vector store connection settings.
type VectorConfig struct {
	URL           string        `mapstructure:"url"`
	Collection    string        `mapstructure:"collection"`
	APIKey        string        `mapstructure:"api_key"`
	SearchTimeout time.Duration `mapstructure:"search_timeout"`
	HealthTimeout time.Duration `mapstructure:"health_timeout"`
	ReadyAttempts int           `mapstructure:"ready_attempts"`
	ReadyInterval time.Duration `mapstructure:"ready_interval"`
}

// EmbeddingConfig holds embedding service settings.
type EmbeddingConfig struct {
	URL     string        `mapstructure:"url"`
	Model   string        `mapstructure:"model"`
	Dim     int           `mapstructure:"dim"`
	Timeout time.Duration `mapstructure:"timeout"`
}

// KVConfig holds Redis connection settings.
type KVConfig struct {
	URL    string `mapstructure:"url"`
	Prefix string `mapstructure:"prefix"`
}

// EngineConfig holds protocol execution engine tuning.
type EngineConfig struct {
	ScoreThreshold           float64       `mapstructure:"score_threshold"`
	GroupCollapse            bool          `mapstructure:"group_collapse"`
	CommentSemanticThreshold float64       `mapstructure:"comment_semantic_threshold"`
	MaxRetries               int           `mapstructure:"max_retries"`
	DefaultSpace             string        `mapstructure:"default_space"`
	SearchCacheTTL           time.Duration `mapstructure:"search_cache_ttl"`
	ProofTTL                 time.Duration `mapstructure:"proof_ttl"`
}

// SnapshotConfig controls collection snapshotting at startup.
type SnapshotConfig struct {
	OnStart bool   `mapstructure:"on_start"`
	Dir     string `mapstructure:"dir"`
}

// NewConfig creates a new AppConfig by reading from a file, environment variables,
// and applying defaults.
func NewConfig(configPath string) (*AppConfig, error) {
	cfg := defaultConfig()

	v := viper.New()

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("./config")
		v.AddConfigPath("/etc/kairos/")
		v.AddConfigPath("$HOME/.kairos")
	}

	v.SetEnvPrefix("KAIROS")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Read the config file. It's okay if it doesn't exist.
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	if err := v.Unmarshal(&cfg, viper.DecodeHook(mapstructure.ComposeDecodeHookFunc(
		mapstructure.StringToTimeDurationHookFunc(),
		mapstructure.StringToSliceHookFunc(","),
	))); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &cfg, nil
}

// defaultConfig returns an AppConfig with default values.
// This is more type-safe than using viper.SetDefault().
func defaultConfig() AppConfig {
	return AppConfig{
		Server: ServerConfig{
			Host:        "127.0.0.1",
			Port:        8080,
			MetricsPort: 9090,
		},
		Log: LogConfig{
			Level:  "INFO",
			Format: "console",
			Output: []LogOutputConfig{
				{
					Type:    "file",
					Enabled: true,
					Path:    "./logs/kairos.log",
					Rotate: LogRotateConfig{
						MaxSizeMB:  100,
						MaxBackups: 7,
						MaxAgeDays: 30,
						Compress:   true,
					},
				},
				{
					Type:    "console",
					Enabled: true,
				},
			},
			Levels: map[string]string{
				"engine": "INFO",
				"memory": "INFO",
				"proof":  "INFO",
				"vector": "INFO",
				"kv":     "WARN",
				"api":    "INFO",
			},
		},
		Vector: VectorConfig{
			URL:           "http://localhost:6333",
			Collection:    "kairos_memories",
			SearchTimeout: 10 * time.Second,
			HealthTimeout: 2 * time.Second,
			ReadyAttempts: 30,
			ReadyInterval: time.Second,
		},
		Embedding: EmbeddingConfig{
			URL:     "http://localhost:11434",
			Model:   "nomic-embed-text",
			Dim:     768,
			Timeout: 5 * time.Second,
		},
		KV: KVConfig{
			URL:    "redis://localhost:6379/0",
			Prefix: "kb:",
		},
		Engine: EngineConfig{
			ScoreThreshold:           0.3,
			GroupCollapse:            true,
			CommentSemanticThreshold: 0.25,
			MaxRetries:               3,
			DefaultSpace:             "public",
			SearchCacheTTL:           5 * time.Minute,
			ProofTTL:                 time.Hour,
		},
		Snapshot: SnapshotConfig{
			OnStart: false,
			Dir:     "./snapshots",
		},
	}
}

// validate checks if the configuration is valid.
func (c *AppConfig) validate() error {
	validLogLevels := map[string]bool{
		"TRACE": true, "DEBUG": true, "INFO": true, "WARN": true, "ERROR": true, "FATAL": true, "PANIC": true,
	}
	if !validLogLevels[strings.ToUpper(c.Log.Level)] {
		return fmt.Errorf("invalid log level: %s", c.Log.Level)
	}

	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d", c.Server.Port)
	}

	if c.Vector.URL == "" {
		return errors.New("vector.url is required")
	}
	if c.Vector.Collection == "" {
		return errors.New("vector.collection is required")
	}
	if c.Embedding.Dim <= 0 {
		return fmt.Errorf("embedding.dim must be positive, got %d", c.Embedding.Dim)
	}
	if c.Engine.MaxRetries < 1 {
		return fmt.Errorf("engine.max_retries must be at least 1, got %d", c.Engine.MaxRetries)
	}
	if c.Engine.ScoreThreshold < 0 || c.Engine.ScoreThreshold > 1 {
		return fmt.Errorf("engine.score_threshold must be in [0,1], got %f", c.Engine.ScoreThreshold)
	}
	if c.Engine.DefaultSpace == "" {
		return errors.New("engine.default_space is required")
	}
	if c.KV.Prefix == "" {
		return errors.New("kv.prefix is required")
	}

	return nil
}
