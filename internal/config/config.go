// Package config loads and validates logsift configuration via Viper.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config captures all service configuration knobs loaded via Viper.
type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Auth      AuthConfig      `mapstructure:"auth"`
	Pipeline  PipelineConfig  `mapstructure:"pipeline"`
	Cluster   ClusterConfig   `mapstructure:"cluster"`
	Store     StoreConfig     `mapstructure:"store"`
	Artifacts ArtifactsConfig `mapstructure:"artifacts"`
	PubSub    PubSubConfig    `mapstructure:"pubsub"`
	Progress  ProgressConfig  `mapstructure:"progress"`
	Logging   LoggingConfig   `mapstructure:"logging"`
}

// ServerConfig controls HTTP server behavior.
type ServerConfig struct {
	Port int `mapstructure:"port"`
}

// AuthConfig defines API authentication toggles.
type AuthConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	APIKey  string `mapstructure:"api_key"`
}

// PipelineConfig governs the parse stage.
type PipelineConfig struct {
	Workers         int     `mapstructure:"workers"`
	ChunkSize       int     `mapstructure:"chunk_size"`
	MaxFailureRatio float64 `mapstructure:"max_failure_ratio"`
}

// ClusterConfig governs the k-means stage.
type ClusterConfig struct {
	Seed          int64 `mapstructure:"seed"`
	Ks            []int `mapstructure:"ks"`
	MaxIterations int   `mapstructure:"max_iterations"`
	Restarts      int   `mapstructure:"restarts"`
}

// StoreConfig selects and configures run persistence.
type StoreConfig struct {
	Backend         string        `mapstructure:"backend"`
	Path            string        `mapstructure:"path"`
	DSN             string        `mapstructure:"dsn"`
	MaxConns        int32         `mapstructure:"max_conns"`
	MinConns        int32         `mapstructure:"min_conns"`
	MaxConnLifetime time.Duration `mapstructure:"max_conn_lifetime"`
}

// ArtifactsConfig sets where exported run artifacts land.
type ArtifactsConfig struct {
	Backend string `mapstructure:"backend"`
	Dir     string `mapstructure:"dir"`
	Bucket  string `mapstructure:"bucket"`
	Prefix  string `mapstructure:"prefix"`
}

// PubSubConfig holds metadata for run-completion notifications.
type PubSubConfig struct {
	ProjectID string `mapstructure:"project_id"`
	TopicName string `mapstructure:"topic_name"`
}

// ProgressConfig tunes the progress event hub.
type ProgressConfig struct {
	Enabled       bool                `mapstructure:"enabled"`
	LogEnabled    bool                `mapstructure:"log_enabled"`
	BufferSize    int                 `mapstructure:"buffer_size"`
	SinkTimeoutMs int                 `mapstructure:"sink_timeout_ms"`
	Batch         ProgressBatchConfig `mapstructure:"batch"`
}

// ProgressBatchConfig bounds how events are grouped before sink delivery.
type ProgressBatchConfig struct {
	MaxEvents int `mapstructure:"max_events"`
	MaxWaitMs int `mapstructure:"max_wait_ms"`
}

// LoggingConfig toggles zap development features.
type LoggingConfig struct {
	Development bool `mapstructure:"development"`
}

// Load builds a Config from disk/environment.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("LOGSIFT")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8080)
	v.SetDefault("pipeline.workers", 4)
	v.SetDefault("pipeline.chunk_size", 2048)
	v.SetDefault("pipeline.max_failure_ratio", 1.0)
	v.SetDefault("cluster.seed", 42)
	v.SetDefault("cluster.ks", []int{3, 6})
	v.SetDefault("cluster.max_iterations", 100)
	v.SetDefault("cluster.restarts", 10)
	v.SetDefault("store.backend", "memory")
	v.SetDefault("store.max_conns", 4)
	v.SetDefault("store.min_conns", 0)
	v.SetDefault("store.max_conn_lifetime", time.Hour)
	v.SetDefault("artifacts.backend", "local")
	v.SetDefault("artifacts.dir", "./out")
	v.SetDefault("artifacts.prefix", "runs")
	v.SetDefault("progress.enabled", true)
	v.SetDefault("progress.log_enabled", true)
	v.SetDefault("progress.buffer_size", 256)
	v.SetDefault("progress.sink_timeout_ms", 2000)
	v.SetDefault("progress.batch.max_events", 32)
	v.SetDefault("progress.batch.max_wait_ms", 200)
	v.SetDefault("logging.development", true)
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	if c.Server.Port <= 0 {
		return fmt.Errorf("server.port must be > 0")
	}
	if c.Auth.Enabled && c.Auth.APIKey == "" {
		return fmt.Errorf("auth.api_key must be set when auth is enabled")
	}
	if c.Pipeline.Workers <= 0 {
		return fmt.Errorf("pipeline.workers must be > 0")
	}
	if c.Pipeline.ChunkSize <= 0 {
		return fmt.Errorf("pipeline.chunk_size must be > 0")
	}
	if c.Pipeline.MaxFailureRatio < 0 || c.Pipeline.MaxFailureRatio > 1 {
		return fmt.Errorf("pipeline.max_failure_ratio must be within [0, 1]")
	}
	if len(c.Cluster.Ks) == 0 {
		return fmt.Errorf("cluster.ks must not be empty")
	}
	for _, k := range c.Cluster.Ks {
		if k != 3 && k != 6 {
			return fmt.Errorf("cluster.ks entries must be 3 or 6, got %d", k)
		}
	}
	if c.Cluster.MaxIterations <= 0 {
		return fmt.Errorf("cluster.max_iterations must be > 0")
	}
	if c.Cluster.Restarts <= 0 {
		return fmt.Errorf("cluster.restarts must be > 0")
	}
	switch c.Store.Backend {
	case "memory":
	case "sqlite":
		if c.Store.Path == "" {
			return fmt.Errorf("store.path must be set when store.backend is sqlite")
		}
	case "postgres":
		if c.Store.DSN == "" {
			return fmt.Errorf("store.dsn must be set when store.backend is postgres")
		}
	default:
		return fmt.Errorf("store.backend must be one of memory, sqlite, postgres")
	}
	switch c.Artifacts.Backend {
	case "memory", "local":
	case "gcs":
		if c.Artifacts.Bucket == "" {
			return fmt.Errorf("artifacts.bucket must be set when artifacts.backend is gcs")
		}
	default:
		return fmt.Errorf("artifacts.backend must be one of memory, local, gcs")
	}
	return nil
}

// SinkTimeout converts the progress sink timeout to a duration.
func (c ProgressConfig) SinkTimeout() time.Duration {
	return time.Duration(c.SinkTimeoutMs) * time.Millisecond
}

// MaxBatchWait converts the batch wait bound to a duration.
func (c ProgressBatchConfig) MaxBatchWait() time.Duration {
	return time.Duration(c.MaxWaitMs) * time.Millisecond
}
