package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	t.Parallel()

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Server.Port != 8080 {
		t.Fatalf("expected default port 8080, got %d", cfg.Server.Port)
	}
	if cfg.Pipeline.Workers != 4 || cfg.Pipeline.ChunkSize != 2048 {
		t.Fatalf("expected pipeline defaults, got %+v", cfg.Pipeline)
	}
	if cfg.Pipeline.MaxFailureRatio != 1.0 {
		t.Fatalf("expected max_failure_ratio 1.0, got %v", cfg.Pipeline.MaxFailureRatio)
	}
	if cfg.Cluster.Seed != 42 {
		t.Fatalf("expected seed 42, got %d", cfg.Cluster.Seed)
	}
	if len(cfg.Cluster.Ks) != 2 || cfg.Cluster.Ks[0] != 3 || cfg.Cluster.Ks[1] != 6 {
		t.Fatalf("expected ks [3 6], got %v", cfg.Cluster.Ks)
	}
	if cfg.Store.Backend != "memory" {
		t.Fatalf("expected memory store backend, got %q", cfg.Store.Backend)
	}
	if cfg.Artifacts.Backend != "local" || cfg.Artifacts.Dir != "./out" {
		t.Fatalf("expected local artifact defaults, got %+v", cfg.Artifacts)
	}
	if !cfg.Progress.Enabled || !cfg.Progress.LogEnabled {
		t.Fatalf("expected progress enabled by default, got %+v", cfg.Progress)
	}
	if !cfg.Logging.Development {
		t.Fatal("expected development logging by default")
	}
}

func TestLoadWithFileOverrides(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	configYAML := `
server:
  port: 9090
auth:
  enabled: true
  api_key: secret
pipeline:
  workers: 8
  chunk_size: 512
  max_failure_ratio: 0.25
cluster:
  seed: 7
  ks: [6]
  max_iterations: 50
  restarts: 3
store:
  backend: sqlite
  path: runs.db
artifacts:
  backend: gcs
  bucket: logsift-artifacts
  prefix: exports
pubsub:
  project_id: proj
  topic_name: runs-done
progress:
  enabled: true
  log_enabled: false
  buffer_size: 64
  sink_timeout_ms: 500
  batch:
    max_events: 16
    max_wait_ms: 100
logging:
  development: false
`
	if err := os.WriteFile(path, []byte(configYAML), 0o600); err != nil {
		t.Fatalf("failed to write config: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Server.Port != 9090 {
		t.Fatalf("expected port 9090, got %d", cfg.Server.Port)
	}
	if !cfg.Auth.Enabled || cfg.Auth.APIKey != "secret" {
		t.Fatalf("expected auth enabled with secret key")
	}
	if cfg.Pipeline.Workers != 8 || cfg.Pipeline.ChunkSize != 512 || cfg.Pipeline.MaxFailureRatio != 0.25 {
		t.Fatalf("expected pipeline overrides to apply, got %+v", cfg.Pipeline)
	}
	if cfg.Cluster.Seed != 7 || len(cfg.Cluster.Ks) != 1 || cfg.Cluster.Ks[0] != 6 {
		t.Fatalf("expected cluster overrides to apply, got %+v", cfg.Cluster)
	}
	if cfg.Store.Backend != "sqlite" || cfg.Store.Path != "runs.db" {
		t.Fatalf("expected sqlite store config, got %+v", cfg.Store)
	}
	if cfg.Artifacts.Backend != "gcs" || cfg.Artifacts.Bucket != "logsift-artifacts" {
		t.Fatalf("expected gcs artifact config, got %+v", cfg.Artifacts)
	}
	if cfg.PubSub.ProjectID != "proj" || cfg.PubSub.TopicName != "runs-done" {
		t.Fatalf("expected pubsub config, got %+v", cfg.PubSub)
	}
	if cfg.Progress.LogEnabled {
		t.Fatal("expected progress log sink disabled")
	}
	if got := cfg.Progress.SinkTimeout(); got != 500*time.Millisecond {
		t.Fatalf("expected sink timeout 500ms, got %v", got)
	}
	if got := cfg.Progress.Batch.MaxBatchWait(); got != 100*time.Millisecond {
		t.Fatalf("expected batch wait 100ms, got %v", got)
	}
	if cfg.Logging.Development {
		t.Fatal("expected production logging")
	}
}

func TestLoadEnvOverride(t *testing.T) {
	t.Setenv("LOGSIFT_SERVER_PORT", "7070")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Server.Port != 7070 {
		t.Fatalf("expected env override port 7070, got %d", cfg.Server.Port)
	}
}

func TestConfigValidateErrors(t *testing.T) {
	t.Parallel()

	base := Config{
		Server:    ServerConfig{Port: 8080},
		Pipeline:  PipelineConfig{Workers: 4, ChunkSize: 1024, MaxFailureRatio: 1},
		Cluster:   ClusterConfig{Seed: 42, Ks: []int{3, 6}, MaxIterations: 100, Restarts: 10},
		Store:     StoreConfig{Backend: "memory"},
		Artifacts: ArtifactsConfig{Backend: "local", Dir: "./out"},
	}

	tests := []struct {
		name string
		cfg  Config
		want string
	}{
		{
			name: "invalid port",
			cfg: func() Config {
				c := base
				c.Server.Port = 0
				return c
			}(),
			want: "server.port",
		},
		{
			name: "auth missing api key",
			cfg: func() Config {
				c := base
				c.Auth.Enabled = true
				return c
			}(),
			want: "auth.api_key",
		},
		{
			name: "invalid workers",
			cfg: func() Config {
				c := base
				c.Pipeline.Workers = 0
				return c
			}(),
			want: "pipeline.workers",
		},
		{
			name: "invalid chunk size",
			cfg: func() Config {
				c := base
				c.Pipeline.ChunkSize = -1
				return c
			}(),
			want: "pipeline.chunk_size",
		},
		{
			name: "failure ratio over one",
			cfg: func() Config {
				c := base
				c.Pipeline.MaxFailureRatio = 1.5
				return c
			}(),
			want: "pipeline.max_failure_ratio",
		},
		{
			name: "empty ks",
			cfg: func() Config {
				c := base
				c.Cluster.Ks = nil
				return c
			}(),
			want: "cluster.ks",
		},
		{
			name: "unsupported k",
			cfg: func() Config {
				c := base
				c.Cluster.Ks = []int{4}
				return c
			}(),
			want: "cluster.ks",
		},
		{
			name: "invalid max iterations",
			cfg: func() Config {
				c := base
				c.Cluster.MaxIterations = 0
				return c
			}(),
			want: "cluster.max_iterations",
		},
		{
			name: "sqlite missing path",
			cfg: func() Config {
				c := base
				c.Store.Backend = "sqlite"
				return c
			}(),
			want: "store.path",
		},
		{
			name: "postgres missing dsn",
			cfg: func() Config {
				c := base
				c.Store.Backend = "postgres"
				return c
			}(),
			want: "store.dsn",
		},
		{
			name: "unknown store backend",
			cfg: func() Config {
				c := base
				c.Store.Backend = "redis"
				return c
			}(),
			want: "store.backend",
		},
		{
			name: "gcs missing bucket",
			cfg: func() Config {
				c := base
				c.Artifacts.Backend = "gcs"
				return c
			}(),
			want: "artifacts.bucket",
		},
		{
			name: "unknown artifact backend",
			cfg: func() Config {
				c := base
				c.Artifacts.Backend = "s3"
				return c
			}(),
			want: "artifacts.backend",
		},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			err := tt.cfg.Validate()
			if err == nil || !strings.Contains(err.Error(), tt.want) {
				t.Fatalf("expected error containing %q, got %v", tt.want, err)
			}
		})
	}
}
