package config_test

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"reelpipe/internal/config"
)

func TestLoadMissingFileUsesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")

	cfg, resolved, exists, err := config.Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if exists {
		t.Fatal("expected exists=false for missing file")
	}
	if resolved != path {
		t.Fatalf("resolved path = %q, want %q", resolved, path)
	}
	if cfg.Workflow.WorkerCount != 4 {
		t.Fatalf("default worker count = %d, want 4", cfg.Workflow.WorkerCount)
	}
	if cfg.Fal.BaseURL != "https://queue.fal.run" {
		t.Fatalf("unexpected default fal base url: %q", cfg.Fal.BaseURL)
	}
}

func TestLoadAppliesOverridesAndNormalizes(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.toml")
	content := `
[paths]
data_dir = "` + filepath.Join(dir, "data") + `"
work_dir = "` + filepath.Join(dir, "work") + `"
api_bind = " 127.0.0.1:9000 "

[fal]
base_url = "https://fal.example.com/"

[workflow]
worker_count = 2

[logging]
level = "DEBUG"
`
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, _, exists, err := config.Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if !exists {
		t.Fatal("expected exists=true")
	}
	if cfg.Workflow.WorkerCount != 2 {
		t.Fatalf("worker count = %d, want 2", cfg.Workflow.WorkerCount)
	}
	if cfg.Paths.APIBind != "127.0.0.1:9000" {
		t.Fatalf("api bind not trimmed: %q", cfg.Paths.APIBind)
	}
	if cfg.Fal.BaseURL != "https://fal.example.com" {
		t.Fatalf("fal base url not trimmed: %q", cfg.Fal.BaseURL)
	}
	if cfg.Logging.Level != "debug" {
		t.Fatalf("logging level not lowered: %q", cfg.Logging.Level)
	}
	// Defaults survive where the file is silent.
	if cfg.Workflow.StepTimeout != 300 {
		t.Fatalf("step timeout = %d, want default 300", cfg.Workflow.StepTimeout)
	}
}

func TestValidateRejectsBadValues(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*config.Config)
		want   string
	}{
		{
			name:   "missing data dir",
			mutate: func(c *config.Config) { c.Paths.DataDir = "" },
			want:   "paths.data_dir",
		},
		{
			name:   "zero workers",
			mutate: func(c *config.Config) { c.Workflow.WorkerCount = 0 },
			want:   "workflow.worker_count",
		},
		{
			name:   "cache ttl above sign expiry",
			mutate: func(c *config.Config) { c.Storage.SignCacheTTL = 7200 },
			want:   "sign_cache_ttl",
		},
		{
			name:   "unknown log format",
			mutate: func(c *config.Config) { c.Logging.Format = "xml" },
			want:   "logging.format",
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := config.Default()
			tc.mutate(&cfg)
			err := cfg.Validate()
			if err == nil {
				t.Fatal("expected validation error")
			}
			if !strings.Contains(err.Error(), tc.want) {
				t.Fatalf("error %q does not mention %q", err, tc.want)
			}
		})
	}
}

func TestWriteSampleRefusesOverwrite(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	if err := config.WriteSample(path); err != nil {
		t.Fatalf("WriteSample failed: %v", err)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read sample: %v", err)
	}
	if !strings.Contains(string(data), "[paths]") {
		t.Fatal("sample config missing [paths] section")
	}
	if err := config.WriteSample(path); err == nil {
		t.Fatal("expected error when target already exists")
	}
}

func TestEnsureDirectories(t *testing.T) {
	dir := t.TempDir()
	cfg := config.Default()
	cfg.Paths.DataDir = filepath.Join(dir, "data")
	cfg.Paths.WorkDir = filepath.Join(dir, "work")
	cfg.Paths.LogDir = filepath.Join(dir, "logs")

	if err := cfg.EnsureDirectories(); err != nil {
		t.Fatalf("EnsureDirectories failed: %v", err)
	}
	for _, p := range []string{cfg.Paths.DataDir, cfg.Paths.WorkDir, cfg.Paths.LogDir} {
		info, err := os.Stat(p)
		if err != nil || !info.IsDir() {
			t.Fatalf("expected directory at %s (err=%v)", p, err)
		}
	}
	if got := cfg.DatabasePath(); got != filepath.Join(cfg.Paths.DataDir, "reelpipe.db") {
		t.Fatalf("unexpected database path: %s", got)
	}
}
