package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestDefault(t *testing.T) {
	cfg := Default()

	if cfg.Transfers != 4 {
		t.Errorf("Transfers = %d, want 4", cfg.Transfers)
	}
	if cfg.ChunkSize != 8*1024*1024 {
		t.Errorf("ChunkSize = %d, want 8MB", cfg.ChunkSize)
	}
	if cfg.Retry.Attempts != 5 {
		t.Errorf("Retry.Attempts = %d, want 5", cfg.Retry.Attempts)
	}
}

func TestLoadFromFile(t *testing.T) {
	content := `
source: tcp://queue:5555
sink: tcp://sessions:5556
control: tcp://control:5557
fail: tcp://failures:5558
transfers: 8
account: acct
key: c2VjcmV0
chunk_size: 4MB
metrics: 127.0.0.1:9090
log_level: debug
retry:
  attempts: 3
  backoff: 2s
  max_backoff: 1m
`
	path := filepath.Join(t.TempDir(), "fragmentd.yaml")
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}

	cfg, err := LoadFromFile(path)
	if err != nil {
		t.Fatalf("LoadFromFile: %v", err)
	}

	if cfg.Source != "tcp://queue:5555" {
		t.Errorf("Source = %q", cfg.Source)
	}
	if cfg.Sink != "tcp://sessions:5556" {
		t.Errorf("Sink = %q", cfg.Sink)
	}
	if cfg.Transfers != 8 {
		t.Errorf("Transfers = %d, want 8", cfg.Transfers)
	}
	if cfg.ChunkSize != 4*1024*1024 {
		t.Errorf("ChunkSize = %d, want 4MB", cfg.ChunkSize)
	}
	if cfg.Retry.Attempts != 3 || cfg.Retry.Backoff != 2*time.Second || cfg.Retry.MaxBackoff != time.Minute {
		t.Errorf("Retry = %+v", cfg.Retry)
	}
}

func TestLoadFromFileKeepsDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "fragmentd.yaml")
	if err := os.WriteFile(path, []byte("account: acct\n"), 0644); err != nil {
		t.Fatal(err)
	}

	cfg, err := LoadFromFile(path)
	if err != nil {
		t.Fatalf("LoadFromFile: %v", err)
	}
	if cfg.Transfers != 4 {
		t.Errorf("Transfers = %d, want default 4", cfg.Transfers)
	}
}

func TestLoadFromEnv(t *testing.T) {
	t.Setenv("FRAGMENTD_SOURCE", "tcp://env-queue:5555")
	t.Setenv("FRAGMENTD_TRANSFERS", "16")
	t.Setenv("FRAGMENTD_CHUNK_SIZE", "1MB")
	t.Setenv("FRAGMENTD_RETRY_BACKOFF", "500ms")

	cfg := Default()
	if err := cfg.LoadFromEnv(); err != nil {
		t.Fatalf("LoadFromEnv: %v", err)
	}

	if cfg.Source != "tcp://env-queue:5555" {
		t.Errorf("Source = %q", cfg.Source)
	}
	if cfg.Transfers != 16 {
		t.Errorf("Transfers = %d, want 16", cfg.Transfers)
	}
	if cfg.ChunkSize != 1024*1024 {
		t.Errorf("ChunkSize = %d, want 1MB", cfg.ChunkSize)
	}
	if cfg.Retry.Backoff != 500*time.Millisecond {
		t.Errorf("Retry.Backoff = %v", cfg.Retry.Backoff)
	}
}

func TestLoadFromEnvBadValue(t *testing.T) {
	t.Setenv("FRAGMENTD_TRANSFERS", "not-a-number")

	cfg := Default()
	if err := cfg.LoadFromEnv(); err == nil {
		t.Error("bad FRAGMENTD_TRANSFERS accepted")
	}
}

func TestValidate(t *testing.T) {
	valid := Default()
	valid.Source = "tcp://queue:5555"
	valid.Sink = "tcp://sessions:5556"
	valid.Account = "acct"
	valid.Key = "c2VjcmV0"

	if err := valid.Validate(); err != nil {
		t.Fatalf("valid config rejected: %v", err)
	}

	cases := []struct {
		name   string
		mutate func(*Config)
		want   string
	}{
		{"missing source", func(c *Config) { c.Source = "" }, "source"},
		{"missing sink", func(c *Config) { c.Sink = "" }, "sink"},
		{"missing account", func(c *Config) { c.Account = "" }, "account"},
		{"missing key", func(c *Config) { c.Key = "" }, "key"},
		{"zero transfers", func(c *Config) { c.Transfers = 0 }, "transfers"},
		{"negative transfers", func(c *Config) { c.Transfers = -1 }, "transfers"},
		{"zero chunk size", func(c *Config) { c.ChunkSize = 0 }, "chunk_size"},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := valid
			tc.mutate(&cfg)
			err := cfg.Validate()
			if err == nil {
				t.Fatal("invalid config accepted")
			}
			if !strings.Contains(err.Error(), tc.want) {
				t.Errorf("error %q does not mention %q", err, tc.want)
			}
		})
	}

	// A bucket URL replaces signed HTTPS access, so account and key are
	// not required.
	bucketed := valid
	bucketed.Account = ""
	bucketed.Key = ""
	bucketed.Bucket = "mem://fragments"
	if err := bucketed.Validate(); err != nil {
		t.Errorf("bucket config rejected: %v", err)
	}
}

func TestStorageEndpoint(t *testing.T) {
	cfg := Default()
	cfg.Account = "acct"

	if got := cfg.StorageEndpoint(); got != "https://acct.blob.core.windows.net" {
		t.Errorf("derived endpoint = %q", got)
	}

	cfg.Endpoint = "http://127.0.0.1:10000/acct"
	if got := cfg.StorageEndpoint(); got != "http://127.0.0.1:10000/acct" {
		t.Errorf("override endpoint = %q", got)
	}
}

func TestParseBytes(t *testing.T) {
	cases := []struct {
		in   string
		want int64
	}{
		{"1024", 1024},
		{"512B", 512},
		{"4KB", 4 * 1024},
		{"8MB", 8 * 1024 * 1024},
		{"2GB", 2 * 1024 * 1024 * 1024},
		{"1.5MB", 1536 * 1024},
	}

	for _, tc := range cases {
		got, err := ParseBytes(tc.in)
		if err != nil {
			t.Errorf("ParseBytes(%q): %v", tc.in, err)
			continue
		}
		if got != tc.want {
			t.Errorf("ParseBytes(%q) = %d, want %d", tc.in, got, tc.want)
		}
	}

	if _, err := ParseBytes("lots"); err == nil {
		t.Error("garbage size accepted")
	}
}
