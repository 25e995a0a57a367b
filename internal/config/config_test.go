package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Core.PersistBatchSize != 50 {
		t.Errorf("PersistBatchSize = %d, want 50", cfg.Core.PersistBatchSize)
	}
	if cfg.Core.PersistFlushTimeout != 10*time.Millisecond {
		t.Errorf("PersistFlushTimeout = %v, want 10ms", cfg.Core.PersistFlushTimeout)
	}
	if cfg.Server.HTTPAddr != ":8080" {
		t.Errorf("HTTPAddr = %q, want :8080", cfg.Server.HTTPAddr)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("Validate: %v", err)
	}
}

func TestLoadFileAndEnvOverride(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	body := []byte("postgres:\n  dsn: postgres://file/db\nserver:\n  http_addr: \":9000\"\n")
	if err := os.WriteFile(path, body, 0o644); err != nil {
		t.Fatal(err)
	}

	t.Setenv("LEND_POSTGRES_DSN", "postgres://env/db")
	t.Setenv("LEND_PERSIST_BATCH_SIZE", "200")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Postgres.DSN != "postgres://env/db" {
		t.Errorf("DSN = %q, env override should win", cfg.Postgres.DSN)
	}
	if cfg.Server.HTTPAddr != ":9000" {
		t.Errorf("HTTPAddr = %q, want file value :9000", cfg.Server.HTTPAddr)
	}
	if cfg.Core.PersistBatchSize != 200 {
		t.Errorf("PersistBatchSize = %d, want 200", cfg.Core.PersistBatchSize)
	}
}
