package config

import (
	"testing"
	"time"
)

func TestDefaults(t *testing.T) {
	cfg, err := Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Port != "8080" {
		t.Errorf("port = %q, want 8080", cfg.Port)
	}
	if cfg.CommitMaxAttempts != 8 {
		t.Errorf("commit attempts = %d, want 8", cfg.CommitMaxAttempts)
	}
	if cfg.CommitBackoffBase != 10*time.Millisecond {
		t.Errorf("backoff base = %s, want 10ms", cfg.CommitBackoffBase)
	}
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("PORT", "9999")
	t.Setenv("DB_NAME", "staffing")
	t.Setenv("COMMIT_MAX_ATTEMPTS", "5")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Port != "9999" {
		t.Errorf("port = %q, want 9999", cfg.Port)
	}
	if cfg.DB.Name != "staffing" {
		t.Errorf("db name = %q, want staffing", cfg.DB.Name)
	}
	if cfg.CommitMaxAttempts != 5 {
		t.Errorf("commit attempts = %d, want 5", cfg.CommitMaxAttempts)
	}
}

func TestDSN(t *testing.T) {
	t.Setenv("DB_HOST", "db.internal")
	t.Setenv("DB_PASSWORD", "s3cret")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	want := "host=db.internal port=5432 user=postgres password=s3cret dbname=crewcall sslmode=disable"
	if got := cfg.DSN(); got != want {
		t.Errorf("dsn = %q, want %q", got, want)
	}
}
