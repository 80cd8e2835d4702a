package rconfig

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeTemp(t *testing.T, contents string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "redicore.yaml")
	if err := os.WriteFile(path, []byte(contents), 0o644); err != nil {
		t.Fatalf("writing temp config: %v", err)
	}
	return path
}

func TestLoad(t *testing.T) {
	yaml := `
defaults:
  min_connections: 2
  max_connections: 20
  idle_timeout: 5m
  max_lifetime: 30m
  acquire_timeout: 10s

pools:
  main:
    addr: localhost:6379
    db: 0
`
	path := writeTemp(t, yaml)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Defaults.MaxConnections != 20 {
		t.Errorf("expected max connections 20, got %d", cfg.Defaults.MaxConnections)
	}
	if cfg.Defaults.IdleTimeout != 5*time.Minute {
		t.Errorf("expected idle timeout 5m, got %v", cfg.Defaults.IdleTimeout)
	}

	p, ok := cfg.Pools["main"]
	if !ok {
		t.Fatal("main pool not found")
	}
	if p.Addr != "localhost:6379" {
		t.Errorf("expected addr localhost:6379, got %s", p.Addr)
	}
}

func TestLoadEnvSubstitution(t *testing.T) {
	os.Setenv("TEST_REDIS_PASSWORD", "secret123")
	defer os.Unsetenv("TEST_REDIS_PASSWORD")

	yaml := `
pools:
  main:
    addr: localhost:6379
    password: ${TEST_REDIS_PASSWORD}
`
	path := writeTemp(t, yaml)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Pools["main"].Password != "secret123" {
		t.Errorf("expected password secret123, got %s", cfg.Pools["main"].Password)
	}
}

func TestLoadValidationErrors(t *testing.T) {
	yaml := `
pools:
  main:
    db: 0
`
	path := writeTemp(t, yaml)
	if _, err := Load(path); err == nil {
		t.Fatal("expected validation error for missing addr")
	}
}

func TestEffectiveMaxConnections_OverridesDefault(t *testing.T) {
	defaults := PoolDefaults{MaxConnections: 10}
	override := 25
	p := Profile{MaxConnections: &override}
	if got := p.EffectiveMaxConnections(defaults); got != 25 {
		t.Fatalf("got %d, want 25", got)
	}

	bare := Profile{}
	if got := bare.EffectiveMaxConnections(defaults); got != 10 {
		t.Fatalf("got %d, want default 10", got)
	}
}

func TestRedacted_MasksPassword(t *testing.T) {
	p := Profile{Password: "s3cret"}
	if p.Redacted().Password != "***REDACTED***" {
		t.Fatalf("expected password masked")
	}
	if p.Password != "s3cret" {
		t.Fatalf("Redacted must not mutate the original")
	}
}
