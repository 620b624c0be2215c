package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadExpandsEnvAndDefaults(t *testing.T) {
	dir := t.TempDir()
	envPath := filepath.Join(dir, ".env")
	if err := os.WriteFile(envPath, []byte("MUSIGUESS_TEST_REDIS=redis.internal:6379\n"), 0o600); err != nil {
		t.Fatalf("write env: %v", err)
	}
	t.Cleanup(func() { os.Unsetenv("MUSIGUESS_TEST_REDIS") })

	cfgPath := filepath.Join(dir, "config.yaml")
	yaml := `
server:
  port: "9090"
redis:
  addr: ${MUSIGUESS_TEST_REDIS}
  ttl: 2h
catalog:
  requestsPerMinute: 20
game:
  roundSeconds: 20
`
	if err := os.WriteFile(cfgPath, []byte(yaml), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}

	if err := LoadEnv(envPath, filepath.Join(dir, "missing.env")); err != nil {
		t.Fatalf("load env: %v", err)
	}
	cfg, err := Load(cfgPath)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Server.Port != "9090" || cfg.Redis.Addr != "redis.internal:6379" || cfg.Catalog.RequestsPerMinute != 20 {
		t.Fatalf("unexpected config %+v", cfg)
	}
	if cfg.Game.RoundSeconds != 20 || cfg.Game.SuddenDeathSeconds != 10 {
		t.Fatalf("unexpected game defaults %+v", cfg.Game)
	}
	if cfg.NATS.Subject != "musiguess.events" || cfg.Log.Level != "info" {
		t.Fatalf("unexpected defaults nats=%+v log=%+v", cfg.NATS, cfg.Log)
	}
	if got := TTLDuration(cfg.Redis.TTL, time.Minute); got != 2*time.Hour {
		t.Fatalf("expected 2h ttl, got %v", got)
	}
}

func TestTTLDurationFallback(t *testing.T) {
	cases := map[string]time.Duration{
		"":      time.Minute,
		"bogus": time.Minute,
		"90s":   90 * time.Second,
	}
	for raw, want := range cases {
		if got := TTLDuration(raw, time.Minute); got != want {
			t.Fatalf("TTLDuration(%q) = %v, want %v", raw, got, want)
		}
	}
}
