package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

const sampleYAML = `
server:
  addr: ":9090"
database:
  dsn: "postgres://u:p@localhost:5432/hx?sslmode=disable"
redis:
  addr: "localhost:6379"
engine:
  symbols:
    - "@elonmusk"
    - "@sama"
  expiry_interval: 2s
trading:
  initial_cash_cents: 50000000
logging:
  level: "debug"
`

func writeConfig(t *testing.T, contents string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(contents), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoad(t *testing.T) {
	cfg, err := Load(writeConfig(t, sampleYAML))
	if err != nil {
		t.Fatalf("load: %v", err)
	}

	if cfg.Server.Addr != ":9090" {
		t.Fatalf("addr = %q, want :9090", cfg.Server.Addr)
	}
	if len(cfg.Engine.Symbols) != 2 || cfg.Engine.Symbols[0] != "@elonmusk" {
		t.Fatalf("symbols = %v", cfg.Engine.Symbols)
	}
	if cfg.Engine.ExpiryInterval != 2*time.Second {
		t.Fatalf("expiry interval = %s, want 2s", cfg.Engine.ExpiryInterval)
	}
	if cfg.Trading.InitialCashCents != 50_000_000 {
		t.Fatalf("initial cash = %d", cfg.Trading.InitialCashCents)
	}

	// Defaults fill whatever the file omits.
	if cfg.Engine.InboxSize != 1024 {
		t.Fatalf("inbox size default = %d, want 1024", cfg.Engine.InboxSize)
	}
	if cfg.Engine.ExpiryBatch != 100 {
		t.Fatalf("expiry batch default = %d, want 100", cfg.Engine.ExpiryBatch)
	}
	if cfg.Outbox.Workers != 1 {
		t.Fatalf("outbox workers default = %d, want 1", cfg.Outbox.Workers)
	}

	if err := cfg.Validate(); err != nil {
		t.Fatalf("validate: %v", err)
	}
}

func TestLoadEnvOverridesDSN(t *testing.T) {
	t.Setenv("HX_DATABASE_DSN", "postgres://env-wins@db:5432/hx")

	cfg, err := Load(writeConfig(t, sampleYAML))
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Database.DSN != "postgres://env-wins@db:5432/hx" {
		t.Fatalf("dsn = %q, want the env value", cfg.Database.DSN)
	}
}

func TestValidateErrors(t *testing.T) {
	t.Parallel()

	base := func() *Config {
		cfg, err := Load(writeConfig(t, sampleYAML))
		if err != nil {
			t.Fatalf("load: %v", err)
		}
		return cfg
	}

	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"missing dsn", func(c *Config) { c.Database.DSN = "" }},
		{"missing redis", func(c *Config) { c.Redis.Addr = "" }},
		{"no symbols", func(c *Config) { c.Engine.Symbols = nil }},
		{"empty symbol", func(c *Config) { c.Engine.Symbols = []string{""} }},
		{"duplicate symbol", func(c *Config) { c.Engine.Symbols = []string{"@a", "@a"} }},
		{"seed without shares", func(c *Config) {
			c.Trading.SeedOnStart = true
			c.Trading.SeedParCents = 100
			c.Trading.SeedAskTIF = 3600
		}},
	}
	for _, tt := range tests {
		cfg := base()
		tt.mutate(cfg)
		if err := cfg.Validate(); err == nil {
			t.Fatalf("%s: want validation error, got nil", tt.name)
		}
	}
}

func TestLoadMissingFile(t *testing.T) {
	t.Parallel()

	if _, err := Load(filepath.Join(t.TempDir(), "nope.yaml")); err == nil {
		t.Fatal("want error for missing file")
	}
}
