package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/spf13/viper"
)

func TestDefaultIsValid(t *testing.T) {
	cfg := Default()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("default config invalid: %v", err)
	}
	if cfg.API.BasePath != "/api" || cfg.Gateway.Port != 18789 || !cfg.Skills.EnableStubs {
		t.Fatalf("unexpected defaults: %+v", cfg)
	}
	if cfg.Policies.EnforceBlockers || cfg.Policies.AutoCompleteHouseholds {
		t.Fatalf("policies must default to off")
	}
	if len(cfg.API.CORSAllowOrigins) != 2 {
		t.Fatalf("expected two default cors origins, got %v", cfg.API.CORSAllowOrigins)
	}
}

func TestLoadEnvOverridesFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "transitionos.yml")
	if err := os.WriteFile(path, []byte("environment: PROD\napi:\n  port: 9000\n"), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	t.Setenv("API_PORT", "9100")
	t.Setenv("ENABLE_SKILL_STUBS", "false")
	t.Setenv("CORS_ALLOW_ORIGINS", "https://a.example, https://b.example,")
	t.Setenv("AUTO_COMPLETE_HOUSEHOLDS", "true")

	cfg, err := Load(viper.New(), path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Environment != "PROD" {
		t.Fatalf("expected PROD from file, got %s", cfg.Environment)
	}
	if cfg.API.Port != 9100 {
		t.Fatalf("expected env port override, got %d", cfg.API.Port)
	}
	if cfg.Skills.EnableStubs {
		t.Fatalf("expected stubs disabled by env")
	}
	if !cfg.Policies.AutoCompleteHouseholds {
		t.Fatalf("expected auto-complete policy on")
	}
	if len(cfg.API.CORSAllowOrigins) != 2 || cfg.API.CORSAllowOrigins[1] != "https://b.example" {
		t.Fatalf("unexpected origins %v", cfg.API.CORSAllowOrigins)
	}
}

func TestValidateRejectsBadValues(t *testing.T) {
	cases := map[string]func(*Config){
		"environment": func(c *Config) { c.Environment = "LOCAL" },
		"postgres":    func(c *Config) { c.Database.URL = "postgres://db/x" },
		"port":        func(c *Config) { c.API.Port = 70000 },
		"base path":   func(c *Config) { c.API.BasePath = "api" },
		"exporter":    func(c *Config) { c.Telemetry.Exporter = "jaeger" },
	}
	for name, mutate := range cases {
		cfg := Default()
		mutate(cfg)
		if err := cfg.Validate(); err == nil {
			t.Fatalf("%s: expected validation error", name)
		}
	}
}
