//go:build !integration

package config

import (
	"flag"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	p := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(p, []byte(body), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return p
}

func TestLoadConfig_Defaults(t *testing.T) {
	p := writeConfig(t, "redis:\n  url: redis://localhost:6379/0\nai:\n  openai_key: sk-test\n")
	cfg, err := LoadConfig(p, false)
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}
	if cfg.Server.Port != 8080 {
		t.Fatalf("port default: %d", cfg.Server.Port)
	}
	if cfg.Store.Driver != "redis" {
		t.Fatalf("store driver default: %q", cfg.Store.Driver)
	}
	if cfg.Redis.TTL != 7*24*time.Hour {
		t.Fatalf("redis ttl default: %v", cfg.Redis.TTL)
	}
	if cfg.Session.LockTTL != cfg.Server.TurnTimeout {
		t.Fatalf("lock ttl should follow turn timeout, got %v", cfg.Session.LockTTL)
	}
	if cfg.AI.DefaultModel != "gpt-4o-mini" {
		t.Fatalf("default model: %q", cfg.AI.DefaultModel)
	}
}

func TestLoadConfig_EnvOverrides(t *testing.T) {
	p := writeConfig(t, "redis:\n  url: redis://file:6379/0\n")
	t.Setenv("REDIS_URL", "redis://env:6379/1")
	t.Setenv("GEMINI_API_KEY", "g-key")
	cfg, err := LoadConfig(p, false)
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}
	if cfg.Redis.URL != "redis://env:6379/1" {
		t.Fatalf("expected env override, got %q", cfg.Redis.URL)
	}
	if cfg.AI.GeminiKey != "g-key" {
		t.Fatalf("expected gemini key from env, got %q", cfg.AI.GeminiKey)
	}
}

func TestLoadConfig_Validation(t *testing.T) {
	cases := []struct {
		name string
		body string
		dev  bool
	}{
		{"redis url missing", "ai:\n  openai_key: k\n", false},
		{"unknown driver", "store:\n  driver: bolt\nai:\n  openai_key: k\n", false},
		{"no ai key outside dev", "store:\n  driver: pebble\n", false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Setenv("REDIS_URL", "")
			t.Setenv("OPENAI_API_KEY", "")
			t.Setenv("GEMINI_API_KEY", "")
			t.Setenv("METIS_API_KEY", "")
			if _, err := LoadConfig(writeConfig(t, tc.body), tc.dev); err == nil {
				t.Fatalf("expected validation error")
			}
		})
	}
}

func TestLoadConfig_MissingFileInDev(t *testing.T) {
	t.Setenv("REDIS_URL", "")
	cfg, err := LoadConfig(filepath.Join(t.TempDir(), "absent.yaml"), true)
	if err == nil {
		t.Fatalf("redis driver without url must still fail, got %+v", cfg)
	}

	p := writeConfig(t, "store:\n  driver: pebble\n")
	cfg, err = LoadConfig(p, true)
	if err != nil {
		t.Fatalf("dev pebble config: %v", err)
	}
	if !cfg.Runtime.Dev {
		t.Fatalf("runtime dev flag not set")
	}
}

func TestParseFlags(t *testing.T) {
	fs := flag.NewFlagSet("test", flag.ContinueOnError)
	path, dev, err := ParseFlags(fs, []string{"-config", "x.yaml", "-dev"})
	if err != nil {
		t.Fatalf("ParseFlags: %v", err)
	}
	if path != "x.yaml" || !dev {
		t.Fatalf("got path=%q dev=%v", path, dev)
	}
}
