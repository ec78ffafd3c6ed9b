package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoad_MissingFileYieldsDefaults(t *testing.T) {
	t.Parallel()

	cfg, errLoad := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	if errLoad != nil {
		t.Fatalf("load: %v", errLoad)
	}
	if cfg.Server.Addr != DefaultListenAddr {
		t.Fatalf("addr = %q, want %q", cfg.Server.Addr, DefaultListenAddr)
	}
	if cfg.Keys.Prefix != DefaultKeyPrefix || cfg.Keys.MaxActive != DefaultMaxActiveKeys {
		t.Fatalf("keys config = %+v", cfg.Keys)
	}
	if cfg.Validator.Interval() != 5*time.Minute {
		t.Fatalf("validator interval = %v, want 5m", cfg.Validator.Interval())
	}
	if cfg.Selector.RefreshInterval() != 2*time.Second {
		t.Fatalf("selector refresh = %v, want 2s", cfg.Selector.RefreshInterval())
	}
}

func TestLoad_FileOverridesAndDefaultsMerge(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "config.yaml")
	content := `
server:
  addr: ":9100"
upstream:
  max-retries: 2
keys:
  prefix: "pk-"
validator:
  interval-seconds: 60
proxy-auth:
  api-keys:
    - client-key-1
`
	if errWrite := os.WriteFile(path, []byte(content), 0o600); errWrite != nil {
		t.Fatalf("write config: %v", errWrite)
	}

	cfg, errLoad := Load(path)
	if errLoad != nil {
		t.Fatalf("load: %v", errLoad)
	}
	if cfg.Server.Addr != ":9100" {
		t.Fatalf("addr = %q, want :9100", cfg.Server.Addr)
	}
	if cfg.Upstream.MaxRetries != 2 {
		t.Fatalf("max retries = %d, want 2", cfg.Upstream.MaxRetries)
	}
	if cfg.Keys.Prefix != "pk-" {
		t.Fatalf("prefix = %q, want pk-", cfg.Keys.Prefix)
	}
	if cfg.Validator.Interval() != time.Minute {
		t.Fatalf("interval = %v, want 1m", cfg.Validator.Interval())
	}
	// Unset values still fall back.
	if cfg.Upstream.ChatCompletionsURL != DefaultChatCompletionsURL {
		t.Fatalf("chat url = %q, want default", cfg.Upstream.ChatCompletionsURL)
	}
	if len(cfg.ProxyAuth.APIKeys) != 1 || cfg.ProxyAuth.APIKeys[0] != "client-key-1" {
		t.Fatalf("api keys = %v", cfg.ProxyAuth.APIKeys)
	}
}

func TestLoad_RejectsEmptyProxyKeyEntries(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "config.yaml")
	content := `
proxy-auth:
  api-keys:
    - ""
`
	if errWrite := os.WriteFile(path, []byte(content), 0o600); errWrite != nil {
		t.Fatalf("write config: %v", errWrite)
	}

	if _, errLoad := Load(path); errLoad == nil {
		t.Fatalf("expected error for empty api key entry")
	}
}
