package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

// inEmptyDir runs the test from a directory without a config file.
func inEmptyDir(t *testing.T) {
	t.Helper()
	dir := t.TempDir()
	wd, err := os.Getwd()
	if err != nil {
		t.Fatal(err)
	}
	if err := os.Chdir(dir); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { os.Chdir(wd) })
}

func TestLoadConfigDefaults(t *testing.T) {
	inEmptyDir(t)
	cfg, err := LoadConfig("")
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}

	tests := []struct {
		name string
		got  any
		want any
	}{
		{"keep-alive", cfg.Session.KeepAliveInterval, 30 * time.Second},
		{"reconnect base", cfg.Session.ReconnectBaseDelay, 5 * time.Second},
		{"reconnect cap", cfg.Session.ReconnectMaxDelay, 30 * time.Second},
		{"max attempts", cfg.Session.MaxReconnectAttempts, 10},
		{"typing expiry", cfg.Signals.TypingExpiry, 3000 * time.Millisecond},
		{"typing throttle", cfg.Signals.TypingThrottle, 2000 * time.Millisecond},
		{"search debounce", cfg.Signals.SearchDebounce, 300 * time.Millisecond},
		{"contacts page", cfg.Paging.ContactsPageSize, 20},
		{"ws path", cfg.Backend.WebSocketPath, "/ws"},
		{"default base", cfg.Backend.DefaultBaseURL, "http://localhost:8080"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.got != tt.want {
				t.Errorf("got %v, want %v", tt.got, tt.want)
			}
		})
	}
}

func TestLoadConfigEnvOverrides(t *testing.T) {
	inEmptyDir(t)
	t.Setenv("SESSION_KEEPALIVE_INTERVAL", "10s")
	t.Setenv("PAGING_HISTORY_PAGE_SIZE", "50")
	t.Setenv("NEXT_PUBLIC_API_BASE", "https://chat.example.com")

	cfg, err := LoadConfig("")
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}
	if cfg.Session.KeepAliveInterval != 10*time.Second {
		t.Errorf("KeepAliveInterval = %v", cfg.Session.KeepAliveInterval)
	}
	if cfg.Paging.HistoryPageSize != 50 {
		t.Errorf("HistoryPageSize = %d", cfg.Paging.HistoryPageSize)
	}
	if cfg.Backend.BaseURL != "https://chat.example.com" {
		t.Errorf("BaseURL = %q", cfg.Backend.BaseURL)
	}
}

func TestLoadConfigFile(t *testing.T) {
	inEmptyDir(t)
	path := filepath.Join(t.TempDir(), "imsync.yaml")
	body := "LOG_LEVEL: debug\nSESSION:\n  MAX_RECONNECT_ATTEMPTS: 3\nBACKEND:\n  BASE_URL: http://10.0.0.2:8080\n"
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatal(err)
	}
	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}
	if cfg.LogLevel != "debug" || cfg.Session.MaxReconnectAttempts != 3 || cfg.Backend.BaseURL != "http://10.0.0.2:8080" {
		t.Errorf("file values not applied: %+v", cfg)
	}
	if cfg.Session.ReconnectBaseDelay != 5*time.Second {
		t.Errorf("defaults lost when a file is present: %v", cfg.Session.ReconnectBaseDelay)
	}
}

func TestLoadConfigMissingExplicitFile(t *testing.T) {
	inEmptyDir(t)
	if _, err := LoadConfig(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Fatal("expected an error for a missing explicit config file")
	}
}

func TestValidate(t *testing.T) {
	inEmptyDir(t)
	base, err := LoadConfig("")
	if err != nil {
		t.Fatal(err)
	}
	tests := []struct {
		name    string
		mutate  func(c *Config)
		wantErr string
	}{
		{"valid", func(c *Config) {}, ""},
		{"zero keep-alive", func(c *Config) { c.Session.KeepAliveInterval = 0 }, "KEEPALIVE_INTERVAL"},
		{"cap below base", func(c *Config) { c.Session.ReconnectMaxDelay = time.Second }, "SESSION.RECONNECT_MAX_DELAY must not be below"},
		{"zero history page", func(c *Config) { c.Paging.HistoryPageSize = 0 }, "PAGING.HISTORY_PAGE_SIZE must be at least 1"},
		{"zero http timeout", func(c *Config) { c.Backend.HTTPTimeout = 0 }, "BACKEND.HTTP_TIMEOUT must be positive"},
		{"no attempts", func(c *Config) { c.Session.MaxReconnectAttempts = 0 }, "MAX_RECONNECT_ATTEMPTS"},
		{"negative throttle", func(c *Config) { c.Signals.TypingThrottle = -time.Second }, "TYPING_THROTTLE"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := base
			tt.mutate(&cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				if err != nil {
					t.Errorf("unexpected error: %v", err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("error = %v, want mention of %s", err, tt.wantErr)
			}
		})
	}
}
