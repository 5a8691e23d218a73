package config

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

// clearEnv blanks every variable Load reads so tests do not leak into each other.
func clearEnv(t *testing.T) {
	t.Helper()
	for _, k := range []string{
		"CONFIG_FILE", "PORT", "ENVIRONMENT", "LOG_LEVEL", "GCP_PROJECT", "SECRET_ID",
		"STATE_PATH", "PERSIST_LOCAL", "STOREFRONT_API_URL", "STOREFRONT_CHROME_TLS",
		"STOREFRONT_TIMEOUT_SECONDS",
	} {
		t.Setenv(k, "")
	}
}

func TestLoadFromEnv(t *testing.T) {
	clearEnv(t)
	t.Setenv("ENVIRONMENT", "development")
	t.Setenv("PORT", "9090")
	t.Setenv("LOG_LEVEL", "debug")
	t.Setenv("STOREFRONT_API_URL", "https://shop.example.com/")
	t.Setenv("STOREFRONT_TIMEOUT_SECONDS", "3")
	t.Setenv("STOREFRONT_CHROME_TLS", "true")
	t.Setenv("STATE_PATH", "/tmp/state.db")
	t.Setenv("PERSIST_LOCAL", "1")

	cfg, err := Load(context.Background())
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}

	if cfg.Port != "9090" {
		t.Errorf("Port = %s, want 9090", cfg.Port)
	}
	if cfg.LogLevel != "debug" {
		t.Errorf("LogLevel = %s, want debug", cfg.LogLevel)
	}
	if cfg.APIBaseURL() != "https://shop.example.com" {
		t.Errorf("APIBaseURL() = %s, want trailing slash trimmed", cfg.APIBaseURL())
	}
	if cfg.API.RequestTimeout != 3*time.Second {
		t.Errorf("RequestTimeout = %v, want 3s", cfg.API.RequestTimeout)
	}
	if !cfg.API.ChromeTLS {
		t.Error("ChromeTLS should be enabled")
	}
	if !cfg.PersistLocal || cfg.StatePath != "/tmp/state.db" {
		t.Errorf("persistence = (%v, %q)", cfg.PersistLocal, cfg.StatePath)
	}
}

func TestLoadDefaults(t *testing.T) {
	clearEnv(t)
	t.Setenv("STOREFRONT_API_URL", "http://localhost:5001")

	cfg, err := Load(context.Background())
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}

	if cfg.Port != "8080" {
		t.Errorf("Port = %s, want 8080", cfg.Port)
	}
	if cfg.Environment != "development" {
		t.Errorf("Environment = %s, want development", cfg.Environment)
	}
	if cfg.API.RequestTimeout != DefaultRequestTimeout {
		t.Errorf("RequestTimeout = %v, want %v", cfg.API.RequestTimeout, DefaultRequestTimeout)
	}
	if cfg.PersistLocal {
		t.Error("PersistLocal should default to false")
	}
}

func TestLoadValidation(t *testing.T) {
	tests := []struct {
		name    string
		env     map[string]string
		wantErr string
	}{
		{
			name:    "missing base url",
			env:     map[string]string{},
			wantErr: "base_url is required",
		},
		{
			name:    "bad scheme",
			env:     map[string]string{"STOREFRONT_API_URL": "ftp://shop.example.com"},
			wantErr: "scheme must be http or https",
		},
		{
			name:    "bad timeout",
			env:     map[string]string{"STOREFRONT_API_URL": "https://shop.example.com", "STOREFRONT_TIMEOUT_SECONDS": "soon"},
			wantErr: "STOREFRONT_TIMEOUT_SECONDS",
		},
		{
			name:    "persist local without path",
			env:     map[string]string{"STOREFRONT_API_URL": "https://shop.example.com", "PERSIST_LOCAL": "true"},
			wantErr: "persist_local requires state_path",
		},
		{
			name:    "production without project",
			env:     map[string]string{"ENVIRONMENT": "production"},
			wantErr: "GCP_PROJECT required",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			clearEnv(t)
			for k, v := range tt.env {
				t.Setenv(k, v)
			}

			_, err := Load(context.Background())
			if err == nil {
				t.Fatal("expected error")
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("error = %q, want containing %q", err.Error(), tt.wantErr)
			}
		})
	}
}

func TestLoadFromJSONFile(t *testing.T) {
	clearEnv(t)
	path := filepath.Join(t.TempDir(), "config.json")
	content := `{
		"port": "7070",
		"log_level": "warn",
		"state_path": "/var/lib/storefront/state.db",
		"persist_local": true,
		"api": {"base_url": "https://api.shop.test", "timeout_seconds": 5}
	}`
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatal(err)
	}
	t.Setenv("CONFIG_FILE", path)

	cfg, err := Load(context.Background())
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}

	if cfg.Port != "7070" {
		t.Errorf("Port = %s, want 7070", cfg.Port)
	}
	if cfg.API.BaseURL != "https://api.shop.test" {
		t.Errorf("BaseURL = %s", cfg.API.BaseURL)
	}
	if cfg.API.RequestTimeout != 5*time.Second {
		t.Errorf("RequestTimeout = %v, want 5s", cfg.API.RequestTimeout)
	}
	if !cfg.PersistLocal {
		t.Error("PersistLocal should be true")
	}
}

func TestLoadFromYAMLFile(t *testing.T) {
	clearEnv(t)
	path := filepath.Join(t.TempDir(), "config.yaml")
	content := `
environment: development
api:
  base_url: http://localhost:5001
  chrome_tls: true
`
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatal(err)
	}
	t.Setenv("CONFIG_FILE", path)

	cfg, err := Load(context.Background())
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}

	if cfg.API.BaseURL != "http://localhost:5001" {
		t.Errorf("BaseURL = %s", cfg.API.BaseURL)
	}
	if !cfg.API.ChromeTLS {
		t.Error("ChromeTLS should be true")
	}
	if cfg.Port != "8080" {
		t.Errorf("Port = %s, want default 8080", cfg.Port)
	}
}

func TestLoadFromFile_Errors(t *testing.T) {
	clearEnv(t)

	t.Run("missing file", func(t *testing.T) {
		t.Setenv("CONFIG_FILE", filepath.Join(t.TempDir(), "nope.json"))
		if _, err := Load(context.Background()); err == nil || !strings.Contains(err.Error(), "reading config file") {
			t.Errorf("error = %v, want reading error", err)
		}
	})

	t.Run("malformed json", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "bad.json")
		if err := os.WriteFile(path, []byte("{not json"), 0o600); err != nil {
			t.Fatal(err)
		}
		t.Setenv("CONFIG_FILE", path)
		if _, err := Load(context.Background()); err == nil || !strings.Contains(err.Error(), "parsing config file") {
			t.Errorf("error = %v, want parsing error", err)
		}
	})
}
