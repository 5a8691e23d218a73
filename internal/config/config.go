// Package config handles loading and validation of session daemon configuration.
// Supports both development (env vars or CONFIG_FILE) and production (Secret Manager) modes.
package config

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	secretmanager "cloud.google.com/go/secretmanager/apiv1"
	"cloud.google.com/go/secretmanager/apiv1/secretmanagerpb"
	"gopkg.in/yaml.v3"
)

// DefaultRequestTimeout bounds every storefront API call. Expiry is a Transient failure.
const DefaultRequestTimeout = 10 * time.Second

// Config holds all daemon configuration.
// Environment determines whether API settings load from env vars (development) or Secret Manager (production).
type Config struct {
	// Server settings
	Port        string
	Environment string // "development" or "production"
	LogLevel    string // "debug", "info", "warn", "error"

	// GCP settings (required in production)
	GCPProject string
	SecretID   string

	// StatePath is the SQLite file holding the persisted identity (and local
	// collections when PersistLocal is set). Empty disables persistence.
	StatePath    string
	PersistLocal bool

	// Storefront API settings (loaded from secrets in production)
	API APIConfig
}

// APIConfig describes the storefront REST API that owns the server-of-record collections.
type APIConfig struct {
	BaseURL        string        `json:"base_url" yaml:"base_url"`
	RequestTimeout time.Duration `json:"-" yaml:"-"`
	TimeoutSeconds int           `json:"timeout_seconds,omitempty" yaml:"timeout_seconds,omitempty"`
	// ChromeTLS presents a browser TLS fingerprint to the API host.
	ChromeTLS bool `json:"chrome_tls,omitempty" yaml:"chrome_tls,omitempty"`
}

// fileConfig matches the CONFIG_FILE layout (JSON or YAML).
type fileConfig struct {
	Port         string    `json:"port" yaml:"port"`
	Environment  string    `json:"environment" yaml:"environment"`
	LogLevel     string    `json:"log_level" yaml:"log_level"`
	StatePath    string    `json:"state_path" yaml:"state_path"`
	PersistLocal bool      `json:"persist_local" yaml:"persist_local"`
	API          APIConfig `json:"api" yaml:"api"`
}

// Load reads configuration from file, environment, or Secret Manager.
// Priority: CONFIG_FILE (if set) → ENV vars / Secret Manager.
// Validates all required fields and returns an error if any are missing.
func Load(ctx context.Context) (*Config, error) {
	if configPath := os.Getenv("CONFIG_FILE"); configPath != "" {
		return loadFromFile(configPath)
	}

	cfg := &Config{
		Port:         envOrDefault("PORT", "8080"),
		Environment:  envOrDefault("ENVIRONMENT", "development"),
		LogLevel:     envOrDefault("LOG_LEVEL", "info"),
		GCPProject:   os.Getenv("GCP_PROJECT"),
		SecretID:     envOrDefault("SECRET_ID", "storefront-api"),
		StatePath:    os.Getenv("STATE_PATH"),
		PersistLocal: envBool("PERSIST_LOCAL"),
	}

	var err error
	if cfg.Environment == "production" {
		if cfg.GCPProject == "" {
			return nil, fmt.Errorf("GCP_PROJECT required in production environment")
		}
		err = cfg.loadFromSecretManager(ctx)
	} else {
		err = cfg.loadFromEnv()
	}
	if err != nil {
		return nil, fmt.Errorf("loading api config: %w", err)
	}

	cfg.applyTimeout()
	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// loadFromFile reads all configuration from a JSON or YAML file.
// The format is chosen by extension; anything but .yaml/.yml is JSON.
func loadFromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	var fc fileConfig
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		err = yaml.Unmarshal(data, &fc)
	default:
		err = json.Unmarshal(data, &fc)
	}
	if err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	cfg := &Config{
		Port:         withDefault(fc.Port, "8080"),
		Environment:  withDefault(fc.Environment, "development"),
		LogLevel:     withDefault(fc.LogLevel, "info"),
		StatePath:    fc.StatePath,
		PersistLocal: fc.PersistLocal,
		API:          fc.API,
	}

	cfg.applyTimeout()
	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// withDefault returns val if non-empty, otherwise defaultVal.
func withDefault(val, defaultVal string) string {
	if val != "" {
		return val
	}
	return defaultVal
}

// loadFromSecretManager fetches API config from GCP Secret Manager.
// Secret name format: projects/{project}/secrets/{secret_id}/versions/latest
func (c *Config) loadFromSecretManager(ctx context.Context) error {
	client, err := secretmanager.NewClient(ctx)
	if err != nil {
		return fmt.Errorf("creating secret manager client: %w", err)
	}
	defer client.Close()

	secretName := fmt.Sprintf("projects/%s/secrets/%s/versions/latest",
		c.GCPProject, c.SecretID)

	result, err := client.AccessSecretVersion(ctx, &secretmanagerpb.AccessSecretVersionRequest{
		Name: secretName,
	})
	if err != nil {
		return fmt.Errorf("accessing secret %s: %w", secretName, err)
	}

	if err := json.Unmarshal(result.Payload.Data, &c.API); err != nil {
		return fmt.Errorf("parsing secret JSON: %w", err)
	}

	return nil
}

// loadFromEnv reads API config from individual environment variables.
func (c *Config) loadFromEnv() error {
	c.API = APIConfig{
		BaseURL:   os.Getenv("STOREFRONT_API_URL"),
		ChromeTLS: envBool("STOREFRONT_CHROME_TLS"),
	}

	if raw := os.Getenv("STOREFRONT_TIMEOUT_SECONDS"); raw != "" {
		secs, err := strconv.Atoi(raw)
		if err != nil {
			return fmt.Errorf("parsing STOREFRONT_TIMEOUT_SECONDS: %w", err)
		}
		c.API.TimeoutSeconds = secs
	}

	return nil
}

// applyTimeout converts TimeoutSeconds into RequestTimeout, falling back to the default.
func (c *Config) applyTimeout() {
	if c.API.TimeoutSeconds > 0 {
		c.API.RequestTimeout = time.Duration(c.API.TimeoutSeconds) * time.Second
		return
	}
	c.API.RequestTimeout = DefaultRequestTimeout
}

// validate checks that all required configuration fields are present.
func (c *Config) validate() error {
	if c.API.BaseURL == "" {
		return fmt.Errorf("api base_url is required")
	}

	u, err := url.Parse(c.API.BaseURL)
	if err != nil {
		return fmt.Errorf("invalid api base_url: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("invalid api base_url: scheme must be http or https")
	}

	if c.API.TimeoutSeconds < 0 {
		return fmt.Errorf("timeout_seconds must not be negative")
	}

	if c.PersistLocal && c.StatePath == "" {
		return fmt.Errorf("persist_local requires state_path")
	}

	return nil
}

// APIBaseURL returns the storefront base URL without a trailing slash.
func (c *Config) APIBaseURL() string {
	return strings.TrimSuffix(c.API.BaseURL, "/")
}

// envOrDefault returns the environment variable value or the default if not set.
func envOrDefault(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}

// envBool treats "1", "true" and "yes" (any case) as true.
func envBool(key string) bool {
	switch strings.ToLower(os.Getenv(key)) {
	case "1", "true", "yes":
		return true
	}
	return false
}
