// loader.go — Configuration loading with priority cascade.
// Priority: defaults < global config < project config < env vars < flags.
package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

// Transport modes. Exactly one is active per process.
const (
	ModeStdio = "stdio"
	ModeHTTP  = "http"
)

// ErrMissingAPIKey is returned when no access credential was supplied.
var ErrMissingAPIKey = errors.New("MCP_API_KEY is required")

// Config holds all resolved configuration values. It is read once at startup
// and never mutated afterwards.
type Config struct {
	Mode        string `json:"mode"`
	APIKey      string `json:"-"`
	APIURL      string `json:"api_url"`
	HostURL     string `json:"host_url"`
	HTTPPort    int    `json:"http_port"`
	TimeoutMs   int    `json:"timeout_ms"`
	LogLevel    string `json:"log_level"`
	LogFormat   string `json:"log_format"`
	DebugFile   string `json:"debug_file"`
	ShutdownSec int    `json:"shutdown_sec"`
}

// FlagOverrides holds values explicitly set via command-line flags.
// Nil pointer means the flag was not set (so lower-priority values are kept).
type FlagOverrides struct {
	Mode      *string
	APIKey    *string
	APIURL    *string
	HostURL   *string
	HTTPPort  *int
	TimeoutMs *int
	LogLevel  *string
}

// Defaults returns the base configuration with sensible defaults.
func Defaults() Config {
	return Config{
		Mode:        ModeStdio,
		APIURL:      "http://localhost:8787/api",
		HostURL:     "http://127.0.0.1:8010",
		HTTPPort:    8788,
		TimeoutMs:   30000,
		LogLevel:    "info",
		LogFormat:   "json",
		ShutdownSec: 10,
	}
}

// Timeout is the ceiling applied to every outbound call.
func (c Config) Timeout() time.Duration {
	return time.Duration(c.TimeoutMs) * time.Millisecond
}

// ShutdownTimeout bounds the HTTP drain on exit.
func (c Config) ShutdownTimeout() time.Duration {
	return time.Duration(c.ShutdownSec) * time.Second
}

// Load builds the final configuration by applying the priority cascade:
// defaults < global (~/.meter-bridge/config.json) < project (.meter-bridge.json) < env vars < flags.
func Load(projectDir string, flags *FlagOverrides) (Config, error) {
	cfg := Defaults()

	home, err := os.UserHomeDir()
	if err == nil {
		if err := loadJSONFile(&cfg, filepath.Join(home, ".meter-bridge", "config.json")); err != nil {
			return cfg, fmt.Errorf("global config: %w", err)
		}
	}

	if projectDir != "" {
		if err := loadJSONFile(&cfg, filepath.Join(projectDir, ".meter-bridge.json")); err != nil {
			return cfg, fmt.Errorf("project config: %w", err)
		}
	}

	if err := loadEnvVars(&cfg); err != nil {
		return cfg, err
	}

	if flags != nil {
		applyFlags(&cfg, flags)
	}

	cfg.Mode = NormalizeMode(cfg.Mode)
	if err := cfg.Validate(); err != nil {
		return cfg, fmt.Errorf("config validation: %w", err)
	}

	return cfg, nil
}

// fileConfig uses pointers to distinguish "not set" from zero values.
// The credential is deliberately absent: it only comes from env or flags.
type fileConfig struct {
	Mode        *string `json:"mode"`
	APIURL      *string `json:"api_url"`
	HostURL     *string `json:"host_url"`
	HTTPPort    *int    `json:"http_port"`
	TimeoutMs   *int    `json:"timeout_ms"`
	LogLevel    *string `json:"log_level"`
	LogFormat   *string `json:"log_format"`
	DebugFile   *string `json:"debug_file"`
	ShutdownSec *int    `json:"shutdown_sec"`
}

// loadJSONFile reads a JSON config file and merges explicitly set values into cfg.
func loadJSONFile(cfg *Config, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil // Missing config file is fine
		}
		return err
	}

	var fc fileConfig
	if err := json.Unmarshal(data, &fc); err != nil {
		return fmt.Errorf("parse %s: %w", path, err)
	}

	setString(&cfg.Mode, fc.Mode)
	setString(&cfg.APIURL, fc.APIURL)
	setString(&cfg.HostURL, fc.HostURL)
	setString(&cfg.LogLevel, fc.LogLevel)
	setString(&cfg.LogFormat, fc.LogFormat)
	setString(&cfg.DebugFile, fc.DebugFile)
	setInt(&cfg.HTTPPort, fc.HTTPPort)
	setInt(&cfg.TimeoutMs, fc.TimeoutMs)
	setInt(&cfg.ShutdownSec, fc.ShutdownSec)
	return nil
}

// loadEnvVars applies environment variable overrides.
func loadEnvVars(cfg *Config) error {
	if v := os.Getenv("MCP_BRIDGE_MODE"); v != "" {
		cfg.Mode = v
	}
	if v := os.Getenv("MCP_API_KEY"); v != "" {
		cfg.APIKey = v
	}
	if v := os.Getenv("MCP_API_URL"); v != "" {
		cfg.APIURL = v
	}
	if v := os.Getenv("UNITY_LOCAL_URL"); v != "" {
		cfg.HostURL = v
	}
	if v := os.Getenv("MCP_HOST_URL"); v != "" {
		cfg.HostURL = v
	}
	if v := os.Getenv("MCP_HTTP_PORT"); v != "" {
		port, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("invalid MCP_HTTP_PORT %q: %w", v, err)
		}
		cfg.HTTPPort = port
	}
	if v := os.Getenv("MCP_TIMEOUT_MS"); v != "" {
		timeout, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("invalid MCP_TIMEOUT_MS %q: %w", v, err)
		}
		cfg.TimeoutMs = timeout
	}
	if v := os.Getenv("MCP_LOG_LEVEL"); v != "" {
		cfg.LogLevel = v
	}
	if v := os.Getenv("MCP_LOG_FORMAT"); v != "" {
		cfg.LogFormat = v
	}
	if v := os.Getenv("MCP_DEBUG_FILE"); v != "" {
		cfg.DebugFile = v
	}
	return nil
}

// applyFlags applies command-line flag overrides (highest priority).
func applyFlags(cfg *Config, flags *FlagOverrides) {
	setString(&cfg.Mode, flags.Mode)
	setString(&cfg.APIKey, flags.APIKey)
	setString(&cfg.APIURL, flags.APIURL)
	setString(&cfg.HostURL, flags.HostURL)
	setString(&cfg.LogLevel, flags.LogLevel)
	setInt(&cfg.HTTPPort, flags.HTTPPort)
	setInt(&cfg.TimeoutMs, flags.TimeoutMs)
}

// NormalizeMode maps accepted aliases onto the canonical mode names.
// Unknown values are returned lower-cased so Validate can reject them.
func NormalizeMode(mode string) string {
	switch m := strings.ToLower(strings.TrimSpace(mode)); m {
	case "stdio", "streaming", "stream":
		return ModeStdio
	case "http", "request-response":
		return ModeHTTP
	default:
		return m
	}
}

// Validate checks that configuration values are within acceptable ranges.
func (c Config) Validate() error {
	if c.Mode != ModeStdio && c.Mode != ModeHTTP {
		return fmt.Errorf("unknown mode %q: expected stdio|http", c.Mode)
	}
	if strings.TrimSpace(c.APIKey) == "" {
		return ErrMissingAPIKey
	}
	if err := validateBaseURL("api_url", c.APIURL); err != nil {
		return err
	}
	if err := validateBaseURL("host_url", c.HostURL); err != nil {
		return err
	}
	if c.HTTPPort < 1 || c.HTTPPort > 65535 {
		return fmt.Errorf("http_port must be 1-65535, got %d", c.HTTPPort)
	}
	if c.TimeoutMs <= 0 {
		return fmt.Errorf("timeout_ms must be positive, got %d", c.TimeoutMs)
	}
	if c.ShutdownSec < 0 {
		return fmt.Errorf("shutdown_sec must not be negative, got %d", c.ShutdownSec)
	}
	validFormats := map[string]bool{"json": true, "console": true}
	if !validFormats[c.LogFormat] {
		return fmt.Errorf("log_format must be json or console, got %q", c.LogFormat)
	}
	return nil
}

func validateBaseURL(name, raw string) error {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil {
		return fmt.Errorf("invalid %s: %w", name, err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("%s must use http or https, got %q", name, raw)
	}
	if u.Host == "" {
		return fmt.Errorf("%s must include a host, got %q", name, raw)
	}
	return nil
}

func setString(dst *string, v *string) {
	if v != nil {
		*dst = *v
	}
}

func setInt(dst *int, v *int) {
	if v != nil {
		*dst = *v
	}
}
