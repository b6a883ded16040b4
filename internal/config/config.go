// Package config loads and validates NexoraX YAML configuration.
// It applies defaults so the daemon can rely on fully populated values,
// then overlays .env and process environment variables.
package config

import (
	"errors"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Cookie security modes for HTTPConfig.SecureCookies.
const (
	SecureAuto   = "auto"
	SecureAlways = "always"
	SecureNever  = "never"
)

// TLSConfig holds TLS certificate paths. Both empty means plain HTTP.
type TLSConfig struct {
	CertPath string `yaml:"cert_path"`
	KeyPath  string `yaml:"key_path"`
}

// LogConfig holds logging settings.
type LogConfig struct {
	Level string `yaml:"level"`
	JSON  bool   `yaml:"json"`
	// File mirrors log output so the admin log view can tail it.
	File string `yaml:"file"`
}

// HTTPConfig holds HTTP server settings.
type HTTPConfig struct {
	Bind           string    `yaml:"bind"`
	Port           int       `yaml:"port"`
	StaticDir      string    `yaml:"static_dir"`
	SecureCookies  string    `yaml:"secure_cookies"`
	AllowedOrigins []string  `yaml:"allowed_origins"`
	MaxBodyKB      int       `yaml:"max_body_kb"`
	TLS            TLSConfig `yaml:"tls"`

	// RequestsPerSecond and Burst bound per-client-IP traffic to the
	// auth and proxy endpoints. Zero RequestsPerSecond disables it.
	RequestsPerSecond float64 `yaml:"requests_per_second"`
	Burst             int     `yaml:"burst"`

	// BehindHTTPS is detected from the hosting environment, not read
	// from YAML.
	BehindHTTPS bool `yaml:"-"`
}

// AuthConfig holds session and login throttling settings.
type AuthConfig struct {
	SessionTTL    time.Duration `yaml:"session_ttl"`
	RememberTTL   time.Duration `yaml:"remember_ttl"`
	AttemptWindow time.Duration `yaml:"attempt_window"`
	MaxAttempts   int           `yaml:"max_attempts"`
	SweepInterval time.Duration `yaml:"sweep_interval"`
	HashPasswords bool          `yaml:"hash_passwords"`
}

// ProviderConfig describes one upstream AI or search API.
type ProviderConfig struct {
	APIKey  string `yaml:"api_key"`
	BaseURL string `yaml:"base_url"`
	Model   string `yaml:"model"`
}

// ProxyConfig holds upstream provider settings.
type ProxyConfig struct {
	Timeout     time.Duration  `yaml:"timeout"`
	LongTimeout time.Duration  `yaml:"long_timeout"`
	Gemini      ProviderConfig `yaml:"gemini"`
	SerpAPI     ProviderConfig `yaml:"serpapi"`
	LLM7        ProviderConfig `yaml:"llm7"`
	HistoryFile string         `yaml:"history_file"`
}

// AdminConfig holds access rules for /api/admin endpoints.
type AdminConfig struct {
	Token      string   `yaml:"token"`
	AllowCIDRs []string `yaml:"allow_cidrs"`
}

// Config mirrors the nexorax.yaml schema.
type Config struct {
	Log     LogConfig   `yaml:"log"`
	DataDir string      `yaml:"data_dir"`
	HTTP    HTTPConfig  `yaml:"http"`
	Auth    AuthConfig  `yaml:"auth"`
	Proxy   ProxyConfig `yaml:"proxy"`
	Admin   AdminConfig `yaml:"admin"`
}

// Load reads a YAML config file, applies defaults, and validates it.
// It returns a fully populated Config or a descriptive error.
func Load(path string) (Config, error) {
	var c Config
	if path == "" {
		return c, errors.New("config path is required")
	}
	b, err := os.ReadFile(path)
	if err != nil {
		return c, err
	}
	if err := yaml.Unmarshal(b, &c); err != nil {
		return c, err
	}
	return finish(c)
}

// LoadFile is Load followed by resolving relative paths (data dir,
// static dir, TLS files, log and history files) against the directory
// holding the config file.
func LoadFile(path string) (Config, error) {
	c, err := Load(path)
	if err != nil {
		return c, err
	}
	base := filepath.Dir(path)
	c.DataDir = resolvePath(base, c.DataDir)
	c.HTTP.StaticDir = resolvePath(base, c.HTTP.StaticDir)
	c.HTTP.TLS.CertPath = resolvePath(base, c.HTTP.TLS.CertPath)
	c.HTTP.TLS.KeyPath = resolvePath(base, c.HTTP.TLS.KeyPath)
	c.Log.File = resolvePath(base, c.Log.File)
	c.Proxy.HistoryFile = resolvePath(base, c.Proxy.HistoryFile)
	return c, nil
}

func resolvePath(baseDir, p string) string {
	p = strings.TrimSpace(p)
	if p == "" || filepath.IsAbs(p) {
		return p
	}
	return filepath.Join(baseDir, p)
}

// Default returns a validated Config with every default applied.
func Default() Config {
	c, _ := finish(Config{})
	return c
}

func finish(c Config) (Config, error) {
	applyDefaults(&c)
	if err := validate(&c); err != nil {
		return Config{}, err
	}
	c.DataDir = filepath.Clean(strings.TrimSpace(c.DataDir))
	c.HTTP.StaticDir = strings.TrimSpace(c.HTTP.StaticDir)
	c.HTTP.TLS.CertPath = strings.TrimSpace(c.HTTP.TLS.CertPath)
	c.HTTP.TLS.KeyPath = strings.TrimSpace(c.HTTP.TLS.KeyPath)
	return c, nil
}

// applyDefaults populates zero-values with sane defaults.
func applyDefaults(c *Config) {
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
	if c.DataDir == "" {
		c.DataDir = "./data"
	}
	if c.HTTP.Bind == "" {
		c.HTTP.Bind = "0.0.0.0"
	}
	if c.HTTP.Port == 0 {
		c.HTTP.Port = 5000
	}
	if c.HTTP.SecureCookies == "" {
		c.HTTP.SecureCookies = SecureAuto
	}
	if c.HTTP.MaxBodyKB == 0 {
		c.HTTP.MaxBodyKB = 10 * 1024
	}
	if c.HTTP.Burst == 0 {
		c.HTTP.Burst = 30
	}
	if c.Auth.SessionTTL == 0 {
		c.Auth.SessionTTL = 7 * 24 * time.Hour
	}
	if c.Auth.RememberTTL == 0 {
		c.Auth.RememberTTL = 30 * 24 * time.Hour
	}
	if c.Auth.AttemptWindow == 0 {
		c.Auth.AttemptWindow = 300 * time.Second
	}
	if c.Auth.MaxAttempts == 0 {
		c.Auth.MaxAttempts = 5
	}
	if c.Auth.SweepInterval == 0 {
		c.Auth.SweepInterval = time.Hour
	}
	if c.Proxy.Timeout == 0 {
		c.Proxy.Timeout = 30 * time.Second
	}
	if c.Proxy.LongTimeout == 0 {
		c.Proxy.LongTimeout = 60 * time.Second
	}
	if c.Proxy.Gemini.BaseURL == "" {
		c.Proxy.Gemini.BaseURL = "https://generativelanguage.googleapis.com/v1beta"
	}
	if c.Proxy.Gemini.Model == "" {
		c.Proxy.Gemini.Model = "gemini-2.5-flash"
	}
	if c.Proxy.SerpAPI.BaseURL == "" {
		c.Proxy.SerpAPI.BaseURL = "https://serpapi.com"
	}
	if c.Proxy.LLM7.BaseURL == "" {
		c.Proxy.LLM7.BaseURL = "https://api.llm7.io/v1"
	}
	if c.Proxy.LLM7.Model == "" {
		c.Proxy.LLM7.Model = "gpt-5-mini"
	}
}

// validate performs basic sanity checks for required fields and ranges.
// It does not mutate the config.
func validate(c *Config) error {
	if strings.TrimSpace(c.DataDir) == "" {
		return errors.New("data_dir is required")
	}
	if c.HTTP.Port <= 0 || c.HTTP.Port > 65535 {
		return errors.New("http.port is invalid")
	}
	switch c.HTTP.SecureCookies {
	case SecureAuto, SecureAlways, SecureNever:
	default:
		return fmt.Errorf("http.secure_cookies must be %s, %s or %s", SecureAuto, SecureAlways, SecureNever)
	}
	if c.HTTP.MaxBodyKB < 1 {
		return errors.New("http.max_body_kb is invalid")
	}
	if c.HTTP.RequestsPerSecond < 0 || c.HTTP.Burst < 0 {
		return errors.New("http.requests_per_second and http.burst must not be negative")
	}
	if (c.HTTP.TLS.CertPath == "") != (c.HTTP.TLS.KeyPath == "") {
		return errors.New("http.tls.cert_path and http.tls.key_path must be set together")
	}
	if c.Auth.SessionTTL < time.Minute || c.Auth.RememberTTL < c.Auth.SessionTTL {
		return errors.New("auth.session_ttl must be at least 1m and not exceed auth.remember_ttl")
	}
	if c.Auth.AttemptWindow <= 0 || c.Auth.MaxAttempts < 1 {
		return errors.New("auth.attempt_window and auth.max_attempts must be positive")
	}
	if c.Proxy.Timeout <= 0 || c.Proxy.LongTimeout < c.Proxy.Timeout {
		return errors.New("proxy.long_timeout must be at least proxy.timeout")
	}
	for _, s := range c.Admin.AllowCIDRs {
		if _, _, err := net.ParseCIDR(s); err != nil && net.ParseIP(s) == nil {
			return fmt.Errorf("admin.allow_cidrs: invalid entry %q", s)
		}
	}
	return nil
}

// Addr returns the listen address.
func (c Config) Addr() string {
	return net.JoinHostPort(c.HTTP.Bind, fmt.Sprint(c.HTTP.Port))
}

// HistoryPath returns proxy.history_file, or ai_history.jsonl inside
// the data dir when unset.
func (c Config) HistoryPath() string {
	if c.Proxy.HistoryFile != "" {
		return c.Proxy.HistoryFile
	}
	return filepath.Join(c.DataDir, "ai_history.jsonl")
}

// SecureCookie reports whether session cookies always carry Secure.
// In auto mode the request scheme can still turn it on per request.
func (c Config) SecureCookie() bool {
	switch c.HTTP.SecureCookies {
	case SecureAlways:
		return true
	case SecureNever:
		return false
	default:
		return c.HTTP.BehindHTTPS || c.HTTP.TLS.CertPath != ""
	}
}
