package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"

	"github.com/knadh/koanf/parsers/dotenv"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

// Environment variables that override YAML values.
const (
	EnvPort       = "PORT"
	EnvHost       = "HOST"
	EnvDataDir    = "NEXORAX_DATA_DIR"
	EnvLogLevel   = "NEXORAX_LOG_LEVEL"
	EnvLogFile    = "NEXORAX_LOG_FILE"
	EnvStaticDir  = "NEXORAX_STATIC_DIR"
	EnvAdminToken = "NEXORAX_ADMIN_TOKEN"
	EnvGeminiKey  = "GEMINI_API_KEY"
	EnvSerpAPIKey = "SERPAPI_API_KEY"
	EnvLLM7Key    = "LLM7_API_KEY"
)

// Variables set by hosting platforms that terminate TLS in front of us.
var httpsHostEnv = []string{
	"RENDER",
	"RENDER_EXTERNAL_URL",
	"REPLIT_DOMAIN",
	"REPLIT_DEV_DOMAIN",
	"KOYEB_APP_NAME",
}

// LoadEnv reads an optional .env file and then the process environment.
// Process variables win over .env entries.
func LoadEnv(envFile string) (*koanf.Koanf, error) {
	k := koanf.New(".")
	if envFile != "" {
		if _, err := os.Stat(envFile); err == nil {
			if err := k.Load(file.Provider(envFile), dotenv.Parser()); err != nil {
				return nil, fmt.Errorf("load %s: %w", envFile, err)
			}
		} else if !errors.Is(err, fs.ErrNotExist) {
			return nil, err
		}
	}
	if err := k.Load(env.Provider("", ".", nil), nil); err != nil {
		return nil, fmt.Errorf("load environment: %w", err)
	}
	return k, nil
}

// Overlay applies .env and environment overrides to c and re-validates.
func Overlay(c *Config, envFile string) error {
	k, err := LoadEnv(envFile)
	if err != nil {
		return err
	}
	return apply(c, k)
}

func apply(c *Config, k *koanf.Koanf) error {
	get := func(key string) string { return strings.TrimSpace(k.String(key)) }

	if v := get(EnvPort); v != "" {
		port, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("%s: %w", EnvPort, err)
		}
		c.HTTP.Port = port
	}
	setIf(&c.HTTP.Bind, get(EnvHost))
	setIf(&c.DataDir, get(EnvDataDir))
	setIf(&c.Log.Level, get(EnvLogLevel))
	setIf(&c.Log.File, get(EnvLogFile))
	setIf(&c.HTTP.StaticDir, get(EnvStaticDir))
	setIf(&c.Admin.Token, get(EnvAdminToken))
	setIf(&c.Proxy.Gemini.APIKey, get(EnvGeminiKey))
	setIf(&c.Proxy.SerpAPI.APIKey, get(EnvSerpAPIKey))
	setIf(&c.Proxy.LLM7.APIKey, get(EnvLLM7Key))

	c.HTTP.BehindHTTPS = DetectHTTPS(get)
	if len(c.HTTP.AllowedOrigins) == 0 {
		c.HTTP.AllowedOrigins = hostOrigins(get, c.HTTP.Port)
	}

	out, err := finish(*c)
	if err != nil {
		return err
	}
	*c = out
	return nil
}

func setIf(dst *string, v string) {
	if v != "" {
		*dst = v
	}
}

// DetectHTTPS reports whether a known TLS-terminating host is present.
func DetectHTTPS(get func(string) string) bool {
	for _, key := range httpsHostEnv {
		if get(key) != "" {
			return true
		}
	}
	return false
}

// hostOrigins builds the CORS allow list from the hosting environment.
// Render and Replit serve the app through proxies and iframes with
// varying origins, so both get "*".
func hostOrigins(get func(string) string, port int) []string {
	if get("RENDER") != "" || get("REPLIT_DOMAIN") != "" || get("REPLIT_DEV_DOMAIN") != "" {
		return []string{"*"}
	}
	origins := []string{
		fmt.Sprintf("http://localhost:%d", port),
		fmt.Sprintf("http://127.0.0.1:%d", port),
	}
	if u := get("RENDER_EXTERNAL_URL"); u != "" {
		origins = append(origins, strings.TrimRight(u, "/"))
	}
	if svc := get("RENDER_SERVICE_NAME"); svc != "" {
		origins = append(origins, "https://"+svc+".onrender.com")
	}
	return origins
}
