package infra

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

// Config represents application configuration loaded from environment variables.
type Config struct {
	AppEnv   string
	DataDir  string
	RelayURL string
	Port     string

	NavyUpstreamURL string
	IrisUpstreamURL string
	OnyxUpstreamURL string

	CORSOrigins     []string
	RateLimit       int
	RateLimitWindow time.Duration

	HTTPTimeout      time.Duration
	HTTPReadTimeout  time.Duration
	HTTPWriteTimeout time.Duration
	HTTPIdleTimeout  time.Duration
}

// LoadConfig loads configuration from environment variables and applies
// defaults where needed. Nothing is strictly required for the studio itself;
// the relay additionally needs its upstream base URLs (RequireUpstreams).
func LoadConfig() (*Config, error) {
	cfg := &Config{
		AppEnv:           getEnv("STUDIO_ENV", "development"),
		DataDir:          getEnv("STUDIO_DATA_DIR", defaultDataDir()),
		RelayURL:         getEnv("STUDIO_RELAY_URL", "http://localhost:8080"),
		Port:             getEnv("PORT", "8080"),
		NavyUpstreamURL:  os.Getenv("NAVY_UPSTREAM_URL"),
		IrisUpstreamURL:  os.Getenv("IRIS_UPSTREAM_URL"),
		OnyxUpstreamURL:  os.Getenv("ONYX_UPSTREAM_URL"),
		CORSOrigins:      splitOrigins(getEnv("CORS_ALLOWED_ORIGINS", "http://localhost:5173")),
		RateLimit:        getEnvInt("RELAY_RATE_LIMIT", 120),
		RateLimitWindow:  time.Second * time.Duration(getEnvInt("RELAY_RATE_WINDOW_SECONDS", 60)),
		HTTPTimeout:      time.Second * time.Duration(getEnvInt("HTTP_TIMEOUT_SECONDS", 90)),
		HTTPReadTimeout:  time.Second * time.Duration(getEnvInt("HTTP_READ_TIMEOUT_SECONDS", 15)),
		HTTPWriteTimeout: time.Second * time.Duration(getEnvInt("HTTP_WRITE_TIMEOUT_SECONDS", 120)),
		HTTPIdleTimeout:  time.Second * time.Duration(getEnvInt("HTTP_IDLE_TIMEOUT_SECONDS", 60)),
	}
	return cfg, nil
}

// RequireUpstreams validates that every engine has an upstream base URL
// configured. The relay refuses to start without them; the studio never calls
// upstreams directly and does not need them.
func (c *Config) RequireUpstreams() error {
	if c.NavyUpstreamURL == "" {
		return fmt.Errorf("NAVY_UPSTREAM_URL is required")
	}
	if c.IrisUpstreamURL == "" {
		return fmt.Errorf("IRIS_UPSTREAM_URL is required")
	}
	if c.OnyxUpstreamURL == "" {
		return fmt.Errorf("ONYX_UPSTREAM_URL is required")
	}
	return nil
}

func defaultDataDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".studio"
	}
	return filepath.Join(home, ".studio")
}

func splitOrigins(raw string) []string {
	var origins []string
	for _, part := range strings.Split(raw, ",") {
		if origin := strings.TrimSpace(part); origin != "" {
			origins = append(origins, origin)
		}
	}
	return origins
}

func getEnv(key, fallback string) string {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		return v
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return fallback
}
