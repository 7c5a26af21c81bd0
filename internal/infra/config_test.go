package infra

import "testing"

func TestLoadConfigDefaults(t *testing.T) {
	t.Setenv("STUDIO_ENV", "")
	t.Setenv("STUDIO_RELAY_URL", "")
	t.Setenv("PORT", "")
	t.Setenv("HTTP_TIMEOUT_SECONDS", "")

	cfg, err := LoadConfig()
	if err != nil {
		t.Fatalf("LoadConfig returned error: %v", err)
	}
	if cfg.AppEnv != "development" {
		t.Fatalf("AppEnv = %q, want development", cfg.AppEnv)
	}
	if cfg.RelayURL != "http://localhost:8080" {
		t.Fatalf("RelayURL = %q, want http://localhost:8080", cfg.RelayURL)
	}
	if cfg.Port != "8080" {
		t.Fatalf("Port = %q, want 8080", cfg.Port)
	}
	if cfg.DataDir == "" {
		t.Fatalf("DataDir should never be empty")
	}
	if cfg.HTTPTimeout.Seconds() != 90 {
		t.Fatalf("HTTPTimeout = %v, want 90s", cfg.HTTPTimeout)
	}
	if cfg.RateLimit != 120 {
		t.Fatalf("RateLimit = %d, want 120", cfg.RateLimit)
	}
	if cfg.RateLimitWindow.Seconds() != 60 {
		t.Fatalf("RateLimitWindow = %v, want 60s", cfg.RateLimitWindow)
	}
}

func TestLoadConfigSplitsCORSOrigins(t *testing.T) {
	t.Setenv("CORS_ALLOWED_ORIGINS", "http://localhost:5173, https://studio.example ,")

	cfg, err := LoadConfig()
	if err != nil {
		t.Fatalf("LoadConfig returned error: %v", err)
	}
	want := []string{"http://localhost:5173", "https://studio.example"}
	if len(cfg.CORSOrigins) != len(want) {
		t.Fatalf("CORSOrigins = %v, want %v", cfg.CORSOrigins, want)
	}
	for i := range want {
		if cfg.CORSOrigins[i] != want[i] {
			t.Fatalf("CORSOrigins[%d] = %q, want %q", i, cfg.CORSOrigins[i], want[i])
		}
	}
}

func TestLoadConfigHonorsEnvironment(t *testing.T) {
	t.Setenv("STUDIO_ENV", "production")
	t.Setenv("STUDIO_DATA_DIR", "/var/lib/studio")
	t.Setenv("STUDIO_RELAY_URL", "http://relay.internal:9090")
	t.Setenv("HTTP_TIMEOUT_SECONDS", "30")

	cfg, err := LoadConfig()
	if err != nil {
		t.Fatalf("LoadConfig returned error: %v", err)
	}
	if cfg.AppEnv != "production" {
		t.Fatalf("AppEnv = %q, want production", cfg.AppEnv)
	}
	if cfg.DataDir != "/var/lib/studio" {
		t.Fatalf("DataDir = %q, want /var/lib/studio", cfg.DataDir)
	}
	if cfg.RelayURL != "http://relay.internal:9090" {
		t.Fatalf("RelayURL = %q, want http://relay.internal:9090", cfg.RelayURL)
	}
	if cfg.HTTPTimeout.Seconds() != 30 {
		t.Fatalf("HTTPTimeout = %v, want 30s", cfg.HTTPTimeout)
	}
}

func TestRequireUpstreams(t *testing.T) {
	t.Setenv("NAVY_UPSTREAM_URL", "https://navy.upstream.example")
	t.Setenv("IRIS_UPSTREAM_URL", "")
	t.Setenv("ONYX_UPSTREAM_URL", "https://onyx.upstream.example")

	cfg, err := LoadConfig()
	if err != nil {
		t.Fatalf("LoadConfig returned error: %v", err)
	}
	if err := cfg.RequireUpstreams(); err == nil {
		t.Fatalf("RequireUpstreams should fail when an upstream is missing")
	}

	cfg.IrisUpstreamURL = "https://iris.upstream.example"
	if err := cfg.RequireUpstreams(); err != nil {
		t.Fatalf("RequireUpstreams returned error: %v", err)
	}
}
