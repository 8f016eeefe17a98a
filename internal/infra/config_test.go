package infra

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func baseVars() map[string]string {
	return map[string]string{"UPSTREAM_BASE_URL": "https://api.example.com/"}
}

func TestParseConfigDefaults(t *testing.T) {
	cfg, err := ParseConfig(baseVars())
	if err != nil {
		t.Fatalf("ParseConfig returned error: %v", err)
	}
	if cfg.UpstreamBaseURL != "https://api.example.com" {
		t.Fatalf("UpstreamBaseURL not normalized: %q", cfg.UpstreamBaseURL)
	}
	if cfg.GeneratePath != "/v1/projects/{key}/generate" {
		t.Fatalf("GeneratePath = %q", cfg.GeneratePath)
	}
	if cfg.UpstreamTokenTTL != 60*time.Second {
		t.Fatalf("UpstreamTokenTTL = %v, want 60s", cfg.UpstreamTokenTTL)
	}
	if cfg.JobIdleTimeout != 10*time.Minute || cfg.JobRetention != 30*time.Minute {
		t.Fatalf("job timings = %v/%v", cfg.JobIdleTimeout, cfg.JobRetention)
	}
	if cfg.HTTPWriteTimeout != 0 {
		t.Fatalf("HTTPWriteTimeout = %v, want 0 for streaming", cfg.HTTPWriteTimeout)
	}
	if cfg.StorageBaseURL != "http://localhost:8080/results" {
		t.Fatalf("StorageBaseURL = %q", cfg.StorageBaseURL)
	}
}

func TestParseConfigInheritsPortInStorageBaseURL(t *testing.T) {
	vars := baseVars()
	vars["PORT"] = "1919"
	cfg, err := ParseConfig(vars)
	if err != nil {
		t.Fatalf("ParseConfig returned error: %v", err)
	}
	if cfg.StorageBaseURL != "http://localhost:1919/results" {
		t.Fatalf("StorageBaseURL mismatch: %q", cfg.StorageBaseURL)
	}
}

func TestParseConfigRequiresUpstream(t *testing.T) {
	if _, err := ParseConfig(map[string]string{}); err == nil {
		t.Fatalf("expected error without UPSTREAM_BASE_URL")
	}
}

func TestParseConfigProductionRequiresJWTSecret(t *testing.T) {
	vars := baseVars()
	vars["APP_ENV"] = "production"
	if _, err := ParseConfig(vars); err == nil {
		t.Fatalf("expected error without JWT_SECRET in production")
	}
	vars["JWT_SECRET"] = "s3cret"
	if _, err := ParseConfig(vars); err != nil {
		t.Fatalf("ParseConfig returned error: %v", err)
	}
}

func TestParseConfigRejectsPathWithoutKey(t *testing.T) {
	vars := baseVars()
	vars["UPSTREAM_GENERATE_PATH"] = "/v1/generate"
	if _, err := ParseConfig(vars); err == nil {
		t.Fatalf("expected error for path without {key}")
	}
}

func TestParseConfigAllowedOrigins(t *testing.T) {
	vars := baseVars()
	vars["ALLOWED_ORIGINS"] = "https://a.example.com, ,https://b.example.com "
	cfg, err := ParseConfig(vars)
	if err != nil {
		t.Fatalf("ParseConfig returned error: %v", err)
	}
	want := []string{"https://a.example.com", "https://b.example.com"}
	if len(cfg.AllowedOrigins) != len(want) {
		t.Fatalf("AllowedOrigins = %#v, want %#v", cfg.AllowedOrigins, want)
	}
	for i := range want {
		if cfg.AllowedOrigins[i] != want[i] {
			t.Fatalf("AllowedOrigins[%d] = %q, want %q", i, cfg.AllowedOrigins[i], want[i])
		}
	}
}

func TestParseConfigBadDuration(t *testing.T) {
	vars := baseVars()
	vars["JOB_IDLE_TIMEOUT"] = "soon"
	if _, err := ParseConfig(vars); err == nil {
		t.Fatalf("expected parse error for bad duration")
	}
}

func TestLoadEnvFilesSkipsMissing(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, ".env")
	if err := os.WriteFile(path, []byte("GENPIPE_TEST_VALUE=from-file\n"), 0o600); err != nil {
		t.Fatalf("write env file: %v", err)
	}
	t.Setenv("GENPIPE_TEST_VALUE", "")
	os.Unsetenv("GENPIPE_TEST_VALUE")

	if err := LoadEnvFiles(path, filepath.Join(dir, ".env.local")); err != nil {
		t.Fatalf("LoadEnvFiles returned error: %v", err)
	}
	if got := os.Getenv("GENPIPE_TEST_VALUE"); got != "from-file" {
		t.Fatalf("GENPIPE_TEST_VALUE = %q, want from-file", got)
	}
}

func TestSleepContextCanceled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	start := time.Now()
	if err := SleepContext(ctx, time.Hour); err == nil {
		t.Fatalf("expected context error")
	}
	if time.Since(start) > time.Second {
		t.Fatalf("SleepContext did not return promptly")
	}
}
