package config

import (
	"errors"
	"math"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Audio.SampleRate != 16000 {
		t.Errorf("SampleRate = %d, want 16000", cfg.Audio.SampleRate)
	}
	if cfg.Audio.Capacity() != 2500*time.Millisecond {
		t.Errorf("Capacity = %v, want 2.5s", cfg.Audio.Capacity())
	}
	if cfg.Audio.Window() != 1600*time.Millisecond {
		t.Errorf("Window = %v, want 1.6s", cfg.Audio.Window())
	}
	if cfg.Audio.MaxAge() != 10*time.Second {
		t.Errorf("MaxAge = %v, want 10s", cfg.Audio.MaxAge())
	}
	if cfg.Database.Enabled || cfg.Minio.Enabled || cfg.Auth.Enabled() {
		t.Error("optional integrations should be disabled by default")
	}
}

func TestLoad_YAML(t *testing.T) {
	path := writeConfig(t, `
listen: "127.0.0.1:9000"
audio:
  sample_rate: 8000
  window_ms: 1000
logging:
  level: debug
  json: true
asr:
  base_url: http://asr:8003
database:
  enabled: true
  host: db
auth:
  issuer: https://id.example.com/realms/voice
  allowed_origins: ["https://app.example.com"]
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Listen != "127.0.0.1:9000" {
		t.Errorf("Listen = %q", cfg.Listen)
	}
	if cfg.Audio.SampleRate != 8000 || cfg.Audio.WindowMs != 1000 {
		t.Errorf("Audio = %+v", cfg.Audio)
	}
	if cfg.Audio.CapacityMs != 2500 {
		t.Errorf("CapacityMs = %d, want default 2500", cfg.Audio.CapacityMs)
	}
	if cfg.Logging.Level != "debug" || !cfg.Logging.JSON {
		t.Errorf("Logging = %+v", cfg.Logging)
	}
	if !cfg.Database.Enabled || cfg.Database.Host != "db" || cfg.Database.Port != "5432" {
		t.Errorf("Database = %+v", cfg.Database)
	}
	if !cfg.Auth.Enabled() || len(cfg.Auth.AllowedOrigins) != 1 {
		t.Errorf("Auth = %+v", cfg.Auth)
	}
}

func TestLoad_EnvOverridesFile(t *testing.T) {
	path := writeConfig(t, "listen: \":9000\"\naudio:\n  max_age_ms: 3000\n")
	t.Setenv("PREROLL_LISTEN", ":7000")
	t.Setenv("PREROLL_MAX_AGE_MS", "4500")
	t.Setenv("DB_ENABLED", "true")
	t.Setenv("ALLOWED_ORIGINS", "https://a.example, https://b.example ,")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Listen != ":7000" {
		t.Errorf("Listen = %q, want :7000", cfg.Listen)
	}
	if cfg.Audio.MaxAgeMs != 4500 {
		t.Errorf("MaxAgeMs = %d, want 4500", cfg.Audio.MaxAgeMs)
	}
	if !cfg.Database.Enabled {
		t.Error("DB_ENABLED should enable the database")
	}
	if len(cfg.Auth.AllowedOrigins) != 2 || cfg.Auth.AllowedOrigins[1] != "https://b.example" {
		t.Errorf("AllowedOrigins = %v", cfg.Auth.AllowedOrigins)
	}
}

func TestLoad_MissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "nope.yaml")); err == nil {
		t.Fatal("expected error for missing file")
	}
}

func TestLoad_BadYAML(t *testing.T) {
	path := writeConfig(t, "audio: [not, a, map]\n")
	if _, err := Load(path); err == nil {
		t.Fatal("expected parse error")
	}
}

func TestValidate(t *testing.T) {
	cfg := Default()
	cfg.Audio.SampleRate = 0
	cfg.Audio.WindowMs = -1
	cfg.Minio.Enabled = true

	err := cfg.Validate()
	if err == nil {
		t.Fatal("expected validation error")
	}
	if !errors.Is(err, ErrInvalid) {
		t.Errorf("error %v should wrap ErrInvalid", err)
	}
}

func TestValidate_RejectsZeroWindowAndMaxAge(t *testing.T) {
	for _, field := range []string{"window_ms", "max_age_ms"} {
		cfg := Default()
		if field == "window_ms" {
			cfg.Audio.WindowMs = 0
		} else {
			cfg.Audio.MaxAgeMs = 0
		}
		err := cfg.Validate()
		if !errors.Is(err, ErrInvalid) {
			t.Fatalf("%s = 0: err = %v, want ErrInvalid", field, err)
		}
		if !strings.Contains(err.Error(), field) {
			t.Errorf("%s = 0: error %q should name the field", field, err)
		}
	}
}

func TestAudioConfig_LargeMillisSaturate(t *testing.T) {
	a := AudioConfig{MaxAgeMs: math.MaxInt}
	if got := a.MaxAge(); got != math.MaxInt64 {
		t.Errorf("MaxAge() = %v, want saturated", got)
	}
}
