// Package config loads service settings from an optional YAML file and the
// environment. Environment variables win over the file.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"speech-preroll/internal/audio"
	"speech-preroll/internal/preroll"
)

type Config struct {
	Listen   string         `yaml:"listen"`
	Audio    AudioConfig    `yaml:"audio"`
	Logging  LoggingConfig  `yaml:"logging"`
	ASR      ASRConfig      `yaml:"asr"`
	Database DatabaseConfig `yaml:"database"`
	Minio    MinioConfig    `yaml:"minio"`
	Auth     AuthConfig     `yaml:"auth"`
}

type AudioConfig struct {
	SampleRate int `yaml:"sample_rate"`
	CapacityMs int `yaml:"capacity_ms"`
	WindowMs   int `yaml:"window_ms"`
	MaxAgeMs   int `yaml:"max_age_ms"`
}

func (a AudioConfig) Capacity() time.Duration { return audio.Millis(int64(a.CapacityMs)) }
func (a AudioConfig) Window() time.Duration   { return audio.Millis(int64(a.WindowMs)) }
func (a AudioConfig) MaxAge() time.Duration   { return audio.Millis(int64(a.MaxAgeMs)) }

type LoggingConfig struct {
	Level string `yaml:"level"`
	JSON  bool   `yaml:"json"`
}

type ASRConfig struct {
	BaseURL   string `yaml:"base_url"`
	TimeoutMs int    `yaml:"timeout_ms"`
}

type DatabaseConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Host     string `yaml:"host"`
	Port     string `yaml:"port"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	DBName   string `yaml:"dbname"`
	SSLMode  string `yaml:"sslmode"`
}

type MinioConfig struct {
	Enabled   bool   `yaml:"enabled"`
	Endpoint  string `yaml:"endpoint"`
	AccessKey string `yaml:"access_key"`
	SecretKey string `yaml:"secret_key"`
	Bucket    string `yaml:"bucket"`
	UseSSL    bool   `yaml:"use_ssl"`
	Prefix    string `yaml:"prefix"`
}

type AuthConfig struct {
	Issuer         string   `yaml:"issuer"`
	JWKSURL        string   `yaml:"jwks_url"`
	Audience       string   `yaml:"audience"`
	AllowedOrigins []string `yaml:"allowed_origins"`
}

func (a AuthConfig) Enabled() bool { return a.Issuer != "" }

func Default() *Config {
	return &Config{
		Listen: ":8080",
		Audio: AudioConfig{
			SampleRate: preroll.SampleRateHz,
			CapacityMs: preroll.CapacityMs,
			WindowMs:   int(preroll.DefaultWindow / time.Millisecond),
			MaxAgeMs:   int(preroll.DefaultMaxAge / time.Millisecond),
		},
		Logging: LoggingConfig{Level: "info"},
		ASR:     ASRConfig{TimeoutMs: 120000},
		Database: DatabaseConfig{
			Host:    "localhost",
			Port:    "5432",
			User:    "speech_preroll",
			DBName:  "speech_preroll",
			SSLMode: "disable",
		},
		Minio: MinioConfig{Prefix: "preroll"},
	}
}

// Load reads path (if non-empty) over the defaults, applies environment
// overrides and validates the result.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse yaml: %w", err)
		}
	}

	applyEnv(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

var ErrInvalid = errors.New("invalid config")

func (c *Config) Validate() error {
	var errs []error
	if strings.TrimSpace(c.Listen) == "" {
		errs = append(errs, errors.New("listen address is empty"))
	}
	if c.Audio.SampleRate <= 0 {
		errs = append(errs, fmt.Errorf("audio.sample_rate must be positive, got %d", c.Audio.SampleRate))
	}
	if c.Audio.CapacityMs <= 0 {
		errs = append(errs, fmt.Errorf("audio.capacity_ms must be positive, got %d", c.Audio.CapacityMs))
	}
	if c.Audio.WindowMs <= 0 {
		errs = append(errs, fmt.Errorf("audio.window_ms must be positive, got %d", c.Audio.WindowMs))
	}
	if c.Audio.MaxAgeMs <= 0 {
		errs = append(errs, fmt.Errorf("audio.max_age_ms must be positive, got %d", c.Audio.MaxAgeMs))
	}
	if c.Minio.Enabled && (c.Minio.Endpoint == "" || c.Minio.AccessKey == "" || c.Minio.SecretKey == "" || c.Minio.Bucket == "") {
		errs = append(errs, errors.New("minio config missing (endpoint, access_key, secret_key, bucket)"))
	}
	if len(errs) > 0 {
		return fmt.Errorf("%w: %w", ErrInvalid, errors.Join(errs...))
	}
	return nil
}

func applyEnv(cfg *Config) {
	cfg.Listen = getEnv("PREROLL_LISTEN", cfg.Listen)

	cfg.Audio.SampleRate = getEnvInt("PREROLL_SAMPLE_RATE", cfg.Audio.SampleRate)
	cfg.Audio.CapacityMs = getEnvInt("PREROLL_CAPACITY_MS", cfg.Audio.CapacityMs)
	cfg.Audio.WindowMs = getEnvInt("PREROLL_WINDOW_MS", cfg.Audio.WindowMs)
	cfg.Audio.MaxAgeMs = getEnvInt("PREROLL_MAX_AGE_MS", cfg.Audio.MaxAgeMs)

	cfg.Logging.Level = getEnv("LOG_LEVEL", cfg.Logging.Level)
	cfg.Logging.JSON = getEnvBool("LOG_JSON", cfg.Logging.JSON)

	cfg.ASR.BaseURL = getEnv("ASR_BASE_URL", cfg.ASR.BaseURL)

	cfg.Database.Enabled = getEnvBool("DB_ENABLED", cfg.Database.Enabled)
	cfg.Database.Host = getEnv("DB_HOST", cfg.Database.Host)
	cfg.Database.Port = getEnv("DB_PORT", cfg.Database.Port)
	cfg.Database.User = getEnv("DB_USER", cfg.Database.User)
	cfg.Database.Password = getEnv("DB_PASSWORD", cfg.Database.Password)
	cfg.Database.DBName = getEnv("DB_NAME", cfg.Database.DBName)

	cfg.Minio.Enabled = getEnvBool("MINIO_ENABLED", cfg.Minio.Enabled)
	cfg.Minio.Endpoint = getEnv("MINIO_ENDPOINT", cfg.Minio.Endpoint)
	cfg.Minio.AccessKey = getEnv("MINIO_ROOT_USER", cfg.Minio.AccessKey)
	cfg.Minio.SecretKey = getEnv("MINIO_ROOT_PASSWORD", cfg.Minio.SecretKey)
	cfg.Minio.Bucket = getEnv("MINIO_BUCKET", cfg.Minio.Bucket)
	cfg.Minio.UseSSL = getEnvBool("MINIO_USE_SSL", cfg.Minio.UseSSL)

	cfg.Auth.Issuer = getEnv("KEYCLOAK_ISSUER", cfg.Auth.Issuer)
	cfg.Auth.JWKSURL = getEnv("KEYCLOAK_JWKS_URL", cfg.Auth.JWKSURL)
	cfg.Auth.Audience = getEnv("KEYCLOAK_AUDIENCE", cfg.Auth.Audience)
	if origins := strings.TrimSpace(os.Getenv("ALLOWED_ORIGINS")); origins != "" {
		cfg.Auth.AllowedOrigins = nil
		for _, o := range strings.Split(origins, ",") {
			if o = strings.TrimSpace(o); o != "" {
				cfg.Auth.AllowedOrigins = append(cfg.Auth.AllowedOrigins, o)
			}
		}
	}
}

// getEnv gets environment variable with fallback default
func getEnv(key, defaultValue string) string {
	if value := strings.TrimSpace(os.Getenv(key)); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := strings.TrimSpace(os.Getenv(key)); value != "" {
		if n, err := strconv.Atoi(value); err == nil {
			return n
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := strings.TrimSpace(os.Getenv(key)); value != "" {
		return strings.EqualFold(value, "true") || value == "1"
	}
	return defaultValue
}
