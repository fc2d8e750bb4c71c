// Package config loads platform configuration from YAML files with
// environment variable overrides.
package config

import (
	"fmt"
	"os"
	"strings"

	"github.com/joeshaw/envdecode"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config is the root configuration for the platform.
type Config struct {
	Server     ServerConfig     `yaml:"server"`
	Database   DatabaseConfig   `yaml:"database"`
	Redis      RedisConfig      `yaml:"redis"`
	Logging    LoggingConfig    `yaml:"logging"`
	Auth       AuthConfig       `yaml:"auth"`
	RateLimit  RateLimitConfig  `yaml:"rate_limit"`
	CORS       CORSConfig       `yaml:"cors"`
	Paths      PathsConfig      `yaml:"paths"`
	Validation ValidationConfig `yaml:"validation"`
	Anomaly    AnomalyConfig    `yaml:"anomaly"`
	Versioning VersioningConfig `yaml:"versioning"`
	Ledger     LedgerConfig     `yaml:"ledger"`
	Pipeline   PipelineConfig   `yaml:"pipeline"`
}

// ServerConfig controls the API and ops HTTP listeners.
type ServerConfig struct {
	Host                   string `yaml:"host" env:"VERITRACE_SERVER_HOST"`
	Port                   int    `yaml:"port" env:"VERITRACE_SERVER_PORT"`
	OpsPort                int    `yaml:"ops_port" env:"VERITRACE_OPS_PORT"`
	ReadTimeoutSeconds     int    `yaml:"read_timeout_seconds"`
	WriteTimeoutSeconds    int    `yaml:"write_timeout_seconds"`
	IdleTimeoutSeconds     int    `yaml:"idle_timeout_seconds"`
	ShutdownTimeoutSeconds int    `yaml:"shutdown_timeout_seconds"`
}

// DatabaseConfig controls the Postgres connection. An empty DSN selects
// the in-memory stores.
type DatabaseConfig struct {
	Driver          string `yaml:"driver" env:"VERITRACE_DB_DRIVER"`
	DSN             string `yaml:"dsn" env:"VERITRACE_DB_DSN"`
	MaxOpenConns    int    `yaml:"max_open_conns"`
	MaxIdleConns    int    `yaml:"max_idle_conns"`
	ConnMaxLifetime int    `yaml:"conn_max_lifetime_seconds"`
	Migrate         bool   `yaml:"migrate" env:"VERITRACE_DB_MIGRATE"`
}

// RedisConfig controls the optional report cache.
type RedisConfig struct {
	Enabled    bool   `yaml:"enabled" env:"VERITRACE_REDIS_ENABLED"`
	Addr       string `yaml:"addr" env:"VERITRACE_REDIS_ADDR"`
	Password   string `yaml:"password" env:"VERITRACE_REDIS_PASSWORD"`
	DB         int    `yaml:"db"`
	TTLSeconds int    `yaml:"ttl_seconds"`
}

// LoggingConfig controls application logging.
type LoggingConfig struct {
	Level      string `yaml:"level" env:"VERITRACE_LOG_LEVEL"`
	Format     string `yaml:"format" env:"VERITRACE_LOG_FORMAT"`
	Output     string `yaml:"output" env:"VERITRACE_LOG_OUTPUT"`
	FilePrefix string `yaml:"file_prefix"`
}

// AuthConfig controls API authentication. Disabled by default so the
// API matches the open behaviour of a local deployment.
type AuthConfig struct {
	Enabled         bool   `yaml:"enabled" env:"VERITRACE_AUTH_ENABLED"`
	JWTSecret       string `yaml:"jwt_secret" env:"VERITRACE_JWT_SECRET"`
	TokenTTLMinutes int    `yaml:"token_ttl_minutes"`
	OptionalReads   bool   `yaml:"optional_reads"`
	AdminUsername   string `yaml:"admin_username" env:"VERITRACE_ADMIN_USERNAME"`
	AdminPassword   string `yaml:"admin_password" env:"VERITRACE_ADMIN_PASSWORD"`
}

// RateLimitConfig controls per-client request limiting.
type RateLimitConfig struct {
	Enabled           bool `yaml:"enabled" env:"VERITRACE_RATELIMIT_ENABLED"`
	RequestsPerSecond int  `yaml:"requests_per_second"`
	Burst             int  `yaml:"burst"`
}

// CORSConfig controls cross-origin access to the API.
type CORSConfig struct {
	AllowedOrigins []string `yaml:"allowed_origins"`
}

// PathsConfig locates the working directories of the platform.
type PathsConfig struct {
	DataDir      string `yaml:"data_dir" env:"VERITRACE_DATA_DIR"`
	StagingDir   string `yaml:"staging_dir"`
	ProcessedDir string `yaml:"processed_dir" env:"VERITRACE_PROCESSED_DIR"`
	LogsDir      string `yaml:"logs_dir"`
}

// ValidationConfig holds the data quality thresholds. Percentages are
// expressed 0-100.
type ValidationConfig struct {
	MissingHighPct     float64 `yaml:"missing_high_pct"`
	MissingMediumPct   float64 `yaml:"missing_medium_pct"`
	DuplicateMediumPct float64 `yaml:"duplicate_medium_pct"`
	OutlierZScore      float64 `yaml:"outlier_z_score"`
	OutlierMediumPct   float64 `yaml:"outlier_medium_pct"`
	NumericStringRatio float64 `yaml:"numeric_string_ratio"`
}

// AnomalyConfig selects and tunes the anomaly detection method.
type AnomalyConfig struct {
	Method          string  `yaml:"method" env:"VERITRACE_ANOMALY_METHOD"`
	ZScoreThreshold float64 `yaml:"z_score_threshold"`
	MADThreshold    float64 `yaml:"mad_threshold"`
	IQRFactor       float64 `yaml:"iqr_factor"`
}

// VersioningConfig names the simulated data repository.
type VersioningConfig struct {
	Repository    string `yaml:"repository" env:"VERITRACE_VERSIONING_REPO"`
	DefaultBranch string `yaml:"default_branch"`
}

// LedgerConfig controls the simulated audit ledger.
type LedgerConfig struct {
	Author  string `yaml:"author"`
	LogPath string `yaml:"log_path" env:"VERITRACE_LEDGER_LOG"`
}

// PipelineConfig holds scheduled pipeline definitions.
type PipelineConfig struct {
	Schedules []ScheduleConfig `yaml:"schedules"`
}

// ScheduleConfig is one cron-driven pipeline run.
type ScheduleConfig struct {
	Name   string `yaml:"name"`
	Spec   string `yaml:"spec"`
	Source string `yaml:"source"`
	Output string `yaml:"output"`
	Branch string `yaml:"branch"`
}

// Default returns the configuration used when no file is present.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Host:                   "0.0.0.0",
			Port:                   8000,
			OpsPort:                9090,
			ReadTimeoutSeconds:     15,
			WriteTimeoutSeconds:    60,
			IdleTimeoutSeconds:     120,
			ShutdownTimeoutSeconds: 10,
		},
		Database: DatabaseConfig{
			Driver:          "postgres",
			MaxOpenConns:    10,
			MaxIdleConns:    5,
			ConnMaxLifetime: 300,
			Migrate:         true,
		},
		Redis: RedisConfig{
			Addr:       "localhost:6379",
			TTLSeconds: 300,
		},
		Logging: LoggingConfig{
			Level:      "info",
			Format:     "text",
			Output:     "stdout",
			FilePrefix: "logs/veritrace",
		},
		Auth: AuthConfig{
			TokenTTLMinutes: 1440,
			OptionalReads:   true,
			AdminUsername:   "admin",
		},
		RateLimit: RateLimitConfig{
			Enabled:           true,
			RequestsPerSecond: 25,
			Burst:             50,
		},
		CORS: CORSConfig{
			AllowedOrigins: []string{"*"},
		},
		Paths: PathsConfig{
			DataDir:      "data_sources",
			StagingDir:   "staging",
			ProcessedDir: "processed",
			LogsDir:      "logs",
		},
		Validation: ValidationConfig{
			MissingHighPct:     50,
			MissingMediumPct:   10,
			DuplicateMediumPct: 5,
			OutlierZScore:      3,
			OutlierMediumPct:   5,
			NumericStringRatio: 0.8,
		},
		Anomaly: AnomalyConfig{
			Method:          "zscore",
			ZScoreThreshold: 3,
			MADThreshold:    3.5,
			IQRFactor:       1.5,
		},
		Versioning: VersioningConfig{
			Repository:    "veritrace-repo",
			DefaultBranch: "main",
		},
		Ledger: LedgerConfig{
			Author:  "VeriTracePlatform",
			LogPath: "blockchain/audit_log.jsonl",
		},
	}
}

// Load reads configuration from CONFIG_FILE (default config/veritrace.yaml)
// and applies environment overrides. A missing file is not an error; the
// defaults are used. A .env file in the working directory is loaded first
// when present.
func Load() (*Config, error) {
	_ = godotenv.Load()

	path := os.Getenv("CONFIG_FILE")
	if path == "" {
		path = "config/veritrace.yaml"
	}
	return LoadFromPath(path)
}

// LoadFromPath reads configuration from a specific file path.
func LoadFromPath(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case os.IsNotExist(err):
			// fall through to defaults
		case err != nil:
			return nil, fmt.Errorf("read config %s: %w", path, err)
		default:
			if err := yaml.Unmarshal(data, cfg); err != nil {
				return nil, fmt.Errorf("parse config %s: %w", path, err)
			}
		}
	}

	// No environment overrides present is fine; only real decode
	// failures (bad values, missing required vars) should surface.
	if err := envdecode.Decode(cfg); err != nil &&
		err != envdecode.ErrInvalidTarget && err != envdecode.ErrNoTargetFieldsAreSet {
		return nil, fmt.Errorf("apply environment overrides: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks the configuration for values that cannot work.
func (c *Config) Validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port %d out of range", c.Server.Port)
	}
	if c.Server.OpsPort < 0 || c.Server.OpsPort > 65535 {
		return fmt.Errorf("server.ops_port %d out of range", c.Server.OpsPort)
	}
	if c.Database.DSN != "" && c.Database.Driver == "" {
		return fmt.Errorf("database.driver is required when database.dsn is set")
	}
	if c.Auth.Enabled && strings.TrimSpace(c.Auth.JWTSecret) == "" {
		return fmt.Errorf("auth.jwt_secret is required when auth is enabled")
	}
	if c.RateLimit.Enabled && c.RateLimit.RequestsPerSecond <= 0 {
		return fmt.Errorf("rate_limit.requests_per_second must be positive")
	}
	if c.Validation.MissingHighPct < c.Validation.MissingMediumPct {
		return fmt.Errorf("validation.missing_high_pct must be >= missing_medium_pct")
	}
	switch strings.ToLower(c.Anomaly.Method) {
	case "", "zscore", "iqr", "mad":
	default:
		return fmt.Errorf("anomaly.method %q is not one of zscore, iqr, mad", c.Anomaly.Method)
	}
	for i, sched := range c.Pipeline.Schedules {
		if strings.TrimSpace(sched.Spec) == "" {
			return fmt.Errorf("pipeline.schedules[%d]: spec is required", i)
		}
		if strings.TrimSpace(sched.Source) == "" {
			return fmt.Errorf("pipeline.schedules[%d]: source is required", i)
		}
	}
	return nil
}

// Addr returns the API listen address.
func (c ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// OpsAddr returns the ops listener address, or empty when disabled.
func (c ServerConfig) OpsAddr() string {
	if c.OpsPort == 0 {
		return ""
	}
	return fmt.Sprintf("%s:%d", c.Host, c.OpsPort)
}
