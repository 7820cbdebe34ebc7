package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"
	"time"

	"trackresync/internal/models"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

const (
	BackendSQLite = "sqlite"
	BackendRedis  = "redis"
	BackendMemory = "memory"

	TrackerTypeREST   = "rest"
	TrackerTypeSheets = "sheets"
)

type Config struct {
	App        AppConfig        `yaml:"app"`
	Database   DatabaseConfig   `yaml:"database"`
	Redis      RedisConfig      `yaml:"redis"`
	Pending    PendingConfig    `yaml:"pending"`
	Reconciler ReconcilerConfig `yaml:"reconciler"`
	Scheduler  SchedulerConfig  `yaml:"scheduler"`
	Network    NetworkConfig    `yaml:"network"`
	Trackers   []TrackerConfig  `yaml:"trackers"`
	API        APIConfig        `yaml:"api"`
	Backup     BackupConfig     `yaml:"backup"`
	Monitoring MonitoringConfig `yaml:"monitoring"`
	Logging    LoggingConfig    `yaml:"logging"`
	Exports    ExportConfig     `yaml:"exports"`
}

type AppConfig struct {
	Name        string `yaml:"name"`
	Environment string `yaml:"environment"`
	Version     string `yaml:"version"`
}

type DatabaseConfig struct {
	Path string `yaml:"path"`
}

type RedisConfig struct {
	Address  string `yaml:"address"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
	PoolSize int    `yaml:"pool_size"`
	Prefix   string `yaml:"prefix"`
}

// PendingConfig selects where pending markers live.
type PendingConfig struct {
	Backend string `yaml:"backend"`
}

type ReconcilerConfig struct {
	// Concurrency bounds the number of items of one kind processed at once.
	Concurrency int `yaml:"concurrency"`
}

type SchedulerConfig struct {
	InitialBackoff time.Duration `yaml:"initial_backoff"`
	MaxBackoff     time.Duration `yaml:"max_backoff"`
	BackoffFactor  float64       `yaml:"backoff_factor"`
	MaxRetries     int           `yaml:"max_retries"`
}

type NetworkConfig struct {
	ProbeAddress  string        `yaml:"probe_address"`
	ProbeInterval time.Duration `yaml:"probe_interval"`
	ProbeTimeout  time.Duration `yaml:"probe_timeout"`
}

type TrackerConfig struct {
	ID   int64  `yaml:"id"`
	Name string `yaml:"name"`
	Type string `yaml:"type"`

	// rest
	BaseURL      string   `yaml:"base_url"`
	Token        string   `yaml:"token"`
	ClientID     string   `yaml:"client_id"`
	ClientSecret string   `yaml:"client_secret"`
	TokenURL     string   `yaml:"token_url"`
	Scopes       []string `yaml:"scopes"`
	RPS          float64  `yaml:"rps"`
	Burst        int      `yaml:"burst"`

	// sheets
	CredentialsFile string `yaml:"credentials_file"`
	SpreadsheetID   string `yaml:"spreadsheet_id"`
}

type APIConfig struct {
	Enabled   bool               `yaml:"enabled"`
	HTTP      APIHTTPConfig      `yaml:"http"`
	GRPC      APIGRPCConfig      `yaml:"grpc"`
	Auth      APIAuthConfig      `yaml:"auth"`
	RateLimit APIRateLimitConfig `yaml:"rate_limit"`
}

type APIHTTPConfig struct {
	Enabled bool `yaml:"enabled"`
	Port    int  `yaml:"port"`
}

type APIGRPCConfig struct {
	Enabled    bool         `yaml:"enabled"`
	Port       int          `yaml:"port"`
	Reflection bool         `yaml:"reflection"`
	TLS        APITLSConfig `yaml:"tls"`
}

type APITLSConfig struct {
	Enabled           bool   `yaml:"enabled"`
	CertFile          string `yaml:"cert_file"`
	KeyFile           string `yaml:"key_file"`
	ClientCAFile      string `yaml:"client_ca_file"`
	RequireClientCert bool   `yaml:"require_client_cert"`
}

type APIAuthConfig struct {
	Enabled      bool           `yaml:"enabled"`
	HeaderAPIKey string         `yaml:"header_api_key"`
	HeaderExtra  string         `yaml:"header_extra"`
	APIKeys      []APIClientKey `yaml:"api_keys"`
}

type APIClientKey struct {
	Key         string   `yaml:"key"`
	Extra       string   `yaml:"extra"`
	Name        string   `yaml:"name"`
	Permissions []string `yaml:"permissions"`
}

type APIRateLimitConfig struct {
	RPS   float64 `yaml:"rps"`
	Burst int     `yaml:"burst"`
}

type BackupConfig struct {
	Enabled       bool   `yaml:"enabled"`
	Schedule      string `yaml:"schedule"`
	RetentionDays int    `yaml:"retention_days"`
	StoragePath   string `yaml:"storage_path"`
}

type MonitoringConfig struct {
	PrometheusEnabled bool `yaml:"prometheus_enabled"`
	PrometheusPort    int  `yaml:"prometheus_port"`
}

type LoggingConfig struct {
	Level    string `yaml:"level"`
	Format   string `yaml:"format"`
	Output   string `yaml:"output"`
	FilePath string `yaml:"file_path"`
}

type ExportConfig struct {
	Path string `yaml:"path"`
}

// Load reads the YAML file at configPath, expanding ${VAR} references from the environment
// and an optional .env file in the working directory.
func Load(configPath string) (*Config, error) {
	if err := godotenv.Load(".env"); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("load .env: %w", err)
	}

	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	expandedData := []byte(os.ExpandEnv(string(data)))

	var config Config
	if err := yaml.Unmarshal(expandedData, &config); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	config.applyDefaults()

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &config, nil
}

func (c *Config) Validate() error {
	if c.Database.Path == "" {
		return errors.New("database path is required")
	}

	switch c.Pending.Backend {
	case BackendSQLite, BackendMemory:
	case BackendRedis:
		if c.Redis.Address == "" {
			return errors.New("pending.backend=redis requires redis.address")
		}
	default:
		return fmt.Errorf("unknown pending backend %q", c.Pending.Backend)
	}

	if c.Reconciler.Concurrency < 1 {
		return fmt.Errorf("reconciler.concurrency must be >= 1, got %d", c.Reconciler.Concurrency)
	}

	return ValidateTrackers(c.Trackers)
}

func ValidateTrackers(trackers []TrackerConfig) error {
	ids := make(map[int64]bool)
	for _, t := range trackers {
		if t.ID == 0 {
			return fmt.Errorf("tracker '%s' has invalid ID 0", t.Name)
		}
		if ids[t.ID] {
			return fmt.Errorf("duplicate tracker ID found: %d", t.ID)
		}
		ids[t.ID] = true

		switch t.Type {
		case TrackerTypeREST:
			if t.BaseURL == "" {
				return fmt.Errorf("tracker %d: base_url is required", t.ID)
			}
		case TrackerTypeSheets:
			if t.SpreadsheetID == "" {
				return fmt.Errorf("tracker %d: spreadsheet_id is required", t.ID)
			}
		default:
			return fmt.Errorf("tracker %d: unknown type %q", t.ID, t.Type)
		}
	}
	return nil
}

func (c *Config) applyDefaults() {
	if c.App.Name == "" {
		c.App.Name = "trackresync"
	}

	c.Pending.Backend = strings.ToLower(strings.TrimSpace(c.Pending.Backend))
	if c.Pending.Backend == "" {
		c.Pending.Backend = BackendSQLite
	}
	if c.Redis.Prefix == "" {
		c.Redis.Prefix = models.DefaultRedisPendingPrefix
	}

	if c.Reconciler.Concurrency == 0 {
		c.Reconciler.Concurrency = 1
	}

	if c.Scheduler.InitialBackoff == 0 {
		c.Scheduler.InitialBackoff = models.DefaultDispatchBackoff
	}
	if c.Scheduler.MaxBackoff == 0 {
		c.Scheduler.MaxBackoff = models.MaxDispatchBackoff
	}
	if c.Scheduler.BackoffFactor == 0 {
		c.Scheduler.BackoffFactor = 2
	}

	if c.Network.ProbeAddress == "" {
		c.Network.ProbeAddress = models.DefaultProbeAddress
	}
	if c.Network.ProbeInterval == 0 {
		c.Network.ProbeInterval = models.DefaultProbeInterval
	}
	if c.Network.ProbeTimeout == 0 {
		c.Network.ProbeTimeout = models.DefaultProbeTimeout
	}

	for i := range c.Trackers {
		c.Trackers[i].Type = strings.ToLower(strings.TrimSpace(c.Trackers[i].Type))
		if c.Trackers[i].Type == "" {
			c.Trackers[i].Type = TrackerTypeREST
		}
	}

	if c.API.GRPC.Port == 0 {
		c.API.GRPC.Port = 8081
	}
	if c.API.HTTP.Port == 0 {
		c.API.HTTP.Port = 8080
	}
	if !c.API.HTTP.Enabled && c.API.Enabled {
		c.API.HTTP.Enabled = true
	}
	if c.API.Auth.HeaderAPIKey == "" {
		c.API.Auth.HeaderAPIKey = "x-api-key"
	}
	if c.API.Auth.HeaderExtra == "" {
		c.API.Auth.HeaderExtra = "x-api-extra"
	}

	if c.Monitoring.PrometheusEnabled && c.Monitoring.PrometheusPort == 0 {
		c.Monitoring.PrometheusPort = 9090
	}

	if c.Exports.Path == "" {
		c.Exports.Path = "exports"
	}
}
