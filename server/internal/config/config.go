package config

import (
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Default values for the server configuration.
const (
	DefaultHTTPPort       = 8000
	DefaultStorePath      = "database_hcd.json"
	DefaultDocument       = "main"
	DefaultHealthInterval = 15 * time.Second
	DefaultHeader         = "x-api-key"
	DefaultKeyEnv         = "FHIRLITE_API_KEY"
	DefaultLogLevel       = "info"
)

// Storage backends.
const (
	BackendFile     = "file"
	BackendMemory   = "memory"
	BackendPostgres = "postgres"
)

// Config holds the server configuration parsed from the `server:` section
// of the config file.
type Config struct {
	Server ServerConfig `yaml:"server"`
}

// ServerConfig holds all server-side settings.
type ServerConfig struct {
	// HTTPPort is the port the REST API, metrics and audit feed listen on.
	HTTPPort int `yaml:"http_port"`

	// GRPCPort is the port of the gRPC health service. Zero disables it.
	GRPCPort int `yaml:"grpc_port"`

	Auth   AuthConfig   `yaml:"auth"`
	Store  StoreConfig  `yaml:"store"`
	Audit  AuditConfig  `yaml:"audit"`
	Health HealthConfig `yaml:"health"`
	Log    LogConfig    `yaml:"log"`
}

// AuthConfig controls client authentication.
type AuthConfig struct {
	// Mode is one of: apikey | none.
	Mode string `yaml:"mode"`

	// KeyEnv is the name of the environment variable that holds the expected API key.
	// Used when Mode == "apikey".
	KeyEnv string `yaml:"key_env"`

	// Header is the HTTP header (and gRPC metadata key) carrying the key.
	// Defaults to "x-api-key" if empty.
	Header string `yaml:"header"`
}

// Key returns the expected API key resolved from the environment.
func (a AuthConfig) Key() string {
	if a.KeyEnv == "" {
		return ""
	}
	return os.Getenv(a.KeyEnv)
}

// EffectiveHeader returns the configured header name, or the default "x-api-key".
func (a AuthConfig) EffectiveHeader() string {
	if a.Header != "" {
		return a.Header
	}
	return DefaultHeader
}

// Enabled reports whether requests must carry the API key.
func (a AuthConfig) Enabled() bool { return a.Mode == "apikey" }

// StoreConfig selects and configures the document backend.
type StoreConfig struct {
	// Backend is one of: file | memory | postgres.
	Backend string `yaml:"backend"`

	// Path is the JSON document file for the file backend.
	Path string `yaml:"path"`

	// DSNEnv names the environment variable holding the Postgres connection string.
	DSNEnv string `yaml:"dsn_env"`

	// Document is the row name the postgres backend stores the document under.
	Document string `yaml:"document"`

	// SerializeWrites runs every load-modify-save cycle under one lock.
	SerializeWrites bool `yaml:"serialize_writes"`
}

// DSN returns the Postgres connection string resolved from the environment.
func (s StoreConfig) DSN() string {
	if s.DSNEnv == "" {
		return ""
	}
	return os.Getenv(s.DSNEnv)
}

// AuditConfig controls where audit entries are published besides the store.
type AuditConfig struct {
	Webhooks []WebhookConfig `yaml:"webhooks"`

	// Feed enables the /ws/audit WebSocket stream.
	Feed bool `yaml:"feed"`
}

// WebhookConfig defines one webhook delivery target.
type WebhookConfig struct {
	// URLEnv is the name of the environment variable that holds the webhook URL.
	URLEnv string `yaml:"url_env"`
}

// URL returns the webhook URL resolved from the environment.
func (w WebhookConfig) URL() string {
	if w.URLEnv == "" {
		return ""
	}
	return os.Getenv(w.URLEnv)
}

// HealthConfig controls the storage health probe.
type HealthConfig struct {
	Interval time.Duration `yaml:"interval"`
}

// LogConfig controls the process logger.
type LogConfig struct {
	// Level is one of: debug | info | warn | error.
	Level string `yaml:"level"`
}

// SlogLevel returns the slog level for Level. Unknown values map to info;
// validate rejects them before this is reached.
func (l LogConfig) SlogLevel() slog.Level {
	switch strings.ToLower(l.Level) {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// Load reads and parses the config file at path, returning the server configuration.
// Missing fields are filled with sensible defaults before validation.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("server config: read %q: %w", path, err)
	}
	return parse(data)
}

func parse(data []byte) (*Config, error) {
	cfg := defaults()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("server config: parse yaml: %w", err)
	}

	if err := validate(cfg); err != nil {
		return nil, fmt.Errorf("server config: %w", err)
	}

	return cfg, nil
}

// Default returns the configuration used when no file is given.
func Default() *Config { return defaults() }

// defaults returns a Config pre-populated with default values.
func defaults() *Config {
	return &Config{
		Server: ServerConfig{
			HTTPPort: DefaultHTTPPort,
			Auth:     AuthConfig{Mode: "apikey", KeyEnv: DefaultKeyEnv},
			Store: StoreConfig{
				Backend:  BackendFile,
				Path:     DefaultStorePath,
				Document: DefaultDocument,
			},
			Audit:  AuditConfig{Feed: true},
			Health: HealthConfig{Interval: DefaultHealthInterval},
			Log:    LogConfig{Level: DefaultLogLevel},
		},
	}
}

// validate checks structural constraints on the parsed configuration.
func validate(cfg *Config) error {
	s := cfg.Server
	if s.HTTPPort <= 0 || s.HTTPPort > 65535 {
		return fmt.Errorf("server.http_port %d is out of range [1, 65535]", s.HTTPPort)
	}
	if s.GRPCPort < 0 || s.GRPCPort > 65535 {
		return fmt.Errorf("server.grpc_port %d is out of range [0, 65535]", s.GRPCPort)
	}
	switch s.Auth.Mode {
	case "apikey":
		if s.Auth.KeyEnv == "" {
			return fmt.Errorf("server.auth.key_env is required when mode is apikey")
		}
	case "none", "":
	default:
		return fmt.Errorf("server.auth.mode %q unknown: want apikey|none", s.Auth.Mode)
	}
	switch s.Store.Backend {
	case BackendFile:
		if s.Store.Path == "" {
			return fmt.Errorf("server.store.path is required for the file backend")
		}
	case BackendMemory:
	case BackendPostgres:
		if s.Store.DSNEnv == "" {
			return fmt.Errorf("server.store.dsn_env is required for the postgres backend")
		}
		if s.Store.Document == "" {
			return fmt.Errorf("server.store.document must not be empty")
		}
	default:
		return fmt.Errorf("server.store.backend %q unknown: want file|memory|postgres", s.Store.Backend)
	}
	for i, w := range s.Audit.Webhooks {
		if w.URLEnv == "" {
			return fmt.Errorf("server.audit.webhooks[%d].url_env is required", i)
		}
	}
	if s.Health.Interval <= 0 {
		return fmt.Errorf("server.health.interval must be positive")
	}
	switch strings.ToLower(s.Log.Level) {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("server.log.level %q unknown: want debug|info|warn|error", s.Log.Level)
	}
	return nil
}
