package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the root configuration structure for Tier List Core.
// All configuration is loaded from YAML and can be overridden by environment variables.
type Config struct {
	Site      SiteConfig      `yaml:"site"`
	Database  DatabaseConfig  `yaml:"database"`
	MQTT      MQTTConfig      `yaml:"mqtt"`
	API       APIConfig       `yaml:"api"`
	WebSocket WebSocketConfig `yaml:"websocket"`
	InfluxDB  InfluxDBConfig  `yaml:"influxdb"`
	Logging   LoggingConfig   `yaml:"logging"`
	Security  SecurityConfig  `yaml:"security"`
	Audit     AuditConfig     `yaml:"audit"`
}

// SiteConfig identifies this deployment in logs and status messages.
type SiteConfig struct {
	ID   string `yaml:"id"`
	Name string `yaml:"name"`
}

// DatabaseConfig contains SQLite database settings.
type DatabaseConfig struct {
	Path        string `yaml:"path"`
	WALMode     bool   `yaml:"wal_mode"`
	BusyTimeout int    `yaml:"busy_timeout"`
}

// MQTTConfig contains MQTT broker connection settings.
// MQTT is optional; when disabled no domain events are published.
type MQTTConfig struct {
	Enabled   bool                `yaml:"enabled"`
	Broker    MQTTBrokerConfig    `yaml:"broker"`
	Auth      MQTTAuthConfig      `yaml:"auth"`
	QoS       int                 `yaml:"qos"`
	Reconnect MQTTReconnectConfig `yaml:"reconnect"`
}

// MQTTBrokerConfig contains MQTT broker connection details.
type MQTTBrokerConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	TLS      bool   `yaml:"tls"`
	ClientID string `yaml:"client_id"`
}

// MQTTAuthConfig contains MQTT authentication credentials.
type MQTTAuthConfig struct {
	Username string `yaml:"username"`
	Password string `yaml:"password"`
}

// MQTTReconnectConfig contains MQTT reconnection settings.
type MQTTReconnectConfig struct {
	InitialDelay int `yaml:"initial_delay"`
	MaxDelay     int `yaml:"max_delay"`
	MaxAttempts  int `yaml:"max_attempts"`
}

// APIConfig contains HTTP API server settings.
type APIConfig struct {
	Host     string           `yaml:"host"`
	Port     int              `yaml:"port"`
	TLS      TLSConfig        `yaml:"tls"`
	Timeouts APITimeoutConfig `yaml:"timeouts"`
	CORS     CORSConfig       `yaml:"cors"`
}

// TLSConfig contains TLS certificate settings.
type TLSConfig struct {
	Enabled  bool   `yaml:"enabled"`
	CertFile string `yaml:"cert_file"`
	KeyFile  string `yaml:"key_file"`
}

// APITimeoutConfig contains HTTP timeout settings in seconds.
type APITimeoutConfig struct {
	Read  int `yaml:"read"`
	Write int `yaml:"write"`
	Idle  int `yaml:"idle"`
}

// CORSConfig contains Cross-Origin Resource Sharing settings.
type CORSConfig struct {
	AllowedOrigins []string `yaml:"allowed_origins"`
	AllowedMethods []string `yaml:"allowed_methods"`
	AllowedHeaders []string `yaml:"allowed_headers"`
}

// WebSocketConfig contains WebSocket server settings.
type WebSocketConfig struct {
	Path           string `yaml:"path"`
	MaxMessageSize int    `yaml:"max_message_size"`
	PingInterval   int    `yaml:"ping_interval"`
	PongTimeout    int    `yaml:"pong_timeout"`
}

// InfluxDBConfig contains InfluxDB connection settings.
// When enabled, authentication events are written as time-series points.
type InfluxDBConfig struct {
	Enabled       bool   `yaml:"enabled"`
	URL           string `yaml:"url"`
	Token         string `yaml:"token"`
	Org           string `yaml:"org"`
	Bucket        string `yaml:"bucket"`
	BatchSize     int    `yaml:"batch_size"`
	FlushInterval int    `yaml:"flush_interval"`
}

// LoggingConfig contains logging settings.
type LoggingConfig struct {
	Level  string            `yaml:"level"`
	Format string            `yaml:"format"`
	Output string            `yaml:"output"`
	File   FileLoggingConfig `yaml:"file"`
}

// FileLoggingConfig contains file-based logging settings.
// Used only when Output is "file". Sizes are megabytes, ages are days.
type FileLoggingConfig struct {
	Path       string `yaml:"path"`
	MaxSize    int    `yaml:"max_size"`
	MaxBackups int    `yaml:"max_backups"`
	MaxAge     int    `yaml:"max_age"`
	Compress   bool   `yaml:"compress"`
}

// SecurityConfig contains security settings.
type SecurityConfig struct {
	JWT       JWTConfig       `yaml:"jwt"`
	RateLimit RateLimitConfig `yaml:"rate_limit"`
	Bootstrap BootstrapConfig `yaml:"bootstrap"`
}

// Role source values for JWTConfig.RoleSource.
const (
	// RoleSourceToken trusts the role snapshot embedded in the token until it expires.
	RoleSourceToken = "token"

	// RoleSourceLive re-reads the user's current role on every authenticated request.
	RoleSourceLive = "live"
)

// JWTConfig contains JWT token settings.
type JWTConfig struct {
	// Secret is the HMAC signing key. When empty, a random key is generated
	// at startup and every token is invalidated by a restart.
	Secret string `yaml:"secret"`

	// TokenTTL is the token lifetime in minutes. Default: 1440 (24h).
	TokenTTL int `yaml:"token_ttl"`

	// RevocationSweepInterval is how often expired revocations are evicted, in minutes.
	// Default: 1440 (24h).
	RevocationSweepInterval int `yaml:"revocation_sweep_interval"`

	// RoleSource is "token" (default) or "live".
	RoleSource string `yaml:"role_source"`
}

// RateLimitConfig contains login rate limiting settings.
type RateLimitConfig struct {
	Enabled       bool             `yaml:"enabled"`
	Backend       string           `yaml:"backend"`
	LoginAttempts int              `yaml:"login_attempts"`
	WindowSeconds int              `yaml:"window_seconds"`
	Redis         RedisLimitConfig `yaml:"redis"`
}

// RedisLimitConfig contains the Redis connection used by the "redis" rate limit backend.
type RedisLimitConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
}

// BootstrapConfig describes the admin account created on first start.
type BootstrapConfig struct {
	AdminUsername string `yaml:"admin_username"`
	AdminEmail    string `yaml:"admin_email"`
	// AdminPassword is optional; a random one is generated and logged once when empty.
	AdminPassword string `yaml:"admin_password"`
}

// AuditConfig contains audit log retention settings.
type AuditConfig struct {
	// RetentionDays is how long audit entries are kept. 0 disables pruning.
	RetentionDays int `yaml:"retention_days"`

	// PruneSchedule is a cron expression or descriptor such as "@daily".
	PruneSchedule string `yaml:"prune_schedule"`
}

// Load reads configuration from a YAML file and applies environment variable overrides.
//
// The configuration loading order is:
//  1. Default values (hardcoded)
//  2. YAML file values (override defaults)
//  3. Environment variables (override file values)
//
// Environment variables follow the pattern: TIERLIST_SECTION_KEY
// For example: TIERLIST_DATABASE_PATH, TIERLIST_API_PORT
func Load(path string) (*Config, error) {
	cfg := defaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	applyEnvOverrides(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return cfg, nil
}

// defaultConfig returns a Config with sensible defaults.
func defaultConfig() *Config {
	return &Config{
		Site: SiteConfig{
			ID:   "tierlist-001",
			Name: "Tier List",
		},
		Database: DatabaseConfig{
			Path:        "./data/tierlist.db",
			WALMode:     true,
			BusyTimeout: 5,
		},
		MQTT: MQTTConfig{
			Broker: MQTTBrokerConfig{
				Host:     "localhost",
				Port:     1883,
				ClientID: "tierlist-core",
			},
			QoS: 1,
			Reconnect: MQTTReconnectConfig{
				InitialDelay: 1,
				MaxDelay:     60,
				MaxAttempts:  0,
			},
		},
		API: APIConfig{
			Host: "0.0.0.0",
			Port: 8080,
			Timeouts: APITimeoutConfig{
				Read:  30,
				Write: 30,
				Idle:  60,
			},
		},
		WebSocket: WebSocketConfig{
			Path:           "/ws",
			MaxMessageSize: 8192,
			PingInterval:   30,
			PongTimeout:    10,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
			Output: "stdout",
			File: FileLoggingConfig{
				Path:       "./logs/tierlist.log",
				MaxSize:    100,
				MaxBackups: 5,
				MaxAge:     30,
				Compress:   true,
			},
		},
		Security: SecurityConfig{
			JWT: JWTConfig{
				TokenTTL:                1440,
				RevocationSweepInterval: 1440,
				RoleSource:              RoleSourceToken,
			},
			RateLimit: RateLimitConfig{
				Enabled:       true,
				Backend:       "memory",
				LoginAttempts: 10,
				WindowSeconds: 60,
				Redis: RedisLimitConfig{
					Addr: "localhost:6379",
				},
			},
			Bootstrap: BootstrapConfig{
				AdminUsername: "admin",
				AdminEmail:    "admin@localhost",
			},
		},
		Audit: AuditConfig{
			RetentionDays: 90,
			PruneSchedule: "@daily",
		},
	}
}

// applyEnvOverrides applies environment variable overrides to the configuration.
// Environment variables follow the pattern: TIERLIST_SECTION_KEY
func applyEnvOverrides(cfg *Config) {
	// Database
	if v := os.Getenv("TIERLIST_DATABASE_PATH"); v != "" {
		cfg.Database.Path = v
	}

	// MQTT
	if v := os.Getenv("TIERLIST_MQTT_HOST"); v != "" {
		cfg.MQTT.Broker.Host = v
	}
	if v := os.Getenv("TIERLIST_MQTT_USERNAME"); v != "" {
		cfg.MQTT.Auth.Username = v
	}
	if v := os.Getenv("TIERLIST_MQTT_PASSWORD"); v != "" {
		cfg.MQTT.Auth.Password = v
	}

	// API
	if v := os.Getenv("TIERLIST_API_HOST"); v != "" {
		cfg.API.Host = v
	}
	if v := os.Getenv("TIERLIST_API_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.API.Port = port
		}
	}

	// InfluxDB
	if v := os.Getenv("TIERLIST_INFLUXDB_TOKEN"); v != "" {
		cfg.InfluxDB.Token = v
	}

	// Security
	if v := os.Getenv("TIERLIST_JWT_SECRET"); v != "" {
		cfg.Security.JWT.Secret = v
	}
	if v := os.Getenv("TIERLIST_JWT_ROLE_SOURCE"); v != "" {
		cfg.Security.JWT.RoleSource = v
	}
	if v := os.Getenv("TIERLIST_REDIS_ADDR"); v != "" {
		cfg.Security.RateLimit.Redis.Addr = v
	}
	if v := os.Getenv("TIERLIST_REDIS_PASSWORD"); v != "" {
		cfg.Security.RateLimit.Redis.Password = v
	}
	if v := os.Getenv("TIERLIST_ADMIN_PASSWORD"); v != "" {
		cfg.Security.Bootstrap.AdminPassword = v
	}
}

// Validate checks the configuration for errors and security issues.
func (c *Config) Validate() error {
	var errs []string

	if c.Site.ID == "" {
		errs = append(errs, "site.id is required")
	}

	if c.Database.Path == "" {
		errs = append(errs, "database.path is required")
	}

	if c.MQTT.QoS < 0 || c.MQTT.QoS > 2 {
		errs = append(errs, "mqtt.qos must be 0, 1, or 2")
	}

	if c.API.Port < 1 || c.API.Port > 65535 {
		errs = append(errs, "api.port must be between 1 and 65535")
	}

	switch c.Logging.Output {
	case "", "stdout", "stderr":
	case "file":
		if c.Logging.File.Path == "" {
			errs = append(errs, "logging.file.path is required when logging.output is file")
		}
	default:
		errs = append(errs, "logging.output must be stdout, stderr, or file")
	}

	// An empty secret is allowed: a random key is generated at startup.
	// A short one is always a mistake.
	const minJWTSecretLength = 32
	if c.Security.JWT.Secret != "" && len(c.Security.JWT.Secret) < minJWTSecretLength {
		errs = append(errs, "security.jwt.secret must be at least 32 characters for adequate security")
	}
	if c.Security.JWT.TokenTTL <= 0 {
		errs = append(errs, "security.jwt.token_ttl must be positive")
	}
	if c.Security.JWT.RevocationSweepInterval <= 0 {
		errs = append(errs, "security.jwt.revocation_sweep_interval must be positive")
	}
	switch c.Security.JWT.RoleSource {
	case RoleSourceToken, RoleSourceLive:
	default:
		errs = append(errs, "security.jwt.role_source must be token or live")
	}

	if c.Security.RateLimit.Enabled {
		switch c.Security.RateLimit.Backend {
		case "memory":
		case "redis":
			if c.Security.RateLimit.Redis.Addr == "" {
				errs = append(errs, "security.rate_limit.redis.addr is required for the redis backend")
			}
		default:
			errs = append(errs, "security.rate_limit.backend must be memory or redis")
		}
		if c.Security.RateLimit.LoginAttempts <= 0 {
			errs = append(errs, "security.rate_limit.login_attempts must be positive")
		}
		if c.Security.RateLimit.WindowSeconds <= 0 {
			errs = append(errs, "security.rate_limit.window_seconds must be positive")
		}
	}

	if c.Audit.RetentionDays < 0 {
		errs = append(errs, "audit.retention_days must not be negative")
	}

	if len(errs) > 0 {
		return fmt.Errorf("configuration errors: %s", strings.Join(errs, "; "))
	}

	return nil
}

// GetReadTimeout returns the API read timeout as a Duration.
func (c *Config) GetReadTimeout() time.Duration {
	return time.Duration(c.API.Timeouts.Read) * time.Second
}

// GetWriteTimeout returns the API write timeout as a Duration.
func (c *Config) GetWriteTimeout() time.Duration {
	return time.Duration(c.API.Timeouts.Write) * time.Second
}

// GetIdleTimeout returns the API idle timeout as a Duration.
func (c *Config) GetIdleTimeout() time.Duration {
	return time.Duration(c.API.Timeouts.Idle) * time.Second
}

// GetTokenTTL returns the JWT lifetime as a Duration.
func (c *Config) GetTokenTTL() time.Duration {
	return time.Duration(c.Security.JWT.TokenTTL) * time.Minute
}

// GetSweepInterval returns the revocation sweep interval as a Duration.
func (c *Config) GetSweepInterval() time.Duration {
	return time.Duration(c.Security.JWT.RevocationSweepInterval) * time.Minute
}

// GetRateLimitWindow returns the login rate limit window as a Duration.
func (c *Config) GetRateLimitWindow() time.Duration {
	return time.Duration(c.Security.RateLimit.WindowSeconds) * time.Second
}
