package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	configPath := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(configPath, []byte(content), 0600); err != nil {
		t.Fatalf("failed to write test config: %v", err)
	}
	return configPath
}

func TestLoad_ValidConfig(t *testing.T) {
	content := `
site:
  id: "test-site"
database:
  path: "/tmp/test.db"
  wal_mode: true
  busy_timeout: 5
mqtt:
  enabled: true
  broker:
    host: "localhost"
    port: 1883
    client_id: "test-client"
  qos: 1
api:
  host: "0.0.0.0"
  port: 8080
security:
  jwt:
    secret: "test-secret-key-at-least-32-chars!"
    token_ttl: 60
    role_source: live
  rate_limit:
    backend: memory
    login_attempts: 3
`
	cfg, err := Load(writeConfig(t, content))
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Site.ID != "test-site" {
		t.Errorf("Site.ID = %q, want %q", cfg.Site.ID, "test-site")
	}
	if cfg.Database.Path != "/tmp/test.db" {
		t.Errorf("Database.Path = %q, want %q", cfg.Database.Path, "/tmp/test.db")
	}
	if !cfg.MQTT.Enabled {
		t.Error("MQTT.Enabled = false, want true")
	}
	if cfg.GetTokenTTL() != time.Hour {
		t.Errorf("GetTokenTTL() = %v, want 1h", cfg.GetTokenTTL())
	}
	if cfg.Security.JWT.RoleSource != RoleSourceLive {
		t.Errorf("RoleSource = %q, want %q", cfg.Security.JWT.RoleSource, RoleSourceLive)
	}
	if cfg.Security.RateLimit.LoginAttempts != 3 {
		t.Errorf("LoginAttempts = %d, want 3", cfg.Security.RateLimit.LoginAttempts)
	}
	// Unset keys keep their defaults.
	if cfg.GetSweepInterval() != 24*time.Hour {
		t.Errorf("GetSweepInterval() = %v, want 24h", cfg.GetSweepInterval())
	}
}

func TestLoad_EmptySecretAllowed(t *testing.T) {
	cfg, err := Load(writeConfig(t, "site:\n  id: \"s\"\n"))
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Security.JWT.Secret != "" {
		t.Errorf("Secret = %q, want empty", cfg.Security.JWT.Secret)
	}
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load("/nonexistent/path/config.yaml")
	if err == nil {
		t.Error("Load() expected error for missing file, got nil")
	}
}

func TestLoad_InvalidYAML(t *testing.T) {
	_, err := Load(writeConfig(t, "invalid: [yaml: content"))
	if err == nil {
		t.Error("Load() expected error for invalid YAML, got nil")
	}
}

func TestLoad_ValidationFailure(t *testing.T) {
	content := `
site:
  id: ""
database:
  path: "/tmp/test.db"
api:
  port: 8080
`
	_, err := Load(writeConfig(t, content))
	if err == nil {
		t.Error("Load() expected validation error for empty site.id, got nil")
	}
}

func TestConfig_Validate(t *testing.T) {
	validJWTSecret := "test-secret-key-at-least-32-chars!"

	tests := []struct {
		name    string
		mutate  func(c *Config)
		wantErr string
	}{
		{name: "defaults are valid", mutate: func(*Config) {}},
		{name: "valid secret", mutate: func(c *Config) { c.Security.JWT.Secret = validJWTSecret }},
		{name: "missing site ID", mutate: func(c *Config) { c.Site.ID = "" }, wantErr: "site.id"},
		{name: "missing database path", mutate: func(c *Config) { c.Database.Path = "" }, wantErr: "database.path"},
		{name: "invalid QoS", mutate: func(c *Config) { c.MQTT.QoS = 3 }, wantErr: "mqtt.qos"},
		{name: "invalid port low", mutate: func(c *Config) { c.API.Port = 0 }, wantErr: "api.port"},
		{name: "invalid port high", mutate: func(c *Config) { c.API.Port = 70000 }, wantErr: "api.port"},
		{name: "JWT secret too short", mutate: func(c *Config) { c.Security.JWT.Secret = "short" }, wantErr: "at least 32"},
		{name: "zero TTL", mutate: func(c *Config) { c.Security.JWT.TokenTTL = 0 }, wantErr: "token_ttl"},
		{name: "zero sweep interval", mutate: func(c *Config) { c.Security.JWT.RevocationSweepInterval = 0 }, wantErr: "revocation_sweep_interval"},
		{name: "unknown role source", mutate: func(c *Config) { c.Security.JWT.RoleSource = "db" }, wantErr: "role_source"},
		{name: "unknown limiter backend", mutate: func(c *Config) { c.Security.RateLimit.Backend = "memcached" }, wantErr: "backend"},
		{
			name: "redis backend without addr",
			mutate: func(c *Config) {
				c.Security.RateLimit.Backend = "redis"
				c.Security.RateLimit.Redis.Addr = ""
			},
			wantErr: "redis.addr",
		},
		{
			name: "disabled limiter skips backend checks",
			mutate: func(c *Config) {
				c.Security.RateLimit.Enabled = false
				c.Security.RateLimit.Backend = ""
			},
		},
		{name: "file output without path", mutate: func(c *Config) {
			c.Logging.Output = "file"
			c.Logging.File.Path = ""
		}, wantErr: "logging.file.path"},
		{name: "unknown log output", mutate: func(c *Config) { c.Logging.Output = "syslog" }, wantErr: "logging.output"},
		{name: "negative retention", mutate: func(c *Config) { c.Audit.RetentionDays = -1 }, wantErr: "retention_days"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := defaultConfig()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				if err != nil {
					t.Errorf("Validate() unexpected error = %v", err)
				}
				return
			}
			if err == nil {
				t.Fatalf("Validate() expected error containing %q, got nil", tt.wantErr)
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("Validate() error = %v, want it to mention %q", err, tt.wantErr)
			}
		})
	}
}

func TestConfig_ValidateCollectsAllErrors(t *testing.T) {
	cfg := defaultConfig()
	cfg.Site.ID = ""
	cfg.API.Port = 0

	err := cfg.Validate()
	if err == nil {
		t.Fatal("Validate() expected error, got nil")
	}
	if !strings.Contains(err.Error(), "site.id") || !strings.Contains(err.Error(), "api.port") {
		t.Errorf("Validate() error = %v, want both problems reported", err)
	}
}

func TestConfig_GetTimeouts(t *testing.T) {
	cfg := &Config{
		API: APIConfig{
			Timeouts: APITimeoutConfig{
				Read:  30,
				Write: 45,
				Idle:  60,
			},
		},
		Security: SecurityConfig{
			RateLimit: RateLimitConfig{WindowSeconds: 90},
		},
	}

	if got := cfg.GetReadTimeout().Seconds(); got != 30 {
		t.Errorf("GetReadTimeout() = %v, want 30", got)
	}
	if got := cfg.GetWriteTimeout().Seconds(); got != 45 {
		t.Errorf("GetWriteTimeout() = %v, want 45", got)
	}
	if got := cfg.GetIdleTimeout().Seconds(); got != 60 {
		t.Errorf("GetIdleTimeout() = %v, want 60", got)
	}
	if got := cfg.GetRateLimitWindow(); got != 90*time.Second {
		t.Errorf("GetRateLimitWindow() = %v, want 90s", got)
	}
}

func TestApplyEnvOverrides(t *testing.T) {
	cfg := defaultConfig()

	t.Setenv("TIERLIST_DATABASE_PATH", "/custom/path.db")
	t.Setenv("TIERLIST_MQTT_HOST", "mqtt.example.com")
	t.Setenv("TIERLIST_MQTT_USERNAME", "testuser")
	t.Setenv("TIERLIST_MQTT_PASSWORD", "testpass")
	t.Setenv("TIERLIST_API_HOST", "192.168.1.1")
	t.Setenv("TIERLIST_API_PORT", "9090")
	t.Setenv("TIERLIST_INFLUXDB_TOKEN", "secret-token")
	t.Setenv("TIERLIST_JWT_SECRET", "jwt-secret")
	t.Setenv("TIERLIST_JWT_ROLE_SOURCE", "live")
	t.Setenv("TIERLIST_REDIS_ADDR", "redis:6379")
	t.Setenv("TIERLIST_ADMIN_PASSWORD", "bootstrap-pass")

	applyEnvOverrides(cfg)

	checks := []struct {
		field string
		got   string
		want  string
	}{
		{"Database.Path", cfg.Database.Path, "/custom/path.db"},
		{"MQTT.Broker.Host", cfg.MQTT.Broker.Host, "mqtt.example.com"},
		{"MQTT.Auth.Username", cfg.MQTT.Auth.Username, "testuser"},
		{"MQTT.Auth.Password", cfg.MQTT.Auth.Password, "testpass"},
		{"API.Host", cfg.API.Host, "192.168.1.1"},
		{"InfluxDB.Token", cfg.InfluxDB.Token, "secret-token"},
		{"Security.JWT.Secret", cfg.Security.JWT.Secret, "jwt-secret"},
		{"Security.JWT.RoleSource", cfg.Security.JWT.RoleSource, "live"},
		{"Security.RateLimit.Redis.Addr", cfg.Security.RateLimit.Redis.Addr, "redis:6379"},
		{"Security.Bootstrap.AdminPassword", cfg.Security.Bootstrap.AdminPassword, "bootstrap-pass"},
	}
	for _, c := range checks {
		if c.got != c.want {
			t.Errorf("%s = %q, want %q", c.field, c.got, c.want)
		}
	}
	if cfg.API.Port != 9090 {
		t.Errorf("API.Port = %d, want 9090", cfg.API.Port)
	}
}

func TestApplyEnvOverrides_InvalidPortIgnored(t *testing.T) {
	cfg := defaultConfig()
	t.Setenv("TIERLIST_API_PORT", "not-a-port")

	applyEnvOverrides(cfg)

	if cfg.API.Port != 8080 {
		t.Errorf("API.Port = %d, want default 8080", cfg.API.Port)
	}
}

func TestDefaultConfig(t *testing.T) {
	cfg := defaultConfig()

	if cfg.Site.ID == "" {
		t.Error("defaultConfig should have non-empty Site.ID")
	}
	if cfg.Database.Path == "" {
		t.Error("defaultConfig should have non-empty Database.Path")
	}
	if cfg.MQTT.Enabled {
		t.Error("defaultConfig should leave MQTT disabled")
	}
	if cfg.API.Port != 8080 {
		t.Errorf("defaultConfig API.Port = %d, want 8080", cfg.API.Port)
	}
	if cfg.GetTokenTTL() != 24*time.Hour {
		t.Errorf("defaultConfig token TTL = %v, want 24h", cfg.GetTokenTTL())
	}
	if cfg.Security.JWT.RoleSource != RoleSourceToken {
		t.Errorf("defaultConfig RoleSource = %q, want %q", cfg.Security.JWT.RoleSource, RoleSourceToken)
	}
	if cfg.Audit.PruneSchedule != "@daily" {
		t.Errorf("defaultConfig PruneSchedule = %q, want @daily", cfg.Audit.PruneSchedule)
	}
}
