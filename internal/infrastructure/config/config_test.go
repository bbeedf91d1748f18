package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

const validJWTSecret = "test-secret-key-at-least-32-chars!"

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	configPath := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(configPath, []byte(content), 0600); err != nil {
		t.Fatalf("failed to write test config: %v", err)
	}
	return configPath
}

func TestLoad_ValidConfig(t *testing.T) {
	configPath := writeConfig(t, `
database:
  path: "/tmp/test.db"
mqtt:
  broker:
    host: "broker.local"
    port: 1883
  qos: 1
platform:
  topic_prefix: "ha"
knx:
  connection: "tcp://knxd.local:6720"
  read_timeout: 45s
security:
  jwt:
    secret: "test-secret-key-at-least-32-chars!"
sync:
  call_timeout: 2s
  entities:
    light.kitchen:
      address: "1/0/1"
      state_address: "1/0/2, 1/0/3"
      answer_reads: true
    sensor.outdoor:
      state_address: ["3/0/1"]
`)

	cfg, err := Load(configPath)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Database.Path != "/tmp/test.db" {
		t.Errorf("Database.Path = %q, want %q", cfg.Database.Path, "/tmp/test.db")
	}
	if cfg.MQTT.Broker.Host != "broker.local" {
		t.Errorf("MQTT.Broker.Host = %q, want %q", cfg.MQTT.Broker.Host, "broker.local")
	}
	if cfg.Platform.TopicPrefix != "ha" {
		t.Errorf("Platform.TopicPrefix = %q, want %q", cfg.Platform.TopicPrefix, "ha")
	}
	if cfg.KNX.Connection != "tcp://knxd.local:6720" {
		t.Errorf("KNX.Connection = %q", cfg.KNX.Connection)
	}
	if cfg.KNX.ReadTimeout != 45*time.Second {
		t.Errorf("KNX.ReadTimeout = %v, want 45s", cfg.KNX.ReadTimeout)
	}
	// Defaults survive for keys the file does not set.
	if cfg.KNX.ConnectTimeout != 10*time.Second {
		t.Errorf("KNX.ConnectTimeout = %v, want default 10s", cfg.KNX.ConnectTimeout)
	}
	if cfg.Sync.CallTimeout != 2*time.Second {
		t.Errorf("Sync.CallTimeout = %v, want 2s", cfg.Sync.CallTimeout)
	}

	if len(cfg.Sync.Entities) != 2 {
		t.Fatalf("len(Sync.Entities) = %d, want 2", len(cfg.Sync.Entities))
	}
	kitchen := cfg.Sync.Entities["light.kitchen"]
	if !kitchen.AnswerReads {
		t.Error("light.kitchen answer_reads = false, want true")
	}
	if got := strings.Join(kitchen.StateAddress, ","); got != "1/0/2,1/0/3" {
		t.Errorf("light.kitchen state_address = %q, want 1/0/2,1/0/3", got)
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
	configPath := writeConfig(t, `
security:
  jwt:
    secret: "test-secret-key-at-least-32-chars!"
sync:
  entities:
    cover.garage:
      address: "1/1/1"
`)

	_, err := Load(configPath)
	if err == nil {
		t.Fatal("Load() expected validation error for unsupported category, got nil")
	}
	if !strings.Contains(err.Error(), "cover.garage") {
		t.Errorf("error %q does not name the offending entity", err)
	}
}

func TestConfig_Validate(t *testing.T) {
	valid := func() *Config {
		cfg := defaultConfig()
		cfg.Security.JWT.Secret = validJWTSecret
		return cfg
	}

	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{
			name:   "defaults with secret",
			mutate: func(*Config) {},
		},
		{
			name:    "missing database path",
			mutate:  func(c *Config) { c.Database.Path = "" },
			wantErr: "database.path",
		},
		{
			name:    "invalid qos",
			mutate:  func(c *Config) { c.MQTT.QoS = 3 },
			wantErr: "mqtt.qos",
		},
		{
			name:    "empty topic prefix",
			mutate:  func(c *Config) { c.Platform.TopicPrefix = "/" },
			wantErr: "platform.topic_prefix",
		},
		{
			name:    "missing knx connection",
			mutate:  func(c *Config) { c.KNX.Connection = "" },
			wantErr: "knx.connection",
		},
		{
			name:    "zero call timeout",
			mutate:  func(c *Config) { c.Sync.CallTimeout = 0 },
			wantErr: "sync.call_timeout",
		},
		{
			name:    "influxdb enabled without url",
			mutate:  func(c *Config) { c.InfluxDB.Enabled = true },
			wantErr: "influxdb.url",
		},
		{
			name:    "missing jwt secret",
			mutate:  func(c *Config) { c.Security.JWT.Secret = "" },
			wantErr: "security.jwt.secret is required",
		},
		{
			name:    "short jwt secret",
			mutate:  func(c *Config) { c.Security.JWT.Secret = "short" },
			wantErr: "at least 32 characters",
		},
		{
			name: "api disabled needs no secret",
			mutate: func(c *Config) {
				c.API.Enabled = false
				c.Security.JWT.Secret = ""
			},
		},
		{
			name:    "invalid port",
			mutate:  func(c *Config) { c.API.Port = 70000 },
			wantErr: "api.port",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				if err != nil {
					t.Errorf("Validate() error = %v, want nil", err)
				}
				return
			}
			if err == nil {
				t.Fatalf("Validate() error = nil, want %q", tt.wantErr)
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("Validate() error = %q, want it to contain %q", err, tt.wantErr)
			}
		})
	}
}

func TestConfig_ValidateReportsAllProblems(t *testing.T) {
	cfg := defaultConfig()
	cfg.Database.Path = ""
	cfg.KNX.Connection = ""

	err := cfg.Validate()
	if err == nil {
		t.Fatal("Validate() error = nil")
	}
	for _, want := range []string{"database.path", "knx.connection", "security.jwt.secret"} {
		if !strings.Contains(err.Error(), want) {
			t.Errorf("error %q missing %q", err, want)
		}
	}
}

func TestApplyEnvOverrides(t *testing.T) {
	t.Setenv("KNXSYNC_DATABASE_PATH", "/env/knxsync.db")
	t.Setenv("KNXSYNC_MQTT_HOST", "env-broker")
	t.Setenv("KNXSYNC_MQTT_PORT", "8883")
	t.Setenv("KNXSYNC_MQTT_USERNAME", "envuser")
	t.Setenv("KNXSYNC_MQTT_PASSWORD", "envpass")
	t.Setenv("KNXSYNC_KNX_CONNECTION", "tcp://env-knxd:6720")
	t.Setenv("KNXSYNC_PLATFORM_TOPIC_PREFIX", "envprefix")
	t.Setenv("KNXSYNC_JWT_SECRET", validJWTSecret)
	t.Setenv("KNXSYNC_API_KEYS", "key-one, ,key-two")
	t.Setenv("KNXSYNC_LOG_LEVEL", "debug")

	cfg := defaultConfig()
	if err := applyEnv(cfg, os.LookupEnv); err != nil {
		t.Fatalf("applyEnv() error = %v", err)
	}

	if cfg.Database.Path != "/env/knxsync.db" {
		t.Errorf("Database.Path = %q", cfg.Database.Path)
	}
	if cfg.MQTT.Broker.Host != "env-broker" || cfg.MQTT.Broker.Port != 8883 {
		t.Errorf("MQTT broker = %s:%d", cfg.MQTT.Broker.Host, cfg.MQTT.Broker.Port)
	}
	if cfg.MQTT.Auth.Username != "envuser" || cfg.MQTT.Auth.Password != "envpass" {
		t.Errorf("MQTT auth = %q/%q", cfg.MQTT.Auth.Username, cfg.MQTT.Auth.Password)
	}
	if cfg.KNX.Connection != "tcp://env-knxd:6720" {
		t.Errorf("KNX.Connection = %q", cfg.KNX.Connection)
	}
	if cfg.Platform.TopicPrefix != "envprefix" {
		t.Errorf("Platform.TopicPrefix = %q", cfg.Platform.TopicPrefix)
	}
	if cfg.Security.JWT.Secret != validJWTSecret {
		t.Errorf("JWT secret not overridden")
	}
	if len(cfg.Security.APIKeys) != 2 || cfg.Security.APIKeys[1] != "key-two" {
		t.Errorf("APIKeys = %v, want [key-one key-two]", cfg.Security.APIKeys)
	}
	if cfg.Logging.Level != "debug" {
		t.Errorf("Logging.Level = %q", cfg.Logging.Level)
	}
}

func TestPath(t *testing.T) {
	t.Setenv("KNXSYNC_CONFIG", "")
	if got := Path(); got != DefaultPath {
		t.Errorf("Path() = %q, want %q", got, DefaultPath)
	}

	t.Setenv("KNXSYNC_CONFIG", "/etc/knxsync.yaml")
	if got := Path(); got != "/etc/knxsync.yaml" {
		t.Errorf("Path() = %q, want /etc/knxsync.yaml", got)
	}
}

func TestApplyEnv_Malformed(t *testing.T) {
	env := map[string]string{
		"KNXSYNC_MQTT_PORT":   "eighteen",
		"KNXSYNC_API_ENABLED": "maybe",
		"KNXSYNC_LOG_LEVEL":   "warn",
	}
	lookup := func(k string) (string, bool) {
		v, ok := env[k]
		return v, ok
	}

	cfg := defaultConfig()
	err := applyEnv(cfg, lookup)
	if err == nil {
		t.Fatal("applyEnv() error = nil, want malformed value errors")
	}
	for _, want := range []string{"KNXSYNC_MQTT_PORT", "KNXSYNC_API_ENABLED"} {
		if !strings.Contains(err.Error(), want) {
			t.Errorf("error %q does not name %s", err, want)
		}
	}
	if cfg.MQTT.Broker.Port != 1883 {
		t.Errorf("MQTT.Broker.Port = %d, want default kept", cfg.MQTT.Broker.Port)
	}
	if cfg.Logging.Level != "warn" {
		t.Errorf("Logging.Level = %q, want well-formed overrides applied", cfg.Logging.Level)
	}
}

func TestApplyEnv_EmptyIgnored(t *testing.T) {
	cfg := defaultConfig()
	err := applyEnv(cfg, func(string) (string, bool) { return "", true })
	if err != nil {
		t.Fatalf("applyEnv() error = %v", err)
	}
	if cfg.Database.Path != "./data/knxsync.db" {
		t.Errorf("Database.Path = %q, want default", cfg.Database.Path)
	}
}

func TestDurations(t *testing.T) {
	timeouts := APITimeoutConfig{Read: 10, Write: 20, Idle: 30}
	if got := timeouts.ReadTimeout(); got != 10*time.Second {
		t.Errorf("ReadTimeout() = %v", got)
	}
	if got := timeouts.WriteTimeout(); got != 20*time.Second {
		t.Errorf("WriteTimeout() = %v", got)
	}
	if got := timeouts.IdleTimeout(); got != 30*time.Second {
		t.Errorf("IdleTimeout() = %v", got)
	}

	if got := (JWTConfig{AccessTokenTTL: 15}).TokenTTL(time.Hour); got != 15*time.Minute {
		t.Errorf("TokenTTL() = %v, want 15m", got)
	}
	if got := (JWTConfig{}).TokenTTL(time.Hour); got != time.Hour {
		t.Errorf("TokenTTL() unset = %v, want fallback", got)
	}
}
