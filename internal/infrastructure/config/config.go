package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/nerrad567/knxsync/internal/entity"
)

// DefaultPath is used when KNXSYNC_CONFIG is not set.
const DefaultPath = "configs/config.yaml"

// Config is the root configuration structure for knxsync.
// All configuration is loaded from YAML and can be overridden by environment variables.
type Config struct {
	Logging  LoggingConfig  `yaml:"logging"`
	MQTT     MQTTConfig     `yaml:"mqtt"`
	Platform PlatformConfig `yaml:"platform"`
	KNX      KNXConfig      `yaml:"knx"`
	Database DatabaseConfig `yaml:"database"`
	InfluxDB InfluxDBConfig `yaml:"influxdb"`
	API      APIConfig      `yaml:"api"`
	Security SecurityConfig `yaml:"security"`
	Health   HealthConfig   `yaml:"health"`
	Sync     SyncConfig     `yaml:"sync"`
}

// LoggingConfig contains logging settings.
type LoggingConfig struct {
	Level string `yaml:"level"`
	// Format is "json", "text" or "console" (coloured, for terminals).
	Format string `yaml:"format"`
	Output string `yaml:"output"`
}

// MQTTConfig contains MQTT broker connection settings.
type MQTTConfig struct {
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

// MQTTReconnectConfig contains MQTT reconnection settings in seconds.
type MQTTReconnectConfig struct {
	InitialDelay int `yaml:"initial_delay"`
	MaxDelay     int `yaml:"max_delay"`
}

// PlatformConfig describes how the home-automation platform is reached over MQTT.
type PlatformConfig struct {
	// TopicPrefix roots every platform topic:
	//   <prefix>/state/<entity_id>            retained JSON state snapshots
	//   <prefix>/service/<domain>/<service>   service calls
	//   <prefix>/knxsync/health               health document
	TopicPrefix string `yaml:"topic_prefix"`
}

// KNXConfig contains knxd connection settings.
type KNXConfig struct {
	// Connection is the knxd URL, "unix:///run/knxd" or "tcp://host:6720".
	Connection string `yaml:"connection"`

	ConnectTimeout    time.Duration `yaml:"connect_timeout"`
	ReadTimeout       time.Duration `yaml:"read_timeout"`
	ReconnectInterval time.Duration `yaml:"reconnect_interval"`

	// RecordAddresses stores every group address and sender seen on the bus.
	RecordAddresses bool `yaml:"record_addresses"`
}

// DatabaseConfig contains SQLite database settings.
type DatabaseConfig struct {
	Path        string `yaml:"path"`
	WALMode     bool   `yaml:"wal_mode"`
	BusyTimeout int    `yaml:"busy_timeout"`
}

// InfluxDBConfig contains InfluxDB connection settings.
type InfluxDBConfig struct {
	Enabled       bool   `yaml:"enabled"`
	URL           string `yaml:"url"`
	Token         string `yaml:"token"`
	Org           string `yaml:"org"`
	Bucket        string `yaml:"bucket"`
	BatchSize     int    `yaml:"batch_size"`
	FlushInterval int    `yaml:"flush_interval"`
}

// APIConfig contains HTTP API server settings.
type APIConfig struct {
	Enabled  bool             `yaml:"enabled"`
	Host     string           `yaml:"host"`
	Port     int              `yaml:"port"`
	Timeouts APITimeoutConfig `yaml:"timeouts"`
	CORS     CORSConfig       `yaml:"cors"`
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
}

// SecurityConfig contains API authentication settings.
type SecurityConfig struct {
	JWT JWTConfig `yaml:"jwt"`
	// APIKeys are exchanged for access tokens at /api/v1/auth/token.
	APIKeys []string `yaml:"api_keys"`
}

// JWTConfig contains JWT token settings.
type JWTConfig struct {
	Secret string `yaml:"secret"`
	// AccessTokenTTL in minutes.
	AccessTokenTTL int `yaml:"access_token_ttl"`
}

// HealthConfig contains health reporting settings.
type HealthConfig struct {
	Interval time.Duration `yaml:"interval"`
}

// SyncConfig contains synchronization engine settings.
type SyncConfig struct {
	// CallTimeout bounds every outbound bus send and platform service call.
	CallTimeout time.Duration `yaml:"call_timeout"`

	// Entities seeds the entity store on first start. Once the store holds
	// entities it is the source of truth and this map is ignored.
	Entities map[string]entity.Entity `yaml:"entities"`
}

// Load reads the YAML file at path over the defaults, then applies the
// KNXSYNC_* environment overrides and validates the result.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	cfg := defaultConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config file %s: %w", path, err)
	}
	if err := applyEnv(cfg, os.LookupEnv); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}
	return cfg, nil
}

// Path returns the configuration file path from KNXSYNC_CONFIG or DefaultPath.
func Path() string {
	if v := os.Getenv("KNXSYNC_CONFIG"); v != "" {
		return v
	}
	return DefaultPath
}

func defaultConfig() *Config {
	return &Config{
		Logging:  LoggingConfig{Level: "info", Format: "json", Output: "stdout"},
		Platform: PlatformConfig{TopicPrefix: "homeassistant"},
		MQTT: MQTTConfig{
			Broker:    MQTTBrokerConfig{Host: "localhost", Port: 1883, ClientID: "knxsync"},
			QoS:       1,
			Reconnect: MQTTReconnectConfig{InitialDelay: 1, MaxDelay: 60},
		},
		KNX: KNXConfig{
			Connection:        "unix:///run/knxd",
			ConnectTimeout:    10 * time.Second,
			ReadTimeout:       30 * time.Second,
			ReconnectInterval: 5 * time.Second,
			RecordAddresses:   true,
		},
		Database: DatabaseConfig{Path: "./data/knxsync.db", WALMode: true, BusyTimeout: 5},
		InfluxDB: InfluxDBConfig{BatchSize: 100, FlushInterval: 10},
		API: APIConfig{
			Enabled:  true,
			Host:     "0.0.0.0",
			Port:     8099,
			Timeouts: APITimeoutConfig{Read: 30, Write: 30, Idle: 60},
		},
		Security: SecurityConfig{JWT: JWTConfig{AccessTokenTTL: 60}},
		Health:   HealthConfig{Interval: 30 * time.Second},
		Sync:     SyncConfig{CallTimeout: 5 * time.Second},
	}
}

// envVar binds one KNXSYNC_* variable to the field it overrides. Empty
// values are ignored.
type envVar struct {
	name string
	set  func(c *Config, v string) error
}

func setString(field func(*Config) *string) func(*Config, string) error {
	return func(c *Config, v string) error {
		*field(c) = v
		return nil
	}
}

func setInt(field func(*Config) *int) func(*Config, string) error {
	return func(c *Config, v string) error {
		n, err := strconv.Atoi(v)
		if err != nil {
			return err
		}
		*field(c) = n
		return nil
	}
}

func setBool(field func(*Config) *bool) func(*Config, string) error {
	return func(c *Config, v string) error {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return err
		}
		*field(c) = b
		return nil
	}
}

var envVars = []envVar{
	{"KNXSYNC_LOG_LEVEL", setString(func(c *Config) *string { return &c.Logging.Level })},
	{"KNXSYNC_LOG_FORMAT", setString(func(c *Config) *string { return &c.Logging.Format })},
	{"KNXSYNC_DATABASE_PATH", setString(func(c *Config) *string { return &c.Database.Path })},
	{"KNXSYNC_MQTT_HOST", setString(func(c *Config) *string { return &c.MQTT.Broker.Host })},
	{"KNXSYNC_MQTT_PORT", setInt(func(c *Config) *int { return &c.MQTT.Broker.Port })},
	{"KNXSYNC_MQTT_CLIENT_ID", setString(func(c *Config) *string { return &c.MQTT.Broker.ClientID })},
	{"KNXSYNC_MQTT_USERNAME", setString(func(c *Config) *string { return &c.MQTT.Auth.Username })},
	{"KNXSYNC_MQTT_PASSWORD", setString(func(c *Config) *string { return &c.MQTT.Auth.Password })},
	{"KNXSYNC_PLATFORM_TOPIC_PREFIX", setString(func(c *Config) *string { return &c.Platform.TopicPrefix })},
	{"KNXSYNC_KNX_CONNECTION", setString(func(c *Config) *string { return &c.KNX.Connection })},
	{"KNXSYNC_INFLUXDB_ENABLED", setBool(func(c *Config) *bool { return &c.InfluxDB.Enabled })},
	{"KNXSYNC_INFLUXDB_URL", setString(func(c *Config) *string { return &c.InfluxDB.URL })},
	{"KNXSYNC_INFLUXDB_TOKEN", setString(func(c *Config) *string { return &c.InfluxDB.Token })},
	{"KNXSYNC_API_ENABLED", setBool(func(c *Config) *bool { return &c.API.Enabled })},
	{"KNXSYNC_API_HOST", setString(func(c *Config) *string { return &c.API.Host })},
	{"KNXSYNC_API_PORT", setInt(func(c *Config) *int { return &c.API.Port })},
	{"KNXSYNC_JWT_SECRET", setString(func(c *Config) *string { return &c.Security.JWT.Secret })},
	{"KNXSYNC_API_KEYS", func(c *Config, v string) error {
		c.Security.APIKeys = splitList(v)
		return nil
	}},
}

// applyEnv applies every set override. A malformed number or boolean is an
// error naming the variable.
func applyEnv(cfg *Config, lookup func(string) (string, bool)) error {
	var errs []error
	for _, ev := range envVars {
		v, ok := lookup(ev.name)
		if !ok || v == "" {
			continue
		}
		if err := ev.set(cfg, v); err != nil {
			errs = append(errs, fmt.Errorf("%s=%q: %w", ev.name, v, err))
		}
	}
	if len(errs) > 0 {
		return fmt.Errorf("environment overrides: %w", errors.Join(errs...))
	}
	return nil
}

func splitList(s string) []string {
	var out []string
	for part := range strings.SplitSeq(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

// minJWTSecretLength applies whenever the API is served.
const minJWTSecretLength = 32

// Validate reports every problem at once, joined into one error.
func (c *Config) Validate() error {
	var errs []error
	check := func(ok bool, msg string) {
		if !ok {
			errs = append(errs, errors.New(msg))
		}
	}

	check(c.Database.Path != "", "database.path is required")
	check(c.MQTT.QoS >= 0 && c.MQTT.QoS <= 2, "mqtt.qos must be 0, 1, or 2")
	check(strings.Trim(c.Platform.TopicPrefix, "/") != "", "platform.topic_prefix is required")
	check(c.KNX.Connection != "", "knx.connection is required")
	check(c.Sync.CallTimeout > 0, "sync.call_timeout must be positive")
	check(!c.InfluxDB.Enabled || c.InfluxDB.URL != "" && c.InfluxDB.Bucket != "",
		"influxdb.url and influxdb.bucket are required when influxdb is enabled")

	// The API edits which bus addresses are driven, so it is never served
	// without a signing secret.
	if c.API.Enabled {
		check(c.API.Port >= 1 && c.API.Port <= 65535, "api.port must be between 1 and 65535")
		switch {
		case c.Security.JWT.Secret == "":
			errs = append(errs, errors.New("security.jwt.secret is required (set KNXSYNC_JWT_SECRET environment variable)"))
		case len(c.Security.JWT.Secret) < minJWTSecretLength:
			errs = append(errs, fmt.Errorf("security.jwt.secret must be at least %d characters", minJWTSecretLength))
		}
	}

	if err := entity.NewSet(c.Sync.Entities).Validate(); err != nil {
		errs = append(errs, fmt.Errorf("sync.entities: %w", err))
	}

	return errors.Join(errs...)
}

// ReadTimeout returns the HTTP read timeout.
func (t APITimeoutConfig) ReadTimeout() time.Duration {
	return time.Duration(t.Read) * time.Second
}

// WriteTimeout returns the HTTP write timeout.
func (t APITimeoutConfig) WriteTimeout() time.Duration {
	return time.Duration(t.Write) * time.Second
}

// IdleTimeout returns the HTTP keep-alive idle timeout.
func (t APITimeoutConfig) IdleTimeout() time.Duration {
	return time.Duration(t.Idle) * time.Second
}

// TokenTTL returns the access token lifetime, or fallback when unset.
func (j JWTConfig) TokenTTL(fallback time.Duration) time.Duration {
	if j.AccessTokenTTL <= 0 {
		return fallback
	}
	return time.Duration(j.AccessTokenTTL) * time.Minute
}
