package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the root configuration structure for TankWatch Core.
// All configuration is loaded from YAML and can be overridden by environment variables.
type Config struct {
	Site       SiteConfig       `yaml:"site"`
	Database   DatabaseConfig   `yaml:"database"`
	MQTT       MQTTConfig       `yaml:"mqtt"`
	API        APIConfig        `yaml:"api"`
	WebSocket  WebSocketConfig  `yaml:"websocket"`
	InfluxDB   InfluxDBConfig   `yaml:"influxdb"`
	Logging    LoggingConfig    `yaml:"logging"`
	OPCUA      OPCUAConfig      `yaml:"opcua"`
	Supervisor SupervisorConfig `yaml:"supervisor"`
	Collector  CollectorConfig  `yaml:"collector"`
	Alerts     AlertsConfig     `yaml:"alerts"`
	Security   SecurityConfig   `yaml:"security"`
}

// SiteConfig identifies the installation (dairy, cooperative) this core runs for.
type SiteConfig struct {
	ID       string `yaml:"id"`
	Name     string `yaml:"name"`
	Timezone string `yaml:"timezone"`
}

// DatabaseConfig contains SQLite database settings.
type DatabaseConfig struct {
	Path        string `yaml:"path"`
	WALMode     bool   `yaml:"wal_mode"`
	BusyTimeout int    `yaml:"busy_timeout"`
}

// MQTTConfig contains MQTT broker connection settings.
// The broker receives a mirror of every UI event.
type MQTTConfig struct {
	Enabled     bool                `yaml:"enabled"`
	Broker      MQTTBrokerConfig    `yaml:"broker"`
	Auth        MQTTAuthConfig      `yaml:"auth"`
	QoS         int                 `yaml:"qos"`
	TopicPrefix string              `yaml:"topic_prefix"`
	Reconnect   MQTTReconnectConfig `yaml:"reconnect"`
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
}

// WebSocketConfig contains WebSocket server settings.
type WebSocketConfig struct {
	Path           string `yaml:"path"`
	MaxMessageSize int    `yaml:"max_message_size"`
	PingInterval   int    `yaml:"ping_interval"`
	PongTimeout    int    `yaml:"pong_timeout"`
}

// InfluxDBConfig contains InfluxDB connection settings.
// When enabled, every telemetry sample is also written as a point.
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

// FileLoggingConfig contains rotated file logging settings.
type FileLoggingConfig struct {
	Path       string `yaml:"path"`
	MaxSize    int    `yaml:"max_size"`
	MaxBackups int    `yaml:"max_backups"`
	MaxAge     int    `yaml:"max_age"`
	Compress   bool   `yaml:"compress"`
}

// OPCUAConfig contains the settings used to reach the tank controllers.
type OPCUAConfig struct {
	// Port is the OPC UA server port on every tank. Default: 4840
	Port int `yaml:"port"`

	// SecurityPolicy is the policy name, e.g. "Basic256Sha256".
	SecurityPolicy string `yaml:"security_policy"`

	// SecurityMode is "None", "Sign" or "SignAndEncrypt".
	SecurityMode string `yaml:"security_mode"`

	// CertFile and KeyFile hold the client certificate and private key (PEM).
	CertFile string `yaml:"cert_file"`
	KeyFile  string `yaml:"key_file"`

	// Username and Password are the fixed service credential presented on
	// every session. Set the password through TANKWATCH_OPCUA_PASSWORD.
	Username string `yaml:"username"`
	Password string `yaml:"password"`

	// CallTimeout bounds every individual read, write and subscribe (seconds).
	// Default: 10
	CallTimeout int `yaml:"call_timeout"`

	// ConnectTimeout bounds one connect and session negotiation (seconds).
	// Default: 15
	ConnectTimeout int `yaml:"connect_timeout"`

	// ConnectRetry is the transport-level retry budget inside one attempt.
	// The recovery sweep owns backoff, so the default budget is zero.
	ConnectRetry ConnectRetryConfig `yaml:"connect_retry"`
}

// ConnectRetryConfig bounds retries inside a single connection attempt.
type ConnectRetryConfig struct {
	MaxRetry       int `yaml:"max_retry"`
	InitialDelayMS int `yaml:"initial_delay_ms"`
}

// SupervisorConfig contains connection supervision and polling settings.
type SupervisorConfig struct {
	// SweepInterval is the recovery sweep period (seconds). Default: 20
	SweepInterval int `yaml:"sweep_interval"`

	// BackoffMax caps the per-tank reconnect backoff (seconds). Default: 300
	BackoffMax int `yaml:"backoff_max"`

	// BackoffJitter is the +/- fraction applied to each backoff. Default: 0.2
	BackoffJitter float64 `yaml:"backoff_jitter"`

	// ForwardInterval is the forward-to-collector period (seconds). Default: 900
	ForwardInterval int `yaml:"forward_interval"`

	// DefaultPollInterval applies to tanks created without an interval (seconds).
	// Default: 20
	DefaultPollInterval int `yaml:"default_poll_interval"`
}

// CollectorConfig contains the remote collector endpoint settings.
type CollectorConfig struct {
	Enabled bool   `yaml:"enabled"`
	Scheme  string `yaml:"scheme"`
	Host    string `yaml:"host"`
	Timeout int    `yaml:"timeout"`
}

// AlertsConfig locates the alert-code dictionary.
type AlertsConfig struct {
	File string `yaml:"file"`
}

// SecurityConfig contains security settings.
type SecurityConfig struct {
	JWT JWTConfig `yaml:"jwt"`
}

// JWTConfig contains JWT token settings.
type JWTConfig struct {
	Secret string `yaml:"secret"`
	Issuer string `yaml:"issuer"`
}

// envPrefix is prepended to every environment override.
const envPrefix = "TANKWATCH_"

// Load reads configuration from a YAML file and applies environment variable overrides.
//
// The configuration loading order is:
//  1. Default values (hardcoded)
//  2. YAML file values (override defaults)
//  3. Environment variables (override file values)
//
// Environment variables follow the pattern TANKWATCH_SECTION_KEY,
// for example TANKWATCH_DATABASE_PATH or TANKWATCH_OPCUA_PASSWORD.
//
// Parameters:
//   - path: Path to the YAML configuration file
//
// Returns:
//   - *Config: Loaded and validated configuration
//   - error: If file cannot be read, parsed, or validation fails
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
			ID:       "site-001",
			Name:     "TankWatch",
			Timezone: "Europe/Paris",
		},
		Database: DatabaseConfig{
			Path:        "./data/tankwatch.db",
			WALMode:     true,
			BusyTimeout: 5,
		},
		MQTT: MQTTConfig{
			Broker: MQTTBrokerConfig{
				Host:     "localhost",
				Port:     1883,
				ClientID: "tankwatch-core",
			},
			QoS:         1,
			TopicPrefix: "tankwatch",
			Reconnect: MQTTReconnectConfig{
				InitialDelay: 1,
				MaxDelay:     60,
			},
		},
		API: APIConfig{
			Host: "127.0.0.1",
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
		InfluxDB: InfluxDBConfig{
			BatchSize:     100,
			FlushInterval: 10,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
			Output: "stdout",
			File: FileLoggingConfig{
				MaxSize:    50,
				MaxBackups: 5,
				MaxAge:     30,
			},
		},
		OPCUA: OPCUAConfig{
			Port:           4840,
			SecurityPolicy: "Basic256Sha256",
			SecurityMode:   "SignAndEncrypt",
			CertFile:       "./certs/client_cert.pem",
			KeyFile:        "./certs/client_key.pem",
			Username:       "Widget",
			CallTimeout:    10,
			ConnectTimeout: 15,
			ConnectRetry: ConnectRetryConfig{
				MaxRetry:       0,
				InitialDelayMS: 500,
			},
		},
		Supervisor: SupervisorConfig{
			SweepInterval:       20,
			BackoffMax:          300,
			BackoffJitter:       0.2,
			ForwardInterval:     900,
			DefaultPollInterval: 20,
		},
		Collector: CollectorConfig{
			Scheme:  "https",
			Timeout: 10,
		},
		Alerts: AlertsConfig{
			File: "./data/alerts_dict.json",
		},
		Security: SecurityConfig{
			JWT: JWTConfig{
				Issuer: "tankwatch",
			},
		},
	}
}

// applyEnvOverrides applies environment variable overrides to the configuration.
func applyEnvOverrides(cfg *Config) {
	setString := func(key string, dst *string) {
		if v := os.Getenv(envPrefix + key); v != "" {
			*dst = v
		}
	}
	setInt := func(key string, dst *int) {
		if v := os.Getenv(envPrefix + key); v != "" {
			if n, err := strconv.Atoi(v); err == nil {
				*dst = n
			}
		}
	}

	setString("DATABASE_PATH", &cfg.Database.Path)

	setString("MQTT_HOST", &cfg.MQTT.Broker.Host)
	setString("MQTT_USERNAME", &cfg.MQTT.Auth.Username)
	setString("MQTT_PASSWORD", &cfg.MQTT.Auth.Password)

	setString("API_HOST", &cfg.API.Host)
	setInt("API_PORT", &cfg.API.Port)

	setString("INFLUXDB_TOKEN", &cfg.InfluxDB.Token)

	setString("OPCUA_USERNAME", &cfg.OPCUA.Username)
	setString("OPCUA_PASSWORD", &cfg.OPCUA.Password)
	setString("OPCUA_CERT_FILE", &cfg.OPCUA.CertFile)
	setString("OPCUA_KEY_FILE", &cfg.OPCUA.KeyFile)

	setString("COLLECTOR_HOST", &cfg.Collector.Host)
	setString("ALERTS_FILE", &cfg.Alerts.File)

	// Always override the JWT secret in production.
	setString("JWT_SECRET", &cfg.Security.JWT.Secret)
}

// Validate checks the configuration for errors and security issues.
// All problems are reported together.
//
// Returns:
//   - error: Description of validation failure, or nil if valid
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

	if c.WebSocket.PingInterval < 1 || c.WebSocket.PongTimeout < 1 {
		errs = append(errs, "websocket.ping_interval and websocket.pong_timeout must be at least 1 second")
	}

	if c.OPCUA.Port < 1 || c.OPCUA.Port > 65535 {
		errs = append(errs, "opcua.port must be between 1 and 65535")
	}
	switch c.OPCUA.SecurityMode {
	case "None", "Sign", "SignAndEncrypt":
	default:
		errs = append(errs, "opcua.security_mode must be None, Sign, or SignAndEncrypt")
	}
	if c.OPCUA.SecurityMode != "None" && (c.OPCUA.CertFile == "" || c.OPCUA.KeyFile == "") {
		errs = append(errs, "opcua.cert_file and opcua.key_file are required when security is enabled")
	}
	if c.OPCUA.CallTimeout < 1 {
		errs = append(errs, "opcua.call_timeout must be at least 1 second")
	}
	if c.OPCUA.ConnectRetry.MaxRetry < 0 {
		errs = append(errs, "opcua.connect_retry.max_retry must not be negative")
	}

	if c.Supervisor.SweepInterval < 1 {
		errs = append(errs, "supervisor.sweep_interval must be at least 1 second")
	}
	if c.Supervisor.ForwardInterval < 1 {
		errs = append(errs, "supervisor.forward_interval must be at least 1 second")
	}
	if c.Supervisor.DefaultPollInterval < 1 {
		errs = append(errs, "supervisor.default_poll_interval must be at least 1 second")
	}
	if c.Supervisor.BackoffJitter < 0 || c.Supervisor.BackoffJitter >= 1 {
		errs = append(errs, "supervisor.backoff_jitter must be in [0, 1)")
	}

	if c.Collector.Enabled && c.Collector.Host == "" {
		errs = append(errs, "collector.host is required when the collector is enabled")
	}

	if c.Alerts.File == "" {
		errs = append(errs, "alerts.file is required")
	}

	// The API can trigger physical actuation of tanks, so tokens must not be forgeable.
	const minJWTSecretLength = 32
	if c.Security.JWT.Secret == "" {
		errs = append(errs, "security.jwt.secret is required (set TANKWATCH_JWT_SECRET environment variable)")
	} else if len(c.Security.JWT.Secret) < minJWTSecretLength {
		errs = append(errs, "security.jwt.secret must be at least 32 characters")
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

// CallTimeoutDuration returns the per-call protocol deadline.
func (c OPCUAConfig) CallTimeoutDuration() time.Duration {
	return time.Duration(c.CallTimeout) * time.Second
}

// ConnectTimeoutDuration returns the deadline for one connection attempt.
func (c OPCUAConfig) ConnectTimeoutDuration() time.Duration {
	return time.Duration(c.ConnectTimeout) * time.Second
}
