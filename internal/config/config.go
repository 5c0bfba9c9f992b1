package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config represents the application configuration
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Store     StoreConfig     `yaml:"store"`
	Org       OrgConfig       `yaml:"org"`
	Redis     RedisConfig     `yaml:"redis"`
	Kafka     KafkaConfig     `yaml:"kafka"`
	Media     MediaConfig     `yaml:"media"`
	Auth      AuthConfig      `yaml:"auth"`
	Log       LogConfig       `yaml:"log"`
	Telemetry TelemetryConfig `yaml:"telemetry"`
	Scheduler SchedulerConfig `yaml:"scheduler"`
}

// ServerConfig contains HTTP server settings
type ServerConfig struct {
	Host            string        `yaml:"host"`
	Port            int           `yaml:"port"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

// StoreConfig selects and configures the document store backend
type StoreConfig struct {
	Backend         string `yaml:"backend"` // "firestore", "postgres" or "memory"
	ProjectID       string `yaml:"project_id"`
	CredentialsFile string `yaml:"credentials_file"`
	DatabaseURL     string `yaml:"database_url"`
}

// OrgConfig names the organization whose settings document is read
type OrgConfig struct {
	Name            string        `yaml:"name"`
	DefaultMaxLoans int           `yaml:"default_max_loans"`
	CacheTTL        time.Duration `yaml:"cache_ttl"`
}

// RedisConfig enables the shared settings cache when Addr is set
type RedisConfig struct {
	Addr string `yaml:"addr"` // host:port or redis:// URL
}

// KafkaConfig enables transition event publishing when Brokers is non-empty
type KafkaConfig struct {
	Brokers []string          `yaml:"brokers"`
	Topics  map[string]string `yaml:"topics"`
}

// MediaConfig contains media host settings
type MediaConfig struct {
	Provider     string        `yaml:"provider"` // "cloudinary" or "local"
	CloudName    string        `yaml:"cloud_name"`
	UploadPreset string        `yaml:"upload_preset"`
	BaseURL      string        `yaml:"base_url"`
	UploadDir    string        `yaml:"upload_dir"`
	Timeout      time.Duration `yaml:"timeout"`
	MaxRetries   uint          `yaml:"max_retries"`
}

// AuthConfig contains admin token settings
type AuthConfig struct {
	Secret       string        `yaml:"secret"`
	TokenTTL     time.Duration `yaml:"token_ttl"`
	LoginsPerMin int           `yaml:"logins_per_minute"`
	LoginBurst   int           `yaml:"login_burst"`
}

// LogConfig contains logging settings
type LogConfig struct {
	Level  string `yaml:"level"`  // "debug", "info", "warn", "error"
	Format string `yaml:"format"` // "json" or "text"
}

// TelemetryConfig enables OTLP trace export when Endpoint is set
type TelemetryConfig struct {
	ServiceName string `yaml:"service_name"`
	Endpoint    string `yaml:"endpoint"`
	Insecure    bool   `yaml:"insecure"`
}

// SchedulerConfig contains cron schedule settings
type SchedulerConfig struct {
	ReconcileStock string `yaml:"reconcile_stock"`
	RefreshConfig  string `yaml:"refresh_config"`
}

// Load reads configuration from a YAML file. A .env file next to the working
// directory is loaded first so its values participate in the env overrides.
func Load(configPath string) (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("failed to load .env file: %w", err)
	}

	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	return Parse(data)
}

// Parse builds a Config from YAML bytes, applies env overrides and validates it.
func Parse(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	cfg.overrideWithEnv()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &cfg, nil
}

// overrideWithEnv overrides config values with environment variables
func (c *Config) overrideWithEnv() {
	if val := os.Getenv("SERVER_HOST"); val != "" {
		c.Server.Host = val
	}
	if val := os.Getenv("SERVER_PORT"); val != "" {
		fmt.Sscanf(val, "%d", &c.Server.Port)
	}

	if val := os.Getenv("STORE_BACKEND"); val != "" {
		c.Store.Backend = val
	}
	if val := os.Getenv("FIRESTORE_PROJECT_ID"); val != "" {
		c.Store.ProjectID = val
	}
	if val := os.Getenv("GOOGLE_APPLICATION_CREDENTIALS"); val != "" {
		c.Store.CredentialsFile = val
	}
	if val := os.Getenv("DATABASE_URL"); val != "" {
		c.Store.DatabaseURL = val
	}

	if val := os.Getenv("ORG_NAME"); val != "" {
		c.Org.Name = val
	}
	if val := os.Getenv("REDIS_ADDR"); val != "" {
		c.Redis.Addr = val
	}
	if val := os.Getenv("KAFKA_BROKERS"); val != "" {
		c.Kafka.Brokers = strings.Split(val, ",")
	}

	if val := os.Getenv("CLOUDINARY_CLOUD_NAME"); val != "" {
		c.Media.CloudName = val
	}
	if val := os.Getenv("CLOUDINARY_UPLOAD_PRESET"); val != "" {
		c.Media.UploadPreset = val
	}

	if val := os.Getenv("AUTH_SECRET"); val != "" {
		c.Auth.Secret = val
	}

	if val := os.Getenv("LOG_LEVEL"); val != "" {
		c.Log.Level = val
	}
	if val := os.Getenv("LOG_FORMAT"); val != "" {
		c.Log.Format = val
	}
	if val := os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT"); val != "" {
		c.Telemetry.Endpoint = val
	}
}

// Validate checks the configuration and fills defaults for optional settings
func (c *Config) Validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d", c.Server.Port)
	}
	if c.Server.ShutdownTimeout == 0 {
		c.Server.ShutdownTimeout = 10 * time.Second
	}

	switch c.Store.Backend {
	case "firestore":
		if c.Store.ProjectID == "" {
			return fmt.Errorf("firestore project id is required")
		}
	case "postgres":
		if c.Store.DatabaseURL == "" {
			return fmt.Errorf("database url is required for the postgres backend")
		}
	case "", "memory":
		c.Store.Backend = "memory"
	default:
		return fmt.Errorf("unknown store backend: %q", c.Store.Backend)
	}

	if c.Org.Name == "" {
		c.Org.Name = "OrgSettings"
	}
	if c.Org.DefaultMaxLoans <= 0 {
		c.Org.DefaultMaxLoans = 3
	}
	if c.Org.CacheTTL == 0 {
		c.Org.CacheTTL = 15 * time.Minute
	}

	switch c.Media.Provider {
	case "cloudinary":
		if c.Media.CloudName == "" || c.Media.UploadPreset == "" {
			return fmt.Errorf("cloudinary cloud name and upload preset are required")
		}
	case "", "local":
		c.Media.Provider = "local"
		if c.Media.UploadDir == "" {
			c.Media.UploadDir = "./uploads"
		}
	default:
		return fmt.Errorf("unknown media provider: %q", c.Media.Provider)
	}
	if c.Media.Timeout == 0 {
		c.Media.Timeout = 30 * time.Second
	}
	if c.Media.MaxRetries == 0 {
		c.Media.MaxRetries = 3
	}

	if c.Auth.Secret == "" {
		return fmt.Errorf("auth secret is required")
	}
	if len(c.Auth.Secret) < 32 {
		return fmt.Errorf("auth secret must be at least 32 characters")
	}
	if c.Auth.TokenTTL == 0 {
		c.Auth.TokenTTL = 8 * time.Hour
	}
	if c.Auth.LoginsPerMin <= 0 {
		c.Auth.LoginsPerMin = 5
	}
	if c.Auth.LoginBurst <= 0 {
		c.Auth.LoginBurst = 5
	}

	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
	if c.Log.Format == "" {
		c.Log.Format = "text"
	}
	if c.Telemetry.ServiceName == "" {
		c.Telemetry.ServiceName = "bibliopanel"
	}

	if c.Scheduler.ReconcileStock == "" {
		c.Scheduler.ReconcileStock = "0 0 2 * * *" // 2 AM UTC
	}
	if c.Scheduler.RefreshConfig == "" {
		c.Scheduler.RefreshConfig = "0 */15 * * * *"
	}

	return nil
}

// GetServerAddress returns the HTTP listen address
func (c *Config) GetServerAddress() string {
	return fmt.Sprintf("%s:%d", c.Server.Host, c.Server.Port)
}
