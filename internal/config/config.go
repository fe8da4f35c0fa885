package config

import (
	"fmt"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

func init() {
	// Load .env file if it exists (silent fail if not)
	_ = godotenv.Load()
}

// Config holds all application configuration loaded from environment variables.
type Config struct {
	Server    ServerConfig
	App       AppConfig
	Log       LogConfig
	Queue     QueueConfig
	Slot      SlotConfig
	Store     StoreConfig
	Scheduler SchedulerConfig
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Host            string        `envconfig:"SERVER_HOST" default:"0.0.0.0"`
	Port            int           `envconfig:"SERVER_PORT" default:"8080"`
	ReadTimeout     time.Duration `envconfig:"SERVER_READ_TIMEOUT" default:"15s"`
	WriteTimeout    time.Duration `envconfig:"SERVER_WRITE_TIMEOUT" default:"60s"` // must outlast the long poll
	ShutdownTimeout time.Duration `envconfig:"SERVER_SHUTDOWN_TIMEOUT" default:"30s"`
}

// AppConfig holds application-level settings.
type AppConfig struct {
	Name        string `envconfig:"APP_NAME" default:"truckcount-api"`
	Environment string `envconfig:"APP_ENV" default:"development"`
	Version     string `envconfig:"APP_VERSION" default:"1.0.0"`
	Timezone    string `envconfig:"APP_TIMEZONE" default:"Local"`
}

// LogConfig holds logger settings.
type LogConfig struct {
	Level      string `envconfig:"LOG_LEVEL" default:"info"`
	File       string `envconfig:"LOG_FILE" default:""`
	Console    bool   `envconfig:"LOG_CONSOLE" default:"true"`
	MaxSizeMB  int    `envconfig:"LOG_MAX_SIZE_MB" default:"100"`
	MaxBackups int    `envconfig:"LOG_MAX_BACKUPS" default:"3"`
	MaxAgeDays int    `envconfig:"LOG_MAX_AGE_DAYS" default:"30"`
}

// QueueConfig holds SQS settings and the consumer's lease policy.
type QueueConfig struct {
	Region            string        `envconfig:"AWS_REGION" default:"us-east-1"`
	AccessKey         string        `envconfig:"AWS_ACCESS_KEY" default:""`
	SecretKey         string        `envconfig:"AWS_SECRET_KEY" default:""`
	URL               string        `envconfig:"SQS_URL" default:""`
	Endpoint          string        `envconfig:"SQS_ENDPOINT" default:""` // e.g. localstack
	WaitTime          time.Duration `envconfig:"QUEUE_WAIT_TIME" default:"10s"`
	VisibilityTimeout time.Duration `envconfig:"QUEUE_VISIBILITY_TIMEOUT" default:"120s"`
	PurgeBatch        int           `envconfig:"QUEUE_PURGE_BATCH" default:"10"`
	PurgeMode         string        `envconfig:"QUEUE_PURGE_MODE" default:"drain"` // drain or native
	PurgeMaxRounds    int           `envconfig:"QUEUE_PURGE_MAX_ROUNDS" default:"1000"`
}

// SlotConfig selects where the pending message lives.
type SlotConfig struct {
	Backend string `envconfig:"SLOT_BACKEND" default:"memory"` // memory or redis

	RedisHost     string `envconfig:"REDIS_HOST" default:"localhost"`
	RedisPort     int    `envconfig:"REDIS_PORT" default:"6379"`
	RedisPassword string `envconfig:"REDIS_PASSWORD" default:""`
	RedisDB       int    `envconfig:"REDIS_DB" default:"0"`
	KeyPrefix     string `envconfig:"SLOT_KEY_PREFIX" default:"truckcount:slot"`
	// LockTTL bounds how long a crashed holder blocks other replicas; a live
	// holder keeps extending it.
	LockTTL time.Duration `envconfig:"SLOT_LOCK_TTL" default:"30s"`
}

// StoreConfig holds approval/summary database settings.
type StoreConfig struct {
	Type string `envconfig:"STORE_TYPE" default:"sqlite"` // sqlite, postgres, mysql or mongodb
	Path string `envconfig:"STORE_PATH" default:"./data/truckcount.db"`
	// PostgreSQL / MySQL settings
	Host     string `envconfig:"STORE_HOST" default:"localhost"`
	Port     int    `envconfig:"STORE_PORT" default:"5432"`
	Name     string `envconfig:"STORE_NAME" default:"truckcount"`
	User     string `envconfig:"STORE_USER" default:"postgres"`
	Password string `envconfig:"STORE_PASS" default:""`
	SSLMode  string `envconfig:"STORE_SSLMODE" default:"disable"`
	// MongoDB settings
	MongoURI      string `envconfig:"MONGODB_URI" default:""`
	MongoDatabase string `envconfig:"MONGODB_DATABASE" default:"truckcount"`
}

// SchedulerConfig holds background job settings.
type SchedulerConfig struct {
	SyncInterval time.Duration `envconfig:"SYNC_INTERVAL" default:"5m"`
}

// PostgresDSN returns the PostgreSQL connection string.
func (s *StoreConfig) PostgresDSN() string {
	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=%s",
		s.User, s.Password, s.Host, s.Port, s.Name, s.SSLMode)
}

// Address returns the server address in host:port format.
func (s *ServerConfig) Address() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}

// RedisAddress returns the Redis address in host:port format.
func (s *SlotConfig) RedisAddress() string {
	return fmt.Sprintf("%s:%d", s.RedisHost, s.RedisPort)
}

// Location resolves the timezone used to bucket approvals into days.
func (a *AppConfig) Location() (*time.Location, error) {
	if a.Timezone == "" || a.Timezone == "Local" {
		return time.Local, nil
	}
	loc, err := time.LoadLocation(a.Timezone)
	if err != nil {
		return nil, fmt.Errorf("invalid APP_TIMEZONE %q: %w", a.Timezone, err)
	}
	return loc, nil
}

// IsDevelopment returns true if running in development mode.
func (a *AppConfig) IsDevelopment() bool {
	return a.Environment == "development"
}

// Load reads configuration from environment variables.
func Load() (*Config, error) {
	var cfg Config

	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// MustLoad loads configuration or panics on error.
func MustLoad() *Config {
	cfg, err := Load()
	if err != nil {
		panic(err)
	}
	return cfg
}

// Broker and request limits checked at load time.
const (
	maxQueueWaitTime         = 20 * time.Second
	maxVisibilityTimeout     = 12 * time.Hour
	approveWorstCaseReceives = 5 // lease-expiry repoll plus a fetch that skips up to 3 redeliveries
)

func (c *Config) validate() error {
	switch c.Queue.PurgeMode {
	case "drain", "native":
	default:
		return fmt.Errorf("invalid QUEUE_PURGE_MODE %q: want drain or native", c.Queue.PurgeMode)
	}
	switch c.Slot.Backend {
	case "memory", "redis":
	default:
		return fmt.Errorf("invalid SLOT_BACKEND %q: want memory or redis", c.Slot.Backend)
	}
	if c.Queue.PurgeBatch < 1 || c.Queue.PurgeBatch > 10 {
		return fmt.Errorf("QUEUE_PURGE_BATCH must be between 1 and 10, got %d", c.Queue.PurgeBatch)
	}
	if c.Queue.WaitTime < 0 || c.Queue.WaitTime > maxQueueWaitTime {
		return fmt.Errorf("QUEUE_WAIT_TIME must be between 0s and %s, got %s", maxQueueWaitTime, c.Queue.WaitTime)
	}
	if c.Queue.VisibilityTimeout < time.Second || c.Queue.VisibilityTimeout > maxVisibilityTimeout {
		return fmt.Errorf("QUEUE_VISIBILITY_TIMEOUT must be between 1s and %s, got %s", maxVisibilityTimeout, c.Queue.VisibilityTimeout)
	}
	if minWrite := approveWorstCaseReceives * c.Queue.WaitTime; c.Server.WriteTimeout <= minWrite {
		return fmt.Errorf("SERVER_WRITE_TIMEOUT must exceed %s (%d x QUEUE_WAIT_TIME), got %s",
			minWrite, approveWorstCaseReceives, c.Server.WriteTimeout)
	}
	if minTTL := 2 * c.Queue.WaitTime; c.Slot.LockTTL < time.Second || c.Slot.LockTTL < minTTL {
		return fmt.Errorf("SLOT_LOCK_TTL must be at least 1s and 2 x QUEUE_WAIT_TIME (%s), got %s", minTTL, c.Slot.LockTTL)
	}
	if _, err := c.App.Location(); err != nil {
		return err
	}
	return nil
}
