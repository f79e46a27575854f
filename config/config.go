// Package config loads process configuration from the environment.
package config

import (
	"errors"
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

// Store drivers.
const (
	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite"
	DriverMemory   = "memory"
)

// Notification sinks.
const (
	SinkQueue = "queue"
	SinkLog   = "log"
)

// DefaultRoster is used when neither ROSTER nor ROSTER_FILE is set.
var DefaultRoster = []string{
	"Blue Harbor",
	"Granite City",
	"Iron Ridge",
	"North Star",
	"Red Valley",
	"Silver Coast",
}

// Config holds application configuration loaded from environment.
type Config struct {
	Server        ServerConfig
	Store         StoreConfig
	Database      DatabaseConfig
	Redis         RedisConfig
	JWT           JWTConfig
	AWS           AWSConfig
	Contracts     ContractsConfig
	Scheduler     SchedulerConfig
	Notifications NotificationsConfig
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Port               string `env:"PORT" envDefault:"8080"`
	ReadTimeout        int    `env:"READ_TIMEOUT_SEC" envDefault:"30"`
	WriteTimeout       int    `env:"WRITE_TIMEOUT_SEC" envDefault:"30"`
	CORSAllowedOrigins string `env:"CORS_ALLOWED_ORIGINS" envDefault:"http://localhost:3000"` // comma-separated, or "*"
}

// StoreConfig selects the contract store.
type StoreConfig struct {
	Driver     string `env:"STORE_DRIVER" envDefault:"postgres"`
	SQLitePath string `env:"SQLITE_PATH" envDefault:"roster.db"`
}

// DatabaseConfig holds PostgreSQL connection settings.
type DatabaseConfig struct {
	URL      string `env:"DATABASE_URL"` // if set, used as-is
	Host     string `env:"DB_HOST" envDefault:"localhost"`
	Port     string `env:"DB_PORT" envDefault:"5432"`
	User     string `env:"DB_USER" envDefault:"postgres"`
	Password string `env:"DB_PASSWORD" envDefault:"postgres"`
	DBName   string `env:"DB_NAME" envDefault:"roster"`
	SSLMode  string `env:"DB_SSLMODE" envDefault:"disable"`
	MaxConns int32  `env:"DB_MAX_CONNS" envDefault:"10"`
}

// RedisConfig holds Redis connection settings.
type RedisConfig struct {
	Enabled  bool          `env:"REDIS_ENABLED" envDefault:"true"`
	Addr     string        `env:"REDIS_ADDR" envDefault:"localhost:6379"`
	Password string        `env:"REDIS_PASSWORD"`
	DB       int           `env:"REDIS_DB" envDefault:"0"`
	CacheTTL time.Duration `env:"REPUTATION_CACHE_TTL" envDefault:"5m"`
}

// JWTConfig holds JWT signing and validation settings.
type JWTConfig struct {
	Secret      string `env:"JWT_SECRET" envDefault:"change-me-in-production"`
	Issuer      string `env:"JWT_ISSUER" envDefault:"rosterleague"`
	ExpireHours int    `env:"JWT_EXPIRE_HOURS" envDefault:"24"`
}

// TTL is the token lifetime.
func (c JWTConfig) TTL() time.Duration {
	return time.Duration(c.ExpireHours) * time.Hour
}

// AWSConfig holds credentials and the contract archive bucket. An empty bucket disables archiving.
type AWSConfig struct {
	Region               string `env:"AWS_REGION" envDefault:"us-east-1"`
	AccessKeyID          string `env:"AWS_ACCESS_KEY_ID"`
	SecretAccessKey      string `env:"AWS_SECRET_ACCESS_KEY"`
	ContractsBucket      string `env:"AWS_S3_CONTRACTS_BUCKET"`
	Endpoint             string `env:"AWS_S3_ENDPOINT"`
	PresignExpireMinutes int    `env:"AWS_PRESIGN_EXPIRE_MINUTES" envDefault:"15"`
}

// ContractsConfig holds negotiation settings and the organization roster.
type ContractsConfig struct {
	ResponseWindow    time.Duration `env:"CONTRACTS_RESPONSE_WINDOW" envDefault:"72h"`
	AllowEarlyRenewal bool          `env:"CONTRACTS_ALLOW_EARLY_RENEWAL" envDefault:"false"`
	OfferTuningFile   string        `env:"OFFER_TUNING_FILE"`
	Roster            []string      `env:"ROSTER" envSeparator:","`
	RosterFile        string        `env:"ROSTER_FILE"`
}

// SchedulerConfig holds sweep settings.
type SchedulerConfig struct {
	InProcess        bool          `env:"SCHEDULER_IN_PROCESS" envDefault:"false"`
	Timers           bool          `env:"SCHEDULER_TIMERS" envDefault:"true"`
	ContractInterval time.Duration `env:"SCHEDULER_CONTRACT_INTERVAL" envDefault:"1h"`
	DeadlineInterval time.Duration `env:"SCHEDULER_DEADLINE_INTERVAL" envDefault:"1m"`
	BatchSize        int           `env:"SCHEDULER_BATCH_SIZE" envDefault:"200"`
}

// NotificationsConfig holds dispatcher settings.
type NotificationsConfig struct {
	Sink   string `env:"NOTIFY_SINK" envDefault:"queue"`
	Buffer int    `env:"NOTIFY_BUFFER" envDefault:"1024"`
}

// DSN returns the PostgreSQL connection string.
// If DatabaseConfig.URL is set (e.g. DATABASE_URL env), it is used as-is; otherwise built from components.
func (c DatabaseConfig) DSN() string {
	if c.URL != "" {
		return c.URL
	}
	return fmt.Sprintf(
		"postgres://%s:%s@%s:%s/%s?sslmode=%s",
		c.User, c.Password, c.Host, c.Port, c.DBName, c.SSLMode,
	)
}

// Load reads configuration from environment, with optional .env file.
func Load() (*Config, error) {
	_ = godotenv.Load()      // .env
	_ = godotenv.Load("env") // env (no leading dot)
	return parse(env.Options{})
}

func parse(opts env.Options) (*Config, error) {
	cfg := &Config{}
	if err := env.ParseWithOptions(cfg, opts); err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks cross-field constraints.
func (c *Config) Validate() error {
	var errs []error
	switch c.Store.Driver {
	case DriverPostgres, DriverSQLite, DriverMemory:
	default:
		errs = append(errs, fmt.Errorf("STORE_DRIVER: unknown driver %q", c.Store.Driver))
	}
	switch c.Notifications.Sink {
	case SinkLog:
	case SinkQueue:
		if !c.Redis.Enabled {
			errs = append(errs, errors.New("NOTIFY_SINK=queue requires redis"))
		}
	default:
		errs = append(errs, fmt.Errorf("NOTIFY_SINK: unknown sink %q", c.Notifications.Sink))
	}
	if c.Contracts.ResponseWindow <= 0 {
		errs = append(errs, errors.New("CONTRACTS_RESPONSE_WINDOW must be positive"))
	}
	if c.Scheduler.ContractInterval <= 0 || c.Scheduler.DeadlineInterval <= 0 {
		errs = append(errs, errors.New("scheduler intervals must be positive"))
	}
	if c.Scheduler.BatchSize <= 0 {
		errs = append(errs, errors.New("SCHEDULER_BATCH_SIZE must be positive"))
	}
	if c.JWT.Secret == "" {
		errs = append(errs, errors.New("JWT_SECRET is required"))
	}
	return errors.Join(errs...)
}

// RosterNames returns the configured roster, falling back to DefaultRoster.
// ROSTER_FILE is resolved by the caller.
func (c ContractsConfig) RosterNames() []string {
	if len(c.Roster) > 0 {
		return c.Roster
	}
	return DefaultRoster
}
