package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/go-sql-driver/mysql"
	"github.com/joho/godotenv"
)

const (
	DriverMySQL  = "mysql"
	DriverMongo  = "mongo"
	DriverSQLite = "sqlite"
)

// Config holds all configuration for the application
type Config struct {
	HTTPAddr string
	GRPCAddr string

	StoreDriver       string
	MySQLDSN          string
	MySQLMaxOpenConns int
	MongoURI          string
	MongoDatabase     string
	SQLitePath        string

	RedisAddr     string
	RedisPassword string
	RedisDB       int

	JWTSecret   string
	LogLevel    string
	Environment string

	EventQueueSize       int
	EventWorkers         int
	ProcessLeaseTTL      time.Duration
	StaleRequestAfter    time.Duration
	StaleRequestSchedule string
	ShutdownTimeout      time.Duration
}

// Load reads .env (when present) and the environment. Existing environment
// variables take precedence over .env entries.
func Load() (*Config, error) {
	_ = godotenv.Load()
	return FromEnv(os.Getenv)
}

// FromEnv builds a Config from a lookup function, applying defaults.
func FromEnv(getenv func(string) string) (*Config, error) {
	env := func(key, def string) string {
		if v := getenv(key); v != "" {
			return v
		}
		return def
	}

	var errs []error
	intVar := func(key string, def int) int {
		raw := getenv(key)
		if raw == "" {
			return def
		}
		n, err := strconv.Atoi(raw)
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", key, err))
			return def
		}
		return n
	}
	durationVar := func(key string, def time.Duration) time.Duration {
		raw := getenv(key)
		if raw == "" {
			return def
		}
		d, err := time.ParseDuration(raw)
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", key, err))
			return def
		}
		return d
	}

	cfg := &Config{
		HTTPAddr:             env("HTTP_ADDR", ":8080"),
		GRPCAddr:             env("GRPC_ADDR", ":50051"),
		StoreDriver:          env("STORE_DRIVER", DriverSQLite),
		MySQLDSN:             env("MYSQL_DSN", "root:root@tcp(localhost:3306)/inventory?parseTime=true"),
		MySQLMaxOpenConns:    intVar("MYSQL_MAX_OPEN_CONNS", 50),
		MongoURI:             env("MONGO_URI", "mongodb://localhost:27017/?replicaSet=rs0"),
		MongoDatabase:        env("MONGO_DATABASE", "inventory"),
		SQLitePath:           env("SQLITE_PATH", "inventory.db"),
		RedisAddr:            getenv("REDIS_ADDR"),
		RedisPassword:        getenv("REDIS_PASSWORD"),
		RedisDB:              intVar("REDIS_DB", 0),
		JWTSecret:            getenv("JWT_SECRET"),
		LogLevel:             env("LOG_LEVEL", "info"),
		Environment:          env("APP_ENV", "development"),
		EventQueueSize:       intVar("EVENT_QUEUE_SIZE", 10000),
		EventWorkers:         intVar("EVENT_WORKERS", 4),
		ProcessLeaseTTL:      durationVar("PROCESS_LEASE_TTL", 30*time.Second),
		StaleRequestAfter:    durationVar("STALE_REQUEST_AFTER", 72*time.Hour),
		StaleRequestSchedule: env("STALE_REQUEST_SCHEDULE", "@hourly"),
		ShutdownTimeout:      durationVar("SHUTDOWN_TIMEOUT", 10*time.Second),
	}

	if err := cfg.validate(); err != nil {
		errs = append(errs, err)
	}
	if len(errs) > 0 {
		return nil, fmt.Errorf("invalid configuration: %w", errors.Join(errs...))
	}
	return cfg, nil
}

func (c *Config) validate() error {
	var errs []error

	switch c.StoreDriver {
	case DriverMySQL:
		if _, err := mysql.ParseDSN(c.MySQLDSN); err != nil {
			errs = append(errs, fmt.Errorf("MYSQL_DSN: %w", err))
		}
	case DriverMongo:
		if c.MongoURI == "" {
			errs = append(errs, errors.New("MONGO_URI is required for the mongo driver"))
		}
	case DriverSQLite:
	default:
		errs = append(errs, fmt.Errorf("STORE_DRIVER: unknown driver %q", c.StoreDriver))
	}

	if c.IsProduction() && c.JWTSecret == "" {
		errs = append(errs, errors.New("JWT_SECRET is required in production"))
	}
	if c.EventQueueSize < 0 {
		errs = append(errs, errors.New("EVENT_QUEUE_SIZE must not be negative"))
	}
	if c.EventWorkers < 1 {
		errs = append(errs, errors.New("EVENT_WORKERS must be at least 1"))
	}
	return errors.Join(errs...)
}

func (c *Config) IsProduction() bool {
	return c.Environment == "production"
}
