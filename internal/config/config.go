package config

import (
	"errors"
	"fmt"
	"io/fs"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

const (
	DriverMySQL  = "mysql"
	DriverSQLite = "sqlite"
)

type Config struct {
	HTTPAddr string `env:"HTTP_ADDR" envDefault:":8080"`
	GRPCAddr string `env:"GRPC_ADDR" envDefault:":50051"`

	DBDriver          string        `env:"DB_DRIVER"             envDefault:"mysql"`
	MySQLDSN          string        `env:"MYSQL_DSN"             envDefault:"root:root@tcp(localhost:3306)/pharmacy?parseTime=true"`
	SQLitePath        string        `env:"SQLITE_PATH"           envDefault:"pharmacy.db"`
	DBMaxOpenConns    int           `env:"DB_MAX_OPEN_CONNS"     envDefault:"50"`
	DBMaxIdleConns    int           `env:"DB_MAX_IDLE_CONNS"     envDefault:"25"`
	DBConnMaxLifetime time.Duration `env:"DB_CONN_MAX_LIFETIME"  envDefault:"5m"`

	// RedisAddr empty disables request idempotency and notification publishing.
	RedisAddr     string `env:"REDIS_ADDR"      envDefault:"localhost:6379"`
	RedisPoolSize int    `env:"REDIS_POOL_SIZE" envDefault:"100"`

	JWTSecret string `env:"JWT_SECRET"`

	WorkerCount  int  `env:"WORKER_COUNT"   envDefault:"10"`
	QueueSize    int  `env:"QUEUE_SIZE"     envDefault:"10000"`
	MaxTxRetries uint `env:"MAX_TX_RETRIES" envDefault:"5"`

	// Timezone sets where calendar days begin for expiry and prescription
	// validity.
	Timezone string `env:"PHARMACY_TIMEZONE" envDefault:"UTC"`

	OTelEndpoint string `env:"OTEL_ENDPOINT"`
	ServiceName  string `env:"SERVICE_NAME" envDefault:"pharma-dispatch"`

	ShutdownTimeout time.Duration `env:"SHUTDOWN_TIMEOUT" envDefault:"5s"`
}

// Load reads the given .env files (".env" when none are named) and then
// the process environment. Variables already set in the environment win
// over file values. A missing .env file is not an error.
func Load(files ...string) (Config, error) {
	if err := godotenv.Load(files...); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return Config{}, fmt.Errorf("load env file: %w", err)
	}

	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return Config{}, fmt.Errorf("parse env: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) Validate() error {
	switch c.DBDriver {
	case DriverMySQL, DriverSQLite:
	default:
		return fmt.Errorf("DB_DRIVER must be %q or %q, got %q", DriverMySQL, DriverSQLite, c.DBDriver)
	}
	if c.JWTSecret == "" {
		return errors.New("JWT_SECRET is required")
	}
	if c.WorkerCount <= 0 {
		return fmt.Errorf("WORKER_COUNT must be positive, got %d", c.WorkerCount)
	}
	if c.QueueSize <= 0 {
		return fmt.Errorf("QUEUE_SIZE must be positive, got %d", c.QueueSize)
	}
	if _, err := c.Location(); err != nil {
		return err
	}
	return nil
}

// Location resolves Timezone.
func (c Config) Location() (*time.Location, error) {
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return nil, fmt.Errorf("PHARMACY_TIMEZONE: %w", err)
	}
	return loc, nil
}
