package main

import (
	"fmt"
	"log/slog"
	"time"

	platformamqp "github.com/rai/orderhistory-go/internal/platform/amqp"
	"github.com/rai/orderhistory-go/internal/platform/config"
	platformdynamodb "github.com/rai/orderhistory-go/internal/platform/dynamodb"
	"github.com/rai/orderhistory-go/internal/platform/httpserver"
	platformotel "github.com/rai/orderhistory-go/internal/platform/otel"
	platformredis "github.com/rai/orderhistory-go/internal/platform/redis"
	platformspanner "github.com/rai/orderhistory-go/internal/platform/spanner"
	platformsqlite "github.com/rai/orderhistory-go/internal/platform/sqlite"
	"github.com/rai/orderhistory-go/modules/orderhistory/infrastructure/messaging"
)

// Store backends.
const (
	storeMemory   = "memory"
	storeSQLite   = "sqlite"
	storeSpanner  = "spanner"
	storeDynamoDB = "dynamodb"
)

// Config is the process configuration, read from the environment.
type Config struct {
	LogLevel        slog.Level    `env:"LOG_LEVEL" envDefault:"INFO"`
	Store           string        `env:"STORE" envDefault:"memory"`
	BatchWorkers    int           `env:"BATCH_WORKERS" envDefault:"8"`
	ShutdownTimeout time.Duration `env:"SHUTDOWN_TIMEOUT" envDefault:"30s"`
	CacheTTL        time.Duration `env:"CACHE_TTL" envDefault:"5m"`
	// CreateTables creates the DynamoDB table when missing. Meant for
	// DynamoDB Local.
	CreateTables bool `env:"CREATE_TABLES" envDefault:"false"`

	SQLite   platformsqlite.Config   `envPrefix:"SQLITE_"`
	Spanner  platformspanner.Config  `envPrefix:"SPANNER_"`
	DynamoDB platformdynamodb.Config `envPrefix:"DYNAMODB_"`
	AMQP     platformamqp.Config     `envPrefix:"AMQP_"`
	// AMQPRetry paces requeues after storage failures and bounds how often
	// events for unknown orders are deferred.
	AMQPRetry messaging.RetryPolicy `envPrefix:"AMQP_RETRY_"`
	// Redis caching is disabled when REDIS_ADDR is empty.
	Redis platformredis.Config `envPrefix:"REDIS_"`
	HTTP  httpserver.Config    `envPrefix:"HTTP_"`
	OTel  platformotel.Config  `envPrefix:"OTEL_"`
}

func loadConfig() (Config, error) {
	var cfg Config
	if err := config.ParseEnv(&cfg); err != nil {
		return Config{}, err
	}
	return cfg, cfg.validate()
}

func (c Config) validate() error {
	switch c.Store {
	case storeMemory, storeSQLite, storeSpanner, storeDynamoDB:
	default:
		return fmt.Errorf("unknown STORE %q", c.Store)
	}
	if c.Store == storeSpanner && (c.Spanner.ProjectID == "" || c.Spanner.InstanceID == "" || c.Spanner.DatabaseID == "") {
		return fmt.Errorf("SPANNER_PROJECT_ID, SPANNER_INSTANCE_ID and SPANNER_DATABASE_ID are required for the spanner store")
	}
	if c.CacheTTL < time.Millisecond {
		return fmt.Errorf("CACHE_TTL must be at least 1ms")
	}
	if c.AMQPRetry.InitialInterval <= 0 || c.AMQPRetry.MaxInterval < c.AMQPRetry.InitialInterval {
		return fmt.Errorf("AMQP_RETRY_INITIAL_INTERVAL must be positive and at most AMQP_RETRY_MAX_INTERVAL")
	}
	if c.AMQPRetry.MaxDeferrals < 0 {
		return fmt.Errorf("AMQP_RETRY_MAX_DEFERRALS must not be negative")
	}
	if c.AMQP.Queue == "" {
		return fmt.Errorf("AMQP_QUEUE is required")
	}
	return nil
}
