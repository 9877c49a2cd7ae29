package config

import (
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"
)

// Config is the process configuration, sourced from the environment.
// An empty REDIS_ADDR selects the in-memory backend.
type Config struct {
	ServiceName     string        `env:"SERVICE_NAME" envDefault:"orderstream"`
	Env             string        `env:"ENV" envDefault:"dev"`
	Addr            string        `env:"ADDR" envDefault:":8080"`
	RedisAddr       string        `env:"REDIS_ADDR"`
	BusPollInterval time.Duration `env:"BUS_POLL_INTERVAL" envDefault:"1s"`
	BusBatchSize    int           `env:"BUS_BATCH_SIZE" envDefault:"256"`
	ShutdownTimeout time.Duration `env:"SHUTDOWN_TIMEOUT" envDefault:"10s"`
}

func Load() (Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return Config{}, fmt.Errorf("config: parse environment: %w", err)
	}
	return cfg, nil
}
