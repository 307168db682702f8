package config

import (
	"fmt"
	"os"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
)

// LoadDotEnv loads environment variables from a .env file if present.
// Existing environment variables are not overwritten.
func LoadDotEnv(path string) error {
	if _, err := os.Stat(path); err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	return godotenv.Load(path)
}

type Config struct {
	DiscoveryListenAddr string        `env:"DISCOVERY_LISTEN_ADDR" envDefault:":8080" validate:"required,hostname_port"`
	DiscoveryURL        string        `env:"DISCOVERY_URL" envDefault:"http://localhost:8080" validate:"required,http_url"`
	PeerListenAddr      string        `env:"PEER_LISTEN_ADDR" envDefault:"127.0.0.1:0" validate:"required"`
	PeerAdvertiseAddr   string        `env:"PEER_ADVERTISE_ADDR" validate:"omitempty,hostname_port"`
	SessionCapacity     int           `env:"SESSION_CAPACITY" envDefault:"10" validate:"gte=4,lte=64"`
	ConnectTimeout      time.Duration `env:"CONNECT_TIMEOUT" envDefault:"10s" validate:"gt=0"`
	LogLevel            string        `env:"LOG_LEVEL" envDefault:"info" validate:"oneof=debug info warn error"`
	LogDevelopment      bool          `env:"LOG_DEVELOPMENT" envDefault:"false"`
}

// Load parses the environment and validates the result.
func Load() (Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return Config{}, fmt.Errorf("parse env: %w", err)
	}
	if err := validator.New().Struct(cfg); err != nil {
		return Config{}, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}
