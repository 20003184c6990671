package server

import (
	"errors"
	"fmt"
	"net"
	"os"
	"strconv"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"

	"github.com/Tyrowin/relaychat/internal/logging"
)

// Config holds the server settings, read from the environment.
type Config struct {
	Host string `env:"HOST" envDefault:"0.0.0.0"`
	Port int    `env:"PORT" envDefault:"8080"`
	// AllowedOrigins lists browser origins allowed to connect; "*" allows any.
	AllowedOrigins []string `env:"ALLOWED_ORIGINS" envDefault:"*" envSeparator:","`
	// SendTimeout bounds each per-recipient send during a broadcast.
	SendTimeout time.Duration `env:"SEND_TIMEOUT" envDefault:"5s"`
	// ShutdownTimeout bounds HTTP drain and connection cleanup on exit.
	ShutdownTimeout time.Duration `env:"SHUTDOWN_TIMEOUT" envDefault:"10s"`
	// MetricsEndpoint is an OTLP HTTP host:port; empty disables export.
	MetricsEndpoint string `env:"OTEL_EXPORTER_OTLP_ENDPOINT"`

	Log logging.Config `envPrefix:"LOG_"`
}

// NewConfig returns a Config populated with default values for all settings.
func NewConfig() Config {
	cfg, err := env.ParseAsWithOptions[Config](env.Options{Environment: map[string]string{}})
	if err != nil {
		panic(fmt.Sprintf("server: invalid default config: %v", err))
	}
	return cfg
}

// LoadConfig reads a .env file if one exists, then parses the environment.
// Unset variables keep their defaults.
func LoadConfig() (Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return Config{}, fmt.Errorf("loading .env: %w", err)
	}

	cfg, err := env.ParseAs[Config]()
	if err != nil {
		return Config{}, fmt.Errorf("parsing environment: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks ranges the env parser cannot express.
func (c Config) Validate() error {
	if c.Port < 0 || c.Port > 65535 {
		return fmt.Errorf("PORT must be between 0 and 65535 (got: %d)", c.Port)
	}
	if c.SendTimeout <= 0 {
		return fmt.Errorf("SEND_TIMEOUT must be positive (got: %s)", c.SendTimeout)
	}
	if c.ShutdownTimeout <= 0 {
		return fmt.Errorf("SHUTDOWN_TIMEOUT must be positive (got: %s)", c.ShutdownTimeout)
	}
	return c.Log.Validate()
}

// Addr returns the listen address.
func (c Config) Addr() string {
	return net.JoinHostPort(c.Host, strconv.Itoa(c.Port))
}
