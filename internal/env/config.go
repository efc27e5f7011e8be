package env

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/joho/godotenv"
	"github.com/sethvargo/go-envconfig"
)

var ErrInvalidConfig = errors.New("Invalid configuration")

// Config is the process wide configuration. Command line flags override
// it per invocation.
type Config struct {
	// LinkSecret is the shared secret used in HELLO and BYE
	LinkSecret string `env:"SLED_LINK_SECRET,default=SLED-LOCAL-DEV"`

	MaxConnections int           `env:"SLED_MAX_CONNECTIONS,default=6"`
	MaxInFlight    int           `env:"SLED_MAX_IN_FLIGHT,default=8"`
	CallTimeout    time.Duration `env:"SLED_CALL_TIMEOUT,default=1s"`

	// CommandsFile optionally names a TOML file of extra command entries
	CommandsFile string `env:"SLED_COMMANDS_FILE"`

	LogLevel  string `env:"SLED_LOG_LEVEL,default=info"`
	DebugHTTP bool   `env:"SLED_DEBUG_HTTP"`

	// Trace logs every frame at debug level
	Trace bool `env:"SLED_TRACE"`
}

func LoadConfig(ctx context.Context) (*Config, error) {
	if err := godotenv.Load(".env.local"); err != nil {
		if !os.IsNotExist(err) {
			return nil, fmt.Errorf("failed to load .env.local: %w", err)
		}
	}

	return LoadConfigWith(ctx, envconfig.OsLookuper())
}

// LoadConfigWith reads the configuration from l instead of the environment.
func LoadConfigWith(ctx context.Context, l envconfig.Lookuper) (*Config, error) {
	config := Config{}

	if err := envconfig.ProcessWith(ctx, &config, l); err != nil {
		return nil, err
	}

	if err := config.Validate(); err != nil {
		return nil, err
	}

	return &config, nil
}

func (c *Config) Validate() error {
	switch {
	case c.LinkSecret == "":
		return fmt.Errorf("%w: SLED_LINK_SECRET must not be empty", ErrInvalidConfig)

	case c.MaxConnections < 1:
		return fmt.Errorf("%w: SLED_MAX_CONNECTIONS must be at least 1, got %d", ErrInvalidConfig, c.MaxConnections)

	case c.MaxInFlight < 1:
		return fmt.Errorf("%w: SLED_MAX_IN_FLIGHT must be at least 1, got %d", ErrInvalidConfig, c.MaxInFlight)

	case c.CallTimeout <= 0:
		return fmt.Errorf("%w: SLED_CALL_TIMEOUT must be positive, got %s", ErrInvalidConfig, c.CallTimeout)
	}

	return nil
}
