package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/caarlos0/env/v11"
)

// Secret is a string type that redacts itself when printed
type Secret string

// String implements fmt.Stringer to redact the secret
func (s Secret) String() string {
	if s == "" {
		return ""
	}
	return "***"
}

// MarshalJSON implements json.Marshaler to prevent secrets in JSON logs
func (s Secret) MarshalJSON() ([]byte, error) {
	if s == "" {
		return json.Marshal("")
	}
	return json.Marshal("***")
}

// Config holds the client configuration, resolved from environment variables.
type Config struct {
	// IdentityURL is the base URL of the identity service
	IdentityURL string `env:"SESSIONKIT_IDENTITY_URL" envDefault:"http://localhost:8000"`

	// DashboardURL is the authenticated landing page users are sent to
	// after a successful external login
	DashboardURL string `env:"SESSIONKIT_DASHBOARD_URL" envDefault:"http://localhost:3000/dashboard"`

	// StateDir is where durable credentials are kept. Empty means the
	// platform user config directory.
	StateDir string `env:"SESSIONKIT_STATE_DIR"`

	// HTTPTimeout bounds every identity service call
	HTTPTimeout time.Duration `env:"SESSIONKIT_HTTP_TIMEOUT" envDefault:"30s"`

	// LogLevel overrides the ambient LOG_LEVEL for the CLI
	LogLevel string `env:"SESSIONKIT_LOG_LEVEL"`
}

// Load resolves configuration from the environment.
func Load() (*Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return nil, fmt.Errorf("failed to parse environment: %w", err)
	}

	if cfg.StateDir == "" {
		base, err := os.UserConfigDir()
		if err != nil {
			return nil, fmt.Errorf("failed to resolve user config dir: %w", err)
		}
		cfg.StateDir = filepath.Join(base, "auditdeck")
	}

	return &cfg, nil
}
