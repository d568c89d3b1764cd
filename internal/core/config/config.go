package config

import (
	"fmt"
	"time"

	"github.com/vietddude/mealog/internal/auth"
	"github.com/vietddude/mealog/internal/infra/retry"
	redisclient "github.com/vietddude/mealog/internal/infra/redis"
	"github.com/vietddude/mealog/internal/infra/storage/firestore"
	"github.com/vietddude/mealog/internal/infra/storage/postgres"
)

// Store backends.
const (
	BackendMemory    = "memory"
	BackendFirestore = "firestore"
	BackendPostgres  = "postgres"
)

// AppConfig represents the top-level configuration.
type AppConfig struct {
	Server    ServerConfig       `yaml:"server"`
	Logging   LoggingConfig      `yaml:"logging"`
	Store     StoreConfig        `yaml:"store"`
	Firestore firestore.Config   `yaml:"firestore"`
	Database  postgres.Config    `yaml:"database"`
	Redis     redisclient.Config `yaml:"redis"`
	Auth      auth.Config        `yaml:"auth"`
	Retry     RetryConfig        `yaml:"retry"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Port int `yaml:"port"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level  string `yaml:"level"`  // debug, info, warn, error
	Format string `yaml:"format"` // json, text
}

// StoreConfig selects the document store.
type StoreConfig struct {
	Backend string `yaml:"backend"` // memory, firestore, postgres

	// Namespace prefixes every collection path, e.g. "artifacts/my-app".
	Namespace string `yaml:"namespace"`

	// Timezone decides which calendar day "today" is.
	Timezone string `yaml:"timezone"`
}

// RetryConfig mirrors retry.Policy. An absent initial_delay keeps the
// default; an explicit 0s retries without waiting. A zero max_delay leaves
// the delay uncapped.
type RetryConfig struct {
	MaxAttempts  int            `yaml:"max_attempts"`
	InitialDelay *time.Duration `yaml:"initial_delay"`
	MaxDelay     time.Duration  `yaml:"max_delay"`
}

// Policy converts the config to a retry policy.
func (c RetryConfig) Policy() retry.Policy {
	p := retry.DefaultPolicy
	if c.MaxAttempts > 0 {
		p.MaxAttempts = c.MaxAttempts
	}
	if c.InitialDelay != nil {
		p.InitialDelay = *c.InitialDelay
	}
	p.MaxDelay = c.MaxDelay
	return p
}

// Location returns the configured timezone, UTC when unset.
func (c StoreConfig) Location() (*time.Location, error) {
	if c.Timezone == "" {
		return time.UTC, nil
	}
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return nil, fmt.Errorf("invalid store.timezone %q: %w", c.Timezone, err)
	}
	return loc, nil
}

// MissingError reports a required setting that has no value.
type MissingError struct {
	Field string
}

func (e *MissingError) Error() string {
	return fmt.Sprintf("missing required config value %s", e.Field)
}

// Validate checks that every setting the selected backend needs is present.
func (c *AppConfig) Validate() error {
	if c.Store.Namespace == "" {
		return &MissingError{Field: "store.namespace"}
	}
	if c.Auth.JWTSecret == "" {
		return &MissingError{Field: "auth.jwt_secret"}
	}

	switch c.Store.Backend {
	case BackendMemory:
	case BackendFirestore:
		if c.Firestore.ProjectID == "" {
			return &MissingError{Field: "firestore.project_id"}
		}
	case BackendPostgres:
		if c.Database.URL == "" {
			return &MissingError{Field: "database.url"}
		}
	default:
		return fmt.Errorf("unknown store.backend %q", c.Store.Backend)
	}

	if _, err := c.Store.Location(); err != nil {
		return err
	}
	return nil
}
