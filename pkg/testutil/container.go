// Package testutil backs the two test tiers used across the services:
// sqlmock fixtures for unit tests and a shared testcontainers PostgreSQL
// instance, migrated by the service's own registry, for integration tests.
package testutil

import (
	"context"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"
)

const defaultPostgresImage = "postgres:15-alpine"

// PostgresContainer is a disposable PostgreSQL instance with its DSN
// resolved.
type PostgresContainer struct {
	*postgres.PostgresContainer
	DSN string
}

// PostgresContainerConfig configures the test database. Zero-value fields
// fall back to the defaults from DefaultPostgresConfig.
type PostgresContainerConfig struct {
	Database string
	Username string
	Password string
	Image    string
}

// DefaultPostgresConfig returns the configuration integration suites use.
func DefaultPostgresConfig() PostgresContainerConfig {
	return PostgresContainerConfig{
		Database: "fisioflow_test",
		Username: "test",
		Password: "test",
		Image:    defaultPostgresImage,
	}
}

func (c *PostgresContainerConfig) applyDefaults() {
	defaults := DefaultPostgresConfig()
	if c.Image == "" {
		c.Image = defaults.Image
	}
	if c.Database == "" {
		c.Database = defaults.Database
	}
	if c.Username == "" {
		c.Username = defaults.Username
	}
	if c.Password == "" {
		c.Password = defaults.Password
	}
}

// NewPostgresContainer starts a PostgreSQL container and waits until it
// accepts connections. Callers own the container and must Terminate it.
func NewPostgresContainer(ctx context.Context, cfg PostgresContainerConfig) (*PostgresContainer, error) {
	cfg.applyDefaults()

	container, err := postgres.RunContainer(ctx,
		testcontainers.WithImage(cfg.Image),
		postgres.WithDatabase(cfg.Database),
		postgres.WithUsername(cfg.Username),
		postgres.WithPassword(cfg.Password),
		testcontainers.WithWaitStrategy(
			// Postgres logs readiness twice: once during its init
			// restart and once when it is actually up.
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(60*time.Second),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("start postgres container: %w", err)
	}

	dsn, err := container.ConnectionString(ctx, "sslmode=disable")
	if err != nil {
		container.Terminate(ctx)
		return nil, fmt.Errorf("resolve container dsn: %w", err)
	}

	return &PostgresContainer{PostgresContainer: container, DSN: dsn}, nil
}

// Connect opens a sqlx connection to the container.
func (c *PostgresContainer) Connect(ctx context.Context) (*sqlx.DB, error) {
	db, err := sqlx.ConnectContext(ctx, "postgres", c.DSN)
	if err != nil {
		return nil, fmt.Errorf("connect to test database: %w", err)
	}
	return db, nil
}

// Terminate stops and removes the container.
func (c *PostgresContainer) Terminate(ctx context.Context) error {
	return c.PostgresContainer.Terminate(ctx)
}
