//go:build integration

// Package dbtest starts a throwaway Postgres for integration tests and
// applies the embedded migrations to it.
package dbtest

import (
	"context"
	"io"
	"log/slog"
	"time"

	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"tailorhub/internal/common/database"
)

// Env is a running Postgres container with a migrated schema.
type Env struct {
	PG  *postgres.PostgresContainer
	DB  *database.DB
	URL string
}

// Setup starts the container, migrates it and opens a pool.
func Setup(ctx context.Context) (*Env, error) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	pgC, err := postgres.Run(ctx,
		"postgres:16-alpine",
		postgres.WithDatabase("tailorhub"),
		postgres.WithUsername("postgres"),
		postgres.WithPassword("postgres"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(60*time.Second),
		),
	)
	if err != nil {
		return nil, err
	}

	url, err := pgC.ConnectionString(ctx, "sslmode=disable")
	if err != nil {
		_ = pgC.Terminate(ctx)
		return nil, err
	}

	if err := database.Migrate(url, logger); err != nil {
		_ = pgC.Terminate(ctx)
		return nil, err
	}

	db, err := database.New(ctx, database.Config{
		URL:             url,
		MaxConns:        10,
		MinConns:        1,
		MaxConnLifetime: time.Hour,
		MaxConnIdleTime: time.Minute,
	}, logger)
	if err != nil {
		_ = pgC.Terminate(ctx)
		return nil, err
	}

	return &Env{PG: pgC, DB: db, URL: url}, nil
}

// Teardown closes the pool and removes the container.
func (e *Env) Teardown(ctx context.Context) {
	e.DB.Close()
	_ = e.PG.Terminate(ctx)
}
