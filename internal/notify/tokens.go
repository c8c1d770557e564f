package notify

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/jackc/pgx/v5"

	"tailorhub/internal/common/apperr"
	"tailorhub/internal/common/database"
)

// TokenStore maps users to their push delivery token. Get returns
// database.ErrNotFound for users without one.
type TokenStore interface {
	Get(ctx context.Context, userID string) (string, error)
	Put(ctx context.Context, userID, token string) error
}

// PostgresTokens stores tokens in user_devices.
type PostgresTokens struct {
	db *database.DB
}

func NewPostgresTokens(db *database.DB) *PostgresTokens {
	return &PostgresTokens{db: db}
}

func (s *PostgresTokens) Get(ctx context.Context, userID string) (string, error) {
	var token string
	err := s.db.QueryRow(ctx, `SELECT token FROM user_devices WHERE user_id = $1`, userID).Scan(&token)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return "", fmt.Errorf("device for user %s: %w", userID, database.ErrNotFound)
		}
		return "", apperr.Storage("getting device token", err)
	}
	return token, nil
}

func (s *PostgresTokens) Put(ctx context.Context, userID, token string) error {
	_, err := s.db.Exec(ctx, `
		INSERT INTO user_devices (user_id, token, updated_at)
		VALUES ($1, $2, now())
		ON CONFLICT (user_id) DO UPDATE SET token = EXCLUDED.token, updated_at = now()
	`, userID, token)
	if err != nil {
		return apperr.Storage("storing device token", err)
	}
	return nil
}

type MemoryTokens struct {
	mu     sync.RWMutex
	tokens map[string]string
}

func NewMemoryTokens() *MemoryTokens {
	return &MemoryTokens{tokens: make(map[string]string)}
}

func (s *MemoryTokens) Get(_ context.Context, userID string) (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	token, ok := s.tokens[userID]
	if !ok {
		return "", fmt.Errorf("device for user %s: %w", userID, database.ErrNotFound)
	}
	return token, nil
}

func (s *MemoryTokens) Put(_ context.Context, userID, token string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tokens[userID] = token
	return nil
}
