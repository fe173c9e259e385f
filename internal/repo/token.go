package repo

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
)

var ErrTokenNotFound = errors.New("token not found")

type TokenRepository struct {
	pool *pgxpool.Pool
}

func NewTokenRepository(pool *pgxpool.Pool) *TokenRepository {
	return &TokenRepository{pool: pool}
}

// newTokenValue returns a 32-character hexadecimal credential derived
// from a version 4 UUID with the separators stripped.
func newTokenValue() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")
}

// Mint inserts a new token row and returns its value and internal id.
// A nil pipelineID mints a power-user (administrator) token.
func (r *TokenRepository) Mint(ctx context.Context, pipelineID *int64, description string) (string, int64, error) {
	query := `
		INSERT INTO token (token, pipeline_id, description)
		VALUES ($1, $2, $3)
		RETURNING token_id
	`

	value := newTokenValue()
	var tokenID int64
	err := r.pool.QueryRow(ctx, query, value, pipelineID, description).Scan(&tokenID)
	if err != nil {
		return "", 0, fmt.Errorf("insert token: %w", err)
	}

	return value, tokenID, nil
}

// Revoke stamps date_revoked on the token row. The row itself is never
// deleted because events keep a back-reference to it.
func (r *TokenRepository) Revoke(ctx context.Context, token string) error {
	query := `
		UPDATE token
		SET date_revoked = NOW()
		WHERE token = $1 AND date_revoked IS NULL
	`

	result, err := r.pool.Exec(ctx, query, token)
	if err != nil {
		return fmt.Errorf("revoke token: %w", err)
	}
	if result.RowsAffected() == 0 {
		return ErrTokenNotFound
	}

	return nil
}
