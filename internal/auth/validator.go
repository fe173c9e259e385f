package auth

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"time"

	"porch/internal/domain"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

const tokenLength = 32

var tokenPattern = regexp.MustCompile(`^[0-9A-Fa-f]+$`)

// Validator resolves bearer tokens presented by requestors into
// Permissions. It is cheap to construct and request-scoped in use; the
// pool is the only shared state.
type Validator struct {
	pool *pgxpool.Pool
}

// NewValidator creates a Validator backed by the given pool.
func NewValidator(pool *pgxpool.Pool) *Validator {
	return &Validator{pool: pool}
}

// TokenToPermission validates the bearer string and resolves it to a
// Permission. Format problems are reported without touching the
// database. The pipeline is left-joined so that a token without one (a
// power user credential) still resolves.
func (v *Validator) TokenToPermission(ctx context.Context, bearer string) (domain.Permission, error) {
	if len(bearer) != tokenLength {
		return domain.Permission{}, ErrTokenBadLength
	}
	if !tokenPattern.MatchString(bearer) {
		return domain.Permission{}, ErrTokenBadCharacters
	}

	query := `
		SELECT t.token_id, t.date_revoked,
		       p.name, p.repository_uri, p.version
		FROM token t
		LEFT JOIN pipeline p ON p.pipeline_id = t.pipeline_id
		WHERE t.token = $1
	`

	var (
		tokenID      int64
		dateRevoked  *time.Time
		pipelineName *string
		pipelineURI  *string
		pipelineVer  *string
	)
	err := v.pool.QueryRow(ctx, query, bearer).Scan(
		&tokenID, &dateRevoked, &pipelineName, &pipelineURI, &pipelineVer,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.Permission{}, ErrTokenUnknown
		}
		return domain.Permission{}, fmt.Errorf("query token: %w", err)
	}

	if dateRevoked != nil {
		return domain.Permission{}, ErrTokenRevoked
	}

	if pipelineName == nil {
		return domain.NewPowerUserPermission(tokenID), nil
	}

	return domain.NewRegularUserPermission(tokenID, domain.Pipeline{
		Name:    *pipelineName,
		URI:     pipelineURI,
		Version: pipelineVer,
	})
}
