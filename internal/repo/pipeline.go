package repo

import (
	"context"
	"errors"
	"fmt"

	"porch/internal/domain"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

var (
	ErrPipelineNotFound   = errors.New("pipeline not found")
	ErrPipelineExists     = errors.New("pipeline already exists")
	ErrPipelineIncomplete = errors.New("pipeline is missing required fields")
)

// PipelineRow is the persisted form of a pipeline, including the
// surrogate key the rest of the schema references.
type PipelineRow struct {
	ID      int64
	Name    string
	URI     string
	Version string
}

// ToModel converts the row to the wire model.
func (r PipelineRow) ToModel() domain.Pipeline {
	uri := r.URI
	version := r.Version
	return domain.Pipeline{Name: r.Name, URI: &uri, Version: &version}
}

type PipelineRepository struct {
	pool *pgxpool.Pool
}

func NewPipelineRepository(pool *pgxpool.Pool) *PipelineRepository {
	return &PipelineRepository{pool: pool}
}

// GetByName fetches one pipeline row by its business key.
func (r *PipelineRepository) GetByName(ctx context.Context, name string) (*PipelineRow, error) {
	query := `
		SELECT pipeline_id, name, repository_uri, version
		FROM pipeline
		WHERE name = $1
	`

	var row PipelineRow
	err := r.pool.QueryRow(ctx, query, name).Scan(&row.ID, &row.Name, &row.URI, &row.Version)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrPipelineNotFound
		}
		return nil, fmt.Errorf("query pipeline: %w", err)
	}

	return &row, nil
}

// List returns pipelines matching the AND of the supplied filters.
func (r *PipelineRepository) List(ctx context.Context, params domain.ListPipelinesParams) ([]domain.Pipeline, error) {
	query := `
		SELECT pipeline_id, name, repository_uri, version
		FROM pipeline
		WHERE 1=1
	`
	args := []interface{}{}
	argIdx := 1

	if params.Name != nil {
		query += fmt.Sprintf(" AND name = $%d", argIdx)
		args = append(args, *params.Name)
		argIdx++
	}
	if params.URI != nil {
		query += fmt.Sprintf(" AND repository_uri = $%d", argIdx)
		args = append(args, *params.URI)
		argIdx++
	}
	if params.Version != nil {
		query += fmt.Sprintf(" AND version = $%d", argIdx)
		args = append(args, *params.Version)
		argIdx++
	}

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query pipelines: %w", err)
	}
	defer rows.Close()

	pipelines := []domain.Pipeline{}
	for rows.Next() {
		var row PipelineRow
		if err := rows.Scan(&row.ID, &row.Name, &row.URI, &row.Version); err != nil {
			return nil, fmt.Errorf("scan pipeline: %w", err)
		}
		pipelines = append(pipelines, row.ToModel())
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate pipelines: %w", err)
	}

	return pipelines, nil
}

// Create inserts a new pipeline row. Duplicate names are conflicts, not
// idempotent creates: pipeline identity is authored, not derived.
func (r *PipelineRepository) Create(ctx context.Context, p domain.Pipeline) (domain.Pipeline, error) {
	query := `
		INSERT INTO pipeline (name, repository_uri, version)
		VALUES ($1, $2, $3)
		RETURNING pipeline_id
	`

	var id int64
	err := r.pool.QueryRow(ctx, query, p.Name, p.URI, p.Version).Scan(&id)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) {
			switch pgErr.Code {
			case "23505": // unique_violation on pipeline(name)
				return domain.Pipeline{}, ErrPipelineExists
			case "23502": // not_null_violation
				return domain.Pipeline{}, ErrPipelineIncomplete
			}
		}
		return domain.Pipeline{}, fmt.Errorf("insert pipeline: %w", err)
	}

	return PipelineRow{ID: id, Name: p.Name, URI: *p.URI, Version: *p.Version}.ToModel(), nil
}
