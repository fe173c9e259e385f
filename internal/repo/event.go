package repo

import (
	"context"
	"fmt"

	"porch/internal/domain"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

type EventRepository struct {
	pool *pgxpool.Pool
}

func NewEventRepository(pool *pgxpool.Pool) *EventRepository {
	return &EventRepository{pool: pool}
}

// Append writes one audit record inside the given transaction. Events
// only become observable when the transaction commits.
func (r *EventRepository) Append(ctx context.Context, tx pgx.Tx, taskID, tokenID int64, change string) error {
	query := `
		INSERT INTO event (task_id, token_id, change)
		VALUES ($1, $2, $3)
	`

	if _, err := tx.Exec(ctx, query, taskID, tokenID, change); err != nil {
		return fmt.Errorf("insert event: %w", err)
	}

	return nil
}

// ListForDescriptor returns all events of the task identified by its
// job descriptor, in insertion order.
func (r *EventRepository) ListForDescriptor(ctx context.Context, jobDescriptor string) ([]domain.Event, error) {
	query := `
		SELECT e.event_id, e.task_id, e.token_id, e.time, e.change
		FROM event e
		JOIN task t ON t.task_id = e.task_id
		WHERE t.job_descriptor = $1
		ORDER BY e.time ASC, e.event_id ASC
	`

	rows, err := r.pool.Query(ctx, query, jobDescriptor)
	if err != nil {
		return nil, fmt.Errorf("query events: %w", err)
	}
	defer rows.Close()

	events := []domain.Event{}
	for rows.Next() {
		var e domain.Event
		if err := rows.Scan(&e.EventID, &e.TaskID, &e.TokenID, &e.Time, &e.Change); err != nil {
			return nil, fmt.Errorf("scan event: %w", err)
		}
		events = append(events, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate events: %w", err)
	}

	return events, nil
}
