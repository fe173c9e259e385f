package repo

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"porch/internal/domain"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

var (
	ErrTaskNotFound  = errors.New("task not found")
	ErrDuplicateTask = errors.New("task with the same signature already exists")
)

// TaskRow is the persisted form of a task.
type TaskRow struct {
	ID            int64
	PipelineID    int64
	JobDescriptor string
	Definition    json.RawMessage
	State         domain.TaskState
	Created       time.Time
}

// ToModel converts the row to the wire model, attaching the pipeline the
// row belongs to.
func (r TaskRow) ToModel(pipeline domain.Pipeline) domain.Task {
	return domain.Task{
		Pipeline:    pipeline,
		TaskInputID: r.JobDescriptor,
		TaskInput:   r.Definition,
		Status:      r.State,
	}
}

type TaskRepository struct {
	pool *pgxpool.Pool
}

func NewTaskRepository(pool *pgxpool.Pool) *TaskRepository {
	return &TaskRepository{pool: pool}
}

// Begin opens a transaction. Callers must pair it with a deferred
// tx.Rollback(ctx) and an explicit tx.Commit(ctx).
func (r *TaskRepository) Begin(ctx context.Context) (pgx.Tx, error) {
	return r.pool.Begin(ctx)
}

// Insert writes a new task row inside the given transaction. A unique
// violation on (pipeline_id, job_descriptor) is reported as
// ErrDuplicateTask so the caller can fall back to the existing row.
func (r *TaskRepository) Insert(ctx context.Context, tx pgx.Tx, pipelineID int64, jobDescriptor string, definition json.RawMessage, state domain.TaskState) (TaskRow, error) {
	query := `
		INSERT INTO task (pipeline_id, job_descriptor, definition, state)
		VALUES ($1, $2, $3, $4)
		RETURNING task_id, created
	`

	row := TaskRow{
		PipelineID:    pipelineID,
		JobDescriptor: jobDescriptor,
		Definition:    definition,
		State:         state,
	}
	err := tx.QueryRow(ctx, query, pipelineID, jobDescriptor, definition, state).
		Scan(&row.ID, &row.Created)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return TaskRow{}, ErrDuplicateTask
		}
		return TaskRow{}, fmt.Errorf("insert task: %w", err)
	}

	return row, nil
}

// GetByDescriptor fetches one task row by its content identity within a
// pipeline, inside the given transaction.
func (r *TaskRepository) GetByDescriptor(ctx context.Context, tx pgx.Tx, pipelineID int64, jobDescriptor string) (TaskRow, error) {
	query := `
		SELECT task_id, pipeline_id, job_descriptor, definition, state, created
		FROM task
		WHERE pipeline_id = $1 AND job_descriptor = $2
	`

	var row TaskRow
	err := tx.QueryRow(ctx, query, pipelineID, jobDescriptor).Scan(
		&row.ID, &row.PipelineID, &row.JobDescriptor,
		&row.Definition, &row.State, &row.Created,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return TaskRow{}, ErrTaskNotFound
		}
		return TaskRow{}, fmt.Errorf("query task by descriptor: %w", err)
	}

	return row, nil
}

// ClaimPending locks and returns up to limit PENDING tasks of a pipeline
// in creation order. SKIP LOCKED keeps competing claimers from blocking
// on, or double-claiming, each other's rows; the lock is held until the
// enclosing transaction commits.
func (r *TaskRepository) ClaimPending(ctx context.Context, tx pgx.Tx, pipelineID int64, limit int) ([]TaskRow, error) {
	query := `
		SELECT task_id, pipeline_id, job_descriptor, definition, state, created
		FROM task
		WHERE pipeline_id = $1 AND state = $2
		ORDER BY created ASC, task_id ASC
		LIMIT $3
		FOR UPDATE SKIP LOCKED
	`

	rows, err := tx.Query(ctx, query, pipelineID, domain.TaskStatePending, limit)
	if err != nil {
		return nil, fmt.Errorf("query pending tasks: %w", err)
	}
	defer rows.Close()

	tasks := make([]TaskRow, 0, limit)
	for rows.Next() {
		var row TaskRow
		if err := rows.Scan(
			&row.ID, &row.PipelineID, &row.JobDescriptor,
			&row.Definition, &row.State, &row.Created,
		); err != nil {
			return nil, fmt.Errorf("scan pending task: %w", err)
		}
		tasks = append(tasks, row)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate pending tasks: %w", err)
	}

	return tasks, nil
}

// UpdateState overwrites the state of one task row inside the given
// transaction.
func (r *TaskRepository) UpdateState(ctx context.Context, tx pgx.Tx, taskID int64, state domain.TaskState) error {
	query := `
		UPDATE task
		SET state = $1
		WHERE task_id = $2
	`

	result, err := tx.Exec(ctx, query, state, taskID)
	if err != nil {
		return fmt.Errorf("update task state: %w", err)
	}
	if result.RowsAffected() == 0 {
		return ErrTaskNotFound
	}

	return nil
}

// List returns tasks matching the AND of the supplied filters, joined
// with their pipelines. No ORDER BY: callers must not rely on order.
func (r *TaskRepository) List(ctx context.Context, params domain.ListTasksParams) ([]domain.Task, error) {
	query := `
		SELECT t.job_descriptor, t.definition, t.state,
		       p.name, p.repository_uri, p.version
		FROM task t
		JOIN pipeline p ON p.pipeline_id = t.pipeline_id
		WHERE 1=1
	`
	args := []interface{}{}
	argIdx := 1

	if params.PipelineName != nil {
		query += fmt.Sprintf(" AND p.name = $%d", argIdx)
		args = append(args, *params.PipelineName)
		argIdx++
	}
	if params.Status != nil {
		query += fmt.Sprintf(" AND t.state = $%d", argIdx)
		args = append(args, *params.Status)
		argIdx++
	}

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query tasks: %w", err)
	}
	defer rows.Close()

	return scanTaskModels(rows, false)
}

// Recent returns the most recently created tasks across all pipelines,
// newest first, with creation timestamps attached.
func (r *TaskRepository) Recent(ctx context.Context, limit int) ([]domain.Task, error) {
	query := `
		SELECT t.job_descriptor, t.definition, t.state,
		       p.name, p.repository_uri, p.version, t.created
		FROM task t
		JOIN pipeline p ON p.pipeline_id = t.pipeline_id
		ORDER BY t.created DESC
		LIMIT $1
	`

	rows, err := r.pool.Query(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("query recent tasks: %w", err)
	}
	defer rows.Close()

	return scanTaskModels(rows, true)
}

func scanTaskModels(rows pgx.Rows, withCreated bool) ([]domain.Task, error) {
	tasks := []domain.Task{}
	for rows.Next() {
		var (
			task    domain.Task
			uri     string
			version string
			created time.Time
		)
		dest := []interface{}{
			&task.TaskInputID, &task.TaskInput, &task.Status,
			&task.Pipeline.Name, &uri, &version,
		}
		if withCreated {
			dest = append(dest, &created)
		}
		if err := rows.Scan(dest...); err != nil {
			return nil, fmt.Errorf("scan task: %w", err)
		}
		task.Pipeline.URI = &uri
		task.Pipeline.Version = &version
		if withCreated {
			c := created
			task.Created = &c
		}
		tasks = append(tasks, task)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate tasks: %w", err)
	}

	return tasks, nil
}
