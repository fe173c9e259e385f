package service

import (
	"context"
	"errors"
	"fmt"

	"porch/internal/domain"
	"porch/internal/identity"
	"porch/internal/observability/logger"
	"porch/internal/repo"
	"porch/internal/telemetry"

	"github.com/jackc/pgx/v5/pgconn"
	"go.uber.org/zap"
)

var (
	ErrTaskNotFound      = repo.ErrTaskNotFound
	ErrEmptyTaskInput    = identity.ErrEmptyInput
	ErrInvalidClaimLimit = errors.New("claim limit must be a positive integer")
	ErrInvalidTaskState  = errors.New("invalid task state")
)

// TaskService orchestrates the transactional task lifecycle: idempotent
// creation, exclusive claiming and status updates, each paired with an
// audit event in the same transaction. The database is the only
// synchronization primitive; no in-process locking is involved.
type TaskService struct {
	taskRepo     *repo.TaskRepository
	eventRepo    *repo.EventRepository
	pipelineRepo *repo.PipelineRepository
	log          *logger.Logger
	metrics      *telemetry.Metrics
}

// NewTaskService wires the task lifecycle. metrics may be nil, in which
// case no counters are exported.
func NewTaskService(taskRepo *repo.TaskRepository, eventRepo *repo.EventRepository, pipelineRepo *repo.PipelineRepository, log *logger.Logger, metrics *telemetry.Metrics) *TaskService {
	return &TaskService{
		taskRepo:     taskRepo,
		eventRepo:    eventRepo,
		pipelineRepo: pipelineRepo,
		log:          log,
		metrics:      metrics,
	}
}

// CreateTask registers a unit of work for a pipeline. Creation is
// idempotent on the content of task_input: the INSERT runs inside a
// savepoint so that a unique violation rolls back only the attempt, and
// the existing row is returned instead. The returned bool is true when a
// new row (and its "Created" event) was written.
func (s *TaskService) CreateTask(ctx context.Context, permission domain.Permission, task domain.Task) (domain.Task, bool, error) {
	if err := permission.AuthorizeFor(task.Pipeline); err != nil {
		return domain.Task{}, false, err
	}

	pipeline, err := s.pipelineRepo.GetByName(ctx, task.Pipeline.Name)
	if err != nil {
		return domain.Task{}, false, err
	}

	canonical, err := identity.Canonicalize(task.TaskInput)
	if err != nil {
		return domain.Task{}, false, err
	}
	jobDescriptor, err := identity.Fingerprint(task.TaskInput)
	if err != nil {
		return domain.Task{}, false, err
	}

	tx, err := s.taskRepo.Begin(ctx)
	if err != nil {
		return domain.Task{}, false, fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	// Savepoint around the INSERT: a duplicate must not poison the
	// enclosing transaction.
	inner, err := tx.Begin(ctx)
	if err != nil {
		return domain.Task{}, false, fmt.Errorf("begin savepoint: %w", err)
	}

	created := true
	row, err := s.taskRepo.Insert(ctx, inner, pipeline.ID, jobDescriptor, canonical, domain.TaskStatePending)
	if err == nil {
		if err := s.eventRepo.Append(ctx, inner, row.ID, permission.RequestorID(), "Created"); err != nil {
			return domain.Task{}, false, err
		}
		if err := inner.Commit(ctx); err != nil {
			return domain.Task{}, false, fmt.Errorf("commit savepoint: %w", err)
		}
	} else if errors.Is(err, repo.ErrDuplicateTask) {
		if err := inner.Rollback(ctx); err != nil {
			return domain.Task{}, false, fmt.Errorf("rollback savepoint: %w", err)
		}
		// The task already exists; fetch its current representation.
		row, err = s.taskRepo.GetByDescriptor(ctx, tx, pipeline.ID, jobDescriptor)
		if err != nil {
			return domain.Task{}, false, err
		}
		created = false
	} else {
		return domain.Task{}, false, err
	}

	if err := tx.Commit(ctx); err != nil {
		return domain.Task{}, false, fmt.Errorf("commit transaction: %w", err)
	}

	if created && s.metrics != nil {
		s.metrics.TasksCreated.Inc()
	}

	s.log.Info(ctx, "task create handled",
		logger.Module("task"),
		logger.Action("create"),
		zap.String("job_descriptor", jobDescriptor),
		zap.Bool("created", created),
	)

	return row.ToModel(pipeline.ToModel()), created, nil
}

// ClaimTasks atomically reserves up to limit PENDING tasks of a pipeline
// for the caller, oldest first. Row locks are taken at read time with
// SKIP LOCKED, so concurrent claimers obtain disjoint sets. A
// serialization failure at commit is absorbed by returning an empty
// list; workers are expected to retry.
func (s *TaskService) ClaimTasks(ctx context.Context, permission domain.Permission, pipeline domain.Pipeline, limit int) ([]domain.Task, error) {
	if limit < 1 {
		return nil, ErrInvalidClaimLimit
	}
	if err := permission.AuthorizeFor(pipeline); err != nil {
		return nil, err
	}

	row, err := s.pipelineRepo.GetByName(ctx, pipeline.Name)
	if err != nil {
		return nil, err
	}

	tx, err := s.taskRepo.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	locked, err := s.taskRepo.ClaimPending(ctx, tx, row.ID, limit)
	if err != nil {
		return nil, err
	}

	for i := range locked {
		if err := s.taskRepo.UpdateState(ctx, tx, locked[i].ID, domain.TaskStateClaimed); err != nil {
			return nil, err
		}
		if err := s.eventRepo.Append(ctx, tx, locked[i].ID, permission.RequestorID(), "Task claimed"); err != nil {
			return nil, err
		}
		locked[i].State = domain.TaskStateClaimed
	}

	if err := tx.Commit(ctx); err != nil {
		if isSerializationFailure(err) {
			s.log.Info(ctx, "claim lost a serialization race, returning no tasks",
				logger.Module("task"),
				logger.Action("claim"),
				zap.String("pipeline_name", row.Name),
			)
			return []domain.Task{}, nil
		}
		return nil, fmt.Errorf("commit transaction: %w", err)
	}

	if s.metrics != nil && len(locked) > 0 {
		s.metrics.TasksClaimed.Add(float64(len(locked)))
	}

	s.log.Info(ctx, "tasks claimed",
		logger.Module("task"),
		logger.Action("claim"),
		zap.String("pipeline_name", row.Name),
		zap.Int("requested", limit),
		zap.Int("claimed", len(locked)),
	)

	claimed := make([]domain.Task, 0, len(locked))
	model := row.ToModel()
	for _, t := range locked {
		claimed = append(claimed, t.ToModel(model))
	}
	return claimed, nil
}

// UpdateTask overwrites the state of an existing task. The task is
// addressed by its content signature, so the supplied task_input must
// regenerate the stored job descriptor; anything else reads as a missing
// task. Writing the current state again is permitted and produces a
// heartbeat event. No transition policy is enforced here: which
// transitions are legal is the calling pipeline's business.
func (s *TaskService) UpdateTask(ctx context.Context, permission domain.Permission, task domain.Task) (domain.Task, error) {
	if err := permission.AuthorizeFor(task.Pipeline); err != nil {
		return domain.Task{}, err
	}
	if !task.Status.IsValid() {
		return domain.Task{}, fmt.Errorf("%w: %q", ErrInvalidTaskState, task.Status)
	}

	pipeline, err := s.pipelineRepo.GetByName(ctx, task.Pipeline.Name)
	if err != nil {
		return domain.Task{}, err
	}

	jobDescriptor, err := identity.Fingerprint(task.TaskInput)
	if err != nil {
		return domain.Task{}, err
	}

	tx, err := s.taskRepo.Begin(ctx)
	if err != nil {
		return domain.Task{}, fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	row, err := s.taskRepo.GetByDescriptor(ctx, tx, pipeline.ID, jobDescriptor)
	if err != nil {
		return domain.Task{}, err
	}

	// The new state might equal the old one; save and log regardless so
	// the event stream can double as a heartbeat.
	if err := s.taskRepo.UpdateState(ctx, tx, row.ID, task.Status); err != nil {
		return domain.Task{}, err
	}
	change := fmt.Sprintf("Task changed, new status %s", task.Status)
	if err := s.eventRepo.Append(ctx, tx, row.ID, permission.RequestorID(), change); err != nil {
		return domain.Task{}, err
	}

	if err := tx.Commit(ctx); err != nil {
		return domain.Task{}, fmt.Errorf("commit transaction: %w", err)
	}

	s.log.Info(ctx, "task state updated",
		logger.Module("task"),
		logger.Action("update"),
		zap.String("job_descriptor", jobDescriptor),
		zap.String("state", string(task.Status)),
	)

	row.State = task.Status
	return row.ToModel(pipeline.ToModel()), nil
}

// ListTasks returns tasks matching the AND of the filters, unordered.
func (s *TaskService) ListTasks(ctx context.Context, params domain.ListTasksParams) ([]domain.Task, error) {
	return s.taskRepo.List(ctx, params)
}

// RecentTasks returns the most recently created tasks, newest first.
func (s *TaskService) RecentTasks(ctx context.Context, limit int) ([]domain.Task, error) {
	if limit < 1 {
		limit = 100
	}
	return s.taskRepo.Recent(ctx, limit)
}

// EventsForTask returns the audit trail of the task identified by its
// job descriptor, in insertion order.
func (s *TaskService) EventsForTask(ctx context.Context, jobDescriptor string) ([]domain.Event, error) {
	return s.eventRepo.ListForDescriptor(ctx, jobDescriptor)
}

// isSerializationFailure reports whether the error is a transient
// conflict the claim path should absorb (SQLSTATE 40001 or 40P01).
func isSerializationFailure(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "40001" || pgErr.Code == "40P01"
	}
	return false
}
