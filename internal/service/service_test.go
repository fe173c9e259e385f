package service

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"testing"

	"porch/internal/auth"
	"porch/internal/database"
	"porch/internal/domain"
	"porch/internal/observability/logger"
	"porch/internal/repo"
	"porch/internal/telemetry"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// The tests below exercise the real transactional behavior and need a
// PostgreSQL instance. They are skipped unless DB_URL is set, e.g.
//
//	DB_URL=postgres://localhost:5432/porch_test go test ./...
//
// All state lives in the porch_test schema and is wiped per test.

const testSchema = "porch_test"

type testEnv struct {
	pool      *pgxpool.Pool
	pipelines *PipelineService
	tasks     *TaskService
	tokenRepo *repo.TokenRepository
	validator *auth.Validator
	metrics   *telemetry.Metrics
	log       *logger.Logger
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	dbURL := os.Getenv("DB_URL")
	if dbURL == "" {
		t.Skip("DB_URL not set; skipping database integration test")
	}

	ctx := context.Background()
	require.NoError(t, database.RunMigrations(ctx, dbURL, testSchema))

	pool, err := database.NewPool(ctx, dbURL, testSchema)
	require.NoError(t, err)
	t.Cleanup(pool.Close)

	_, err = pool.Exec(ctx, "TRUNCATE event, task, token, pipeline RESTART IDENTITY CASCADE")
	require.NoError(t, err)

	log, err := logger.New("porch-test", "error")
	require.NoError(t, err)

	pipelineRepo := repo.NewPipelineRepository(pool)
	taskRepo := repo.NewTaskRepository(pool)
	tokenRepo := repo.NewTokenRepository(pool)
	eventRepo := repo.NewEventRepository(pool)
	metrics := telemetry.NewMetrics(prometheus.NewRegistry())

	return &testEnv{
		pool:      pool,
		pipelines: NewPipelineService(pipelineRepo, tokenRepo, log),
		tasks:     NewTaskService(taskRepo, eventRepo, pipelineRepo, log, metrics),
		tokenRepo: tokenRepo,
		validator: auth.NewValidator(pool),
		metrics:   metrics,
		log:       log,
	}
}

func (e *testEnv) powerUser(t *testing.T) domain.Permission {
	t.Helper()
	value, _, err := e.tokenRepo.Mint(context.Background(), nil, "test admin")
	require.NoError(t, err)
	permission, err := e.validator.TokenToPermission(context.Background(), value)
	require.NoError(t, err)
	return permission
}

// registerPipeline creates a pipeline and returns it together with a
// worker permission scoped to it.
func (e *testEnv) registerPipeline(t *testing.T, name string) (domain.Pipeline, domain.Permission) {
	t.Helper()
	ctx := context.Background()

	uri := "https://example.com/" + name
	version := "1.0"
	pipeline, err := e.pipelines.CreatePipeline(ctx, e.powerUser(t), domain.Pipeline{
		Name: name, URI: &uri, Version: &version,
	})
	require.NoError(t, err)

	token, err := e.pipelines.MintToken(ctx, name, "test worker")
	require.NoError(t, err)
	permission, err := e.validator.TokenToPermission(ctx, token.Token)
	require.NoError(t, err)
	require.Equal(t, domain.RoleRegularUser, permission.Role())

	return pipeline, permission
}

func taskInput(n int) json.RawMessage {
	return json.RawMessage(fmt.Sprintf(`{"sample":%d}`, n))
}

func TestCreatePipeline_RequiresPowerUser(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	_, worker := env.registerPipeline(t, "ptest")

	uri := "https://example.com/other"
	version := "1.0"
	_, err := env.pipelines.CreatePipeline(ctx, worker, domain.Pipeline{
		Name: "other", URI: &uri, Version: &version,
	})
	assert.ErrorIs(t, err, domain.ErrRoleNotAllowed)
}

func TestCreatePipeline_DuplicateName(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	env.registerPipeline(t, "ptest")

	uri := "https://elsewhere.example.com/ptest"
	version := "2.0"
	_, err := env.pipelines.CreatePipeline(ctx, env.powerUser(t), domain.Pipeline{
		Name: "ptest", URI: &uri, Version: &version,
	})
	assert.ErrorIs(t, err, ErrPipelineExists)
}

func TestCreatePipeline_IncompleteRejected(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	admin := env.powerUser(t)

	uri := "https://example.com/p"
	empty := ""

	_, err := env.pipelines.CreatePipeline(ctx, admin, domain.Pipeline{Name: "p", URI: &uri})
	assert.ErrorIs(t, err, ErrPipelineIncomplete)

	_, err = env.pipelines.CreatePipeline(ctx, admin, domain.Pipeline{Name: "p", URI: &uri, Version: &empty})
	assert.ErrorIs(t, err, ErrPipelineIncomplete)
}

func TestCreateTask_IdempotentOnContent(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	pipeline, worker := env.registerPipeline(t, "ptest")

	first, created, err := env.tasks.CreateTask(ctx, worker, domain.Task{
		Pipeline: pipeline, TaskInput: json.RawMessage(`{"a":1,"b":2}`),
	})
	require.NoError(t, err)
	assert.True(t, created)
	assert.Equal(t, domain.TaskStatePending, first.Status)
	assert.Len(t, first.TaskInputID, 64)

	// Same content, different key order and whitespace.
	second, created, err := env.tasks.CreateTask(ctx, worker, domain.Task{
		Pipeline: pipeline, TaskInput: json.RawMessage(`{"b": 2, "a": 1}`),
	})
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, first.TaskInputID, second.TaskInputID)

	// Only the first attempt wrote an event.
	events, err := env.tasks.EventsForTask(ctx, first.TaskInputID)
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, "Created", events[0].Change)
}

func TestCreateTask_PipelineScope(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	_, workerA := env.registerPipeline(t, "pipeline-a")
	pipelineB, _ := env.registerPipeline(t, "pipeline-b")

	_, _, err := env.tasks.CreateTask(ctx, workerA, domain.Task{
		Pipeline: pipelineB, TaskInput: taskInput(1),
	})
	assert.ErrorIs(t, err, domain.ErrPipelineMismatch)
}

func TestCreateTask_EmptyInputRejected(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	pipeline, worker := env.registerPipeline(t, "ptest")

	for _, input := range []string{"null", "{}", ""} {
		_, _, err := env.tasks.CreateTask(ctx, worker, domain.Task{
			Pipeline: pipeline, TaskInput: json.RawMessage(input),
		})
		assert.ErrorIs(t, err, ErrEmptyTaskInput, "input %q", input)
	}
}

func TestClaimTasks_FIFOAndExhaustion(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	pipeline, worker := env.registerPipeline(t, "ptest")

	inputs := make([]string, 10)
	for i := 0; i < 10; i++ {
		task, created, err := env.tasks.CreateTask(ctx, worker, domain.Task{
			Pipeline: pipeline, TaskInput: taskInput(i),
		})
		require.NoError(t, err)
		require.True(t, created)
		inputs[i] = task.TaskInputID
	}

	// Oldest first.
	claimed, err := env.tasks.ClaimTasks(ctx, worker, pipeline, 1)
	require.NoError(t, err)
	require.Len(t, claimed, 1)
	assert.Equal(t, inputs[0], claimed[0].TaskInputID)
	assert.Equal(t, domain.TaskStateClaimed, claimed[0].Status)

	claimed, err = env.tasks.ClaimTasks(ctx, worker, pipeline, 8)
	require.NoError(t, err)
	require.Len(t, claimed, 8)
	for i, task := range claimed {
		assert.Equal(t, inputs[i+1], task.TaskInputID)
	}

	// Only one task left; asking for two returns the remainder.
	claimed, err = env.tasks.ClaimTasks(ctx, worker, pipeline, 2)
	require.NoError(t, err)
	require.Len(t, claimed, 1)
	assert.Equal(t, inputs[9], claimed[0].TaskInputID)

	// Nothing pending: an empty claim is not an error.
	claimed, err = env.tasks.ClaimTasks(ctx, worker, pipeline, 1)
	require.NoError(t, err)
	assert.Empty(t, claimed)
}

func TestClaimTasks_ConcurrentClaimersGetDisjointSets(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	pipeline, worker := env.registerPipeline(t, "ptest")

	const total = 20
	for i := 0; i < total; i++ {
		_, _, err := env.tasks.CreateTask(ctx, worker, domain.Task{
			Pipeline: pipeline, TaskInput: taskInput(i),
		})
		require.NoError(t, err)
	}

	const claimers = 4
	results := make(chan []domain.Task, claimers)
	errs := make(chan error, claimers)

	for i := 0; i < claimers; i++ {
		go func() {
			claimed, err := env.tasks.ClaimTasks(ctx, worker, pipeline, total/claimers)
			errs <- err
			results <- claimed
		}()
	}

	seen := map[string]bool{}
	claimedTotal := 0
	for i := 0; i < claimers; i++ {
		require.NoError(t, <-errs)
		for _, task := range <-results {
			assert.False(t, seen[task.TaskInputID], "task %s claimed twice", task.TaskInputID)
			seen[task.TaskInputID] = true
			claimedTotal++
		}
	}

	// SKIP LOCKED may make a racing claimer come up short, but no task
	// is ever handed out twice and none disappears.
	assert.LessOrEqual(t, claimedTotal, total)

	pending := domain.TaskStatePending
	name := pipeline.Name
	left, err := env.tasks.ListTasks(ctx, domain.ListTasksParams{PipelineName: &name, Status: &pending})
	require.NoError(t, err)
	assert.Equal(t, total-claimedTotal, len(left))
}

func TestClaimTasks_InvalidLimit(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	pipeline, worker := env.registerPipeline(t, "ptest")

	for _, limit := range []int{0, -1, -100} {
		_, err := env.tasks.ClaimTasks(ctx, worker, pipeline, limit)
		assert.ErrorIs(t, err, ErrInvalidClaimLimit, "limit %d", limit)
	}
}

func TestClaimTasks_IsolatedPerPipeline(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	pipelineA, workerA := env.registerPipeline(t, "pipeline-a")
	pipelineB, workerB := env.registerPipeline(t, "pipeline-b")

	_, _, err := env.tasks.CreateTask(ctx, workerA, domain.Task{
		Pipeline: pipelineA, TaskInput: taskInput(1),
	})
	require.NoError(t, err)

	// Pipeline B has no tasks; its worker sees nothing.
	claimed, err := env.tasks.ClaimTasks(ctx, workerB, pipelineB, 5)
	require.NoError(t, err)
	assert.Empty(t, claimed)

	claimed, err = env.tasks.ClaimTasks(ctx, workerA, pipelineA, 5)
	require.NoError(t, err)
	assert.Len(t, claimed, 1)
}

func TestUpdateTask_StateAndEvents(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	pipeline, worker := env.registerPipeline(t, "ptest")

	task, _, err := env.tasks.CreateTask(ctx, worker, domain.Task{
		Pipeline: pipeline, TaskInput: taskInput(1),
	})
	require.NoError(t, err)

	claimed, err := env.tasks.ClaimTasks(ctx, worker, pipeline, 1)
	require.NoError(t, err)
	require.Len(t, claimed, 1)

	updated, err := env.tasks.UpdateTask(ctx, worker, domain.Task{
		Pipeline: pipeline, TaskInput: task.TaskInput, Status: domain.TaskStateRunning,
	})
	require.NoError(t, err)
	assert.Equal(t, domain.TaskStateRunning, updated.Status)

	// Heartbeat: same state again is accepted and recorded.
	updated, err = env.tasks.UpdateTask(ctx, worker, domain.Task{
		Pipeline: pipeline, TaskInput: task.TaskInput, Status: domain.TaskStateRunning,
	})
	require.NoError(t, err)
	assert.Equal(t, domain.TaskStateRunning, updated.Status)

	events, err := env.tasks.EventsForTask(ctx, task.TaskInputID)
	require.NoError(t, err)
	require.Len(t, events, 4)
	assert.Equal(t, "Created", events[0].Change)
	assert.Equal(t, "Task claimed", events[1].Change)
	assert.Equal(t, "Task changed, new status RUNNING", events[2].Change)
	assert.Equal(t, "Task changed, new status RUNNING", events[3].Change)
}

func TestUpdateTask_UnknownContent(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	pipeline, worker := env.registerPipeline(t, "ptest")

	_, _, err := env.tasks.CreateTask(ctx, worker, domain.Task{
		Pipeline: pipeline, TaskInput: json.RawMessage(`{"n":1}`),
	})
	require.NoError(t, err)

	// Same number, different literal form: different identity.
	_, err = env.tasks.UpdateTask(ctx, worker, domain.Task{
		Pipeline: pipeline, TaskInput: json.RawMessage(`{"n":1.0}`), Status: domain.TaskStateDone,
	})
	assert.ErrorIs(t, err, ErrTaskNotFound)
}

func TestUpdateTask_InvalidState(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	pipeline, worker := env.registerPipeline(t, "ptest")

	_, err := env.tasks.UpdateTask(ctx, worker, domain.Task{
		Pipeline: pipeline, TaskInput: taskInput(1), Status: domain.TaskState("SLEEPING"),
	})
	assert.ErrorIs(t, err, ErrInvalidTaskState)
}

func TestListTasks_Filters(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	pipelineA, workerA := env.registerPipeline(t, "pipeline-a")
	pipelineB, workerB := env.registerPipeline(t, "pipeline-b")

	for i := 0; i < 3; i++ {
		_, _, err := env.tasks.CreateTask(ctx, workerA, domain.Task{Pipeline: pipelineA, TaskInput: taskInput(i)})
		require.NoError(t, err)
	}
	_, _, err := env.tasks.CreateTask(ctx, workerB, domain.Task{Pipeline: pipelineB, TaskInput: taskInput(100)})
	require.NoError(t, err)

	_, err = env.tasks.ClaimTasks(ctx, workerA, pipelineA, 1)
	require.NoError(t, err)

	all, err := env.tasks.ListTasks(ctx, domain.ListTasksParams{})
	require.NoError(t, err)
	assert.Len(t, all, 4)

	nameA := "pipeline-a"
	onlyA, err := env.tasks.ListTasks(ctx, domain.ListTasksParams{PipelineName: &nameA})
	require.NoError(t, err)
	assert.Len(t, onlyA, 3)

	pending := domain.TaskStatePending
	pendingA, err := env.tasks.ListTasks(ctx, domain.ListTasksParams{PipelineName: &nameA, Status: &pending})
	require.NoError(t, err)
	assert.Len(t, pendingA, 2)
}

func TestRecentTasks_NewestFirst(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	pipeline, worker := env.registerPipeline(t, "ptest")

	for i := 0; i < 5; i++ {
		_, _, err := env.tasks.CreateTask(ctx, worker, domain.Task{Pipeline: pipeline, TaskInput: taskInput(i)})
		require.NoError(t, err)
	}

	recent, err := env.tasks.RecentTasks(ctx, 3)
	require.NoError(t, err)
	require.Len(t, recent, 3)
	for _, task := range recent {
		require.NotNil(t, task.Created)
	}
	for i := 1; i < len(recent); i++ {
		assert.False(t, recent[i].Created.After(*recent[i-1].Created))
	}
}

func TestTokenLifecycle(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	pipeline, _ := env.registerPipeline(t, "ptest")

	token, err := env.pipelines.MintToken(ctx, pipeline.Name, "rotation test")
	require.NoError(t, err)
	assert.Len(t, token.Token, 32)
	assert.Equal(t, pipeline.Name, token.Name)

	permission, err := env.validator.TokenToPermission(ctx, token.Token)
	require.NoError(t, err)
	assert.Equal(t, domain.RoleRegularUser, permission.Role())

	require.NoError(t, env.tokenRepo.Revoke(ctx, token.Token))

	_, err = env.validator.TokenToPermission(ctx, token.Token)
	assert.ErrorIs(t, err, auth.ErrTokenRevoked)

	// Second revoke is a no-op failure, not a crash.
	err = env.tokenRepo.Revoke(ctx, token.Token)
	assert.ErrorIs(t, err, repo.ErrTokenNotFound)
}

func TestTokenToPermission_Unknown(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	_, err := env.validator.TokenToPermission(ctx, "00000000000000000000000000000000")
	assert.ErrorIs(t, err, auth.ErrTokenUnknown)
}

func TestMintToken_UnknownPipeline(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	_, err := env.pipelines.MintToken(ctx, "does-not-exist", "whatever")
	assert.ErrorIs(t, err, ErrPipelineNotFound)
}

func TestGetPipeline_RoundTrip(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	created, _ := env.registerPipeline(t, "ptest")

	fetched, err := env.pipelines.GetPipeline(ctx, "ptest")
	require.NoError(t, err)
	assert.Equal(t, created.Name, fetched.Name)
	require.NotNil(t, fetched.URI)
	require.NotNil(t, fetched.Version)
	assert.Equal(t, *created.URI, *fetched.URI)

	_, err = env.pipelines.GetPipeline(ctx, "missing")
	assert.ErrorIs(t, err, ErrPipelineNotFound)
}

func TestListPipelines_Filters(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	env.registerPipeline(t, "pipeline-a")
	env.registerPipeline(t, "pipeline-b")

	all, err := env.pipelines.ListPipelines(ctx, domain.ListPipelinesParams{})
	require.NoError(t, err)
	assert.Len(t, all, 2)

	uri := "https://example.com/pipeline-a"
	filtered, err := env.pipelines.ListPipelines(ctx, domain.ListPipelinesParams{URI: &uri})
	require.NoError(t, err)
	require.Len(t, filtered, 1)
	assert.Equal(t, "pipeline-a", filtered[0].Name)
}

func TestTaskCounters_TrackCreatesAndClaims(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	pipeline, worker := env.registerPipeline(t, "ptest")

	assert.Equal(t, 0.0, testutil.ToFloat64(env.metrics.TasksCreated))
	assert.Equal(t, 0.0, testutil.ToFloat64(env.metrics.TasksClaimed))

	for i := 1; i <= 3; i++ {
		_, created, err := env.tasks.CreateTask(ctx, worker, domain.Task{
			Pipeline: pipeline, TaskInput: taskInput(i),
		})
		require.NoError(t, err)
		require.True(t, created)
	}

	// A duplicate create must not count.
	_, created, err := env.tasks.CreateTask(ctx, worker, domain.Task{
		Pipeline: pipeline, TaskInput: taskInput(1),
	})
	require.NoError(t, err)
	require.False(t, created)
	assert.Equal(t, 3.0, testutil.ToFloat64(env.metrics.TasksCreated))

	claimed, err := env.tasks.ClaimTasks(ctx, worker, pipeline, 2)
	require.NoError(t, err)
	require.Len(t, claimed, 2)
	assert.Equal(t, 2.0, testutil.ToFloat64(env.metrics.TasksClaimed))

	// An empty claim leaves the counter alone.
	claimed, err = env.tasks.ClaimTasks(ctx, worker, pipeline, 5)
	require.NoError(t, err)
	require.Len(t, claimed, 1)
	claimed, err = env.tasks.ClaimTasks(ctx, worker, pipeline, 5)
	require.NoError(t, err)
	require.Empty(t, claimed)
	assert.Equal(t, 3.0, testutil.ToFloat64(env.metrics.TasksClaimed))
}
