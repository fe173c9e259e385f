package handler

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"porch/internal/auth"
	"porch/internal/domain"
	"porch/internal/http/httperr"
	"porch/internal/observability/logger"
	"porch/internal/service"

	"go.uber.org/zap"
)

type TaskHandler struct {
	service *service.TaskService
}

func NewTaskHandler(service *service.TaskService) *TaskHandler {
	return &TaskHandler{service: service}
}

// ListTasks handles GET /tasks
func (h *TaskHandler) ListTasks(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	params := domain.ListTasksParams{}
	if name := r.URL.Query().Get("pipeline_name"); name != "" {
		params.PipelineName = &name
	}
	if status := r.URL.Query().Get("status"); status != "" {
		state := domain.TaskState(status)
		if !state.IsValid() {
			httperr.Unprocessable422(w, ctx, fmt.Sprintf("Invalid status '%s'", status))
			return
		}
		params.Status = &state
	}

	tasks, err := h.service.ListTasks(ctx, params)
	if err != nil {
		handleTaskServiceError(w, ctx, err, "")
		return
	}

	writeJSON(w, http.StatusOK, tasks)
}

// CreateTask handles POST /tasks. Submitting the same task input twice
// for the same pipeline is not an error: the second call answers 200
// with the existing task instead of 201.
func (h *TaskHandler) CreateTask(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	log := logger.GetLogger(ctx)

	permission, ok := auth.GetPermission(ctx)
	if !ok {
		httperr.InternalError500(w, ctx)
		return
	}

	var task domain.Task
	if err := json.NewDecoder(r.Body).Decode(&task); err != nil {
		log.Warn(ctx, "failed to decode request body",
			logger.Module("http"), logger.Action("create_task"), zap.Error(err))
		httperr.BadRequest400(w, ctx, httperr.ErrCodeInvalidRequest, "request body must be valid JSON")
		return
	}

	created, isNew, err := h.service.CreateTask(ctx, permission, task)
	if err != nil {
		handleTaskServiceError(w, ctx, err, task.Pipeline.Name)
		return
	}

	status := http.StatusCreated
	if !isNew {
		status = http.StatusOK
	}
	writeJSON(w, status, created)
}

// UpdateTask handles PUT /tasks. The task is addressed by the content of
// task_input, not by an id; the body's status field is the new state.
func (h *TaskHandler) UpdateTask(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	log := logger.GetLogger(ctx)

	permission, ok := auth.GetPermission(ctx)
	if !ok {
		httperr.InternalError500(w, ctx)
		return
	}

	var task domain.Task
	if err := json.NewDecoder(r.Body).Decode(&task); err != nil {
		log.Warn(ctx, "failed to decode request body",
			logger.Module("http"), logger.Action("update_task"), zap.Error(err))
		httperr.BadRequest400(w, ctx, httperr.ErrCodeInvalidRequest, "request body must be valid JSON")
		return
	}

	updated, err := h.service.UpdateTask(ctx, permission, task)
	if err != nil {
		handleTaskServiceError(w, ctx, err, task.Pipeline.Name)
		return
	}

	writeJSON(w, http.StatusOK, updated)
}

// ClaimTasks handles POST /tasks/claim?num_tasks=N. The body names the
// pipeline to claim from; it must be the one bound to the caller's
// credentials.
func (h *TaskHandler) ClaimTasks(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	log := logger.GetLogger(ctx)

	permission, ok := auth.GetPermission(ctx)
	if !ok {
		httperr.InternalError500(w, ctx)
		return
	}

	numTasks := 1
	if s := r.URL.Query().Get("num_tasks"); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil {
			httperr.Unprocessable422(w, ctx, "num_tasks must be an integer")
			return
		}
		numTasks = n
	}

	var pipeline domain.Pipeline
	if err := json.NewDecoder(r.Body).Decode(&pipeline); err != nil {
		log.Warn(ctx, "failed to decode request body",
			logger.Module("http"), logger.Action("claim_tasks"), zap.Error(err))
		httperr.BadRequest400(w, ctx, httperr.ErrCodeInvalidRequest, "request body must be valid JSON")
		return
	}
	if pipeline.Name == "" {
		httperr.BadRequest400(w, ctx, httperr.ErrCodeMissingField, "Pipeline must specify a name")
		return
	}

	tasks, err := h.service.ClaimTasks(ctx, permission, pipeline, numTasks)
	if err != nil {
		handleTaskServiceError(w, ctx, err, pipeline.Name)
		return
	}

	writeJSON(w, http.StatusOK, tasks)
}

// RecentTasks handles GET /tasks/recent
func (h *TaskHandler) RecentTasks(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	limit := 100
	if s := r.URL.Query().Get("limit"); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil || n < 1 {
			httperr.Unprocessable422(w, ctx, "limit must be a positive integer")
			return
		}
		limit = n
	}

	tasks, err := h.service.RecentTasks(ctx, limit)
	if err != nil {
		handleTaskServiceError(w, ctx, err, "")
		return
	}

	writeJSON(w, http.StatusOK, tasks)
}

// handleTaskServiceError maps service errors to HTTP responses.
func handleTaskServiceError(w http.ResponseWriter, ctx context.Context, err error, pipelineName string) {
	log := logger.GetLogger(ctx)

	switch {
	case errors.Is(err, domain.ErrRoleNotAllowed),
		errors.Is(err, domain.ErrNoBoundPipeline),
		errors.Is(err, domain.ErrPipelineMismatch):
		httperr.Forbidden403(w, ctx, httperr.ErrCodeForbidden,
			fmt.Sprintf("Given credentials cannot be used for pipeline '%s'", pipelineName))
	case errors.Is(err, service.ErrPipelineNotFound):
		httperr.NotFound404(w, ctx, "Failed to find pipeline for this task")
	case errors.Is(err, service.ErrTaskNotFound):
		httperr.NotFound404(w, ctx, "Task to be modified could not be found")
	case errors.Is(err, service.ErrInvalidClaimLimit):
		httperr.Unprocessable422(w, ctx, "num_tasks must be a positive integer")
	case errors.Is(err, service.ErrEmptyTaskInput):
		httperr.BadRequest400(w, ctx, httperr.ErrCodeInvalidRequest, "task_input must be a non-empty JSON document")
	case errors.Is(err, service.ErrInvalidTaskState):
		httperr.BadRequest400(w, ctx, httperr.ErrCodeInvalidParameter, "status is not a recognized task state")
	default:
		log.Error(ctx, "unexpected service error",
			logger.Module("http"), logger.Action("task"), zap.Error(err))
		httperr.InternalError500(w, ctx)
	}
}
