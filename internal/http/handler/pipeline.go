package handler

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"porch/internal/auth"
	"porch/internal/domain"
	"porch/internal/http/httperr"
	"porch/internal/observability/logger"
	"porch/internal/service"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"
)

type PipelineHandler struct {
	service *service.PipelineService
}

func NewPipelineHandler(service *service.PipelineService) *PipelineHandler {
	return &PipelineHandler{service: service}
}

// ListPipelines handles GET /pipelines
func (h *PipelineHandler) ListPipelines(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	params := domain.ListPipelinesParams{}
	if uri := r.URL.Query().Get("uri"); uri != "" {
		params.URI = &uri
	}
	if version := r.URL.Query().Get("version"); version != "" {
		params.Version = &version
	}

	pipelines, err := h.service.ListPipelines(ctx, params)
	if err != nil {
		handlePipelineServiceError(w, ctx, err, "")
		return
	}

	writeJSON(w, http.StatusOK, pipelines)
}

// GetPipeline handles GET /pipelines/{pipeline_name}
func (h *PipelineHandler) GetPipeline(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	name := chi.URLParam(r, "pipeline_name")
	if name == "" {
		httperr.BadRequest400(w, ctx, httperr.ErrCodeMissingField, "pipeline_name is required")
		return
	}

	pipeline, err := h.service.GetPipeline(ctx, name)
	if err != nil {
		handlePipelineServiceError(w, ctx, err, name)
		return
	}

	writeJSON(w, http.StatusOK, pipeline)
}

// CreatePipeline handles POST /pipelines
func (h *PipelineHandler) CreatePipeline(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	log := logger.GetLogger(ctx)

	permission, ok := auth.GetPermission(ctx)
	if !ok {
		httperr.InternalError500(w, ctx)
		return
	}

	var pipeline domain.Pipeline
	if err := json.NewDecoder(r.Body).Decode(&pipeline); err != nil {
		log.Warn(ctx, "failed to decode request body",
			logger.Module("http"), logger.Action("create_pipeline"), zap.Error(err))
		httperr.BadRequest400(w, ctx, httperr.ErrCodeInvalidRequest, "request body must be valid JSON")
		return
	}

	created, err := h.service.CreatePipeline(ctx, permission, pipeline)
	if err != nil {
		handlePipelineServiceError(w, ctx, err, pipeline.Name)
		return
	}

	writeJSON(w, http.StatusCreated, created)
}

// MintToken handles POST /pipelines/{pipeline_name}/token/{token_desc}
func (h *PipelineHandler) MintToken(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	name := chi.URLParam(r, "pipeline_name")
	desc := chi.URLParam(r, "token_desc")
	if name == "" || desc == "" {
		httperr.BadRequest400(w, ctx, httperr.ErrCodeMissingField, "pipeline_name and token_desc are required")
		return
	}

	token, err := h.service.MintToken(ctx, name, desc)
	if err != nil {
		handlePipelineServiceError(w, ctx, err, name)
		return
	}

	writeJSON(w, http.StatusCreated, token)
}

// handlePipelineServiceError maps service errors to HTTP responses.
func handlePipelineServiceError(w http.ResponseWriter, ctx context.Context, err error, pipelineName string) {
	log := logger.GetLogger(ctx)

	switch {
	case errors.Is(err, domain.ErrRoleNotAllowed):
		httperr.Forbidden403(w, ctx, httperr.ErrCodeForbidden, "Operation is not valid for this role")
	case errors.Is(err, service.ErrPipelineNotFound):
		httperr.NotFound404(w, ctx, fmt.Sprintf("Pipeline '%s' not found", pipelineName))
	case errors.Is(err, service.ErrPipelineIncomplete):
		httperr.BadRequest400(w, ctx, httperr.ErrCodeMissingField, "Pipeline must specify a name and URI and version")
	case errors.Is(err, service.ErrPipelineExists):
		httperr.Conflict409(w, ctx, "Pipeline already exists")
	default:
		log.Error(ctx, "unexpected service error",
			logger.Module("http"), logger.Action("pipeline"), zap.Error(err))
		httperr.InternalError500(w, ctx)
	}
}
