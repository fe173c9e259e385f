package service

import (
	"context"
	"errors"
	"fmt"

	"porch/internal/domain"
	"porch/internal/observability/logger"
	"porch/internal/repo"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"
)

var (
	ErrPipelineNotFound   = repo.ErrPipelineNotFound
	ErrPipelineExists     = repo.ErrPipelineExists
	ErrPipelineIncomplete = repo.ErrPipelineIncomplete
)

// PipelineService handles pipeline registration, lookup and token
// minting. Registration requires power-user credentials; reads are open
// to any valid token.
type PipelineService struct {
	pipelineRepo *repo.PipelineRepository
	tokenRepo    *repo.TokenRepository
	log          *logger.Logger
	validate     *validator.Validate
}

func NewPipelineService(pipelineRepo *repo.PipelineRepository, tokenRepo *repo.TokenRepository, log *logger.Logger) *PipelineService {
	return &PipelineService{
		pipelineRepo: pipelineRepo,
		tokenRepo:    tokenRepo,
		log:          log,
		validate:     validator.New(),
	}
}

// CreatePipeline registers a new pipeline. Name, URI and version are all
// required; a duplicate name is a conflict, by design not idempotent.
func (s *PipelineService) CreatePipeline(ctx context.Context, permission domain.Permission, p domain.Pipeline) (domain.Pipeline, error) {
	if permission.Role() != domain.RolePowerUser {
		s.log.Warn(ctx, "pipeline creation requires power user role",
			logger.Module("pipeline"),
			logger.Action("create"),
			zap.String("role", string(permission.Role())),
		)
		return domain.Pipeline{}, domain.ErrRoleNotAllowed
	}

	if err := s.validate.Struct(p); err != nil {
		return domain.Pipeline{}, fmt.Errorf("%w: %s", ErrPipelineIncomplete, err)
	}
	if *p.URI == "" || *p.Version == "" {
		return domain.Pipeline{}, ErrPipelineIncomplete
	}

	created, err := s.pipelineRepo.Create(ctx, p)
	if err != nil {
		if errors.Is(err, repo.ErrPipelineExists) {
			s.log.Warn(ctx, "duplicate pipeline name",
				logger.Module("pipeline"),
				logger.Action("create"),
				zap.String("name", p.Name),
			)
		}
		return domain.Pipeline{}, err
	}

	s.log.Info(ctx, "pipeline created",
		logger.Module("pipeline"),
		logger.Action("create"),
		zap.String("name", created.Name),
		zap.String("version", *created.Version),
	)
	return created, nil
}

// GetPipeline fetches one pipeline by name.
func (s *PipelineService) GetPipeline(ctx context.Context, name string) (domain.Pipeline, error) {
	row, err := s.pipelineRepo.GetByName(ctx, name)
	if err != nil {
		return domain.Pipeline{}, err
	}
	return row.ToModel(), nil
}

// ListPipelines returns pipelines matching the AND of the filters.
func (s *PipelineService) ListPipelines(ctx context.Context, params domain.ListPipelinesParams) ([]domain.Pipeline, error) {
	return s.pipelineRepo.List(ctx, params)
}

// MintToken issues a fresh credential scoped to the named pipeline. The
// token value is returned exactly once.
func (s *PipelineService) MintToken(ctx context.Context, pipelineName, description string) (domain.Token, error) {
	row, err := s.pipelineRepo.GetByName(ctx, pipelineName)
	if err != nil {
		return domain.Token{}, err
	}

	value, tokenID, err := s.tokenRepo.Mint(ctx, &row.ID, description)
	if err != nil {
		return domain.Token{}, err
	}

	s.log.Info(ctx, "token minted",
		logger.Module("pipeline"),
		logger.Action("mint_token"),
		zap.String("pipeline", row.Name),
		zap.Int64("minted_token_id", tokenID),
	)

	return domain.Token{Name: row.Name, Token: value, Description: description}, nil
}
