package service

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/haatos/devflow/internal/security"
	"github.com/haatos/devflow/internal/store"
)

type ProjectServicer interface {
	CreateProject(
		ctx context.Context,
		serverID int64,
		slug, repositoryURL, branch, environment string,
	) (*store.Project, error)
	GetProjectByID(context.Context, int64) (*store.Project, error)
	ListProjects(context.Context) ([]*store.Project, error)
	ConfigureWebhook(
		ctx context.Context,
		projectID int64,
		provider store.WebhookProvider,
		secret string,
		autoDeploy bool,
	) (string, error)
	UpdatePipeline(ctx context.Context, projectID int64, pipelineYaml []byte) ([]store.PipelineStage, error)
	GetPipelineStages(ctx context.Context, projectID int64) ([]store.PipelineStage, error)
}

type ProjectService struct {
	projectStore  store.ProjectStore
	pipelineStore store.PipelineStore
}

func NewProjectService(
	ps store.ProjectStore,
	pls store.PipelineStore,
) *ProjectService {
	return &ProjectService{projectStore: ps, pipelineStore: pls}
}

func (s *ProjectService) CreateProject(
	ctx context.Context,
	serverID int64,
	slug, repositoryURL, branch, environment string,
) (*store.Project, error) {
	if branch == "" {
		branch = "main"
	}
	if environment == "" {
		environment = "production"
	}
	p, err := s.projectStore.CreateProject(
		ctx, serverID, slug, repositoryURL, branch, environment,
	)
	if err != nil {
		return nil, err
	}
	return p, nil
}

func (s *ProjectService) GetProjectByID(
	ctx context.Context,
	id int64,
) (*store.Project, error) {
	p, err := s.projectStore.ReadProjectByID(ctx, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, NotFoundError{Message: fmt.Sprintf("project %d not found", id)}
		}
		return nil, err
	}
	return p, nil
}

func (s *ProjectService) ListProjects(ctx context.Context) ([]*store.Project, error) {
	return s.projectStore.ListProjects(ctx)
}

// ConfigureWebhook enables inbound webhooks for the project and returns the
// generated path token. GitHub and GitLab require a shared secret; Bitbucket
// relies on the token alone.
func (s *ProjectService) ConfigureWebhook(
	ctx context.Context,
	projectID int64,
	provider store.WebhookProvider,
	secret string,
	autoDeploy bool,
) (string, error) {
	if !provider.Valid() {
		return "", ValidationError{
			Message: fmt.Sprintf("unsupported webhook provider '%s'", provider),
		}
	}
	if provider != store.ProviderBitbucket && secret == "" {
		return "", ValidationError{
			Message: fmt.Sprintf("provider '%s' requires a webhook secret", provider),
		}
	}
	if _, err := s.GetProjectByID(ctx, projectID); err != nil {
		return "", err
	}

	token := security.GenerateWebhookToken()
	if err := s.projectStore.UpdateProjectWebhook(
		ctx, projectID, provider, secret, token, autoDeploy,
	); err != nil {
		return "", err
	}
	return token, nil
}

// UpdatePipeline replaces the project's custom pipeline with the stages
// parsed from the YAML definition.
func (s *ProjectService) UpdatePipeline(
	ctx context.Context,
	projectID int64,
	pipelineYaml []byte,
) ([]store.PipelineStage, error) {
	if _, err := s.GetProjectByID(ctx, projectID); err != nil {
		return nil, err
	}
	stages, err := ParsePipelineScript(pipelineYaml)
	if err != nil {
		return nil, err
	}
	if err := s.pipelineStore.ReplaceProjectStages(ctx, projectID, stages); err != nil {
		return nil, err
	}
	return stages, nil
}

func (s *ProjectService) GetPipelineStages(
	ctx context.Context,
	projectID int64,
) ([]store.PipelineStage, error) {
	return s.pipelineStore.ListEnabledProjectStages(ctx, projectID)
}
