package service

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/haatos/devflow/internal/store"
)

type DeploymentServicer interface {
	CreateDeployment(
		ctx context.Context,
		project *store.Project,
		branch string,
		commitHash, commitMessage *string,
		triggeredBy store.TriggerKind,
		rollbackDeploymentID *int64,
	) (*store.Deployment, error)
	Transition(
		ctx context.Context,
		deployment *store.Deployment,
		newStatus store.DeploymentStatus,
		errorLog *string,
	) error
	FailPending(ctx context.Context, deployment *store.Deployment, reason string) error
	Rollback(ctx context.Context, projectID, deploymentID int64) (*store.Deployment, error)
	GetDeploymentByID(context.Context, int64) (*store.Deployment, error)
	GetProjectByID(context.Context, int64) (*store.Project, error)
	ListProjectDeployments(context.Context, int64, int64, int64) ([]store.Deployment, int64, error)
	AppendOutput(context.Context, int64, string) error
	RecordCommit(ctx context.Context, deploymentID int64, hash, message string) error
	RecordEnvSnapshot(ctx context.Context, deploymentID int64, snapshot string) error
}

type DeploymentService struct {
	deploymentStore store.DeploymentStore
	projectStore    store.ProjectStore
}

func NewDeploymentService(
	ds store.DeploymentStore,
	ps store.ProjectStore,
) *DeploymentService {
	return &DeploymentService{deploymentStore: ds, projectStore: ps}
}

// CreateDeployment creates a pending deployment for the project. At most one
// deployment per project may be pending or running; a concurrent attempt
// returns DeploymentInProgressError.
func (s *DeploymentService) CreateDeployment(
	ctx context.Context,
	project *store.Project,
	branch string,
	commitHash, commitMessage *string,
	triggeredBy store.TriggerKind,
	rollbackDeploymentID *int64,
) (*store.Deployment, error) {
	if branch == "" {
		branch = project.Branch
	}
	d, err := s.deploymentStore.CreateDeployment(
		ctx,
		project.ProjectID,
		project.ProjectServerID,
		branch,
		commitHash,
		commitMessage,
		triggeredBy,
		rollbackDeploymentID,
	)
	if err != nil {
		if errors.Is(err, store.ErrActiveDeploymentExists) {
			return nil, NewDeploymentInProgressError(project.ProjectID)
		}
		return nil, err
	}
	return d, nil
}

var allowedTransitions = map[store.DeploymentStatus][]store.DeploymentStatus{
	store.StatusPending: {store.StatusRunning},
	store.StatusRunning: {store.StatusSuccess, store.StatusFailed},
}

func transitionAllowed(from, to store.DeploymentStatus) bool {
	for _, s := range allowedTransitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// Transition moves the deployment along pending -> running -> success|failed
// and stamps the row. An edge outside the lifecycle graph is a programming
// error and panics. On success the project row is updated; failed and
// pending attempts never touch it.
func (s *DeploymentService) Transition(
	ctx context.Context,
	deployment *store.Deployment,
	newStatus store.DeploymentStatus,
	errorLog *string,
) error {
	if !transitionAllowed(deployment.Status, newStatus) {
		panic(fmt.Sprintf(
			"illegal deployment transition %s -> %s (deployment %d)",
			deployment.Status, newStatus, deployment.DeploymentID,
		))
	}

	now := time.Now().UTC()
	switch newStatus {
	case store.StatusRunning:
		if err := s.deploymentStore.UpdateDeploymentStartedOn(
			ctx, deployment.DeploymentID, newStatus, &now,
		); err != nil {
			return err
		}
		deployment.StartedOn = &now
	case store.StatusSuccess, store.StatusFailed:
		var duration int64
		if deployment.StartedOn != nil {
			duration = int64(now.Sub(*deployment.StartedOn).Seconds())
		}
		if err := s.deploymentStore.UpdateDeploymentCompletedOn(
			ctx, deployment.DeploymentID, newStatus, errorLog, &now, duration,
		); err != nil {
			return err
		}
		deployment.CompletedOn = &now
		deployment.DurationSeconds = &duration
		deployment.ErrorLog = errorLog

		if newStatus == store.StatusSuccess {
			if err := s.projectStore.UpdateProjectDeployed(
				ctx,
				deployment.DeploymentProjectID,
				deployment.CommitHash,
				deployment.CommitMessage,
				now,
			); err != nil {
				return err
			}
		}
	}

	deployment.Status = newStatus
	return nil
}

// FailPending fails a deployment that never reached the executor, releasing
// the project's active-deployment slot. The row passes through running so
// the lifecycle graph stays intact.
func (s *DeploymentService) FailPending(
	ctx context.Context,
	deployment *store.Deployment,
	reason string,
) error {
	if deployment.Status == store.StatusPending {
		if err := s.Transition(ctx, deployment, store.StatusRunning, nil); err != nil {
			return err
		}
	}
	return s.Transition(ctx, deployment, store.StatusFailed, &reason)
}

// Rollback re-applies a previous successful deployment's commit as a new
// deployment. Only success rows may be rolled back to.
func (s *DeploymentService) Rollback(
	ctx context.Context,
	projectID, deploymentID int64,
) (*store.Deployment, error) {
	target, err := s.GetDeploymentByID(ctx, deploymentID)
	if err != nil {
		return nil, err
	}
	if target.DeploymentProjectID != projectID {
		return nil, NotFoundError{
			Message: fmt.Sprintf("deployment %d not found", deploymentID),
		}
	}
	if target.Status != store.StatusSuccess {
		return nil, InvalidDeploymentStatusError{
			Message: fmt.Sprintf(
				"cannot roll back to deployment %d with status '%s'",
				target.DeploymentID, target.Status,
			),
		}
	}

	project, err := s.GetProjectByID(ctx, projectID)
	if err != nil {
		return nil, err
	}

	return s.CreateDeployment(
		ctx,
		project,
		target.Branch,
		target.CommitHash,
		target.CommitMessage,
		store.TriggerRollback,
		&target.DeploymentID,
	)
}

func (s *DeploymentService) GetDeploymentByID(
	ctx context.Context,
	id int64,
) (*store.Deployment, error) {
	d, err := s.deploymentStore.ReadDeploymentByID(ctx, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, NotFoundError{Message: fmt.Sprintf("deployment %d not found", id)}
		}
		return nil, err
	}
	return d, nil
}

func (s *DeploymentService) GetProjectByID(
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

func (s *DeploymentService) ListProjectDeployments(
	ctx context.Context,
	projectID, limit, offset int64,
) ([]store.Deployment, int64, error) {
	deployments, err := s.deploymentStore.ListProjectDeploymentsPaginated(
		ctx, projectID, limit, offset,
	)
	if err != nil {
		return nil, 0, err
	}
	count, err := s.deploymentStore.CountProjectDeployments(ctx, projectID)
	if err != nil {
		return nil, 0, err
	}
	return deployments, count, nil
}

func (s *DeploymentService) AppendOutput(
	ctx context.Context,
	deploymentID int64,
	out string,
) error {
	return s.deploymentStore.AppendDeploymentOutput(ctx, deploymentID, out)
}

func (s *DeploymentService) RecordCommit(
	ctx context.Context,
	deploymentID int64,
	hash, message string,
) error {
	return s.deploymentStore.UpdateDeploymentCommit(ctx, deploymentID, hash, message)
}

func (s *DeploymentService) RecordEnvSnapshot(
	ctx context.Context,
	deploymentID int64,
	snapshot string,
) error {
	return s.deploymentStore.UpdateDeploymentEnvSnapshot(ctx, deploymentID, snapshot)
}
