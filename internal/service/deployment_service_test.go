package service

import (
	"context"
	"math/rand"
	"testing"
	"time"

	"github.com/haatos/devflow/internal/store"
	"github.com/haatos/devflow/internal/util"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
)

type MockDeploymentStore struct {
	mock.Mock
}

func (m *MockDeploymentStore) CreateDeployment(
	ctx context.Context,
	projectID, serverID int64,
	branch string,
	commitHash, commitMessage *string,
	triggeredBy store.TriggerKind,
	rollbackDeploymentID *int64,
) (*store.Deployment, error) {
	args := m.Called(
		ctx, projectID, serverID, branch,
		commitHash, commitMessage, triggeredBy, rollbackDeploymentID,
	)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*store.Deployment), args.Error(1)
}

func (m *MockDeploymentStore) ReadDeploymentByID(
	ctx context.Context, id int64,
) (*store.Deployment, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*store.Deployment), args.Error(1)
}

func (m *MockDeploymentStore) ReadActiveDeployment(
	ctx context.Context, projectID int64,
) (*store.Deployment, error) {
	args := m.Called(ctx, projectID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*store.Deployment), args.Error(1)
}

func (m *MockDeploymentStore) UpdateDeploymentStartedOn(
	ctx context.Context, id int64, status store.DeploymentStatus, startedOn *time.Time,
) error {
	args := m.Called(ctx, id, status, startedOn)
	return args.Error(0)
}

func (m *MockDeploymentStore) UpdateDeploymentCompletedOn(
	ctx context.Context,
	id int64,
	status store.DeploymentStatus,
	errorLog *string,
	completedOn *time.Time,
	durationSeconds int64,
) error {
	args := m.Called(ctx, id, status, errorLog, completedOn, durationSeconds)
	return args.Error(0)
}

func (m *MockDeploymentStore) UpdateDeploymentCommit(
	ctx context.Context, id int64, hash, message string,
) error {
	args := m.Called(ctx, id, hash, message)
	return args.Error(0)
}

func (m *MockDeploymentStore) UpdateDeploymentEnvSnapshot(
	ctx context.Context, id int64, snapshot string,
) error {
	args := m.Called(ctx, id, snapshot)
	return args.Error(0)
}

func (m *MockDeploymentStore) AppendDeploymentOutput(
	ctx context.Context, id int64, out string,
) error {
	args := m.Called(ctx, id, out)
	return args.Error(0)
}

func (m *MockDeploymentStore) FailAbandonedDeployments(
	ctx context.Context, reason string, completedOn time.Time,
) (int64, error) {
	args := m.Called(ctx, reason, completedOn)
	return args.Get(0).(int64), args.Error(1)
}

func (m *MockDeploymentStore) ListProjectDeployments(
	ctx context.Context, projectID int64,
) ([]store.Deployment, error) {
	args := m.Called(ctx, projectID)
	return args.Get(0).([]store.Deployment), args.Error(1)
}

func (m *MockDeploymentStore) ListProjectDeploymentsPaginated(
	ctx context.Context, projectID, limit, offset int64,
) ([]store.Deployment, error) {
	args := m.Called(ctx, projectID, limit, offset)
	return args.Get(0).([]store.Deployment), args.Error(1)
}

func (m *MockDeploymentStore) CountProjectDeployments(
	ctx context.Context, projectID int64,
) (int64, error) {
	args := m.Called(ctx, projectID)
	return args.Get(0).(int64), args.Error(1)
}

type MockProjectStore struct {
	mock.Mock
}

func (m *MockProjectStore) CreateProject(
	ctx context.Context,
	serverID int64,
	slug, repositoryURL, branch, environment string,
) (*store.Project, error) {
	args := m.Called(ctx, serverID, slug, repositoryURL, branch, environment)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*store.Project), args.Error(1)
}

func (m *MockProjectStore) ReadProjectByID(
	ctx context.Context, id int64,
) (*store.Project, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*store.Project), args.Error(1)
}

func (m *MockProjectStore) ReadProjectByWebhookToken(
	ctx context.Context, token string,
) (*store.Project, error) {
	args := m.Called(ctx, token)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*store.Project), args.Error(1)
}

func (m *MockProjectStore) ListProjects(ctx context.Context) ([]*store.Project, error) {
	args := m.Called(ctx)
	return args.Get(0).([]*store.Project), args.Error(1)
}

func (m *MockProjectStore) UpdateProjectWebhook(
	ctx context.Context,
	id int64,
	provider store.WebhookProvider,
	secret, token string,
	autoDeploy bool,
) error {
	args := m.Called(ctx, id, provider, secret, token, autoDeploy)
	return args.Error(0)
}

func (m *MockProjectStore) UpdateProjectDeployed(
	ctx context.Context,
	id int64,
	commitHash, commitMessage *string,
	deployedAt time.Time,
) error {
	args := m.Called(ctx, id, commitHash, commitMessage, deployedAt)
	return args.Error(0)
}

func (m *MockProjectStore) UpdateProjectStatus(
	ctx context.Context, id int64, status store.ProjectStatus,
) error {
	args := m.Called(ctx, id, status)
	return args.Error(0)
}

func generateProject() *store.Project {
	return &store.Project{
		ProjectID:       rand.Int63(),
		ProjectServerID: rand.Int63(),
		Slug:            "webapp",
		RepositoryURL:   "git@github.com:haatos/webapp.git",
		Branch:          "main",
		Environment:     "production",
		Status:          store.ProjectStopped,
	}
}

func generateDeployment(projectID, serverID int64) *store.Deployment {
	return &store.Deployment{
		DeploymentID:        rand.Int63(),
		DeploymentProjectID: projectID,
		DeploymentServerID:  serverID,
		Branch:              "main",
		TriggeredBy:         store.TriggerManual,
		Status:              store.StatusPending,
		CreatedOn:           time.Now().UTC(),
	}
}

func TestDeploymentService_CreateDeployment(t *testing.T) {
	t.Run("success - pending deployment created", func(t *testing.T) {
		// arrange
		project := generateProject()
		expected := generateDeployment(project.ProjectID, project.ProjectServerID)
		mockStore := new(MockDeploymentStore)
		mockStore.On(
			"CreateDeployment",
			context.Background(),
			project.ProjectID,
			project.ProjectServerID,
			"main",
			(*string)(nil),
			(*string)(nil),
			store.TriggerManual,
			(*int64)(nil),
		).Return(expected, nil)
		deploymentService := NewDeploymentService(mockStore, nil)

		// act
		d, err := deploymentService.CreateDeployment(
			context.Background(), project, "", nil, nil, store.TriggerManual, nil,
		)

		// assert
		assert.NoError(t, err)
		assert.NotNil(t, d)
		assert.Equal(t, store.StatusPending, d.Status)
	})
	t.Run("failure - concurrent deployment returns typed error", func(t *testing.T) {
		// arrange
		project := generateProject()
		mockStore := new(MockDeploymentStore)
		mockStore.On(
			"CreateDeployment",
			context.Background(),
			project.ProjectID,
			project.ProjectServerID,
			"main",
			(*string)(nil),
			(*string)(nil),
			store.TriggerWebhook,
			(*int64)(nil),
		).Return(nil, store.ErrActiveDeploymentExists)
		deploymentService := NewDeploymentService(mockStore, nil)

		// act
		d, err := deploymentService.CreateDeployment(
			context.Background(), project, "main", nil, nil, store.TriggerWebhook, nil,
		)

		// assert
		assert.Error(t, err)
		assert.Nil(t, d)
		var inProgress DeploymentInProgressError
		assert.ErrorAs(t, err, &inProgress)
		assert.Equal(t, CodeDeploymentInProgress, inProgress.Code())
	})
}

func TestDeploymentService_Transition(t *testing.T) {
	t.Run("success - pending to running stamps started on", func(t *testing.T) {
		// arrange
		project := generateProject()
		deployment := generateDeployment(project.ProjectID, project.ProjectServerID)
		mockStore := new(MockDeploymentStore)
		mockStore.On(
			"UpdateDeploymentStartedOn",
			context.Background(),
			deployment.DeploymentID,
			store.StatusRunning,
			mock.Anything,
		).Return(nil)
		deploymentService := NewDeploymentService(mockStore, nil)

		// act
		err := deploymentService.Transition(
			context.Background(), deployment, store.StatusRunning, nil,
		)

		// assert
		assert.NoError(t, err)
		assert.Equal(t, store.StatusRunning, deployment.Status)
		assert.NotNil(t, deployment.StartedOn)
	})
	t.Run("success - running to success updates project row", func(t *testing.T) {
		// arrange
		project := generateProject()
		deployment := generateDeployment(project.ProjectID, project.ProjectServerID)
		deployment.Status = store.StatusRunning
		deployment.StartedOn = util.AsPtr(time.Now().UTC().Add(-time.Minute))
		deployment.CommitHash = util.AsPtr("abc123")
		deployment.CommitMessage = util.AsPtr("fix login")
		mockStore := new(MockDeploymentStore)
		mockStore.On(
			"UpdateDeploymentCompletedOn",
			context.Background(),
			deployment.DeploymentID,
			store.StatusSuccess,
			(*string)(nil),
			mock.Anything,
			mock.Anything,
		).Return(nil)
		mockProjects := new(MockProjectStore)
		mockProjects.On(
			"UpdateProjectDeployed",
			context.Background(),
			project.ProjectID,
			deployment.CommitHash,
			deployment.CommitMessage,
			mock.Anything,
		).Return(nil)
		deploymentService := NewDeploymentService(mockStore, mockProjects)

		// act
		err := deploymentService.Transition(
			context.Background(), deployment, store.StatusSuccess, nil,
		)

		// assert
		assert.NoError(t, err)
		assert.Equal(t, store.StatusSuccess, deployment.Status)
		assert.NotNil(t, deployment.CompletedOn)
		assert.NotNil(t, deployment.DurationSeconds)
		assert.GreaterOrEqual(t, *deployment.DurationSeconds, int64(59))
		mockProjects.AssertExpectations(t)
	})
	t.Run("success - running to failed leaves project untouched", func(t *testing.T) {
		// arrange
		project := generateProject()
		deployment := generateDeployment(project.ProjectID, project.ProjectServerID)
		deployment.Status = store.StatusRunning
		deployment.StartedOn = util.AsPtr(time.Now().UTC())
		errLog := util.AsPtr("stage 'build image' failed: exit status 1")
		mockStore := new(MockDeploymentStore)
		mockStore.On(
			"UpdateDeploymentCompletedOn",
			context.Background(),
			deployment.DeploymentID,
			store.StatusFailed,
			errLog,
			mock.Anything,
			mock.Anything,
		).Return(nil)
		mockProjects := new(MockProjectStore)
		deploymentService := NewDeploymentService(mockStore, mockProjects)

		// act
		err := deploymentService.Transition(
			context.Background(), deployment, store.StatusFailed, errLog,
		)

		// assert
		assert.NoError(t, err)
		assert.Equal(t, store.StatusFailed, deployment.Status)
		mockProjects.AssertNotCalled(t, "UpdateProjectDeployed",
			mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything)
	})
	t.Run("failure - illegal edge panics", func(t *testing.T) {
		// arrange
		project := generateProject()
		deployment := generateDeployment(project.ProjectID, project.ProjectServerID)
		deployment.Status = store.StatusSuccess
		deploymentService := NewDeploymentService(new(MockDeploymentStore), nil)

		// act + assert
		assert.Panics(t, func() {
			_ = deploymentService.Transition(
				context.Background(), deployment, store.StatusRunning, nil,
			)
		})
	})
}

func TestDeploymentService_Rollback(t *testing.T) {
	t.Run("success - rollback re-applies commit with back reference", func(t *testing.T) {
		// arrange
		project := generateProject()
		target := generateDeployment(project.ProjectID, project.ProjectServerID)
		target.Status = store.StatusSuccess
		target.CommitHash = util.AsPtr("abc123")
		target.CommitMessage = util.AsPtr("stable release")
		mockStore := new(MockDeploymentStore)
		mockStore.On(
			"ReadDeploymentByID", context.Background(), target.DeploymentID,
		).Return(target, nil)
		mockStore.On(
			"CreateDeployment",
			context.Background(),
			project.ProjectID,
			project.ProjectServerID,
			target.Branch,
			target.CommitHash,
			target.CommitMessage,
			store.TriggerRollback,
			&target.DeploymentID,
		).Return(&store.Deployment{
			DeploymentID:         target.DeploymentID + 1,
			DeploymentProjectID:  project.ProjectID,
			DeploymentServerID:   project.ProjectServerID,
			Branch:               target.Branch,
			CommitHash:           target.CommitHash,
			TriggeredBy:          store.TriggerRollback,
			Status:               store.StatusPending,
			RollbackDeploymentID: &target.DeploymentID,
		}, nil)
		mockProjects := new(MockProjectStore)
		mockProjects.On(
			"ReadProjectByID", context.Background(), project.ProjectID,
		).Return(project, nil)
		deploymentService := NewDeploymentService(mockStore, mockProjects)

		// act
		d, err := deploymentService.Rollback(
			context.Background(), project.ProjectID, target.DeploymentID,
		)

		// assert
		assert.NoError(t, err)
		assert.NotNil(t, d)
		assert.Equal(t, store.TriggerRollback, d.TriggeredBy)
		assert.Equal(t, target.DeploymentID, *d.RollbackDeploymentID)
		assert.Equal(t, "abc123", *d.CommitHash)
	})
	t.Run("failure - rollback to failed deployment is rejected", func(t *testing.T) {
		// arrange
		project := generateProject()
		target := generateDeployment(project.ProjectID, project.ProjectServerID)
		target.Status = store.StatusFailed
		mockStore := new(MockDeploymentStore)
		mockStore.On(
			"ReadDeploymentByID", context.Background(), target.DeploymentID,
		).Return(target, nil)
		deploymentService := NewDeploymentService(mockStore, nil)

		// act
		d, err := deploymentService.Rollback(
			context.Background(), project.ProjectID, target.DeploymentID,
		)

		// assert
		assert.Error(t, err)
		assert.Nil(t, d)
		var invalid InvalidDeploymentStatusError
		assert.ErrorAs(t, err, &invalid)
		assert.Equal(t, CodeInvalidDeploymentStatus, invalid.Code())
	})
	t.Run("failure - rollback to pending deployment is rejected", func(t *testing.T) {
		// arrange
		project := generateProject()
		target := generateDeployment(project.ProjectID, project.ProjectServerID)
		mockStore := new(MockDeploymentStore)
		mockStore.On(
			"ReadDeploymentByID", context.Background(), target.DeploymentID,
		).Return(target, nil)
		deploymentService := NewDeploymentService(mockStore, nil)

		// act
		d, err := deploymentService.Rollback(
			context.Background(), project.ProjectID, target.DeploymentID,
		)

		// assert
		assert.Error(t, err)
		assert.Nil(t, d)
		var invalid InvalidDeploymentStatusError
		assert.ErrorAs(t, err, &invalid)
	})
}
