package store

import (
	"context"
	"time"
)

type DeploymentStatus string

const (
	StatusPending DeploymentStatus = "pending"
	StatusRunning DeploymentStatus = "running"
	StatusSuccess DeploymentStatus = "success"
	StatusFailed  DeploymentStatus = "failed"
)

// IsActive reports whether the status counts against the one-active-
// deployment-per-project invariant.
func (s DeploymentStatus) IsActive() bool {
	return s == StatusPending || s == StatusRunning
}

func (s DeploymentStatus) IsTerminal() bool {
	return s == StatusSuccess || s == StatusFailed
}

type TriggerKind string

const (
	TriggerManual    TriggerKind = "manual"
	TriggerWebhook   TriggerKind = "webhook"
	TriggerScheduled TriggerKind = "scheduled"
	TriggerRollback  TriggerKind = "rollback"
)

type Deployment struct {
	DeploymentID         int64            `param:"deployment_id"        json:"deployment_id"`
	DeploymentProjectID  int64            `                             json:"project_id"`
	DeploymentServerID   int64            `                             json:"server_id"`
	Branch               string           `                             json:"branch"`
	CommitHash           *string          `                             json:"commit_hash"`
	CommitMessage        *string          `                             json:"commit_message"`
	TriggeredBy          TriggerKind      `                             json:"triggered_by"`
	Status               DeploymentStatus `                             json:"status"`
	OutputLog            *string          `                             json:"output_log"`
	ErrorLog             *string          `                             json:"error_log"`
	EnvSnapshot          *string          `                             json:"-"`
	RollbackDeploymentID *int64           `                             json:"rollback_deployment_id"`
	CreatedOn            time.Time        `                             json:"created_on"`
	StartedOn            *time.Time       `                             json:"started_on"`
	CompletedOn          *time.Time       `                             json:"completed_on"`
	DurationSeconds      *int64           `                             json:"duration_seconds"`
}

type DeploymentStore interface {
	CreateDeployment(
		ctx context.Context,
		projectID, serverID int64,
		branch string,
		commitHash, commitMessage *string,
		triggeredBy TriggerKind,
		rollbackDeploymentID *int64,
	) (*Deployment, error)
	ReadDeploymentByID(context.Context, int64) (*Deployment, error)
	ReadActiveDeployment(context.Context, int64) (*Deployment, error)
	UpdateDeploymentStartedOn(context.Context, int64, DeploymentStatus, *time.Time) error
	UpdateDeploymentCompletedOn(
		ctx context.Context,
		id int64,
		status DeploymentStatus,
		errorLog *string,
		completedOn *time.Time,
		durationSeconds int64,
	) error
	UpdateDeploymentCommit(context.Context, int64, string, string) error
	UpdateDeploymentEnvSnapshot(context.Context, int64, string) error
	AppendDeploymentOutput(context.Context, int64, string) error
	FailAbandonedDeployments(context.Context, string, time.Time) (int64, error)
	ListProjectDeployments(context.Context, int64) ([]Deployment, error)
	ListProjectDeploymentsPaginated(context.Context, int64, int64, int64) ([]Deployment, error)
	CountProjectDeployments(context.Context, int64) (int64, error)
}
