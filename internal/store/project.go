package store

import (
	"context"
	"encoding/json"
	"time"
)

type ProjectStatus string

const (
	ProjectRunning ProjectStatus = "running"
	ProjectStopped ProjectStatus = "stopped"
	ProjectFailed  ProjectStatus = "failed"
)

type WebhookProvider string

const (
	ProviderGitHub    WebhookProvider = "github"
	ProviderGitLab    WebhookProvider = "gitlab"
	ProviderBitbucket WebhookProvider = "bitbucket"
)

func (p WebhookProvider) Valid() bool {
	switch p {
	case ProviderGitHub, ProviderGitLab, ProviderBitbucket:
		return true
	}
	return false
}

type Project struct {
	ProjectID            int64            `param:"project_id"        json:"project_id"`
	ProjectServerID      int64            `                          json:"server_id"`
	Slug                 string           `                          json:"slug"`
	RepositoryURL        string           `                          json:"repository_url"`
	Branch               string           `                          json:"branch"`
	Branches             string           `                          json:"-"`
	Environment          string           `                          json:"environment"`
	AutoDeploy           bool             `                          json:"auto_deploy"`
	WebhookProvider      *WebhookProvider `                          json:"webhook_provider"`
	WebhookSecret        *string          `                          json:"-"`
	WebhookToken         *string          `                          json:"-"`
	Status               ProjectStatus    `                          json:"status"`
	CurrentCommitHash    *string          `                          json:"current_commit_hash"`
	CurrentCommitMessage *string          `                          json:"current_commit_message"`
	LastDeployedAt       *time.Time       `                          json:"last_deployed_at"`
	CreatedOn            time.Time        `                          json:"created_on"`
}

// KnownBranches decodes the JSON-encoded branch list.
func (p *Project) KnownBranches() []string {
	branches := make([]string, 0)
	if p.Branches == "" {
		return branches
	}
	_ = json.Unmarshal([]byte(p.Branches), &branches)
	return branches
}

type ProjectStore interface {
	CreateProject(
		ctx context.Context,
		serverID int64,
		slug, repositoryURL, branch, environment string,
	) (*Project, error)
	ReadProjectByID(context.Context, int64) (*Project, error)
	ReadProjectByWebhookToken(context.Context, string) (*Project, error)
	ListProjects(context.Context) ([]*Project, error)
	UpdateProjectWebhook(
		ctx context.Context,
		id int64,
		provider WebhookProvider,
		secret, token string,
		autoDeploy bool,
	) error
	UpdateProjectDeployed(context.Context, int64, *string, *string, time.Time) error
	UpdateProjectStatus(context.Context, int64, ProjectStatus) error
}
