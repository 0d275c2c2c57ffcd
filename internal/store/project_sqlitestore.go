package store

import (
	"context"
	"database/sql"
	"time"

	"github.com/georgysavva/scany/v2/sqlscan"
	"github.com/haatos/devflow/internal"
)

type ProjectSQLiteStore struct {
	rdb, rwdb *sql.DB
}

func NewProjectSQLiteStore(rdb, rwdb *sql.DB) *ProjectSQLiteStore {
	return &ProjectSQLiteStore{rdb, rwdb}
}

func (store *ProjectSQLiteStore) CreateProject(
	ctx context.Context,
	serverID int64,
	slug, repositoryURL, branch, environment string,
) (*Project, error) {
	p := &Project{
		ProjectServerID: serverID,
		Slug:            slug,
		RepositoryURL:   repositoryURL,
		Branch:          branch,
		Environment:     environment,
		Status:          ProjectStopped,
	}
	query := `insert into projects (
		project_server_id,
		slug,
		repository_url,
		branch,
		environment,
		status
	)
	values ($1, $2, $3, $4, $5, $6)
	returning project_id, branches, auto_deploy, created_on`
	if err := sqlscan.Get(
		ctx, store.rwdb, p, query,
		p.ProjectServerID, p.Slug, p.RepositoryURL, p.Branch, p.Environment, p.Status,
	); err != nil {
		return nil, err
	}
	return p, nil
}

func (store *ProjectSQLiteStore) ReadProjectByID(
	ctx context.Context, id int64,
) (*Project, error) {
	p := &Project{ProjectID: id}
	query := "select * from projects where project_id = $1"
	if err := sqlscan.Get(ctx, store.rdb, p, query, p.ProjectID); err != nil {
		return nil, err
	}
	return p, nil
}

func (store *ProjectSQLiteStore) ReadProjectByWebhookToken(
	ctx context.Context, token string,
) (*Project, error) {
	p := new(Project)
	query := "select * from projects where webhook_token = $1"
	if err := sqlscan.Get(ctx, store.rdb, p, query, token); err != nil {
		return nil, err
	}
	return p, nil
}

func (store *ProjectSQLiteStore) ListProjects(ctx context.Context) ([]*Project, error) {
	query := "select * from projects order by slug"
	projects := make([]*Project, 0)
	err := sqlscan.Select(ctx, store.rdb, &projects, query)
	return projects, err
}

func (store *ProjectSQLiteStore) UpdateProjectWebhook(
	ctx context.Context,
	id int64,
	provider WebhookProvider,
	secret, token string,
	autoDeploy bool,
) error {
	query := `update projects
	set webhook_provider = $1,
		webhook_secret = $2,
		webhook_token = $3,
		auto_deploy = $4
	where project_id = $5`
	_, err := store.rwdb.ExecContext(ctx, query, provider, secret, token, autoDeploy, id)
	return err
}

// UpdateProjectDeployed records a successful deployment on the project row.
func (store *ProjectSQLiteStore) UpdateProjectDeployed(
	ctx context.Context,
	id int64,
	commitHash, commitMessage *string,
	deployedAt time.Time,
) error {
	query := `update projects
	set status = $1,
		current_commit_hash = $2,
		current_commit_message = $3,
		last_deployed_at = $4
	where project_id = $5`
	_, err := store.rwdb.ExecContext(
		ctx, query,
		ProjectRunning,
		commitHash,
		commitMessage,
		deployedAt.Format(internal.DBTimestampLayout),
		id,
	)
	return err
}

func (store *ProjectSQLiteStore) UpdateProjectStatus(
	ctx context.Context,
	id int64,
	status ProjectStatus,
) error {
	query := "update projects set status = $1 where project_id = $2"
	_, err := store.rwdb.ExecContext(ctx, query, status, id)
	return err
}
