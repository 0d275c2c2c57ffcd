package store

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/georgysavva/scany/v2/sqlscan"
	"github.com/haatos/devflow/internal"
)

// ErrActiveDeploymentExists is returned by CreateDeployment when the project
// already has a deployment in pending or running state.
var ErrActiveDeploymentExists = errors.New("an active deployment already exists for the project")

type DeploymentSQLiteStore struct {
	rdb, rwdb *sql.DB
}

func NewDeploymentSQLiteStore(rdb, rwdb *sql.DB) *DeploymentSQLiteStore {
	return &DeploymentSQLiteStore{rdb, rwdb}
}

// CreateDeployment inserts a new pending deployment. The active-deployment
// check and the insert run in one immediate transaction on the single-writer
// connection, so two concurrent triggers cannot both pass the check.
func (store *DeploymentSQLiteStore) CreateDeployment(
	ctx context.Context,
	projectID, serverID int64,
	branch string,
	commitHash, commitMessage *string,
	triggeredBy TriggerKind,
	rollbackDeploymentID *int64,
) (*Deployment, error) {
	tx, err := store.rwdb.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	var active int64
	countQuery := `select count(*) from deployments
	where deployment_project_id = $1 and status in ($2, $3)`
	if err := sqlscan.Get(
		ctx, tx, &active, countQuery, projectID, StatusPending, StatusRunning,
	); err != nil {
		return nil, err
	}
	if active > 0 {
		return nil, ErrActiveDeploymentExists
	}

	d := &Deployment{
		DeploymentProjectID:  projectID,
		DeploymentServerID:   serverID,
		Branch:               branch,
		CommitHash:           commitHash,
		CommitMessage:        commitMessage,
		TriggeredBy:          triggeredBy,
		Status:               StatusPending,
		RollbackDeploymentID: rollbackDeploymentID,
	}
	insertQuery := `insert into deployments (
		deployment_project_id,
		deployment_server_id,
		branch,
		commit_hash,
		commit_message,
		triggered_by,
		status,
		rollback_deployment_id
	)
	values ($1, $2, $3, $4, $5, $6, $7, $8)
	returning deployment_id, created_on`
	if err := sqlscan.Get(
		ctx, tx, d, insertQuery,
		d.DeploymentProjectID,
		d.DeploymentServerID,
		d.Branch,
		d.CommitHash,
		d.CommitMessage,
		d.TriggeredBy,
		d.Status,
		d.RollbackDeploymentID,
	); err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return d, nil
}

func (store *DeploymentSQLiteStore) ReadDeploymentByID(
	ctx context.Context, id int64,
) (*Deployment, error) {
	d := &Deployment{DeploymentID: id}
	query := "select * from deployments where deployment_id = $1"
	if err := sqlscan.Get(ctx, store.rdb, d, query, d.DeploymentID); err != nil {
		return nil, err
	}
	return d, nil
}

func (store *DeploymentSQLiteStore) ReadActiveDeployment(
	ctx context.Context, projectID int64,
) (*Deployment, error) {
	d := new(Deployment)
	query := `select * from deployments
	where deployment_project_id = $1 and status in ($2, $3)`
	if err := sqlscan.Get(
		ctx, store.rdb, d, query, projectID, StatusPending, StatusRunning,
	); err != nil {
		return nil, err
	}
	return d, nil
}

func (store *DeploymentSQLiteStore) UpdateDeploymentStartedOn(
	ctx context.Context,
	id int64,
	status DeploymentStatus,
	startedOn *time.Time,
) error {
	query := `update deployments
	set status = $1,
		started_on = $2
	where deployment_id = $3`
	_, err := store.rwdb.ExecContext(
		ctx, query,
		status,
		startedOn.Format(internal.DBTimestampLayout),
		id,
	)
	return err
}

func (store *DeploymentSQLiteStore) UpdateDeploymentCompletedOn(
	ctx context.Context,
	id int64,
	status DeploymentStatus,
	errorLog *string,
	completedOn *time.Time,
	durationSeconds int64,
) error {
	query := `update deployments
	set status = $1,
		error_log = $2,
		completed_on = $3,
		duration_seconds = $4
	where deployment_id = $5`
	_, err := store.rwdb.ExecContext(
		ctx, query,
		status,
		errorLog,
		completedOn.Format(internal.DBTimestampLayout),
		durationSeconds,
		id,
	)
	return err
}

func (store *DeploymentSQLiteStore) UpdateDeploymentCommit(
	ctx context.Context,
	id int64,
	commitHash, commitMessage string,
) error {
	query := `update deployments
	set commit_hash = $1,
		commit_message = $2
	where deployment_id = $3`
	_, err := store.rwdb.ExecContext(ctx, query, commitHash, commitMessage, id)
	return err
}

func (store *DeploymentSQLiteStore) UpdateDeploymentEnvSnapshot(
	ctx context.Context,
	id int64,
	snapshot string,
) error {
	query := `update deployments
	set env_snapshot = $1
	where deployment_id = $2`
	_, err := store.rwdb.ExecContext(ctx, query, snapshot, id)
	return err
}

// AppendDeploymentOutput appends to the deployment's log buffer. Lines are
// only ever appended, never reordered.
func (store *DeploymentSQLiteStore) AppendDeploymentOutput(
	ctx context.Context, id int64, out string,
) error {
	tx, err := store.rwdb.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	d := &Deployment{DeploymentID: id}
	readQuery := `select * from deployments where deployment_id = $1`
	if err := sqlscan.Get(ctx, tx, d, readQuery, d.DeploymentID); err != nil {
		return err
	}

	var existingOutput string
	if d.OutputLog != nil {
		existingOutput = *d.OutputLog
	}
	updateQuery := `update deployments
	set output_log = $1
	where deployment_id = $2`
	if _, err := tx.ExecContext(
		ctx, updateQuery, existingOutput+out, d.DeploymentID,
	); err != nil {
		return err
	}

	return tx.Commit()
}

// FailAbandonedDeployments fails every non-terminal deployment row,
// releasing the active slot of each affected project. Rows left pending or
// running at startup belong to a previous process and will never execute.
func (store *DeploymentSQLiteStore) FailAbandonedDeployments(
	ctx context.Context,
	reason string,
	completedOn time.Time,
) (int64, error) {
	query := `update deployments
	set status = $1,
		error_log = $2,
		completed_on = $3,
		duration_seconds = 0
	where status in ($4, $5)`
	res, err := store.rwdb.ExecContext(
		ctx, query,
		StatusFailed,
		reason,
		completedOn.Format(internal.DBTimestampLayout),
		StatusPending,
		StatusRunning,
	)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

func (store *DeploymentSQLiteStore) ListProjectDeployments(
	ctx context.Context,
	projectID int64,
) ([]Deployment, error) {
	query := `select * from deployments
	where deployment_project_id = $1
	order by created_on desc`
	deployments := make([]Deployment, 0)
	err := sqlscan.Select(ctx, store.rdb, &deployments, query, projectID)
	return deployments, err
}

func (store *DeploymentSQLiteStore) ListProjectDeploymentsPaginated(
	ctx context.Context,
	projectID, limit, offset int64,
) ([]Deployment, error) {
	query := `select * from deployments
	where deployment_project_id = $1
	order by created_on desc limit $2 offset $3`
	deployments := make([]Deployment, 0)
	err := sqlscan.Select(ctx, store.rdb, &deployments, query, projectID, limit, offset)
	return deployments, err
}

func (store *DeploymentSQLiteStore) CountProjectDeployments(
	ctx context.Context,
	projectID int64,
) (int64, error) {
	var count int64
	query := `select count(*) from deployments where deployment_project_id = $1`
	err := sqlscan.Get(ctx, store.rdb, &count, query, projectID)
	return count, err
}
