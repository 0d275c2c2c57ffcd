package store

import (
	"context"
	"database/sql"
	"time"

	"github.com/georgysavva/scany/v2/sqlscan"
	"github.com/haatos/devflow/internal"
)

type ScheduleSQLiteStore struct {
	rdb, rwdb *sql.DB
}

func NewScheduleSQLiteStore(rdb, rwdb *sql.DB) *ScheduleSQLiteStore {
	return &ScheduleSQLiteStore{rdb, rwdb}
}

func (store *ScheduleSQLiteStore) CreateScheduledDeployment(
	ctx context.Context,
	projectID int64,
	branch string,
	scheduledAt time.Time,
	timezone, localDate, localTime string,
	note *string,
	notifyMinutes int64,
) (*ScheduledDeployment, error) {
	sd := &ScheduledDeployment{
		ScheduledProjectID: projectID,
		Branch:             branch,
		ScheduledAt:        scheduledAt.UTC(),
		Timezone:           timezone,
		LocalDate:          localDate,
		LocalTime:          localTime,
		Note:               note,
		NotifyMinutes:      notifyMinutes,
		Status:             SchedulePending,
	}
	query := `insert into scheduled_deployments (
		scheduled_project_id,
		branch,
		scheduled_at,
		timezone,
		local_date,
		local_time,
		note,
		notify_minutes,
		status
	)
	values ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	returning scheduled_deployment_id, created_on`
	if err := sqlscan.Get(
		ctx, store.rwdb, sd, query,
		sd.ScheduledProjectID,
		sd.Branch,
		sd.ScheduledAt.Format(internal.DBTimestampLayout),
		sd.Timezone,
		sd.LocalDate,
		sd.LocalTime,
		sd.Note,
		sd.NotifyMinutes,
		sd.Status,
	); err != nil {
		return nil, err
	}
	return sd, nil
}

func (store *ScheduleSQLiteStore) ReadScheduledDeploymentByID(
	ctx context.Context, id int64,
) (*ScheduledDeployment, error) {
	sd := &ScheduledDeployment{ScheduledDeploymentID: id}
	query := "select * from scheduled_deployments where scheduled_deployment_id = $1"
	if err := sqlscan.Get(ctx, store.rdb, sd, query, sd.ScheduledDeploymentID); err != nil {
		return nil, err
	}
	return sd, nil
}

// ListDueScheduledDeployments returns pending rows whose instant is at or
// before now, oldest first.
func (store *ScheduleSQLiteStore) ListDueScheduledDeployments(
	ctx context.Context, now time.Time,
) ([]ScheduledDeployment, error) {
	query := `select * from scheduled_deployments
	where status = $1 and scheduled_at <= $2
	order by scheduled_at`
	due := make([]ScheduledDeployment, 0)
	err := sqlscan.Select(
		ctx, store.rdb, &due, query,
		SchedulePending, now.UTC().Format(internal.DBTimestampLayout),
	)
	return due, err
}

func (store *ScheduleSQLiteStore) ListProjectScheduledDeployments(
	ctx context.Context, projectID int64,
) ([]ScheduledDeployment, error) {
	query := `select * from scheduled_deployments
	where scheduled_project_id = $1
	order by scheduled_at desc`
	scheduled := make([]ScheduledDeployment, 0)
	err := sqlscan.Select(ctx, store.rdb, &scheduled, query, projectID)
	return scheduled, err
}

// UpdateScheduledDeploymentStatus transitions a row out of pending. The
// status predicate keeps a promoted or cancelled row from changing twice.
func (store *ScheduleSQLiteStore) UpdateScheduledDeploymentStatus(
	ctx context.Context,
	id int64,
	status ScheduleStatus,
	failureReason *string,
	executedDeploymentID *int64,
) (bool, error) {
	query := `update scheduled_deployments
	set status = $1,
		failure_reason = $2,
		executed_deployment_id = $3
	where scheduled_deployment_id = $4 and status = $5`
	res, err := store.rwdb.ExecContext(
		ctx, query, status, failureReason, executedDeploymentID, id, SchedulePending,
	)
	if err != nil {
		return false, err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return affected == 1, nil
}
