package store

import (
	"context"
	"database/sql"
	"time"

	"github.com/georgysavva/scany/v2/sqlscan"
	"github.com/haatos/devflow/internal"
)

type PipelineSQLiteStore struct {
	rdb, rwdb *sql.DB
}

func NewPipelineSQLiteStore(rdb, rwdb *sql.DB) *PipelineSQLiteStore {
	return &PipelineSQLiteStore{rdb, rwdb}
}

// ReplaceProjectStages swaps the project's custom stage list for a new one
// in a single transaction.
func (store *PipelineSQLiteStore) ReplaceProjectStages(
	ctx context.Context,
	projectID int64,
	stages []PipelineStage,
) error {
	tx, err := store.rwdb.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(
		ctx, "delete from pipeline_stages where stage_project_id = $1", projectID,
	); err != nil {
		return err
	}

	query := `insert into pipeline_stages (
		stage_project_id,
		position,
		name,
		command,
		timeout_seconds,
		enabled
	)
	values ($1, $2, $3, $4, $5, $6)`
	for i, stage := range stages {
		if _, err := tx.ExecContext(
			ctx, query,
			projectID,
			int64(i+1),
			stage.Name,
			stage.Command,
			stage.TimeoutSeconds,
			stage.Enabled,
		); err != nil {
			return err
		}
	}

	return tx.Commit()
}

// ListEnabledProjectStages returns the project's enabled stages in pipeline
// order.
func (store *PipelineSQLiteStore) ListEnabledProjectStages(
	ctx context.Context,
	projectID int64,
) ([]PipelineStage, error) {
	query := `select * from pipeline_stages
	where stage_project_id = $1 and enabled = 1
	order by position`
	stages := make([]PipelineStage, 0)
	err := sqlscan.Select(ctx, store.rdb, &stages, query, projectID)
	return stages, err
}

// CreatePipelineRun snapshots the given stages into a new run bound to the
// deployment.
func (store *PipelineSQLiteStore) CreatePipelineRun(
	ctx context.Context,
	deploymentID int64,
	stages []PipelineStage,
) (*PipelineRun, []PipelineRunStage, error) {
	tx, err := store.rwdb.BeginTx(ctx, nil)
	if err != nil {
		return nil, nil, err
	}
	defer tx.Rollback()

	run := &PipelineRun{
		RunDeploymentID: deploymentID,
		Status:          StatusPending,
	}
	runQuery := `insert into pipeline_runs (run_deployment_id, status)
	values ($1, $2)
	returning run_id, created_on`
	if err := sqlscan.Get(
		ctx, tx, run, runQuery, run.RunDeploymentID, run.Status,
	); err != nil {
		return nil, nil, err
	}

	runStages := make([]PipelineRunStage, 0, len(stages))
	stageQuery := `insert into pipeline_run_stages (
		run_id,
		position,
		name,
		command,
		timeout_seconds,
		status
	)
	values ($1, $2, $3, $4, $5, $6)
	returning run_stage_id`
	for i, stage := range stages {
		rs := PipelineRunStage{
			RunID:          run.RunID,
			Position:       int64(i + 1),
			Name:           stage.Name,
			Command:        stage.Command,
			TimeoutSeconds: stage.TimeoutSeconds,
			Status:         StagePending,
		}
		if err := sqlscan.Get(
			ctx, tx, &rs.RunStageID, stageQuery,
			rs.RunID, rs.Position, rs.Name, rs.Command, rs.TimeoutSeconds, rs.Status,
		); err != nil {
			return nil, nil, err
		}
		runStages = append(runStages, rs)
	}

	if err := tx.Commit(); err != nil {
		return nil, nil, err
	}
	return run, runStages, nil
}

func (store *PipelineSQLiteStore) ReadPipelineRunByDeploymentID(
	ctx context.Context, deploymentID int64,
) (*PipelineRun, error) {
	run := new(PipelineRun)
	query := "select * from pipeline_runs where run_deployment_id = $1"
	if err := sqlscan.Get(ctx, store.rdb, run, query, deploymentID); err != nil {
		return nil, err
	}
	return run, nil
}

func (store *PipelineSQLiteStore) ListRunStages(
	ctx context.Context, runID int64,
) ([]PipelineRunStage, error) {
	query := `select * from pipeline_run_stages
	where run_id = $1
	order by position`
	stages := make([]PipelineRunStage, 0)
	err := sqlscan.Select(ctx, store.rdb, &stages, query, runID)
	return stages, err
}

func (store *PipelineSQLiteStore) UpdatePipelineRunStartedOn(
	ctx context.Context,
	runID int64,
	status DeploymentStatus,
	startedOn *time.Time,
) error {
	query := `update pipeline_runs
	set status = $1,
		started_on = $2
	where run_id = $3`
	_, err := store.rwdb.ExecContext(
		ctx, query, status, startedOn.Format(internal.DBTimestampLayout), runID,
	)
	return err
}

func (store *PipelineSQLiteStore) UpdatePipelineRunCompletedOn(
	ctx context.Context,
	runID int64,
	status DeploymentStatus,
	completedOn *time.Time,
) error {
	query := `update pipeline_runs
	set status = $1,
		completed_on = $2
	where run_id = $3`
	_, err := store.rwdb.ExecContext(
		ctx, query, status, completedOn.Format(internal.DBTimestampLayout), runID,
	)
	return err
}

func (store *PipelineSQLiteStore) UpdateRunStageStartedOn(
	ctx context.Context,
	runStageID int64,
	status StageStatus,
	startedOn *time.Time,
) error {
	query := `update pipeline_run_stages
	set status = $1,
		started_on = $2
	where run_stage_id = $3`
	_, err := store.rwdb.ExecContext(
		ctx, query, status, startedOn.Format(internal.DBTimestampLayout), runStageID,
	)
	return err
}

func (store *PipelineSQLiteStore) UpdateRunStageCompletedOn(
	ctx context.Context,
	runStageID int64,
	status StageStatus,
	output *string,
	completedOn *time.Time,
) error {
	query := `update pipeline_run_stages
	set status = $1,
		output = $2,
		completed_on = $3
	where run_stage_id = $4`
	_, err := store.rwdb.ExecContext(
		ctx, query, status, output, completedOn.Format(internal.DBTimestampLayout), runStageID,
	)
	return err
}

// MarkRunStagesSkipped marks every stage after the given position skipped.
func (store *PipelineSQLiteStore) MarkRunStagesSkipped(
	ctx context.Context,
	runID, afterPosition int64,
) error {
	query := `update pipeline_run_stages
	set status = $1
	where run_id = $2 and position > $3 and status = $4`
	_, err := store.rwdb.ExecContext(
		ctx, query, StageSkipped, runID, afterPosition, StagePending,
	)
	return err
}
