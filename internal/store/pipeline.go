package store

import (
	"context"
	"time"
)

type StageStatus string

const (
	StagePending StageStatus = "pending"
	StageRunning StageStatus = "running"
	StageSuccess StageStatus = "success"
	StageFailed  StageStatus = "failed"
	StageSkipped StageStatus = "skipped"
)

// PipelineStage is a project-defined stage of a custom deployment pipeline.
type PipelineStage struct {
	StageID        int64  `json:"stage_id"`
	StageProjectID int64  `json:"project_id"`
	Position       int64  `json:"position"`
	Name           string `json:"name"`
	Command        string `json:"command"`
	TimeoutSeconds int64  `json:"timeout_seconds"`
	Enabled        bool   `json:"enabled"`
}

// PipelineRun binds one deployment to the stage list that was current when
// the deployment started.
type PipelineRun struct {
	RunID           int64            `json:"run_id"`
	RunDeploymentID int64            `json:"deployment_id"`
	Status          DeploymentStatus `json:"status"`
	CreatedOn       time.Time        `json:"created_on"`
	StartedOn       *time.Time       `json:"started_on"`
	CompletedOn     *time.Time       `json:"completed_on"`
}

type PipelineRunStage struct {
	RunStageID     int64       `json:"run_stage_id"`
	RunID          int64       `json:"run_id"`
	Position       int64       `json:"position"`
	Name           string      `json:"name"`
	Command        string      `json:"command"`
	TimeoutSeconds int64       `json:"timeout_seconds"`
	Status         StageStatus `json:"status"`
	Output         *string     `json:"output"`
	StartedOn      *time.Time  `json:"started_on"`
	CompletedOn    *time.Time  `json:"completed_on"`
}

type PipelineStore interface {
	ReplaceProjectStages(context.Context, int64, []PipelineStage) error
	ListEnabledProjectStages(context.Context, int64) ([]PipelineStage, error)
	CreatePipelineRun(context.Context, int64, []PipelineStage) (*PipelineRun, []PipelineRunStage, error)
	ReadPipelineRunByDeploymentID(context.Context, int64) (*PipelineRun, error)
	ListRunStages(context.Context, int64) ([]PipelineRunStage, error)
	UpdatePipelineRunStartedOn(context.Context, int64, DeploymentStatus, *time.Time) error
	UpdatePipelineRunCompletedOn(context.Context, int64, DeploymentStatus, *time.Time) error
	UpdateRunStageStartedOn(context.Context, int64, StageStatus, *time.Time) error
	UpdateRunStageCompletedOn(context.Context, int64, StageStatus, *string, *time.Time) error
	MarkRunStagesSkipped(context.Context, int64, int64) error
}
