package store

import (
	"context"
	"time"
)

type ScheduleStatus string

const (
	SchedulePending   ScheduleStatus = "pending"
	ScheduleExecuted  ScheduleStatus = "executed"
	ScheduleCancelled ScheduleStatus = "cancelled"
	ScheduleFailed    ScheduleStatus = "failed"
)

// ScheduledDeployment is a future-dated deployment request. The absolute
// instant is stored in UTC; the originating timezone and local values are
// kept for display fidelity across DST changes.
type ScheduledDeployment struct {
	ScheduledDeploymentID int64          `param:"scheduled_deployment_id" json:"scheduled_deployment_id"`
	ScheduledProjectID    int64          `                                json:"project_id"`
	Branch                string         `                                json:"branch"`
	ScheduledAt           time.Time      `                                json:"scheduled_at"`
	Timezone              string         `                                json:"timezone"`
	LocalDate             string         `                                json:"local_date"`
	LocalTime             string         `                                json:"local_time"`
	Note                  *string        `                                json:"note"`
	NotifyMinutes         int64          `                                json:"notify_minutes"`
	Status                ScheduleStatus `                                json:"status"`
	FailureReason         *string        `                                json:"failure_reason"`
	ExecutedDeploymentID  *int64         `                                json:"executed_deployment_id"`
	CreatedOn             time.Time      `                                json:"created_on"`
}

type ScheduleStore interface {
	CreateScheduledDeployment(
		ctx context.Context,
		projectID int64,
		branch string,
		scheduledAt time.Time,
		timezone, localDate, localTime string,
		note *string,
		notifyMinutes int64,
	) (*ScheduledDeployment, error)
	ReadScheduledDeploymentByID(context.Context, int64) (*ScheduledDeployment, error)
	ListDueScheduledDeployments(context.Context, time.Time) ([]ScheduledDeployment, error)
	ListProjectScheduledDeployments(context.Context, int64) ([]ScheduledDeployment, error)
	UpdateScheduledDeploymentStatus(
		ctx context.Context,
		id int64,
		status ScheduleStatus,
		failureReason *string,
		executedDeploymentID *int64,
	) (bool, error)
}
