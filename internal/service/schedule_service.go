package service

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/haatos/devflow/internal"
	"github.com/haatos/devflow/internal/store"
)

type ScheduleServicer interface {
	CreateSchedule(
		ctx context.Context,
		projectID int64,
		branch, localDate, localTime, timezone string,
		note *string,
		notifyMinutes int64,
	) (*store.ScheduledDeployment, error)
	CancelSchedule(ctx context.Context, id int64) (*store.ScheduledDeployment, error)
	GetScheduleByID(ctx context.Context, id int64) (*store.ScheduledDeployment, error)
	ListProjectSchedules(ctx context.Context, projectID int64) ([]store.ScheduledDeployment, error)
	Sweep(ctx context.Context, now time.Time) error
}

// Enqueuer hands a pending deployment to the execution queue.
type Enqueuer interface {
	Enqueue(*store.Deployment) error
}

type ScheduleService struct {
	scheduleStore     store.ScheduleStore
	deploymentService DeploymentServicer
	queue             Enqueuer

	// now is swappable in tests
	now func() time.Time
}

func NewScheduleService(
	ss store.ScheduleStore,
	ds DeploymentServicer,
	queue Enqueuer,
) *ScheduleService {
	return &ScheduleService{
		scheduleStore:     ss,
		deploymentService: ds,
		queue:             queue,
		now:               time.Now,
	}
}

// CreateSchedule validates the local wall-clock time in the given IANA
// timezone, converts it to a future UTC instant and persists it together
// with the original local fields.
func (s *ScheduleService) CreateSchedule(
	ctx context.Context,
	projectID int64,
	branch, localDate, localTime, timezone string,
	note *string,
	notifyMinutes int64,
) (*store.ScheduledDeployment, error) {
	project, err := s.deploymentService.GetProjectByID(ctx, projectID)
	if err != nil {
		return nil, err
	}
	if branch == "" {
		branch = project.Branch
	}

	loc, err := time.LoadLocation(timezone)
	if err != nil {
		return nil, ValidationError{
			Message: fmt.Sprintf("unknown timezone '%s'", timezone),
		}
	}

	local, err := time.ParseInLocation(
		internal.ScheduleDateLayout+" "+internal.ScheduleTimeLayout,
		localDate+" "+localTime,
		loc,
	)
	if err != nil {
		return nil, ValidationError{
			Message: fmt.Sprintf("invalid schedule time '%s %s'", localDate, localTime),
		}
	}

	scheduledAt := local.UTC()
	if !scheduledAt.After(s.now().UTC()) {
		return nil, ValidationError{Message: "scheduled time must be in the future"}
	}

	return s.scheduleStore.CreateScheduledDeployment(
		ctx,
		projectID,
		branch,
		scheduledAt,
		timezone,
		localDate,
		localTime,
		note,
		notifyMinutes,
	)
}

// CancelSchedule cancels a pending schedule. Cancelling a row that already
// executed, failed or was cancelled is a no-op.
func (s *ScheduleService) CancelSchedule(
	ctx context.Context,
	id int64,
) (*store.ScheduledDeployment, error) {
	if _, err := s.GetScheduleByID(ctx, id); err != nil {
		return nil, err
	}
	if _, err := s.scheduleStore.UpdateScheduledDeploymentStatus(
		ctx, id, store.ScheduleCancelled, nil, nil,
	); err != nil {
		return nil, err
	}
	return s.GetScheduleByID(ctx, id)
}

func (s *ScheduleService) GetScheduleByID(
	ctx context.Context,
	id int64,
) (*store.ScheduledDeployment, error) {
	sd, err := s.scheduleStore.ReadScheduledDeploymentByID(ctx, id)
	if err != nil {
		return nil, NotFoundError{
			Message: fmt.Sprintf("scheduled deployment %d not found", id),
		}
	}
	return sd, nil
}

func (s *ScheduleService) ListProjectSchedules(
	ctx context.Context,
	projectID int64,
) ([]store.ScheduledDeployment, error) {
	return s.scheduleStore.ListProjectScheduledDeployments(ctx, projectID)
}

// Sweep promotes every pending schedule due at or before now into a real
// deployment. A schedule that cannot be promoted is marked failed with the
// reason and is never retried.
func (s *ScheduleService) Sweep(ctx context.Context, now time.Time) error {
	due, err := s.scheduleStore.ListDueScheduledDeployments(ctx, now)
	if err != nil {
		return err
	}

	for i := range due {
		sd := &due[i]
		if err := s.promote(ctx, sd); err != nil {
			reason := err.Error()
			if _, updErr := s.scheduleStore.UpdateScheduledDeploymentStatus(
				ctx, sd.ScheduledDeploymentID, store.ScheduleFailed, &reason, nil,
			); updErr != nil {
				log.Printf("err marking schedule %d failed: %+v\n",
					sd.ScheduledDeploymentID, updErr)
			}
		}
	}
	return nil
}

func (s *ScheduleService) promote(
	ctx context.Context,
	sd *store.ScheduledDeployment,
) error {
	project, err := s.deploymentService.GetProjectByID(ctx, sd.ScheduledProjectID)
	if err != nil {
		return err
	}

	d, err := s.deploymentService.CreateDeployment(
		ctx, project, sd.Branch, nil, nil, store.TriggerScheduled, nil,
	)
	if err != nil {
		return err
	}

	ok, err := s.scheduleStore.UpdateScheduledDeploymentStatus(
		ctx, sd.ScheduledDeploymentID, store.ScheduleExecuted, nil, &d.DeploymentID,
	)
	if err != nil {
		return err
	}
	if !ok {
		// the row left pending between listing and update, nothing to run
		return nil
	}

	if err := s.queue.Enqueue(d); err != nil {
		if failErr := s.deploymentService.FailPending(
			ctx, d, err.Error(),
		); failErr != nil {
			log.Printf("err failing unqueued deployment %d: %+v\n",
				d.DeploymentID, failErr)
		}
		return err
	}
	return nil
}
