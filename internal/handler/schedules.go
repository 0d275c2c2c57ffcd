package handler

import (
	"net/http"

	"github.com/haatos/devflow/internal/service"
	"github.com/labstack/echo/v4"
)

func SetupScheduleRoutes(g *echo.Group, scheduleService service.ScheduleServicer) {
	h := NewScheduleHandler(scheduleService)
	g.POST("/projects/:project_id/schedules", h.PostSchedule)
	g.GET("/projects/:project_id/schedules", h.GetSchedules)
	g.GET("/projects/:project_id/schedules/:scheduled_deployment_id", h.GetSchedule)
	g.DELETE("/projects/:project_id/schedules/:scheduled_deployment_id", h.DeleteSchedule)
}

type ScheduleHandler struct {
	scheduleService service.ScheduleServicer
}

func NewScheduleHandler(scheduleService service.ScheduleServicer) *ScheduleHandler {
	return &ScheduleHandler{scheduleService: scheduleService}
}

func (h *ScheduleHandler) PostSchedule(c echo.Context) error {
	var params ScheduleParams
	if err := c.Bind(&params); err != nil {
		return newError(err, http.StatusBadRequest, "invalid request body")
	}
	if err := c.Validate(&params); err != nil {
		return err
	}

	schedule, err := h.scheduleService.CreateSchedule(
		c.Request().Context(),
		params.ProjectID, params.Branch,
		params.Date, params.Time, params.Timezone,
		params.Note, params.NotifyMinutes,
	)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusCreated, schedule)
}

func (h *ScheduleHandler) GetSchedules(c echo.Context) error {
	var params ScheduleParams
	if err := (&echo.DefaultBinder{}).BindPathParams(c, &params); err != nil {
		return newError(err, http.StatusBadRequest, "invalid project id")
	}

	schedules, err := h.scheduleService.ListProjectSchedules(
		c.Request().Context(), params.ProjectID)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, schedules)
}

func (h *ScheduleHandler) GetSchedule(c echo.Context) error {
	var params CancelScheduleParams
	if err := (&echo.DefaultBinder{}).BindPathParams(c, &params); err != nil {
		return newError(err, http.StatusBadRequest, "invalid schedule id")
	}

	schedule, err := h.scheduleService.GetScheduleByID(
		c.Request().Context(), params.ScheduledDeploymentID)
	if err != nil {
		return err
	}
	if schedule.ScheduledProjectID != params.ProjectID {
		return service.NotFoundError{Message: "scheduled deployment not found"}
	}
	return c.JSON(http.StatusOK, schedule)
}

// DeleteSchedule cancels a pending scheduled deployment. Cancelling a
// schedule that already ran or was cancelled is a no-op; the current row is
// returned either way.
func (h *ScheduleHandler) DeleteSchedule(c echo.Context) error {
	var params CancelScheduleParams
	if err := (&echo.DefaultBinder{}).BindPathParams(c, &params); err != nil {
		return newError(err, http.StatusBadRequest, "invalid schedule id")
	}

	schedule, err := h.scheduleService.GetScheduleByID(
		c.Request().Context(), params.ScheduledDeploymentID)
	if err != nil {
		return err
	}
	if schedule.ScheduledProjectID != params.ProjectID {
		return service.NotFoundError{Message: "scheduled deployment not found"}
	}

	schedule, err = h.scheduleService.CancelSchedule(
		c.Request().Context(), params.ScheduledDeploymentID)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, schedule)
}
