package handler

import (
	"net/http"

	"github.com/haatos/devflow/internal/service"
	"github.com/haatos/devflow/internal/store"
	"github.com/labstack/echo/v4"
)

func SetupProjectRoutes(
	g *echo.Group,
	projectService service.ProjectServicer,
	webhookService service.WebhookServicer,
) {
	h := NewProjectHandler(projectService, webhookService)
	g.POST("/projects", h.PostProject)
	g.GET("/projects", h.GetProjects)
	g.GET("/projects/:project_id", h.GetProject)
	g.POST("/projects/:project_id/webhook", h.PostProjectWebhook)
	g.PUT("/projects/:project_id/pipeline", h.PutProjectPipeline)
	g.GET("/projects/:project_id/pipeline", h.GetProjectPipeline)
	g.GET("/projects/:project_id/deliveries", h.GetProjectDeliveries)
}

type ProjectHandler struct {
	projectService service.ProjectServicer
	webhookService service.WebhookServicer
}

func NewProjectHandler(
	projectService service.ProjectServicer,
	webhookService service.WebhookServicer,
) *ProjectHandler {
	return &ProjectHandler{
		projectService: projectService,
		webhookService: webhookService,
	}
}

func (h *ProjectHandler) PostProject(c echo.Context) error {
	var params ProjectParams
	if err := c.Bind(&params); err != nil {
		return newError(err, http.StatusBadRequest, "invalid request body")
	}
	if err := c.Validate(&params); err != nil {
		return err
	}

	project, err := h.projectService.CreateProject(
		c.Request().Context(),
		params.ServerID, params.Slug, params.RepositoryURL,
		params.Branch, params.Environment,
	)
	if err != nil {
		if isUniqueConstraintError(err) {
			return service.ValidationError{
				Message: "a project with that slug already exists",
			}
		}
		if isForeignKeyConstraintError(err) {
			return service.NotFoundError{Message: "server not found"}
		}
		return err
	}
	return c.JSON(http.StatusCreated, project)
}

func (h *ProjectHandler) GetProjects(c echo.Context) error {
	projects, err := h.projectService.ListProjects(c.Request().Context())
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, projects)
}

func (h *ProjectHandler) GetProject(c echo.Context) error {
	var params ProjectParams
	if err := (&echo.DefaultBinder{}).BindPathParams(c, &params); err != nil {
		return newError(err, http.StatusBadRequest, "invalid project id")
	}

	project, err := h.projectService.GetProjectByID(
		c.Request().Context(), params.ProjectID)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, project)
}

// PostProjectWebhook enables webhook triggers for a project and returns the
// generated path token. The token is only shown in this response.
func (h *ProjectHandler) PostProjectWebhook(c echo.Context) error {
	var params WebhookConfigParams
	if err := c.Bind(&params); err != nil {
		return newError(err, http.StatusBadRequest, "invalid request body")
	}
	if err := c.Validate(&params); err != nil {
		return err
	}

	token, err := h.projectService.ConfigureWebhook(
		c.Request().Context(),
		params.ProjectID,
		store.WebhookProvider(params.Provider),
		params.Secret,
		params.AutoDeploy,
	)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, map[string]string{"webhook_token": token})
}

func (h *ProjectHandler) PutProjectPipeline(c echo.Context) error {
	var params PipelineConfigParams
	if err := c.Bind(&params); err != nil {
		return newError(err, http.StatusBadRequest, "invalid request body")
	}
	if err := c.Validate(&params); err != nil {
		return err
	}

	stages, err := h.projectService.UpdatePipeline(
		c.Request().Context(), params.ProjectID, []byte(params.Pipeline))
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, stages)
}

func (h *ProjectHandler) GetProjectPipeline(c echo.Context) error {
	var params PipelineConfigParams
	if err := (&echo.DefaultBinder{}).BindPathParams(c, &params); err != nil {
		return newError(err, http.StatusBadRequest, "invalid project id")
	}

	stages, err := h.projectService.GetPipelineStages(
		c.Request().Context(), params.ProjectID)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, stages)
}

func (h *ProjectHandler) GetProjectDeliveries(c echo.Context) error {
	var params ProjectParams
	if err := (&echo.DefaultBinder{}).BindPathParams(c, &params); err != nil {
		return newError(err, http.StatusBadRequest, "invalid project id")
	}

	deliveries, err := h.webhookService.ListProjectDeliveries(
		c.Request().Context(), params.ProjectID)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, deliveries)
}
