package handler

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/google/uuid"
	"github.com/haatos/devflow/internal/service"
	"github.com/haatos/devflow/internal/store"
	"github.com/labstack/echo/v4"
)

const deploymentsPageSize = 20

func SetupDeploymentRoutes(
	g *echo.Group,
	deploymentService service.DeploymentServicer,
	pipelineReader PipelineRunReader,
	queue *service.DeployQueue,
) {
	h := NewDeploymentHandler(deploymentService, pipelineReader, queue)
	g.POST("/projects/:project_id/deployments", h.PostDeployment)
	g.GET("/projects/:project_id/deployments", h.GetDeployments)
	g.GET("/projects/:project_id/deployments/:deployment_id", h.GetDeployment)
	g.POST("/projects/:project_id/deployments/:deployment_id/rollback", h.PostRollback)
	g.POST("/projects/:project_id/deployments/:deployment_id/cancel", h.PostCancelDeployment)
	g.GET("/projects/:project_id/deployments/:deployment_id/pipeline-run", h.GetPipelineRun)
	g.GET("/projects/:project_id/deployments/:deployment_id/output", h.GetDeploymentOutputSSE)
	g.GET("/projects/:project_id/deployments/:deployment_id/status", h.GetDeploymentStatusSSE)
}

// PipelineRunReader reads the recorded pipeline run of a deployment.
type PipelineRunReader interface {
	ReadPipelineRunByDeploymentID(ctx context.Context, deploymentID int64) (*store.PipelineRun, error)
	ListRunStages(ctx context.Context, runID int64) ([]store.PipelineRunStage, error)
}

type DeploymentHandler struct {
	deploymentService service.DeploymentServicer
	pipelineReader    PipelineRunReader
	queue             *service.DeployQueue
}

func NewDeploymentHandler(
	deploymentService service.DeploymentServicer,
	pipelineReader PipelineRunReader,
	queue *service.DeployQueue,
) *DeploymentHandler {
	return &DeploymentHandler{
		deploymentService: deploymentService,
		pipelineReader:    pipelineReader,
		queue:             queue,
	}
}

func (h *DeploymentHandler) PostDeployment(c echo.Context) error {
	var params DeployParams
	if err := c.Bind(&params); err != nil {
		return newError(err, http.StatusBadRequest, "invalid request body")
	}

	ctx := c.Request().Context()
	project, err := h.deploymentService.GetProjectByID(ctx, params.ProjectID)
	if err != nil {
		return err
	}

	branch := params.Branch
	if branch == "" {
		branch = project.Branch
	}

	deployment, err := h.deploymentService.CreateDeployment(
		ctx, project, branch, nil, nil, store.TriggerManual, nil)
	if err != nil {
		return err
	}
	if err := h.queue.Enqueue(deployment); err != nil {
		// release the active slot, the row would block the project forever
		if failErr := h.deploymentService.FailPending(
			ctx, deployment, err.Error(),
		); failErr != nil {
			c.Logger().Errorf("err failing unqueued deployment %d: %+v\n",
				deployment.DeploymentID, failErr)
		}
		return err
	}
	return c.JSON(http.StatusCreated, deployment)
}

func (h *DeploymentHandler) GetDeployments(c echo.Context) error {
	var params ListDeploymentsParams
	if err := c.Bind(&params); err != nil {
		return newError(err, http.StatusBadRequest, "invalid request")
	}
	if params.Page < 1 {
		params.Page = 1
	}

	deployments, total, err := h.deploymentService.ListProjectDeployments(
		c.Request().Context(), params.ProjectID,
		deploymentsPageSize, (params.Page-1)*deploymentsPageSize)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, map[string]any{
		"deployments": deployments,
		"total":       total,
		"page":        params.Page,
		"page_size":   deploymentsPageSize,
	})
}

func (h *DeploymentHandler) GetDeployment(c echo.Context) error {
	deployment, err := h.readProjectDeployment(c)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, deployment)
}

func (h *DeploymentHandler) PostRollback(c echo.Context) error {
	var params DeploymentParams
	if err := (&echo.DefaultBinder{}).BindPathParams(c, &params); err != nil {
		return newError(err, http.StatusBadRequest, "invalid deployment id")
	}

	deployment, err := h.deploymentService.Rollback(
		c.Request().Context(), params.ProjectID, params.DeploymentID)
	if err != nil {
		return err
	}
	if err := h.queue.Enqueue(deployment); err != nil {
		if failErr := h.deploymentService.FailPending(
			c.Request().Context(), deployment, err.Error(),
		); failErr != nil {
			c.Logger().Errorf("err failing unqueued deployment %d: %+v\n",
				deployment.DeploymentID, failErr)
		}
		return err
	}
	return c.JSON(http.StatusCreated, deployment)
}

func (h *DeploymentHandler) PostCancelDeployment(c echo.Context) error {
	deployment, err := h.readProjectDeployment(c)
	if err != nil {
		return err
	}
	h.queue.CancelDeployment(deployment.DeploymentID)
	return c.JSON(http.StatusOK, map[string]string{"status": "cancelling"})
}

func (h *DeploymentHandler) GetPipelineRun(c echo.Context) error {
	deployment, err := h.readProjectDeployment(c)
	if err != nil {
		return err
	}

	ctx := c.Request().Context()
	run, err := h.pipelineReader.ReadPipelineRunByDeploymentID(
		ctx, deployment.DeploymentID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return service.NotFoundError{Message: "deployment has no pipeline run"}
		}
		return err
	}
	stages, err := h.pipelineReader.ListRunStages(ctx, run.RunID)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, map[string]any{"run": run, "stages": stages})
}

// GetDeploymentOutputSSE streams output lines of a deployment as server-sent
// events while the deployment executes.
func (h *DeploymentHandler) GetDeploymentOutputSSE(c echo.Context) error {
	deployment, err := h.readProjectDeployment(c)
	if err != nil {
		return err
	}

	w := c.Response()
	w.Header().Set(echo.HeaderContentType, "text/event-stream")
	w.Header().Set(echo.HeaderCacheControl, "no-cache")
	w.Header().Set(echo.HeaderConnection, "keep-alive")

	clientUUID := uuid.NewString()
	client := h.queue.OutputSSEClients.AddClient(deployment.DeploymentID, clientUUID)
	defer h.queue.OutputSSEClients.RemoveClient(deployment.DeploymentID, clientUUID)

	for {
		select {
		case <-c.Request().Context().Done():
			return nil
		case line, ok := <-client:
			if !ok {
				return nil
			}
			event := Event{
				ID:    []byte(clientUUID),
				Event: []byte("output"),
				Data:  []byte(line),
			}
			if err := event.MarshalTo(w); err != nil {
				return err
			}
			w.Flush()
		}
	}
}

// GetDeploymentStatusSSE streams status transitions of a deployment as
// server-sent events until the deployment reaches a terminal status.
func (h *DeploymentHandler) GetDeploymentStatusSSE(c echo.Context) error {
	deployment, err := h.readProjectDeployment(c)
	if err != nil {
		return err
	}

	w := c.Response()
	w.Header().Set(echo.HeaderContentType, "text/event-stream")
	w.Header().Set(echo.HeaderCacheControl, "no-cache")
	w.Header().Set(echo.HeaderConnection, "keep-alive")

	clientUUID := uuid.NewString()
	client := h.queue.StatusSSEClients.AddClient(deployment.DeploymentID, clientUUID)
	defer h.queue.StatusSSEClients.RemoveClient(deployment.DeploymentID, clientUUID)

	for {
		select {
		case <-c.Request().Context().Done():
			return nil
		case d, ok := <-client:
			if !ok {
				return nil
			}
			data, err := json.Marshal(d)
			if err != nil {
				return err
			}
			event := Event{
				ID:    []byte(clientUUID),
				Event: []byte("status"),
				Data:  data,
			}
			if err := event.MarshalTo(w); err != nil {
				return err
			}
			w.Flush()
			if d.Status.IsTerminal() {
				return nil
			}
		}
	}
}

func (h *DeploymentHandler) readProjectDeployment(c echo.Context) (*store.Deployment, error) {
	var params DeploymentParams
	if err := (&echo.DefaultBinder{}).BindPathParams(c, &params); err != nil {
		return nil, newError(err, http.StatusBadRequest, "invalid deployment id")
	}

	deployment, err := h.deploymentService.GetDeploymentByID(
		c.Request().Context(), params.DeploymentID)
	if err != nil {
		return nil, err
	}
	if deployment.DeploymentProjectID != params.ProjectID {
		return nil, service.NotFoundError{Message: "deployment not found"}
	}
	return deployment, nil
}
