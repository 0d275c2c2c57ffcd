package handler

import (
	"net/http"

	"github.com/haatos/devflow/internal/service"
	"github.com/labstack/echo/v4"
)

func SetupServerRoutes(g *echo.Group, serverService service.ServerServicer) {
	h := NewServerHandler(serverService)
	g.POST("/servers", h.PostServer)
	g.GET("/servers", h.GetServers)
	g.GET("/servers/:server_id", h.GetServer)
	g.POST("/servers/:server_id/test", h.PostTestServerConnection)
}

type ServerHandler struct {
	serverService service.ServerServicer
}

func NewServerHandler(serverService service.ServerServicer) *ServerHandler {
	return &ServerHandler{serverService: serverService}
}

func (h *ServerHandler) PostServer(c echo.Context) error {
	var params ServerParams
	if err := c.Bind(&params); err != nil {
		return newError(err, http.StatusBadRequest, "invalid request body")
	}
	if err := c.Validate(&params); err != nil {
		return err
	}

	server, err := h.serverService.CreateServer(
		c.Request().Context(),
		params.Name, params.Hostname, params.Username,
		params.SSHPrivateKey, params.Workspace,
	)
	if err != nil {
		if isUniqueConstraintError(err) {
			return service.ValidationError{
				Message: "a server with that name already exists",
			}
		}
		return err
	}
	return c.JSON(http.StatusCreated, server)
}

func (h *ServerHandler) GetServers(c echo.Context) error {
	servers, err := h.serverService.ListServers(c.Request().Context())
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, servers)
}

func (h *ServerHandler) GetServer(c echo.Context) error {
	var params ServerParams
	if err := (&echo.DefaultBinder{}).BindPathParams(c, &params); err != nil {
		return newError(err, http.StatusBadRequest, "invalid server id")
	}

	server, err := h.serverService.GetServerByID(c.Request().Context(), params.ServerID)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, server)
}

func (h *ServerHandler) PostTestServerConnection(c echo.Context) error {
	var params ServerParams
	if err := (&echo.DefaultBinder{}).BindPathParams(c, &params); err != nil {
		return newError(err, http.StatusBadRequest, "invalid server id")
	}

	if err := h.serverService.TestServerConnection(
		c.Request().Context(), params.ServerID,
	); err != nil {
		return err
	}
	return c.JSON(http.StatusOK, map[string]string{"status": "ok"})
}
