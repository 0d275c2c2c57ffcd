package handler

import (
	"errors"
	"log"
	"net/http"

	"github.com/haatos/devflow/internal/service"
	"github.com/labstack/echo/v4"
	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"
)

type errorResponse struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// ErrorHandler maps service errors onto HTTP statuses. Every typed service
// error carries a stable machine-readable code in the response body.
func ErrorHandler(err error, c echo.Context) {
	if c.Response().Committed {
		return
	}

	status := http.StatusInternalServerError
	resp := errorResponse{Code: "internal_error", Message: "something went wrong"}

	switch e := err.(type) {
	case service.DeploymentInProgressError:
		status = http.StatusConflict
		resp = errorResponse{Code: e.Code(), Message: e.Error()}
	case service.InvalidDeploymentStatusError:
		status = http.StatusConflict
		resp = errorResponse{Code: e.Code(), Message: e.Error()}
	case service.ValidationError:
		status = http.StatusBadRequest
		resp = errorResponse{Code: e.Code(), Message: e.Error()}
	case service.AutoDeployDisabledError:
		status = http.StatusForbidden
		resp = errorResponse{Code: e.Code(), Message: e.Error()}
	case service.AuthenticationError:
		status = http.StatusUnauthorized
		resp = errorResponse{Code: e.Code(), Message: e.Error()}
	case service.NotFoundError:
		status = http.StatusNotFound
		resp = errorResponse{Code: e.Code(), Message: e.Error()}
	case service.StageExecutionError:
		status = http.StatusInternalServerError
		resp = errorResponse{Code: e.Code(), Message: e.Error()}
	case service.TimeoutError:
		status = http.StatusInternalServerError
		resp = errorResponse{Code: e.Code(), Message: e.Error()}
	case *echo.HTTPError:
		status = e.Code
		if m, ok := e.Message.(string); ok {
			resp = errorResponse{Code: "http_error", Message: m}
		}
		c.Logger().Errorf(
			"handler internal error %s [%d]: %+v\n",
			c.Request().URL.Path, e.Code, e.Internal,
		)
	default:
		if errors.Is(err, service.ErrDeployQueueFull) {
			status = http.StatusServiceUnavailable
			resp = errorResponse{Code: "queue_full", Message: err.Error()}
		} else {
			c.Logger().Errorf("handler error: %+v\n", err)
		}
	}

	if err := c.JSON(status, resp); err != nil {
		log.Printf("err returning json: %+v\n", err)
	}
}

func isUniqueConstraintError(err error) bool {
	var sqErr *sqlite.Error
	if errors.As(err, &sqErr) {
		return sqErr.Code() == sqlite3.SQLITE_CONSTRAINT_UNIQUE
	}
	return false
}

func isForeignKeyConstraintError(err error) bool {
	var sqErr *sqlite.Error
	if errors.As(err, &sqErr) {
		return sqErr.Code() == sqlite3.SQLITE_CONSTRAINT_TRIGGER ||
			sqErr.Code() == sqlite3.SQLITE_CONSTRAINT_FOREIGNKEY
	}
	return false
}

func newError(err error, status int, message string) error {
	e := echo.NewHTTPError(status, message)
	if err != nil {
		e = e.WithInternal(err)
	}
	return e
}
