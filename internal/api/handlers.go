// Package api contains the HTTP facade over the workflow and approval
// engines.
package api

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"

	"workflow-suite/core/internal/logging"
	"workflow-suite/core/internal/reqctx"
	"workflow-suite/core/internal/services"
	"workflow-suite/core/pkg/models"
)

const serviceName = "workflow-suite"

// Pinger reports whether a backing store is reachable.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Handler contains the HTTP handlers of the REST API.
type Handler struct {
	instances services.InstanceService
	approvals services.ApprovalService
	store     Pinger
	logger    *logging.Logger
	version   string
	now       func() time.Time
}

var _ ServerInterface = (*Handler)(nil)

// NewHandler creates a new Handler with required dependencies.
func NewHandler(instances services.InstanceService, approvals services.ApprovalService, store Pinger, logger *logging.Logger, version string) *Handler {
	if logger == nil {
		logger = logging.NewLogger()
	}
	return &Handler{
		instances: instances,
		approvals: approvals,
		store:     store,
		logger:    logger,
		version:   version,
		now:       time.Now,
	}
}

// HandleHealth returns basic health status (always returns 200 OK)
func (h *Handler) HandleHealth(c echo.Context) error {
	return c.JSON(http.StatusOK, models.HealthStatus{
		Status:    "ok",
		Service:   serviceName,
		Version:   h.version,
		Timestamp: h.now(),
	})
}

// HandleReady pings the store and returns 503 when it is unreachable.
func (h *Handler) HandleReady(c echo.Context) error {
	ctx, cancel := context.WithTimeout(c.Request().Context(), 2*time.Second)
	defer cancel()

	status := models.HealthStatus{
		Status:    "ready",
		Service:   serviceName,
		Version:   h.version,
		Timestamp: h.now(),
		Checks:    map[string]string{"store": "ok"},
	}
	if err := h.store.Ping(ctx); err != nil {
		h.logger.WithContext(ctx).Warn("readiness check failed", "error", err)
		status.Status = "unavailable"
		status.Checks["store"] = err.Error()
		return c.JSON(http.StatusServiceUnavailable, status)
	}
	return c.JSON(http.StatusOK, status)
}

// statusForKind maps engine error kinds to HTTP status codes.
var statusForKind = map[services.ErrorKind]int{
	services.KindNotFound:     http.StatusNotFound,
	services.KindInvalidState: http.StatusConflict,
	services.KindForbidden:    http.StatusForbidden,
	services.KindValidation:   http.StatusBadRequest,
	services.KindUnavailable:  http.StatusServiceUnavailable,
	services.KindInternal:     http.StatusInternalServerError,
}

// ErrorHandler renders every handler error as an RFC 7807 problem.
func ErrorHandler(logger *logging.Logger) echo.HTTPErrorHandler {
	return func(err error, c echo.Context) {
		if c.Response().Committed {
			return
		}
		ctx := c.Request().Context()
		problem := models.ProblemDetails{
			Type:          "about:blank",
			Instance:      c.Request().URL.Path,
			CorrelationID: reqctx.CorrelationID(ctx),
		}

		var svcErr *services.Error
		var httpErr *echo.HTTPError
		switch {
		case errors.As(err, &svcErr):
			problem.Status = statusForKind[svcErr.Kind]
			if problem.Status == 0 {
				problem.Status = http.StatusInternalServerError
			}
			problem.Code = svcErr.Code
			problem.Detail = svcErr.Message
		case errors.As(err, &httpErr):
			problem.Status = httpErr.Code
			problem.Code = codeForStatus(httpErr.Code)
			if msg, ok := httpErr.Message.(string); ok {
				problem.Detail = msg
			}
		default:
			problem.Status = http.StatusInternalServerError
			problem.Code = services.CodeInternal
		}
		problem.Title = http.StatusText(problem.Status)

		log := logger.WithContext(ctx)
		if problem.Status >= http.StatusInternalServerError {
			log.Error("request failed", "method", c.Request().Method, "path", problem.Instance, "status", problem.Status, "error", err)
		} else {
			log.Debug("request rejected", "method", c.Request().Method, "path", problem.Instance, "status", problem.Status, "error", err)
		}

		if c.Request().Method == http.MethodHead {
			err = c.NoContent(problem.Status)
		} else {
			c.Response().Header().Set(echo.HeaderContentType, "application/problem+json")
			err = c.JSON(problem.Status, problem)
		}
		if err != nil {
			log.Error("failed to write error response", "error", err)
		}
	}
}

func codeForStatus(status int) string {
	switch status {
	case http.StatusBadRequest:
		return services.CodeValidation
	case http.StatusNotFound:
		return services.CodeNotFound
	case http.StatusUnauthorized:
		return "UNAUTHORIZED"
	case http.StatusMethodNotAllowed:
		return "METHOD_NOT_ALLOWED"
	case http.StatusServiceUnavailable:
		return services.CodeUnavailable
	default:
		if status >= http.StatusInternalServerError {
			return services.CodeInternal
		}
		return ""
	}
}

// actor returns the authenticated user of the request.
func actor(c echo.Context) string {
	return reqctx.UserID(c.Request().Context())
}
