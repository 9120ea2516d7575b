package api

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"workflow-suite/core/internal/services"
	"workflow-suite/core/pkg/models"
)

// StartInstance starts a workflow instance for the calling user
// (POST /api/v1/instances)
func (h *Handler) StartInstance(c echo.Context) error {
	var req StartInstanceRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "Invalid request body")
	}

	instance, err := h.instances.Start(c.Request().Context(), services.StartInput{
		DefinitionID: req.DefinitionID,
		Name:         req.Name,
		Context:      req.Context,
		Priority:     models.Priority(req.Priority),
		DueDate:      req.DueDate,
		StartedBy:    actor(c),
	})
	if err != nil {
		return err
	}
	return c.JSON(http.StatusCreated, instance)
}

// GetInstance returns one instance
// (GET /api/v1/instances/{id})
func (h *Handler) GetInstance(c echo.Context, id string) error {
	instance, err := h.instances.Get(c.Request().Context(), id)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, instance)
}

// TransitionInstance applies an action to the current step
// (POST /api/v1/instances/{id}/transitions)
func (h *Handler) TransitionInstance(c echo.Context, id string) error {
	var req TransitionRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "Invalid request body")
	}

	instance, err := h.instances.Transition(c.Request().Context(), services.TransitionInput{
		ID:          id,
		Action:      req.Action,
		Comment:     req.Comment,
		Data:        req.Data,
		PerformedBy: actor(c),
	})
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, instance)
}

// CancelInstance stops an instance
// (POST /api/v1/instances/{id}/cancel)
func (h *Handler) CancelInstance(c echo.Context, id string) error {
	instance, err := h.instances.Cancel(c.Request().Context(), id)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, instance)
}

// GetInstanceHistory lists history entries, newest first
// (GET /api/v1/instances/{id}/history)
func (h *Handler) GetInstanceHistory(c echo.Context, id string) error {
	history, err := h.instances.History(c.Request().Context(), id)
	if err != nil {
		return err
	}
	if history == nil {
		history = []models.HistoryEntry{}
	}
	return c.JSON(http.StatusOK, history)
}
