package api

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"workflow-suite/core/internal/services"
	"workflow-suite/core/pkg/models"
)

// CreateApproval opens an approval request on behalf of the calling user
// (POST /api/v1/approvals)
func (h *Handler) CreateApproval(c echo.Context) error {
	var req CreateApprovalRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "Invalid request body")
	}

	approvers := make([]services.ApproverInput, len(req.Approvers))
	for i, a := range req.Approvers {
		approvers[i] = services.ApproverInput{UserID: a.UserID, Order: a.Order, Required: a.Required}
	}
	request, err := h.approvals.Create(c.Request().Context(), services.CreateApprovalInput{
		Title:       req.Title,
		Description: req.Description,
		Type:        req.Type,
		Approvers:   approvers,
		CreatedBy:   actor(c),
		DueDate:     req.DueDate,
		Metadata:    req.Metadata,
	})
	if err != nil {
		return err
	}
	return c.JSON(http.StatusCreated, request)
}

// GetApproval returns one request with its approvers
// (GET /api/v1/approvals/{id})
func (h *Handler) GetApproval(c echo.Context, id string) error {
	request, err := h.approvals.Get(c.Request().Context(), id)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, request)
}

// DecideApproval records the calling user's decision
// (POST /api/v1/approvals/{id}/decisions)
func (h *Handler) DecideApproval(c echo.Context, id string) error {
	var req DecisionRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "Invalid request body")
	}

	request, err := h.approvals.Decide(c.Request().Context(), services.DecideInput{
		ID:       id,
		UserID:   actor(c),
		Decision: req.Decision,
		Comment:  req.Comment,
	})
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, request)
}

// CancelApproval withdraws a pending request
// (POST /api/v1/approvals/{id}/cancel)
func (h *Handler) CancelApproval(c echo.Context, id string) error {
	request, err := h.approvals.Cancel(c.Request().Context(), id)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, request)
}

// ListApprovalDecisions lists decisions, newest first
// (GET /api/v1/approvals/{id}/decisions)
func (h *Handler) ListApprovalDecisions(c echo.Context, id string) error {
	decisions, err := h.approvals.Decisions(c.Request().Context(), id)
	if err != nil {
		return err
	}
	if decisions == nil {
		decisions = []models.ApprovalDecision{}
	}
	return c.JSON(http.StatusOK, decisions)
}
