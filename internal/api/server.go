package api

import (
	"fmt"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/oapi-codegen/runtime"
)

// StartInstanceRequest defines the body of POST /instances.
type StartInstanceRequest struct {
	DefinitionID string         `json:"definition_id"`
	Name         string         `json:"name"`
	Context      map[string]any `json:"context,omitempty"`
	Priority     string         `json:"priority,omitempty"`
	DueDate      *time.Time     `json:"due_date,omitempty"`
}

// TransitionRequest defines the body of POST /instances/{id}/transitions.
type TransitionRequest struct {
	Action  string         `json:"action"`
	Comment string         `json:"comment,omitempty"`
	Data    map[string]any `json:"data,omitempty"`
}

// ApproverRequest is one entry of CreateApprovalRequest.Approvers.
type ApproverRequest struct {
	UserID   string `json:"user_id"`
	Order    *int   `json:"order,omitempty"`
	Required *bool  `json:"required,omitempty"`
}

// CreateApprovalRequest defines the body of POST /approvals.
type CreateApprovalRequest struct {
	Title       string            `json:"title"`
	Description string            `json:"description,omitempty"`
	Type        string            `json:"type"`
	Approvers   []ApproverRequest `json:"approvers"`
	DueDate     *time.Time        `json:"due_date,omitempty"`
	Metadata    map[string]any    `json:"metadata,omitempty"`
}

// DecisionRequest defines the body of POST /approvals/{id}/decisions.
type DecisionRequest struct {
	Decision string `json:"decision"`
	Comment  string `json:"comment,omitempty"`
}

// ServerInterface represents all server handlers.
type ServerInterface interface {
	// Start a workflow instance
	// (POST /instances)
	StartInstance(ctx echo.Context) error
	// Get a workflow instance
	// (GET /instances/{id})
	GetInstance(ctx echo.Context, id string) error
	// Cancel a workflow instance
	// (POST /instances/{id}/cancel)
	CancelInstance(ctx echo.Context, id string) error
	// List instance history, newest first
	// (GET /instances/{id}/history)
	GetInstanceHistory(ctx echo.Context, id string) error
	// Transition a workflow instance
	// (POST /instances/{id}/transitions)
	TransitionInstance(ctx echo.Context, id string) error
	// Create an approval request
	// (POST /approvals)
	CreateApproval(ctx echo.Context) error
	// Get an approval request
	// (GET /approvals/{id})
	GetApproval(ctx echo.Context, id string) error
	// Cancel an approval request
	// (POST /approvals/{id}/cancel)
	CancelApproval(ctx echo.Context, id string) error
	// List approval decisions, newest first
	// (GET /approvals/{id}/decisions)
	ListApprovalDecisions(ctx echo.Context, id string) error
	// Record an approval decision
	// (POST /approvals/{id}/decisions)
	DecideApproval(ctx echo.Context, id string) error
}

// ServerInterfaceWrapper converts echo contexts to parameters.
type ServerInterfaceWrapper struct {
	Handler ServerInterface
}

func bindID(ctx echo.Context) (string, error) {
	var id string
	err := runtime.BindStyledParameterWithOptions("simple", "id", ctx.Param("id"), &id,
		runtime.BindStyledParameterOptions{ParamLocation: runtime.ParamLocationPath, Explode: false, Required: true})
	if err != nil {
		return "", echo.NewHTTPError(http.StatusBadRequest, fmt.Sprintf("Invalid format for parameter id: %s", err))
	}
	return id, nil
}

// StartInstance converts echo context to params.
func (w *ServerInterfaceWrapper) StartInstance(ctx echo.Context) error {
	return w.Handler.StartInstance(ctx)
}

// GetInstance converts echo context to params.
func (w *ServerInterfaceWrapper) GetInstance(ctx echo.Context) error {
	id, err := bindID(ctx)
	if err != nil {
		return err
	}
	return w.Handler.GetInstance(ctx, id)
}

// CancelInstance converts echo context to params.
func (w *ServerInterfaceWrapper) CancelInstance(ctx echo.Context) error {
	id, err := bindID(ctx)
	if err != nil {
		return err
	}
	return w.Handler.CancelInstance(ctx, id)
}

// GetInstanceHistory converts echo context to params.
func (w *ServerInterfaceWrapper) GetInstanceHistory(ctx echo.Context) error {
	id, err := bindID(ctx)
	if err != nil {
		return err
	}
	return w.Handler.GetInstanceHistory(ctx, id)
}

// TransitionInstance converts echo context to params.
func (w *ServerInterfaceWrapper) TransitionInstance(ctx echo.Context) error {
	id, err := bindID(ctx)
	if err != nil {
		return err
	}
	return w.Handler.TransitionInstance(ctx, id)
}

// CreateApproval converts echo context to params.
func (w *ServerInterfaceWrapper) CreateApproval(ctx echo.Context) error {
	return w.Handler.CreateApproval(ctx)
}

// GetApproval converts echo context to params.
func (w *ServerInterfaceWrapper) GetApproval(ctx echo.Context) error {
	id, err := bindID(ctx)
	if err != nil {
		return err
	}
	return w.Handler.GetApproval(ctx, id)
}

// CancelApproval converts echo context to params.
func (w *ServerInterfaceWrapper) CancelApproval(ctx echo.Context) error {
	id, err := bindID(ctx)
	if err != nil {
		return err
	}
	return w.Handler.CancelApproval(ctx, id)
}

// ListApprovalDecisions converts echo context to params.
func (w *ServerInterfaceWrapper) ListApprovalDecisions(ctx echo.Context) error {
	id, err := bindID(ctx)
	if err != nil {
		return err
	}
	return w.Handler.ListApprovalDecisions(ctx, id)
}

// DecideApproval converts echo context to params.
func (w *ServerInterfaceWrapper) DecideApproval(ctx echo.Context) error {
	id, err := bindID(ctx)
	if err != nil {
		return err
	}
	return w.Handler.DecideApproval(ctx, id)
}

// EchoRouter is the subset of echo.Echo and echo.Group used to register
// handlers.
type EchoRouter interface {
	CONNECT(path string, h echo.HandlerFunc, m ...echo.MiddlewareFunc) *echo.Route
	DELETE(path string, h echo.HandlerFunc, m ...echo.MiddlewareFunc) *echo.Route
	GET(path string, h echo.HandlerFunc, m ...echo.MiddlewareFunc) *echo.Route
	HEAD(path string, h echo.HandlerFunc, m ...echo.MiddlewareFunc) *echo.Route
	OPTIONS(path string, h echo.HandlerFunc, m ...echo.MiddlewareFunc) *echo.Route
	PATCH(path string, h echo.HandlerFunc, m ...echo.MiddlewareFunc) *echo.Route
	POST(path string, h echo.HandlerFunc, m ...echo.MiddlewareFunc) *echo.Route
	PUT(path string, h echo.HandlerFunc, m ...echo.MiddlewareFunc) *echo.Route
	TRACE(path string, h echo.HandlerFunc, m ...echo.MiddlewareFunc) *echo.Route
}

// RegisterHandlers adds each server route to the EchoRouter.
func RegisterHandlers(router EchoRouter, si ServerInterface) {
	RegisterHandlersWithBaseURL(router, si, "")
}

// RegisterHandlersWithBaseURL registers handlers, prefixing every path with
// baseURL.
func RegisterHandlersWithBaseURL(router EchoRouter, si ServerInterface, baseURL string) {
	wrapper := ServerInterfaceWrapper{
		Handler: si,
	}

	router.POST(baseURL+"/instances", wrapper.StartInstance)
	router.GET(baseURL+"/instances/:id", wrapper.GetInstance)
	router.POST(baseURL+"/instances/:id/cancel", wrapper.CancelInstance)
	router.GET(baseURL+"/instances/:id/history", wrapper.GetInstanceHistory)
	router.POST(baseURL+"/instances/:id/transitions", wrapper.TransitionInstance)
	router.POST(baseURL+"/approvals", wrapper.CreateApproval)
	router.GET(baseURL+"/approvals/:id", wrapper.GetApproval)
	router.POST(baseURL+"/approvals/:id/cancel", wrapper.CancelApproval)
	router.GET(baseURL+"/approvals/:id/decisions", wrapper.ListApprovalDecisions)
	router.POST(baseURL+"/approvals/:id/decisions", wrapper.DecideApproval)
}
