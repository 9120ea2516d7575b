package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"workflow-suite/core/internal/reqctx"
	"workflow-suite/core/internal/services"
	"workflow-suite/core/pkg/models"
)

// Server exposes the workflow and approval engines as MCP tools. The acting
// user of every call is taken from the request context.
type Server struct {
	mcpServer *server.MCPServer
	instances services.InstanceService
	approvals services.ApprovalService
}

func NewServer(instances services.InstanceService, approvals services.ApprovalService, version string) *Server {
	s := &Server{
		mcpServer: server.NewMCPServer(
			"Workflow Suite",
			version,
			server.WithToolCapabilities(true),
		),
		instances: instances,
		approvals: approvals,
	}

	s.registerTools()
	return s
}

func (s *Server) GetMCPServer() *server.MCPServer {
	return s.mcpServer
}

func (s *Server) registerTools() {
	s.mcpServer.AddTool(
		mcp.NewTool(
			"start_instance",
			mcp.WithDescription("Start a workflow instance of an active definition"),
			mcp.WithString("definition_id", mcp.Required(), mcp.Description("The workflow definition to run")),
			mcp.WithString("name", mcp.Required(), mcp.Description("A name for the instance")),
			mcp.WithObject("context", mcp.Description("Initial instance context")),
			mcp.WithString("priority", mcp.Enum("low", "normal", "high", "urgent"), mcp.Description("Instance priority")),
			mcp.WithString("due_date", mcp.Description("RFC 3339 due date")),
		),
		s.handleStartInstance,
	)

	s.mcpServer.AddTool(
		mcp.NewTool(
			"transition_instance",
			mcp.WithDescription("Record an action on the current step and advance the instance"),
			mcp.WithString("id", mcp.Required(), mcp.Description("The instance ID")),
			mcp.WithString("action", mcp.Required(), mcp.Enum("advance", "submit", "approve", "complete"), mcp.Description("The action taken")),
			mcp.WithString("comment", mcp.Description("Free text recorded in history")),
			mcp.WithObject("data", mcp.Description("Data merged into the instance context")),
		),
		s.handleTransitionInstance,
	)

	s.mcpServer.AddTool(
		mcp.NewTool(
			"cancel_instance",
			mcp.WithDescription("Cancel a pending or running instance"),
			mcp.WithString("id", mcp.Required(), mcp.Description("The instance ID")),
		),
		s.handleCancelInstance,
	)

	s.mcpServer.AddTool(
		mcp.NewTool(
			"get_instance",
			mcp.WithDescription("Fetch a workflow instance"),
			mcp.WithString("id", mcp.Required(), mcp.Description("The instance ID")),
		),
		s.handleGetInstance,
	)

	s.mcpServer.AddTool(
		mcp.NewTool(
			"instance_history",
			mcp.WithDescription("List an instance's history, newest first"),
			mcp.WithString("id", mcp.Required(), mcp.Description("The instance ID")),
		),
		s.handleInstanceHistory,
	)

	s.mcpServer.AddTool(
		mcp.NewTool(
			"create_approval",
			mcp.WithDescription("Open an approval request"),
			mcp.WithString("title", mcp.Required(), mcp.Description("Short title")),
			mcp.WithString("type", mcp.Required(), mcp.Description("Request category")),
			mcp.WithString("description", mcp.Description("Longer description")),
			mcp.WithArray("approvers", mcp.Required(),
				mcp.Description("Approvers as objects with user_id, optional order and required"),
				mcp.Items(map[string]any{
					"type": "object",
					"properties": map[string]any{
						"user_id":  map[string]any{"type": "string"},
						"order":    map[string]any{"type": "integer"},
						"required": map[string]any{"type": "boolean"},
					},
					"required": []string{"user_id"},
				}),
			),
			mcp.WithObject("metadata", mcp.Description("Arbitrary request metadata")),
		),
		s.handleCreateApproval,
	)

	s.mcpServer.AddTool(
		mcp.NewTool(
			"decide_approval",
			mcp.WithDescription("Approve or reject a request as the calling user"),
			mcp.WithString("id", mcp.Required(), mcp.Description("The approval request ID")),
			mcp.WithString("decision", mcp.Required(), mcp.Enum("approve", "reject"), mcp.Description("The decision")),
			mcp.WithString("comment", mcp.Description("Optional comment")),
		),
		s.handleDecideApproval,
	)

	s.mcpServer.AddTool(
		mcp.NewTool(
			"cancel_approval",
			mcp.WithDescription("Withdraw a pending approval request"),
			mcp.WithString("id", mcp.Required(), mcp.Description("The approval request ID")),
		),
		s.handleCancelApproval,
	)

	s.mcpServer.AddTool(
		mcp.NewTool(
			"get_approval",
			mcp.WithDescription("Fetch an approval request with its approvers"),
			mcp.WithString("id", mcp.Required(), mcp.Description("The approval request ID")),
		),
		s.handleGetApproval,
	)

	s.mcpServer.AddTool(
		mcp.NewTool(
			"approval_decisions",
			mcp.WithDescription("List an approval request's decisions, newest first"),
			mcp.WithString("id", mcp.Required(), mcp.Description("The approval request ID")),
		),
		s.handleApprovalDecisions,
	)
}

func (s *Server) handleStartInstance(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	definitionID, err := request.RequireString("definition_id")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	name, err := request.RequireString("name")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	args := request.GetArguments()
	dueDate, err := optionalTime(args, "due_date")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	instance, err := s.instances.Start(ctx, services.StartInput{
		DefinitionID: definitionID,
		Name:         name,
		Context:      objectArg(args, "context"),
		Priority:     models.Priority(request.GetString("priority", "")),
		DueDate:      dueDate,
		StartedBy:    reqctx.UserID(ctx),
	})
	return result(instance, err, "start instance")
}

func (s *Server) handleTransitionInstance(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id, err := request.RequireString("id")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	action, err := request.RequireString("action")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	instance, err := s.instances.Transition(ctx, services.TransitionInput{
		ID:          id,
		Action:      action,
		Comment:     request.GetString("comment", ""),
		Data:        objectArg(request.GetArguments(), "data"),
		PerformedBy: reqctx.UserID(ctx),
	})
	return result(instance, err, "transition instance")
}

func (s *Server) handleCancelInstance(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id, err := request.RequireString("id")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	instance, err := s.instances.Cancel(ctx, id)
	return result(instance, err, "cancel instance")
}

func (s *Server) handleGetInstance(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id, err := request.RequireString("id")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	instance, err := s.instances.Get(ctx, id)
	return result(instance, err, "get instance")
}

func (s *Server) handleInstanceHistory(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id, err := request.RequireString("id")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	history, err := s.instances.History(ctx, id)
	if history == nil && err == nil {
		history = []models.HistoryEntry{}
	}
	return result(history, err, "list history")
}

func (s *Server) handleCreateApproval(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	title, err := request.RequireString("title")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	kind, err := request.RequireString("type")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	args := request.GetArguments()
	approvers, err := approverArgs(args["approvers"])
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	approval, err := s.approvals.Create(ctx, services.CreateApprovalInput{
		Title:       title,
		Description: request.GetString("description", ""),
		Type:        kind,
		Approvers:   approvers,
		CreatedBy:   reqctx.UserID(ctx),
		Metadata:    objectArg(args, "metadata"),
	})
	return result(approval, err, "create approval")
}

func (s *Server) handleDecideApproval(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id, err := request.RequireString("id")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	decision, err := request.RequireString("decision")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	approval, err := s.approvals.Decide(ctx, services.DecideInput{
		ID:       id,
		UserID:   reqctx.UserID(ctx),
		Decision: decision,
		Comment:  request.GetString("comment", ""),
	})
	return result(approval, err, "decide approval")
}

func (s *Server) handleCancelApproval(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id, err := request.RequireString("id")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	approval, err := s.approvals.Cancel(ctx, id)
	return result(approval, err, "cancel approval")
}

func (s *Server) handleGetApproval(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id, err := request.RequireString("id")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	approval, err := s.approvals.Get(ctx, id)
	return result(approval, err, "get approval")
}

func (s *Server) handleApprovalDecisions(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id, err := request.RequireString("id")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	decisions, err := s.approvals.Decisions(ctx, id)
	if decisions == nil && err == nil {
		decisions = []models.ApprovalDecision{}
	}
	return result(decisions, err, "list decisions")
}

// result renders v as JSON text, or err as a tool error carrying the
// engine's error code.
func result(v any, err error, op string) (*mcp.CallToolResult, error) {
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to %s: %v", op, err)), nil
	}
	jsonBytes, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	return mcp.NewToolResultText(string(jsonBytes)), nil
}

func objectArg(args map[string]any, key string) map[string]any {
	m, _ := args[key].(map[string]any)
	return m
}

func optionalTime(args map[string]any, key string) (*time.Time, error) {
	raw, _ := args[key].(string)
	if raw == "" {
		return nil, nil
	}
	t, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		return nil, fmt.Errorf("%s must be an RFC 3339 timestamp", key)
	}
	return &t, nil
}

func approverArgs(raw any) ([]services.ApproverInput, error) {
	list, ok := raw.([]any)
	if !ok {
		return nil, fmt.Errorf("approvers must be an array")
	}
	out := make([]services.ApproverInput, 0, len(list))
	for i, item := range list {
		var in services.ApproverInput
		switch v := item.(type) {
		case string:
			in.UserID = v
		case map[string]any:
			in.UserID, _ = v["user_id"].(string)
			if order, ok := v["order"].(float64); ok {
				o := int(order)
				in.Order = &o
			}
			if required, ok := v["required"].(bool); ok {
				in.Required = &required
			}
		default:
			return nil, fmt.Errorf("approvers[%d] must be an object or a user id", i)
		}
		out = append(out, in)
	}
	return out, nil
}

// MountHTTPHandlers serves the MCP server over SSE under /mcp.
func MountHTTPHandlers(mux *http.ServeMux, mcpServer *server.MCPServer) {
	sseServer := server.NewSSEServer(mcpServer,
		server.WithStaticBasePath("/mcp"),
		server.WithSSEContextFunc(func(ctx context.Context, r *http.Request) context.Context {
			// the SSE session context outlives the request that opened it
			if user := reqctx.UserID(r.Context()); user != "" {
				ctx = reqctx.WithUserID(ctx, user)
			}
			if id := reqctx.CorrelationID(r.Context()); id != "" {
				ctx = reqctx.WithCorrelationID(ctx, id)
			}
			return ctx
		}),
	)

	mux.HandleFunc("/mcp", func(w http.ResponseWriter, r *http.Request) {
		// Direct POST for tool calls
		if r.Method == http.MethodPost {
			sseServer.ServeHTTP(w, r)
			return
		}
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
	})

	// SSE endpoints
	mux.HandleFunc("/mcp/sse", sseServer.ServeHTTP)
	mux.HandleFunc("/mcp/message", sseServer.ServeHTTP)
}
