package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/joescharf/prepx/internal/events"
	"github.com/joescharf/prepx/internal/models"
	"github.com/joescharf/prepx/internal/pipeline"
	"github.com/joescharf/prepx/internal/sessions"
	"github.com/joescharf/prepx/internal/store"
)

// Server exposes plan jobs as MCP tools.
type Server struct {
	registry *sessions.Registry
	planner  *pipeline.Orchestrator
	store    store.Store
	version  string
}

// NewServer creates the MCP server wrapper with all required dependencies.
func NewServer(reg *sessions.Registry, planner *pipeline.Orchestrator, s store.Store, version string) *Server {
	if version == "" {
		version = "dev"
	}
	return &Server{registry: reg, planner: planner, store: s, version: version}
}

// MCPServer returns a configured mcp-go server with all tools registered.
func (s *Server) MCPServer() *server.MCPServer {
	srv := server.NewMCPServer("prepx", s.version, server.WithToolCapabilities(true))

	srv.AddTool(s.startPlanTool())
	srv.AddTool(s.planLogsTool())
	srv.AddTool(s.planResultTool())
	srv.AddTool(s.listDocumentsTool())

	return srv
}

// ServeStdio starts the stdio transport, blocking until ctx is cancelled.
func (s *Server) ServeStdio(ctx context.Context) error {
	stdioServer := server.NewStdioServer(s.MCPServer())
	return stdioServer.Listen(ctx, os.Stdin, os.Stdout)
}

func jsonResult(v any) (*mcp.CallToolResult, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to marshal result: %v", err)), nil
	}
	return mcp.NewToolResultText(string(data)), nil
}

// prepx_start_plan
func (s *Server) startPlanTool() (mcp.Tool, server.ToolHandlerFunc) {
	tool := mcp.NewTool("prepx_start_plan",
		mcp.WithDescription("Start building a study plan for a session whose documents are already uploaded. Returns immediately; poll prepx_plan_logs and prepx_plan_result."),
		mcp.WithString("session_id", mcp.Required(), mcp.Description("Session id the documents were uploaded under")),
		mcp.WithString("courses", mcp.Required(), mcp.Description(`JSON array of courses: [{"id":"...","code":"CS101","name":"...","examDate":"YYYY-MM-DD"}]`)),
		mcp.WithString("constraints", mcp.Description(`JSON object: {"weekdayHours":3,"weekendHours":6,"noStudyDates":[],"reviewFrequency":"weekly"}`)),
	)
	return tool, s.handleStartPlan
}

func (s *Server) handleStartPlan(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	sessionID, err := request.RequireString("session_id")
	if err != nil || strings.TrimSpace(sessionID) == "" {
		return mcp.NewToolResultError("session_id is required"), nil
	}
	coursesJSON, err := request.RequireString("courses")
	if err != nil {
		return mcp.NewToolResultError("courses is required"), nil
	}

	req := models.PlanRequest{SessionID: strings.TrimSpace(sessionID)}
	if err := json.Unmarshal([]byte(coursesJSON), &req.Courses); err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("invalid courses JSON: %v", err)), nil
	}
	if len(req.Courses) == 0 {
		return mcp.NewToolResultError("at least one course is required"), nil
	}
	for i, c := range req.Courses {
		if strings.TrimSpace(c.Code) == "" {
			return mcp.NewToolResultError(fmt.Sprintf("course %d has no code", i+1)), nil
		}
		if err := pipeline.CheckExamDate(c.ExamDate); err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("course %s: %v", c.Code, err)), nil
		}
	}
	if raw := request.GetString("constraints", ""); raw != "" {
		if err := json.Unmarshal([]byte(raw), &req.Constraints); err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("invalid constraints JSON: %v", err)), nil
		}
	}

	job, err := s.registry.Submit(req.SessionID, s.planner.Job(req))
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to start plan: %v", err)), nil
	}
	return jsonResult(map[string]any{
		"session_id": req.SessionID,
		"job_id":     job.ID,
		"courses":    len(req.Courses),
		"status":     sessions.StatusProcessing,
	})
}

// prepx_plan_logs
func (s *Server) planLogsTool() (mcp.Tool, server.ToolHandlerFunc) {
	tool := mcp.NewTool("prepx_plan_logs",
		mcp.WithDescription("Return the progress events of a session's plan, oldest first."),
		mcp.WithString("session_id", mcp.Required(), mcp.Description("Session id")),
		mcp.WithNumber("since", mcp.Description("Only return events with a sequence number above this value")),
	)
	return tool, s.handlePlanLogs
}

func (s *Server) handlePlanLogs(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	sessionID, err := request.RequireString("session_id")
	if err != nil {
		return mcp.NewToolResultError("session_id is required"), nil
	}
	since := request.GetInt("since", 0)

	out := []events.Event{}
	if sess, ok := s.registry.Get(sessionID); ok {
		for _, ev := range sess.Hub().Log() {
			if ev.Seq > since {
				out = append(out, ev)
			}
		}
	}
	return jsonResult(out)
}

// prepx_plan_result
func (s *Server) planResultTool() (mcp.Tool, server.ToolHandlerFunc) {
	tool := mcp.NewTool("prepx_plan_result",
		mcp.WithDescription("Return a session's plan result: status processing, complete with tasks, or failed with an error."),
		mcp.WithString("session_id", mcp.Required(), mcp.Description("Session id")),
	)
	return tool, s.handlePlanResult
}

func (s *Server) handlePlanResult(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	sessionID, err := request.RequireString("session_id")
	if err != nil {
		return mcp.NewToolResultError("session_id is required"), nil
	}
	sess, ok := s.registry.Get(sessionID)
	if !ok {
		return jsonResult(sessions.Result{Status: sessions.StatusProcessing})
	}
	return jsonResult(sess.Result())
}

// prepx_list_documents
func (s *Server) listDocumentsTool() (mcp.Tool, server.ToolHandlerFunc) {
	tool := mcp.NewTool("prepx_list_documents",
		mcp.WithDescription("List the documents uploaded for a session, grouped by course and type."),
		mcp.WithString("session_id", mcp.Required(), mcp.Description("Session id")),
	)
	return tool, s.handleListDocuments
}

func (s *Server) handleListDocuments(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	sessionID, err := request.RequireString("session_id")
	if err != nil {
		return mcp.NewToolResultError("session_id is required"), nil
	}
	list, err := s.store.ListSessionDocuments(ctx, sessionID)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to list documents: %v", err)), nil
	}

	type docOut struct {
		Course  string `json:"course"`
		DocType string `json:"doc_type"`
		Name    string `json:"name"`
		Size    int64  `json:"size"`
	}
	out := make([]docOut, len(list))
	for i, d := range list {
		out[i] = docOut{Course: d.Course, DocType: string(d.DocType), Name: d.Name, Size: d.Size}
	}
	return jsonResult(out)
}
