// Package mcp exposes the workflow engine to MCP clients: tools to run,
// inspect, pause, resume and schedule workflows over a stdio transport.
package mcp

import (
	"context"
	"log/slog"
	"os"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
	"github.com/Phazzie/autoclick/internal/engine"
	"github.com/Phazzie/autoclick/internal/scheduler"
	"github.com/Phazzie/autoclick/internal/store"
	"github.com/Phazzie/autoclick/internal/streaming"
	"github.com/Phazzie/autoclick/internal/validation"
	"github.com/Phazzie/autoclick/pkg/schema"
)

// AutoclickServerDeps holds the dependencies for creating an AutoclickServer.
// Scheduler is optional; without it autoclick.schedule reports that
// scheduling is not configured.
type AutoclickServerDeps struct {
	Engine    engine.Engine
	Store     store.Store
	Validator validation.Validator
	Scheduler *scheduler.Scheduler
	Hub       streaming.EventHub
	Logger    *slog.Logger
}

// AutoclickServer wraps an MCP server with workflow tool handlers.
type AutoclickServer struct {
	engine    engine.Engine
	store     store.Store
	validator validation.Validator
	scheduler *scheduler.Scheduler
	hub       streaming.EventHub
	sessions  *SessionRegistry
	notifier  *MCPNotifier
	logger    *slog.Logger
	mcpServer *server.MCPServer
}

// NewAutoclickServer creates a new AutoclickServer with all 7 tools registered.
func NewAutoclickServer(deps AutoclickServerDeps) *AutoclickServer {
	logger := deps.Logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo}))
	}

	s := &AutoclickServer{
		engine:    deps.Engine,
		store:     deps.Store,
		validator: deps.Validator,
		scheduler: deps.Scheduler,
		hub:       deps.Hub,
		sessions:  NewSessionRegistry(),
		logger:    logger,
	}

	mcpSrv := server.NewMCPServer(
		"autoclick",
		"1.0.0",
		server.WithToolCapabilities(false),
		server.WithRecovery(),
		server.WithInstructions("Autoclick executes browser automation workflows. Use autoclick.run to execute a workflow document, autoclick.status to check run progress, autoclick.pause and autoclick.resume to suspend and continue runs, autoclick.cancel to stop a run, autoclick.query to list runs/events/jobs, and autoclick.schedule to register cron-scheduled workflows."),
	)

	mcpSrv.AddTools(s.tools()...)
	s.mcpServer = mcpSrv
	s.notifier = NewMCPNotifier(mcpSrv, s.sessions)
	return s
}

// Serve starts the stdio transport and blocks until ctx is cancelled or
// stdin closes. While serving, run lifecycle events are pushed to the
// session that launched each run.
func (s *AutoclickServer) Serve(ctx context.Context) error {
	if s.hub != nil {
		cancel, err := streaming.Listen(ctx, s.hub, streaming.EventFilter{
			EventTypes: []string{
				schema.EventRunPaused,
				schema.EventRunResumed,
				schema.EventRunCompleted,
				schema.EventRunFailed,
				schema.EventRunCancelled,
			},
		}, s.pushRunEvent)
		if err != nil {
			return err
		}
		defer cancel()
	}

	stdio := server.NewStdioServer(s.mcpServer)
	return stdio.Listen(ctx, os.Stdin, os.Stdout)
}

// pushRunEvent forwards one run lifecycle event to the launching session.
func (s *AutoclickServer) pushRunEvent(ev streaming.StreamEvent) {
	payload := map[string]any{
		"run_id":     ev.RunID,
		"workflow":   ev.Workflow,
		"event_type": ev.EventType,
		"at":         ev.At,
	}
	if err := s.notifier.Notify(context.Background(), ev.RunID, payload); err != nil {
		s.logger.Warn("run notification failed",
			slog.String("run_id", ev.RunID),
			slog.String("error", err.Error()),
		)
	}
	switch ev.EventType {
	case schema.EventRunCompleted, schema.EventRunFailed, schema.EventRunCancelled:
		s.sessions.Forget(ev.RunID)
	}
}

// MCPServer returns the underlying MCPServer for testing or custom transports.
func (s *AutoclickServer) MCPServer() *server.MCPServer {
	return s.mcpServer
}

// tools returns the 7 registered MCP tools as ServerTool entries.
func (s *AutoclickServer) tools() []server.ServerTool {
	return []server.ServerTool{
		{Tool: runTool(), Handler: s.handleRun},
		{Tool: statusTool(), Handler: s.handleStatus},
		{Tool: pauseTool(), Handler: s.handlePause},
		{Tool: resumeTool(), Handler: s.handleResume},
		{Tool: cancelTool(), Handler: s.handleCancel},
		{Tool: queryTool(), Handler: s.handleQuery},
		{Tool: scheduleTool(), Handler: s.handleSchedule},
	}
}

// --- Tool definitions ---

func runTool() mcp.Tool {
	return mcp.NewTool("autoclick.run",
		mcp.WithDescription("Execute a workflow document and wait for its outcome"),
		mcp.WithObject("workflow", mcp.Required(), mcp.Description("Workflow document (name, variables, steps)")),
		mcp.WithObject("params", mcp.Description("Initial variable values, overriding workflow defaults")),
	)
}

func statusTool() mcp.Tool {
	return mcp.NewTool("autoclick.status",
		mcp.WithDescription("Get the current state of a run"),
		mcp.WithString("run_id", mcp.Required(), mcp.Description("ID of the run to query")),
	)
}

func pauseTool() mcp.Tool {
	return mcp.NewTool("autoclick.pause",
		mcp.WithDescription("Pause a running workflow at the next step boundary"),
		mcp.WithString("run_id", mcp.Required(), mcp.Description("ID of the run to pause")),
	)
}

func resumeTool() mcp.Tool {
	return mcp.NewTool("autoclick.resume",
		mcp.WithDescription("Resume a paused run. In-flight runs wake in place; parked runs re-execute from their last checkpoint"),
		mcp.WithString("run_id", mcp.Required(), mcp.Description("ID of the run to resume")),
	)
}

func cancelTool() mcp.Tool {
	return mcp.NewTool("autoclick.cancel",
		mcp.WithDescription("Cancel a run; remaining steps are marked skipped"),
		mcp.WithString("run_id", mcp.Required(), mcp.Description("ID of the run to cancel")),
	)
}

func queryTool() mcp.Tool {
	return mcp.NewTool("autoclick.query",
		mcp.WithDescription("Query runs, events, or scheduled jobs"),
		mcp.WithString("resource", mcp.Required(),
			mcp.Enum("runs", "events", "jobs"),
			mcp.Description("Type of resource to query"),
		),
		mcp.WithObject("filter", mcp.Description("Filter criteria (status, workflow, schedule_id, since, limit, run_id, action_id, event_type, since_seq, enabled)")),
	)
}

func scheduleTool() mcp.Tool {
	return mcp.NewTool("autoclick.schedule",
		mcp.WithDescription("Register a cron-scheduled workflow"),
		mcp.WithObject("workflow", mcp.Required(), mcp.Description("Workflow document to run on schedule")),
		mcp.WithString("cron", mcp.Required(), mcp.Description("Cron expression (5-field, e.g. \"0 6 * * *\")")),
		mcp.WithString("name", mcp.Description("Job name (default: workflow name)")),
		mcp.WithObject("params", mcp.Description("Initial variable values for each fire")),
		mcp.WithBoolean("enabled", mcp.Description("Whether the job fires (default: true)")),
	)
}
