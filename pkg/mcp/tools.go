package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
	"github.com/Phazzie/autoclick/internal/engine"
	"github.com/Phazzie/autoclick/internal/store"
	"github.com/Phazzie/autoclick/pkg/schema"
)

// handleRun validates and executes a workflow document, blocking until
// the run reaches an outcome. A run that pauses mid-flight returns a
// paused report; resume it with autoclick.resume.
func (s *AutoclickServer) handleRun(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	doc := mcp.ParseStringMap(req, "workflow", nil)
	if doc == nil {
		return mcp.NewToolResultError("workflow is required"), nil
	}
	params := mcp.ParseStringMap(req, "params", nil)

	wf, err := s.decodeWorkflow(doc)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("invalid workflow: %v", err)), nil
	}

	// Fix the run ID up front so the launching session can be notified
	// about lifecycle events while Execute blocks.
	runID := uuid.NewString()
	s.captureSession(ctx, runID)

	report, runErr := s.engine.Execute(ctx, wf,
		engine.WithRunID(runID),
		engine.WithParams(params),
	)
	if runErr != nil {
		return mcp.NewToolResultError(fmt.Sprintf("workflow execution failed: %v", runErr)), nil
	}

	return marshalResult(report)
}

// handleStatus returns the current state of a run.
func (s *AutoclickServer) handleStatus(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	runID, err := req.RequireString("run_id")
	if err != nil {
		return mcp.NewToolResultError("run_id is required"), nil
	}

	status, statusErr := s.engine.Status(ctx, runID)
	if statusErr != nil {
		return mcp.NewToolResultError(fmt.Sprintf("status query failed: %v", statusErr)), nil
	}

	return marshalResult(status)
}

// handlePause asks a running workflow to park at the next step boundary.
func (s *AutoclickServer) handlePause(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	runID, err := req.RequireString("run_id")
	if err != nil {
		return mcp.NewToolResultError("run_id is required"), nil
	}

	if pauseErr := s.engine.Pause(ctx, runID); pauseErr != nil {
		return mcp.NewToolResultError(fmt.Sprintf("pause failed: %v", pauseErr)), nil
	}

	return marshalResult(map[string]any{"ok": true, "run_id": runID})
}

// handleResume wakes a paused run. In-flight runs continue inside their
// original Execute call; parked runs are re-executed from their last
// checkpoint and the continuation's report is returned.
func (s *AutoclickServer) handleResume(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	runID, err := req.RequireString("run_id")
	if err != nil {
		return mcp.NewToolResultError("run_id is required"), nil
	}

	report, resumeErr := s.engine.Resume(ctx, runID)
	if resumeErr != nil {
		return mcp.NewToolResultError(fmt.Sprintf("resume failed: %v", resumeErr)), nil
	}
	if report == nil {
		return marshalResult(map[string]any{"ok": true, "run_id": runID, "resumed": true})
	}
	return marshalResult(report)
}

// handleCancel terminates a run.
func (s *AutoclickServer) handleCancel(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	runID, err := req.RequireString("run_id")
	if err != nil {
		return mcp.NewToolResultError("run_id is required"), nil
	}

	if cancelErr := s.engine.Cancel(ctx, runID); cancelErr != nil {
		return mcp.NewToolResultError(fmt.Sprintf("cancel failed: %v", cancelErr)), nil
	}

	return marshalResult(map[string]any{"ok": true, "run_id": runID})
}

// handleQuery lists runs, events, or scheduled jobs based on filters.
func (s *AutoclickServer) handleQuery(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	resource, err := req.RequireString("resource")
	if err != nil {
		return mcp.NewToolResultError("resource is required"), nil
	}

	filter := mcp.ParseStringMap(req, "filter", nil)

	switch resource {
	case "runs":
		return s.queryRuns(ctx, filter)
	case "events":
		return s.queryEvents(ctx, filter)
	case "jobs":
		return s.queryJobs(ctx, filter)
	default:
		return mcp.NewToolResultError(fmt.Sprintf("unknown resource type: %s", resource)), nil
	}
}

// handleSchedule registers a cron-scheduled workflow job.
func (s *AutoclickServer) handleSchedule(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	if s.scheduler == nil {
		return mcp.NewToolResultError("scheduling is not configured"), nil
	}

	doc := mcp.ParseStringMap(req, "workflow", nil)
	if doc == nil {
		return mcp.NewToolResultError("workflow is required"), nil
	}
	cronExpr, err := req.RequireString("cron")
	if err != nil {
		return mcp.NewToolResultError("cron is required"), nil
	}

	wf, err := s.decodeWorkflow(doc)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("invalid workflow: %v", err)), nil
	}

	job := &store.ScheduledJob{
		Name:     req.GetString("name", ""),
		Workflow: *wf,
		CronExpr: cronExpr,
		Params:   mcp.ParseStringMap(req, "params", nil),
		Enabled:  req.GetBool("enabled", true),
	}
	if addErr := s.scheduler.Add(ctx, job); addErr != nil {
		return mcp.NewToolResultError(fmt.Sprintf("schedule failed: %v", addErr)), nil
	}

	return marshalResult(map[string]any{
		"id":          job.ID,
		"name":        job.Name,
		"cron":        job.CronExpr,
		"next_run_at": job.NextRunAt,
	})
}

// --- Query helpers ---

func (s *AutoclickServer) queryRuns(ctx context.Context, filter map[string]any) (*mcp.CallToolResult, error) {
	rf := store.RunFilter{
		Limit:  extractInt(filter, "limit", 50),
		Offset: extractInt(filter, "offset", 0),
	}
	if status, ok := filter["status"].(string); ok && status != "" {
		rs := schema.RunStatus(status)
		rf.Status = &rs
	}
	if name, ok := filter["workflow"].(string); ok {
		rf.WorkflowName = name
	}
	if scheduleID, ok := filter["schedule_id"].(string); ok {
		rf.ScheduleID = scheduleID
	}
	if since, ok := filter["since"].(string); ok && since != "" {
		if t, err := time.Parse(time.RFC3339, since); err == nil {
			rf.Since = &t
		}
	}

	runs, err := s.store.ListRuns(ctx, rf)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("query failed: %v", err)), nil
	}
	return marshalResult(map[string]any{"runs": runs})
}

func (s *AutoclickServer) queryEvents(ctx context.Context, filter map[string]any) (*mcp.CallToolResult, error) {
	ef := store.EventFilter{
		Limit: extractInt(filter, "limit", 100),
	}
	runID, _ := filter["run_id"].(string)
	ef.RunID = runID
	if actionID, ok := filter["action_id"].(string); ok {
		ef.ActionID = actionID
	}
	eventType, _ := filter["event_type"].(string)
	if since, ok := filter["since"].(string); ok && since != "" {
		if t, err := time.Parse(time.RFC3339, since); err == nil {
			ef.Since = &t
		}
	}

	if eventType != "" {
		events, err := s.store.GetEventsByType(ctx, eventType, ef)
		if err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("query failed: %v", err)), nil
		}
		return marshalResult(map[string]any{"events": events})
	}

	// No event type filter; GetEvents walks one run's log in sequence order.
	if runID == "" {
		return mcp.NewToolResultError("event query requires either 'event_type' or 'run_id' in filter"), nil
	}
	sinceSeq := int64(extractInt(filter, "since_seq", 0))
	events, err := s.store.GetEvents(ctx, runID, sinceSeq)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("query failed: %v", err)), nil
	}
	return marshalResult(map[string]any{"events": events})
}

func (s *AutoclickServer) queryJobs(ctx context.Context, filter map[string]any) (*mcp.CallToolResult, error) {
	jf := store.ScheduledJobFilter{
		Limit: extractInt(filter, "limit", 50),
	}
	if enabled, ok := filter["enabled"].(bool); ok {
		jf.Enabled = &enabled
	}

	jobs, err := s.store.ListScheduledJobs(ctx, jf)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("query failed: %v", err)), nil
	}
	return marshalResult(map[string]any{"jobs": jobs})
}

// --- Internal helpers ---

// decodeWorkflow turns a tool argument object into a validated workflow.
func (s *AutoclickServer) decodeWorkflow(doc map[string]any) (*schema.Workflow, error) {
	raw, err := json.Marshal(doc)
	if err != nil {
		return nil, err
	}
	if s.validator != nil {
		return s.validator.ValidateDocument(raw)
	}
	var wf schema.Workflow
	if err := json.Unmarshal(raw, &wf); err != nil {
		return nil, err
	}
	return &wf, nil
}

// captureSession maps the run ID to the calling MCP session for
// lifecycle notifications.
func (s *AutoclickServer) captureSession(ctx context.Context, runID string) {
	if session := server.ClientSessionFromContext(ctx); session != nil {
		s.sessions.Register(runID, session.SessionID())
	}
}

// extractInt safely extracts an integer from a filter map.
func extractInt(filter map[string]any, key string, defaultVal int) int {
	if filter == nil {
		return defaultVal
	}
	v, ok := filter[key]
	if !ok {
		return defaultVal
	}
	switch val := v.(type) {
	case float64:
		return int(val)
	case int:
		return val
	case string:
		if n, err := strconv.Atoi(val); err == nil {
			return n
		}
	}
	return defaultVal
}

// marshalResult converts a value to a JSON text tool result.
func marshalResult(v any) (*mcp.CallToolResult, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to marshal result: %v", err)), nil
	}
	return mcp.NewToolResultJSON(json.RawMessage(data))
}
