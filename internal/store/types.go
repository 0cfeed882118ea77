package store

import (
	"encoding/json"
	"time"

	"github.com/Phazzie/autoclick/pkg/schema"
)

// Run is the persisted record of one workflow execution.
type Run struct {
	ID           string           `json:"id"`
	WorkflowName string           `json:"workflow_name,omitempty"`
	Definition   schema.Workflow  `json:"definition"`
	Status       schema.RunStatus `json:"status"`
	Params       map[string]any   `json:"params,omitempty"`
	Result       json.RawMessage  `json:"result,omitempty"`
	Error        json.RawMessage  `json:"error,omitempty"`
	ScheduleID   string           `json:"schedule_id,omitempty"`
	CreatedAt    time.Time        `json:"created_at"`
	StartedAt    *time.Time       `json:"started_at,omitempty"`
	CompletedAt  *time.Time       `json:"completed_at,omitempty"`
	UpdatedAt    time.Time        `json:"updated_at"`
}

// Event is an immutable entry in the per-run event log. Sequence is
// monotonic within a run, starting at 1.
type Event struct {
	ID        int64           `json:"id"`
	RunID     string          `json:"run_id"`
	ActionID  string          `json:"action_id,omitempty"`
	Type      string          `json:"event_type"`
	Payload   json.RawMessage `json:"payload,omitempty"`
	Timestamp time.Time       `json:"timestamp"`
	Sequence  int64           `json:"sequence"`
}

// StepState is the materialized view of one action's latest state
// within a run. It can always be rebuilt from the event log.
type StepState struct {
	RunID       string            `json:"run_id"`
	ActionID    string            `json:"action_id"`
	Status      schema.StepStatus `json:"status"`
	Output      json.RawMessage   `json:"output,omitempty"`
	Error       json.RawMessage   `json:"error,omitempty"`
	Attempts    int               `json:"attempts"`
	StartedAt   *time.Time        `json:"started_at,omitempty"`
	CompletedAt *time.Time        `json:"completed_at,omitempty"`
	DurationMs  int64             `json:"duration_ms,omitempty"`
}

// Checkpoint is a serialized run snapshot used for pause/resume and the
// reset recovery strategy. One checkpoint per run; saving replaces it.
type Checkpoint struct {
	RunID   string          `json:"run_id"`
	Payload json.RawMessage `json:"payload"`
	TakenAt time.Time       `json:"taken_at"`
}

// ScheduledJob is a cron-triggered workflow run. The workflow document
// is embedded so jobs survive restarts without a separate registry.
type ScheduledJob struct {
	ID            string          `json:"id"`
	Name          string          `json:"name"`
	Workflow      schema.Workflow `json:"workflow"`
	CronExpr      string          `json:"cron_expression"`
	Params        map[string]any  `json:"params,omitempty"`
	Enabled       bool            `json:"enabled"`
	LastRunAt     *time.Time      `json:"last_run_at,omitempty"`
	NextRunAt     *time.Time      `json:"next_run_at,omitempty"`
	LastRunStatus string          `json:"last_run_status,omitempty"`
	CreatedAt     time.Time       `json:"created_at"`
}

// --- Filter and update types ---

// RunFilter specifies criteria for listing runs.
type RunFilter struct {
	Status       *schema.RunStatus `json:"status,omitempty"`
	WorkflowName string            `json:"workflow_name,omitempty"`
	ScheduleID   string            `json:"schedule_id,omitempty"`
	Since        *time.Time        `json:"since,omitempty"`
	Limit        int               `json:"limit,omitempty"`
	Offset       int               `json:"offset,omitempty"`
}

// RunUpdate specifies mutable fields of a run.
type RunUpdate struct {
	Status      *schema.RunStatus `json:"status,omitempty"`
	Result      json.RawMessage   `json:"result,omitempty"`
	Error       json.RawMessage   `json:"error,omitempty"`
	StartedAt   *time.Time        `json:"started_at,omitempty"`
	CompletedAt *time.Time        `json:"completed_at,omitempty"`
}

// EventFilter specifies criteria for listing events by type.
type EventFilter struct {
	RunID    string     `json:"run_id,omitempty"`
	ActionID string     `json:"action_id,omitempty"`
	Since    *time.Time `json:"since,omitempty"`
	Limit    int        `json:"limit,omitempty"`
}

// ScheduledJobUpdate specifies mutable fields of a scheduled job.
type ScheduledJobUpdate struct {
	Enabled       *bool      `json:"enabled,omitempty"`
	LastRunAt     *time.Time `json:"last_run_at,omitempty"`
	NextRunAt     *time.Time `json:"next_run_at,omitempty"`
	LastRunStatus string     `json:"last_run_status,omitempty"`
}

// ScheduledJobFilter specifies criteria for listing scheduled jobs.
type ScheduledJobFilter struct {
	Enabled *bool `json:"enabled,omitempty"`
	Limit   int   `json:"limit,omitempty"`
}
