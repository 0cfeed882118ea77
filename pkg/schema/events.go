package schema

// Event type constants for the run event log and the streaming hub.
const (
	EventRunStarted   = "run_started"
	EventRunCompleted = "run_completed"
	EventRunFailed    = "run_failed"
	EventRunCancelled = "run_cancelled"
	EventRunPaused    = "run_paused"
	EventRunResumed   = "run_resumed"
	EventRunTimedOut  = "run_timed_out"

	EventStepStarted   = "step_started"
	EventStepCompleted = "step_completed"
	EventStepFailed    = "step_failed"
	EventStepSkipped   = "step_skipped"
	EventStepRetrying  = "step_retrying"

	EventVariableSet       = "variable_set"
	EventCheckpointTaken   = "checkpoint_taken"
	EventCheckpointRestore = "checkpoint_restored"

	EventErrorDetected     = "error_detected"
	EventRecoveryAttempted = "recovery_attempted"
	EventRecoverySucceeded = "recovery_succeeded"
	EventRecoveryFailed    = "recovery_failed"

	EventCircuitBreakerOpen     = "circuit_breaker_open"
	EventCircuitBreakerHalfOpen = "circuit_breaker_half_open"
	EventCircuitBreakerClosed   = "circuit_breaker_closed"

	EventConditionEvaluated = "condition_evaluated"
	EventLoopIterStarted    = "loop_iter_started"
	EventLoopIterCompleted  = "loop_iter_completed"
	EventLoopCompleted      = "loop_completed"

	EventCredentialAttempt = "credential_attempt"
	EventScheduleTriggered = "schedule_triggered"
)

// RunStatus represents the lifecycle state of a workflow run.
type RunStatus string

const (
	RunStatusCreated   RunStatus = "created"
	RunStatusRunning   RunStatus = "running"
	RunStatusPaused    RunStatus = "paused"
	RunStatusCompleted RunStatus = "completed"
	RunStatusFailed    RunStatus = "failed"
	RunStatusCancelled RunStatus = "cancelled"
)

// StepStatus represents the outcome of a single executed action.
type StepStatus string

const (
	StepStatusPending   StepStatus = "pending"
	StepStatusRunning   StepStatus = "running"
	StepStatusCompleted StepStatus = "completed"
	StepStatusFailed    StepStatus = "failed"
	StepStatusSkipped   StepStatus = "skipped"
	StepStatusRetrying  StepStatus = "retrying"
	StepStatusRecovered StepStatus = "recovered"
)
