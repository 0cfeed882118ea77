package run

import (
	"time"

	"github.com/Phazzie/autoclick/pkg/schema"
)

// Stats aggregates per-step outcomes over a whole run.
type Stats struct {
	Succeeded int           `json:"succeeded"`
	Failed    int           `json:"failed"`
	Skipped   int           `json:"skipped"`
	Recovered int           `json:"recovered"`
	Duration  time.Duration `json:"duration"`
}

// Total returns the number of top-level steps that reached any outcome.
func (s Stats) Total() int {
	return s.Succeeded + s.Failed + s.Skipped + s.Recovered
}

// Report is the final account of a run: terminal status, the result of
// the last executed step, tallies and the full step history.
type Report struct {
	RunID    string              `json:"run_id"`
	Workflow string              `json:"workflow,omitempty"`
	Status   schema.RunStatus    `json:"status"`
	Result   *Result             `json:"result,omitempty"`
	Error    *schema.ErrorRecord `json:"error,omitempty"`
	Stats    Stats               `json:"stats"`
	History  []HistoryEntry      `json:"history,omitempty"`
}

// BuildReport assembles a report from a finished (or suspended) run
// context. Result and Error describe the last decisive step, if any.
func BuildReport(rctx *Context, result *Result) *Report {
	rep := &Report{
		RunID:    rctx.ID,
		Workflow: rctx.WorkflowName,
		Status:   rctx.Status(),
		Result:   result,
		History:  rctx.History(),
	}
	if result != nil && result.Error != nil {
		rep.Error = result.Error
	}
	rep.Stats.Duration = rctx.Elapsed()
	for _, h := range rep.History {
		switch h.Status {
		case schema.StepStatusCompleted:
			rep.Stats.Succeeded++
		case schema.StepStatusFailed:
			rep.Stats.Failed++
		case schema.StepStatusSkipped:
			rep.Stats.Skipped++
		case schema.StepStatusRecovered:
			rep.Stats.Recovered++
		}
	}
	return rep
}
