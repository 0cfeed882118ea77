package recovery

import (
	"context"

	"github.com/Phazzie/autoclick/internal/run"
	"github.com/Phazzie/autoclick/pkg/schema"
)

// Retry reruns the failed action with backoff. MaxAttempts bounds the
// total attempt count including the original failure, so MaxAttempts=3
// allows at most two reruns.
type Retry struct {
	MaxAttempts int
	Policy      *schema.RetryPolicy
	// Kinds limits the strategy to specific failure kinds. Empty means
	// every domain failure is eligible.
	Kinds []schema.ErrorKind
	// Codes opts specific runtime error codes into retry. Runtime
	// failures are otherwise fatal.
	Codes []string
}

func (r *Retry) Name() string { return "retry" }

func (r *Retry) CanRecover(rec *schema.ErrorRecord) bool {
	return r.MaxAttempts > 1 && eligible(rec, r.Kinds, r.Codes)
}

func (r *Retry) Recover(ctx context.Context, rec *schema.ErrorRecord, rctx *run.Context, retry RetryFunc) (*run.Result, error) {
	if retry == nil {
		return nil, schema.NewError(schema.ErrCodeRecoveryFailed, "retry strategy requires a retry function")
	}
	var last *run.Result
	for attempt := 2; attempt <= r.MaxAttempts; attempt++ {
		if err := WaitForBackoff(ctx, ComputeBackoff(r.Policy, attempt-2)); err != nil {
			return nil, err
		}
		last = retry(ctx)
		if last != nil && last.Success {
			if last.Data == nil {
				last.Data = map[string]any{}
			}
			last.Data["attempts"] = attempt
			return last, nil
		}
	}
	return nil, schema.NewErrorf(schema.ErrCodeRetryExhausted,
		"action %s still failing after %d attempts", rec.ActionID, r.MaxAttempts).
		WithAction(rec.ActionID)
}

// Runner is the slice of the action contract the fallback path needs.
type Runner interface {
	Execute(ctx context.Context, rctx *run.Context) *run.Result
}

// AlternativePath executes a fallback action in place of the failed
// one. It recovers only when the fallback itself succeeds.
type AlternativePath struct {
	Fallback Runner
	Kinds    []schema.ErrorKind
	Codes    []string
}

func (a *AlternativePath) Name() string { return "alternative_path" }

func (a *AlternativePath) CanRecover(rec *schema.ErrorRecord) bool {
	return a.Fallback != nil && eligible(rec, a.Kinds, a.Codes)
}

func (a *AlternativePath) Recover(ctx context.Context, rec *schema.ErrorRecord, rctx *run.Context, _ RetryFunc) (*run.Result, error) {
	res := a.Fallback.Execute(ctx, rctx)
	if res == nil || !res.Success {
		return nil, schema.NewErrorf(schema.ErrCodeRecoveryFailed,
			"fallback for action %s did not succeed", rec.ActionID).
			WithAction(rec.ActionID)
	}
	if res.Data == nil {
		res.Data = map[string]any{}
	}
	res.Data["recovered_from"] = rec.ActionID
	return res, nil
}

// Reset rewinds the run to its most recent checkpoint. The result
// reports recovered-but-rewound: the engine resumes from the restored
// step index in Data["resume_step"].
type Reset struct {
	Kinds []schema.ErrorKind
	Codes []string
}

func (r *Reset) Name() string { return "reset" }

func (r *Reset) CanRecover(rec *schema.ErrorRecord) bool {
	return eligible(rec, r.Kinds, r.Codes)
}

func (r *Reset) Recover(ctx context.Context, rec *schema.ErrorRecord, rctx *run.Context, _ RetryFunc) (*run.Result, error) {
	if rctx == nil {
		return nil, schema.NewError(schema.ErrCodeRecoveryFailed, "reset strategy requires a run context")
	}
	cp, ok := rctx.LatestCheckpoint()
	if !ok {
		return nil, schema.NewErrorf(schema.ErrCodeRecoveryFailed,
			"no checkpoint to reset run %s to", rctx.ID)
	}
	step := rctx.RestoreCheckpoint(cp)
	return run.SucceedWith("recovered by rewinding to checkpoint", map[string]any{
		"resume_step": step,
		"rewound":     true,
	}), nil
}
