package actions

import (
	"context"
	"errors"

	"github.com/Phazzie/autoclick/internal/credentials"
	"github.com/Phazzie/autoclick/internal/run"
	"github.com/Phazzie/autoclick/internal/variables"
	"github.com/Phazzie/autoclick/pkg/schema"
)

// --- credential_filter ---

type credentialFilterParams struct {
	Status        string              `json:"status,omitempty"`
	Actions       []schema.ActionSpec `json:"actions"`
	UsernameVar   string              `json:"username_var,omitempty"`
	SecretVar     string              `json:"secret_var,omitempty"`
	SuccessStatus string              `json:"success_status,omitempty"`
	FailureStatus string              `json:"failure_status,omitempty"`
}

// credentialFilterAction pulls the next credential matching the status
// filter, binds it into a local frame, runs the bound actions, and
// records the outcome exactly once. No matching credential is a
// successful no-op so rotation workflows can drain the pool.
type credentialFilterAction struct {
	base
	manager credentials.Manager
	body    *sequence
	params  credentialFilterParams
}

func buildCredentialFilter(spec schema.ActionSpec, deps Deps) (Action, error) {
	var p credentialFilterParams
	if err := decodeParams(spec, &p); err != nil {
		return nil, err
	}
	if len(p.Actions) == 0 {
		return nil, schema.NewError(schema.ErrCodeValidation, "credential_filter requires inner actions").WithAction(spec.ID)
	}
	if deps.Credentials == nil {
		return nil, schema.NewError(schema.ErrCodeValidation, "credential_filter needs a credential manager").WithAction(spec.ID)
	}

	if p.Status == "" {
		p.Status = string(credentials.StatusActive)
	}
	if !credentials.ValidStatus(credentials.Status(p.Status)) {
		return nil, schema.NewErrorf(schema.ErrCodeValidation, "unknown credential status %q", p.Status).WithAction(spec.ID)
	}
	if p.UsernameVar == "" {
		p.UsernameVar = "username"
	}
	if p.SecretVar == "" {
		p.SecretVar = "password"
	}
	if p.SuccessStatus == "" {
		p.SuccessStatus = string(credentials.StatusSuccess)
	}
	if p.FailureStatus == "" {
		p.FailureStatus = string(credentials.StatusFailed)
	}
	for _, s := range []string{p.SuccessStatus, p.FailureStatus} {
		if !credentials.ValidStatus(credentials.Status(s)) {
			return nil, schema.NewErrorf(schema.ErrCodeValidation, "unknown outcome status %q", s).WithAction(spec.ID)
		}
	}

	body, err := buildSequence(p.Actions, deps)
	if err != nil {
		return nil, err
	}
	return &credentialFilterAction{base: base{spec: spec}, manager: deps.Credentials, body: body, params: p}, nil
}

func (a *credentialFilterAction) Execute(ctx context.Context, rctx *run.Context) *run.Result {
	cred, ok, err := a.nextCredential(ctx)
	if err != nil {
		return a.fail(err)
	}
	if !ok {
		return run.SucceedWith("no credential matches filter", map[string]any{
			"attempted": false,
			"status":    a.params.Status,
		})
	}

	secret, err := a.manager.Reveal(ctx, cred.ID)
	if err != nil {
		// The attempt is open; close it before surfacing the failure.
		_ = a.manager.RecordOutcome(ctx, cred.ID, credentials.Status(a.params.FailureStatus))
		return a.fail(err)
	}

	rctx.Vars.PushFrame()
	rctx.Vars.SetIn(variables.ScopeLocal, a.params.UsernameVar, cred.Username)
	rctx.Vars.SetIn(variables.ScopeLocal, a.params.SecretVar, secret)
	rctx.Vars.SetIn(variables.ScopeLocal, "credential_id", cred.ID)
	res := a.body.run(ctx, rctx)
	rctx.Vars.PopFrame()

	outcome := a.params.SuccessStatus
	if !res.Success {
		outcome = a.params.FailureStatus
	}
	if err := a.manager.RecordOutcome(ctx, cred.ID, credentials.Status(outcome)); err != nil {
		res.Success = false
		res.Error = a.record(err)
		res.Message = res.Error.Message
		return res
	}

	if res.Data == nil {
		res.Data = map[string]any{}
	}
	res.Data["attempted"] = true
	res.Data["credential_id"] = cred.ID
	res.Data["username"] = cred.Username
	res.Data["outcome"] = outcome
	return res
}

// nextCredential claims the first credential matching the filter that is
// not already mid-attempt. Claiming races lose as CONFLICT and fall
// through to the next candidate.
func (a *credentialFilterAction) nextCredential(ctx context.Context) (credentials.Credential, bool, error) {
	creds, err := a.manager.List(ctx, credentials.Status(a.params.Status))
	if err != nil {
		return credentials.Credential{}, false, err
	}
	for _, cred := range creds {
		err := a.manager.BeginAttempt(ctx, cred.ID)
		if err == nil {
			return cred, true, nil
		}
		var autoErr *schema.AutomationError
		if errors.As(err, &autoErr) && autoErr.Code == schema.ErrCodeConflict {
			continue
		}
		return credentials.Credential{}, false, err
	}
	return credentials.Credential{}, false, nil
}
