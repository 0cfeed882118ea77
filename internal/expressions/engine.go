package expressions

import "context"

// Engine evaluates expressions against run data.
// Four implementations: template (action params, conditions), CEL
// (guards), Expr (scripted logic) and GoJQ (data transforms).
type Engine interface {
	Name() string
	Evaluate(ctx context.Context, expression string, data map[string]any) (any, error)
}
