package expressions

import (
	"context"
	"encoding/json"
	"strings"

	"github.com/Phazzie/autoclick/internal/variables"
	"github.com/Phazzie/autoclick/pkg/schema"
)

// Interpolator resolves template references inside strings and action
// params. Two forms are recognized:
//
//	${expr}   full expression, evaluated with the template grammar
//	$name     bare variable reference, dotted paths allowed
//
// $$ produces a literal dollar sign. A $ not followed by a name or {
// passes through unchanged.
type Interpolator struct {
	ev *Evaluator
}

// NewInterpolator creates an Interpolator backed by the given evaluator.
func NewInterpolator(ev *Evaluator) *Interpolator {
	return &Interpolator{ev: ev}
}

// Evaluator exposes the underlying expression evaluator.
func (interp *Interpolator) Evaluator() *Evaluator {
	return interp.ev
}

// Interpolate resolves a template string. When the whole input is a
// single ${...} placeholder the typed value is returned; otherwise all
// placeholders are stringified and spliced into the surrounding text.
func (interp *Interpolator) Interpolate(ctx context.Context, input string, r Resolver) (variables.Value, error) {
	if expr, ok := wholePlaceholder(input); ok {
		return interp.ev.EvalString(ctx, expr, r)
	}
	s, err := interp.InterpolateString(ctx, input, r)
	if err != nil {
		return variables.Value{}, err
	}
	return variables.New(s), nil
}

// InterpolateString resolves a template string to its display form.
func (interp *Interpolator) InterpolateString(ctx context.Context, input string, r Resolver) (string, error) {
	var result strings.Builder
	result.Grow(len(input))

	i := 0
	for i < len(input) {
		idx := strings.IndexByte(input[i:], '$')
		if idx == -1 {
			result.WriteString(input[i:])
			break
		}
		result.WriteString(input[i : i+idx])
		i += idx

		// i points at '$'.
		if i+1 >= len(input) {
			result.WriteByte('$')
			break
		}

		switch {
		case input[i+1] == '$':
			result.WriteByte('$')
			i += 2

		case input[i+1] == '{':
			expr, end, err := scanPlaceholder(input, i)
			if err != nil {
				return "", err
			}
			v, err := interp.ev.EvalString(ctx, expr, r)
			if err != nil {
				return "", err
			}
			result.WriteString(v.AsString())
			i = end

		case isIdentStart(rune(input[i+1])):
			name, end := scanVarName(input, i+1)
			v, err := resolveVar(splitVarPath(name), r)
			if err != nil {
				return "", err
			}
			result.WriteString(v.AsString())
			i = end

		default:
			result.WriteByte('$')
			i++
		}
	}

	return result.String(), nil
}

// ResolveParams interpolates every string inside a raw JSON params blob.
// A string that is exactly one ${...} placeholder is replaced by the
// typed value, so "${$count + 1}" can produce a JSON number.
func (interp *Interpolator) ResolveParams(ctx context.Context, raw json.RawMessage, r Resolver) (json.RawMessage, error) {
	if len(raw) == 0 || !HasTemplate(string(raw)) {
		return raw, nil
	}

	var decoded any
	if err := json.Unmarshal(raw, &decoded); err != nil {
		return nil, schema.NewErrorf(schema.ErrCodeValidation, "params are not valid JSON: %s", err).WithCause(err)
	}

	resolved, err := interp.resolveNode(ctx, decoded, r)
	if err != nil {
		return nil, err
	}

	out, err := json.Marshal(resolved)
	if err != nil {
		return nil, schema.NewErrorf(schema.ErrCodeExecution, "re-encode interpolated params: %s", err).WithCause(err)
	}
	return out, nil
}

func (interp *Interpolator) resolveNode(ctx context.Context, node any, r Resolver) (any, error) {
	switch v := node.(type) {
	case string:
		if !HasTemplate(v) {
			return v, nil
		}
		val, err := interp.Interpolate(ctx, v, r)
		if err != nil {
			return nil, err
		}
		return val.Raw(), nil
	case map[string]any:
		out := make(map[string]any, len(v))
		for k, e := range v {
			resolved, err := interp.resolveNode(ctx, e, r)
			if err != nil {
				return nil, err
			}
			out[k] = resolved
		}
		return out, nil
	case []any:
		out := make([]any, len(v))
		for i, e := range v {
			resolved, err := interp.resolveNode(ctx, e, r)
			if err != nil {
				return nil, err
			}
			out[i] = resolved
		}
		return out, nil
	default:
		return node, nil
	}
}

// HasTemplate reports whether a string contains any template reference.
func HasTemplate(s string) bool {
	for i := 0; i+1 < len(s); i++ {
		if s[i] != '$' {
			continue
		}
		if s[i+1] == '{' || isIdentStart(rune(s[i+1])) {
			return true
		}
		if s[i+1] == '$' {
			i++ // skip the escape
		}
	}
	return false
}

// wholePlaceholder reports whether the input is exactly one ${...}
// placeholder and returns the inner expression.
func wholePlaceholder(input string) (string, bool) {
	if !strings.HasPrefix(input, "${") {
		return "", false
	}
	expr, end, err := scanPlaceholder(input, 0)
	if err != nil || end != len(input) {
		return "", false
	}
	return expr, true
}

// scanPlaceholder scans a ${...} placeholder starting at the '$'.
// The closing brace is found quote-aware, so string literals inside the
// expression may contain braces. Returns the inner expression and the
// index just past the closing brace.
func scanPlaceholder(input string, start int) (string, int, error) {
	i := start + 2 // skip "${"
	exprStart := i
	var quote byte

	for i < len(input) {
		c := input[i]
		if quote != 0 {
			if c == '\\' && i+1 < len(input) {
				i += 2
				continue
			}
			if c == quote {
				quote = 0
			}
			i++
			continue
		}
		switch c {
		case '\'', '"':
			quote = c
			i++
		case '}':
			expr := strings.TrimSpace(input[exprStart:i])
			if expr == "" {
				return "", 0, syntaxErrorf(start, "empty ${} placeholder")
			}
			if strings.Contains(expr, "${") {
				return "", 0, syntaxErrorf(start, "nested ${ inside placeholder is not allowed")
			}
			return expr, i + 1, nil
		default:
			i++
		}
	}
	return "", 0, syntaxErrorf(start, "unclosed ${ placeholder")
}

// scanVarName scans an identifier with optional dotted path, starting
// at its first character. Returns the name and the index just past it.
func scanVarName(input string, start int) (string, int) {
	i := start
	for i < len(input) && (isIdentChar(input[i]) || input[i] == '.') {
		i++
	}
	name := input[start:i]
	// A trailing dot belongs to the surrounding text, not the path.
	for strings.HasSuffix(name, ".") {
		name = name[:len(name)-1]
		i--
	}
	return name, i
}

func splitVarPath(name string) varRef {
	parts := strings.Split(name, ".")
	return varRef{name: parts[0], path: parts[1:]}
}

// TemplateEngine exposes the template grammar through the Engine
// interface, next to the cel, expr and jq engines.
type TemplateEngine struct {
	ev *Evaluator
}

// NewTemplateEngine creates a template Engine sharing the given evaluator.
func NewTemplateEngine(ev *Evaluator) *TemplateEngine {
	return &TemplateEngine{ev: ev}
}

// Name returns the engine identifier.
func (e *TemplateEngine) Name() string {
	return "template"
}

// Evaluate parses and evaluates a template-grammar expression against
// the data map.
func (e *TemplateEngine) Evaluate(ctx context.Context, expression string, data map[string]any) (any, error) {
	v, err := e.ev.EvalString(ctx, expression, MapResolver(data))
	if err != nil {
		return nil, err
	}
	return v.Raw(), nil
}

var _ Engine = (*TemplateEngine)(nil)
