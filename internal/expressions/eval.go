package expressions

import (
	"context"
	"regexp"
	"strconv"
	"strings"
	"sync"

	"github.com/Phazzie/autoclick/internal/variables"
	"github.com/Phazzie/autoclick/pkg/schema"
)

// Resolver supplies variable values to the evaluator. *variables.Store
// satisfies it directly.
type Resolver interface {
	Lookup(name string) (variables.Value, bool)
}

// MapResolver adapts a plain map to the Resolver interface.
type MapResolver map[string]any

func (m MapResolver) Lookup(name string) (variables.Value, bool) {
	raw, ok := m[name]
	if !ok {
		return variables.Value{}, false
	}
	return variables.New(raw), true
}

// Evaluator walks parsed expression trees. Parsed trees are cached per
// source string, so repeated evaluation of the same expression only
// parses once. Safe for concurrent use.
type Evaluator struct {
	mu    sync.RWMutex
	cache map[string]Node

	regexMu    sync.RWMutex
	regexCache map[string]*regexp.Regexp
}

// NewEvaluator creates an evaluator with empty caches.
func NewEvaluator() *Evaluator {
	return &Evaluator{
		cache:      make(map[string]Node),
		regexCache: make(map[string]*regexp.Regexp),
	}
}

// EvalString parses (or retrieves from cache) and evaluates an expression.
func (ev *Evaluator) EvalString(ctx context.Context, expression string, r Resolver) (variables.Value, error) {
	node, err := ev.getOrParse(expression)
	if err != nil {
		return variables.Value{}, err
	}
	return ev.Eval(ctx, node, r)
}

// EvalBool evaluates an expression and requires a boolean result.
func (ev *Evaluator) EvalBool(ctx context.Context, expression string, r Resolver) (bool, error) {
	v, err := ev.EvalString(ctx, expression, r)
	if err != nil {
		return false, err
	}
	b, err := v.AsBool()
	if err != nil {
		return false, typeErrorf("expression %q did not produce a boolean: %s", expression, err)
	}
	return b, nil
}

// getOrParse returns a cached tree or parses and caches a new one.
func (ev *Evaluator) getOrParse(expression string) (Node, error) {
	ev.mu.RLock()
	if node, ok := ev.cache[expression]; ok {
		ev.mu.RUnlock()
		return node, nil
	}
	ev.mu.RUnlock()

	ev.mu.Lock()
	defer ev.mu.Unlock()

	// Double-check after acquiring write lock.
	if node, ok := ev.cache[expression]; ok {
		return node, nil
	}

	node, err := Parse(expression)
	if err != nil {
		return nil, err
	}
	ev.cache[expression] = node
	return node, nil
}

func (ev *Evaluator) getOrCompileRegex(pattern string) (*regexp.Regexp, error) {
	ev.regexMu.RLock()
	if re, ok := ev.regexCache[pattern]; ok {
		ev.regexMu.RUnlock()
		return re, nil
	}
	ev.regexMu.RUnlock()

	ev.regexMu.Lock()
	defer ev.regexMu.Unlock()

	if re, ok := ev.regexCache[pattern]; ok {
		return re, nil
	}
	re, err := regexp.Compile(pattern)
	if err != nil {
		return nil, evalErrorf("invalid regex pattern %q: %s", pattern, err)
	}
	ev.regexCache[pattern] = re
	return re, nil
}

// Eval evaluates a parsed tree against a resolver.
func (ev *Evaluator) Eval(ctx context.Context, node Node, r Resolver) (variables.Value, error) {
	switch n := node.(type) {
	case numberLit:
		return variables.New(n.val), nil
	case stringLit:
		return variables.New(n.val), nil
	case boolLit:
		return variables.New(n.val), nil
	case varRef:
		return resolveVar(n, r)
	case unaryExpr:
		return ev.evalUnary(ctx, n, r)
	case binaryExpr:
		return ev.evalBinary(ctx, n, r)
	case ternaryExpr:
		cond, err := ev.Eval(ctx, n.cond, r)
		if err != nil {
			return variables.Value{}, err
		}
		b, err := cond.AsBool()
		if err != nil {
			return variables.Value{}, typeErrorf("ternary condition must be boolean: %s", err)
		}
		if b {
			return ev.Eval(ctx, n.then, r)
		}
		return ev.Eval(ctx, n.els, r)
	case callExpr:
		return ev.evalCall(ctx, n, r)
	default:
		return variables.Value{}, evalErrorf("unsupported expression node %s", node.kindName())
	}
}

func resolveVar(ref varRef, r Resolver) (variables.Value, error) {
	v, ok := r.Lookup(ref.name)
	if !ok {
		return variables.Value{}, evalErrorf("variable %q is not defined", ref.name)
	}
	for _, seg := range ref.path {
		next, err := traverseSegment(v, seg, ref.name)
		if err != nil {
			return variables.Value{}, err
		}
		v = next
	}
	return v, nil
}

func traverseSegment(v variables.Value, seg, varName string) (variables.Value, error) {
	switch v.Kind() {
	case variables.KindMap:
		m, _ := v.AsMap()
		raw, ok := m[seg]
		if !ok {
			return variables.Value{}, evalErrorf("path segment %q not found in $%s", seg, varName)
		}
		return variables.New(raw), nil
	case variables.KindList:
		idx, err := strconv.Atoi(seg)
		if err != nil {
			return variables.Value{}, evalErrorf("list index %q in $%s is not a number", seg, varName)
		}
		list, _ := v.AsList()
		if idx < 0 || idx >= len(list) {
			return variables.Value{}, evalErrorf("list index %d out of range in $%s (length %d)", idx, varName, len(list))
		}
		return variables.New(list[idx]), nil
	default:
		return variables.Value{}, evalErrorf("cannot traverse %q: $%s segment is %s, not map or list", seg, varName, v.Kind())
	}
}

func (ev *Evaluator) evalUnary(ctx context.Context, n unaryExpr, r Resolver) (variables.Value, error) {
	operand, err := ev.Eval(ctx, n.operand, r)
	if err != nil {
		return variables.Value{}, err
	}
	switch n.op {
	case tokenMinus:
		f, err := operand.AsNumber()
		if err != nil {
			return variables.Value{}, typeErrorf("unary - requires a number: %s", err)
		}
		return variables.New(-f), nil
	case tokenNot:
		b, err := operand.AsBool()
		if err != nil {
			return variables.Value{}, typeErrorf("NOT requires a boolean: %s", err)
		}
		return variables.New(!b), nil
	default:
		return variables.Value{}, evalErrorf("unsupported unary operator %s", n.op)
	}
}

func (ev *Evaluator) evalBinary(ctx context.Context, n binaryExpr, r Resolver) (variables.Value, error) {
	// AND/OR short-circuit: the right side only evaluates when needed.
	if n.op == tokenAnd || n.op == tokenOr {
		left, err := ev.Eval(ctx, n.left, r)
		if err != nil {
			return variables.Value{}, err
		}
		lb, err := left.AsBool()
		if err != nil {
			return variables.Value{}, typeErrorf("%s requires boolean operands: %s", n.op, err)
		}
		if n.op == tokenAnd && !lb {
			return variables.New(false), nil
		}
		if n.op == tokenOr && lb {
			return variables.New(true), nil
		}
		right, err := ev.Eval(ctx, n.right, r)
		if err != nil {
			return variables.Value{}, err
		}
		rb, err := right.AsBool()
		if err != nil {
			return variables.Value{}, typeErrorf("%s requires boolean operands: %s", n.op, err)
		}
		return variables.New(rb), nil
	}

	left, err := ev.Eval(ctx, n.left, r)
	if err != nil {
		return variables.Value{}, err
	}
	right, err := ev.Eval(ctx, n.right, r)
	if err != nil {
		return variables.Value{}, err
	}

	switch n.op {
	case tokenPlus:
		return addValues(left, right)
	case tokenMinus, tokenStar, tokenSlash:
		return arithmetic(n.op, left, right)
	case tokenEq:
		return variables.New(variables.Equal(left, right)), nil
	case tokenNeq:
		return variables.New(!variables.Equal(left, right)), nil
	case tokenGt, tokenGte, tokenLt, tokenLte:
		return orderValues(n.op, left, right)
	default:
		return variables.Value{}, evalErrorf("unsupported operator %s", n.op)
	}
}

// addValues adds numerically when both operands coerce to numbers,
// otherwise concatenates display forms.
func addValues(left, right variables.Value) (variables.Value, error) {
	lf, lerr := left.AsNumber()
	rf, rerr := right.AsNumber()
	if lerr == nil && rerr == nil {
		return variables.New(lf + rf), nil
	}
	return variables.New(left.AsString() + right.AsString()), nil
}

func arithmetic(op tokenKind, left, right variables.Value) (variables.Value, error) {
	lf, err := left.AsNumber()
	if err != nil {
		return variables.Value{}, typeErrorf("operator %s requires numeric operands: %s", op, err)
	}
	rf, err := right.AsNumber()
	if err != nil {
		return variables.Value{}, typeErrorf("operator %s requires numeric operands: %s", op, err)
	}

	switch op {
	case tokenMinus:
		return variables.New(lf - rf), nil
	case tokenStar:
		return variables.New(lf * rf), nil
	case tokenSlash:
		if rf == 0 {
			return variables.Value{}, evalErrorf("division by zero")
		}
		return variables.New(lf / rf), nil
	}
	return variables.Value{}, evalErrorf("unsupported arithmetic operator %s", op)
}

func orderValues(op tokenKind, left, right variables.Value) (variables.Value, error) {
	if left.Kind() == variables.KindList || left.Kind() == variables.KindMap ||
		right.Kind() == variables.KindList || right.Kind() == variables.KindMap {
		return variables.Value{}, typeErrorf("operator %s cannot order %s and %s", op, left.Kind(), right.Kind())
	}

	cmp := variables.Compare(left, right)
	switch op {
	case tokenGt:
		return variables.New(cmp > 0), nil
	case tokenGte:
		return variables.New(cmp >= 0), nil
	case tokenLt:
		return variables.New(cmp < 0), nil
	case tokenLte:
		return variables.New(cmp <= 0), nil
	}
	return variables.Value{}, evalErrorf("unsupported ordering operator %s", op)
}

func (ev *Evaluator) evalCall(ctx context.Context, n callExpr, r Resolver) (variables.Value, error) {
	args := make([]variables.Value, len(n.args))
	for i, argNode := range n.args {
		v, err := ev.Eval(ctx, argNode, r)
		if err != nil {
			return variables.Value{}, err
		}
		args[i] = v
	}

	switch n.name {
	case "concat":
		var sb strings.Builder
		for _, a := range args {
			sb.WriteString(a.AsString())
		}
		return variables.New(sb.String()), nil

	case "substring":
		if len(n.args) != 2 && len(n.args) != 3 {
			return variables.Value{}, typeErrorf("substring expects 2 or 3 arguments, got %d", len(n.args))
		}
		runes := []rune(args[0].AsString())
		start, err := intArg(args[1], "substring start")
		if err != nil {
			return variables.Value{}, err
		}
		end := len(runes)
		if len(args) == 3 {
			end, err = intArg(args[2], "substring end")
			if err != nil {
				return variables.Value{}, err
			}
		}
		if start < 0 || end > len(runes) || start > end {
			return variables.Value{}, evalErrorf("substring range [%d:%d] out of bounds for length %d", start, end, len(runes))
		}
		return variables.New(string(runes[start:end])), nil

	case "matches":
		if len(n.args) != 2 {
			return variables.Value{}, typeErrorf("matches expects 2 arguments, got %d", len(n.args))
		}
		re, err := ev.getOrCompileRegex(args[1].AsString())
		if err != nil {
			return variables.Value{}, err
		}
		return variables.New(re.MatchString(args[0].AsString())), nil

	case "length":
		if len(n.args) != 1 {
			return variables.Value{}, typeErrorf("length expects 1 argument, got %d", len(n.args))
		}
		switch args[0].Kind() {
		case variables.KindString:
			return variables.New(len([]rune(args[0].AsString()))), nil
		case variables.KindList:
			l, _ := args[0].AsList()
			return variables.New(len(l)), nil
		case variables.KindMap:
			m, _ := args[0].AsMap()
			return variables.New(len(m)), nil
		default:
			return variables.Value{}, typeErrorf("length does not apply to %s", args[0].Kind())
		}

	case "contains":
		if len(n.args) != 2 {
			return variables.Value{}, typeErrorf("contains expects 2 arguments, got %d", len(n.args))
		}
		if args[0].Kind() == variables.KindList {
			list, _ := args[0].AsList()
			for _, e := range list {
				if variables.Equal(variables.New(e), args[1]) {
					return variables.New(true), nil
				}
			}
			return variables.New(false), nil
		}
		return variables.New(strings.Contains(args[0].AsString(), args[1].AsString())), nil

	case "number":
		if len(n.args) != 1 {
			return variables.Value{}, typeErrorf("number expects 1 argument, got %d", len(n.args))
		}
		f, err := args[0].AsNumber()
		if err != nil {
			return variables.Value{}, typeErrorf("number conversion failed: %s", err)
		}
		return variables.New(f), nil

	case "string":
		if len(n.args) != 1 {
			return variables.Value{}, typeErrorf("string expects 1 argument, got %d", len(n.args))
		}
		return variables.New(args[0].AsString()), nil

	case "upper":
		if len(n.args) != 1 {
			return variables.Value{}, typeErrorf("upper expects 1 argument, got %d", len(n.args))
		}
		return variables.New(strings.ToUpper(args[0].AsString())), nil

	case "lower":
		if len(n.args) != 1 {
			return variables.Value{}, typeErrorf("lower expects 1 argument, got %d", len(n.args))
		}
		return variables.New(strings.ToLower(args[0].AsString())), nil

	case "trim":
		if len(n.args) != 1 {
			return variables.Value{}, typeErrorf("trim expects 1 argument, got %d", len(n.args))
		}
		return variables.New(strings.TrimSpace(args[0].AsString())), nil

	case "replace":
		if len(n.args) != 3 {
			return variables.Value{}, typeErrorf("replace expects 3 arguments, got %d", len(n.args))
		}
		return variables.New(strings.ReplaceAll(args[0].AsString(), args[1].AsString(), args[2].AsString())), nil

	default:
		return variables.Value{}, evalErrorf("unknown function %q", n.name)
	}
}

func intArg(v variables.Value, what string) (int, error) {
	f, err := v.AsNumber()
	if err != nil {
		return 0, typeErrorf("%s must be a number: %s", what, err)
	}
	if f != float64(int(f)) {
		return 0, evalErrorf("%s must be an integer, got %v", what, f)
	}
	return int(f), nil
}

func typeErrorf(format string, args ...any) error {
	return schema.NewErrorf(schema.ErrCodeExpressionType, format, args...)
}

func evalErrorf(format string, args ...any) error {
	return schema.NewErrorf(schema.ErrCodeExpressionEval, format, args...)
}
