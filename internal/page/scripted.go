package page

import (
	"context"
	"fmt"
	"sync"
)

// Call is one journal entry recorded by a ScriptedSession.
type Call struct {
	Op       string
	Selector string
	Value    string
}

// ScriptedSession is an in-memory Session for tests and dry runs. Text,
// existence and counts come from canned tables; every call lands in a
// journal the caller can assert on.
type ScriptedSession struct {
	mu sync.Mutex

	url      string
	texts    map[string]string
	present  map[string]bool
	counts   map[string]int
	evals    map[string]any
	failures map[string]error // op:selector -> forced error
	journal  []Call
	closed   bool
}

// NewScriptedSession creates an empty scripted page.
func NewScriptedSession() *ScriptedSession {
	return &ScriptedSession{
		texts:    make(map[string]string),
		present:  make(map[string]bool),
		counts:   make(map[string]int),
		evals:    make(map[string]any),
		failures: make(map[string]error),
	}
}

// WithText cans the text for a selector and marks it present.
func (s *ScriptedSession) WithText(selector, text string) *ScriptedSession {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.texts[selector] = text
	s.present[selector] = true
	if s.counts[selector] == 0 {
		s.counts[selector] = 1
	}
	return s
}

// WithElements cans the match count for a selector.
func (s *ScriptedSession) WithElements(selector string, count int) *ScriptedSession {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.counts[selector] = count
	s.present[selector] = count > 0
	return s
}

// WithEvalResult cans the result of a script.
func (s *ScriptedSession) WithEvalResult(script string, result any) *ScriptedSession {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.evals[script] = result
	return s
}

// FailWith forces an error for one op/selector pair, e.g. ("click", "#buy").
func (s *ScriptedSession) FailWith(op, selector string, err error) *ScriptedSession {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failures[op+":"+selector] = err
	return s
}

// Journal returns a copy of all recorded calls.
func (s *ScriptedSession) Journal() []Call {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Call, len(s.journal))
	copy(out, s.journal)
	return out
}

// Closed reports whether Close was called.
func (s *ScriptedSession) Closed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

func (s *ScriptedSession) record(op, selector, value string) error {
	s.journal = append(s.journal, Call{Op: op, Selector: selector, Value: value})
	if err, ok := s.failures[op+":"+selector]; ok {
		return err
	}
	return nil
}

func (s *ScriptedSession) Navigate(ctx context.Context, url string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.record("navigate", url, ""); err != nil {
		return err
	}
	s.url = url
	return nil
}

func (s *ScriptedSession) Click(ctx context.Context, selector string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.record("click", selector, ""); err != nil {
		return err
	}
	if !s.present[selector] {
		return NotFoundError(selector)
	}
	return nil
}

func (s *ScriptedSession) Input(ctx context.Context, selector, text string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.record("input", selector, text); err != nil {
		return err
	}
	if !s.present[selector] {
		return NotFoundError(selector)
	}
	s.texts[selector] = text
	return nil
}

func (s *ScriptedSession) Text(ctx context.Context, selector string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.record("text", selector, ""); err != nil {
		return "", err
	}
	text, ok := s.texts[selector]
	if !ok {
		return "", NotFoundError(selector)
	}
	return text, nil
}

func (s *ScriptedSession) Exists(ctx context.Context, selector string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.record("exists", selector, ""); err != nil {
		return false, err
	}
	return s.present[selector], nil
}

func (s *ScriptedSession) Count(ctx context.Context, selector string) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.record("count", selector, ""); err != nil {
		return 0, err
	}
	return s.counts[selector], nil
}

func (s *ScriptedSession) Eval(ctx context.Context, script string) (any, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.record("eval", script, ""); err != nil {
		return nil, err
	}
	result, ok := s.evals[script]
	if !ok {
		return nil, fmt.Errorf("%w: no scripted result for %q", ErrScript, script)
	}
	return result, nil
}

func (s *ScriptedSession) URL(ctx context.Context) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.url, nil
}

func (s *ScriptedSession) Close(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

var _ Session = (*ScriptedSession)(nil)
