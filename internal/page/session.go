// Package page defines the browser automation boundary. The engine and
// all actions talk to a Session; wiring a concrete driver behind it is
// a deployment concern, not an engine one.
package page

import (
	"context"
	"errors"
	"fmt"
)

// Sentinel failures drivers should wrap, so errors classify cleanly.
var (
	ErrElementNotFound = errors.New("element not found")
	ErrNavigation      = errors.New("navigation failed")
	ErrScript          = errors.New("script execution failed")
)

// Session is a live page the workflow drives. Implementations must be
// safe for sequential use from a single run; they are not required to
// tolerate concurrent calls.
type Session interface {
	// Navigate loads a URL and waits for the page to settle.
	Navigate(ctx context.Context, url string) error
	// Click activates the first element matching the selector.
	Click(ctx context.Context, selector string) error
	// Input replaces the value of the first matching element.
	Input(ctx context.Context, selector, text string) error
	// Text returns the visible text of the first matching element.
	Text(ctx context.Context, selector string) (string, error)
	// Exists reports whether any element matches the selector.
	Exists(ctx context.Context, selector string) (bool, error)
	// Count returns how many elements match the selector.
	Count(ctx context.Context, selector string) (int, error)
	// Eval runs a script in the page and returns its JSON-safe result.
	Eval(ctx context.Context, script string) (any, error)
	// URL returns the current location.
	URL(ctx context.Context) (string, error)
	// Close releases the page.
	Close(ctx context.Context) error
}

// Factory opens fresh sessions, one per run (or per parallel data row).
type Factory interface {
	NewSession(ctx context.Context) (Session, error)
}

// FactoryFunc adapts a function to the Factory interface.
type FactoryFunc func(ctx context.Context) (Session, error)

func (f FactoryFunc) NewSession(ctx context.Context) (Session, error) {
	return f(ctx)
}

// NotFoundError builds a classifiable miss for a selector.
func NotFoundError(selector string) error {
	return fmt.Errorf("%w: no node matches %q", ErrElementNotFound, selector)
}
