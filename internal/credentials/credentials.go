// Package credentials manages rotating credential sets for login flows.
// Secrets are sealed with AES-256-GCM at rest and revealed in-memory only.
package credentials

import (
	"context"
	"time"
)

// Status tracks where a credential sits in its rotation lifecycle.
type Status string

const (
	// StatusActive marks a credential as available for attempts.
	StatusActive Status = "active"
	// StatusSuccess marks a credential that completed a login flow.
	StatusSuccess Status = "success"
	// StatusFailed marks a credential whose last attempt failed.
	StatusFailed Status = "failed"
	// StatusInactive marks a credential excluded from rotation.
	StatusInactive Status = "inactive"
)

// ValidStatus reports whether s is one of the four lifecycle statuses.
func ValidStatus(s Status) bool {
	switch s {
	case StatusActive, StatusSuccess, StatusFailed, StatusInactive:
		return true
	}
	return false
}

// Credential is one username/secret pair tracked across runs.
// Secret holds sealed bytes when the manager has a sealer configured.
type Credential struct {
	ID           string            `json:"id"`
	Username     string            `json:"username"`
	Secret       []byte            `json:"-"`
	Status       Status            `json:"status"`
	AttemptCount int               `json:"attempt_count"`
	LastAttempt  time.Time         `json:"last_attempt,omitzero"`
	Metadata     map[string]string `json:"metadata,omitempty"`
}

// Manager stores credentials and enforces the one-update-per-attempt rule:
// between BeginAttempt and RecordOutcome a credential accepts exactly one
// status change, and RecordOutcome on a credential with no open attempt
// is a CONFLICT.
type Manager interface {
	// Add registers a credential. Empty status defaults to active.
	Add(ctx context.Context, cred Credential) error
	// Get returns a credential by ID with its secret still sealed.
	Get(ctx context.Context, id string) (Credential, error)
	// List returns credentials matching status. Empty status means all.
	// Order is insertion order.
	List(ctx context.Context, status Status) ([]Credential, error)
	// BeginAttempt marks a credential as in-flight and bumps its attempt
	// counter. A second BeginAttempt before RecordOutcome is a CONFLICT.
	BeginAttempt(ctx context.Context, id string) error
	// RecordOutcome closes the open attempt with a final status.
	RecordOutcome(ctx context.Context, id string, outcome Status) error
	// Reveal unseals and returns the plaintext secret.
	Reveal(ctx context.Context, id string) (string, error)
}

// Sealer encrypts credential secrets at rest.
type Sealer interface {
	Seal(plaintext []byte) ([]byte, error)
	Unseal(sealed []byte) ([]byte, error)
}

// PlainSealer is the no-op sealer used when no key material is configured.
type PlainSealer struct{}

func (PlainSealer) Seal(plaintext []byte) ([]byte, error) { return plaintext, nil }

func (PlainSealer) Unseal(sealed []byte) ([]byte, error) { return sealed, nil }

var _ Sealer = PlainSealer{}
