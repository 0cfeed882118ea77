package credentials

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/Phazzie/autoclick/pkg/schema"
)

// MemoryManager is an in-memory Manager. Safe for concurrent use.
type MemoryManager struct {
	mu       sync.RWMutex
	sealer   Sealer
	byID     map[string]*Credential
	order    []string
	inFlight map[string]bool
	now      func() time.Time
}

// NewMemoryManager creates a manager sealing secrets with sealer.
// A nil sealer stores secrets as-is.
func NewMemoryManager(sealer Sealer) *MemoryManager {
	if sealer == nil {
		sealer = PlainSealer{}
	}
	return &MemoryManager{
		sealer:   sealer,
		byID:     make(map[string]*Credential),
		inFlight: make(map[string]bool),
		now:      time.Now,
	}
}

func (m *MemoryManager) Add(_ context.Context, cred Credential) error {
	if cred.Username == "" {
		return schema.NewError(schema.ErrCodeValidation, "credential username is required")
	}
	if cred.ID == "" {
		cred.ID = uuid.NewString()
	}
	if cred.Status == "" {
		cred.Status = StatusActive
	}
	if !ValidStatus(cred.Status) {
		return schema.NewErrorf(schema.ErrCodeValidation, "invalid credential status %q", cred.Status)
	}
	sealed, err := m.sealer.Seal(cred.Secret)
	if err != nil {
		return err
	}
	cred.Secret = sealed

	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.byID[cred.ID]; exists {
		return schema.NewErrorf(schema.ErrCodeConflict, "credential %q already exists", cred.ID)
	}
	cp := copyCredential(&cred)
	m.byID[cred.ID] = cp
	m.order = append(m.order, cred.ID)
	return nil
}

func (m *MemoryManager) Get(_ context.Context, id string) (Credential, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	cred, ok := m.byID[id]
	if !ok {
		return Credential{}, schema.NewErrorf(schema.ErrCodeNotFound, "credential %q not found", id)
	}
	return *copyCredential(cred), nil
}

func (m *MemoryManager) List(_ context.Context, status Status) ([]Credential, error) {
	if status != "" && !ValidStatus(status) {
		return nil, schema.NewErrorf(schema.ErrCodeValidation, "invalid credential status %q", status)
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]Credential, 0, len(m.order))
	for _, id := range m.order {
		cred := m.byID[id]
		if status != "" && cred.Status != status {
			continue
		}
		out = append(out, *copyCredential(cred))
	}
	return out, nil
}

func (m *MemoryManager) BeginAttempt(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cred, ok := m.byID[id]
	if !ok {
		return schema.NewErrorf(schema.ErrCodeNotFound, "credential %q not found", id)
	}
	if m.inFlight[id] {
		return schema.NewErrorf(schema.ErrCodeConflict, "credential %q already has an open attempt", id)
	}
	m.inFlight[id] = true
	cred.AttemptCount++
	cred.LastAttempt = m.now()
	return nil
}

func (m *MemoryManager) RecordOutcome(_ context.Context, id string, outcome Status) error {
	if !ValidStatus(outcome) {
		return schema.NewErrorf(schema.ErrCodeValidation, "invalid outcome status %q", outcome)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	cred, ok := m.byID[id]
	if !ok {
		return schema.NewErrorf(schema.ErrCodeNotFound, "credential %q not found", id)
	}
	if !m.inFlight[id] {
		return schema.NewErrorf(schema.ErrCodeConflict, "credential %q has no open attempt", id)
	}
	delete(m.inFlight, id)
	cred.Status = outcome
	return nil
}

func (m *MemoryManager) Reveal(_ context.Context, id string) (string, error) {
	m.mu.RLock()
	cred, ok := m.byID[id]
	var sealed []byte
	if ok {
		sealed = make([]byte, len(cred.Secret))
		copy(sealed, cred.Secret)
	}
	m.mu.RUnlock()
	if !ok {
		return "", schema.NewErrorf(schema.ErrCodeNotFound, "credential %q not found", id)
	}
	plaintext, err := m.sealer.Unseal(sealed)
	if err != nil {
		return "", err
	}
	return string(plaintext), nil
}

func copyCredential(c *Credential) *Credential {
	cp := *c
	cp.Secret = make([]byte, len(c.Secret))
	copy(cp.Secret, c.Secret)
	if c.Metadata != nil {
		cp.Metadata = make(map[string]string, len(c.Metadata))
		for k, v := range c.Metadata {
			cp.Metadata[k] = v
		}
	}
	return &cp
}

var _ Manager = (*MemoryManager)(nil)
