// Package validation checks workflow documents before they reach the
// engine: a structural pass against an embedded JSON Schema, then a
// semantic pass over the action tree.
package validation

import "github.com/Phazzie/autoclick/pkg/schema"

// Validator checks workflows for correctness before execution.
type Validator interface {
	ValidateWorkflow(wf *schema.Workflow) error
	ValidateDocument(raw []byte) (*schema.Workflow, error)
}

// Lookup reports whether a registry knows a type tag.
type Lookup interface {
	Has(typeTag string) bool
}

// Registries are the tag sets the semantic pass resolves against. A nil
// lookup skips that family of checks.
type Registries struct {
	Actions    Lookup
	Conditions Lookup
	Loops      Lookup
}
