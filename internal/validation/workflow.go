package validation

import "github.com/Phazzie/autoclick/pkg/schema"

// WorkflowValidator runs the two-stage validation pipeline:
// 1. structural (JSON Schema)
// 2. semantic (type tags, unique IDs, nested action trees)
type WorkflowValidator struct {
	jsonSchema *JSONSchemaValidator
	regs       Registries
}

// NewWorkflowValidator compiles the document schema and binds the tag
// registries. Zero-value Registries skip tag existence checks.
func NewWorkflowValidator(regs Registries) (*WorkflowValidator, error) {
	jsv, err := NewJSONSchemaValidator()
	if err != nil {
		return nil, err
	}
	return &WorkflowValidator{jsonSchema: jsv, regs: regs}, nil
}

// Validate runs both stages and returns the aggregated result. Structural
// errors short-circuit: the semantic pass assumes a well-formed document.
func (wv *WorkflowValidator) Validate(wf *schema.Workflow) *schema.ValidationResult {
	if wf == nil {
		r := &schema.ValidationResult{}
		r.AddError("/", schema.ErrCodeValidation, "workflow is nil")
		return r
	}

	result := validateStructural(wv.jsonSchema, wf)
	if !result.Valid() {
		return result
	}

	result.Merge(validateSemantic(wf, wv.regs))
	return result
}

// ValidateWorkflow satisfies the Validator interface.
func (wv *WorkflowValidator) ValidateWorkflow(wf *schema.Workflow) error {
	return wv.Validate(wf).ToError()
}

// ValidateDocument validates raw workflow JSON through both stages and
// decodes it on success.
func (wv *WorkflowValidator) ValidateDocument(raw []byte) (*schema.Workflow, error) {
	wf, err := wv.jsonSchema.ValidateDocument(raw)
	if err != nil {
		return nil, err
	}
	if err := validateSemantic(wf, wv.regs).ToError(); err != nil {
		return nil, err
	}
	return wf, nil
}

// validateStructural adapts the schema validator's error output into a
// ValidationResult, one entry per violation.
func validateStructural(v *JSONSchemaValidator, wf *schema.Workflow) *schema.ValidationResult {
	result := &schema.ValidationResult{}

	err := v.ValidateWorkflow(wf)
	if err == nil {
		return result
	}

	autoErr, ok := err.(*schema.AutomationError)
	if !ok {
		result.AddError("/", schema.ErrCodeValidation, err.Error())
		return result
	}

	if autoErr.Details != nil {
		if violations, ok := autoErr.Details["violations"].([]string); ok {
			for _, v := range violations {
				result.AddError("/", schema.ErrCodeValidation, v)
			}
			return result
		}
	}
	result.AddError("/", schema.ErrCodeValidation, autoErr.Message)
	return result
}
