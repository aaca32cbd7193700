// Package validate defines the minimal "standard schema" capability the
// core client depends on, plus a concrete adapter backed by
// github.com/google/jsonschema-go, one pluggable implementation among
// several a caller could supply.
package validate

import (
	"context"
	"fmt"

	"github.com/cexll/schemafetch-go/pkg/errs"
	"github.com/google/jsonschema-go/jsonschema"
)

// Schema is the minimal capability a validator must offer: a (possibly
// asynchronous) validate call that returns either a coerced value or a
// list of issues.
type Schema interface {
	Validate(ctx context.Context, input any) (value any, issues []errs.Issue, err error)
}

// Run invokes schema.Validate and converts a non-empty issue list into
// *errs.ValidationError, keeping the error-first contract at every call
// site that validates input.
func Run(ctx context.Context, schema Schema, input any) (any, error) {
	if schema == nil {
		return input, nil
	}
	value, issues, err := schema.Validate(ctx, input)
	if err != nil {
		return nil, fmt.Errorf("error validating: %w", err)
	}
	if len(issues) > 0 {
		return nil, errs.NewValidationError(issues)
	}
	return value, nil
}

// JSONSchemaAdapter adapts a compiled github.com/google/jsonschema-go
// schema to the Schema interface.
type JSONSchemaAdapter struct {
	resolved *jsonschema.Resolved
}

// NewJSONSchemaAdapter resolves raw (a JSON Schema document) once at
// construction time so repeated Validate calls don't re-parse it.
func NewJSONSchemaAdapter(raw *jsonschema.Schema) (*JSONSchemaAdapter, error) {
	resolved, err := raw.Resolve(nil)
	if err != nil {
		return nil, fmt.Errorf("error resolving json schema: %w", err)
	}
	return &JSONSchemaAdapter{resolved: resolved}, nil
}

// Validate implements Schema.
func (a *JSONSchemaAdapter) Validate(_ context.Context, input any) (any, []errs.Issue, error) {
	if err := a.resolved.Validate(input); err != nil {
		return nil, []errs.Issue{{Message: err.Error()}}, nil
	}
	return input, nil, nil
}

// Func adapts a plain function to Schema, for tests and simple inline
// schemas that don't need the full jsonschema-go machinery.
type Func func(ctx context.Context, input any) (any, []errs.Issue, error)

// Validate implements Schema.
func (f Func) Validate(ctx context.Context, input any) (any, []errs.Issue, error) {
	return f(ctx, input)
}
