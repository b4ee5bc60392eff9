// Package tools implements the closed tool catalogue, parameter validation,
// and the retrying executor.
package tools

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"sort"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/cascadeworks/agentcore/domain"
)

// Handler executes a tool against the workspace. The returned string is the
// payload folded back into the conversation.
type Handler func(ctx context.Context, params map[string]any) (string, error)

// PostCheck re-reads affected state after a successful mutating handler and
// confirms the expected post-condition.
type PostCheck func(ctx context.Context, params map[string]any, result string) error

// Spec describes one tool. Specs are created at startup and immutable
// afterwards.
type Spec struct {
	Name        string
	Description string
	// Schema is a JSON schema for the parameter map. Parameters arrive as
	// strings (the wire format is in-band text), so schemas type them as
	// strings and handlers parse further.
	Schema json.RawMessage
	// Idempotent tools may be retried freely after ambiguous failures.
	Idempotent bool
	// Terminal tools end the turn; the engine handles them without the
	// executor.
	Terminal bool
	// Mutating tools are rejected in PLAN mode.
	Mutating bool
	// PlanOnly tools are rejected outside PLAN mode.
	PlanOnly bool
	// NonRetryable lists error kinds that stop the retry loop immediately,
	// in addition to any kind that is inherently non-retryable.
	NonRetryable []domain.ErrorKind

	Handler   Handler
	PostCheck PostCheck
}

// Registry is the process-wide tool table. Built once, then read-only.
type Registry struct {
	specs   map[string]*Spec
	schemas map[string]*jsonschema.Schema
}

// NewRegistry compiles every spec's schema and builds the table.
func NewRegistry(specs ...*Spec) (*Registry, error) {
	r := &Registry{
		specs:   make(map[string]*Spec, len(specs)),
		schemas: make(map[string]*jsonschema.Schema, len(specs)),
	}
	for _, spec := range specs {
		if spec.Name == "" {
			return nil, fmt.Errorf("tool spec without a name")
		}
		if _, dup := r.specs[spec.Name]; dup {
			return nil, fmt.Errorf("duplicate tool %q", spec.Name)
		}
		compiler := jsonschema.NewCompiler()
		url := spec.Name + ".schema.json"
		if err := compiler.AddResource(url, bytes.NewReader(spec.Schema)); err != nil {
			return nil, fmt.Errorf("add schema for %s: %w", spec.Name, err)
		}
		schema, err := compiler.Compile(url)
		if err != nil {
			return nil, fmt.Errorf("compile schema for %s: %w", spec.Name, err)
		}
		r.specs[spec.Name] = spec
		r.schemas[spec.Name] = schema
	}
	return r, nil
}

// Lookup returns the spec for name.
func (r *Registry) Lookup(name string) (*Spec, bool) {
	spec, ok := r.specs[name]
	return spec, ok
}

// Names returns the sorted tool names.
func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.specs))
	for name := range r.specs {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Validate checks that name exists and params satisfy its schema.
func (r *Registry) Validate(name string, params map[string]any) error {
	schema, ok := r.schemas[name]
	if !ok {
		return domain.Errorf(domain.UnknownTool, "unknown tool %q", name)
	}
	// Round-trip through JSON so the validator sees plain interface values.
	raw, err := json.Marshal(params)
	if err != nil {
		return domain.WrapError(domain.InvalidToolParams, err, "encode params for %s", name)
	}
	var v any
	if err := json.Unmarshal(raw, &v); err != nil {
		return domain.WrapError(domain.InvalidToolParams, err, "decode params for %s", name)
	}
	if err := schema.Validate(v); err != nil {
		return domain.WrapError(domain.InvalidToolParams, err, "invalid params for %s", name)
	}
	return nil
}

// stringSchema builds an object schema with string-typed properties.
func stringSchema(required []string, optional ...string) json.RawMessage {
	props := map[string]any{}
	for _, name := range append(append([]string{}, required...), optional...) {
		props[name] = map[string]any{"type": "string"}
	}
	schema := map[string]any{
		"type":                 "object",
		"properties":           props,
		"additionalProperties": false,
	}
	if len(required) > 0 {
		schema["required"] = required
	}
	raw, err := json.Marshal(schema)
	if err != nil {
		// Schemas are built from literals above; this cannot fail at runtime.
		panic(err)
	}
	return raw
}
