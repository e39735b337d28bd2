// Package tools implements the tool registry (C1): validated tool
// definitions, the host-side dispatch map, per-parameter JSON Schema
// compilation and validation, and the per-tool wrapper snippet injected
// into the child after handshake.
package tools

import (
	"fmt"
	"log/slog"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v6"

	"github.com/nextlevelbuilder/securer/internal/ident"
	"github.com/nextlevelbuilder/securer/internal/runtime"
	"github.com/nextlevelbuilder/securer/internal/secerr"
)

// jsonSchemaTypeByTag maps a declared parameter type tag to the JSON
// Schema "type" it compiles to, per spec.md §3. It mirrors package
// runtime's child-side (R) predicate map one-for-one, so a tag means the
// same thing on both sides of the wire. A tag absent from this map (the
// empty "undeclared/unknown" tag, or anything not in the closed set)
// carries no type constraint.
var jsonSchemaTypeByTag = map[string]string{
	"numeric":    "number",
	"integer":    "integer",
	"character":  "string",
	"logical":    "boolean",
	"list":       "array",
	"data.frame": "object",
}

// Func is a tool's host-side implementation: it receives the declared
// named arguments and returns a JSON-serializable value or fails.
type Func func(args map[string]any) (any, error)

// Tool is an immutable tool definition, per spec.md §3.
type Tool struct {
	Name        string
	Description string
	Fn          Func
	// Params is nil for the legacy "arbitrary arguments" form, non-nil
	// but possibly empty for "this many declared parameters" (an empty,
	// non-nil slice means zero arguments, any extra rejected).
	Params []Param
}

// Param is one declared formal parameter: name plus an optional type tag
// drawn from the closed set in spec.md §3 ("" means undeclared/unknown).
type Param struct {
	Name    string
	TypeTag string
}

// DefineTool validates name and every parameter name against the
// identifier grammar and returns an immutable Tool record.
func DefineTool(name, description string, fn Func, params []Param) (Tool, error) {
	if !ident.Valid(name) {
		return Tool{}, secerr.New(secerr.InvalidIdentifier, "tool name is not a valid identifier: "+name)
	}
	for _, p := range params {
		if !ident.Valid(p.Name) {
			return Tool{}, secerr.New(secerr.InvalidIdentifier, "parameter name is not a valid identifier: "+p.Name)
		}
	}
	return Tool{Name: name, Description: description, Fn: fn, Params: params}, nil
}

// entry is the resolved, host-side-only dispatch record: a callable plus
// its expected parameter names. expectedParams == nil means "legacy
// arbitrary arguments"; a non-nil, possibly empty slice means "exactly
// these names, nothing else". schema is the compiled JSON Schema
// validating declared-parameter types, or nil when no parameter carries a
// recognized type tag.
type entry struct {
	fn             Func
	expectedParams []string
	schema         *jsonschema.Schema
}

// Registry is the host-side dispatch map resolved by ValidateSet. It is
// read-only after construction; Registry itself is not safe to mutate
// concurrently, matching the supervisor's single-execution-at-a-time
// contract (spec.md §4.8's "Concurrency safety").
type Registry struct {
	mu      sync.RWMutex
	entries map[string]entry
	order   []Tool
}

// Get resolves a tool name to its dispatch entry, including its compiled
// parameter schema (nil if the tool declared no typed parameters).
func (r *Registry) Get(name string) (fn Func, expectedParams []string, schema *jsonschema.Schema, hasMetadata bool, ok bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, found := r.entries[name]
	if !found {
		return nil, nil, nil, false, false
	}
	return e.fn, e.expectedParams, e.schema, e.expectedParams != nil, true
}

// Empty reports whether the registry holds no tools — start_session (C8.a
// step 10) skips wrapper injection entirely in that case.
func (r *Registry) Empty() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.entries) == 0
}

// Tools returns the tools in registration order, for wrapper generation.
func (r *Registry) Tools() []Tool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Tool, len(r.order))
	copy(out, r.order)
	return out
}

// ValidateSet resolves either a []Tool or a legacy map[string]Func into a
// Registry, detecting duplicate names and emitting a once-per-registration
// deprecation warning for the legacy form, per spec.md §4.4.
func ValidateSet(tools any) (*Registry, error) {
	switch v := tools.(type) {
	case []Tool:
		return validateToolSlice(v)
	case map[string]Func:
		slog.Warn("tools: legacy name->callable map is deprecated; use []Tool with DefineTool instead")
		return validateLegacyMap(v)
	default:
		return nil, secerr.New(secerr.InvalidIdentifier, "ValidateSet requires []tools.Tool or map[string]tools.Func")
	}
}

func validateToolSlice(ts []Tool) (*Registry, error) {
	reg := &Registry{entries: make(map[string]entry, len(ts))}
	for _, t := range ts {
		if !ident.Valid(t.Name) {
			return nil, secerr.New(secerr.InvalidIdentifier, "tool name is not a valid identifier: "+t.Name)
		}
		if _, dup := reg.entries[t.Name]; dup {
			return nil, secerr.New(secerr.DuplicateTool, "duplicate tool name: "+t.Name)
		}
		var expected []string
		if t.Params != nil {
			expected = make([]string, len(t.Params))
			for i, p := range t.Params {
				expected[i] = p.Name
			}
		}
		schema, schemaErr := compileParamSchema(t.Name, t.Params)
		if schemaErr != nil {
			return nil, schemaErr
		}
		reg.entries[t.Name] = entry{fn: t.Fn, expectedParams: expected, schema: schema}
		reg.order = append(reg.order, t)
	}
	return reg, nil
}

// compileParamSchema compiles, once per tool at registration time, a JSON
// Schema fragment validating every declared parameter whose type tag is
// in the closed set jsonSchemaTypeByTag maps — the compile-once half of
// the compile-once/validate-per-call path CheckArguments runs on every
// tool_call. A tool with no recognized-tag parameters gets a nil schema,
// so callers can skip validation entirely rather than run a no-op
// against an empty object schema.
func compileParamSchema(toolName string, params []Param) (*jsonschema.Schema, error) {
	properties := make(map[string]any)
	for _, p := range params {
		t, known := jsonSchemaTypeByTag[p.TypeTag]
		if !known {
			continue
		}
		properties[p.Name] = map[string]any{"type": t}
	}
	if len(properties) == 0 {
		return nil, nil
	}

	// additionalProperties is deliberately left unconstrained: rejecting
	// names not in the expected set is CheckArguments's job and carries
	// its own error Kind (UnexpectedArguments); this schema only ever
	// judges the type of a property it recognizes.
	doc := map[string]any{
		"type":       "object",
		"properties": properties,
	}

	url := "securer://tools/" + toolName + ".json"
	c := jsonschema.NewCompiler()
	if err := c.AddResource(url, doc); err != nil {
		return nil, secerr.Wrap(secerr.ConfigInvalid, "tools: add parameter schema resource for "+toolName, err)
	}
	schema, err := c.Compile(url)
	if err != nil {
		return nil, secerr.Wrap(secerr.ConfigInvalid, "tools: compile parameter schema for "+toolName, err)
	}
	return schema, nil
}

func validateLegacyMap(m map[string]Func) (*Registry, error) {
	reg := &Registry{entries: make(map[string]entry, len(m))}
	for name, fn := range m {
		if !ident.Valid(name) {
			return nil, secerr.New(secerr.InvalidIdentifier, "tool name is not a valid identifier: "+name)
		}
		reg.entries[name] = entry{fn: fn, expectedParams: nil}
		reg.order = append(reg.order, Tool{Name: name, Fn: fn})
	}
	return reg, nil
}

// CheckArguments validates a tool_call's arguments against a tool's
// expected-parameter metadata, per spec.md §4.8's tool_call handling and
// SPEC_FULL.md §3's Tool Parameter Schema: first names (an argument not in
// the declared set is UnexpectedArguments), then types (a declared
// argument whose value doesn't match its type tag is
// ArgumentSchemaViolation, checked before the callable is invoked).
// hasMetadata == false means the legacy "arbitrary arguments" form, which
// always passes both checks.
func CheckArguments(toolName string, expectedParams []string, schema *jsonschema.Schema, hasMetadata bool, args map[string]any) error {
	if !hasMetadata {
		return nil
	}
	allowed := make(map[string]bool, len(expectedParams))
	for _, p := range expectedParams {
		allowed[p] = true
	}
	var unexpected []string
	for name := range args {
		if !allowed[name] {
			unexpected = append(unexpected, name)
		}
	}
	if len(unexpected) > 0 {
		return secerr.New(secerr.UnexpectedArguments, fmt.Sprintf("Unexpected arguments for tool '%s': %s", toolName, joinQuoted(unexpected)))
	}

	if schema != nil {
		doc := args
		if doc == nil {
			doc = map[string]any{}
		}
		if err := schema.Validate(doc); err != nil {
			return secerr.Wrap(secerr.ArgumentSchemaViolation, fmt.Sprintf("argument type mismatch for tool '%s'", toolName), err)
		}
	}
	return nil
}

func joinQuoted(names []string) string {
	out := ""
	for i, n := range names {
		if i > 0 {
			out += ", "
		}
		out += "'" + n + "'"
	}
	return out
}

// GenerateWrapperSnippet renders the per-tool callable definitions for
// every tool in the registry, delegating the actual template rendering to
// package runtime (which also owns the bootstrap snippet these wrappers
// depend on).
func GenerateWrapperSnippet(r *Registry) (string, error) {
	tools := r.Tools()
	specs := make([]runtime.ToolSpec, len(tools))
	for i, t := range tools {
		spec := runtime.ToolSpec{Name: t.Name}
		for _, p := range t.Params {
			spec.Params = append(spec.Params, runtime.Param{Name: p.Name, TypeTag: p.TypeTag})
		}
		specs[i] = spec
	}
	return runtime.GenerateWrapperSnippet(specs)
}
