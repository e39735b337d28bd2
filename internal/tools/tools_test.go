package tools

import (
	"strings"
	"testing"

	"github.com/nextlevelbuilder/securer/internal/secerr"
)

func noop(args map[string]any) (any, error) { return nil, nil }

func TestDefineToolRejectsInvalidName(t *testing.T) {
	_, err := DefineTool("9bad", "", noop, nil)
	if err == nil {
		t.Fatal("expected error for invalid tool name")
	}
	if kind, ok := secerr.Of(err); !ok || kind != secerr.InvalidIdentifier {
		t.Errorf("expected InvalidIdentifier, got %v", err)
	}
}

func TestDefineToolRejectsInvalidParamName(t *testing.T) {
	_, err := DefineTool("ok", "", noop, []Param{{Name: "1bad"}})
	if err == nil {
		t.Fatal("expected error for invalid param name")
	}
}

func TestValidateSetDetectsDuplicates(t *testing.T) {
	a, _ := DefineTool("dup", "", noop, nil)
	b, _ := DefineTool("dup", "", noop, nil)
	_, err := ValidateSet([]Tool{a, b})
	if err == nil {
		t.Fatal("expected error for duplicate tool name")
	}
	if kind, ok := secerr.Of(err); !ok || kind != secerr.DuplicateTool {
		t.Errorf("expected DuplicateTool, got %v", err)
	}
}

func TestValidateSetEmptyParamsMeansZeroArgs(t *testing.T) {
	tool, _ := DefineTool("ping", "", noop, []Param{})
	reg, err := ValidateSet([]Tool{tool})
	if err != nil {
		t.Fatalf("ValidateSet: %v", err)
	}
	_, expected, _, hasMetadata, ok := reg.Get("ping")
	if !ok {
		t.Fatal("expected ping to resolve")
	}
	if !hasMetadata {
		t.Error("expected empty-but-present params to carry metadata")
	}
	if len(expected) != 0 {
		t.Errorf("expected zero expected params, got %v", expected)
	}
}

func TestValidateSetAbsentParamsIsLegacyArbitrary(t *testing.T) {
	tool, _ := DefineTool("anything", "", noop, nil)
	reg, err := ValidateSet([]Tool{tool})
	if err != nil {
		t.Fatalf("ValidateSet: %v", err)
	}
	_, _, _, hasMetadata, ok := reg.Get("anything")
	if !ok {
		t.Fatal("expected anything to resolve")
	}
	if hasMetadata {
		t.Error("expected absent params to mean no metadata")
	}
}

func TestValidateSetLegacyMapEmitsDeprecationButStillWorks(t *testing.T) {
	reg, err := ValidateSet(map[string]Func{"legacy_tool": noop})
	if err != nil {
		t.Fatalf("ValidateSet: %v", err)
	}
	_, _, _, hasMetadata, ok := reg.Get("legacy_tool")
	if !ok || hasMetadata {
		t.Errorf("expected legacy tool to resolve with no metadata, ok=%v hasMetadata=%v", ok, hasMetadata)
	}
}

func TestValidateSetRejectsUnsupportedType(t *testing.T) {
	_, err := ValidateSet("not a valid input")
	if err == nil {
		t.Fatal("expected error for unsupported ValidateSet input type")
	}
}

func TestRegistryEmpty(t *testing.T) {
	reg, err := ValidateSet([]Tool{})
	if err != nil {
		t.Fatalf("ValidateSet: %v", err)
	}
	if !reg.Empty() {
		t.Error("expected empty registry to report Empty() == true")
	}

	tool, _ := DefineTool("x", "", noop, nil)
	reg2, _ := ValidateSet([]Tool{tool})
	if reg2.Empty() {
		t.Error("expected non-empty registry to report Empty() == false")
	}
}

func TestCheckArgumentsLegacyAlwaysPasses(t *testing.T) {
	if err := CheckArguments("anything", nil, nil, false, map[string]any{"anything": 1}); err != nil {
		t.Errorf("expected legacy tools to accept any arguments, got %v", err)
	}
}

func TestCheckArgumentsZeroArgRejectsExtras(t *testing.T) {
	err := CheckArguments("ping", []string{}, nil, true, map[string]any{"evil": 1})
	if err == nil {
		t.Fatal("expected error for unexpected argument on zero-arg tool")
	}
	if kind, ok := secerr.Of(err); !ok || kind != secerr.UnexpectedArguments {
		t.Errorf("expected UnexpectedArguments, got %v", err)
	}
	if err.Error() != "UnexpectedArguments: Unexpected arguments for tool 'ping': 'evil'" {
		t.Errorf("unexpected error text: %v", err)
	}
}

func TestCheckArgumentsAcceptsDeclaredNames(t *testing.T) {
	err := CheckArguments("add", []string{"x", "y"}, nil, true, map[string]any{"x": 1, "y": 2})
	if err != nil {
		t.Errorf("expected declared arguments to pass, got %v", err)
	}
}

func TestCompileParamSchemaSkipsUnrecognizedTags(t *testing.T) {
	schema, err := compileParamSchema("f", []Param{{Name: "x", TypeTag: "mystery"}})
	if err != nil {
		t.Fatalf("compileParamSchema: %v", err)
	}
	if schema != nil {
		t.Error("expected no schema when no parameter carries a recognized type tag")
	}
}

func TestCheckArgumentsAcceptsConformingTypes(t *testing.T) {
	tool, _ := DefineTool("add", "", noop, []Param{{Name: "x", TypeTag: "numeric"}, {Name: "y", TypeTag: "numeric"}})
	reg, err := ValidateSet([]Tool{tool})
	if err != nil {
		t.Fatalf("ValidateSet: %v", err)
	}
	_, expected, schema, hasMetadata, ok := reg.Get("add")
	if !ok {
		t.Fatal("expected add to resolve")
	}
	if schema == nil {
		t.Fatal("expected a compiled schema for a tool with typed parameters")
	}
	if err := CheckArguments("add", expected, schema, hasMetadata, map[string]any{"x": 1.0, "y": 2.0}); err != nil {
		t.Errorf("expected conforming types to pass, got %v", err)
	}
}

func TestCheckArgumentsRejectsTypeMismatch(t *testing.T) {
	tool, _ := DefineTool("add", "", noop, []Param{{Name: "x", TypeTag: "numeric"}})
	reg, err := ValidateSet([]Tool{tool})
	if err != nil {
		t.Fatalf("ValidateSet: %v", err)
	}
	_, expected, schema, hasMetadata, ok := reg.Get("add")
	if !ok {
		t.Fatal("expected add to resolve")
	}
	err = CheckArguments("add", expected, schema, hasMetadata, map[string]any{"x": "not a number"})
	if err == nil {
		t.Fatal("expected error for type-mismatched argument")
	}
	if kind, ok := secerr.Of(err); !ok || kind != secerr.ArgumentSchemaViolation {
		t.Errorf("expected ArgumentSchemaViolation, got %v", err)
	}
}

func TestCheckArgumentsTypeCheckRunsAfterNameCheck(t *testing.T) {
	tool, _ := DefineTool("add", "", noop, []Param{{Name: "x", TypeTag: "numeric"}})
	reg, err := ValidateSet([]Tool{tool})
	if err != nil {
		t.Fatalf("ValidateSet: %v", err)
	}
	_, expected, schema, hasMetadata, ok := reg.Get("add")
	if !ok {
		t.Fatal("expected add to resolve")
	}
	// "evil" is both unexpected by name and irrelevant to x's type; the
	// name violation must win.
	err = CheckArguments("add", expected, schema, hasMetadata, map[string]any{"x": 1.0, "evil": "whatever"})
	if kind, ok := secerr.Of(err); !ok || kind != secerr.UnexpectedArguments {
		t.Errorf("expected UnexpectedArguments to take priority, got %v", err)
	}
}

func TestGenerateWrapperSnippetDelegatesToRuntime(t *testing.T) {
	tool, _ := DefineTool("add", "adds", noop, []Param{{Name: "x", TypeTag: "numeric"}})
	reg, err := ValidateSet([]Tool{tool})
	if err != nil {
		t.Fatalf("ValidateSet: %v", err)
	}
	src, err := GenerateWrapperSnippet(reg)
	if err != nil {
		t.Fatalf("GenerateWrapperSnippet: %v", err)
	}
	if !strings.Contains(src, "add <- function(x) {") {
		t.Errorf("expected rendered wrapper for add, got: %s", src)
	}
}
