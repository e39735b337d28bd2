package runtime

import (
	"strings"
	"testing"
)

func TestGenerateBootstrapContainsHandshakeSteps(t *testing.T) {
	src, err := GenerateBootstrap()
	if err != nil {
		t.Fatalf("GenerateBootstrap: %v", err)
	}
	for _, want := range []string{
		`Sys.getenv("SECURER_SOCKET")`,
		`Sys.getenv("SECURER_TOKEN")`,
		`Sys.unsetenv("SECURER_SOCKET")`,
		`Sys.unsetenv("SECURER_TOKEN")`,
		"socketConnection(",
		"writeLines(token, conn)",
		`assign("call_tool",`,
		`lockBinding("call_tool", globalenv())`,
		`assign("unlockBinding",`,
		`lockBinding("unlockBinding", globalenv())`,
		`assign("get",`,
		`lockBinding("get", globalenv())`,
	} {
		if !strings.Contains(src, want) {
			t.Errorf("expected bootstrap to contain %q", want)
		}
	}
}

func TestGenerateBootstrapVaultKeyMatchesBetweenSiteAndCheck(t *testing.T) {
	src, err := GenerateBootstrap()
	if err != nil {
		t.Fatalf("GenerateBootstrap: %v", err)
	}
	if strings.Count(src, VaultKey) < 2 {
		t.Errorf("expected vault key to appear at both the guard and call site, got: %s", src)
	}
}

func TestGenerateWrapperSnippetZeroArgTool(t *testing.T) {
	src, err := GenerateWrapperSnippet([]ToolSpec{{Name: "ping"}})
	if err != nil {
		t.Fatalf("GenerateWrapperSnippet: %v", err)
	}
	if !strings.Contains(src, "ping <- function() {") {
		t.Errorf("expected zero-arg callable, got: %s", src)
	}
	if !strings.Contains(src, `call_tool("ping")`) {
		t.Errorf("expected delegation to call_tool, got: %s", src)
	}
	if !strings.Contains(src, `lockBinding("ping", globalenv())`) {
		t.Errorf("expected wrapper to be locked, got: %s", src)
	}
}

func TestGenerateWrapperSnippetDeclaredParamsAndTypes(t *testing.T) {
	src, err := GenerateWrapperSnippet([]ToolSpec{
		{Name: "add", Params: []Param{{Name: "x", TypeTag: "numeric"}, {Name: "y", TypeTag: "numeric"}}},
	})
	if err != nil {
		t.Fatalf("GenerateWrapperSnippet: %v", err)
	}
	if !strings.Contains(src, "add <- function(x, y) {") {
		t.Errorf("expected declared parameter list, got: %s", src)
	}
	if !strings.Contains(src, "if (!is.numeric(x)) stop(") {
		t.Errorf("expected type assertion for x, got: %s", src)
	}
	if !strings.Contains(src, `call_tool("add", x = x, y = y)`) {
		t.Errorf("expected named argument delegation, got: %s", src)
	}
}

func TestGenerateWrapperSnippetUnknownTypeTagSkipsAssertion(t *testing.T) {
	src, err := GenerateWrapperSnippet([]ToolSpec{
		{Name: "custom", Params: []Param{{Name: "payload", TypeTag: "blob"}}},
	})
	if err != nil {
		t.Fatalf("GenerateWrapperSnippet: %v", err)
	}
	if strings.Contains(src, "stop(\"Type error") {
		t.Errorf("expected no assertion for unknown type tag, got: %s", src)
	}
}

func TestGenerateWrapperSnippetRejectsInvalidToolName(t *testing.T) {
	_, err := GenerateWrapperSnippet([]ToolSpec{{Name: "9bad"}})
	if err == nil {
		t.Fatal("expected error for invalid tool name")
	}
}

func TestGenerateWrapperSnippetRejectsInvalidParamName(t *testing.T) {
	_, err := GenerateWrapperSnippet([]ToolSpec{
		{Name: "ok", Params: []Param{{Name: "has space"}}},
	})
	if err == nil {
		t.Fatal("expected error for invalid parameter name")
	}
}

func TestGenerateWrapperSnippetMultipleToolsIndependentAssertions(t *testing.T) {
	src, err := GenerateWrapperSnippet([]ToolSpec{
		{Name: "add", Params: []Param{{Name: "x", TypeTag: "numeric"}}},
		{Name: "greet", Params: []Param{{Name: "name", TypeTag: "character"}}},
	})
	if err != nil {
		t.Fatalf("GenerateWrapperSnippet: %v", err)
	}
	if !strings.Contains(src, "tool 'add'") {
		t.Errorf("expected add's assertion message to name add, got: %s", src)
	}
	if !strings.Contains(src, "tool 'greet'") {
		t.Errorf("expected greet's assertion message to name greet, got: %s", src)
	}
}
