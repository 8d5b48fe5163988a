package tool

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/codescout-dev/codescout/internal/lsp"
)

func TestCallChainTool_Properties(t *testing.T) {
	tool := NewCallChainTool("/tmp")

	if tool.ID() != "call_chain" {
		t.Errorf("Expected ID 'call_chain', got %q", tool.ID())
	}

	params := tool.Parameters()
	var schema map[string]any
	if err := json.Unmarshal(params, &schema); err != nil {
		t.Fatalf("Parameters should be valid JSON: %v", err)
	}

	props, ok := schema["properties"].(map[string]any)
	if !ok {
		t.Fatal("Schema should have properties")
	}
	for _, key := range []string{"method", "direction", "depth", "includeSource"} {
		if _, ok := props[key]; !ok {
			t.Errorf("Schema should have %s property", key)
		}
	}
}

func TestCallChainTool_InvalidInput(t *testing.T) {
	tool := NewCallChainTool("/tmp")
	_, err := tool.Execute(context.Background(), json.RawMessage(`{invalid json}`), testContext())
	if err == nil {
		t.Error("Expected error for invalid JSON input")
	}
}

func TestCallChainTool_InvalidDirection(t *testing.T) {
	tool := NewCallChainTool("/tmp")
	input := json.RawMessage(`{"method": "Foo", "direction": "sideways"}`)
	_, err := tool.Execute(context.Background(), input, testContext())
	if err == nil {
		t.Error("Expected error for invalid direction")
	}
}

func TestCallChainTool_NoSymbolFound(t *testing.T) {
	tmpDir := t.TempDir()
	tool := NewCallChainTool(tmpDir)
	input := json.RawMessage(`{"method": "NoSuchSymbolAnywhere", "direction": "callers"}`)
	_, err := tool.Execute(context.Background(), input, testContext())
	if err == nil {
		t.Error("Expected error when no symbol matches and no language server is available")
	}
	if !strings.Contains(err.Error(), "no symbol matching") {
		t.Errorf("Error should mention no matching symbol, got: %v", err)
	}
}

func TestCallChainTool_EinoTool(t *testing.T) {
	tool := NewCallChainTool("/tmp")
	einoTool := tool.EinoTool()
	if einoTool == nil {
		t.Fatal("EinoTool should not return nil")
	}
	info, err := einoTool.Info(context.Background())
	if err != nil {
		t.Fatalf("Info failed: %v", err)
	}
	if info.Name != "call_chain" {
		t.Errorf("Expected name 'call_chain', got %q", info.Name)
	}
}

func TestPickBestSymbol_PrefersExactMatch(t *testing.T) {
	symbols := []lsp.Symbol{
		{Name: "SearchIndex"},
		{Name: "Search"},
		{Name: "searchHelper"},
	}
	best := pickBestSymbol(symbols, "Search")
	if best == nil || best.Name != "Search" {
		t.Errorf("Expected exact match 'Search', got %v", best)
	}
}

func TestPickBestSymbol_FallsBackToSubstring(t *testing.T) {
	symbols := []lsp.Symbol{
		{Name: "StoreSearchIndex"},
	}
	best := pickBestSymbol(symbols, "search")
	if best == nil || best.Name != "StoreSearchIndex" {
		t.Errorf("Expected substring match, got %v", best)
	}
}

func TestPickBestSymbol_NoneReturnsNil(t *testing.T) {
	if pickBestSymbol(nil, "Anything") != nil {
		t.Error("Expected nil for empty symbol list")
	}
}

func TestDepthOrDefault(t *testing.T) {
	cases := map[int]int{0: 1, -1: 1, 3: 3, 5: 5, 9: 5}
	for in, want := range cases {
		if got := depthOrDefault(in); got != want {
			t.Errorf("depthOrDefault(%d) = %d, want %d", in, got, want)
		}
	}
}

func TestRelativeToWorkDir(t *testing.T) {
	workDir := "/project"
	got := relativeToWorkDir(workDir, "/project/internal/foo.go")
	if got != "internal/foo.go" {
		t.Errorf("relativeToWorkDir = %q, want 'internal/foo.go'", got)
	}
}

func TestSourceLine(t *testing.T) {
	tmpDir := t.TempDir()
	path := filepath.Join(tmpDir, "sample.go")
	content := "package sample\n\nfunc Foo() {}\n"
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("Failed to write file: %v", err)
	}

	if got := sourceLine(path, 2); got != "func Foo() {}" {
		t.Errorf("sourceLine(2) = %q, want 'func Foo() {}'", got)
	}
	if got := sourceLine(path, 50); got != "" {
		t.Errorf("sourceLine out of range = %q, want empty", got)
	}
}

func TestUriToPath(t *testing.T) {
	if got := uriToPath("file:///a/b/c.go"); got != "/a/b/c.go" {
		t.Errorf("uriToPath = %q, want '/a/b/c.go'", got)
	}
}
