package tool

import (
	"context"
	"encoding/json"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"testing"
)

func hasRg() bool {
	_, err := exec.LookPath("rg")
	return err == nil
}

func TestGrepTool_Execute(t *testing.T) {
	if !hasRg() {
		t.Skip("ripgrep (rg) not installed")
	}

	tmpDir := t.TempDir()
	content := "Hello World\nFoo Bar\nHello Again\n"
	os.WriteFile(filepath.Join(tmpDir, "search.txt"), []byte(content), 0644)

	tool := NewGrepTool(tmpDir)
	ctx := context.Background()
	toolCtx := testContext()

	input := json.RawMessage(`{"pattern": "Hello"}`)
	result, err := tool.Execute(ctx, input, toolCtx)
	if err != nil {
		t.Fatalf("Execute failed: %v", err)
	}

	if result.Output == "" {
		t.Error("Output should not be empty for matching pattern")
	}
	if !strings.Contains(result.Output, "Hello") {
		t.Error("Output should contain matches")
	}
}

func TestGrepTool_NoMatches(t *testing.T) {
	if !hasRg() {
		t.Skip("ripgrep (rg) not installed")
	}

	tmpDir := t.TempDir()
	content := "Hello World\nFoo Bar\n"
	os.WriteFile(filepath.Join(tmpDir, "search.txt"), []byte(content), 0644)

	tool := NewGrepTool(tmpDir)
	ctx := context.Background()
	toolCtx := testContext()

	input := json.RawMessage(`{"pattern": "NonExistent"}`)
	result, err := tool.Execute(ctx, input, toolCtx)
	if err != nil {
		t.Fatalf("Execute failed: %v", err)
	}

	if result.Metadata["count"] != 0 {
		t.Errorf("Expected 0 matches, got %v", result.Metadata["count"])
	}
	if !strings.Contains(result.Output, "No matches") {
		t.Error("Output should indicate no matches")
	}
}

func TestGrepTool_RelativePathNarrowsSearch(t *testing.T) {
	if !hasRg() {
		t.Skip("ripgrep (rg) not installed")
	}

	tmpDir := t.TempDir()
	os.Mkdir(filepath.Join(tmpDir, "sub"), 0755)
	os.WriteFile(filepath.Join(tmpDir, "top.txt"), []byte("Hello top"), 0644)
	os.WriteFile(filepath.Join(tmpDir, "sub", "nested.txt"), []byte("Hello nested"), 0644)

	tool := NewGrepTool(tmpDir)
	ctx := context.Background()
	toolCtx := testContext()

	input := json.RawMessage(`{"pattern": "Hello", "relativePath": "sub"}`)
	result, err := tool.Execute(ctx, input, toolCtx)
	if err != nil {
		t.Fatalf("Execute failed: %v", err)
	}

	if !strings.Contains(result.Output, "nested") {
		t.Error("Output should contain match from sub/nested.txt")
	}
	if strings.Contains(result.Output, "top.txt") {
		t.Error("Output should not contain match outside relativePath")
	}
}

func TestGrepTool_CaseInsensitive(t *testing.T) {
	if !hasRg() {
		t.Skip("ripgrep (rg) not installed")
	}

	tmpDir := t.TempDir()
	os.WriteFile(filepath.Join(tmpDir, "case.txt"), []byte("HELLO world\n"), 0644)

	tool := NewGrepTool(tmpDir)
	ctx := context.Background()
	toolCtx := testContext()

	input := json.RawMessage(`{"pattern": "hello", "caseSensitive": false}`)
	result, err := tool.Execute(ctx, input, toolCtx)
	if err != nil {
		t.Fatalf("Execute failed: %v", err)
	}
	if !strings.Contains(result.Output, "HELLO") {
		t.Error("Case-insensitive search should match HELLO")
	}
}

func TestGrepTool_Properties(t *testing.T) {
	tool := NewGrepTool("/tmp")

	if tool.ID() != "grep_file" {
		t.Errorf("Expected ID 'grep_file', got %q", tool.ID())
	}

	desc := tool.Description()
	if !strings.Contains(desc, "search") {
		t.Error("Description should mention 'search'")
	}

	params := tool.Parameters()
	if len(params) == 0 {
		t.Error("Parameters should not be empty")
	}

	var schema map[string]any
	if err := json.Unmarshal(params, &schema); err != nil {
		t.Errorf("Parameters should be valid JSON: %v", err)
	}

	props, ok := schema["properties"].(map[string]any)
	if !ok {
		t.Error("Schema should have properties")
	}
	for _, key := range []string{"pattern", "relativePath", "regex", "caseSensitive", "contextLines", "limit"} {
		if _, ok := props[key]; !ok {
			t.Errorf("Schema should have %s property", key)
		}
	}
}

func TestGrepTool_InvalidInput(t *testing.T) {
	tool := NewGrepTool("/tmp")
	ctx := context.Background()
	toolCtx := testContext()

	input := json.RawMessage(`{invalid json}`)
	_, err := tool.Execute(ctx, input, toolCtx)
	if err == nil {
		t.Error("Expected error for invalid JSON input")
	}
}

func TestGrepTool_DefaultPathIsWorkDir(t *testing.T) {
	if !hasRg() {
		t.Skip("ripgrep (rg) not installed")
	}

	tmpDir := t.TempDir()
	os.WriteFile(filepath.Join(tmpDir, "default.txt"), []byte("searchable content"), 0644)

	tool := NewGrepTool(tmpDir)
	ctx := context.Background()
	toolCtx := testContext()

	input := json.RawMessage(`{"pattern": "searchable"}`)
	result, err := tool.Execute(ctx, input, toolCtx)
	if err != nil {
		t.Fatalf("Execute failed: %v", err)
	}

	if !strings.Contains(result.Output, "searchable") {
		t.Error("Output should contain 'searchable'")
	}
}

func TestGrepTool_LineNumbers(t *testing.T) {
	if !hasRg() {
		t.Skip("ripgrep (rg) not installed")
	}

	tmpDir := t.TempDir()
	content := "Line 1\nSearchable Line 2\nLine 3\n"
	os.WriteFile(filepath.Join(tmpDir, "lines.txt"), []byte(content), 0644)

	tool := NewGrepTool(tmpDir)
	ctx := context.Background()
	toolCtx := testContext()

	input := json.RawMessage(`{"pattern": "Searchable"}`)
	result, err := tool.Execute(ctx, input, toolCtx)
	if err != nil {
		t.Fatalf("Execute failed: %v", err)
	}

	if !strings.Contains(result.Output, ":2:") {
		t.Error("Output should include line number 2")
	}
}

func TestGrepTool_LimitCapsResults(t *testing.T) {
	if !hasRg() {
		t.Skip("ripgrep (rg) not installed")
	}

	tmpDir := t.TempDir()
	content := "Hello\nHello\nHello\n"
	os.WriteFile(filepath.Join(tmpDir, "multi.txt"), []byte(content), 0644)

	tool := NewGrepTool(tmpDir)
	ctx := context.Background()
	toolCtx := testContext()

	input := json.RawMessage(`{"pattern": "Hello", "limit": 2}`)
	result, err := tool.Execute(ctx, input, toolCtx)
	if err != nil {
		t.Fatalf("Execute failed: %v", err)
	}

	if result.Metadata["count"] != 2 {
		t.Errorf("Expected 2 matches capped by limit, got %v", result.Metadata["count"])
	}
	if result.Metadata["truncated"] != true {
		t.Error("Expected truncated=true when limit caps results")
	}
}

func TestGrepTool_LiteralModeEscapesRegexChars(t *testing.T) {
	if !hasRg() {
		t.Skip("ripgrep (rg) not installed")
	}

	tmpDir := t.TempDir()
	content := "price: $5.00 (discount)\n"
	os.WriteFile(filepath.Join(tmpDir, "literal.txt"), []byte(content), 0644)

	tool := NewGrepTool(tmpDir)
	ctx := context.Background()
	toolCtx := testContext()

	input := json.RawMessage(`{"pattern": "$5.00 (discount)", "regex": false}`)
	result, err := tool.Execute(ctx, input, toolCtx)
	if err != nil {
		t.Fatalf("Execute failed: %v", err)
	}
	if !strings.Contains(result.Output, "discount") {
		t.Error("Literal search should match the exact text")
	}
}

func TestGrepTool_EinoTool(t *testing.T) {
	tool := NewGrepTool("/tmp")
	einoTool := tool.EinoTool()

	if einoTool == nil {
		t.Error("EinoTool should not return nil")
	}

	info, err := einoTool.Info(context.Background())
	if err != nil {
		t.Fatalf("Info failed: %v", err)
	}

	if info.Name != "grep_file" {
		t.Errorf("Expected name 'grep_file', got %q", info.Name)
	}
}

func TestGrepTool_RelativeFileSearch(t *testing.T) {
	if !hasRg() {
		t.Skip("ripgrep (rg) not installed")
	}

	tmpDir := t.TempDir()
	content := "func main() {\n\treturn\n}\n"
	os.WriteFile(filepath.Join(tmpDir, "test.go"), []byte(content), 0644)

	tool := NewGrepTool(tmpDir)
	ctx := context.Background()
	toolCtx := testContext()

	input := json.RawMessage(`{"pattern": "func", "relativePath": "test.go"}`)
	result, err := tool.Execute(ctx, input, toolCtx)
	if err != nil {
		t.Fatalf("Execute failed: %v", err)
	}

	if !strings.Contains(result.Output, "func") {
		t.Error("Output should contain 'func'")
	}
}
