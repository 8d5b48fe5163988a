package tool

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/codescout-dev/codescout/internal/storage"
)

func TestTodoWriteTool_Execute(t *testing.T) {
	tmpDir := t.TempDir()
	store := storage.New(tmpDir)
	tool := NewTodoWriteTool(tmpDir, store)

	input := json.RawMessage(`{
		"todos": [
			{"id": "1", "content": "Write tests", "status": "in_progress", "priority": "high"},
			{"id": "2", "content": "Ship it", "status": "pending", "priority": "medium"}
		]
	}`)
	result, err := tool.Execute(context.Background(), input, testContext())
	if err != nil {
		t.Fatalf("Execute failed: %v", err)
	}
	if result.Title != "2 todos" {
		t.Errorf("Title = %q, want '2 todos'", result.Title)
	}

	var stored []map[string]any
	if err := store.Get(context.Background(), []string{"todo", "test-session"}, &stored); err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if len(stored) != 2 {
		t.Errorf("Stored %d todos, want 2", len(stored))
	}
}

func TestTodoWriteTool_CountsOnlyNonCompleted(t *testing.T) {
	tmpDir := t.TempDir()
	store := storage.New(tmpDir)
	tool := NewTodoWriteTool(tmpDir, store)

	input := json.RawMessage(`{
		"todos": [
			{"id": "1", "content": "Done already", "status": "completed", "priority": "low"},
			{"id": "2", "content": "Still open", "status": "pending", "priority": "low"}
		]
	}`)
	result, err := tool.Execute(context.Background(), input, testContext())
	if err != nil {
		t.Fatalf("Execute failed: %v", err)
	}
	if result.Title != "1 todos" {
		t.Errorf("Title = %q, want '1 todos'", result.Title)
	}
}

func TestTodoWriteTool_InvalidInput(t *testing.T) {
	tool := NewTodoWriteTool("/tmp", storage.New(t.TempDir()))
	_, err := tool.Execute(context.Background(), json.RawMessage(`{invalid}`), testContext())
	if err == nil {
		t.Error("Expected error for invalid JSON input")
	}
}

func TestTodoWriteTool_Properties(t *testing.T) {
	tool := NewTodoWriteTool("/tmp", nil)
	if tool.ID() != "todowrite" {
		t.Errorf("ID() = %q, want 'todowrite'", tool.ID())
	}

	var schema map[string]any
	if err := json.Unmarshal(tool.Parameters(), &schema); err != nil {
		t.Fatalf("Parameters should be valid JSON: %v", err)
	}
}

func TestTodoWriteTool_EinoTool(t *testing.T) {
	tool := NewTodoWriteTool("/tmp", nil)
	einoTool := tool.EinoTool()
	info, err := einoTool.Info(context.Background())
	if err != nil {
		t.Fatalf("Info failed: %v", err)
	}
	if info.Name != "todowrite" {
		t.Errorf("Expected name 'todowrite', got %q", info.Name)
	}
}
