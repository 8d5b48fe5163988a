package dispatch

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	einotool "github.com/cloudwego/eino/components/tool"
	"github.com/codescout-dev/codescout/internal/apperr"
	"github.com/codescout-dev/codescout/internal/clienttool"
	"github.com/codescout-dev/codescout/internal/tool"
)

type echoTool struct{}

func (echoTool) ID() string          { return "echo" }
func (echoTool) Description() string { return "echoes its message parameter" }
func (echoTool) Parameters() json.RawMessage {
	return json.RawMessage(`{
		"type": "object",
		"properties": {
			"message": {"type": "string"},
			"count": {"type": "number"},
			"loud": {"type": "boolean"}
		},
		"required": ["message"]
	}`)
}
func (echoTool) Execute(ctx context.Context, input json.RawMessage, toolCtx *tool.Context) (*tool.Result, error) {
	var p map[string]any
	json.Unmarshal(input, &p)
	return &tool.Result{Title: "echo", Output: p["message"].(string)}, nil
}
func (echoTool) EinoTool() einotool.InvokableTool { return nil }

func registry() *tool.Registry {
	r := tool.NewRegistry("/tmp", nil)
	r.Register(echoTool{})
	return r
}

func TestDispatcher_Execute_Local(t *testing.T) {
	d := New(registry(), 2, 0)
	res := d.Execute(context.Background(), Request{
		SessionID: "s1", CallID: "c1", ToolName: "echo",
		Params: map[string]any{"message": "hi"},
	}, &tool.Context{})
	if !res.Success {
		t.Fatalf("expected success, got err=%v", res.Err)
	}
	if res.Output != "hi" {
		t.Errorf("Output = %q, want %q", res.Output, "hi")
	}
}

func TestDispatcher_Execute_CoercesNumericAndBoolStrings(t *testing.T) {
	d := New(registry(), 2, 0)
	res := d.Execute(context.Background(), Request{
		SessionID: "s1", CallID: "c2", ToolName: "echo",
		Params: map[string]any{"message": "hi", "count": "3", "loud": "true"},
	}, &tool.Context{})
	if !res.Success {
		t.Fatalf("expected success, got err=%v", res.Err)
	}
}

func TestDispatcher_Execute_MissingRequired(t *testing.T) {
	d := New(registry(), 2, 0)
	res := d.Execute(context.Background(), Request{
		SessionID: "s1", CallID: "c3", ToolName: "echo",
		Params: map[string]any{},
	}, &tool.Context{})
	if res.Success {
		t.Fatal("expected failure for missing required param")
	}
	if kind, _ := apperr.KindOf(res.Err); kind != apperr.InvalidArgument {
		t.Errorf("Kind = %v, want InvalidArgument", kind)
	}
}

func TestDispatcher_Execute_WrongType(t *testing.T) {
	d := New(registry(), 2, 0)
	res := d.Execute(context.Background(), Request{
		SessionID: "s1", CallID: "c4", ToolName: "echo",
		Params: map[string]any{"message": "hi", "count": "not-a-number"},
	}, &tool.Context{})
	if res.Success {
		t.Fatal("expected failure for wrong type")
	}
}

func TestDispatcher_Execute_UnknownTool(t *testing.T) {
	d := New(registry(), 2, 0)
	res := d.Execute(context.Background(), Request{
		SessionID: "s1", CallID: "c5", ToolName: "nope",
		Params: map[string]any{},
	}, &tool.Context{})
	if res.Success {
		t.Fatal("expected failure for unknown tool")
	}
	if kind, _ := apperr.KindOf(res.Err); kind != apperr.UnknownTool {
		t.Errorf("Kind = %v, want UnknownTool", kind)
	}
}

func TestDispatcher_Execute_DuplicateCallID(t *testing.T) {
	d := New(registry(), 2, 0)
	req := Request{SessionID: "s1", CallID: "dup", ToolName: "echo", Params: map[string]any{"message": "hi"}}
	if res := d.Execute(context.Background(), req, &tool.Context{}); !res.Success {
		t.Fatalf("first call should succeed, got %v", res.Err)
	}
	res := d.Execute(context.Background(), req, &tool.Context{})
	if res.Success {
		t.Fatal("expected duplicate callID to fail")
	}
}

func TestDispatcher_Execute_Remote(t *testing.T) {
	clienttool.Reset()
	defer clienttool.Reset()

	ids := clienttool.Register("client-1", []clienttool.ToolDefinition{
		{ID: "remote_tool", Description: "a remote tool", Parameters: map[string]any{"type": "object"}},
	})

	d := New(registry(), 2, 0)

	done := make(chan *Result, 1)
	go func() {
		res := d.Execute(context.Background(), Request{
			SessionID: "s1", CallID: "r1", ToolName: ids[0],
			Params: map[string]any{},
		}, &tool.Context{})
		done <- res
	}()

	// Give the dispatcher a moment to register the pending request, then
	// simulate the client replying over TOOL_RESULT.
	for i := 0; i < 100 && !clienttool.SubmitResult("r1", clienttool.ToolResponse{Status: "success", Output: "done"}); i++ {
		time.Sleep(10 * time.Millisecond)
	}

	res := <-done
	if !res.Success {
		t.Fatalf("expected remote success, got %v", res.Err)
	}
}
