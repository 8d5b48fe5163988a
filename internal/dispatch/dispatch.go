// Package dispatch implements the tool dispatcher: it resolves a tool call
// by name, validates and coerces its arguments against the tool's JSON
// schema, and routes execution to either a bounded local worker pool
// (internal/tool) or a correlated remote client call (internal/clienttool),
// returning a uniform result regardless of which path ran.
package dispatch

import (
	"context"
	"encoding/json"
	"strconv"
	"sync"
	"time"

	"github.com/codescout-dev/codescout/internal/apperr"
	"github.com/codescout-dev/codescout/internal/clienttool"
	"github.com/codescout-dev/codescout/internal/logging"
	"github.com/codescout-dev/codescout/internal/tool"
)

// Mode selects where a tool call actually runs.
type Mode string

const (
	Local  Mode = "LOCAL"
	Remote Mode = "REMOTE"
)

// DefaultRemoteTimeout bounds how long a REMOTE call waits for the paired
// TOOL_RESULT reply before failing with a Timeout error.
const DefaultRemoteTimeout = 60 * time.Second

// DefaultConcurrency bounds how many LOCAL tool calls run at once across
// the whole process.
const DefaultConcurrency = 8

// Request describes one call to dispatch.
type Request struct {
	SessionID string
	MessageID string
	CallID    string // must be unique within SessionID
	ToolName  string
	Params    map[string]any

	// Mode forces LOCAL or REMOTE routing. Left empty, the dispatcher
	// infers REMOTE when a client has registered ToolName, else LOCAL.
	Mode Mode

	// ClientID is required when routing REMOTE.
	ClientID string
}

// Result is the dispatcher's uniform response shape, regardless of whether
// the call ran LOCAL or REMOTE.
type Result struct {
	Success         bool
	Output          string
	Title           string
	Metadata        map[string]any
	ExecutionTimeMs int64
	Err             error
}

// Dispatcher is the single entrypoint tying the tool registry, the client
// tool plane and the worker pool together.
type Dispatcher struct {
	tools         *tool.Registry
	remoteTimeout time.Duration
	sem           chan struct{}

	mu       sync.Mutex
	callIDs  map[string]map[string]struct{} // sessionID -> seen callID
}

// New creates a Dispatcher bounded to concurrency simultaneous LOCAL
// executions, with the given REMOTE reply timeout. concurrency <= 0 and
// remoteTimeout <= 0 fall back to the package defaults.
func New(tools *tool.Registry, concurrency int, remoteTimeout time.Duration) *Dispatcher {
	if concurrency <= 0 {
		concurrency = DefaultConcurrency
	}
	if remoteTimeout <= 0 {
		remoteTimeout = DefaultRemoteTimeout
	}
	return &Dispatcher{
		tools:         tools,
		remoteTimeout: remoteTimeout,
		sem:           make(chan struct{}, concurrency),
		callIDs:       make(map[string]map[string]struct{}),
	}
}

// reserveCallID enforces callId uniqueness per session, returning false if
// this callID was already dispatched for this session.
func (d *Dispatcher) reserveCallID(sessionID, callID string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	seen, ok := d.callIDs[sessionID]
	if !ok {
		seen = make(map[string]struct{})
		d.callIDs[sessionID] = seen
	}
	if _, dup := seen[callID]; dup {
		return false
	}
	seen[callID] = struct{}{}
	return true
}

// Execute validates req.Params against the tool's schema, routes to LOCAL
// or REMOTE, and always returns a Result even on failure (Success=false,
// Err set) so callers can fold it straight into a ToolPart's terminal state.
func (d *Dispatcher) Execute(ctx context.Context, req Request, toolCtx *tool.Context) *Result {
	start := time.Now()

	if req.CallID != "" && !d.reserveCallID(req.SessionID, req.CallID) {
		return errResult(start, apperr.Newf(apperr.InvalidArgument, "callId %q already dispatched for session %s", req.CallID, req.SessionID))
	}

	t, ok := d.tools.Get(req.ToolName)
	isClientTool := clienttool.IsClientTool(req.ToolName)
	if !ok && !isClientTool {
		return errResult(start, apperr.Newf(apperr.UnknownTool, "unknown tool %q", req.ToolName))
	}

	var schema map[string]any
	if ok {
		schema = schemaOf(t)
	} else if def, ok2 := clienttool.GetTool(req.ToolName); ok2 {
		schema = def.Parameters
	}

	coerced, verr := validateAndCoerce(req.Params, schema)
	if verr != nil {
		return errResult(start, verr)
	}

	mode := req.Mode
	if mode == "" {
		if isClientTool {
			mode = Remote
		} else {
			mode = Local
		}
	}

	switch mode {
	case Remote:
		return d.executeRemote(ctx, req, coerced, start)
	default:
		if !ok {
			return errResult(start, apperr.Newf(apperr.UnknownTool, "tool %q has no local implementation", req.ToolName))
		}
		return d.executeLocal(ctx, t, coerced, toolCtx, start)
	}
}

func (d *Dispatcher) executeLocal(ctx context.Context, t tool.Tool, params map[string]any, toolCtx *tool.Context, start time.Time) *Result {
	select {
	case d.sem <- struct{}{}:
	case <-ctx.Done():
		return errResult(start, apperr.Wrap(apperr.Cancelled, "cancelled while waiting for a worker slot", ctx.Err()))
	}
	defer func() { <-d.sem }()

	input, err := marshalParams(params)
	if err != nil {
		return errResult(start, apperr.Wrap(apperr.InvalidArgument, "failed to encode params", err))
	}

	result, err := t.Execute(ctx, input, toolCtx)
	if err != nil {
		if ctx.Err() != nil {
			return errResult(start, apperr.Wrap(apperr.Cancelled, "tool execution cancelled", ctx.Err()))
		}
		return errResult(start, apperr.Wrap(apperr.InvalidArgument, "tool execution failed", err))
	}

	return &Result{
		Success:         true,
		Output:          result.Output,
		Title:           result.Title,
		Metadata:        result.Metadata,
		ExecutionTimeMs: time.Since(start).Milliseconds(),
	}
}

func (d *Dispatcher) executeRemote(ctx context.Context, req Request, params map[string]any, start time.Time) *Result {
	if req.ClientID == "" {
		req.ClientID = clienttool.FindClientForTool(req.ToolName)
	}
	if req.ClientID == "" {
		return errResult(start, apperr.Newf(apperr.UnknownTool, "no client registered for tool %q", req.ToolName))
	}

	execReq := clienttool.ExecutionRequest{
		Type:      "tool_call",
		RequestID: req.CallID,
		SessionID: req.SessionID,
		MessageID: req.MessageID,
		CallID:    req.CallID,
		Tool:      req.ToolName,
		Input:     params,
	}

	res, err := clienttool.Execute(ctx, req.ClientID, execReq, d.remoteTimeout)
	if err != nil {
		if ctx.Err() != nil {
			return errResult(start, apperr.Wrap(apperr.Cancelled, "remote tool call cancelled", ctx.Err()))
		}
		return errResult(start, apperr.Wrap(apperr.Timeout, "remote tool call timed out", err))
	}

	return &Result{
		Success:         true,
		Output:          res.Output,
		Title:           res.Title,
		Metadata:        res.Metadata,
		ExecutionTimeMs: time.Since(start).Milliseconds(),
	}
}

// SubmitResult feeds a TOOL_RESULT reply back to a pending REMOTE call. It
// is idempotent: a duplicate reply for a callID already resolved is a
// no-op, the first reply wins.
func SubmitResult(callID string, success bool, output, title string, metadata map[string]any, errMsg string) bool {
	status := "success"
	if !success {
		status = "error"
	}
	return clienttool.SubmitResult(callID, clienttool.ToolResponse{
		Status:   status,
		Title:    title,
		Output:   output,
		Metadata: metadata,
		Error:    errMsg,
	})
}

func errResult(start time.Time, err error) *Result {
	logging.Debug().Err(err).Msg("dispatch failed")
	return &Result{
		Success:         false,
		Err:             err,
		ExecutionTimeMs: time.Since(start).Milliseconds(),
	}
}

func marshalParams(params map[string]any) ([]byte, error) {
	return json.Marshal(params)
}

func schemaOf(t tool.Tool) map[string]any {
	var s map[string]any
	if err := json.Unmarshal(t.Parameters(), &s); err != nil {
		return nil
	}
	return s
}

// validateAndCoerce checks params against a JSON-Schema-shaped map
// (properties/required/type), coercing numeric strings to numbers and
// "true"/"false" strings to booleans. Any required-but-missing or
// uncoercible-type field fails the whole call.
func validateAndCoerce(params map[string]any, schema map[string]any) (map[string]any, error) {
	if schema == nil {
		return params, nil
	}
	if params == nil {
		params = map[string]any{}
	}

	properties, _ := schema["properties"].(map[string]any)
	var required []string
	if reqAny, ok := schema["required"].([]any); ok {
		for _, r := range reqAny {
			if s, ok := r.(string); ok {
				required = append(required, s)
			}
		}
	}

	for _, name := range required {
		if _, present := params[name]; !present {
			return nil, apperr.Newf(apperr.InvalidArgument, "missing required parameter %q", name)
		}
	}

	out := make(map[string]any, len(params))
	for k, v := range params {
		out[k] = v
	}

	for name, propAny := range properties {
		val, present := out[name]
		if !present {
			continue
		}
		prop, _ := propAny.(map[string]any)
		wantType, _ := prop["type"].(string)
		coerced, ok := coerce(val, wantType)
		if !ok {
			return nil, apperr.Newf(apperr.InvalidArgument, "parameter %q: expected %s, got %T", name, wantType, val)
		}
		out[name] = coerced
	}

	return out, nil
}

// coerce attempts to bring val into line with wantType, as the tool-call
// envelope from an LLM can legitimately send "3" for a number parameter or
// "true" for a boolean one. Returns ok=false only when the value cannot be
// represented as wantType at all.
func coerce(val any, wantType string) (any, bool) {
	switch wantType {
	case "", "string":
		if _, ok := val.(string); ok || wantType == "" {
			return val, true
		}
		return val, false
	case "number", "integer":
		switch v := val.(type) {
		case float64, int, int64:
			return v, true
		case string:
			f, err := strconv.ParseFloat(v, 64)
			if err != nil {
				return nil, false
			}
			return f, true
		default:
			return nil, false
		}
	case "boolean":
		switch v := val.(type) {
		case bool:
			return v, true
		case string:
			switch v {
			case "true":
				return true, true
			case "false":
				return false, true
			default:
				return nil, false
			}
		default:
			return nil, false
		}
	case "object", "array":
		return val, true
	default:
		return val, true
	}
}
