package tool

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	einotool "github.com/cloudwego/eino/components/tool"
	"github.com/codescout-dev/codescout/internal/lsp"
)

const callChainDescription = `Walks the caller/callee graph of a function or method using the
project's language server.

Usage:
- method is the symbol name to start from, e.g. "Store.Search"
- direction is one of "callers", "callees", or "both"
- depth limits how many hops the graph walk takes (default 1, max 5)
- includeSource attaches the first line of each node's declaration`

// CallChainTool implements call_chain: caller/callee graph queries backed
// by the language server's call hierarchy support.
type CallChainTool struct {
	workDir string

	mu     sync.Mutex
	client *lsp.Client
}

// CallChainInput represents the input for call_chain.
type CallChainInput struct {
	Method        string `json:"method"`
	Direction     string `json:"direction"`
	Depth         int    `json:"depth,omitempty"`
	IncludeSource bool   `json:"includeSource,omitempty"`
}

// CallChainNode represents one node visited in the call graph.
type CallChainNode struct {
	Name   string `json:"name"`
	File   string `json:"file"`
	Line   int    `json:"line"`
	Depth  int    `json:"depth"`
	Source string `json:"source,omitempty"`
}

// NewCallChainTool creates a new call_chain tool rooted at workDir.
func NewCallChainTool(workDir string) *CallChainTool {
	return &CallChainTool{workDir: workDir}
}

func (t *CallChainTool) ID() string          { return "call_chain" }
func (t *CallChainTool) Description() string { return callChainDescription }

func (t *CallChainTool) Parameters() json.RawMessage {
	return json.RawMessage(`{
		"type": "object",
		"properties": {
			"method": {
				"type": "string",
				"description": "Name of the function or method to start the walk from"
			},
			"direction": {
				"type": "string",
				"enum": ["callers", "callees", "both"],
				"description": "Which direction to walk the call graph"
			},
			"depth": {
				"type": "integer",
				"description": "Number of hops to walk (default 1, max 5)"
			},
			"includeSource": {
				"type": "boolean",
				"description": "Attach the declaration line of each node"
			}
		},
		"required": ["method", "direction"]
	}`)
}

func (t *CallChainTool) lspClient() *lsp.Client {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.client == nil {
		t.client = lsp.NewClient(t.workDir, false)
	}
	return t.client
}

func (t *CallChainTool) Execute(ctx context.Context, input json.RawMessage, toolCtx *Context) (*Result, error) {
	var params CallChainInput
	if err := json.Unmarshal(input, &params); err != nil {
		return nil, fmt.Errorf("invalid input: %w", err)
	}

	switch params.Direction {
	case "callers", "callees", "both":
	default:
		return nil, fmt.Errorf("direction must be one of callers, callees, both")
	}

	depth := params.Depth
	if depth <= 0 {
		depth = 1
	}
	if depth > 5 {
		depth = 5
	}

	client := t.lspClient()

	symbols, err := client.WorkspaceSymbol(ctx, params.Method)
	if err != nil {
		return nil, fmt.Errorf("resolve method %q: %w", params.Method, err)
	}
	root := pickBestSymbol(symbols, params.Method)
	if root == nil {
		return nil, fmt.Errorf("no symbol matching %q found in the workspace", params.Method)
	}

	file := uriToPath(root.Location.URI)
	items, err := client.PrepareCallHierarchy(ctx, file, root.Location.Range.Start.Line, root.Location.Range.Start.Character)
	if err != nil {
		return nil, fmt.Errorf("prepare call hierarchy for %q: %w", params.Method, err)
	}
	if len(items) == 0 {
		return nil, fmt.Errorf("language server returned no call hierarchy item for %q", params.Method)
	}

	var callerNodes, calleeNodes []CallChainNode
	if params.Direction == "callers" || params.Direction == "both" {
		callerNodes, err = t.walk(ctx, client, items[0], depth, true, params.IncludeSource)
		if err != nil {
			return nil, err
		}
	}
	if params.Direction == "callees" || params.Direction == "both" {
		calleeNodes, err = t.walk(ctx, client, items[0], depth, false, params.IncludeSource)
		if err != nil {
			return nil, err
		}
	}

	return t.formatResult(params, root.Name, callerNodes, calleeNodes), nil
}

// walk performs a breadth-first walk of the call hierarchy in one direction.
func (t *CallChainTool) walk(ctx context.Context, client *lsp.Client, start lsp.CallHierarchyItem, depth int, incoming, includeSource bool) ([]CallChainNode, error) {
	var nodes []CallChainNode
	frontier := []lsp.CallHierarchyItem{start}
	visited := map[string]bool{start.Name + "@" + start.URI: true}

	for level := 1; level <= depth && len(frontier) > 0; level++ {
		var next []lsp.CallHierarchyItem

		for _, item := range frontier {
			file := uriToPath(item.URI)

			if incoming {
				calls, err := client.IncomingCalls(ctx, file, item)
				if err != nil {
					continue
				}
				for _, call := range calls {
					next = append(next, call.From)
				}
			} else {
				calls, err := client.OutgoingCalls(ctx, file, item)
				if err != nil {
					continue
				}
				for _, call := range calls {
					next = append(next, call.To)
				}
			}
		}

		var filtered []lsp.CallHierarchyItem
		for _, item := range next {
			key := item.Name + "@" + item.URI
			if visited[key] {
				continue
			}
			visited[key] = true
			filtered = append(filtered, item)

			node := CallChainNode{
				Name:  item.Name,
				File:  relativeToWorkDir(t.workDir, uriToPath(item.URI)),
				Line:  item.SelectionRange.Start.Line + 1,
				Depth: level,
			}
			if includeSource {
				node.Source = sourceLine(uriToPath(item.URI), item.SelectionRange.Start.Line)
			}
			nodes = append(nodes, node)
		}

		frontier = filtered
	}

	return nodes, nil
}

func (t *CallChainTool) formatResult(params CallChainInput, rootName string, callers, callees []CallChainNode) *Result {
	var sb strings.Builder
	fmt.Fprintf(&sb, "Call chain for %s (direction=%s, depth=%d)\n", rootName, params.Direction, depthOrDefault(params.Depth))

	if params.Direction == "callers" || params.Direction == "both" {
		sb.WriteString("\nCallers:\n")
		writeNodes(&sb, callers)
	}
	if params.Direction == "callees" || params.Direction == "both" {
		sb.WriteString("\nCallees:\n")
		writeNodes(&sb, callees)
	}

	return &Result{
		Title:  fmt.Sprintf("Call chain for %s", rootName),
		Output: sb.String(),
		Metadata: map[string]any{
			"method":    rootName,
			"direction": params.Direction,
			"callers":   len(callers),
			"callees":   len(callees),
		},
	}
}

func writeNodes(sb *strings.Builder, nodes []CallChainNode) {
	if len(nodes) == 0 {
		sb.WriteString("  (none found)\n")
		return
	}
	for _, n := range nodes {
		indent := strings.Repeat("  ", n.Depth)
		fmt.Fprintf(sb, "%s%s (%s:%d)\n", indent, n.Name, n.File, n.Line)
		if n.Source != "" {
			fmt.Fprintf(sb, "%s  %s\n", indent, n.Source)
		}
	}
}

func depthOrDefault(d int) int {
	if d <= 0 {
		return 1
	}
	if d > 5 {
		return 5
	}
	return d
}

// pickBestSymbol prefers an exact (case-insensitive) name match, falling
// back to the first result returned by the workspace symbol search.
func pickBestSymbol(symbols []lsp.Symbol, method string) *lsp.Symbol {
	for i := range symbols {
		if strings.EqualFold(symbols[i].Name, method) {
			return &symbols[i]
		}
	}
	for i := range symbols {
		if strings.Contains(strings.ToLower(symbols[i].Name), strings.ToLower(method)) {
			return &symbols[i]
		}
	}
	if len(symbols) > 0 {
		return &symbols[0]
	}
	return nil
}

func uriToPath(uri string) string {
	return strings.TrimPrefix(uri, "file://")
}

func relativeToWorkDir(workDir, path string) string {
	if rel, err := filepath.Rel(workDir, path); err == nil {
		return filepath.ToSlash(rel)
	}
	return path
}

// sourceLine reads the given zero-indexed line from path without loading
// the whole file into memory.
func sourceLine(path string, line int) string {
	f, err := os.Open(path)
	if err != nil {
		return ""
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)
	for i := 0; scanner.Scan(); i++ {
		if i == line {
			return strings.TrimSpace(scanner.Text())
		}
	}
	return ""
}

func (t *CallChainTool) EinoTool() einotool.InvokableTool {
	return &einoToolWrapper{tool: t}
}
