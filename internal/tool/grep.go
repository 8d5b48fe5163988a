package tool

import (
	"context"
	"encoding/json"
	"fmt"
	"os/exec"
	"strconv"
	"strings"

	einotool "github.com/cloudwego/eino/components/tool"
)

const grepDescription = `A powerful content search tool built on ripgrep.

Usage:
- pattern is a regex by default; set regex=false for a literal search
- relativePath narrows the search to a file or directory under the
  project root; omit it to search the whole project
- caseSensitive defaults to true
- contextLines includes that many lines of context around each match
- limit caps the number of matches returned (default 100)`

// GrepTool implements grep_file: ripgrep-backed content search.
type GrepTool struct {
	workDir string
}

// GrepInput represents the input for grep_file.
type GrepInput struct {
	Pattern       string `json:"pattern"`
	RelativePath  string `json:"relativePath,omitempty"`
	Regex         *bool  `json:"regex,omitempty"`
	CaseSensitive *bool  `json:"caseSensitive,omitempty"`
	ContextLines  int    `json:"contextLines,omitempty"`
	Limit         int    `json:"limit,omitempty"`
}

// NewGrepTool creates a new grep_file tool rooted at workDir.
func NewGrepTool(workDir string) *GrepTool {
	return &GrepTool{workDir: workDir}
}

func (t *GrepTool) ID() string          { return "grep_file" }
func (t *GrepTool) Description() string { return grepDescription }

func (t *GrepTool) Parameters() json.RawMessage {
	return json.RawMessage(`{
		"type": "object",
		"properties": {
			"pattern": {
				"type": "string",
				"description": "The pattern to search for in file contents"
			},
			"relativePath": {
				"type": "string",
				"description": "File or directory to search, relative to the project root"
			},
			"regex": {
				"type": "boolean",
				"description": "Treat pattern as a regex (default true); false for a literal search"
			},
			"caseSensitive": {
				"type": "boolean",
				"description": "Case-sensitive search (default true)"
			},
			"contextLines": {
				"type": "integer",
				"description": "Lines of context to include around each match"
			},
			"limit": {
				"type": "integer",
				"description": "Maximum number of matches to return (default 100)"
			}
		},
		"required": ["pattern"]
	}`)
}

// GrepMatch represents a search match.
type GrepMatch struct {
	File    string `json:"file"`
	Line    int    `json:"line"`
	Content string `json:"content"`
}

func (t *GrepTool) Execute(ctx context.Context, input json.RawMessage, toolCtx *Context) (*Result, error) {
	var params GrepInput
	if err := json.Unmarshal(input, &params); err != nil {
		return nil, fmt.Errorf("invalid input: %w", err)
	}

	args := []string{
		"--line-number",
		"--with-filename",
		"--color=never",
	}

	if params.Regex != nil && !*params.Regex {
		args = append(args, "--fixed-strings")
	}
	if params.CaseSensitive != nil && !*params.CaseSensitive {
		args = append(args, "--ignore-case")
	}
	if params.ContextLines > 0 {
		args = append(args, "--context", strconv.Itoa(params.ContextLines))
	}

	args = append(args, params.Pattern)

	searchPath := t.workDir
	if params.RelativePath != "" {
		abs, err := resolveProjectPath(t.workDir, params.RelativePath)
		if err != nil {
			return nil, err
		}
		searchPath = abs
	}
	args = append(args, searchPath)

	cmd := exec.CommandContext(ctx, "rg", args...)
	output, _ := cmd.Output()

	if len(output) == 0 {
		return &Result{
			Title:  "Search results",
			Output: "No matches found",
			Metadata: map[string]any{
				"pattern": params.Pattern,
				"count":   0,
			},
		}, nil
	}

	var matches []GrepMatch
	for _, line := range strings.Split(strings.TrimSpace(string(output)), "\n") {
		if line == "" {
			continue
		}

		parts := strings.SplitN(line, ":", 3)
		if len(parts) < 3 {
			continue
		}

		lineNum, _ := strconv.Atoi(parts[1])
		matches = append(matches, GrepMatch{
			File:    parts[0],
			Line:    lineNum,
			Content: parts[2],
		})
	}

	maxMatches := params.Limit
	if maxMatches <= 0 {
		maxMatches = 100
	}
	truncated := false
	if len(matches) > maxMatches {
		matches = matches[:maxMatches]
		truncated = true
	}

	var sb strings.Builder
	for _, m := range matches {
		sb.WriteString(fmt.Sprintf("%s:%d: %s\n", m.File, m.Line, m.Content))
	}

	if truncated {
		sb.WriteString(fmt.Sprintf("\n(showing first %d matches)", maxMatches))
	}

	return &Result{
		Title:  fmt.Sprintf("Found %d matches", len(matches)),
		Output: sb.String(),
		Metadata: map[string]any{
			"pattern":   params.Pattern,
			"count":     len(matches),
			"truncated": truncated,
		},
	}, nil
}

func (t *GrepTool) EinoTool() einotool.InvokableTool {
	return &einoToolWrapper{tool: t}
}
