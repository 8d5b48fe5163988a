package tool

import (
	"context"
	"encoding/json"
	"fmt"
	"io/fs"
	"path/filepath"
	"sort"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
	einotool "github.com/cloudwego/eino/components/tool"
)

const globDescription = `Fast file pattern matching tool that works with any codebase size.

Usage:
- pattern is a doublestar glob matched against each file's path relative
  to the project root, e.g. "**/*.go" or "internal/**/service.go"
- filePattern additionally filters by base filename, e.g. "*_test.go"
- Returns matching file paths sorted lexicographically`

// GlobTool implements find_file: doublestar glob matching over the
// project tree.
type GlobTool struct {
	workDir string
}

// GlobInput represents the input for find_file.
type GlobInput struct {
	Pattern     string `json:"pattern"`
	FilePattern string `json:"filePattern,omitempty"`
}

// NewGlobTool creates a new find_file tool rooted at workDir.
func NewGlobTool(workDir string) *GlobTool {
	return &GlobTool{workDir: workDir}
}

func (t *GlobTool) ID() string          { return "find_file" }
func (t *GlobTool) Description() string { return globDescription }

func (t *GlobTool) Parameters() json.RawMessage {
	return json.RawMessage(`{
		"type": "object",
		"properties": {
			"pattern": {
				"type": "string",
				"description": "Doublestar glob matched against each file's path relative to the project root"
			},
			"filePattern": {
				"type": "string",
				"description": "Additional glob filter applied to the base filename"
			}
		},
		"required": ["pattern"]
	}`)
}

func (t *GlobTool) Execute(ctx context.Context, input json.RawMessage, toolCtx *Context) (*Result, error) {
	var params GlobInput
	if err := json.Unmarshal(input, &params); err != nil {
		return nil, fmt.Errorf("invalid input: %w", err)
	}

	var matches []string
	err := filepath.WalkDir(t.workDir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil // skip unreadable entries
		}
		if d.IsDir() {
			if d.Name() == ".git" || d.Name() == "node_modules" {
				return filepath.SkipDir
			}
			return nil
		}

		rel, err := filepath.Rel(t.workDir, path)
		if err != nil {
			return nil
		}
		rel = filepath.ToSlash(rel)

		ok, err := doublestar.Match(params.Pattern, rel)
		if err != nil || !ok {
			return nil
		}

		if params.FilePattern != "" {
			ok, err := doublestar.Match(params.FilePattern, d.Name())
			if err != nil || !ok {
				return nil
			}
		}

		matches = append(matches, rel)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("walk project tree: %w", err)
	}

	sort.Strings(matches)

	if len(matches) == 0 {
		return &Result{
			Title:  "Glob search",
			Output: "No files matched the pattern",
			Metadata: map[string]any{
				"pattern": params.Pattern,
				"count":   0,
			},
		}, nil
	}

	const maxFiles = 100
	truncated := false
	if len(matches) > maxFiles {
		matches = matches[:maxFiles]
		truncated = true
	}

	outputStr := strings.Join(matches, "\n")
	if truncated {
		outputStr += fmt.Sprintf("\n\n(showing first %d files)", maxFiles)
	}

	return &Result{
		Title:  fmt.Sprintf("Found %d files", len(matches)),
		Output: outputStr,
		Metadata: map[string]any{
			"pattern":   params.Pattern,
			"count":     len(matches),
			"truncated": truncated,
		},
	}, nil
}

func (t *GlobTool) EinoTool() einotool.InvokableTool {
	return &einoToolWrapper{tool: t}
}
