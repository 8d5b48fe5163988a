package tool

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/agnivade/levenshtein"
	einotool "github.com/cloudwego/eino/components/tool"
	"github.com/codescout-dev/codescout/internal/event"
)

const applyChangeDescription = `Applies a targeted edit to a file under the project root.

Usage:
- relativePath is resolved against the project root; it must not escape it
- searchContent, if given, must match exactly one location in the file
  (use more surrounding context if the match is ambiguous)
- replaceContent is what searchContent is replaced with
- when searchContent is omitted, replaceContent becomes the entire new
  file content (creating the file if it doesn't exist)
- description is an optional short note on the intent of the change`

// EditTool implements apply_change: a unique-match search/replace editor
// scoped to the project root.
type EditTool struct {
	workDir string
}

// EditInput represents the input for apply_change.
type EditInput struct {
	RelativePath   string `json:"relativePath"`
	SearchContent  string `json:"searchContent,omitempty"`
	ReplaceContent string `json:"replaceContent"`
	Description    string `json:"description,omitempty"`
}

// NewEditTool creates a new apply_change tool rooted at workDir.
func NewEditTool(workDir string) *EditTool {
	return &EditTool{workDir: workDir}
}

func (t *EditTool) ID() string          { return "apply_change" }
func (t *EditTool) Description() string { return applyChangeDescription }

func (t *EditTool) Parameters() json.RawMessage {
	return json.RawMessage(`{
		"type": "object",
		"properties": {
			"relativePath": {
				"type": "string",
				"description": "Path to the file to change, relative to the project root"
			},
			"searchContent": {
				"type": "string",
				"description": "Exact text to locate; must match exactly one place in the file"
			},
			"replaceContent": {
				"type": "string",
				"description": "Text to put in place of searchContent (or the full file if searchContent is omitted)"
			},
			"description": {
				"type": "string",
				"description": "Short note on the intent of the change"
			}
		},
		"required": ["relativePath", "replaceContent"]
	}`)
}

func (t *EditTool) Execute(ctx context.Context, input json.RawMessage, toolCtx *Context) (*Result, error) {
	var params EditInput
	if err := json.Unmarshal(input, &params); err != nil {
		return nil, fmt.Errorf("invalid input: %w", err)
	}

	path, err := resolveProjectPath(t.workDir, params.RelativePath)
	if err != nil {
		return nil, err
	}

	if params.SearchContent == "" {
		return t.writeWhole(path, params, toolCtx)
	}

	if params.SearchContent == params.ReplaceContent {
		return nil, fmt.Errorf("searchContent and replaceContent must be different")
	}

	content, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read file: %w", err)
	}
	before := string(content)

	count := strings.Count(before, params.SearchContent)
	switch {
	case count == 0:
		return t.fuzzyReplace(path, before, params, toolCtx)
	case count > 1:
		return nil, fmt.Errorf("searchContent matches %d locations in file; narrow it to a unique match", count)
	}

	after := strings.Replace(before, params.SearchContent, params.ReplaceContent, 1)
	return t.commit(path, before, after, params, toolCtx, "")
}

func (t *EditTool) writeWhole(path string, params EditInput, toolCtx *Context) (*Result, error) {
	var before string
	if existing, err := os.ReadFile(path); err == nil {
		before = string(existing)
	}
	return t.commit(path, before, params.ReplaceContent, params, toolCtx, "")
}

// fuzzyReplace attempts to find similar text when an exact match fails.
func (t *EditTool) fuzzyReplace(path, before string, params EditInput, toolCtx *Context) (*Result, error) {
	normalizedOld := normalizeLineEndings(params.SearchContent)
	normalizedText := normalizeLineEndings(before)

	if strings.Contains(normalizedText, normalizedOld) {
		after := strings.Replace(normalizedText, normalizedOld, params.ReplaceContent, 1)
		return t.commit(path, before, after, params, toolCtx, " (normalized)")
	}

	match, sim := findBestMatch(before, params.SearchContent)
	if match != "" && sim >= 0.7 {
		after := strings.Replace(before, match, params.ReplaceContent, 1)
		return t.commit(path, before, after, params, toolCtx, fmt.Sprintf(" (%.0f%% similarity)", sim*100))
	}

	return nil, fmt.Errorf("searchContent not found in file; content may have changed or the string doesn't exist")
}

func (t *EditTool) commit(path, before, after string, params EditInput, toolCtx *Context, note string) (*Result, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("failed to create directory: %w", err)
	}
	if err := os.WriteFile(path, []byte(after), 0644); err != nil {
		return nil, fmt.Errorf("failed to write file: %w", err)
	}

	if toolCtx != nil && toolCtx.SessionID != "" {
		event.Publish(event.Event{
			Type: event.FileEdited,
			Data: event.FileEditedData{File: path},
		})
	}

	diffText, additions, deletions := buildDiffMetadata(path, before, after, t.workDir)

	title := fmt.Sprintf("Changed %s%s", filepath.Base(path), note)
	if params.Description != "" {
		title = params.Description
	}

	return &Result{
		Title:  title,
		Output: diffText,
		Metadata: map[string]any{
			"file":      path,
			"additions": additions,
			"deletions": deletions,
		},
	}, nil
}

func normalizeLineEndings(s string) string {
	return strings.ReplaceAll(s, "\r\n", "\n")
}

// findBestMatch finds the substring most similar to target.
func findBestMatch(text, target string) (string, float64) {
	lines := strings.Split(text, "\n")
	targetLines := strings.Split(target, "\n")

	if len(targetLines) == 1 {
		bestMatch := ""
		bestSimilarity := 0.0

		for _, line := range lines {
			sim := similarity(line, target)
			if sim > bestSimilarity {
				bestSimilarity = sim
				bestMatch = line
			}
		}
		return bestMatch, bestSimilarity
	}

	targetLen := len(targetLines)
	bestMatch := ""
	bestSimilarity := 0.0

	for i := 0; i <= len(lines)-targetLen; i++ {
		block := strings.Join(lines[i:i+targetLen], "\n")
		sim := similarity(block, target)
		if sim > bestSimilarity {
			bestSimilarity = sim
			bestMatch = block
		}
	}

	return bestMatch, bestSimilarity
}

// similarity calculates normalized Levenshtein similarity using agnivade/levenshtein.
func similarity(a, b string) float64 {
	if len(a) == 0 && len(b) == 0 {
		return 1.0
	}
	if len(a) == 0 || len(b) == 0 {
		return 0.0
	}

	if len(a) > 10000 || len(b) > 10000 {
		maxLen := max(len(a), len(b))
		minLen := min(len(a), len(b))
		return float64(minLen) / float64(maxLen)
	}

	dist := levenshtein.ComputeDistance(a, b)
	maxLen := max(len(a), len(b))
	return 1.0 - float64(dist)/float64(maxLen)
}

func (t *EditTool) EinoTool() einotool.InvokableTool {
	return &einoToolWrapper{tool: t}
}
