package tool

import (
	"bufio"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	einotool "github.com/cloudwego/eino/components/tool"
)

const readDescription = `Reads a file from the project, relative to its root.

Usage:
- relativePath is resolved against the configured project root, never an
  absolute path outside it
- startLine/endLine optionally bound the read to a line range (1-indexed,
  inclusive); omit both to read the whole file
- Returns file contents with line numbers
- Can read image files and return them as base64 data`

// ReadTool implements read_file: read a bounded slice of a project file.
type ReadTool struct {
	workDir string
}

// ReadInput represents the input for read_file.
type ReadInput struct {
	RelativePath string `json:"relativePath"`
	StartLine    int    `json:"startLine,omitempty"`
	EndLine      int    `json:"endLine,omitempty"`
}

// NewReadTool creates a new read_file tool rooted at workDir.
func NewReadTool(workDir string) *ReadTool {
	return &ReadTool{workDir: workDir}
}

func (t *ReadTool) ID() string          { return "read_file" }
func (t *ReadTool) Description() string { return readDescription }

func (t *ReadTool) Parameters() json.RawMessage {
	return json.RawMessage(`{
		"type": "object",
		"properties": {
			"relativePath": {
				"type": "string",
				"description": "Path to the file, relative to the project root"
			},
			"startLine": {
				"type": "integer",
				"description": "First line to read, 1-indexed, inclusive"
			},
			"endLine": {
				"type": "integer",
				"description": "Last line to read, 1-indexed, inclusive"
			}
		},
		"required": ["relativePath"]
	}`)
}

func (t *ReadTool) Execute(ctx context.Context, input json.RawMessage, toolCtx *Context) (*Result, error) {
	var params ReadInput
	if err := json.Unmarshal(input, &params); err != nil {
		return nil, fmt.Errorf("invalid input: %w", err)
	}

	absPath, err := resolveProjectPath(t.workDir, params.RelativePath)
	if err != nil {
		return nil, err
	}

	if shouldBlockEnvFile(absPath) {
		return nil, fmt.Errorf("the user has blocked reading %s, do not make further attempts to read it", params.RelativePath)
	}

	info, err := os.Stat(absPath)
	if err != nil {
		return nil, fmt.Errorf("file not found: %s", params.RelativePath)
	}
	if info.IsDir() {
		return nil, fmt.Errorf("path is a directory, not a file: %s", params.RelativePath)
	}

	if isImageFile(absPath) {
		return t.readImage(absPath)
	}
	if isBinaryFile(absPath) {
		return nil, fmt.Errorf("file appears to be binary")
	}

	file, err := os.Open(absPath)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	var lines []string
	scanner := bufio.NewScanner(file)
	scanner.Buffer(make([]byte, 1024*1024), 1024*1024)
	lineNum := 0

	for scanner.Scan() {
		lineNum++
		if params.StartLine > 0 && lineNum < params.StartLine {
			continue
		}
		if params.EndLine > 0 && lineNum > params.EndLine {
			break
		}
		line := scanner.Text()
		if len(line) > 2000 {
			line = line[:2000] + "..."
		}
		lines = append(lines, fmt.Sprintf("%05d| %s", lineNum, line))
	}

	var sb strings.Builder
	sb.WriteString("<file>\n")
	sb.WriteString(strings.Join(lines, "\n"))
	sb.WriteString(fmt.Sprintf("\n\n(showing lines %d-%d)", params.StartLine, lineNum))
	sb.WriteString("\n</file>")

	return &Result{
		Title:  fmt.Sprintf("Read %s", filepath.Base(params.RelativePath)),
		Output: sb.String(),
		Metadata: map[string]any{
			"file":  params.RelativePath,
			"lines": len(lines),
		},
	}, nil
}

func (t *ReadTool) readImage(path string) (*Result, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	mediaType := detectMediaType(path)
	dataURL := fmt.Sprintf("data:%s;base64,%s", mediaType, base64.StdEncoding.EncodeToString(data))

	return &Result{
		Title:  fmt.Sprintf("Read %s", filepath.Base(path)),
		Output: "(Image file)",
		Attachments: []Attachment{
			{
				Filename:  filepath.Base(path),
				MediaType: mediaType,
				URL:       dataURL,
			},
		},
	}, nil
}

func (t *ReadTool) EinoTool() einotool.InvokableTool {
	return &einoToolWrapper{tool: t}
}

// resolveProjectPath joins relativePath onto workDir and rejects any
// result that escapes the project root (e.g. via "../../etc/passwd").
func resolveProjectPath(workDir, relativePath string) (string, error) {
	if filepath.IsAbs(relativePath) {
		return "", fmt.Errorf("relativePath must not be absolute: %s", relativePath)
	}
	joined := filepath.Join(workDir, relativePath)
	root, err := filepath.Abs(workDir)
	if err != nil {
		return "", err
	}
	abs, err := filepath.Abs(joined)
	if err != nil {
		return "", err
	}
	if abs != root && !strings.HasPrefix(abs, root+string(filepath.Separator)) {
		return "", fmt.Errorf("relativePath escapes project root: %s", relativePath)
	}
	return abs, nil
}

func isImageFile(path string) bool {
	ext := strings.ToLower(filepath.Ext(path))
	return ext == ".jpg" || ext == ".jpeg" || ext == ".png" ||
		ext == ".gif" || ext == ".bmp" || ext == ".webp"
}

func isBinaryFile(path string) bool {
	file, err := os.Open(path)
	if err != nil {
		return false
	}
	defer file.Close()

	buf := make([]byte, 8000)
	n, _ := file.Read(buf)
	if n == 0 {
		return false
	}

	for i := 0; i < n; i++ {
		if buf[i] == 0 {
			return true
		}
	}

	nonPrintable := 0
	for i := 0; i < n; i++ {
		if buf[i] < 32 && buf[i] != '\n' && buf[i] != '\r' && buf[i] != '\t' {
			nonPrintable++
		}
	}
	return float64(nonPrintable)/float64(n) > 0.3
}

func detectMediaType(path string) string {
	ext := strings.ToLower(filepath.Ext(path))
	switch ext {
	case ".jpg", ".jpeg":
		return "image/jpeg"
	case ".png":
		return "image/png"
	case ".gif":
		return "image/gif"
	case ".bmp":
		return "image/bmp"
	case ".webp":
		return "image/webp"
	default:
		return "application/octet-stream"
	}
}

// shouldBlockEnvFile checks if a file should be blocked based on .env patterns.
// Whitelist: .env.sample, .example suffixes are allowed.
func shouldBlockEnvFile(filePath string) bool {
	whitelist := []string{".env.sample", ".example"}
	for _, w := range whitelist {
		if strings.HasSuffix(filePath, w) {
			return false
		}
	}
	if strings.Contains(filePath, ".env") {
		return true
	}
	return false
}
