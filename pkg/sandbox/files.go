package sandbox

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/harun/stirrup/internal/tracing"
	"github.com/harun/stirrup/pkg/toolexecutor"
)

const (
	ReadFileTool  = "read_file"
	WriteFileTool = "write_file"
	EditFileTool  = "edit_file"

	defaultReadLimit = 200000
)

// ErrOutsideWorkDir is returned for paths that resolve outside the working directory
var ErrOutsideWorkDir = errors.New("path escapes the working directory")

func (p *LocalProvider) fileTools() []*toolexecutor.Tool {
	return []*toolexecutor.Tool{
		{
			Name:        ReadFileTool,
			Description: "Read a file from the working directory.",
			Parameters: []toolexecutor.ToolParameter{
				{Name: "path", Type: "string", Description: "File path relative to the working directory", Required: true},
				{Name: "max_bytes", Type: "integer", Description: fmt.Sprintf("Maximum bytes to read (default %d)", defaultReadLimit)},
			},
			Handler: p.handleReadFile,
		},
		{
			Name:        WriteFileTool,
			Description: "Write content to a file in the working directory, creating parent directories.",
			Parameters: []toolexecutor.ToolParameter{
				{Name: "path", Type: "string", Description: "File path relative to the working directory", Required: true},
				{Name: "content", Type: "string", Description: "File content", Required: true},
				{Name: "append", Type: "boolean", Description: "Append instead of overwriting"},
			},
			Handler: p.handleWriteFile,
		},
		{
			Name:        EditFileTool,
			Description: "Replace text in a file in the working directory.",
			Parameters: []toolexecutor.ToolParameter{
				{Name: "path", Type: "string", Description: "File path relative to the working directory", Required: true},
				{Name: "search", Type: "string", Description: "Exact text to find", Required: true},
				{Name: "replace", Type: "string", Description: "Replacement text", Required: true},
				{Name: "replace_all", Type: "boolean", Description: "Replace every occurrence instead of the first"},
			},
			Handler: p.handleEditFile,
		},
	}
}

// ResolvePath maps a relative or absolute path onto the working directory
// and rejects anything that escapes it.
func (p *LocalProvider) ResolvePath(path string) (string, error) {
	workDir := p.WorkDir()
	if workDir == "" {
		return "", ErrNotAcquired
	}

	path = strings.TrimSpace(path)
	if path == "" {
		return "", fmt.Errorf("path is required")
	}

	candidate := path
	if !filepath.IsAbs(candidate) {
		candidate = filepath.Join(workDir, candidate)
	}
	candidate = filepath.Clean(candidate)

	rel, err := filepath.Rel(workDir, candidate)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("%w: %s", ErrOutsideWorkDir, path)
	}
	return candidate, nil
}

func (p *LocalProvider) handleReadFile(ctx context.Context, params map[string]interface{}) (toolexecutor.ToolResult, error) {
	pathValue, _ := params["path"].(string)
	target, err := p.ResolvePath(pathValue)
	if err != nil {
		return toolexecutor.ToolResult{}, err
	}

	limit := int64(defaultReadLimit)
	if raw, ok := params["max_bytes"].(float64); ok && raw > 0 {
		limit = int64(raw)
	}

	data, truncated, err := readFileWithLimit(target, limit)
	if err != nil {
		return toolexecutor.ToolResult{}, err
	}

	content := string(data)
	if truncated {
		content += fmt.Sprintf("\n... (truncated at %d bytes)", limit)
	}
	return toolexecutor.Text(content), nil
}

func (p *LocalProvider) handleWriteFile(ctx context.Context, params map[string]interface{}) (toolexecutor.ToolResult, error) {
	pathValue, _ := params["path"].(string)
	target, err := p.ResolvePath(pathValue)
	if err != nil {
		return toolexecutor.ToolResult{}, err
	}
	content, _ := params["content"].(string)
	appendMode, _ := params["append"].(bool)

	if err := os.MkdirAll(filepath.Dir(target), 0755); err != nil {
		return toolexecutor.ToolResult{}, err
	}

	flag := os.O_CREATE | os.O_WRONLY
	if appendMode {
		flag |= os.O_APPEND
	} else {
		flag |= os.O_TRUNC
	}
	f, err := os.OpenFile(target, flag, 0644)
	if err != nil {
		return toolexecutor.ToolResult{}, err
	}
	if _, err := f.WriteString(content); err != nil {
		f.Close()
		return toolexecutor.ToolResult{}, err
	}
	if err := f.Close(); err != nil {
		return toolexecutor.ToolResult{}, err
	}

	logger := tracing.LoggerFromContext(ctx, p.logger)
	logger.Debug().
		Str("path", pathValue).
		Int("bytes", len(content)).
		Bool("append", appendMode).
		Msg("File written in sandbox")

	verb := "Wrote"
	if appendMode {
		verb = "Appended"
	}
	return toolexecutor.Text(fmt.Sprintf("%s %d bytes to %s", verb, len(content), pathValue)), nil
}

func (p *LocalProvider) handleEditFile(ctx context.Context, params map[string]interface{}) (toolexecutor.ToolResult, error) {
	pathValue, _ := params["path"].(string)
	target, err := p.ResolvePath(pathValue)
	if err != nil {
		return toolexecutor.ToolResult{}, err
	}
	search, _ := params["search"].(string)
	replace, _ := params["replace"].(string)
	replaceAll, _ := params["replace_all"].(bool)
	if search == "" {
		return toolexecutor.ToolResult{}, fmt.Errorf("search is required")
	}

	info, err := os.Stat(target)
	if err != nil {
		return toolexecutor.ToolResult{}, err
	}
	data, err := os.ReadFile(target)
	if err != nil {
		return toolexecutor.ToolResult{}, err
	}
	content := string(data)

	occurrences := strings.Count(content, search)
	if occurrences == 0 {
		return toolexecutor.ToolResult{}, fmt.Errorf("search text not found in %s", pathValue)
	}
	if replaceAll {
		content = strings.ReplaceAll(content, search, replace)
	} else {
		occurrences = 1
		content = strings.Replace(content, search, replace, 1)
	}

	if err := os.WriteFile(target, []byte(content), info.Mode().Perm()); err != nil {
		return toolexecutor.ToolResult{}, err
	}
	return toolexecutor.Text(fmt.Sprintf("Replaced %d occurrence(s) in %s", occurrences, pathValue)), nil
}

func readFileWithLimit(path string, limit int64) ([]byte, bool, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, false, err
	}
	defer f.Close()

	var buf bytes.Buffer
	// one extra byte tells whether the file was longer than limit
	n, err := io.CopyN(&buf, f, limit+1)
	if err != nil && !errors.Is(err, io.EOF) {
		return nil, false, err
	}
	if n > limit {
		return buf.Bytes()[:limit], true, nil
	}
	return buf.Bytes(), false, nil
}
