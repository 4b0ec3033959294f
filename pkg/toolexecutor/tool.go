package toolexecutor

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/harun/stirrup/pkg/metadata"
)

// ToolParameter defines a parameter for a tool
type ToolParameter struct {
	Name        string                 `json:"name"`
	Type        string                 `json:"type"`
	Description string                 `json:"description"`
	Required    bool                   `json:"required"`
	Default     interface{}            `json:"default,omitempty"`
	Enum        []string               `json:"enum,omitempty"`
	Items       map[string]interface{} `json:"items,omitempty"` // element schema for arrays
}

// ToolHandler is the function signature for tool execution
type ToolHandler func(ctx context.Context, params map[string]interface{}) (ToolResult, error)

// Tool is a named capability the model can invoke
type Tool struct {
	Name        string
	Description string
	Parameters  []ToolParameter
	// Schema is a raw JSON schema for the arguments object. It takes
	// precedence over Parameters when set.
	Schema  map[string]interface{}
	Handler ToolHandler
	Timeout time.Duration
	// Finish marks the tool whose valid invocation ends the session
	Finish bool
}

// ToolResult is what a handler returns to the loop
type ToolResult struct {
	Content  string
	Metadata metadata.Entry
	// ValidFinish is only consulted for finish tools
	ValidFinish bool
}

// Text returns a plain content result
func Text(content string) ToolResult {
	return ToolResult{Content: content}
}

// ErrDuplicateTool is returned when two tools share a name
var ErrDuplicateTool = errors.New("duplicate tool name")

// FatalError aborts the session instead of being reported back to the model
type FatalError struct {
	Tool string
	Err  error
}

func (e *FatalError) Error() string {
	return fmt.Sprintf("fatal error in tool %s: %v", e.Tool, e.Err)
}

func (e *FatalError) Unwrap() error {
	return e.Err
}

// Fatal wraps err so that the session stops when the tool returns it
func Fatal(err error) error {
	return &FatalError{Err: err}
}

// IsFatal reports whether err should abort the session
func IsFatal(err error) bool {
	var fe *FatalError
	return errors.As(err, &fe)
}

var validParamTypes = map[string]bool{
	"string": true, "number": true, "boolean": true,
	"object": true, "array": true, "integer": true,
}

// validateToolDefinition validates a tool definition
func validateToolDefinition(tool *Tool) error {
	if tool == nil {
		return fmt.Errorf("tool cannot be nil")
	}
	if tool.Name == "" {
		return fmt.Errorf("tool name cannot be empty")
	}
	if tool.Description == "" {
		return fmt.Errorf("tool description cannot be empty")
	}
	if tool.Handler == nil {
		return fmt.Errorf("tool handler cannot be nil")
	}

	for _, param := range tool.Parameters {
		if param.Name == "" {
			return fmt.Errorf("parameter name cannot be empty")
		}
		if param.Type == "" {
			return fmt.Errorf("parameter type cannot be empty for %s", param.Name)
		}
		if param.Description == "" {
			return fmt.Errorf("parameter description cannot be empty for %s", param.Name)
		}
		if !validParamTypes[param.Type] {
			return fmt.Errorf("invalid parameter type %s for %s", param.Type, param.Name)
		}
	}

	return nil
}

// JSONSchema returns the argument schema sent to the model and used for validation
func (t *Tool) JSONSchema() map[string]interface{} {
	if t.Schema != nil {
		return t.Schema
	}

	properties := make(map[string]interface{}, len(t.Parameters))
	required := []string{}

	for _, param := range t.Parameters {
		paramSchema := map[string]interface{}{
			"type":        param.Type,
			"description": param.Description,
		}
		if param.Default != nil {
			paramSchema["default"] = param.Default
		}
		if len(param.Enum) > 0 {
			paramSchema["enum"] = param.Enum
		}
		if param.Type == "array" {
			items := param.Items
			if items == nil {
				items = map[string]interface{}{}
			}
			paramSchema["items"] = items
		}

		properties[param.Name] = paramSchema

		if param.Required {
			required = append(required, param.Name)
		}
	}

	schema := map[string]interface{}{
		"type":                 "object",
		"additionalProperties": false,
		"properties":           properties,
	}
	if len(required) > 0 {
		schema["required"] = required
	}
	return schema
}
