// Package toolexecutor registers and executes structured tools for agents.
//
// Invariants:
// - Tool names are unique within a registry.
// - Arguments are parsed and schema-validated before the handler runs.
// - Only FatalError escapes Execute; every other failure becomes a tool message.
//
// Usage:
//
//	reg := toolexecutor.New(toolexecutor.Config{})
//	_ = reg.RegisterTool(&toolexecutor.Tool{
//		Name: "echo",
//		Description: "Echo input",
//		Parameters: []toolexecutor.ToolParameter{{Name: "text", Type: "string", Description: "text", Required: true}},
//		Handler: func(ctx context.Context, params map[string]interface{}) (toolexecutor.ToolResult, error) {
//			return toolexecutor.Text(params["text"].(string)), nil
//		},
//	})
//	outcome, err := reg.Execute(ctx, call)
package toolexecutor
