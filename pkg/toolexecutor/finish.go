package toolexecutor

import (
	"context"
	"encoding/json"
	"fmt"
)

// FinishToolName is the name of the default finish tool
const FinishToolName = "finish"

// FinishParams are the arguments of the default finish tool
type FinishParams struct {
	Reason string   `json:"reason"`
	Paths  []string `json:"paths"`
}

// NewFinishTool returns the default finish tool. paths lists files in the
// execution environment that should be handed back to the caller.
func NewFinishTool() *Tool {
	return &Tool{
		Name:        FinishToolName,
		Description: "Signal that the task is complete. Call this once with a short reason and the paths of the output files.",
		Parameters: []ToolParameter{
			{
				Name:        "reason",
				Type:        "string",
				Description: "Why the task is considered complete",
				Required:    true,
			},
			{
				Name:        "paths",
				Type:        "array",
				Description: "Output files relative to the working directory; pass an empty list when there are none",
				Items:       map[string]interface{}{"type": "string"},
				Required:    true,
			},
		},
		Finish: true,
		Handler: func(ctx context.Context, params map[string]interface{}) (ToolResult, error) {
			fp, err := DecodeFinishParams(params)
			if err != nil {
				return ToolResult{}, err
			}
			return ToolResult{
				Content:     fmt.Sprintf("Task finished: %s", fp.Reason),
				ValidFinish: true,
			}, nil
		},
	}
}

// DecodeFinishParams converts validated finish arguments into FinishParams
func DecodeFinishParams(params map[string]interface{}) (FinishParams, error) {
	var fp FinishParams
	data, err := json.Marshal(params)
	if err != nil {
		return fp, err
	}
	if err := json.Unmarshal(data, &fp); err != nil {
		return fp, fmt.Errorf("invalid finish arguments: %w", err)
	}
	return fp, nil
}
