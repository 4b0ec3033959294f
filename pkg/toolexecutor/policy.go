package toolexecutor

import (
	"fmt"
	"strings"
)

// ToolPolicy restricts which tools an agent exposes to the model.
// An empty Allow list allows everything; Deny always wins.
type ToolPolicy struct {
	Allow []string `json:"allow" mapstructure:"allow"`
	Deny  []string `json:"deny" mapstructure:"deny"`
}

// IsToolAllowed checks if a tool is allowed by the policy
func (tp *ToolPolicy) IsToolAllowed(toolName string) bool {
	if tp == nil {
		return true
	}

	for _, denied := range tp.Deny {
		if matchToolPattern(denied, toolName) {
			return false
		}
	}

	if len(tp.Allow) == 0 {
		return true
	}

	for _, allowed := range tp.Allow {
		if matchToolPattern(allowed, toolName) {
			return true
		}
	}

	return false
}

// Validate rejects policies that can never expose a tool
func (tp *ToolPolicy) Validate() error {
	if tp == nil {
		return nil
	}
	for _, denied := range tp.Deny {
		if denied == "*" {
			return fmt.Errorf("deny wildcard disables every tool")
		}
	}
	for _, pattern := range append(append([]string{}, tp.Allow...), tp.Deny...) {
		if strings.TrimSpace(pattern) == "" {
			return fmt.Errorf("empty tool pattern")
		}
	}
	return nil
}

// Filter returns the tools the policy allows, preserving order
func (tp *ToolPolicy) Filter(tools []*Tool) []*Tool {
	if tp == nil {
		return tools
	}

	filtered := make([]*Tool, 0, len(tools))
	for _, tool := range tools {
		// The finish tool is never filtered out
		if tool.Finish || tp.IsToolAllowed(tool.Name) {
			filtered = append(filtered, tool)
		}
	}
	return filtered
}

// matchToolPattern supports "*" and a trailing "*" prefix match
func matchToolPattern(pattern, name string) bool {
	if pattern == "*" || pattern == name {
		return true
	}
	if strings.HasSuffix(pattern, "*") {
		return strings.HasPrefix(name, strings.TrimSuffix(pattern, "*"))
	}
	return false
}
