// types.go — MCP payload shapes the bridge produces or consumes.
// tools/call params decode through the official MCP Go SDK types.
package mcp

import (
	"encoding/json"
	"fmt"

	sdk "github.com/modelcontextprotocol/go-sdk/mcp"
)

// Capability is one tool descriptor as published by the metering service.
type Capability struct {
	Name        string          `json:"name"`
	Description string          `json:"description"`
	InputSchema json.RawMessage `json:"inputSchema"` // camelCase on the MCP wire
}

// defaultInputSchema is used when a descriptor carries no schema; MCP clients
// reject tools without one.
var defaultInputSchema = json.RawMessage(`{"type":"object"}`)

// toolDescriptor is the tools/list entry shape. Every key is always present, so an
// empty description still reaches the client.
type toolDescriptor struct {
	Name        string          `json:"name"`
	Description string          `json:"description"`
	InputSchema json.RawMessage `json:"inputSchema"`
}

type toolsList struct {
	Tools []toolDescriptor `json:"tools"`
}

// ToolsListResult maps capabilities into the canonical MCP tools/list result.
// Schemas are relayed verbatim.
func ToolsListResult(caps []Capability) (json.RawMessage, error) {
	tools := make([]toolDescriptor, 0, len(caps))
	for _, c := range caps {
		schema := c.InputSchema
		if len(schema) == 0 || string(schema) == "null" {
			schema = defaultInputSchema
		}
		tools = append(tools, toolDescriptor{
			Name:        c.Name,
			Description: c.Description,
			InputSchema: schema,
		})
	}
	out, err := json.Marshal(toolsList{Tools: tools})
	if err != nil {
		return nil, fmt.Errorf("marshal tools/list result: %w", err)
	}
	return out, nil
}

// ToolCall is the decoded params of a tools/call envelope.
type ToolCall struct {
	Name      string
	Arguments any
}

// ParseToolCall decodes tools/call params. Missing arguments become an empty object.
func ParseToolCall(params json.RawMessage) (ToolCall, error) {
	if len(params) == 0 {
		return ToolCall{}, fmt.Errorf("missing params")
	}
	var p sdk.CallToolParams
	if err := json.Unmarshal(params, &p); err != nil {
		return ToolCall{}, fmt.Errorf("invalid params: %w", err)
	}
	if p.Name == "" {
		return ToolCall{}, fmt.Errorf("missing tool name")
	}
	args := p.Arguments
	if args == nil {
		args = map[string]any{}
	}
	return ToolCall{Name: p.Name, Arguments: args}, nil
}
