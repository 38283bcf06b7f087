// response.go — Serialization helpers for responses written to a transport.
package mcp

import (
	"encoding/json"
)

// internalFallback is emitted when a response cannot be serialized at all.
const internalFallback = `{"jsonrpc":"2.0","id":null,"error":{"code":-32603,"message":"Internal error: failed to marshal response"}}`

// SafeMarshal serializes a response, degrading to a fixed internal-error payload.
// The returned bytes are always a single valid JSON value with no trailing newline.
func SafeMarshal(resp *JSONRPCResponse) []byte {
	if resp == nil {
		return []byte(internalFallback)
	}
	out, err := json.Marshal(resp)
	if err != nil || !json.Valid(out) {
		return []byte(internalFallback)
	}
	return out
}

// Truncate returns s unchanged if len(s) <= maxLen. Otherwise, it truncates
// and appends "..." so the total output length equals maxLen.
func Truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	if maxLen <= 3 {
		return "..."[:maxLen]
	}
	return s[:maxLen-3] + "..."
}
