// errors.go — JSON-RPC error codes used on the wire by the bridge.
// Standard codes come from JSON-RPC 2.0; the -3200x range carries metering outcomes.
package mcp

const (
	// Standard JSON-RPC 2.0 codes
	CodeParseError     = -32700
	CodeInvalidRequest = -32600
	CodeInvalidParams  = -32602
	CodeInternalError  = -32603

	// Server-defined codes
	CodeGatewayError       = -32000 // metering service failure, host failure on a tool call
	CodeQuotaExhausted     = -32001 // reservation refused: insufficient balance
	CodeEntitlementMissing = -32003 // reservation refused: no active grant
)
