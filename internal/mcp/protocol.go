// protocol.go — JSON-RPC 2.0 envelope types shared by both transports.
// Contains the request envelope with id-presence tracking and the response/error types.
package mcp

import (
	"bytes"
	"encoding/json"
	"errors"
)

// Method names with dedicated handling in the bridge.
const (
	MethodInitialize = "initialize"
	MethodToolsList  = "tools/list"
	MethodToolsCall  = "tools/call"
)

// Version is the only JSON-RPC version the bridge speaks.
const Version = "2.0"

// ErrNotAnObject is returned when an envelope is valid JSON but not a JSON object.
var ErrNotAnObject = errors.New("envelope must be a JSON object")

// JSONRPCRequest represents an inbound JSON-RPC 2.0 envelope.
type JSONRPCRequest struct {
	JSONRPC string `json:"jsonrpc"` // field name fixed by JSON-RPC 2.0
	// ID is kept as raw JSON so it round-trips byte-for-byte (string, number, or null).
	ID     json.RawMessage `json:"id,omitempty"`
	Method string          `json:"method"`
	Params json.RawMessage `json:"params,omitempty"`

	idPresent bool
}

// UnmarshalJSON captures whether the id key was present at all.
// A missing id marks a notification; an explicit null id is still a request.
func (r *JSONRPCRequest) UnmarshalJSON(data []byte) error {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 || trimmed[0] != '{' {
		return ErrNotAnObject
	}

	var object map[string]json.RawMessage
	if err := json.Unmarshal(trimmed, &object); err != nil {
		return err
	}

	*r = JSONRPCRequest{}
	if raw, ok := object["jsonrpc"]; ok {
		if err := json.Unmarshal(raw, &r.JSONRPC); err != nil {
			return err
		}
	}
	if raw, ok := object["method"]; ok {
		if err := json.Unmarshal(raw, &r.Method); err != nil {
			return err
		}
	}
	if raw, ok := object["params"]; ok {
		r.Params = raw
	}
	if raw, ok := object["id"]; ok {
		r.idPresent = true
		r.ID = compactRaw(raw)
	}
	return nil
}

// HasID reports whether the envelope carried an id key (i.e. it is not a notification).
func (r JSONRPCRequest) HasID() bool {
	return r.idPresent || len(r.ID) > 0
}

// IsNotification reports whether the envelope expects no response.
func (r JSONRPCRequest) IsNotification() bool {
	return !r.HasID()
}

// ParseRequest decodes one envelope from raw bytes.
func ParseRequest(data []byte) (JSONRPCRequest, error) {
	var req JSONRPCRequest
	if err := json.Unmarshal(data, &req); err != nil {
		return JSONRPCRequest{}, err
	}
	return req, nil
}

// JSONRPCResponse represents an outgoing JSON-RPC 2.0 response.
type JSONRPCResponse struct {
	JSONRPC string `json:"jsonrpc"` // field name fixed by JSON-RPC 2.0
	// ID must match the request; nil marshals as null.
	ID     json.RawMessage `json:"id"`
	Result json.RawMessage `json:"result,omitempty"`
	Error  *JSONRPCError   `json:"error,omitempty"`

	// raw holds a relayed response body that must be emitted unchanged.
	raw json.RawMessage
}

// MarshalJSON emits a relayed body verbatim, otherwise the structured fields.
func (r JSONRPCResponse) MarshalJSON() ([]byte, error) {
	if len(r.raw) > 0 {
		return r.raw, nil
	}
	type plain JSONRPCResponse
	p := plain(r)
	if p.JSONRPC == "" {
		p.JSONRPC = Version
	}
	return json.Marshal(p)
}

// JSONRPCError represents a JSON-RPC 2.0 error.
type JSONRPCError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

// NewResult builds a success response for id.
func NewResult(id json.RawMessage, result json.RawMessage) *JSONRPCResponse {
	return &JSONRPCResponse{JSONRPC: Version, ID: id, Result: result}
}

// NewError builds an error response for id.
func NewError(id json.RawMessage, code int, message string) *JSONRPCResponse {
	return &JSONRPCResponse{
		JSONRPC: Version,
		ID:      id,
		Error:   &JSONRPCError{Code: code, Message: message},
	}
}

// Relay wraps a response body produced elsewhere (the execution host) so it is
// forwarded unchanged. If the body's id differs from id it is rewritten, since the
// caller must always see its own id.
func Relay(id json.RawMessage, body []byte) (*JSONRPCResponse, error) {
	trimmed := bytes.TrimSpace(body)
	var object map[string]json.RawMessage
	if err := json.Unmarshal(trimmed, &object); err != nil {
		return nil, err
	}
	if object == nil {
		return nil, ErrNotAnObject
	}

	want := compactRaw(id)
	if len(want) == 0 {
		want = json.RawMessage("null")
	}
	if got, ok := object["id"]; ok && bytes.Equal(compactRaw(got), want) {
		return &JSONRPCResponse{raw: trimmed}, nil
	}

	object["id"] = want
	rewritten, err := json.Marshal(object)
	if err != nil {
		return nil, err
	}
	return &JSONRPCResponse{raw: rewritten}, nil
}

// compactRaw strips insignificant whitespace so ids compare byte-for-byte.
func compactRaw(raw json.RawMessage) json.RawMessage {
	if len(raw) == 0 {
		return nil
	}
	var buf bytes.Buffer
	if err := json.Compact(&buf, raw); err != nil {
		return raw
	}
	return buf.Bytes()
}
