// protocol_test.go — Tests for envelope parsing, id handling, relaying and payload shapes.
package mcp

import (
	"encoding/json"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseRequest_IDPresence(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name         string
		raw          string
		notification bool
		id           string
	}{
		{"numeric id", `{"jsonrpc":"2.0","id":1,"method":"tools/list"}`, false, `1`},
		{"string id", `{"jsonrpc":"2.0","id":"a-1","method":"tools/list"}`, false, `"a-1"`},
		{"null id is still a request", `{"jsonrpc":"2.0","id":null,"method":"ping"}`, false, `null`},
		{"whitespace in id compacted", `{"jsonrpc":"2.0","id": { "k" : 1 },"method":"ping"}`, false, `{"k":1}`},
		{"missing id", `{"jsonrpc":"2.0","method":"notifications/initialized"}`, true, ``},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			req, err := ParseRequest([]byte(tt.raw))
			require.NoError(t, err)
			assert.Equal(t, tt.notification, req.IsNotification())
			assert.Equal(t, !tt.notification, req.HasID())
			assert.Equal(t, tt.id, string(req.ID))
		})
	}
}

func TestParseRequest_Rejects(t *testing.T) {
	t.Parallel()
	for _, raw := range []string{`[]`, `"x"`, `42`, `{"method":`, ``, `{"method":7}`} {
		_, err := ParseRequest([]byte(raw))
		assert.Error(t, err, raw)
	}
	_, err := ParseRequest([]byte(`[{"method":"ping"}]`))
	assert.ErrorIs(t, err, ErrNotAnObject)
}

func TestResponseShapes(t *testing.T) {
	t.Parallel()
	assert.Equal(t,
		`{"jsonrpc":"2.0","id":"x","result":{"ok":true}}`,
		string(SafeMarshal(NewResult(json.RawMessage(`"x"`), json.RawMessage(`{"ok":true}`)))))
	assert.Equal(t,
		`{"jsonrpc":"2.0","id":null,"error":{"code":-32603,"message":"boom"}}`,
		string(SafeMarshal(NewError(nil, CodeInternalError, "boom"))))
}

func TestSafeMarshal_Fallbacks(t *testing.T) {
	t.Parallel()
	assert.JSONEq(t, internalFallback, string(SafeMarshal(nil)))

	broken := NewResult(json.RawMessage(`1`), json.RawMessage(`{not json`))
	assert.JSONEq(t, internalFallback, string(SafeMarshal(broken)))
}

func TestRelay(t *testing.T) {
	t.Parallel()

	t.Run("matching id kept verbatim", func(t *testing.T) {
		body := `{"jsonrpc":"2.0","id":7,"result":{"b":1,"a":2}}`
		resp, err := Relay(json.RawMessage(`7`), []byte("  "+body+"\n"))
		require.NoError(t, err)
		assert.Equal(t, body, string(SafeMarshal(resp)))
	})

	t.Run("mismatched id rewritten", func(t *testing.T) {
		resp, err := Relay(json.RawMessage(`"mine"`), []byte(`{"jsonrpc":"2.0","id":"theirs","result":{}}`))
		require.NoError(t, err)
		assert.JSONEq(t, `{"jsonrpc":"2.0","id":"mine","result":{}}`, string(SafeMarshal(resp)))
	})

	t.Run("missing id filled", func(t *testing.T) {
		resp, err := Relay(json.RawMessage(`3`), []byte(`{"result":{"ok":true}}`))
		require.NoError(t, err)
		assert.JSONEq(t, `{"id":3,"result":{"ok":true}}`, string(SafeMarshal(resp)))
	})

	t.Run("non-object rejected", func(t *testing.T) {
		_, err := Relay(json.RawMessage(`1`), []byte(`[1]`))
		assert.Error(t, err)
		_, err = Relay(json.RawMessage(`1`), []byte(`null`))
		assert.ErrorIs(t, err, ErrNotAnObject)
	})
}

func TestToolsListResult(t *testing.T) {
	t.Parallel()
	out, err := ToolsListResult([]Capability{
		{Name: "move_object", Description: "d", InputSchema: json.RawMessage(`{}`)},
		{Name: "spawn", Description: "s", InputSchema: json.RawMessage(`{"type":"object","properties":{"n":{"type":"integer"}}}`)},
		{Name: "reset", Description: "r", InputSchema: json.RawMessage(`null`)},
	})
	require.NoError(t, err)
	assert.JSONEq(t, `{"tools":[
		{"name":"move_object","description":"d","inputSchema":{}},
		{"name":"spawn","description":"s","inputSchema":{"type":"object","properties":{"n":{"type":"integer"}}}},
		{"name":"reset","description":"r","inputSchema":{"type":"object"}}
	]}`, string(out))

	empty, err := ToolsListResult(nil)
	require.NoError(t, err)
	assert.JSONEq(t, `{"tools":[]}`, string(empty))
}

func TestToolsListResult_KeepsEmptyDescription(t *testing.T) {
	t.Parallel()
	out, err := ToolsListResult([]Capability{{Name: "x", InputSchema: json.RawMessage(`{}`)}})
	require.NoError(t, err)
	assert.Equal(t, `{"tools":[{"name":"x","description":"","inputSchema":{}}]}`, string(out))
}

func TestParseToolCall(t *testing.T) {
	t.Parallel()

	call, err := ParseToolCall(json.RawMessage(`{"name":"move_object","arguments":{"x":1}}`))
	require.NoError(t, err)
	assert.Equal(t, "move_object", call.Name)
	assert.Equal(t, map[string]any{"x": float64(1)}, call.Arguments)

	call, err = ParseToolCall(json.RawMessage(`{"name":"reset"}`))
	require.NoError(t, err)
	assert.Equal(t, map[string]any{}, call.Arguments)

	for _, bad := range []string{``, `{}`, `{"name":""}`, `"reset"`} {
		_, err := ParseToolCall(json.RawMessage(bad))
		assert.Error(t, err, bad)
	}
}

func TestTruncate(t *testing.T) {
	t.Parallel()
	assert.Equal(t, "short", Truncate("short", 10))
	assert.Equal(t, "abcdefg...", Truncate(strings.Repeat("abcdefg", 3), 10))
	assert.Equal(t, "..", Truncate("abcdef", 2))
}
