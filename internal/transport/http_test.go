// http_test.go — Tests for the request/response transport.
package transport

import (
	"context"
	"encoding/json"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/brennhill/meter-bridge/internal/mcp"
)

func post(t *testing.T, url, body string) (int, string, http.Header) {
	t.Helper()
	resp, err := http.Post(url, "application/json", strings.NewReader(body))
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()
	b, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp.StatusCode, string(b), resp.Header
}

func TestHTTP_ToolsCallScenario(t *testing.T) {
	t.Parallel()

	var mu sync.Mutex
	var settlements []string
	gateway := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		switch r.URL.Path {
		case "/mcp/reserve":
			assert.JSONEq(t, `{"command_name":"move_object","arguments":{}}`, string(body))
			_, _ = io.WriteString(w, `{"command_to_execute":{"jsonrpc":"2.0","id":"cmd-1","method":"move_object","params":{}},"reservation":{"hold_id":"h1"}}`)
		case "/mcp/settle":
			mu.Lock()
			settlements = append(settlements, string(body))
			mu.Unlock()
			_, _ = io.WriteString(w, `{"ok":true}`)
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer gateway.Close()

	var hostCalls []string
	hostSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		mu.Lock()
		hostCalls = append(hostCalls, string(body))
		mu.Unlock()
		_, _ = io.WriteString(w, `{"result":{"ok":true}}`)
	}))
	defer hostSrv.Close()

	bridgeSrv := httptest.NewServer(NewHTTPServer(newPipeline(t, gateway.URL, hostSrv.URL), zerolog.Nop()))
	defer bridgeSrv.Close()

	status, body, header := post(t, bridgeSrv.URL,
		`{"jsonrpc":"2.0","id":2,"method":"tools/call","params":{"name":"move_object","arguments":{}}}`)

	assert.Equal(t, http.StatusOK, status)
	assert.Equal(t, "application/json", header.Get("Content-Type"))
	assert.JSONEq(t, `{"jsonrpc":"2.0","id":2,"result":{"ok":true}}`, body)

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, hostCalls, 1)
	assert.JSONEq(t, `{"jsonrpc":"2.0","id":"cmd-1","method":"move_object","params":{}}`, hostCalls[0])
	require.Len(t, settlements, 1)
	assert.JSONEq(t, `{"hold_id":"h1","success":true,"result":{"ok":true}}`, settlements[0])
}

func TestHTTP_QuotaRefusalNeverReachesHost(t *testing.T) {
	t.Parallel()
	gateway := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusPaymentRequired)
		_, _ = io.WriteString(w, `{"message":"Insufficient tokens"}`)
	}))
	defer gateway.Close()

	var hostHits int
	var mu sync.Mutex
	hostSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		hostHits++
		mu.Unlock()
	}))
	defer hostSrv.Close()

	bridgeSrv := httptest.NewServer(NewHTTPServer(newPipeline(t, gateway.URL, hostSrv.URL), zerolog.Nop()))
	defer bridgeSrv.Close()

	status, body, _ := post(t, bridgeSrv.URL,
		`{"jsonrpc":"2.0","id":"q","method":"tools/call","params":{"name":"move_object","arguments":{}}}`)

	assert.Equal(t, http.StatusOK, status, "JSON-RPC errors ride on HTTP 200")
	assert.JSONEq(t, `{"jsonrpc":"2.0","id":"q","error":{"code":-32001,"message":"Payment Required: Insufficient tokens"}}`, body)
	mu.Lock()
	assert.Zero(t, hostHits)
	mu.Unlock()
}

func TestHTTP_TransportErrors(t *testing.T) {
	t.Parallel()
	srv := httptest.NewServer(NewHTTPServer(echoDispatcher(), zerolog.Nop()))
	defer srv.Close()

	t.Run("non-POST", func(t *testing.T) {
		resp, err := http.Get(srv.URL + "/anything")
		require.NoError(t, err)
		defer func() { _ = resp.Body.Close() }()
		b, _ := io.ReadAll(resp.Body)
		assert.Equal(t, http.StatusMethodNotAllowed, resp.StatusCode)
		assert.Equal(t, "Method Not Allowed", string(b))
	})

	t.Run("malformed body", func(t *testing.T) {
		status, body, _ := post(t, srv.URL, `{"jsonrpc":`)
		assert.Equal(t, http.StatusBadRequest, status)
		assert.Equal(t, "Invalid JSON", body)
	})

	t.Run("non-object body", func(t *testing.T) {
		status, body, _ := post(t, srv.URL, `"hello"`)
		assert.Equal(t, http.StatusBadRequest, status)
		assert.Equal(t, "Invalid JSON", body)
	})

	t.Run("notification", func(t *testing.T) {
		status, body, _ := post(t, srv.URL, `{"jsonrpc":"2.0","method":"notifications/initialized"}`)
		assert.Equal(t, http.StatusOK, status)
		assert.Empty(t, body)
	})

	t.Run("any path", func(t *testing.T) {
		status, body, _ := post(t, srv.URL+"/some/deep/path", `{"jsonrpc":"2.0","id":1,"method":"ping"}`)
		assert.Equal(t, http.StatusOK, status)
		assert.JSONEq(t, `{"jsonrpc":"2.0","id":1,"result":{"method":"ping"}}`, body)
	})
}

func TestHTTP_ConcurrentRequestsKeepTheirIDs(t *testing.T) {
	t.Parallel()
	d := stubDispatcher{fn: func(req mcp.JSONRPCRequest) *mcp.JSONRPCResponse {
		// id 0 is slowest, so responses complete in reverse order
		var n int
		_ = json.Unmarshal(req.ID, &n)
		time.Sleep(time.Duration(20-n) * 5 * time.Millisecond)
		return mcp.NewResult(req.ID, req.Params)
	}}
	srv := httptest.NewServer(NewHTTPServer(d, zerolog.Nop()))
	defer srv.Close()

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			id := itoa(i)
			status, body, _ := post(t, srv.URL, `{"jsonrpc":"2.0","id":`+id+`,"method":"tools/call","params":{"n":`+id+`}}`)
			assert.Equal(t, http.StatusOK, status)
			assert.JSONEq(t, `{"jsonrpc":"2.0","id":`+id+`,"result":{"n":`+id+`}}`, body)
		}(i)
	}
	wg.Wait()
}

func TestHTTP_ServeStopsOnCancel(t *testing.T) {
	t.Parallel()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	srv := NewHTTPServer(echoDispatcher(), zerolog.Nop())
	done := make(chan error, 1)
	go func() { done <- srv.Serve(ctx, ln, time.Second) }()

	status, _, _ := post(t, "http://"+ln.Addr().String(), `{"jsonrpc":"2.0","id":1,"method":"ping"}`)
	assert.Equal(t, http.StatusOK, status)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(3 * time.Second):
		t.Fatal("Serve did not return after cancel")
	}
}

func TestHTTP_ListenAndServePortInUse(t *testing.T) {
	t.Parallel()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer func() { _ = ln.Close() }()

	err = NewHTTPServer(echoDispatcher(), zerolog.Nop()).ListenAndServe(context.Background(), ln.Addr().String(), time.Second)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "listen on")
}
