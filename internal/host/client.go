// client.go — HTTP client for the local execution host.
// Forward relays raw envelopes (initialize, passthrough); Execute runs a reserved command
// and folds every failure into an Outcome.
package host

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/brennhill/meter-bridge/internal/bridge"
	"github.com/brennhill/meter-bridge/internal/mcp"
)

// ErrHostUnavailable marks network and timeout failures reaching the execution host.
var ErrHostUnavailable = errors.New("execution host unavailable")

// UnavailableError wraps the transport failure behind ErrHostUnavailable.
type UnavailableError struct {
	URL string
	Err error
}

func (e *UnavailableError) Error() string {
	return fmt.Sprintf("failed to connect to execution host at %s: %v", e.URL, e.Err)
}

func (e *UnavailableError) Is(target error) bool { return target == ErrHostUnavailable }
func (e *UnavailableError) Unwrap() error        { return e.Err }

// Outcome is the result of executing one reserved command.
type Outcome struct {
	Success bool
	Result  json.RawMessage   // set when Success
	Error   *mcp.JSONRPCError // set when !Success
}

// ErrorMessage returns the failure description, or "" on success.
func (o Outcome) ErrorMessage() string {
	if o.Success || o.Error == nil {
		return ""
	}
	return o.Error.Message
}

func failure(code int, msg string) Outcome {
	return Outcome{Error: &mcp.JSONRPCError{Code: code, Message: msg}}
}

// Client posts envelopes to the execution host's single endpoint. Safe for concurrent use.
type Client struct {
	url        string
	timeout    time.Duration
	httpClient *http.Client
	log        zerolog.Logger
}

// NewClient creates a host client for url.
func NewClient(url string, timeout time.Duration, logger zerolog.Logger) *Client {
	return &Client{
		url:        url,
		timeout:    timeout,
		httpClient: &http.Client{},
		log:        logger,
	}
}

// Forward posts raw unchanged and returns the host's response body.
// Network failures return an *UnavailableError.
func (c *Client) Forward(ctx context.Context, raw []byte) ([]byte, error) {
	if c.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}

	start := time.Now()
	resp, err := bridge.DoHTTP(ctx, c.httpClient, http.MethodPost, c.url, raw, nil)
	if err != nil {
		c.log.Warn().Err(err).Bool("timeout", bridge.IsTimeout(err)).
			Bool("connection", bridge.IsConnectionError(err)).Msg("execution host unreachable")
		return nil, &UnavailableError{URL: c.url, Err: err}
	}
	body, err := bridge.ReadBody(resp, bridge.MaxResponseBodySize)
	if err != nil {
		return nil, &UnavailableError{URL: c.url, Err: fmt.Errorf("read body: %w", err)}
	}

	c.log.Debug().Int("status", resp.StatusCode).Int("bytes", len(body)).
		Dur("duration", time.Since(start)).Msg("execution host response")
	return body, nil
}

// Execute sends a reserved command and classifies the reply. It never returns an error:
// unreachable hosts, error payloads and unparseable replies all become failed outcomes.
func (c *Client) Execute(ctx context.Context, command json.RawMessage) Outcome {
	body, err := c.Forward(ctx, command)
	if err != nil {
		return failure(mcp.CodeGatewayError, "Execution host connection error: "+err.Error())
	}

	var reply map[string]json.RawMessage
	if err := json.Unmarshal(bytes.TrimSpace(body), &reply); err != nil || reply == nil {
		return failure(mcp.CodeGatewayError, "Execution host returned an invalid response: "+
			mcp.Truncate(strings.TrimSpace(string(body)), 200))
	}

	if raw, ok := reply["error"]; ok && !isNull(raw) {
		e := normalizeError(raw)
		return Outcome{Error: &e}
	}

	result, ok := reply["result"]
	if !ok {
		result = json.RawMessage("null")
	}
	return Outcome{Success: true, Result: result}
}

// normalizeError reduces any host error payload to {code, message}.
func normalizeError(raw json.RawMessage) mcp.JSONRPCError {
	var structured struct {
		Code    *int   `json:"code"`
		Message string `json:"message"`
	}
	if err := json.Unmarshal(raw, &structured); err == nil {
		out := mcp.JSONRPCError{Code: mcp.CodeGatewayError, Message: structured.Message}
		if structured.Code != nil {
			out.Code = *structured.Code
		}
		if out.Message == "" {
			out.Message = "Execution host reported an error"
		}
		return out
	}

	var text string
	if err := json.Unmarshal(raw, &text); err == nil && text != "" {
		return mcp.JSONRPCError{Code: mcp.CodeGatewayError, Message: text}
	}
	return mcp.JSONRPCError{Code: mcp.CodeGatewayError, Message: "Execution host reported an error: " + mcp.Truncate(string(raw), 200)}
}

func isNull(raw json.RawMessage) bool {
	trimmed := bytes.TrimSpace(raw)
	return len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) || bytes.Equal(trimmed, []byte("false"))
}
