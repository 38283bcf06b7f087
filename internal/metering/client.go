// client.go — HTTP client for the remote metering service.
// Lists the capability catalog, reserves a hold before a tool runs, settles it afterwards.
package metering

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/brennhill/meter-bridge/internal/bridge"
	"github.com/brennhill/meter-bridge/internal/mcp"
)

// maxResponseBodySize caps metering responses; catalogs and reservations are small.
const maxResponseBodySize = 2 << 20

// Reservation is a provisional debit granted for one tool invocation.
type Reservation struct {
	HoldID  string          // empty when the service issued no hold
	Command json.RawMessage // opaque envelope to send to the execution host
}

// Settlement reports the final outcome of a reservation.
type Settlement struct {
	HoldID       string          `json:"hold_id"`
	Success      bool            `json:"success"`
	ErrorMessage string          `json:"error_message,omitempty"`
	Result       json.RawMessage `json:"result,omitempty"`
}

// Client talks to the metering service. It is safe for concurrent use.
type Client struct {
	baseURL    string
	apiKey     string
	timeout    time.Duration
	httpClient *http.Client
	log        zerolog.Logger
}

// NewClient creates a metering client. baseURL is the service root, e.g. http://localhost:8787/api.
func NewClient(baseURL, apiKey string, timeout time.Duration, logger zerolog.Logger) *Client {
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		apiKey:     apiKey,
		timeout:    timeout,
		httpClient: &http.Client{},
		log:        logger,
	}
}

type reserveRequest struct {
	CommandName string `json:"command_name"`
	Arguments   any    `json:"arguments"`
}

type reserveResponse struct {
	CommandToExecute json.RawMessage `json:"command_to_execute"`
	Reservation      *struct {
		HoldID *string `json:"hold_id"`
	} `json:"reservation"`
}

type catalogEntry struct {
	Name        *string         `json:"name"`
	Description *string         `json:"description"`
	InputSchema json.RawMessage `json:"inputSchema"`
	Parameters  json.RawMessage `json:"parameters"`
}

// ListCapabilities fetches the tool catalog. Entries without a name are dropped.
func (c *Client) ListCapabilities(ctx context.Context) ([]mcp.Capability, error) {
	status, body, err := c.do(ctx, "capabilities", http.MethodGet, "/mcp/capabilities", nil)
	if err != nil {
		return nil, err
	}
	if status < 200 || status > 299 {
		return nil, &GatewayError{Op: "capabilities", Status: status, Err: errors.New(compactMessage(body))}
	}

	list, err := unwrapCatalog(body)
	if err != nil {
		return nil, &GatewayError{Op: "capabilities", Status: status, Err: err}
	}
	if err := validate(catalogEntries, list); err != nil {
		return nil, &GatewayError{Op: "capabilities", Status: status, Err: err}
	}

	var entries []catalogEntry
	if err := json.Unmarshal(list, &entries); err != nil {
		return nil, &GatewayError{Op: "capabilities", Status: status, Err: fmt.Errorf("decode: %w", err)}
	}

	caps := make([]mcp.Capability, 0, len(entries))
	for _, e := range entries {
		if e.Name == nil || strings.TrimSpace(*e.Name) == "" {
			continue
		}
		cp := mcp.Capability{Name: *e.Name, InputSchema: e.InputSchema}
		if e.Description != nil {
			cp.Description = *e.Description
		}
		if isAbsent(cp.InputSchema) {
			cp.InputSchema = e.Parameters
		}
		caps = append(caps, cp)
	}
	return caps, nil
}

// Reserve requests a hold for one invocation of name with args.
// 402 yields a *QuotaError, 403 an *EntitlementError, anything else unexpected a *GatewayError.
func (c *Client) Reserve(ctx context.Context, name string, args any) (Reservation, error) {
	payload, err := json.Marshal(reserveRequest{CommandName: name, Arguments: args})
	if err != nil {
		return Reservation{}, &GatewayError{Op: "reserve", Err: fmt.Errorf("marshal: %w", err)}
	}

	status, body, err := c.do(ctx, "reserve", http.MethodPost, "/mcp/reserve", payload)
	if err != nil {
		return Reservation{}, err
	}
	switch {
	case status == http.StatusPaymentRequired:
		return Reservation{}, &QuotaError{Message: refusalMessage(body, "Insufficient tokens")}
	case status == http.StatusForbidden:
		return Reservation{}, &EntitlementError{Message: refusalMessage(body, "Subscription required")}
	case status < 200 || status > 299:
		return Reservation{}, &GatewayError{Op: "reserve", Status: status, Err: errors.New(compactMessage(body))}
	}

	if err := validate(reserveSchema, body); err != nil {
		return Reservation{}, &GatewayError{Op: "reserve", Status: status, Err: err}
	}
	var decoded reserveResponse
	if err := json.Unmarshal(body, &decoded); err != nil {
		return Reservation{}, &GatewayError{Op: "reserve", Status: status, Err: fmt.Errorf("decode: %w", err)}
	}

	res := Reservation{Command: decoded.CommandToExecute}
	if decoded.Reservation != nil && decoded.Reservation.HoldID != nil {
		res.HoldID = *decoded.Reservation.HoldID
	}
	return res, nil
}

// Settle commits or releases a hold. Any 2xx is an acknowledgement.
func (c *Client) Settle(ctx context.Context, s Settlement) error {
	if !s.Success {
		s.Result = nil
	}
	payload, err := json.Marshal(s)
	if err != nil {
		return &GatewayError{Op: "settle", Err: fmt.Errorf("marshal: %w", err)}
	}

	status, body, err := c.do(ctx, "settle", http.MethodPost, "/mcp/settle", payload)
	if err != nil {
		return err
	}
	if status < 200 || status > 299 {
		return &GatewayError{Op: "settle", Status: status, Err: errors.New(compactMessage(body))}
	}
	return nil
}

// do sends one request under the timeout ceiling and returns status and body.
// Transport failures come back as *GatewayError.
func (c *Client) do(ctx context.Context, op, method, path string, payload []byte) (int, []byte, error) {
	if c.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}

	requestID := uuid.NewString()
	header := http.Header{}
	header.Set("X-API-Key", c.apiKey)
	header.Set("X-Request-Id", requestID)

	start := time.Now()
	resp, err := bridge.DoHTTP(ctx, c.httpClient, method, c.baseURL+path, payload, header)
	if err != nil {
		c.log.Warn().Err(err).Str("op", op).Str("request_id", requestID).
			Bool("timeout", bridge.IsTimeout(err)).Msg("metering request failed")
		return 0, nil, &GatewayError{Op: op, Err: err}
	}
	body, err := bridge.ReadBody(resp, maxResponseBodySize)
	if err != nil {
		return resp.StatusCode, nil, &GatewayError{Op: op, Status: resp.StatusCode, Err: fmt.Errorf("read body: %w", err)}
	}

	c.log.Debug().Str("op", op).Str("request_id", requestID).Int("status", resp.StatusCode).
		Dur("duration", time.Since(start)).Msg("metering request")
	return resp.StatusCode, body, nil
}

// unwrapCatalog accepts a bare array or an object wrapping it under
// "capabilities" or "commands".
func unwrapCatalog(body []byte) (json.RawMessage, error) {
	trimmed := bytes.TrimSpace(body)
	if len(trimmed) > 0 && trimmed[0] == '[' {
		return trimmed, nil
	}
	var wrapped map[string]json.RawMessage
	if err := json.Unmarshal(trimmed, &wrapped); err != nil {
		return nil, fmt.Errorf("decode: %w", err)
	}
	for _, key := range []string{"capabilities", "commands"} {
		if list, ok := wrapped[key]; ok && !isAbsent(list) {
			return list, nil
		}
	}
	return nil, errors.New("catalog response has no capabilities array")
}

func refusalMessage(body []byte, fallback string) string {
	var payload struct {
		Message string `json:"message"`
	}
	if err := json.Unmarshal(body, &payload); err == nil && strings.TrimSpace(payload.Message) != "" {
		return payload.Message
	}
	return fallback
}

func compactMessage(body []byte) string {
	msg := strings.Join(strings.Fields(string(body)), " ")
	if msg == "" {
		return "empty response body"
	}
	return mcp.Truncate(msg, 200)
}

func isAbsent(raw json.RawMessage) bool {
	trimmed := bytes.TrimSpace(raw)
	return len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null"))
}
