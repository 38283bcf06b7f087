// dispatcher.go — Method routing shared by both transports.
// Returns the response to write, or nil when the envelope expects none.
package dispatch

import (
	"context"
	"encoding/json"
	"fmt"
	"runtime/debug"
	"time"

	"github.com/rs/zerolog"

	"github.com/brennhill/meter-bridge/internal/mcp"
)

// Catalog lists the metered tool catalog.
type Catalog interface {
	ListCapabilities(ctx context.Context) ([]mcp.Capability, error)
}

// Forwarder relays raw envelopes to the execution host.
type Forwarder interface {
	Forward(ctx context.Context, raw []byte) ([]byte, error)
}

// Invoker runs a metered tools/call.
type Invoker interface {
	Invoke(ctx context.Context, req mcp.JSONRPCRequest) *mcp.JSONRPCResponse
}

// Dispatcher routes envelopes by method. It holds only its collaborators and is safe
// for concurrent use.
type Dispatcher struct {
	catalog Catalog
	host    Forwarder
	invoker Invoker
	log     zerolog.Logger
}

// New creates a dispatcher.
func New(catalog Catalog, host Forwarder, invoker Invoker, logger zerolog.Logger) *Dispatcher {
	return &Dispatcher{catalog: catalog, host: host, invoker: invoker, log: logger}
}

// Dispatch handles one parsed envelope. raw is the envelope as received and is what
// gets forwarded on passthrough. Faults, panics included, become internal errors.
func (d *Dispatcher) Dispatch(ctx context.Context, req mcp.JSONRPCRequest, raw []byte) (resp *mcp.JSONRPCResponse) {
	start := time.Now()
	defer func() {
		if r := recover(); r != nil {
			d.log.Error().Str("method", req.Method).Interface("panic", r).
				Bytes("stack", debug.Stack()).Msg("dispatch panic recovered")
			resp = d.internalError(req, fmt.Sprint(r))
		}
		d.log.Debug().Str("method", req.Method).RawJSON("id", idForLog(req)).
			Dur("duration", time.Since(start)).Bool("responded", resp != nil).Msg("dispatched")
	}()

	switch {
	case req.Method == mcp.MethodToolsCall:
		// Routed even without an id so the call is still metered.
		resp = d.invoker.Invoke(ctx, req)
		if req.IsNotification() {
			return nil
		}
		return resp
	case req.Method == "":
		if req.IsNotification() {
			return nil
		}
		return mcp.NewError(req.ID, mcp.CodeInvalidRequest, "Invalid Request: missing method")
	case req.IsNotification():
		d.notify(ctx, req, raw)
		return nil
	case req.Method == mcp.MethodToolsList:
		return d.toolsList(ctx, req)
	case req.Method == mcp.MethodInitialize:
		return d.initialize(ctx, req, raw)
	default:
		return d.passthrough(ctx, req, raw)
	}
}

// initialize relays the handshake to the host unchanged and records who connected.
func (d *Dispatcher) initialize(ctx context.Context, req mcp.JSONRPCRequest, raw []byte) *mcp.JSONRPCResponse {
	var params struct {
		ProtocolVersion string `json:"protocolVersion"`
		ClientInfo      struct {
			Name    string `json:"name"`
			Version string `json:"version"`
		} `json:"clientInfo"`
	}
	_ = json.Unmarshal(req.Params, &params)
	d.log.Info().
		Str("protocol_version", params.ProtocolVersion).
		Str("client", params.ClientInfo.Name).
		Str("client_version", params.ClientInfo.Version).
		Msg("client session initializing")
	return d.passthrough(ctx, req, raw)
}

func (d *Dispatcher) toolsList(ctx context.Context, req mcp.JSONRPCRequest) *mcp.JSONRPCResponse {
	caps, err := d.catalog.ListCapabilities(ctx)
	if err != nil {
		d.log.Warn().Err(err).Msg("tools/list failed")
		return mcp.NewError(req.ID, mcp.CodeGatewayError, "Failed to fetch tools list from metering service")
	}
	result, err := mcp.ToolsListResult(caps)
	if err != nil {
		return d.internalError(req, err.Error())
	}
	return mcp.NewResult(req.ID, result)
}

func (d *Dispatcher) passthrough(ctx context.Context, req mcp.JSONRPCRequest, raw []byte) *mcp.JSONRPCResponse {
	body, err := d.host.Forward(ctx, raw)
	if err != nil {
		return d.internalError(req, err.Error())
	}
	resp, err := mcp.Relay(req.ID, body)
	if err != nil {
		return d.internalError(req, "execution host returned a non-JSON-RPC response: "+mcp.Truncate(string(body), 200))
	}
	return resp
}

// notify forwards a lifecycle notification; the host's reply, if any, is discarded.
func (d *Dispatcher) notify(ctx context.Context, req mcp.JSONRPCRequest, raw []byte) {
	if _, err := d.host.Forward(ctx, raw); err != nil {
		d.log.Warn().Err(err).Str("method", req.Method).Msg("notification not delivered")
	}
}

func (d *Dispatcher) internalError(req mcp.JSONRPCRequest, msg string) *mcp.JSONRPCResponse {
	if req.IsNotification() {
		d.log.Error().Str("method", req.Method).Str("error", msg).Msg("notification failed")
		return nil
	}
	return mcp.NewError(req.ID, mcp.CodeInternalError, "Internal bridge error: "+msg)
}

func idForLog(req mcp.JSONRPCRequest) json.RawMessage {
	if len(req.ID) == 0 {
		return json.RawMessage("null")
	}
	return req.ID
}
