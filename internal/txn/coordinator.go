// coordinator.go — reserve -> execute -> settle for tools/call.
// A granted hold is settled exactly once, whatever the execution outcome; a denied
// reservation never reaches the execution host.
package txn

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/brennhill/meter-bridge/internal/host"
	"github.com/brennhill/meter-bridge/internal/mcp"
	"github.com/brennhill/meter-bridge/internal/metering"
)

// Gateway is the metering surface the coordinator needs.
type Gateway interface {
	Reserve(ctx context.Context, name string, args any) (metering.Reservation, error)
	Settle(ctx context.Context, s metering.Settlement) error
}

// Executor runs a reserved command on the execution host.
type Executor interface {
	Execute(ctx context.Context, command json.RawMessage) host.Outcome
}

// Coordinator drives one transaction per tools/call. It holds no per-call state.
type Coordinator struct {
	gateway       Gateway
	executor      Executor
	settleTimeout time.Duration
	log           zerolog.Logger
}

// NewCoordinator wires a coordinator. settleTimeout bounds the detached settlement call.
func NewCoordinator(gateway Gateway, executor Executor, settleTimeout time.Duration, logger zerolog.Logger) *Coordinator {
	return &Coordinator{
		gateway:       gateway,
		executor:      executor,
		settleTimeout: settleTimeout,
		log:           logger,
	}
}

// transaction tracks one invocation for logging and transition checks.
type transaction struct {
	id     string
	tool   string
	holdID string
	state  State
	start  time.Time
	log    zerolog.Logger
}

func (t *transaction) advance(next State) {
	if !CanTransition(t.state, next) {
		t.log.Error().Stringer("from", t.state).Stringer("to", next).Msg("illegal transaction transition")
	}
	t.log.Debug().Stringer("from", t.state).Stringer("state", next).Str("hold_id", t.holdID).Msg("transition")
	t.state = next
	if next.Terminal() {
		t.log.Info().
			Stringer("state", next).
			Str("hold_id", t.holdID).
			Dur("elapsed", time.Since(t.start)).
			Msg("transaction finished")
	}
}

// Invoke runs a tools/call envelope to completion and returns the caller-facing response.
// The response reflects the execution outcome only; settlement failures are logged.
func (c *Coordinator) Invoke(ctx context.Context, req mcp.JSONRPCRequest) *mcp.JSONRPCResponse {
	call, err := mcp.ParseToolCall(req.Params)
	if err != nil {
		return mcp.NewError(req.ID, mcp.CodeInvalidParams, "Invalid params: "+err.Error())
	}

	t := &transaction{id: uuid.NewString(), tool: call.Name, state: StateRequested, start: time.Now()}
	t.log = c.log.With().Str("txn_id", t.id).Str("tool", call.Name).Logger()

	res, err := c.gateway.Reserve(ctx, call.Name, call.Arguments)
	if err != nil {
		t.advance(StateAborted)
		code, msg := metering.ErrorCode(err)
		t.log.Warn().Err(err).Int("code", code).Msg("reservation denied")
		return mcp.NewError(req.ID, code, msg)
	}
	t.holdID = res.HoldID
	t.advance(StateReserved)

	t.advance(StateExecuting)
	outcome := c.executor.Execute(ctx, res.Command)
	if !outcome.Success {
		t.log.Warn().Str("hold_id", t.holdID).Str("error", outcome.ErrorMessage()).Msg("execution failed")
	}

	t.advance(StateSettling)
	c.settle(ctx, t, outcome)
	t.advance(StateDone)

	if outcome.Success {
		return mcp.NewResult(req.ID, outcome.Result)
	}
	e := outcome.Error
	if e == nil {
		e = &mcp.JSONRPCError{Code: mcp.CodeGatewayError, Message: "Execution failed"}
	}
	return mcp.NewError(req.ID, e.Code, e.Message)
}

// settle reports the outcome once when a hold exists. The call is detached from caller
// cancellation so a disconnect after execution cannot strand the hold.
func (c *Coordinator) settle(ctx context.Context, t *transaction, outcome host.Outcome) {
	if t.holdID == "" {
		t.log.Debug().Msg("no hold issued, settlement skipped")
		return
	}

	settleCtx := context.WithoutCancel(ctx)
	if c.settleTimeout > 0 {
		var cancel context.CancelFunc
		settleCtx, cancel = context.WithTimeout(settleCtx, c.settleTimeout)
		defer cancel()
	}

	s := metering.Settlement{HoldID: t.holdID, Success: outcome.Success}
	if outcome.Success {
		s.Result = outcome.Result
	} else {
		s.ErrorMessage = outcome.ErrorMessage()
	}
	if err := c.gateway.Settle(settleCtx, s); err != nil {
		t.log.Error().Err(err).Str("hold_id", t.holdID).Bool("success", outcome.Success).
			Msg("settlement failed, hold left to remote expiry")
		return
	}
	t.log.Info().Str("hold_id", t.holdID).Bool("success", outcome.Success).Msg("settled")
}
