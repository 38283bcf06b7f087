// stdio.go — Streaming transport: one envelope per line on stdin, one response per line on stdout.
// Handlers run concurrently; a mutex-serialized writer keeps output lines whole.
package transport

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"sync"

	"github.com/rs/zerolog"

	"github.com/brennhill/meter-bridge/internal/bridge"
	"github.com/brennhill/meter-bridge/internal/mcp"
	"github.com/brennhill/meter-bridge/internal/util"
)

// MaxMessageSize caps one inbound envelope on either transport.
const MaxMessageSize = 10 * 1024 * 1024

// Dispatcher handles one parsed envelope and returns the response to send, or nil.
type Dispatcher interface {
	Dispatch(ctx context.Context, req mcp.JSONRPCRequest, raw []byte) *mcp.JSONRPCResponse
}

// StdioServer serves envelopes read from in and writes responses to out.
type StdioServer struct {
	in         *bufio.Reader
	out        io.Writer
	outMu      sync.Mutex
	dispatcher Dispatcher
	log        zerolog.Logger
}

// NewStdioServer creates a streaming server. out must only be written through the server.
func NewStdioServer(in io.Reader, out io.Writer, dispatcher Dispatcher, logger zerolog.Logger) *StdioServer {
	return &StdioServer{
		in:         bufio.NewReaderSize(in, 64*1024),
		out:        out,
		dispatcher: dispatcher,
		log:        logger,
	}
}

type inbound struct {
	data    []byte
	framing bridge.StdioFraming
	err     error
}

// Serve reads until EOF or ctx cancellation, then waits for in-flight handlers.
// EOF and cancellation are clean exits; any other read error is returned.
func (s *StdioServer) Serve(ctx context.Context) error {
	var wg sync.WaitGroup
	defer wg.Wait()

	msgs := make(chan inbound)
	readerDone := make(chan struct{})
	go s.readLoop(msgs, readerDone)
	defer close(readerDone)

	for {
		select {
		case <-ctx.Done():
			s.log.Info().Msg("stdio transport stopping: context canceled")
			return nil
		case msg := <-msgs:
			if msg.err != nil {
				if errors.Is(msg.err, io.EOF) {
					s.log.Info().Msg("stdin closed, draining in-flight requests")
					return nil
				}
				return fmt.Errorf("read stdin: %w", msg.err)
			}
			s.handle(ctx, &wg, msg)
		}
	}
}

// readLoop feeds messages to Serve. Oversized messages are logged and skipped.
func (s *StdioServer) readLoop(msgs chan<- inbound, done <-chan struct{}) {
	for {
		data, framing, err := bridge.ReadStdioMessage(s.in, MaxMessageSize)
		if errors.Is(err, bridge.ErrMessageTooLarge) {
			s.log.Warn().Int("limit", MaxMessageSize).Msg("dropping oversized stdin message")
			continue
		}
		select {
		case msgs <- inbound{data: data, framing: framing, err: err}:
		case <-done:
			return
		}
		if err != nil {
			return
		}
	}
}

func (s *StdioServer) handle(ctx context.Context, wg *sync.WaitGroup, msg inbound) {
	req, err := mcp.ParseRequest(msg.data)
	if err != nil {
		s.log.Warn().Err(err).
			Int("code", mcp.CodeParseError).
			Stringer("framing", msg.framing).
			Str("preview", mcp.Truncate(string(msg.data), 120)).
			Msg("dropping malformed stdin message")
		return
	}
	s.log.Debug().Str("method", req.Method).Stringer("framing", msg.framing).Msg("stdin message received")

	util.SafeGo(wg, s.onPanic(req, msg.framing), func() {
		resp := s.dispatcher.Dispatch(ctx, req, msg.data)
		if resp != nil {
			s.write(resp, msg.framing)
		}
	})
}

func (s *StdioServer) onPanic(req mcp.JSONRPCRequest, framing bridge.StdioFraming) util.PanicHandler {
	return func(recovered any, stack []byte) {
		s.log.Error().Interface("panic", recovered).Bytes("stack", stack).Str("method", req.Method).
			Msg("stdio handler panic")
		if req.HasID() {
			s.write(mcp.NewError(req.ID, mcp.CodeInternalError, fmt.Sprintf("Internal bridge error: %v", recovered)), framing)
		}
	}
}

// write emits exactly one response, framed like the request it answers.
func (s *StdioServer) write(resp *mcp.JSONRPCResponse, framing bridge.StdioFraming) {
	payload := mcp.SafeMarshal(resp)

	s.outMu.Lock()
	defer s.outMu.Unlock()
	var err error
	if framing == bridge.StdioFramingContentLength {
		_, err = fmt.Fprintf(s.out, "Content-Length: %d\r\n\r\n%s", len(payload), payload)
	} else {
		_, err = s.out.Write(append(payload, '\n'))
	}
	if err != nil {
		s.log.Error().Err(err).Msg("stdout write failed")
	}
}
