// http.go — Request/response transport: one envelope per POST body, one response per reply.
package transport

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/rs/zerolog"

	"github.com/brennhill/meter-bridge/internal/mcp"
)

// HTTPServer adapts the dispatcher to HTTP. Requests share nothing but the dispatcher.
type HTTPServer struct {
	dispatcher Dispatcher
	log        zerolog.Logger
}

// NewHTTPServer creates the request/response transport.
func NewHTTPServer(dispatcher Dispatcher, logger zerolog.Logger) *HTTPServer {
	return &HTTPServer{dispatcher: dispatcher, log: logger}
}

// ServeHTTP accepts POST on any path.
func (s *HTTPServer) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.Header().Set("Allow", http.MethodPost)
		writePlain(w, http.StatusMethodNotAllowed, "Method Not Allowed")
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, MaxMessageSize)
	body, err := io.ReadAll(r.Body)
	if err != nil {
		s.log.Warn().Err(err).Str("remote", r.RemoteAddr).Msg("could not read request body")
		writePlain(w, http.StatusBadRequest, "Invalid JSON")
		return
	}

	req, err := mcp.ParseRequest(body)
	if err != nil {
		s.log.Warn().Err(err).
			Int("code", mcp.CodeParseError).
			Str("preview", mcp.Truncate(string(body), 120)).
			Msg("rejecting malformed request body")
		writePlain(w, http.StatusBadRequest, "Invalid JSON")
		return
	}

	resp := s.dispatcher.Dispatch(r.Context(), req, body)
	if resp == nil {
		w.WriteHeader(http.StatusOK)
		return
	}

	payload := mcp.SafeMarshal(resp)
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Content-Length", strconv.Itoa(len(payload)))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(payload)
}

func writePlain(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(status)
	_, _ = io.WriteString(w, msg)
}

// ListenAndServe serves on addr until ctx is canceled, then drains for up to drain.
func (s *HTTPServer) ListenAndServe(ctx context.Context, addr string, drain time.Duration) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", addr, err)
	}
	return s.Serve(ctx, ln, drain)
}

// Serve is ListenAndServe on an existing listener.
func (s *HTTPServer) Serve(ctx context.Context, ln net.Listener, drain time.Duration) error {
	srv := &http.Server{
		Handler:           s,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.log.Info().Str("addr", ln.Addr().String()).Msg("http transport listening")
		errCh <- srv.Serve(ln)
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), drain)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		s.log.Warn().Err(err).Msg("http drain incomplete")
		return fmt.Errorf("shutdown: %w", err)
	}
	s.log.Info().Msg("http transport stopped")
	return nil
}
