// conn.go — Connection helpers: error classification and the shared HTTP POST path.
package bridge

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net"
	"net/http"
	"strings"
)

// MaxResponseBodySize caps how much of any upstream response body is read.
const MaxResponseBodySize = 10 * 1024 * 1024

// IsConnectionError returns true if the error indicates the peer is unreachable.
func IsConnectionError(err error) bool {
	if err == nil {
		return false
	}
	// Prefer typed error checks over string matching
	var opErr *net.OpError
	if errors.As(err, &opErr) {
		return true
	}
	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return true
	}
	// Fallback: string check for wrapped errors that lose type info
	msg := err.Error()
	return strings.Contains(msg, "connection refused") ||
		strings.Contains(msg, "no such host")
}

// IsTimeout reports whether err is a deadline expiry, from the context or the transport.
func IsTimeout(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}

// DoHTTP sends a JSON payload to endpoint and returns the HTTP response.
// header values are added on top of the JSON content headers.
// The caller must provide a context that outlives the response body read.
func DoHTTP(ctx context.Context, client *http.Client, method, endpoint string, payload []byte, header http.Header) (*http.Response, error) {
	var body io.Reader
	if payload != nil {
		body = bytes.NewReader(payload)
	}
	httpReq, err := http.NewRequestWithContext(ctx, method, endpoint, body) // #nosec G704 -- endpoints come from startup config
	if err != nil {
		return nil, err
	}
	if payload != nil {
		httpReq.Header.Set("Content-Type", "application/json")
	}
	httpReq.Header.Set("Accept", "application/json")
	for key, values := range header {
		for _, value := range values {
			httpReq.Header.Add(key, value)
		}
	}
	return client.Do(httpReq)
}

// ReadBody reads at most limit bytes of the response body and closes it.
func ReadBody(resp *http.Response, limit int64) ([]byte, error) {
	defer func() { _ = resp.Body.Close() }()
	return io.ReadAll(io.LimitReader(resp.Body, limit))
}
