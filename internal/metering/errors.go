// errors.go — Error taxonomy for metering service calls.
// Quota and entitlement refusals are domain outcomes with their own wire codes;
// everything else collapses into a gateway error.
package metering

import (
	"errors"
	"fmt"

	"github.com/brennhill/meter-bridge/internal/mcp"
)

// Sentinel errors for classification with errors.Is.
var (
	ErrQuotaExhausted     = errors.New("quota exhausted")
	ErrEntitlementMissing = errors.New("entitlement missing")
	ErrGateway            = errors.New("metering gateway error")
)

// QuotaError is returned when the service refuses a reservation for lack of balance (HTTP 402).
type QuotaError struct {
	Message string
}

func (e *QuotaError) Error() string {
	return "Payment Required: " + e.Message
}

// Is matches ErrQuotaExhausted.
func (e *QuotaError) Is(target error) bool {
	return target == ErrQuotaExhausted
}

// EntitlementError is returned when the caller has no active grant (HTTP 403).
type EntitlementError struct {
	Message string
}

func (e *EntitlementError) Error() string {
	return "Access Denied: " + e.Message
}

// Is matches ErrEntitlementMissing.
func (e *EntitlementError) Is(target error) bool {
	return target == ErrEntitlementMissing
}

// GatewayError covers transport failures, timeouts, unexpected statuses and
// undecodable bodies.
type GatewayError struct {
	Op     string // capabilities|reserve|settle
	Status int    // 0 when no response was received
	Err    error
}

func (e *GatewayError) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("metering %s: HTTP %d: %v", e.Op, e.Status, e.Err)
	}
	return fmt.Sprintf("metering %s: %v", e.Op, e.Err)
}

// Is matches ErrGateway.
func (e *GatewayError) Is(target error) bool {
	return target == ErrGateway
}

func (e *GatewayError) Unwrap() error {
	return e.Err
}

// ErrorCode maps a metering failure onto the JSON-RPC code and message shown to the caller.
func ErrorCode(err error) (int, string) {
	var quota *QuotaError
	if errors.As(err, &quota) {
		return mcp.CodeQuotaExhausted, quota.Error()
	}
	var entitlement *EntitlementError
	if errors.As(err, &entitlement) {
		return mcp.CodeEntitlementMissing, entitlement.Error()
	}
	return mcp.CodeGatewayError, "Metering service error: " + err.Error()
}
