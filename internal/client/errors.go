package client

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"

	"github.com/cogniscribe/api/internal/apperr"
)

// classifyTransportErr wraps a transport-level failure. Timeouts and
// connection failures are transient; context cancellation propagates
// as-is so callers can distinguish shutdown from collaborator failure.
func classifyTransportErr(service string, err error) error {
	if errors.Is(err, context.Canceled) {
		return err
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return apperr.Dependency(service, true, err)
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return apperr.Dependency(service, true, err)
	}
	// Connection refused, reset, DNS failures all surface as *net.OpError.
	var opErr *net.OpError
	if errors.As(err, &opErr) {
		return apperr.Dependency(service, true, err)
	}
	return apperr.Dependency(service, true, err)
}

// classifyStatus wraps a non-2xx collaborator response. Server-side and
// throttling statuses are transient; client errors are permanent
// validation-type failures that must not be retried.
func classifyStatus(service string, status int, body []byte) error {
	err := fmt.Errorf("status %d: %s", status, string(body))
	transient := status >= 500 ||
		status == http.StatusTooManyRequests ||
		status == http.StatusRequestTimeout
	return apperr.Dependency(service, transient, err)
}
