package subscriber

import (
	"context"
	"errors"
	"net"
	"strings"

	"github.com/lib/pq"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/aura/underwriting/internal/engine"
)

// transientMarkers are matched case-insensitively against error text.
// The broker policy is nack-and-redeliver for transient failures, ack
// for everything else so a poison message cannot loop forever.
var transientMarkers = []string{
	"connection refused",
	"connection reset",
	"broken pipe",
	"i/o timeout",
	"timeout",
	"timed out",
	"temporarily unavailable",
	"unavailable",
	"deadline exceeded",
	"too many connections",
	"network",
	"no such host",
}

// transientPgCodes are PostgreSQL error codes worth a retry: connection
// exceptions (class 08), insufficient resources (class 53), transaction
// serialization failures and deadlocks.
var transientPgCodes = map[string]bool{
	"40001": true, // serialization_failure
	"40P01": true, // deadlock_detected
	"57P03": true, // cannot_connect_now
}

// IsTransient reports whether err should trigger redelivery. Typed
// checks run first; the substring scan is the fallback for stringified
// errors.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}

	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return true
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}

	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		class := string(pqErr.Code.Class())
		if class == "08" || class == "53" || transientPgCodes[string(pqErr.Code)] {
			return true
		}
	}

	var procErr *engine.ProcessorError
	if errors.As(err, &procErr) {
		if procErr.Kind == engine.FailAPI {
			return procErr.Retryable
		}
	}

	if st, ok := status.FromError(err); ok && st.Code() != codes.OK && st.Code() != codes.Unknown {
		switch st.Code() {
		case codes.Unavailable, codes.DeadlineExceeded, codes.Aborted, codes.ResourceExhausted, codes.Internal:
			return true
		default:
			return false
		}
	}

	return IsTransientText(err.Error())
}

// IsTransientText classifies an already stringified error message.
func IsTransientText(msg string) bool {
	if msg == "" {
		return false
	}
	lower := strings.ToLower(msg)
	for _, marker := range transientMarkers {
		if strings.Contains(lower, marker) {
			return true
		}
	}
	return false
}
