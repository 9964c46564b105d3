package orchestrator

import (
	"context"
	"errors"
	"strings"

	"github.com/ChamsBouzaiene/relay/internal/safety"
)

// Sentinel errors surfaced by Send.
var (
	// ErrCancelled reports that a stop was pending when the message
	// arrived, so the query never opened a stream.
	ErrCancelled = errors.New("query cancelled before start")

	// ErrQueryInFlight reports a second Send while one is active. The
	// caller is expected to gate on IsRunning; this is a guard, not a
	// queue.
	ErrQueryInFlight = errors.New("a query is already in flight")
)

// StopResult is the outcome of a Stop call.
type StopResult string

const (
	StopStopped     StopResult = "stopped"      // running query cancelled
	StopPending     StopResult = "pending"      // recorded, honored before the stream opens
	StopNoneRunning StopResult = "none_running" // nothing to stop
)

// isBlocked reports whether err is a safety veto. Vetoes abort the query
// but must not be recorded as session faults.
func isBlocked(err error) bool {
	var blocked *safety.BlockedError
	return errors.As(err, &blocked)
}

// isCancelLike reports whether err reads as a cooperative-cancellation
// artifact rather than a real backend failure.
func isCancelLike(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "cancel") || strings.Contains(msg, "abort") ||
		strings.Contains(msg, "context deadline")
}
