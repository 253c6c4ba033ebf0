package signal

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	ErrTimeout      = errors.New("signal: timeout")
	ErrNotSimulated = errors.New("signal: not backed by simulation")
	ErrTypeMismatch = errors.New("signal: value type mismatch")
	ErrNoReadback   = errors.New("signal: readback signal required")
	ErrUnknownPV    = errors.New("signal: unknown process variable")
	ErrDuplicatePV  = errors.New("signal: process variable already hosted")
	ErrNotHostable  = errors.New("signal: signal has no process variable name")
)

var timeouts = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "acqctl",
		Subsystem: "signal",
		Name:      "timeouts_total",
		Help:      "Signal waits and writes that exceeded their timeout.",
	},
	[]string{"op"},
)

// TimeoutCollector exposes the timeout counter for registration.
func TimeoutCollector() prometheus.Collector {
	return timeouts
}

// NewTimeoutError builds a TimeoutError and counts it.
func NewTimeoutError(op, source string, timeout time.Duration) *TimeoutError {
	timeouts.WithLabelValues(op).Inc()
	return &TimeoutError{Op: op, Source: source, Timeout: timeout}
}

// TimeoutError reports a wait or write that exceeded its allotted duration.
type TimeoutError struct {
	Op      string
	Source  string
	Timeout time.Duration
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("%v: %s %s after %s", ErrTimeout, e.Op, e.Source, e.Timeout)
}

func (e *TimeoutError) Is(target error) bool {
	return target == ErrTimeout || target == context.DeadlineExceeded
}
