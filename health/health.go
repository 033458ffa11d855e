// Package health runs the probe battery on a fixed interval and caches the
// aggregated report for readers.
package health

import (
	"context"
	"errors"
	"time"
)

// Status of a probe or of the whole report
type Status string

const (
	StatusHealthy  Status = "healthy"
	StatusWarning  Status = "warning"
	StatusCritical Status = "critical"
)

func (s Status) rank() int {
	switch s {
	case StatusCritical:
		return 2
	case StatusWarning:
		return 1
	default:
		return 0
	}
}

// Worst returns the more severe status
func Worst(a, b Status) Status {
	if b.rank() > a.rank() {
		return b
	}
	return a
}

// Checker is one probe. A nil error is healthy, an error wrapping
// ErrDegraded is a warning, any other error is critical.
type Checker interface {
	Name() string
	Check(ctx context.Context) error
}

// ErrDegraded marks a probe result as a warning
var ErrDegraded = errors.New("degraded")

type degradedError struct{ msg string }

func (e degradedError) Error() string { return e.msg }
func (e degradedError) Unwrap() error { return ErrDegraded }

// Degraded returns a warning-level probe error
func Degraded(msg string) error {
	return degradedError{msg: msg}
}

// Result of one probe
type Result struct {
	Name      string        `json:"name"`
	Status    Status        `json:"status"`
	Message   string        `json:"message,omitempty"`
	Latency   time.Duration `json:"latency"`
	Timestamp time.Time     `json:"timestamp"`
}

// Report is the aggregated outcome of one run
type Report struct {
	Status    Status            `json:"status"`
	Timestamp time.Time         `json:"timestamp"`
	Duration  time.Duration     `json:"duration"`
	Checks    map[string]Result `json:"checks"`
}

// IsCritical reports whether any probe is critical
func (r *Report) IsCritical() bool {
	return r.Status == StatusCritical
}

// CheckFunc adapts a function to Checker
type CheckFunc struct {
	CheckName string
	Fn        func(ctx context.Context) error
}

func (c CheckFunc) Name() string                    { return c.CheckName }
func (c CheckFunc) Check(ctx context.Context) error { return c.Fn(ctx) }
