// Package health aggregates the liveness and readiness checks exposed on
// the probe server.
package health

import (
	"context"
	"time"
)

// Status represents the health status of a check.
type Status string

const (
	// StatusOK indicates the check passed.
	StatusOK Status = "ok"
	// StatusStarting indicates the component is still starting.
	StatusStarting Status = "starting"
	// StatusNotReady indicates the component cannot serve yet.
	StatusNotReady Status = "not-ready"
	// StatusError indicates the check failed.
	StatusError Status = "error"
)

// CheckResult represents the result of a health check.
type CheckResult struct {
	Name      string        `json:"name"`
	Status    Status        `json:"status"`
	Message   string        `json:"message,omitempty"`
	Timestamp time.Time     `json:"timestamp"`
	Duration  time.Duration `json:"duration"`
}

// Checker is the interface that health checks must implement.
type Checker interface {
	// Name returns the name of the health check.
	Name() string
	// Check performs the health check and returns the result.
	Check(ctx context.Context) CheckResult
}

// LivenessResponse is the body of the liveness probe.
type LivenessResponse struct {
	Status    Status    `json:"status"`
	Timestamp time.Time `json:"timestamp"`
}

// ReadinessResponse is the body of the readiness probe.
type ReadinessResponse struct {
	Status    Status            `json:"status"`
	Timestamp time.Time         `json:"timestamp"`
	Ready     bool              `json:"ready"`
	Checks    map[string]Status `json:"checks"`
}
