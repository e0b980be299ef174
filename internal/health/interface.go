// Package health reports the status of the triage service's backing stores.
package health

import (
	"context"
	"time"
)

// CheckStatus is the outcome of one probe. The zero value is StatusUnknown.
type CheckStatus string

const (
	StatusUnknown   CheckStatus = ""
	StatusHealthy   CheckStatus = "healthy"
	StatusDegraded  CheckStatus = "degraded"
	StatusUnhealthy CheckStatus = "unhealthy"
)

func (s CheckStatus) String() string {
	if s == StatusUnknown {
		return "unknown"
	}
	return string(s)
}

func (s CheckStatus) MarshalText() ([]byte, error) { return []byte(s.String()), nil }

// CheckResult is what a Checker reports for its component.
type CheckResult struct {
	Component string                 `json:"component"`
	Status    CheckStatus            `json:"status"`
	Critical  bool                   `json:"critical"`
	Message   string                 `json:"message,omitempty"`
	Error     string                 `json:"error,omitempty"`
	Details   map[string]interface{} `json:"details,omitempty"`
	Duration  time.Duration          `json:"duration"`
	Timestamp time.Time              `json:"timestamp"`
}

// Checker probes one dependency. A failing critical checker makes the
// service unready; non-critical failures only degrade it.
type Checker interface {
	Name() string
	Check(ctx context.Context) CheckResult
	IsCritical() bool
	Timeout() time.Duration
}

type OverallHealth struct {
	Status    CheckStatus   `json:"status"`
	Message   string        `json:"message,omitempty"`
	Ready     bool          `json:"ready"`
	Live      bool          `json:"live"`
	Degraded  bool          `json:"degraded"`
	Duration  time.Duration `json:"duration"`
	Timestamp time.Time     `json:"timestamp"`
}

type DetailedHealth struct {
	Overall    OverallHealth          `json:"overall"`
	Summary    HealthSummary          `json:"summary"`
	Components map[string]CheckResult `json:"components"`
	Timestamp  time.Time              `json:"timestamp"`
}

type HealthSummary struct {
	Total       int `json:"total"`
	Healthy     int `json:"healthy"`
	Degraded    int `json:"degraded"`
	Unhealthy   int `json:"unhealthy"`
	Critical    int `json:"critical"`
	NonCritical int `json:"non_critical"`
}
