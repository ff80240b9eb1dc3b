package domain

import (
	"context"
	"errors"
	"time"
)

var (
	ErrInvalidTenant = errors.New("invalid_tenant")
)

// WarningLevel classifies proximity to the execution limit.
type WarningLevel string

const (
	WarningLevelNone     WarningLevel = "none"
	WarningLevelWarning  WarningLevel = "warning"
	WarningLevelCritical WarningLevel = "critical"
	WarningLevelBlocked  WarningLevel = "blocked"
)

// LevelFor maps the post-increment percentage to a warning level.
func LevelFor(percentage float64) WarningLevel {
	switch {
	case percentage >= 100:
		return WarningLevelBlocked
	case percentage >= 95:
		return WarningLevelCritical
	case percentage >= 80:
		return WarningLevelWarning
	default:
		return WarningLevelNone
	}
}

// TrackResult reports whether an execution was admitted and how close
// the tenant is to its limit. The increment that lands exactly on the
// limit still succeeds; the next call is blocked.
type TrackResult struct {
	Success bool         `json:"success"`
	Level   WarningLevel `json:"warning_level"`
}

// CountResult describes the current period's consumption. Limit is nil
// when the tenant is unmetered.
type CountResult struct {
	Current     int64     `json:"current"`
	Limit       *int64    `json:"limit"`
	Percentage  float64   `json:"percentage"`
	PeriodStart time.Time `json:"period_start"`
	PeriodEnd   time.Time `json:"period_end"`
	IsMetered   bool      `json:"is_metered"`
}

// CanExecuteResult is the non-mutating pre-check mirror of
// TrackExecution's gate.
type CanExecuteResult struct {
	Allowed bool   `json:"allowed"`
	Reason  string `json:"reason,omitempty"`
	Limit   *int64 `json:"limit"`
}

// CounterStore is the fast atomic-increment backend for period
// counters. UnboundedLimit disables the gate in IncrIfBelow.
type CounterStore interface {
	// IncrIfBelow atomically increments key unless the current count
	// has reached limit. It returns the resulting count and whether an
	// increment happened. New counters expire at expireAt.
	IncrIfBelow(ctx context.Context, key string, limit int64, expireAt time.Time) (count int64, incremented bool, err error)
	Get(ctx context.Context, key string) (int64, error)
}

// UnboundedLimit passed to IncrIfBelow never blocks the increment.
const UnboundedLimit int64 = -1

// Service meters execution-style resources per period.
type Service interface {
	TrackExecution(ctx context.Context, tenantKey string) (*TrackResult, error)
	GetExecutionCount(ctx context.Context, tenantKey string) (*CountResult, error)
	CanExecute(ctx context.Context, tenantKey string) (*CanExecuteResult, error)
}
