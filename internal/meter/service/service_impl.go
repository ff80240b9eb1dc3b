package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/flowgate/internal/clock"
	meterdomain "github.com/smallbiznis/flowgate/internal/meter/domain"
	obsmetrics "github.com/smallbiznis/flowgate/internal/observability/metrics"
	"github.com/smallbiznis/flowgate/internal/plan"
	tenantdomain "github.com/smallbiznis/flowgate/internal/tenant/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

const keyExecutionCounter = "meter:exec:%s:%s"

type Params struct {
	fx.In

	Log        *zap.Logger
	Clock      clock.Clock
	Tenants    tenantdomain.Repository
	Store      meterdomain.CounterStore
	ObsMetrics *obsmetrics.Metrics `optional:"true"`
}

type Service struct {
	log        *zap.Logger
	clock      clock.Clock
	tenants    tenantdomain.Repository
	store      meterdomain.CounterStore
	obsMetrics *obsmetrics.Metrics
}

func New(p Params) meterdomain.Service {
	return &Service{
		log:        p.Log.Named("meter.service"),
		clock:      p.Clock,
		tenants:    p.Tenants,
		store:      p.Store,
		obsMetrics: p.ObsMetrics,
	}
}

// TrackExecution admits or rejects one execution against the tenant's
// monthly cap. The counter only moves on admission, and the increment
// that lands exactly on the limit still succeeds.
func (s *Service) TrackExecution(ctx context.Context, tenantKey string) (*meterdomain.TrackResult, error) {
	gate, err := s.resolveGate(ctx, tenantKey)
	if err != nil {
		return nil, err
	}
	if !gate.metered {
		return &meterdomain.TrackResult{Success: true, Level: meterdomain.WarningLevelNone}, nil
	}

	storeLimit := meterdomain.UnboundedLimit
	if !gate.limit.IsUnlimited() {
		storeLimit = gate.limit.Cap()
	}

	count, incremented, err := s.store.IncrIfBelow(ctx, gate.key, storeLimit, gate.periodEnd)
	if err != nil {
		return nil, err
	}
	if !incremented {
		s.obsMetrics.RecordMeterDecision(string(meterdomain.WarningLevelBlocked))
		return &meterdomain.TrackResult{Success: false, Level: meterdomain.WarningLevelBlocked}, nil
	}

	level := meterdomain.WarningLevelNone
	if !gate.limit.IsUnlimited() {
		level = meterdomain.LevelFor(percentage(count, gate.limit.Cap()))
	}
	s.obsMetrics.RecordMeterDecision(string(level))
	return &meterdomain.TrackResult{Success: true, Level: level}, nil
}

func (s *Service) GetExecutionCount(ctx context.Context, tenantKey string) (*meterdomain.CountResult, error) {
	gate, err := s.resolveGate(ctx, tenantKey)
	if err != nil {
		return nil, err
	}

	result := &meterdomain.CountResult{
		PeriodStart: gate.periodStart,
		PeriodEnd:   gate.periodEnd,
		IsMetered:   gate.metered,
	}
	if !gate.metered {
		return result, nil
	}

	count, err := s.store.Get(ctx, gate.key)
	if err != nil {
		return nil, err
	}
	result.Current = count
	if !gate.limit.IsUnlimited() {
		limit := gate.limit.Cap()
		result.Limit = &limit
		result.Percentage = percentage(count, limit)
	}
	return result, nil
}

// CanExecute mirrors TrackExecution's gate without mutating the
// counter.
func (s *Service) CanExecute(ctx context.Context, tenantKey string) (*meterdomain.CanExecuteResult, error) {
	gate, err := s.resolveGate(ctx, tenantKey)
	if err != nil {
		return nil, err
	}
	if !gate.metered || gate.limit.IsUnlimited() {
		return &meterdomain.CanExecuteResult{Allowed: true}, nil
	}

	count, err := s.store.Get(ctx, gate.key)
	if err != nil {
		return nil, err
	}
	limit := gate.limit.Cap()
	if count >= limit {
		return &meterdomain.CanExecuteResult{
			Allowed: false,
			Reason:  "monthly execution limit reached",
			Limit:   &limit,
		}, nil
	}
	return &meterdomain.CanExecuteResult{Allowed: true, Limit: &limit}, nil
}

type executionGate struct {
	key         string
	metered     bool
	limit       plan.Limit
	periodStart time.Time
	periodEnd   time.Time
}

func (s *Service) resolveGate(ctx context.Context, tenantKey string) (*executionGate, error) {
	tenantID, err := parseID(tenantKey)
	if err != nil {
		return nil, err
	}

	tenantPlan, mode, err := s.tenants.ResolvePlan(ctx, tenantID)
	if err != nil {
		return nil, err
	}

	periodStart, periodEnd := currentPeriod(s.clock.Now())
	return &executionGate{
		key:         fmt.Sprintf(keyExecutionCounter, tenantID.String(), periodStart.Format("2006-01")),
		metered:     mode != plan.ExecutionModeSelfHosted,
		limit:       tenantPlan.MonthlyExecutions,
		periodStart: periodStart,
		periodEnd:   periodEnd,
	}, nil
}

// currentPeriod returns the calendar-month window containing now.
// Counters expire at the period end so unused keys self-clean.
func currentPeriod(now time.Time) (time.Time, time.Time) {
	now = now.UTC()
	start := time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, time.UTC)
	return start, start.AddDate(0, 1, 0)
}

func percentage(count, limit int64) float64 {
	if limit <= 0 {
		return 0
	}
	return float64(count) / float64(limit) * 100
}

func parseID(value string) (snowflake.ID, error) {
	id, err := snowflake.ParseString(strings.TrimSpace(value))
	if err != nil || id == 0 {
		return 0, meterdomain.ErrInvalidTenant
	}
	return id, nil
}
