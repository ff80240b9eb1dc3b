package breaker

import (
	"sort"
	"sync"
	"time"

	"github.com/smallbiznis/flowgate/internal/clock"
	"github.com/smallbiznis/flowgate/internal/config"
	obsmetrics "github.com/smallbiznis/flowgate/internal/observability/metrics"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

// Registry holds one breaker per named dependency so independent
// providers fail independently. It is an injected instance, not a
// package-level singleton, so tests build isolated registries.
type Registry struct {
	mu       sync.Mutex
	breakers map[string]*Breaker

	defaults   Options
	clk        clock.Clock
	log        *zap.Logger
	obsMetrics *obsmetrics.Metrics
}

type RegistryParams struct {
	fx.In

	Config     config.Config
	Clock      clock.Clock
	Log        *zap.Logger
	ObsMetrics *obsmetrics.Metrics `optional:"true"`
}

var Module = fx.Module("breaker",
	fx.Provide(NewRegistryFromConfig),
)

func NewRegistryFromConfig(p RegistryParams) *Registry {
	defaults := Options{
		FailureThreshold:    p.Config.Breaker.FailureThreshold,
		MonitorWindow:       time.Duration(p.Config.Breaker.MonitorWindowMS) * time.Millisecond,
		ResetTimeout:        time.Duration(p.Config.Breaker.ResetTimeoutMS) * time.Millisecond,
		HalfOpenMaxAttempts: p.Config.Breaker.HalfOpenMaxAttempts,
	}
	return NewRegistry(defaults, p.Clock, p.Log, p.ObsMetrics)
}

func NewRegistry(defaults Options, clk clock.Clock, log *zap.Logger, obsMetrics *obsmetrics.Metrics) *Registry {
	if clk == nil {
		clk = clock.NewSystem()
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Registry{
		breakers:   make(map[string]*Breaker),
		defaults:   defaults.withDefaults(),
		clk:        clk,
		log:        log.Named("breaker.registry"),
		obsMetrics: obsMetrics,
	}
}

// GetOrCreate returns the breaker for name, creating it with the
// registry defaults (or the first supplied override) on first use.
func (r *Registry) GetOrCreate(name string, opts ...Options) *Breaker {
	r.mu.Lock()
	defer r.mu.Unlock()

	if b, ok := r.breakers[name]; ok {
		return b
	}

	options := r.defaults
	if len(opts) > 0 {
		options = opts[0].withDefaults()
	}
	b := New(name, options, r.clk)
	b.OnTransition(func(name string, from, to State) {
		r.log.Info("circuit state changed",
			zap.String("name", name),
			zap.String("from", from.String()),
			zap.String("to", to.String()),
		)
		r.obsMetrics.RecordBreakerTransition(name, from.String(), to.String())
	})
	r.breakers[name] = b
	return b
}

// Get returns the breaker for name if one exists.
func (r *Registry) Get(name string) (*Breaker, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	b, ok := r.breakers[name]
	return b, ok
}

// Remove drops the breaker for name.
func (r *Registry) Remove(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.breakers, name)
}

// Reset forces the named breaker back to closed.
func (r *Registry) Reset(name string) bool {
	b, ok := r.Get(name)
	if !ok {
		return false
	}
	b.Reset()
	return true
}

// AllStats snapshots every registered breaker, sorted by name.
func (r *Registry) AllStats() []Stats {
	r.mu.Lock()
	breakers := make([]*Breaker, 0, len(r.breakers))
	for _, b := range r.breakers {
		breakers = append(breakers, b)
	}
	r.mu.Unlock()

	stats := make([]Stats, 0, len(breakers))
	for _, b := range breakers {
		stats = append(stats, b.Stats())
	}
	sort.Slice(stats, func(i, j int) bool { return stats[i].Name < stats[j].Name })
	return stats
}
