// Package supervisor runs the background polling loop: every interval it
// probes all configured connections concurrently and publishes one
// whole-cycle status snapshot plus discrete change events.
package supervisor

import (
	"context"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"llmtrayd/pkg/types"
)

var (
	probeCycles = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "llmtrayd",
		Subsystem: "supervisor",
		Name:      "cycles_total",
		Help:      "Total completed polling cycles",
	})
	probeDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: "llmtrayd",
		Subsystem: "supervisor",
		Name:      "cycle_duration_seconds",
		Help:      "Duration of one full polling cycle",
		Buckets:   prometheus.DefBuckets,
	})
	statusChanges = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "llmtrayd",
		Subsystem: "supervisor",
		Name:      "status_changes_total",
		Help:      "Total per-connection status changes observed",
	})
	connectionsPolled = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "llmtrayd",
		Subsystem: "supervisor",
		Name:      "connections",
		Help:      "Connections covered by the latest polling cycle",
	})
)

func init() {
	prometheus.MustRegister(probeCycles, probeDuration, statusChanges, connectionsPolled)
}

// Prober is the single-connection check the supervisor fans out.
type Prober interface {
	Probe(ctx context.Context, conn types.Connection) types.ConnectionStatus
}

// Lister yields the connections to poll each cycle.
type Lister interface {
	List() []types.Connection
}

// Supervisor owns the published status mapping. The mapping is replaced
// wholesale on publish, so readers get a consistent cycle or nothing.
type Supervisor struct {
	registry Lister
	prober   Prober
	pub      Publisher
	log      zerolog.Logger

	mu       sync.RWMutex
	interval time.Duration
	statuses map[string]types.ConnectionStatus
	cycle    uint64

	kick chan struct{}
}

// New builds a Supervisor. pub may be nil to drop change events.
func New(registry Lister, prober Prober, interval time.Duration, pub Publisher, log zerolog.Logger) *Supervisor {
	if interval <= 0 {
		interval = 5 * time.Second
	}
	if pub == nil {
		pub = noopPublisher{}
	}
	return &Supervisor{
		registry: registry,
		prober:   prober,
		pub:      pub,
		log:      log,
		interval: interval,
		statuses: map[string]types.ConnectionStatus{},
		kick:     make(chan struct{}, 1),
	}
}

// Run polls until ctx is canceled. The first cycle starts immediately;
// afterwards cycles fire on a fixed period: the wait is the interval
// minus the cycle's own duration, so an overrunning cycle is followed
// by the next one right away rather than after another full interval.
// Cycles never overlap.
func (s *Supervisor) Run(ctx context.Context) {
	for {
		start := time.Now()
		s.runCycle(ctx)
		if ctx.Err() != nil {
			return
		}
		wait := s.Interval() - time.Since(start)
		if wait < 0 {
			wait = 0
		}
		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-s.kick:
			timer.Stop()
		case <-timer.C:
		}
	}
}

// Kick requests an immediate cycle (after a registry mutation or a
// container start/stop) without waiting out the interval.
func (s *Supervisor) Kick() {
	select {
	case s.kick <- struct{}{}:
	default:
	}
}

// Interval returns the current polling interval.
func (s *Supervisor) Interval() time.Duration {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.interval
}

// SetInterval adjusts the polling interval for subsequent cycles.
func (s *Supervisor) SetInterval(d time.Duration) {
	if d <= 0 {
		return
	}
	s.mu.Lock()
	s.interval = d
	s.mu.Unlock()
}

// Snapshot returns the latest published mapping and its cycle number.
// The returned map is a copy; callers may not observe partial cycles.
func (s *Supervisor) Snapshot() (map[string]types.ConnectionStatus, uint64) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[string]types.ConnectionStatus, len(s.statuses))
	for id, st := range s.statuses {
		out[id] = st
	}
	return out, s.cycle
}

// runCycle probes every connection concurrently and publishes the result.
// Cycles never overlap: an overrun simply delays the next cycle.
func (s *Supervisor) runCycle(ctx context.Context) {
	defer func() {
		if r := recover(); r != nil {
			s.log.Error().Interface("panic", r).Msg("polling cycle panicked, retrying next interval")
		}
	}()

	start := time.Now()
	conns := s.registry.List()
	fresh := make([]types.ConnectionStatus, len(conns))

	g, gctx := errgroup.WithContext(ctx)
	for i, conn := range conns {
		g.Go(func() error {
			// Probe bounds itself with its own timeout and never
			// returns an error; one slow backend cannot stall the rest.
			fresh[i] = s.prober.Probe(gctx, conn)
			return nil
		})
	}
	_ = g.Wait()
	if ctx.Err() != nil {
		return
	}

	next := make(map[string]types.ConnectionStatus, len(fresh))
	for _, st := range fresh {
		next[st.ConnectionID] = st
	}

	s.mu.Lock()
	prev := s.statuses
	s.statuses = next
	s.cycle++
	cycle := s.cycle
	s.mu.Unlock()

	for id, cur := range next {
		old, had := prev[id]
		if !had || old.Reachability != cur.Reachability || old.ComputeMode != cur.ComputeMode {
			statusChanges.Inc()
			s.pub.Publish(Change{ConnectionID: id, Previous: old, Current: cur, Cycle: cycle})
			s.log.Debug().
				Str("connection", id).
				Str("reachability", string(cur.Reachability)).
				Str("compute_mode", string(cur.ComputeMode)).
				Msg("status changed")
		}
	}

	probeCycles.Inc()
	probeDuration.Observe(time.Since(start).Seconds())
	connectionsPolled.Set(float64(len(conns)))
}
