package supervisor

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"llmtrayd/pkg/types"
)

type fixedLister struct {
	mu    sync.Mutex
	conns []types.Connection
}

func (l *fixedLister) List() []types.Connection {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]types.Connection(nil), l.conns...)
}

func (l *fixedLister) set(conns []types.Connection) {
	l.mu.Lock()
	l.conns = conns
	l.mu.Unlock()
}

// scriptedProber returns the configured status per connection id and
// can stall one connection to exercise cycle atomicity.
type scriptedProber struct {
	mu      sync.Mutex
	results map[string]types.ConnectionStatus
	delay   map[string]time.Duration
}

func (p *scriptedProber) Probe(ctx context.Context, conn types.Connection) types.ConnectionStatus {
	p.mu.Lock()
	st, ok := p.results[conn.ID]
	d := p.delay[conn.ID]
	p.mu.Unlock()
	if d > 0 {
		select {
		case <-time.After(d):
		case <-ctx.Done():
		}
	}
	if !ok {
		st = types.ConnectionStatus{ConnectionID: conn.ID, Reachability: types.ReachUnknown}
	}
	st.ConnectionID = conn.ID
	st.CheckedAt = time.Now()
	return st
}

func (p *scriptedProber) setResult(id string, st types.ConnectionStatus) {
	p.mu.Lock()
	p.results[id] = st
	p.mu.Unlock()
}

func conns(ids ...string) []types.Connection {
	out := make([]types.Connection, 0, len(ids))
	for _, id := range ids {
		out = append(out, types.Connection{ID: id, Kind: types.KindRemoteAPI, BaseURL: "http://h"})
	}
	return out
}

func waitForCycle(t *testing.T, s *Supervisor, atLeast uint64) map[string]types.ConnectionStatus {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if snap, cycle := s.Snapshot(); cycle >= atLeast {
			return snap
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("cycle %d not reached", atLeast)
	return nil
}

func TestFirstCycleRunsImmediately(t *testing.T) {
	lister := &fixedLister{conns: conns("a")}
	prober := &scriptedProber{
		results: map[string]types.ConnectionStatus{"a": {Reachability: types.ReachOnline}},
		delay:   map[string]time.Duration{},
	}
	s := New(lister, prober, time.Hour, nil, zerolog.Nop())
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go s.Run(ctx)

	snap := waitForCycle(t, s, 1)
	if snap["a"].Reachability != types.ReachOnline {
		t.Fatalf("unexpected snapshot: %+v", snap)
	}
}

func TestSnapshotIsWholeCycle(t *testing.T) {
	// b stalls long enough that a partial publish would be observable
	// between a finishing and b finishing.
	lister := &fixedLister{conns: conns("a", "b")}
	prober := &scriptedProber{
		results: map[string]types.ConnectionStatus{
			"a": {Reachability: types.ReachOnline},
			"b": {Reachability: types.ReachOffline},
		},
		delay: map[string]time.Duration{"b": 100 * time.Millisecond},
	}
	s := New(lister, prober, time.Hour, nil, zerolog.Nop())
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go s.Run(ctx)

	// Before the cycle completes nothing is visible.
	if snap, cycle := s.Snapshot(); cycle != 0 || len(snap) != 0 {
		t.Fatalf("partial publish observed: cycle=%d snap=%+v", cycle, snap)
	}
	snap := waitForCycle(t, s, 1)
	if len(snap) != 2 {
		t.Fatalf("expected both connections in first snapshot, got %+v", snap)
	}
}

func TestSnapshotReturnsCopy(t *testing.T) {
	lister := &fixedLister{conns: conns("a")}
	prober := &scriptedProber{
		results: map[string]types.ConnectionStatus{"a": {Reachability: types.ReachOnline}},
		delay:   map[string]time.Duration{},
	}
	s := New(lister, prober, time.Hour, nil, zerolog.Nop())
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go s.Run(ctx)

	snap := waitForCycle(t, s, 1)
	snap["a"] = types.ConnectionStatus{Reachability: types.ReachOffline}
	again, _ := s.Snapshot()
	if again["a"].Reachability != types.ReachOnline {
		t.Fatalf("snapshot aliased internal state")
	}
}

func TestChangeEventsOnTransition(t *testing.T) {
	lister := &fixedLister{conns: conns("a")}
	prober := &scriptedProber{
		results: map[string]types.ConnectionStatus{"a": {Reachability: types.ReachOnline}},
		delay:   map[string]time.Duration{},
	}
	pub := NewMemoryPublisher()
	s := New(lister, prober, time.Hour, pub, zerolog.Nop())
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go s.Run(ctx)
	waitForCycle(t, s, 1)

	prober.setResult("a", types.ConnectionStatus{Reachability: types.ReachOffline})
	s.Kick()
	waitForCycle(t, s, 2)

	events := pub.Events()
	if len(events) < 2 {
		t.Fatalf("expected initial + transition events, got %d", len(events))
	}
	last := events[len(events)-1]
	if last.Current.Reachability != types.ReachOffline || last.Previous.Reachability != types.ReachOnline {
		t.Fatalf("unexpected transition event: %+v", last)
	}
}

func TestNoEventWithoutChange(t *testing.T) {
	lister := &fixedLister{conns: conns("a")}
	prober := &scriptedProber{
		results: map[string]types.ConnectionStatus{"a": {Reachability: types.ReachOnline}},
		delay:   map[string]time.Duration{},
	}
	pub := NewMemoryPublisher()
	s := New(lister, prober, time.Hour, pub, zerolog.Nop())
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go s.Run(ctx)
	waitForCycle(t, s, 1)
	s.Kick()
	waitForCycle(t, s, 2)

	if got := len(pub.Events()); got != 1 {
		t.Fatalf("expected only the initial event, got %d", got)
	}
}

func TestRemovedConnectionLeavesSnapshot(t *testing.T) {
	lister := &fixedLister{conns: conns("a", "b")}
	prober := &scriptedProber{
		results: map[string]types.ConnectionStatus{
			"a": {Reachability: types.ReachOnline},
			"b": {Reachability: types.ReachOnline},
		},
		delay: map[string]time.Duration{},
	}
	s := New(lister, prober, time.Hour, nil, zerolog.Nop())
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go s.Run(ctx)
	waitForCycle(t, s, 1)

	lister.set(conns("a"))
	s.Kick()
	snap := waitForCycle(t, s, 2)
	if _, ok := snap["b"]; ok {
		t.Fatalf("removed connection still in snapshot: %+v", snap)
	}
}

// timingProber records when each cycle's probe starts and stalls for a
// fixed duration, to observe the scheduling of consecutive cycles.
type timingProber struct {
	mu     sync.Mutex
	starts []time.Time
	stall  time.Duration
}

func (p *timingProber) Probe(ctx context.Context, conn types.Connection) types.ConnectionStatus {
	p.mu.Lock()
	p.starts = append(p.starts, time.Now())
	p.mu.Unlock()
	select {
	case <-time.After(p.stall):
	case <-ctx.Done():
	}
	return types.ConnectionStatus{ConnectionID: conn.ID, Reachability: types.ReachOnline, CheckedAt: time.Now()}
}

func (p *timingProber) startTimes() []time.Time {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]time.Time(nil), p.starts...)
}

func TestOverrunningCycleStartsNextImmediately(t *testing.T) {
	// The cycle takes longer than the interval, so the next cycle must
	// begin right after completion, not a further interval later.
	interval := 200 * time.Millisecond
	stall := 350 * time.Millisecond
	prober := &timingProber{stall: stall}
	s := New(&fixedLister{conns: conns("a")}, prober, interval, nil, zerolog.Nop())
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go s.Run(ctx)

	waitForCycle(t, s, 2)
	starts := prober.startTimes()
	if len(starts) < 2 {
		t.Fatalf("expected at least 2 probe starts, got %d", len(starts))
	}
	gap := starts[1].Sub(starts[0])
	// A full extra interval after the overrun would put the gap near
	// stall+interval (550ms); back-to-back scheduling keeps it at the
	// cycle duration plus scheduling noise.
	if gap >= stall+interval-50*time.Millisecond {
		t.Fatalf("next cycle waited a full interval after overrun: gap %v", gap)
	}
	if gap < stall-50*time.Millisecond {
		t.Fatalf("cycles overlapped: gap %v shorter than cycle duration %v", gap, stall)
	}
}

func TestSetInterval(t *testing.T) {
	s := New(&fixedLister{}, &scriptedProber{results: map[string]types.ConnectionStatus{}, delay: map[string]time.Duration{}}, 5*time.Second, nil, zerolog.Nop())
	s.SetInterval(9 * time.Second)
	if s.Interval() != 9*time.Second {
		t.Fatalf("interval not updated: %v", s.Interval())
	}
	s.SetInterval(0)
	if s.Interval() != 9*time.Second {
		t.Fatalf("zero interval accepted")
	}
}
