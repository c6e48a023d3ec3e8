// Package dispatch fans one chat request out to multiple backend
// connections concurrently. Each target yields an independent record;
// one backend failing or stalling never invalidates the others.
package dispatch

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"

	"llmtrayd/pkg/types"
)

var (
	dispatchRequests = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "llmtrayd",
		Subsystem: "dispatch",
		Name:      "requests_total",
		Help:      "Total chat dispatches (one per inbound request, any number of targets)",
	})
	dispatchRecords = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "llmtrayd",
		Subsystem: "dispatch",
		Name:      "records_total",
		Help:      "Per-target chat outcomes by terminal state",
	}, []string{"state"})
	dispatchDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: "llmtrayd",
		Subsystem: "dispatch",
		Name:      "target_duration_seconds",
		Help:      "Wall time from dispatch to a target's terminal record",
		Buckets:   prometheus.ExponentialBuckets(0.1, 2, 12),
	})
)

func init() {
	prometheus.MustRegister(dispatchRequests, dispatchRecords, dispatchDuration)
}

// Resolver looks up a connection by id at dispatch time.
type Resolver interface {
	Get(id string) (types.Connection, bool)
}

// Target names one backend and the model to run there.
type Target struct {
	ConnectionID string
	Model        string
}

// Update is one event on the dispatch stream: a text delta while a
// backend is producing, or a terminal record when it finishes.
type Update struct {
	ConnectionID string
	// Delta is a streamed text chunk; empty on terminal updates.
	Delta string
	// Record is set exactly once per target, when it reaches a terminal state.
	Record *types.ChatRecord
}

// Dispatcher issues chat requests against resolved connections.
type Dispatcher struct {
	resolver Resolver
	client   *chatClient
	timeout  time.Duration
	log      zerolog.Logger
}

// New builds a Dispatcher. timeout bounds each per-target request.
func New(resolver Resolver, timeout time.Duration, log zerolog.Logger) *Dispatcher {
	if timeout <= 0 {
		timeout = 5 * time.Minute
	}
	return &Dispatcher{
		resolver: resolver,
		client:   newChatClient(10 * time.Second),
		timeout:  timeout,
		log:      log,
	}
}

// Dispatch sends msgs to every target concurrently and returns a channel
// of updates. The channel is closed once every target has produced its
// terminal record. Canceling ctx fails the still-pending targets with
// the cancellation error; completed records are unaffected.
func (d *Dispatcher) Dispatch(ctx context.Context, msgs []types.ChatMessage, targets []Target, stream bool) <-chan Update {
	dispatchRequests.Inc()
	out := make(chan Update, len(targets)*4)

	var wg sync.WaitGroup
	for _, t := range targets {
		wg.Add(1)
		go func() {
			defer wg.Done()
			start := time.Now()
			rec := d.runTarget(ctx, msgs, t, stream, out)
			dispatchRecords.WithLabelValues(string(rec.State)).Inc()
			dispatchDuration.Observe(time.Since(start).Seconds())
			out <- Update{ConnectionID: t.ConnectionID, Record: &rec}
		}()
	}
	go func() {
		wg.Wait()
		close(out)
	}()
	return out
}

// runTarget drives one backend to a terminal record.
func (d *Dispatcher) runTarget(ctx context.Context, msgs []types.ChatMessage, t Target, stream bool, out chan<- Update) types.ChatRecord {
	rec := types.ChatRecord{ConnectionID: t.ConnectionID, Model: t.Model, State: types.RecordPending}

	conn, ok := d.resolver.Get(t.ConnectionID)
	if !ok {
		rec.State = types.RecordFailed
		rec.Err = "connection not found: " + t.ConnectionID
		return rec
	}

	reqCtx, cancel := context.WithTimeout(ctx, d.timeout)
	defer cancel()

	onDelta := func(frag string) error {
		select {
		case out <- Update{ConnectionID: t.ConnectionID, Delta: frag}:
			return nil
		case <-reqCtx.Done():
			return reqCtx.Err()
		}
	}

	res, err := d.client.complete(reqCtx, conn, t.Model, msgs, stream, onDelta)
	rec.Text = res.Text
	rec.Usage = res.Usage
	if err != nil {
		rec.State = types.RecordFailed
		rec.Err = describeErr(err)
		d.log.Debug().Str("connection", t.ConnectionID).Str("model", t.Model).Err(err).Msg("chat target failed")
		return rec
	}
	// Usage counters that do not add up are reported, not repaired: the
	// record keeps the backend's numbers and the mismatch is flagged.
	if res.Usage != nil && res.Usage.TotalTokens != res.Usage.PromptTokens+res.Usage.CompletionTokens {
		rec.State = types.RecordFailed
		rec.Err = describeErr(ErrProtocol(fmt.Sprintf(
			"usage mismatch: total %d != prompt %d + completion %d",
			res.Usage.TotalTokens, res.Usage.PromptTokens, res.Usage.CompletionTokens)))
		return rec
	}
	rec.State = types.RecordComplete
	return rec
}

func describeErr(err error) string {
	if IsTimeout(err) {
		return "timeout: " + err.Error()
	}
	return err.Error()
}
