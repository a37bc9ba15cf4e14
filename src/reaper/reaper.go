// Package reaper implements the polling control loop of spec.md §4.F: a
// per-shard ticker that scans for expired heartbeats and converts them
// into offline transitions without racing concurrent heartbeats.
//
// Grounded on the teacher's websocket.watchHeartbeats ticker-loop shape (a
// time.Ticker-driven loop with a liveness threshold and a cleanup action),
// generalized from one goroutine per connection to one goroutine per
// shard, and on concurrency.GoSafe for panic containment of the loop's
// goroutine.
package reaper

import (
	"context"
	"math/rand"
	"time"

	"github.com/sirupsen/logrus"

	"presence/src/bus"
	"presence/src/concurrency"
	"presence/src/logging"
	"presence/src/metrics"
	"presence/src/presencestore"
)

// Clock abstracts wall-clock time for testability.
type Clock func() int64

// Params configures one Loop instance.
type Params struct {
	Store        *presencestore.Store
	Bus          bus.Bus
	ShardKey     string
	StateKeyFor  func(userID int64) string
	UserIDOf     func(member string) (int64, bool)
	PollInterval time.Duration
	BatchSize    int64
	Clock        Clock
}

// Loop is a single shard's polling control loop.
type Loop struct {
	params Params
	cancel context.CancelFunc
	done   chan struct{}
}

// NewLoop constructs a loop for one shard. Start must be called to begin
// polling.
func NewLoop(p Params) *Loop {
	if p.Clock == nil {
		p.Clock = func() int64 { return time.Now().Unix() }
	}
	if p.BatchSize <= 0 {
		p.BatchSize = 500
	}
	if p.PollInterval <= 0 {
		p.PollInterval = time.Second
	}
	return &Loop{params: p, done: make(chan struct{})}
}

// Start begins the polling loop in a background goroutine. startDelay
// randomizes the loop's initial phase so that two reapers running over
// the same shard for HA rarely scan simultaneously, per spec.md §4.F.
func (l *Loop) Start(ctx context.Context, startDelay time.Duration) {
	ctx, cancel := l.context(ctx)
	l.cancel = cancel
	concurrency.GoSafe(func() {
		defer close(l.done)
		select {
		case <-ctx.Done():
			return
		case <-time.After(startDelay):
		}
		l.run(ctx)
	})
}

func (l *Loop) context(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithCancel(ctx)
}

// RandomPhase returns a jittered startup delay in [0, interval), for HA
// dual-reaper deployments per spec.md §4.F / §9.
func RandomPhase(interval time.Duration) time.Duration {
	if interval <= 0 {
		return 0
	}
	return time.Duration(rand.Int63n(int64(interval)))
}

// Stop cancels the loop. Cancellation is honored between ticks only; a
// tick that has already started completes, per spec.md §5.
func (l *Loop) Stop() {
	if l.cancel != nil {
		l.cancel()
	}
	<-l.done
}

func (l *Loop) run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		// The tick runs on a context detached from cancellation so a tick
		// that has started completes; ctx is only checked between ticks.
		fullBatch, err := l.tick(context.WithoutCancel(ctx))
		if err != nil {
			logging.Log.WithError(err).WithField("shard", l.params.ShardKey).Warn("reaper: tick aborted")
			metrics.ReaperTickErrors.Inc()
			fullBatch = false
		}
		metrics.ReaperTicks.Inc()

		if fullBatch {
			// Pressure-responsive: skip the sleep so a backlog of expired
			// users drains without waiting a full interval per batch.
			continue
		}

		select {
		case <-ctx.Done():
			return
		case <-time.After(l.params.PollInterval):
		}
	}
}

// tick runs one scan-and-confirm pass. The returned bool reports whether
// the batch was full (candidates == BatchSize), signaling pressure.
func (l *Loop) tick(ctx context.Context) (bool, error) {
	now := l.params.Clock()
	candidates, err := l.params.Store.RangeExpired(ctx, l.params.ShardKey, now, l.params.BatchSize)
	if err != nil {
		return false, err
	}

	for _, member := range candidates {
		userID, ok := l.params.UserIDOf(member)
		if !ok {
			continue
		}
		l.confirmOne(ctx, userID, now)
	}

	return int64(len(candidates)) >= l.params.BatchSize, nil
}

func (l *Loop) confirmOne(ctx context.Context, userID int64, now int64) {
	stateKey := l.params.StateKeyFor(userID)
	effect, err := l.params.Store.ConfirmOffline(ctx, l.params.ShardKey, stateKey, userID, now)
	if err != nil {
		logging.Log.WithError(err).WithField("user_id", userID).Warn("reaper: confirmOffline failed")
		return
	}
	if effect.Kind != presencestore.EffectTransitioned {
		if effect.Kind == presencestore.EffectUnchanged {
			metrics.ReaperAborted.Inc()
		}
		return
	}

	env := bus.Envelope{Kind: bus.StatusChanged, UserID: userID, Status: string(effect.To), Ts: effect.Ts}
	if err := l.params.Bus.Publish(ctx, bus.Topic(userID), env); err != nil {
		logging.Log.WithFields(logrus.Fields{"user_id": userID, "error": err}).Warn("reaper: publish failed")
		metrics.BusPublishFailures.Inc()
		return
	}
	metrics.TransitionsTotal.WithLabelValues("offline").Inc()
}
