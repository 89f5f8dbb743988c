package agent

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"go.uber.org/zap"

	"wgmetrics/internal/graphite"
	"wgmetrics/internal/metrics"
	"wgmetrics/internal/model"
	"wgmetrics/internal/telemetry"
	"wgmetrics/internal/wireguard"
)

// Flusher ships the pending batch. It must empty the batch whenever it
// returns a non-zero count, whether or not delivery succeeded.
type Flusher interface {
	Flush(ctx context.Context, batch *metrics.Batch) (int, error)
}

// Options configures an Agent.
type Options struct {
	Interface string
	Prefix    string
	Interval  time.Duration
	Source    wireguard.Source
	Sender    Flusher
	Clock     clock.Clock
	Metrics   *telemetry.Metrics
	Logger    *zap.Logger
}

// Agent runs the sample → rate → batch → flush cycle for one interface.
// The mutex makes each Load, and the hand-off of points to Flush, atomic
// with respect to the state.
type Agent struct {
	iface    string
	prefix   string
	interval time.Duration
	source   wireguard.Source
	sender   Flusher
	clock    clock.Clock
	metrics  *telemetry.Metrics
	log      *zap.Logger

	mu    sync.Mutex
	state State
}

func New(opts Options) *Agent {
	a := &Agent{
		iface:    opts.Interface,
		prefix:   opts.Prefix,
		interval: opts.Interval,
		source:   opts.Source,
		sender:   opts.Sender,
		clock:    opts.Clock,
		metrics:  opts.Metrics,
		log:      opts.Logger,
	}
	if a.clock == nil {
		a.clock = clock.New()
	}
	if a.metrics == nil {
		a.metrics = telemetry.New()
	}
	if a.log == nil {
		a.log = zap.NewNop()
	}
	a.log = a.log.Named("agent")
	return a
}

// Run samples, flushes and sleeps for the interval until ctx is done. Cycle
// errors are logged and never stop the loop.
func (a *Agent) Run(ctx context.Context) error {
	a.log.Info("sampling loop started",
		zap.String("interface", a.iface),
		zap.Duration("interval", a.interval),
	)
	for {
		if err := a.Cycle(ctx); err != nil && ctx.Err() == nil {
			a.log.Error("sampling cycle failed", zap.Error(err))
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-a.clock.After(a.interval):
		}
	}
}

// Cycle runs one fetch, load and flush. A fetch failure counts as "device
// unreachable" rather than an error. Only a missing interface or a
// cancelled context is returned.
func (a *Agent) Cycle(ctx context.Context) error {
	raw, err := a.source.Fetch(ctx)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		a.log.Warn("wireguard data unavailable", zap.Error(err))
		raw = nil
	}

	if _, err := a.Load(raw); err != nil {
		return err
	}
	_, _ = a.Flush(ctx)
	return nil
}

// Load advances the state machine with one raw sample and queues the
// resulting rate points. It returns an error only when the configured
// interface is missing from a non-empty sample; the state is then left
// untouched.
func (a *Agent) Load(raw wireguard.Raw) (Outcome, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	now := a.clock.Now()
	if len(raw) == 0 {
		a.state.Clear()
		a.metrics.Peers.Set(0)
		a.log.Info("wireguard data not found, baseline cleared")
		a.recordCycle(OutcomeUnavailable, now)
		return OutcomeUnavailable, nil
	}

	current, err := wireguard.Normalize(raw, a.iface)
	if err != nil {
		a.recordCycle(OutcomeMissingInterface, now)
		return OutcomeMissingInterface, err
	}

	res := a.state.ComputeRates(current, now)
	switch res.Outcome {
	case OutcomeRates:
		a.queue(res.Rates, now.Unix())
	case OutcomeCold:
		a.log.Debug("baseline stored", zap.Int("peers", len(current)))
	case OutcomePeerCountDrop:
		prev, _, _ := a.state.Last()
		a.log.Warn("peer count dropped, assuming wireguard restart",
			zap.Int("previous_peers", len(prev)),
			zap.Int("peers", len(current)),
			zap.Int("dropped_points", res.Dropped),
		)
	case OutcomeCounterReset:
		a.log.Warn("transfer counter went backwards, assuming wireguard restart",
			zap.String("peer", res.ResetPeer),
			zap.Int("dropped_points", res.Dropped),
		)
	case OutcomeNoPriorSample:
		a.log.Warn("no time elapsed since previous sample, skipping rates")
	}
	if res.Dropped > 0 {
		a.metrics.PointsDropped.WithLabelValues("reset").Add(float64(res.Dropped))
	}

	a.state.Advance(current, now)
	a.metrics.Peers.Set(float64(len(current)))
	a.recordCycle(res.Outcome, now)
	return res.Outcome, nil
}

func (a *Agent) queue(rates []model.PeerRate, ts int64) {
	batch := a.state.Batch()
	queued := 0
	for _, r := range rates {
		rxPath, ok := metrics.PathByIP(a.prefix, r.Peer, "rx")
		if !ok {
			a.log.Debug("peer identity has no IPv4 octets, skipped", zap.String("peer", r.Peer))
			continue
		}
		txPath, _ := metrics.PathByIP(a.prefix, r.Peer, "tx")
		batch.Add(rxPath, ts, r.RxRate)
		batch.Add(txPath, ts, r.TxRate)
		queued += 2
	}
	a.metrics.PointsQueued.Add(float64(queued))
	a.log.Debug("rates computed", zap.Int("peers", len(rates)), zap.Int("points", queued))
}

func (a *Agent) recordCycle(o Outcome, now time.Time) {
	a.metrics.Cycles.WithLabelValues(o.String()).Inc()
	a.metrics.LastCycle.Set(float64(now.Unix()))
}

// Flush hands the pending batch to the sender. The points are moved out of
// the state first, so Load is not held up by the network. Delivery failures
// are logged and counted; the points are not retried.
func (a *Agent) Flush(ctx context.Context) (int, error) {
	var out metrics.Batch
	a.mu.Lock()
	pending := a.state.Batch()
	for _, p := range pending.Points() {
		out.Add(p.Path, p.Timestamp, p.Value)
	}
	pending.Reset()
	a.mu.Unlock()

	n, err := a.sender.Flush(ctx, &out)
	switch {
	case err != nil:
		result := "error"
		var sendErr *graphite.SendError
		if errors.As(err, &sendErr) {
			result = sendErr.Op
		}
		a.metrics.Flushes.WithLabelValues(result).Inc()
		a.metrics.PointsDropped.WithLabelValues("send").Add(float64(n))
		if sendErr != nil && sendErr.Timeout() {
			a.log.Warn("collector connection timed out, batch dropped", zap.Int("points", n), zap.Error(err))
		} else {
			a.log.Warn("batch dropped", zap.Int("points", n), zap.Error(err))
		}
	case n == 0:
		a.metrics.Flushes.WithLabelValues("skipped").Inc()
	default:
		a.metrics.Flushes.WithLabelValues("sent").Inc()
	}
	return n, err
}

// Pending returns a copy of the points waiting for the next flush.
func (a *Agent) Pending() []model.Point {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.state.Batch().Points()
}
