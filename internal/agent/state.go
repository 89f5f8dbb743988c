package agent

import (
	"sort"
	"time"

	"wgmetrics/internal/metrics"
	"wgmetrics/internal/model"
)

// Outcome classifies what a sampling cycle did with its snapshot.
type Outcome int

const (
	// OutcomeRates means rates were computed for every peer.
	OutcomeRates Outcome = iota
	// OutcomeCold means there was no baseline to compare against.
	OutcomeCold
	// OutcomePeerCountDrop means fewer peers than last time; treated as a
	// WireGuard restart.
	OutcomePeerCountDrop
	// OutcomeCounterReset means some peer's counter went backwards;
	// treated as a WireGuard restart.
	OutcomeCounterReset
	// OutcomeNoPriorSample means no time passed since the baseline.
	OutcomeNoPriorSample
	// OutcomeUnavailable means the data source returned nothing.
	OutcomeUnavailable
	// OutcomeMissingInterface means the sample lacked the configured
	// interface; the state was not touched.
	OutcomeMissingInterface
)

func (o Outcome) String() string {
	switch o {
	case OutcomeRates:
		return "rates"
	case OutcomeCold:
		return "cold"
	case OutcomePeerCountDrop:
		return "peer_count_drop"
	case OutcomeCounterReset:
		return "counter_reset"
	case OutcomeNoPriorSample:
		return "no_prior_sample"
	case OutcomeUnavailable:
		return "unavailable"
	case OutcomeMissingInterface:
		return "missing_interface"
	default:
		return "unknown"
	}
}

// Result is the output of one rate computation.
type Result struct {
	Outcome Outcome
	Rates   []model.PeerRate
	// ResetPeer names the first peer whose counter went backwards.
	ResetPeer string
	// Dropped is how many pending points were discarded.
	Dropped int
}

// State is the agent's memory between cycles: the previous snapshot, when
// it was taken, and the points not yet flushed. last and lastSample are
// always set or cleared together.
type State struct {
	last       model.Snapshot
	lastSample time.Time
	batch      metrics.Batch
}

// Batch returns the pending batch.
func (s *State) Batch() *metrics.Batch { return &s.batch }

// Last returns the baseline snapshot and when it was sampled. ok is false
// before the first sample or after Clear.
func (s *State) Last() (snap model.Snapshot, at time.Time, ok bool) {
	return s.last, s.lastSample, s.last != nil
}

// Advance makes current the baseline for the next cycle.
func (s *State) Advance(current model.Snapshot, now time.Time) {
	if current == nil {
		current = model.Snapshot{}
	}
	s.last = current
	s.lastSample = now
}

// Clear forgets the baseline so the next cycle starts cold.
func (s *State) Clear() {
	s.last = nil
	s.lastSample = time.Time{}
}

// ComputeRates compares current against the baseline. It never touches the
// baseline itself; on either restart condition it empties the pending
// batch.
//
// A single peer with a decreasing counter aborts the whole cycle, even if
// other peers look fine.
func (s *State) ComputeRates(current model.Snapshot, now time.Time) Result {
	if len(s.last) == 0 {
		return Result{Outcome: OutcomeCold}
	}
	if len(s.last) > len(current) {
		return Result{Outcome: OutcomePeerCountDrop, Dropped: s.dropPending()}
	}

	// now and lastSample both come from the agent clock; with the real
	// clock they carry monotonic readings, so Sub ignores wall clock steps.
	elapsed := now.Sub(s.lastSample).Seconds()
	if elapsed <= 0 {
		return Result{Outcome: OutcomeNoPriorSample}
	}

	peers := make([]string, 0, len(current))
	for peer := range current {
		peers = append(peers, peer)
	}
	sort.Strings(peers)

	rates := make([]model.PeerRate, 0, len(peers))
	for _, peer := range peers {
		cur := current[peer]
		prev := s.last[peer] // zero for a new peer: absolute counters are the delta
		if cur.RxBytes < prev.RxBytes || cur.TxBytes < prev.TxBytes {
			return Result{Outcome: OutcomeCounterReset, ResetPeer: peer, Dropped: s.dropPending()}
		}
		rates = append(rates, model.PeerRate{
			Peer:   peer,
			RxRate: float64(cur.RxBytes-prev.RxBytes) / elapsed,
			TxRate: float64(cur.TxBytes-prev.TxBytes) / elapsed,
		})
	}
	return Result{Outcome: OutcomeRates, Rates: rates}
}

func (s *State) dropPending() int {
	n := s.batch.Len()
	s.batch.Reset()
	return n
}
