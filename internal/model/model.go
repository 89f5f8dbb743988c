package model

// PeerCounters holds the cumulative transfer counters of one peer as
// reported by WireGuard. Only meaningful within the snapshot it came from.
type PeerCounters struct {
	RxBytes uint64
	TxBytes uint64
}

// Snapshot maps peer identity (first allowed IP, /32 stripped) to its
// counters at one point in time. A nil Snapshot means "no sample".
type Snapshot map[string]PeerCounters

// Point is a single Graphite datapoint.
type Point struct {
	Path      string
	Timestamp int64 // unix seconds
	Value     float64
}

// PeerRate is the per-second transfer rate of one peer between two samples.
type PeerRate struct {
	Peer   string
	RxRate float64
	TxRate float64
}
