package metrics

import (
	"strings"

	"wgmetrics/internal/model"
)

// Batch is the ordered list of points waiting for the next flush. Points
// are only appended; a batch is emptied as a whole by Reset.
//
// Batch is not safe for concurrent use. It is owned by the agent state and
// touched only under the agent's lock.
type Batch struct {
	points []model.Point
}

// Add appends one point. No deduplication: the same path may appear more
// than once in a batch.
func (b *Batch) Add(path string, ts int64, value float64) {
	b.points = append(b.points, model.Point{Path: path, Timestamp: ts, Value: value})
}

// Len returns the number of pending points.
func (b *Batch) Len() int {
	return len(b.points)
}

// Points returns a copy of the pending points in insertion order.
func (b *Batch) Points() []model.Point {
	out := make([]model.Point, len(b.points))
	copy(out, b.points)
	return out
}

// Reset drops every pending point.
func (b *Batch) Reset() {
	b.points = nil
}

// PathByIP builds "<prefix>.<octet3>.<octet4>.<suffix>" from a peer
// identity. A trailing /32 is stripped first. It reports false when the
// identity does not have four dot separated parts.
func PathByIP(prefix, ip, suffix string) (string, bool) {
	parts := strings.Split(strings.TrimSuffix(ip, "/32"), ".")
	if len(parts) < 4 {
		return "", false
	}
	return strings.Join([]string{prefix, parts[2], parts[3], suffix}, "."), true
}
