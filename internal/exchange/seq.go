package exchange

import "sync"

// SeqAction tells the connector what to do with a delta.
type SeqAction uint8

const (
	// SeqDrop discards a delta older than the current base.
	SeqDrop SeqAction = iota
	// SeqApply forwards the delta with the next contiguous sequence.
	SeqApply
	// SeqGap forwards the delta with a deliberately skipped sequence so
	// the book detects the discontinuity and resyncs.
	SeqGap
)

// SeqNormalizer converts venue-native update ids into the contiguous
// sequence the book contract expects. Venues chain deltas differently
// (previous-id links, sparse update ids); the normalizer hides that and
// emits seq, seq+1, seq+2... while the chain holds, skipping a number when
// it breaks.
type SeqNormalizer struct {
	mu       sync.Mutex
	venueSeq uint64
	emitted  uint64
	synced   bool
}

// Snapshot rebases the stream on a full snapshot and returns the emitted
// sequence for it.
func (n *SeqNormalizer) Snapshot(venueSeq uint64) uint64 {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.venueSeq = venueSeq
	n.emitted++
	n.synced = true
	return n.emitted
}

// Delta maps one venue delta. prev is the venue's link to the update this
// delta applies on top of (for venues with plain incrementing ids, pass
// venueSeq-1).
func (n *SeqNormalizer) Delta(prev, venueSeq uint64) (uint64, SeqAction) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if !n.synced || venueSeq <= n.venueSeq {
		return 0, SeqDrop
	}
	if prev != n.venueSeq {
		// broken chain: emit a hole so the book resyncs
		n.synced = false
		n.emitted += 2
		return n.emitted, SeqGap
	}
	n.venueSeq = venueSeq
	n.emitted++
	return n.emitted, SeqApply
}

// Invalidate forces the next delta to be dropped until a snapshot rebases
// the stream, e.g. after a reconnect.
func (n *SeqNormalizer) Invalidate() {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.synced = false
}
