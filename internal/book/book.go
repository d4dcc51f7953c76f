package book

import (
	"fmt"
	"sort"
	"sync"
	"sync/atomic"

	"main/internal/schema"
)

// SequenceGapError reports a feed discontinuity. The book is untouched and
// marked stale; the owner must resync from a fresh snapshot.
type SequenceGapError struct {
	SymbolID schema.SymbolID
	Expected uint64
	Got      uint64
}

func (e *SequenceGapError) Error() string {
	return fmt.Sprintf("book: sequence gap on symbol %d: expected %d, got %d", e.SymbolID, e.Expected, e.Got)
}

// CrossedBookError reports an update that would leave best bid >= best ask.
type CrossedBookError struct {
	SymbolID schema.SymbolID
	BestBid  schema.Price
	BestAsk  schema.Price
}

func (e *CrossedBookError) Error() string {
	return fmt.Sprintf("book: crossed book on symbol %d: bid %d >= ask %d", e.SymbolID, e.BestBid, e.BestAsk)
}

// Book is a per-symbol, per-venue view of bid/ask depth built from a full
// snapshot plus incremental deltas. A single owner goroutine mutates it;
// readers only ever see fully-applied state through Snapshot.
type Book struct {
	mu       sync.Mutex
	symbolID schema.SymbolID
	venueID  schema.VenueID
	seq      uint64
	bids     []schema.Level // descending by price
	asks     []schema.Level // ascending by price
	stale    bool
	tsNano   int64

	committed atomic.Pointer[Snapshot]
}

// New creates an empty, stale book. It becomes usable after the first
// successful ApplySnapshot.
func New(symbolID schema.SymbolID, venueID schema.VenueID) *Book {
	b := &Book{symbolID: symbolID, venueID: venueID, stale: true}
	b.commitLocked()
	return b
}

// SymbolID returns the symbol this book tracks.
func (b *Book) SymbolID() schema.SymbolID { return b.symbolID }

// VenueID returns the venue this book tracks.
func (b *Book) VenueID() schema.VenueID { return b.venueID }

// ApplySnapshot replaces the entire book state. Zero-size levels are
// dropped, sides are sorted, and the bid<ask invariant is checked before
// anything is committed.
func (b *Book) ApplySnapshot(seq uint64, bids, asks []schema.Level, tsNano int64) error {
	nb := normalize(bids, true)
	na := normalize(asks, false)
	if err := b.validate(nb, na); err != nil {
		return err
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	b.seq = seq
	b.bids = nb
	b.asks = na
	b.stale = false
	b.tsNano = tsNano
	b.commitLocked()
	return nil
}

// ApplyDelta applies an incremental update. The sequence must be exactly
// previous+1; otherwise the book is marked stale, left unmodified, and a
// *SequenceGapError is returned. A delta level with zero size removes the
// price level.
func (b *Book) ApplyDelta(seq uint64, bids, asks []schema.Level, tsNano int64) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.stale {
		return &SequenceGapError{SymbolID: b.symbolID, Expected: b.seq + 1, Got: seq}
	}
	if seq != b.seq+1 {
		b.stale = true
		b.commitLocked()
		return &SequenceGapError{SymbolID: b.symbolID, Expected: b.seq + 1, Got: seq}
	}

	nb := applyChanges(b.bids, bids, true)
	na := applyChanges(b.asks, asks, false)
	if err := b.validate(nb, na); err != nil {
		b.stale = true
		b.commitLocked()
		return err
	}

	b.seq = seq
	b.bids = nb
	b.asks = na
	b.tsNano = tsNano
	b.commitLocked()
	return nil
}

// Invalidate marks the book stale until the next snapshot, e.g. after a
// stream disconnect.
func (b *Book) Invalidate() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.stale = true
	b.commitLocked()
}

// Stale reports whether the book is awaiting a resync.
func (b *Book) Stale() bool {
	return b.committed.Load().Stale
}

// Seq returns the last applied sequence number.
func (b *Book) Seq() uint64 {
	return b.committed.Load().Seq
}

// Snapshot returns the latest committed point-in-time copy. It never
// blocks on writers.
func (b *Book) Snapshot() Snapshot {
	return *b.committed.Load()
}

// BestBid returns the highest bid of the latest committed state.
func (b *Book) BestBid() (schema.Level, bool) {
	return b.committed.Load().BestBid()
}

// BestAsk returns the lowest ask of the latest committed state.
func (b *Book) BestAsk() (schema.Level, bool) {
	return b.committed.Load().BestAsk()
}

func (b *Book) commitLocked() {
	snap := &Snapshot{
		SymbolID: b.symbolID,
		VenueID:  b.venueID,
		Seq:      b.seq,
		Bids:     b.bids,
		Asks:     b.asks,
		TsNano:   b.tsNano,
		Stale:    b.stale,
	}
	b.committed.Store(snap)
}

func (b *Book) validate(bids, asks []schema.Level) error {
	if len(bids) > 0 && len(asks) > 0 && bids[0].Price >= asks[0].Price {
		return &CrossedBookError{SymbolID: b.symbolID, BestBid: bids[0].Price, BestAsk: asks[0].Price}
	}
	return nil
}

// normalize copies levels, drops zero sizes and sorts the side.
func normalize(levels []schema.Level, descending bool) []schema.Level {
	out := make([]schema.Level, 0, len(levels))
	for _, lv := range levels {
		if lv.Qty <= 0 {
			continue
		}
		out = append(out, lv)
	}
	sort.Slice(out, func(i, j int) bool {
		if descending {
			return out[i].Price > out[j].Price
		}
		return out[i].Price < out[j].Price
	})
	return out
}

// applyChanges merges delta levels into a sorted side, returning a new
// slice. The input side is never mutated so a failed validation cannot
// leave the book half-updated.
func applyChanges(side, changes []schema.Level, descending bool) []schema.Level {
	out := make([]schema.Level, len(side))
	copy(out, side)
	for _, ch := range changes {
		idx := sort.Search(len(out), func(i int) bool {
			if descending {
				return out[i].Price <= ch.Price
			}
			return out[i].Price >= ch.Price
		})
		found := idx < len(out) && out[idx].Price == ch.Price
		switch {
		case ch.Qty <= 0 && found:
			out = append(out[:idx], out[idx+1:]...)
		case ch.Qty <= 0:
			// removal of an unknown level is a no-op
		case found:
			out[idx].Qty = ch.Qty
		default:
			out = append(out, schema.Level{})
			copy(out[idx+1:], out[idx:])
			out[idx] = ch
		}
	}
	return out
}
