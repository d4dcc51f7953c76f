package feed

import (
	"sync"

	"main/internal/schema"
)

// Trade is one entry of the recent-trade tape.
type Trade struct {
	Side   schema.Side
	Price  schema.Price
	Qty    schema.Quantity
	TsNano int64
}

// Tape is a bounded ring of recent trades for one symbol. Appends come from
// the feed goroutine; reads return copies so strategies never observe a
// mid-write state.
type Tape struct {
	mu    sync.Mutex
	buf   []Trade
	next  int
	count int
}

// NewTape allocates a tape holding up to capacity trades.
func NewTape(capacity int) *Tape {
	if capacity <= 0 {
		capacity = 256
	}
	return &Tape{buf: make([]Trade, capacity)}
}

// Append records a trade, evicting the oldest when full.
func (t *Tape) Append(tr Trade) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.buf[t.next] = tr
	t.next = (t.next + 1) % len(t.buf)
	if t.count < len(t.buf) {
		t.count++
	}
}

// Recent returns trades with TsNano >= since, oldest first.
func (t *Tape) Recent(since int64) []Trade {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]Trade, 0, t.count)
	start := t.next - t.count
	if start < 0 {
		start += len(t.buf)
	}
	for i := 0; i < t.count; i++ {
		tr := t.buf[(start+i)%len(t.buf)]
		if tr.TsNano >= since {
			out = append(out, tr)
		}
	}
	return out
}

// Len returns the number of stored trades.
func (t *Tape) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.count
}
