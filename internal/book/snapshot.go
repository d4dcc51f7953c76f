package book

import "main/internal/schema"

// Snapshot is an immutable point-in-time copy of a book. Strategies only
// ever read snapshots, never the live book.
type Snapshot struct {
	SymbolID schema.SymbolID
	VenueID  schema.VenueID
	Seq      uint64
	Bids     []schema.Level
	Asks     []schema.Level
	TsNano   int64
	Stale    bool
}

// BestBid returns the highest bid level.
func (s Snapshot) BestBid() (schema.Level, bool) {
	if len(s.Bids) == 0 {
		return schema.Level{}, false
	}
	return s.Bids[0], true
}

// BestAsk returns the lowest ask level.
func (s Snapshot) BestAsk() (schema.Level, bool) {
	if len(s.Asks) == 0 {
		return schema.Level{}, false
	}
	return s.Asks[0], true
}

// MidPrice returns (bestBid+bestAsk)/2.
func (s Snapshot) MidPrice() (schema.Price, bool) {
	bid, okB := s.BestBid()
	ask, okA := s.BestAsk()
	if !okB || !okA {
		return 0, false
	}
	return (bid.Price + ask.Price) / 2, true
}

// Spread returns bestAsk-bestBid.
func (s Snapshot) Spread() (schema.Price, bool) {
	bid, okB := s.BestBid()
	ask, okA := s.BestAsk()
	if !okB || !okA {
		return 0, false
	}
	return ask.Price - bid.Price, true
}

// SpreadRatio returns the spread as a fraction of the mid price.
// Scale-free: the price scale cancels out.
func (s Snapshot) SpreadRatio() float64 {
	spread, ok := s.Spread()
	if !ok {
		return 0
	}
	mid, _ := s.MidPrice()
	if mid == 0 {
		return 0
	}
	return float64(spread) / float64(mid)
}

// Imbalance returns bidVolume/(bidVolume+askVolume) over the top N levels
// of each side. It is a derived value, recomputed on demand, in [0,1].
// 0.5 means balanced; above favors bids, below favors asks.
func (s Snapshot) Imbalance(topN int) float64 {
	bidVol := sideVolume(s.Bids, topN)
	askVol := sideVolume(s.Asks, topN)
	total := bidVol + askVol
	if total == 0 {
		return 0
	}
	return float64(bidVol) / float64(total)
}

// BidVolume sums bid sizes over the top N levels.
func (s Snapshot) BidVolume(topN int) schema.Quantity {
	return sideVolume(s.Bids, topN)
}

// AskVolume sums ask sizes over the top N levels.
func (s Snapshot) AskVolume(topN int) schema.Quantity {
	return sideVolume(s.Asks, topN)
}

func sideVolume(side []schema.Level, topN int) schema.Quantity {
	if topN <= 0 || topN > len(side) {
		topN = len(side)
	}
	var total schema.Quantity
	for _, lv := range side[:topN] {
		total += lv.Qty
	}
	return total
}
