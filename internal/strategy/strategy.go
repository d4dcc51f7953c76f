package strategy

import (
	"math"

	"main/internal/book"
	"main/internal/feed"
	"main/internal/schema"
)

// PeerBook is another venue's book for the same instrument, with the price
// scale it is quoted in. Scales can differ across venues so cross-venue
// comparisons go through floats.
type PeerBook struct {
	Snap  book.Snapshot
	Scale schema.ScaleSpec
}

// View is everything a strategy sees on one evaluation tick: an immutable
// book snapshot plus the recent trade tape. Strategies read the view and
// never reach back into live books or positions.
type View struct {
	SymbolID schema.SymbolID
	VenueID  schema.VenueID
	Scale    schema.ScaleSpec
	Book     book.Snapshot
	Trades   []feed.Trade
	TsNano   int64

	// Peer resolves the same instrument's book on another venue.
	// Nil when no cross-venue feed is configured.
	Peer func(venue schema.VenueID) (PeerBook, bool)
}

// Strategy evaluates a market view and optionally emits a signal.
// Implementations may keep bounded internal state (rolling windows); they
// are driven from a single goroutine per symbol and are not safe for
// concurrent use.
type Strategy interface {
	Name() string
	Evaluate(v View) (schema.Signal, bool)
}

// Stops describes exit levels as fractional offsets from the entry price.
type Stops struct {
	TakeProfitPct float64
	StopLossPct   float64
}

// Apply computes absolute stop levels for a direction. Long positions take
// profit above entry, shorts below.
func (s Stops) Apply(entry schema.Price, dir schema.Direction) (stopLoss, takeProfit schema.Price) {
	switch dir {
	case schema.DirectionLong:
		takeProfit = offsetPrice(entry, s.TakeProfitPct)
		stopLoss = offsetPrice(entry, -s.StopLossPct)
	case schema.DirectionShort:
		takeProfit = offsetPrice(entry, -s.TakeProfitPct)
		stopLoss = offsetPrice(entry, s.StopLossPct)
	}
	return stopLoss, takeProfit
}

func offsetPrice(p schema.Price, pct float64) schema.Price {
	return schema.Price(math.Round(float64(p) * (1 + pct)))
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

// midFloat returns the mid price in natural units, de-scaled.
func midFloat(snap book.Snapshot, scale schema.ScaleSpec) (float64, bool) {
	mid, ok := snap.MidPrice()
	if !ok {
		return 0, false
	}
	return scale.PriceScale.Float(int64(mid)), true
}
