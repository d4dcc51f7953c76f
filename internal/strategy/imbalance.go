package strategy

import (
	"main/internal/schema"
)

// ImbalanceConfig tunes the order-book imbalance strategy.
type ImbalanceConfig struct {
	// Depth is how many levels per side feed the imbalance ratio.
	Depth int
	// UpperBand and LowerBand bound the neutral zone of the imbalance
	// ratio (bid volume over total volume). Above UpperBand the book leans
	// long, below LowerBand it leans short.
	UpperBand float64
	LowerBand float64
	// MinSpreadRatio rejects books whose spread is too tight to carry an
	// imbalance edge.
	MinSpreadRatio float64
	// MinLiquidity is the smallest per-side volume at Depth levels under
	// which the book is considered too thin to trade.
	MinLiquidity schema.Quantity
	// MaxVolatility caps the (max-min)/min mid-price range over the
	// volatility window; above it the book is too jumpy.
	MaxVolatility float64
	// VolatilityWindow bounds the mid-price history, in nanoseconds.
	VolatilityWindow int64
	// Qty is the suggested order size per signal.
	Qty schema.Quantity

	Stops Stops
}

// DefaultImbalanceConfig mirrors the conservative live parameters: a 3:1
// volume ratio band, 0.05% minimum spread, 2% volatility cap over 5 minutes.
func DefaultImbalanceConfig(qty schema.Quantity) ImbalanceConfig {
	return ImbalanceConfig{
		Depth:            10,
		UpperBand:        0.75,
		LowerBand:        0.25,
		MinSpreadRatio:   0.0005,
		MinLiquidity:     1,
		MaxVolatility:    0.02,
		VolatilityWindow: 300 * 1e9,
		Qty:              qty,
		Stops:            Stops{TakeProfitPct: 0.002, StopLossPct: 0.001},
	}
}

// Imbalance thresholds the book's bid/ask volume ratio against a band,
// gated by spread, liquidity and recent volatility checks.
type Imbalance struct {
	id  uint32
	cfg ImbalanceConfig

	midHistory []timedPrice
}

type timedPrice struct {
	tsNano int64
	price  float64
}

func NewImbalance(id uint32, cfg ImbalanceConfig) *Imbalance {
	return &Imbalance{id: id, cfg: cfg}
}

func (s *Imbalance) Name() string { return "imbalance" }

func (s *Imbalance) Evaluate(v View) (schema.Signal, bool) {
	snap := v.Book
	if snap.Stale {
		return schema.Signal{}, false
	}
	bid, okB := snap.BestBid()
	ask, okA := snap.BestAsk()
	if !okB || !okA {
		return schema.Signal{}, false
	}

	mid, _ := midFloat(snap, v.Scale)
	vol := s.recordMid(v.TsNano, mid)
	if vol > s.cfg.MaxVolatility {
		return schema.Signal{}, false
	}
	if snap.SpreadRatio() < s.cfg.MinSpreadRatio {
		return schema.Signal{}, false
	}
	if snap.BidVolume(s.cfg.Depth) < s.cfg.MinLiquidity || snap.AskVolume(s.cfg.Depth) < s.cfg.MinLiquidity {
		return schema.Signal{}, false
	}

	imb := snap.Imbalance(s.cfg.Depth)
	var dir schema.Direction
	var entry schema.Price
	var conf float64
	switch {
	case imb >= s.cfg.UpperBand:
		// buying pressure: cross the spread at the ask
		dir = schema.DirectionLong
		entry = ask.Price
		conf = 0.5 + 0.5*clamp01((imb-s.cfg.UpperBand)/(1-s.cfg.UpperBand))
	case imb <= s.cfg.LowerBand:
		dir = schema.DirectionShort
		entry = bid.Price
		conf = 0.5 + 0.5*clamp01((s.cfg.LowerBand-imb)/s.cfg.LowerBand)
	default:
		return schema.Signal{}, false
	}

	sl, tp := s.cfg.Stops.Apply(entry, dir)
	return schema.Signal{
		StrategyID: s.id,
		Strategy:   s.Name(),
		SymbolID:   v.SymbolID,
		VenueID:    v.VenueID,
		Direction:  dir,
		Confidence: conf,
		Price:      entry,
		Qty:        s.cfg.Qty,
		StopLoss:   sl,
		TakeProfit: tp,
		TsNano:     v.TsNano,
	}, true
}

// recordMid appends the mid price and returns the realized range over the
// volatility window, (max-min)/min.
func (s *Imbalance) recordMid(tsNano int64, mid float64) float64 {
	s.midHistory = append(s.midHistory, timedPrice{tsNano: tsNano, price: mid})
	cutoff := tsNano - s.cfg.VolatilityWindow
	trimmed := s.midHistory[:0]
	for _, tp := range s.midHistory {
		if tp.tsNano >= cutoff {
			trimmed = append(trimmed, tp)
		}
	}
	s.midHistory = trimmed

	if len(s.midHistory) < 2 {
		return 0
	}
	lo, hi := s.midHistory[0].price, s.midHistory[0].price
	for _, tp := range s.midHistory[1:] {
		if tp.price < lo {
			lo = tp.price
		}
		if tp.price > hi {
			hi = tp.price
		}
	}
	if lo <= 0 {
		return 0
	}
	return (hi - lo) / lo
}
