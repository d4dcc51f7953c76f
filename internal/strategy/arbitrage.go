package strategy

import (
	"math"

	"main/internal/schema"
)

// ArbitrageConfig tunes the cross-venue gap strategy.
type ArbitrageConfig struct {
	// PeerVenue is the venue quoted against.
	PeerVenue schema.VenueID
	// MinGapRatio is the smallest |mid1-mid2|/mid1 gap worth trading,
	// net of expected fees.
	MinGapRatio float64
	// StalenessWindow bounds how far apart the two snapshots may be, in
	// nanoseconds. A wider gap invalidates the opportunity.
	StalenessWindow int64
	// MinLiquidity is the smallest per-side top-5 volume on both books.
	MinLiquidity schema.Quantity
	// Qty is the suggested order size per signal.
	Qty schema.Quantity

	Stops Stops
}

func DefaultArbitrageConfig(peer schema.VenueID, qty schema.Quantity) ArbitrageConfig {
	return ArbitrageConfig{
		PeerVenue:       peer,
		MinGapRatio:     0.002,
		StalenessWindow: 500 * 1e6,
		MinLiquidity:    1,
		Qty:             qty,
		Stops:           Stops{TakeProfitPct: 0.001, StopLossPct: 0.0008},
	}
}

// Arbitrage compares the local mid price against the same instrument on a
// peer venue and signals toward convergence when the gap exceeds the
// threshold. Both snapshots must be fresh within the staleness window.
type Arbitrage struct {
	id  uint32
	cfg ArbitrageConfig
}

func NewArbitrage(id uint32, cfg ArbitrageConfig) *Arbitrage {
	return &Arbitrage{id: id, cfg: cfg}
}

func (s *Arbitrage) Name() string { return "arbitrage" }

func (s *Arbitrage) Evaluate(v View) (schema.Signal, bool) {
	snap := v.Book
	if snap.Stale || v.Peer == nil {
		return schema.Signal{}, false
	}
	peer, ok := v.Peer(s.cfg.PeerVenue)
	if !ok || peer.Snap.Stale {
		return schema.Signal{}, false
	}

	age := snap.TsNano - peer.Snap.TsNano
	if age < 0 {
		age = -age
	}
	if age > s.cfg.StalenessWindow {
		return schema.Signal{}, false
	}

	if snap.BidVolume(5) < s.cfg.MinLiquidity || snap.AskVolume(5) < s.cfg.MinLiquidity {
		return schema.Signal{}, false
	}
	if peer.Snap.BidVolume(5) < s.cfg.MinLiquidity || peer.Snap.AskVolume(5) < s.cfg.MinLiquidity {
		return schema.Signal{}, false
	}

	localMid, okL := midFloat(snap, v.Scale)
	peerMid, okP := midFloat(peer.Snap, peer.Scale)
	if !okL || !okP || localMid <= 0 {
		return schema.Signal{}, false
	}

	gap := math.Abs(localMid-peerMid) / localMid
	if gap < s.cfg.MinGapRatio {
		return schema.Signal{}, false
	}

	// trade the local leg toward convergence
	var dir schema.Direction
	var entry schema.Price
	if localMid > peerMid {
		dir = schema.DirectionShort
		bid, ok := snap.BestBid()
		if !ok {
			return schema.Signal{}, false
		}
		entry = bid.Price
	} else {
		dir = schema.DirectionLong
		ask, ok := snap.BestAsk()
		if !ok {
			return schema.Signal{}, false
		}
		entry = ask.Price
	}

	sl, tp := s.cfg.Stops.Apply(entry, dir)
	return schema.Signal{
		StrategyID: s.id,
		Strategy:   s.Name(),
		SymbolID:   v.SymbolID,
		VenueID:    v.VenueID,
		Direction:  dir,
		Confidence: clamp01(gap / (2 * s.cfg.MinGapRatio)),
		Price:      entry,
		Qty:        s.cfg.Qty,
		StopLoss:   sl,
		TakeProfit: tp,
		TsNano:     v.TsNano,
	}, true
}
