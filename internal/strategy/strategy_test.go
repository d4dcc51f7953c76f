package strategy

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"main/internal/book"
	"main/internal/feed"
	"main/internal/schema"
)

var testScale = schema.ScaleSpec{PriceScale: 2, QuantityScale: 0}

func snapOf(ts int64, bids, asks []schema.Level) book.Snapshot {
	return book.Snapshot{SymbolID: 1, VenueID: 1, Seq: 1, Bids: bids, Asks: asks, TsNano: ts}
}

func levels(pairs ...int64) []schema.Level {
	out := make([]schema.Level, 0, len(pairs)/2)
	for i := 0; i+1 < len(pairs); i += 2 {
		out = append(out, schema.Level{Price: schema.Price(pairs[i]), Qty: schema.Quantity(pairs[i+1])})
	}
	return out
}

func viewOf(ts int64, snap book.Snapshot) View {
	return View{SymbolID: 1, VenueID: 1, Scale: testScale, Book: snap, TsNano: ts}
}

func TestImbalanceLongOnBidPressure(t *testing.T) {
	cfg := DefaultImbalanceConfig(10)
	cfg.Depth = 2
	cfg.UpperBand = 0.6
	cfg.LowerBand = 0.4
	s := NewImbalance(1, cfg)

	// 7 vs 4 over top-2: imbalance 0.636 above the band
	snap := snapOf(1e9, levels(10000, 5, 9990, 2), levels(10010, 1, 10020, 3))
	sig, ok := s.Evaluate(viewOf(1e9, snap))
	require.True(t, ok)
	assert.Equal(t, schema.DirectionLong, sig.Direction)
	assert.Equal(t, schema.Price(10010), sig.Price, "long entry crosses at the ask")
	assert.Equal(t, schema.Quantity(10), sig.Qty)
	assert.Greater(t, sig.Confidence, 0.5)
	assert.Equal(t, schema.Price(10030), sig.TakeProfit)
	assert.Equal(t, schema.Price(10000), sig.StopLoss)
}

func TestImbalanceShortOnAskPressure(t *testing.T) {
	cfg := DefaultImbalanceConfig(10)
	cfg.Depth = 2
	cfg.UpperBand = 0.6
	cfg.LowerBand = 0.4
	s := NewImbalance(1, cfg)

	snap := snapOf(1e9, levels(10000, 1, 9990, 2), levels(10010, 5, 10020, 5))
	sig, ok := s.Evaluate(viewOf(1e9, snap))
	require.True(t, ok)
	assert.Equal(t, schema.DirectionShort, sig.Direction)
	assert.Equal(t, schema.Price(10000), sig.Price, "short entry hits the bid")
}

func TestImbalanceNeutralAndGates(t *testing.T) {
	cfg := DefaultImbalanceConfig(10)
	cfg.Depth = 2
	cfg.UpperBand = 0.6
	cfg.LowerBand = 0.4

	balanced := snapOf(1e9, levels(10000, 3), levels(10010, 3))
	_, ok := NewImbalance(1, cfg).Evaluate(viewOf(1e9, balanced))
	assert.False(t, ok, "balanced book emits nothing")

	stale := snapOf(1e9, levels(10000, 7), levels(10010, 1))
	stale.Stale = true
	_, ok = NewImbalance(1, cfg).Evaluate(viewOf(1e9, stale))
	assert.False(t, ok, "stale book emits nothing")

	thin := cfg
	thin.MinLiquidity = 100
	_, ok = NewImbalance(1, thin).Evaluate(viewOf(1e9, snapOf(1e9, levels(10000, 7), levels(10010, 1))))
	assert.False(t, ok, "thin book is gated")

	tight := cfg
	tight.MinSpreadRatio = 0.5
	_, ok = NewImbalance(1, tight).Evaluate(viewOf(1e9, snapOf(1e9, levels(10000, 7), levels(10010, 1))))
	assert.False(t, ok, "tight spread is gated")
}

func TestImbalanceVolatilityGate(t *testing.T) {
	cfg := DefaultImbalanceConfig(10)
	cfg.Depth = 2
	cfg.UpperBand = 0.6
	cfg.LowerBand = 0.4
	cfg.MaxVolatility = 0.01
	s := NewImbalance(1, cfg)

	_, _ = s.Evaluate(viewOf(1e9, snapOf(1e9, levels(10000, 7), levels(10010, 1))))
	// mid jumps 5%: above the 1% cap, gated
	jumped := snapOf(2e9, levels(10500, 7), levels(10510, 1))
	_, ok := s.Evaluate(viewOf(2e9, jumped))
	assert.False(t, ok)
}

func TestPriceActionImpulseThenRetracement(t *testing.T) {
	cfg := DefaultPriceActionConfig(5)
	s := NewPriceAction(2, cfg)

	mk := func(ts int64, bid, ask int64, trades []feed.Trade) View {
		v := viewOf(ts, snapOf(ts, levels(bid, 10), levels(ask, 10)))
		v.Trades = trades
		return v
	}

	// baseline sample at mid 100.00
	_, ok := s.Evaluate(mk(1e9, 9999, 10001, []feed.Trade{{Qty: 10, TsNano: 1e9}}))
	assert.False(t, ok)

	// impulse to mid 100.50 (+0.5%) on 2.5x volume
	_, ok = s.Evaluate(mk(2e9, 10049, 10051, []feed.Trade{
		{Qty: 10, TsNano: 1e9},
		{Qty: 25, TsNano: 2e9},
	}))
	assert.False(t, ok, "impulse alone does not enter")

	// retracement to mid 100.30: 40% of the move, inside [0.3, 0.5]
	sig, ok := s.Evaluate(mk(3e9, 10029, 10031, nil))
	require.True(t, ok)
	assert.Equal(t, schema.DirectionLong, sig.Direction)
	assert.Equal(t, schema.Price(10030), sig.Price)
	assert.InDelta(t, 0.8, sig.Confidence, 0.01)

	// one entry per impulse
	_, ok = s.Evaluate(mk(3e9+1, 10029, 10031, nil))
	assert.False(t, ok)
}

func TestPriceActionRetracementOutOfBand(t *testing.T) {
	cfg := DefaultPriceActionConfig(5)
	s := NewPriceAction(2, cfg)

	mk := func(ts int64, bid, ask int64, trades []feed.Trade) View {
		v := viewOf(ts, snapOf(ts, levels(bid, 10), levels(ask, 10)))
		v.Trades = trades
		return v
	}

	_, _ = s.Evaluate(mk(1e9, 9999, 10001, []feed.Trade{{Qty: 10, TsNano: 1e9}}))
	_, _ = s.Evaluate(mk(2e9, 10049, 10051, []feed.Trade{{Qty: 10, TsNano: 1e9}, {Qty: 25, TsNano: 2e9}}))

	// pulled back 80% of the move: impulse considered failed, no entry
	_, ok := s.Evaluate(mk(3e9, 10009, 10011, nil))
	assert.False(t, ok)
}

func TestVolumeImpulseSpike(t *testing.T) {
	cfg := DefaultVolumeImpulseConfig(5)
	cfg.BaselinePeriods = 2
	s := NewVolumeImpulse(3, cfg)

	mk := func(ts int64, bid, ask int64, trades []feed.Trade) View {
		v := viewOf(ts, snapOf(ts, levels(bid, 10), levels(ask, 10)))
		v.Trades = trades
		return v
	}

	_, ok := s.Evaluate(mk(1e9, 9999, 10001, []feed.Trade{{Qty: 10, TsNano: 1e9}}))
	assert.False(t, ok)
	_, ok = s.Evaluate(mk(2e9, 9999, 10001, []feed.Trade{{Qty: 10, TsNano: 2e9}}))
	assert.False(t, ok)
	_, ok = s.Evaluate(mk(3e9, 9999, 10001, []feed.Trade{{Qty: 10, TsNano: 3e9}}))
	assert.False(t, ok, "no spike, no signal")

	// 10x baseline volume with a +0.3% move
	sig, ok := s.Evaluate(mk(4e9, 10029, 10031, []feed.Trade{{Qty: 100, TsNano: 4e9}}))
	require.True(t, ok)
	assert.Equal(t, schema.DirectionLong, sig.Direction)
	assert.Equal(t, schema.Price(10030), sig.Price)

	// spike without a price move stays quiet
	s2 := NewVolumeImpulse(3, cfg)
	_, _ = s2.Evaluate(mk(1e9, 9999, 10001, []feed.Trade{{Qty: 10, TsNano: 1e9}}))
	_, _ = s2.Evaluate(mk(2e9, 9999, 10001, []feed.Trade{{Qty: 10, TsNano: 2e9}}))
	_, _ = s2.Evaluate(mk(3e9, 9999, 10001, []feed.Trade{{Qty: 10, TsNano: 3e9}}))
	_, ok = s2.Evaluate(mk(4e9, 9999, 10001, []feed.Trade{{Qty: 100, TsNano: 4e9}}))
	assert.False(t, ok)
}

func TestArbitrageGap(t *testing.T) {
	cfg := DefaultArbitrageConfig(2, 5)
	s := NewArbitrage(4, cfg)

	peerScale := schema.ScaleSpec{PriceScale: 4, QuantityScale: 0}
	peerSnap := book.Snapshot{
		SymbolID: 1, VenueID: 2, Seq: 9,
		Bids:   levels(999990, 10),
		Asks:   levels(1000010, 10),
		TsNano: 1e9,
	}

	v := viewOf(1e9, snapOf(1e9, levels(10049, 10), levels(10051, 10)))
	v.Peer = func(venue schema.VenueID) (PeerBook, bool) {
		if venue != 2 {
			return PeerBook{}, false
		}
		return PeerBook{Snap: peerSnap, Scale: peerScale}, true
	}

	// local 100.50 vs peer 100.00: short the rich local leg
	sig, ok := s.Evaluate(v)
	require.True(t, ok)
	assert.Equal(t, schema.DirectionShort, sig.Direction)
	assert.Equal(t, schema.Price(10049), sig.Price)

	// peer snapshot too old: opportunity invalid
	peerSnap.TsNano = 1e9 - cfg.StalenessWindow - 1
	_, ok = s.Evaluate(v)
	assert.False(t, ok)

	// no peer feed at all
	v.Peer = nil
	_, ok = s.Evaluate(v)
	assert.False(t, ok)
}

type stubStrategy struct {
	name string
	sig  schema.Signal
	fire bool
}

func (s stubStrategy) Name() string { return s.name }
func (s stubStrategy) Evaluate(View) (schema.Signal, bool) {
	return s.sig, s.fire
}

func TestCombinedWeightedConsensus(t *testing.T) {
	long := stubStrategy{name: "a", fire: true, sig: schema.Signal{
		Direction: schema.DirectionLong, Confidence: 0.8, Price: 10010, Qty: 5,
	}}
	short := stubStrategy{name: "b", fire: true, sig: schema.Signal{
		Direction: schema.DirectionShort, Confidence: 0.2, Price: 10000, Qty: 5,
	}}

	c := NewCombined(9, "combo", 0.25, Weighted{long, 1}, Weighted{short, 1})
	sig, ok := c.Evaluate(viewOf(1e9, book.Snapshot{}))
	require.True(t, ok)
	assert.Equal(t, schema.DirectionLong, sig.Direction)
	assert.Equal(t, uint32(9), sig.StrategyID)
	assert.Equal(t, "combo", sig.Strategy)
	assert.InDelta(t, 0.3, sig.Confidence, 1e-9)
	assert.Equal(t, schema.Price(10010), sig.Price, "merged signal keeps the strongest member's levels")
}

func TestCombinedDisagreementCancels(t *testing.T) {
	long := stubStrategy{name: "a", fire: true, sig: schema.Signal{Direction: schema.DirectionLong, Confidence: 0.5}}
	short := stubStrategy{name: "b", fire: true, sig: schema.Signal{Direction: schema.DirectionShort, Confidence: 0.5}}

	c := NewCombined(9, "combo", 0.25, Weighted{long, 1}, Weighted{short, 1})
	_, ok := c.Evaluate(viewOf(1e9, book.Snapshot{}))
	assert.False(t, ok)
}
