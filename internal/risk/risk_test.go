package risk

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"main/internal/position"
	"main/internal/schema"
)

var testScale = schema.ScaleSpec{PriceScale: 2, QuantityScale: 2}

func testSignal(qty int64) schema.Signal {
	return schema.Signal{
		StrategyID: 1,
		Strategy:   "imbalance",
		SymbolID:   1,
		VenueID:    1,
		Direction:  schema.DirectionLong,
		Confidence: 0.8,
		Price:      10000, // 100.00
		Qty:        schema.Quantity(qty),
		TsNano:     1e9,
	}
}

func testLimits() Limits {
	return Limits{
		MaxQtyPerSymbol: map[schema.SymbolID]schema.Quantity{1: 100}, // 1.00
		MinLot:          map[schema.SymbolID]schema.Quantity{1: 1},
	}
}

func viewWith(positions ...position.Summary) position.View {
	v := position.View{Positions: make(map[schema.SymbolID]position.Summary)}
	for _, p := range positions {
		v.Positions[p.SymbolID] = p
		v.AggregateNotional += p.Notional
	}
	return v
}

func TestEvaluateSizesAgainstExistingExposure(t *testing.T) {
	// max 1.0 per symbol, existing 0.7, suggested 0.5: sized to 0.3
	view := viewWith(position.Summary{
		SymbolID: 1, Direction: schema.DirectionLong, Qty: 70, Notional: 7000,
	})
	d := Evaluate(testSignal(50), view, testLimits(), testScale)
	require.True(t, d.Accepted)
	assert.Equal(t, schema.Quantity(30), d.Intent.Qty)
	assert.Equal(t, schema.SideBuy, d.Intent.Side)
}

func TestEvaluateRejectsAtSymbolCap(t *testing.T) {
	view := viewWith(position.Summary{
		SymbolID: 1, Direction: schema.DirectionLong, Qty: 100, Notional: 10000,
	})
	d := Evaluate(testSignal(50), view, testLimits(), testScale)
	require.False(t, d.Accepted)
	assert.Equal(t, ReasonSymbolCap, d.Reason)
}

func TestEvaluateDailyLossHalts(t *testing.T) {
	limits := testLimits()
	limits.DailyLossLimit = 5000
	view := viewWith()
	view.RealizedPnL = -5000

	d := Evaluate(testSignal(50), view, limits, testScale)
	require.False(t, d.Accepted)
	assert.Equal(t, ReasonDailyLoss, d.Reason)
	assert.True(t, d.Halt)
}

func TestEvaluateMaxOpenPositions(t *testing.T) {
	limits := testLimits()
	limits.MaxOpenPositions = 1
	view := viewWith(position.Summary{
		SymbolID: 2, Direction: schema.DirectionLong, Qty: 10, Notional: 1000,
	})

	d := Evaluate(testSignal(50), view, limits, testScale)
	require.False(t, d.Accepted)
	assert.Equal(t, ReasonMaxPositions, d.Reason)

	// adding to an already-open symbol does not count as a new position
	view = viewWith(position.Summary{
		SymbolID: 1, Direction: schema.DirectionLong, Qty: 10, Notional: 1000,
	})
	d = Evaluate(testSignal(50), view, limits, testScale)
	assert.True(t, d.Accepted)
}

func TestEvaluateCorrelationCap(t *testing.T) {
	limits := testLimits()
	limits.Groups = map[schema.SymbolID]string{1: "btc", 2: "btc"}
	limits.GroupCaps = map[string]schema.Notional{"btc": 6000}
	view := viewWith(position.Summary{
		SymbolID: 2, Direction: schema.DirectionLong, Qty: 50, Notional: 5000,
	})

	// 0.5 @ 100.00 adds 50.00 of exposure on top of 50.00: over the 60.00 cap
	d := Evaluate(testSignal(50), view, limits, testScale)
	require.False(t, d.Accepted)
	assert.Equal(t, ReasonCorrelationCap, d.Reason)

	limits.GroupCaps["btc"] = 20000
	d = Evaluate(testSignal(50), view, limits, testScale)
	assert.True(t, d.Accepted)
}

func TestEvaluateAggregateHeadroomClips(t *testing.T) {
	limits := testLimits()
	limits.MaxAggregateNotional = 12000
	view := viewWith(position.Summary{
		SymbolID: 2, Direction: schema.DirectionLong, Qty: 100, Notional: 10000,
	})

	// 20.00 of headroom at price 100.00: clipped to 0.20
	d := Evaluate(testSignal(50), view, limits, testScale)
	require.True(t, d.Accepted)
	assert.Equal(t, schema.Quantity(20), d.Intent.Qty)
}

func TestEvaluateGroupCapSeesAggregateClippedSize(t *testing.T) {
	limits := testLimits()
	limits.MaxAggregateNotional = 12000
	limits.Groups = map[schema.SymbolID]string{1: "btc"}
	limits.GroupCaps = map[string]schema.Notional{"btc": 3000}
	view := viewWith(position.Summary{
		SymbolID: 2, Direction: schema.DirectionLong, Qty: 100, Notional: 10000,
	})

	// raw 0.5 @ 100.00 is 50.00 of notional, over the 30.00 group cap, but
	// aggregate headroom first clips it to 0.20 (20.00), which the group
	// admits
	d := Evaluate(testSignal(50), view, limits, testScale)
	require.True(t, d.Accepted)
	assert.Equal(t, schema.Quantity(20), d.Intent.Qty)

	// the group cap still rejects when even the clipped size exceeds it
	limits.GroupCaps["btc"] = 1500
	d = Evaluate(testSignal(50), view, limits, testScale)
	require.False(t, d.Accepted)
	assert.Equal(t, ReasonCorrelationCap, d.Reason)
}

func TestEvaluateRejectsBelowMinLot(t *testing.T) {
	limits := testLimits()
	limits.MinLot[1] = 50
	view := viewWith(position.Summary{
		SymbolID: 1, Direction: schema.DirectionLong, Qty: 70, Notional: 7000,
	})

	// clipped to 0.3, below the 0.5 min lot: reject, never round
	d := Evaluate(testSignal(50), view, limits, testScale)
	require.False(t, d.Accepted)
	assert.Equal(t, ReasonBelowMinLot, d.Reason)
}

func TestEvaluateIsPure(t *testing.T) {
	limits := testLimits()
	limits.DailyLossLimit = 5000
	view := viewWith(position.Summary{
		SymbolID: 1, Direction: schema.DirectionLong, Qty: 70, Notional: 7000,
	})
	sig := testSignal(50)

	first := Evaluate(sig, view, limits, testScale)
	for i := 0; i < 100; i++ {
		assert.Equal(t, first, Evaluate(sig, view, limits, testScale))
	}
}

func TestEvaluatePausedAfterLosses(t *testing.T) {
	limits := testLimits()
	limits.PauseAfterLosses = 3
	view := viewWith()
	view.ConsecutiveLosses = 3

	d := Evaluate(testSignal(50), view, limits, testScale)
	require.False(t, d.Accepted)
	assert.Equal(t, ReasonPaused, d.Reason)
}

func newTestManager(t *testing.T, limits Limits, session SessionConfig) *Manager {
	t.Helper()
	reg := schema.NewRegistry()
	venueID, err := reg.AddVenue("bybit")
	require.NoError(t, err)
	_, err = reg.AddSymbol("BTCUSDT", venueID, testScale, 1)
	require.NoError(t, err)
	return NewManager(limits, session, reg)
}

func TestManagerLatchesHalt(t *testing.T) {
	limits := testLimits()
	limits.DailyLossLimit = 5000
	m := newTestManager(t, limits, SessionConfig{})

	view := viewWith()
	view.RealizedPnL = -6000
	d := m.Evaluate(testSignal(50), view)
	assert.Equal(t, ReasonDailyLoss, d.Reason)
	require.True(t, m.Halted())

	// even a recovered PnL stays rejected until the session resets
	d = m.Evaluate(testSignal(50), viewWith())
	assert.Equal(t, ReasonHalted, d.Reason)

	m.ResetSession()
	d = m.Evaluate(testSignal(50), viewWith())
	assert.True(t, d.Accepted)
}

func TestManagerKillSwitch(t *testing.T) {
	m := newTestManager(t, testLimits(), SessionConfig{KillSwitch: true})
	d := m.Evaluate(testSignal(50), viewWith())
	assert.Equal(t, ReasonKillSwitch, d.Reason)
}

func TestManagerOrderRateLimit(t *testing.T) {
	m := newTestManager(t, testLimits(), SessionConfig{
		OrderRateLimit:  2,
		OrderRateWindow: time.Second,
	})
	current := time.Unix(100, 0)
	m.now = func() time.Time { return current }

	assert.True(t, m.Evaluate(testSignal(1), viewWith()).Accepted)
	assert.True(t, m.Evaluate(testSignal(1), viewWith()).Accepted)
	d := m.Evaluate(testSignal(1), viewWith())
	assert.Equal(t, ReasonOrderRate, d.Reason)

	current = current.Add(2 * time.Second)
	assert.True(t, m.Evaluate(testSignal(1), viewWith()).Accepted)
}
