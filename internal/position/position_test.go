package position

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"main/internal/schema"
)

func newTestManager(t *testing.T) (*Manager, schema.SymbolID) {
	t.Helper()
	reg := schema.NewRegistry()
	venueID, err := reg.AddVenue("bybit")
	require.NoError(t, err)
	symbolID, err := reg.AddSymbol("BTCUSDT", venueID, schema.ScaleSpec{PriceScale: 2, QuantityScale: 2}, 1)
	require.NoError(t, err)
	return NewManager(reg), symbolID
}

func fill(symbolID schema.SymbolID, side schema.Side, price, qty int64) schema.Fill {
	return schema.Fill{
		SymbolID: symbolID,
		VenueID:  1,
		Side:     side,
		Price:    schema.Price(price),
		Qty:      schema.Quantity(qty),
	}
}

func TestApplyFillVWAPEntry(t *testing.T) {
	m, sym := newTestManager(t)

	m.ApplyFill(fill(sym, schema.SideBuy, 10000, 100)) // 1.00 @ 100.00
	m.ApplyFill(fill(sym, schema.SideBuy, 11000, 100)) // 1.00 @ 110.00

	pos, ok := m.Position(sym)
	require.True(t, ok)
	assert.Equal(t, schema.DirectionLong, pos.Direction)
	assert.Equal(t, schema.Quantity(200), pos.Qty)
	assert.Equal(t, schema.Price(10500), pos.EntryPrice, "entry moves to the volume-weighted average")
}

func TestApplyFillRealizesOnReduce(t *testing.T) {
	m, sym := newTestManager(t)

	m.ApplyFill(fill(sym, schema.SideBuy, 10000, 200)) // 2.00 @ 100.00
	m.ApplyFill(fill(sym, schema.SideSell, 11000, 50)) // reduce 0.50 @ 110.00
	pos, ok := m.Position(sym)
	require.True(t, ok)
	assert.Equal(t, schema.Quantity(150), pos.Qty)
	assert.Equal(t, schema.Price(10000), pos.EntryPrice, "entry unchanged on reduce")
	assert.Equal(t, schema.Notional(500), m.RealizedPnL()) // 0.50 * 10.00

	m.ApplyFill(fill(sym, schema.SideSell, 12000, 150)) // close the rest @ 120.00
	_, ok = m.Position(sym)
	assert.False(t, ok, "closed position is removed")
	assert.Equal(t, schema.Notional(500+3000), m.RealizedPnL())
}

func TestApplyFillFlip(t *testing.T) {
	m, sym := newTestManager(t)
	var closedPnL schema.Notional
	m.OnClosed(func(_ schema.SymbolID, pnl schema.Notional) { closedPnL = pnl })

	m.ApplyFill(fill(sym, schema.SideBuy, 10000, 100))
	m.ApplyFill(fill(sym, schema.SideSell, 9000, 200)) // flip to short 1.00 @ 90.00

	pos, ok := m.Position(sym)
	require.True(t, ok)
	assert.Equal(t, schema.DirectionShort, pos.Direction)
	assert.Equal(t, schema.Quantity(100), pos.Qty)
	assert.Equal(t, schema.Price(9000), pos.EntryPrice)
	assert.Equal(t, schema.Notional(-1000), m.RealizedPnL())
	assert.Equal(t, schema.Notional(-1000), closedPnL)
	assert.Equal(t, 1, m.View().ConsecutiveLosses)
}

// PnL after a fill sequence must match direct recomputation from the log
// under volume-weighted-average-cost accounting.
func TestPnLMatchesRecomputationFromFillLog(t *testing.T) {
	m, sym := newTestManager(t)

	log := []schema.Fill{
		fill(sym, schema.SideBuy, 10000, 100),
		fill(sym, schema.SideBuy, 10200, 100),  // avg 101.00
		fill(sym, schema.SideSell, 10400, 150), // +1.50 * 3.00
		fill(sym, schema.SideSell, 9900, 50),   // -0.50 * 2.00
	}
	for _, f := range log {
		m.ApplyFill(f)
	}

	// recompute by hand: avg entry 10100, realized = 150*(10400-10100)/100 + 50*(9900-10100)/100
	expected := schema.Notional(150*300/100 + 50*(-200)/100)
	assert.Equal(t, expected, m.RealizedPnL())
	_, open := m.Position(sym)
	assert.False(t, open)
}

func TestMarkPriceRecomputesUnrealized(t *testing.T) {
	m, sym := newTestManager(t)
	m.ApplyFill(fill(sym, schema.SideBuy, 10000, 100))

	m.MarkPrice(sym, 10500)
	pos, _ := m.Position(sym)
	assert.Equal(t, schema.Notional(500), pos.UnrealizedPnL)

	m.MarkPrice(sym, 9800)
	pos, _ = m.Position(sym)
	assert.Equal(t, schema.Notional(-200), pos.UnrealizedPnL, "unrealized is recomputed, not cached")
}

func TestFeesReduceRealized(t *testing.T) {
	m, sym := newTestManager(t)
	f := fill(sym, schema.SideBuy, 10000, 100)
	f.Fee = 25
	m.ApplyFill(f)
	assert.Equal(t, schema.Notional(-25), m.RealizedPnL())
}

func TestViewAggregates(t *testing.T) {
	m, sym := newTestManager(t)
	m.ApplyFill(fill(sym, schema.SideBuy, 10000, 100))

	v := m.View()
	require.Len(t, v.Positions, 1)
	sum := v.Positions[sym]
	assert.Equal(t, schema.Notional(10000), sum.Notional)
	assert.Equal(t, schema.Notional(10000), v.AggregateNotional)

	m.ResetSession()
	assert.Equal(t, schema.Notional(0), m.RealizedPnL())
}

func TestReconcileOverwritesAndReports(t *testing.T) {
	m, sym := newTestManager(t)
	m.ApplyFill(fill(sym, schema.SideBuy, 10000, 100))

	// exchange reports a different size: local view is overwritten
	report := m.Reconcile([]Reported{{
		SymbolID: sym, VenueID: 1, Direction: schema.DirectionLong,
		Qty: 80, EntryPrice: 10000,
	}}, 5)
	require.False(t, report.Clean())
	require.Len(t, report.Mismatches, 1)
	pos, _ := m.Position(sym)
	assert.Equal(t, schema.Quantity(80), pos.Qty)

	// within tolerance: nothing reported, nothing touched
	report = m.Reconcile([]Reported{{
		SymbolID: sym, VenueID: 1, Direction: schema.DirectionLong,
		Qty: 82, EntryPrice: 10000,
	}}, 5)
	assert.True(t, report.Clean())
	pos, _ = m.Position(sym)
	assert.Equal(t, schema.Quantity(80), pos.Qty)
}

func TestReconcileMissingSides(t *testing.T) {
	m, sym := newTestManager(t)

	// exchange knows a position we do not
	report := m.Reconcile([]Reported{{
		SymbolID: sym, VenueID: 1, Direction: schema.DirectionShort,
		Qty: 50, EntryPrice: 9900,
	}}, 0)
	require.Len(t, report.Mismatches, 1)
	assert.True(t, report.Mismatches[0].ReportedOnly)
	pos, ok := m.Position(sym)
	require.True(t, ok)
	assert.Equal(t, schema.DirectionShort, pos.Direction)

	// we know a position the exchange does not
	report = m.Reconcile(nil, 0)
	require.Len(t, report.Mismatches, 1)
	assert.True(t, report.Mismatches[0].LocalOnly)
	_, ok = m.Position(sym)
	assert.False(t, ok)
}
