package bybit

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"main/internal/exchange"
	"main/internal/schema"
)

func TestSign(t *testing.T) {
	// known-answer vector, recomputable with: echo -n payload | openssl dgst -sha256 -hmac secret
	got := Sign("secret", "1700000000000", "key", "5000", `{"a":"b"}`)
	assert.Len(t, got, 64)
	assert.Equal(t, got, Sign("secret", "1700000000000", "key", "5000", `{"a":"b"}`), "deterministic")
	assert.NotEqual(t, got, Sign("other", "1700000000000", "key", "5000", `{"a":"b"}`))
	assert.NotEqual(t, got, Sign("secret", "1700000000001", "key", "5000", `{"a":"b"}`))
}

func newTestConnector(t *testing.T) (*Connector, schema.SymbolID) {
	t.Helper()
	reg := schema.NewRegistry()
	venueID, err := reg.AddVenue("bybit")
	require.NoError(t, err)
	symbolID, err := reg.AddSymbol("BTCUSDT", venueID, schema.ScaleSpec{PriceScale: 2, QuantityScale: 3}, 1)
	require.NoError(t, err)
	return New(context.Background(), Config{Key: "k", Secret: "s"}, venueID, reg), symbolID
}

func TestParseLevels(t *testing.T) {
	scale := schema.ScaleSpec{PriceScale: 2, QuantityScale: 3}
	levels, err := parseLevels([][2]string{{"64123.50", "0.25"}, {"64123.00", "1.5"}}, scale)
	require.NoError(t, err)
	require.Len(t, levels, 2)
	assert.Equal(t, schema.Price(6412350), levels[0].Price)
	assert.Equal(t, schema.Quantity(250), levels[0].Qty)
	assert.Equal(t, schema.Quantity(1500), levels[1].Qty)

	_, err = parseLevels([][2]string{{"bad", "1"}}, scale)
	assert.Error(t, err)
}

func TestBookUpdateNormalization(t *testing.T) {
	c, symbolID := newTestConnector(t)
	norm := c.norm(symbolID)
	scale := schema.ScaleSpec{PriceScale: 2, QuantityScale: 3}

	snap := bookMessage{Topic: "orderbook.50.BTCUSDT", Type: "snapshot", Ts: 1700000000000}
	snap.Data.UpdateID = 100
	snap.Data.Bids = [][2]string{{"100.00", "1"}}
	snap.Data.Asks = [][2]string{{"101.00", "1"}}

	update, err := c.bookUpdate(symbolID, scale, norm, snap)
	require.NoError(t, err)
	assert.Equal(t, exchange.BookSnapshot, update.Type)
	base := update.Seq

	delta := bookMessage{Topic: "orderbook.50.BTCUSDT", Type: "delta", Ts: 1700000000100}
	delta.Data.UpdateID = 101
	update, err = c.bookUpdate(symbolID, scale, norm, delta)
	require.NoError(t, err)
	assert.Equal(t, exchange.BookDelta, update.Type)
	assert.Equal(t, base+1, update.Seq, "contiguous venue ids stay contiguous")

	// skipped venue id surfaces as a sequence hole
	jump := bookMessage{Topic: "orderbook.50.BTCUSDT", Type: "delta"}
	jump.Data.UpdateID = 105
	update, err = c.bookUpdate(symbolID, scale, norm, jump)
	require.NoError(t, err)
	assert.Equal(t, base+3, update.Seq, "gap skips one emitted sequence")

	// stale deltas after the break are dropped
	stale := bookMessage{Type: "delta"}
	stale.Data.UpdateID = 106
	_, err = c.bookUpdate(symbolID, scale, norm, stale)
	assert.Error(t, err)
}

func TestFillFromExecution(t *testing.T) {
	c, symbolID := newTestConnector(t)

	fill, err := c.fillFromExecution("BTCUSDT", "Sell", "cid-1", "exec-1", "64123.50", "0.250", "1.20", "1700000000123")
	require.NoError(t, err)
	assert.Equal(t, symbolID, fill.SymbolID)
	assert.Equal(t, schema.SideSell, fill.Side)
	assert.Equal(t, schema.Price(6412350), fill.Price)
	assert.Equal(t, schema.Quantity(250), fill.Qty)
	assert.Equal(t, schema.Fee(120), fill.Fee)
	assert.Equal(t, int64(1700000000123)*int64(1e6), fill.TsNano)

	_, err = c.fillFromExecution("DOGEUSDT", "Buy", "cid", "exec", "1", "1", "0", "1")
	assert.Error(t, err, "unknown symbol is refused")
}

func TestSideAndTypeMapping(t *testing.T) {
	assert.Equal(t, "Buy", bybitSide(schema.SideBuy))
	assert.Equal(t, "Sell", bybitSide(schema.SideSell))
	assert.Equal(t, "Limit", bybitOrderType(schema.OrderTypeLimit))
	assert.Equal(t, "Market", bybitOrderType(schema.OrderTypeMarket))
}
