package schema

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseScaled(t *testing.T) {
	cases := []struct {
		in    string
		scale Scale
		want  int64
	}{
		{"100", 2, 10000},
		{"100.5", 2, 10050},
		{"0.42", 2, 42},
		{"-3.25", 2, -325},
		{"1.23456", 2, 123}, // excess digits truncated
		{"0.00000001", 8, 1},
		{".5", 2, 50},
	}
	for _, c := range cases {
		got, err := ParseScaled(c.in, c.scale)
		require.NoErrorf(t, err, "parse %q", c.in)
		assert.Equalf(t, c.want, got, "parse %q scale %d", c.in, c.scale)
	}
}

func TestParseScaledInvalid(t *testing.T) {
	for _, in := range []string{"", "abc", "1.2.3"} {
		_, err := ParseScaled(in, 2)
		assert.Errorf(t, err, "input %q", in)
	}
}

func TestFormatScaledRoundTrip(t *testing.T) {
	for _, v := range []int64{0, 1, -1, 10050, -325, 123456789} {
		s := FormatScaled(v, 4)
		back, err := ParseScaled(s, 4)
		require.NoError(t, err)
		assert.Equalf(t, v, back, "round trip %d via %q", v, s)
	}
}

func TestMulPQ(t *testing.T) {
	spec := ScaleSpec{PriceScale: 2, QuantityScale: 2}
	// 100.00 * 0.50 = 50.00
	n, overflow := MulPQ(Price(10000), Quantity(50), spec)
	require.False(t, overflow)
	assert.Equal(t, Notional(5000), n)

	n, overflow = MulPQ(Price(-10000), Quantity(50), spec)
	require.False(t, overflow)
	assert.Equal(t, Notional(-5000), n)
}

func TestRegistry(t *testing.T) {
	reg := NewRegistry()
	bybit, err := reg.AddVenue("bybit")
	require.NoError(t, err)
	okx, err := reg.AddVenue("okx")
	require.NoError(t, err)

	spec := ScaleSpec{PriceScale: 2, QuantityScale: 4}
	btcBybit, err := reg.AddSymbol("BTCUSDT", bybit, spec, 10)
	require.NoError(t, err)
	btcOkx, err := reg.AddSymbol("BTC-USDT", okx, spec, 10)
	require.NoError(t, err)
	assert.NotEqual(t, btcBybit, btcOkx)

	id, ok := reg.SymbolIDByName(bybit, "BTCUSDT")
	require.True(t, ok)
	assert.Equal(t, btcBybit, id)

	sym, ok := reg.Symbol(btcOkx)
	require.True(t, ok)
	assert.Equal(t, okx, sym.VenueID)
	assert.Equal(t, Quantity(10), sym.MinLot)

	_, err = reg.AddSymbol("BTCUSDT", bybit, spec, 10)
	assert.Error(t, err)
	_, err = reg.AddSymbol("X", 99, spec, 0)
	assert.Error(t, err)
}
