package position

import (
	"sync"

	"github.com/yanun0323/logs"

	"main/internal/schema"
)

// Position is one open position. Qty is always positive; Direction carries
// the sign.
type Position struct {
	SymbolID   schema.SymbolID
	VenueID    schema.VenueID
	Direction  schema.Direction
	Qty        schema.Quantity
	EntryPrice schema.Price

	UnrealizedPnL schema.Notional
	OpenedTsNano  int64
}

// Summary is the read-only per-position view handed to risk checks.
type Summary struct {
	SymbolID      schema.SymbolID
	Direction     schema.Direction
	Qty           schema.Quantity
	EntryPrice    schema.Price
	Notional      schema.Notional
	UnrealizedPnL schema.Notional
}

// View is a point-in-time copy of the portfolio handed to risk checks.
// Risk reads it and never writes back.
type View struct {
	Positions         map[schema.SymbolID]Summary
	AggregateNotional schema.Notional
	RealizedPnL       schema.Notional
	ConsecutiveLosses int
}

// Manager is the authoritative in-process portfolio. It mutates only on
// confirmed fills, mark-price ticks and reconciliation overwrites.
type Manager struct {
	mu        sync.Mutex
	registry  *schema.Registry
	positions map[schema.SymbolID]*Position

	realized          schema.Notional
	consecutiveLosses int

	onClosed func(symbolID schema.SymbolID, realized schema.Notional)
}

func NewManager(registry *schema.Registry) *Manager {
	return &Manager{
		registry:  registry,
		positions: make(map[schema.SymbolID]*Position),
	}
}

// OnClosed registers a callback fired whenever a position is fully closed,
// with the realized PnL of the round trip. Must be set before use.
func (m *Manager) OnClosed(fn func(symbolID schema.SymbolID, realized schema.Notional)) {
	m.onClosed = fn
}

// ApplyFill updates the portfolio with one confirmed fill. Same-direction
// fills move the entry price to the volume-weighted average; reducing fills
// realize PnL against the entry; a fill larger than the position flips it,
// realizing the closed part and opening the remainder at the fill price.
func (m *Manager) ApplyFill(f schema.Fill) {
	m.mu.Lock()
	defer m.mu.Unlock()

	sym, ok := m.registry.Symbol(f.SymbolID)
	if !ok {
		logs.Errorf("position: fill for unknown symbol %d", f.SymbolID)
		return
	}
	scale := sym.Scale

	dir := schema.DirectionLong
	if f.Side == schema.SideSell {
		dir = schema.DirectionShort
	}

	pos, ok := m.positions[f.SymbolID]
	if !ok {
		m.positions[f.SymbolID] = &Position{
			SymbolID:     f.SymbolID,
			VenueID:      f.VenueID,
			Direction:    dir,
			Qty:          f.Qty,
			EntryPrice:   f.Price,
			OpenedTsNano: f.TsNano,
		}
		m.realized -= schema.Notional(f.Fee)
		return
	}

	m.realized -= schema.Notional(f.Fee)

	if pos.Direction == dir {
		// same direction: volume-weighted average entry
		oldNotional, _ := schema.MulPQ(pos.EntryPrice, pos.Qty, scale)
		addNotional, _ := schema.MulPQ(f.Price, f.Qty, scale)
		total := pos.Qty + f.Qty
		pos.EntryPrice = schema.Price(int64(oldNotional+addNotional) * scale.QuantityScale.Unit() / int64(total))
		pos.Qty = total
		return
	}

	// opposite direction: reduce, close or flip
	closeQty := f.Qty
	if closeQty > pos.Qty {
		closeQty = pos.Qty
	}
	pnl := realizedPnL(pos.Direction, pos.EntryPrice, f.Price, closeQty, scale)
	m.realized += pnl

	switch {
	case f.Qty < pos.Qty:
		pos.Qty -= f.Qty
	case f.Qty == pos.Qty:
		delete(m.positions, f.SymbolID)
		m.recordRoundTrip(f.SymbolID, pnl)
	default:
		// flip: remainder opens at the fill price
		m.recordRoundTrip(f.SymbolID, pnl)
		m.positions[f.SymbolID] = &Position{
			SymbolID:     f.SymbolID,
			VenueID:      f.VenueID,
			Direction:    dir,
			Qty:          f.Qty - pos.Qty,
			EntryPrice:   f.Price,
			OpenedTsNano: f.TsNano,
		}
	}
}

func (m *Manager) recordRoundTrip(symbolID schema.SymbolID, pnl schema.Notional) {
	if pnl < 0 {
		m.consecutiveLosses++
	} else {
		m.consecutiveLosses = 0
	}
	if m.onClosed != nil {
		m.onClosed(symbolID, pnl)
	}
}

// realizedPnL computes PnL for closing closeQty at exitPrice against entry.
func realizedPnL(dir schema.Direction, entry, exit schema.Price, closeQty schema.Quantity, scale schema.ScaleSpec) schema.Notional {
	diff := exit - entry
	if dir == schema.DirectionShort {
		diff = -diff
	}
	pnl, _ := schema.MulPQ(schema.Price(abs64(int64(diff))), closeQty, scale)
	if diff < 0 {
		return -pnl
	}
	return pnl
}

func abs64(v int64) int64 {
	if v < 0 {
		return -v
	}
	return v
}

// MarkPrice recomputes unrealized PnL for a symbol from the latest mark.
func (m *Manager) MarkPrice(symbolID schema.SymbolID, mark schema.Price) {
	m.mu.Lock()
	defer m.mu.Unlock()
	pos, ok := m.positions[symbolID]
	if !ok {
		return
	}
	sym, ok2 := m.registry.Symbol(symbolID)
	if !ok2 {
		return
	}
	pos.UnrealizedPnL = realizedPnL(pos.Direction, pos.EntryPrice, mark, pos.Qty, sym.Scale)
}

// Position returns a copy of the open position for a symbol.
func (m *Manager) Position(symbolID schema.SymbolID) (Position, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	pos, ok := m.positions[symbolID]
	if !ok {
		return Position{}, false
	}
	return *pos, true
}

// RealizedPnL returns the session realized PnL, fees included.
func (m *Manager) RealizedPnL() schema.Notional {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.realized
}

// View snapshots the portfolio for risk evaluation.
func (m *Manager) View() View {
	m.mu.Lock()
	defer m.mu.Unlock()

	v := View{
		Positions:         make(map[schema.SymbolID]Summary, len(m.positions)),
		RealizedPnL:       m.realized,
		ConsecutiveLosses: m.consecutiveLosses,
	}
	for id, pos := range m.positions {
		sym, ok := m.registry.Symbol(id)
		if !ok {
			continue
		}
		notional, _ := schema.MulPQ(pos.EntryPrice, pos.Qty, sym.Scale)
		v.Positions[id] = Summary{
			SymbolID:      id,
			Direction:     pos.Direction,
			Qty:           pos.Qty,
			EntryPrice:    pos.EntryPrice,
			Notional:      schema.AbsNotional(notional),
			UnrealizedPnL: pos.UnrealizedPnL,
		}
		v.AggregateNotional += schema.AbsNotional(notional)
	}
	return v
}

// ResetSession clears session counters (realized PnL, loss streak) without
// touching open positions. Used at the daily rollover.
func (m *Manager) ResetSession() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.realized = 0
	m.consecutiveLosses = 0
}
