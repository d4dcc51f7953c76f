package risk

import (
	"main/internal/position"
	"main/internal/schema"
)

// Limits is the immutable per-session risk configuration. It is built once
// at startup and never mutated mid-evaluation; reloading means constructing
// a new Manager.
type Limits struct {
	// MaxQtyPerSymbol caps the absolute position size per symbol.
	MaxQtyPerSymbol map[schema.SymbolID]schema.Quantity
	// MaxAggregateNotional caps total open exposure across all symbols.
	MaxAggregateNotional schema.Notional
	// DailyLossLimit is the maximum tolerated realized loss per session,
	// expressed as a positive number.
	DailyLossLimit schema.Notional
	// MaxOpenPositions caps concurrent open positions.
	MaxOpenPositions int
	// MinLot rejects orders sized below the exchange minimum instead of
	// rounding them up or down.
	MinLot map[schema.SymbolID]schema.Quantity
	// Groups assigns symbols to correlation groups; exposure within one
	// group is capped as a whole.
	Groups map[schema.SymbolID]string
	// GroupCaps is the notional exposure cap per correlation group.
	GroupCaps map[string]schema.Notional
	// PauseAfterLosses pauses trading after this many consecutive losing
	// round trips. Zero disables the check.
	PauseAfterLosses int
}

// Reason classifies a rejection.
type Reason uint8

const (
	ReasonNone Reason = iota
	ReasonFlatSignal
	ReasonHalted
	ReasonDailyLoss
	ReasonPaused
	ReasonSymbolCap
	ReasonMaxPositions
	ReasonCorrelationCap
	ReasonAggregateCap
	ReasonBelowMinLot
	ReasonKillSwitch
	ReasonOrderRate
)

func (r Reason) String() string {
	switch r {
	case ReasonNone:
		return "none"
	case ReasonFlatSignal:
		return "flat signal"
	case ReasonHalted:
		return "trading halted"
	case ReasonDailyLoss:
		return "daily loss limit"
	case ReasonPaused:
		return "paused after losses"
	case ReasonSymbolCap:
		return "per-symbol size cap"
	case ReasonMaxPositions:
		return "max open positions"
	case ReasonCorrelationCap:
		return "correlation exposure cap"
	case ReasonAggregateCap:
		return "aggregate exposure cap"
	case ReasonBelowMinLot:
		return "below minimum lot"
	case ReasonKillSwitch:
		return "kill switch"
	case ReasonOrderRate:
		return "order rate limit"
	default:
		return "unknown"
	}
}

// Intent is a sized order ready for execution.
type Intent struct {
	SymbolID   schema.SymbolID
	VenueID    schema.VenueID
	Side       schema.Side
	Type       schema.OrderType
	Price      schema.Price
	Qty        schema.Quantity
	StopLoss   schema.Price
	TakeProfit schema.Price
	Strategy   string
}

// Decision is the outcome of one risk evaluation.
type Decision struct {
	Accepted bool
	Reason   Reason
	Intent   Intent
	// Halt marks that the daily loss limit was breached and the session
	// must stop trading entirely.
	Halt bool
}

func reject(reason Reason) Decision {
	return Decision{Reason: reason}
}

// Evaluate is the pure risk core: a function of the signal, the portfolio
// view and the limits, with no I/O and no hidden state. Checks run in a
// fixed order and short-circuit on the first failure.
func Evaluate(sig schema.Signal, view position.View, limits Limits, scale schema.ScaleSpec) Decision {
	if sig.Direction == schema.DirectionFlat || sig.Qty <= 0 || sig.Price <= 0 {
		return reject(ReasonFlatSignal)
	}

	// (a) daily realized-loss limit
	if limits.DailyLossLimit > 0 && view.RealizedPnL <= -limits.DailyLossLimit {
		d := reject(ReasonDailyLoss)
		d.Halt = true
		return d
	}

	if limits.PauseAfterLosses > 0 && view.ConsecutiveLosses >= limits.PauseAfterLosses {
		return reject(ReasonPaused)
	}

	// (b) per-symbol size cap, counting existing exposure
	qty := sig.Qty
	existing, hasPosition := view.Positions[sig.SymbolID]
	if cap, ok := limits.MaxQtyPerSymbol[sig.SymbolID]; ok {
		held := schema.Quantity(0)
		if hasPosition {
			held = existing.Qty
		}
		headroom := cap - held
		if headroom <= 0 {
			return reject(ReasonSymbolCap)
		}
		if qty > headroom {
			qty = headroom
		}
	}

	// (c) concurrent open positions
	if limits.MaxOpenPositions > 0 && !hasPosition && len(view.Positions) >= limits.MaxOpenPositions {
		return reject(ReasonMaxPositions)
	}

	// (d) aggregate headroom clips the size
	orderNotional, overflow := schema.MulPQ(sig.Price, qty, scale)
	if overflow {
		return reject(ReasonSymbolCap)
	}
	if limits.MaxAggregateNotional > 0 {
		remaining := limits.MaxAggregateNotional - view.AggregateNotional
		if remaining <= 0 {
			return reject(ReasonAggregateCap)
		}
		if orderNotional > remaining {
			qty = schema.Quantity(int64(remaining) * scale.QuantityScale.Unit() / int64(sig.Price))
			if qty <= 0 {
				return reject(ReasonAggregateCap)
			}
			orderNotional, overflow = schema.MulPQ(sig.Price, qty, scale)
			if overflow {
				return reject(ReasonSymbolCap)
			}
		}
	}

	// (e) correlation-group exposure, checked on the final sized order
	if group, ok := limits.Groups[sig.SymbolID]; ok {
		if cap, ok := limits.GroupCaps[group]; ok {
			var groupExposure schema.Notional
			for id, pos := range view.Positions {
				if limits.Groups[id] == group {
					groupExposure += pos.Notional
				}
			}
			if groupExposure+orderNotional > cap {
				return reject(ReasonCorrelationCap)
			}
		}
	}

	// never round a clipped size up to tradability
	if minLot, ok := limits.MinLot[sig.SymbolID]; ok && qty < minLot {
		return reject(ReasonBelowMinLot)
	}

	return Decision{
		Accepted: true,
		Intent: Intent{
			SymbolID:   sig.SymbolID,
			VenueID:    sig.VenueID,
			Side:       sig.Direction.Side(),
			Type:       schema.OrderTypeLimit,
			Price:      sig.Price,
			Qty:        qty,
			StopLoss:   sig.StopLoss,
			TakeProfit: sig.TakeProfit,
			Strategy:   sig.Strategy,
		},
	}
}
