package schema

// Price is a scaled integer. The scale is defined per symbol.
type Price int64

// Quantity is a scaled integer. The scale is defined per symbol.
type Quantity int64

// Notional is a scaled integer carrying the price scale.
type Notional int64

// Fee is a scaled integer carrying the price scale.
type Fee int64

// Side describes order direction.
type Side uint16

const (
	SideUnknown Side = iota
	SideBuy
	SideSell
)

func (s Side) String() string {
	switch s {
	case SideBuy:
		return "buy"
	case SideSell:
		return "sell"
	default:
		return "unknown"
	}
}

// Opposite returns the closing side for a position side.
func (s Side) Opposite() Side {
	switch s {
	case SideBuy:
		return SideSell
	case SideSell:
		return SideBuy
	default:
		return SideUnknown
	}
}

// OrderType describes order type.
type OrderType uint16

const (
	OrderTypeUnknown OrderType = iota
	OrderTypeLimit
	OrderTypeMarket
)

func (t OrderType) String() string {
	switch t {
	case OrderTypeLimit:
		return "limit"
	case OrderTypeMarket:
		return "market"
	default:
		return "unknown"
	}
}

// Direction is a strategy's directional recommendation.
type Direction uint16

const (
	DirectionFlat Direction = iota
	DirectionLong
	DirectionShort
)

func (d Direction) String() string {
	switch d {
	case DirectionLong:
		return "long"
	case DirectionShort:
		return "short"
	default:
		return "flat"
	}
}

// Side maps a direction to the order side that opens it.
func (d Direction) Side() Side {
	switch d {
	case DirectionLong:
		return SideBuy
	case DirectionShort:
		return SideSell
	default:
		return SideUnknown
	}
}

// Signal is a strategy's trading recommendation before risk sizing.
// Signals are transient; they are never persisted.
type Signal struct {
	StrategyID uint32
	Strategy   string
	SymbolID   SymbolID
	VenueID    VenueID
	Direction  Direction
	Confidence float64
	Price      Price
	Qty        Quantity
	StopLoss   Price
	TakeProfit Price
	TsNano     int64
}

// Fill is a confirmed execution reported by an exchange.
type Fill struct {
	ClientID string
	ExecID   string
	SymbolID SymbolID
	VenueID  VenueID
	Side     Side
	Price    Price
	Qty      Quantity
	Fee      Fee
	TsNano   int64
}

// Level is one price level of an order book side.
type Level struct {
	Price Price
	Qty   Quantity
}
