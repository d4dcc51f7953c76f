package exchange

import (
	"context"

	"main/internal/schema"
)

// BookUpdateType distinguishes full snapshots from incremental deltas.
type BookUpdateType uint8

const (
	BookSnapshot BookUpdateType = iota
	BookDelta
)

// BookUpdate is a normalized order book message from a venue stream or a
// REST depth query.
type BookUpdate struct {
	SymbolID schema.SymbolID
	VenueID  schema.VenueID
	Type     BookUpdateType
	Seq      uint64
	Bids     []schema.Level
	Asks     []schema.Level
	TsNano   int64
}

// TradeUpdate is a normalized public trade.
type TradeUpdate struct {
	SymbolID schema.SymbolID
	VenueID  schema.VenueID
	Side     schema.Side
	Price    schema.Price
	Qty      schema.Quantity
	TsNano   int64
}

// OrderRequest is a venue-agnostic order submission.
type OrderRequest struct {
	ClientID string
	SymbolID schema.SymbolID
	Side     schema.Side
	Type     schema.OrderType
	Price    schema.Price
	Qty      schema.Quantity
}

// AckStatus is the venue's answer to an order submission.
type AckStatus uint8

const (
	AckAccepted AckStatus = iota
	// AckDuplicate means the venue already knows this client order id.
	// The submission is treated as already acknowledged, never as a new
	// order.
	AckDuplicate
)

// OrderAck confirms a submission reached the venue.
type OrderAck struct {
	ClientID   string
	ExchangeID string
	Status     AckStatus
}

// PositionInfo is the venue's authoritative view of one position.
type PositionInfo struct {
	SymbolID      schema.SymbolID
	VenueID       schema.VenueID
	Side          schema.Side
	Qty           schema.Quantity
	EntryPrice    schema.Price
	Leverage      int
	UnrealizedPnl schema.Notional
}

// StopLevels are exchange-side stop-loss/take-profit prices for a symbol.
// A zero price clears the level.
type StopLevels struct {
	StopLoss   schema.Price
	TakeProfit schema.Price
}

// Connector is the exchange-specific transport: auth signing, REST order
// calls, stream framing and rate-limit accounting. One connector serves
// one venue.
type Connector interface {
	Name() string
	VenueID() schema.VenueID

	PlaceOrder(ctx context.Context, req OrderRequest) (OrderAck, error)
	CancelOrder(ctx context.Context, symbolID schema.SymbolID, clientID string) error
	GetPositions(ctx context.Context) ([]PositionInfo, error)
	// GetOrderBook fetches a full depth snapshot, used for resync after a
	// sequence gap.
	GetOrderBook(ctx context.Context, symbolID schema.SymbolID, depth int) (BookUpdate, error)
	SetStops(ctx context.Context, symbolID schema.SymbolID, stops StopLevels) error

	SubscribeOrderBook(ctx context.Context, symbolID schema.SymbolID, depth int, handler func(BookUpdate)) (unsubscribe func(), err error)
	SubscribeTrades(ctx context.Context, symbolID schema.SymbolID, handler func(TradeUpdate)) (unsubscribe func(), err error)
	// SubscribeFills attaches to the venue's private execution stream.
	SubscribeFills(ctx context.Context, handler func(schema.Fill)) (unsubscribe func(), err error)

	Close()
}
