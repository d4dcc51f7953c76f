package store

import (
	"time"

	"github.com/yanun0323/errors"
	"github.com/yanun0323/logs"

	"main/internal/schema"
	"main/pkg/conn"
)

// Store persists fills and closed round trips through the shared PostgreSQL
// client. Writes are best-effort: a failed insert is logged, never allowed
// to stall the trading path.
type Store struct {
	client   *conn.Client
	registry *schema.Registry
}

// New opens the database and migrates the trade tables.
func New(opt conn.Option, registry *schema.Registry) (*Store, error) {
	client, err := conn.New(opt)
	if err != nil {
		return nil, errors.Wrap(err, "open postgres")
	}
	if err := client.DB().AutoMigrate(&FillRecord{}, &RoundTripRecord{}); err != nil {
		return nil, errors.Wrap(err, "migrate trade tables")
	}
	return &Store{client: client, registry: registry}, nil
}

// Close releases the connection pool.
func (s *Store) Close() error {
	if s == nil {
		return nil
	}
	return s.client.Close()
}

// SaveFill records one confirmed execution. The (venue, execId) unique index
// makes replays idempotent at the database level too.
func (s *Store) SaveFill(f schema.Fill) {
	if s == nil {
		return
	}
	sym, ok := s.registry.Symbol(f.SymbolID)
	if !ok {
		logs.Warnf("store: fill for unknown symbol %d", f.SymbolID)
		return
	}
	venue, _ := s.registry.Venue(f.VenueID)

	rec := FillRecord{
		ClientID: f.ClientID,
		ExecID:   f.ExecID,
		Venue:    venue.Name,
		Symbol:   sym.Name,
		Side:     f.Side.String(),
		Price:    schema.FormatPrice(f.Price, sym.Scale),
		Qty:      schema.FormatQty(f.Qty, sym.Scale),
		Fee:      schema.FormatScaled(int64(f.Fee), sym.Scale.PriceScale),
		TradedAt: time.Unix(0, f.TsNano),
	}
	if err := s.client.DB().Create(&rec).Error; err != nil {
		logs.Warnf("store: save fill %s/%s: %v", f.ClientID, f.ExecID, err)
	}
}

// SaveRoundTrip records one closed position with its realized PnL.
func (s *Store) SaveRoundTrip(symbolID schema.SymbolID, realized schema.Notional) {
	if s == nil {
		return
	}
	sym, ok := s.registry.Symbol(symbolID)
	if !ok {
		logs.Warnf("store: round trip for unknown symbol %d", symbolID)
		return
	}
	venue, _ := s.registry.Venue(sym.VenueID)

	rec := RoundTripRecord{
		Venue:       venue.Name,
		Symbol:      sym.Name,
		RealizedPnL: schema.FormatScaled(int64(realized), sym.Scale.PriceScale),
		ClosedAt:    time.Now(),
	}
	if err := s.client.DB().Create(&rec).Error; err != nil {
		logs.Warnf("store: save round trip %s: %v", sym.Name, err)
	}
}

// RecentFills returns the latest fills for a symbol, newest first.
func (s *Store) RecentFills(symbol string, limit int) ([]FillRecord, error) {
	if s == nil {
		return nil, nil
	}
	var out []FillRecord
	err := s.client.DB().
		Where("symbol = ?", symbol).
		Order("id DESC").
		Limit(limit).
		Find(&out).Error
	if err != nil {
		return nil, errors.Wrap(err, "query fills")
	}
	return out, nil
}
