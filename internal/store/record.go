package store

import "time"

// FillRecord is one confirmed execution, persisted for the trade log.
// Prices and sizes are stored as decimal strings so the table is readable
// without the per-symbol scale.
type FillRecord struct {
	ID        uint64 `gorm:"primaryKey;autoIncrement"`
	ClientID  string `gorm:"index;size:64"`
	ExecID    string `gorm:"uniqueIndex:idx_fill_exec;size:64"`
	Venue     string `gorm:"uniqueIndex:idx_fill_exec;size:16"`
	Symbol    string `gorm:"index;size:32"`
	Side      string `gorm:"size:8"`
	Price     string `gorm:"size:32"`
	Qty       string `gorm:"size:32"`
	Fee       string `gorm:"size:32"`
	TradedAt  time.Time
	CreatedAt time.Time
}

// RoundTripRecord is one closed position round trip.
type RoundTripRecord struct {
	ID          uint64 `gorm:"primaryKey;autoIncrement"`
	Venue       string `gorm:"size:16"`
	Symbol      string `gorm:"index;size:32"`
	RealizedPnL string `gorm:"size:32"`
	ClosedAt    time.Time
	CreatedAt   time.Time
}
