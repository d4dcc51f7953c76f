package store

import (
	"context"
	"strconv"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/yanun0323/logs"

	"main/internal/book"
	"main/internal/schema"
)

// TickerPublisher mirrors each book's best bid/ask into Redis hashes for
// dashboard consumers. Publishes are throttled per symbol so the hot book
// path never floods Redis.
type TickerPublisher struct {
	client   *redis.Client
	registry *schema.Registry
	interval time.Duration
	ttl      time.Duration

	mu   sync.Mutex
	last map[schema.SymbolID]time.Time

	now func() time.Time
}

// NewTickerPublisher connects the publisher to Redis. interval <= 0 means
// publish every update.
func NewTickerPublisher(client *redis.Client, registry *schema.Registry, interval time.Duration) *TickerPublisher {
	return &TickerPublisher{
		client:   client,
		registry: registry,
		interval: interval,
		ttl:      time.Minute,
		last:     make(map[schema.SymbolID]time.Time),
		now:      time.Now,
	}
}

// Publish writes the snapshot's top of book. Stale or empty books are
// skipped; a failed write is logged and dropped.
func (p *TickerPublisher) Publish(ctx context.Context, symbolID schema.SymbolID, snap book.Snapshot) {
	if p == nil || snap.Stale {
		return
	}
	bid, okB := snap.BestBid()
	ask, okA := snap.BestAsk()
	if !okB || !okA {
		return
	}
	if !p.due(symbolID) {
		return
	}

	sym, ok := p.registry.Symbol(symbolID)
	if !ok {
		return
	}
	venue, _ := p.registry.Venue(sym.VenueID)
	key := "ticker:" + venue.Name + ":" + sym.Name

	fields := map[string]any{
		"bid":     schema.FormatPrice(bid.Price, sym.Scale),
		"bid_qty": schema.FormatQty(bid.Qty, sym.Scale),
		"ask":     schema.FormatPrice(ask.Price, sym.Scale),
		"ask_qty": schema.FormatQty(ask.Qty, sym.Scale),
		"ts":      strconv.FormatInt(snap.TsNano/int64(time.Millisecond), 10),
	}
	pipe := p.client.Pipeline()
	pipe.HSet(ctx, key, fields)
	pipe.Expire(ctx, key, p.ttl)
	if _, err := pipe.Exec(ctx); err != nil {
		logs.Warnf("store: publish ticker %s: %v", key, err)
	}
}

func (p *TickerPublisher) due(symbolID schema.SymbolID) bool {
	if p.interval <= 0 {
		return true
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	now := p.now()
	if now.Sub(p.last[symbolID]) < p.interval {
		return false
	}
	p.last[symbolID] = now
	return true
}
