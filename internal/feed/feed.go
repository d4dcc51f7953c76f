package feed

import (
	"context"
	stderrors "errors"
	"sync/atomic"
	"time"

	"github.com/yanun0323/errors"
	"github.com/yanun0323/logs"

	"main/internal/book"
	"main/internal/exchange"
)

// Config tunes one market data feed.
type Config struct {
	// Depth is the subscribed order book depth.
	Depth int
	// TapeSize bounds the recent-trade ring.
	TapeSize int
	// ResyncBackoff paces snapshot refetches after a sequence gap.
	ResyncBackoff exchange.Backoff
}

func (c Config) withDefaults() Config {
	if c.Depth <= 0 {
		c.Depth = 50
	}
	if c.TapeSize <= 0 {
		c.TapeSize = 512
	}
	zero := exchange.Backoff{}
	if c.ResyncBackoff == zero {
		c.ResyncBackoff = exchange.DefaultBackoff()
	}
	return c
}

// Feed maintains one symbol's order book from a venue stream. It applies
// snapshot/delta updates strictly in feed order, detects gaps and drives
// the resync cycle. While resyncing, the book stays stale and downstream
// consumers must not act on it.
type Feed struct {
	cfg  Config
	conn exchange.Connector
	book *book.Book
	tape *Tape

	onBook  func(book.Snapshot)
	onTrade func(Trade)

	resyncing atomic.Bool
}

// New builds a feed for one (venue, symbol) book.
func New(cfg Config, conn exchange.Connector, b *book.Book) *Feed {
	cfg = cfg.withDefaults()
	return &Feed{
		cfg:  cfg,
		conn: conn,
		book: b,
		tape: NewTape(cfg.TapeSize),
	}
}

// Book returns the live book owned by this feed.
func (f *Feed) Book() *book.Book { return f.book }

// Tape returns the recent-trade tape.
func (f *Feed) Tape() *Tape { return f.tape }

// OnBook registers a callback fired after every successful book apply.
// Must be set before Run.
func (f *Feed) OnBook(fn func(book.Snapshot)) { f.onBook = fn }

// OnTrade registers a callback fired for every public trade.
// Must be set before Run.
func (f *Feed) OnTrade(fn func(Trade)) { f.onTrade = fn }

// Run subscribes the book and trade streams and blocks until ctx is done.
// The initial book state comes from a REST snapshot so deltas have a base
// to apply against.
func (f *Feed) Run(ctx context.Context) error {
	unsubBook, err := f.conn.SubscribeOrderBook(ctx, f.book.SymbolID(), f.cfg.Depth, func(u exchange.BookUpdate) {
		f.handleBook(ctx, u)
	})
	if err != nil {
		return errors.Wrap(err, "subscribe order book")
	}
	defer unsubBook()

	unsubTrades, err := f.conn.SubscribeTrades(ctx, f.book.SymbolID(), func(u exchange.TradeUpdate) {
		f.handleTrade(u)
	})
	if err != nil {
		return errors.Wrap(err, "subscribe trades")
	}
	defer unsubTrades()

	f.resync(ctx)
	<-ctx.Done()
	return ctx.Err()
}

// Invalidate marks the book stale and forces a resync, e.g. after the
// underlying stream reconnects.
func (f *Feed) Invalidate(ctx context.Context) {
	f.book.Invalidate()
	go f.resync(ctx)
}

func (f *Feed) handleBook(ctx context.Context, u exchange.BookUpdate) {
	var err error
	switch u.Type {
	case exchange.BookSnapshot:
		err = f.book.ApplySnapshot(u.Seq, u.Bids, u.Asks, u.TsNano)
	case exchange.BookDelta:
		err = f.book.ApplyDelta(u.Seq, u.Bids, u.Asks, u.TsNano)
	}
	if err != nil {
		var gap *book.SequenceGapError
		if stderrors.As(err, &gap) {
			logs.Warnf("feed %s/%d: %v, resyncing", f.conn.Name(), f.book.SymbolID(), err)
			go f.resync(ctx)
			return
		}
		logs.Errorf("feed %s/%d: apply book update: %v", f.conn.Name(), f.book.SymbolID(), err)
		go f.resync(ctx)
		return
	}
	if f.onBook != nil {
		f.onBook(f.book.Snapshot())
	}
}

func (f *Feed) handleTrade(u exchange.TradeUpdate) {
	tr := Trade{Side: u.Side, Price: u.Price, Qty: u.Qty, TsNano: u.TsNano}
	f.tape.Append(tr)
	if f.onTrade != nil {
		f.onTrade(tr)
	}
}

// resync refetches a full snapshot until one applies cleanly. Single
// flight: concurrent gap detections collapse into one refetch loop.
func (f *Feed) resync(ctx context.Context) {
	if !f.resyncing.CompareAndSwap(false, true) {
		return
	}
	defer f.resyncing.Store(false)

	for attempt := 1; ; attempt++ {
		if ctx.Err() != nil {
			return
		}
		u, err := f.conn.GetOrderBook(ctx, f.book.SymbolID(), f.cfg.Depth)
		if err == nil {
			err = f.book.ApplySnapshot(u.Seq, u.Bids, u.Asks, u.TsNano)
			if err == nil {
				logs.Infof("feed %s/%d: resynced at seq %d", f.conn.Name(), f.book.SymbolID(), u.Seq)
				if f.onBook != nil {
					f.onBook(f.book.Snapshot())
				}
				return
			}
		}
		logs.Warnf("feed %s/%d: resync attempt %d failed: %v", f.conn.Name(), f.book.SymbolID(), attempt, err)
		select {
		case <-ctx.Done():
			return
		case <-time.After(f.cfg.ResyncBackoff.Next(attempt)):
		}
	}
}
