package exec

import (
	"context"
	stderrors "errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/yanun0323/errors"
	"github.com/yanun0323/logs"

	"main/internal/exchange"
	"main/internal/risk"
	"main/internal/schema"
)

// Config tunes the execution engine.
type Config struct {
	// MaxRetries bounds submission retries on transient failures.
	MaxRetries int
	// Backoff paces retries.
	Backoff exchange.Backoff
	// RateLimitBackoff paces retries after a venue rate-limit answer; it
	// should be slower than the transient backoff.
	RateLimitBackoff time.Duration
	// CompletedLogSize bounds the terminal-order log.
	CompletedLogSize int
}

func (c Config) withDefaults() Config {
	if c.MaxRetries <= 0 {
		c.MaxRetries = 3
	}
	zero := exchange.Backoff{}
	if c.Backoff == zero {
		c.Backoff = exchange.DefaultBackoff()
	}
	if c.RateLimitBackoff <= 0 {
		c.RateLimitBackoff = time.Second
	}
	if c.CompletedLogSize <= 0 {
		c.CompletedLogSize = 1024
	}
	return c
}

// Engine owns the order lifecycle. Orders live in the open set from intent
// creation until a terminal state moves them to the completed log. All
// submissions for one venue go through that venue's connector; retries
// reuse the client order ID so duplicates collapse on the exchange side.
type Engine struct {
	cfg        Config
	connectors map[schema.VenueID]exchange.Connector

	mu        sync.Mutex
	orders    map[string]*Order
	completed []Order
	seenExecs map[string]struct{}

	seq    atomic.Uint64
	runTag int64

	onFill   func(schema.Fill)
	onReject func(Order, string)

	now   func() int64
	sleep func(ctx context.Context, d time.Duration) error
}

func NewEngine(cfg Config, connectors ...exchange.Connector) *Engine {
	byVenue := make(map[schema.VenueID]exchange.Connector, len(connectors))
	for _, c := range connectors {
		byVenue[c.VenueID()] = c
	}
	return &Engine{
		cfg:        cfg.withDefaults(),
		connectors: byVenue,
		orders:     make(map[string]*Order),
		seenExecs:  make(map[string]struct{}),
		runTag:     time.Now().UnixNano(),
		now:        func() int64 { return time.Now().UnixNano() },
		sleep:      sleepCtx,
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(d):
		return nil
	}
}

// OnFill registers a callback for every deduplicated fill. Must be set
// before use.
func (e *Engine) OnFill(fn func(schema.Fill)) { e.onFill = fn }

// OnReject registers a callback fired when an order goes terminal without
// filling (reject or retry exhaustion). Must be set before use.
func (e *Engine) OnReject(fn func(Order, string)) { e.onReject = fn }

// nextClientID generates a client order ID unique for this run.
func (e *Engine) nextClientID() string {
	return fmt.Sprintf("t%d-%d", e.runTag, e.seq.Add(1))
}

// Submit turns an accepted intent into an order and drives it to
// SUBMITTED. Transient connector failures retry with the same client ID up
// to the bound; a duplicate ack counts as already submitted. An explicit
// exchange reject is terminal and never retried.
func (e *Engine) Submit(ctx context.Context, intent risk.Intent) (Order, error) {
	conn, ok := e.connectors[intent.VenueID]
	if !ok {
		return Order{}, errors.Errorf("no connector for venue %d", intent.VenueID)
	}

	ord := &Order{
		ClientID:   e.nextClientID(),
		SymbolID:   intent.SymbolID,
		VenueID:    intent.VenueID,
		Side:       intent.Side,
		Type:       intent.Type,
		Price:      intent.Price,
		Qty:        intent.Qty,
		State:      StatePending,
		StopLoss:   intent.StopLoss,
		TakeProfit: intent.TakeProfit,
		Strategy:   intent.Strategy,
		CreatedTs:  e.now(),
	}
	e.mu.Lock()
	e.orders[ord.ClientID] = ord
	e.mu.Unlock()

	req := exchange.OrderRequest{
		ClientID: ord.ClientID,
		SymbolID: ord.SymbolID,
		Side:     ord.Side,
		Type:     ord.Type,
		Price:    ord.Price,
		Qty:      ord.Qty,
	}

	var lastErr error
	for attempt := 1; attempt <= e.cfg.MaxRetries; attempt++ {
		ack, err := conn.PlaceOrder(ctx, req)
		if err == nil {
			if ack.Status == exchange.AckDuplicate {
				logs.Infof("exec: duplicate ack for %s, treating as submitted", ord.ClientID)
			}
			return e.markSubmitted(ord, ack)
		}

		var rej *exchange.RejectError
		if stderrors.As(err, &rej) {
			e.finish(ord, StateRejected, rej.Msg)
			return e.snapshot(ord), err
		}

		lastErr = err
		wait := e.cfg.Backoff.Next(attempt)
		if stderrors.Is(err, exchange.ErrRateLimited) {
			// backpressure, not a reject
			wait = e.cfg.RateLimitBackoff
		}
		logs.Warnf("exec: submit %s attempt %d failed: %v", ord.ClientID, attempt, err)
		if attempt == e.cfg.MaxRetries {
			break
		}
		if err := e.sleep(ctx, wait); err != nil {
			break
		}
	}

	e.finish(ord, StateRejected, "retries exhausted")
	return e.snapshot(ord), errors.Wrap(lastErr, "submit retries exhausted")
}

func (e *Engine) markSubmitted(ord *Order, ack exchange.OrderAck) (Order, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	ord.ExchangeID = ack.ExchangeID
	if err := ord.transition(StateSubmitted, e.now()); err != nil {
		return *ord, err
	}
	return *ord, nil
}

// Cancel withdraws an order. Cancels on terminal orders succeed
// idempotently without touching the venue.
func (e *Engine) Cancel(ctx context.Context, clientID string) error {
	e.mu.Lock()
	ord, ok := e.orders[clientID]
	if !ok || ord.State.Terminal() {
		e.mu.Unlock()
		return nil
	}
	if ord.State == StatePending {
		// never reached the venue
		e.finishLocked(ord, StateCancelled, "")
		e.mu.Unlock()
		return nil
	}
	symbolID := ord.SymbolID
	venueID := ord.VenueID
	e.mu.Unlock()

	conn, ok := e.connectors[venueID]
	if !ok {
		return errors.Errorf("no connector for venue %d", venueID)
	}
	if err := conn.CancelOrder(ctx, symbolID, clientID); err != nil {
		return errors.Wrap(err, "cancel order")
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if ord.State.Terminal() {
		// filled while the cancel was in flight
		return nil
	}
	e.finishLocked(ord, StateCancelled, "")
	return nil
}

// HandleFill applies one execution report. Fills are deduplicated by
// (client ID, exec ID) so a replayed report never double-counts; the first
// fill of an order with attached stop levels activates them on the venue.
func (e *Engine) HandleFill(ctx context.Context, f schema.Fill) {
	e.mu.Lock()
	key := f.ClientID + "|" + f.ExecID
	if _, dup := e.seenExecs[key]; dup {
		e.mu.Unlock()
		return
	}
	e.seenExecs[key] = struct{}{}

	ord, ok := e.orders[f.ClientID]
	if !ok {
		e.mu.Unlock()
		logs.Warnf("exec: fill for unknown order %s", f.ClientID)
		if e.onFill != nil {
			e.onFill(f)
		}
		return
	}
	if ord.State.Terminal() {
		e.mu.Unlock()
		logs.Warnf("exec: fill for terminal order %s in state %s", f.ClientID, ord.State)
		return
	}

	firstFill := ord.FilledQty == 0
	ord.FilledQty += f.Qty
	target := StatePartiallyFilled
	if ord.FilledQty >= ord.Qty {
		target = StateFilled
	}
	if err := ord.transition(target, f.TsNano); err != nil {
		e.mu.Unlock()
		logs.Errorf("exec: %v", err)
		return
	}
	if target == StateFilled {
		e.retireLocked(ord)
	}
	activateStops := firstFill && !ord.StopsActive && (ord.StopLoss > 0 || ord.TakeProfit > 0)
	if activateStops {
		ord.StopsActive = true
	}
	stops := exchange.StopLevels{StopLoss: ord.StopLoss, TakeProfit: ord.TakeProfit}
	symbolID := ord.SymbolID
	venueID := ord.VenueID
	e.mu.Unlock()

	if activateStops {
		if conn, ok := e.connectors[venueID]; ok {
			if err := conn.SetStops(ctx, symbolID, stops); err != nil {
				logs.Errorf("exec: set stops for %s: %v", f.ClientID, err)
			}
		}
	}
	if e.onFill != nil {
		e.onFill(f)
	}
}

// finish moves an order to a terminal state and retires it.
func (e *Engine) finish(ord *Order, state State, reason string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.finishLocked(ord, state, reason)
}

func (e *Engine) finishLocked(ord *Order, state State, reason string) {
	if err := ord.transition(state, e.now()); err != nil {
		logs.Errorf("exec: %v", err)
		return
	}
	ord.RejectReason = reason
	e.retireLocked(ord)
	if state == StateRejected && e.onReject != nil {
		snap := *ord
		go e.onReject(snap, reason)
	}
}

// retireLocked moves a terminal order to the completed log. Caller holds mu.
func (e *Engine) retireLocked(ord *Order) {
	delete(e.orders, ord.ClientID)
	e.completed = append(e.completed, *ord)
	if len(e.completed) > e.cfg.CompletedLogSize {
		e.completed = e.completed[len(e.completed)-e.cfg.CompletedLogSize:]
	}
}

// Order returns a copy of an open order.
func (e *Engine) Order(clientID string) (Order, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	ord, ok := e.orders[clientID]
	if !ok {
		return Order{}, false
	}
	return *ord, true
}

// Open returns copies of all open orders.
func (e *Engine) Open() []Order {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]Order, 0, len(e.orders))
	for _, ord := range e.orders {
		out = append(out, *ord)
	}
	return out
}

// Completed returns the terminal-order log, oldest first.
func (e *Engine) Completed() []Order {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]Order, len(e.completed))
	copy(out, e.completed)
	return out
}

// CancelAll withdraws every open order, used on shutdown after the signal
// queue is drained.
func (e *Engine) CancelAll(ctx context.Context) {
	for _, ord := range e.Open() {
		if err := e.Cancel(ctx, ord.ClientID); err != nil {
			logs.Warnf("exec: cancel %s on shutdown: %v", ord.ClientID, err)
		}
	}
}

func (e *Engine) snapshot(ord *Order) Order {
	e.mu.Lock()
	defer e.mu.Unlock()
	return *ord
}
