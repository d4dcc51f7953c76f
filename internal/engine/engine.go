package engine

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/yanun0323/errors"
	"github.com/yanun0323/logs"

	"main/internal/book"
	"main/internal/bus"
	"main/internal/exchange"
	"main/internal/exec"
	"main/internal/feed"
	"main/internal/obs"
	"main/internal/position"
	"main/internal/risk"
	"main/internal/schema"
	"main/internal/strategy"
)

// Stream declares one (venue, symbol) market data pipeline and the
// strategies driven from it.
type Stream struct {
	Connector  exchange.Connector
	SymbolID   schema.SymbolID
	Strategies []strategy.Strategy
	// Peers maps other venues to this instrument's symbol there, for
	// cross-venue strategies.
	Peers map[schema.VenueID]schema.SymbolID
	Feed  feed.Config
}

// Config tunes the orchestrator.
type Config struct {
	// QueueSize bounds the signal queue between feeds and the dispatcher.
	QueueSize int
	// ReconcileInterval paces positions reconciliation against the venues.
	ReconcileInterval time.Duration
	// ReconcileQtyTolerance is the per-position quantity drift tolerated
	// before the exchange truth overwrites the local view.
	ReconcileQtyTolerance schema.Quantity
	// MetricsInterval paces the periodic metrics snapshot log.
	MetricsInterval time.Duration
	// ShutdownTimeout bounds the drain + cancel-all window on shutdown.
	ShutdownTimeout time.Duration

	Metrics  *obs.Metrics
	Notifier obs.Notifier

	// FillSink, TickSink and ClosedSink feed external collaborators
	// (persistence, dashboards). All optional.
	FillSink   func(schema.Fill)
	TickSink   func(schema.SymbolID, book.Snapshot)
	ClosedSink func(schema.SymbolID, schema.Notional)
}

func (c Config) withDefaults() Config {
	if c.QueueSize <= 0 {
		c.QueueSize = 1024
	}
	if c.ReconcileInterval <= 0 {
		c.ReconcileInterval = 30 * time.Second
	}
	if c.MetricsInterval <= 0 {
		c.MetricsInterval = time.Minute
	}
	if c.ShutdownTimeout <= 0 {
		c.ShutdownTimeout = 5 * time.Second
	}
	if c.Notifier == nil {
		c.Notifier = obs.LogNotifier{}
	}
	return c
}

type stream struct {
	cfg  Stream
	sym  schema.Symbol
	feed *feed.Feed
}

// Engine wires feeds through strategies, risk and execution into the
// portfolio. Each stream evaluates its strategies on the feed goroutine;
// signals cross into a single dispatcher that holds the critical section
// from risk evaluation through order submission.
type Engine struct {
	cfg       Config
	registry  *schema.Registry
	risk      *risk.Manager
	positions *position.Manager
	exec      *exec.Engine

	queue      *bus.Queue[schema.Signal]
	streams    []*stream
	bySymbol   map[schema.SymbolID]*stream
	connectors map[schema.VenueID]exchange.Connector
}

func New(cfg Config, registry *schema.Registry, riskMgr *risk.Manager, positions *position.Manager, execEngine *exec.Engine, streams []Stream) (*Engine, error) {
	cfg = cfg.withDefaults()
	e := &Engine{
		cfg:        cfg,
		registry:   registry,
		risk:       riskMgr,
		positions:  positions,
		exec:       execEngine,
		queue:      bus.NewQueue[schema.Signal](cfg.QueueSize),
		bySymbol:   make(map[schema.SymbolID]*stream, len(streams)),
		connectors: make(map[schema.VenueID]exchange.Connector),
	}

	for _, sc := range streams {
		sym, ok := registry.Symbol(sc.SymbolID)
		if !ok {
			return nil, errors.Errorf("engine: unknown symbol %d", sc.SymbolID)
		}
		if sym.VenueID != sc.Connector.VenueID() {
			return nil, errors.Errorf("engine: symbol %d does not belong to venue %s", sc.SymbolID, sc.Connector.Name())
		}
		s := &stream{
			cfg:  sc,
			sym:  sym,
			feed: feed.New(sc.Feed, sc.Connector, book.New(sc.SymbolID, sym.VenueID)),
		}
		s.feed.OnBook(func(snap book.Snapshot) { e.onBook(s, snap) })
		e.streams = append(e.streams, s)
		e.bySymbol[sc.SymbolID] = s
		e.connectors[sc.Connector.VenueID()] = sc.Connector
	}

	execEngine.OnFill(e.onFill)
	execEngine.OnReject(e.onReject)
	positions.OnClosed(e.onClosed)
	return e, nil
}

// onBook runs on the stream's feed goroutine after every book apply, so
// each strategy instance is only ever evaluated from one goroutine.
func (e *Engine) onBook(s *stream, snap book.Snapshot) {
	if mid, ok := snap.MidPrice(); ok {
		e.positions.MarkPrice(s.cfg.SymbolID, mid)
	}
	if e.cfg.TickSink != nil {
		e.cfg.TickSink(s.cfg.SymbolID, snap)
	}
	if snap.Stale {
		return
	}

	v := strategy.View{
		SymbolID: s.cfg.SymbolID,
		VenueID:  s.sym.VenueID,
		Scale:    s.sym.Scale,
		Book:     snap,
		Trades:   s.feed.Tape().Recent(0),
		TsNano:   snap.TsNano,
		Peer:     e.peerLookup(s),
	}
	for _, st := range s.cfg.Strategies {
		sig, ok := st.Evaluate(v)
		if !ok {
			continue
		}
		e.cfg.Metrics.IncSignal(sig.Strategy)
		if err := e.queue.TryPublish(sig); err != nil {
			// overflow sheds signals, never blocks the feed
			e.cfg.Metrics.IncQueueDrop()
			logs.Warnf("engine: drop %s signal for %s: %v", sig.Strategy, s.sym.Name, err)
		}
	}
}

// peerLookup resolves a configured peer stream's book for cross-venue
// strategies. A missing or never-synced peer reports not-ok; staleness
// windows are the strategy's concern.
func (e *Engine) peerLookup(s *stream) func(venue schema.VenueID) (strategy.PeerBook, bool) {
	if len(s.cfg.Peers) == 0 {
		return nil
	}
	return func(venue schema.VenueID) (strategy.PeerBook, bool) {
		peerID, ok := s.cfg.Peers[venue]
		if !ok {
			return strategy.PeerBook{}, false
		}
		peer, ok := e.bySymbol[peerID]
		if !ok {
			return strategy.PeerBook{}, false
		}
		snap := peer.feed.Book().Snapshot()
		if snap.Stale {
			return strategy.PeerBook{}, false
		}
		return strategy.PeerBook{Snap: snap, Scale: peer.sym.Scale}, true
	}
}

// dispatch is the single consumer of the signal queue: risk evaluation and
// order submission run serialized so sizing always sees the latest
// portfolio.
func (e *Engine) dispatch(ctx context.Context, sig schema.Signal) {
	start := time.Now()
	d := e.risk.Evaluate(sig, e.positions.View())
	e.cfg.Metrics.ObserveRiskEval(time.Since(start))

	if d.Halt {
		e.notify(ctx, obs.SeverityCritical, "daily loss limit breached, trading halted")
	}
	if !d.Accepted {
		e.cfg.Metrics.IncRiskReason(d.Reason)
		return
	}

	ord, err := e.exec.Submit(ctx, d.Intent)
	if err != nil {
		logs.Warnf("engine: submit %s %s: %v", d.Intent.Strategy, ord.ClientID, err)
		return
	}
	e.cfg.Metrics.IncSubmitted()
	e.cfg.Metrics.ObserveOrderFlow(time.Since(start))
}

func (e *Engine) onFill(f schema.Fill) {
	e.positions.ApplyFill(f)
	e.cfg.Metrics.IncFill()
	e.cfg.Metrics.SetRealizedPnL(int64(e.positions.RealizedPnL()))
	e.cfg.Metrics.SetOpenPositions(int64(len(e.positions.View().Positions)))
	if e.cfg.FillSink != nil {
		e.cfg.FillSink(f)
	}
}

func (e *Engine) onReject(ord exec.Order, reason string) {
	e.cfg.Metrics.IncRejected()
	e.notify(context.Background(), obs.SeverityWarn,
		fmt.Sprintf("order %s rejected: %s", ord.ClientID, reason))
}

func (e *Engine) onClosed(symbolID schema.SymbolID, realized schema.Notional) {
	sym, _ := e.registry.Symbol(symbolID)
	severity := obs.SeverityInfo
	if realized < 0 {
		severity = obs.SeverityWarn
	}
	e.notify(context.Background(), severity,
		fmt.Sprintf("position %s closed, realized %s", sym.Name, schema.FormatScaled(int64(realized), sym.Scale.PriceScale)))
	if e.cfg.ClosedSink != nil {
		e.cfg.ClosedSink(symbolID, realized)
	}
}

func (e *Engine) notify(ctx context.Context, severity obs.Severity, message string) {
	if err := e.cfg.Notifier.Notify(ctx, severity, message); err != nil {
		logs.Warnf("engine: notify: %v", err)
	}
}

// Run starts every stream, the dispatcher and the reconciliation loop, and
// blocks until ctx is done. Shutdown drains buffered signals, cancels open
// orders and closes the connectors.
func (e *Engine) Run(ctx context.Context) error {
	workCtx, workCancel := context.WithCancel(context.Background())
	defer workCancel()

	for venue, conn := range e.connectors {
		if _, err := conn.SubscribeFills(workCtx, func(f schema.Fill) {
			e.exec.HandleFill(workCtx, f)
		}); err != nil {
			return errors.Wrap(err, "subscribe fills").With("venue", venue)
		}
	}

	var wg sync.WaitGroup
	for _, s := range e.streams {
		wg.Add(1)
		go func(s *stream) {
			defer wg.Done()
			if err := s.feed.Run(workCtx); err != nil && workCtx.Err() == nil {
				logs.Errorf("engine: feed %s/%s: %v", s.cfg.Connector.Name(), s.sym.Name, err)
			}
		}(s)
	}

	wg.Add(1)
	go func() {
		defer wg.Done()
		e.reconcileLoop(workCtx)
	}()
	wg.Add(1)
	go func() {
		defer wg.Done()
		e.metricsLoop(workCtx)
	}()

	go func() {
		<-ctx.Done()
		e.queue.Close()
	}()

	// blocks until the queue is closed and drained, so in-flight signals
	// finish risk evaluation and submission before anything is torn down
	e.queue.Run(workCtx, func(sig schema.Signal) { e.dispatch(workCtx, sig) })

	shutdownCtx, cancel := context.WithTimeout(context.Background(), e.cfg.ShutdownTimeout)
	defer cancel()
	e.exec.CancelAll(shutdownCtx)

	workCancel()
	wg.Wait()
	for _, conn := range e.connectors {
		conn.Close()
	}
	return ctx.Err()
}

// reconcileLoop periodically overwrites the local portfolio with the
// venues' reported truth. A failed venue query skips the whole pass so a
// flaky connector never wipes positions it could not report.
func (e *Engine) reconcileLoop(ctx context.Context) {
	ticker := time.NewTicker(e.cfg.ReconcileInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			e.reconcileOnce(ctx)
		}
	}
}

func (e *Engine) reconcileOnce(ctx context.Context) {
	var reported []position.Reported
	for _, conn := range e.connectors {
		infos, err := conn.GetPositions(ctx)
		if err != nil {
			logs.Warnf("engine: reconcile %s: %v", conn.Name(), err)
			return
		}
		for _, info := range infos {
			dir := schema.DirectionLong
			if info.Side == schema.SideSell {
				dir = schema.DirectionShort
			}
			reported = append(reported, position.Reported{
				SymbolID:   info.SymbolID,
				VenueID:    info.VenueID,
				Direction:  dir,
				Qty:        info.Qty,
				EntryPrice: info.EntryPrice,
			})
		}
	}
	if report := e.positions.Reconcile(reported, e.cfg.ReconcileQtyTolerance); !report.Clean() {
		e.notify(ctx, obs.SeverityWarn,
			fmt.Sprintf("position reconciliation corrected %d mismatches", len(report.Mismatches)))
	}
}

func (e *Engine) metricsLoop(ctx context.Context) {
	if e.cfg.Metrics == nil {
		return
	}
	ticker := time.NewTicker(e.cfg.MetricsInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			snap := e.cfg.Metrics.Snapshot()
			logs.Infof("engine: metrics fills=%d submitted=%d rejected=%d drops=%d pnl=%d positions=%d riskEvalAvg=%s",
				snap.Fills, snap.OrdersSubmitted, snap.OrdersRejected, snap.QueueDrops,
				snap.RealizedPnL, snap.OpenPositions, snap.RiskEvalLatency.Avg)
		}
	}
}

// ResetSession clears the daily risk halt and session PnL counters at the
// rollover.
func (e *Engine) ResetSession() {
	e.risk.ResetSession()
	e.positions.ResetSession()
}
