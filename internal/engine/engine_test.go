package engine

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"main/internal/exchange"
	"main/internal/exec"
	"main/internal/feed"
	"main/internal/obs"
	"main/internal/position"
	"main/internal/risk"
	"main/internal/schema"
	"main/internal/strategy"
)

type fakeConnector struct {
	name  string
	venue schema.VenueID

	mu           sync.Mutex
	bookHandlers map[schema.SymbolID]func(exchange.BookUpdate)
	fillHandler  func(schema.Fill)
	placed       []exchange.OrderRequest
	cancelled    []string
	positions    []exchange.PositionInfo
	restBooks    map[schema.SymbolID]exchange.BookUpdate
}

func newFakeConnector(name string, venue schema.VenueID) *fakeConnector {
	return &fakeConnector{
		name:         name,
		venue:        venue,
		bookHandlers: make(map[schema.SymbolID]func(exchange.BookUpdate)),
		restBooks:    make(map[schema.SymbolID]exchange.BookUpdate),
	}
}

func (c *fakeConnector) Name() string            { return c.name }
func (c *fakeConnector) VenueID() schema.VenueID { return c.venue }
func (c *fakeConnector) Close()                  {}

func (c *fakeConnector) PlaceOrder(_ context.Context, req exchange.OrderRequest) (exchange.OrderAck, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.placed = append(c.placed, req)
	return exchange.OrderAck{ClientID: req.ClientID, ExchangeID: "ex-1", Status: exchange.AckAccepted}, nil
}

func (c *fakeConnector) CancelOrder(_ context.Context, _ schema.SymbolID, clientID string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.cancelled = append(c.cancelled, clientID)
	return nil
}

func (c *fakeConnector) GetPositions(context.Context) ([]exchange.PositionInfo, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]exchange.PositionInfo(nil), c.positions...), nil
}

func (c *fakeConnector) GetOrderBook(_ context.Context, symbolID schema.SymbolID, _ int) (exchange.BookUpdate, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.restBooks[symbolID], nil
}

func (c *fakeConnector) SetStops(context.Context, schema.SymbolID, exchange.StopLevels) error {
	return nil
}

func (c *fakeConnector) SubscribeOrderBook(_ context.Context, symbolID schema.SymbolID, _ int, handler func(exchange.BookUpdate)) (func(), error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.bookHandlers[symbolID] = handler
	return func() {}, nil
}

func (c *fakeConnector) SubscribeTrades(context.Context, schema.SymbolID, func(exchange.TradeUpdate)) (func(), error) {
	return func() {}, nil
}

func (c *fakeConnector) SubscribeFills(_ context.Context, handler func(schema.Fill)) (func(), error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.fillHandler = handler
	return func() {}, nil
}

func (c *fakeConnector) placedOrders() []exchange.OrderRequest {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]exchange.OrderRequest(nil), c.placed...)
}

func (c *fakeConnector) pushFill(f schema.Fill) {
	c.mu.Lock()
	h := c.fillHandler
	c.mu.Unlock()
	h(f)
}

// emitOnce emits one long signal on the first evaluation, then stays quiet.
type emitOnce struct {
	fired bool
	qty   schema.Quantity
}

func (s *emitOnce) Name() string { return "emit-once" }

func (s *emitOnce) Evaluate(v strategy.View) (schema.Signal, bool) {
	if s.fired {
		return schema.Signal{}, false
	}
	ask, ok := v.Book.BestAsk()
	if !ok {
		return schema.Signal{}, false
	}
	s.fired = true
	return schema.Signal{
		Strategy:   s.Name(),
		SymbolID:   v.SymbolID,
		VenueID:    v.VenueID,
		Direction:  schema.DirectionLong,
		Confidence: 0.9,
		Price:      ask.Price,
		Qty:        s.qty,
		TsNano:     v.TsNano,
	}, true
}

// peerProbe records whether the peer lookup resolved on evaluation.
type peerProbe struct {
	peerVenue schema.VenueID
	mu        sync.Mutex
	resolved  bool
}

func (s *peerProbe) Name() string { return "peer-probe" }

func (s *peerProbe) Evaluate(v strategy.View) (schema.Signal, bool) {
	if v.Peer == nil {
		return schema.Signal{}, false
	}
	if _, ok := v.Peer(s.peerVenue); ok {
		s.mu.Lock()
		s.resolved = true
		s.mu.Unlock()
	}
	return schema.Signal{}, false
}

func (s *peerProbe) wasResolved() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.resolved
}

func snapshotUpdate(symbolID schema.SymbolID, venueID schema.VenueID, seq uint64) exchange.BookUpdate {
	return exchange.BookUpdate{
		SymbolID: symbolID,
		VenueID:  venueID,
		Type:     exchange.BookSnapshot,
		Seq:      seq,
		Bids:     []schema.Level{{Price: 10000, Qty: 1000}},
		Asks:     []schema.Level{{Price: 10010, Qty: 1000}},
		TsNano:   time.Now().UnixNano(),
	}
}

type testRig struct {
	registry  *schema.Registry
	venueID   schema.VenueID
	symbolID  schema.SymbolID
	conn      *fakeConnector
	positions *position.Manager
	execEng   *exec.Engine
	riskMgr   *risk.Manager
}

func newTestRig(t *testing.T) *testRig {
	t.Helper()
	reg := schema.NewRegistry()
	venueID, err := reg.AddVenue("alpha")
	require.NoError(t, err)
	symbolID, err := reg.AddSymbol("BTCUSDT", venueID, schema.ScaleSpec{PriceScale: 2, QuantityScale: 2}, 1)
	require.NoError(t, err)

	conn := newFakeConnector("alpha", venueID)
	conn.restBooks[symbolID] = snapshotUpdate(symbolID, venueID, 10)

	return &testRig{
		registry:  reg,
		venueID:   venueID,
		symbolID:  symbolID,
		conn:      conn,
		positions: position.NewManager(reg),
		execEng:   exec.NewEngine(exec.Config{}, conn),
		riskMgr:   risk.NewManager(risk.Limits{}, risk.SessionConfig{}, reg),
	}
}

func TestEngineSignalToFill(t *testing.T) {
	rig := newTestRig(t)
	metrics := obs.NewMetrics()

	e, err := New(Config{
		ReconcileInterval: time.Hour,
		Metrics:           metrics,
	}, rig.registry, rig.riskMgr, rig.positions, rig.execEng, []Stream{{
		Connector:  rig.conn,
		SymbolID:   rig.symbolID,
		Strategies: []strategy.Strategy{&emitOnce{qty: 50}},
		Feed:       feed.Config{TapeSize: 16},
	}})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = e.Run(ctx)
	}()

	// the initial resync snapshot drives the first evaluation
	require.Eventually(t, func() bool {
		return len(rig.conn.placedOrders()) == 1
	}, time.Second, 5*time.Millisecond)

	placed := rig.conn.placedOrders()[0]
	assert.Equal(t, rig.symbolID, placed.SymbolID)
	assert.Equal(t, schema.SideBuy, placed.Side)
	assert.Equal(t, schema.Price(10010), placed.Price)
	assert.Equal(t, schema.Quantity(50), placed.Qty)

	rig.conn.pushFill(schema.Fill{
		ClientID: placed.ClientID,
		ExecID:   "exec-1",
		SymbolID: rig.symbolID,
		VenueID:  rig.venueID,
		Side:     schema.SideBuy,
		Price:    10010,
		Qty:      50,
		TsNano:   time.Now().UnixNano(),
	})

	require.Eventually(t, func() bool {
		pos, ok := rig.positions.Position(rig.symbolID)
		return ok && pos.Qty == 50 && pos.Direction == schema.DirectionLong
	}, time.Second, 5*time.Millisecond)

	snap := metrics.Snapshot()
	assert.Equal(t, uint64(1), snap.SignalsByStrategy["emit-once"])
	assert.Equal(t, uint64(1), snap.OrdersSubmitted)
	assert.Equal(t, uint64(1), snap.Fills)

	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("engine did not shut down")
	}
}

func TestEngineRiskRejectCountsReason(t *testing.T) {
	rig := newTestRig(t)
	rig.riskMgr = risk.NewManager(risk.Limits{
		MinLot: map[schema.SymbolID]schema.Quantity{rig.symbolID: 100},
	}, risk.SessionConfig{}, rig.registry)
	metrics := obs.NewMetrics()

	e, err := New(Config{
		ReconcileInterval: time.Hour,
		Metrics:           metrics,
	}, rig.registry, rig.riskMgr, rig.positions, rig.execEng, []Stream{{
		Connector:  rig.conn,
		SymbolID:   rig.symbolID,
		Strategies: []strategy.Strategy{&emitOnce{qty: 50}},
	}})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = e.Run(ctx)
	}()

	require.Eventually(t, func() bool {
		return metrics.Snapshot().RiskReasonCounts[risk.ReasonBelowMinLot] == 1
	}, time.Second, 5*time.Millisecond)
	assert.Empty(t, rig.conn.placedOrders(), "rejected signal never reaches the venue")

	cancel()
	<-done
}

func TestEnginePeerLookupAcrossVenues(t *testing.T) {
	rig := newTestRig(t)
	peerVenue, err := rig.registry.AddVenue("beta")
	require.NoError(t, err)
	peerSymbol, err := rig.registry.AddSymbol("BTC-USDT-SWAP", peerVenue, schema.ScaleSpec{PriceScale: 4, QuantityScale: 2}, 1)
	require.NoError(t, err)

	peerConn := newFakeConnector("beta", peerVenue)
	peerConn.restBooks[peerSymbol] = exchange.BookUpdate{
		SymbolID: peerSymbol,
		VenueID:  peerVenue,
		Type:     exchange.BookSnapshot,
		Seq:      20,
		Bids:     []schema.Level{{Price: 1000000, Qty: 1000}},
		Asks:     []schema.Level{{Price: 1001000, Qty: 1000}},
		TsNano:   time.Now().UnixNano(),
	}

	probe := &peerProbe{peerVenue: peerVenue}
	execEng := exec.NewEngine(exec.Config{}, rig.conn, peerConn)
	e, err := New(Config{
		ReconcileInterval: time.Hour,
	}, rig.registry, rig.riskMgr, rig.positions, execEng, []Stream{
		{
			Connector:  rig.conn,
			SymbolID:   rig.symbolID,
			Strategies: []strategy.Strategy{probe},
			Peers:      map[schema.VenueID]schema.SymbolID{peerVenue: peerSymbol},
		},
		{Connector: peerConn, SymbolID: peerSymbol},
	})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = e.Run(ctx)
	}()

	require.Eventually(t, func() bool {
		// re-deliver local snapshots until the peer book has synced
		rig.conn.mu.Lock()
		h := rig.conn.bookHandlers[rig.symbolID]
		rig.conn.mu.Unlock()
		if h != nil {
			h(snapshotUpdate(rig.symbolID, rig.venueID, 11))
		}
		return probe.wasResolved()
	}, time.Second, 10*time.Millisecond)

	cancel()
	<-done
}

func TestEngineReconcileAdoptsExchangeTruth(t *testing.T) {
	rig := newTestRig(t)
	rig.conn.mu.Lock()
	rig.conn.positions = []exchange.PositionInfo{{
		SymbolID:   rig.symbolID,
		VenueID:    rig.venueID,
		Side:       schema.SideSell,
		Qty:        300,
		EntryPrice: 9900,
	}}
	rig.conn.mu.Unlock()

	e, err := New(Config{
		ReconcileInterval: 10 * time.Millisecond,
	}, rig.registry, rig.riskMgr, rig.positions, rig.execEng, []Stream{{
		Connector: rig.conn,
		SymbolID:  rig.symbolID,
	}})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = e.Run(ctx)
	}()

	require.Eventually(t, func() bool {
		pos, ok := rig.positions.Position(rig.symbolID)
		return ok && pos.Direction == schema.DirectionShort && pos.Qty == 300
	}, time.Second, 5*time.Millisecond)

	cancel()
	<-done
}

func TestEngineRejectsForeignSymbol(t *testing.T) {
	rig := newTestRig(t)
	otherVenue, err := rig.registry.AddVenue("beta")
	require.NoError(t, err)
	otherSymbol, err := rig.registry.AddSymbol("ETH-USDT-SWAP", otherVenue, schema.ScaleSpec{PriceScale: 2, QuantityScale: 2}, 1)
	require.NoError(t, err)

	_, err = New(Config{}, rig.registry, rig.riskMgr, rig.positions, rig.execEng, []Stream{{
		Connector: rig.conn,
		SymbolID:  otherSymbol,
	}})
	assert.Error(t, err, "stream symbol must belong to the connector's venue")
}
