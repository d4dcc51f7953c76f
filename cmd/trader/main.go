package main

import (
	"context"
	stderrors "errors"
	"flag"
	"os"
	"os/signal"
	"syscall"
	"time"

	pyroscope "github.com/grafana/pyroscope-go"
	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"
	"github.com/yanun0323/errors"
	"github.com/yanun0323/logs"

	"main/internal/book"
	"main/internal/engine"
	"main/internal/exchange"
	"main/internal/exchange/bybit"
	"main/internal/exchange/okx"
	"main/internal/exec"
	"main/internal/feed"
	"main/internal/obs"
	"main/internal/ops"
	"main/internal/position"
	"main/internal/risk"
	"main/internal/schema"
	"main/internal/store"
	"main/internal/strategy"
	"main/pkg/conn"
)

func main() {
	configPath := flag.String("config", "", "path to the config file (empty: environment only)")
	flag.Parse()

	// .env is optional, real deployments inject the environment directly
	_ = godotenv.Load()

	loaded, err := ops.Load(*configPath)
	if err != nil {
		fatalf("load config: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if loaded.Pyroscope.Enabled {
		profiler, err := pyroscope.Start(pyroscope.Config{
			ApplicationName: "trader",
			ServerAddress:   loaded.Pyroscope.ServerAddress,
			Tags:            map[string]string{"env": loaded.Env},
			Logger:          emptyLogger{},
			ProfileTypes: []pyroscope.ProfileType{
				pyroscope.ProfileCPU,
				pyroscope.ProfileAllocObjects,
				pyroscope.ProfileAllocSpace,
				pyroscope.ProfileInuseObjects,
				pyroscope.ProfileInuseSpace,
			},
		})
		if err != nil {
			fatalf("start pyroscope: %v", err)
		}
		defer func() { _ = profiler.Stop() }()
	}

	connectors, err := buildConnectors(ctx, loaded)
	if err != nil {
		fatalf("build connectors: %v", err)
	}

	riskMgr := risk.NewManager(loaded.Limits, loaded.Session, loaded.Registry)
	positions := position.NewManager(loaded.Registry)

	conns := make([]exchange.Connector, 0, len(connectors))
	for _, c := range connectors {
		conns = append(conns, c)
	}
	execEngine := exec.NewEngine(exec.Config{}, conns...)

	cfg := engine.Config{
		QueueSize:         loaded.Engine.QueueSize,
		ReconcileInterval: loaded.Engine.ReconcileInterval(),
		MetricsInterval:   loaded.Engine.MetricsInterval(),
		ShutdownTimeout:   loaded.Engine.ShutdownTimeout(),
		Metrics:           obs.NewMetrics(),
		Notifier:          buildNotifier(loaded),
	}

	if loaded.Store.Postgres.Enabled {
		st, err := store.New(conn.Option{DSN: loaded.Store.Postgres.DSN()}, loaded.Registry)
		if err != nil {
			fatalf("open store: %v", err)
		}
		defer st.Close()
		cfg.FillSink = st.SaveFill
		cfg.ClosedSink = st.SaveRoundTrip
	}
	if loaded.Store.Redis.Enabled {
		client := redis.NewClient(&redis.Options{
			Addr:     loaded.Store.Redis.Addr,
			Password: loaded.Store.Redis.Password,
			DB:       loaded.Store.Redis.DB,
		})
		defer client.Close()
		ticker := store.NewTickerPublisher(client, loaded.Registry, time.Second)
		cfg.TickSink = func(symbolID schema.SymbolID, snap book.Snapshot) {
			ticker.Publish(ctx, symbolID, snap)
		}
	}

	streams, err := buildStreams(loaded, connectors)
	if err != nil {
		fatalf("build streams: %v", err)
	}

	eng, err := engine.New(cfg, loaded.Registry, riskMgr, positions, execEngine, streams)
	if err != nil {
		fatalf("build engine: %v", err)
	}

	go sessionRollover(ctx, eng)

	logs.Infof("trader: starting, env=%s venues=%d symbols=%d",
		loaded.Env, len(connectors), len(streams))
	if err := eng.Run(ctx); err != nil && !stderrors.Is(err, context.Canceled) {
		fatalf("engine stopped: %v", err)
	}
	logs.Info("trader: shut down cleanly")
}

func buildConnectors(ctx context.Context, loaded ops.Loaded) (map[schema.VenueID]exchange.Connector, error) {
	out := make(map[schema.VenueID]exchange.Connector)

	if loaded.Exchanges.Bybit.Enabled {
		if venueID, ok := loaded.Registry.VenueIDByName("bybit"); ok {
			out[venueID] = bybit.New(ctx, bybit.Config{
				Key:            loaded.Exchanges.Bybit.Key,
				Secret:         loaded.Exchanges.Bybit.Secret,
				Demo:           loaded.Exchanges.Bybit.Demo,
				RESTRatePerSec: loaded.Exchanges.Bybit.RESTRatePerSec,
			}, venueID, loaded.Registry)
		}
	}
	if loaded.Exchanges.OKX.Enabled {
		if venueID, ok := loaded.Registry.VenueIDByName("okx"); ok {
			out[venueID] = okx.New(ctx, okx.Config{
				Key:            loaded.Exchanges.OKX.Key,
				Secret:         loaded.Exchanges.OKX.Secret,
				Passphrase:     loaded.Exchanges.OKX.Passphrase,
				Demo:           loaded.Exchanges.OKX.Demo,
				RESTRatePerSec: loaded.Exchanges.OKX.RESTRatePerSec,
			}, venueID, loaded.Registry)
		}
	}
	if len(out) == 0 {
		return nil, errors.New("no enabled venue carries a configured symbol")
	}
	return out, nil
}

func buildStreams(loaded ops.Loaded, connectors map[schema.VenueID]exchange.Connector) ([]engine.Stream, error) {
	var nextID uint32
	symbols := loaded.Registry.Symbols()
	streams := make([]engine.Stream, 0, len(symbols))
	for _, sym := range symbols {
		connector, ok := connectors[sym.VenueID]
		if !ok {
			continue
		}
		strategies, err := buildStrategies(loaded, sym, &nextID)
		if err != nil {
			return nil, err
		}
		streams = append(streams, engine.Stream{
			Connector:  connector,
			SymbolID:   sym.ID,
			Strategies: strategies,
			Peers:      loaded.PeerSymbols[sym.ID],
			Feed:       feed.Config{Depth: loaded.Engine.DepthLevels},
		})
	}
	return streams, nil
}

// buildStrategies instantiates the enabled strategy set for one symbol.
// Every stream gets its own instances since strategies keep per-symbol
// rolling state.
func buildStrategies(loaded ops.Loaded, sym schema.Symbol, nextID *uint32) ([]strategy.Strategy, error) {
	var members []strategy.Strategy
	sc := loaded.Strategies

	alloc := func() uint32 {
		*nextID++
		return *nextID
	}
	qtyOf := func(raw, name string) (schema.Quantity, error) {
		if raw == "" {
			return sym.MinLot, nil
		}
		qty, err := schema.ParseQty(raw, sym.Scale)
		if err != nil {
			return 0, errors.Wrap(err, "parse "+name+" qty for "+sym.Name)
		}
		return qty, nil
	}

	if sc.Imbalance.Enabled {
		qty, err := qtyOf(sc.Imbalance.Qty, "imbalance")
		if err != nil {
			return nil, err
		}
		members = append(members, strategy.NewImbalance(alloc(), strategy.DefaultImbalanceConfig(qty)))
	}
	if sc.PriceAction.Enabled {
		qty, err := qtyOf(sc.PriceAction.Qty, "price_action")
		if err != nil {
			return nil, err
		}
		members = append(members, strategy.NewPriceAction(alloc(), strategy.DefaultPriceActionConfig(qty)))
	}
	if sc.VolumeImpulse.Enabled {
		qty, err := qtyOf(sc.VolumeImpulse.Qty, "volume_impulse")
		if err != nil {
			return nil, err
		}
		members = append(members, strategy.NewVolumeImpulse(alloc(), strategy.DefaultVolumeImpulseConfig(qty)))
	}
	if sc.Arbitrage.Enabled {
		peerVenueID, ok := loaded.Registry.VenueIDByName(sc.Arbitrage.PeerVenue)
		if ok && peerVenueID != sym.VenueID {
			if _, paired := loaded.PeerSymbols[sym.ID][peerVenueID]; paired {
				qty, err := qtyOf(sc.Arbitrage.Qty, "arbitrage")
				if err != nil {
					return nil, err
				}
				members = append(members, strategy.NewArbitrage(alloc(), strategy.DefaultArbitrageConfig(peerVenueID, qty)))
			}
		}
	}

	if !sc.Combined.Enabled || len(members) == 0 {
		return members, nil
	}
	weighted := make([]strategy.Weighted, 0, len(members))
	for _, m := range members {
		weight, ok := sc.Combined.Weights[m.Name()]
		if !ok {
			weight = 1
		}
		weighted = append(weighted, strategy.Weighted{Strategy: m, Weight: weight})
	}
	combined := strategy.NewCombined(alloc(), "combined", sc.Combined.MinScore, weighted...)
	return []strategy.Strategy{combined}, nil
}

func buildNotifier(loaded ops.Loaded) obs.Notifier {
	if loaded.Notify.TelegramToken != "" && loaded.Notify.TelegramChatID != "" {
		return obs.NewTelegramNotifier(loaded.Notify.TelegramToken, loaded.Notify.TelegramChatID)
	}
	return obs.LogNotifier{}
}

// sessionRollover clears the daily risk counters at each UTC midnight.
func sessionRollover(ctx context.Context, eng *engine.Engine) {
	for {
		now := time.Now().UTC()
		next := now.Truncate(24 * time.Hour).Add(24 * time.Hour)
		timer := time.NewTimer(next.Sub(now))
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
			eng.ResetSession()
			logs.Info("trader: session rolled over")
		}
	}
}

func fatalf(format string, args ...any) {
	logs.Errorf("trader: "+format, args...)
	os.Exit(1)
}

type emptyLogger struct{}

func (emptyLogger) Infof(_ string, _ ...interface{})  {}
func (emptyLogger) Debugf(_ string, _ ...interface{}) {}
func (emptyLogger) Errorf(_ string, _ ...interface{}) {}
