package ops

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
	"github.com/yanun0323/errors"

	"main/internal/risk"
	"main/internal/schema"
)

// Config mirrors the config file layout. Every key can be overridden with a
// TRADER_-prefixed environment variable (dots become underscores).
type Config struct {
	Env string `mapstructure:"env"`

	Exchanges  ExchangesConfig  `mapstructure:"exchanges"`
	Symbols    []SymbolConfig   `mapstructure:"symbols"`
	Pairs      []PairConfig     `mapstructure:"pairs"`
	Risk       RiskConfig       `mapstructure:"risk"`
	Strategies StrategiesConfig `mapstructure:"strategies"`
	Engine     EngineConfig     `mapstructure:"engine"`
	Store      StoreConfig      `mapstructure:"store"`
	Notify     NotifyConfig     `mapstructure:"notify"`
	Pyroscope  PyroscopeConfig  `mapstructure:"pyroscope"`
}

// ExchangesConfig carries per-venue credentials and mode.
type ExchangesConfig struct {
	Bybit ExchangeConfig `mapstructure:"bybit"`
	OKX   ExchangeConfig `mapstructure:"okx"`
}

// ExchangeConfig is one venue's session settings. Passphrase is only used
// by venues that require it.
type ExchangeConfig struct {
	Enabled        bool   `mapstructure:"enabled"`
	Key            string `mapstructure:"key"`
	Secret         string `mapstructure:"secret"`
	Passphrase     string `mapstructure:"passphrase"`
	Demo           bool   `mapstructure:"demo"`
	RESTRatePerSec int    `mapstructure:"rest_rate_per_sec"`
}

// SymbolConfig declares one tradable instrument. Decimal strings are parsed
// with the symbol's own scales.
type SymbolConfig struct {
	Venue         string `mapstructure:"venue"`
	Name          string `mapstructure:"name"`
	PriceScale    int32  `mapstructure:"price_scale"`
	QuantityScale int32  `mapstructure:"quantity_scale"`
	MinLot        string `mapstructure:"min_lot"`
	MaxQty        string `mapstructure:"max_qty"`
	Group         string `mapstructure:"group"`
}

// PairConfig links the same instrument across two venues for cross-venue
// strategies. Legs are "venue/symbol" keys.
type PairConfig struct {
	Legs []string `mapstructure:"legs"`
}

// RiskConfig carries the session limits. Notional-valued limits share
// NotionalScale.
type RiskConfig struct {
	NotionalScale        int32             `mapstructure:"notional_scale"`
	MaxAggregateNotional string            `mapstructure:"max_aggregate_notional"`
	DailyLossLimit       string            `mapstructure:"daily_loss_limit"`
	MaxOpenPositions     int               `mapstructure:"max_open_positions"`
	PauseAfterLosses     int               `mapstructure:"pause_after_losses"`
	GroupCaps            map[string]string `mapstructure:"group_caps"`
	KillSwitch           bool              `mapstructure:"kill_switch"`
	OrderRateLimit       int               `mapstructure:"order_rate_limit"`
	OrderRateWindowSec   int               `mapstructure:"order_rate_window_sec"`
}

// StrategyToggle switches one strategy on with a per-signal size.
type StrategyToggle struct {
	Enabled bool   `mapstructure:"enabled"`
	Qty     string `mapstructure:"qty"`
}

// ArbitrageToggle additionally names the venue quoted against.
type ArbitrageToggle struct {
	Enabled   bool   `mapstructure:"enabled"`
	Qty       string `mapstructure:"qty"`
	PeerVenue string `mapstructure:"peer_venue"`
}

// CombinedToggle merges the enabled strategies under one weighted vote.
type CombinedToggle struct {
	Enabled  bool               `mapstructure:"enabled"`
	MinScore float64            `mapstructure:"min_score"`
	Weights  map[string]float64 `mapstructure:"weights"`
}

// StrategiesConfig switches strategy variants per deployment.
type StrategiesConfig struct {
	Imbalance     StrategyToggle  `mapstructure:"imbalance"`
	PriceAction   StrategyToggle  `mapstructure:"price_action"`
	VolumeImpulse StrategyToggle  `mapstructure:"volume_impulse"`
	Arbitrage     ArbitrageToggle `mapstructure:"arbitrage"`
	Combined      CombinedToggle  `mapstructure:"combined"`
}

// EngineConfig tunes the orchestrator.
type EngineConfig struct {
	QueueSize            int `mapstructure:"queue_size"`
	DepthLevels          int `mapstructure:"depth_levels"`
	ReconcileIntervalSec int `mapstructure:"reconcile_interval_sec"`
	MetricsIntervalSec   int `mapstructure:"metrics_interval_sec"`
	ShutdownTimeoutSec   int `mapstructure:"shutdown_timeout_sec"`
}

// ReconcileInterval returns the reconciliation period.
func (c EngineConfig) ReconcileInterval() time.Duration {
	return time.Duration(c.ReconcileIntervalSec) * time.Second
}

// MetricsInterval returns the metrics snapshot period.
func (c EngineConfig) MetricsInterval() time.Duration {
	return time.Duration(c.MetricsIntervalSec) * time.Second
}

// ShutdownTimeout returns the drain window on shutdown.
func (c EngineConfig) ShutdownTimeout() time.Duration {
	return time.Duration(c.ShutdownTimeoutSec) * time.Second
}

// DBConfig holds PostgreSQL connection settings.
type DBConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	User     string `mapstructure:"user"`
	Password string `mapstructure:"password"`
	DBName   string `mapstructure:"dbname"`
	SSLMode  string `mapstructure:"sslmode"`
}

// DSN returns the PostgreSQL connection string.
func (d DBConfig) DSN() string {
	return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		d.Host, d.Port, d.User, d.Password, d.DBName, d.SSLMode)
}

// RedisConfig holds Redis connection settings for the ticker publisher.
type RedisConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

// StoreConfig groups the persistence sinks.
type StoreConfig struct {
	Postgres DBConfig    `mapstructure:"postgres"`
	Redis    RedisConfig `mapstructure:"redis"`
}

// NotifyConfig selects the notification channel. Empty token falls back to
// the log notifier.
type NotifyConfig struct {
	TelegramToken  string `mapstructure:"telegram_token"`
	TelegramChatID string `mapstructure:"telegram_chat_id"`
}

// PyroscopeConfig switches continuous profiling on.
type PyroscopeConfig struct {
	Enabled       bool   `mapstructure:"enabled"`
	ServerAddress string `mapstructure:"server_address"`
}

// Loaded is the resolved configuration: the raw config plus the registry
// and risk limits built from it. Limits and credentials are immutable for
// the session.
type Loaded struct {
	Config

	Registry *schema.Registry
	Limits   risk.Limits
	Session  risk.SessionConfig
	// PeerSymbols maps each symbol to its paired instrument per venue.
	PeerSymbols map[schema.SymbolID]map[schema.VenueID]schema.SymbolID
}

// Load reads the config file (optional) plus TRADER_-prefixed environment
// overrides, validates it and resolves the registry and risk limits. Any
// validation failure is fatal at startup.
func Load(path string) (Loaded, error) {
	v := viper.New()
	v.SetEnvPrefix("TRADER")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Loaded{}, errors.Wrap(err, "read config file")
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Loaded{}, errors.Wrap(err, "unmarshal config")
	}
	return resolve(cfg)
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("env", "development")

	// credential keys get explicit defaults so TRADER_ env overrides reach
	// them even when the config file omits the key
	for _, venue := range []string{"bybit", "okx"} {
		v.SetDefault("exchanges."+venue+".enabled", false)
		v.SetDefault("exchanges."+venue+".key", "")
		v.SetDefault("exchanges."+venue+".secret", "")
		v.SetDefault("exchanges."+venue+".passphrase", "")
		v.SetDefault("exchanges."+venue+".demo", false)
		v.SetDefault("exchanges."+venue+".rest_rate_per_sec", 10)
	}
	v.SetDefault("notify.telegram_token", "")
	v.SetDefault("notify.telegram_chat_id", "")

	v.SetDefault("risk.notional_scale", 2)
	v.SetDefault("risk.max_open_positions", 5)
	v.SetDefault("risk.order_rate_window_sec", 1)

	v.SetDefault("engine.queue_size", 1024)
	v.SetDefault("engine.depth_levels", 50)
	v.SetDefault("engine.reconcile_interval_sec", 30)
	v.SetDefault("engine.metrics_interval_sec", 60)
	v.SetDefault("engine.shutdown_timeout_sec", 5)

	v.SetDefault("store.postgres.host", "localhost")
	v.SetDefault("store.postgres.port", 5432)
	v.SetDefault("store.postgres.sslmode", "disable")
	v.SetDefault("store.redis.addr", "localhost:6379")

	v.SetDefault("strategies.combined.min_score", 0.25)
}

func resolve(cfg Config) (Loaded, error) {
	if !cfg.Exchanges.Bybit.Enabled && !cfg.Exchanges.OKX.Enabled {
		return Loaded{}, errors.New("config: no exchange enabled")
	}
	if len(cfg.Symbols) == 0 {
		return Loaded{}, errors.New("config: no symbols configured")
	}

	enabled := map[string]bool{
		"bybit": cfg.Exchanges.Bybit.Enabled,
		"okx":   cfg.Exchanges.OKX.Enabled,
	}

	notionalScale := schema.Scale(cfg.Risk.NotionalScale)
	reg := schema.NewRegistry()
	limits := risk.Limits{
		MaxQtyPerSymbol: make(map[schema.SymbolID]schema.Quantity),
		MinLot:          make(map[schema.SymbolID]schema.Quantity),
		Groups:          make(map[schema.SymbolID]string),
		GroupCaps:       make(map[string]schema.Notional),
	}

	for _, sc := range cfg.Symbols {
		if !enabled[sc.Venue] {
			return Loaded{}, errors.Errorf("config: symbol %s/%s references a disabled venue", sc.Venue, sc.Name)
		}
		if sc.PriceScale < 0 || sc.QuantityScale < 0 {
			return Loaded{}, errors.Errorf("config: symbol %s/%s has a negative scale", sc.Venue, sc.Name)
		}
		// notional limits are compared against price-scaled exposures, so
		// every symbol must quote at the notional scale
		if schema.Scale(sc.PriceScale) != notionalScale {
			return Loaded{}, errors.Errorf("config: symbol %s/%s price_scale %d differs from risk.notional_scale %d",
				sc.Venue, sc.Name, sc.PriceScale, cfg.Risk.NotionalScale)
		}
		venueID, ok := reg.VenueIDByName(sc.Venue)
		if !ok {
			id, err := reg.AddVenue(sc.Venue)
			if err != nil {
				return Loaded{}, errors.Wrap(err, "add venue")
			}
			venueID = id
		}

		scale := schema.ScaleSpec{
			PriceScale:    schema.Scale(sc.PriceScale),
			QuantityScale: schema.Scale(sc.QuantityScale),
		}
		minLot, err := parseQtyField(sc.MinLot, scale, "min_lot", sc.Name)
		if err != nil {
			return Loaded{}, err
		}
		symbolID, err := reg.AddSymbol(sc.Name, venueID, scale, minLot)
		if err != nil {
			return Loaded{}, errors.Wrap(err, "add symbol")
		}
		if minLot > 0 {
			limits.MinLot[symbolID] = minLot
		}
		if sc.MaxQty != "" {
			maxQty, err := parseQtyField(sc.MaxQty, scale, "max_qty", sc.Name)
			if err != nil {
				return Loaded{}, err
			}
			limits.MaxQtyPerSymbol[symbolID] = maxQty
		}
		if sc.Group != "" {
			limits.Groups[symbolID] = sc.Group
		}
	}

	var err error
	if limits.MaxAggregateNotional, err = parseNotionalField(cfg.Risk.MaxAggregateNotional, notionalScale, "max_aggregate_notional"); err != nil {
		return Loaded{}, err
	}
	if limits.DailyLossLimit, err = parseNotionalField(cfg.Risk.DailyLossLimit, notionalScale, "daily_loss_limit"); err != nil {
		return Loaded{}, err
	}
	for group, raw := range cfg.Risk.GroupCaps {
		cap, err := parseNotionalField(raw, notionalScale, "group_caps."+group)
		if err != nil {
			return Loaded{}, err
		}
		limits.GroupCaps[group] = cap
	}
	limits.MaxOpenPositions = cfg.Risk.MaxOpenPositions
	limits.PauseAfterLosses = cfg.Risk.PauseAfterLosses

	peers, err := resolvePairs(cfg.Pairs, reg)
	if err != nil {
		return Loaded{}, err
	}
	if cfg.Strategies.Arbitrage.Enabled {
		if _, ok := reg.VenueIDByName(cfg.Strategies.Arbitrage.PeerVenue); !ok {
			return Loaded{}, errors.Errorf("config: arbitrage peer venue %q is not configured", cfg.Strategies.Arbitrage.PeerVenue)
		}
		if len(peers) == 0 {
			return Loaded{}, errors.New("config: arbitrage enabled without pairs")
		}
	}

	return Loaded{
		Config:   cfg,
		Registry: reg,
		Limits:   limits,
		Session: risk.SessionConfig{
			KillSwitch:      cfg.Risk.KillSwitch,
			OrderRateLimit:  cfg.Risk.OrderRateLimit,
			OrderRateWindow: time.Duration(cfg.Risk.OrderRateWindowSec) * time.Second,
		},
		PeerSymbols: peers,
	}, nil
}

// resolvePairs turns "venue/symbol" leg pairs into a per-symbol peer index.
func resolvePairs(pairs []PairConfig, reg *schema.Registry) (map[schema.SymbolID]map[schema.VenueID]schema.SymbolID, error) {
	out := make(map[schema.SymbolID]map[schema.VenueID]schema.SymbolID)
	for _, p := range pairs {
		if len(p.Legs) != 2 {
			return nil, errors.Errorf("config: pair needs exactly 2 legs, got %d", len(p.Legs))
		}
		ids := make([]schema.SymbolID, 2)
		venues := make([]schema.VenueID, 2)
		for i, leg := range p.Legs {
			venue, name, ok := strings.Cut(leg, "/")
			if !ok {
				return nil, errors.Errorf("config: pair leg %q is not venue/symbol", leg)
			}
			venueID, ok := reg.VenueIDByName(venue)
			if !ok {
				return nil, errors.Errorf("config: pair leg %q references unknown venue", leg)
			}
			symbolID, ok := reg.SymbolIDByName(venueID, name)
			if !ok {
				return nil, errors.Errorf("config: pair leg %q references unknown symbol", leg)
			}
			ids[i] = symbolID
			venues[i] = venueID
		}
		if venues[0] == venues[1] {
			return nil, errors.Errorf("config: pair legs %v share a venue", p.Legs)
		}
		for i := range ids {
			other := 1 - i
			if out[ids[i]] == nil {
				out[ids[i]] = make(map[schema.VenueID]schema.SymbolID)
			}
			out[ids[i]][venues[other]] = ids[other]
		}
	}
	return out, nil
}

func parseQtyField(raw string, scale schema.ScaleSpec, field, symbol string) (schema.Quantity, error) {
	if raw == "" {
		return 0, nil
	}
	qty, err := schema.ParseQty(raw, scale)
	if err != nil {
		return 0, errors.Wrap(err, "parse "+field+" for "+symbol)
	}
	if qty < 0 {
		return 0, errors.Errorf("config: %s for %s is negative", field, symbol)
	}
	return qty, nil
}

func parseNotionalField(raw string, scale schema.Scale, field string) (schema.Notional, error) {
	if raw == "" {
		return 0, nil
	}
	v, err := schema.ParseScaled(raw, scale)
	if err != nil {
		return 0, errors.Wrap(err, "parse risk."+field)
	}
	if v < 0 {
		return 0, errors.Errorf("config: risk.%s is negative", field)
	}
	return schema.Notional(v), nil
}
