package bybit

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/yanun0323/pkg/ws"

	"main/internal/exchange"
	"main/internal/schema"
)

const (
	_restBase     = "https://api.bybit.com"
	_restBaseDemo = "https://api-testnet.bybit.com"

	_publicWsURL      = "wss://stream.bybit.com/v5/public/linear"
	_publicWsURLDemo  = "wss://stream-testnet.bybit.com/v5/public/linear"
	_privateWsURL     = "wss://stream.bybit.com/v5/private"
	_privateWsURLDemo = "wss://stream-testnet.bybit.com/v5/private"

	_category   = "linear"
	_recvWindow = "5000"
)

// Config carries credentials and mode for one Bybit session.
type Config struct {
	Key    string
	Secret string
	// Demo routes everything to the testnet.
	Demo bool
	// RESTRatePerSec caps outgoing REST calls.
	RESTRatePerSec int
}

// Connector implements the venue transport for Bybit V5 linear perpetuals.
type Connector struct {
	cfg      Config
	venueID  schema.VenueID
	registry *schema.Registry

	client   *http.Client
	limiter  *exchange.RateLimiter
	restBase string

	wsCtx    context.Context
	pubURL   string
	privURL  string
	pubOnce  sync.Once
	pubErr   error
	pub      *ws.WebSocket
	privOnce sync.Once
	privErr  error
	priv     *ws.WebSocket

	mu    sync.Mutex
	norms map[schema.SymbolID]*exchange.SeqNormalizer

	now func() time.Time
}

func New(ctx context.Context, cfg Config, venueID schema.VenueID, registry *schema.Registry) *Connector {
	restBase, pubURL, privURL := _restBase, _publicWsURL, _privateWsURL
	if cfg.Demo {
		restBase, pubURL, privURL = _restBaseDemo, _publicWsURLDemo, _privateWsURLDemo
	}
	rate := cfg.RESTRatePerSec
	if rate <= 0 {
		rate = 10
	}
	return &Connector{
		cfg:      cfg,
		venueID:  venueID,
		registry: registry,
		client:   &http.Client{Timeout: 15 * time.Second},
		limiter:  exchange.NewRateLimiter(rate, float64(rate)),
		restBase: restBase,
		wsCtx:    ctx,
		pubURL:   pubURL,
		privURL:  privURL,
		norms:    make(map[schema.SymbolID]*exchange.SeqNormalizer),
		now:      time.Now,
	}
}

func (c *Connector) Name() string            { return "bybit" }
func (c *Connector) VenueID() schema.VenueID { return c.venueID }

func (c *Connector) Close() {
	if c.pub != nil {
		c.pub.Close()
	}
	if c.priv != nil {
		c.priv.Close()
	}
}

func (c *Connector) symbol(id schema.SymbolID) (schema.Symbol, bool) {
	sym, ok := c.registry.Symbol(id)
	if !ok || sym.VenueID != c.venueID {
		return schema.Symbol{}, false
	}
	return sym, true
}

func (c *Connector) norm(id schema.SymbolID) *exchange.SeqNormalizer {
	c.mu.Lock()
	defer c.mu.Unlock()
	n, ok := c.norms[id]
	if !ok {
		n = &exchange.SeqNormalizer{}
		c.norms[id] = n
	}
	return n
}
