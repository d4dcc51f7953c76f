package okx

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	stderrors "errors"
	"net/http"
	"net/url"
	"strconv"

	"github.com/bytedance/sonic"
	"github.com/yanun0323/decimal"
	"github.com/yanun0323/errors"

	"main/internal/exchange"
	"main/internal/schema"
)

// V5 result codes the connector maps to typed errors.
const (
	codeOK             = "0"
	codeRateLimit      = "50011"
	codeDuplicateOrdID = "51115"
	codeOrderNotExist  = "51400"
	codeOrderCompleted = "51401"
)

const _tsLayout = "2006-01-02T15:04:05.000Z"

// Sign computes the V5 signature:
// base64(HMAC-SHA256(secret, timestamp + method + requestPath + body)).
func Sign(secret, timestamp, method, requestPath, body string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(timestamp + method + requestPath + body))
	return base64.StdEncoding.EncodeToString(mac.Sum(nil))
}

type envelope struct {
	Code string          `json:"code"`
	Msg  string          `json:"msg"`
	Data json.RawMessage `json:"data"`
}

func (c *Connector) do(ctx context.Context, method, path string, query url.Values, body any, out any) error {
	if !c.limiter.Take() {
		return exchange.ErrRateLimited
	}

	var payload []byte
	if body != nil {
		b, err := sonic.ConfigFastest.Marshal(body)
		if err != nil {
			return errors.Wrap(err, "marshal body")
		}
		payload = b
	}

	requestPath := path
	if len(query) > 0 {
		requestPath += "?" + query.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, method, _restBase+requestPath, bytes.NewReader(payload))
	if err != nil {
		return errors.Wrap(err, "build request")
	}

	ts := c.now().UTC().Format(_tsLayout)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("OK-ACCESS-KEY", c.cfg.Key)
	req.Header.Set("OK-ACCESS-TIMESTAMP", ts)
	req.Header.Set("OK-ACCESS-PASSPHRASE", c.cfg.Passphrase)
	req.Header.Set("OK-ACCESS-SIGN", Sign(c.cfg.Secret, ts, method, requestPath, string(payload)))
	if c.cfg.Demo {
		req.Header.Set("x-simulated-trading", "1")
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return &exchange.ConnectivityError{Venue: c.Name(), Op: method + " " + path, Err: err}
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 500 {
		return &exchange.ConnectivityError{Venue: c.Name(), Op: method + " " + path,
			Err: errors.Errorf("status %d", resp.StatusCode)}
	}
	if resp.StatusCode == http.StatusTooManyRequests {
		return exchange.ErrRateLimited
	}

	var env envelope
	if err := sonic.ConfigFastest.NewDecoder(resp.Body).Decode(&env); err != nil {
		return &exchange.ConnectivityError{Venue: c.Name(), Op: method + " " + path, Err: err}
	}
	if env.Code != codeOK {
		if env.Code == codeRateLimit {
			return exchange.ErrRateLimited
		}
		return &exchange.RejectError{Venue: c.Name(), Code: env.Code, Msg: env.Msg}
	}
	if out != nil {
		if err := sonic.ConfigFastest.Unmarshal(env.Data, out); err != nil {
			return errors.Wrap(err, "decode data")
		}
	}
	return nil
}

func okxSide(side schema.Side) string {
	if side == schema.SideSell {
		return "sell"
	}
	return "buy"
}

func okxOrderType(t schema.OrderType) string {
	if t == schema.OrderTypeMarket {
		return "market"
	}
	return "limit"
}

type placeResult struct {
	OrdID   string `json:"ordId"`
	ClOrdID string `json:"clOrdId"`
	SCode   string `json:"sCode"`
	SMsg    string `json:"sMsg"`
}

func (c *Connector) PlaceOrder(ctx context.Context, req exchange.OrderRequest) (exchange.OrderAck, error) {
	sym, ok := c.symbol(req.SymbolID)
	if !ok {
		return exchange.OrderAck{}, errors.Errorf("okx: unknown symbol %d", req.SymbolID)
	}

	body := map[string]string{
		"instId":  sym.Name,
		"tdMode":  _tdMode,
		"clOrdId": req.ClientID,
		"side":    okxSide(req.Side),
		"ordType": okxOrderType(req.Type),
		"sz":      schema.FormatQty(req.Qty, sym.Scale),
	}
	if req.Type == schema.OrderTypeLimit {
		body["px"] = schema.FormatPrice(req.Price, sym.Scale)
	}

	var data []placeResult
	err := c.do(ctx, http.MethodPost, "/api/v5/trade/order", nil, body, &data)
	if err != nil {
		var rej *exchange.RejectError
		if stderrors.As(err, &rej) && rej.Code == codeDuplicateOrdID {
			return exchange.OrderAck{ClientID: req.ClientID, Status: exchange.AckDuplicate}, nil
		}
		return exchange.OrderAck{}, err
	}
	if len(data) == 0 {
		return exchange.OrderAck{}, errors.New("okx: empty order response")
	}
	if data[0].SCode != codeOK {
		if data[0].SCode == codeDuplicateOrdID {
			return exchange.OrderAck{ClientID: req.ClientID, Status: exchange.AckDuplicate}, nil
		}
		return exchange.OrderAck{}, &exchange.RejectError{Venue: c.Name(), Code: data[0].SCode, Msg: data[0].SMsg}
	}
	return exchange.OrderAck{
		ClientID:   req.ClientID,
		ExchangeID: data[0].OrdID,
		Status:     exchange.AckAccepted,
	}, nil
}

func (c *Connector) CancelOrder(ctx context.Context, symbolID schema.SymbolID, clientID string) error {
	sym, ok := c.symbol(symbolID)
	if !ok {
		return errors.Errorf("okx: unknown symbol %d", symbolID)
	}
	body := map[string]string{
		"instId":  sym.Name,
		"clOrdId": clientID,
	}
	err := c.do(ctx, http.MethodPost, "/api/v5/trade/cancel-order", nil, body, nil)
	if err != nil {
		var rej *exchange.RejectError
		if stderrors.As(err, &rej) && (rej.Code == codeOrderNotExist || rej.Code == codeOrderCompleted) {
			// already terminal on the venue: cancel is idempotent
			return nil
		}
		return err
	}
	return nil
}

type positionEntry struct {
	InstID  string          `json:"instId"`
	PosSide string          `json:"posSide"`
	Pos     decimal.Decimal `json:"pos"`
	AvgPx   decimal.Decimal `json:"avgPx"`
	Lever   decimal.Decimal `json:"lever"`
	Upl     decimal.Decimal `json:"upl"`
}

func (c *Connector) GetPositions(ctx context.Context) ([]exchange.PositionInfo, error) {
	query := url.Values{}
	query.Set("instType", _instType)

	var data []positionEntry
	if err := c.do(ctx, http.MethodGet, "/api/v5/account/positions", query, nil, &data); err != nil {
		return nil, err
	}

	out := make([]exchange.PositionInfo, 0, len(data))
	for _, entry := range data {
		symbolID, ok := c.registry.SymbolIDByName(c.venueID, entry.InstID)
		if !ok {
			continue
		}
		sym, _ := c.registry.Symbol(symbolID)

		qty, err := schema.ParseQty(entry.Pos.String(), sym.Scale)
		if err != nil || qty == 0 {
			continue
		}
		// net mode reports shorts as negative sizes
		side := schema.SideBuy
		if qty < 0 {
			side = schema.SideSell
			qty = -qty
		}
		if entry.PosSide == "short" {
			side = schema.SideSell
		}

		price, err := schema.ParsePrice(entry.AvgPx.String(), sym.Scale)
		if err != nil {
			return nil, errors.Wrap(err, "parse avgPx")
		}
		pnl, err := schema.ParseScaled(entry.Upl.String(), sym.Scale.PriceScale)
		if err != nil {
			pnl = 0
		}
		leverage, _ := strconv.Atoi(entry.Lever.String())

		out = append(out, exchange.PositionInfo{
			SymbolID:      symbolID,
			VenueID:       c.venueID,
			Side:          side,
			Qty:           qty,
			EntryPrice:    price,
			Leverage:      leverage,
			UnrealizedPnl: schema.Notional(pnl),
		})
	}
	return out, nil
}

// SetStops places an OCO algo pairing the stop-loss and take-profit
// triggers, closing the current position when either fires.
func (c *Connector) SetStops(ctx context.Context, symbolID schema.SymbolID, stops exchange.StopLevels) error {
	sym, ok := c.symbol(symbolID)
	if !ok {
		return errors.Errorf("okx: unknown symbol %d", symbolID)
	}
	body := map[string]string{
		"instId":        sym.Name,
		"tdMode":        _tdMode,
		"ordType":       "oco",
		"closeFraction": "1",
	}
	if stops.TakeProfit > 0 {
		body["tpTriggerPx"] = schema.FormatPrice(stops.TakeProfit, sym.Scale)
		body["tpOrdPx"] = "-1" // market on trigger
	}
	if stops.StopLoss > 0 {
		body["slTriggerPx"] = schema.FormatPrice(stops.StopLoss, sym.Scale)
		body["slOrdPx"] = "-1"
	}
	return c.do(ctx, http.MethodPost, "/api/v5/trade/order-algo", nil, body, nil)
}

func parseLevels(raw [][]string, scale schema.ScaleSpec) ([]schema.Level, error) {
	out := make([]schema.Level, 0, len(raw))
	for _, lv := range raw {
		if len(lv) < 2 {
			return nil, errors.New("short level")
		}
		price, err := schema.ParsePrice(lv[0], scale)
		if err != nil {
			return nil, err
		}
		qty, err := schema.ParseQty(lv[1], scale)
		if err != nil {
			return nil, err
		}
		out = append(out, schema.Level{Price: price, Qty: qty})
	}
	return out, nil
}
