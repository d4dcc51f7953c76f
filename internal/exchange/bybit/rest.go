package bybit

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
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

// V5 return codes the connector maps to typed errors.
const (
	retOK               = 0
	retRateLimit        = 10006
	retIPRateLimit      = 10018
	retDuplicateOrderID = 110072
	retOrderNotExists   = 110001
)

// Sign computes the V5 request signature:
// hex(HMAC-SHA256(secret, timestamp + apiKey + recvWindow + payload)).
func Sign(secret, timestamp, apiKey, recvWindow, payload string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(timestamp + apiKey + recvWindow + payload))
	return hex.EncodeToString(mac.Sum(nil))
}

type envelope struct {
	RetCode int             `json:"retCode"`
	RetMsg  string          `json:"retMsg"`
	Result  json.RawMessage `json:"result"`
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

	endpoint := c.restBase + path
	signBase := string(payload)
	if len(query) > 0 {
		encoded := query.Encode()
		endpoint += "?" + encoded
		signBase = encoded
	}

	req, err := http.NewRequestWithContext(ctx, method, endpoint, bytes.NewReader(payload))
	if err != nil {
		return errors.Wrap(err, "build request")
	}

	ts := strconv.FormatInt(c.now().UnixMilli(), 10)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-BAPI-API-KEY", c.cfg.Key)
	req.Header.Set("X-BAPI-TIMESTAMP", ts)
	req.Header.Set("X-BAPI-RECV-WINDOW", _recvWindow)
	req.Header.Set("X-BAPI-SIGN", Sign(c.cfg.Secret, ts, c.cfg.Key, _recvWindow, signBase))

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
	switch env.RetCode {
	case retOK:
	case retRateLimit, retIPRateLimit:
		return exchange.ErrRateLimited
	default:
		return &exchange.RejectError{Venue: c.Name(), Code: strconv.Itoa(env.RetCode), Msg: env.RetMsg}
	}
	if out != nil {
		if err := sonic.ConfigFastest.Unmarshal(env.Result, out); err != nil {
			return errors.Wrap(err, "decode result")
		}
	}
	return nil
}

func bybitSide(side schema.Side) string {
	if side == schema.SideSell {
		return "Sell"
	}
	return "Buy"
}

func bybitOrderType(t schema.OrderType) string {
	if t == schema.OrderTypeMarket {
		return "Market"
	}
	return "Limit"
}

func (c *Connector) PlaceOrder(ctx context.Context, req exchange.OrderRequest) (exchange.OrderAck, error) {
	sym, ok := c.symbol(req.SymbolID)
	if !ok {
		return exchange.OrderAck{}, errors.Errorf("bybit: unknown symbol %d", req.SymbolID)
	}

	body := map[string]string{
		"category":    _category,
		"symbol":      sym.Name,
		"side":        bybitSide(req.Side),
		"orderType":   bybitOrderType(req.Type),
		"qty":         schema.FormatQty(req.Qty, sym.Scale),
		"orderLinkId": req.ClientID,
		"timeInForce": "GTC",
	}
	if req.Type == schema.OrderTypeLimit {
		body["price"] = schema.FormatPrice(req.Price, sym.Scale)
	}

	var result struct {
		OrderID     string `json:"orderId"`
		OrderLinkID string `json:"orderLinkId"`
	}
	err := c.do(ctx, http.MethodPost, "/v5/order/create", nil, body, &result)
	if err != nil {
		var rej *exchange.RejectError
		if stderrors.As(err, &rej) && rej.Code == strconv.Itoa(retDuplicateOrderID) {
			return exchange.OrderAck{ClientID: req.ClientID, Status: exchange.AckDuplicate}, nil
		}
		return exchange.OrderAck{}, err
	}
	return exchange.OrderAck{
		ClientID:   req.ClientID,
		ExchangeID: result.OrderID,
		Status:     exchange.AckAccepted,
	}, nil
}

func (c *Connector) CancelOrder(ctx context.Context, symbolID schema.SymbolID, clientID string) error {
	sym, ok := c.symbol(symbolID)
	if !ok {
		return errors.Errorf("bybit: unknown symbol %d", symbolID)
	}
	body := map[string]string{
		"category":    _category,
		"symbol":      sym.Name,
		"orderLinkId": clientID,
	}
	err := c.do(ctx, http.MethodPost, "/v5/order/cancel", nil, body, nil)
	if err != nil {
		var rej *exchange.RejectError
		if stderrors.As(err, &rej) && rej.Code == strconv.Itoa(retOrderNotExists) {
			// already gone: cancel is idempotent
			return nil
		}
		return err
	}
	return nil
}

type positionEntry struct {
	Symbol        string          `json:"symbol"`
	Side          string          `json:"side"`
	Size          decimal.Decimal `json:"size"`
	AvgPrice      decimal.Decimal `json:"avgPrice"`
	Leverage      decimal.Decimal `json:"leverage"`
	UnrealisedPnl decimal.Decimal `json:"unrealisedPnl"`
}

func (c *Connector) GetPositions(ctx context.Context) ([]exchange.PositionInfo, error) {
	query := url.Values{}
	query.Set("category", _category)
	query.Set("settleCoin", "USDT")

	var result struct {
		List []positionEntry `json:"list"`
	}
	if err := c.do(ctx, http.MethodGet, "/v5/position/list", query, nil, &result); err != nil {
		return nil, err
	}

	out := make([]exchange.PositionInfo, 0, len(result.List))
	for _, entry := range result.List {
		symbolID, ok := c.registry.SymbolIDByName(c.venueID, entry.Symbol)
		if !ok {
			continue
		}
		sym, _ := c.registry.Symbol(symbolID)

		qty, err := schema.ParseQty(entry.Size.String(), sym.Scale)
		if err != nil || qty == 0 {
			continue
		}
		price, err := schema.ParsePrice(entry.AvgPrice.String(), sym.Scale)
		if err != nil {
			return nil, errors.Wrap(err, "parse avgPrice")
		}
		pnl, err := schema.ParseScaled(entry.UnrealisedPnl.String(), sym.Scale.PriceScale)
		if err != nil {
			pnl = 0
		}
		leverage, _ := strconv.Atoi(entry.Leverage.String())

		side := schema.SideBuy
		if entry.Side == "Sell" {
			side = schema.SideSell
		}
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

func (c *Connector) GetOrderBook(ctx context.Context, symbolID schema.SymbolID, depth int) (exchange.BookUpdate, error) {
	sym, ok := c.symbol(symbolID)
	if !ok {
		return exchange.BookUpdate{}, errors.Errorf("bybit: unknown symbol %d", symbolID)
	}
	query := url.Values{}
	query.Set("category", _category)
	query.Set("symbol", sym.Name)
	query.Set("limit", strconv.Itoa(depth))

	var result struct {
		Bids     [][2]string `json:"b"`
		Asks     [][2]string `json:"a"`
		UpdateID uint64      `json:"u"`
		Ts       int64       `json:"ts"`
	}
	if err := c.do(ctx, http.MethodGet, "/v5/market/orderbook", query, nil, &result); err != nil {
		return exchange.BookUpdate{}, err
	}

	bids, err := parseLevels(result.Bids, sym.Scale)
	if err != nil {
		return exchange.BookUpdate{}, errors.Wrap(err, "parse bids")
	}
	asks, err := parseLevels(result.Asks, sym.Scale)
	if err != nil {
		return exchange.BookUpdate{}, errors.Wrap(err, "parse asks")
	}
	return exchange.BookUpdate{
		SymbolID: symbolID,
		VenueID:  c.venueID,
		Type:     exchange.BookSnapshot,
		Seq:      c.norm(symbolID).Snapshot(result.UpdateID),
		Bids:     bids,
		Asks:     asks,
		TsNano:   result.Ts * int64(1e6),
	}, nil
}

func (c *Connector) SetStops(ctx context.Context, symbolID schema.SymbolID, stops exchange.StopLevels) error {
	sym, ok := c.symbol(symbolID)
	if !ok {
		return errors.Errorf("bybit: unknown symbol %d", symbolID)
	}
	body := map[string]string{
		"category":    _category,
		"symbol":      sym.Name,
		"positionIdx": "0",
		"stopLoss":    "0",
		"takeProfit":  "0",
	}
	if stops.StopLoss > 0 {
		body["stopLoss"] = schema.FormatPrice(stops.StopLoss, sym.Scale)
	}
	if stops.TakeProfit > 0 {
		body["takeProfit"] = schema.FormatPrice(stops.TakeProfit, sym.Scale)
	}
	return c.do(ctx, http.MethodPost, "/v5/position/trading-stop", nil, body, nil)
}

func parseLevels(raw [][2]string, scale schema.ScaleSpec) ([]schema.Level, error) {
	out := make([]schema.Level, 0, len(raw))
	for _, lv := range raw {
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
