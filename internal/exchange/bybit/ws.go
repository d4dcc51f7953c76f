package bybit

import (
	"context"
	"fmt"
	"strconv"

	"github.com/yanun0323/decimal"
	"github.com/yanun0323/errors"
	"github.com/yanun0323/logs"
	"github.com/yanun0323/pkg/sys"
	"github.com/yanun0323/pkg/ws"

	"main/internal/exchange"
	"main/internal/schema"
)

type subscribeRequest struct {
	ReqID string   `json:"req_id,omitempty"`
	Op    string   `json:"op"`
	Args  []string `json:"args"`
}

type opResponse struct {
	ReqID   string `json:"req_id"`
	Op      string `json:"op"`
	Success bool   `json:"success"`
	RetMsg  string `json:"ret_msg"`
}

func (c *Connector) ensurePublic(ctx context.Context) error {
	c.pubOnce.Do(func() {
		c.pub = ws.New(c.wsCtx, c.pubURL)
		c.pubErr = c.pub.Start(ctx)
	})
	if c.pubErr != nil {
		return errors.Wrap(c.pubErr, "start public stream")
	}
	return nil
}

func (c *Connector) subscribeTopic(ctx context.Context, wss *ws.WebSocket, reqID string, topics []string) error {
	appendIntoRegister := true
	if err := wss.SendAndWait(ctx, ws.Sidecar{
		Sender: func(ctx context.Context, wss *ws.WebSocket) error {
			payload := subscribeRequest{ReqID: reqID, Op: "subscribe", Args: topics}
			if err := wss.WriteJSON(payload); err != nil {
				return errors.Wrap(err, "write subscribe payload").With("payload", payload)
			}
			return nil
		},
		Waiter: func(ctx context.Context, m ws.Message) (bool, error) {
			resp, ok := ws.ReadMessage[opResponse](m)
			if !ok || resp.Op != "subscribe" || resp.ReqID != reqID {
				return false, nil
			}
			if !resp.Success {
				return false, errors.Errorf("subscribe refused: %s", resp.RetMsg)
			}
			return true, nil
		},
	}, appendIntoRegister); err != nil {
		return errors.Wrap(err, "send and wait")
	}
	return nil
}

type bookMessage struct {
	Topic string `json:"topic"`
	Type  string `json:"type"`
	Ts    int64  `json:"ts"`
	Data  struct {
		Symbol   string      `json:"s"`
		Bids     [][2]string `json:"b"`
		Asks     [][2]string `json:"a"`
		UpdateID uint64      `json:"u"`
	} `json:"data"`
}

func (c *Connector) SubscribeOrderBook(ctx context.Context, symbolID schema.SymbolID, depth int, handler func(exchange.BookUpdate)) (func(), error) {
	sym, ok := c.symbol(symbolID)
	if !ok {
		return nil, errors.Errorf("bybit: unknown symbol %d", symbolID)
	}
	if err := c.ensurePublic(ctx); err != nil {
		return nil, err
	}

	topic := fmt.Sprintf("orderbook.%d.%s", depth, sym.Name)
	if err := c.subscribeTopic(ctx, c.pub, "book-"+sym.Name, []string{topic}); err != nil {
		return nil, err
	}

	norm := c.norm(symbolID)
	ch, cancel := c.pub.Subscribe()
	go func() {
		defer cancel()
		for {
			select {
			case <-sys.Shutdown():
				return
			case <-ctx.Done():
				return
			case m, ok := <-ch:
				if !ok {
					return
				}
				msg, ok := ws.ReadMessage[bookMessage](m)
				if !ok || msg.Topic != topic {
					continue
				}
				update, err := c.bookUpdate(symbolID, sym.Scale, norm, msg)
				if err != nil {
					logs.Warnf("bybit book %s: %v", sym.Name, err)
					continue
				}
				handler(update)
			}
		}
	}()
	return cancel, nil
}

// bookUpdate normalizes one stream message. Bybit delta update ids are
// contiguous per topic, so the previous id is u-1; a jump emits a gap the
// book turns into a resync.
func (c *Connector) bookUpdate(symbolID schema.SymbolID, scale schema.ScaleSpec, norm *exchange.SeqNormalizer, msg bookMessage) (exchange.BookUpdate, error) {
	bids, err := parseLevels(msg.Data.Bids, scale)
	if err != nil {
		return exchange.BookUpdate{}, errors.Wrap(err, "parse bids")
	}
	asks, err := parseLevels(msg.Data.Asks, scale)
	if err != nil {
		return exchange.BookUpdate{}, errors.Wrap(err, "parse asks")
	}

	update := exchange.BookUpdate{
		SymbolID: symbolID,
		VenueID:  c.venueID,
		Bids:     bids,
		Asks:     asks,
		TsNano:   msg.Ts * int64(1e6),
	}
	if msg.Type == "snapshot" || msg.Data.UpdateID == 1 {
		update.Type = exchange.BookSnapshot
		update.Seq = norm.Snapshot(msg.Data.UpdateID)
		return update, nil
	}

	seq, action := norm.Delta(msg.Data.UpdateID-1, msg.Data.UpdateID)
	if action == exchange.SeqDrop {
		return exchange.BookUpdate{}, errors.New("stale delta dropped")
	}
	update.Type = exchange.BookDelta
	update.Seq = seq
	return update, nil
}

type tradeMessage struct {
	Topic string `json:"topic"`
	Data  []struct {
		Ts     int64           `json:"T"`
		Symbol string          `json:"s"`
		Side   string          `json:"S"`
		Qty    decimal.Decimal `json:"v"`
		Price  decimal.Decimal `json:"p"`
	} `json:"data"`
}

func (c *Connector) SubscribeTrades(ctx context.Context, symbolID schema.SymbolID, handler func(exchange.TradeUpdate)) (func(), error) {
	sym, ok := c.symbol(symbolID)
	if !ok {
		return nil, errors.Errorf("bybit: unknown symbol %d", symbolID)
	}
	if err := c.ensurePublic(ctx); err != nil {
		return nil, err
	}

	topic := "publicTrade." + sym.Name
	if err := c.subscribeTopic(ctx, c.pub, "trade-"+sym.Name, []string{topic}); err != nil {
		return nil, err
	}

	ch, cancel := c.pub.Subscribe()
	go func() {
		defer cancel()
		for {
			select {
			case <-sys.Shutdown():
				return
			case <-ctx.Done():
				return
			case m, ok := <-ch:
				if !ok {
					return
				}
				msg, ok := ws.ReadMessage[tradeMessage](m)
				if !ok || msg.Topic != topic {
					continue
				}
				for _, tr := range msg.Data {
					price, err := schema.ParsePrice(tr.Price.String(), sym.Scale)
					if err != nil {
						continue
					}
					qty, err := schema.ParseQty(tr.Qty.String(), sym.Scale)
					if err != nil {
						continue
					}
					side := schema.SideBuy
					if tr.Side == "Sell" {
						side = schema.SideSell
					}
					handler(exchange.TradeUpdate{
						SymbolID: symbolID,
						VenueID:  c.venueID,
						Side:     side,
						Price:    price,
						Qty:      qty,
						TsNano:   tr.Ts * int64(1e6),
					})
				}
			}
		}
	}()
	return cancel, nil
}

func (c *Connector) ensurePrivate(ctx context.Context) error {
	c.privOnce.Do(func() {
		c.priv = ws.New(c.wsCtx, c.privURL)
		if err := c.priv.Start(ctx); err != nil {
			c.privErr = err
			return
		}
		c.privErr = c.authenticate(ctx)
	})
	if c.privErr != nil {
		return errors.Wrap(c.privErr, "start private stream")
	}
	return nil
}

// authenticate signs the websocket login: hex(HMAC-SHA256(secret,
// "GET/realtime" + expires)).
func (c *Connector) authenticate(ctx context.Context) error {
	expires := strconv.FormatInt(c.now().UnixMilli()+10_000, 10)
	signature := Sign(c.cfg.Secret, "", "", "", "GET/realtime"+expires)

	appendIntoRegister := true
	return c.priv.SendAndWait(ctx, ws.Sidecar{
		Sender: func(ctx context.Context, wss *ws.WebSocket) error {
			payload := map[string]any{
				"op":   "auth",
				"args": []string{c.cfg.Key, expires, signature},
			}
			if err := wss.WriteJSON(payload); err != nil {
				return errors.Wrap(err, "write auth payload")
			}
			return nil
		},
		Waiter: func(ctx context.Context, m ws.Message) (bool, error) {
			resp, ok := ws.ReadMessage[opResponse](m)
			if !ok || resp.Op != "auth" {
				return false, nil
			}
			if !resp.Success {
				return false, errors.Errorf("auth refused: %s", resp.RetMsg)
			}
			return true, nil
		},
	}, appendIntoRegister)
}

type executionMessage struct {
	Topic string `json:"topic"`
	Data  []struct {
		Symbol      string          `json:"symbol"`
		Side        string          `json:"side"`
		OrderLinkID string          `json:"orderLinkId"`
		ExecID      string          `json:"execId"`
		ExecPrice   decimal.Decimal `json:"execPrice"`
		ExecQty     decimal.Decimal `json:"execQty"`
		ExecFee     decimal.Decimal `json:"execFee"`
		ExecTime    string          `json:"execTime"`
	} `json:"data"`
}

func (c *Connector) SubscribeFills(ctx context.Context, handler func(schema.Fill)) (func(), error) {
	if err := c.ensurePrivate(ctx); err != nil {
		return nil, err
	}
	if err := c.subscribeTopic(ctx, c.priv, "execution", []string{"execution"}); err != nil {
		return nil, err
	}

	ch, cancel := c.priv.Subscribe()
	go func() {
		defer cancel()
		for {
			select {
			case <-sys.Shutdown():
				return
			case <-ctx.Done():
				return
			case m, ok := <-ch:
				if !ok {
					return
				}
				msg, ok := ws.ReadMessage[executionMessage](m)
				if !ok || msg.Topic != "execution" {
					continue
				}
				for _, ex := range msg.Data {
					fill, err := c.fillFromExecution(ex.Symbol, ex.Side, ex.OrderLinkID, ex.ExecID,
						ex.ExecPrice.String(), ex.ExecQty.String(), ex.ExecFee.String(), ex.ExecTime)
					if err != nil {
						logs.Warnf("bybit execution: %v", err)
						continue
					}
					handler(fill)
				}
			}
		}
	}()
	return cancel, nil
}

func (c *Connector) fillFromExecution(symbol, side, clientID, execID, price, qty, fee, execTime string) (schema.Fill, error) {
	symbolID, ok := c.registry.SymbolIDByName(c.venueID, symbol)
	if !ok {
		return schema.Fill{}, errors.Errorf("unknown symbol %s", symbol)
	}
	sym, _ := c.registry.Symbol(symbolID)

	p, err := schema.ParsePrice(price, sym.Scale)
	if err != nil {
		return schema.Fill{}, errors.Wrap(err, "parse execPrice")
	}
	q, err := schema.ParseQty(qty, sym.Scale)
	if err != nil {
		return schema.Fill{}, errors.Wrap(err, "parse execQty")
	}
	f, err := schema.ParseScaled(fee, sym.Scale.PriceScale)
	if err != nil {
		f = 0
	}
	ts, err := strconv.ParseInt(execTime, 10, 64)
	if err != nil {
		ts = c.now().UnixMilli()
	}

	s := schema.SideBuy
	if side == "Sell" {
		s = schema.SideSell
	}
	return schema.Fill{
		ClientID: clientID,
		ExecID:   execID,
		SymbolID: symbolID,
		VenueID:  c.venueID,
		Side:     s,
		Price:    p,
		Qty:      q,
		Fee:      schema.Fee(f),
		TsNano:   ts * int64(1e6),
	}, nil
}
