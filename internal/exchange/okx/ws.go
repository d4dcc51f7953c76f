package okx

import (
	"context"
	"strconv"

	"github.com/yanun0323/decimal"
	"github.com/yanun0323/errors"
	"github.com/yanun0323/logs"
	"github.com/yanun0323/pkg/sys"
	"github.com/yanun0323/pkg/ws"

	"main/internal/exchange"
	"main/internal/schema"
)

type channelArg struct {
	Channel  string `json:"channel"`
	InstType string `json:"instType,omitempty"`
	InstID   string `json:"instId,omitempty"`
}

type opRequest struct {
	Op   string       `json:"op"`
	Args []channelArg `json:"args"`
}

type eventResponse struct {
	Event string     `json:"event"`
	Code  string     `json:"code"`
	Msg   string     `json:"msg"`
	Arg   channelArg `json:"arg"`
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

func (c *Connector) subscribeChannel(ctx context.Context, wss *ws.WebSocket, arg channelArg) error {
	appendIntoRegister := true
	if err := wss.SendAndWait(ctx, ws.Sidecar{
		Sender: func(ctx context.Context, wss *ws.WebSocket) error {
			payload := opRequest{Op: "subscribe", Args: []channelArg{arg}}
			if err := wss.WriteJSON(payload); err != nil {
				return errors.Wrap(err, "write subscribe payload").With("payload", payload)
			}
			return nil
		},
		Waiter: func(ctx context.Context, m ws.Message) (bool, error) {
			resp, ok := ws.ReadMessage[eventResponse](m)
			if !ok {
				return false, nil
			}
			if resp.Event == "error" {
				return false, errors.Errorf("subscribe refused: %s %s", resp.Code, resp.Msg)
			}
			if resp.Event != "subscribe" || resp.Arg.Channel != arg.Channel || resp.Arg.InstID != arg.InstID {
				return false, nil
			}
			return true, nil
		},
	}, appendIntoRegister); err != nil {
		return errors.Wrap(err, "send and wait")
	}
	return nil
}

type bookMessage struct {
	Arg    channelArg `json:"arg"`
	Action string     `json:"action"`
	Data   []struct {
		Bids      [][]string `json:"bids"`
		Asks      [][]string `json:"asks"`
		Ts        string     `json:"ts"`
		SeqID     uint64     `json:"seqId"`
		PrevSeqID uint64     `json:"prevSeqId"`
	} `json:"data"`
}

func (c *Connector) SubscribeOrderBook(ctx context.Context, symbolID schema.SymbolID, depth int, handler func(exchange.BookUpdate)) (func(), error) {
	sym, ok := c.symbol(symbolID)
	if !ok {
		return nil, errors.Errorf("okx: unknown symbol %d", symbolID)
	}
	if err := c.ensurePublic(ctx); err != nil {
		return nil, err
	}

	arg := channelArg{Channel: "books", InstID: sym.Name}
	if err := c.subscribeChannel(ctx, c.pub, arg); err != nil {
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
				if !ok || msg.Arg.Channel != "books" || msg.Arg.InstID != sym.Name {
					continue
				}
				update, err := c.bookUpdate(symbolID, sym.Scale, norm, msg)
				if err != nil {
					logs.Warnf("okx book %s: %v", sym.Name, err)
					continue
				}
				handler(update)
			}
		}
	}()
	return cancel, nil
}

// bookUpdate normalizes one books message. OKX carries the previous seqId in
// the payload, so the chain check uses it directly; a break surfaces as a
// sequence hole the book turns into a resync.
func (c *Connector) bookUpdate(symbolID schema.SymbolID, scale schema.ScaleSpec, norm *exchange.SeqNormalizer, msg bookMessage) (exchange.BookUpdate, error) {
	if len(msg.Data) == 0 {
		return exchange.BookUpdate{}, errors.New("empty books payload")
	}
	data := msg.Data[0]

	bids, err := parseLevels(data.Bids, scale)
	if err != nil {
		return exchange.BookUpdate{}, errors.Wrap(err, "parse bids")
	}
	asks, err := parseLevels(data.Asks, scale)
	if err != nil {
		return exchange.BookUpdate{}, errors.Wrap(err, "parse asks")
	}

	ts, err := strconv.ParseInt(data.Ts, 10, 64)
	if err != nil {
		ts = c.now().UnixMilli()
	}
	update := exchange.BookUpdate{
		SymbolID: symbolID,
		VenueID:  c.venueID,
		Bids:     bids,
		Asks:     asks,
		TsNano:   ts * int64(1e6),
	}
	if msg.Action == "snapshot" {
		update.Type = exchange.BookSnapshot
		update.Seq = norm.Snapshot(data.SeqID)
		return update, nil
	}

	seq, action := norm.Delta(data.PrevSeqID, data.SeqID)
	if action == exchange.SeqDrop {
		return exchange.BookUpdate{}, errors.New("stale update dropped")
	}
	update.Type = exchange.BookDelta
	update.Seq = seq
	return update, nil
}

// GetOrderBook resynchronizes through the stream rather than REST: the books
// REST endpoint carries no seqId, so the connector bounces the subscription
// and captures the fresh snapshot the channel replays on resubscribe.
func (c *Connector) GetOrderBook(ctx context.Context, symbolID schema.SymbolID, depth int) (exchange.BookUpdate, error) {
	sym, ok := c.symbol(symbolID)
	if !ok {
		return exchange.BookUpdate{}, errors.Errorf("okx: unknown symbol %d", symbolID)
	}
	if err := c.ensurePublic(ctx); err != nil {
		return exchange.BookUpdate{}, err
	}

	arg := channelArg{Channel: "books", InstID: sym.Name}
	norm := c.norm(symbolID)

	var captured exchange.BookUpdate
	appendIntoRegister := true
	err := c.pub.SendAndWait(ctx, ws.Sidecar{
		Sender: func(ctx context.Context, wss *ws.WebSocket) error {
			if err := wss.WriteJSON(opRequest{Op: "unsubscribe", Args: []channelArg{arg}}); err != nil {
				return errors.Wrap(err, "write unsubscribe payload")
			}
			if err := wss.WriteJSON(opRequest{Op: "subscribe", Args: []channelArg{arg}}); err != nil {
				return errors.Wrap(err, "write subscribe payload")
			}
			return nil
		},
		Waiter: func(ctx context.Context, m ws.Message) (bool, error) {
			msg, ok := ws.ReadMessage[bookMessage](m)
			if !ok || msg.Arg.InstID != sym.Name || msg.Action != "snapshot" {
				return false, nil
			}
			update, err := c.bookUpdate(symbolID, sym.Scale, norm, msg)
			if err != nil {
				return false, err
			}
			captured = update
			return true, nil
		},
	}, appendIntoRegister)
	if err != nil {
		return exchange.BookUpdate{}, &exchange.ConnectivityError{Venue: c.Name(), Op: "books resync", Err: err}
	}
	return captured, nil
}

type tradeStreamMessage struct {
	Arg  channelArg `json:"arg"`
	Data []struct {
		Px   decimal.Decimal `json:"px"`
		Sz   decimal.Decimal `json:"sz"`
		Side string          `json:"side"`
		Ts   string          `json:"ts"`
	} `json:"data"`
}

func (c *Connector) SubscribeTrades(ctx context.Context, symbolID schema.SymbolID, handler func(exchange.TradeUpdate)) (func(), error) {
	sym, ok := c.symbol(symbolID)
	if !ok {
		return nil, errors.Errorf("okx: unknown symbol %d", symbolID)
	}
	if err := c.ensurePublic(ctx); err != nil {
		return nil, err
	}

	arg := channelArg{Channel: "trades", InstID: sym.Name}
	if err := c.subscribeChannel(ctx, c.pub, arg); err != nil {
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
				msg, ok := ws.ReadMessage[tradeStreamMessage](m)
				if !ok || msg.Arg.Channel != "trades" || msg.Arg.InstID != sym.Name {
					continue
				}
				for _, tr := range msg.Data {
					price, err := schema.ParsePrice(tr.Px.String(), sym.Scale)
					if err != nil {
						continue
					}
					qty, err := schema.ParseQty(tr.Sz.String(), sym.Scale)
					if err != nil {
						continue
					}
					ts, err := strconv.ParseInt(tr.Ts, 10, 64)
					if err != nil {
						ts = c.now().UnixMilli()
					}
					side := schema.SideBuy
					if tr.Side == "sell" {
						side = schema.SideSell
					}
					handler(exchange.TradeUpdate{
						SymbolID: symbolID,
						VenueID:  c.venueID,
						Side:     side,
						Price:    price,
						Qty:      qty,
						TsNano:   ts * int64(1e6),
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

// authenticate signs the websocket login: base64(HMAC-SHA256(secret,
// timestamp + "GET" + "/users/self/verify")) with a unix-second timestamp.
func (c *Connector) authenticate(ctx context.Context) error {
	ts := strconv.FormatInt(c.now().Unix(), 10)
	signature := Sign(c.cfg.Secret, ts, "GET", "/users/self/verify", "")

	appendIntoRegister := true
	return c.priv.SendAndWait(ctx, ws.Sidecar{
		Sender: func(ctx context.Context, wss *ws.WebSocket) error {
			payload := map[string]any{
				"op": "login",
				"args": []map[string]string{{
					"apiKey":     c.cfg.Key,
					"passphrase": c.cfg.Passphrase,
					"timestamp":  ts,
					"sign":       signature,
				}},
			}
			if err := wss.WriteJSON(payload); err != nil {
				return errors.Wrap(err, "write login payload")
			}
			return nil
		},
		Waiter: func(ctx context.Context, m ws.Message) (bool, error) {
			resp, ok := ws.ReadMessage[eventResponse](m)
			if !ok {
				return false, nil
			}
			if resp.Event == "error" {
				return false, errors.Errorf("login refused: %s %s", resp.Code, resp.Msg)
			}
			if resp.Event != "login" {
				return false, nil
			}
			if resp.Code != codeOK {
				return false, errors.Errorf("login refused: %s %s", resp.Code, resp.Msg)
			}
			return true, nil
		},
	}, appendIntoRegister)
}

type orderStreamMessage struct {
	Arg  channelArg `json:"arg"`
	Data []struct {
		InstID   string          `json:"instId"`
		Side     string          `json:"side"`
		ClOrdID  string          `json:"clOrdId"`
		TradeID  string          `json:"tradeId"`
		FillPx   decimal.Decimal `json:"fillPx"`
		FillSz   decimal.Decimal `json:"fillSz"`
		FillFee  decimal.Decimal `json:"fillFee"`
		FillTime string          `json:"fillTime"`
	} `json:"data"`
}

// SubscribeFills listens on the private orders channel; only entries carrying
// a fresh fill (non-zero fillSz with a tradeId) are forwarded.
func (c *Connector) SubscribeFills(ctx context.Context, handler func(schema.Fill)) (func(), error) {
	if err := c.ensurePrivate(ctx); err != nil {
		return nil, err
	}
	arg := channelArg{Channel: "orders", InstType: _instType}
	if err := c.subscribeChannel(ctx, c.priv, arg); err != nil {
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
				msg, ok := ws.ReadMessage[orderStreamMessage](m)
				if !ok || msg.Arg.Channel != "orders" {
					continue
				}
				for _, entry := range msg.Data {
					if entry.TradeID == "" {
						continue
					}
					fill, err := c.fillFromOrder(entry.InstID, entry.Side, entry.ClOrdID, entry.TradeID,
						entry.FillPx.String(), entry.FillSz.String(), entry.FillFee.String(), entry.FillTime)
					if err != nil {
						logs.Warnf("okx order fill: %v", err)
						continue
					}
					if fill.Qty == 0 {
						continue
					}
					handler(fill)
				}
			}
		}
	}()
	return cancel, nil
}

func (c *Connector) fillFromOrder(instID, side, clientID, tradeID, price, qty, fee, fillTime string) (schema.Fill, error) {
	symbolID, ok := c.registry.SymbolIDByName(c.venueID, instID)
	if !ok {
		return schema.Fill{}, errors.Errorf("unknown symbol %s", instID)
	}
	sym, _ := c.registry.Symbol(symbolID)

	p, err := schema.ParsePrice(price, sym.Scale)
	if err != nil {
		return schema.Fill{}, errors.Wrap(err, "parse fillPx")
	}
	q, err := schema.ParseQty(qty, sym.Scale)
	if err != nil {
		return schema.Fill{}, errors.Wrap(err, "parse fillSz")
	}
	// fees come back negative when charged
	f, err := schema.ParseScaled(fee, sym.Scale.PriceScale)
	if err != nil {
		f = 0
	}
	if f < 0 {
		f = -f
	}
	ts, err := strconv.ParseInt(fillTime, 10, 64)
	if err != nil {
		ts = c.now().UnixMilli()
	}

	s := schema.SideBuy
	if side == "sell" {
		s = schema.SideSell
	}
	return schema.Fill{
		ClientID: clientID,
		ExecID:   tradeID,
		SymbolID: symbolID,
		VenueID:  c.venueID,
		Side:     s,
		Price:    p,
		Qty:      q,
		Fee:      schema.Fee(f),
		TsNano:   ts * int64(1e6),
	}, nil
}
