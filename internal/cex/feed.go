package cex

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/shopspring/decimal"
	"github.com/synthfi-arb/arb/internal/transport"
	"github.com/synthfi-arb/arb/pkg/types"
)

// bookEnvelope is the shape of a public orderbook channel message.
type bookEnvelope struct {
	Channel string `json:"channel"`
	Market  string `json:"market"`
	Type    string `json:"type"` // "partial" or "update"
	Data    struct {
		Time     float64     `json:"time"`
		Checksum uint32      `json:"checksum"`
		Bids     [][2]string `json:"bids"`
		Asks     [][2]string `json:"asks"`
	} `json:"data"`
}

// orderEnvelope is the shape of a private "orders" channel message; messages
// on the "fills" channel are ignored.
type orderEnvelope struct {
	Channel string `json:"channel"`
	Type    string `json:"type"`
	Data    struct {
		ClientID     int64  `json:"clientId"`
		Status       string `json:"status"` // "new", "open", "closed"
		FilledSize   string `json:"filledSize"`
		AvgFillPrice string `json:"avgFillPrice"`
	} `json:"data"`
}

// BookCallback receives a (pair_index, book) update after a snapshot or
// verified delta.
type BookCallback func(pairIndex int, book *types.Book)

// OrderCallback receives order lifecycle transitions from the private
// "orders" channel.
type OrderCallback func(clientOrderID int64, state types.OrderState, filledQty, avgFillPrice types.Quantity)

// Feed is the public market-data + private order/fill WebSocket feed
// (§4.7.1, §4.10).
type Feed struct {
	wss    *transport.WSS
	auth   *Auth
	logger *slog.Logger

	marketByName map[string]int // CEX market name -> pair index
	books        map[int]*types.Book

	onBook  BookCallback
	onOrder OrderCallback

	private bool
}

// NewPublicFeed constructs the public market-data feed for the given
// (market name -> pair index) table.
func NewPublicFeed(wsURL string, marketByName map[string]int, onBook BookCallback, logger *slog.Logger) *Feed {
	f := &Feed{
		auth:         nil,
		logger:       logger.With("component", "cex_public_feed"),
		marketByName: marketByName,
		books:        make(map[int]*types.Book),
		onBook:       onBook,
	}
	for _, idx := range marketByName {
		f.books[idx] = &types.Book{PairIndex: idx}
	}
	f.wss = transport.NewWSS(wsURL, f.dispatchPublic, f.onConnectPublic, logger)
	return f
}

// NewPrivateFeed constructs the authenticated fills/orders feed.
func NewPrivateFeed(wsURL string, auth *Auth, onOrder OrderCallback, logger *slog.Logger) *Feed {
	f := &Feed{
		auth:    auth,
		logger:  logger.With("component", "cex_private_feed"),
		onOrder: onOrder,
		private: true,
	}
	f.wss = transport.NewWSS(wsURL, f.dispatchPrivate, f.onConnectPrivate, logger)
	return f
}

// Run blocks, connecting and reconnecting until ctx is cancelled.
func (f *Feed) Run(ctx context.Context) error { return f.wss.Run(ctx) }

// Close stops the feed.
func (f *Feed) Close() error { return f.wss.Close() }

func (f *Feed) onConnectPublic(send func([]byte) error) error {
	names := make([]string, 0, len(f.marketByName))
	for name := range f.marketByName {
		names = append(names, name)
	}
	for _, name := range names {
		msg, err := json.Marshal(map[string]any{
			"op":      "subscribe",
			"channel": "orderbook",
			"market":  name,
		})
		if err != nil {
			return fmt.Errorf("marshal subscribe: %w", err)
		}
		if err := send(msg); err != nil {
			return fmt.Errorf("send subscribe: %w", err)
		}
	}
	return nil
}

func (f *Feed) onConnectPrivate(send func([]byte) error) error {
	login, err := json.Marshal(f.auth.WSLogin())
	if err != nil {
		return fmt.Errorf("marshal login: %w", err)
	}
	if err := send(login); err != nil {
		return fmt.Errorf("send login: %w", err)
	}
	time.Sleep(f.auth.SettleDelay())

	for _, channel := range []string{"fills", "orders"} {
		msg, err := json.Marshal(map[string]any{"op": "subscribe", "channel": channel})
		if err != nil {
			return fmt.Errorf("marshal subscribe %s: %w", channel, err)
		}
		if err := send(msg); err != nil {
			return fmt.Errorf("send subscribe %s: %w", channel, err)
		}
	}
	return nil
}

func (f *Feed) dispatchPublic(data []byte) {
	var env bookEnvelope
	if err := json.Unmarshal(data, &env); err != nil {
		f.logger.Debug("ignoring non-book message", "error", err)
		return
	}
	if env.Channel != "orderbook" {
		return
	}
	pairIndex, ok := f.marketByName[env.Market]
	if !ok {
		return
	}
	book := f.books[pairIndex]
	bids := parseLevels(env.Data.Bids)
	asks := parseLevels(env.Data.Asks)
	exchangeTime := secondsToTime(env.Data.Time)

	var err error
	switch env.Type {
	case "partial":
		err = Snapshot(book, bids, asks, env.Data.Checksum, exchangeTime)
	case "update":
		entries := make([]DeltaEntry, 0, len(bids)+len(asks))
		for _, l := range bids {
			entries = append(entries, DeltaEntry{Side: types.SideBid, Price: l.Price, Quantity: l.Quantity})
		}
		for _, l := range asks {
			entries = append(entries, DeltaEntry{Side: types.SideAsk, Price: l.Price, Quantity: l.Quantity})
		}
		err = ApplyDelta(book, entries, env.Data.Checksum, exchangeTime)
	default:
		return
	}
	if err != nil {
		f.logger.Error("cex book desynchronized, dropping update", "pair", pairIndex, "error", err)
		return
	}
	if f.onBook != nil {
		// ApplyDelta/mergeLevel mutate book.Bids/Asks in place (level
		// insert/update/delete against the existing backing array), so the
		// next dispatch can race with a still-pending callback read unless
		// we hand out a deep copy here.
		f.onBook(pairIndex, book.Clone())
	}
}

func (f *Feed) dispatchPrivate(data []byte) {
	var env orderEnvelope
	if err := json.Unmarshal(data, &env); err != nil {
		f.logger.Debug("ignoring non-order message", "error", err)
		return
	}
	if env.Channel != "orders" || f.onOrder == nil {
		return
	}

	state := mapOrderStatus(env.Data.Status)
	filled, err := parseDecimal(env.Data.FilledSize)
	if err != nil {
		f.logger.Warn("unparseable filled size", "value", env.Data.FilledSize)
	}
	avg, err := parseDecimal(env.Data.AvgFillPrice)
	if err != nil {
		f.logger.Warn("unparseable avg fill price", "value", env.Data.AvgFillPrice)
	}
	f.onOrder(env.Data.ClientID, state, filled, avg)
}

func mapOrderStatus(status string) types.OrderState {
	switch status {
	case "new":
		return types.OrderStateNew
	case "open":
		return types.OrderStateOpen
	case "closed":
		return types.OrderStateClosed
	default:
		return types.OrderStateNew
	}
}

func parseLevels(raw [][2]string) []types.Level {
	out := make([]types.Level, 0, len(raw))
	for _, pair := range raw {
		price, err := parseDecimal(pair[0])
		if err != nil {
			continue
		}
		qty, err := parseDecimal(pair[1])
		if err != nil {
			continue
		}
		out = append(out, types.Level{Price: price, Quantity: qty})
	}
	return out
}

func secondsToTime(sec float64) time.Time {
	return time.Unix(0, int64(sec*float64(time.Second)))
}

func parseDecimal(s string) (decimal.Decimal, error) {
	if s == "" {
		return decimal.Zero, nil
	}
	return decimal.NewFromString(s)
}
