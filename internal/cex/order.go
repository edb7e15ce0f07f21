package cex

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/synthfi-arb/arb/pkg/types"
)

// orderExpiry is how long a resting IOC order is tracked before its timer
// fires and the order is considered abandoned (§4.10).
const orderExpiry = 30 * time.Second

// orderRequest is the REST payload for a signed IOC order.
type orderRequest struct {
	Market        string `json:"market"`
	Side          string `json:"side"`
	Price         string `json:"price"`
	Size          string `json:"size"`
	Type          string `json:"type"`
	ClientID      int64  `json:"clientId"`
	IOC           bool   `json:"ioc"`
	PostOnly      bool   `json:"postOnly"`
	ReduceOnly    bool   `json:"reduceOnly"`
}

// orderResponse is the subset of the REST response the client cares about.
type orderResponse struct {
	Result struct {
		ID string `json:"id"`
	} `json:"result"`
}

// RESTPoster is the minimal subset of transport.HTTPS the order client
// needs.
type RESTPoster interface {
	Post(ctx context.Context, path string, headers map[string]string, body []byte) ([]byte, int, error)
}

// OrderClient submits and tracks CEX orders. WS "orders" events drive
// lifecycle transitions; REST is only used to submit.
type OrderClient struct {
	rest   RESTPoster
	rl     *RateLimiter
	auth   *Auth
	logger *slog.Logger
	dryRun bool

	mu      sync.Mutex
	pending map[int64]*pendingOrder
}

type pendingOrder struct {
	order *types.Order
	timer *time.Timer
	done  chan struct{}
}

// NewOrderClient constructs an OrderClient.
func NewOrderClient(rest RESTPoster, rl *RateLimiter, auth *Auth, logger *slog.Logger, dryRun bool) *OrderClient {
	return &OrderClient{
		rest:    rest,
		rl:      rl,
		auth:    auth,
		logger:  logger.With("component", "cex_order"),
		dryRun:  dryRun,
		pending: make(map[int64]*pendingOrder),
	}
}

// SendOrder assigns a client_order_id, posts a signed IOC order, registers
// a 30s expiry timer, and blocks until the order reaches CLOSED (driven by
// OnOrderEvent from the WS feed) or the expiry fires.
func (c *OrderClient) SendOrder(ctx context.Context, order *types.Order, market string) (*types.Order, error) {
	order.ClientOrderID = time.Now().UnixNano()
	order.State = types.OrderStateNew

	entry := &pendingOrder{order: order, done: make(chan struct{})}
	c.mu.Lock()
	c.pending[order.ClientOrderID] = entry
	c.mu.Unlock()

	entry.timer = time.AfterFunc(orderExpiry, func() {
		c.logger.Warn("order expired without terminal state", "client_order_id", order.ClientOrderID)
		c.finish(order.ClientOrderID)
	})

	if err := c.postOrder(ctx, order, market); err != nil {
		c.finish(order.ClientOrderID)
		return nil, fmt.Errorf("send order: %w", err)
	}

	select {
	case <-entry.done:
		return order, nil
	case <-ctx.Done():
		c.finish(order.ClientOrderID)
		return order, ctx.Err()
	}
}

func (c *OrderClient) postOrder(ctx context.Context, order *types.Order, market string) error {
	if c.dryRun {
		c.logger.Info("DRY-RUN: would post order", "client_order_id", order.ClientOrderID)
		return nil
	}
	if err := c.rl.Order.Wait(ctx); err != nil {
		return err
	}

	req := orderRequest{
		Market:     market,
		Side:       string(order.Side),
		Price:      order.Price.String(),
		Size:       order.OriginalQty.String(),
		Type:       "limit",
		ClientID:   order.ClientOrderID,
		IOC:        true,
		PostOnly:   false,
		ReduceOnly: false,
	}
	body, err := json.Marshal(req)
	if err != nil {
		return fmt.Errorf("marshal order: %w", err)
	}

	headers := c.auth.RESTHeaders("POST", "/api/orders", string(body))
	respBody, status, err := c.rest.Post(ctx, "/api/orders", headers, body)
	if err != nil {
		return fmt.Errorf("post order: %w", err)
	}
	if status < 200 || status >= 300 {
		return fmt.Errorf("post order: status %d: %s", status, string(respBody))
	}

	var resp orderResponse
	if err := json.Unmarshal(respBody, &resp); err != nil {
		return fmt.Errorf("decode order response: %w", err)
	}
	order.OrderID = resp.Result.ID
	order.State = types.OrderStateOpen
	return nil
}

// OnOrderEvent applies a WS "orders" event to the tracked order, closing
// out the pending entry (cancelling its expiry timer) once the order
// reaches CLOSED.
func (c *OrderClient) OnOrderEvent(clientOrderID int64, state types.OrderState, filledQty, avgFillPrice types.Quantity) {
	c.mu.Lock()
	entry, ok := c.pending[clientOrderID]
	c.mu.Unlock()
	if !ok {
		return
	}

	entry.order.State = state
	entry.order.FilledQty = filledQty
	entry.order.AvgFillPrice = avgFillPrice

	if state == types.OrderStateClosed {
		c.finish(clientOrderID)
	}
}

func (c *OrderClient) finish(clientOrderID int64) {
	c.mu.Lock()
	entry, ok := c.pending[clientOrderID]
	if ok {
		delete(c.pending, clientOrderID)
	}
	c.mu.Unlock()
	if !ok {
		return
	}
	if entry.timer != nil {
		entry.timer.Stop()
	}
	select {
	case <-entry.done:
	default:
		close(entry.done)
	}
}
