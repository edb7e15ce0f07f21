// Package strategy implements the cross-venue take-and-hedge arbitrage
// engine: it watches both venues' order books for a crossed market, takes
// the DEX side with an IOC order, and hedges the resulting DEX position
// back to flat on the CEX venue as wallet updates report it.
//
// State lives on a single goroutine (the "strand"): every exported method
// posts a closure onto a command channel rather than touching fields
// directly, so no mutex guards Core's state.
package strategy

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/shopspring/decimal"

	"github.com/synthfi-arb/arb/internal/dex"
	"github.com/synthfi-arb/arb/pkg/types"
)

// DEXOrderSender is the subset of dex.OrderClient the core needs to take
// the DEX side of a crossed market.
type DEXOrderSender interface {
	SendOrder(ctx context.Context, order *types.Order) (*types.Order, error)
}

// CEXOrderSender is the subset of cex.OrderClient the core needs to hedge
// a DEX fill back to flat.
type CEXOrderSender interface {
	SendOrder(ctx context.Context, order *types.Order, market string) (*types.Order, error)
}

// MetricsSink is the minimal telemetry surface the core publishes
// spread/arb-size gauges to; telemetry.Publisher satisfies it directly.
type MetricsSink interface {
	Gauge(name string, value float64, tags map[string]string)
}

type noopMetrics struct{}

func (noopMetrics) Gauge(string, float64, map[string]string) {}

// Config tunes the arbitrage gate (§4.12 of the design spec, §6.8's
// strategy config block).
type Config struct {
	MaxUSDTradeSize   decimal.Decimal
	MinUSDTradeProfit decimal.Decimal
	// CEXTakerFeeRate is the CEX venue's flat taker fee (account-tier, not
	// per-market), since the CEX reference-data loader's market listing
	// carries no per-market fee field. The DEX leg's TradingPair.TakerFeeRate
	// is likewise set from configuration by the engine, not read from the
	// spot market account.
	CEXTakerFeeRate decimal.Decimal
}

// Core is the single-threaded take/hedge executor. One Core instance runs
// the whole configured pair set; is_trading is a single engine-wide latch,
// not one per pair, matching the spec's single-flight invariant.
type Core struct {
	cfg Config

	currencies []types.Currency
	pairs      []types.TradingPair

	dexBooks []*types.Book
	cexBooks []*types.Book

	dexWallet *types.Wallet
	cexWallet *types.Wallet

	dexOrders DEXOrderSender
	cexOrders CEXOrderSender

	metrics MetricsSink
	logger  *slog.Logger

	isTrading bool

	cmds chan func()
}

// orderTimeout bounds how long a single DEX take or CEX hedge is awaited,
// the default 30s deadline named throughout §5.
const orderTimeout = 30 * time.Second

// NewCore constructs a Core for the given reference data. metrics may be
// nil, in which case gauges are dropped silently.
func NewCore(cfg Config, currencies []types.Currency, pairs []types.TradingPair, dexOrders DEXOrderSender, cexOrders CEXOrderSender, metrics MetricsSink, logger *slog.Logger) *Core {
	if metrics == nil {
		metrics = noopMetrics{}
	}
	dexBooks := make([]*types.Book, len(pairs))
	cexBooks := make([]*types.Book, len(pairs))
	for i := range pairs {
		dexBooks[i] = &types.Book{PairIndex: i}
		cexBooks[i] = &types.Book{PairIndex: i}
	}
	return &Core{
		cfg:        cfg,
		currencies: currencies,
		pairs:      pairs,
		dexBooks:   dexBooks,
		cexBooks:   cexBooks,
		dexWallet:  types.NewWallet(types.VenueDEX, len(currencies), len(pairs)),
		cexWallet:  types.NewWallet(types.VenueCEX, len(currencies), len(pairs)),
		dexOrders:  dexOrders,
		cexOrders:  cexOrders,
		metrics:    metrics,
		logger:     logger.With("component", "strategy_core"),
		cmds:       make(chan func(), 1024),
	}
}

// Run drains the command channel until ctx is cancelled. Every exported
// method below posts onto this channel; nothing touches Core's fields
// from any other goroutine.
func (c *Core) Run(ctx context.Context) {
	c.logger.Info("strategy core started")
	for {
		select {
		case <-ctx.Done():
			c.logger.Info("strategy core stopped")
			return
		case cmd := <-c.cmds:
			cmd()
		}
	}
}

// enqueue posts fn onto the strand. If the queue is saturated the update
// is dropped and logged rather than blocking the caller's own strand —
// the same non-blocking-emit discipline the book/wallet sources use for
// their own callbacks.
func (c *Core) enqueue(fn func()) {
	select {
	case c.cmds <- fn:
	default:
		c.logger.Error("strategy command queue full, dropping update")
	}
}

// OnDEXBookUpdate is wired directly as a dex.BookCallback.
func (c *Core) OnDEXBookUpdate(update dex.BookUpdate) {
	c.enqueue(func() {
		if update.PairIndex < 0 || update.PairIndex >= len(c.dexBooks) {
			return
		}
		c.dexBooks[update.PairIndex] = update.Book
		c.checkArb(context.Background(), update.PairIndex)
	})
}

// OnCEXBookUpdate is wired directly as a cex.BookCallback.
func (c *Core) OnCEXBookUpdate(pairIndex int, book *types.Book) {
	c.enqueue(func() {
		if pairIndex < 0 || pairIndex >= len(c.cexBooks) {
			return
		}
		c.cexBooks[pairIndex] = book
		c.checkArb(context.Background(), pairIndex)
	})
}

// OnDEXWalletUpdate is wired directly as a dex.WalletCallback. Hedging is
// driven entirely off DEX wallet updates, per §4.12.
func (c *Core) OnDEXWalletUpdate(wallet *types.Wallet) {
	c.enqueue(func() {
		c.dexWallet = wallet
		c.checkHedges(context.Background())
	})
}

// OnCEXWalletUpdate is wired directly as a cex.WalletCallback.
func (c *Core) OnCEXWalletUpdate(wallet *types.Wallet) {
	c.enqueue(func() { c.cexWallet = wallet })
}

// checkArb evaluates both crossing directions for pairIndex: DEX-bid
// taken against the CEX ask stack, and DEX-ask taken against the CEX bid
// stack. Both are checked on every update since neither book callback
// carries which side changed.
func (c *Core) checkArb(ctx context.Context, pairIndex int) {
	dexBook := c.dexBooks[pairIndex]
	cexBook := c.cexBooks[pairIndex]
	pair := c.pairs[pairIndex]

	c.evaluateDirection(ctx, pairIndex, pair, dexBook.Bids, cexBook.Asks, true)
	c.evaluateDirection(ctx, pairIndex, pair, dexBook.Asks, cexBook.Bids, false)
}

// walkLevel is a mutable working copy of a book level, decremented as the
// walk consumes quantity from the smaller side.
type walkLevel struct {
	Price types.Price
	Qty   types.Quantity
}

// walkArb walks dexLevels and cexLevels in price-priority lockstep,
// accumulating arbitrage quantity and expected profit while the fee-
// adjusted crossing condition holds (§4.12 steps 2-4). dexBidDirection
// selects which condition to apply: true for DEX-bid/CEX-ask takes
// (dex_price - dex_fee > cex_price + cex_fee), false for DEX-ask/CEX-bid
// takes (dex_price + dex_fee < cex_price - cex_fee).
func walkArb(dexLevels, cexLevels []types.Level, dexFeeRate, cexFeeRate decimal.Decimal, dexBidDirection bool) (arbQty, expectedProfit, breakPrice decimal.Decimal, ok bool) {
	if len(dexLevels) == 0 || len(cexLevels) == 0 {
		return decimal.Zero, decimal.Zero, decimal.Zero, false
	}

	dexWork := make([]walkLevel, len(dexLevels))
	for i, l := range dexLevels {
		dexWork[i] = walkLevel{Price: l.Price, Qty: l.Quantity}
	}
	cexWork := make([]walkLevel, len(cexLevels))
	for i, l := range cexLevels {
		cexWork[i] = walkLevel{Price: l.Price, Qty: l.Quantity}
	}

	arbQty = decimal.Zero
	expectedProfit = decimal.Zero

	i, j := 0, 0
	for i < len(dexWork) && j < len(cexWork) {
		d := dexWork[i]
		cx := cexWork[j]

		dexFee := d.Price.Mul(dexFeeRate)
		cexFee := cx.Price.Mul(cexFeeRate)

		var edge decimal.Decimal
		var crossed bool
		if dexBidDirection {
			crossed = d.Price.Sub(dexFee).GreaterThan(cx.Price.Add(cexFee))
			edge = d.Price.Sub(dexFee).Sub(cx.Price.Add(cexFee))
		} else {
			crossed = d.Price.Add(dexFee).LessThan(cx.Price.Sub(cexFee))
			edge = cx.Price.Sub(cexFee).Sub(d.Price.Add(dexFee))
		}
		if !crossed {
			break
		}

		qty := decimal.Min(d.Qty, cx.Qty)
		arbQty = arbQty.Add(qty)
		expectedProfit = expectedProfit.Add(edge.Mul(qty))
		breakPrice = d.Price
		ok = true

		d.Qty = d.Qty.Sub(qty)
		cx.Qty = cx.Qty.Sub(qty)
		dexWork[i] = d
		cexWork[j] = cx
		if d.Qty.IsZero() {
			i++
		}
		if cx.Qty.IsZero() {
			j++
		}
	}
	return arbQty, expectedProfit, breakPrice, ok
}

func (c *Core) evaluateDirection(ctx context.Context, pairIndex int, pair types.TradingPair, dexLevels, cexLevels []types.Level, dexBidDirection bool) {
	if len(dexLevels) == 0 || len(cexLevels) == 0 {
		return
	}

	arbQty, expectedProfit, breakPrice, crossed := walkArb(dexLevels, cexLevels, pair.TakerFeeRate, c.cfg.CEXTakerFeeRate, dexBidDirection)

	direction := "dex_bid_cex_ask"
	if !dexBidDirection {
		direction = "dex_ask_cex_bid"
	}
	tags := map[string]string{"pair_index": fmt.Sprintf("%d", pairIndex), "direction": direction}

	spread := dexLevels[0].Price.Sub(cexLevels[0].Price)
	c.metrics.Gauge("arb_spread", spreadFloat(spread), tags)
	arbQtyFloat, _ := arbQty.Float64()
	c.metrics.Gauge("arb_quantity", arbQtyFloat, tags)
	profitFloat, _ := expectedProfit.Float64()
	c.metrics.Gauge("arb_expected_profit", profitFloat, tags)

	if !crossed {
		return
	}

	if c.isTrading || expectedProfit.LessThan(c.cfg.MinUSDTradeProfit) {
		return
	}

	c.isTrading = true
	go c.executeTake(ctx, pairIndex, breakPrice, arbQty, dexBidDirection)
}

func spreadFloat(d decimal.Decimal) float64 {
	f, _ := d.Float64()
	return f
}

// executeTake submits the DEX IOC take and clears is_trading once it
// reaches a terminal state. Runs off-strand (submission blocks on a
// signature subscription) and posts the completion back onto the strand.
func (c *Core) executeTake(ctx context.Context, pairIndex int, price, arbQty decimal.Decimal, dexBidDirection bool) {
	side := types.SideBid
	if dexBidDirection {
		side = types.SideAsk
	}

	maxQtyByNotional := c.cfg.MaxUSDTradeSize.Div(price)
	tradeQty := decimal.Min(arbQty, maxQtyByNotional)

	order := &types.Order{
		Venue:       types.VenueDEX,
		PairIndex:   pairIndex,
		Side:        side,
		Price:       price,
		OriginalQty: tradeQty,
	}

	takeCtx, cancel := context.WithTimeout(ctx, orderTimeout)
	defer cancel()

	result, err := c.dexOrders.SendOrder(takeCtx, order)
	if err != nil {
		c.logger.Error("dex take failed", "pair_index", pairIndex, "error", err)
	} else {
		c.logger.Info("dex take submitted", "pair_index", pairIndex, "price", price.String(), "qty", tradeQty.String(), "order_id", result.OrderID)
	}

	c.enqueue(func() { c.isTrading = false })
}

// checkHedges scans every currency for a net short position across both
// venues and submits a CEX IOC buy for the deficit. USD (the shared quote
// currency) is never hedged.
func (c *Core) checkHedges(ctx context.Context) {
	for ci := range c.currencies {
		if ci >= len(c.dexWallet.Positions) || ci >= len(c.cexWallet.Positions) {
			continue
		}

		// A currency that never appears as a pair's base (the shared quote
		// currency, e.g. USD/USDC) is never hedged — pairForBaseCurrency
		// reports no match and the loop moves on.
		pairIndex, pair, ok := c.pairForBaseCurrency(ci)
		if !ok {
			continue
		}

		net := c.dexWallet.Positions[ci].Add(c.cexWallet.Positions[ci])
		if !net.IsNegative() {
			continue
		}
		deficit := net.Neg()
		if deficit.LessThan(pair.QuantityIncrement) {
			continue
		}

		cexBook := c.cexBooks[pairIndex]
		limitPrice, ok := cumulativeAskPrice(cexBook.Asks, deficit)
		if !ok {
			c.logger.Warn("hedge deficit exceeds cex ask depth", "currency", c.currencies[ci].Name, "deficit", deficit.String())
			continue
		}

		go c.executeHedge(ctx, pairIndex, pair.CEXMarketName, limitPrice, deficit)
	}
}

func (c *Core) pairForBaseCurrency(currencyIndex int) (int, types.TradingPair, bool) {
	for i, p := range c.pairs {
		if p.BaseCurrencyIndex == currencyIndex {
			return i, p, true
		}
	}
	return 0, types.TradingPair{}, false
}

// cumulativeAskPrice walks ask levels (best first) accumulating quantity
// until it reaches target, returning the price of the level that first
// satisfies it.
func cumulativeAskPrice(asks []types.Level, target decimal.Decimal) (decimal.Decimal, bool) {
	cumulative := decimal.Zero
	for _, lvl := range asks {
		cumulative = cumulative.Add(lvl.Quantity)
		if cumulative.GreaterThanOrEqual(target) {
			return lvl.Price, true
		}
	}
	return decimal.Zero, false
}

func (c *Core) executeHedge(ctx context.Context, pairIndex int, market string, price, qty decimal.Decimal) {
	order := &types.Order{
		Venue:       types.VenueCEX,
		PairIndex:   pairIndex,
		Side:        types.SideBid,
		Price:       price,
		OriginalQty: qty,
	}

	hedgeCtx, cancel := context.WithTimeout(ctx, orderTimeout)
	defer cancel()

	result, err := c.cexOrders.SendOrder(hedgeCtx, order, market)
	if err != nil {
		c.logger.Error("cex hedge failed", "pair_index", pairIndex, "error", err)
		return
	}
	c.logger.Info("cex hedge submitted", "pair_index", pairIndex, "price", price.String(), "qty", qty.String(), "order_id", result.OrderID)
}
