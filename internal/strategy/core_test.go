package strategy

import (
	"context"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/synthfi-arb/arb/internal/dex"
	"github.com/synthfi-arb/arb/pkg/types"
)

func dec(f float64) decimal.Decimal { return decimal.NewFromFloat(f) }

func levels(pairs ...[2]float64) []types.Level {
	out := make([]types.Level, len(pairs))
	for i, p := range pairs {
		out[i] = types.Level{Price: dec(p[0]), Quantity: dec(p[1])}
	}
	return out
}

// S1 — no-arb baseline.
func TestWalkArbNoArbBaseline(t *testing.T) {
	dexBids := levels([2]float64{100.0, 1.0})
	dexAsks := levels([2]float64{101.0, 1.0})
	cexBids := levels([2]float64{100.5, 1.0})
	cexAsks := levels([2]float64{100.6, 1.0})

	arbQty, _, _, ok := walkArb(dexBids, cexAsks, dec(0.0003), dec(0.002), true)
	if ok || !arbQty.IsZero() {
		t.Fatalf("dex-bid/cex-ask: got crossed=%v qty=%s, want no cross", ok, arbQty)
	}

	arbQty, _, _, ok = walkArb(dexAsks, cexBids, dec(0.0003), dec(0.002), false)
	if ok || !arbQty.IsZero() {
		t.Fatalf("dex-ask/cex-bid: got crossed=%v qty=%s, want no cross", ok, arbQty)
	}
}

// S2 — arb trigger.
func TestWalkArbTrigger(t *testing.T) {
	dexBids := levels([2]float64{110.0, 2.0})
	cexAsks := levels([2]float64{100.0, 2.0})

	arbQty, expectedProfit, breakPrice, ok := walkArb(dexBids, cexAsks, dec(0.0003), dec(0.002), true)
	if !ok {
		t.Fatal("expected a crossed market")
	}
	if !arbQty.Equal(dec(2.0)) {
		t.Fatalf("arb_qty = %s, want 2.0", arbQty)
	}
	if !breakPrice.Equal(dec(110.0)) {
		t.Fatalf("break price = %s, want 110.0", breakPrice)
	}
	want := dec(19.534)
	if diff := expectedProfit.Sub(want).Abs(); diff.GreaterThan(dec(0.0001)) {
		t.Fatalf("expected_profit = %s, want ~%s", expectedProfit, want)
	}
}

func TestWalkArbEmptySide(t *testing.T) {
	_, _, _, ok := walkArb(nil, levels([2]float64{100, 1}), dec(0.0003), dec(0.002), true)
	if ok {
		t.Fatal("expected no cross with an empty side")
	}
}

func TestCumulativeAskPrice(t *testing.T) {
	asks := levels([2]float64{100.0, 2.0}, [2]float64{101.0, 5.0})
	price, ok := cumulativeAskPrice(asks, dec(2.0))
	if !ok || !price.Equal(dec(100.0)) {
		t.Fatalf("price = %s ok=%v, want 100.0/true", price, ok)
	}

	price, ok = cumulativeAskPrice(asks, dec(4.0))
	if !ok || !price.Equal(dec(101.0)) {
		t.Fatalf("price = %s ok=%v, want 101.0/true", price, ok)
	}

	_, ok = cumulativeAskPrice(asks, dec(100.0))
	if ok {
		t.Fatal("expected insufficient depth")
	}
}

type fakeDEXSender struct {
	mu    sync.Mutex
	calls []*types.Order
	done  chan struct{}
}

func (f *fakeDEXSender) SendOrder(_ context.Context, order *types.Order) (*types.Order, error) {
	f.mu.Lock()
	f.calls = append(f.calls, order)
	f.mu.Unlock()
	order.State = types.OrderStateClosed
	order.OrderID = "dex-sig"
	if f.done != nil {
		f.done <- struct{}{}
	}
	return order, nil
}

type fakeCEXSender struct {
	mu     sync.Mutex
	calls  []*types.Order
	market []string
	done   chan struct{}
}

func (f *fakeCEXSender) SendOrder(_ context.Context, order *types.Order, market string) (*types.Order, error) {
	f.mu.Lock()
	f.calls = append(f.calls, order)
	f.market = append(f.market, market)
	f.mu.Unlock()
	order.State = types.OrderStateClosed
	order.OrderID = "cex-id"
	if f.done != nil {
		f.done <- struct{}{}
	}
	return order, nil
}

func testPairs() ([]types.Currency, []types.TradingPair) {
	currencies := []types.Currency{{Name: "SOL", VenueIndex: 0}, {Name: "USDC", VenueIndex: 1}}
	pairs := []types.TradingPair{{
		BaseCurrencyIndex:  0,
		QuoteCurrencyIndex: 1,
		QuantityIncrement:  dec(0.01),
		CEXMarketName:      "SOL/USDC",
		TakerFeeRate:       dec(0.0003),
	}}
	return currencies, pairs
}

func waitOrTimeout(t *testing.T, ch chan struct{}) {
	t.Helper()
	select {
	case <-ch:
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for order send")
	}
}

// S2 — arb trigger, end to end through Core.
func TestCoreTriggersDEXTakeOnCross(t *testing.T) {
	currencies, pairs := testPairs()
	dexSender := &fakeDEXSender{done: make(chan struct{}, 1)}
	cexSender := &fakeCEXSender{}
	cfg := Config{MaxUSDTradeSize: dec(1000), MinUSDTradeProfit: dec(1), CEXTakerFeeRate: dec(0.002)}
	core := NewCore(cfg, currencies, pairs, dexSender, cexSender, nil, slog.Default())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go core.Run(ctx)

	core.OnCEXBookUpdate(0, &types.Book{PairIndex: 0, Asks: levels([2]float64{100.0, 2.0})})
	core.OnDEXBookUpdate(dex.BookUpdate{PairIndex: 0, Book: &types.Book{PairIndex: 0, Bids: levels([2]float64{110.0, 2.0})}})

	waitOrTimeout(t, dexSender.done)

	dexSender.mu.Lock()
	defer dexSender.mu.Unlock()
	if len(dexSender.calls) != 1 {
		t.Fatalf("dex sends = %d, want 1", len(dexSender.calls))
	}
	order := dexSender.calls[0]
	if order.Side != types.SideAsk {
		t.Fatalf("side = %s, want ASK (selling into the dex bid)", order.Side)
	}
	if !order.Price.Equal(dec(110.0)) {
		t.Fatalf("price = %s, want 110.0", order.Price)
	}
}

func TestCoreNoTradeWithoutCross(t *testing.T) {
	currencies, pairs := testPairs()
	dexSender := &fakeDEXSender{done: make(chan struct{}, 1)}
	cexSender := &fakeCEXSender{}
	// Same S1 baseline inputs: no cross, so no send regardless of threshold.
	cfg := Config{MaxUSDTradeSize: dec(1000), MinUSDTradeProfit: dec(0.10), CEXTakerFeeRate: dec(0.002)}
	core := NewCore(cfg, currencies, pairs, dexSender, cexSender, nil, slog.Default())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go core.Run(ctx)

	core.OnCEXBookUpdate(0, &types.Book{PairIndex: 0, Bids: levels([2]float64{100.5, 1.0}), Asks: levels([2]float64{100.6, 1.0})})
	core.OnDEXBookUpdate(dex.BookUpdate{PairIndex: 0, Book: &types.Book{PairIndex: 0, Bids: levels([2]float64{100.0, 1.0}), Asks: levels([2]float64{101.0, 1.0})}})

	time.Sleep(50 * time.Millisecond)

	dexSender.mu.Lock()
	defer dexSender.mu.Unlock()
	if len(dexSender.calls) != 0 {
		t.Fatalf("dex sends = %d, want 0", len(dexSender.calls))
	}
}

// S3 — hedge after take.
func TestCoreHedgesNetShortPosition(t *testing.T) {
	currencies, pairs := testPairs()
	dexSender := &fakeDEXSender{}
	cexSender := &fakeCEXSender{done: make(chan struct{}, 1)}
	cfg := Config{MaxUSDTradeSize: dec(1000), MinUSDTradeProfit: dec(1), CEXTakerFeeRate: dec(0.002)}
	core := NewCore(cfg, currencies, pairs, dexSender, cexSender, nil, slog.Default())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go core.Run(ctx)

	core.OnCEXBookUpdate(0, &types.Book{PairIndex: 0, Asks: levels([2]float64{100.0, 2.0})})

	dexWallet := types.NewWallet(types.VenueDEX, len(currencies), len(pairs))
	dexWallet.Positions[0] = dec(-2.0)
	core.OnDEXWalletUpdate(dexWallet)

	waitOrTimeout(t, cexSender.done)

	cexSender.mu.Lock()
	defer cexSender.mu.Unlock()
	if len(cexSender.calls) != 1 {
		t.Fatalf("cex hedge sends = %d, want 1", len(cexSender.calls))
	}
	order := cexSender.calls[0]
	if order.Side != types.SideBid {
		t.Fatalf("side = %s, want BID (buying back the short)", order.Side)
	}
	if !order.OriginalQty.Equal(dec(2.0)) {
		t.Fatalf("qty = %s, want 2.0", order.OriginalQty)
	}
	if !order.Price.Equal(dec(100.0)) {
		t.Fatalf("price = %s, want 100.0", order.Price)
	}
	if cexSender.market[0] != "SOL/USDC" {
		t.Fatalf("market = %q, want SOL/USDC", cexSender.market[0])
	}
}

func TestCoreNoHedgeWhenFlatOrLong(t *testing.T) {
	currencies, pairs := testPairs()
	dexSender := &fakeDEXSender{}
	cexSender := &fakeCEXSender{done: make(chan struct{}, 1)}
	cfg := Config{MaxUSDTradeSize: dec(1000), MinUSDTradeProfit: dec(1), CEXTakerFeeRate: dec(0.002)}
	core := NewCore(cfg, currencies, pairs, dexSender, cexSender, nil, slog.Default())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go core.Run(ctx)

	dexWallet := types.NewWallet(types.VenueDEX, len(currencies), len(pairs))
	dexWallet.Positions[0] = dec(1.0)
	core.OnDEXWalletUpdate(dexWallet)

	time.Sleep(50 * time.Millisecond)

	cexSender.mu.Lock()
	defer cexSender.mu.Unlock()
	if len(cexSender.calls) != 0 {
		t.Fatalf("cex hedge sends = %d, want 0", len(cexSender.calls))
	}
}
