package dex

import (
	"context"
	"log/slog"
	"testing"

	"github.com/synthfi-arb/arb/internal/accountbatch"
	"github.com/synthfi-arb/arb/pkg/types"
)

func buildTestMarginGroup(t *testing.T, cache types.PublicKey, assetWeightScaled, liabilityWeightScaled uint64) []byte {
	t.Helper()
	buf := make([]byte, 0)
	buf = append(buf, make([]byte, 16)...) // metadata + numOracles
	for i := 0; i < maxTokens; i++ {
		buf = append(buf, make([]byte, 32)...) // mint
		buf = append(buf, make([]byte, 32)...) // rootBank
		buf = append(buf, 6)                   // decimals
		buf = append(buf, make([]byte, 7)...)
	}
	for i := 0; i < maxPairs; i++ {
		buf = append(buf, make([]byte, 32)...) // spotMarketAddress
		buf = putAligned128(buf, assetWeightScaled, 0)
		buf = putAligned128(buf, assetWeightScaled, 0)
		buf = putAligned128(buf, liabilityWeightScaled, 0)
		buf = putAligned128(buf, liabilityWeightScaled, 0)
		buf = putAligned128(buf, 0, 0)
	}
	buf = append(buf, make([]byte, maxPairs*160)...) // perpMarkets
	for i := 0; i < maxPairs; i++ {
		buf = append(buf, make([]byte, 32)...) // oracle
	}
	buf = append(buf, make([]byte, 8)...) // signerNonce
	buf = append(buf, make([]byte, 32)...) // signerKey
	buf = append(buf, make([]byte, 32)...) // admin
	buf = append(buf, make([]byte, 32)...) // dexProgramId
	buf = append(buf, cache[:]...)
	return buf
}

func buildTestCache(t *testing.T, price0 int64, depositIdx, borrowIdx int64) []byte {
	t.Helper()
	buf := make([]byte, 0)
	buf = append(buf, make([]byte, 8)...) // metadata
	for i := 0; i < maxPairs; i++ {
		p := int64(0)
		if i == 0 {
			p = price0
		}
		buf = putAligned128(buf, uint64(p)<<48, 0)
		buf = append(buf, make([]byte, 8)...) // lastUpdate
	}
	for i := 0; i < maxTokens; i++ {
		buf = putAligned128(buf, uint64(depositIdx)<<48, 0)
		buf = putAligned128(buf, uint64(borrowIdx)<<48, 0)
		buf = append(buf, make([]byte, 8)...) // lastUpdate
	}
	return buf
}

func TestDexWalletRefreshNoOpenOrders(t *testing.T) {
	marginAccountAddr := mustPubkeyFromBytes(t, mustPubkeyBytes(1))
	marginGroupAddr := mustPubkeyFromBytes(t, mustPubkeyBytes(2))
	cacheAddr := mustPubkeyFromBytes(t, mustPubkeyBytes(3))

	const oneScaled = uint64(1) << 48
	halfScaled := oneScaled / 2

	marginAcct := buildTestMarginAccountWithDeposit(t, marginGroupAddr, 0, 10, 0)
	group := buildTestMarginGroup(t, cacheAddr, halfScaled, halfScaled)
	cache := buildTestCache(t, 2, 1, 1)

	fetcher := &fakeFetcher{byKey: map[types.PublicKey][]byte{
		marginAccountAddr: marginAcct,
		marginGroupAddr:   group,
		cacheAddr:         cache,
	}}
	batcher := accountbatch.New(fetcher, 0)

	data := types.ReferenceData{
		Currencies:    []types.Currency{{Name: "SOL"}, {Name: "USDC"}},
		Pairs:         []types.TradingPair{{BaseCurrencyIndex: 0, QuoteCurrencyIndex: 1}},
		MarginAccount: marginAccountAddr,
		MarginGroup:   marginGroupAddr,
		OpenOrders:    []types.PublicKey{{}},
	}

	var got *types.Wallet
	w := NewWallet(batcher, data, func(wallet *types.Wallet) { got = wallet }, slog.Default())
	if err := w.Refresh(context.Background()); err != nil {
		t.Fatalf("Refresh: %v", err)
	}
	if got == nil {
		t.Fatal("onSync not invoked")
	}
	if !got.Positions[0].Equal(mustDecimalN(t, 10)) {
		t.Fatalf("position[0] = %s, want 10 (10 deposit * 1.0 index)", got.Positions[0])
	}
	// health = 0(quote) + 10 * price(2) * weight(0.5) = 10 > 0
	if got.MarginAvailable[0].Sign() <= 0 {
		t.Fatalf("margin available[0] = %s, want > 0", got.MarginAvailable[0])
	}
}

func buildTestMarginAccountWithDeposit(t *testing.T, marginGroup types.PublicKey, currencyIdx int, deposit, borrow int64) []byte {
	t.Helper()
	buf := make([]byte, 0)
	buf = append(buf, make([]byte, 8)...) // metadata
	buf = append(buf, marginGroup[:]...)
	buf = append(buf, make([]byte, 32)...) // owner
	buf = append(buf, make([]byte, maxPairs)...)
	buf = append(buf, 0) // numInMarginBasket
	for i := 0; i < maxTokens; i++ {
		d := int64(0)
		if i == currencyIdx {
			d = deposit
		}
		buf = putAligned128(buf, uint64(d)<<48, 0)
	}
	for i := 0; i < maxTokens; i++ {
		b := int64(0)
		if i == currencyIdx {
			b = borrow
		}
		buf = putAligned128(buf, uint64(b)<<48, 0)
	}
	for i := 0; i < maxPairs; i++ {
		buf = append(buf, make([]byte, 32)...)
	}
	return buf
}

func TestWorstCaseExposurePicksLargerBaseMagnitude(t *testing.T) {
	price := mustDecimalN(t, 2)
	oo := OpenOrders{
		NativeBaseFree:   1,
		NativeBaseTotal:  1,  // no base locked in asks
		NativeQuoteFree:  0,
		NativeQuoteTotal: 100, // 100 quote locked in bids -> 50 base if filled
	}
	base, quote := worstCaseExposure(oo, price)
	if !base.Equal(mustDecimalN(t, 50)) {
		t.Fatalf("base delta = %s, want 50", base)
	}
	if !quote.Equal(mustDecimalN(t, 0)) {
		t.Fatalf("quote (bids scenario) = %s, want 0", quote)
	}
}
