package dex

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/shopspring/decimal"
	"github.com/synthfi-arb/arb/internal/accountbatch"
	"github.com/synthfi-arb/arb/internal/apperr"
	"github.com/synthfi-arb/arb/pkg/types"
)

// WalletCallback receives the wallet after every recomputation.
type WalletCallback func(wallet *types.Wallet)

// Wallet recomputes health and per-pair margin availability from the
// margin account, cache, and open-orders accounts (§4.11). Unlike the CEX
// wallet this is event-driven rather than polled: Refresh is meant to be
// invoked whenever a watched account's subscription fires.
//
// Currency venue indices are assumed to line up with the reference
// program's fixed token-slot ordering (index i addresses deposit/borrow
// slot i; the final configured currency is the quote currency, matching
// quoteCurrencyIndex). Pair order is assumed to line up with the margin
// group's per-pair oracle/spot-market slot ordering.
type Wallet struct {
	batcher *accountbatch.Batcher
	data    types.ReferenceData
	logger  *slog.Logger
	onSync  WalletCallback

	wallet *types.Wallet
}

// NewWallet constructs a DEX Wallet for the given reference data.
func NewWallet(batcher *accountbatch.Batcher, data types.ReferenceData, onSync WalletCallback, logger *slog.Logger) *Wallet {
	return &Wallet{
		batcher: batcher,
		data:    data,
		logger:  logger.With("component", "dex_wallet"),
		onSync:  onSync,
		wallet:  types.NewWallet(types.VenueDEX, len(data.Currencies), len(data.Pairs)),
	}
}

// Refresh fetches the margin account, margin group and every configured
// open-orders account in one batch, then the cache account named by the
// decoded margin group in a second batch, and recomputes health and
// margin availability.
func (w *Wallet) Refresh(ctx context.Context) error {
	keys := []types.PublicKey{w.data.MarginAccount, w.data.MarginGroup}
	for _, oo := range w.data.OpenOrders {
		keys = append(keys, oo)
	}
	// The cache address is taken from the decoded margin group below, not
	// from ReferenceData.Cache, so it is fetched in a second batch.
	infos, err := w.batcher.GetMultipleAccounts(ctx, keys)
	if err != nil {
		return err
	}
	if infos[0] == nil || infos[0].Data == nil {
		return fmt.Errorf("dex wallet: %w: margin account", apperr.ErrNotFound)
	}
	if infos[1] == nil || infos[1].Data == nil {
		return fmt.Errorf("dex wallet: %w: margin group", apperr.ErrNotFound)
	}

	marginAcct, err := DecodeMarginAccount(infos[0].Data)
	if err != nil {
		return err
	}
	group, err := DecodeMarginGroup(infos[1].Data)
	if err != nil {
		return err
	}

	cacheKeys := []types.PublicKey{group.Cache}
	cacheInfos, err := w.batcher.GetMultipleAccounts(ctx, cacheKeys)
	if err != nil {
		return err
	}
	if cacheInfos[0] == nil || cacheInfos[0].Data == nil {
		return fmt.Errorf("dex wallet: %w: cache", apperr.ErrNotFound)
	}
	cache, err := DecodeCache(cacheInfos[0].Data)
	if err != nil {
		return err
	}

	openOrders := make(map[int]OpenOrders)
	for i := range w.data.OpenOrders {
		info := infos[2+i]
		if info == nil || info.Data == nil {
			continue
		}
		oo, err := DecodeOpenOrders(info.Data)
		if err != nil {
			w.logger.Warn("dex wallet: skipping undecodable open-orders account", "pair", i, "error", err)
			continue
		}
		openOrders[i] = oo
	}

	w.recompute(marginAcct, group, cache, openOrders)

	if w.onSync != nil {
		// recompute writes Positions/MarginAvailable slot-by-slot into the
		// same backing arrays on every call, so the strand goroutine that
		// eventually runs the callback must not see the live wallet.
		w.onSync(w.wallet.Clone())
	}
	return nil
}

func (w *Wallet) recompute(marginAcct MarginAccount, group MarginGroup, cache Cache, openOrders map[int]OpenOrders) {
	currencies := len(w.data.Currencies)
	positions := make([]decimal.Decimal, currencies)
	for i := 0; i < currencies && i < maxTokens; i++ {
		deposit := ScaledToPrice(marginAcct.Deposits[i]).Mul(ScaledToPrice(cache.RootBankCaches[i].DepositIndex))
		borrow := ScaledToPrice(marginAcct.Borrows[i]).Mul(ScaledToPrice(cache.RootBankCaches[i].BorrowIndex))
		positions[i] = deposit.Sub(borrow)
	}

	quoteComponent := decimal.Zero
	healthSum := decimal.Zero
	weightByPair := make([]decimal.Decimal, len(w.data.Pairs))

	for pairIdx, pair := range w.data.Pairs {
		if pairIdx >= maxPairs {
			break
		}
		price := ScaledToPrice(cache.PriceCaches[pairIdx].Price)
		spot := positions[pair.BaseCurrencyIndex]

		if oo, ok := openOrders[pairIdx]; ok {
			delta, quoteDelta := worstCaseExposure(oo, price)
			spot = spot.Add(delta)
			quoteComponent = quoteComponent.Add(quoteDelta)
		}

		var weight decimal.Decimal
		if spot.Sign() >= 0 {
			weight = ScaledToPrice(group.SpotMarkets[pairIdx].InitialAssetWeight)
		} else {
			weight = ScaledToPrice(group.SpotMarkets[pairIdx].InitialLiabilityWeight)
		}
		weightByPair[pairIdx] = weight

		healthSum = healthSum.Add(spot.Mul(price).Mul(weight))
	}

	health := quoteComponent.Add(healthSum)
	for pairIdx := range w.data.Pairs {
		if health.Sign() <= 0 {
			w.wallet.MarginAvailable[pairIdx] = types.ZeroPrice
			continue
		}
		denom := decimal.NewFromInt(1).Sub(weightByPair[pairIdx])
		if denom.Sign() == 0 {
			w.wallet.MarginAvailable[pairIdx] = types.ZeroPrice
			continue
		}
		w.wallet.MarginAvailable[pairIdx] = health.Div(denom)
	}
	for i, p := range positions {
		w.wallet.Positions[i] = p
	}
}

// worstCaseExposure computes the open-orders account's effective base
// delta and quote delta under the scenario (all bids filled, or all asks
// filled) whose resulting |base| is larger, per the margin engine's
// worst-case-exposure rule.
func worstCaseExposure(oo OpenOrders, price decimal.Decimal) (baseDelta, quoteDelta decimal.Decimal) {
	baseFree := decimal.NewFromInt(int64(oo.NativeBaseFree))
	baseLocked := decimal.NewFromInt(int64(oo.NativeBaseTotal - oo.NativeBaseFree))
	quoteFree := decimal.NewFromInt(int64(oo.NativeQuoteFree))
	quoteLocked := decimal.NewFromInt(int64(oo.NativeQuoteTotal - oo.NativeQuoteFree))

	bidsBase := baseFree
	bidsQuote := quoteFree
	if price.Sign() != 0 {
		bidsBase = bidsBase.Add(quoteLocked.Div(price))
	}

	asksBase := baseFree
	asksQuote := quoteFree.Add(baseLocked.Mul(price))

	if bidsBase.Abs().GreaterThan(asksBase.Abs()) {
		return bidsBase.Sub(baseFree), bidsQuote
	}
	return asksBase.Sub(baseFree), asksQuote
}
