package cex

import (
	"context"
	"log/slog"
	"time"

	"github.com/shopspring/decimal"
	"github.com/synthfi-arb/arb/pkg/types"
)

// pollInterval is how often CEX balances are polled (§4.11).
const pollInterval = 1 * time.Second

// WalletCallback receives the wallet after every poll.
type WalletCallback func(wallet *types.Wallet)

// Wallet polls CEX balances on a fixed interval and maps them into the
// shared types.Wallet view. There is no cross-margin on this venue, so
// margin_available[pair] is simply the quote currency's free balance.
type Wallet struct {
	client *Client
	data   types.ReferenceData
	logger *slog.Logger
	onSync WalletCallback

	wallet *types.Wallet
}

// NewWallet constructs a CEX Wallet poller.
func NewWallet(client *Client, data types.ReferenceData, onSync WalletCallback, logger *slog.Logger) *Wallet {
	return &Wallet{
		client: client,
		data:   data,
		logger: logger.With("component", "cex_wallet"),
		onSync: onSync,
		wallet: types.NewWallet(types.VenueCEX, len(data.Currencies), len(data.Pairs)),
	}
}

// Run polls balances every second until ctx is cancelled.
func (w *Wallet) Run(ctx context.Context) error {
	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()

	if err := w.poll(ctx); err != nil {
		w.logger.Warn("initial balance poll failed", "error", err)
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if err := w.poll(ctx); err != nil {
				w.logger.Warn("balance poll failed", "error", err)
			}
		}
	}
}

func (w *Wallet) poll(ctx context.Context) error {
	balances, err := w.client.GetBalances(ctx)
	if err != nil {
		return err
	}

	for _, b := range balances {
		idx := w.data.CurrencyIndex(b.Coin)
		if idx < 0 {
			continue
		}
		free, err := decimal.NewFromString(b.Free)
		if err != nil {
			w.logger.Warn("unparseable balance", "coin", b.Coin, "value", b.Free)
			continue
		}
		w.wallet.Positions[idx] = free
	}

	for pairIdx, pair := range w.data.Pairs {
		if pair.QuoteCurrencyIndex >= 0 && pair.QuoteCurrencyIndex < len(w.wallet.Positions) {
			w.wallet.MarginAvailable[pairIdx] = w.wallet.Positions[pair.QuoteCurrencyIndex]
		}
	}

	if w.onSync != nil {
		// Positions/MarginAvailable are written slot-by-slot into the same
		// backing arrays on every poll, so the callback must get a copy
		// rather than the live wallet shared with the next poll.
		w.onSync(w.wallet.Clone())
	}
	return nil
}
