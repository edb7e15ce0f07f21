// Package engine is the central orchestrator of the cross-venue
// arbitrage bot.
//
// It wires together every subsystem:
//
//  1. Transport (HTTPS/WSS) carries both the DEX JSON-RPC stream and the
//     CEX REST/WS feeds.
//  2. The RPC mux and subscription manager drive slot tracking and the
//     DEX book/wallet reconstructors; the CEX client drives its own book
//     and wallet poller.
//  3. Reference-data loaders run once per venue at startup and are merged
//     into one indexed pair/currency view.
//  4. The strategy core is wired directly to both venues' book and wallet
//     update callbacks and to both venues' order clients.
//
// Lifecycle: New() -> Start() -> [runs until the process is signalled] ->
// Stop().
package engine

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/synthfi-arb/arb/internal/accountbatch"
	"github.com/synthfi-arb/arb/internal/cex"
	"github.com/synthfi-arb/arb/internal/config"
	"github.com/synthfi-arb/arb/internal/dex"
	"github.com/synthfi-arb/arb/internal/keystore"
	"github.com/synthfi-arb/arb/internal/refdata"
	"github.com/synthfi-arb/arb/internal/rpc"
	"github.com/synthfi-arb/arb/internal/slot"
	"github.com/synthfi-arb/arb/internal/store"
	"github.com/synthfi-arb/arb/internal/strategy"
	"github.com/synthfi-arb/arb/internal/subscription"
	"github.com/synthfi-arb/arb/internal/telemetry"
	"github.com/synthfi-arb/arb/internal/transport"
	"github.com/synthfi-arb/arb/pkg/types"
)

const (
	requestTimeout     = 15 * time.Second
	initialLoadTimeout = 30 * time.Second
)

// Engine owns the lifecycle of every component and the goroutines that
// drive them. Fields are assigned once, in New, and never mutated
// afterward except under the goroutines Start launches.
type Engine struct {
	cfg    config.Config
	logger *slog.Logger

	dexWSS  *transport.WSS
	dexMux  *rpc.Mux
	subs    *subscription.Manager
	slots   *slot.Tracker
	batcher *accountbatch.Batcher
	ks      *keystore.Store

	dexBook   *dex.Book
	dexWallet *dex.Wallet
	dexOrders *dex.OrderClient

	cexClient      *cex.Client
	cexPublicFeed  *cex.Feed
	cexPrivateFeed *cex.Feed
	cexWallet      *cex.Wallet
	cexOrders      *cex.OrderClient

	store *store.Store
	pub   *telemetry.Publisher

	core *strategy.Core

	pairs      []types.TradingPair
	currencies []types.Currency

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New constructs and wires every component. Both venues' reference data
// loads are started and awaited here, so a caller that gets a non-nil
// Engine back has a fully resolved, tradeable reference-data view before
// Start is ever called.
//
// Construction proceeds in two passes because several components need a
// callback that only makes sense once the Engine itself exists (the book
// callbacks forward into the strategy core, and the wallet callbacks
// persist to the store and forward into the core, both of which are
// built later in the same function): e is
// allocated early with its static fields set, passed by pointer into the
// constructors that need a callback, and has its remaining fields filled
// in as each subsystem comes online. None of those callbacks fire until
// Start launches the goroutines that can trigger them, so the partially
// populated Engine is never read concurrently during this window.
func New(cfg config.Config, logger *slog.Logger) (*Engine, error) {
	ctx, cancel := context.WithCancel(context.Background())

	e := &Engine{
		cfg:    cfg,
		logger: logger.With("component", "engine"),
		ctx:    ctx,
		cancel: cancel,
	}

	ks := keystore.New(ctx, cfg.KeyStore.Directory)
	if err := ks.CreateDirectory(ctx); err != nil {
		cancel()
		return nil, fmt.Errorf("key store: %w", err)
	}
	signer, err := ks.LoadKeyPair(ctx, cfg.KeyStore.SignerTag)
	if err != nil {
		cancel()
		return nil, fmt.Errorf("load signer key: %w", err)
	}
	e.ks = ks

	telHTTPS := transport.NewHTTPS(fmt.Sprintf("http://%s:%d", cfg.Telemetry.Address, cfg.Telemetry.Port), requestTimeout)
	instanceID := telemetry.NewInstanceID(time.Now())
	pub := telemetry.New(telHTTPS, instanceID, telemetry.Config{
		Bucket: cfg.Telemetry.Bucket,
		Org:    cfg.Telemetry.Org,
		Token:  cfg.Telemetry.Token,
		Name:   "arb",
	}, logger)
	e.pub = pub

	// mux and wss are mutually referential: the WSS's onMessage callback
	// must feed the mux, but the mux's constructor needs the WSS. A
	// forwarding closure over a not-yet-assigned pointer breaks the cycle.
	var dexMux *rpc.Mux
	dexWSS := transport.NewWSS(cfg.DEX.RPCWSURL, func(data []byte) {
		if dexMux != nil {
			dexMux.HandleMessage(data)
		}
	}, nil, logger)
	dexMux = rpc.NewWSMux(dexWSS, logger, rpc.WithCounters(pub))
	e.dexWSS = dexWSS
	e.dexMux = dexMux

	subs := subscription.New(dexMux, logger)
	dexMux.SetNotificationHandler(subs.HandleNotification)
	e.subs = subs

	rpcClient := &solanaRPC{mux: dexMux}
	e.slots = slot.New(rpcClient, logger, pub)
	e.batcher = accountbatch.New(rpcClient, accountbatch.DefaultMaxAccountsPerBatch)

	dexData, cexData, err := loadReferenceData(ctx, cfg, e.batcher)
	if err != nil {
		cancel()
		return nil, err
	}

	pairs, currencies, err := mergeReferenceData(cfg, dexData, cexData)
	if err != nil {
		cancel()
		return nil, err
	}
	e.pairs = pairs
	e.currencies = currencies

	e.dexBook = dex.NewBook(e.batcher, dexData, e.onDEXBookUpdate, logger)
	e.dexWallet = dex.NewWallet(e.batcher, dexData, e.onDEXWalletUpdate, logger)

	venueCfg, err := buildVenueConfig(cfg, ks, dexData)
	if err != nil {
		cancel()
		return nil, err
	}
	e.dexOrders = dex.NewOrderClient(dexMux, subs, e.slots, signer, dexData, venueCfg, logger, cfg.DryRun)

	cexHTTPS := transport.NewHTTPS(cfg.CEX.RESTBaseURL, requestTimeout)
	cexAuth := cex.NewAuth(cfg.CEX.APIKey, cfg.CEX.Secret)
	cexRL := cex.NewRateLimiter()
	e.cexClient = cex.NewClient(cexHTTPS, cexRL, cexAuth)
	e.cexOrders = cex.NewOrderClient(cexHTTPS, cexRL, cexAuth, logger, cfg.DryRun)

	marketByName := make(map[string]int, len(pairs))
	for i, p := range pairs {
		marketByName[p.CEXMarketName] = i
	}
	e.cexPublicFeed = cex.NewPublicFeed(cfg.CEX.WSMarketURL, marketByName, e.onCEXBookUpdate, logger)
	e.cexPrivateFeed = cex.NewPrivateFeed(cfg.CEX.WSUserURL, cexAuth, e.cexOrders.OnOrderEvent, logger)
	e.cexWallet = cex.NewWallet(e.cexClient, cexData, e.onCEXWalletUpdate, logger)

	st, err := store.Open(cfg.Persistence.StateDir)
	if err != nil {
		cancel()
		return nil, fmt.Errorf("open inventory store: %w", err)
	}
	e.store = st

	strategyCfg := strategy.Config{
		MaxUSDTradeSize:   decimal.NewFromFloat(cfg.Strategy.MaxUSDTradeSize),
		MinUSDTradeProfit: decimal.NewFromFloat(cfg.Strategy.MinUSDTradeProfit),
		CEXTakerFeeRate:   decimal.NewFromFloat(cfg.Strategy.CEXTakerFeeRate),
	}
	e.core = strategy.NewCore(strategyCfg, currencies, pairs, e.dexOrders, e.cexOrders, pub, logger)

	if err := e.seedInventoryFromStore(); err != nil {
		e.logger.Warn("seed inventory from store failed", "error", err)
	}

	return e, nil
}

// loadReferenceData builds both venues' reference-data sources from
// config and awaits their one-shot loads concurrently.
func loadReferenceData(ctx context.Context, cfg config.Config, batcher *accountbatch.Batcher) (types.ReferenceData, types.ReferenceData, error) {
	marginAccount, err := types.NewHashFromBase58(cfg.DEX.MarginAccount)
	if err != nil {
		return types.ReferenceData{}, types.ReferenceData{}, fmt.Errorf("dex margin_account: %w", err)
	}

	mintByName := make(map[string]config.CurrencyConfig, len(cfg.Currencies))
	for _, c := range cfg.Currencies {
		mintByName[c.Name] = c
	}

	dexPairs := make([]dex.PairConfig, len(cfg.Pairs))
	cexPairs := make([]cex.PairSpec, len(cfg.Pairs))
	for i, p := range cfg.Pairs {
		baseCfg, ok := mintByName[p.Base]
		if !ok {
			return types.ReferenceData{}, types.ReferenceData{}, fmt.Errorf("pair %d: unknown base currency %q", i, p.Base)
		}
		quoteCfg, ok := mintByName[p.Quote]
		if !ok {
			return types.ReferenceData{}, types.ReferenceData{}, fmt.Errorf("pair %d: unknown quote currency %q", i, p.Quote)
		}
		baseMint, err := types.NewHashFromBase58(baseCfg.Mint)
		if err != nil {
			return types.ReferenceData{}, types.ReferenceData{}, fmt.Errorf("pair %d base mint: %w", i, err)
		}
		quoteMint, err := types.NewHashFromBase58(quoteCfg.Mint)
		if err != nil {
			return types.ReferenceData{}, types.ReferenceData{}, fmt.Errorf("pair %d quote mint: %w", i, err)
		}
		marketAddr, err := types.NewHashFromBase58(p.DEXMarketAddress)
		if err != nil {
			return types.ReferenceData{}, types.ReferenceData{}, fmt.Errorf("pair %d dex_market_address: %w", i, err)
		}

		dexPairs[i] = dex.PairConfig{
			Base:          p.Base,
			Quote:         p.Quote,
			BaseMint:      baseMint,
			QuoteMint:     quoteMint,
			MarketAddress: marketAddr,
			BaseDecimals:  baseCfg.Decimals,
			QuoteDecimals: quoteCfg.Decimals,
		}
		cexPairs[i] = cex.PairSpec{Base: p.Base, Quote: p.Quote, CEXMarketName: p.CEXMarketName}
	}

	dexSrc := dex.NewRefDataSource(batcher, dexPairs, marginAccount)
	dexLoader := refdata.New(ctx, dexSrc)

	cexHTTPS := transport.NewHTTPS(cfg.CEX.RESTBaseURL, requestTimeout)
	cexAuth := cex.NewAuth(cfg.CEX.APIKey, cfg.CEX.Secret)
	cexRL := cex.NewRateLimiter()
	cexClient := cex.NewClient(cexHTTPS, cexRL, cexAuth)
	cexSrc := cex.NewRefDataSource(cexClient, cexPairs)
	cexLoader := refdata.New(ctx, cexSrc)

	loadCtx, loadCancel := context.WithTimeout(ctx, initialLoadTimeout)
	defer loadCancel()

	dexData, err := dexLoader.Get(loadCtx)
	if err != nil {
		return types.ReferenceData{}, types.ReferenceData{}, fmt.Errorf("dex reference data: %w", err)
	}
	cexData, err := cexLoader.Get(loadCtx)
	if err != nil {
		return types.ReferenceData{}, types.ReferenceData{}, fmt.Errorf("cex reference data: %w", err)
	}
	if err := refdata.MustHaveCurrency(dexData); err != nil {
		return types.ReferenceData{}, types.ReferenceData{}, fmt.Errorf("dex reference data: %w", err)
	}
	if err := refdata.MustHaveCurrency(cexData); err != nil {
		return types.ReferenceData{}, types.ReferenceData{}, fmt.Errorf("cex reference data: %w", err)
	}
	return dexData, cexData, nil
}

// mergeReferenceData folds each venue's independently-loaded reference
// data into one pair/currency view. Both loaders assign pair indices in
// cfg.Pairs order and currency indices in the order the configured pairs
// first name each base/quote currency, since both
// PairConfig/PairSpec lists above are built from that one shared
// configuration, so the two venues' tables always align positionally.
func mergeReferenceData(cfg config.Config, dexData, cexData types.ReferenceData) ([]types.TradingPair, []types.Currency, error) {
	if len(dexData.Currencies) != len(cexData.Currencies) {
		return nil, nil, fmt.Errorf("reference data mismatch: dex has %d currencies, cex has %d", len(dexData.Currencies), len(cexData.Currencies))
	}
	for i := range dexData.Currencies {
		if dexData.Currencies[i].Name != cexData.Currencies[i].Name {
			return nil, nil, fmt.Errorf("reference data mismatch: currency %d is %q on dex, %q on cex", i, dexData.Currencies[i].Name, cexData.Currencies[i].Name)
		}
	}
	if len(dexData.Pairs) != len(cexData.Pairs) || len(dexData.Pairs) != len(cfg.Pairs) {
		return nil, nil, fmt.Errorf("reference data mismatch: %d configured pairs, %d dex pairs, %d cex pairs", len(cfg.Pairs), len(dexData.Pairs), len(cexData.Pairs))
	}

	pairs := make([]types.TradingPair, len(dexData.Pairs))
	for i := range pairs {
		pair := dexData.Pairs[i]
		pair.CEXMarketName = cexData.Pairs[i].CEXMarketName
		pair.PriceIncrement = cexData.Pairs[i].PriceIncrement
		pair.QuantityIncrement = cexData.Pairs[i].QuantityIncrement
		pair.TakerFeeRate = decimal.NewFromInt(cfg.Pairs[i].DEXTakerFeeRateBps).Div(decimal.NewFromInt(10000))
		pairs[i] = pair
	}
	return pairs, dexData.Currencies, nil
}

func buildVenueConfig(cfg config.Config, ks *keystore.Store, dexData types.ReferenceData) (dex.VenueConfig, error) {
	programID, err := types.NewHashFromBase58(cfg.DEX.ProgramID)
	if err != nil {
		return dex.VenueConfig{}, fmt.Errorf("dex program_id: %w", err)
	}
	tokenProgram, err := ks.GetPublicKey("spl_token_program")
	if err != nil {
		return dex.VenueConfig{}, err
	}
	sysvarRent, err := ks.GetPublicKey("sysvar_rent")
	if err != nil {
		return dex.VenueConfig{}, err
	}
	msrmVault := types.ZeroHash
	if cfg.DEX.MsrmOrSrmVault != "" {
		msrmVault, err = types.NewHashFromBase58(cfg.DEX.MsrmOrSrmVault)
		if err != nil {
			return dex.VenueConfig{}, fmt.Errorf("dex msrm_or_srm_vault: %w", err)
		}
	}
	return dex.VenueConfig{
		SerumProgramID: programID,
		TokenProgramID: tokenProgram,
		SysvarRent:     sysvarRent,
		DexSignerKey:   dexData.SignerKey,
		MsrmOrSrmVault: msrmVault,
	}, nil
}

// onDEXBookUpdate satisfies dex.BookCallback.
func (e *Engine) onDEXBookUpdate(update dex.BookUpdate) {
	e.core.OnDEXBookUpdate(update)
}

// onCEXBookUpdate satisfies cex.BookCallback.
func (e *Engine) onCEXBookUpdate(pairIndex int, book *types.Book) {
	e.core.OnCEXBookUpdate(pairIndex, book)
}

// onDEXWalletUpdate satisfies dex.WalletCallback: it snapshots every
// currency's updated DEX-side position to the store before forwarding the
// wallet into the strategy core.
func (e *Engine) onDEXWalletUpdate(wallet *types.Wallet) {
	e.saveWalletSnapshot(wallet, true)
	e.core.OnDEXWalletUpdate(wallet)
}

// onCEXWalletUpdate satisfies cex.WalletCallback.
func (e *Engine) onCEXWalletUpdate(wallet *types.Wallet) {
	e.saveWalletSnapshot(wallet, false)
	e.core.OnCEXWalletUpdate(wallet)
}

func (e *Engine) saveWalletSnapshot(wallet *types.Wallet, isDEX bool) {
	now := time.Now().UnixNano()
	for i, pos := range wallet.Positions {
		if i >= len(e.currencies) {
			continue
		}
		currency := e.currencies[i].Name

		existing, err := e.store.LoadSnapshot(currency)
		if err != nil {
			e.logger.Error("load inventory snapshot", "currency", currency, "error", err)
			continue
		}
		snap := store.InventorySnapshot{Currency: currency, ObservedAtNanos: now}
		if existing != nil {
			snap.DEXPosition = existing.DEXPosition
			snap.CEXPosition = existing.CEXPosition
		}
		if isDEX {
			snap.DEXPosition = pos
		} else {
			snap.CEXPosition = pos
		}
		if err := e.store.SaveSnapshot(snap); err != nil {
			e.logger.Error("save inventory snapshot", "currency", currency, "error", err)
		}
	}
}

// seedInventoryFromStore reads every persisted snapshot and logs it at
// startup. The strategy core starts from zeroed wallets and learns each
// venue's live position from that venue's first wallet update, not from
// this snapshot; book-driven DEX takes are not held back until those
// updates arrive. The snapshot exists purely to give an operator
// visibility into the last-known state across a restart.
func (e *Engine) seedInventoryFromStore() error {
	all, err := e.store.LoadAll()
	if err != nil {
		return err
	}
	for currency, snap := range all {
		e.logger.Info("loaded persisted inventory snapshot",
			"currency", currency,
			"dex_position", snap.DEXPosition.String(),
			"cex_position", snap.CEXPosition.String())
	}
	return nil
}

// Start launches every background goroutine: the DEX WS transport, the
// CEX public/private feeds, the CEX wallet poller, and the strategy
// strand, followed by the DEX subscribe-and-refresh sequence that seeds
// the first book/wallet state.
func (e *Engine) Start() error {
	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		if err := e.dexWSS.Run(e.ctx); err != nil && e.ctx.Err() == nil {
			e.logger.Error("dex rpc transport error", "error", err)
		}
	}()

	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		if err := e.cexPublicFeed.Run(e.ctx); err != nil && e.ctx.Err() == nil {
			e.logger.Error("cex public feed error", "error", err)
		}
	}()

	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		if err := e.cexPrivateFeed.Run(e.ctx); err != nil && e.ctx.Err() == nil {
			e.logger.Error("cex private feed error", "error", err)
		}
	}()

	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		if err := e.cexWallet.Run(e.ctx); err != nil && e.ctx.Err() == nil {
			e.logger.Error("cex wallet poller error", "error", err)
		}
	}()

	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		e.core.Run(e.ctx)
	}()

	if err := e.subscribeSlot(); err != nil {
		return fmt.Errorf("subscribe slot: %w", err)
	}
	if err := e.subscribeDEXAccounts(); err != nil {
		return fmt.Errorf("subscribe dex accounts: %w", err)
	}

	for i := range e.pairs {
		if err := e.dexBook.Refresh(e.ctx, i); err != nil {
			e.logger.Error("initial dex book refresh failed", "pair_index", i, "error", err)
		}
	}
	if err := e.dexWallet.Refresh(e.ctx); err != nil {
		e.logger.Error("initial dex wallet refresh failed", "error", err)
	}

	return nil
}

type slotNotification struct {
	Slot uint64 `json:"slot"`
}

func (e *Engine) subscribeSlot() error {
	_, err := e.subs.Subscribe(e.ctx, "slotSubscribe", nil, func(_ uint64, msg json.RawMessage) {
		var n slotNotification
		if err := json.Unmarshal(msg, &n); err != nil {
			e.logger.Error("malformed slot notification", "error", err)
			return
		}
		e.slots.OnSlot(e.ctx, n.Slot)
	})
	return err
}

// subscribeDEXAccounts subscribes to every account whose change should
// trigger a book or wallet recomputation: each pair's bid/ask/event-queue
// accounts, and the margin account itself.
func (e *Engine) subscribeDEXAccounts() error {
	for i, p := range e.pairs {
		pairIndex := i
		for _, key := range []types.PublicKey{p.Bids, p.Asks, p.EventQueue} {
			if key.IsZero() {
				continue
			}
			params := []any{key.String(), map[string]string{"encoding": "base64", "commitment": "processed"}}
			if _, err := e.subs.Subscribe(e.ctx, "accountSubscribe", params, func(_ uint64, _ json.RawMessage) {
				if err := e.dexBook.Refresh(e.ctx, pairIndex); err != nil {
					e.logger.Error("dex book refresh failed", "pair_index", pairIndex, "error", err)
				}
			}); err != nil {
				return err
			}
		}
	}

	params := []any{e.cfg.DEX.MarginAccount, map[string]string{"encoding": "base64", "commitment": "processed"}}
	_, err := e.subs.Subscribe(e.ctx, "accountSubscribe", params, func(_ uint64, _ json.RawMessage) {
		if err := e.dexWallet.Refresh(e.ctx); err != nil {
			e.logger.Error("dex wallet refresh failed", "error", err)
		}
	})
	return err
}

// Stop cancels every goroutine and closes transports. No safety-net
// cancel-all is issued: both order clients submit IOC orders, which never
// rest on a book, so there is nothing left open to cancel on shutdown.
func (e *Engine) Stop() {
	e.logger.Info("shutting down...")
	e.cancel()
	e.wg.Wait()

	if err := e.dexWSS.Close(); err != nil {
		e.logger.Error("close dex transport", "error", err)
	}
	if err := e.cexPublicFeed.Close(); err != nil {
		e.logger.Error("close cex public feed", "error", err)
	}
	if err := e.cexPrivateFeed.Close(); err != nil {
		e.logger.Error("close cex private feed", "error", err)
	}
	if err := e.store.Close(); err != nil {
		e.logger.Error("close inventory store", "error", err)
	}

	e.logger.Info("shutdown complete")
}
