package dex

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/synthfi-arb/arb/internal/apperr"
	"github.com/synthfi-arb/arb/internal/subscription"
	"github.com/synthfi-arb/arb/internal/txbuilder"
	"github.com/synthfi-arb/arb/pkg/types"
)

// Caller is the subset of rpc.Mux the order client needs.
type Caller interface {
	Call(ctx context.Context, method string, params any, out any) error
}

// Subscriber is the subset of subscription.Manager the order client needs.
type Subscriber interface {
	Subscribe(ctx context.Context, method string, params any, onNotify subscription.OnNotification) (uint64, error)
	Unsubscribe(ctx context.Context, method string, subscriptionID uint64) error
}

// BlockhashSource supplies the latest observed blockhash (§4.5).
type BlockhashSource interface {
	Current() (types.RecentBlockhash, bool)
}

// VenueConfig names the well-known addresses every instruction this
// client builds consults, resolved once at wiring time (analogous to
// keystore's well-known tags).
type VenueConfig struct {
	SerumProgramID types.PublicKey
	TokenProgramID types.PublicKey
	SysvarRent     types.PublicKey
	DexSignerKey   types.PublicKey
	MsrmOrSrmVault types.PublicKey
}

// OrderClient submits and cancels DEX orders: it builds the lot-scaled
// instruction pair (place/cancel + settle), merges their account lists
// into one transaction, signs and submits it, and awaits the signature at
// processed commitment before returning (§4.10).
type OrderClient struct {
	caller    Caller
	subs      Subscriber
	blockhash BlockhashSource
	signer    types.KeyPair
	data      types.ReferenceData
	cfg       VenueConfig
	logger    *slog.Logger
	dryRun    bool
}

// NewOrderClient constructs an OrderClient.
func NewOrderClient(caller Caller, subs Subscriber, blockhash BlockhashSource, signer types.KeyPair, data types.ReferenceData, cfg VenueConfig, logger *slog.Logger, dryRun bool) *OrderClient {
	return &OrderClient{
		caller:    caller,
		subs:      subs,
		blockhash: blockhash,
		signer:    signer,
		data:      data,
		cfg:       cfg,
		logger:    logger.With("component", "dex_order"),
		dryRun:    dryRun,
	}
}

// lotsFloor computes floor(amount * 10^decimals / lotSize) without losing
// precision to floating point.
func lotsFloor(amount decimal.Decimal, decimals int, lotSize int64) uint64 {
	scaled := amount.Shift(int32(decimals))
	lots := scaled.Div(decimal.NewFromInt(lotSize)).Floor()
	if lots.Sign() < 0 {
		return 0
	}
	return uint64(lots.IntPart())
}

func (c *OrderClient) openOrdersBasket() [maxPairs]types.PublicKey {
	var basket [maxPairs]types.PublicKey
	for i, oo := range c.data.OpenOrders {
		if i >= maxPairs {
			break
		}
		basket[i] = oo
	}
	return basket
}

// placeSpotOrderParams assembles the PlaceSpotOrder account graph and
// lot-scaled order parameters for pairIdx, per §4.10.
func (c *OrderClient) placeSpotOrderParams(order *types.Order) (PlaceSpotOrderParams, error) {
	pairIdx := order.PairIndex
	if pairIdx < 0 || pairIdx >= len(c.data.Pairs) {
		return PlaceSpotOrderParams{}, fmt.Errorf("dex order: %w: pair index %d", apperr.ErrInvalidArgument, pairIdx)
	}
	pair := c.data.Pairs[pairIdx]
	baseInfo := c.data.TokenInfos[pair.BaseCurrencyIndex]
	quoteInfo := c.data.TokenInfos[pair.QuoteCurrencyIndex]
	baseDecimals := c.data.Currencies[pair.BaseCurrencyIndex].Decimals
	quoteDecimals := c.data.Currencies[pair.QuoteCurrencyIndex].Decimals

	priceLots := lotsFloor(order.Price, quoteDecimals, pair.QuoteLotSize)
	sizeLots := lotsFloor(order.OriginalQty, baseDecimals, pair.BaseLotSize)

	feeFactor := decimal.NewFromInt(1).Add(pair.TakerFeeRate)
	maxQuoteQty := feeFactor.
		Mul(decimal.NewFromInt(int64(priceLots))).
		Mul(decimal.NewFromInt(int64(sizeLots))).
		Floor()

	return PlaceSpotOrderParams{
		DexProgramID:    c.data.DexProgramID,
		MarginGroup:     c.data.MarginGroup,
		MarginAccount:   c.data.MarginAccount,
		Owner:           c.signer.Public,
		Cache:           c.data.Cache,
		SerumProgramID:  c.cfg.SerumProgramID,
		SpotMarket:      pair.DEXMarketAddress,
		Bids:            pair.Bids,
		Asks:            pair.Asks,
		RequestQueue:    pair.RequestQueue,
		EventQueue:      pair.EventQueue,
		DexBaseVault:    pair.BaseVault,
		DexQuoteVault:   pair.QuoteVault,
		BaseRootBank:    baseInfo.RootBank,
		BaseNodeBank:    baseInfo.NodeBank,
		BaseVault:       baseInfo.Vault,
		QuoteRootBank:   quoteInfo.RootBank,
		QuoteNodeBank:   quoteInfo.NodeBank,
		QuoteVault:      quoteInfo.Vault,
		TokenProgramID:  c.cfg.TokenProgramID,
		SignerKey:       c.data.SignerKey,
		DexSignerKey:    c.cfg.DexSignerKey,
		MsrmOrSrmVault:  c.cfg.MsrmOrSrmVault,
		SysvarRent:      c.cfg.SysvarRent,
		OpenOrders:      c.openOrdersBasket(),
		TargetPairIndex: pairIdx,
		Side:            order.Side,
		PriceLots:       priceLots,
		MaxBaseQtyLots:  sizeLots,
		MaxQuoteQtyIncludingFees: uint64(maxQuoteQty.IntPart()),
		ClientOrderID:   uint64(order.ClientOrderID),
		UseV2:           true,
	}, nil
}

func (c *OrderClient) settleFundsParams(pairIdx int) SettleFundsParams {
	pair := c.data.Pairs[pairIdx]
	baseInfo := c.data.TokenInfos[pair.BaseCurrencyIndex]
	quoteInfo := c.data.TokenInfos[pair.QuoteCurrencyIndex]
	var openOrders types.PublicKey
	if pairIdx < len(c.data.OpenOrders) {
		openOrders = c.data.OpenOrders[pairIdx]
	}
	return SettleFundsParams{
		DexProgramID:   c.data.DexProgramID,
		MarginGroup:    c.data.MarginGroup,
		Cache:          c.data.Cache,
		Owner:          c.signer.Public,
		MarginAccount:  c.data.MarginAccount,
		SerumProgramID: c.cfg.SerumProgramID,
		SpotMarket:     pair.DEXMarketAddress,
		OpenOrders:     openOrders,
		SignerKey:      c.data.SignerKey,
		DexBaseVault:   pair.BaseVault,
		DexQuoteVault:  pair.QuoteVault,
		BaseRootBank:   baseInfo.RootBank,
		BaseNodeBank:   baseInfo.NodeBank,
		QuoteRootBank:  quoteInfo.RootBank,
		QuoteNodeBank:  quoteInfo.NodeBank,
		BaseVault:      baseInfo.Vault,
		QuoteVault:     quoteInfo.Vault,
		DexSignerKey:   c.cfg.DexSignerKey,
		TokenProgramID: c.cfg.TokenProgramID,
	}
}

// mergeInstructions builds one deduplicated account vector across every
// instruction (a real order transaction packs PlaceSpotOrder + SettleFunds,
// which share most of their accounts), OR-ing the signer/writable flags
// across repeated occurrences of the same key. txbuilder's core builder
// performs no such dedup itself (a documented precondition on its caller).
func mergeInstructions(instrs []builtInstruction, recentBlockhash types.Hash) txbuilder.Message {
	index := make(map[types.PublicKey]int)
	var accounts []txbuilder.AccountMeta

	get := func(key types.PublicKey, signer, writable bool) int {
		if idx, ok := index[key]; ok {
			if signer {
				accounts[idx].IsSigner = true
			}
			if writable {
				accounts[idx].IsWritable = true
			}
			return idx
		}
		idx := len(accounts)
		index[key] = idx
		accounts = append(accounts, txbuilder.AccountMeta{Key: key, IsSigner: signer, IsWritable: writable})
		return idx
	}

	txInstrs := make([]txbuilder.Instruction, len(instrs))
	for i, bi := range instrs {
		progIdx := get(bi.ProgramID, false, false)
		accIdxs := make([]int, len(bi.Accounts))
		for j, a := range bi.Accounts {
			accIdxs[j] = get(a.Key, a.IsSigner, a.IsWritable)
		}
		txInstrs[i] = txbuilder.Instruction{ProgramIDIndex: progIdx, Accounts: accIdxs, Data: bi.Data}
	}

	return txbuilder.Message{Accounts: accounts, RecentBlockhash: recentBlockhash, Instructions: txInstrs}
}

func (c *OrderClient) submit(ctx context.Context, msg txbuilder.Message) (string, error) {
	raw, err := txbuilder.Build(msg, []types.KeyPair{c.signer})
	if err != nil {
		return "", fmt.Errorf("dex order: build transaction: %w", err)
	}
	encoded := base64.StdEncoding.EncodeToString(raw)

	if c.dryRun {
		c.logger.Info("DRY-RUN: would submit transaction", "bytes", len(raw))
		return "", nil
	}

	var signature string
	params := []any{encoded, map[string]string{"encoding": "base64"}}
	if err := c.caller.Call(ctx, "sendTransaction", params, &signature); err != nil {
		return "", fmt.Errorf("dex order: sendTransaction: %w", err)
	}
	return signature, nil
}

// signatureStatus is the notification payload of signatureSubscribe.
type signatureStatus struct {
	Value struct {
		Err json.RawMessage `json:"err"`
	} `json:"value"`
}

// awaitSignature subscribes to signature at processed commitment and
// blocks until the first notification fires or ctx is cancelled.
func (c *OrderClient) awaitSignature(ctx context.Context, signature string) error {
	if signature == "" {
		return nil
	}

	var once sync.Once
	resultCh := make(chan error, 1)

	subID, err := c.subs.Subscribe(ctx, "signatureSubscribe",
		[]any{signature, map[string]string{"commitment": "processed"}},
		func(_ uint64, msg json.RawMessage) {
			var status signatureStatus
			err := json.Unmarshal(msg, &status)
			once.Do(func() {
				if err != nil {
					resultCh <- fmt.Errorf("dex order: decode signature notification: %w", err)
					return
				}
				if len(status.Value.Err) > 0 && string(status.Value.Err) != "null" {
					resultCh <- fmt.Errorf("dex order: transaction %s failed: %s", signature, status.Value.Err)
					return
				}
				resultCh <- nil
			})
		})
	if err != nil {
		return fmt.Errorf("dex order: subscribe signature %s: %w", signature, err)
	}
	defer func() {
		if err := c.subs.Unsubscribe(context.Background(), "signatureUnsubscribe", subID); err != nil {
			c.logger.Warn("dex order: unsubscribe signature failed", "signature", signature, "error", err)
		}
	}()

	select {
	case err := <-resultCh:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// SendOrder builds a PlaceSpotOrder2 + SettleFunds transaction, submits
// it, and awaits the signature at processed commitment (§4.10). The
// caller's wallet subscription drives subsequent fill accounting; this
// call only confirms the transaction landed.
func (c *OrderClient) SendOrder(ctx context.Context, order *types.Order) (*types.Order, error) {
	order.ClientOrderID = time.Now().UnixNano()
	order.State = types.OrderStateNew

	params, err := c.placeSpotOrderParams(order)
	if err != nil {
		return nil, err
	}

	bh, ok := c.blockhash.Current()
	if !ok {
		return nil, fmt.Errorf("dex order: %w: no blockhash observed yet", apperr.ErrPreconditionFailed)
	}

	placeIx := BuildPlaceSpotOrder(params)
	settleIx := BuildSettleFunds(c.settleFundsParams(order.PairIndex))
	msg := mergeInstructions([]builtInstruction{placeIx, settleIx}, bh.Hash)

	signature, err := c.submit(ctx, msg)
	if err != nil {
		return nil, err
	}
	order.State = types.OrderStateOpen

	if err := c.awaitSignature(ctx, signature); err != nil {
		return order, err
	}
	order.OrderID = signature
	order.State = types.OrderStateClosed
	return order, nil
}

// CancelOrder assembles a CancelSpotOrder + SettleFunds transaction using
// the same account graph, submits it, and awaits confirmation.
func (c *OrderClient) CancelOrder(ctx context.Context, order *types.Order, sequenceNumber uint64) error {
	pairIdx := order.PairIndex
	if pairIdx < 0 || pairIdx >= len(c.data.Pairs) {
		return fmt.Errorf("dex order: %w: pair index %d", apperr.ErrInvalidArgument, pairIdx)
	}
	pair := c.data.Pairs[pairIdx]
	quoteDecimals := c.data.Currencies[pair.QuoteCurrencyIndex].Decimals
	priceLots := lotsFloor(order.Price, quoteDecimals, pair.QuoteLotSize)

	var openOrders types.PublicKey
	if pairIdx < len(c.data.OpenOrders) {
		openOrders = c.data.OpenOrders[pairIdx]
	}

	cancelIx := BuildCancelSpotOrder(CancelSpotOrderParams{
		DexProgramID:   c.cfg.SerumProgramID,
		SpotMarket:     pair.DEXMarketAddress,
		Bids:           pair.Bids,
		Asks:           pair.Asks,
		OpenOrders:     openOrders,
		Owner:          c.signer.Public,
		EventQueue:     pair.EventQueue,
		Side:           order.Side,
		SequenceNumber: sequenceNumber,
		PriceLots:      priceLots,
	})
	settleIx := BuildSettleFunds(c.settleFundsParams(pairIdx))

	bh, ok := c.blockhash.Current()
	if !ok {
		return fmt.Errorf("dex order: %w: no blockhash observed yet", apperr.ErrPreconditionFailed)
	}
	msg := mergeInstructions([]builtInstruction{cancelIx, settleIx}, bh.Hash)

	signature, err := c.submit(ctx, msg)
	if err != nil {
		return err
	}
	return c.awaitSignature(ctx, signature)
}
