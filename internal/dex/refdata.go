package dex

import (
	"context"
	"fmt"

	"github.com/synthfi-arb/arb/internal/accountbatch"
	"github.com/synthfi-arb/arb/pkg/types"
)

// PairConfig is one statically configured market: the addresses an
// operator supplies up front (program, market account, mints) before any
// on-chain account has been fetched.
type PairConfig struct {
	Base, Quote    string
	BaseMint       types.PublicKey
	QuoteMint      types.PublicKey
	MarketAddress  types.PublicKey
	BaseDecimals   int
	QuoteDecimals  int
}

// RefDataSource loads the DEX reference catalog: per-pair spot-market
// accounts, the margin group/account, and every open-orders address in the
// trader's basket, batched through accountbatch (§4.6).
type RefDataSource struct {
	batcher       *accountbatch.Batcher
	pairs         []PairConfig
	marginAccount types.PublicKey
	marginGroup   types.PublicKey
	dexProgramID  types.PublicKey
}

// NewRefDataSource constructs a loader for the configured pairs and the
// trader's margin account.
func NewRefDataSource(batcher *accountbatch.Batcher, pairs []PairConfig, marginAccount types.PublicKey) *RefDataSource {
	return &RefDataSource{batcher: batcher, pairs: pairs, marginAccount: marginAccount}
}

// Load fetches every spot-market account (for lot sizes and queue/vault
// addresses), the margin account (for its owner's open-orders basket and
// the margin-group address), and derives each pair's per-market fields.
func (s *RefDataSource) Load(ctx context.Context) (types.ReferenceData, error) {
	marketKeys := make([]types.PublicKey, len(s.pairs))
	for i, p := range s.pairs {
		marketKeys[i] = p.MarketAddress
	}

	marketInfos, err := s.batcher.GetMultipleAccounts(ctx, append([]types.PublicKey{s.marginAccount}, marketKeys...))
	if err != nil {
		return types.ReferenceData{}, fmt.Errorf("dex refdata: fetch accounts: %w", err)
	}
	if len(marketInfos) == 0 || marketInfos[0] == nil || marketInfos[0].Data == nil {
		return types.ReferenceData{}, fmt.Errorf("dex refdata: margin account %s not found", s.marginAccount)
	}

	marginAcct, err := DecodeMarginAccount(marketInfos[0].Data)
	if err != nil {
		return types.ReferenceData{}, fmt.Errorf("dex refdata: decode margin account: %w", err)
	}
	s.marginGroup = marginAcct.MarginGroupAddress

	groupInfos, err := s.batcher.GetMultipleAccounts(ctx, []types.PublicKey{s.marginGroup})
	if err != nil {
		return types.ReferenceData{}, fmt.Errorf("dex refdata: fetch margin group: %w", err)
	}
	if groupInfos[0] == nil || groupInfos[0].Data == nil {
		return types.ReferenceData{}, fmt.Errorf("dex refdata: margin group %s not found", s.marginGroup)
	}
	group, err := DecodeMarginGroup(groupInfos[0].Data)
	if err != nil {
		return types.ReferenceData{}, fmt.Errorf("dex refdata: decode margin group: %w", err)
	}

	currencyIndex := make(map[string]int)
	var currencies []types.Currency
	indexOf := func(name, mintOrSymbol string, decimals int) int {
		if idx, ok := currencyIndex[name]; ok {
			return idx
		}
		idx := len(currencies)
		currencyIndex[name] = idx
		currencies = append(currencies, types.Currency{Name: name, MintOrSymbol: mintOrSymbol, Decimals: decimals, VenueIndex: idx})
		return idx
	}

	pairs := make([]types.TradingPair, len(s.pairs))
	openOrders := make([]types.PublicKey, len(s.pairs))
	for i, cfg := range s.pairs {
		info := marketInfos[i+1]
		if info == nil || info.Data == nil {
			return types.ReferenceData{}, fmt.Errorf("dex refdata: spot market %s not found", cfg.MarketAddress)
		}
		market, err := DecodeSpotMarket(info.Data)
		if err != nil {
			return types.ReferenceData{}, fmt.Errorf("dex refdata: decode spot market %s: %w", cfg.MarketAddress, err)
		}

		baseIdx := indexOf(cfg.Base, cfg.BaseMint.String(), cfg.BaseDecimals)
		quoteIdx := indexOf(cfg.Quote, cfg.QuoteMint.String(), cfg.QuoteDecimals)

		pairs[i] = types.TradingPair{
			BaseCurrencyIndex:  baseIdx,
			QuoteCurrencyIndex: quoteIdx,
			DEXMarketAddress:   cfg.MarketAddress,
			BaseLotSize:        int64(market.BaseLotSize),
			QuoteLotSize:       int64(market.QuoteLotSize),
			FeeRateBps:         int64(market.FeeRateBasisPoints),
			RequestQueue:       market.RequestQueue,
			EventQueue:         market.EventQueue,
			Bids:               market.Bids,
			Asks:               market.Asks,
			BaseVault:          market.BaseVault,
			QuoteVault:         market.QuoteVault,
		}
		if i < len(marginAcct.OpenOrdersAddresses) {
			openOrders[i] = marginAcct.OpenOrdersAddresses[i]
		}
	}

	// Currency venue indices are assumed to line up with the reference
	// program's fixed token-slot ordering, same assumption as the wallet's
	// health calculation.
	tokenInfos := make([]types.TokenInfo, len(currencies))
	for i := range tokenInfos {
		tokenInfos[i] = types.TokenInfo{CurrencyIndex: i}
		if i < maxTokens {
			tokenInfos[i].RootBank = group.Tokens[i].RootBankAddress
		}
	}

	if err := s.resolveNodeBanks(ctx, tokenInfos); err != nil {
		return types.ReferenceData{}, err
	}

	return types.ReferenceData{
		Currencies:    currencies,
		Pairs:         pairs,
		MarginAccount: s.marginAccount,
		MarginGroup:   s.marginGroup,
		Cache:         group.Cache,
		DexProgramID:  group.DexProgramID,
		SignerKey:     group.SignerKey,
		OpenOrders:    openOrders,
		TokenInfos:    tokenInfos,
	}, nil
}

// resolveNodeBanks fetches each distinct root-bank account referenced by
// tokenInfos, takes its first node bank, fetches that account, and fills
// in NodeBank/Vault in place. Root banks carry up to 8 node banks (§6.3);
// this engine only ever deposits into the first, matching the reference
// trader's single-node-bank-per-token configuration.
func (s *RefDataSource) resolveNodeBanks(ctx context.Context, tokenInfos []types.TokenInfo) error {
	var rootBankKeys []types.PublicKey
	rootBankOwner := make(map[types.PublicKey][]int)
	for i, ti := range tokenInfos {
		if ti.RootBank.IsZero() {
			continue
		}
		if _, seen := rootBankOwner[ti.RootBank]; !seen {
			rootBankKeys = append(rootBankKeys, ti.RootBank)
		}
		rootBankOwner[ti.RootBank] = append(rootBankOwner[ti.RootBank], i)
	}
	if len(rootBankKeys) == 0 {
		return nil
	}

	rootBankInfos, err := s.batcher.GetMultipleAccounts(ctx, rootBankKeys)
	if err != nil {
		return fmt.Errorf("dex refdata: fetch root banks: %w", err)
	}

	var nodeBankKeys []types.PublicKey
	nodeBankOwner := make(map[types.PublicKey][]int)
	for i, key := range rootBankKeys {
		if rootBankInfos[i] == nil || rootBankInfos[i].Data == nil {
			return fmt.Errorf("dex refdata: root bank %s not found", key)
		}
		rootBank, err := DecodeRootBank(rootBankInfos[i].Data)
		if err != nil {
			return fmt.Errorf("dex refdata: decode root bank %s: %w", key, err)
		}
		if rootBank.NumNodeBanks == 0 {
			continue
		}
		nodeBank := rootBank.NodeBanks[0]
		for _, tokenIdx := range rootBankOwner[key] {
			tokenInfos[tokenIdx].NodeBank = nodeBank
		}
		if _, seen := nodeBankOwner[nodeBank]; !seen {
			nodeBankKeys = append(nodeBankKeys, nodeBank)
		}
		nodeBankOwner[nodeBank] = append(nodeBankOwner[nodeBank], rootBankOwner[key]...)
	}
	if len(nodeBankKeys) == 0 {
		return nil
	}

	nodeBankInfos, err := s.batcher.GetMultipleAccounts(ctx, nodeBankKeys)
	if err != nil {
		return fmt.Errorf("dex refdata: fetch node banks: %w", err)
	}
	for i, key := range nodeBankKeys {
		if nodeBankInfos[i] == nil || nodeBankInfos[i].Data == nil {
			return fmt.Errorf("dex refdata: node bank %s not found", key)
		}
		nodeBank, err := DecodeNodeBank(nodeBankInfos[i].Data)
		if err != nil {
			return fmt.Errorf("dex refdata: decode node bank %s: %w", key, err)
		}
		for _, tokenIdx := range nodeBankOwner[key] {
			tokenInfos[tokenIdx].Vault = nodeBank.VaultAddress
		}
	}
	return nil
}
