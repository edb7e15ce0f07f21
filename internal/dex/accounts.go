package dex

import (
	"fmt"

	"github.com/synthfi-arb/arb/pkg/types"
)

// Margin-group sizing constants (§6.3), mirrored from the reference
// program's fixed-size arrays.
const (
	maxTokens          = 16
	maxPairs           = maxTokens - 1
	quoteCurrencyIndex = maxTokens - 1
	maxNodeBanks       = 8
)

// TokenInfo names the mint and root bank backing one margin-group token
// slot.
type TokenInfo struct {
	MintAddress     types.PublicKey
	RootBankAddress types.PublicKey
	Decimals        uint8
}

func (r *reader) tokenInfo() (TokenInfo, error) {
	mint, err := r.pubkey()
	if err != nil {
		return TokenInfo{}, err
	}
	rootBank, err := r.pubkey()
	if err != nil {
		return TokenInfo{}, err
	}
	decimals, err := r.u8()
	if err != nil {
		return TokenInfo{}, err
	}
	if err := r.skip(7); err != nil {
		return TokenInfo{}, err
	}
	return TokenInfo{MintAddress: mint, RootBankAddress: rootBank, Decimals: decimals}, nil
}

// SpotMarketInfo carries the per-pair risk weights used by the wallet's
// health calculation (§4.11).
type SpotMarketInfo struct {
	SpotMarketAddress          types.PublicKey
	MaintenanceAssetWeight     Aligned128
	InitialAssetWeight         Aligned128
	MaintenanceLiabilityWeight Aligned128
	InitialLiabilityWeight     Aligned128
	LiquidationFee             Aligned128
}

func (r *reader) spotMarketInfo() (SpotMarketInfo, error) {
	addr, err := r.pubkey()
	if err != nil {
		return SpotMarketInfo{}, err
	}
	var info SpotMarketInfo
	info.SpotMarketAddress = addr
	fields := []*Aligned128{
		&info.MaintenanceAssetWeight,
		&info.InitialAssetWeight,
		&info.MaintenanceLiabilityWeight,
		&info.InitialLiabilityWeight,
		&info.LiquidationFee,
	}
	for _, f := range fields {
		v, err := r.aligned128()
		if err != nil {
			return SpotMarketInfo{}, err
		}
		*f = v
	}
	return info, nil
}

// MarginGroup is the decoded form of a margin-group account: the per-token
// and per-pair reference data shared by every margin account in the group.
type MarginGroup struct {
	Tokens       [maxTokens]TokenInfo
	SpotMarkets  [maxPairs]SpotMarketInfo
	Oracles      [maxPairs]types.PublicKey
	SignerKey    types.PublicKey
	Admin        types.PublicKey
	DexProgramID types.PublicKey
	Cache        types.PublicKey
}

// DecodeMarginGroup decodes the fixed-order prefix of a margin-group
// account: metadata, token table, spot-market risk table, oracle table,
// and the signer/admin/dex-program/cache addresses that follow them.
func DecodeMarginGroup(data []byte) (MarginGroup, error) {
	r := newReader(data)
	// metadata (8 bytes) + numOracles (8 bytes)
	if err := r.skip(16); err != nil {
		return MarginGroup{}, err
	}

	var g MarginGroup
	for i := range g.Tokens {
		tok, err := r.tokenInfo()
		if err != nil {
			return MarginGroup{}, fmt.Errorf("dex accounts: margin group token %d: %w", i, err)
		}
		g.Tokens[i] = tok
	}
	for i := range g.SpotMarkets {
		m, err := r.spotMarketInfo()
		if err != nil {
			return MarginGroup{}, fmt.Errorf("dex accounts: margin group spot market %d: %w", i, err)
		}
		g.SpotMarkets[i] = m
	}
	// perpMarkets: maxPairs entries of 160 bytes each, not used by the
	// spot-only take/hedge strategy.
	if err := r.skip(maxPairs * 160); err != nil {
		return MarginGroup{}, err
	}
	for i := range g.Oracles {
		pk, err := r.pubkey()
		if err != nil {
			return MarginGroup{}, err
		}
		g.Oracles[i] = pk
	}
	if err := r.skip(8); err != nil { // signerNonce
		return MarginGroup{}, err
	}
	var err error
	if g.SignerKey, err = r.pubkey(); err != nil {
		return MarginGroup{}, err
	}
	if g.Admin, err = r.pubkey(); err != nil {
		return MarginGroup{}, err
	}
	if g.DexProgramID, err = r.pubkey(); err != nil {
		return MarginGroup{}, err
	}
	if g.Cache, err = r.pubkey(); err != nil {
		return MarginGroup{}, err
	}
	return g, nil
}

// PriceCache is one oracle price snapshot inside the cache account.
type PriceCache struct {
	Price      Aligned128
	LastUpdate uint64
}

// RootBankCache is one token's deposit/borrow index snapshot inside the
// cache account.
type RootBankCache struct {
	DepositIndex Aligned128
	BorrowIndex  Aligned128
	LastUpdate   uint64
}

// Cache is the decoded form of the cache account: the oracle prices and
// interest-rate indices consulted by the wallet's health calculation.
type Cache struct {
	PriceCaches    [maxPairs]PriceCache
	RootBankCaches [maxTokens]RootBankCache
}

// DecodeCache decodes a cache account's price and root-bank snapshots.
// The perp-market funding cache that follows is not consulted by the
// spot-only take/hedge strategy and is left undecoded.
func DecodeCache(data []byte) (Cache, error) {
	r := newReader(data)
	if err := r.skip(8); err != nil { // metadata
		return Cache{}, err
	}
	var c Cache
	for i := range c.PriceCaches {
		price, err := r.aligned128()
		if err != nil {
			return Cache{}, err
		}
		last, err := r.u64()
		if err != nil {
			return Cache{}, err
		}
		c.PriceCaches[i] = PriceCache{Price: price, LastUpdate: last}
	}
	for i := range c.RootBankCaches {
		deposit, err := r.aligned128()
		if err != nil {
			return Cache{}, err
		}
		borrow, err := r.aligned128()
		if err != nil {
			return Cache{}, err
		}
		last, err := r.u64()
		if err != nil {
			return Cache{}, err
		}
		c.RootBankCaches[i] = RootBankCache{DepositIndex: deposit, BorrowIndex: borrow, LastUpdate: last}
	}
	return c, nil
}

// RootBank is the decoded form of a root-bank account: the group-wide
// deposit/borrow indices and the node banks backing one token.
type RootBank struct {
	DepositIndex Aligned128
	BorrowIndex  Aligned128
	NumNodeBanks uint64
	NodeBanks    [maxNodeBanks]types.PublicKey
}

// DecodeRootBank decodes a root-bank account.
func DecodeRootBank(data []byte) (RootBank, error) {
	r := newReader(data)
	if err := r.skip(8); err != nil { // metadata
		return RootBank{}, err
	}
	if err := r.skip(16 * 3); err != nil { // optimalUtilization, optimalRate, maximumRate
		return RootBank{}, err
	}
	var rb RootBank
	var err error
	if rb.NumNodeBanks, err = r.u64(); err != nil {
		return RootBank{}, err
	}
	for i := range rb.NodeBanks {
		if rb.NodeBanks[i], err = r.pubkey(); err != nil {
			return RootBank{}, err
		}
	}
	if rb.DepositIndex, err = r.aligned128(); err != nil {
		return RootBank{}, err
	}
	if rb.BorrowIndex, err = r.aligned128(); err != nil {
		return RootBank{}, err
	}
	return rb, nil
}

// NodeBank is the decoded form of a node-bank account: one vault's share
// of a root bank's deposits and borrows.
type NodeBank struct {
	Deposits    Aligned128
	Borrows     Aligned128
	VaultAddress types.PublicKey
}

// DecodeNodeBank decodes a node-bank account.
func DecodeNodeBank(data []byte) (NodeBank, error) {
	r := newReader(data)
	if err := r.skip(8); err != nil { // metadata
		return NodeBank{}, err
	}
	var nb NodeBank
	var err error
	if nb.Deposits, err = r.aligned128(); err != nil {
		return NodeBank{}, err
	}
	if nb.Borrows, err = r.aligned128(); err != nil {
		return NodeBank{}, err
	}
	if nb.VaultAddress, err = r.pubkey(); err != nil {
		return NodeBank{}, err
	}
	return nb, nil
}

// MarginAccount is the decoded form of a margin account: one trader's
// deposits, borrows, and open-orders basket within a margin group.
type MarginAccount struct {
	MarginGroupAddress  types.PublicKey
	Owner               types.PublicKey
	InMarginBasket      [maxPairs]bool
	NumInMarginBasket   uint8
	Deposits            [maxTokens]Aligned128
	Borrows             [maxTokens]Aligned128
	OpenOrdersAddresses [maxPairs]types.PublicKey
}

// DecodeMarginAccount decodes a margin account's deposit/borrow/open-orders
// state. Perp-specific fields that follow in the source layout are not
// consulted by the spot-only take/hedge strategy and are left undecoded.
func DecodeMarginAccount(data []byte) (MarginAccount, error) {
	r := newReader(data)
	if err := r.skip(8); err != nil { // metadata
		return MarginAccount{}, err
	}
	var m MarginAccount
	var err error
	if m.MarginGroupAddress, err = r.pubkey(); err != nil {
		return MarginAccount{}, err
	}
	if m.Owner, err = r.pubkey(); err != nil {
		return MarginAccount{}, err
	}
	for i := range m.InMarginBasket {
		b, err := r.u8()
		if err != nil {
			return MarginAccount{}, err
		}
		m.InMarginBasket[i] = b != 0
	}
	if m.NumInMarginBasket, err = r.u8(); err != nil {
		return MarginAccount{}, err
	}
	for i := range m.Deposits {
		if m.Deposits[i], err = r.aligned128(); err != nil {
			return MarginAccount{}, err
		}
	}
	for i := range m.Borrows {
		if m.Borrows[i], err = r.aligned128(); err != nil {
			return MarginAccount{}, err
		}
	}
	for i := range m.OpenOrdersAddresses {
		if m.OpenOrdersAddresses[i], err = r.pubkey(); err != nil {
			return MarginAccount{}, err
		}
	}
	return m, nil
}
