package dex

import (
	"encoding/binary"

	"github.com/synthfi-arb/arb/internal/txbuilder"
	"github.com/synthfi-arb/arb/pkg/types"
)

// Mango-style instruction opcodes (§6.3, MangoInstruction.hpp).
const (
	opPlaceSpotOrder  uint32 = 9
	opSettleFunds     uint32 = 19
	opCancelSpotOrder uint32 = 20
	opPlaceSpotOrder2 uint32 = 41
)

func sideCode(side types.Side) uint32 {
	if side == types.SideBid {
		return 0
	}
	return 1
}

// builtInstruction is a decoded (not-yet-globally-indexed) instruction: the
// program that owns it, its accounts in the documented local order, and its
// opaque instruction data.
type builtInstruction struct {
	ProgramID types.PublicKey
	Accounts  []txbuilder.AccountMeta
	Data      []byte
}

// PlaceSpotOrderParams names every account consulted by PlaceSpotOrder /
// PlaceSpotOrder2 (§6.3), plus the scaled order parameters.
type PlaceSpotOrderParams struct {
	DexProgramID   types.PublicKey
	MarginGroup    types.PublicKey
	MarginAccount  types.PublicKey
	Owner          types.PublicKey
	Cache          types.PublicKey
	SerumProgramID types.PublicKey
	SpotMarket     types.PublicKey
	Bids           types.PublicKey
	Asks           types.PublicKey
	RequestQueue   types.PublicKey
	EventQueue     types.PublicKey
	DexBaseVault   types.PublicKey
	DexQuoteVault  types.PublicKey
	BaseRootBank   types.PublicKey
	BaseNodeBank   types.PublicKey
	BaseVault      types.PublicKey
	QuoteRootBank  types.PublicKey
	QuoteNodeBank  types.PublicKey
	QuoteVault     types.PublicKey
	TokenProgramID types.PublicKey
	SignerKey      types.PublicKey
	DexSignerKey   types.PublicKey
	MsrmOrSrmVault types.PublicKey
	SysvarRent     types.PublicKey // only consulted when UseV2 is false
	OpenOrders     [maxPairs]types.PublicKey // every in-basket pair's open-orders address, zero key elsewhere
	TargetPairIndex int                      // index into OpenOrders that must be writable

	Side                     types.Side
	PriceLots                uint64
	MaxBaseQtyLots           uint64
	MaxQuoteQtyIncludingFees uint64
	ClientOrderID            uint64

	// UseV2 selects PlaceSpotOrder2 (opcode 41), which drops the rent
	// sysvar account carried by the original PlaceSpotOrder instruction.
	UseV2 bool
}

// BuildPlaceSpotOrder assembles a PlaceSpotOrder/PlaceSpotOrder2 instruction
// with its fixed 22-account prefix (23 for the v1 form, which still carries
// the now-unused rent sysvar) followed by the full open-orders basket.
func BuildPlaceSpotOrder(p PlaceSpotOrderParams) builtInstruction {
	accounts := []txbuilder.AccountMeta{
		{Key: p.MarginGroup, IsSigner: false, IsWritable: false},
		{Key: p.MarginAccount, IsSigner: false, IsWritable: true},
		{Key: p.Owner, IsSigner: true, IsWritable: false},
		{Key: p.Cache, IsSigner: false, IsWritable: false},
		{Key: p.SerumProgramID, IsSigner: false, IsWritable: false},
		{Key: p.SpotMarket, IsSigner: false, IsWritable: true},
		{Key: p.Bids, IsSigner: false, IsWritable: true},
		{Key: p.Asks, IsSigner: false, IsWritable: true},
		{Key: p.RequestQueue, IsSigner: false, IsWritable: true},
		{Key: p.EventQueue, IsSigner: false, IsWritable: true},
		{Key: p.DexBaseVault, IsSigner: false, IsWritable: true},
		{Key: p.DexQuoteVault, IsSigner: false, IsWritable: true},
		{Key: p.BaseRootBank, IsSigner: false, IsWritable: false},
		{Key: p.BaseNodeBank, IsSigner: false, IsWritable: true},
		{Key: p.BaseVault, IsSigner: false, IsWritable: true},
		{Key: p.QuoteRootBank, IsSigner: false, IsWritable: false},
		{Key: p.QuoteNodeBank, IsSigner: false, IsWritable: true},
		{Key: p.QuoteVault, IsSigner: false, IsWritable: true},
		{Key: p.TokenProgramID, IsSigner: false, IsWritable: false},
		{Key: p.SignerKey, IsSigner: false, IsWritable: false},
	}
	if !p.UseV2 {
		accounts = append(accounts, txbuilder.AccountMeta{Key: p.SysvarRent, IsSigner: false, IsWritable: false})
	}
	accounts = append(accounts,
		txbuilder.AccountMeta{Key: p.DexSignerKey, IsSigner: false, IsWritable: false},
		txbuilder.AccountMeta{Key: p.MsrmOrSrmVault, IsSigner: false, IsWritable: false},
	)
	for i, oo := range p.OpenOrders {
		accounts = append(accounts, txbuilder.AccountMeta{Key: oo, IsSigner: false, IsWritable: i == p.TargetPairIndex})
	}

	op := opPlaceSpotOrder
	if p.UseV2 {
		op = opPlaceSpotOrder2
	}
	data := make([]byte, 0, 4+4+8+8+8+4+4+8+2)
	data = appendU32(data, op)
	data = appendU32(data, sideCode(p.Side))
	data = appendU64(data, p.PriceLots)
	data = appendU64(data, p.MaxBaseQtyLots)
	data = appendU64(data, p.MaxQuoteQtyIncludingFees)
	data = appendU32(data, 0) // self_trade_behavior: decrement-take
	data = appendU32(data, 0) // order_type: limit
	data = appendU64(data, p.ClientOrderID)
	data = appendU16(data, 65535) // limit: max iterations

	return builtInstruction{ProgramID: p.DexProgramID, Accounts: accounts, Data: data}
}

// SettleFundsParams names the 18 accounts consulted by SettleFunds (§6.3).
type SettleFundsParams struct {
	DexProgramID  types.PublicKey
	MarginGroup   types.PublicKey
	Cache         types.PublicKey
	Owner         types.PublicKey
	MarginAccount types.PublicKey

	SerumProgramID types.PublicKey
	SpotMarket     types.PublicKey
	OpenOrders     types.PublicKey
	SignerKey      types.PublicKey
	DexBaseVault   types.PublicKey
	DexQuoteVault  types.PublicKey
	BaseRootBank   types.PublicKey
	BaseNodeBank   types.PublicKey
	QuoteRootBank  types.PublicKey
	QuoteNodeBank  types.PublicKey
	BaseVault      types.PublicKey
	QuoteVault     types.PublicKey
	DexSignerKey   types.PublicKey
	TokenProgramID types.PublicKey
}

// BuildSettleFunds assembles a SettleFunds instruction.
func BuildSettleFunds(p SettleFundsParams) builtInstruction {
	accounts := []txbuilder.AccountMeta{
		{Key: p.MarginGroup, IsSigner: false, IsWritable: false},
		{Key: p.Cache, IsSigner: false, IsWritable: false},
		{Key: p.Owner, IsSigner: true, IsWritable: false},
		{Key: p.MarginAccount, IsSigner: false, IsWritable: true},
		{Key: p.SerumProgramID, IsSigner: false, IsWritable: false},
		{Key: p.SpotMarket, IsSigner: false, IsWritable: true},
		{Key: p.OpenOrders, IsSigner: false, IsWritable: true},
		{Key: p.SignerKey, IsSigner: false, IsWritable: false},
		{Key: p.DexBaseVault, IsSigner: false, IsWritable: true},
		{Key: p.DexQuoteVault, IsSigner: false, IsWritable: true},
		{Key: p.BaseRootBank, IsSigner: false, IsWritable: false},
		{Key: p.BaseNodeBank, IsSigner: false, IsWritable: true},
		{Key: p.QuoteRootBank, IsSigner: false, IsWritable: false},
		{Key: p.QuoteNodeBank, IsSigner: false, IsWritable: true},
		{Key: p.BaseVault, IsSigner: false, IsWritable: true},
		{Key: p.QuoteVault, IsSigner: false, IsWritable: true},
		{Key: p.DexSignerKey, IsSigner: false, IsWritable: false},
		{Key: p.TokenProgramID, IsSigner: false, IsWritable: false},
	}
	data := appendU32(nil, opSettleFunds)
	return builtInstruction{ProgramID: p.DexProgramID, Accounts: accounts, Data: data}
}

// CancelSpotOrderParams names the 6 accounts consulted by CancelSpotOrder
// (§6.3).
type CancelSpotOrderParams struct {
	DexProgramID  types.PublicKey
	SpotMarket    types.PublicKey
	Bids          types.PublicKey
	Asks          types.PublicKey
	OpenOrders    types.PublicKey
	Owner         types.PublicKey
	EventQueue    types.PublicKey
	Side          types.Side
	SequenceNumber uint64
	PriceLots     uint64
}

// BuildCancelSpotOrder assembles a CancelSpotOrder instruction.
func BuildCancelSpotOrder(p CancelSpotOrderParams) builtInstruction {
	accounts := []txbuilder.AccountMeta{
		{Key: p.SpotMarket, IsSigner: false, IsWritable: true},
		{Key: p.Bids, IsSigner: false, IsWritable: true},
		{Key: p.Asks, IsSigner: false, IsWritable: true},
		{Key: p.OpenOrders, IsSigner: false, IsWritable: true},
		{Key: p.Owner, IsSigner: true, IsWritable: false},
		{Key: p.EventQueue, IsSigner: false, IsWritable: true},
	}
	data := appendU32(nil, opCancelSpotOrder)
	data = appendU32(data, sideCode(p.Side))
	data = appendU64(data, p.SequenceNumber)
	data = appendU64(data, p.PriceLots)
	return builtInstruction{ProgramID: p.DexProgramID, Accounts: accounts, Data: data}
}

func appendU32(b []byte, v uint32) []byte {
	var buf [4]byte
	binary.LittleEndian.PutUint32(buf[:], v)
	return append(b, buf[:]...)
}

func appendU64(b []byte, v uint64) []byte {
	var buf [8]byte
	binary.LittleEndian.PutUint64(buf[:], v)
	return append(b, buf[:]...)
}

func appendU16(b []byte, v uint16) []byte {
	var buf [2]byte
	binary.LittleEndian.PutUint16(buf[:], v)
	return append(b, buf[:]...)
}
