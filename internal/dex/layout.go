// Package dex implements the on-chain order-book venue: binary account
// layouts (§6.3), slab/event-queue traversal (§4.7.2), reference-data
// loading, wallet health calculation (§4.11), and instruction building
// (§4.10).
package dex

import (
	"encoding/binary"
	"fmt"
	"math/big"

	"github.com/shopspring/decimal"
	"github.com/synthfi-arb/arb/pkg/types"
)

// scaleFactor is 2^48, the fixed-point scale applied to 128-bit price and
// weight fields (§6.3).
var scaleFactor = new(big.Int).Lsh(big.NewInt(1), 48)

// marketBeginPadding and marketEndPadding bracket the spot-market account
// payload.
var (
	marketBeginPadding = []byte("serum")
	marketEndPadding   = []byte("padding")
)

// SpotMarket is the decoded form of a spot-market account (§6.3).
type SpotMarket struct {
	AccountFlags           uint64
	Owner                  types.PublicKey
	VaultSignerNonce       uint64
	BaseMint               types.PublicKey
	QuoteMint              types.PublicKey
	BaseVault              types.PublicKey
	BaseDepositsTotal      uint64
	BaseFeesAccrued        uint64
	QuoteVault             types.PublicKey
	QuoteDepositsTotal     uint64
	QuoteFeesAccrued       uint64
	QuoteDustThreshold     uint64
	RequestQueue           types.PublicKey
	EventQueue             types.PublicKey
	Bids                   types.PublicKey
	Asks                   types.PublicKey
	BaseLotSize            uint64
	QuoteLotSize           uint64
	FeeRateBasisPoints     uint64
	ReferrerRebatesAccrued uint64
}

type reader struct {
	buf []byte
	pos int
}

func newReader(buf []byte) *reader { return &reader{buf: buf} }

func (r *reader) u64() (uint64, error) {
	if r.pos+8 > len(r.buf) {
		return 0, fmt.Errorf("dex layout: truncated buffer reading u64 at offset %d", r.pos)
	}
	v := binary.LittleEndian.Uint64(r.buf[r.pos:])
	r.pos += 8
	return v, nil
}

func (r *reader) u8() (uint8, error) {
	if r.pos+1 > len(r.buf) {
		return 0, fmt.Errorf("dex layout: truncated buffer reading u8 at offset %d", r.pos)
	}
	v := r.buf[r.pos]
	r.pos++
	return v, nil
}

func (r *reader) u32() (uint32, error) {
	if r.pos+4 > len(r.buf) {
		return 0, fmt.Errorf("dex layout: truncated buffer reading u32 at offset %d", r.pos)
	}
	v := binary.LittleEndian.Uint32(r.buf[r.pos:])
	r.pos += 4
	return v, nil
}

func (r *reader) pubkey() (types.PublicKey, error) {
	if r.pos+types.HashSize > len(r.buf) {
		return types.PublicKey{}, fmt.Errorf("dex layout: truncated buffer reading pubkey at offset %d", r.pos)
	}
	pk, err := types.NewHashFromBytes(r.buf[r.pos : r.pos+types.HashSize])
	if err != nil {
		return types.PublicKey{}, err
	}
	r.pos += types.HashSize
	return pk, nil
}

func (r *reader) skip(n int) error {
	if r.pos+n > len(r.buf) {
		return fmt.Errorf("dex layout: truncated buffer skipping %d bytes at offset %d", n, r.pos)
	}
	r.pos += n
	return nil
}

func (r *reader) bytes(n int) ([]byte, error) {
	if r.pos+n > len(r.buf) {
		return nil, fmt.Errorf("dex layout: truncated buffer reading %d bytes at offset %d", n, r.pos)
	}
	b := r.buf[r.pos : r.pos+n]
	r.pos += n
	return b, nil
}

// DecodeSpotMarket decodes a spot-market account, validating the
// bracketing "serum"/"padding" markers.
func DecodeSpotMarket(data []byte) (SpotMarket, error) {
	r := newReader(data)

	prefix, err := r.bytes(len(marketBeginPadding))
	if err != nil {
		return SpotMarket{}, err
	}
	if string(prefix) != string(marketBeginPadding) {
		return SpotMarket{}, fmt.Errorf("dex layout: spot market missing begin padding marker")
	}

	var m SpotMarket
	if m.AccountFlags, err = r.u64(); err != nil {
		return SpotMarket{}, err
	}
	if m.Owner, err = r.pubkey(); err != nil {
		return SpotMarket{}, err
	}
	if m.VaultSignerNonce, err = r.u64(); err != nil {
		return SpotMarket{}, err
	}
	if m.BaseMint, err = r.pubkey(); err != nil {
		return SpotMarket{}, err
	}
	if m.QuoteMint, err = r.pubkey(); err != nil {
		return SpotMarket{}, err
	}
	if m.BaseVault, err = r.pubkey(); err != nil {
		return SpotMarket{}, err
	}
	if m.BaseDepositsTotal, err = r.u64(); err != nil {
		return SpotMarket{}, err
	}
	if m.BaseFeesAccrued, err = r.u64(); err != nil {
		return SpotMarket{}, err
	}
	if m.QuoteVault, err = r.pubkey(); err != nil {
		return SpotMarket{}, err
	}
	if m.QuoteDepositsTotal, err = r.u64(); err != nil {
		return SpotMarket{}, err
	}
	if m.QuoteFeesAccrued, err = r.u64(); err != nil {
		return SpotMarket{}, err
	}
	if m.QuoteDustThreshold, err = r.u64(); err != nil {
		return SpotMarket{}, err
	}
	if m.RequestQueue, err = r.pubkey(); err != nil {
		return SpotMarket{}, err
	}
	if m.EventQueue, err = r.pubkey(); err != nil {
		return SpotMarket{}, err
	}
	if m.Bids, err = r.pubkey(); err != nil {
		return SpotMarket{}, err
	}
	if m.Asks, err = r.pubkey(); err != nil {
		return SpotMarket{}, err
	}
	if m.BaseLotSize, err = r.u64(); err != nil {
		return SpotMarket{}, err
	}
	if m.QuoteLotSize, err = r.u64(); err != nil {
		return SpotMarket{}, err
	}
	if m.FeeRateBasisPoints, err = r.u64(); err != nil {
		return SpotMarket{}, err
	}
	if m.ReferrerRebatesAccrued, err = r.u64(); err != nil {
		return SpotMarket{}, err
	}

	suffix, err := r.bytes(len(marketEndPadding))
	if err != nil {
		return SpotMarket{}, err
	}
	if string(suffix) != string(marketEndPadding) {
		return SpotMarket{}, fmt.Errorf("dex layout: spot market missing end padding marker")
	}
	return m, nil
}

// Aligned128 is a 64-bit-aligned two's-complement 128-bit integer, matching
// the Rust ABI's {lower, upper} u64 pair representation.
type Aligned128 struct {
	Lower uint64
	Upper uint64
}

// BigInt converts the pair into a signed big.Int.
func (a Aligned128) BigInt() *big.Int {
	v := new(big.Int).Lsh(new(big.Int).SetUint64(a.Upper), 64)
	v.Add(v, new(big.Int).SetUint64(a.Lower))
	// Two's complement: if the sign bit (bit 127) is set, subtract 2^128.
	if a.Upper&(1<<63) != 0 {
		mod := new(big.Int).Lsh(big.NewInt(1), 128)
		v.Sub(v, mod)
	}
	return v
}

// ScaledToPrice converts a scaled 128-bit fixed-point value into a
// types.Price by dividing by 2^48.
func ScaledToPrice(a Aligned128) types.Price {
	num := decimal.NewFromBigInt(a.BigInt(), 0)
	denom := decimal.NewFromBigInt(scaleFactor, 0)
	return num.Div(denom)
}

func (r *reader) aligned128() (Aligned128, error) {
	lower, err := r.u64()
	if err != nil {
		return Aligned128{}, err
	}
	upper, err := r.u64()
	if err != nil {
		return Aligned128{}, err
	}
	return Aligned128{Lower: lower, Upper: upper}, nil
}
