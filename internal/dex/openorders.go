package dex

import (
	"fmt"

	"github.com/synthfi-arb/arb/pkg/types"
)

// openOrdersBeginPadding/openOrdersEndPadding bracket the open-orders
// account payload, same convention as the spot-market account (§6.3).
var (
	openOrdersBeginPadding = []byte("serum")
	openOrdersEndPadding   = []byte("padding")
)

// OpenOrders is the decoded subset of one pair's open-orders account
// consulted by the wallet's worst-case exposure calculation (§4.11): the
// free/total native balances locked against resting orders. The order and
// client-order-id tables that follow in the account are not needed for
// health calculation and are left undecoded.
type OpenOrders struct {
	Market           types.PublicKey
	Owner            types.PublicKey
	NativeBaseFree   uint64
	NativeBaseTotal  uint64
	NativeQuoteFree  uint64
	NativeQuoteTotal uint64
}

// DecodeOpenOrders decodes an open-orders account's header fields.
func DecodeOpenOrders(data []byte) (OpenOrders, error) {
	r := newReader(data)

	prefix, err := r.bytes(len(openOrdersBeginPadding))
	if err != nil {
		return OpenOrders{}, err
	}
	if string(prefix) != string(openOrdersBeginPadding) {
		return OpenOrders{}, fmt.Errorf("dex openorders: missing begin padding marker")
	}

	if err := r.skip(8); err != nil { // accountFlags bitset
		return OpenOrders{}, err
	}
	var oo OpenOrders
	if oo.Market, err = r.pubkey(); err != nil {
		return OpenOrders{}, err
	}
	if oo.Owner, err = r.pubkey(); err != nil {
		return OpenOrders{}, err
	}
	if oo.NativeBaseFree, err = r.u64(); err != nil {
		return OpenOrders{}, err
	}
	if oo.NativeBaseTotal, err = r.u64(); err != nil {
		return OpenOrders{}, err
	}
	if oo.NativeQuoteFree, err = r.u64(); err != nil {
		return OpenOrders{}, err
	}
	if oo.NativeQuoteTotal, err = r.u64(); err != nil {
		return OpenOrders{}, err
	}
	return oo, nil
}
