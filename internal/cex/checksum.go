package cex

import (
	"hash/crc32"
	"strings"

	"github.com/synthfi-arb/arb/pkg/types"
)

// maxChecksumLevels is the number of top-of-book levels folded into the
// integrity checksum (§6.4).
const maxChecksumLevels = 100

// Checksum builds the checksum string over the first maxChecksumLevels
// levels as "bid_price:bid_qty:ask_price:ask_qty:..." (decimals rendered
// with a trailing ".0" when integer-valued, final trailing ":" dropped)
// and computes its CRC-32, matching the exchange-reported integrity value
// exactly.
//
// The polynomial, initial value, and reflection settings specified (poly
// 0xEDB88320, init/final 0xFFFFFFFF, input/output reflected) are exactly
// the standard IEEE CRC-32 variant, i.e. Go's hash/crc32.IEEETable.
func Checksum(bids, asks []types.Level) uint32 {
	var b strings.Builder
	n := maxChecksumLevels
	if len(bids) > n {
		bids = bids[:n]
	}
	if len(asks) > n {
		asks = asks[:n]
	}
	max := len(bids)
	if len(asks) > max {
		max = len(asks)
	}
	for i := 0; i < max; i++ {
		if i < len(bids) {
			b.WriteString(formatDecimal(bids[i].Price))
			b.WriteByte(':')
			b.WriteString(formatDecimal(bids[i].Quantity))
			b.WriteByte(':')
		}
		if i < len(asks) {
			b.WriteString(formatDecimal(asks[i].Price))
			b.WriteByte(':')
			b.WriteString(formatDecimal(asks[i].Quantity))
			b.WriteByte(':')
		}
	}
	s := strings.TrimSuffix(b.String(), ":")
	return crc32.ChecksumIEEE([]byte(s))
}

func formatDecimal(v types.Price) string {
	s := v.String()
	if !strings.Contains(s, ".") {
		return s + ".0"
	}
	return s
}
