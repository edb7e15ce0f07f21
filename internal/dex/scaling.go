package dex

import "github.com/shopspring/decimal"

// Lot-size scaling conversions (§4.10, §6.3): price_lots and size_lots are
// the wire units every DEX instruction and book level are expressed in.
//
//	price_lots = floor(price * 10^quote_decimals / quote_lot_size)
//	size_lots  = floor(qty   * 10^base_decimals  / base_lot_size)
//
// The inverse conversions below (lots -> human units) are used by the
// market-data path when reconstructing book levels from slab leaves.

// PriceToLots converts a human-readable price into price lots.
func PriceToLots(price decimal.Decimal, quoteDecimals int, quoteLotSize int64) int64 {
	scaled := price.Shift(int32(quoteDecimals)).Div(decimal.NewFromInt(quoteLotSize))
	return scaled.IntPart()
}

// QuantityToLots converts a human-readable quantity into size lots.
func QuantityToLots(qty decimal.Decimal, baseDecimals int, baseLotSize int64) int64 {
	scaled := qty.Shift(int32(baseDecimals)).Div(decimal.NewFromInt(baseLotSize))
	return scaled.IntPart()
}

func lotsToPrice(priceLots uint64, quoteLotSize, baseLotSize int64, quoteDecimals, baseDecimals int) decimal.Decimal {
	return decimal.NewFromInt(int64(priceLots)).
		Mul(decimal.NewFromInt(quoteLotSize)).
		Shift(int32(-quoteDecimals))
}

func lotsToQuantity(qtyLots uint64, baseLotSize int64, baseDecimals int) decimal.Decimal {
	return decimal.NewFromInt(int64(qtyLots)).
		Mul(decimal.NewFromInt(baseLotSize)).
		Shift(int32(-baseDecimals))
}
