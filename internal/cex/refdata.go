package cex

import (
	"context"
	"fmt"

	"github.com/shopspring/decimal"
	"github.com/synthfi-arb/arb/pkg/types"
)

// PairSpec is the static pair configuration the reference-data loader
// needs to cross-index currencies (venue-agnostic config, filled in from
// the CEX config block).
type PairSpec struct {
	Base, Quote   string
	CEXMarketName string
}

// RefDataSource implements refdata.Source for the CEX venue: a single
// REST call to list markets, cross-indexed against the configured pairs.
type RefDataSource struct {
	client *Client
	pairs  []PairSpec
}

// NewRefDataSource constructs a CEX reference-data source.
func NewRefDataSource(client *Client, pairs []PairSpec) *RefDataSource {
	return &RefDataSource{client: client, pairs: pairs}
}

// Load fetches the market catalog and builds the cross-indexed
// ReferenceData for every configured pair.
func (s *RefDataSource) Load(ctx context.Context) (types.ReferenceData, error) {
	markets, err := s.client.ListMarkets(ctx)
	if err != nil {
		return types.ReferenceData{}, fmt.Errorf("cex refdata: %w", err)
	}
	byName := make(map[string]marketEntry, len(markets))
	for _, m := range markets {
		byName[m.Name] = m
	}

	currencyIndex := make(map[string]int)
	var currencies []types.Currency
	indexOf := func(name string) int {
		if idx, ok := currencyIndex[name]; ok {
			return idx
		}
		idx := len(currencies)
		currencyIndex[name] = idx
		currencies = append(currencies, types.Currency{Name: name, MintOrSymbol: name, VenueIndex: idx})
		return idx
	}

	pairs := make([]types.TradingPair, 0, len(s.pairs))
	for _, spec := range s.pairs {
		m, ok := byName[spec.CEXMarketName]
		if !ok {
			return types.ReferenceData{}, fmt.Errorf("cex refdata: market %q not found", spec.CEXMarketName)
		}
		pairs = append(pairs, types.TradingPair{
			BaseCurrencyIndex:  indexOf(spec.Base),
			QuoteCurrencyIndex: indexOf(spec.Quote),
			PriceIncrement:     decimal.NewFromFloat(m.PriceIncrement),
			QuantityIncrement:  decimal.NewFromFloat(m.SizeIncrement),
			CEXMarketName:      m.Name,
		})
	}

	return types.ReferenceData{Currencies: currencies, Pairs: pairs}, nil
}
