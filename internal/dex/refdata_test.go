package dex

import (
	"context"
	"testing"

	"github.com/synthfi-arb/arb/internal/accountbatch"
	"github.com/synthfi-arb/arb/pkg/types"
)

type fakeFetcher struct {
	byKey map[types.PublicKey][]byte
}

func (f *fakeFetcher) FetchMultipleAccounts(_ context.Context, keys []types.PublicKey) ([]*accountbatch.AccountInfo, error) {
	out := make([]*accountbatch.AccountInfo, len(keys))
	for i, k := range keys {
		if data, ok := f.byKey[k]; ok {
			out[i] = &accountbatch.AccountInfo{Owner: k, Data: data}
		}
	}
	return out, nil
}

func buildTestSpotMarket(t *testing.T, baseLot, quoteLot uint64) []byte {
	t.Helper()
	buf := make([]byte, 0, 388)
	buf = append(buf, marketBeginPadding...)
	buf = append(buf, make([]byte, 8)...)  // accountFlags
	buf = append(buf, make([]byte, 32)...) // owner
	buf = append(buf, make([]byte, 8)...)  // vaultSignerNonce
	buf = append(buf, make([]byte, 32)...) // baseMint
	buf = append(buf, make([]byte, 32)...) // quoteMint
	buf = append(buf, make([]byte, 32)...) // baseVault
	buf = append(buf, make([]byte, 8)...)  // baseDepositsTotal
	buf = append(buf, make([]byte, 8)...)  // baseFeesAccrued
	buf = append(buf, make([]byte, 32)...) // quoteVault
	buf = append(buf, make([]byte, 8)...)  // quoteDepositsTotal
	buf = append(buf, make([]byte, 8)...)  // quoteFeesAccrued
	buf = append(buf, make([]byte, 8)...)  // quoteDustThreshold
	buf = append(buf, make([]byte, 32)...) // requestQueue
	buf = append(buf, make([]byte, 32)...) // eventQueue
	buf = append(buf, make([]byte, 32)...) // bids
	buf = append(buf, make([]byte, 32)...) // asks
	buf = putU64(buf, baseLot)
	buf = putU64(buf, quoteLot)
	buf = append(buf, make([]byte, 8)...) // feeRateBasisPoints
	buf = append(buf, make([]byte, 8)...) // referrerRebatesAccrued
	buf = append(buf, marketEndPadding...)
	return buf
}

func putU64(buf []byte, v uint64) []byte {
	b := make([]byte, 8)
	for i := 0; i < 8; i++ {
		b[i] = byte(v >> (8 * i))
	}
	return append(buf, b...)
}

func buildTestMarginAccount(t *testing.T, marginGroup types.PublicKey) []byte {
	t.Helper()
	buf := make([]byte, 0)
	buf = append(buf, make([]byte, 8)...) // metadata
	buf = append(buf, marginGroup[:]...)
	buf = append(buf, make([]byte, 32)...) // owner
	buf = append(buf, make([]byte, maxPairs)...)
	buf = append(buf, 0) // numInMarginBasket
	for i := 0; i < maxTokens; i++ {
		buf = putAligned128(buf, 0, 0)
	}
	for i := 0; i < maxTokens; i++ {
		buf = putAligned128(buf, 0, 0)
	}
	for i := 0; i < maxPairs; i++ {
		buf = append(buf, mustPubkeyBytes(byte(50+i))...)
	}
	return buf
}

func TestRefDataSourceLoad(t *testing.T) {
	marginAccount := mustPubkeyFromBytes(t, mustPubkeyBytes(1))
	marginGroup := mustPubkeyFromBytes(t, mustPubkeyBytes(2))
	marketAddr := mustPubkeyFromBytes(t, mustPubkeyBytes(3))

	const oneScaled = uint64(1) << 48
	fetcher := &fakeFetcher{byKey: map[types.PublicKey][]byte{
		marginAccount: buildTestMarginAccount(t, marginGroup),
		marginGroup:   buildTestMarginGroup(t, mustPubkeyFromBytes(t, mustPubkeyBytes(4)), oneScaled/2, oneScaled/2),
		marketAddr:    buildTestSpotMarket(t, 1, 100),
	}}
	batcher := accountbatch.New(fetcher, 0)

	pairs := []PairConfig{{
		Base: "SOL", Quote: "USDC",
		MarketAddress: marketAddr,
		BaseDecimals:  9, QuoteDecimals: 6,
	}}
	source := NewRefDataSource(batcher, pairs, marginAccount)

	data, err := source.Load(context.Background())
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if len(data.Currencies) != 2 {
		t.Fatalf("currencies = %d, want 2", len(data.Currencies))
	}
	if data.Pairs[0].BaseLotSize != 1 || data.Pairs[0].QuoteLotSize != 100 {
		t.Fatalf("lot sizes = %d/%d, want 1/100", data.Pairs[0].BaseLotSize, data.Pairs[0].QuoteLotSize)
	}
	if data.MarginGroup != marginGroup {
		t.Fatalf("margin group = %s, want %s", data.MarginGroup, marginGroup)
	}
	if data.OpenOrders[0] != mustPubkeyFromBytes(t, mustPubkeyBytes(50)) {
		t.Fatalf("open orders[0] mismatch")
	}
	if len(data.TokenInfos) != 2 {
		t.Fatalf("token infos = %d, want 2", len(data.TokenInfos))
	}
	if data.TokenInfos[0].RootBank != (types.PublicKey{}) {
		t.Fatalf("root bank[0] = %s, want zero key (fixture carries an empty token table)", data.TokenInfos[0].RootBank)
	}
	if data.DexProgramID != (types.PublicKey{}) {
		t.Fatalf("dex program id = %s, want zero key (fixture carries an empty margin group)", data.DexProgramID)
	}
}

func TestRefDataSourceMissingMarginAccount(t *testing.T) {
	marginAccount := mustPubkeyFromBytes(t, mustPubkeyBytes(9))
	fetcher := &fakeFetcher{byKey: map[types.PublicKey][]byte{}}
	batcher := accountbatch.New(fetcher, 0)
	source := NewRefDataSource(batcher, nil, marginAccount)

	_, err := source.Load(context.Background())
	if err == nil {
		t.Fatal("expected error for missing margin account")
	}
}
