package engine

import (
	"context"
	"encoding/base64"
	"fmt"

	"github.com/synthfi-arb/arb/internal/accountbatch"
	"github.com/synthfi-arb/arb/internal/rpc"
	"github.com/synthfi-arb/arb/pkg/types"
)

// solanaRPC adapts rpc.Mux's generic Call into the two narrow, venue-level
// shapes accountbatch.Fetcher and slot.BlockhashFetcher need: one
// getMultipleAccounts call per chunk, one getLatestBlockhash call.
type solanaRPC struct {
	mux *rpc.Mux
}

type accountInfoValue struct {
	Owner string `json:"owner"`
	Data  []any  `json:"data"`
}

type getMultipleAccountsResult struct {
	Value []*accountInfoValue `json:"value"`
}

// FetchMultipleAccounts implements accountbatch.Fetcher.
func (r *solanaRPC) FetchMultipleAccounts(ctx context.Context, keys []types.PublicKey) ([]*accountbatch.AccountInfo, error) {
	addrs := make([]string, len(keys))
	for i, k := range keys {
		addrs[i] = k.String()
	}

	var result getMultipleAccountsResult
	params := []any{addrs, map[string]string{"encoding": "base64"}}
	if err := r.mux.Call(ctx, "getMultipleAccounts", params, &result); err != nil {
		return nil, fmt.Errorf("getMultipleAccounts: %w", err)
	}
	if len(result.Value) != len(keys) {
		return nil, fmt.Errorf("getMultipleAccounts: got %d accounts, want %d", len(result.Value), len(keys))
	}

	out := make([]*accountbatch.AccountInfo, len(keys))
	for i, v := range result.Value {
		if v == nil {
			continue
		}
		owner, err := types.NewHashFromBase58(v.Owner)
		if err != nil {
			return nil, fmt.Errorf("account %d owner: %w", i, err)
		}
		if len(v.Data) == 0 {
			out[i] = &accountbatch.AccountInfo{Owner: owner}
			continue
		}
		encoded, _ := v.Data[0].(string)
		data, err := base64.StdEncoding.DecodeString(encoded)
		if err != nil {
			return nil, fmt.Errorf("account %d data: %w", i, err)
		}
		out[i] = &accountbatch.AccountInfo{Owner: owner, Data: data}
	}
	return out, nil
}

type getLatestBlockhashResult struct {
	Context struct {
		Slot uint64 `json:"slot"`
	} `json:"context"`
	Value struct {
		Blockhash            string `json:"blockhash"`
		LastValidBlockHeight uint64 `json:"lastValidBlockHeight"`
	} `json:"value"`
}

// GetLatestBlockhash implements slot.BlockhashFetcher.
func (r *solanaRPC) GetLatestBlockhash(ctx context.Context) (types.RecentBlockhash, error) {
	var result getLatestBlockhashResult
	params := []any{map[string]string{"commitment": "finalized"}}
	if err := r.mux.Call(ctx, "getLatestBlockhash", params, &result); err != nil {
		return types.RecentBlockhash{}, fmt.Errorf("getLatestBlockhash: %w", err)
	}
	hash, err := types.NewHashFromBase58(result.Value.Blockhash)
	if err != nil {
		return types.RecentBlockhash{}, fmt.Errorf("getLatestBlockhash blockhash: %w", err)
	}
	return types.RecentBlockhash{
		Hash:                 hash,
		LastValidBlockHeight: result.Value.LastValidBlockHeight,
		ObservedSlot:         result.Context.Slot,
	}, nil
}
