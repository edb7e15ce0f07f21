// Package accountbatch implements the getMultipleAccounts-style batcher
// (§4.4 of the design spec): it splits a key list into capped chunks, fires
// each chunk in parallel, and reassembles the results into contiguous
// output slots. Partial chunk failure fails the whole call; empty input
// short-circuits without an RPC.
package accountbatch

import (
	"context"
	"fmt"

	"github.com/synthfi-arb/arb/pkg/types"
)

// DefaultMaxAccountsPerBatch is the default chunk cap (max_multiple_accounts).
const DefaultMaxAccountsPerBatch = 100

// AccountInfo is the decoded account-blob payload for one key; nil Data
// means the account does not exist.
type AccountInfo struct {
	Owner types.PublicKey
	Data  []byte
}

// Fetcher performs a single getMultipleAccounts RPC call for one chunk of
// keys, returning one AccountInfo (possibly nil Data) per key in order.
type Fetcher interface {
	FetchMultipleAccounts(ctx context.Context, keys []types.PublicKey) ([]*AccountInfo, error)
}

// Batcher splits large getMultipleAccounts calls into bounded chunks.
type Batcher struct {
	fetcher  Fetcher
	maxBatch int
}

// New constructs a Batcher with the given chunk cap (0 uses the default).
func New(fetcher Fetcher, maxBatch int) *Batcher {
	if maxBatch <= 0 {
		maxBatch = DefaultMaxAccountsPerBatch
	}
	return &Batcher{fetcher: fetcher, maxBatch: maxBatch}
}

type chunkResult struct {
	offset int
	infos  []*AccountInfo
	err    error
}

// GetMultipleAccounts fetches keys, split into chunks of at most maxBatch,
// fired in parallel, and reassembled into contiguous output slots keyed by
// chunk offset. Empty input returns empty output without an RPC.
func (b *Batcher) GetMultipleAccounts(ctx context.Context, keys []types.PublicKey) ([]*AccountInfo, error) {
	if len(keys) == 0 {
		return nil, nil
	}

	type chunk struct {
		offset int
		keys   []types.PublicKey
	}
	var chunks []chunk
	for offset := 0; offset < len(keys); offset += b.maxBatch {
		end := offset + b.maxBatch
		if end > len(keys) {
			end = len(keys)
		}
		chunks = append(chunks, chunk{offset: offset, keys: keys[offset:end]})
	}

	resultCh := make(chan chunkResult, len(chunks))
	for _, c := range chunks {
		go func(c chunk) {
			infos, err := b.fetcher.FetchMultipleAccounts(ctx, c.keys)
			resultCh <- chunkResult{offset: c.offset, infos: infos, err: err}
		}(c)
	}

	out := make([]*AccountInfo, len(keys))
	var firstErr error
	for range chunks {
		r := <-resultCh
		if r.err != nil {
			if firstErr == nil {
				firstErr = fmt.Errorf("account batch chunk at offset %d: %w", r.offset, r.err)
			}
			continue
		}
		copy(out[r.offset:r.offset+len(r.infos)], r.infos)
	}
	if firstErr != nil {
		return nil, firstErr
	}
	return out, nil
}
