package web3

import (
	"context"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

// ChainSnapshot represents summarized network metadata for reporting.
type ChainSnapshot struct {
	ChainID     string
	BlockNumber string
	Notes       string
}

// Client defines the common interface that any chain implementation must
// provide so the transaction pipeline can hand off signed payloads to
// different networks uniformly.
type Client interface {
	FetchChainSnapshot(ctx context.Context) (ChainSnapshot, error)
	SuggestGasPrice(ctx context.Context) (*big.Int, error)
	BroadcastTransaction(ctx context.Context, rawTx string) (common.Hash, error)
	BroadcastBatch(ctx context.Context, rawTxs []string) ([]common.Hash, error)
	Close()
}
