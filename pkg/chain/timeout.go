package chain

import (
	"context"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
)

// timeoutClient bounds every RPC on the wrapped client. The HTTP transport
// has no deadline of its own.
type timeoutClient struct {
	Client
	timeout time.Duration
}

// WithTimeout returns c with each call limited to d. A non-positive d
// returns c unchanged.
func WithTimeout(c Client, d time.Duration) Client {
	if d <= 0 || c == nil {
		return c
	}
	if tc, ok := c.(timeoutClient); ok {
		c = tc.Client
	}
	return timeoutClient{Client: c, timeout: d}
}

func (t timeoutClient) CallContract(ctx context.Context, msg ethereum.CallMsg, blockNumber *big.Int) ([]byte, error) {
	ctx, cancel := context.WithTimeout(ctx, t.timeout)
	defer cancel()
	return t.Client.CallContract(ctx, msg, blockNumber)
}

func (t timeoutClient) CodeAt(ctx context.Context, account common.Address, blockNumber *big.Int) ([]byte, error) {
	ctx, cancel := context.WithTimeout(ctx, t.timeout)
	defer cancel()
	return t.Client.CodeAt(ctx, account, blockNumber)
}

func (t timeoutClient) BlockNumber(ctx context.Context) (uint64, error) {
	ctx, cancel := context.WithTimeout(ctx, t.timeout)
	defer cancel()
	return t.Client.BlockNumber(ctx)
}

func (t timeoutClient) FilterLogs(ctx context.Context, q ethereum.FilterQuery) ([]types.Log, error) {
	ctx, cancel := context.WithTimeout(ctx, t.timeout)
	defer cancel()
	return t.Client.FilterLogs(ctx, q)
}
