package pricing

import (
	"context"
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"

	"github.com/buybot/pkg/chain"
	"github.com/buybot/pkg/config"
)

// Oracle reads the native-asset/USD reference price from the chain's
// Chainlink-style aggregator. It never retries; the caller skips the cycle.
type Oracle struct {
	chains  ChainSource
	timeout time.Duration // per eth_call, 0 means the caller's context only
}

func NewOracle(chains ChainSource) *Oracle {
	return &Oracle{chains: chains}
}

func (o *Oracle) ReferencePrice(ctx context.Context, c config.Chain) (decimal.Decimal, error) {
	cc, ok := o.chains.ChainConfig(c)
	if !ok || cc.Oracle == (common.Address{}) {
		return decimal.Zero, fmt.Errorf("%w: no oracle configured for %s", ErrOracle, c)
	}
	client, err := o.chains.Client(ctx, c)
	if err != nil {
		return decimal.Zero, fmt.Errorf("%w: %w", ErrOracle, err)
	}
	client = chain.WithTimeout(client, o.timeout)

	vals, err := chain.Call(ctx, client, chain.AggregatorV3ABI, cc.Oracle, "latestRoundData")
	if err != nil {
		return decimal.Zero, fmt.Errorf("%w: %s latestRoundData: %w", ErrOracle, c, err)
	}
	if len(vals) < 2 {
		return decimal.Zero, fmt.Errorf("%w: %s latestRoundData returned %d values", ErrOracle, c, len(vals))
	}
	answer, ok := vals[1].(*big.Int)
	if !ok || answer == nil {
		return decimal.Zero, fmt.Errorf("%w: %s answer has type %T", ErrOracle, c, vals[1])
	}
	if answer.Sign() <= 0 {
		return decimal.Zero, fmt.Errorf("%w: %s answer %s is not positive", ErrOracle, c, answer)
	}
	return decimal.NewFromBigInt(answer, -cc.OracleDecimals), nil
}
