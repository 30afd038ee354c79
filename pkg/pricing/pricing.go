// Package pricing turns on-chain pool state and a native/USD oracle into a
// token fiat price.
package pricing

import (
	"context"
	"errors"
	"math/big"

	"github.com/shopspring/decimal"

	"github.com/buybot/pkg/chain"
	"github.com/buybot/pkg/config"
)

var (
	ErrOracle         = errors.New("oracle price unavailable")
	ErrPricing        = errors.New("pool price unavailable")
	ErrResolution     = errors.New("token price unresolved")
	ErrUnknownVariant = errors.New("unknown pool variant")
)

// Variant is the AMM protocol a pool implements.
type Variant int

const (
	VariantUnknown Variant = iota
	VariantV2
	VariantV3
)

func (v Variant) String() string {
	switch v {
	case VariantV2:
		return "v2"
	case VariantV3:
		return "v3"
	default:
		return "unknown"
	}
}

// ChainSource is the slice of chain.Registry pricing needs.
type ChainSource interface {
	Client(ctx context.Context, c config.Chain) (chain.Client, error)
	ChainConfig(c config.Chain) (config.ChainConfig, bool)
}

// pricePrecision is the number of fractional digits kept when a rational
// price is rendered as a decimal.
const pricePrecision = 36

func ratToDecimal(r *big.Rat) decimal.Decimal {
	return decimal.NewFromBigInt(r.Num(), 0).DivRound(decimal.NewFromBigInt(r.Denom(), 0), pricePrecision)
}

func tenPow(dec uint8) *big.Int {
	return new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(dec)), nil)
}
