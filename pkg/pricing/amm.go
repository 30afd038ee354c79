package pricing

import (
	"context"
	"fmt"
	"math/big"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"

	"github.com/buybot/pkg/chain"
	"github.com/buybot/pkg/config"
)

var q192 = new(big.Int).Lsh(big.NewInt(1), 192)

// V2Price is the price of one tracked token in the pairing asset from
// constant-product reserves. Reserves are raw integer amounts.
func V2Price(reserveToken, reservePairing *big.Int, tokenDecimals, pairingDecimals uint8) (*big.Rat, error) {
	if reserveToken == nil || reserveToken.Sign() <= 0 {
		return nil, fmt.Errorf("%w: tracked token reserve is zero", ErrPricing)
	}
	if reservePairing == nil || reservePairing.Sign() < 0 {
		return nil, fmt.Errorf("%w: invalid pairing reserve", ErrPricing)
	}
	num := new(big.Int).Mul(reservePairing, tenPow(tokenDecimals))
	den := new(big.Int).Mul(reserveToken, tenPow(pairingDecimals))
	return new(big.Rat).SetFrac(num, den), nil
}

// V3Price is the price of one tracked token in the pairing asset from a
// concentrated-liquidity sqrtPriceX96. The raw ratio sqrt^2/2^192 is token1
// per token0; it is inverted when the pairing asset is token0.
func V3Price(sqrtPriceX96 *big.Int, dec0, dec1 uint8, pairingIsToken0 bool) (*big.Rat, error) {
	if sqrtPriceX96 == nil || sqrtPriceX96.Sign() <= 0 {
		return nil, fmt.Errorf("%w: sqrtPriceX96 is zero", ErrPricing)
	}
	sq := new(big.Int).Mul(sqrtPriceX96, sqrtPriceX96)
	raw := new(big.Rat).SetFrac(sq, q192)

	if !pairingIsToken0 {
		// token0 priced in token1
		return raw.Mul(raw, new(big.Rat).SetFrac(tenPow(dec0), tenPow(dec1))), nil
	}
	// token1 priced in token0
	inv := new(big.Rat).Inv(raw)
	return inv.Mul(inv, new(big.Rat).SetFrac(tenPow(dec1), tenPow(dec0))), nil
}

type decimalsKey struct {
	chain config.Chain
	token common.Address
}

// Calculator reads pool state and prices the tracked side of a pool in the
// chain's pairing asset.
type Calculator struct {
	chains  ChainSource
	timeout time.Duration // per eth_call, 0 means the caller's context only

	mu       sync.Mutex
	decimals map[decimalsKey]uint8
}

func NewCalculator(chains ChainSource) *Calculator {
	return &Calculator{chains: chains, decimals: make(map[decimalsKey]uint8)}
}

type poolTokens struct {
	token0, token1 common.Address
	dec0, dec1     uint8
	pairingIs0     bool
}

func (c *Calculator) PriceInPairAsset(ctx context.Context, ch config.Chain, pool common.Address, v Variant) (decimal.Decimal, error) {
	cc, ok := c.chains.ChainConfig(ch)
	if !ok {
		return decimal.Zero, fmt.Errorf("%w: unknown chain %s", ErrPricing, ch)
	}
	client, err := c.chains.Client(ctx, ch)
	if err != nil {
		return decimal.Zero, fmt.Errorf("%w: %w", ErrPricing, err)
	}
	client = chain.WithTimeout(client, c.timeout)

	parsed := chain.UniswapV2PairABI
	switch v {
	case VariantV2:
	case VariantV3:
		parsed = chain.UniswapV3PoolABI
	default:
		return decimal.Zero, fmt.Errorf("%w: %s", ErrUnknownVariant, pool.Hex())
	}

	pt, err := c.tokens(ctx, client, ch, parsed, pool, cc.PairingAsset)
	if err != nil {
		return decimal.Zero, err
	}

	var price *big.Rat
	if v == VariantV2 {
		vals, err := chain.Call(ctx, client, chain.UniswapV2PairABI, pool, "getReserves")
		if err != nil {
			return decimal.Zero, fmt.Errorf("%w: getReserves on %s: %w", ErrPricing, pool.Hex(), err)
		}
		r0, ok0 := vals[0].(*big.Int)
		r1, ok1 := vals[1].(*big.Int)
		if !ok0 || !ok1 {
			return decimal.Zero, fmt.Errorf("%w: getReserves on %s: unexpected types", ErrPricing, pool.Hex())
		}
		if pt.pairingIs0 {
			price, err = V2Price(r1, r0, pt.dec1, pt.dec0)
		} else {
			price, err = V2Price(r0, r1, pt.dec0, pt.dec1)
		}
		if err != nil {
			return decimal.Zero, err
		}
	} else {
		vals, err := chain.Call(ctx, client, chain.UniswapV3PoolABI, pool, "slot0")
		if err != nil {
			return decimal.Zero, fmt.Errorf("%w: slot0 on %s: %w", ErrPricing, pool.Hex(), err)
		}
		sqrt, ok := vals[0].(*big.Int)
		if !ok {
			return decimal.Zero, fmt.Errorf("%w: slot0 on %s: sqrtPriceX96 has type %T", ErrPricing, pool.Hex(), vals[0])
		}
		if price, err = V3Price(sqrt, pt.dec0, pt.dec1, pt.pairingIs0); err != nil {
			return decimal.Zero, err
		}
	}
	return ratToDecimal(price), nil
}

func (c *Calculator) tokens(ctx context.Context, client chain.Caller, ch config.Chain, parsed abi.ABI, pool, pairing common.Address) (poolTokens, error) {
	var pt poolTokens
	var err error
	if pt.token0, err = chain.ReadAddress(ctx, client, parsed, pool, "token0"); err != nil {
		return pt, fmt.Errorf("%w: token0 on %s: %w", ErrPricing, pool.Hex(), err)
	}
	if pt.token1, err = chain.ReadAddress(ctx, client, parsed, pool, "token1"); err != nil {
		return pt, fmt.Errorf("%w: token1 on %s: %w", ErrPricing, pool.Hex(), err)
	}
	switch pairing {
	case pt.token0:
		pt.pairingIs0 = true
	case pt.token1:
	default:
		return pt, fmt.Errorf("%w: pool %s is not quoted in pairing asset %s", ErrPricing, pool.Hex(), pairing.Hex())
	}
	if pt.dec0, err = c.tokenDecimals(ctx, client, ch, pt.token0); err != nil {
		return pt, err
	}
	if pt.dec1, err = c.tokenDecimals(ctx, client, ch, pt.token1); err != nil {
		return pt, err
	}
	return pt, nil
}

// tokenDecimals caches per token for the life of the process.
func (c *Calculator) tokenDecimals(ctx context.Context, client chain.Caller, ch config.Chain, token common.Address) (uint8, error) {
	k := decimalsKey{chain: ch, token: token}
	c.mu.Lock()
	d, ok := c.decimals[k]
	c.mu.Unlock()
	if ok {
		return d, nil
	}
	d, err := chain.ReadDecimals(ctx, client, token)
	if err != nil {
		return 0, fmt.Errorf("%w: decimals of %s: %w", ErrPricing, token.Hex(), err)
	}
	c.mu.Lock()
	c.decimals[k] = d
	c.mu.Unlock()
	return d, nil
}
