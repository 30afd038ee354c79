package pricing

import (
	"context"
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"

	"github.com/buybot/pkg/config"
	"github.com/buybot/pkg/metrics"
)

// ResolvedPrice is a token's price on one pool at one moment.
type ResolvedPrice struct {
	Chain       config.Chain
	Pool        common.Address
	Variant     Variant
	TokenInPair decimal.Decimal // tracked token priced in the pairing asset
	NativeFiat  decimal.Decimal // pairing asset priced in USD
	TokenFiat   decimal.Decimal // TokenInPair * NativeFiat
	At          time.Time
}

type ReferencePricer interface {
	ReferencePrice(ctx context.Context, c config.Chain) (decimal.Decimal, error)
}

type PoolDetector interface {
	Detect(ctx context.Context, c config.Chain, pool common.Address) (Variant, error)
}

type PairPricer interface {
	PriceInPairAsset(ctx context.Context, c config.Chain, pool common.Address, v Variant) (decimal.Decimal, error)
}

// Resolver composes the oracle, detector and AMM calculator. Any failing
// stage fails the whole resolution; nothing is cached between calls.
type Resolver struct {
	oracle   ReferencePricer
	detector PoolDetector
	pricer   PairPricer
	now      func() time.Time
}

func NewResolver(oracle ReferencePricer, detector PoolDetector, pricer PairPricer) *Resolver {
	return &Resolver{oracle: oracle, detector: detector, pricer: pricer, now: time.Now}
}

// New wires the default oracle, detector and calculator over chains. Every
// RPC they issue is bounded by rpcTimeout, so a stalled endpoint fails the
// resolution instead of holding the caller.
func New(chains ChainSource, detectTTL, rpcTimeout time.Duration) *Resolver {
	o := NewOracle(chains)
	o.timeout = rpcTimeout
	d := NewDetector(chains, detectTTL)
	d.timeout = rpcTimeout
	c := NewCalculator(chains)
	c.timeout = rpcTimeout
	return NewResolver(o, d, c)
}

func (r *Resolver) Resolve(ctx context.Context, c config.Chain, pool common.Address) (ResolvedPrice, error) {
	native, err := r.oracle.ReferencePrice(ctx, c)
	if err != nil {
		metrics.PriceResolutions.WithLabelValues(string(c), "oracle_error").Inc()
		return ResolvedPrice{}, fmt.Errorf("%w: %w", ErrResolution, err)
	}

	v, err := r.detector.Detect(ctx, c, pool)
	if err != nil || v == VariantUnknown {
		metrics.PriceResolutions.WithLabelValues(string(c), "unknown_variant").Inc()
		if err == nil {
			err = fmt.Errorf("%w: %s", ErrUnknownVariant, pool.Hex())
		}
		return ResolvedPrice{}, fmt.Errorf("%w: %w", ErrResolution, err)
	}

	inPair, err := r.pricer.PriceInPairAsset(ctx, c, pool, v)
	if err != nil {
		metrics.PriceResolutions.WithLabelValues(string(c), "pricing_error").Inc()
		return ResolvedPrice{}, fmt.Errorf("%w: %w", ErrResolution, err)
	}

	metrics.PriceResolutions.WithLabelValues(string(c), "ok").Inc()
	rp := ResolvedPrice{
		Chain:       c,
		Pool:        pool,
		Variant:     v,
		TokenInPair: inPair,
		NativeFiat:  native,
		TokenFiat:   inPair.Mul(native),
		At:          r.now(),
	}
	log.Debug().
		Str("chain", string(c)).
		Str("pool", pool.Hex()).
		Str("variant", v.String()).
		Str("usd", rp.TokenFiat.StringFixed(10)).
		Msg("price resolved")
	return rp, nil
}
