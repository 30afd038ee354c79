package pricing

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/buybot/pkg/chain"
	"github.com/buybot/pkg/config"
)

type detectKey struct {
	chain config.Chain
	pool  common.Address
}

type detectEntry struct {
	variant Variant
	expires time.Time
}

// Detector probes a pool for the V3 slot0 accessor. Success means V3, a
// revert or empty return from a deployed contract means V2, anything else is
// Unknown. With a positive ttl, V2/V3 answers are cached; Unknown never is.
type Detector struct {
	chains  ChainSource
	ttl     time.Duration
	timeout time.Duration // per RPC, 0 means the caller's context only
	now     func() time.Time

	mu    sync.Mutex
	cache map[detectKey]detectEntry
}

func NewDetector(chains ChainSource, ttl time.Duration) *Detector {
	return &Detector{
		chains: chains,
		ttl:    ttl,
		now:    time.Now,
		cache:  make(map[detectKey]detectEntry),
	}
}

func (d *Detector) Detect(ctx context.Context, c config.Chain, pool common.Address) (Variant, error) {
	key := detectKey{chain: c, pool: pool}
	if d.ttl > 0 {
		d.mu.Lock()
		e, ok := d.cache[key]
		d.mu.Unlock()
		if ok && d.now().Before(e.expires) {
			return e.variant, nil
		}
	}

	v, err := d.probe(ctx, c, pool)

	if d.ttl > 0 {
		d.mu.Lock()
		if v == VariantUnknown {
			delete(d.cache, key)
		} else {
			d.cache[key] = detectEntry{variant: v, expires: d.now().Add(d.ttl)}
		}
		d.mu.Unlock()
	}
	return v, err
}

func (d *Detector) probe(ctx context.Context, c config.Chain, pool common.Address) (Variant, error) {
	if pool == (common.Address{}) {
		return VariantUnknown, fmt.Errorf("%w: zero pool address", ErrUnknownVariant)
	}
	client, err := d.chains.Client(ctx, c)
	if err != nil {
		return VariantUnknown, fmt.Errorf("%w: %w", ErrUnknownVariant, err)
	}
	client = chain.WithTimeout(client, d.timeout)

	_, err = chain.Call(ctx, client, chain.UniswapV3PoolABI, pool, "slot0")
	switch {
	case err == nil:
		return VariantV3, nil
	case errors.Is(err, chain.ErrEmptyResult):
		// An EOA also answers eth_call with no data; only deployed code is a V2 pair.
		code, cerr := client.CodeAt(ctx, pool, nil)
		if cerr != nil {
			return VariantUnknown, fmt.Errorf("%w: code at %s: %w", ErrUnknownVariant, pool.Hex(), cerr)
		}
		if len(code) == 0 {
			return VariantUnknown, fmt.Errorf("%w: %s has no contract code", ErrUnknownVariant, pool.Hex())
		}
		return VariantV2, nil
	case chain.IsRevert(err):
		return VariantV2, nil
	default:
		return VariantUnknown, fmt.Errorf("%w: slot0 on %s: %w", ErrUnknownVariant, pool.Hex(), err)
	}
}
