// Package analyzer turns raw pool transfers into fiat-denominated buys.
package analyzer

import (
	"context"
	"errors"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"

	"github.com/buybot/pkg/config"
	"github.com/buybot/pkg/db"
	"github.com/buybot/pkg/metrics"
	"github.com/buybot/pkg/pricing"
	"github.com/buybot/pkg/scanner"
)

// ErrBelowMinimum marks a transfer worth less than the pair's minimum buy.
var ErrBelowMinimum = errors.New("buy below minimum")

type Tier string

const (
	TierSmall  Tier = "small"
	TierMedium Tier = "medium"
	TierWhale  Tier = "whale"
)

// ClassifiedBuy is the unit the alert dispatcher consumes.
type ClassifiedBuy struct {
	PairKey     string
	Chain       config.Chain
	Token       common.Address
	Pool        common.Address
	Symbol      string
	Buyer       common.Address
	Amount      decimal.Decimal // token units
	FiatValue   decimal.Decimal
	Price       pricing.ResolvedPrice
	Tier        Tier
	TxHash      common.Hash
	BlockNumber uint64
	LogIndex    uint
	ChatID      string
	MediaURL    string
}

type PriceSource interface {
	Resolve(ctx context.Context, c config.Chain, pool common.Address) (pricing.ResolvedPrice, error)
}

type Classifier struct {
	prices PriceSource
}

func New(prices PriceSource) *Classifier {
	return &Classifier{prices: prices}
}

// Classify prices t against pair p. Transfers that must not alert return
// ErrBelowMinimum or a pricing.ErrResolution chain; both are skips, not batch
// failures.
func (c *Classifier) Classify(ctx context.Context, t scanner.RawTransfer, p db.MonitoredPair) (ClassifiedBuy, error) {
	if t.Amount == nil || t.Amount.Sign() <= 0 {
		metrics.Buys.WithLabelValues(string(p.Chain), "skip_below_min").Inc()
		return ClassifiedBuy{}, fmt.Errorf("%w: zero amount", ErrBelowMinimum)
	}
	amount := decimal.NewFromBigInt(t.Amount, -int32(p.TokenDecimals))

	price, err := c.prices.Resolve(ctx, p.Chain, p.Pool)
	if err != nil {
		metrics.Buys.WithLabelValues(string(p.Chain), "skip_unpriced").Inc()
		return ClassifiedBuy{}, err
	}

	fiat := amount.Mul(price.TokenFiat)
	if fiat.LessThan(p.MinimumBuy) {
		metrics.Buys.WithLabelValues(string(p.Chain), "skip_below_min").Inc()
		return ClassifiedBuy{}, fmt.Errorf("%w: $%s < $%s", ErrBelowMinimum, fiat.StringFixed(2), p.MinimumBuy.String())
	}

	tier := TierFor(fiat, p)
	metrics.Buys.WithLabelValues(string(p.Chain), string(tier)).Inc()
	return ClassifiedBuy{
		PairKey:     p.Key(),
		Chain:       p.Chain,
		Token:       p.Token,
		Pool:        p.Pool,
		Symbol:      p.Label(),
		Buyer:       t.To,
		Amount:      amount,
		FiatValue:   fiat,
		Price:       price,
		Tier:        tier,
		TxHash:      t.TxHash,
		BlockNumber: t.BlockNumber,
		LogIndex:    t.LogIndex,
		ChatID:      p.ChatID,
		MediaURL:    p.MediaURL,
	}, nil
}

// TierFor buckets a fiat value with the pair's own thresholds.
func TierFor(fiat decimal.Decimal, p db.MonitoredPair) Tier {
	switch {
	case fiat.LessThan(p.SmallBuy):
		return TierSmall
	case fiat.LessThan(p.MediumBuy):
		return TierMedium
	default:
		return TierWhale
	}
}

// IsSkip reports whether err is an expected reason not to alert.
func IsSkip(err error) bool {
	return errors.Is(err, ErrBelowMinimum) || errors.Is(err, pricing.ErrResolution)
}
