// Package alert delivers classified buys to a notification sink under a
// per-destination send rate limit.
package alert

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/buybot/pkg/analyzer"
	"github.com/buybot/pkg/db"
	"github.com/buybot/pkg/metrics"
)

var (
	ErrDelivery    = errors.New("alert delivery failed")
	ErrRateLimited = errors.New("alert rate limited")
)

type Outcome int

const (
	Delivered Outcome = iota
	RateLimited
	DeliveryError
	Duplicate
)

func (o Outcome) String() string {
	switch o {
	case Delivered:
		return "delivered"
	case RateLimited:
		return "rate_limited"
	case DeliveryError:
		return "delivery_error"
	case Duplicate:
		return "duplicate"
	default:
		return fmt.Sprintf("outcome(%d)", int(o))
	}
}

// Sink sends one payload. Implementations wrap ErrRateLimited when the remote
// side is throttling them.
type Sink interface {
	Send(ctx context.Context, p Payload) error
}

// Ledger remembers delivered buys so a replayed range does not alert twice.
type Ledger interface {
	WasDelivered(pairKey, txHash string, logIndex uint) (bool, error)
	MarkDelivered(d db.DeliveredAlert) error
}

type Dispatcher struct {
	sink    Sink
	limiter *Limiter
	ledger  Ledger
	links   Links
	now     func() time.Time
}

// NewDispatcher builds a dispatcher. ledger and links may be nil.
func NewDispatcher(sink Sink, limiter *Limiter, ledger Ledger, links Links) *Dispatcher {
	return &Dispatcher{sink: sink, limiter: limiter, ledger: ledger, links: links, now: time.Now}
}

// Send delivers one buy alert. There is no retry: a DeliveryError drops the
// alert and a refused send is replaced by a single rate limit notice.
func (d *Dispatcher) Send(ctx context.Context, b analyzer.ClassifiedBuy) (Outcome, error) {
	lg := log.With().
		Str("chain", string(b.Chain)).
		Str("pair", b.PairKey).
		Str("tx", b.TxHash.Hex()).
		Logger()

	if d.ledger != nil {
		seen, err := d.ledger.WasDelivered(b.PairKey, b.TxHash.Hex(), b.LogIndex)
		if err != nil {
			lg.Warn().Err(err).Msg("delivery ledger lookup failed, sending anyway")
		} else if seen {
			metrics.Alerts.WithLabelValues(Duplicate.String()).Inc()
			lg.Debug().Msg("buy already alerted")
			return Duplicate, nil
		}
	}

	out, err := d.deliver(ctx, BuyPayload(b, d.links))
	if out != Delivered {
		return out, err
	}

	if d.ledger != nil {
		err := d.ledger.MarkDelivered(db.DeliveredAlert{
			PairKey:  b.PairKey,
			TxHash:   b.TxHash.Hex(),
			LogIndex: b.LogIndex,
			ChatID:   b.ChatID,
			Tier:     string(b.Tier),
			USDValue: b.FiatValue,
		})
		if err != nil {
			lg.Warn().Err(err).Msg("delivery ledger write failed")
		}
	}
	lg.Info().
		Str("tier", string(b.Tier)).
		Str("usd", b.FiatValue.StringFixed(2)).
		Str("symbol", b.Symbol).
		Msg("🚨 buy alert sent")
	return Delivered, nil
}

// Notify sends a plain message to chatID through the same limiter as buys.
func (d *Dispatcher) Notify(ctx context.Context, chatID, text string) (Outcome, error) {
	return d.deliver(ctx, Payload{ChatID: chatID, Text: text})
}

func (d *Dispatcher) deliver(ctx context.Context, p Payload) (Outcome, error) {
	if d.limiter != nil {
		allowed, notify := d.limiter.Allow(p.ChatID, d.now())
		if !allowed {
			metrics.Alerts.WithLabelValues(RateLimited.String()).Inc()
			if notify {
				d.sendNotice(ctx, p.ChatID)
			}
			return RateLimited, fmt.Errorf("%w: destination %s", ErrRateLimited, p.ChatID)
		}
	}

	if err := d.sink.Send(ctx, p); err != nil {
		if errors.Is(err, ErrRateLimited) {
			metrics.Alerts.WithLabelValues(RateLimited.String()).Inc()
			log.Warn().Err(err).Str("chat", p.ChatID).Msg("sink is throttling, alert suppressed")
			return RateLimited, err
		}
		metrics.Alerts.WithLabelValues(DeliveryError.String()).Inc()
		log.Warn().Err(err).Str("chat", p.ChatID).Msg("alert delivery failed, dropped")
		return DeliveryError, fmt.Errorf("%w: %w", ErrDelivery, err)
	}
	metrics.Alerts.WithLabelValues(Delivered.String()).Inc()
	return Delivered, nil
}

func (d *Dispatcher) sendNotice(ctx context.Context, chatID string) {
	metrics.Alerts.WithLabelValues("notice").Inc()
	if err := d.sink.Send(ctx, Payload{ChatID: chatID, Text: rateLimitNotice}); err != nil {
		log.Warn().Err(err).Str("chat", chatID).Msg("rate limit notice not delivered")
		return
	}
	log.Warn().Str("chat", chatID).Msg("alert rate limit exceeded, notice sent")
}
