// Package scanner incrementally fetches Transfer events sent by a liquidity
// pool, one watermark per monitored pair.
package scanner

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/rs/zerolog/log"

	"github.com/buybot/pkg/chain"
	"github.com/buybot/pkg/config"
	"github.com/buybot/pkg/metrics"
)

// ErrTickInProgress is returned when Tick is called while another tick for the
// same pair is still running.
var ErrTickInProgress = errors.New("scan tick already in progress")

type State int32

const (
	StateIdle State = iota
	StateFetching
	StateClassifying
	StateAdvancing
)

func (s State) String() string {
	switch s {
	case StateFetching:
		return "fetching"
	case StateClassifying:
		return "classifying"
	case StateAdvancing:
		return "advancing"
	default:
		return "idle"
	}
}

// ChainSource is the part of chain.Registry the scanner needs.
type ChainSource interface {
	Client(ctx context.Context, c config.Chain) (chain.Client, error)
	Report(c config.Chain, err error)
}

// Target is the on-chain identity of a monitored pair.
type Target struct {
	Key   string
	Chain config.Chain
	Token common.Address
	Pool  common.Address
}

type Options struct {
	Lookback   uint64        // blocks replayed on first activation
	MaxRange   uint64        // blocks fetched per tick, 0 means unbounded
	RPCTimeout time.Duration // per RPC call, 0 means the caller's context only
}

// Handler processes one transfer. An error is logged and counted; it never
// stops the rest of the batch.
type Handler func(ctx context.Context, t RawTransfer) error

type TickResult struct {
	From   uint64
	To     uint64
	Events int
	Failed int
	Idle   bool
}

type Status struct {
	Key       string    `json:"key"`
	Chain     string    `json:"chain"`
	State     string    `json:"state"`
	Watermark uint64    `json:"watermark"`
	Seeded    bool      `json:"seeded"`
	LastTick  time.Time `json:"last_tick"`
	LastError string    `json:"last_error,omitempty"`
}

// Scanner owns the watermark of exactly one pair. Tick is not reentrant; a
// concurrent call returns ErrTickInProgress.
type Scanner struct {
	chains ChainSource
	target Target
	opts   Options
	now    func() time.Time

	tick sync.Mutex

	mu        sync.Mutex
	watermark uint64
	seeded    bool
	state     State
	lastTick  time.Time
	lastErr   string
}

func New(chains ChainSource, target Target, opts Options) *Scanner {
	return &Scanner{chains: chains, target: target, opts: opts, now: time.Now}
}

func (s *Scanner) Target() Target { return s.target }

// Watermark returns the last fully processed block and whether the pair has
// been seeded yet.
func (s *Scanner) Watermark() (uint64, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.watermark, s.seeded
}

func (s *Scanner) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

func (s *Scanner) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Status{
		Key:       s.target.Key,
		Chain:     string(s.target.Chain),
		State:     s.state.String(),
		Watermark: s.watermark,
		Seeded:    s.seeded,
		LastTick:  s.lastTick,
		LastError: s.lastErr,
	}
}

func (s *Scanner) setState(st State) {
	s.mu.Lock()
	s.state = st
	s.mu.Unlock()
}

func (s *Scanner) finish(err error) {
	s.mu.Lock()
	s.state = StateIdle
	s.lastTick = s.now()
	if err != nil {
		s.lastErr = err.Error()
	} else {
		s.lastErr = ""
	}
	s.mu.Unlock()
}

// Tick runs one Fetching, Classifying, Advancing cycle. On any fetch failure
// the watermark is untouched and the same range is retried next tick.
func (s *Scanner) Tick(ctx context.Context, handle Handler) (res TickResult, err error) {
	if !s.tick.TryLock() {
		return TickResult{}, ErrTickInProgress
	}
	defer s.tick.Unlock()
	defer func() { s.finish(err) }()

	c := s.target.Chain
	lg := log.With().Str("chain", string(c)).Str("pool", abbrev(s.target.Pool.Hex())).Str("pair", s.target.Key).Logger()

	s.setState(StateFetching)
	client, err := s.chains.Client(ctx, c)
	if err != nil {
		metrics.ScanTicks.WithLabelValues(string(c), "not_live").Inc()
		return TickResult{}, err
	}

	latest, err := s.blockNumber(ctx, client)
	if err != nil {
		s.chains.Report(c, err)
		metrics.ScanTicks.WithLabelValues(string(c), "fetch_error").Inc()
		return TickResult{}, fmt.Errorf("latest block: %w", err)
	}

	wm, seeded := s.Watermark()
	if !seeded {
		wm = 0
		if latest > s.opts.Lookback {
			wm = latest - s.opts.Lookback
		}
		s.mu.Lock()
		s.watermark, s.seeded = wm, true
		s.mu.Unlock()
		metrics.Watermark.WithLabelValues(s.target.Key).Set(float64(wm))
		lg.Info().Uint64("block", wm).Uint64("lookback", s.opts.Lookback).Msg("📍 watermark seeded")
	}

	from, to := wm+1, latest
	if s.opts.MaxRange > 0 && from <= to && to-from+1 > s.opts.MaxRange {
		to = from + s.opts.MaxRange - 1
	}
	if from > to {
		metrics.ScanTicks.WithLabelValues(string(c), "idle").Inc()
		lg.Debug().Uint64("block", latest).Msg("no new blocks")
		return TickResult{From: from, To: to, Idle: true}, nil
	}

	transfers, rejected, err := s.fetch(ctx, client, from, to)
	if err != nil {
		s.chains.Report(c, err)
		metrics.ScanTicks.WithLabelValues(string(c), "fetch_error").Inc()
		return TickResult{From: from, To: to}, fmt.Errorf("get logs [%d,%d]: %w", from, to, err)
	}
	metrics.TransfersSeen.WithLabelValues(string(c)).Add(float64(len(transfers)))
	res = TickResult{From: from, To: to, Events: len(transfers), Failed: rejected}

	s.setState(StateClassifying)
	for _, t := range transfers {
		if ctx.Err() != nil {
			// Shutdown mid-batch: leave the range for the next run.
			return res, ctx.Err()
		}
		if herr := handle(ctx, t); herr != nil {
			res.Failed++
			lg.Warn().Err(herr).
				Str("tx", t.TxHash.Hex()).
				Uint64("block", t.BlockNumber).
				Uint("log_index", t.LogIndex).
				Msg("transfer not processed")
		}
	}

	s.setState(StateAdvancing)
	s.mu.Lock()
	if to > s.watermark {
		s.watermark = to
	}
	s.mu.Unlock()
	metrics.Watermark.WithLabelValues(s.target.Key).Set(float64(to))
	metrics.ScanTicks.WithLabelValues(string(c), "advanced").Inc()

	lg.Debug().
		Uint64("from", from).
		Uint64("to", to).
		Int("events", res.Events).
		Int("failed", res.Failed).
		Msg("scan range processed")
	return res, nil
}

func (s *Scanner) rpcContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if s.opts.RPCTimeout > 0 {
		return context.WithTimeout(ctx, s.opts.RPCTimeout)
	}
	return context.WithCancel(ctx)
}

func (s *Scanner) blockNumber(ctx context.Context, client chain.Client) (uint64, error) {
	rctx, cancel := s.rpcContext(ctx)
	defer cancel()
	start := time.Now()
	n, err := client.BlockNumber(rctx)
	metrics.RPCLatency.WithLabelValues(string(s.target.Chain), "eth_blockNumber").Observe(time.Since(start).Seconds())
	return n, err
}

// fetch returns the pool's outgoing transfers of the token in [from, to],
// sorted, plus the number of malformed logs it dropped.
func (s *Scanner) fetch(ctx context.Context, client chain.Client, from, to uint64) ([]RawTransfer, int, error) {
	q := ethereum.FilterQuery{
		FromBlock: new(big.Int).SetUint64(from),
		ToBlock:   new(big.Int).SetUint64(to),
		Addresses: []common.Address{s.target.Token},
		Topics:    [][]common.Hash{{chain.TransferTopic}, {addressTopic(s.target.Pool)}},
	}

	rctx, cancel := s.rpcContext(ctx)
	defer cancel()
	start := time.Now()
	logs, err := client.FilterLogs(rctx, q)
	metrics.RPCLatency.WithLabelValues(string(s.target.Chain), "eth_getLogs").Observe(time.Since(start).Seconds())
	if err != nil {
		return nil, 0, err
	}

	out := make([]RawTransfer, 0, len(logs))
	rejected := 0
	for _, l := range logs {
		if l.Removed {
			continue
		}
		t, ok := DecodeTransfer(l)
		if !ok || t.From != s.target.Pool {
			rejected++
			log.Warn().
				Str("pair", s.target.Key).
				Str("tx", l.TxHash.Hex()).
				Uint("log_index", l.Index).
				Msg("malformed transfer log skipped")
			continue
		}
		out = append(out, t)
	}
	sortTransfers(out)
	return out, rejected, nil
}
