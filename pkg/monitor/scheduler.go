// Package monitor keeps one recurring scan job per enabled monitored pair.
package monitor

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/buybot/pkg/alert"
	"github.com/buybot/pkg/analyzer"
	"github.com/buybot/pkg/db"
	"github.com/buybot/pkg/metrics"
	"github.com/buybot/pkg/scanner"
)

// PairSource is the read side of the configuration store.
type PairSource interface {
	GetMonitoredPairs() ([]db.MonitoredPair, error)
}

type Classifier interface {
	Classify(ctx context.Context, t scanner.RawTransfer, p db.MonitoredPair) (analyzer.ClassifiedBuy, error)
}

type Dispatcher interface {
	Send(ctx context.Context, b analyzer.ClassifiedBuy) (alert.Outcome, error)
	Notify(ctx context.Context, chatID, text string) (alert.Outcome, error)
}

type Options struct {
	Interval        time.Duration // per-pair poll interval
	RefreshInterval time.Duration // store re-read interval, 0 disables
	Scan            scanner.Options
}

// job is the scheduled task of one pair. The pair snapshot may be swapped
// while the scanner, and so the watermark, is kept.
type job struct {
	id        cron.EntryID
	scan      *scanner.Scanner
	cancelled atomic.Bool

	mu   sync.RWMutex
	pair db.MonitoredPair
}

func (j *job) snapshot() db.MonitoredPair {
	j.mu.RLock()
	defer j.mu.RUnlock()
	return j.pair
}

func (j *job) swap(p db.MonitoredPair) {
	j.mu.Lock()
	j.pair = p
	j.mu.Unlock()
}

type Scheduler struct {
	store      PairSource
	chains     scanner.ChainSource
	classifier Classifier
	dispatcher Dispatcher
	opts       Options
	cron       *cron.Cron

	ctx context.Context

	mu      sync.Mutex
	jobs    map[string]*job
	loaded  bool
	started bool
}

func New(store PairSource, chains scanner.ChainSource, classifier Classifier, dispatcher Dispatcher, opts Options) *Scheduler {
	cl := cronLogger{lg: log.With().Str("component", "cron").Logger()}
	return &Scheduler{
		store:      store,
		chains:     chains,
		classifier: classifier,
		dispatcher: dispatcher,
		opts:       opts,
		cron: cron.New(
			cron.WithLogger(cl),
			cron.WithChain(cron.Recover(cl), cron.SkipIfStillRunning(cl)),
		),
		ctx:  context.Background(),
		jobs: make(map[string]*job),
	}
}

// Run loads the pairs, starts the cron and blocks until ctx is done. Running
// ticks are waited for before it returns.
func (s *Scheduler) Run(ctx context.Context) error {
	s.mu.Lock()
	s.ctx = ctx
	s.mu.Unlock()

	if err := s.Refresh(ctx); err != nil {
		log.Warn().Err(err).Msg("initial pair load failed, retrying on refresh")
	}
	if s.opts.RefreshInterval > 0 {
		s.cron.Schedule(cron.Every(s.opts.RefreshInterval), cron.FuncJob(func() {
			if err := s.Refresh(ctx); err != nil {
				log.Warn().Err(err).Msg("pair refresh failed")
			}
		}))
	}

	s.cron.Start()
	s.mu.Lock()
	s.started = true
	for _, j := range s.jobs {
		s.kick(j)
	}
	s.mu.Unlock()
	log.Info().Int("pairs", s.Len()).Dur("interval", s.opts.Interval).Msg("⏱️ scheduler started")

	<-ctx.Done()
	<-s.cron.Stop().Done()
	log.Info().Msg("scheduler stopped")
	return ctx.Err()
}

// Refresh reconciles jobs with the store: exactly one job per enabled pair
// key. A pair whose chain, token, pool or decimals changed gets a new job and
// a fresh watermark; other changes are applied to the running job.
func (s *Scheduler) Refresh(ctx context.Context) error {
	pairs, err := s.store.GetMonitoredPairs()
	if err != nil {
		return fmt.Errorf("load pairs: %w", err)
	}

	want := make(map[string]db.MonitoredPair, len(pairs))
	for _, p := range pairs {
		if p.Enabled {
			want[p.Key()] = p
		}
	}

	s.mu.Lock()
	for key, j := range s.jobs {
		if _, ok := want[key]; !ok {
			s.removeLocked(key, j, "disabled")
		}
	}

	var added []db.MonitoredPair
	for key, p := range want {
		j, ok := s.jobs[key]
		switch {
		case !ok:
			s.addLocked(p)
			added = append(added, p)
		case !j.snapshot().SameTarget(p):
			s.removeLocked(key, j, "target changed")
			s.addLocked(p)
		default:
			j.swap(p)
		}
	}
	metrics.ActiveJobs.Set(float64(len(s.jobs)))
	announce := s.loaded
	s.loaded = true
	s.mu.Unlock()

	if announce {
		for _, p := range added {
			msg := fmt.Sprintf("👀 Now tracking buys of <b>%s</b> on %s.", p.Label(), p.Chain)
			if _, err := s.dispatcher.Notify(ctx, p.ChatID, msg); err != nil {
				log.Debug().Err(err).Str("pair", p.Key()).Msg("tracking notice not sent")
			}
		}
	}
	return nil
}

func (s *Scheduler) addLocked(p db.MonitoredPair) {
	key := p.Key()
	j := &job{pair: p}
	j.scan = scanner.New(s.chains, scanner.Target{
		Key:   key,
		Chain: p.Chain,
		Token: p.Token,
		Pool:  p.Pool,
	}, s.opts.Scan)
	j.id = s.cron.Schedule(cron.Every(s.opts.Interval), cron.FuncJob(func() { s.run(j) }))
	s.jobs[key] = j
	if s.started {
		s.kick(j)
	}
	log.Info().
		Str("pair", key).
		Str("symbol", p.Label()).
		Str("pool", abbrev(p.Pool.Hex())).
		Msg("📌 pair scheduled")
}

// removeLocked cancels future ticks of j. An in-flight tick finishes its
// current unit; the cancelled flag stops it from starting another.
func (s *Scheduler) removeLocked(key string, j *job, reason string) {
	j.cancelled.Store(true)
	s.cron.Remove(j.id)
	delete(s.jobs, key)
	metrics.Watermark.DeleteLabelValues(key)
	log.Info().Str("pair", key).Str("reason", reason).Msg("pair unscheduled")
}

// kick runs the first tick right away through the job's wrapper chain.
func (s *Scheduler) kick(j *job) {
	e := s.cron.Entry(j.id)
	if e.WrappedJob == nil {
		return
	}
	go e.WrappedJob.Run()
}

func (s *Scheduler) run(j *job) {
	if j.cancelled.Load() {
		return
	}
	s.mu.Lock()
	ctx := s.ctx
	s.mu.Unlock()
	_, _ = s.tick(ctx, j)
}

func (s *Scheduler) tick(ctx context.Context, j *job) (scanner.TickResult, error) {
	key := j.scan.Target().Key
	res, err := j.scan.Tick(ctx, func(ctx context.Context, t scanner.RawTransfer) error {
		return s.handle(ctx, j, t)
	})
	switch {
	case errors.Is(err, scanner.ErrTickInProgress):
		log.Debug().Str("pair", key).Msg("previous tick still running, skipped")
	case err != nil:
		log.Warn().Err(err).Str("pair", key).Msg("tick failed, retrying next interval")
	case res.Events > 0:
		log.Info().
			Str("pair", key).
			Uint64("from", res.From).
			Uint64("to", res.To).
			Int("events", res.Events).
			Int("failed", res.Failed).
			Msg("📦 scanned")
	}
	return res, err
}

// handle classifies and alerts one transfer. Skips are not failures; pricing
// and delivery errors are returned so the scanner counts them.
func (s *Scheduler) handle(ctx context.Context, j *job, t scanner.RawTransfer) error {
	pair := j.snapshot()
	buy, err := s.classifier.Classify(ctx, t, pair)
	if errors.Is(err, analyzer.ErrBelowMinimum) {
		return nil
	}
	if err != nil {
		return err
	}
	out, err := s.dispatcher.Send(ctx, buy)
	if out == alert.DeliveryError {
		return err
	}
	return nil
}

// Statuses lists the scan state of every scheduled pair, sorted by key.
func (s *Scheduler) Statuses() []scanner.Status {
	s.mu.Lock()
	out := make([]scanner.Status, 0, len(s.jobs))
	for _, j := range s.jobs {
		out = append(out, j.scan.Status())
	}
	s.mu.Unlock()
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out
}

func (s *Scheduler) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.jobs)
}

func (s *Scheduler) job(key string) (*job, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	j, ok := s.jobs[key]
	return j, ok
}

// cronLogger routes cron's logr-style output into zerolog.
type cronLogger struct {
	lg zerolog.Logger
}

func (c cronLogger) Info(msg string, keysAndValues ...interface{}) {
	c.lg.Debug().Fields(keysAndValues).Msg(msg)
}

func (c cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	c.lg.Error().Err(err).Fields(keysAndValues).Msg(msg)
}

func abbrev(addr string) string {
	if len(addr) > 12 {
		return addr[:6] + "..." + addr[len(addr)-4:]
	}
	return addr
}
