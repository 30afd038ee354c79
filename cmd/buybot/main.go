package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/fatih/color"
	"github.com/olekukonko/tablewriter"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"github.com/buybot/pkg/alert"
	"github.com/buybot/pkg/analyzer"
	"github.com/buybot/pkg/chain"
	"github.com/buybot/pkg/config"
	"github.com/buybot/pkg/dashboard"
	"github.com/buybot/pkg/db"
	"github.com/buybot/pkg/monitor"
	"github.com/buybot/pkg/pricing"
	"github.com/buybot/pkg/scanner"
	"github.com/buybot/pkg/telegram"
)

func main() {
	log.Logger = zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: "15:04:05"}).With().Timestamp().Logger()
	log.Info().Msg("🤖 buy bot starting...")

	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("config load failed")
	}
	if lvl, err := zerolog.ParseLevel(strings.ToLower(cfg.LogLevel)); err == nil {
		zerolog.SetGlobalLevel(lvl)
	}
	if err := cfg.Validate(); err != nil {
		log.Fatal().Err(err).Msg("invalid config")
	}

	store, err := db.NewStore(cfg.DBPath)
	if err != nil {
		log.Fatal().Err(err).Msg("database init failed")
	}
	defer store.Close()

	if err := store.SeedPairs(cfg.SeedPairs); err != nil {
		log.Error().Err(err).Msg("seeding pairs failed")
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	chains := chain.NewRegistry(cfg, chain.DialEthclient)
	chains.Connect(ctx)
	defer chains.Close()

	prices := pricing.New(chains, cfg.DetectCacheTTL, cfg.RPCTimeout)
	classifier := analyzer.New(prices)

	var sink alert.Sink = logSink{}
	var tg *telegram.Bot
	if cfg.TelegramBotToken != "" {
		tg, err = telegram.New(cfg.TelegramBotToken)
		if err != nil {
			log.Error().Err(err).Msg("telegram unavailable, alerts go to the log")
		} else {
			sink = tg
		}
	} else {
		log.Warn().Msg("TELEGRAM_BOT_TOKEN not set, alerts go to the log")
	}

	limiter := alert.NewLimiter(cfg.AlertRateBurst, cfg.AlertRatePerMinute)
	dispatcher := alert.NewDispatcher(sink, limiter, store, cfg)

	sched := monitor.New(store, chains, classifier, dispatcher, monitor.Options{
		Interval:        cfg.ScanInterval,
		RefreshInterval: cfg.ConfigRefreshInterval,
		Scan: scanner.Options{
			Lookback:   cfg.LookbackBlocks,
			MaxRange:   cfg.MaxBlockRange,
			RPCTimeout: cfg.RPCTimeout,
		},
	})

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return sched.Run(ctx) })

	if tg != nil {
		tg.RegisterCommands(telegram.NewCommands(cfg.Chains, prices, chains, sched))
		g.Go(func() error { return tg.Run(ctx) })
	}

	dash := dashboard.New(store, chains, sched, prices, cfg.DashboardPort)
	g.Go(func() error { return dash.Run(ctx) })

	printSummary(cfg, store, chains, tg != nil)

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		log.Error().Err(err).Msg("error")
	}
	log.Info().Msg("goodbye 👋")
}

// logSink stands in for Telegram when no bot token is configured.
type logSink struct{}

func (logSink) Send(ctx context.Context, p alert.Payload) error {
	log.Info().Str("chat", p.ChatID).Str("media", p.MediaURL).Msg(p.Text)
	return nil
}

func printSummary(cfg *config.Config, store *db.Store, chains *chain.Registry, telegramOn bool) {
	bold := color.New(color.Bold).SprintFunc()
	fmt.Println("\n" + strings.Repeat("═", 60))
	fmt.Println(bold("  🤖 BUY BOT - RUNNING"))
	fmt.Println(strings.Repeat("═", 60))

	ct := tablewriter.NewWriter(os.Stdout)
	ct.SetHeader([]string{"Chain", "Status", "Pairing asset", "RPC"})
	ct.SetBorder(false)
	for _, st := range chains.Status() {
		cc, _ := chains.ChainConfig(st.Chain)
		status := color.GreenString("live")
		if !st.Live {
			status = color.RedString("down")
		}
		ct.Append([]string{string(st.Chain), status, cc.NativeSymbol, cc.RPCURL})
	}
	ct.Render()

	pairs, _ := store.GetMonitoredPairs()
	if len(pairs) > 0 {
		pt := tablewriter.NewWriter(os.Stdout)
		pt.SetHeader([]string{"Pair", "Symbol", "Min $", "Small $", "Medium $", "Enabled"})
		pt.SetBorder(false)
		for _, p := range pairs {
			enabled := color.GreenString("yes")
			if !p.Enabled {
				enabled = color.YellowString("no")
			}
			pt.Append([]string{p.Key(), p.Label(), p.MinimumBuy.String(), p.SmallBuy.String(), p.MediumBuy.String(), enabled})
		}
		pt.Render()
	}

	tgStatus := color.YellowString("❌ log only (set TELEGRAM_BOT_TOKEN)")
	if telegramOn {
		tgStatus = color.GreenString("✅ Bot API")
	}
	fmt.Printf("  Telegram:  %s\n", tgStatus)
	fmt.Printf("  Interval:  %s (lookback %d blocks, max range %d)\n", cfg.ScanInterval, cfg.LookbackBlocks, cfg.MaxBlockRange)
	fmt.Printf("  Dashboard: http://localhost:%d\n", cfg.DashboardPort)
	if stats, err := store.GetStats(); err == nil {
		fmt.Printf("  DB: %d pairs (%d enabled), %d alerts delivered\n", stats["pairs"], stats["pairs_enabled"], stats["alerts_delivered"])
	}
	fmt.Println(strings.Repeat("═", 60) + "\n")
}
