// Package metrics holds the prometheus collectors shared by the engine.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "buybot"

var (
	ChainLive = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: "chain",
		Name:      "live",
		Help:      "1 when the chain RPC endpoint is connected",
	}, []string{"chain"})

	RPCLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Subsystem: "chain",
		Name:      "rpc_duration_seconds",
		Help:      "Latency of chain RPC calls issued by the scanner",
		Buckets:   prometheus.DefBuckets,
	}, []string{"chain", "method"})

	ScanTicks = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "scanner",
		Name:      "ticks_total",
		Help:      "Scanner ticks by outcome (idle, advanced, fetch_error, not_live)",
	}, []string{"chain", "outcome"})

	TransfersSeen = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "scanner",
		Name:      "transfers_total",
		Help:      "Transfer-from-pool events fetched",
	}, []string{"chain"})

	Watermark = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: "scanner",
		Name:      "watermark_block",
		Help:      "Last fully processed block per monitored pair",
	}, []string{"pair"})

	PriceResolutions = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "pricing",
		Name:      "resolutions_total",
		Help:      "Token price resolutions by outcome",
	}, []string{"chain", "outcome"})

	Buys = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "analyzer",
		Name:      "buys_total",
		Help:      "Classified transfers by tier, skipped ones under skip_*",
	}, []string{"chain", "tier"})

	Alerts = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "alert",
		Name:      "sent_total",
		Help:      "Alert dispatch outcomes",
	}, []string{"outcome"})

	ActiveJobs = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: "monitor",
		Name:      "active_jobs",
		Help:      "Pairs with a scheduled scan job",
	})
)

func Handler() http.Handler {
	return promhttp.Handler()
}
