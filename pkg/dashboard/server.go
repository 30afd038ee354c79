// Package dashboard serves the read-only status API and the metrics endpoint.
package dashboard

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/rs/zerolog/log"

	"github.com/buybot/pkg/chain"
	"github.com/buybot/pkg/config"
	"github.com/buybot/pkg/db"
	"github.com/buybot/pkg/metrics"
	"github.com/buybot/pkg/pricing"
	"github.com/buybot/pkg/scanner"
)

type Store interface {
	GetMonitoredPairs() ([]db.MonitoredPair, error)
	GetRecentDeliveries(limit int) ([]db.DeliveredAlert, error)
	GetStats() (map[string]int64, error)
}

type ChainStatus interface {
	Status() []chain.Status
}

type PairStatus interface {
	Statuses() []scanner.Status
}

type PriceResolver interface {
	Resolve(ctx context.Context, c config.Chain, pool common.Address) (pricing.ResolvedPrice, error)
}

type Dashboard struct {
	store  Store
	chains ChainStatus
	pairs  PairStatus
	prices PriceResolver
	port   int
}

func New(store Store, chains ChainStatus, pairs PairStatus, prices PriceResolver, port int) *Dashboard {
	return &Dashboard{store: store, chains: chains, pairs: pairs, prices: prices, port: port}
}

func (d *Dashboard) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("/api/stats", cors(d.handleStats))
	mux.HandleFunc("/api/chains", cors(d.handleChains))
	mux.HandleFunc("/api/pairs", cors(d.handlePairs))
	mux.HandleFunc("/api/price", cors(d.handlePrice))
	mux.HandleFunc("/api/alerts", cors(d.handleAlerts))
	mux.Handle("/metrics", metrics.Handler())

	mux.HandleFunc("/", d.serveFrontend)
	return mux
}

// Run serves until ctx is done.
func (d *Dashboard) Run(ctx context.Context) error {
	addr := fmt.Sprintf(":%d", d.port)
	srv := &http.Server{Addr: addr, Handler: d.Handler(), ReadHeaderTimeout: 10 * time.Second}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	log.Info().Str("addr", addr).Msg("🌐 dashboard started")
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func cors(h http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
		if r.Method == http.MethodOptions {
			w.WriteHeader(200)
			return
		}
		if r.Method != http.MethodGet {
			http.Error(w, "GET only", 405)
			return
		}
		h(w, r)
	}
}

func writeJSON(w http.ResponseWriter, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(data)
}

func (d *Dashboard) handleStats(w http.ResponseWriter, r *http.Request) {
	stats, err := d.store.GetStats()
	if err != nil {
		http.Error(w, err.Error(), 500)
		return
	}
	writeJSON(w, stats)
}

func (d *Dashboard) handleChains(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, d.chains.Status())
}

func (d *Dashboard) handlePairs(w http.ResponseWriter, r *http.Request) {
	pairs, err := d.store.GetMonitoredPairs()
	if err != nil {
		http.Error(w, err.Error(), 500)
		return
	}
	scans := map[string]scanner.Status{}
	for _, st := range d.pairs.Statuses() {
		scans[st.Key] = st
	}

	type pairView struct {
		db.MonitoredPair
		Key  string          `json:"key"`
		Scan *scanner.Status `json:"scan,omitempty"`
	}
	result := make([]pairView, 0, len(pairs))
	for _, p := range pairs {
		v := pairView{MonitoredPair: p, Key: p.Key()}
		if st, ok := scans[v.Key]; ok {
			v.Scan = &st
		}
		result = append(result, v)
	}
	writeJSON(w, result)
}

func (d *Dashboard) handlePrice(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	ch := config.Chain(strings.ToLower(q.Get("chain")))
	pool := q.Get("pool")
	if ch == "" || !common.IsHexAddress(pool) {
		http.Error(w, "chain and pool are required", 400)
		return
	}
	rp, err := d.prices.Resolve(r.Context(), ch, common.HexToAddress(pool))
	if err != nil {
		http.Error(w, err.Error(), 502)
		return
	}
	writeJSON(w, map[string]interface{}{
		"chain":         rp.Chain,
		"pool":          rp.Pool.Hex(),
		"variant":       rp.Variant.String(),
		"token_in_pair": rp.TokenInPair.String(),
		"native_usd":    rp.NativeFiat.String(),
		"token_usd":     rp.TokenFiat.String(),
		"at":            rp.At,
	})
}

func (d *Dashboard) handleAlerts(w http.ResponseWriter, r *http.Request) {
	limit := 100
	if l := r.URL.Query().Get("limit"); l != "" {
		if n, err := strconv.Atoi(l); err == nil && n > 0 {
			limit = n
		}
	}
	alerts, err := d.store.GetRecentDeliveries(limit)
	if err != nil {
		http.Error(w, err.Error(), 500)
		return
	}
	if alerts == nil {
		alerts = []db.DeliveredAlert{}
	}
	writeJSON(w, alerts)
}
