package dashboard

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/buybot/pkg/chain"
	"github.com/buybot/pkg/config"
	"github.com/buybot/pkg/db"
	"github.com/buybot/pkg/pricing"
	"github.com/buybot/pkg/scanner"
)

var pool = common.HexToAddress("0x2222222222222222222222222222222222222222")

type fakeStore struct {
	pairs  []db.MonitoredPair
	alerts []db.DeliveredAlert
	limit  int
}

func (f *fakeStore) GetMonitoredPairs() ([]db.MonitoredPair, error) { return f.pairs, nil }
func (f *fakeStore) GetRecentDeliveries(limit int) ([]db.DeliveredAlert, error) {
	f.limit = limit
	return f.alerts, nil
}
func (f *fakeStore) GetStats() (map[string]int64, error) {
	return map[string]int64{"pairs": int64(len(f.pairs))}, nil
}

type fakeChains []chain.Status

func (f fakeChains) Status() []chain.Status { return f }

type fakePairs []scanner.Status

func (f fakePairs) Statuses() []scanner.Status { return f }

type fakePrices struct {
	rp  pricing.ResolvedPrice
	err error
}

func (f fakePrices) Resolve(ctx context.Context, c config.Chain, p common.Address) (pricing.ResolvedPrice, error) {
	return f.rp, f.err
}

func newTestDashboard(prices fakePrices) (*Dashboard, *fakeStore) {
	p := db.MonitoredPair{GroupID: 1, Chain: config.ChainBase, Pool: pool, Symbol: "TKN", Enabled: true}
	store := &fakeStore{pairs: []db.MonitoredPair{p}}
	scans := fakePairs{{Key: p.Key(), Chain: "base", State: "idle", Watermark: 42, Seeded: true}}
	chains := fakeChains{{Chain: config.ChainBase, Live: true}}
	return New(store, chains, scans, prices, 0), store
}

func get(t *testing.T, h http.Handler, url string) *httptest.ResponseRecorder {
	t.Helper()
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, url, nil))
	return rec
}

func TestHandlePairs_JoinsScanState(t *testing.T) {
	d, _ := newTestDashboard(fakePrices{})
	rec := get(t, d.Handler(), "/api/pairs")
	require.Equal(t, 200, rec.Code)

	var out []struct {
		Key  string `json:"key"`
		Scan struct {
			Watermark uint64 `json:"watermark"`
			State     string `json:"state"`
		} `json:"scan"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	require.Len(t, out, 1)
	assert.Equal(t, "1:base:0x2222222222222222222222222222222222222222", out[0].Key)
	assert.Equal(t, uint64(42), out[0].Scan.Watermark)
	assert.Equal(t, "idle", out[0].Scan.State)
	assert.Equal(t, "*", rec.Header().Get("Access-Control-Allow-Origin"))
}

func TestHandlePrice(t *testing.T) {
	d, _ := newTestDashboard(fakePrices{rp: pricing.ResolvedPrice{
		Chain:     config.ChainBase,
		Pool:      pool,
		Variant:   pricing.VariantV2,
		TokenFiat: decimal.RequireFromString("1.25"),
	}})
	h := d.Handler()

	rec := get(t, h, "/api/price?chain=base&pool="+pool.Hex())
	require.Equal(t, 200, rec.Code)
	var out map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	assert.Equal(t, "1.25", out["token_usd"])
	assert.Equal(t, "v2", out["variant"])

	assert.Equal(t, 400, get(t, h, "/api/price?chain=base&pool=nope").Code)
	assert.Equal(t, 400, get(t, h, "/api/price?pool="+pool.Hex()).Code)
}

func TestHandlePrice_ResolverFailure(t *testing.T) {
	d, _ := newTestDashboard(fakePrices{err: errors.New("unknown pool variant")})
	assert.Equal(t, 502, get(t, d.Handler(), "/api/price?chain=base&pool="+pool.Hex()).Code)
}

func TestHandleAlerts_Limit(t *testing.T) {
	d, store := newTestDashboard(fakePrices{})
	rec := get(t, d.Handler(), "/api/alerts?limit=5")
	require.Equal(t, 200, rec.Code)
	assert.Equal(t, 5, store.limit)
	assert.JSONEq(t, "[]", rec.Body.String())

	get(t, d.Handler(), "/api/alerts?limit=-3")
	assert.Equal(t, 100, store.limit)
}

func TestAPI_ReadOnly(t *testing.T) {
	d, _ := newTestDashboard(fakePrices{})
	rec := httptest.NewRecorder()
	d.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/pairs", nil))
	assert.Equal(t, 405, rec.Code)
}

func TestChainsAndStats(t *testing.T) {
	d, _ := newTestDashboard(fakePrices{})
	h := d.Handler()

	rec := get(t, h, "/api/chains")
	require.Equal(t, 200, rec.Code)
	assert.Contains(t, rec.Body.String(), `"live":true`)

	rec = get(t, h, "/api/stats")
	assert.JSONEq(t, `{"pairs":1}`, rec.Body.String())

	assert.Equal(t, 404, get(t, h, "/nope").Code)
	assert.Equal(t, 200, get(t, h, "/").Code)
}
