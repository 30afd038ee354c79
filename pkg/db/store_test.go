package db

import (
	"path/filepath"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/buybot/pkg/config"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := NewStore(filepath.Join(t.TempDir(), "buybot.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func samplePair() MonitoredPair {
	return MonitoredPair{
		GroupID:       -100123,
		Chain:         config.ChainBase,
		Token:         common.HexToAddress("0x1111111111111111111111111111111111111111"),
		Pool:          common.HexToAddress("0x2222222222222222222222222222222222222222"),
		TokenDecimals: 9,
		Symbol:        "PEPE",
		MinimumBuy:    decimal.RequireFromString("50"),
		SmallBuy:      decimal.RequireFromString("500"),
		MediumBuy:     decimal.RequireFromString("2500.75"),
		ChatID:        "-100123",
		Enabled:       true,
	}
}

func TestStore_UpsertAndGetPair(t *testing.T) {
	s := newTestStore(t)
	id, err := s.UpsertPair(samplePair())
	require.NoError(t, err)

	got, err := s.GetPair(id)
	require.NoError(t, err)
	want := samplePair()
	assert.Equal(t, id, got.ID)
	assert.Equal(t, want.Chain, got.Chain)
	assert.Equal(t, want.Token, got.Token)
	assert.Equal(t, want.Pool, got.Pool)
	assert.Equal(t, want.TokenDecimals, got.TokenDecimals)
	assert.True(t, want.MediumBuy.Equal(got.MediumBuy), got.MediumBuy.String())
	assert.True(t, got.Enabled)
	assert.Equal(t, want.Key(), got.Key())
	assert.False(t, got.UpdatedAt.IsZero())
}

func TestStore_UpsertUpdatesInPlace(t *testing.T) {
	s := newTestStore(t)
	id, err := s.UpsertPair(samplePair())
	require.NoError(t, err)

	p := samplePair()
	p.MinimumBuy = decimal.RequireFromString("75")
	p.ChatID = "-100999"
	id2, err := s.UpsertPair(p)
	require.NoError(t, err)
	assert.Equal(t, id, id2)

	pairs, err := s.GetMonitoredPairs()
	require.NoError(t, err)
	require.Len(t, pairs, 1)
	assert.Equal(t, "-100999", pairs[0].ChatID)
	assert.True(t, decimal.RequireFromString("75").Equal(pairs[0].MinimumBuy))
}

func TestStore_GetPairNotFound(t *testing.T) {
	s := newTestStore(t)
	_, err := s.GetPair(42)
	assert.ErrorIs(t, err, ErrNotFound)
	assert.ErrorIs(t, s.SetPairEnabled(42, false), ErrNotFound)
}

func TestStore_DisablePairs(t *testing.T) {
	s := newTestStore(t)
	id, err := s.UpsertPair(samplePair())
	require.NoError(t, err)
	other := samplePair()
	other.Pool = common.HexToAddress("0x3333333333333333333333333333333333333333")
	_, err = s.UpsertPair(other)
	require.NoError(t, err)

	require.NoError(t, s.SetPairEnabled(id, false))
	got, err := s.GetPair(id)
	require.NoError(t, err)
	assert.False(t, got.Enabled)

	n, err := s.DisableGroup(other.GroupID)
	require.NoError(t, err)
	assert.EqualValues(t, 1, n)

	stats, err := s.GetStats()
	require.NoError(t, err)
	assert.EqualValues(t, 2, stats["pairs"])
	assert.EqualValues(t, 0, stats["pairs_enabled"])
}

func TestStore_SeedPairs(t *testing.T) {
	s := newTestStore(t)
	sp, err := config.ParseSeedPair("7|ethereum|0x1111111111111111111111111111111111111111|0x2222222222222222222222222222222222222222|18|100|1000|5000|-1007|TKN")
	require.NoError(t, err)
	require.NoError(t, s.SeedPairs([]config.SeedPair{sp, sp}))

	pairs, err := s.GetMonitoredPairs()
	require.NoError(t, err)
	require.Len(t, pairs, 1)
	assert.Equal(t, "TKN", pairs[0].Symbol)
	assert.True(t, pairs[0].Enabled)
}

func TestStore_DeliveredLedger(t *testing.T) {
	s := newTestStore(t)
	key := samplePair().Key()
	tx := "0xABCDEF0000000000000000000000000000000000000000000000000000000001"

	ok, err := s.WasDelivered(key, tx, 3)
	require.NoError(t, err)
	assert.False(t, ok)

	d := DeliveredAlert{PairKey: key, TxHash: tx, LogIndex: 3, ChatID: "-1", Tier: "small", USDValue: decimal.RequireFromString("2500")}
	require.NoError(t, s.MarkDelivered(d))
	require.NoError(t, s.MarkDelivered(d))

	ok, err = s.WasDelivered(key, tx, 3)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = s.WasDelivered(key, tx, 4)
	require.NoError(t, err)
	assert.False(t, ok, "other log index in the same tx is a different event")

	recent, err := s.GetRecentDeliveries(10)
	require.NoError(t, err)
	require.Len(t, recent, 1)
	assert.Equal(t, "small", recent[0].Tier)
	assert.True(t, decimal.RequireFromString("2500").Equal(recent[0].USDValue))
}
