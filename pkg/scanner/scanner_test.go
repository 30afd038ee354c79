package scanner

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/buybot/pkg/chain"
	"github.com/buybot/pkg/chain/stub"
	"github.com/buybot/pkg/config"
)

var (
	token = common.HexToAddress("0x1111111111111111111111111111111111111111")
	pool  = common.HexToAddress("0x2222222222222222222222222222222222222222")
	buyer = common.HexToAddress("0x4444444444444444444444444444444444444444")
	other = common.HexToAddress("0x5555555555555555555555555555555555555555")
)

type fakeChains struct {
	client  *stub.Client
	err     error
	reports []error
}

func (f *fakeChains) Client(ctx context.Context, c config.Chain) (chain.Client, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.client, nil
}

func (f *fakeChains) Report(c config.Chain, err error) { f.reports = append(f.reports, err) }

func transferLog(block uint64, index uint, from, to common.Address, amount int64) types.Log {
	return types.Log{
		Address:     token,
		Topics:      []common.Hash{chain.TransferTopic, addressTopic(from), addressTopic(to)},
		Data:        common.LeftPadBytes(big.NewInt(amount).Bytes(), 32),
		BlockNumber: block,
		Index:       index,
		TxHash:      common.BigToHash(new(big.Int).SetUint64(block*1000 + uint64(index))),
	}
}

func newTestScanner(opts Options) (*Scanner, *fakeChains) {
	f := &fakeChains{client: stub.New()}
	s := New(f, Target{Key: "1:ethereum:pool", Chain: config.ChainEthereum, Token: token, Pool: pool}, opts)
	return s, f
}

type recorder struct {
	seen []RawTransfer
	fail map[uint64]bool
}

func (r *recorder) handle(ctx context.Context, t RawTransfer) error {
	r.seen = append(r.seen, t)
	if r.fail[t.BlockNumber] {
		return errors.New("price unavailable")
	}
	return nil
}

func TestDecodeTransfer(t *testing.T) {
	tr, ok := DecodeTransfer(transferLog(10, 2, pool, buyer, 12345))
	require.True(t, ok)
	assert.Equal(t, pool, tr.From)
	assert.Equal(t, buyer, tr.To)
	assert.Equal(t, int64(12345), tr.Amount.Int64())
	assert.Equal(t, uint64(10), tr.BlockNumber)
	assert.Equal(t, uint(2), tr.LogIndex)

	bad := transferLog(10, 2, pool, buyer, 1)
	bad.Data = bad.Data[:16]
	_, ok = DecodeTransfer(bad)
	assert.False(t, ok)

	nft := transferLog(10, 2, pool, buyer, 1)
	nft.Topics = append(nft.Topics, common.Hash{})
	_, ok = DecodeTransfer(nft)
	assert.False(t, ok, "ERC-721 transfers index the token id")
}

func TestTick_SeedsWatermarkWithLookback(t *testing.T) {
	s, f := newTestScanner(Options{Lookback: 5, MaxRange: 2000})
	f.client.SetBlock(100)

	res, err := s.Tick(context.Background(), (&recorder{}).handle)
	require.NoError(t, err)
	assert.Equal(t, uint64(96), res.From)
	assert.Equal(t, uint64(100), res.To)

	qs := f.client.FilterQueries()
	require.Len(t, qs, 1)
	assert.Equal(t, uint64(96), qs[0].FromBlock.Uint64())
	assert.Equal(t, uint64(100), qs[0].ToBlock.Uint64())
	assert.Equal(t, []common.Address{token}, qs[0].Addresses)
	assert.Equal(t, [][]common.Hash{{chain.TransferTopic}, {addressTopic(pool)}}, qs[0].Topics)

	wm, seeded := s.Watermark()
	assert.True(t, seeded)
	assert.Equal(t, uint64(100), wm)
	assert.Equal(t, StateIdle, s.State())
}

func TestTick_IdleWithoutNewBlocks(t *testing.T) {
	s, f := newTestScanner(Options{Lookback: 5})
	f.client.SetBlock(100)
	_, err := s.Tick(context.Background(), (&recorder{}).handle)
	require.NoError(t, err)

	res, err := s.Tick(context.Background(), (&recorder{}).handle)
	require.NoError(t, err)
	assert.True(t, res.Idle)
	assert.Len(t, f.client.FilterQueries(), 1, "idle tick issues no log query")

	// A lagging node reporting an older head is also idle.
	f.client.SetBlock(90)
	res, err = s.Tick(context.Background(), (&recorder{}).handle)
	require.NoError(t, err)
	assert.True(t, res.Idle)
	wm, _ := s.Watermark()
	assert.Equal(t, uint64(100), wm)
}

func TestTick_FetchTimeoutLeavesWatermark(t *testing.T) {
	s, f := newTestScanner(Options{Lookback: 5})
	f.client.SetBlock(100)
	_, err := s.Tick(context.Background(), (&recorder{}).handle)
	require.NoError(t, err)

	f.client.SetBlock(110)
	f.client.SetLogsErr(fmt.Errorf("get logs: %w", context.DeadlineExceeded))
	_, err = s.Tick(context.Background(), (&recorder{}).handle)
	require.Error(t, err)
	wm, _ := s.Watermark()
	assert.Equal(t, uint64(100), wm)
	require.Len(t, f.reports, 1)
	assert.Contains(t, s.Status().LastError, "deadline")

	f.client.SetLogsErr(nil)
	res, err := s.Tick(context.Background(), (&recorder{}).handle)
	require.NoError(t, err)

	qs := f.client.FilterQueries()
	require.Len(t, qs, 3)
	assert.Equal(t, qs[1].FromBlock, qs[2].FromBlock, "retry covers the identical range")
	assert.Equal(t, qs[1].ToBlock, qs[2].ToBlock)
	assert.Equal(t, uint64(101), res.From)
	wm, _ = s.Watermark()
	assert.Equal(t, uint64(110), wm)
	assert.Empty(t, s.Status().LastError)
}

func TestTick_BlockNumberFailure(t *testing.T) {
	s, f := newTestScanner(Options{Lookback: 5})
	f.client.BlockErr = errors.New("connection refused")

	_, err := s.Tick(context.Background(), (&recorder{}).handle)
	require.Error(t, err)
	_, seeded := s.Watermark()
	assert.False(t, seeded)
	assert.Len(t, f.reports, 1)
}

func TestTick_ChainNotLive(t *testing.T) {
	s, f := newTestScanner(Options{Lookback: 5})
	f.err = chain.ErrNotLive

	_, err := s.Tick(context.Background(), (&recorder{}).handle)
	assert.ErrorIs(t, err, chain.ErrNotLive)
	_, seeded := s.Watermark()
	assert.False(t, seeded)
}

func TestTick_OrdersAndFiltersEvents(t *testing.T) {
	s, f := newTestScanner(Options{Lookback: 10})
	f.client.SetBlock(100)

	notFromPool := transferLog(95, 0, other, buyer, 7)
	wrongToken := transferLog(95, 1, pool, buyer, 8)
	wrongToken.Address = other
	f.client.AddLogs(
		transferLog(99, 4, pool, buyer, 3),
		transferLog(92, 7, pool, buyer, 1),
		notFromPool,
		transferLog(99, 1, pool, buyer, 2),
		wrongToken,
		transferLog(80, 0, pool, buyer, 99), // before the seeded range
	)

	rec := &recorder{}
	res, err := s.Tick(context.Background(), rec.handle)
	require.NoError(t, err)
	require.Len(t, rec.seen, 3)
	assert.Equal(t, 3, res.Events)

	var amounts []int64
	for _, tr := range rec.seen {
		amounts = append(amounts, tr.Amount.Int64())
	}
	assert.Equal(t, []int64{1, 2, 3}, amounts)
}

func TestTick_EventFailureDoesNotAbortBatch(t *testing.T) {
	s, f := newTestScanner(Options{Lookback: 10})
	f.client.SetBlock(100)
	f.client.AddLogs(
		transferLog(91, 0, pool, buyer, 1),
		transferLog(95, 0, pool, buyer, 2),
		transferLog(99, 0, pool, buyer, 3),
	)

	rec := &recorder{fail: map[uint64]bool{91: true, 95: true}}
	res, err := s.Tick(context.Background(), rec.handle)
	require.NoError(t, err)
	assert.Len(t, rec.seen, 3)
	assert.Equal(t, 2, res.Failed)
	wm, _ := s.Watermark()
	assert.Equal(t, uint64(100), wm)
}

func TestTick_NoEventProcessedTwice(t *testing.T) {
	s, f := newTestScanner(Options{Lookback: 10})
	f.client.SetBlock(100)
	f.client.AddLogs(transferLog(95, 0, pool, buyer, 1), transferLog(100, 0, pool, buyer, 2))

	rec := &recorder{}
	_, err := s.Tick(context.Background(), rec.handle)
	require.NoError(t, err)

	f.client.AddLogs(transferLog(103, 0, pool, buyer, 3))
	f.client.SetBlock(105)
	_, err = s.Tick(context.Background(), rec.handle)
	require.NoError(t, err)

	seen := map[common.Hash]int{}
	for _, tr := range rec.seen {
		seen[tr.TxHash]++
	}
	assert.Len(t, rec.seen, 3)
	for h, n := range seen {
		assert.Equal(t, 1, n, h.Hex())
	}
}

func TestTick_WatermarkMonotonic(t *testing.T) {
	s, f := newTestScanner(Options{Lookback: 3, MaxRange: 4})
	heads := []uint64{50, 52, 52, 51, 60, 60, 58, 70}
	var prev uint64
	for i, h := range heads {
		f.client.SetBlock(h)
		if i == 3 {
			f.client.SetLogsErr(errors.New("i/o timeout"))
		} else {
			f.client.SetLogsErr(nil)
		}
		_, _ = s.Tick(context.Background(), (&recorder{}).handle)
		wm, _ := s.Watermark()
		assert.GreaterOrEqual(t, wm, prev, "tick %d", i)
		prev = wm
	}
}

func TestTick_ChunksLargeBacklog(t *testing.T) {
	s, f := newTestScanner(Options{Lookback: 5000, MaxRange: 1000})
	f.client.SetBlock(5000)

	res, err := s.Tick(context.Background(), (&recorder{}).handle)
	require.NoError(t, err)
	assert.Equal(t, uint64(1), res.From)
	assert.Equal(t, uint64(1000), res.To)

	res, err = s.Tick(context.Background(), (&recorder{}).handle)
	require.NoError(t, err)
	assert.Equal(t, uint64(1001), res.From)
	assert.Equal(t, uint64(2000), res.To)

	wm, _ := s.Watermark()
	assert.Equal(t, uint64(2000), wm, "watermark stops at the chunk end")
}

func TestTick_NotReentrant(t *testing.T) {
	s, f := newTestScanner(Options{Lookback: 10})
	f.client.SetBlock(100)
	f.client.AddLogs(transferLog(95, 0, pool, buyer, 1))

	var inner error
	_, err := s.Tick(context.Background(), func(ctx context.Context, tr RawTransfer) error {
		assert.Equal(t, StateClassifying, s.State())
		_, inner = s.Tick(ctx, (&recorder{}).handle)
		return nil
	})
	require.NoError(t, err)
	assert.ErrorIs(t, inner, ErrTickInProgress)
}

func TestTick_CancelledMidBatchKeepsRange(t *testing.T) {
	s, f := newTestScanner(Options{Lookback: 10})
	f.client.SetBlock(100)
	f.client.AddLogs(transferLog(95, 0, pool, buyer, 1), transferLog(96, 0, pool, buyer, 2))

	ctx, cancel := context.WithCancel(context.Background())
	_, err := s.Tick(ctx, func(ctx context.Context, tr RawTransfer) error {
		cancel()
		return nil
	})
	assert.ErrorIs(t, err, context.Canceled)
	wm, _ := s.Watermark()
	assert.Equal(t, uint64(90), wm, "seeded value, not advanced")
}
