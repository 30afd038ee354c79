package telegram

import (
	"context"
	"errors"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"

	"github.com/buybot/pkg/chain"
	"github.com/buybot/pkg/config"
	"github.com/buybot/pkg/pricing"
	"github.com/buybot/pkg/scanner"
)

type fakeResolver struct {
	rp  pricing.ResolvedPrice
	err error
	got common.Address
}

func (f *fakeResolver) Resolve(ctx context.Context, c config.Chain, pool common.Address) (pricing.ResolvedPrice, error) {
	f.got = pool
	return f.rp, f.err
}

type fakeLive []chain.Status

func (f fakeLive) Status() []chain.Status { return f }

type fakePairs []scanner.Status

func (f fakePairs) Statuses() []scanner.Status { return f }

func testCommands(r *fakeResolver) *Commands {
	chains := map[config.Chain]config.ChainConfig{
		config.ChainBase: {Name: config.ChainBase, NativeSymbol: "ETH"},
		config.ChainBSC:  {Name: config.ChainBSC, NativeSymbol: "BNB"},
	}
	live := fakeLive{{Chain: config.ChainBase, Live: true}, {Chain: config.ChainBSC, Live: false}}
	pairs := fakePairs{
		{Key: "2:bsc:0xbb", State: "idle", Watermark: 900},
		{Key: "1:base:0xaa", State: "fetching", Watermark: 100, LastError: "timeout"},
	}
	return NewCommands(chains, r, live, pairs)
}

func TestParseCommand(t *testing.T) {
	cmd, args, ok := ParseCommand("/price@BuyBot base 0xabc")
	assert.True(t, ok)
	assert.Equal(t, CmdPrice, cmd)
	assert.Equal(t, []string{"base", "0xabc"}, args)

	cmd, args, ok = ParseCommand("  /STATUS  ")
	assert.True(t, ok)
	assert.Equal(t, CmdStatus, cmd)
	assert.Empty(t, args)

	_, _, ok = ParseCommand("/pricex base 0xabc")
	assert.False(t, ok)
	_, _, ok = ParseCommand("hello")
	assert.False(t, ok)
	_, _, ok = ParseCommand("")
	assert.False(t, ok)
}

func TestCommands_Price(t *testing.T) {
	r := &fakeResolver{rp: pricing.ResolvedPrice{
		Variant:     pricing.VariantV3,
		TokenInPair: decimal.RequireFromString("0.0005"),
		NativeFiat:  decimal.RequireFromString("2500"),
		TokenFiat:   decimal.RequireFromString("1.25"),
	}}
	c := testCommands(r)

	out := c.Reply(context.Background(), CmdPrice, []string{"BASE", "0x2222222222222222222222222222222222222222"})
	assert.Contains(t, out, "$1.25")
	assert.Contains(t, out, "0.0005 ETH per token")
	assert.Contains(t, out, "1 ETH = $2,500.00")
	assert.Contains(t, out, "(v3)")
	assert.Equal(t, common.HexToAddress("0x2222222222222222222222222222222222222222"), r.got)

	out = c.Reply(context.Background(), CmdPrice, []string{"https://dexscreener.com/bsc/0x3333333333333333333333333333333333333333"})
	assert.Contains(t, out, "BNB per token")
	assert.Equal(t, common.HexToAddress("0x3333333333333333333333333333333333333333"), r.got)
}

func TestCommands_PriceErrors(t *testing.T) {
	c := testCommands(&fakeResolver{err: errors.New("oracle down")})

	assert.Contains(t, c.Reply(context.Background(), CmdPrice, nil), "Usage")
	assert.Contains(t, c.Reply(context.Background(), CmdPrice, []string{"solana", "0x22"}), "Unknown chain")
	assert.Contains(t, c.Reply(context.Background(), CmdPrice, []string{"base", "nope"}), "0x address")
	assert.Contains(t, c.Reply(context.Background(), CmdPrice,
		[]string{"base", "0x2222222222222222222222222222222222222222"}), "unavailable")
}

func TestCommands_Status(t *testing.T) {
	out := testCommands(&fakeResolver{}).Reply(context.Background(), CmdStatus, nil)
	assert.Contains(t, out, "🟢 base")
	assert.Contains(t, out, "🔴 bsc")
	assert.Contains(t, out, "Pairs</b> (2)")
	assert.Less(t, indexOf(out, "1:base:0xaa"), indexOf(out, "2:bsc:0xbb"), "pairs sorted by key")
	assert.Contains(t, out, "⚠️")
}

func TestCommands_Help(t *testing.T) {
	out := testCommands(&fakeResolver{}).Reply(context.Background(), CmdHelp, nil)
	assert.Contains(t, out, "Chains: base, bsc")
}

func indexOf(s, sub string) int {
	for i := 0; i+len(sub) <= len(s); i++ {
		if s[i:i+len(sub)] == sub {
			return i
		}
	}
	return -1
}
