package telegram

import (
	"context"
	"fmt"
	"html"
	"sort"
	"strings"

	"github.com/ethereum/go-ethereum/common"

	"github.com/buybot/pkg/alert"
	"github.com/buybot/pkg/chain"
	"github.com/buybot/pkg/config"
	"github.com/buybot/pkg/extractor"
	"github.com/buybot/pkg/pricing"
	"github.com/buybot/pkg/scanner"
)

type Command int

const (
	CmdPrice Command = iota
	CmdStatus
	CmdHelp
)

// commandNames is the fixed command table the bot registers.
var commandNames = map[Command]string{
	CmdPrice:  "/price",
	CmdStatus: "/status",
	CmdHelp:   "/help",
}

func (c Command) String() string { return commandNames[c] }

// ParseCommand splits "/price@MyBot base 0xabc" into the command and its
// arguments.
func ParseCommand(text string) (Command, []string, bool) {
	fields := strings.Fields(text)
	if len(fields) == 0 {
		return 0, nil, false
	}
	name := strings.ToLower(fields[0])
	if i := strings.IndexByte(name, '@'); i > 0 {
		name = name[:i]
	}
	for cmd, n := range commandNames {
		if n == name {
			return cmd, fields[1:], true
		}
	}
	return 0, nil, false
}

type PriceResolver interface {
	Resolve(ctx context.Context, c config.Chain, pool common.Address) (pricing.ResolvedPrice, error)
}

type ChainStatus interface {
	Status() []chain.Status
}

type PairStatus interface {
	Statuses() []scanner.Status
}

type handlerFunc func(ctx context.Context, args []string) string

// Commands answers bot commands. It has no Telegram dependency so replies can
// be produced and tested without a bot.
type Commands struct {
	chains map[config.Chain]config.ChainConfig
	prices PriceResolver
	live   ChainStatus
	pairs  PairStatus
	table  map[Command]handlerFunc
}

func NewCommands(chains map[config.Chain]config.ChainConfig, prices PriceResolver, live ChainStatus, pairs PairStatus) *Commands {
	c := &Commands{chains: chains, prices: prices, live: live, pairs: pairs}
	c.table = map[Command]handlerFunc{
		CmdPrice:  c.price,
		CmdStatus: c.status,
		CmdHelp:   c.help,
	}
	return c
}

func (c *Commands) Reply(ctx context.Context, cmd Command, args []string) string {
	h, ok := c.table[cmd]
	if !ok {
		return c.help(ctx, nil)
	}
	return h(ctx, args)
}

func (c *Commands) price(ctx context.Context, args []string) string {
	if len(args) == 0 {
		return "Usage: <code>/price &lt;chain&gt; &lt;pool address&gt;</code> or <code>/price &lt;chart link&gt;</code>"
	}
	ref, ok := extractor.ExtractPoolRef(strings.Join(args, " "))
	if !ok {
		if _, known := extractor.ParseChain(args[0]); !known && !strings.HasPrefix(strings.ToLower(args[0]), "http") {
			return c.unknownChain(args[0])
		}
		return "❌ Pool must be a 0x address."
	}
	ch, pool := ref.Chain, ref.Pool
	cc, ok := c.chains[ch]
	if !ok {
		return c.unknownChain(string(ch))
	}

	rp, err := c.prices.Resolve(ctx, ch, pool)
	if err != nil {
		return "⚠️ Price unavailable right now, try again shortly."
	}
	return fmt.Sprintf("💲 <b>$%s</b>\n≈ %s %s per token\n1 %s = $%s\npool %s (%s)",
		alert.FormatPrice(rp.TokenFiat),
		alert.FormatPrice(rp.TokenInPair), cc.NativeSymbol,
		cc.NativeSymbol, alert.FormatNumber(rp.NativeFiat, 2),
		abbrev(pool.Hex()), rp.Variant)
}

func (c *Commands) status(ctx context.Context, args []string) string {
	var sb strings.Builder
	sb.WriteString("<b>Chains</b>\n")
	for _, st := range c.live.Status() {
		mark := "🟢"
		if !st.Live {
			mark = "🔴"
		}
		fmt.Fprintf(&sb, "%s %s\n", mark, st.Chain)
	}

	statuses := c.pairs.Statuses()
	sort.Slice(statuses, func(i, j int) bool { return statuses[i].Key < statuses[j].Key })
	fmt.Fprintf(&sb, "\n<b>Pairs</b> (%d)\n", len(statuses))
	for _, st := range statuses {
		fmt.Fprintf(&sb, "• <code>%s</code> %s block %d", html.EscapeString(st.Key), st.State, st.Watermark)
		if st.LastError != "" {
			sb.WriteString(" ⚠️")
		}
		sb.WriteByte('\n')
	}
	return strings.TrimRight(sb.String(), "\n")
}

func (c *Commands) help(ctx context.Context, args []string) string {
	return "<b>Buy bot</b>\n" +
		"/price &lt;chain&gt; &lt;pool&gt; or a chart link · current token price\n" +
		"/status · chain and scanner health\n" +
		"Chains: " + c.chainList()
}

func (c *Commands) unknownChain(name string) string {
	return fmt.Sprintf("❌ Unknown chain <code>%s</code>. Supported: %s", html.EscapeString(name), c.chainList())
}

func (c *Commands) chainList() string {
	names := make([]string, 0, len(c.chains))
	for ch := range c.chains {
		names = append(names, string(ch))
	}
	sort.Strings(names)
	return strings.Join(names, ", ")
}

func abbrev(addr string) string {
	if len(addr) > 12 {
		return addr[:6] + "..." + addr[len(addr)-4:]
	}
	return addr
}
