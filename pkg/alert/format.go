package alert

import (
	"fmt"
	"html"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"

	"github.com/buybot/pkg/analyzer"
	"github.com/buybot/pkg/config"
)

// Button is a link button attached under a message.
type Button struct {
	Text string
	URL  string
}

// Payload is what a sink delivers to one destination. Text is HTML.
type Payload struct {
	ChatID   string
	Text     string
	MediaURL string
	Buttons  []Button
}

// Links builds explorer and chart URLs. *config.Config implements it.
type Links interface {
	TxURL(c config.Chain, txHash string) string
	PoolChartURL(c config.Chain, pool common.Address) string
}

func tierEmoji(t analyzer.Tier) string {
	switch t {
	case analyzer.TierWhale:
		return "🐳"
	case analyzer.TierMedium:
		return "🐬"
	default:
		return "🟢"
	}
}

// BuyPayload renders a classified buy. The emoji row scales with the tier.
func BuyPayload(b analyzer.ClassifiedBuy, links Links) Payload {
	sym := html.EscapeString(b.Symbol)
	emoji := tierEmoji(b.Tier)
	row := strings.Repeat(emoji, map[analyzer.Tier]int{analyzer.TierSmall: 3, analyzer.TierMedium: 6, analyzer.TierWhale: 10}[b.Tier])

	var sb strings.Builder
	fmt.Fprintf(&sb, "%s <b>%s Buy!</b>\n%s\n\n", emoji, sym, row)
	fmt.Fprintf(&sb, "💰 <b>$%s</b>\n", FormatNumber(b.FiatValue, 2))
	fmt.Fprintf(&sb, "🪙 %s %s\n", FormatNumber(b.Amount, 2), sym)
	fmt.Fprintf(&sb, "💲 Price $%s\n", FormatPrice(b.Price.TokenFiat))
	fmt.Fprintf(&sb, "👤 <code>%s</code>\n", abbrev(b.Buyer.Hex()))
	fmt.Fprintf(&sb, "⛓ %s · block %d", b.Chain, b.BlockNumber)

	p := Payload{ChatID: b.ChatID, Text: sb.String(), MediaURL: b.MediaURL}
	if links != nil {
		if u := links.TxURL(b.Chain, b.TxHash.Hex()); u != "" {
			p.Buttons = append(p.Buttons, Button{Text: "🔍 Transaction", URL: u})
		}
		if u := links.PoolChartURL(b.Chain, b.Pool); u != "" {
			p.Buttons = append(p.Buttons, Button{Text: "📈 Chart", URL: u})
		}
	}
	return p
}

const rateLimitNotice = "⚠️ Alert rate limit exceeded. Some buys were not posted."

// FormatNumber renders d with thousands separators and places decimals.
func FormatNumber(d decimal.Decimal, places int32) string {
	s := d.StringFixed(places)
	neg := strings.HasPrefix(s, "-")
	s = strings.TrimPrefix(s, "-")
	intPart, frac := s, ""
	if i := strings.IndexByte(s, '.'); i >= 0 {
		intPart, frac = s[:i], s[i:]
	}
	var b strings.Builder
	if neg {
		b.WriteByte('-')
	}
	for i, r := range intPart {
		if i > 0 && (len(intPart)-i)%3 == 0 {
			b.WriteByte(',')
		}
		b.WriteRune(r)
	}
	b.WriteString(frac)
	return b.String()
}

// FormatPrice shows two decimals from $1 up and four significant digits
// below it.
func FormatPrice(d decimal.Decimal) string {
	one := decimal.NewFromInt(1)
	if d.IsZero() || d.Abs().GreaterThanOrEqual(one) {
		return FormatNumber(d, 2)
	}
	places := int32(0)
	for v := d.Abs(); v.LessThan(one) && places < 36; places++ {
		v = v.Shift(1)
	}
	return d.Round(places + 3).String()
}

func abbrev(addr string) string {
	if len(addr) > 12 {
		return addr[:6] + "..." + addr[len(addr)-4:]
	}
	return addr
}
