// Package extractor pulls pool references out of free-form chat text.
package extractor

import (
	"regexp"
	"strings"

	"github.com/ethereum/go-ethereum/common"

	"github.com/buybot/pkg/config"
)

var (
	evmAddrRe = regexp.MustCompile(`\b(0x[a-fA-F0-9]{40})\b`)

	// Chart links that name the chain and the pool in the path.
	dexscreenerRe = regexp.MustCompile(`(?i)https?://(?:www\.)?dexscreener\.com/([a-z0-9]+)/(0x[a-fA-F0-9]{40})`)
	geckoRe       = regexp.MustCompile(`(?i)https?://(?:www\.)?geckoterminal\.com/([a-z0-9_]+)/pools/(0x[a-fA-F0-9]{40})`)

	// Chain slugs used by chart sites that differ from ours.
	chainAliases = map[string]config.Chain{
		"eth":      config.ChainEthereum,
		"ethereum": config.ChainEthereum,
		"base":     config.ChainBase,
		"bsc":      config.ChainBSC,
		"bnb":      config.ChainBSC,
	}
)

// PoolRef is a chain and pool address named in a message.
type PoolRef struct {
	Chain config.Chain
	Pool  common.Address
}

// ParseChain maps a user-supplied chain name onto a supported chain.
func ParseChain(s string) (config.Chain, bool) {
	c, ok := chainAliases[strings.ToLower(strings.TrimSpace(s))]
	return c, ok
}

// ExtractPoolRef finds a pool reference in text. It accepts a chart link
// ("https://dexscreener.com/base/0x...") or a chain name followed by an
// address ("base 0x...").
func ExtractPoolRef(text string) (PoolRef, bool) {
	for _, re := range []*regexp.Regexp{dexscreenerRe, geckoRe} {
		if m := re.FindStringSubmatch(text); m != nil {
			if c, ok := ParseChain(m[1]); ok {
				return PoolRef{Chain: c, Pool: common.HexToAddress(m[2])}, true
			}
		}
	}

	addr := evmAddrRe.FindString(text)
	if addr == "" {
		return PoolRef{}, false
	}
	for _, w := range strings.Fields(text) {
		if c, ok := ParseChain(w); ok {
			return PoolRef{Chain: c, Pool: common.HexToAddress(addr)}, true
		}
	}
	return PoolRef{}, false
}
