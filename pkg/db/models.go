package db

import (
	"fmt"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"

	"github.com/buybot/pkg/config"
)

// MonitoredPair is one (group, chain, pool) the engine watches for buys.
type MonitoredPair struct {
	ID            int64           `json:"id"`
	GroupID       int64           `json:"group_id"`
	Chain         config.Chain    `json:"chain"`
	Token         common.Address  `json:"token"`
	Pool          common.Address  `json:"pool"`
	TokenDecimals uint8           `json:"token_decimals"`
	Symbol        string          `json:"symbol"`
	MinimumBuy    decimal.Decimal `json:"minimum_buy"`
	SmallBuy      decimal.Decimal `json:"small_buy"`
	MediumBuy     decimal.Decimal `json:"medium_buy"`
	ChatID        string          `json:"chat_id"`   // notification sink destination
	MediaURL      string          `json:"media_url"` // optional alert header image
	Enabled       bool            `json:"enabled"`
	UpdatedAt     time.Time       `json:"updated_at"`
}

// Key identifies the pair across store reloads.
func (p MonitoredPair) Key() string {
	return fmt.Sprintf("%d:%s:%s", p.GroupID, p.Chain, strings.ToLower(p.Pool.Hex()))
}

// SameTarget reports whether both pairs scan the same on-chain events, so a
// running task can keep its watermark when only presentation settings change.
func (p MonitoredPair) SameTarget(o MonitoredPair) bool {
	return p.Chain == o.Chain && p.Token == o.Token && p.Pool == o.Pool && p.TokenDecimals == o.TokenDecimals
}

func (p MonitoredPair) Label() string {
	if p.Symbol != "" {
		return p.Symbol
	}
	return abbrev(p.Token.Hex())
}

// PairFromSeed converts an environment-declared pair into a store row.
func PairFromSeed(sp config.SeedPair) MonitoredPair {
	return MonitoredPair{
		GroupID:       sp.GroupID,
		Chain:         sp.Chain,
		Token:         sp.Token,
		Pool:          sp.Pool,
		TokenDecimals: sp.TokenDecimals,
		Symbol:        sp.Symbol,
		MinimumBuy:    sp.MinimumBuy,
		SmallBuy:      sp.SmallBuy,
		MediumBuy:     sp.MediumBuy,
		ChatID:        sp.ChatID,
		Enabled:       true,
	}
}

// DeliveredAlert is a ledger row written after a buy alert reached its sink.
type DeliveredAlert struct {
	PairKey     string          `json:"pair_key"`
	TxHash      string          `json:"tx_hash"`
	LogIndex    uint            `json:"log_index"`
	ChatID      string          `json:"chat_id"`
	Tier        string          `json:"tier"`
	USDValue    decimal.Decimal `json:"usd_value"`
	DeliveredAt time.Time       `json:"delivered_at"`
}

func abbrev(s string) string {
	if len(s) > 12 {
		return s[:6] + "..." + s[len(s)-4:]
	}
	return s
}
