package config

import (
	"fmt"
	"math"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"
)

type Chain string

const (
	ChainEthereum Chain = "ethereum"
	ChainBase     Chain = "base"
	ChainBSC      Chain = "bsc"
)

func AllChains() []Chain {
	return []Chain{ChainEthereum, ChainBase, ChainBSC}
}

// ChainConfig is the static description of one supported network.
type ChainConfig struct {
	Name           Chain
	RPCURL         string
	WSURL          string         // configured but unused: scanning always polls
	PairingAsset   common.Address // wrapped native token the pools are quoted in
	NativeSymbol   string
	Oracle         common.Address // native/USD feed
	OracleDecimals int32
	ExplorerURL    string
}

// SeedPair is a monitored pair declared in the environment.
type SeedPair struct {
	GroupID       int64
	Chain         Chain
	Token         common.Address
	Pool          common.Address
	TokenDecimals uint8
	MinimumBuy    decimal.Decimal
	SmallBuy      decimal.Decimal
	MediumBuy     decimal.Decimal
	ChatID        string
	Symbol        string
}

type Config struct {
	Chains map[Chain]ChainConfig

	// Intervals
	ScanInterval          time.Duration
	ConfigRefreshInterval time.Duration
	RPCTimeout            time.Duration
	ChainRedialInterval   time.Duration
	DetectCacheTTL        time.Duration // 0 disables the pool type cache

	// Scanning
	LookbackBlocks uint64
	MaxBlockRange  uint64

	// Alerting
	TelegramBotToken   string
	AlertRateBurst     int
	AlertRatePerMinute float64
	ChartURL           string // printf pattern taking chain and pool

	// Pairs seeded into the store at startup
	SeedPairs []SeedPair

	// DB
	DBPath string

	// Dashboard
	DashboardPort int

	LogLevel string
}

func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{
		ScanInterval:          envDuration("SCAN_INTERVAL", 30*time.Second),
		ConfigRefreshInterval: envDuration("CONFIG_REFRESH_INTERVAL", 60*time.Second),
		RPCTimeout:            envDuration("RPC_TIMEOUT", 15*time.Second),
		ChainRedialInterval:   envDuration("CHAIN_REDIAL_INTERVAL", 30*time.Second),
		DetectCacheTTL:        envDuration("DETECT_CACHE_TTL", 0),

		TelegramBotToken:   os.Getenv("TELEGRAM_BOT_TOKEN"),
		AlertRateBurst:     envInt("ALERT_RATE_BURST", 20),
		AlertRatePerMinute: envFloat("ALERT_RATE_PER_MINUTE", 20),
		ChartURL:           envOr("CHART_URL", "https://dexscreener.com/%s/%s"),

		DBPath:        envOr("DB_PATH", "buybot.db"),
		DashboardPort: envInt("DASHBOARD_PORT", 8080),
		LogLevel:      envOr("LOG_LEVEL", "info"),
	}

	var err error
	if cfg.LookbackBlocks, err = envBlocks("SCAN_LOOKBACK_BLOCKS", 5); err != nil {
		return nil, err
	}
	if cfg.MaxBlockRange, err = envBlocks("MAX_BLOCK_RANGE", 2000); err != nil {
		return nil, err
	}

	cfg.Chains = map[Chain]ChainConfig{}
	defaults := []ChainConfig{
		{
			Name:         ChainEthereum,
			RPCURL:       envOr("ETH_RPC_URL", "https://eth.llamarpc.com"),
			WSURL:        os.Getenv("ETH_WS_URL"),
			PairingAsset: common.HexToAddress(envOr("ETH_PAIRING_ASSET", "0xC02aaA39b223FE8D0A0e5C4F27eAD9083C756Cc2")),
			NativeSymbol: "ETH",
			Oracle:       common.HexToAddress(envOr("ETH_ORACLE", "0x5f4eC3Df9cbd43714FE2740f5E3616155c5b8419")),
			ExplorerURL:  "https://etherscan.io",
		},
		{
			Name:         ChainBase,
			RPCURL:       envOr("BASE_RPC_URL", "https://mainnet.base.org"),
			WSURL:        os.Getenv("BASE_WS_URL"),
			PairingAsset: common.HexToAddress(envOr("BASE_PAIRING_ASSET", "0x4200000000000000000000000000000000000006")),
			NativeSymbol: "ETH",
			Oracle:       common.HexToAddress(envOr("BASE_ORACLE", "0x71041dddad3595F9CEd3DcCFBe3D1F4b0a16Bb70")),
			ExplorerURL:  "https://basescan.org",
		},
		{
			Name:         ChainBSC,
			RPCURL:       envOr("BSC_RPC_URL", "https://bsc-dataseed.binance.org"),
			WSURL:        os.Getenv("BSC_WS_URL"),
			PairingAsset: common.HexToAddress(envOr("BSC_PAIRING_ASSET", "0xbb4CdB9CBd36B01bD1cBaEBF2De08d9173bc095c")),
			NativeSymbol: "BNB",
			Oracle:       common.HexToAddress(envOr("BSC_ORACLE", "0x0567F2323251f0Aab15c8dFb1967E4e8A7D42aeE")),
			ExplorerURL:  "https://bscscan.com",
		},
	}
	prefix := map[Chain]string{ChainEthereum: "ETH", ChainBase: "BASE", ChainBSC: "BSC"}
	for _, c := range defaults {
		c.OracleDecimals = int32(envInt(prefix[c.Name]+"_ORACLE_DECIMALS", 8))
		if c.RPCURL == "" {
			continue
		}
		cfg.Chains[c.Name] = c
	}

	// Pairs: "group|chain|token|pool|decimals|min|small|medium|chatID[|symbol]"
	for _, p := range splitTrim(os.Getenv("MONITORED_PAIRS")) {
		sp, err := ParseSeedPair(p)
		if err != nil {
			return nil, fmt.Errorf("MONITORED_PAIRS: %w", err)
		}
		cfg.SeedPairs = append(cfg.SeedPairs, sp)
	}

	return cfg, nil
}

func (c *Config) Validate() error {
	if len(c.Chains) == 0 {
		return fmt.Errorf("no chain RPC configured, set at least one of ETH_RPC_URL, BASE_RPC_URL, BSC_RPC_URL")
	}
	if c.ScanInterval < time.Second {
		return fmt.Errorf("SCAN_INTERVAL must be at least 1s, got %s", c.ScanInterval)
	}
	if c.MaxBlockRange == 0 {
		return fmt.Errorf("MAX_BLOCK_RANGE must be positive")
	}
	// A negative count cast to uint64 lands above MaxInt64.
	if c.MaxBlockRange > math.MaxInt64 {
		return fmt.Errorf("MAX_BLOCK_RANGE out of range: %d", c.MaxBlockRange)
	}
	if c.LookbackBlocks > math.MaxInt64 {
		return fmt.Errorf("SCAN_LOOKBACK_BLOCKS out of range: %d", c.LookbackBlocks)
	}
	return nil
}

// TxURL links a transaction on the chain's block explorer.
func (c *Config) TxURL(chain Chain, txHash string) string {
	cc, ok := c.Chains[chain]
	if !ok || cc.ExplorerURL == "" {
		return ""
	}
	return cc.ExplorerURL + "/tx/" + txHash
}

func (c *Config) PoolChartURL(chain Chain, pool common.Address) string {
	if c.ChartURL == "" {
		return ""
	}
	return fmt.Sprintf(c.ChartURL, chain, strings.ToLower(pool.Hex()))
}

func ParseSeedPair(s string) (SeedPair, error) {
	parts := strings.Split(s, "|")
	if len(parts) < 9 {
		return SeedPair{}, fmt.Errorf("pair %q: want 9 or 10 '|' separated fields, got %d", s, len(parts))
	}
	for i := range parts {
		parts[i] = strings.TrimSpace(parts[i])
	}
	group, err := strconv.ParseInt(parts[0], 10, 64)
	if err != nil {
		return SeedPair{}, fmt.Errorf("pair %q: group: %w", s, err)
	}
	if !common.IsHexAddress(parts[2]) || !common.IsHexAddress(parts[3]) {
		return SeedPair{}, fmt.Errorf("pair %q: token and pool must be hex addresses", s)
	}
	dec, err := strconv.ParseUint(parts[4], 10, 8)
	if err != nil {
		return SeedPair{}, fmt.Errorf("pair %q: decimals: %w", s, err)
	}
	var th [3]decimal.Decimal
	for i := 0; i < 3; i++ {
		if th[i], err = decimal.NewFromString(parts[5+i]); err != nil {
			return SeedPair{}, fmt.Errorf("pair %q: threshold %d: %w", s, i, err)
		}
	}
	sp := SeedPair{
		GroupID:       group,
		Chain:         Chain(strings.ToLower(parts[1])),
		Token:         common.HexToAddress(parts[2]),
		Pool:          common.HexToAddress(parts[3]),
		TokenDecimals: uint8(dec),
		MinimumBuy:    th[0],
		SmallBuy:      th[1],
		MediumBuy:     th[2],
		ChatID:        parts[8],
	}
	if len(parts) > 9 {
		sp.Symbol = parts[9]
	}
	return sp, nil
}

// helpers
func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return fallback
}

// envBlocks reads a block count. Unlike envInt a malformed or negative
// value is an error, not the fallback.
func envBlocks(key string, fallback uint64) (uint64, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", key, err)
	}
	if n < 0 {
		return 0, fmt.Errorf("%s must not be negative, got %d", key, n)
	}
	return uint64(n), nil
}

func envFloat(key string, fallback float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return fallback
}

// envDuration accepts Go durations ("30s") or bare seconds ("30").
func envDuration(key string, fallback time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	if d, err := time.ParseDuration(v); err == nil {
		return d
	}
	if i, err := strconv.Atoi(v); err == nil {
		return time.Duration(i) * time.Second
	}
	return fallback
}

func splitTrim(s string) []string {
	if s == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	var result []string
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			result = append(result, p)
		}
	}
	return result
}
