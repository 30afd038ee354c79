package config

import (
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseSeedPair(t *testing.T) {
	sp, err := ParseSeedPair("42|BSC|0x1111111111111111111111111111111111111111|0x2222222222222222222222222222222222222222|9|100|1000|5000|-100123|PEPE")
	require.NoError(t, err)

	assert.Equal(t, int64(42), sp.GroupID)
	assert.Equal(t, ChainBSC, sp.Chain)
	assert.Equal(t, common.HexToAddress("0x1111111111111111111111111111111111111111"), sp.Token)
	assert.Equal(t, common.HexToAddress("0x2222222222222222222222222222222222222222"), sp.Pool)
	assert.Equal(t, uint8(9), sp.TokenDecimals)
	assert.Equal(t, "100", sp.MinimumBuy.String())
	assert.Equal(t, "1000", sp.SmallBuy.String())
	assert.Equal(t, "5000", sp.MediumBuy.String())
	assert.Equal(t, "-100123", sp.ChatID)
	assert.Equal(t, "PEPE", sp.Symbol)
}

func TestParseSeedPair_Invalid(t *testing.T) {
	cases := map[string]string{
		"too few fields": "1|ethereum|0x1111111111111111111111111111111111111111",
		"bad group":      "x|ethereum|0x1111111111111111111111111111111111111111|0x2222222222222222222222222222222222222222|18|1|2|3|9",
		"bad address":    "1|ethereum|nope|0x2222222222222222222222222222222222222222|18|1|2|3|9",
		"bad decimals":   "1|ethereum|0x1111111111111111111111111111111111111111|0x2222222222222222222222222222222222222222|300|1|2|3|9",
		"bad threshold":  "1|ethereum|0x1111111111111111111111111111111111111111|0x2222222222222222222222222222222222222222|18|one|2|3|9",
	}
	for name, in := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := ParseSeedPair(in)
			assert.Error(t, err)
		})
	}
}

func TestLoad_Defaults(t *testing.T) {
	t.Setenv("MONITORED_PAIRS", "")
	t.Setenv("SCAN_INTERVAL", "45")
	t.Setenv("ETH_ORACLE_DECIMALS", "")

	cfg, err := Load()
	require.NoError(t, err)
	require.NoError(t, cfg.Validate())

	assert.Equal(t, 45*time.Second, cfg.ScanInterval)
	eth, ok := cfg.Chains[ChainEthereum]
	require.True(t, ok)
	assert.Equal(t, int32(8), eth.OracleDecimals)
	assert.Equal(t, common.HexToAddress("0xC02aaA39b223FE8D0A0e5C4F27eAD9083C756Cc2"), eth.PairingAsset)
	assert.Equal(t, "https://etherscan.io/tx/0xabc", cfg.TxURL(ChainEthereum, "0xabc"))
}

func TestLoad_RejectsBadPairs(t *testing.T) {
	t.Setenv("MONITORED_PAIRS", "garbage")
	_, err := Load()
	assert.Error(t, err)
}

func TestLoad_RejectsNegativeBlockCounts(t *testing.T) {
	t.Setenv("MONITORED_PAIRS", "")
	for _, key := range []string{"SCAN_LOOKBACK_BLOCKS", "MAX_BLOCK_RANGE"} {
		t.Run(key, func(t *testing.T) {
			t.Setenv(key, "-1")
			_, err := Load()
			assert.ErrorContains(t, err, key)

			t.Setenv(key, "ten")
			_, err = Load()
			assert.ErrorContains(t, err, key)
		})
	}

	t.Setenv("SCAN_LOOKBACK_BLOCKS", "0")
	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, uint64(0), cfg.LookbackBlocks)
}

func TestValidate_RejectsWrappedBlockCounts(t *testing.T) {
	t.Setenv("MONITORED_PAIRS", "")
	cfg, err := Load()
	require.NoError(t, err)

	neg := int64(-1)
	cfg.MaxBlockRange = uint64(neg)
	assert.ErrorContains(t, cfg.Validate(), "MAX_BLOCK_RANGE")

	cfg.MaxBlockRange = 2000
	cfg.LookbackBlocks = uint64(neg)
	assert.ErrorContains(t, cfg.Validate(), "SCAN_LOOKBACK_BLOCKS")
}
