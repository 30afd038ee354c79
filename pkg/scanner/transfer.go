package scanner

import (
	"math/big"
	"sort"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"

	"github.com/buybot/pkg/chain"
)

// RawTransfer is one decoded ERC-20 Transfer log. It lives only for the tick
// that fetched it.
type RawTransfer struct {
	From        common.Address
	To          common.Address
	Amount      *big.Int
	TxHash      common.Hash
	BlockNumber uint64
	LogIndex    uint
}

// DecodeTransfer extracts from, to and amount from a Transfer log. Logs with
// the wrong topic count or a short data word are rejected.
func DecodeTransfer(l types.Log) (RawTransfer, bool) {
	if len(l.Topics) != 3 || l.Topics[0] != chain.TransferTopic || len(l.Data) < 32 {
		return RawTransfer{}, false
	}
	return RawTransfer{
		From:        common.BytesToAddress(l.Topics[1].Bytes()),
		To:          common.BytesToAddress(l.Topics[2].Bytes()),
		Amount:      new(big.Int).SetBytes(l.Data[:32]),
		TxHash:      l.TxHash,
		BlockNumber: l.BlockNumber,
		LogIndex:    l.Index,
	}, true
}

// sortTransfers orders by block then log index so replays see the same sequence.
func sortTransfers(ts []RawTransfer) {
	sort.Slice(ts, func(i, j int) bool {
		if ts[i].BlockNumber != ts[j].BlockNumber {
			return ts[i].BlockNumber < ts[j].BlockNumber
		}
		return ts[i].LogIndex < ts[j].LogIndex
	})
}

func addressTopic(a common.Address) common.Hash {
	return common.BytesToHash(a.Bytes())
}

func abbrev(addr string) string {
	if len(addr) > 12 {
		return addr[:6] + "..." + addr[len(addr)-4:]
	}
	return addr
}
