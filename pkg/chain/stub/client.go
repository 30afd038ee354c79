// Package stub provides an in-memory chain.Client for tests.
package stub

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"sync"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
)

// ErrReverted mimics the node error for a call into a missing selector.
var ErrReverted = errors.New("execution reverted")

type callKey struct {
	to       common.Address
	selector [4]byte
}

type callResult struct {
	out []byte
	err error
}

// Client answers eth_call by (address, selector) and eth_getLogs from an
// in-memory log set. Unregistered calls revert.
type Client struct {
	mu sync.Mutex

	Block    uint64
	BlockErr error
	Logs     []types.Log
	LogsErr  error

	// Hang makes every RPC block until its context is done, like a stalled
	// endpoint.
	Hang bool

	Queries   []ethereum.FilterQuery
	CallCount int
	Closed    bool

	calls map[callKey]callResult
	code  map[common.Address][]byte
}

func New() *Client {
	return &Client{
		calls: make(map[callKey]callResult),
		code:  make(map[common.Address][]byte),
	}
}

func key(to common.Address, parsed abi.ABI, method string) callKey {
	var sel [4]byte
	copy(sel[:], parsed.Methods[method].ID)
	return callKey{to: to, selector: sel}
}

// OnCall registers ABI-encoded return values for method on to.
func (c *Client) OnCall(to common.Address, parsed abi.ABI, method string, outputs ...interface{}) {
	m, ok := parsed.Methods[method]
	if !ok {
		panic(fmt.Sprintf("stub: unknown method %s", method))
	}
	out, err := m.Outputs.Pack(outputs...)
	if err != nil {
		panic(fmt.Sprintf("stub: pack %s: %v", method, err))
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.calls[key(to, parsed, method)] = callResult{out: out}
}

// OnCallRaw registers raw return bytes (possibly empty) for method on to.
func (c *Client) OnCallRaw(to common.Address, parsed abi.ABI, method string, out []byte) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.calls[key(to, parsed, method)] = callResult{out: out}
}

// OnCallError makes method on to fail with err.
func (c *Client) OnCallError(to common.Address, parsed abi.ABI, method string, err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.calls[key(to, parsed, method)] = callResult{err: err}
}

func (c *Client) SetCode(addr common.Address, code []byte) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.code[addr] = code
}

func (c *Client) SetBlock(n uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.Block = n
}

func (c *Client) AddLogs(logs ...types.Log) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.Logs = append(c.Logs, logs...)
}

func (c *Client) SetLogsErr(err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.LogsErr = err
}

func (c *Client) SetHang(h bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.Hang = h
}

// stall blocks until ctx is done when the client is hung.
func (c *Client) stall(ctx context.Context) error {
	c.mu.Lock()
	hang := c.Hang
	c.mu.Unlock()
	if !hang {
		return nil
	}
	<-ctx.Done()
	return ctx.Err()
}

func (c *Client) FilterQueries() []ethereum.FilterQuery {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]ethereum.FilterQuery(nil), c.Queries...)
}

func (c *Client) CallContract(ctx context.Context, msg ethereum.CallMsg, blockNumber *big.Int) ([]byte, error) {
	if err := c.stall(ctx); err != nil {
		return nil, err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.CallCount++
	if msg.To == nil || len(msg.Data) < 4 {
		return nil, errors.New("stub: malformed call")
	}
	var sel [4]byte
	copy(sel[:], msg.Data[:4])
	r, ok := c.calls[callKey{to: *msg.To, selector: sel}]
	if !ok {
		return nil, ErrReverted
	}
	return r.out, r.err
}

func (c *Client) BlockNumber(ctx context.Context) (uint64, error) {
	if err := c.stall(ctx); err != nil {
		return 0, err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.Block, c.BlockErr
}

func (c *Client) FilterLogs(ctx context.Context, q ethereum.FilterQuery) ([]types.Log, error) {
	if err := c.stall(ctx); err != nil {
		return nil, err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.Queries = append(c.Queries, q)
	if c.LogsErr != nil {
		return nil, c.LogsErr
	}
	var out []types.Log
	for _, l := range c.Logs {
		if q.FromBlock != nil && l.BlockNumber < q.FromBlock.Uint64() {
			continue
		}
		if q.ToBlock != nil && l.BlockNumber > q.ToBlock.Uint64() {
			continue
		}
		if len(q.Addresses) > 0 && !containsAddr(q.Addresses, l.Address) {
			continue
		}
		if !matchTopics(q.Topics, l.Topics) {
			continue
		}
		out = append(out, l)
	}
	return out, nil
}

func (c *Client) CodeAt(ctx context.Context, account common.Address, blockNumber *big.Int) ([]byte, error) {
	if err := c.stall(ctx); err != nil {
		return nil, err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.code[account], nil
}

func (c *Client) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.Closed = true
}

func (c *Client) IsClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.Closed
}

func containsAddr(list []common.Address, a common.Address) bool {
	for _, x := range list {
		if x == a {
			return true
		}
	}
	return false
}

func matchTopics(filter [][]common.Hash, topics []common.Hash) bool {
	for i, alts := range filter {
		if len(alts) == 0 {
			continue
		}
		if i >= len(topics) {
			return false
		}
		found := false
		for _, h := range alts {
			if h == topics[i] {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	return true
}
