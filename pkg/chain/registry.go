package chain

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"sort"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/rs/zerolog/log"

	"github.com/buybot/pkg/config"
	"github.com/buybot/pkg/metrics"
)

// ErrNotLive is the ConnectionError: the chain has no working RPC connection
// right now. It is always recoverable on a later poll.
var ErrNotLive = errors.New("chain not live")

// Caller is the read-only contract call surface.
type Caller interface {
	CallContract(ctx context.Context, msg ethereum.CallMsg, blockNumber *big.Int) ([]byte, error)
}

// Client is the subset of *ethclient.Client the engine uses.
type Client interface {
	Caller
	BlockNumber(ctx context.Context) (uint64, error)
	FilterLogs(ctx context.Context, q ethereum.FilterQuery) ([]types.Log, error)
	CodeAt(ctx context.Context, account common.Address, blockNumber *big.Int) ([]byte, error)
	Close()
}

// Dialer opens an RPC connection for a chain.
type Dialer func(ctx context.Context, rpcURL string) (Client, error)

func DialEthclient(ctx context.Context, rpcURL string) (Client, error) {
	return ethclient.DialContext(ctx, rpcURL)
}

type endpoint struct {
	mu       sync.Mutex
	cfg      config.ChainConfig
	client   Client
	live     bool
	dialing  bool
	lastDial time.Time
	lastErr  error
}

// Registry owns one RPC connection per configured chain. The chain set is
// fixed at construction; each endpoint is guarded separately so a slow dial
// on one chain never stalls callers of another.
type Registry struct {
	endpoints map[config.Chain]*endpoint
	dial      Dialer
	timeout   time.Duration
	redial    time.Duration
	now       func() time.Time
}

func NewRegistry(cfg *config.Config, dial Dialer) *Registry {
	if dial == nil {
		dial = DialEthclient
	}
	r := &Registry{
		endpoints: make(map[config.Chain]*endpoint),
		dial:      dial,
		timeout:   cfg.RPCTimeout,
		redial:    cfg.ChainRedialInterval,
		now:       time.Now,
	}
	if r.timeout <= 0 {
		r.timeout = 15 * time.Second
	}
	for name, cc := range cfg.Chains {
		r.endpoints[name] = &endpoint{cfg: cc}
	}
	return r
}

// Connect dials every configured chain once. A failed chain is logged and
// left not-live; it never aborts startup.
func (r *Registry) Connect(ctx context.Context) {
	var wg sync.WaitGroup
	for _, ep := range r.endpoints {
		wg.Add(1)
		go func(ep *endpoint) {
			defer wg.Done()
			r.connect(ctx, ep)
		}(ep)
	}
	wg.Wait()
}

// connect dials ep without holding its lock. Only one dial per endpoint runs
// at a time; a caller that finds a dial in flight returns immediately.
func (r *Registry) connect(ctx context.Context, ep *endpoint) {
	ep.mu.Lock()
	if ep.dialing {
		ep.mu.Unlock()
		return
	}
	ep.dialing = true
	ep.lastDial = r.now()
	ep.mu.Unlock()

	dctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()
	client, err := r.dial(dctx, ep.cfg.RPCURL)
	if err == nil {
		if _, err = client.BlockNumber(dctx); err != nil {
			client.Close()
		}
	}

	ep.mu.Lock()
	defer ep.mu.Unlock()
	ep.dialing = false
	if err != nil {
		ep.live = false
		ep.lastErr = err
		metrics.ChainLive.WithLabelValues(string(ep.cfg.Name)).Set(0)
		log.Warn().Err(err).Str("chain", string(ep.cfg.Name)).Msg("chain connection failed, marked not live")
		return
	}
	if old := ep.client; old != nil {
		r.retire(old)
	}
	ep.client = client
	ep.live = true
	ep.lastErr = nil
	metrics.ChainLive.WithLabelValues(string(ep.cfg.Name)).Set(1)
	log.Info().Str("chain", string(ep.cfg.Name)).Msg("🔗 chain connected")
}

// retire closes a replaced client once calls already issued on it have had
// one RPC timeout to finish.
func (r *Registry) retire(c Client) {
	time.AfterFunc(r.timeout, c.Close)
}

// Client returns the live handle for chain, redialing a not-live chain at
// most once per redial interval. While a redial is in flight other callers
// get ErrNotLive instead of waiting on it.
func (r *Registry) Client(ctx context.Context, chain config.Chain) (Client, error) {
	ep, ok := r.endpoints[chain]
	if !ok {
		return nil, fmt.Errorf("%w: %s is not configured", ErrNotLive, chain)
	}
	ep.mu.Lock()
	due := !ep.live && !ep.dialing && r.now().Sub(ep.lastDial) >= r.redial
	ep.mu.Unlock()
	if due {
		r.connect(ctx, ep)
	}

	ep.mu.Lock()
	defer ep.mu.Unlock()
	if !ep.live {
		if ep.dialing {
			return nil, fmt.Errorf("%w: %s: reconnect in progress", ErrNotLive, chain)
		}
		return nil, fmt.Errorf("%w: %s: %v", ErrNotLive, chain, ep.lastErr)
	}
	return ep.client, nil
}

func (r *Registry) IsLive(chain config.Chain) bool {
	ep, ok := r.endpoints[chain]
	if !ok {
		return false
	}
	ep.mu.Lock()
	defer ep.mu.Unlock()
	return ep.live
}

// Report marks chain not-live after a transport failure so the next Client
// call redials immediately.
func (r *Registry) Report(chain config.Chain, err error) {
	if !IsTransportError(err) {
		return
	}
	ep, ok := r.endpoints[chain]
	if !ok {
		return
	}
	ep.mu.Lock()
	defer ep.mu.Unlock()
	if !ep.live {
		return
	}
	ep.live = false
	ep.lastErr = err
	ep.lastDial = time.Time{}
	metrics.ChainLive.WithLabelValues(string(chain)).Set(0)
	log.Warn().Err(err).Str("chain", string(chain)).Msg("chain marked not live")
}

// ChainConfig returns the static configuration for chain.
func (r *Registry) ChainConfig(chain config.Chain) (config.ChainConfig, bool) {
	ep, ok := r.endpoints[chain]
	if !ok {
		return config.ChainConfig{}, false
	}
	return ep.cfg, true
}

func (r *Registry) Chains() []config.Chain {
	out := make([]config.Chain, 0, len(r.endpoints))
	for name := range r.endpoints {
		out = append(out, name)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

type Status struct {
	Chain     config.Chain `json:"chain"`
	Live      bool         `json:"live"`
	LastError string       `json:"last_error,omitempty"`
	LastDial  time.Time    `json:"last_dial"`
}

func (r *Registry) Status() []Status {
	var out []Status
	for _, name := range r.Chains() {
		ep := r.endpoints[name]
		ep.mu.Lock()
		s := Status{Chain: name, Live: ep.live, LastDial: ep.lastDial}
		if ep.lastErr != nil {
			s.LastError = ep.lastErr.Error()
		}
		ep.mu.Unlock()
		out = append(out, s)
	}
	return out
}

func (r *Registry) Close() {
	for _, ep := range r.endpoints {
		ep.mu.Lock()
		if ep.client != nil {
			ep.client.Close()
			ep.client = nil
		}
		ep.live = false
		ep.mu.Unlock()
	}
}
