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
	"github.com/ethereum/go-ethereum/ethclient"
	log "github.com/sirupsen/logrus"
)

const defaultDialTimeout = 10 * time.Second

var ErrNoRPCURL = errors.New("no RPC URLs configured")

// Client keeps one lazily dialed ethclient per configured chain. The first
// RPC URL that answers with the expected chain id wins; later URLs are
// fallbacks.
type Client struct {
	mu          sync.Mutex
	chains      map[string]*ChainConfig
	conns       map[string]*ethclient.Client
	dialTimeout time.Duration
	log         *log.Entry
}

type ClientOption func(*Client)

// WithDialTimeout bounds each dial plus chain id probe.
func WithDialTimeout(d time.Duration) ClientOption {
	return func(c *Client) { c.dialTimeout = d }
}

// NewClient returns a client preloaded with DefaultChains.
func NewClient(opts ...ClientOption) *Client {
	c := &Client{
		chains:      DefaultChains(),
		conns:       make(map[string]*ethclient.Client),
		dialTimeout: defaultDialTimeout,
		log:         log.WithField("component", "chain"),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// AddChain registers or replaces a chain. An open connection to the old
// configuration is dropped.
func (c *Client) AddChain(name string, cfg *ChainConfig) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.chains[name] = cfg
	if conn, ok := c.conns[name]; ok {
		conn.Close()
		delete(c.conns, name)
	}
}

func (c *Client) Config(name string) (*ChainConfig, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	cfg, ok := c.chains[name]
	if !ok {
		return nil, fmt.Errorf("unknown chain: %s", name)
	}
	return cfg, nil
}

// Chains lists the configured chain names, sorted.
func (c *Client) Chains() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	names := make([]string, 0, len(c.chains))
	for name := range c.chains {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// conn returns the connection for name, dialing it on first use. The lock
// is held across the dial so concurrent balance reads share one connection.
func (c *Client) conn(ctx context.Context, name string) (*ethclient.Client, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	cfg, ok := c.chains[name]
	if !ok {
		return nil, fmt.Errorf("unknown chain: %s", name)
	}
	if conn, ok := c.conns[name]; ok {
		return conn, nil
	}
	if len(cfg.RPCURLs) == 0 {
		return nil, fmt.Errorf("failed to connect to %s: %w", name, ErrNoRPCURL)
	}

	var lastErr error
	for _, url := range cfg.RPCURLs {
		conn, err := c.dial(ctx, url, cfg.ChainID)
		if err != nil {
			c.log.WithError(err).WithField("url", url).Debug("rpc endpoint unavailable")
			lastErr = err
			continue
		}
		c.conns[name] = conn
		return conn, nil
	}
	return nil, fmt.Errorf("failed to connect to %s: %w", name, lastErr)
}

func (c *Client) dial(ctx context.Context, url string, want *big.Int) (*ethclient.Client, error) {
	ctx, cancel := context.WithTimeout(ctx, c.dialTimeout)
	defer cancel()

	conn, err := ethclient.DialContext(ctx, url)
	if err != nil {
		return nil, err
	}
	got, err := conn.ChainID(ctx)
	if err != nil {
		conn.Close()
		return nil, err
	}
	if want != nil && got.Cmp(want) != 0 {
		conn.Close()
		return nil, fmt.Errorf("chain ID mismatch: expected %s, got %s", want, got)
	}
	return conn, nil
}

// GetBalance returns the native balance of address in wei.
func (c *Client) GetBalance(ctx context.Context, chainName string, address common.Address) (*big.Int, error) {
	conn, err := c.conn(ctx, chainName)
	if err != nil {
		return nil, err
	}
	return conn.BalanceAt(ctx, address, nil)
}

// BlockNumber is used by status as a liveness probe.
func (c *Client) BlockNumber(ctx context.Context, chainName string) (uint64, error) {
	conn, err := c.conn(ctx, chainName)
	if err != nil {
		return 0, err
	}
	return conn.BlockNumber(ctx)
}

func (c *Client) CallContract(ctx context.Context, chainName string, msg ethereum.CallMsg) ([]byte, error) {
	conn, err := c.conn(ctx, chainName)
	if err != nil {
		return nil, err
	}
	return conn.CallContract(ctx, msg, nil)
}

func (c *Client) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, conn := range c.conns {
		conn.Close()
	}
	c.conns = make(map[string]*ethclient.Client)
}
