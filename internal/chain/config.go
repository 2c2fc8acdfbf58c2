package chain

import (
	"math/big"
	"strings"
)

// Chain names accepted by Client.
const (
	Fuji      = "fuji"
	Avalanche = "avalanche"
)

// ChainConfig holds configuration for an EVM chain.
type ChainConfig struct {
	Name           string
	ChainID        *big.Int
	RPCURLs        []string
	ExplorerURL    string
	NativeCurrency string // symbol
	NativeName     string
	IsTestnet      bool
}

// DefaultChains returns the default chain configurations
func DefaultChains() map[string]*ChainConfig {
	return map[string]*ChainConfig{
		Fuji: {
			Name:           "Avalanche Fuji Testnet",
			ChainID:        big.NewInt(43113),
			RPCURLs:        []string{"https://api.avax-test.network/ext/bc/C/rpc"},
			ExplorerURL:    "https://testnet.snowtrace.io",
			NativeCurrency: "AVAX",
			NativeName:     "Avalanche",
			IsTestnet:      true,
		},
		Avalanche: {
			Name:           "Avalanche C-Chain",
			ChainID:        big.NewInt(43114),
			RPCURLs:        []string{"https://api.avax.network/ext/bc/C/rpc"},
			ExplorerURL:    "https://snowtrace.io",
			NativeCurrency: "AVAX",
			NativeName:     "Avalanche",
			IsTestnet:      false,
		},
	}
}

// TxURL links to hash on the chain's block explorer.
func (c *ChainConfig) TxURL(hash string) string {
	return strings.TrimRight(c.ExplorerURL, "/") + "/tx/" + hash
}

// WithRPCURL returns a copy of c that tries url before the defaults.
func (c *ChainConfig) WithRPCURL(url string) *ChainConfig {
	out := *c
	if url == "" {
		return &out
	}
	out.RPCURLs = append([]string{url}, c.RPCURLs...)
	return &out
}
