// Package config loads tempwallet settings from flags, environment
// (TEMPWALLET_*) and an optional config.yaml in the data directory.
package config

import (
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/viper"
	"github.com/yolodolo42/tempwallet/internal/chain"
	"github.com/yolodolo42/tempwallet/internal/storage"
)

const (
	// DatadirKey is the directory holding the keystore, registry and config file
	DatadirKey = "DATADIR"
	// LogLevelKey is a logrus level name (debug, info, warn, error)
	LogLevelKey = "LOG_LEVEL"
	// StoreTypeKey selects the registry backend: file, sqlite or memory
	StoreTypeKey = "STORE_TYPE"
	// ChainKey is the chain wallets live on
	ChainKey = "CHAIN"
	// RPCURLKey overrides the chain's public RPC endpoint
	RPCURLKey = "RPC_URL"
	// BundlerURLKey is the ERC-4337 bundler endpoint
	BundlerURLKey = "BUNDLER_URL"
	// PaymasterURLKey is the sponsoring paymaster endpoint
	PaymasterURLKey = "PAYMASTER_URL"
	// PaymasterAPIKeyKey is sent to the paymaster as x-api-key
	PaymasterAPIKeyKey = "PAYMASTER_API_KEY"
	// EntryPointKey overrides the v0.6 EntryPoint address
	EntryPointKey = "ENTRYPOINT_ADDRESS"
	// FactoryKey overrides the SimpleAccount factory address
	FactoryKey = "FACTORY_ADDRESS"
	// TokenKey is the ERC20 whose balance is tracked per wallet
	TokenKey = "TOKEN_ADDRESS"
	// SignerURLKey points at a remote JSON-RPC wallet. Empty means keystore.
	SignerURLKey = "SIGNER_URL"
	// OwnerKey is the keystore account used to sign
	OwnerKey = "OWNER_ADDRESS"
	// ProxyPortKey is the port the RPC proxy listens on
	ProxyPortKey = "PROXY_PORT"
	// ProxyUpstreamKey is where the RPC proxy forwards to
	ProxyUpstreamKey = "PROXY_UPSTREAM"
	// ProxyRateLimitKey caps upstream requests per second, 0 for no limit
	ProxyRateLimitKey = "PROXY_RATE_LIMIT"

	envPrefix      = "TEMPWALLET"
	configFileName = "config"
)

// Config is the resolved configuration.
type Config struct {
	DataDir         string
	LogLevel        log.Level
	StoreType       storage.Type
	Chain           string
	RPCURL          string
	BundlerURL      string
	PaymasterURL    string
	PaymasterAPIKey string
	EntryPoint      common.Address
	Factory         common.Address
	Token           common.Address
	SignerURL       string
	Owner           common.Address
	ProxyPort       int
	ProxyUpstream   string
	ProxyRateLimit  int
}

// DefaultDatadir is ~/.tempwallet, or ./.tempwallet without a home dir.
func DefaultDatadir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".tempwallet"
	}
	return filepath.Join(home, ".tempwallet")
}

// New returns a viper instance with tempwallet's env prefix and defaults.
func New() *viper.Viper {
	v := viper.New()
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	v.SetDefault(DatadirKey, DefaultDatadir())
	v.SetDefault(LogLevelKey, log.InfoLevel.String())
	v.SetDefault(StoreTypeKey, string(storage.TypeFile))
	v.SetDefault(ChainKey, chain.Fuji)
	v.SetDefault(ProxyPortKey, 3001)
	v.SetDefault(ProxyUpstreamKey, "https://api.avax-test.network/ext/bc/C/rpc")
	return v
}

// ReadFile merges config.yaml from the data directory, or file when set.
// A missing default file is not an error.
func ReadFile(v *viper.Viper, file string) error {
	if file != "" {
		v.SetConfigFile(file)
		return v.ReadInConfig()
	}

	v.AddConfigPath(v.GetString(DatadirKey))
	v.SetConfigType("yaml")
	v.SetConfigName(configFileName)
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); ok {
			return nil
		}
		return err
	}
	return nil
}

// Load validates v and resolves it into a Config.
func Load(v *viper.Viper) (*Config, error) {
	cfg := &Config{
		DataDir:         v.GetString(DatadirKey),
		StoreType:       storage.Type(strings.ToLower(v.GetString(StoreTypeKey))),
		Chain:           strings.ToLower(v.GetString(ChainKey)),
		RPCURL:          v.GetString(RPCURLKey),
		BundlerURL:      v.GetString(BundlerURLKey),
		PaymasterURL:    v.GetString(PaymasterURLKey),
		PaymasterAPIKey: v.GetString(PaymasterAPIKeyKey),
		SignerURL:       v.GetString(SignerURLKey),
		ProxyPort:       v.GetInt(ProxyPortKey),
		ProxyUpstream:   v.GetString(ProxyUpstreamKey),
		ProxyRateLimit:  v.GetInt(ProxyRateLimitKey),
	}

	if cfg.DataDir == "" {
		return nil, fmt.Errorf("datadir must not be empty")
	}

	level, err := log.ParseLevel(v.GetString(LogLevelKey))
	if err != nil {
		return nil, err
	}
	cfg.LogLevel = level

	switch cfg.StoreType {
	case storage.TypeFile, storage.TypeSQLite, storage.TypeBadger, storage.TypeMemory:
	default:
		return nil, fmt.Errorf("store type must be one of %q, %q, %q or %q", storage.TypeFile, storage.TypeSQLite, storage.TypeBadger, storage.TypeMemory)
	}

	if _, ok := chain.DefaultChains()[cfg.Chain]; !ok {
		return nil, fmt.Errorf("unknown chain %q", cfg.Chain)
	}

	for key, dst := range map[string]*common.Address{
		EntryPointKey: &cfg.EntryPoint,
		FactoryKey:    &cfg.Factory,
		TokenKey:      &cfg.Token,
		OwnerKey:      &cfg.Owner,
	} {
		raw := strings.TrimSpace(v.GetString(key))
		if raw == "" {
			continue
		}
		if !common.IsHexAddress(raw) {
			return nil, fmt.Errorf("%s is not a valid address: %q", key, raw)
		}
		*dst = common.HexToAddress(raw)
	}

	for key, raw := range map[string]string{
		RPCURLKey:        cfg.RPCURL,
		BundlerURLKey:    cfg.BundlerURL,
		PaymasterURLKey:  cfg.PaymasterURL,
		SignerURLKey:     cfg.SignerURL,
		ProxyUpstreamKey: cfg.ProxyUpstream,
	} {
		if raw == "" {
			continue
		}
		if _, err := url.ParseRequestURI(raw); err != nil {
			return nil, fmt.Errorf("%s is not a valid url: %s", key, err)
		}
	}

	if cfg.ProxyPort <= 0 || cfg.ProxyPort > 65535 {
		return nil, fmt.Errorf("proxy port out of range: %d", cfg.ProxyPort)
	}
	if cfg.ProxyRateLimit < 0 {
		return nil, fmt.Errorf("proxy rate limit must not be negative: %d", cfg.ProxyRateLimit)
	}
	return cfg, nil
}

// ChainConfig returns the configured chain with RPC_URL applied.
func (c *Config) ChainConfig() *chain.ChainConfig {
	return chain.DefaultChains()[c.Chain].WithRPCURL(c.RPCURL)
}

// ConfigureLogging applies the configured level to the standard logger.
func (c *Config) ConfigureLogging() {
	log.SetLevel(c.LogLevel)
	log.SetFormatter(&log.TextFormatter{FullTimestamp: true})
}
