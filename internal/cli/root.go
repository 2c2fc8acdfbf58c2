package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"github.com/yolodolo42/tempwallet/internal/config"
)

var (
	cfgFile string
	v       = config.New()
	cfg     *config.Config

	rootCmd = &cobra.Command{
		Use:   "tempwallet",
		Short: "Deterministic temporary smart-account wallets",
		Long: `tempwallet derives disposable ERC-4337 smart accounts from a connected
wallet's signature.

Every wallet is reproducible from the owner key and its sequence number, so
only identities need to be backed up. Transfers are sent as sponsored user
operations on Avalanche Fuji.`,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return initConfig()
		},
	}
)

// Execute runs the root command until it returns or the process is
// interrupted.
func Execute() error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	return rootCmd.ExecuteContext(ctx)
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is $HOME/.tempwallet/config.yaml)")
	rootCmd.PersistentFlags().String("datadir", "", "data directory (default is $HOME/.tempwallet)")
	rootCmd.PersistentFlags().String("chain", "", "chain to use (fuji, avalanche)")
	rootCmd.PersistentFlags().String("store", "", "registry backend (file, sqlite, memory)")
	rootCmd.PersistentFlags().String("log-level", "", "log level")

	bindFlag(v, config.DatadirKey, "datadir")
	bindFlag(v, config.ChainKey, "chain")
	bindFlag(v, config.StoreTypeKey, "store")
	bindFlag(v, config.LogLevelKey, "log-level")
}

func bindFlag(v *viper.Viper, key, flag string) {
	_ = v.BindPFlag(key, rootCmd.PersistentFlags().Lookup(flag))
}

func initConfig() error {
	if err := config.ReadFile(v, cfgFile); err != nil {
		return fmt.Errorf("failed to read config: %w", err)
	}

	c, err := config.Load(v)
	if err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	if err := os.MkdirAll(c.DataDir, 0700); err != nil {
		return fmt.Errorf("could not create data directory: %w", err)
	}

	c.ConfigureLogging()
	cfg = c
	return nil
}
