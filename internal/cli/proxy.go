package cli

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/spf13/cobra"
	"github.com/yolodolo42/tempwallet/internal/config"
	"github.com/yolodolo42/tempwallet/internal/proxy"
)

var proxyCmd = &cobra.Command{
	Use:   "proxy",
	Short: "Run the CORS-enabled RPC proxy",
	Long: `Proxy forwards POST /rpc to the upstream JSON-RPC endpoint and every
other path to the upstream base URL, adding permissive CORS headers.`,
	Args: cobra.NoArgs,
	RunE: runProxy,
}

func init() {
	rootCmd.AddCommand(proxyCmd)

	proxyCmd.Flags().Int("port", 0, "Port to listen on")
	proxyCmd.Flags().String("upstream", "", "Upstream JSON-RPC URL")
	_ = v.BindPFlag(config.ProxyPortKey, proxyCmd.Flags().Lookup("port"))
	_ = v.BindPFlag(config.ProxyUpstreamKey, proxyCmd.Flags().Lookup("upstream"))
}

func runProxy(cmd *cobra.Command, args []string) error {
	srv, err := proxy.New(proxy.Config{
		Addr:      ":" + strconv.Itoa(cfg.ProxyPort),
		RPCURL:    cfg.ProxyUpstream,
		RateLimit: cfg.ProxyRateLimit,
	})
	if err != nil {
		return err
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Start()
	}()

	fmt.Fprintf(cmd.OutOrStdout(), "Proxy server running on http://localhost:%d\n", cfg.ProxyPort)

	select {
	case err := <-errCh:
		return err
	case <-cmd.Context().Done():
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return srv.Shutdown(ctx)
}
