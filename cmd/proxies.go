package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/xkilldash9x/driftnet-cli/internal/config"
	"github.com/xkilldash9x/driftnet-cli/internal/observability"
	"github.com/xkilldash9x/driftnet-cli/internal/proxy"
)

// newProxiesCmd groups the proxy list utilities.
func newProxiesCmd() *cobra.Command {
	proxiesCmd := &cobra.Command{
		Use:   "proxies",
		Short: "Proxy list utilities",
	}

	proxiesCmd.AddCommand(newProxiesCheckCmd())
	proxiesCmd.AddCommand(newProxiesFetchCmd())

	return proxiesCmd
}

// newProxiesCheckCmd validates a proxy list file and optionally writes the
// working subset back out.
func newProxiesCheckCmd() *cobra.Command {
	var file, output string

	checkCmd := &cobra.Command{
		Use:   "check",
		Short: "Probes every proxy in a list file and reports the working ones",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			logger := observability.GetLogger()

			checker := proxy.NewChecker(logger, appCfg.Proxy.ReflectorURL, appCfg.Proxy.ValidateTimeout)
			pool := proxy.NewPool(logger, checker, appCfg.Proxy.ValidateWorkers)

			if err := pool.Load(config.ProxySourceFile, proxy.LoadOptions{FilePath: file}); err != nil {
				return err
			}
			logger.Info("Validating proxies.", zap.Int("count", pool.Size()))

			if err := pool.Validate(ctx); err != nil {
				return err
			}

			stats := pool.Stats()
			fmt.Printf("\n%d/%d proxies working.\n", stats.Working, stats.Total)
			for _, p := range stats.Proxies {
				fmt.Printf("  %s (%s) exit=%s latency=%s\n",
					p.Addr, p.Protocol, p.Health.ExitIP, p.Health.Latency)
			}

			if output != "" && stats.Working > 0 {
				if err := proxy.SaveToFile(output, pool.Ranked()); err != nil {
					return err
				}
				fmt.Printf("Saved %d working proxies to %s\n", stats.Working, output)
			}

			if hs := openHealthStore(logger); hs != nil {
				defer hs.Close()
				if err := hs.Record(pool.Ranked()); err != nil {
					logger.Warn("Recording proxy health failed.", zap.Error(err))
				}
			}
			return nil
		},
	}

	checkCmd.Flags().StringVarP(&file, "file", "f", "", "Proxy list file to check (required)")
	checkCmd.Flags().StringVarP(&output, "output", "o", "", "Write working proxies to this file")
	_ = checkCmd.MarkFlagRequired("file")

	return checkCmd
}

// newProxiesFetchCmd downloads candidates from the configured public sources.
func newProxiesFetchCmd() *cobra.Command {
	var output string

	fetchCmd := &cobra.Command{
		Use:   "fetch",
		Short: "Fetches proxy candidates from public list sources",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			logger := observability.GetLogger()

			fetcher := proxy.NewFetcher(logger, appCfg.Proxy.FetchSources, appCfg.Proxy.FetchRateLimit)
			endpoints, statuses, err := fetcher.FetchAll(ctx)
			if err != nil {
				return err
			}

			for _, st := range statuses {
				if st.OK {
					fmt.Printf("  ok   %-60s %d candidates\n", st.Source, st.Count)
				} else {
					fmt.Printf("  fail %-60s %s\n", st.Source, st.Error)
				}
			}
			fmt.Printf("\nFetched %d unique proxy candidates.\n", len(endpoints))

			if output != "" && len(endpoints) > 0 {
				if err := proxy.SaveToFile(output, endpoints); err != nil {
					return err
				}
				fmt.Printf("Saved candidates to %s\n", output)
			}
			return nil
		},
	}

	fetchCmd.Flags().StringVarP(&output, "output", "o", "", "Write fetched candidates to this file")

	return fetchCmd
}
