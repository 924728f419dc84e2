package cmd

import (
	"context"
	"errors"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/xkilldash9x/driftnet-cli/internal/api"
	"github.com/xkilldash9x/driftnet-cli/internal/events"
	"github.com/xkilldash9x/driftnet-cli/internal/metrics"
	"github.com/xkilldash9x/driftnet-cli/internal/observability"
	"github.com/xkilldash9x/driftnet-cli/internal/orchestrator"
)

// newServeCmd creates the `serve` command: the long-running HTTP/WebSocket
// server mode.
func newServeCmd() *cobra.Command {
	var addr string

	serveCmd := &cobra.Command{
		Use:   "serve",
		Short: "Starts the HTTP API and WebSocket event stream",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			logger := observability.GetLogger()

			if addr != "" {
				appCfg.Server.Addr = addr
			}

			reg := prometheus.NewRegistry()
			collector := metrics.NewCollector("driftnet", reg)
			hub := events.NewHub(logger)
			// Session events go to both the websocket subscribers and
			// the server log.
			emitter := events.MultiEmitter{events.NewZapEmitter(logger), hub}
			orch := orchestrator.New(appCfg, logger, emitter, collector)
			applyIdentityCatalog(orch, logger)

			server := api.NewServer(appCfg, logger, orch, hub, collector, reg)
			if hs := openHealthStore(logger); hs != nil {
				defer hs.Close()
				orch.UseHealthStore(hs)
				server.UseHealthStore(hs)
			}

			errCh := make(chan error, 1)
			go func() {
				errCh <- server.Start()
			}()

			select {
			case err := <-errCh:
				if err != nil && !errors.Is(err, http.ErrServerClosed) {
					return err
				}
				return nil
			case <-ctx.Done():
			}

			logger.Info("Shutdown signal received.")
			shutdownCtx, cancel := context.WithTimeout(context.Background(), appCfg.Server.ShutdownTimeout)
			defer cancel()

			if err := server.Shutdown(shutdownCtx); err != nil {
				logger.Warn("Server shutdown was not clean.", zap.Error(err))
			}
			<-errCh
			return nil
		},
	}

	serveCmd.Flags().StringVarP(&addr, "addr", "a", "", "Listen address (overrides config)")

	return serveCmd
}
