package cli

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

func newServeCmd(opts *rootOptions) *cobra.Command {
	var addr string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the engine and the HTTP API, resuming interrupted campaigns",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			app, closeApp, err := openApp(ctx, opts)
			if err != nil {
				return err
			}
			defer closeApp()

			if _, err := app.EnsureSettings(ctx); err != nil {
				return err
			}
			e, err := app.Engine(ctx)
			if err != nil {
				return err
			}
			server := app.Server(addr, e)

			g, gctx := errgroup.WithContext(ctx)
			g.Go(func() error {
				return server.ListenAndServe(gctx)
			})
			g.Go(func() error {
				resumed, err := e.Resume(gctx)
				if err != nil {
					return err
				}
				if len(resumed) > 0 {
					opts.log().Info("resumed campaigns", zap.Strings("campaign_ids", resumed))
				}
				return nil
			})
			g.Go(func() error {
				<-gctx.Done()
				shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(gctx), shutdownTimeout)
				defer cancel()
				return e.Shutdown(shutdownCtx)
			})
			return g.Wait()
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "Listen address (default CAMPAIGN_HTTP_ADDR or :8080)")
	return cmd
}
