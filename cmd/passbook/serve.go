package main

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"golang.org/x/sync/errgroup"
)

func newServeCommand(v *viper.Viper) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the retention sweeper and the HTTP API",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withApp(v, cmd, true, func(a *app) error {
				return serve(cmd.Context(), a)
			})
		},
	}
	cmd.Flags().String("addr", "", "HTTP listen address")
	bindFlags(v, cmd, map[string]string{"http.addr": "addr"}, false)
	return cmd
}

// serve runs the HTTP server until ctx is cancelled, then shuts it down
// within the configured timeout.
func serve(ctx context.Context, a *app) error {
	srv := &http.Server{
		Addr:              a.cfg.HTTP.Addr,
		Handler:           newRouter(a),
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		a.logger.Info("http server listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		sctx, cancel := context.WithTimeout(context.WithoutCancel(gctx), a.cfg.HTTP.ShutdownTimeout)
		defer cancel()
		a.logger.Info("http server shutting down")
		return srv.Shutdown(sctx)
	})

	return g.Wait()
}
