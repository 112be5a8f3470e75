package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/FranksOps/newsthumb/internal/api"
	"github.com/FranksOps/newsthumb/internal/metrics"
	"github.com/FranksOps/newsthumb/internal/refresh"
	"github.com/FranksOps/newsthumb/internal/storage"
)

func (c *cli) serveCmd() *cobra.Command {
	var (
		port    int
		origins []string
	)
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the thumbnail API and run scheduled refreshes",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			if port == 0 {
				port = c.cfg.Server.Port
			}

			p, err := c.newPipeline()
			if err != nil {
				return err
			}

			store, err := openStore(ctx, c.cfg.Store)
			if err != nil {
				return err
			}
			defer store.Close()

			if expr := c.cfg.Refresh.Schedule; expr != "" {
				sched, err := refresh.NewScheduler(ctx, expr, c.newRefresher(store, p), storage.Filter{}, c.logger)
				if err != nil {
					return err
				}
				sched.Start()
				defer sched.Stop()
				c.logger.Info("scheduled refresh enabled", "schedule", expr)
			}

			if c.cfg.Metrics.Port > 0 {
				ms := metrics.Start(fmt.Sprintf(":%d", c.cfg.Metrics.Port), c.logger)
				defer func() { _ = ms.Stop(context.Background()) }()
			}

			srv := &http.Server{
				Addr: fmt.Sprintf(":%d", port),
				Handler: api.NewRouter(api.Config{
					Resolver: p.resolver,
					Store:    store,
					RequestTimeout: resolveTimeout(c.cfg.Fetch),
					AllowedOrigins: origins,
					Logger:         c.logger,
				}),
				ReadHeaderTimeout: 5 * time.Second,
			}

			errCh := make(chan error, 1)
			go func() {
				c.logger.Info("api listening", "addr", srv.Addr)
				if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					errCh <- err
				}
				close(errCh)
			}()

			select {
			case err := <-errCh:
				if err != nil {
					return fmt.Errorf("serve: %w", err)
				}
				return nil
			case <-ctx.Done():
			}

			c.logger.Info("shutting down")
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			if err := srv.Shutdown(shutdownCtx); err != nil {
				return fmt.Errorf("serve: shutdown: %w", err)
			}
			return nil
		},
	}
	cmd.Flags().IntVar(&port, "port", 0, "listen port (default server.port)")
	cmd.Flags().StringSliceVar(&origins, "cors-origin", nil, "allowed CORS origins (default *)")
	return cmd
}
