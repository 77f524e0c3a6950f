package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/stitchworks/erp-auth/internal/app"
	"github.com/stitchworks/erp-auth/internal/config"
	"github.com/stitchworks/erp-auth/internal/observability"
	"github.com/stitchworks/erp-auth/internal/security"
)

func main() {
	root := &cobra.Command{
		Use:   "erp-auth",
		Short: "Authentication and session trust service",
	}
	root.AddCommand(serveCmd(), genKeyCmd())

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func serveCmd() *cobra.Command {
	var envFile string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := config.LoadEnvFile(envFile); err != nil {
				return fmt.Errorf("load env file: %w", err)
			}
			cfg, err := config.Load()
			if err != nil {
				return err
			}

			logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))
			slog.SetDefault(logger)

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			runtime, err := observability.InitRuntime(ctx, cfg, logger)
			if err != nil {
				return fmt.Errorf("init observability: %w", err)
			}

			a, err := app.New(cfg, logger, runtime, nil)
			if err != nil {
				return err
			}

			g, gctx := errgroup.WithContext(ctx)

			g.Go(func() error {
				logger.Info("server listening", "addr", cfg.ServerAddr)
				if err := a.Server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					return fmt.Errorf("serve: %w", err)
				}
				return nil
			})

			g.Go(func() error {
				err := a.RunSweeper(gctx)
				if errors.Is(err, context.Canceled) {
					return nil
				}
				return err
			})

			g.Go(func() error {
				<-gctx.Done()
				logger.Info("shutting down")

				shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
				defer cancel()

				if err := a.Server.Shutdown(shutdownCtx); err != nil {
					logger.Warn("server shutdown", "error", err)
				}
				a.Auditor.Close()
				if err := runtime.Shutdown(shutdownCtx); err != nil {
					logger.Warn("observability shutdown", "error", err)
				}
				return nil
			})

			return g.Wait()
		},
	}

	cmd.Flags().StringVar(&envFile, "env-file", ".env", "path to an optional env file")
	return cmd
}

func genKeyCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "genkey",
		Short: "Generate a hex encoded 256 bit encryption key",
		RunE: func(cmd *cobra.Command, args []string) error {
			key, err := security.GenerateVaultKey()
			if err != nil {
				return err
			}
			fmt.Println(key)
			return nil
		},
	}
}
