// Command smartchat serves the context-optimized chat and smart provider
// switching API.
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/calque-ai/go-smartchat/pkg/api"
	"github.com/calque-ai/go-smartchat/pkg/config"
	"github.com/calque-ai/go-smartchat/pkg/logger"
	"github.com/calque-ai/go-smartchat/pkg/smartchat"
)

func main() {
	if err := rootCommand().Execute(); err != nil {
		os.Exit(1)
	}
}

func rootCommand() *cobra.Command {
	root := &cobra.Command{
		Use:          "smartchat",
		Short:        "Context-optimized chat with automatic model selection",
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			envFile, _ := cmd.Flags().GetString("env-file")
			if err := godotenv.Load(envFile); err != nil && !errors.Is(err, os.ErrNotExist) {
				return fmt.Errorf("failed to load %s: %w", envFile, err)
			}
			return nil
		},
	}
	root.PersistentFlags().StringP("config", "c", "", "YAML configuration file (defaults apply when empty)")
	root.PersistentFlags().String("env-file", ".env", "dotenv file loaded before configuration")

	root.AddCommand(
		&cobra.Command{
			Use:   "serve",
			Short: "Run the HTTP server",
			RunE: func(cmd *cobra.Command, _ []string) error {
				cfg, err := loadConfig(cmd)
				if err != nil {
					return err
				}
				ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
				defer stop()
				return serve(ctx, cfg)
			},
		},
		&cobra.Command{
			Use:   "validate",
			Short: "Load and validate the configuration, then exit",
			RunE: func(cmd *cobra.Command, _ []string) error {
				if _, err := loadConfig(cmd); err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), "configuration is valid")
				return nil
			},
		},
	)
	return root
}

func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	path, _ := cmd.Flags().GetString("config")
	if path != "" {
		return config.Load(path)
	}
	cfg := config.DefaultConfig()
	cfg.ApplyEnv()
	if err := cfg.Validate(); err != nil {
		return nil, smartchat.WrapKindErr(cmd.Context(), smartchat.KindConfig, err, "invalid configuration")
	}
	return cfg, nil
}

func serve(ctx context.Context, cfg *config.Config) error {
	log, err := logger.New(logger.Options{Level: cfg.Log.Level, Format: cfg.Log.Format})
	if err != nil {
		return err
	}
	ctx = smartchat.WithLogger(ctx, log)

	app, err := build(ctx, cfg, log)
	if err != nil {
		smartchat.LogError(ctx, "startup failed", err)
		return err
	}
	defer app.close(context.WithoutCancel(ctx))

	srv, err := api.New(app.deps, api.Options{
		DefaultProvider: app.defaultProvider,
		DefaultModel:    app.defaultModel,
		Debug:           cfg.Server.DebugResponses,
	})
	if err != nil {
		return err
	}

	httpServer := &http.Server{
		Addr:              cfg.Server.Addr,
		Handler:           srv.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       cfg.Server.ReadTimeout,
		WriteTimeout:      cfg.Server.WriteTimeout,
	}

	app.startBackground(ctx, cfg)

	errCh := make(chan error, 1)
	go func() {
		smartchat.LogInfo(ctx, "server listening", "addr", cfg.Server.Addr)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			smartchat.LogError(ctx, "server failed", err)
			return err
		}
	case <-ctx.Done():
	}

	smartchat.LogInfo(ctx, "shutting down", "timeout", cfg.Server.ShutdownTimeout)
	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		smartchat.LogError(ctx, "graceful shutdown failed", err)
		return err
	}
	app.wait()
	return nil
}
