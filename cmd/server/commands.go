package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/ParleSec/defra-id-stub/internal/core"
	"github.com/ParleSec/defra-id-stub/internal/crypto"
	"github.com/ParleSec/defra-id-stub/internal/logging"
	"github.com/ParleSec/defra-id-stub/internal/plugin"
	"github.com/ParleSec/defra-id-stub/internal/protocols/oidc"
	"github.com/ParleSec/defra-id-stub/internal/protocols/s3admin"
	"github.com/ParleSec/defra-id-stub/internal/protocols/signin"
)

const shutdownTimeout = 30 * time.Second

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:          "defra-id-stub",
		Short:        "Stub of the Defra ID identity provider for development and testing",
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runServe(cmd.Context())
		},
	}

	root.AddCommand(&cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP server (default)",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runServe(cmd.Context())
		},
	})
	root.AddCommand(newJWKSCmd())

	return root
}

func newJWKSCmd() *cobra.Command {
	var storageDir string

	cmd := &cobra.Command{
		Use:   "jwks",
		Short: "Print the public signing key set, creating the keys when absent",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if storageDir == "" {
				cfg, err := core.LoadConfig()
				if err != nil {
					return err
				}
				storageDir = cfg.StorageDir
			}

			keys := crypto.NewKeyManager(storageDir)
			if _, err := keys.EnsureKeys(); err != nil {
				return err
			}
			jwks, err := keys.PublicJWKS()
			if err != nil {
				return err
			}

			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(jwks)
		},
	}
	cmd.Flags().StringVar(&storageDir, "storage-dir", "", "key directory (defaults to STORAGE_DIR)")
	return cmd
}

func runServe(ctx context.Context) error {
	cfg, err := core.LoadConfig()
	if err != nil {
		return err
	}

	logger, err := logging.New(logging.Config{Level: cfg.LogLevel, Format: cfg.LogFormat})
	if err != nil {
		return err
	}
	defer logger.Sync()

	result, err := core.Bootstrap(ctx, cfg, logger, core.BootstrapOptions{})
	if err != nil {
		logger.Error("Startup failed", zap.Error(err))
		return err
	}
	defer result.Close()

	registry, err := newRegistry(result.PluginConfig)
	if err != nil {
		return err
	}
	if err := registry.InitializeAll(ctx, result.PluginConfig); err != nil {
		return err
	}
	logger.Info("Plugins initialized", zap.Int("count", len(registry.List())))

	server := core.NewServer(cfg, registry, result.PluginConfig)
	httpServer := &http.Server{
		Addr:         cfg.ListenAddr(),
		Handler:      server.Router(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("Server starting",
			zap.String("addr", cfg.ListenAddr()),
			zap.String("environment", cfg.Environment),
		)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	quit, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("server failed: %w", err)
		}
		return nil
	case <-quit.Done():
	}
	logger.Info("Shutting down server")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := registry.ShutdownAll(shutdownCtx); err != nil {
		logger.Warn("Plugin shutdown error", zap.Error(err))
	}
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server forced to shutdown: %w", err)
	}

	logger.Info("Server exited gracefully")
	return nil
}

// newRegistry registers the plugins; the dataset admin only when S3 is configured
func newRegistry(services plugin.PluginConfig) (*plugin.Registry, error) {
	registry := plugin.NewRegistry()

	plugins := []plugin.RoutePlugin{oidc.NewPlugin(), signin.NewPlugin()}
	if services.Datasets != nil {
		plugins = append(plugins, s3admin.NewPlugin())
	}
	for _, p := range plugins {
		if err := registry.Register(p); err != nil {
			return nil, err
		}
	}
	return registry, nil
}
