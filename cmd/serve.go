package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/banux/nxt-catalog/internal/assets"
	fsbackend "github.com/banux/nxt-catalog/internal/backend/fs"
	sqlitebackend "github.com/banux/nxt-catalog/internal/backend/sqlite"
	"github.com/banux/nxt-catalog/internal/catalog"
	"github.com/banux/nxt-catalog/internal/server"
)

func newServeCmd(a *app) *cobra.Command {
	var addr string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the catalog API server",
		Long: `Starts the catalog HTTP API on the configured address.

Products are kept by the configured backend ("fs" or "sqlite") under the data
directory; uploaded images are stored under {data_dir}/storage and served at
/storage/. Prometheus metrics are exposed at /metrics.`,
		Example: `  # Start with the configured settings
  nxt-catalog serve

  # Listen on another address
  nxt-catalog serve --addr :9090`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if addr != "" {
				a.cfg.ListenAddr = addr
			}
			repo, err := openBackend(a.cfg.Backend, a.cfg.DataDir)
			if err != nil {
				return err
			}
			if c, ok := repo.(io.Closer); ok {
				defer c.Close()
			}
			images, err := assets.NewDiskStore(a.cfg.DataDir)
			if err != nil {
				return err
			}
			if a.cfg.APIToken == "" {
				a.log.Warn("api_token is not set, catalog writes are unauthenticated")
			}

			handler := server.New(repo, server.Options{
				Images:       images,
				MaxImages:    a.cfg.MaxImages,
				MaxImageSize: a.cfg.MaxImageSize,
				Token:        a.cfg.APIToken,
				Logger:       a.log,
			})
			srv := &http.Server{
				Addr:              a.cfg.ListenAddr,
				Handler:           handler,
				ReadHeaderTimeout: 10 * time.Second,
			}

			// Start server in goroutine
			serverErr := make(chan error, 1)
			go func() {
				a.log.Info("catalog API listening",
					zap.String("addr", a.cfg.ListenAddr),
					zap.String("backend", a.cfg.Backend),
					zap.String("data_dir", a.cfg.DataDir))
				if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					serverErr <- err
				}
			}()

			// Wait for context cancellation (Ctrl+C) or server error
			select {
			case <-cmd.Context().Done():
				a.log.Info("shutting down server")
				shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				if err := srv.Shutdown(shutdownCtx); err != nil {
					a.log.Error("server shutdown failed", zap.Error(err))
					return err
				}
				a.log.Info("server stopped")
				return nil
			case err := <-serverErr:
				return err
			}
		},
	}

	cmd.Flags().StringVar(&addr, "addr", "", "Address to listen on (overrides listen_addr)")

	return cmd
}

// openBackend returns the product repository named by kind.
func openBackend(kind, dir string) (catalog.Repository, error) {
	switch kind {
	case "sqlite":
		be, err := sqlitebackend.New(dir)
		if err != nil {
			return nil, fmt.Errorf("open sqlite backend: %w", err)
		}
		return be, nil
	case "fs", "":
		be, err := fsbackend.New(dir)
		if err != nil {
			return nil, fmt.Errorf("open fs backend: %w", err)
		}
		return be, nil
	default:
		return nil, fmt.Errorf("unknown backend %q", kind)
	}
}
