package main

import (
	"context"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/ratio1/r1fs-drive-go/internal/httpapi"
	"github.com/ratio1/r1fs-drive-go/pkg/config"
)

func newServeCommand(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the drive HTTP API",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			d, err := a.openDrive()
			if err != nil {
				return err
			}
			defer func() {
				if err := d.Close(); err != nil {
					zap.L().Warn("close drive", zap.Error(err))
				}
			}()

			mux := http.NewServeMux()
			httpapi.New(d).Register(mux)
			srv := &http.Server{
				Addr:              d.Config.ListenAddr,
				Handler:           mux,
				ReadHeaderTimeout: 10 * time.Second,
			}
			return serve(cmd.Context(), srv, d.Config.Timeouts.Shutdown)
		},
	}
	cmd.Flags().String("listen", config.DefaultListenAddr, "HTTP listen address")
	return cmd
}

// serve runs srv until ctx is cancelled, then shuts it down gracefully.
func serve(ctx context.Context, srv *http.Server, shutdownTimeout time.Duration) error {
	ln, err := net.Listen("tcp", srv.Addr)
	if err != nil {
		return err
	}
	zap.L().Info("listening", zap.String("addr", ln.Addr().String()))

	errCh := make(chan error, 1)
	go func() { errCh <- srv.Serve(ln) }()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	zap.L().Info("shutting down", zap.Duration("timeout", shutdownTimeout))
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	if err := <-errCh; err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
