package api

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/angelmondragon/quickbrush-backend/pkg/logger"
)

const defaultShutdownTimeout = 30 * time.Second

// NewServer returns the HTTP server cmd/api runs. The write timeout leaves
// room for a full image generation.
func NewServer(addr string, handler http.Handler, generationTimeout time.Duration) *http.Server {
	if generationTimeout <= 0 {
		generationTimeout = 2 * time.Minute
	}
	return &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      generationTimeout + 30*time.Second,
		IdleTimeout:       2 * time.Minute,
	}
}

// Serve accepts connections on ln until ctx is done, then drains in-flight
// requests for at most shutdownTimeout.
func Serve(ctx context.Context, srv *http.Server, ln net.Listener, logg *logger.Logger, shutdownTimeout time.Duration) error {
	if shutdownTimeout <= 0 {
		shutdownTimeout = defaultShutdownTimeout
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Serve(ln)
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("serve: %w", err)
	case <-ctx.Done():
	}

	logg.Info(ctx, "shutting down api server")
	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	if err := <-errCh; err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("serve: %w", err)
	}
	return nil
}
