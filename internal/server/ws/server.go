package ws

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/dmitrijs2005/dropwire/internal/logging"
)

// shutdownGrace bounds how long in-flight work may delay process exit.
const shutdownGrace = 10 * time.Second

// Server runs the HTTP/WebSocket listener. On shutdown it stops accepting
// and returns; closing the upgraded endpoint connections (Adapter.CloseAll)
// and draining the repository are left to the caller.
type Server struct {
	addr   string
	router http.Handler
	logger logging.Logger
}

func NewServer(addr string, router http.Handler, logger logging.Logger) *Server {
	return &Server{addr: addr, router: router, logger: logger.With("module", "http_server")}
}

// Run serves until ctx is cancelled, then shuts down within the grace
// period. Connections that outlive the grace period are cut.
func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.addr,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info(ctx, "starting HTTP server", "address", s.addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	case <-ctx.Done():
	}

	s.logger.Info(context.Background(), "stopping HTTP server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		s.logger.Warn(context.Background(), "graceful shutdown expired, forcing close", "error", err)
		srv.Close()
	}
	return nil
}
