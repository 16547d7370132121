package providers

import (
	"context"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/listenupapp/bookstream/internal/logger"
)

// shutdownTimeout bounds how long an HTTP server drains on shutdown.
const shutdownTimeout = 30 * time.Second

// listenAndServe binds srv.Addr and serves in the background. Binding happens
// before it returns so a busy port fails the bootstrap.
func listenAndServe(srv *http.Server, log *logger.Logger, name, streamPath string) error {
	ln, err := net.Listen("tcp", srv.Addr)
	if err != nil {
		return err
	}

	go func() {
		log.Info(name+" starting", "addr", ln.Addr().String(), "stream_path", streamPath)
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.WithError(err).Error(name + " error")
		}
	}()
	return nil
}

// drain stops srv, waiting up to shutdownTimeout for in-flight requests.
func drain(srv *http.Server) error {
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	return srv.Shutdown(ctx)
}
