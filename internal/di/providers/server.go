package providers

import (
	"net/http"
	"strconv"

	"github.com/samber/do/v2"

	"github.com/listenupapp/bookstream/internal/api"
	"github.com/listenupapp/bookstream/internal/config"
	"github.com/listenupapp/bookstream/internal/logger"
	"github.com/listenupapp/bookstream/internal/mdns"
	"github.com/listenupapp/bookstream/internal/ratelimit"
)

// RateLimiterHandle wraps the stream upgrade limiter with Shutdownable.
type RateLimiterHandle struct {
	*ratelimit.KeyedRateLimiter
}

// Shutdown implements do.Shutdownable.
func (h *RateLimiterHandle) Shutdown() error {
	h.Stop()
	return nil
}

// ProvideRateLimiter provides the per-IP stream upgrade limiter.
func ProvideRateLimiter(i do.Injector) (*RateLimiterHandle, error) {
	cfg := do.MustInvoke[*config.Config](i)
	limiter := ratelimit.New(cfg.Stream.UpgradeRate, cfg.Stream.UpgradeBurst)
	return &RateLimiterHandle{KeyedRateLimiter: limiter}, nil
}

// HTTPServerHandle wraps http.Server with Shutdownable.
type HTTPServerHandle struct {
	*http.Server
	api *api.Server
}

// Shutdown implements do.Shutdownable. Stream sessions are hijacked
// connections, so they are closed after the listener stops.
func (h *HTTPServerHandle) Shutdown() error {
	err := drain(h.Server)
	h.api.CloseSessions()
	return err
}

// ProvideHTTPServer provides the stream server and starts listening.
func ProvideHTTPServer(i do.Injector) (*HTTPServerHandle, error) {
	cfg := do.MustInvoke[*config.Config](i)
	log := do.MustInvoke[*logger.Logger](i)
	books := do.MustInvoke[*BookServiceHandle](i)
	hubHandle := do.MustInvoke[*HubHandle](i)
	limiter := do.MustInvoke[*RateLimiterHandle](i)

	handler := api.NewServer(api.Config{
		Name:           cfg.Server.Name,
		AllowedOrigins: cfg.Server.AllowedOrigins,
		SendBuffer:     cfg.Stream.SendBuffer,
	}, books.BookService, hubHandle.Hub, limiter.KeyedRateLimiter, log.Logger)

	srv := &http.Server{
		Addr:        cfg.Server.Addr(),
		Handler:     handler,
		ReadTimeout: cfg.Server.ReadTimeout,
		// Sessions set their own write deadlines after the upgrade.
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	if err := listenAndServe(srv, log, "HTTP server", api.StreamPath); err != nil {
		return nil, err
	}

	return &HTTPServerHandle{Server: srv, api: handler}, nil
}

// MDNSServiceHandle wraps mdns.Service with Shutdownable.
type MDNSServiceHandle struct {
	*mdns.Service
	started bool
}

// Shutdown implements do.Shutdownable.
func (h *MDNSServiceHandle) Shutdown() error {
	if h.started && h.Service != nil {
		h.Stop()
	}
	return nil
}

// ProvideMDNSService provides the mDNS advertisement service.
func ProvideMDNSService(i do.Injector) (*MDNSServiceHandle, error) {
	cfg := do.MustInvoke[*config.Config](i)
	log := do.MustInvoke[*logger.Logger](i)

	if !cfg.Server.AdvertiseMDNS {
		log.Info("mDNS advertisement disabled by configuration")
		return &MDNSServiceHandle{Service: nil, started: false}, nil
	}

	svc := mdns.NewService(log.Component("mdns"))

	port, err := strconv.Atoi(cfg.Server.Port)
	if err != nil {
		log.Warn("Failed to parse server port for mDNS", "port", cfg.Server.Port)
		return &MDNSServiceHandle{Service: svc, started: false}, nil
	}

	if err := svc.Start(mdns.Advertisement{
		Name: cfg.Server.Name,
		Path: api.StreamPath,
		Port: port,
	}); err != nil {
		log.Warn("mDNS advertisement unavailable", "error", err)
		// Non-fatal: the server works without mDNS (e.g. Docker, cloud).
		return &MDNSServiceHandle{Service: svc, started: false}, nil
	}

	return &MDNSServiceHandle{Service: svc, started: true}, nil
}
