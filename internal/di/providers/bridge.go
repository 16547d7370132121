package providers

import (
	"net"
	"net/http"

	"github.com/samber/do/v2"

	"github.com/listenupapp/bookstream/internal/api"
	"github.com/listenupapp/bookstream/internal/client"
	"github.com/listenupapp/bookstream/internal/config"
	"github.com/listenupapp/bookstream/internal/logger"
	"github.com/listenupapp/bookstream/internal/protocol"
	"github.com/listenupapp/bookstream/internal/sse"
	"github.com/listenupapp/bookstream/internal/transport"
)

// StreamClientHandle wraps the bridge's connection manager with Shutdownable.
type StreamClientHandle struct {
	*client.Manager
}

// Shutdown implements do.Shutdownable.
func (h *StreamClientHandle) Shutdown() error {
	h.Disconnect()
	return nil
}

// ProvideStreamClient provides the connection manager the bridge relays. It
// stays idle until the first event stream client arrives.
func ProvideStreamClient(i do.Injector) (*StreamClientHandle, error) {
	cfg := do.MustInvoke[*config.Config](i)
	log := do.MustInvoke[*logger.Logger](i)

	codec, err := protocol.CodecByName(cfg.Client.Codec)
	if err != nil {
		return nil, err
	}

	m := client.NewManager(&transport.Dialer{URL: cfg.Client.URL, Codec: codec}, client.Options{
		ReconnectDelay: cfg.Client.ReconnectDelay,
		ReadyFallback:  cfg.Client.ReadyFallback,
		MaxPending:     cfg.Client.MaxPending,
		Logger:         log.Component("client"),
	})

	log.Info("Stream client configured", "url", cfg.Client.URL, "codec", codec.Name())

	return &StreamClientHandle{Manager: m}, nil
}

// SSEManagerHandle wraps the SSE manager with Shutdownable.
type SSEManagerHandle struct {
	*sse.Manager
}

// Shutdown implements do.Shutdownable.
func (h *SSEManagerHandle) Shutdown() error {
	h.Manager.Shutdown()
	return nil
}

// ProvideSSEManager provides the server-sent events manager.
func ProvideSSEManager(i do.Injector) (*SSEManagerHandle, error) {
	log := do.MustInvoke[*logger.Logger](i)
	stream := do.MustInvoke[*StreamClientHandle](i)

	return &SSEManagerHandle{Manager: sse.NewManager(stream.Manager, log.Component("sse"))}, nil
}

// BridgeServerHandle wraps the bridge's http.Server with Shutdownable.
type BridgeServerHandle struct {
	*http.Server
}

// Shutdown implements do.Shutdownable.
func (h *BridgeServerHandle) Shutdown() error {
	return drain(h.Server)
}

// ProvideBridgeServer provides the push bridge HTTP server and starts
// listening.
func ProvideBridgeServer(i do.Injector) (*BridgeServerHandle, error) {
	cfg := do.MustInvoke[*config.Config](i)
	log := do.MustInvoke[*logger.Logger](i)
	sseHandle := do.MustInvoke[*SSEManagerHandle](i)

	router, humaAPI := api.NewRouter(api.Config{
		Name:           cfg.Server.Name + " Bridge",
		AllowedOrigins: cfg.Server.AllowedOrigins,
	}, log.Logger)
	sse.Register(router, humaAPI, sse.NewHandler(sseHandle.Manager, sse.DefaultHeartbeatInterval, log.Component("sse")))

	srv := &http.Server{
		Addr:        net.JoinHostPort(cfg.Server.Host, cfg.Bridge.Port),
		Handler:     router,
		ReadTimeout: cfg.Server.ReadTimeout,
		// Event streams are long lived; the handler sets per-event deadlines.
		WriteTimeout: 0,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	if err := listenAndServe(srv, log, "Bridge server", sse.StreamPath); err != nil {
		return nil, err
	}

	return &BridgeServerHandle{Server: srv}, nil
}
