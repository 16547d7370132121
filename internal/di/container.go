// Package di provides dependency injection configuration for the bookstream
// binaries.
package di

import (
	"github.com/samber/do/v2"

	"github.com/listenupapp/bookstream/internal/config"
	"github.com/listenupapp/bookstream/internal/di/providers"
	"github.com/listenupapp/bookstream/internal/logger"
)

// NewServerContainer creates the container for the stream server.
func NewServerContainer() *do.RootScope {
	injector := do.New()

	// Core infrastructure
	do.Provide(injector, providers.ProvideConfig)
	do.Provide(injector, providers.ProvideLogger)

	// Storage layer
	do.Provide(injector, providers.ProvideValidator)
	do.Provide(injector, providers.ProvideStore)

	// Business services
	do.Provide(injector, providers.ProvideHub)
	do.Provide(injector, providers.ProvideBookService)

	// Server
	do.Provide(injector, providers.ProvideRateLimiter)
	do.Provide(injector, providers.ProvideHTTPServer)
	do.Provide(injector, providers.ProvideMDNSService)

	return injector
}

// BootstrapServer initializes the stream server. This triggers lazy
// initialization of every service; the HTTP server is listening on return.
func BootstrapServer(injector *do.RootScope) error {
	if _, err := do.Invoke[*config.Config](injector); err != nil {
		return err
	}
	_ = do.MustInvoke[*logger.Logger](injector)
	_ = do.MustInvoke[*providers.StoreHandle](injector)
	_ = do.MustInvoke[*providers.HubHandle](injector)
	_ = do.MustInvoke[*providers.BookServiceHandle](injector)
	_ = do.MustInvoke[*providers.RateLimiterHandle](injector)
	if _, err := do.Invoke[*providers.HTTPServerHandle](injector); err != nil {
		return err
	}
	_ = do.MustInvoke[*providers.MDNSServiceHandle](injector)
	return nil
}

// NewBridgeContainer creates the container for the push bridge.
func NewBridgeContainer() *do.RootScope {
	injector := do.New()

	do.Provide(injector, providers.ProvideConfig)
	do.Provide(injector, providers.ProvideLogger)

	do.Provide(injector, providers.ProvideStreamClient)
	do.Provide(injector, providers.ProvideSSEManager)
	do.Provide(injector, providers.ProvideBridgeServer)

	return injector
}

// BootstrapBridge initializes the push bridge. The upstream stream is opened
// by the first event stream client, not here.
func BootstrapBridge(injector *do.RootScope) error {
	if _, err := do.Invoke[*config.Config](injector); err != nil {
		return err
	}
	_ = do.MustInvoke[*logger.Logger](injector)
	if _, err := do.Invoke[*providers.StreamClientHandle](injector); err != nil {
		return err
	}
	_ = do.MustInvoke[*providers.SSEManagerHandle](injector)
	if _, err := do.Invoke[*providers.BridgeServerHandle](injector); err != nil {
		return err
	}
	return nil
}
