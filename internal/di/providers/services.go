package providers

import (
	"context"
	"errors"

	"github.com/samber/do/v2"

	"github.com/listenupapp/bookstream/internal/hub"
	"github.com/listenupapp/bookstream/internal/logger"
	"github.com/listenupapp/bookstream/internal/service"
	"github.com/listenupapp/bookstream/internal/validation"
)

// HubHandle wraps the broadcast hub with shutdown capability.
type HubHandle struct {
	*hub.Hub
}

// Shutdown implements do.Shutdownable.
func (h *HubHandle) Shutdown() error {
	h.Close()
	return nil
}

// ProvideHub provides the broadcast hub shared by all sessions.
func ProvideHub(i do.Injector) (*HubHandle, error) {
	log := do.MustInvoke[*logger.Logger](i)
	return &HubHandle{Hub: hub.New(log.Component("hub"))}, nil
}

// BookServiceHandle wraps the book service and its change feed relay.
type BookServiceHandle struct {
	*service.BookService
	cancel context.CancelFunc
	done   chan struct{}
}

// Shutdown implements do.Shutdownable.
func (h *BookServiceHandle) Shutdown() error {
	h.cancel()
	<-h.done
	return nil
}

// ProvideBookService provides the book service and starts relaying the store's
// change feed when it has one.
func ProvideBookService(i do.Injector) (*BookServiceHandle, error) {
	storeHandle := do.MustInvoke[*StoreHandle](i)
	hubHandle := do.MustInvoke[*HubHandle](i)
	v := do.MustInvoke[*validation.Validator](i)
	log := do.MustInvoke[*logger.Logger](i)

	svc := service.NewBookService(storeHandle.Backend, hubHandle.Hub, v, log.Component("books"))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		if err := svc.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			log.WithError(err).Error("Change feed relay stopped")
		}
	}()

	if svc.HasFeed() {
		log.WithField("store", storeHandle.Name).Info("Broadcasting from store change feed")
	}

	return &BookServiceHandle{BookService: svc, cancel: cancel, done: done}, nil
}
