package client

import (
	"fmt"
	"log/slog"
	"sync"
)

// Fanout delivers values to every local observer. Delivery is synchronous
// and unordered; a panicking observer is logged and skipped.
type Fanout[T any] struct {
	mu        sync.RWMutex
	observers map[uint64]func(T)
	next      uint64
	logger    *slog.Logger
}

// NewFanout creates an empty registry.
func NewFanout[T any](logger *slog.Logger) *Fanout[T] {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Fanout[T]{
		observers: make(map[uint64]func(T)),
		logger:    logger,
	}
}

// Subscribe registers fn and returns a function that removes it. Calling the
// returned function more than once is harmless.
func (f *Fanout[T]) Subscribe(fn func(T)) (unsubscribe func()) {
	f.mu.Lock()
	f.next++
	key := f.next
	f.observers[key] = fn
	f.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			f.mu.Lock()
			delete(f.observers, key)
			f.mu.Unlock()
		})
	}
}

// Emit delivers v to the observers registered when the call started.
func (f *Fanout[T]) Emit(v T) {
	f.mu.RLock()
	snapshot := make([]func(T), 0, len(f.observers))
	for _, fn := range f.observers {
		snapshot = append(snapshot, fn)
	}
	f.mu.RUnlock()

	for _, fn := range snapshot {
		if err := f.deliver(fn, v); err != nil {
			f.logger.Warn("observer failed", "error", err)
		}
	}
}

func (f *Fanout[T]) deliver(fn func(T), v T) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("observer panic: %v", r)
		}
	}()
	fn(v)
	return nil
}

// Len returns the number of observers.
func (f *Fanout[T]) Len() int {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return len(f.observers)
}
