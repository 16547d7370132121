package store

import (
	"context"
	"log/slog"
	"sync"

	"github.com/listenupapp/bookstream/internal/domain"
	"github.com/listenupapp/bookstream/internal/id"
)

// MemoryStore keeps books in a map. It is the default backend and the
// fallback when a persistent backend cannot be opened. It has no change feed.
type MemoryStore struct {
	mu     sync.RWMutex
	books  map[string]domain.Book
	clock  *Clock
	logger *slog.Logger
}

// MemoryOption configures a MemoryStore.
type MemoryOption func(*MemoryStore)

// WithMemoryClock overrides the store clock.
func WithMemoryClock(c *Clock) MemoryOption {
	return func(s *MemoryStore) { s.clock = c }
}

// WithMemoryLogger sets the store logger.
func WithMemoryLogger(l *slog.Logger) MemoryOption {
	return func(s *MemoryStore) { s.logger = l }
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore(opts ...MemoryOption) *MemoryStore {
	s := &MemoryStore{
		books:  make(map[string]domain.Book),
		clock:  NewClock(nil),
		logger: slog.New(slog.DiscardHandler),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// NewSeededMemoryStore creates an in-memory store holding seed.
func NewSeededMemoryStore(seed []domain.BookInput, opts ...MemoryOption) (*MemoryStore, error) {
	s := NewMemoryStore(opts...)
	for _, in := range seed {
		if _, err := s.Create(context.Background(), in); err != nil {
			return nil, err
		}
	}
	s.logger.Info("memory store seeded", "books", len(seed))
	return s, nil
}

// List implements Backend.
func (s *MemoryStore) List(_ context.Context, filter domain.Filter) ([]domain.Book, error) {
	s.mu.RLock()
	out := make([]domain.Book, 0, len(s.books))
	for _, b := range s.books {
		if b.Matches(filter.Query) {
			out = append(out, b)
		}
	}
	s.mu.RUnlock()

	domain.SortByRecent(out)
	return out, nil
}

// Get implements Backend.
func (s *MemoryStore) Get(_ context.Context, bookID string) (domain.Book, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	b, ok := s.books[bookID]
	if !ok {
		return domain.Book{}, NotFound(bookID)
	}
	return b, nil
}

// Create implements Backend.
func (s *MemoryStore) Create(_ context.Context, in domain.BookInput) (domain.Book, error) {
	bookID, err := id.Generate(id.PrefixBook)
	if err != nil {
		return domain.Book{}, err
	}

	now := s.clock.Now()
	b := domain.Book{ID: bookID, CreatedAt: now, UpdatedAt: now}
	in.Apply(&b)

	s.mu.Lock()
	s.books[b.ID] = b
	s.mu.Unlock()

	return b, nil
}

// Update implements Backend.
func (s *MemoryStore) Update(_ context.Context, bookID string, in domain.BookInput) (domain.Book, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	b, ok := s.books[bookID]
	if !ok {
		return domain.Book{}, NotFound(bookID)
	}
	in.Apply(&b)
	b.UpdatedAt = s.clock.Now()
	s.books[bookID] = b
	return b, nil
}

// Delete implements Backend.
func (s *MemoryStore) Delete(_ context.Context, bookID string) (domain.Book, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	b, ok := s.books[bookID]
	if !ok {
		return domain.Book{}, NotFound(bookID)
	}
	delete(s.books, bookID)
	return b, nil
}

// Count implements Backend.
func (s *MemoryStore) Count(_ context.Context) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.books), nil
}

// Close implements Backend.
func (s *MemoryStore) Close() error { return nil }
