// Package store defines the catalog persistence interface and an in-memory backend.
package store

import (
	"context"

	"github.com/listenupapp/bookstream/internal/domain"
)

// Backend persists book records. Implementations must be safe for concurrent use.
// Get, Update and Delete return an error matching ErrNotFound for unknown ids.
type Backend interface {
	// List returns matching books, most recently updated first.
	List(ctx context.Context, filter domain.Filter) ([]domain.Book, error)
	Get(ctx context.Context, id string) (domain.Book, error)
	// Create assigns the id and timestamps. Input is assumed validated.
	Create(ctx context.Context, in domain.BookInput) (domain.Book, error)
	// Update applies the provided fields and advances UpdatedAt.
	Update(ctx context.Context, id string, in domain.BookInput) (domain.Book, error)
	// Delete removes the record and returns it as it was before removal.
	Delete(ctx context.Context, id string) (domain.Book, error)
	Count(ctx context.Context) (int, error)
	Close() error
}

// ChangeFeed is implemented by backends that report their own mutations,
// including ones made by other writers. When a backend has a feed, the feed is
// the only source of change broadcasts.
type ChangeFeed interface {
	// Changes streams mutations until ctx is done. The channel is closed on return.
	Changes(ctx context.Context) (<-chan domain.Change, error)
}

// Pinger is implemented by backends that can report their health cheaply.
type Pinger interface {
	Ping(ctx context.Context) error
}
