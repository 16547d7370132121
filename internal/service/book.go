// Package service holds the catalog operations shared by stream sessions:
// validation, persistence and change broadcasting.
package service

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/listenupapp/bookstream/internal/domain"
	"github.com/listenupapp/bookstream/internal/hub"
	"github.com/listenupapp/bookstream/internal/protocol"
	"github.com/listenupapp/bookstream/internal/store"
	"github.com/listenupapp/bookstream/internal/validation"
)

// Broadcast messages.
const (
	msgCreated = "Book created successfully"
	msgUpdated = "Book updated successfully"
	msgDeleted = "Book deleted successfully"

	msgFeedCreated = "Book created via realtime"
	msgFeedUpdated = "Book updated via realtime"
	msgFeedDeleted = "Book deleted via realtime"
)

// BookService orchestrates book operations and announces every mutation on
// the hub. When the backend has a change feed, announcements come from the
// feed (see Run) so writes from other processes are seen too; otherwise the
// service publishes after each successful write.
type BookService struct {
	store     store.Backend
	feed      store.ChangeFeed
	hub       *hub.Hub
	validator *validation.Validator
	logger    *slog.Logger
}

// NewBookService creates a new book service.
func NewBookService(backend store.Backend, h *hub.Hub, v *validation.Validator, logger *slog.Logger) *BookService {
	s := &BookService{
		store:     backend,
		hub:       h,
		validator: v,
		logger:    logger,
	}
	if feed, ok := backend.(store.ChangeFeed); ok {
		s.feed = feed
	}
	return s
}

// HasFeed reports whether broadcasts come from the backend's change feed.
func (s *BookService) HasFeed() bool {
	return s.feed != nil
}

// ListBooks returns books matching query, most recently updated first.
func (s *BookService) ListBooks(ctx context.Context, query string) ([]domain.Book, error) {
	books, err := s.store.List(ctx, domain.Filter{Query: query})
	if err != nil {
		return nil, fmt.Errorf("list books: %w", err)
	}
	return books, nil
}

// GetBook returns one book.
func (s *BookService) GetBook(ctx context.Context, bookID string) (domain.Book, error) {
	if err := s.validator.ValidateID(bookID); err != nil {
		return domain.Book{}, err
	}
	return s.store.Get(ctx, bookID)
}

// CreateBook validates and stores a new book. It returns the record and the
// catalog size after the insert.
func (s *BookService) CreateBook(ctx context.Context, in domain.BookInput) (domain.Book, int, error) {
	in, err := s.validator.ValidateCreate(in)
	if err != nil {
		return domain.Book{}, 0, err
	}

	book, err := s.store.Create(ctx, in)
	if err != nil {
		return domain.Book{}, 0, fmt.Errorf("create book: %w", err)
	}
	count, err := s.store.Count(ctx)
	if err != nil {
		return domain.Book{}, 0, fmt.Errorf("count books: %w", err)
	}

	s.logger.Info("book created", "book_id", book.ID, "title", book.Title)
	if s.feed == nil {
		s.publish(protocol.ActionCreate, msgCreated, book, count)
	}
	return book, count, nil
}

// UpdateBook applies the provided fields to an existing book.
func (s *BookService) UpdateBook(ctx context.Context, bookID string, in domain.BookInput) (domain.Book, error) {
	if err := s.validator.ValidateID(bookID); err != nil {
		return domain.Book{}, err
	}
	in, err := s.validator.ValidateUpdate(in)
	if err != nil {
		return domain.Book{}, err
	}

	book, err := s.store.Update(ctx, bookID, in)
	if err != nil {
		return domain.Book{}, err
	}

	s.logger.Info("book updated", "book_id", book.ID)
	if s.feed == nil {
		s.publish(protocol.ActionUpdate, msgUpdated, book, -1)
	}
	return book, nil
}

// DeleteBook removes a book. It returns the record as it was before removal
// and the catalog size afterwards. Unknown ids fail without a broadcast.
func (s *BookService) DeleteBook(ctx context.Context, bookID string) (domain.Book, int, error) {
	if err := s.validator.ValidateID(bookID); err != nil {
		return domain.Book{}, 0, err
	}

	book, err := s.store.Delete(ctx, bookID)
	if err != nil {
		return domain.Book{}, 0, err
	}
	count, err := s.store.Count(ctx)
	if err != nil {
		return domain.Book{}, 0, fmt.Errorf("count books: %w", err)
	}

	s.logger.Info("book deleted", "book_id", book.ID)
	if s.feed == nil {
		s.publish(protocol.ActionDelete, msgDeleted, book, count)
	}
	return book, count, nil
}

// Ping reports backend health when the backend supports it.
func (s *BookService) Ping(ctx context.Context) error {
	if p, ok := s.store.(store.Pinger); ok {
		return p.Ping(ctx)
	}
	return nil
}

// Count returns the catalog size.
func (s *BookService) Count(ctx context.Context) (int, error) {
	return s.store.Count(ctx)
}

// Run relays the backend's change feed onto the hub until ctx is done. It
// returns immediately when the backend has no feed.
func (s *BookService) Run(ctx context.Context) error {
	if s.feed == nil {
		return nil
	}

	changes, err := s.feed.Changes(ctx)
	if err != nil {
		return fmt.Errorf("subscribe to change feed: %w", err)
	}
	s.logger.Info("relaying store change feed")

	for change := range changes {
		action, msg, ok := feedAction(change.Kind)
		if !ok {
			s.logger.Warn("ignoring unknown change kind", "kind", change.Kind)
			continue
		}

		count := -1
		if action != protocol.ActionUpdate {
			if count, err = s.store.Count(ctx); err != nil {
				s.logger.Warn("failed to count books for broadcast", "error", err)
				count = -1
			}
		}
		s.publish(action, msg, change.Book, count)
	}
	return ctx.Err()
}

func feedAction(kind domain.ChangeKind) (protocol.Action, string, bool) {
	switch kind {
	case domain.ChangeCreated:
		return protocol.ActionCreate, msgFeedCreated, true
	case domain.ChangeUpdated:
		return protocol.ActionUpdate, msgFeedUpdated, true
	case domain.ChangeDeleted:
		return protocol.ActionDelete, msgFeedDeleted, true
	default:
		return protocol.ActionUnknown, "", false
	}
}

// publish broadcasts a change. A negative count is left out.
func (s *BookService) publish(action protocol.Action, msg string, book domain.Book, count int) {
	resp := protocol.NewResponse(action, protocol.StatusSuccess, msg, "").WithBook(book)
	if count >= 0 {
		resp = resp.WithCount(count)
	}
	s.hub.Publish(resp)
}
