package client

import (
	"context"

	"github.com/listenupapp/bookstream/internal/domain"
	domainerrors "github.com/listenupapp/bookstream/internal/errors"
	"github.com/listenupapp/bookstream/internal/id"
	"github.com/listenupapp/bookstream/internal/protocol"
)

// Do sends req and waits for the response carrying the same request id. An
// empty request id is filled in. Do does not retry: if the stream is lost
// before the answer arrives, it waits until ctx is done.
func (m *Manager) Do(ctx context.Context, req protocol.Request) (protocol.Response, error) {
	if req.RequestID == "" {
		req.RequestID = id.Request(req.Action.String())
	}

	answer := make(chan protocol.Response, 1)
	unsubscribe := m.OnEnvelope(func(resp protocol.Response) {
		if resp.RequestID != req.RequestID {
			return
		}
		select {
		case answer <- resp:
		default:
		}
	})
	defer unsubscribe()

	if err := m.Send(req); err != nil {
		return protocol.Response{}, err
	}

	select {
	case resp := <-answer:
		return resp, nil
	case <-ctx.Done():
		return protocol.Response{}, ctx.Err()
	}
}

// StatusError converts a non-success response into a domain error.
func StatusError(resp protocol.Response) error {
	switch resp.Status {
	case protocol.StatusSuccess:
		return nil
	case protocol.StatusNotFound:
		return domainerrors.NotFound(resp.Message)
	case protocol.StatusInvalidInput:
		return domainerrors.Validation(resp.Message)
	default:
		return domainerrors.Internal(resp.Message)
	}
}

func (m *Manager) call(ctx context.Context, req protocol.Request) (protocol.Response, error) {
	req.RequestID = id.Request(req.Action.String())
	resp, err := m.Do(ctx, req)
	if err != nil {
		return protocol.Response{}, err
	}
	return resp, StatusError(resp)
}

// ListBooks lists books, optionally filtered by query.
func (m *Manager) ListBooks(ctx context.Context, query string) ([]domain.Book, error) {
	resp, err := m.call(ctx, protocol.Request{Action: protocol.ActionList, SearchQuery: query})
	if err != nil {
		return nil, err
	}
	return resp.Books, nil
}

// GetBook fetches one book.
func (m *Manager) GetBook(ctx context.Context, bookID string) (domain.Book, error) {
	resp, err := m.call(ctx, protocol.Request{Action: protocol.ActionGet, BookID: bookID})
	return bookOf(resp, err)
}

// CreateBook creates a book.
func (m *Manager) CreateBook(ctx context.Context, in domain.BookInput) (domain.Book, error) {
	resp, err := m.call(ctx, protocol.Request{Action: protocol.ActionCreate, Book: &in})
	return bookOf(resp, err)
}

// UpdateBook changes the provided fields of a book.
func (m *Manager) UpdateBook(ctx context.Context, bookID string, in domain.BookInput) (domain.Book, error) {
	resp, err := m.call(ctx, protocol.Request{Action: protocol.ActionUpdate, BookID: bookID, Book: &in})
	return bookOf(resp, err)
}

// DeleteBook deletes a book and returns it as it was.
func (m *Manager) DeleteBook(ctx context.Context, bookID string) (domain.Book, error) {
	resp, err := m.call(ctx, protocol.Request{Action: protocol.ActionDelete, BookID: bookID})
	return bookOf(resp, err)
}

func bookOf(resp protocol.Response, err error) (domain.Book, error) {
	if err != nil {
		return domain.Book{}, err
	}
	if resp.Book == nil {
		return domain.Book{}, domainerrors.Internal("response carried no book")
	}
	return *resp.Book, nil
}
