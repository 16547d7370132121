package session

import (
	"context"
	"fmt"

	domainerrors "github.com/listenupapp/bookstream/internal/errors"
	"github.com/listenupapp/bookstream/internal/protocol"
	"github.com/listenupapp/bookstream/internal/validation"
)

// Response messages.
const (
	msgInvalidID     = "Invalid book ID"
	msgInvalidCreate = "Invalid book data. Title and author are required (max 200 and 100 chars)."
	msgNoChanges     = "Invalid book data - at least one field must be provided"
	msgInvalidUpdate = "Invalid book data"
	msgNotFound      = "Book not found"
	msgRetrieved     = "Book retrieved successfully"
	msgCreated       = "Book created successfully"
	msgUpdated       = "Book updated successfully"
	msgDeleted       = "Book deleted successfully"
	msgSubscribed    = "Subscribed to book updates"
	msgUnknown       = "Unknown action"
	msgInternal      = "Internal server error"
	msgMalformed     = "Malformed message"
)

// handle answers one request. It never fails: every error, including a panic,
// becomes a status on the response.
func (s *Session) handle(ctx context.Context, req protocol.Request) (resp protocol.Response) {
	defer func() {
		if r := recover(); r != nil {
			s.logPanic(req, r)
			resp = protocol.NewResponse(req.Action, protocol.StatusError, msgInternal, req.RequestID)
		}
	}()

	s.logger.Debug("request", "action", req.Action.String(), "request_id", req.RequestID)
	cat := s.rt.Catalog

	switch req.Action {
	case protocol.ActionList:
		books, err := cat.ListBooks(ctx, req.SearchQuery)
		if err != nil {
			return s.failure(req, err, "")
		}
		return s.ok(req, fmt.Sprintf("Retrieved %d books", len(books))).
			WithBooks(books).
			WithCount(len(books))

	case protocol.ActionGet:
		book, err := cat.GetBook(ctx, req.BookID)
		if err != nil {
			return s.failure(req, err, msgInvalidID)
		}
		return s.ok(req, msgRetrieved).WithBook(book)

	case protocol.ActionCreate:
		if req.Book == nil {
			return s.invalid(req, msgInvalidCreate)
		}
		book, count, err := cat.CreateBook(ctx, *req.Book)
		if err != nil {
			return s.failure(req, err, msgInvalidCreate)
		}
		return s.ok(req, msgCreated).WithBook(book).WithCount(count)

	case protocol.ActionUpdate:
		if req.Book == nil || req.Book.IsEmpty() {
			return s.invalid(req, msgNoChanges)
		}
		book, err := cat.UpdateBook(ctx, req.BookID, *req.Book)
		if err != nil {
			return s.failure(req, err, updateMessage(err))
		}
		return s.ok(req, msgUpdated).WithBook(book)

	case protocol.ActionDelete:
		book, count, err := cat.DeleteBook(ctx, req.BookID)
		if err != nil {
			return s.failure(req, err, msgInvalidID)
		}
		return s.ok(req, msgDeleted).WithBook(book).WithCount(count)

	case protocol.ActionSubscribe:
		books, err := cat.ListBooks(ctx, "")
		if err != nil {
			return s.failure(req, err, "")
		}
		return s.ok(req, msgSubscribed).WithBooks(books).WithCount(len(books))

	case protocol.ActionUnknown:
		fallthrough
	default:
		return protocol.NewResponse(protocol.ActionUnknown, protocol.StatusError, msgUnknown, req.RequestID)
	}
}

func (s *Session) ok(req protocol.Request, msg string) protocol.Response {
	return protocol.NewResponse(req.Action, protocol.StatusSuccess, msg, req.RequestID)
}

func (s *Session) invalid(req protocol.Request, msg string) protocol.Response {
	return protocol.NewResponse(req.Action, protocol.StatusInvalidInput, msg, req.RequestID)
}

// failure maps a catalog error onto a response status. invalidMsg is used for
// validation errors.
func (s *Session) failure(req protocol.Request, err error, invalidMsg string) protocol.Response {
	switch domainerrors.CodeOf(err) {
	case domainerrors.CodeValidation:
		return s.invalid(req, invalidMsg)
	case domainerrors.CodeNotFound:
		return protocol.NewResponse(req.Action, protocol.StatusNotFound, msgNotFound, req.RequestID)
	default:
		s.logger.Error("request failed",
			"action", req.Action.String(),
			"request_id", req.RequestID,
			"error", err,
		)
		return protocol.NewResponse(req.Action, protocol.StatusError, msgInternal, req.RequestID)
	}
}

// updateMessage picks the INVALID_INPUT text for a rejected update.
func updateMessage(err error) string {
	var e *domainerrors.Error
	if !domainerrors.As(err, &e) {
		return msgInvalidUpdate
	}
	switch e {
	case validation.ErrInvalidID:
		return msgInvalidID
	case validation.ErrNoChanges:
		return msgNoChanges
	default:
		return msgInvalidUpdate
	}
}
