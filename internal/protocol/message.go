package protocol

import (
	"time"

	"github.com/listenupapp/bookstream/internal/domain"
)

// Request is a client-to-server envelope. RequestID is opaque: the server
// copies it into the response and never validates it.
type Request struct {
	Action      Action            `json:"action"`
	RequestID   string            `json:"request_id"`
	BookID      string            `json:"book_id,omitempty"`
	Book        *domain.BookInput `json:"book,omitempty"`
	SearchQuery string            `json:"search_query,omitempty"`
}

// Response is a server-to-client envelope. Broadcasts carry an empty RequestID.
type Response struct {
	Action     Action        `json:"action"`
	Status     Status        `json:"status"`
	Message    string        `json:"message"`
	RequestID  string        `json:"request_id"`
	Book       *domain.Book  `json:"book,omitempty"`
	Books      []domain.Book `json:"books,omitempty"`
	TotalCount *int32        `json:"total_count,omitempty"`
	Timestamp  time.Time     `json:"timestamp"`
}

// IsBroadcast reports whether the response is a change notification rather
// than the answer to a specific request.
func (r Response) IsBroadcast() bool {
	return r.RequestID == ""
}

// NewResponse builds a response stamped with the current time.
func NewResponse(action Action, status Status, message, requestID string) Response {
	return Response{
		Action:    action,
		Status:    status,
		Message:   message,
		RequestID: requestID,
		Timestamp: time.Now().UTC(),
	}
}

// WithBook returns a copy of the response carrying a copy of book.
func (r Response) WithBook(book domain.Book) Response {
	r.Book = &book
	return r
}

// WithBooks returns a copy of the response carrying books.
func (r Response) WithBooks(books []domain.Book) Response {
	r.Books = books
	return r
}

// WithCount returns a copy of the response carrying a total count.
func (r Response) WithCount(count int) Response {
	c := int32(count)
	r.TotalCount = &c
	return r
}

// Count returns the total count, or -1 when absent.
func (r Response) Count() int {
	if r.TotalCount == nil {
		return -1
	}
	return int(*r.TotalCount)
}
