package sse

import (
	"time"

	"github.com/listenupapp/bookstream/internal/domain"
	"github.com/listenupapp/bookstream/internal/protocol"
)

// Browsers speak camelCase JSON. These types translate between that and the
// stream envelopes.

// CommandBook is the book part of a command. Every field is optional; extra
// fields such as id or createdAt are accepted and ignored so a full book can
// be posted back.
type CommandBook struct {
	_             struct{} `json:"-" additionalProperties:"true"`
	Title         *string  `json:"title,omitempty"`
	Author        *string  `json:"author,omitempty"`
	Description   *string  `json:"description,omitempty"`
	PublishedYear *int32   `json:"publishedYear,omitempty" doc:"0 clears the year"`
}

// Input converts the command book into a stream book input.
func (b CommandBook) Input() *domain.BookInput {
	return &domain.BookInput{
		Title:         b.Title,
		Author:        b.Author,
		Description:   b.Description,
		PublishedYear: b.PublishedYear,
	}
}

// BookPayload is a book as browsers see it.
type BookPayload struct {
	ID            string    `json:"id"`
	Title         string    `json:"title"`
	Author        string    `json:"author"`
	Description   string    `json:"description"`
	PublishedYear int32     `json:"publishedYear"`
	CreatedAt     time.Time `json:"createdAt"`
	UpdatedAt     time.Time `json:"updatedAt"`
}

func newBookPayload(b domain.Book) BookPayload {
	return BookPayload{
		ID:            b.ID,
		Title:         b.Title,
		Author:        b.Author,
		Description:   b.Description,
		PublishedYear: b.PublishedYear,
		CreatedAt:     b.CreatedAt,
		UpdatedAt:     b.UpdatedAt,
	}
}

// EnvelopePayload is the data of a message event.
type EnvelopePayload struct {
	Action     protocol.Action `json:"action"`
	Status     protocol.Status `json:"status"`
	Message    string          `json:"message"`
	RequestID  string          `json:"requestId"`
	Book       *BookPayload    `json:"book,omitempty"`
	Books      []BookPayload   `json:"books,omitempty"`
	TotalCount *int32          `json:"totalCount,omitempty"`
	Timestamp  time.Time       `json:"timestamp"`
}

func newEnvelopePayload(resp protocol.Response) EnvelopePayload {
	out := EnvelopePayload{
		Action:     resp.Action,
		Status:     resp.Status,
		Message:    resp.Message,
		RequestID:  resp.RequestID,
		TotalCount: resp.TotalCount,
		Timestamp:  resp.Timestamp,
	}
	if resp.Book != nil {
		b := newBookPayload(*resp.Book)
		out.Book = &b
	}
	if resp.Books != nil {
		out.Books = make([]BookPayload, len(resp.Books))
		for i, b := range resp.Books {
			out.Books[i] = newBookPayload(b)
		}
	}
	return out
}
