// Package domain contains the catalog entities shared by stores, sessions and clients.
package domain

import (
	"slices"
	"strings"
	"time"

	"golang.org/x/text/cases"
)

// Field limits for book records.
const (
	MaxTitleLength       = 200
	MaxAuthorLength      = 100
	MaxDescriptionLength = 2000
	MinPublishedYear     = 1000
	// PublishedYearLead is how many years past the current one a publication year may be.
	PublishedYearLead = 10
)

// Book is a catalog record. The store owns the canonical copy; everything
// else holds values.
type Book struct {
	ID            string    `json:"id" yaml:"id"`
	Title         string    `json:"title" yaml:"title"`
	Author        string    `json:"author" yaml:"author"`
	Description   string    `json:"description" yaml:"description"`
	PublishedYear int32     `json:"published_year,omitempty" yaml:"published_year,omitempty"` // 0 when not provided
	CreatedAt     time.Time `json:"created_at" yaml:"created_at"`
	UpdatedAt     time.Time `json:"updated_at" yaml:"updated_at"`
}

// Matches reports whether query is a case-insensitive substring of the title
// or the author. An empty query matches every book.
func (b Book) Matches(query string) bool {
	if query == "" {
		return true
	}
	q := Fold(query)
	return strings.Contains(Fold(b.Title), q) || strings.Contains(Fold(b.Author), q)
}

// Fold applies Unicode case folding. Casers are stateful, so one is built per call.
func Fold(s string) string {
	return cases.Fold().String(s)
}

// BookInput is a partial book used by create and update requests. A nil field
// was not provided; a non-nil field was, even when it holds the zero value.
type BookInput struct {
	Title         *string `json:"title,omitempty" yaml:"title,omitempty"`
	Author        *string `json:"author,omitempty" yaml:"author,omitempty"`
	Description   *string `json:"description,omitempty" yaml:"description,omitempty"`
	PublishedYear *int32  `json:"published_year,omitempty" yaml:"published_year,omitempty"`
}

// NewBookInput returns an input with title and author set.
func NewBookInput(title, author string) BookInput {
	return BookInput{Title: &title, Author: &author}
}

// WithDescription returns a copy of the input with the description set.
func (in BookInput) WithDescription(description string) BookInput {
	in.Description = &description
	return in
}

// WithPublishedYear returns a copy of the input with the publication year set.
func (in BookInput) WithPublishedYear(year int32) BookInput {
	in.PublishedYear = &year
	return in
}

// IsEmpty reports whether no field was provided.
func (in BookInput) IsEmpty() bool {
	return in.Title == nil && in.Author == nil && in.Description == nil && in.PublishedYear == nil
}

// Normalize returns a copy with every provided string field trimmed.
func (in BookInput) Normalize() BookInput {
	out := in
	out.Title = trimmed(in.Title)
	out.Author = trimmed(in.Author)
	out.Description = trimmed(in.Description)
	if in.PublishedYear != nil {
		year := *in.PublishedYear
		out.PublishedYear = &year
	}
	return out
}

// Apply copies every provided field onto b.
func (in BookInput) Apply(b *Book) {
	if in.Title != nil {
		b.Title = *in.Title
	}
	if in.Author != nil {
		b.Author = *in.Author
	}
	if in.Description != nil {
		b.Description = *in.Description
	}
	if in.PublishedYear != nil {
		b.PublishedYear = *in.PublishedYear
	}
}

func trimmed(s *string) *string {
	if s == nil {
		return nil
	}
	v := strings.TrimSpace(*s)
	return &v
}

// SortByRecent orders books most recently updated first. Ties fall back to
// creation time, newest first, then to id so the order is total.
func SortByRecent(books []Book) {
	slices.SortStableFunc(books, func(a, b Book) int {
		if c := b.UpdatedAt.Compare(a.UpdatedAt); c != 0 {
			return c
		}
		if c := b.CreatedAt.Compare(a.CreatedAt); c != 0 {
			return c
		}
		return strings.Compare(a.ID, b.ID)
	})
}

// Filter narrows a listing.
type Filter struct {
	// Query is matched case-insensitively against title and author.
	Query string
}

// ChangeKind identifies a mutation reported by a store change feed.
type ChangeKind string

// Change kinds.
const (
	ChangeCreated ChangeKind = "created"
	ChangeUpdated ChangeKind = "updated"
	ChangeDeleted ChangeKind = "deleted"
)

// Change is one entry of a store change feed. For deletions Book holds the
// record as it was before removal.
type Change struct {
	Kind ChangeKind
	Book Book
}
