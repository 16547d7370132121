// Package search keeps a Bleve index of book titles and authors for the
// backends that cannot filter by substring themselves.
package search

import (
	"github.com/listenupapp/bookstream/internal/domain"
)

// BookDocument is what the index stores per book. Title and author are kept
// case folded so a substring query only has to fold the needle.
type BookDocument struct {
	ID        string `json:"id"`
	Title     string `json:"title"`
	Author    string `json:"author"`
	UpdatedAt int64  `json:"updated_at"` // Unix millis
}

// NewBookDocument builds the index document for b.
func NewBookDocument(b domain.Book) *BookDocument {
	return &BookDocument{
		ID:        b.ID,
		Title:     domain.Fold(b.Title),
		Author:    domain.Fold(b.Author),
		UpdatedAt: b.UpdatedAt.UnixMilli(),
	}
}

// ToMap converts the document to a map with the field names used by the mapping.
func (d *BookDocument) ToMap() map[string]any {
	return map[string]any{
		"id":         d.ID,
		"title":      d.Title,
		"author":     d.Author,
		"updated_at": d.UpdatedAt,
	}
}
