package domain

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBook_Matches(t *testing.T) {
	book := Book{Title: "The Great Gatsby", Author: "F. Scott Fitzgerald"}

	tests := []struct {
		query string
		want  bool
	}{
		{"", true},
		{"gatsby", true},
		{"GREAT", true},
		{"scott", true},
		{"orwell", false},
		{"Gatsby Fitz", false},
	}

	for _, tt := range tests {
		t.Run(tt.query, func(t *testing.T) {
			assert.Equal(t, tt.want, book.Matches(tt.query))
		})
	}
}

func TestBook_MatchesFoldsUnicode(t *testing.T) {
	book := Book{Title: "Straße der Bücher", Author: "Émile Zola"}

	assert.True(t, book.Matches("STRASSE"))
	assert.True(t, book.Matches("émile"))
}

func TestBookInput_Normalize(t *testing.T) {
	in := NewBookInput("  Dune ", "\tFrank Herbert\n").WithDescription("  ")
	out := in.Normalize()

	require.NotNil(t, out.Title)
	assert.Equal(t, "Dune", *out.Title)
	assert.Equal(t, "Frank Herbert", *out.Author)
	require.NotNil(t, out.Description)
	assert.Equal(t, "", *out.Description)
	assert.Nil(t, out.PublishedYear)
	assert.Equal(t, "  Dune ", *in.Title, "input must not be mutated")
}

func TestBookInput_IsEmptyAndApply(t *testing.T) {
	assert.True(t, BookInput{}.IsEmpty())

	in := BookInput{}.WithPublishedYear(1965)
	assert.False(t, in.IsEmpty())

	book := Book{Title: "Dune", Author: "Frank Herbert", Description: "Spice"}
	in.Apply(&book)

	assert.Equal(t, int32(1965), book.PublishedYear)
	assert.Equal(t, "Dune", book.Title)
	assert.Equal(t, "Spice", book.Description)
}

func TestSortByRecent(t *testing.T) {
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	books := []Book{
		{ID: "b", CreatedAt: base, UpdatedAt: base},
		{ID: "c", CreatedAt: base, UpdatedAt: base.Add(time.Hour)},
		{ID: "a", CreatedAt: base, UpdatedAt: base},
		{ID: "d", CreatedAt: base.Add(time.Minute), UpdatedAt: base},
	}

	SortByRecent(books)

	ids := make([]string, len(books))
	for i, b := range books {
		ids[i] = b.ID
	}
	assert.Equal(t, []string{"c", "d", "a", "b"}, ids)
}
