package store_test

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/listenupapp/bookstream/internal/domain"
	"github.com/listenupapp/bookstream/internal/store"
	"github.com/listenupapp/bookstream/internal/store/storetest"
)

func TestMemoryStore_Contract(t *testing.T) {
	storetest.Run(t, func(t *testing.T) store.Backend {
		return store.NewMemoryStore()
	})
}

func TestMemoryStore_HasNoFeed(t *testing.T) {
	var b store.Backend = store.NewMemoryStore()
	_, ok := b.(store.ChangeFeed)
	assert.False(t, ok)
}

func TestNewSeededMemoryStore_DefaultSeed(t *testing.T) {
	s, err := store.NewSeededMemoryStore(store.DefaultSeed())
	require.NoError(t, err)

	books, err := s.List(context.Background(), domain.Filter{})
	require.NoError(t, err)
	require.Len(t, books, 3)

	titles := make([]string, 0, len(books))
	for _, b := range books {
		titles = append(titles, b.Title)
	}
	assert.ElementsMatch(t, []string{"The Great Gatsby", "1984", "To Kill a Mockingbird"}, titles)
	// Seeded in order, so the last one is the most recent.
	assert.Equal(t, "To Kill a Mockingbird", books[0].Title)
}

func TestClock_StrictlyIncreasing(t *testing.T) {
	frozen := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	c := store.NewClock(func() time.Time { return frozen })

	a := c.Now()
	b := c.Now()
	assert.True(t, b.After(a))

	c.Observe(frozen.Add(time.Hour))
	assert.True(t, c.Now().After(frozen.Add(time.Hour)))
}

func TestLoadSeedFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "seed.yaml")
	content := `books:
  - title: Dune
    author: Frank Herbert
    published_year: 1965
  - title: Neuromancer
    author: William Gibson
    description: Cyberpunk.
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))

	seed, err := store.LoadSeedFile(path)
	require.NoError(t, err)
	require.Len(t, seed, 2)

	assert.Equal(t, "Dune", *seed[0].Title)
	require.NotNil(t, seed[0].PublishedYear)
	assert.Equal(t, int32(1965), *seed[0].PublishedYear)
	assert.Nil(t, seed[0].Description)
	assert.Equal(t, "Cyberpunk.", *seed[1].Description)
}

func TestLoadSeedFile_Errors(t *testing.T) {
	_, err := store.LoadSeedFile(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)

	path := filepath.Join(t.TempDir(), "bad.yaml")
	require.NoError(t, os.WriteFile(path, []byte("books: [\n"), 0o600))
	_, err = store.LoadSeedFile(path)
	assert.Error(t, err)
}
