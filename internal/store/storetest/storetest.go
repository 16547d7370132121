// Package storetest holds behaviour tests shared by every store.Backend.
package storetest

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/listenupapp/bookstream/internal/domain"
	domainerrors "github.com/listenupapp/bookstream/internal/errors"
	"github.com/listenupapp/bookstream/internal/store"
)

// Factory opens an empty backend for one test. Cleanup is the factory's job.
type Factory func(t *testing.T) store.Backend

// Run exercises the Backend contract against backends produced by newBackend.
func Run(t *testing.T, newBackend Factory) {
	t.Run("CreateAndGet", func(t *testing.T) { testCreateAndGet(t, newBackend(t)) })
	t.Run("UpdatePartial", func(t *testing.T) { testUpdatePartial(t, newBackend(t)) })
	t.Run("Delete", func(t *testing.T) { testDelete(t, newBackend(t)) })
	t.Run("NotFound", func(t *testing.T) { testNotFound(t, newBackend(t)) })
	t.Run("ListOrderAndFilter", func(t *testing.T) { testListOrderAndFilter(t, newBackend(t)) })
}

// CollectChanges reads n changes from feed or fails after timeout.
func CollectChanges(t *testing.T, feed <-chan domain.Change, n int, timeout time.Duration) []domain.Change {
	t.Helper()

	var out []domain.Change
	deadline := time.After(timeout)
	for len(out) < n {
		select {
		case c, ok := <-feed:
			require.True(t, ok, "feed closed after %d changes", len(out))
			out = append(out, c)
		case <-deadline:
			require.FailNow(t, "timed out waiting for changes", "got %d of %d", len(out), n)
		}
	}
	return out
}

// RunFeed checks that a backend's change feed reports its own mutations in order.
func RunFeed(t *testing.T, b store.Backend) {
	feed, ok := b.(store.ChangeFeed)
	require.True(t, ok, "backend has no change feed")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	changes, err := feed.Changes(ctx)
	require.NoError(t, err)

	book, err := b.Create(ctx, domain.NewBookInput("Dune", "Frank Herbert"))
	require.NoError(t, err)
	_, err = b.Update(ctx, book.ID, domain.BookInput{}.WithPublishedYear(1965))
	require.NoError(t, err)
	_, err = b.Delete(ctx, book.ID)
	require.NoError(t, err)

	got := CollectChanges(t, changes, 3, 5*time.Second)

	assert.Equal(t, domain.ChangeCreated, got[0].Kind)
	assert.Equal(t, domain.ChangeUpdated, got[1].Kind)
	assert.Equal(t, int32(1965), got[1].Book.PublishedYear)
	assert.Equal(t, domain.ChangeDeleted, got[2].Kind)
	assert.Equal(t, book.ID, got[2].Book.ID)
	assert.Equal(t, "Dune", got[2].Book.Title, "deletions carry the removed record")

	cancel()
	require.Eventually(t, func() bool {
		select {
		case _, open := <-changes:
			return !open
		default:
			return false
		}
	}, 5*time.Second, 10*time.Millisecond, "feed should close when the context ends")
}

func testCreateAndGet(t *testing.T, b store.Backend) {
	ctx := context.Background()

	created, err := b.Create(ctx, domain.NewBookInput("Dune", "Frank Herbert").
		WithDescription("Spice").
		WithPublishedYear(1965))
	require.NoError(t, err)

	assert.NotEmpty(t, created.ID)
	assert.False(t, created.CreatedAt.IsZero())
	assert.True(t, created.CreatedAt.Equal(created.UpdatedAt))

	got, err := b.Get(ctx, created.ID)
	require.NoError(t, err)
	assert.Equal(t, created.ID, got.ID)
	assert.Equal(t, "Dune", got.Title)
	assert.Equal(t, "Frank Herbert", got.Author)
	assert.Equal(t, "Spice", got.Description)
	assert.Equal(t, int32(1965), got.PublishedYear)
	assert.True(t, created.CreatedAt.Equal(got.CreatedAt))

	count, err := b.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}

func testUpdatePartial(t *testing.T, b store.Backend) {
	ctx := context.Background()

	created, err := b.Create(ctx, domain.NewBookInput("Dune", "Frank Herbert").WithDescription("Spice"))
	require.NoError(t, err)

	updated, err := b.Update(ctx, created.ID, domain.BookInput{}.WithDescription(""))
	require.NoError(t, err)

	assert.Equal(t, "Dune", updated.Title)
	assert.Equal(t, "", updated.Description)
	assert.True(t, updated.UpdatedAt.After(created.UpdatedAt), "UpdatedAt must advance")
	assert.True(t, updated.CreatedAt.Equal(created.CreatedAt))

	got, err := b.Get(ctx, created.ID)
	require.NoError(t, err)
	assert.Equal(t, "", got.Description)
	assert.True(t, got.UpdatedAt.Equal(updated.UpdatedAt))
}

func testDelete(t *testing.T, b store.Backend) {
	ctx := context.Background()

	created, err := b.Create(ctx, domain.NewBookInput("Dune", "Frank Herbert"))
	require.NoError(t, err)

	removed, err := b.Delete(ctx, created.ID)
	require.NoError(t, err)
	assert.Equal(t, created.ID, removed.ID)
	assert.Equal(t, "Dune", removed.Title)

	_, err = b.Get(ctx, created.ID)
	assert.True(t, domainerrors.Is(err, store.ErrNotFound))

	count, err := b.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, count)
}

func testNotFound(t *testing.T, b store.Backend) {
	ctx := context.Background()

	_, err := b.Get(ctx, "book-missing")
	assert.True(t, domainerrors.Is(err, store.ErrNotFound))

	_, err = b.Update(ctx, "book-missing", domain.BookInput{}.WithDescription("x"))
	assert.True(t, domainerrors.Is(err, store.ErrNotFound))

	_, err = b.Delete(ctx, "book-missing")
	assert.True(t, domainerrors.Is(err, store.ErrNotFound))
}

func testListOrderAndFilter(t *testing.T, b store.Backend) {
	ctx := context.Background()

	gatsby, err := b.Create(ctx, domain.NewBookInput("The Great Gatsby", "F. Scott Fitzgerald"))
	require.NoError(t, err)
	orwell, err := b.Create(ctx, domain.NewBookInput("1984", "George Orwell"))
	require.NoError(t, err)
	lee, err := b.Create(ctx, domain.NewBookInput("To Kill a Mockingbird", "Harper Lee"))
	require.NoError(t, err)

	// Touch the oldest so it becomes the most recent.
	_, err = b.Update(ctx, gatsby.ID, domain.BookInput{}.WithPublishedYear(1925))
	require.NoError(t, err)

	all, err := b.List(ctx, domain.Filter{})
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, []string{gatsby.ID, lee.ID, orwell.ID}, ids(all))

	byAuthor, err := b.List(ctx, domain.Filter{Query: "ORWELL"})
	require.NoError(t, err)
	assert.Equal(t, []string{orwell.ID}, ids(byAuthor))

	byTitle, err := b.List(ctx, domain.Filter{Query: "mocking"})
	require.NoError(t, err)
	assert.Equal(t, []string{lee.ID}, ids(byTitle))

	shared, err := b.List(ctx, domain.Filter{Query: "e"})
	require.NoError(t, err)
	assert.Len(t, shared, 3)

	none, err := b.List(ctx, domain.Filter{Query: "tolkien"})
	require.NoError(t, err)
	assert.Empty(t, none)
}

func ids(books []domain.Book) []string {
	out := make([]string, len(books))
	for i, b := range books {
		out[i] = b.ID
	}
	return out
}
