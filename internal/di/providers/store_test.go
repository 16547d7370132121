package providers

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/samber/do/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/listenupapp/bookstream/internal/config"
	"github.com/listenupapp/bookstream/internal/domain"
	"github.com/listenupapp/bookstream/internal/logger"
)

func newTestInjector(t *testing.T, storeCfg config.StoreConfig) do.Injector {
	t.Helper()
	injector := do.New()
	do.ProvideValue(injector, &config.Config{Store: storeCfg})
	do.ProvideValue(injector, logger.Discard())
	do.Provide(injector, ProvideValidator)
	do.Provide(injector, ProvideStore)
	t.Cleanup(func() { injector.Shutdown() })
	return injector
}

func TestProvideStore_MemoryUsesDefaultSeed(t *testing.T) {
	injector := newTestInjector(t, config.StoreConfig{Backend: config.BackendMemory})

	h := do.MustInvoke[*StoreHandle](injector)
	assert.Equal(t, config.BackendMemory, h.Name)

	count, err := h.Count(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 3, count)
}

func TestProvideStore_SeedFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "seed.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`books:
  - title: "  Dune  "
    author: Frank Herbert
    published_year: 1965
`), 0o600))

	injector := newTestInjector(t, config.StoreConfig{Backend: config.BackendMemory, SeedFile: path})

	h := do.MustInvoke[*StoreHandle](injector)
	books, err := h.List(context.Background(), domain.Filter{})
	require.NoError(t, err)
	require.Len(t, books, 1)
	assert.Equal(t, "Dune", books[0].Title)
}

func TestProvideStore_InvalidSeedRecord(t *testing.T) {
	path := filepath.Join(t.TempDir(), "seed.yaml")
	require.NoError(t, os.WriteFile(path, []byte("books:\n  - title: No Author\n"), 0o600))

	injector := newTestInjector(t, config.StoreConfig{Backend: config.BackendMemory, SeedFile: path})

	_, err := do.Invoke[*StoreHandle](injector)
	assert.ErrorContains(t, err, "seed record 1")
}

func TestProvideStore_SQLite(t *testing.T) {
	injector := newTestInjector(t, config.StoreConfig{Backend: config.BackendSQLite, DataPath: t.TempDir()})

	h := do.MustInvoke[*StoreHandle](injector)
	assert.Equal(t, config.BackendSQLite, h.Name)

	count, err := h.Count(context.Background())
	require.NoError(t, err)
	assert.Zero(t, count)
}

func TestProvideStore_FallsBackToMemory(t *testing.T) {
	// A regular file where the data directory should be.
	blocked := filepath.Join(t.TempDir(), "blocked")
	require.NoError(t, os.WriteFile(blocked, nil, 0o600))

	injector := newTestInjector(t, config.StoreConfig{Backend: config.BackendSQLite, DataPath: blocked})

	h := do.MustInvoke[*StoreHandle](injector)
	assert.Equal(t, config.BackendMemory, h.Name)

	count, err := h.Count(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 3, count)
}
