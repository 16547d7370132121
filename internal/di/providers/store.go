package providers

import (
	"fmt"
	"path/filepath"

	"github.com/samber/do/v2"

	"github.com/listenupapp/bookstream/internal/config"
	"github.com/listenupapp/bookstream/internal/domain"
	"github.com/listenupapp/bookstream/internal/logger"
	"github.com/listenupapp/bookstream/internal/store"
	badgerstore "github.com/listenupapp/bookstream/internal/store/badger"
	sqlitestore "github.com/listenupapp/bookstream/internal/store/sqlite"
	"github.com/listenupapp/bookstream/internal/validation"
)

// StoreHandle wraps the configured backend with shutdown capability.
type StoreHandle struct {
	store.Backend
	// Name is the backend actually in use. It differs from the configured
	// one after a fallback.
	Name string
}

// Shutdown implements do.Shutdownable.
func (h *StoreHandle) Shutdown() error {
	return h.Close()
}

// ProvideValidator provides the book validator.
func ProvideValidator(i do.Injector) (*validation.Validator, error) {
	return validation.New(), nil
}

// ProvideStore opens the configured backend. A persistent backend that fails
// to open is replaced by the seeded memory store so the server still starts.
func ProvideStore(i do.Injector) (*StoreHandle, error) {
	cfg := do.MustInvoke[*config.Config](i)
	log := do.MustInvoke[*logger.Logger](i)
	v := do.MustInvoke[*validation.Validator](i)

	backend, err := openBackend(cfg, log)
	if err != nil {
		log.Warn("Store unavailable, falling back to memory store",
			"backend", cfg.Store.Backend,
			"error", err,
		)
	}
	if backend != nil {
		return &StoreHandle{Backend: backend, Name: cfg.Store.Backend}, nil
	}

	seed, err := loadSeed(cfg.Store.SeedFile, v)
	if err != nil {
		return nil, err
	}
	mem, err := store.NewSeededMemoryStore(seed, store.WithMemoryLogger(log.Component("store")))
	if err != nil {
		return nil, fmt.Errorf("seed memory store: %w", err)
	}
	return &StoreHandle{Backend: mem, Name: config.BackendMemory}, nil
}

// openBackend opens the configured persistent backend. It returns a nil
// backend for the memory store.
func openBackend(cfg *config.Config, log *logger.Logger) (store.Backend, error) {
	storeLog := log.Component("store")

	switch cfg.Store.Backend {
	case config.BackendMemory:
		return nil, nil
	case config.BackendSQLite:
		path := filepath.Join(cfg.Store.DataPath, "books.db")
		s, err := sqlitestore.Open(path, storeLog)
		if err != nil {
			return nil, err
		}
		log.Info("SQLite store opened", "path", path)
		return s, nil
	case config.BackendBadger:
		dir := filepath.Join(cfg.Store.DataPath, "badger")
		s, err := badgerstore.Open(dir, storeLog)
		if err != nil {
			return nil, err
		}
		log.Info("Badger store opened", "path", dir)
		return s, nil
	default:
		return nil, fmt.Errorf("unknown store backend %q", cfg.Store.Backend)
	}
}

// loadSeed returns the default seed, or the validated records of path.
func loadSeed(path string, v *validation.Validator) ([]domain.BookInput, error) {
	if path == "" {
		return store.DefaultSeed(), nil
	}

	records, err := store.LoadSeedFile(path)
	if err != nil {
		return nil, err
	}
	seed := make([]domain.BookInput, 0, len(records))
	for n, in := range records {
		valid, err := v.ValidateCreate(in)
		if err != nil {
			return nil, fmt.Errorf("seed record %d: %w", n+1, err)
		}
		seed = append(seed, valid)
	}
	return seed, nil
}
