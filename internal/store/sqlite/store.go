// Package sqlite is a store.Backend on an SQLite file. Mutations are recorded
// by triggers, so the change feed also sees writes made by other processes.
package sqlite

import (
	"context"
	"database/sql"
	"database/sql/driver"
	_ "embed"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"modernc.org/sqlite"

	"github.com/listenupapp/bookstream/internal/domain"
	"github.com/listenupapp/bookstream/internal/store"
)

//go:embed schema.sql
var schemaSQL string

// timeLayout is fixed width so stored timestamps sort as strings.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

const (
	defaultPollInterval = time.Second
	defaultRetention    = time.Hour
)

func init() {
	// fold mirrors domain.Book.Matches so SQL filtering agrees with the other backends.
	sqlite.MustRegisterDeterministicScalarFunction("fold", 1,
		func(_ *sqlite.FunctionContext, args []driver.Value) (driver.Value, error) {
			switch v := args[0].(type) {
			case string:
				return domain.Fold(v), nil
			case []byte:
				return domain.Fold(string(v)), nil
			case nil:
				return "", nil
			default:
				return fmt.Sprint(v), nil
			}
		})
}

// Store provides SQLite-backed persistence for the catalog.
type Store struct {
	db     *sql.DB
	path   string
	logger *slog.Logger
	clock  *store.Clock

	pollInterval time.Duration
	retention    time.Duration

	mu     sync.Mutex
	wakers map[chan struct{}]struct{}
}

// Option configures a Store.
type Option func(*Store)

// WithPollInterval sets how often the change feed checks for changes when no
// wake-up arrives.
func WithPollInterval(d time.Duration) Option {
	return func(s *Store) { s.pollInterval = d }
}

// WithRetention sets how long recorded changes are kept.
func WithRetention(d time.Duration) Option {
	return func(s *Store) { s.retention = d }
}

// WithClock overrides the timestamp source.
func WithClock(c *store.Clock) Option {
	return func(s *Store) { s.clock = c }
}

// Open creates a new SQLite store at the given path.
// It configures WAL mode, sets pragmas, and applies the schema.
func Open(path string, logger *slog.Logger, opts ...Option) (*Store, error) {
	// busy_timeout goes in the DSN as well so every pooled connection gets it.
	db, err := sql.Open("sqlite", path+"?_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}

	db.SetMaxOpenConns(4)
	db.SetMaxIdleConns(2)
	db.SetConnMaxLifetime(time.Hour)

	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA foreign_keys=ON",
		"PRAGMA busy_timeout=5000",
	}
	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("exec pragma %q: %w", pragma, err)
		}
	}

	if _, err := db.Exec(schemaSQL); err != nil {
		db.Close()
		return nil, fmt.Errorf("exec schema: %w", err)
	}

	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}

	s := &Store{
		db:           db,
		path:         path,
		logger:       logger,
		clock:        store.NewClock(nil),
		pollInterval: defaultPollInterval,
		retention:    defaultRetention,
		wakers:       make(map[chan struct{}]struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}

	// Keep new timestamps after anything already on disk.
	var latest sql.NullString
	if err := db.QueryRow("SELECT MAX(updated_at) FROM books").Scan(&latest); err != nil {
		db.Close()
		return nil, fmt.Errorf("read latest timestamp: %w", err)
	}
	if latest.Valid {
		if t, err := parseTime(latest.String); err == nil {
			s.clock.Observe(t)
		}
	}

	return s, nil
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// Ping implements store.Pinger.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// wake nudges every running change feed after a local write.
func (s *Store) wake() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for ch := range s.wakers {
		select {
		case ch <- struct{}{}:
		default:
		}
	}
}

func (s *Store) addWaker() chan struct{} {
	ch := make(chan struct{}, 1)
	s.mu.Lock()
	s.wakers[ch] = struct{}{}
	s.mu.Unlock()
	return ch
}

func (s *Store) removeWaker(ch chan struct{}) {
	s.mu.Lock()
	delete(s.wakers, ch)
	s.mu.Unlock()
}

// formatTime converts a time.Time to the stored string form.
func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

// parseTime parses a stored timestamp. Anything RFC 3339 is accepted so rows
// written by other tools still load.
func parseTime(s string) (time.Time, error) {
	return time.Parse(time.RFC3339Nano, s)
}

// nullInt64 maps zero to NULL.
func nullInt64(v int64) sql.NullInt64 {
	if v == 0 {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: v, Valid: true}
}
