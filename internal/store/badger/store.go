// Package badger is a store.Backend on a Badger key-value database, with a
// Bleve index for substring search.
package badger

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"sync"
	"time"

	badgerdb "github.com/dgraph-io/badger/v4"

	"github.com/listenupapp/bookstream/internal/domain"
	"github.com/listenupapp/bookstream/internal/search"
	"github.com/listenupapp/bookstream/internal/store"
)

// Key prefixes.
const (
	bookPrefix   = "book:"   // book:{id} -> domain.Book
	changePrefix = "change:" // change:{seq, 8 bytes big endian} -> changeRecord
)

const (
	defaultPollInterval = time.Second
	defaultRetention    = time.Hour
)

// changeRecord is the stored form of a domain.Change.
type changeRecord struct {
	Kind domain.ChangeKind `json:"kind"`
	Book domain.Book       `json:"book"`
}

// Store persists books in Badger.
type Store struct {
	db     *badgerdb.DB
	index  *search.SearchIndex
	logger *slog.Logger
	clock  *store.Clock

	pollInterval time.Duration
	retention    time.Duration

	// writeMu serializes mutations so change sequence numbers commit in order.
	writeMu sync.Mutex
	seq     uint64
}

// Option configures a Store.
type Option func(*Store)

// WithPollInterval sets how often the change feed scans for changes when no
// notification arrives.
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

// Open opens the store under dir. An empty dir keeps everything in memory.
func Open(dir string, logger *slog.Logger, opts ...Option) (*Store, error) {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}

	var dbOpts badgerdb.Options
	if dir == "" {
		dbOpts = badgerdb.DefaultOptions("").WithInMemory(true)
	} else {
		dbOpts = badgerdb.DefaultOptions(filepath.Join(dir, "books"))
		dbOpts.SyncWrites = true       // Ensure writes are synced to disk to prevent corruption on crashes
		dbOpts.CompactL0OnClose = true // Compact L0 tables on close for faster startup
	}
	dbOpts.Logger = nil // Disable Badger's internal logging

	db, err := badgerdb.Open(dbOpts)
	if err != nil {
		return nil, fmt.Errorf("failed to open badger db: %w", err)
	}

	index, err := search.NewSearchIndex(search.Options{DataPath: dir, Logger: logger})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("open search index: %w", err)
	}

	s := &Store{
		db:           db,
		index:        index,
		logger:       logger,
		clock:        store.NewClock(nil),
		pollInterval: defaultPollInterval,
		retention:    defaultRetention,
	}
	for _, opt := range opts {
		opt(s)
	}

	if err := s.load(); err != nil {
		s.Close()
		return nil, err
	}

	logger.Info("badger database opened", "path", dir, "in_memory", dir == "")
	return s, nil
}

// load restores the change sequence and clock and reindexes when the search
// index disagrees with the stored books.
func (s *Store) load() error {
	seq, err := s.lastSeq()
	if err != nil {
		return fmt.Errorf("read change sequence: %w", err)
	}
	s.seq = seq

	books, err := s.all()
	if err != nil {
		return fmt.Errorf("load books: %w", err)
	}
	for _, b := range books {
		s.clock.Observe(b.UpdatedAt)
	}

	indexed, err := s.index.DocumentCount()
	if err != nil || indexed != uint64(len(books)) {
		if err := s.index.Rebuild(books); err != nil {
			return fmt.Errorf("rebuild search index: %w", err)
		}
	}
	return nil
}

// Close closes the search index and the database.
func (s *Store) Close() error {
	s.logger.Info("closing badger database")
	return errors.Join(s.index.Close(), s.db.Close())
}

// Ping implements store.Pinger.
func (s *Store) Ping(_ context.Context) error {
	if s.db.IsClosed() {
		return errors.New("badger database is closed")
	}
	return nil
}

func bookKey(id string) []byte {
	return []byte(bookPrefix + id)
}

func changeKey(seq uint64) []byte {
	return binary.BigEndian.AppendUint64([]byte(changePrefix), seq)
}

func seqFromKey(key []byte) uint64 {
	return binary.BigEndian.Uint64(key[len(changePrefix):])
}

// get retrieves a value by key and unmarshals it into dest.
func get(txn *badgerdb.Txn, key []byte, dest any) error {
	item, err := txn.Get(key)
	if err != nil {
		return err
	}
	return item.Value(func(val []byte) error {
		return json.Unmarshal(val, dest)
	})
}

// set marshals value and stores it by key.
func set(txn *badgerdb.Txn, key []byte, value any) error {
	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("failed to marshal value: %w", err)
	}
	return txn.Set(key, data)
}

// record appends a change entry in the same transaction as the mutation.
// Entries expire after the retention window.
func (s *Store) record(txn *badgerdb.Txn, seq uint64, kind domain.ChangeKind, b domain.Book) error {
	data, err := json.Marshal(changeRecord{Kind: kind, Book: b})
	if err != nil {
		return fmt.Errorf("marshal change: %w", err)
	}
	return txn.SetEntry(badgerdb.NewEntry(changeKey(seq), data).WithTTL(s.retention))
}

func (s *Store) lastSeq() (uint64, error) {
	var seq uint64
	err := s.db.View(func(txn *badgerdb.Txn) error {
		prefix := []byte(changePrefix)
		opts := badgerdb.DefaultIteratorOptions
		opts.PrefetchValues = false
		opts.Reverse = true
		opts.Prefix = prefix
		it := txn.NewIterator(opts)
		defer it.Close()

		// Reverse iteration starts at the largest key not above the seek key.
		it.Seek(append(prefix, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff))
		if it.ValidForPrefix(prefix) {
			seq = seqFromKey(it.Item().Key())
		}
		return nil
	})
	return seq, err
}
