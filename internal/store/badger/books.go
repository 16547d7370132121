package badger

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	badgerdb "github.com/dgraph-io/badger/v4"

	"github.com/listenupapp/bookstream/internal/domain"
	"github.com/listenupapp/bookstream/internal/id"
	"github.com/listenupapp/bookstream/internal/store"
)

// List implements store.Backend.
func (s *Store) List(ctx context.Context, filter domain.Filter) ([]domain.Book, error) {
	if filter.Query == "" {
		books, err := s.all()
		if err != nil {
			return nil, err
		}
		domain.SortByRecent(books)
		return books, nil
	}

	ids, err := s.index.Match(ctx, filter.Query)
	if err != nil {
		return nil, fmt.Errorf("search books: %w", err)
	}

	books := make([]domain.Book, 0, len(ids))
	err = s.db.View(func(txn *badgerdb.Txn) error {
		for _, bookID := range ids {
			var b domain.Book
			if err := get(txn, bookKey(bookID), &b); err != nil {
				if errors.Is(err, badgerdb.ErrKeyNotFound) {
					// Deleted between the search and the read.
					continue
				}
				return err
			}
			if b.Matches(filter.Query) {
				books = append(books, b)
			}
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("list books: %w", err)
	}

	domain.SortByRecent(books)
	return books, nil
}

// all returns every stored book in key order.
func (s *Store) all() ([]domain.Book, error) {
	books := []domain.Book{}
	err := s.db.View(func(txn *badgerdb.Txn) error {
		prefix := []byte(bookPrefix)
		opts := badgerdb.DefaultIteratorOptions
		opts.Prefix = prefix
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			var b domain.Book
			if err := it.Item().Value(func(val []byte) error {
				return json.Unmarshal(val, &b)
			}); err != nil {
				return fmt.Errorf("decode %s: %w", it.Item().Key(), err)
			}
			books = append(books, b)
		}
		return nil
	})
	return books, err
}

// Get implements store.Backend.
func (s *Store) Get(_ context.Context, bookID string) (domain.Book, error) {
	var b domain.Book
	err := s.db.View(func(txn *badgerdb.Txn) error {
		return get(txn, bookKey(bookID), &b)
	})
	if errors.Is(err, badgerdb.ErrKeyNotFound) {
		return domain.Book{}, store.NotFound(bookID)
	}
	if err != nil {
		return domain.Book{}, fmt.Errorf("get book %s: %w", bookID, err)
	}
	return b, nil
}

// Create implements store.Backend.
func (s *Store) Create(_ context.Context, in domain.BookInput) (domain.Book, error) {
	bookID, err := id.Generate(id.PrefixBook)
	if err != nil {
		return domain.Book{}, err
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	now := s.clock.Now()
	b := domain.Book{ID: bookID, CreatedAt: now, UpdatedAt: now}
	in.Apply(&b)

	seq := s.seq + 1
	err = s.db.Update(func(txn *badgerdb.Txn) error {
		if err := set(txn, bookKey(b.ID), b); err != nil {
			return err
		}
		return s.record(txn, seq, domain.ChangeCreated, b)
	})
	if err != nil {
		return domain.Book{}, fmt.Errorf("create book: %w", err)
	}
	s.seq = seq

	s.reindex(b)
	return b, nil
}

// Update implements store.Backend.
func (s *Store) Update(_ context.Context, bookID string, in domain.BookInput) (domain.Book, error) {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	var b domain.Book
	seq := s.seq + 1
	err := s.db.Update(func(txn *badgerdb.Txn) error {
		if err := get(txn, bookKey(bookID), &b); err != nil {
			return err
		}
		in.Apply(&b)
		b.UpdatedAt = s.clock.Now()

		if err := set(txn, bookKey(b.ID), b); err != nil {
			return err
		}
		return s.record(txn, seq, domain.ChangeUpdated, b)
	})
	if errors.Is(err, badgerdb.ErrKeyNotFound) {
		return domain.Book{}, store.NotFound(bookID)
	}
	if err != nil {
		return domain.Book{}, fmt.Errorf("update book %s: %w", bookID, err)
	}
	s.seq = seq

	s.reindex(b)
	return b, nil
}

// Delete implements store.Backend.
func (s *Store) Delete(_ context.Context, bookID string) (domain.Book, error) {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	var b domain.Book
	seq := s.seq + 1
	err := s.db.Update(func(txn *badgerdb.Txn) error {
		if err := get(txn, bookKey(bookID), &b); err != nil {
			return err
		}
		if err := txn.Delete(bookKey(bookID)); err != nil {
			return err
		}
		return s.record(txn, seq, domain.ChangeDeleted, b)
	})
	if errors.Is(err, badgerdb.ErrKeyNotFound) {
		return domain.Book{}, store.NotFound(bookID)
	}
	if err != nil {
		return domain.Book{}, fmt.Errorf("delete book %s: %w", bookID, err)
	}
	s.seq = seq

	if err := s.index.DeleteBook(bookID); err != nil {
		s.logger.Warn("failed to remove book from search index", "book_id", bookID, "error", err)
	}
	return b, nil
}

// Count implements store.Backend.
func (s *Store) Count(_ context.Context) (int, error) {
	n := 0
	err := s.db.View(func(txn *badgerdb.Txn) error {
		prefix := []byte(bookPrefix)
		opts := badgerdb.DefaultIteratorOptions
		opts.PrefetchValues = false
		opts.Prefix = prefix
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			n++
		}
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("count books: %w", err)
	}
	return n, nil
}

func (s *Store) reindex(b domain.Book) {
	if err := s.index.IndexBook(b); err != nil {
		s.logger.Warn("failed to index book", "book_id", b.ID, "error", err)
	}
}
