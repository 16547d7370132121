package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/listenupapp/bookstream/internal/domain"
	"github.com/listenupapp/bookstream/internal/id"
	"github.com/listenupapp/bookstream/internal/store"
)

// bookColumns is the ordered list of columns selected in book queries.
// Must match the scan order in scanBook.
const bookColumns = `id, title, author, description, published_year, created_at, updated_at`

// scanBook scans a sql.Row (or sql.Rows via its Scan method) into a domain.Book.
func scanBook(scanner interface{ Scan(dest ...any) error }) (domain.Book, error) {
	var (
		b         domain.Book
		year      sql.NullInt64
		createdAt string
		updatedAt string
	)

	if err := scanner.Scan(&b.ID, &b.Title, &b.Author, &b.Description, &year, &createdAt, &updatedAt); err != nil {
		return domain.Book{}, err
	}

	if year.Valid {
		b.PublishedYear = int32(year.Int64)
	}

	var err error
	if b.CreatedAt, err = parseTime(createdAt); err != nil {
		return domain.Book{}, fmt.Errorf("parse created_at: %w", err)
	}
	if b.UpdatedAt, err = parseTime(updatedAt); err != nil {
		return domain.Book{}, fmt.Errorf("parse updated_at: %w", err)
	}
	return b, nil
}

// List implements store.Backend.
func (s *Store) List(ctx context.Context, filter domain.Filter) ([]domain.Book, error) {
	query := `SELECT ` + bookColumns + ` FROM books`
	var args []any
	if filter.Query != "" {
		query += ` WHERE instr(fold(title), fold(?)) > 0 OR instr(fold(author), fold(?)) > 0`
		args = append(args, filter.Query, filter.Query)
	}
	query += ` ORDER BY updated_at DESC, created_at DESC, id ASC`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list books: %w", err)
	}
	defer rows.Close()

	books := []domain.Book{}
	for rows.Next() {
		b, err := scanBook(rows)
		if err != nil {
			return nil, fmt.Errorf("scan book: %w", err)
		}
		books = append(books, b)
	}
	return books, rows.Err()
}

// Get implements store.Backend.
func (s *Store) Get(ctx context.Context, bookID string) (domain.Book, error) {
	return getBook(ctx, s.db, bookID)
}

type queryRower interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func getBook(ctx context.Context, q queryRower, bookID string) (domain.Book, error) {
	b, err := scanBook(q.QueryRowContext(ctx, `SELECT `+bookColumns+` FROM books WHERE id = ?`, bookID))
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Book{}, store.NotFound(bookID)
	}
	if err != nil {
		return domain.Book{}, fmt.Errorf("get book %s: %w", bookID, err)
	}
	return b, nil
}

// Create implements store.Backend.
func (s *Store) Create(ctx context.Context, in domain.BookInput) (domain.Book, error) {
	bookID, err := id.Generate(id.PrefixBook)
	if err != nil {
		return domain.Book{}, err
	}

	now := s.clock.Now()
	b := domain.Book{ID: bookID, CreatedAt: now, UpdatedAt: now}
	in.Apply(&b)

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO books (id, title, author, description, published_year, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		b.ID, b.Title, b.Author, b.Description, nullInt64(int64(b.PublishedYear)),
		formatTime(b.CreatedAt), formatTime(b.UpdatedAt),
	)
	if err != nil {
		return domain.Book{}, fmt.Errorf("insert book: %w", err)
	}

	s.wake()
	return b, nil
}

// Update implements store.Backend.
func (s *Store) Update(ctx context.Context, bookID string, in domain.BookInput) (domain.Book, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return domain.Book{}, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck // no-op after commit

	b, err := getBook(ctx, tx, bookID)
	if err != nil {
		return domain.Book{}, err
	}
	in.Apply(&b)
	b.UpdatedAt = s.clock.Now()

	_, err = tx.ExecContext(ctx, `
		UPDATE books
		SET title = ?, author = ?, description = ?, published_year = ?, updated_at = ?
		WHERE id = ?`,
		b.Title, b.Author, b.Description, nullInt64(int64(b.PublishedYear)), formatTime(b.UpdatedAt), b.ID,
	)
	if err != nil {
		return domain.Book{}, fmt.Errorf("update book: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return domain.Book{}, fmt.Errorf("commit update: %w", err)
	}

	s.wake()
	return b, nil
}

// Delete implements store.Backend.
func (s *Store) Delete(ctx context.Context, bookID string) (domain.Book, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return domain.Book{}, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck // no-op after commit

	b, err := getBook(ctx, tx, bookID)
	if err != nil {
		return domain.Book{}, err
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM books WHERE id = ?`, bookID); err != nil {
		return domain.Book{}, fmt.Errorf("delete book: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return domain.Book{}, fmt.Errorf("commit delete: %w", err)
	}

	s.wake()
	return b, nil
}

// Count implements store.Backend.
func (s *Store) Count(ctx context.Context) (int, error) {
	var n int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM books`).Scan(&n); err != nil {
		return 0, fmt.Errorf("count books: %w", err)
	}
	return n, nil
}
