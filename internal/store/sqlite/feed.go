package sqlite

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/listenupapp/bookstream/internal/domain"
)

// changeBatch caps how many recorded changes one read pulls.
const changeBatch = 500

// Changes implements store.ChangeFeed. It tails the book_changes table from
// the moment of the call. Local writes wake the feed directly; writes from
// other processes are picked up through file notifications on the database,
// with a periodic poll as the fallback.
func (s *Store) Changes(ctx context.Context) (<-chan domain.Change, error) {
	var last int64
	if err := s.db.QueryRowContext(ctx, `SELECT COALESCE(MAX(seq), 0) FROM book_changes`).Scan(&last); err != nil {
		return nil, fmt.Errorf("read change cursor: %w", err)
	}

	wake := s.addWaker()
	watcher := s.watchDatabase()

	out := make(chan domain.Change)
	go s.tail(ctx, last, wake, watcher, out)
	return out, nil
}

// watchDatabase watches the directory holding the database for writes to the
// file or its WAL. It returns nil when notifications are unavailable.
func (s *Store) watchDatabase() *fsnotify.Watcher {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		s.logger.Warn("file notifications unavailable, polling for changes", "error", err)
		return nil
	}
	if err := watcher.Add(filepath.Dir(s.path)); err != nil {
		s.logger.Warn("failed to watch database directory, polling for changes",
			"path", filepath.Dir(s.path), "error", err)
		watcher.Close()
		return nil
	}
	return watcher
}

func (s *Store) tail(ctx context.Context, last int64, wake chan struct{}, watcher *fsnotify.Watcher, out chan<- domain.Change) {
	defer close(out)
	defer s.removeWaker(wake)

	var (
		events <-chan fsnotify.Event
		errs   <-chan error
	)
	if watcher != nil {
		defer watcher.Close()
		events = watcher.Events
		errs = watcher.Errors
	}

	dbFile := filepath.Base(s.path)
	walFile := dbFile + "-wal"

	ticker := time.NewTicker(s.pollInterval)
	defer ticker.Stop()
	lastPrune := time.Now()

	for {
		select {
		case <-ctx.Done():
			return
		case <-wake:
		case ev, ok := <-events:
			if !ok {
				events = nil
				continue
			}
			if name := filepath.Base(ev.Name); name != dbFile && name != walFile {
				continue
			}
			if !ev.Has(fsnotify.Write) && !ev.Has(fsnotify.Create) {
				continue
			}
		case err, ok := <-errs:
			if !ok {
				errs = nil
				continue
			}
			s.logger.Warn("database watcher error", "error", err)
			continue
		case <-ticker.C:
			if time.Since(lastPrune) >= time.Minute {
				s.prune(ctx)
				lastPrune = time.Now()
			}
		}

		var ok bool
		if last, ok = s.drain(ctx, last, out); !ok {
			return
		}
	}
}

// drain emits every change recorded after seq and returns the new cursor.
// It reports false once ctx is done.
func (s *Store) drain(ctx context.Context, seq int64, out chan<- domain.Change) (int64, bool) {
	for {
		changes, next, err := s.changesSince(ctx, seq)
		if err != nil {
			if ctx.Err() != nil {
				return seq, false
			}
			s.logger.Error("failed to read changes", "after", seq, "error", err)
			return seq, true
		}

		for _, c := range changes {
			select {
			case out <- c:
			case <-ctx.Done():
				return seq, false
			}
		}
		seq = next

		if len(changes) < changeBatch {
			return seq, true
		}
	}
}

func (s *Store) changesSince(ctx context.Context, seq int64) ([]domain.Change, int64, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT seq, kind, book_id, title, author, description, published_year, created_at, updated_at
		FROM book_changes
		WHERE seq > ?
		ORDER BY seq
		LIMIT ?`, seq, changeBatch)
	if err != nil {
		return nil, seq, err
	}
	defer rows.Close()

	var changes []domain.Change
	for rows.Next() {
		var kind string
		book, err := scanBook(prefixed{rows, []any{&seq, &kind}})
		if err != nil {
			return nil, seq, fmt.Errorf("scan change: %w", err)
		}
		changes = append(changes, domain.Change{Kind: domain.ChangeKind(kind), Book: book})
	}
	return changes, seq, rows.Err()
}

// prune drops recorded changes older than the retention window.
func (s *Store) prune(ctx context.Context) {
	cutoff := time.Now().Add(-s.retention).Unix()
	res, err := s.db.ExecContext(ctx, `DELETE FROM book_changes WHERE recorded_at < ?`, cutoff)
	if err != nil {
		if ctx.Err() == nil {
			s.logger.Warn("failed to prune change log", "error", err)
		}
		return
	}
	if n, _ := res.RowsAffected(); n > 0 {
		s.logger.Debug("pruned change log", "rows", n)
	}
}

// prefixed scans leading columns into head before handing the rest to the caller.
type prefixed struct {
	rows interface{ Scan(dest ...any) error }
	head []any
}

func (p prefixed) Scan(dest ...any) error {
	return p.rows.Scan(append(p.head, dest...)...)
}
