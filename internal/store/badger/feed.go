package badger

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	badgerdb "github.com/dgraph-io/badger/v4"
	"github.com/dgraph-io/badger/v4/pb"

	"github.com/listenupapp/bookstream/internal/domain"
)

// Changes implements store.ChangeFeed. It reports mutations committed after
// the call. A Badger subscription on the change prefix wakes the reader; a
// periodic scan covers the window before the subscription is registered.
func (s *Store) Changes(ctx context.Context) (<-chan domain.Change, error) {
	s.writeMu.Lock()
	cursor := s.seq
	s.writeMu.Unlock()

	wake := make(chan struct{}, 1)
	go func() {
		err := s.db.Subscribe(ctx, func(*badgerdb.KVList) error {
			select {
			case wake <- struct{}{}:
			default:
			}
			return nil
		}, []pb.Match{{Prefix: []byte(changePrefix)}})
		if err != nil && ctx.Err() == nil {
			s.logger.Warn("change subscription ended, falling back to polling", "error", err)
		}
	}()

	out := make(chan domain.Change)
	go s.tail(ctx, cursor, wake, out)
	return out, nil
}

func (s *Store) tail(ctx context.Context, cursor uint64, wake <-chan struct{}, out chan<- domain.Change) {
	defer close(out)

	ticker := time.NewTicker(s.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-wake:
		case <-ticker.C:
		}

		changes, next, err := s.changesSince(cursor)
		if err != nil {
			if s.db.IsClosed() {
				return
			}
			s.logger.Error("failed to read changes", "after", cursor, "error", err)
			continue
		}
		for _, c := range changes {
			select {
			case out <- c:
			case <-ctx.Done():
				return
			}
		}
		cursor = next
	}
}

func (s *Store) changesSince(cursor uint64) ([]domain.Change, uint64, error) {
	var changes []domain.Change
	err := s.db.View(func(txn *badgerdb.Txn) error {
		prefix := []byte(changePrefix)
		opts := badgerdb.DefaultIteratorOptions
		opts.Prefix = prefix
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Seek(changeKey(cursor + 1)); it.ValidForPrefix(prefix); it.Next() {
			item := it.Item()
			var rec changeRecord
			if err := item.Value(func(val []byte) error {
				return json.Unmarshal(val, &rec)
			}); err != nil {
				return fmt.Errorf("decode change %d: %w", seqFromKey(item.Key()), err)
			}
			changes = append(changes, domain.Change{Kind: rec.Kind, Book: rec.Book})
			cursor = seqFromKey(item.Key())
		}
		return nil
	})
	return changes, cursor, err
}
