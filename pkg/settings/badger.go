// ABOUTME: Badger-backed settings store
// ABOUTME: Persists settings across restarts and feeds cross-view change notifications
package settings

import (
	"context"
	"errors"
	"fmt"
	"log"

	"github.com/classclock/classclock-go/pkg/timesync"
	"github.com/dgraph-io/badger/v4"
	"github.com/dgraph-io/badger/v4/pb"
	"github.com/google/uuid"
)

// maxUpdateAttempts bounds retries of conflicting concurrent updates
const maxUpdateAttempts = 3

// BadgerStore keeps settings in a Badger database
type BadgerStore struct {
	db       *badger.DB
	origin   string
	owner    bool
	defaults timesync.Settings
}

// OpenBadger opens (or creates) a store at path. An empty path keeps the
// database in memory. defaults are returned until the first update.
func OpenBadger(path string, defaults timesync.Settings) (*BadgerStore, error) {
	opts := badger.DefaultOptions(path)
	if path == "" {
		opts = opts.WithInMemory(true)
	}
	// Badger's own logging is too chatty for a clock display
	opts.Logger = nil

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("failed to open settings store: %w", err)
	}

	return &BadgerStore{
		db:       db,
		origin:   uuid.New().String(),
		owner:    true,
		defaults: defaults,
	}, nil
}

// View returns another handle on the same database
func (s *BadgerStore) View() *BadgerStore {
	return &BadgerStore{
		db:       s.db,
		origin:   uuid.New().String(),
		defaults: s.defaults,
	}
}

// Close closes the database; views never close it
func (s *BadgerStore) Close() error {
	if !s.owner {
		return nil
	}
	return s.db.Close()
}

// TimeSyncSettings returns the stored settings, or the defaults when none
// have been written yet
func (s *BadgerStore) TimeSyncSettings() (timesync.Settings, error) {
	var out timesync.Settings
	err := s.db.View(func(txn *badger.Txn) error {
		var err error
		out, err = s.read(txn)
		return err
	})
	return out, err
}

// UpdateTimeSyncSettings merges p into the stored settings
func (s *BadgerStore) UpdateTimeSyncSettings(p timesync.Patch) error {
	var err error
	for attempt := 0; attempt < maxUpdateAttempts; attempt++ {
		err = s.db.Update(func(txn *badger.Txn) error {
			current, err := s.read(txn)
			if err != nil {
				return err
			}

			data, err := encodeRecord(record{Origin: s.origin, Settings: current.Apply(p)})
			if err != nil {
				return err
			}
			return txn.Set([]byte(Key), data)
		})
		if !errors.Is(err, badger.ErrConflict) {
			return err
		}
	}
	return fmt.Errorf("settings update kept conflicting: %w", err)
}

// Watch calls fn for every write to Key made through another view, until
// ctx is done
func (s *BadgerStore) Watch(ctx context.Context, fn func(key string)) error {
	match := []pb.Match{{Prefix: []byte(Key)}}

	err := s.db.Subscribe(ctx, func(kvs *badger.KVList) error {
		for _, kv := range kvs.Kv {
			if string(kv.Key) != Key {
				continue
			}
			r, err := decodeRecord(kv.Value)
			if err != nil {
				log.Printf("Ignoring unreadable settings change: %v", err)
				continue
			}
			if r.Origin == s.origin {
				continue
			}
			fn(Key)
		}
		return nil
	}, match)

	if err != nil && !errors.Is(err, context.Canceled) {
		return fmt.Errorf("settings watch failed: %w", err)
	}
	return nil
}

func (s *BadgerStore) read(txn *badger.Txn) (timesync.Settings, error) {
	item, err := txn.Get([]byte(Key))
	if errors.Is(err, badger.ErrKeyNotFound) {
		return s.defaults, nil
	}
	if err != nil {
		return timesync.Settings{}, fmt.Errorf("failed to read settings: %w", err)
	}

	data, err := item.ValueCopy(nil)
	if err != nil {
		return timesync.Settings{}, fmt.Errorf("failed to read settings: %w", err)
	}

	r, err := decodeRecord(data)
	if err != nil {
		return timesync.Settings{}, err
	}
	return r.Settings, nil
}
