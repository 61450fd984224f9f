// ABOUTME: In-memory settings store
// ABOUTME: Shared state across views with change callbacks for other views
package settings

import (
	"context"
	"sync"

	"github.com/classclock/classclock-go/pkg/timesync"
	"github.com/google/uuid"
)

type memoryWatcher struct {
	origin string
	fn     func(key string)
}

type memoryState struct {
	mu       sync.Mutex
	settings timesync.Settings
	watchers map[string]memoryWatcher
}

// MemoryStore keeps settings in process memory
type MemoryStore struct {
	state  *memoryState
	origin string
}

// NewMemoryStore creates a store seeded with initial
func NewMemoryStore(initial timesync.Settings) *MemoryStore {
	return &MemoryStore{
		state: &memoryState{
			settings: initial,
			watchers: make(map[string]memoryWatcher),
		},
		origin: uuid.New().String(),
	}
}

// View returns another handle on the same settings
func (s *MemoryStore) View() *MemoryStore {
	return &MemoryStore{state: s.state, origin: uuid.New().String()}
}

// TimeSyncSettings returns the current settings
func (s *MemoryStore) TimeSyncSettings() (timesync.Settings, error) {
	s.state.mu.Lock()
	defer s.state.mu.Unlock()
	return s.state.settings, nil
}

// UpdateTimeSyncSettings merges p into the stored settings
func (s *MemoryStore) UpdateTimeSyncSettings(p timesync.Patch) error {
	s.state.mu.Lock()
	s.state.settings = s.state.settings.Apply(p)
	var notify []func(string)
	for _, w := range s.state.watchers {
		if w.origin != s.origin {
			notify = append(notify, w.fn)
		}
	}
	s.state.mu.Unlock()

	for _, fn := range notify {
		fn(Key)
	}
	return nil
}

// Watch calls fn for every update made through another view until ctx is done
func (s *MemoryStore) Watch(ctx context.Context, fn func(key string)) error {
	id := uuid.New().String()

	s.state.mu.Lock()
	s.state.watchers[id] = memoryWatcher{origin: s.origin, fn: fn}
	s.state.mu.Unlock()

	<-ctx.Done()

	s.state.mu.Lock()
	delete(s.state.watchers, id)
	s.state.mu.Unlock()
	return nil
}
