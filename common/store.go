package common

import (
	"context"
	"sync"
)

// KeyValueStore defines the minimal persistent key/value surface the session
// needs for its credentials. Values are plain strings.
//
// Implementations in this package:
//   - MemoryStore: process-local, lost on exit
//   - FileStore: a JSON file, optionally sealed with a passphrase
//   - RedisStore: shared between processes, with a change feed
type KeyValueStore interface {
	Get(ctx context.Context, key string) (value string, found bool, err error)
	// SetMany writes all values in one step, so readers never observe half of the set.
	SetMany(ctx context.Context, values map[string]string) error
	// Delete removes every key in one step. Missing keys are ignored.
	Delete(ctx context.Context, keys ...string) error
}

// Change describes one key written or removed in a store.
type Change struct {
	Key     string `json:"key"`
	Value   string `json:"value,omitempty"`
	Removed bool   `json:"removed"`
}

// ChangeNotifier is implemented by stores that can report writes made
// through any handle onto the same storage, including other processes.
type ChangeNotifier interface {
	Watch(ctx context.Context) (<-chan Change, error)
}

const watchBuffer = 16

var (
	_ KeyValueStore  = (*MemoryStore)(nil)
	_ ChangeNotifier = (*MemoryStore)(nil)
)

// MemoryStore is a KeyValueStore held in process memory.
type MemoryStore struct {
	mu       sync.RWMutex
	values   map[string]string
	watchers map[chan Change]struct{}
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		values:   make(map[string]string),
		watchers: make(map[chan Change]struct{}),
	}
}

func (m *MemoryStore) Get(_ context.Context, key string) (string, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	v, ok := m.values[key]
	return v, ok, nil
}

func (m *MemoryStore) SetMany(_ context.Context, values map[string]string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for k, v := range values {
		m.values[k] = v
		m.notifyLocked(Change{Key: k, Value: v})
	}
	return nil
}

func (m *MemoryStore) Delete(_ context.Context, keys ...string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, k := range keys {
		if _, ok := m.values[k]; !ok {
			continue
		}
		delete(m.values, k)
		m.notifyLocked(Change{Key: k, Removed: true})
	}
	return nil
}

// Watch streams changes until ctx is done. Slow readers miss changes rather
// than block writers.
func (m *MemoryStore) Watch(ctx context.Context) (<-chan Change, error) {
	ch := make(chan Change, watchBuffer)
	m.mu.Lock()
	m.watchers[ch] = struct{}{}
	m.mu.Unlock()

	go func() {
		<-ctx.Done()
		m.mu.Lock()
		delete(m.watchers, ch)
		close(ch)
		m.mu.Unlock()
	}()
	return ch, nil
}

func (m *MemoryStore) notifyLocked(c Change) {
	for ch := range m.watchers {
		select {
		case ch <- c:
		default:
		}
	}
}
