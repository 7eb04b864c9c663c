package checkpoint

import (
	"context"
	"sync"

	"go.mongodb.org/mongo-driver/bson"
)

// MemoryStore keeps checkpoints for the lifetime of the process
type MemoryStore struct {
	mu     sync.Mutex
	tokens map[string]bson.Raw
	saves  int
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{tokens: make(map[string]bson.Raw)}
}

func (m *MemoryStore) Load(_ context.Context, key string) (bson.Raw, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return clone(m.tokens[key]), nil
}

func (m *MemoryStore) Save(_ context.Context, key string, token bson.Raw) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.tokens[key] = clone(token)
	m.saves++
	return nil
}

func (m *MemoryStore) Clear(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.tokens, key)
	return nil
}

func (m *MemoryStore) Close() error {
	return nil
}

// SaveCount returns the number of saves since the store was created
func (m *MemoryStore) SaveCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.saves
}

// NoopStore never persists checkpoints, every run starts from the current point in time
type NoopStore struct{}

func (NoopStore) Load(context.Context, string) (bson.Raw, error) { return nil, nil }
func (NoopStore) Save(context.Context, string, bson.Raw) error  { return nil }
func (NoopStore) Clear(context.Context, string) error            { return nil }
func (NoopStore) Close() error                                   { return nil }

var _ Store = &MemoryStore{}
var _ Store = NoopStore{}
