package syncstrategy

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/redbco/strata/pkg/adapter"
	"github.com/redbco/strata/pkg/facade"
)

// memoryStore is a minimal in-memory adapter.Adapter implementing
// Describable and AddRemoveAttributer, enough to exercise all three sync
// strategies without a real database.
type memoryStore struct {
	mu      sync.Mutex
	nextID  int64
	records map[string]map[int64]adapter.Record
	schemas map[string][]adapter.Attribute
}

func newMemoryStore() *memoryStore {
	return &memoryStore{
		records: make(map[string]map[int64]adapter.Record),
		schemas: make(map[string][]adapter.Attribute),
	}
}

func (m *memoryStore) Identity() string          { return "memory" }
func (m *memoryStore) AssignsMonotonicIDs() bool { return true }

func (m *memoryStore) Create(ctx context.Context, collection string, values adapter.Record) (adapter.Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nextID++
	rec := adapter.Record{}
	for k, v := range values {
		rec[k] = v
	}
	rec["id"] = m.nextID
	if m.records[collection] == nil {
		m.records[collection] = make(map[int64]adapter.Record)
	}
	m.records[collection][m.nextID] = rec
	return rec, nil
}

func (m *memoryStore) Find(ctx context.Context, collection string, criteria adapter.Criterion) ([]adapter.Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]adapter.Record, 0, len(m.records[collection]))
	for _, rec := range m.records[collection] {
		out = append(out, rec)
	}
	return out, nil
}

func (m *memoryStore) Update(ctx context.Context, collection string, criteria adapter.Criterion, values adapter.Record) (int64, error) {
	return 0, nil
}

func (m *memoryStore) Destroy(ctx context.Context, collection string, criteria adapter.Criterion) (int64, error) {
	return 0, nil
}

func (m *memoryStore) Drop(ctx context.Context, collection string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.records, collection)
	delete(m.schemas, collection)
	return nil
}

func (m *memoryStore) Define(ctx context.Context, collection string, attrs []adapter.Attribute) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.schemas[collection] = attrs
	return nil
}

func (m *memoryStore) Describe(ctx context.Context, collection string) ([]adapter.Attribute, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	attrs, ok := m.schemas[collection]
	if !ok {
		return nil, nil
	}
	return attrs, nil
}

func (m *memoryStore) AddAttribute(ctx context.Context, collection string, attr adapter.Attribute) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.schemas[collection] = append(m.schemas[collection], attr)
	return nil
}

func (m *memoryStore) RemoveAttribute(ctx context.Context, collection string, attr adapter.Attribute) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	kept := make([]adapter.Attribute, 0, len(m.schemas[collection]))
	for _, a := range m.schemas[collection] {
		if a.Name != attr.Name {
			kept = append(kept, a)
		}
	}
	m.schemas[collection] = kept
	return nil
}

func TestApply_Safe_CreatesOnlyIfAbsent(t *testing.T) {
	f := facade.New(newMemoryStore(), facade.Config{}, nil)
	ctx := context.Background()
	declared := Declared{"name": "string"}

	require.NoError(t, Apply(ctx, f, StrategySafe, "widgets", declared))
	first, err := f.Describe(ctx, "widgets")
	require.NoError(t, err)
	require.NotEmpty(t, first)

	require.NoError(t, Apply(ctx, f, StrategySafe, "widgets", Declared{"name": "string", "price": "number"}))
	second, err := f.Describe(ctx, "widgets")
	require.NoError(t, err)
	assert.Equal(t, len(first), len(second), "safe strategy must not alter an existing collection")
}

func TestApply_Alter_EvolvesExistingSchema(t *testing.T) {
	f := facade.New(newMemoryStore(), facade.Config{}, nil)
	ctx := context.Background()

	require.NoError(t, Apply(ctx, f, StrategyAlter, "widgets", Declared{"name": "string"}))
	require.NoError(t, Apply(ctx, f, StrategyAlter, "widgets", Declared{"name": "string", "price": "number"}))

	attrs, err := f.Describe(ctx, "widgets")
	require.NoError(t, err)
	var hasPrice bool
	for _, a := range attrs {
		if a.Name == "price" {
			hasPrice = true
		}
	}
	assert.True(t, hasPrice)
}

func TestApply_Drop_RecreatesFromScratch(t *testing.T) {
	f := facade.New(newMemoryStore(), facade.Config{}, nil)
	ctx := context.Background()

	require.NoError(t, Apply(ctx, f, StrategyDrop, "widgets", Declared{"name": "string"}))
	_, err := f.Create(ctx, "widgets", adapter.Record{"name": "a"})
	require.NoError(t, err)

	require.NoError(t, Apply(ctx, f, StrategyDrop, "widgets", Declared{"name": "string"}))
	records, err := f.FindAll(ctx, "widgets", nil)
	require.NoError(t, err)
	assert.Empty(t, records, "drop strategy must discard existing data")
}

func TestApply_UnknownStrategyErrors(t *testing.T) {
	f := facade.New(newMemoryStore(), facade.Config{}, nil)
	err := Apply(context.Background(), f, Strategy("bogus"), "widgets", Declared{})
	require.Error(t, err)
}
