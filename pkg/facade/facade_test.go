package facade

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/redbco/strata/pkg/adapter"
)

// memoryStore is a minimal in-memory adapter.Adapter. It additionally
// implements Describable and AddRemoveAttributer (but not Alterable), so
// facade tests can exercise the schemadiff-backed Alter fallback without a
// real database.
type memoryStore struct {
	mu         sync.Mutex
	nextID     int64
	records    map[string]map[int64]adapter.Record
	schemas    map[string][]adapter.Attribute
	createErr  error
}

func newMemoryStore() *memoryStore {
	return &memoryStore{
		records: make(map[string]map[int64]adapter.Record),
		schemas: make(map[string][]adapter.Attribute),
	}
}

func (m *memoryStore) Identity() string { return "memory" }

func (m *memoryStore) AssignsMonotonicIDs() bool { return true }

func (m *memoryStore) Create(ctx context.Context, collection string, values adapter.Record) (adapter.Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.createErr != nil {
		return nil, m.createErr
	}
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
	var out []adapter.Record
	for _, rec := range m.records[collection] {
		if matches(rec, criteria.Where) {
			out = append(out, rec)
		}
	}
	return out, nil
}

func matches(rec adapter.Record, where map[string]any) bool {
	for k, v := range where {
		if rec[k] != v {
			return false
		}
	}
	return true
}

func (m *memoryStore) Update(ctx context.Context, collection string, criteria adapter.Criterion, values adapter.Record) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var count int64
	for _, rec := range m.records[collection] {
		if matches(rec, criteria.Where) {
			for k, v := range values {
				rec[k] = v
			}
			count++
		}
	}
	return count, nil
}

func (m *memoryStore) Destroy(ctx context.Context, collection string, criteria adapter.Criterion) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var count int64
	for id, rec := range m.records[collection] {
		if matches(rec, criteria.Where) {
			delete(m.records[collection], id)
			count++
		}
	}
	return count, nil
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

func TestFacade_CreateFind_RoundTrip(t *testing.T) {
	f := New(newMemoryStore(), Config{}, nil)
	ctx := context.Background()

	created, err := f.Create(ctx, "widgets", adapter.Record{"name": "sprocket"})
	require.NoError(t, err)
	require.NotNil(t, created["id"])

	found, err := f.Find(ctx, "widgets", map[string]any{"name": "sprocket"})
	require.NoError(t, err)
	require.NotNil(t, found)
	assert.Equal(t, "sprocket", found["name"])
}

func TestFacade_Find_TooManyResults(t *testing.T) {
	f := New(newMemoryStore(), Config{}, nil)
	ctx := context.Background()

	_, err := f.Create(ctx, "widgets", adapter.Record{"kind": "a"})
	require.NoError(t, err)
	_, err = f.Create(ctx, "widgets", adapter.Record{"kind": "a"})
	require.NoError(t, err)

	_, err = f.Find(ctx, "widgets", map[string]any{"kind": "a"})
	require.Error(t, err)
	var tooMany *adapter.TooManyResultsError
	require.ErrorAs(t, err, &tooMany)
}

func TestFacade_DefineDescribe_RoundTrip(t *testing.T) {
	f := New(newMemoryStore(), Config{CreatedAt: true}, nil)
	ctx := context.Background()

	err := f.Define(ctx, "widgets", map[string]interface{}{"name": "string"})
	require.NoError(t, err)

	attrs, err := f.Describe(ctx, "widgets")
	require.NoError(t, err)

	names := map[string]bool{}
	for _, a := range attrs {
		names[a.Name] = true
	}
	assert.True(t, names["id"])
	assert.True(t, names["name"])
	assert.True(t, names["createdAt"])
}

func TestFacade_Define_ErrorsIfCollectionExists(t *testing.T) {
	f := New(newMemoryStore(), Config{}, nil)
	ctx := context.Background()

	require.NoError(t, f.Define(ctx, "widgets", map[string]interface{}{"name": "string"}))
	err := f.Define(ctx, "widgets", map[string]interface{}{"name": "string"})
	require.Error(t, err)

	var exists *adapter.CollectionExistsError
	require.ErrorAs(t, err, &exists)
}

func TestFacade_Alter_SynthesizesViaSchemaDiff(t *testing.T) {
	f := New(newMemoryStore(), Config{}, nil)
	ctx := context.Background()

	require.NoError(t, f.Define(ctx, "widgets", map[string]interface{}{"name": "string"}))

	target, err := f.AugmentedAttributes(map[string]interface{}{"name": "string", "price": "number"})
	require.NoError(t, err)

	require.NoError(t, f.Alter(ctx, "widgets", target))

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

func TestFacade_Alter_ErrorsIfCollectionDoesNotExist(t *testing.T) {
	f := New(newMemoryStore(), Config{}, nil)
	ctx := context.Background()

	target, err := f.AugmentedAttributes(map[string]interface{}{"name": "string"})
	require.NoError(t, err)

	err = f.Alter(ctx, "ghosts", target)
	require.Error(t, err)

	var notFound *adapter.CollectionNotFoundError
	require.ErrorAs(t, err, &notFound)
	assert.Equal(t, "ghosts", notFound.Collection)
}

func TestFacade_CreateEach_SequentialFallback(t *testing.T) {
	f := New(newMemoryStore(), Config{}, nil)
	ctx := context.Background()

	created, err := f.CreateEach(ctx, "widgets", []adapter.Record{
		{"name": "a"},
		{"name": "b"},
		{"name": "c"},
	})
	require.NoError(t, err)
	assert.Len(t, created, 3)

	all, err := f.FindAll(ctx, "widgets", nil)
	require.NoError(t, err)
	assert.Len(t, all, 3)
}

func TestFacade_FindOrCreate_CreatesWhenAbsent(t *testing.T) {
	f := New(newMemoryStore(), Config{}, nil)
	ctx := context.Background()

	rec, created, err := f.FindOrCreate(ctx, "widgets", map[string]any{"name": "sprocket"}, adapter.Record{"name": "sprocket"})
	require.NoError(t, err)
	assert.True(t, created)
	assert.Equal(t, "sprocket", rec["name"])
}

func TestFacade_FindOrCreate_CreatesFromCriteriaWhenValuesOmitted(t *testing.T) {
	f := New(newMemoryStore(), Config{}, nil)
	ctx := context.Background()

	rec, created, err := f.FindOrCreate(ctx, "widgets", map[string]any{"name": "sprocket"}, nil)
	require.NoError(t, err)
	assert.True(t, created)
	assert.Equal(t, "sprocket", rec["name"])
}

func TestFacade_FindOrCreate_FindsWhenPresent(t *testing.T) {
	f := New(newMemoryStore(), Config{}, nil)
	ctx := context.Background()

	first, err := f.Create(ctx, "widgets", adapter.Record{"name": "sprocket"})
	require.NoError(t, err)

	rec, created, err := f.FindOrCreate(ctx, "widgets", map[string]any{"name": "sprocket"}, adapter.Record{"name": "sprocket"})
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, first["id"], rec["id"])
}

func TestFacade_Count_FallsBackToLenFind(t *testing.T) {
	f := New(newMemoryStore(), Config{}, nil)
	ctx := context.Background()

	for i := 0; i < 4; i++ {
		_, err := f.Create(ctx, "widgets", adapter.Record{"kind": "a"})
		require.NoError(t, err)
	}

	count, err := f.Count(ctx, "widgets", map[string]any{"kind": "a"})
	require.NoError(t, err)
	assert.Equal(t, int64(4), count)
}

func TestFacade_Update_StampsUpdatedAt(t *testing.T) {
	f := New(newMemoryStore(), Config{UpdatedAt: true}, nil)
	ctx := context.Background()

	created, err := f.Create(ctx, "widgets", adapter.Record{"name": "a"})
	require.NoError(t, err)

	_, err = f.Update(ctx, "widgets", map[string]any{"id": created["id"]}, adapter.Record{"name": "b"})
	require.NoError(t, err)

	found, err := f.Find(ctx, "widgets", map[string]any{"id": created["id"]})
	require.NoError(t, err)
	assert.NotNil(t, found["updatedAt"])
}
