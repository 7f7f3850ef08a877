package sqlite

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/redbco/strata/pkg/adapter"
)

func openTestAdapter(t *testing.T) *Adapter {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.db")
	a, err := Open(path)
	require.NoError(t, err)
	t.Cleanup(func() { _ = a.Teardown(context.Background()) })
	return a
}

func TestAdapter_DefineDescribe_RoundTrip(t *testing.T) {
	a := openTestAdapter(t)
	ctx := context.Background()

	attrs := []adapter.Attribute{
		{Name: "id", Type: adapter.TypeNumber, PrimaryKey: true, AutoIncrement: true},
		{Name: "name", Type: adapter.TypeString, Required: true},
		{Name: "email", Type: adapter.TypeString, Unique: true},
	}
	require.NoError(t, a.Define(ctx, "widgets", attrs))

	described, err := a.Describe(ctx, "widgets")
	require.NoError(t, err)

	byName := map[string]adapter.Attribute{}
	for _, attr := range described {
		byName[attr.Name] = attr
	}
	require.Contains(t, byName, "id")
	require.Contains(t, byName, "name")
	require.Contains(t, byName, "email")
	assert.True(t, byName["id"].PrimaryKey)
	assert.True(t, byName["name"].Required)
	assert.True(t, byName["email"].Unique)
}

func TestAdapter_Describe_MissingCollectionReturnsNil(t *testing.T) {
	a := openTestAdapter(t)
	attrs, err := a.Describe(context.Background(), "ghosts")
	require.NoError(t, err)
	assert.Nil(t, attrs)
}

func TestAdapter_CreateFindUpdateDestroy(t *testing.T) {
	a := openTestAdapter(t)
	ctx := context.Background()

	require.NoError(t, a.Define(ctx, "widgets", []adapter.Attribute{
		{Name: "id", Type: adapter.TypeNumber, PrimaryKey: true, AutoIncrement: true},
		{Name: "name", Type: adapter.TypeString},
	}))

	created, err := a.Create(ctx, "widgets", adapter.Record{"name": "sprocket"})
	require.NoError(t, err)
	require.NotNil(t, created["id"])

	found, err := a.Find(ctx, "widgets", adapter.Criterion{Where: map[string]any{"name": "sprocket"}})
	require.NoError(t, err)
	require.Len(t, found, 1)

	modified, err := a.Update(ctx, "widgets", adapter.Criterion{Where: map[string]any{"name": "sprocket"}}, adapter.Record{"name": "gear"})
	require.NoError(t, err)
	assert.Equal(t, int64(1), modified)

	destroyed, err := a.Destroy(ctx, "widgets", adapter.Criterion{Where: map[string]any{"name": "gear"}})
	require.NoError(t, err)
	assert.Equal(t, int64(1), destroyed)
}

func TestAdapter_AddRemoveAttribute(t *testing.T) {
	a := openTestAdapter(t)
	ctx := context.Background()

	require.NoError(t, a.Define(ctx, "widgets", []adapter.Attribute{
		{Name: "id", Type: adapter.TypeNumber, PrimaryKey: true, AutoIncrement: true},
	}))

	require.NoError(t, a.AddAttribute(ctx, "widgets", adapter.Attribute{Name: "price", Type: adapter.TypeNumber}))
	attrs, err := a.Describe(ctx, "widgets")
	require.NoError(t, err)

	var hasPrice bool
	for _, attr := range attrs {
		if attr.Name == "price" {
			hasPrice = true
		}
	}
	assert.True(t, hasPrice)

	require.NoError(t, a.RemoveAttribute(ctx, "widgets", adapter.Attribute{Name: "price"}))
	attrs, err = a.Describe(ctx, "widgets")
	require.NoError(t, err)
	for _, attr := range attrs {
		assert.NotEqual(t, "price", attr.Name)
	}
}

func TestAdapter_Count(t *testing.T) {
	a := openTestAdapter(t)
	ctx := context.Background()

	require.NoError(t, a.Define(ctx, "widgets", []adapter.Attribute{
		{Name: "id", Type: adapter.TypeNumber, PrimaryKey: true, AutoIncrement: true},
		{Name: "kind", Type: adapter.TypeString},
	}))
	for i := 0; i < 3; i++ {
		_, err := a.Create(ctx, "widgets", adapter.Record{"kind": "a"})
		require.NoError(t, err)
	}

	count, err := a.Count(ctx, "widgets", adapter.Criterion{Where: map[string]any{"kind": "a"}})
	require.NoError(t, err)
	assert.Equal(t, int64(3), count)
}

func TestAdapter_AssignsMonotonicIDs(t *testing.T) {
	a := openTestAdapter(t)
	assert.True(t, a.AssignsMonotonicIDs())
}

func TestAdapter_Drop(t *testing.T) {
	a := openTestAdapter(t)
	ctx := context.Background()

	require.NoError(t, a.Define(ctx, "widgets", []adapter.Attribute{
		{Name: "id", Type: adapter.TypeNumber, PrimaryKey: true, AutoIncrement: true},
	}))
	require.NoError(t, a.Drop(ctx, "widgets"))

	attrs, err := a.Describe(ctx, "widgets")
	require.NoError(t, err)
	assert.Nil(t, attrs)
}
