package storage

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hyperjump/kura/internal/models"
	kuraerr "github.com/hyperjump/kura/pkg/errors"
)

func newTestStorage(t *testing.T) *SQLiteStorage {
	t.Helper()
	store, err := NewSQLiteStorage(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func TestSQLiteStorage_CRUD(t *testing.T) {
	store := newTestStorage(t)
	ctx := context.Background()

	doc := &models.Document{
		ID:         "doc1",
		Collection: "knowledge",
		Content:    "Content",
		Metadata:   models.Metadata{"k": "v", "n": 2.0, "tags": []string{"a"}},
		Embedding:  []float32{0.6, 0.8},
	}
	require.NoError(t, store.CreateDocument(ctx, doc))
	assert.False(t, doc.CreatedAt.IsZero(), "CreatedAt should be set")

	got, err := store.GetDocument(ctx, "knowledge", "doc1")
	require.NoError(t, err)
	assert.Equal(t, "Content", got.Content)
	assert.Equal(t, doc.Metadata, got.Metadata)
	assert.Equal(t, []float32{0.6, 0.8}, got.Embedding)

	doc.Content = "Updated"
	doc.Metadata = models.Metadata{"k": "w"}
	require.NoError(t, store.ReplaceDocument(ctx, doc))
	got, err = store.GetDocument(ctx, "knowledge", "doc1")
	require.NoError(t, err)
	assert.Equal(t, "Updated", got.Content)
	assert.Equal(t, "w", got.Metadata["k"])
	assert.Equal(t, got.CreatedAt.Unix(), doc.CreatedAt.Unix())

	list, err := store.ListDocuments(ctx, "knowledge", 0, 0)
	require.NoError(t, err)
	assert.Len(t, list, 1)

	deleted, err := store.DeleteDocument(ctx, "knowledge", "doc1")
	require.NoError(t, err)
	assert.True(t, deleted)

	deleted, err = store.DeleteDocument(ctx, "knowledge", "doc1")
	require.NoError(t, err)
	assert.False(t, deleted)

	_, err = store.GetDocument(ctx, "knowledge", "doc1")
	assert.True(t, kuraerr.IsNotFound(err))
}

func TestSQLiteStorage_DuplicateID(t *testing.T) {
	store := newTestStorage(t)
	ctx := context.Background()

	require.NoError(t, store.CreateDocument(ctx, &models.Document{ID: "x", Collection: "c", Content: "one"}))
	err := store.CreateDocument(ctx, &models.Document{ID: "x", Collection: "c", Content: "two"})
	assert.True(t, kuraerr.IsValidation(err))

	// same id in another collection is a different record
	require.NoError(t, store.CreateDocument(ctx, &models.Document{ID: "x", Collection: "other", Content: "three"}))
}

func TestSQLiteStorage_ReplaceMissing(t *testing.T) {
	store := newTestStorage(t)
	err := store.ReplaceDocument(context.Background(), &models.Document{ID: "nope", Collection: "c", Content: "x"})
	assert.True(t, kuraerr.IsNotFound(err))
}

func TestSQLiteStorage_Collections(t *testing.T) {
	store := newTestStorage(t)
	ctx := context.Background()

	for _, id := range []string{"b", "a", "c"} {
		require.NoError(t, store.CreateDocument(ctx, &models.Document{ID: id, Collection: "main", Content: id}))
	}
	require.NoError(t, store.CreateDocument(ctx, &models.Document{ID: "p", Collection: "patterns", Content: "p"}))

	list, err := store.ListDocuments(ctx, "main", 0, 0)
	require.NoError(t, err)
	require.Len(t, list, 3)
	assert.Equal(t, "a", list[0].ID, "list is ordered by id")

	page, err := store.ListDocuments(ctx, "main", 1, 1)
	require.NoError(t, err)
	require.Len(t, page, 1)
	assert.Equal(t, "b", page[0].ID)

	count, err := store.CountDocuments(ctx, "main")
	require.NoError(t, err)
	assert.Equal(t, int64(3), count)

	names, err := store.Collections(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"main", "patterns"}, names)

	removed, err := store.DeleteCollection(ctx, "main")
	require.NoError(t, err)
	assert.Equal(t, int64(3), removed)

	count, err = store.CountDocuments(ctx, "patterns")
	require.NoError(t, err)
	assert.Equal(t, int64(1), count)
}

func TestSQLiteStorage_InMemory(t *testing.T) {
	store, err := NewSQLiteStorage(":memory:")
	require.NoError(t, err)
	defer store.Close()

	ctx := context.Background()
	require.NoError(t, store.CreateDocument(ctx, &models.Document{ID: "m", Collection: "c", Content: "mem"}))
	got, err := store.GetDocument(ctx, "c", "m")
	require.NoError(t, err)
	assert.Equal(t, "mem", got.Content)
	assert.Equal(t, ":memory:", store.Location())
}
