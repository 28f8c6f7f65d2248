package vector

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func assertSize(t *testing.T, want int, idx VectorIndex) {
	t.Helper()
	n, err := idx.Size(context.Background())
	require.NoError(t, err)
	assert.Equal(t, want, n)
}

func TestMemoryIndex_AddSearch(t *testing.T) {
	idx, err := NewMemoryIndex(3)
	require.NoError(t, err)
	defer idx.Close()
	ctx := context.Background()

	require.NoError(t, idx.Add(ctx,
		[]string{"a", "b", "c"},
		[][]float32{{1, 0, 0}, {0.6, 0.8, 0}, {0, 1, 0}},
	))
	assertSize(t, 3, idx)

	results, err := idx.Search(ctx, []float32{1, 0, 0}, 2)
	require.NoError(t, err)
	require.Len(t, results, 2)
	assert.Equal(t, "a", results[0].ID)
	assert.Equal(t, "b", results[1].ID)
	assert.InDelta(t, 0.6, results[1].Score, 1e-6)
}

func TestMemoryIndex_TiesByID(t *testing.T) {
	idx, _ := NewMemoryIndex(2)
	ctx := context.Background()
	require.NoError(t, idx.Add(ctx, []string{"z", "m", "a"}, [][]float32{{1, 0}, {1, 0}, {1, 0}}))

	results, err := idx.Search(ctx, []float32{1, 0}, 3)
	require.NoError(t, err)
	require.Len(t, results, 3)
	assert.Equal(t, []string{"a", "m", "z"}, []string{results[0].ID, results[1].ID, results[2].ID})
}

func TestMemoryIndex_AddReplaces(t *testing.T) {
	idx, _ := NewMemoryIndex(2)
	ctx := context.Background()
	require.NoError(t, idx.Add(ctx, []string{"x"}, [][]float32{{1, 0}}))
	require.NoError(t, idx.Add(ctx, []string{"x"}, [][]float32{{0, 1}}))
	assertSize(t, 1, idx)

	results, err := idx.Search(ctx, []float32{0, 1}, 1)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.InDelta(t, 1.0, results[0].Score, 1e-6)
}

func TestMemoryIndex_Remove(t *testing.T) {
	idx, _ := NewMemoryIndex(2)
	ctx := context.Background()
	require.NoError(t, idx.Add(ctx, []string{"x", "y", "z"}, [][]float32{{1, 0}, {0, 1}, {0.6, 0.8}}))
	require.NoError(t, idx.Remove(ctx, []string{"x", "missing"}))
	assertSize(t, 2, idx)

	results, err := idx.Search(ctx, []float32{1, 0}, 10)
	require.NoError(t, err)
	require.Len(t, results, 2)
	assert.Equal(t, "z", results[0].ID)
	assert.Equal(t, "y", results[1].ID)
}

func TestMemoryIndex_DimensionMismatch(t *testing.T) {
	idx, _ := NewMemoryIndex(3)
	ctx := context.Background()
	assert.Error(t, idx.Add(ctx, []string{"a"}, [][]float32{{1, 0}}))
	assert.Error(t, idx.Add(ctx, []string{"a", "b"}, [][]float32{{1, 0, 0}}))
	_, err := idx.Search(ctx, []float32{1, 0}, 1)
	assert.Error(t, err)
}

func TestMemoryIndex_EmptySearch(t *testing.T) {
	idx, _ := NewMemoryIndex(2)
	results, err := idx.Search(context.Background(), []float32{1, 0}, 5)
	require.NoError(t, err)
	assert.Empty(t, results)
}

func TestMemoryIndex_Reset(t *testing.T) {
	idx, _ := NewMemoryIndex(2)
	ctx := context.Background()
	require.NoError(t, idx.Add(ctx, []string{"x"}, [][]float32{{1, 0}}))
	require.NoError(t, idx.Reset(ctx))
	assertSize(t, 0, idx)
	require.NoError(t, idx.Add(ctx, []string{"x"}, [][]float32{{1, 0}}))
	assertSize(t, 1, idx)
}

func TestMemoryIndex_FlushAndLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "knowledge.vec")
	ctx := context.Background()

	idx, _ := NewMemoryIndex(2, WithSnapshot(path))
	require.NoError(t, idx.Add(ctx, []string{"alpha", "beta"}, [][]float32{{1, 0}, {0, 1}}))
	require.NoError(t, idx.Flush())

	loaded, _ := NewMemoryIndex(2)
	require.NoError(t, loaded.Load(path))
	assertSize(t, 2, loaded)
	results, err := loaded.Search(ctx, []float32{0, 1}, 1)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "beta", results[0].ID)

	// replacing after load must not duplicate
	require.NoError(t, loaded.Add(ctx, []string{"alpha"}, [][]float32{{0.6, 0.8}}))
	assertSize(t, 2, loaded)
}

func TestMemoryIndex_LoadMissingAndMismatch(t *testing.T) {
	dir := t.TempDir()
	idx, _ := NewMemoryIndex(2)
	require.NoError(t, idx.Load(filepath.Join(dir, "missing.vec")))

	path := filepath.Join(dir, "three.vec")
	three, _ := NewMemoryIndex(3)
	require.NoError(t, three.Add(context.Background(), []string{"a"}, [][]float32{{1, 0, 0}}))
	require.NoError(t, three.Save(path))
	assert.Error(t, idx.Load(path))
}

func TestMemoryIndex_FlushWithoutSnapshot(t *testing.T) {
	idx, _ := NewMemoryIndex(2)
	assert.NoError(t, idx.Flush())
}
