package embedding

import (
	"context"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hyperjump/kura/pkg/utils"
)

func norm(v []float32) float64 {
	return math.Sqrt(utils.Dot(v, v))
}

func TestHashEmbedder_DeterministicUnitVectors(t *testing.T) {
	e := NewHashEmbedder(64)
	ctx := context.Background()
	a, err := e.Embed(ctx, "community health grant for rural clinics")
	require.NoError(t, err)
	b, err := e.Embed(ctx, "community health grant for rural clinics")
	require.NoError(t, err)
	assert.Equal(t, a, b)
	assert.Len(t, a, 64)
	assert.InDelta(t, 1.0, norm(a), 1e-5)
}

func TestHashEmbedder_NeverZero(t *testing.T) {
	e := NewHashEmbedder(32)
	for _, text := range []string{"", "   ", "?!", "..."} {
		v, err := e.Embed(context.Background(), text)
		require.NoError(t, err)
		assert.InDelta(t, 1.0, norm(v), 1e-5, "text %q", text)
	}
}

func TestHashEmbedder_SharedVocabularyIsCloser(t *testing.T) {
	e := NewHashEmbedder(256)
	ctx := context.Background()
	q, _ := e.Embed(ctx, "rural health clinic funding")
	near, _ := e.Embed(ctx, "funding for a rural health clinic")
	far, _ := e.Embed(ctx, "quarterly marketing spreadsheet")
	assert.Greater(t, utils.Dot(q, near), utils.Dot(q, far))
}

func TestHashEmbedder_CancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := NewHashEmbedder(8).Embed(ctx, "x")
	assert.ErrorIs(t, err, context.Canceled)
}

func TestEmbedQuery_FallsBackToEmbed(t *testing.T) {
	e := NewHashEmbedder(8)
	ctx := context.Background()
	q, err := EmbedQuery(ctx, e, "hello")
	require.NoError(t, err)
	p, _ := e.Embed(ctx, "hello")
	assert.Equal(t, p, q)
}
