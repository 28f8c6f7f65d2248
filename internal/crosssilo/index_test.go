package crosssilo

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hyperjump/kura/internal/extraction"
	"github.com/hyperjump/kura/internal/models"
)

// fakeExtractor returns entities keyed by the exact text it receives.
type fakeExtractor struct {
	mu    sync.Mutex
	byDoc map[string]extraction.Entities
	calls int
}

func (f *fakeExtractor) Entities(_ context.Context, text string) (extraction.Entities, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if strings.HasPrefix(text, "fail") {
		return extraction.Entities{}, errors.New("oracle down")
	}
	e, ok := f.byDoc[text]
	if !ok {
		return extraction.Entities{}, nil
	}
	return e, nil
}

type sliceSource []*models.Document

func (s sliceSource) Each(_ context.Context, fn func(*models.Document) error) error {
	for _, d := range s {
		if err := fn(d); err != nil {
			return err
		}
	}
	return nil
}

func newExtractor() *fakeExtractor {
	return &fakeExtractor{byDoc: map[string]extraction.Entities{
		"grant text":   {"funders": {"Acme Foundation"}, "sectors": {"health"}},
		"project text": {"funders": {"Acme Foundation"}, "locations": {"Nairobi"}},
	}}
}

func TestIndexDocumentAndLookup(t *testing.T) {
	x := New(newExtractor())
	ctx := context.Background()

	n := x.IndexDocument(ctx, "g1", "grant text", models.Metadata{"type": "grant"}, "grants")
	assert.Equal(t, 2, n)
	n = x.IndexDocument(ctx, "p1", "project text", nil, "")
	assert.Equal(t, 2, n)

	refs := x.Lookup("funders", "Acme Foundation")
	require.Len(t, refs, 2)
	assert.Equal(t, "g1", refs[0].DocumentID)
	assert.Equal(t, "grants", refs[0].SiloType)
	assert.Equal(t, "grant", refs[0].Metadata["type"])
	assert.Equal(t, "p1", refs[1].DocumentID)
	assert.Equal(t, DefaultSiloType, refs[1].SiloType)

	assert.Empty(t, x.Lookup("funders", "Nobody"))
	assert.Empty(t, x.Lookup("unknown", "x"))

	stats := x.Stats()
	assert.Equal(t, 3, stats.EntityTypes)
	assert.Equal(t, 3, stats.Values)
	assert.Equal(t, 4, stats.References)
	assert.Equal(t, []string{"funders", "locations", "sectors"}, x.EntityTypes())
}

func TestIndexDocumentAppendsOnReindex(t *testing.T) {
	x := New(newExtractor())
	ctx := context.Background()
	x.IndexDocument(ctx, "g1", "grant text", nil, "grants")
	x.IndexDocument(ctx, "g1", "grant text", nil, "grants")

	assert.Len(t, x.Lookup("sectors", "health"), 2)
}

func TestIndexDocumentExtractionFailureIndexesNothing(t *testing.T) {
	x := New(newExtractor())
	n := x.IndexDocument(context.Background(), "f1", "fail please", nil, "grants")
	assert.Zero(t, n)
	assert.Zero(t, x.Stats().References)
}

func TestLookupReturnsCopy(t *testing.T) {
	x := New(newExtractor())
	x.IndexDocument(context.Background(), "g1", "grant text", nil, "grants")

	refs := x.Lookup("sectors", "health")
	refs[0].DocumentID = "mutated"
	assert.Equal(t, "g1", x.Lookup("sectors", "health")[0].DocumentID)
}

func TestPrune(t *testing.T) {
	x := New(newExtractor())
	ctx := context.Background()
	x.IndexDocument(ctx, "g1", "grant text", nil, "grants")
	x.IndexDocument(ctx, "p1", "project text", nil, "projects")

	removed := x.Prune("g1")
	assert.Equal(t, 2, removed)

	refs := x.Lookup("funders", "Acme Foundation")
	require.Len(t, refs, 1)
	assert.Equal(t, "p1", refs[0].DocumentID)
	assert.Empty(t, x.Lookup("sectors", "health"))
	assert.NotContains(t, x.EntityTypes(), "sectors")
	assert.Equal(t, 2, x.Stats().References)

	assert.Zero(t, x.Prune("missing"))
}

func TestRebuildReplaysSource(t *testing.T) {
	ext := newExtractor()
	x := New(ext, WithWorkers(4))
	ctx := context.Background()
	x.IndexDocument(ctx, "stale", "grant text", nil, "grants")

	src := sliceSource{
		{ID: "g1", Content: "grant text", Metadata: models.Metadata{models.KeySiloType: "grants"}},
		{ID: "p1", Content: "project text", Metadata: models.Metadata{models.KeySiloType: "projects"}},
		{ID: "e1", Content: "nothing known", Metadata: models.Metadata{}},
		{ID: "f1", Content: "fail", Metadata: models.Metadata{}},
	}
	indexed, err := x.Rebuild(ctx, src)
	require.NoError(t, err)
	assert.Equal(t, 2, indexed)

	refs := x.Lookup("funders", "Acme Foundation")
	require.Len(t, refs, 2)
	ids := []string{refs[0].DocumentID, refs[1].DocumentID}
	assert.ElementsMatch(t, []string{"g1", "p1"}, ids)
	for _, r := range refs {
		if r.DocumentID == "p1" {
			assert.Equal(t, "projects", r.SiloType)
		}
	}
	assert.Equal(t, 4, x.Stats().References)
}

func TestRebuildCanceled(t *testing.T) {
	x := New(newExtractor())
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	src := sliceSource{{ID: "g1", Content: "grant text"}}
	_, err := x.Rebuild(ctx, src)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Zero(t, x.Stats().References)
}

func TestConcurrentIndexAndLookup(t *testing.T) {
	x := New(newExtractor())
	ctx := context.Background()
	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			x.IndexDocument(ctx, "g1", "grant text", nil, "grants")
		}()
		go func() {
			defer wg.Done()
			_ = x.Lookup("funders", "Acme Foundation")
		}()
	}
	wg.Wait()
	assert.Len(t, x.Lookup("funders", "Acme Foundation"), 16)
}

func TestReset(t *testing.T) {
	x := New(newExtractor())
	x.IndexDocument(context.Background(), "g1", "grant text", nil, "grants")
	x.Reset()
	assert.Equal(t, Stats{ByType: map[string]int{}}, x.Stats())
}
