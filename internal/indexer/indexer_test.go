package indexer

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"

	"github.com/hyperjump/kura/internal/crosssilo"
	"github.com/hyperjump/kura/internal/docid"
	"github.com/hyperjump/kura/internal/embedding"
	"github.com/hyperjump/kura/internal/extract"
	"github.com/hyperjump/kura/internal/extraction"
	"github.com/hyperjump/kura/internal/keyword"
	"github.com/hyperjump/kura/internal/models"
	"github.com/hyperjump/kura/internal/patterns"
	"github.com/hyperjump/kura/internal/repository"
	"github.com/hyperjump/kura/internal/storage"
	"github.com/hyperjump/kura/internal/store"
	"github.com/hyperjump/kura/internal/vector"
)

// wordEntities reports every capitalized word as an organization.
type wordEntities struct {
	calls atomic.Int64
}

func (w *wordEntities) Entities(_ context.Context, text string) (extraction.Entities, error) {
	w.calls.Add(1)
	if strings.Contains(text, "FAIL") {
		return extraction.Entities{}, errors.New("oracle down")
	}
	var orgs []string
	for _, f := range strings.Fields(text) {
		if f[0] >= 'A' && f[0] <= 'Z' {
			orgs = append(orgs, strings.Trim(f, ".,"))
		}
	}
	if len(orgs) == 0 {
		return extraction.Entities{}, nil
	}
	return extraction.Entities{"organizations": orgs}, nil
}

type fixedPatterns struct {
	mu    sync.Mutex
	calls int
	err   error
}

func (f *fixedPatterns) Patterns(context.Context, string, models.Metadata, string) (models.PatternFields, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.err != nil {
		return models.PatternFields{}, f.err
	}
	return models.PatternFields{KeyElements: []string{"letters of support"}, Strategies: []string{"partner early"}}, nil
}

type fixture struct {
	idx      *Indexer
	repo     *repository.Repository
	index    *crosssilo.Index
	patterns *patterns.Store
	mined    *fixedPatterns
}

func newFixture(t *testing.T, opts ...IndexerOption) *fixture {
	t.Helper()
	dir := t.TempDir()
	st, err := storage.NewSQLiteStorage(filepath.Join(dir, "kura.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })
	f, err := vector.NewFactory(vector.Options{Type: "memory", Dimensions: 32})
	require.NoError(t, err)
	emb := embedding.NewHashEmbedder(32)

	mainIdx, err := f.Open(context.Background(), "knowledge")
	require.NoError(t, err)
	patIdx, err := f.Open(context.Background(), "success_patterns")
	require.NoError(t, err)
	kw, err := keyword.NewBleveIndex("")
	require.NoError(t, err)
	t.Cleanup(func() { _ = kw.Close() })

	repo := repository.New(store.New("knowledge", st, mainIdx, emb), repository.WithKeywordIndex(kw))
	mined := &fixedPatterns{}
	ps := patterns.New(store.New("success_patterns", st, patIdx, emb), mined)
	index := crosssilo.New(&wordEntities{})
	idx := NewIndexer(repo, index, ps, opts...)
	t.Cleanup(idx.Close)
	return &fixture{idx: idx, repo: repo, index: index, patterns: ps, mined: mined}
}

func TestExtensionAllowed(t *testing.T) {
	tests := []struct {
		ext     string
		allowed []string
		want    bool
	}{
		{".txt", []string{".txt", ".md"}, true},
		{".TXT", []string{".txt"}, true},
		{".md", []string{"txt", "md"}, true},
		{".go", []string{".txt"}, false},
		{"", []string{".txt"}, false},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, extensionAllowed(tt.ext, tt.allowed), "%q in %v", tt.ext, tt.allowed)
	}
}

func TestAddDocumentRecordsSiloAndCrossIndexes(t *testing.T) {
	fx := newFixture(t)
	ctx := context.Background()

	id, err := fx.idx.AddDocument(ctx, models.DocumentInput{Content: "Grant from Acme for clinics", SiloType: "grants"})
	require.NoError(t, err)

	doc, err := fx.repo.Get(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, "grants", doc.Metadata[models.KeySiloType])

	refs := fx.index.Lookup("organizations", "Acme")
	require.Len(t, refs, 1)
	assert.Equal(t, id, refs[0].DocumentID)
	assert.Equal(t, "grants", refs[0].SiloType)

	id2, err := fx.idx.AddDocument(ctx, models.DocumentInput{Content: "Notes about Acme"})
	require.NoError(t, err)
	doc2, err := fx.repo.Get(ctx, id2)
	require.NoError(t, err)
	assert.Equal(t, crosssilo.DefaultSiloType, doc2.Metadata[models.KeySiloType])
}

func TestAddDocumentValidationFailsBeforeEnrichment(t *testing.T) {
	fx := newFixture(t)
	_, err := fx.idx.AddDocument(context.Background(), models.DocumentInput{Content: "  "})
	require.Error(t, err)
	assert.Zero(t, fx.index.Stats().References)
}

func TestExtractionFailureDoesNotFailAdd(t *testing.T) {
	fx := newFixture(t)
	id, err := fx.idx.AddDocument(context.Background(), models.DocumentInput{Content: "FAIL Acme"})
	require.NoError(t, err)
	assert.NotEmpty(t, id)
	assert.Zero(t, fx.index.Stats().References)
}

func TestSuccessDocumentsMinePatterns(t *testing.T) {
	fx := newFixture(t)
	ctx := context.Background()

	_, err := fx.idx.AddDocument(ctx, models.DocumentInput{Content: "ordinary memo", SiloType: "grants"})
	require.NoError(t, err)
	assert.Zero(t, fx.mined.calls)

	_, err = fx.idx.AddDocument(ctx, models.DocumentInput{
		Content:  "Winning proposal",
		SiloType: "grants",
		Metadata: models.Metadata{models.KeySuccess: true},
	})
	require.NoError(t, err)
	_, err = fx.idx.AddDocument(ctx, models.DocumentInput{
		Content:  "Approved contract",
		SiloType: "contracts",
		Metadata: models.Metadata{models.KeyApproved: true},
	})
	require.NoError(t, err)

	assert.Equal(t, 2, fx.mined.calls)
	stats := fx.patterns.Statistics()
	assert.Equal(t, 2, stats.TotalPatterns)
	assert.Equal(t, []models.FrequencyEntry{{Value: "letters of support", Count: 2}}, stats.CommonElements)
}

func TestPatternFailureIsSkipped(t *testing.T) {
	fx := newFixture(t)
	fx.mined.err = errors.New("timeout")
	_, err := fx.idx.AddDocument(context.Background(), models.DocumentInput{
		Content:  "Winning proposal",
		Metadata: models.Metadata{models.KeySuccess: true},
	})
	require.NoError(t, err)
	n, err := fx.patterns.Count(context.Background())
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestUpdateAppendsReferences(t *testing.T) {
	fx := newFixture(t)
	ctx := context.Background()
	id, err := fx.idx.AddDocument(ctx, models.DocumentInput{Content: "Acme report", SiloType: "reports"})
	require.NoError(t, err)

	ok, err := fx.idx.UpdateDocument(ctx, id, models.DocumentPatch{Metadata: models.Metadata{"reviewed": true}})
	require.NoError(t, err)
	require.True(t, ok)

	refs := fx.index.Lookup("organizations", "Acme")
	require.Len(t, refs, 2)
	assert.Equal(t, "reports", refs[1].SiloType)
	assert.Equal(t, true, refs[1].Metadata["reviewed"])

	ok, err = fx.idx.UpdateDocument(ctx, "missing", models.DocumentPatch{Metadata: models.Metadata{"x": "y"}})
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestUpdateMinesOnlyWhenBecomingSuccess(t *testing.T) {
	fx := newFixture(t)
	ctx := context.Background()

	won, err := fx.idx.AddDocument(ctx, models.DocumentInput{
		Content:  "Winning proposal",
		SiloType: "grants",
		Metadata: models.Metadata{models.KeySuccess: true},
	})
	require.NoError(t, err)
	require.Equal(t, 1, fx.mined.calls)

	for _, meta := range []models.Metadata{{"owner": "kim"}, {"tag": "q3"}} {
		ok, err := fx.idx.UpdateDocument(ctx, won, models.DocumentPatch{Metadata: meta})
		require.NoError(t, err)
		require.True(t, ok)
	}
	content := "Winning proposal, final budget"
	_, err = fx.idx.UpdateDocument(ctx, won, models.DocumentPatch{Content: &content})
	require.NoError(t, err)

	assert.Equal(t, 1, fx.mined.calls)
	stats := fx.patterns.Statistics()
	assert.Equal(t, 1, stats.TotalPatterns)
	assert.Equal(t, []models.FrequencyEntry{{Value: "partner early", Count: 1}}, stats.WinningStrategies)

	draft, err := fx.idx.AddDocument(ctx, models.DocumentInput{Content: "Draft proposal", SiloType: "grants"})
	require.NoError(t, err)
	_, err = fx.idx.UpdateDocument(ctx, draft, models.DocumentPatch{Metadata: models.Metadata{models.KeySuccess: true}})
	require.NoError(t, err)
	assert.Equal(t, 2, fx.mined.calls)
	assert.Equal(t, 2, fx.patterns.Statistics().TotalPatterns)
}

func TestDeleteKeepsReferencesByDefault(t *testing.T) {
	fx := newFixture(t)
	ctx := context.Background()
	id, err := fx.idx.AddDocument(ctx, models.DocumentInput{Content: "Acme report"})
	require.NoError(t, err)

	ok, err := fx.idx.DeleteDocument(ctx, id)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Len(t, fx.index.Lookup("organizations", "Acme"), 1)
}

func TestDeletePrunesWhenEnabled(t *testing.T) {
	fx := newFixture(t, WithPruneOnDelete(true))
	ctx := context.Background()
	id, err := fx.idx.AddDocument(ctx, models.DocumentInput{Content: "Acme report"})
	require.NoError(t, err)

	ok, err := fx.idx.DeleteDocument(ctx, id)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Empty(t, fx.index.Lookup("organizations", "Acme"))

	ok, err = fx.idx.DeleteDocument(ctx, id)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestAsyncEnrichmentFlush(t *testing.T) {
	fx := newFixture(t, WithAsync(3))
	ctx := context.Background()
	for i := 0; i < 20; i++ {
		_, err := fx.idx.AddDocument(ctx, models.DocumentInput{Content: "Acme and Globex"})
		require.NoError(t, err)
	}
	fx.idx.Flush()
	assert.Len(t, fx.index.Lookup("organizations", "Acme"), 20)
	assert.Len(t, fx.index.Lookup("organizations", "Globex"), 20)
}

func TestAsyncEnrichmentSurvivesCanceledRequest(t *testing.T) {
	fx := newFixture(t, WithAsync(1))
	ctx, cancel := context.WithCancel(context.Background())
	_, err := fx.idx.AddDocument(ctx, models.DocumentInput{Content: "Acme"})
	require.NoError(t, err)
	cancel()
	fx.idx.Flush()
	assert.Len(t, fx.index.Lookup("organizations", "Acme"), 1)
}

func TestCloseRunsLateWorkInline(t *testing.T) {
	fx := newFixture(t, WithAsync(2))
	fx.idx.Close()
	_, err := fx.idx.AddDocument(context.Background(), models.DocumentInput{Content: "Acme"})
	require.NoError(t, err)
	assert.Len(t, fx.index.Lookup("organizations", "Acme"), 1)
}

func TestAddBatch(t *testing.T) {
	fx := newFixture(t)
	ids, err := fx.idx.AddBatch(context.Background(), []models.DocumentInput{
		{Content: "Acme one"}, {Content: ""}, {Content: "Acme two", SiloType: "grants"},
	})
	require.NoError(t, err)
	assert.Len(t, ids, 2)
	assert.Len(t, fx.index.Lookup("organizations", "Acme"), 2)
}

func TestIndexFileCreateUpdateAndRemove(t *testing.T) {
	fx := newFixture(t)
	ctx := context.Background()
	dir := t.TempDir()
	path := filepath.Join(dir, "doc.txt")
	require.NoError(t, os.WriteFile(path, []byte("Hello   Acme\n\ncontent."), 0600))

	id, err := fx.idx.IndexFile(ctx, path, "reports", models.Metadata{"owner": "ops"}, []string{".txt", ".md"})
	require.NoError(t, err)
	abs, _ := filepath.Abs(path)
	assert.Equal(t, docid.FromPath(abs), id)

	doc, err := fx.repo.Get(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, "Hello Acme content.", doc.Content)
	assert.Equal(t, "doc.txt", doc.Metadata[models.KeyFilename])
	assert.Equal(t, abs, doc.Metadata[metaKeySourcePath])
	assert.Equal(t, "ops", doc.Metadata["owner"])
	assert.Equal(t, "reports", doc.Metadata[models.KeySiloType])

	// unchanged file is skipped
	_, err = fx.idx.IndexFile(ctx, path, "reports", nil, nil)
	require.NoError(t, err)
	assert.Len(t, fx.index.Lookup("organizations", "Acme"), 1)

	require.NoError(t, os.WriteFile(path, []byte("Updated content."), 0600))
	_, err = fx.idx.IndexFile(ctx, path, "reports", nil, nil)
	require.NoError(t, err)
	doc, err = fx.repo.Get(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, "Updated content.", doc.Content)

	ok, err := fx.idx.RemoveFile(ctx, path)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestIndexFileRejects(t *testing.T) {
	fx := newFixture(t)
	ctx := context.Background()
	dir := t.TempDir()

	script := filepath.Join(dir, "script.sh")
	require.NoError(t, os.WriteFile(script, []byte("#!/bin/bash"), 0600))
	_, err := fx.idx.IndexFile(ctx, script, "", nil, []string{".txt"})
	assert.Error(t, err)

	_, err = fx.idx.IndexFile(ctx, dir, "", nil, nil)
	assert.Error(t, err)

	_, err = fx.idx.IndexFile(ctx, filepath.Join(dir, "missing.txt"), "", nil, nil)
	assert.Error(t, err)

	empty := filepath.Join(dir, "empty.txt")
	require.NoError(t, os.WriteFile(empty, []byte(" \n "), 0600))
	_, err = fx.idx.IndexFile(ctx, empty, "", nil, nil)
	assert.Error(t, err)
}

func TestIndexFileExcel(t *testing.T) {
	fx := newFixture(t, WithFileExtractor(extract.NewExtractor()))
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "data.xlsx")
	f := excelize.NewFile()
	require.NoError(t, f.SetCellValue("Sheet1", "A1", "Excel searchable content"))
	require.NoError(t, f.SaveAs(path))
	require.NoError(t, f.Close())

	id, err := fx.idx.IndexFile(ctx, path, "", nil, []string{".xlsx"})
	require.NoError(t, err)
	doc, err := fx.repo.Get(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, "Excel searchable content", doc.Content)
}

func TestIndexDirectoryWithSidecars(t *testing.T) {
	fx := newFixture(t)
	ctx := context.Background()
	dir := t.TempDir()
	sub := filepath.Join(dir, "sub")
	require.NoError(t, os.Mkdir(sub, 0755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "a.txt"), []byte("file a"), 0600))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "a.txt"+SidecarSuffix), []byte("type: grant\nsuccess: true\nyear: 2023\n"), 0600))
	require.NoError(t, os.WriteFile(filepath.Join(sub, "c.txt"), []byte("file c"), 0600))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "skip.xyz"), []byte("skip"), 0600))

	n, err := fx.idx.IndexDirectory(ctx, dir, "grants", []string{".txt"})
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	abs, _ := filepath.Abs(filepath.Join(dir, "a.txt"))
	doc, err := fx.repo.Get(ctx, docid.FromPath(abs))
	require.NoError(t, err)
	assert.Equal(t, "grant", doc.Metadata[models.KeyType])
	assert.Equal(t, 2023.0, doc.Metadata["year"])
	assert.Equal(t, 1, fx.mined.calls)
}

func TestReadSidecar(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "x.pdf")
	meta, err := ReadSidecar(path)
	require.NoError(t, err)
	assert.Empty(t, meta)

	require.NoError(t, os.WriteFile(path+SidecarSuffix, []byte("tags: [a, b]\n"), 0600))
	meta, err = ReadSidecar(path)
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b"}, meta["tags"])

	require.NoError(t, os.WriteFile(path+SidecarSuffix, []byte("nested: {a: 1}\n"), 0600))
	_, err = ReadSidecar(path)
	assert.Error(t, err)

	assert.True(t, IsSidecar(path+SidecarSuffix))
	assert.False(t, IsSidecar(path))
}

func TestRebuildRestoresDerivedState(t *testing.T) {
	fx := newFixture(t)
	ctx := context.Background()
	_, err := fx.idx.AddDocument(ctx, models.DocumentInput{Content: "Acme grant", SiloType: "grants"})
	require.NoError(t, err)
	_, err = fx.idx.AddDocument(ctx, models.DocumentInput{Content: "Winning Acme bid", Metadata: models.Metadata{models.KeySuccess: true}})
	require.NoError(t, err)

	fx.index.Reset()
	report, err := fx.idx.Rebuild(ctx, true)
	require.NoError(t, err)
	assert.Equal(t, 2, report.CrossSiloDocs)
	assert.Equal(t, 1, report.Patterns)

	refs := fx.index.Lookup("organizations", "Acme")
	require.Len(t, refs, 2)
	silos := []string{refs[0].SiloType, refs[1].SiloType}
	assert.ElementsMatch(t, []string{"grants", crosssilo.DefaultSiloType}, silos)

	report, err = fx.idx.Rebuild(ctx, false)
	require.NoError(t, err)
	assert.Zero(t, report.CrossSiloDocs)
	assert.Equal(t, 3, report.CrossSiloRefs)
}
