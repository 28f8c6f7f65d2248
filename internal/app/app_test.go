package app

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/hyperjump/kura/internal/config"
	"github.com/hyperjump/kura/internal/models"
	"github.com/hyperjump/kura/internal/oracle"
	kuraerr "github.com/hyperjump/kura/pkg/errors"
)

// scriptedOracle answers entity prompts with a fixed funder and pattern prompts with a
// fixed strategy list.
var scriptedOracle = oracle.Func(func(_ context.Context, prompt string, _ oracle.GenerateOptions) (string, error) {
	switch {
	case strings.Contains(prompt, "cross-silo indexing"):
		return `{"funders": ["NIH"], "keywords": ["telehealth"]}`, nil
	case strings.Contains(prompt, "success patterns"):
		return `{"strategies": ["community partners"], "key_elements": ["budget narrative"]}`, nil
	default:
		return "", kuraerr.New(kuraerr.CodeExtraction, "unexpected prompt")
	}
})

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	dir := t.TempDir()
	cfg := &config.Config{}
	cfg.Storage.DatabasePath = filepath.Join(dir, "db", "knowledge.db")
	cfg.Storage.IndexPath = filepath.Join(dir, "indices", "vector")
	cfg.Storage.KeywordIndexPath = filepath.Join(dir, "indices", "bleve")
	cfg.Embedding.Dimensions = 64
	config.ApplyDefaults(cfg)
	return cfg
}

func TestOpenIngestAndReopen(t *testing.T) {
	ctx := context.Background()
	cfg := testConfig(t)

	a, err := Open(ctx, cfg, zap.NewNop(), WithOracle(scriptedOracle))
	require.NoError(t, err)
	_, err = a.Start(ctx)
	require.NoError(t, err)

	id, err := a.Indexer.AddDocument(ctx, models.DocumentInput{
		Content:  "Telehealth outreach award funded by NIH",
		Metadata: models.Metadata{models.KeySuccess: true},
		SiloType: "grants",
	})
	require.NoError(t, err)
	a.Indexer.Flush()

	refs := a.CrossSilo.Lookup("funders", "NIH")
	require.Len(t, refs, 1)
	assert.Equal(t, id, refs[0].DocumentID)
	assert.Equal(t, 1, a.Patterns.Statistics().TotalPatterns)

	st, err := a.Status(ctx)
	require.NoError(t, err)
	assert.EqualValues(t, 1, st.Documents)
	assert.EqualValues(t, 1, st.Patterns)
	assert.Equal(t, "memory", st.VectorBackend)
	require.NoError(t, a.Close())

	b, err := Open(ctx, cfg, zap.NewNop(), WithOracle(scriptedOracle))
	require.NoError(t, err)
	defer b.Close()
	assert.Empty(t, b.CrossSilo.Lookup("funders", "NIH"), "index is rebuilt by Start")

	report, err := b.Start(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, report.CrossSiloDocs)
	assert.Equal(t, 1, report.Patterns)
	assert.Len(t, b.CrossSilo.Lookup("funders", "NIH"), 1)

	resp, err := b.Engine.SearchCrossSilo(ctx, models.CrossSiloRequest{Query: "NIH telehealth", K: 5})
	require.NoError(t, err)
	require.NotEmpty(t, resp.Results)
	ids := map[string]bool{}
	for _, r := range resp.Results {
		assert.False(t, ids[r.ID], "duplicate %s", r.ID)
		ids[r.ID] = true
	}
	assert.True(t, ids[id])
}

func TestStartSkipsCrossSiloWhenDisabled(t *testing.T) {
	ctx := context.Background()
	cfg := testConfig(t)
	off := false
	cfg.Knowledge.RebuildOnStart = &off

	a, err := Open(ctx, cfg, nil, WithOracle(scriptedOracle))
	require.NoError(t, err)
	defer a.Close()
	_, err = a.Indexer.AddDocument(ctx, models.DocumentInput{Content: "NIH notice"})
	require.NoError(t, err)
	a.CrossSilo.Reset()

	report, err := a.Start(ctx)
	require.NoError(t, err)
	assert.Zero(t, report.CrossSiloDocs)
	assert.Zero(t, report.CrossSiloRefs)
}

func TestOpenUnknownOracleProvider(t *testing.T) {
	cfg := testConfig(t)
	cfg.Oracle.Provider = "telepathy"
	_, err := Open(context.Background(), cfg, nil)
	require.Error(t, err)
	assert.Equal(t, kuraerr.CodeConfig, kuraerr.CodeOf(err))
}

func TestStartWatcherWithoutDirectories(t *testing.T) {
	cfg := testConfig(t)
	a, err := Open(context.Background(), cfg, nil, WithOracle(scriptedOracle))
	require.NoError(t, err)
	defer a.Close()
	require.NoError(t, a.StartWatcher(context.Background()))
	assert.Nil(t, a.Watcher)
}

func TestOpenClosesStoresWhenKeywordIndexFails(t *testing.T) {
	cfg := testConfig(t)
	require.NoError(t, os.MkdirAll(filepath.Dir(cfg.Storage.KeywordIndexPath), 0o755))
	require.NoError(t, os.WriteFile(cfg.Storage.KeywordIndexPath, []byte("not an index"), 0o600))

	_, err := Open(context.Background(), cfg, nil, WithOracle(scriptedOracle))
	require.Error(t, err)

	// closing a memory-backed store flushes its snapshot
	for _, coll := range []string{cfg.Knowledge.Collection, cfg.Knowledge.PatternsCollection} {
		assert.FileExists(t, filepath.Join(cfg.Storage.IndexPath, coll+".vec"))
	}
}
