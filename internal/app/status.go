package app

import (
	"context"

	"github.com/hyperjump/kura/internal/crosssilo"
	"github.com/hyperjump/kura/internal/storage"
)

// Status describes the running store for the status command and endpoint.
type Status struct {
	Documents         int64           `json:"documents"`
	Patterns          int64           `json:"patterns"`
	CrossSilo         crosssilo.Stats `json:"cross_silo"`
	DiskUsageBytes    int64           `json:"disk_usage_bytes,omitempty"`
	VectorBackend     string          `json:"vector_backend"`
	EmbeddingProvider string          `json:"embedding_provider"`
	Dimensions        int             `json:"embedding_dimensions"`
	OracleProvider    string          `json:"oracle_provider"`
	DatabasePath      string          `json:"database_path"`
	WatchDirectories  []string        `json:"watch_directories,omitempty"`
}

// Status counts both collections and reports the configured backends.
func (a *App) Status(ctx context.Context) (*Status, error) {
	docs, err := a.Repo.Store().Count(ctx)
	if err != nil {
		return nil, err
	}
	pats, err := a.Patterns.Count(ctx)
	if err != nil {
		return nil, err
	}
	st := &Status{
		Documents:         docs,
		Patterns:          pats,
		CrossSilo:         a.CrossSilo.Stats(),
		VectorBackend:     a.Vectors.Type(),
		EmbeddingProvider: a.Config.Embedding.Provider,
		Dimensions:        a.Embedder.Dimensions(),
		OracleProvider:    a.Config.Oracle.Provider,
		DatabasePath:      a.Storage.Location(),
	}
	if a.Watcher != nil {
		st.WatchDirectories = a.Watcher.Directories()
	} else {
		st.WatchDirectories = a.Config.Watch.Directories
	}
	if n, err := storage.DiskUsageBytes(a.Config.Storage.DatabasePath, a.Config.Storage.IndexPath, a.Config.Storage.KeywordIndexPath); err == nil {
		st.DiskUsageBytes = n
	}
	return st, nil
}
