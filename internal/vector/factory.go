package vector

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"

	"github.com/philippgille/chromem-go"
	"github.com/qdrant/go-client/qdrant"
)

// IndexType represents the type of vector index to use.
type IndexType string

const (
	// IndexTypeMemory uses in-memory brute-force search with an optional snapshot file.
	IndexTypeMemory IndexType = "memory"
	// IndexTypeChromem uses an embedded persistent chromem-go database.
	IndexTypeChromem IndexType = "chromem"
	// IndexTypeQdrant uses an external Qdrant server.
	IndexTypeQdrant IndexType = "qdrant"
)

// Options selects and configures the backend used for every collection.
type Options struct {
	Type       string
	Dimensions int
	// Path is the directory holding snapshots (memory) or the database (chromem).
	// Empty keeps the memory backend purely in RAM.
	Path       string
	QdrantHost string
	QdrantPort int
	QdrantTLS  bool
	Compress   bool
}

// Factory opens per-collection indexes that share one backend connection.
type Factory struct {
	opts    Options
	chromem *chromem.DB
	qdrant  *qdrant.Client
	mu      sync.Mutex
}

// NewFactory validates opts and connects the shared backend, if any.
func NewFactory(opts Options) (*Factory, error) {
	if opts.Dimensions <= 0 {
		return nil, fmt.Errorf("dimensions must be positive")
	}
	f := &Factory{opts: opts}
	switch IndexType(opts.Type) {
	case IndexTypeMemory, "":
		f.opts.Type = string(IndexTypeMemory)
	case IndexTypeChromem:
		var (
			db  *chromem.DB
			err error
		)
		if opts.Path == "" {
			db = chromem.NewDB()
		} else {
			db, err = chromem.NewPersistentDB(filepath.Join(opts.Path, "chromem"), opts.Compress)
			if err != nil {
				return nil, fmt.Errorf("open chromem db: %w", err)
			}
		}
		f.chromem = db
	case IndexTypeQdrant:
		client, err := qdrant.NewClient(&qdrant.Config{
			Host:   opts.QdrantHost,
			Port:   opts.QdrantPort,
			UseTLS: opts.QdrantTLS,
		})
		if err != nil {
			return nil, fmt.Errorf("connect qdrant: %w", err)
		}
		f.qdrant = client
	default:
		return nil, fmt.Errorf("unknown index type: %s (supported: memory, chromem, qdrant)", opts.Type)
	}
	return f, nil
}

// Type returns the backend every opened index uses.
func (f *Factory) Type() string {
	return f.opts.Type
}

// Open returns the index for collection, loading a memory snapshot when present.
func (f *Factory) Open(ctx context.Context, collection string) (VectorIndex, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	switch {
	case f.chromem != nil:
		return newChromemIndex(f.chromem, collection, f.opts.Dimensions)
	case f.qdrant != nil:
		return newQdrantIndex(ctx, f.qdrant, collection, f.opts.Dimensions)
	}
	var opts []MemoryOption
	snapshot := ""
	if f.opts.Path != "" {
		snapshot = filepath.Join(f.opts.Path, collection+".vec")
		opts = append(opts, WithSnapshot(snapshot))
	}
	idx, err := NewMemoryIndex(f.opts.Dimensions, opts...)
	if err != nil {
		return nil, err
	}
	if err := idx.Load(snapshot); err != nil {
		return nil, err
	}
	return idx, nil
}

// Close releases the shared backend connection.
func (f *Factory) Close() error {
	if f.qdrant != nil {
		return f.qdrant.Close()
	}
	return nil
}
