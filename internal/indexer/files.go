package indexer

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"github.com/hyperjump/kura/internal/docid"
	"github.com/hyperjump/kura/internal/models"
	"github.com/hyperjump/kura/pkg/utils"
)

const (
	metaKeySourcePath  = "source_path"
	metaKeySourceMtime = "source_mtime"
	metaKeySourceSize  = "source_size"
)

// IndexFile reads the file at path and stores its text under an id derived from the
// absolute path, so re-indexing replaces the same document. metadata is merged under
// the file keys. A file already stored with the same mtime and size is skipped.
// If allowedExts is non-empty the extension must be listed (case-insensitive).
func (idx *Indexer) IndexFile(ctx context.Context, path, siloType string, metadata models.Metadata, allowedExts []string) (string, error) {
	absPath, err := filepath.Abs(path)
	if err != nil {
		return "", fmt.Errorf("absolute path: %w", err)
	}
	ext := strings.ToLower(filepath.Ext(absPath))
	if len(allowedExts) > 0 && !extensionAllowed(ext, allowedExts) {
		return "", fmt.Errorf("extension %q not in allowed list", ext)
	}
	info, err := os.Stat(absPath)
	if err != nil {
		return "", fmt.Errorf("stat file: %w", err)
	}
	if !info.Mode().IsRegular() {
		return "", fmt.Errorf("not a regular file: %s", absPath)
	}
	id := docid.FromPath(absPath)
	if idx.unchanged(ctx, id, absPath, info) {
		idx.logger.Debug("skipping unchanged file", zap.String("path", absPath))
		return id, nil
	}
	text, err := idx.readText(absPath)
	if err != nil {
		return "", fmt.Errorf("extract content: %w", err)
	}
	text = utils.CollapseWhitespace(text)
	if text == "" {
		return "", fmt.Errorf("no text in %s", absPath)
	}

	meta := metadata.Clone()
	meta[models.KeyFilename] = filepath.Base(absPath)
	// mtime and size are strings: UnixNano does not survive a float64 round trip
	meta[metaKeySourcePath] = absPath
	meta[metaKeySourceMtime] = strconv.FormatInt(info.ModTime().UnixNano(), 10)
	meta[metaKeySourceSize] = strconv.FormatInt(info.Size(), 10)

	if _, err := idx.DeleteDocument(ctx, id); err != nil {
		return "", err
	}
	if _, err := idx.AddDocument(ctx, models.DocumentInput{ID: id, Content: text, Metadata: meta, SiloType: siloType}); err != nil {
		return "", err
	}
	idx.logger.Debug("file indexed", zap.String("path", absPath), zap.String("id", id))
	return id, nil
}

// RemoveFile deletes the document stored for path.
func (idx *Indexer) RemoveFile(ctx context.Context, path string) (bool, error) {
	absPath, err := filepath.Abs(path)
	if err != nil {
		return false, fmt.Errorf("absolute path: %w", err)
	}
	return idx.DeleteDocument(ctx, docid.FromPath(absPath))
}

func (idx *Indexer) unchanged(ctx context.Context, id, absPath string, info os.FileInfo) bool {
	doc, err := idx.repo.Get(ctx, id)
	if err != nil {
		return false
	}
	if doc.Metadata.String(metaKeySourcePath) != absPath {
		return false
	}
	return doc.Metadata.String(metaKeySourceMtime) == strconv.FormatInt(info.ModTime().UnixNano(), 10) &&
		doc.Metadata.String(metaKeySourceSize) == strconv.FormatInt(info.Size(), 10)
}

func (idx *Indexer) readText(path string) (string, error) {
	if idx.files != nil {
		return idx.files.Extract(path)
	}
	content, err := os.ReadFile(path)
	if err != nil {
		return "", err
	}
	return string(content), nil
}

// IndexDirectory walks dir and indexes each regular file whose extension is allowed.
// Every file is stored under siloType. It returns the number of files indexed and the
// first error.
func (idx *Indexer) IndexDirectory(ctx context.Context, dir, siloType string, allowedExts []string) (n int, err error) {
	absDir, err := filepath.Abs(dir)
	if err != nil {
		return 0, fmt.Errorf("absolute path: %w", err)
	}
	info, err := os.Stat(absDir)
	if err != nil {
		return 0, fmt.Errorf("stat directory: %w", err)
	}
	if !info.IsDir() {
		return 0, fmt.Errorf("not a directory: %s", absDir)
	}
	err = filepath.WalkDir(absDir, func(path string, d os.DirEntry, walkErr error) error {
		if walkErr != nil {
			return walkErr
		}
		if d.IsDir() || IsSidecar(path) {
			return nil
		}
		if len(allowedExts) > 0 && !extensionAllowed(filepath.Ext(path), allowedExts) {
			return nil
		}
		finfo, statErr := os.Stat(path)
		if statErr != nil || !finfo.Mode().IsRegular() {
			return nil
		}
		meta, metaErr := ReadSidecar(path)
		if metaErr != nil {
			return metaErr
		}
		if _, indexErr := idx.IndexFile(ctx, path, siloType, meta, allowedExts); indexErr != nil {
			return indexErr
		}
		n++
		return nil
	})
	return n, err
}

func extensionAllowed(ext string, allowed []string) bool {
	extNorm := strings.ToLower(strings.TrimPrefix(ext, "."))
	for _, a := range allowed {
		if strings.ToLower(strings.TrimPrefix(a, ".")) == extNorm {
			return true
		}
	}
	return false
}

func isBlank(s string) bool {
	return strings.TrimSpace(s) == ""
}
