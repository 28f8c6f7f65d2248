// Package extract turns files dropped into the inbox into plain text.
package extract

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// Func converts the raw bytes of one file format to text.
type Func func(content []byte) (string, error)

// Extractor dispatches on file extension. Unknown extensions are read as plain text.
type Extractor struct {
	handlers map[string]Func
}

// NewExtractor returns an Extractor with every built-in format registered.
func NewExtractor() *Extractor {
	e := &Extractor{handlers: make(map[string]Func)}
	for _, ext := range []string{".txt", ".md", ".rst", ".csv", ".json", ".yaml", ".yml"} {
		e.Register(ext, extractPlain)
	}
	e.Register(".pdf", extractPDF)
	e.Register(".docx", extractDOCX)
	e.Register(".odt", extractWithCat)
	e.Register(".rtf", extractWithCat)
	e.Register(".xlsx", extractExcel)
	e.Register(".pptx", extractPPTX)
	e.Register(".odp", extractODP)
	e.Register(".ods", extractODS)
	return e
}

// Register installs fn for ext, replacing any previous handler.
func (e *Extractor) Register(ext string, fn Func) {
	e.handlers[normalizeExt(ext)] = fn
}

// Supported reports whether ext has a dedicated handler.
func (e *Extractor) Supported(ext string) bool {
	_, ok := e.handlers[normalizeExt(ext)]
	return ok
}

// Extensions lists the registered extensions in sorted order.
func (e *Extractor) Extensions() []string {
	exts := make([]string, 0, len(e.handlers))
	for ext := range e.handlers {
		exts = append(exts, ext)
	}
	sort.Strings(exts)
	return exts
}

// Extract reads the file at path and returns its text content.
func (e *Extractor) Extract(path string) (string, error) {
	content, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("read file: %w", err)
	}
	return e.ExtractBytes(content, filepath.Ext(path))
}

// ExtractBytes extracts text from content based on ext (with or without the dot).
func (e *Extractor) ExtractBytes(content []byte, ext string) (string, error) {
	fn, ok := e.handlers[normalizeExt(ext)]
	if !ok {
		fn = extractPlain
	}
	return fn(content)
}

func normalizeExt(ext string) string {
	ext = strings.ToLower(strings.TrimSpace(ext))
	if ext != "" && !strings.HasPrefix(ext, ".") {
		ext = "." + ext
	}
	return ext
}
