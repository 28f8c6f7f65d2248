package indexer

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/hyperjump/kura/internal/models"
)

// SidecarSuffix names the optional metadata file stored next to an inbox document.
const SidecarSuffix = ".meta.yaml"

// IsSidecar reports whether path is a metadata sidecar rather than a document.
func IsSidecar(path string) bool {
	return strings.HasSuffix(path, SidecarSuffix)
}

// ReadSidecar loads <path>.meta.yaml when present. A missing sidecar yields empty
// metadata.
func ReadSidecar(path string) (models.Metadata, error) {
	data, err := os.ReadFile(path + SidecarSuffix)
	if os.IsNotExist(err) {
		return models.Metadata{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read sidecar: %w", err)
	}
	var raw map[string]any
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("parse sidecar %s: %w", path+SidecarSuffix, err)
	}
	meta, err := models.NormalizeMetadata(raw)
	if err != nil {
		return nil, fmt.Errorf("sidecar %s: %w", path+SidecarSuffix, err)
	}
	return meta, nil
}
