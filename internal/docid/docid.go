// Package docid derives stable document ids for content that has a natural key.
package docid

import (
	"path/filepath"
	"strings"

	"github.com/google/uuid"
)

// FromPath returns the id of the document ingested from path. The path is cleaned, so
// equivalent spellings share one id.
func FromPath(path string) string {
	u := uuid.NewSHA1(uuid.NameSpaceURL, []byte("file://"+filepath.Clean(path)))
	return "file_" + u.String()
}

// Record returns the id of the structured record called name: "record_" followed by
// the lowercased name with spaces turned into underscores.
func Record(name string) string {
	return "record_" + strings.ReplaceAll(strings.ToLower(name), " ", "_")
}
