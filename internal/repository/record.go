package repository

import (
	"context"
	"fmt"
	"strings"

	"github.com/hyperjump/kura/internal/docid"
	"github.com/hyperjump/kura/internal/models"
	kuraerr "github.com/hyperjump/kura/pkg/errors"
)

// FormatRecord renders a structured record as the labeled text block that is embedded.
// Optional fields are omitted when empty.
func FormatRecord(name string, rec models.StructuredRecord) string {
	lines := []string{
		"Record: " + name,
		"Description: " + rec.Description,
		"Categories: " + strings.Join(rec.Categories, ", "),
		"Requirements: " + strings.Join(rec.Requirements, ", "),
		"Priorities: " + strings.Join(rec.Priorities, ", "),
	}
	if rec.Locator != "" {
		lines = append(lines, "Locator: "+rec.Locator)
	}
	if rec.Deadlines != "" {
		lines = append(lines, "Deadlines: "+rec.Deadlines)
	}
	if len(rec.Contacts) > 0 {
		lines = append(lines, "Contacts: "+strings.Join(rec.Contacts, ", "))
	}
	return strings.Join(lines, "\n")
}

// AddStructuredRecord stores rec under RecordID(name), replacing any earlier version.
func (r *Repository) AddStructuredRecord(ctx context.Context, name string, rec models.StructuredRecord) (string, error) {
	if strings.TrimSpace(name) == "" {
		return "", kuraerr.New(kuraerr.CodeValidation, "record name must not be empty")
	}
	source := rec.Source
	if source == "" {
		source = "unknown"
	}
	meta := models.Metadata{
		models.KeyType:       TypeStructuredRecord,
		models.KeyRecordName: name,
		models.KeySource:     source,
		models.KeyUpdatedAt:  rec.UpdatedAt,
	}
	id := docid.Record(name)
	if err := r.store.Put(ctx, id, FormatRecord(name, rec), meta); err != nil {
		return "", fmt.Errorf("store record %q: %w", name, err)
	}
	r.reindex(ctx, id)
	return id, nil
}
