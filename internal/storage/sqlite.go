// Package storage provides the SQLite implementation of the Storage interface.
package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	sqlite3 "github.com/mattn/go-sqlite3"

	"github.com/hyperjump/kura/internal/models"
	kuraerr "github.com/hyperjump/kura/pkg/errors"
	"github.com/hyperjump/kura/pkg/utils"
)

// SQLiteStorage implements Storage using SQLite.
type SQLiteStorage struct {
	db   *sql.DB
	path string
}

// NewSQLiteStorage opens or creates a SQLite database at dbPath and initializes the schema.
// Parent directories are created if they do not exist.
func NewSQLiteStorage(dbPath string) (*SQLiteStorage, error) {
	if dbPath != ":memory:" {
		if dir := filepath.Dir(dbPath); dir != "." {
			if err := os.MkdirAll(dir, 0755); err != nil {
				return nil, fmt.Errorf("failed to create database directory: %w", err)
			}
		}
	}
	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if dbPath == ":memory:" {
		// every pooled connection would otherwise see its own empty database
		db.SetMaxOpenConns(1)
	}

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to enable WAL: %w", err)
	}

	if err := initSchema(db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	return &SQLiteStorage{db: db, path: dbPath}, nil
}

func initSchema(db *sql.DB) error {
	schema := `
	CREATE TABLE IF NOT EXISTS documents (
		collection TEXT NOT NULL,
		id TEXT NOT NULL,
		content TEXT NOT NULL,
		metadata TEXT,
		embedding BLOB,
		created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
		updated_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
		PRIMARY KEY (collection, id)
	);

	CREATE INDEX IF NOT EXISTS idx_documents_created_at ON documents(collection, created_at);
	`
	_, err := db.Exec(schema)
	return err
}

// CreateDocument inserts a document. An existing (collection, id) pair is a validation error.
func (s *SQLiteStorage) CreateDocument(ctx context.Context, doc *models.Document) error {
	metadataJSON, err := json.Marshal(doc.Metadata)
	if err != nil {
		return kuraerr.Wrap(err, kuraerr.CodeValidation, "failed to marshal metadata", kuraerr.FieldID(doc.ID))
	}

	now := time.Now().UTC()
	doc.CreatedAt = now
	doc.UpdatedAt = now

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO documents (collection, id, content, metadata, embedding, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		doc.Collection, doc.ID, doc.Content, string(metadataJSON), utils.Float32sToBytes(doc.Embedding),
		doc.CreatedAt, doc.UpdatedAt,
	)
	if isUniqueViolation(err) {
		return kuraerr.New(kuraerr.CodeValidation, "document already exists",
			kuraerr.FieldID(doc.ID), kuraerr.FieldCollection(doc.Collection))
	}
	if err != nil {
		return kuraerr.Wrap(err, kuraerr.CodeStorage, "failed to insert document", kuraerr.FieldID(doc.ID))
	}
	return nil
}

// GetDocument returns a document by collection and id.
func (s *SQLiteStorage) GetDocument(ctx context.Context, collection, id string) (*models.Document, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT collection, id, content, metadata, embedding, created_at, updated_at
		 FROM documents WHERE collection = ? AND id = ?`, collection, id,
	)
	doc, err := scanDocument(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, kuraerr.New(kuraerr.CodeNotFound, "document not found",
			kuraerr.FieldID(id), kuraerr.FieldCollection(collection))
	}
	if err != nil {
		return nil, kuraerr.Wrap(err, kuraerr.CodeStorage, "failed to read document", kuraerr.FieldID(id))
	}
	return doc, nil
}

// ReplaceDocument deletes and reinserts the record under the same id in one transaction,
// keeping its creation time.
func (s *SQLiteStorage) ReplaceDocument(ctx context.Context, doc *models.Document) error {
	metadataJSON, err := json.Marshal(doc.Metadata)
	if err != nil {
		return kuraerr.Wrap(err, kuraerr.CodeValidation, "failed to marshal metadata", kuraerr.FieldID(doc.ID))
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return kuraerr.Wrap(err, kuraerr.CodeStorage, "failed to begin transaction")
	}
	defer tx.Rollback()

	var createdAt time.Time
	err = tx.QueryRowContext(ctx,
		`SELECT created_at FROM documents WHERE collection = ? AND id = ?`, doc.Collection, doc.ID,
	).Scan(&createdAt)
	if errors.Is(err, sql.ErrNoRows) {
		return kuraerr.New(kuraerr.CodeNotFound, "document not found",
			kuraerr.FieldID(doc.ID), kuraerr.FieldCollection(doc.Collection))
	}
	if err != nil {
		return kuraerr.Wrap(err, kuraerr.CodeStorage, "failed to read document", kuraerr.FieldID(doc.ID))
	}

	if _, err := tx.ExecContext(ctx,
		`DELETE FROM documents WHERE collection = ? AND id = ?`, doc.Collection, doc.ID,
	); err != nil {
		return kuraerr.Wrap(err, kuraerr.CodeStorage, "failed to delete document", kuraerr.FieldID(doc.ID))
	}

	doc.CreatedAt = createdAt
	doc.UpdatedAt = time.Now().UTC()
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO documents (collection, id, content, metadata, embedding, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		doc.Collection, doc.ID, doc.Content, string(metadataJSON), utils.Float32sToBytes(doc.Embedding),
		doc.CreatedAt, doc.UpdatedAt,
	); err != nil {
		return kuraerr.Wrap(err, kuraerr.CodeStorage, "failed to reinsert document", kuraerr.FieldID(doc.ID))
	}

	if err := tx.Commit(); err != nil {
		return kuraerr.Wrap(err, kuraerr.CodeStorage, "failed to commit replace", kuraerr.FieldID(doc.ID))
	}
	return nil
}

// DeleteDocument removes a document and reports whether it existed.
func (s *SQLiteStorage) DeleteDocument(ctx context.Context, collection, id string) (bool, error) {
	result, err := s.db.ExecContext(ctx,
		`DELETE FROM documents WHERE collection = ? AND id = ?`, collection, id)
	if err != nil {
		return false, kuraerr.Wrap(err, kuraerr.CodeStorage, "failed to delete document", kuraerr.FieldID(id))
	}
	n, err := result.RowsAffected()
	if err != nil {
		return false, kuraerr.Wrap(err, kuraerr.CodeStorage, "failed to read affected rows")
	}
	return n > 0, nil
}

// ListDocuments returns documents of a collection ordered by id. A non-positive limit
// returns every document from offset on.
func (s *SQLiteStorage) ListDocuments(ctx context.Context, collection string, offset, limit int) ([]*models.Document, error) {
	if limit <= 0 {
		limit = -1
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT collection, id, content, metadata, embedding, created_at, updated_at
		 FROM documents WHERE collection = ? ORDER BY id LIMIT ? OFFSET ?`,
		collection, limit, offset,
	)
	if err != nil {
		return nil, kuraerr.Wrap(err, kuraerr.CodeStorage, "failed to list documents", kuraerr.FieldCollection(collection))
	}
	defer rows.Close()

	var docs []*models.Document
	for rows.Next() {
		doc, err := scanDocument(rows)
		if err != nil {
			return nil, kuraerr.Wrap(err, kuraerr.CodeStorage, "failed to scan document")
		}
		docs = append(docs, doc)
	}
	if err := rows.Err(); err != nil {
		return nil, kuraerr.Wrap(err, kuraerr.CodeStorage, "failed to iterate documents")
	}
	return docs, nil
}

// CountDocuments returns the number of documents in a collection.
func (s *SQLiteStorage) CountDocuments(ctx context.Context, collection string) (int64, error) {
	var count int64
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM documents WHERE collection = ?`, collection).Scan(&count)
	if err != nil {
		return 0, kuraerr.Wrap(err, kuraerr.CodeStorage, "failed to count documents")
	}
	return count, nil
}

// DeleteCollection removes every document of a collection and returns how many were removed.
func (s *SQLiteStorage) DeleteCollection(ctx context.Context, collection string) (int64, error) {
	result, err := s.db.ExecContext(ctx, `DELETE FROM documents WHERE collection = ?`, collection)
	if err != nil {
		return 0, kuraerr.Wrap(err, kuraerr.CodeStorage, "failed to delete collection", kuraerr.FieldCollection(collection))
	}
	n, _ := result.RowsAffected()
	return n, nil
}

// Collections returns the names of collections holding at least one document.
func (s *SQLiteStorage) Collections(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT DISTINCT collection FROM documents ORDER BY collection`)
	if err != nil {
		return nil, kuraerr.Wrap(err, kuraerr.CodeStorage, "failed to list collections")
	}
	defer rows.Close()
	var names []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, kuraerr.Wrap(err, kuraerr.CodeStorage, "failed to scan collection")
		}
		names = append(names, name)
	}
	return names, rows.Err()
}

// Location returns the database path.
func (s *SQLiteStorage) Location() string {
	return s.path
}

// Close closes the database connection.
func (s *SQLiteStorage) Close() error {
	return s.db.Close()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanDocument(row rowScanner) (*models.Document, error) {
	var doc models.Document
	var metadataJSON sql.NullString
	var embedding []byte
	if err := row.Scan(&doc.Collection, &doc.ID, &doc.Content, &metadataJSON, &embedding,
		&doc.CreatedAt, &doc.UpdatedAt); err != nil {
		return nil, err
	}
	doc.Metadata = models.Metadata{}
	if metadataJSON.Valid && metadataJSON.String != "" {
		var raw map[string]any
		if err := json.Unmarshal([]byte(metadataJSON.String), &raw); err != nil {
			return nil, fmt.Errorf("failed to unmarshal metadata: %w", err)
		}
		md, err := models.NormalizeMetadata(raw)
		if err != nil {
			return nil, err
		}
		doc.Metadata = md
	}
	if len(embedding) > 0 {
		doc.Embedding = utils.BytesToFloat32s(embedding)
	}
	return &doc, nil
}

func isUniqueViolation(err error) bool {
	var sqliteErr sqlite3.Error
	if errors.As(err, &sqliteErr) {
		return sqliteErr.ExtendedCode == sqlite3.ErrConstraintPrimaryKey ||
			sqliteErr.ExtendedCode == sqlite3.ErrConstraintUnique
	}
	return false
}
