// Package docstore provides the embedded document database backing the
// sync engine and the terminal's read path.
//
// Documents are JSON payloads grouped into named collections. The store
// runs on embedded SQLite (WAL mode) so reads stay concurrent while the
// engine writes. Collections are created lazily on first write and can
// be dropped wholesale to force a clean re-bootstrap; the device region
// is expected to be excluded from such wipes by the caller.
//
// Keys are tagged rather than raw strings: a Key is either canonical or
// pending. The pending form is the shadow copy of an entity update held
// back while a sale is in progress. The on-disk encoding appends a
// suffix that cannot appear in server-issued identifiers.
package docstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "github.com/ncruces/go-sqlite3/driver"
	_ "github.com/ncruces/go-sqlite3/embed"
)

// pendingSuffix is the on-disk marker for shadow documents. Server
// identifiers are rejected if they contain '~', so the encoded form
// cannot collide with a real identifier.
const pendingSuffix = "~pending"

// ErrNotFound is returned when a document does not exist.
var ErrNotFound = errors.New("docstore: document not found")

// Key identifies a document within a collection. The zero value is not
// a valid key.
type Key struct {
	ID      string
	Pending bool
}

// Canonical returns the canonical key for an entity identifier.
func Canonical(id string) Key { return Key{ID: id} }

// PendingKey returns the pending (shadow) key for an entity identifier.
func PendingKey(id string) Key { return Key{ID: id, Pending: true} }

// encode renders the key in its on-disk form.
func (k Key) encode() string {
	if k.Pending {
		return k.ID + pendingSuffix
	}
	return k.ID
}

// decodeKey parses an on-disk identifier back into a Key.
func decodeKey(raw string) Key {
	if strings.HasSuffix(raw, pendingSuffix) {
		return Key{ID: strings.TrimSuffix(raw, pendingSuffix), Pending: true}
	}
	return Key{ID: raw}
}

// ValidID reports whether id is acceptable as a document identifier.
// Identifiers containing the pending marker are rejected so the tagged
// key encoding stays unambiguous.
func ValidID(id string) bool {
	return id != "" && !strings.Contains(id, "~")
}

// Document is a stored record: a key, a JSON body, and the time of the
// last local write.
type Document struct {
	Key       Key
	Body      json.RawMessage
	UpdatedAt time.Time
}

// Store wraps the embedded SQLite database.
type Store struct {
	conn *sql.DB
	path string
}

// Open creates or opens the document store at the given path.
//
// The database is opened in WAL mode so the UI read path can query
// while the engine writes. The caller must Close the store when done.
func Open(path string) (*Store, error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create store directory: %w", err)
	}

	conn, err := sql.Open("sqlite3", fmt.Sprintf("file:%s", path))
	if err != nil {
		return nil, fmt.Errorf("failed to open store: %w", err)
	}
	if err := conn.Ping(); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("failed to ping store: %w", err)
	}

	conn.SetMaxOpenConns(25)
	conn.SetMaxIdleConns(5)
	conn.SetConnMaxLifetime(5 * time.Minute)

	s := &Store{conn: conn, path: path}

	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA foreign_keys=ON",
	} {
		if _, err := s.conn.Exec(pragma); err != nil {
			_ = s.Close()
			return nil, fmt.Errorf("failed to apply %q: %w", pragma, err)
		}
	}

	if err := s.initSchema(context.Background()); err != nil {
		_ = s.Close()
		return nil, err
	}

	return s, nil
}

// Close checkpoints the WAL and closes the database.
func (s *Store) Close() error {
	if s.conn == nil {
		return nil
	}
	if _, err := s.conn.Exec("PRAGMA wal_checkpoint(TRUNCATE)"); err != nil {
		fmt.Fprintf(os.Stderr, "Warning: failed to checkpoint WAL: %v\n", err)
	}
	if err := s.conn.Close(); err != nil {
		return fmt.Errorf("failed to close store: %w", err)
	}
	s.conn = nil
	return nil
}

// RawDB returns the underlying sql.DB connection.
func (s *Store) RawDB() *sql.DB {
	return s.conn
}

func (s *Store) initSchema(ctx context.Context) error {
	schema := `
	CREATE TABLE IF NOT EXISTS documents (
		collection TEXT NOT NULL,
		id         TEXT NOT NULL,
		body       TEXT NOT NULL,
		updated_at TEXT NOT NULL,
		PRIMARY KEY (collection, id)
	);

	CREATE INDEX IF NOT EXISTS idx_documents_collection ON documents(collection);
	`
	if _, err := s.conn.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("failed to initialize schema: %w", err)
	}
	return nil
}

// Put upserts a single document. The write is atomic: either the full
// body lands or nothing does.
func (s *Store) Put(ctx context.Context, collection string, key Key, body json.RawMessage) error {
	if !ValidID(key.ID) {
		return fmt.Errorf("docstore: invalid document id %q", key.ID)
	}
	query := `
	INSERT INTO documents (collection, id, body, updated_at)
	VALUES (?, ?, ?, ?)
	ON CONFLICT(collection, id) DO UPDATE SET
		body = excluded.body,
		updated_at = excluded.updated_at
	`
	_, err := s.conn.ExecContext(ctx, query,
		collection, key.encode(), string(body), time.Now().UTC().Format(time.RFC3339))
	if err != nil {
		return fmt.Errorf("failed to put document %s/%s: %w", collection, key.ID, err)
	}
	return nil
}

// PutMany upserts a batch of documents in one transaction. Used by bulk
// loads so a page of records lands all-or-nothing.
func (s *Store) PutMany(ctx context.Context, collection string, docs []Document) error {
	tx, err := s.conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `
	INSERT INTO documents (collection, id, body, updated_at)
	VALUES (?, ?, ?, ?)
	ON CONFLICT(collection, id) DO UPDATE SET
		body = excluded.body,
		updated_at = excluded.updated_at
	`)
	if err != nil {
		return fmt.Errorf("failed to prepare upsert: %w", err)
	}
	defer stmt.Close()

	now := time.Now().UTC().Format(time.RFC3339)
	for _, doc := range docs {
		if !ValidID(doc.Key.ID) {
			return fmt.Errorf("docstore: invalid document id %q", doc.Key.ID)
		}
		if _, err := stmt.ExecContext(ctx, collection, doc.Key.encode(), string(doc.Body), now); err != nil {
			return fmt.Errorf("failed to put document %s/%s: %w", collection, doc.Key.ID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit batch: %w", err)
	}
	return nil
}

// Get retrieves a single document. Returns ErrNotFound if absent.
func (s *Store) Get(ctx context.Context, collection string, key Key) (*Document, error) {
	query := `SELECT id, body, updated_at FROM documents WHERE collection = ? AND id = ?`
	row := s.conn.QueryRowContext(ctx, query, collection, key.encode())

	var rawID, body, updatedAt string
	if err := row.Scan(&rawID, &body, &updatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to get document %s/%s: %w", collection, key.ID, err)
	}

	doc := &Document{Key: decodeKey(rawID), Body: json.RawMessage(body)}
	if t, err := time.Parse(time.RFC3339, updatedAt); err == nil {
		doc.UpdatedAt = t
	}
	return doc, nil
}

// Delete removes a document. Deleting a non-existent document is not an
// error.
func (s *Store) Delete(ctx context.Context, collection string, key Key) error {
	query := `DELETE FROM documents WHERE collection = ? AND id = ?`
	if _, err := s.conn.ExecContext(ctx, query, collection, key.encode()); err != nil {
		return fmt.Errorf("failed to delete document %s/%s: %w", collection, key.ID, err)
	}
	return nil
}

// List returns all canonical documents in a collection, ordered by id.
// Pending shadows are excluded; they are an engine-internal detail.
func (s *Store) List(ctx context.Context, collection string) ([]Document, error) {
	query := `
	SELECT id, body, updated_at FROM documents
	WHERE collection = ? AND id NOT LIKE '%' || ?
	ORDER BY id ASC
	`
	rows, err := s.conn.QueryContext(ctx, query, collection, pendingSuffix)
	if err != nil {
		return nil, fmt.Errorf("failed to list collection %s: %w", collection, err)
	}
	defer rows.Close()

	return scanDocuments(rows)
}

// ListPending returns all pending shadow documents in a collection.
func (s *Store) ListPending(ctx context.Context, collection string) ([]Document, error) {
	query := `
	SELECT id, body, updated_at FROM documents
	WHERE collection = ? AND id LIKE '%' || ?
	ORDER BY id ASC
	`
	rows, err := s.conn.QueryContext(ctx, query, collection, pendingSuffix)
	if err != nil {
		return nil, fmt.Errorf("failed to list pending documents in %s: %w", collection, err)
	}
	defer rows.Close()

	return scanDocuments(rows)
}

// FindByField returns canonical documents whose JSON body has the given
// top-level field equal to value. Backed by SQLite's json_extract, so
// the read path can filter by category, barcode, and so on without a
// per-field index.
func (s *Store) FindByField(ctx context.Context, collection, field string, value any) ([]Document, error) {
	query := `
	SELECT id, body, updated_at FROM documents
	WHERE collection = ? AND id NOT LIKE '%' || ?
	  AND json_extract(body, '$.' || ?) = ?
	ORDER BY id ASC
	`
	rows, err := s.conn.QueryContext(ctx, query, collection, pendingSuffix, field, value)
	if err != nil {
		return nil, fmt.Errorf("failed to query %s by %s: %w", collection, field, err)
	}
	defer rows.Close()

	return scanDocuments(rows)
}

// SearchText returns canonical documents whose given JSON field contains
// the substring, case-insensitively.
func (s *Store) SearchText(ctx context.Context, collection, field, needle string) ([]Document, error) {
	query := `
	SELECT id, body, updated_at FROM documents
	WHERE collection = ? AND id NOT LIKE '%' || ?
	  AND lower(json_extract(body, '$.' || ?)) LIKE '%' || lower(?) || '%'
	ORDER BY id ASC
	`
	rows, err := s.conn.QueryContext(ctx, query, collection, pendingSuffix, field, needle)
	if err != nil {
		return nil, fmt.Errorf("failed to search %s.%s: %w", collection, field, err)
	}
	defer rows.Close()

	return scanDocuments(rows)
}

// Count returns the number of canonical documents in a collection.
func (s *Store) Count(ctx context.Context, collection string) (int, error) {
	query := `
	SELECT COUNT(*) FROM documents
	WHERE collection = ? AND id NOT LIKE '%' || ?
	`
	var count int
	if err := s.conn.QueryRowContext(ctx, query, collection, pendingSuffix).Scan(&count); err != nil {
		return 0, fmt.Errorf("failed to count collection %s: %w", collection, err)
	}
	return count, nil
}

// Resolve folds a pending shadow into its canonical document: the
// canonical body is overwritten with the pending body, then the pending
// document is deleted, in a single transaction. Write-then-delete order
// means a crash mid-resolution leaves the pending copy intact as the
// recoverable source of truth.
func (s *Store) Resolve(ctx context.Context, collection string, id string) error {
	tx, err := s.conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin resolution: %w", err)
	}
	defer tx.Rollback()

	pending := PendingKey(id).encode()

	var body string
	row := tx.QueryRowContext(ctx,
		`SELECT body FROM documents WHERE collection = ? AND id = ?`, collection, pending)
	if err := row.Scan(&body); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil
		}
		return fmt.Errorf("failed to read pending document %s/%s: %w", collection, id, err)
	}

	_, err = tx.ExecContext(ctx, `
	INSERT INTO documents (collection, id, body, updated_at)
	VALUES (?, ?, ?, ?)
	ON CONFLICT(collection, id) DO UPDATE SET
		body = excluded.body,
		updated_at = excluded.updated_at
	`, collection, Canonical(id).encode(), body, time.Now().UTC().Format(time.RFC3339))
	if err != nil {
		return fmt.Errorf("failed to promote pending document %s/%s: %w", collection, id, err)
	}

	if _, err := tx.ExecContext(ctx,
		`DELETE FROM documents WHERE collection = ? AND id = ?`, collection, pending); err != nil {
		return fmt.Errorf("failed to remove pending document %s/%s: %w", collection, id, err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit resolution of %s/%s: %w", collection, id, err)
	}
	return nil
}

// DropCollection removes every document in a collection.
func (s *Store) DropCollection(ctx context.Context, collection string) error {
	if _, err := s.conn.ExecContext(ctx,
		`DELETE FROM documents WHERE collection = ?`, collection); err != nil {
		return fmt.Errorf("failed to drop collection %s: %w", collection, err)
	}
	return nil
}

// Wipe drops every collection except the ones listed in keep. Used to
// force a clean re-bootstrap while preserving device identity state.
func (s *Store) Wipe(ctx context.Context, keep ...string) error {
	tx, err := s.conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin wipe: %w", err)
	}
	defer tx.Rollback()

	query := `DELETE FROM documents`
	args := make([]any, 0, len(keep))
	if len(keep) > 0 {
		placeholders := strings.TrimSuffix(strings.Repeat("?,", len(keep)), ",")
		query += ` WHERE collection NOT IN (` + placeholders + `)`
		for _, c := range keep {
			args = append(args, c)
		}
	}

	if _, err := tx.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("failed to wipe store: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit wipe: %w", err)
	}
	return nil
}

// Collections returns the names of all non-empty collections.
func (s *Store) Collections(ctx context.Context) ([]string, error) {
	rows, err := s.conn.QueryContext(ctx,
		`SELECT DISTINCT collection FROM documents ORDER BY collection ASC`)
	if err != nil {
		return nil, fmt.Errorf("failed to list collections: %w", err)
	}
	defer rows.Close()

	var names []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, fmt.Errorf("failed to scan collection name: %w", err)
		}
		names = append(names, name)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating collections: %w", err)
	}
	return names, nil
}

func scanDocuments(rows *sql.Rows) ([]Document, error) {
	var docs []Document
	for rows.Next() {
		var rawID, body, updatedAt string
		if err := rows.Scan(&rawID, &body, &updatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan document: %w", err)
		}
		doc := Document{Key: decodeKey(rawID), Body: json.RawMessage(body)}
		if t, err := time.Parse(time.RFC3339, updatedAt); err == nil {
			doc.UpdatedAt = t
		}
		docs = append(docs, doc)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating documents: %w", err)
	}
	return docs, nil
}
