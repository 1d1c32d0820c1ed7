package docstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"
)

// exportLine is the JSONL record format for store exports. One line per
// document, self-describing so an export can be replayed into an empty
// store.
type exportLine struct {
	Collection string          `json:"collection"`
	ID         string          `json:"id"`
	Pending    bool            `json:"pending,omitempty"`
	Body       json.RawMessage `json:"body"`
	UpdatedAt  time.Time       `json:"updated_at"`
}

// ExportResult reports what an export or import touched.
type ExportResult struct {
	Documents   int
	Collections int
}

// ExportJSONL writes every document in the given collections (all
// collections when none are named) to w as one JSON object per line.
// Used by support tooling to snapshot unsent transactions before a wipe.
func (s *Store) ExportJSONL(ctx context.Context, w io.Writer, collections ...string) (*ExportResult, error) {
	if len(collections) == 0 {
		all, err := s.Collections(ctx)
		if err != nil {
			return nil, err
		}
		collections = all
	}

	enc := json.NewEncoder(w)
	result := &ExportResult{Collections: len(collections)}

	for _, collection := range collections {
		rows, err := s.conn.QueryContext(ctx,
			`SELECT id, body, updated_at FROM documents WHERE collection = ? ORDER BY id ASC`,
			collection)
		if err != nil {
			return nil, fmt.Errorf("failed to export collection %s: %w", collection, err)
		}

		docs, err := scanDocuments(rows)
		rows.Close()
		if err != nil {
			return nil, err
		}

		for _, doc := range docs {
			line := exportLine{
				Collection: collection,
				ID:         doc.Key.ID,
				Pending:    doc.Key.Pending,
				Body:       doc.Body,
				UpdatedAt:  doc.UpdatedAt,
			}
			if err := enc.Encode(line); err != nil {
				return nil, fmt.Errorf("failed to encode document %s/%s: %w", collection, doc.Key.ID, err)
			}
			result.Documents++
		}
	}

	return result, nil
}

// ExportFile writes a JSONL export to the given path, creating parent
// directories as needed.
func (s *Store) ExportFile(ctx context.Context, path string, collections ...string) (*ExportResult, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("failed to create export directory: %w", err)
	}
	// #nosec G304 - controlled path from CLI
	f, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("failed to create export file: %w", err)
	}
	defer f.Close()

	result, err := s.ExportJSONL(ctx, f, collections...)
	if err != nil {
		return nil, err
	}
	if err := f.Sync(); err != nil {
		return nil, fmt.Errorf("failed to sync export file: %w", err)
	}
	return result, nil
}

// ImportJSONL replays a JSONL export into the store. Existing documents
// with the same key are overwritten.
func (s *Store) ImportJSONL(ctx context.Context, r io.Reader) (*ExportResult, error) {
	dec := json.NewDecoder(r)
	result := &ExportResult{}
	seen := make(map[string]bool)
	lineNum := 0

	for {
		var line exportLine
		if err := dec.Decode(&line); err != nil {
			if errors.Is(err, io.EOF) {
				break
			}
			return nil, fmt.Errorf("invalid JSON at line %d: %w", lineNum+1, err)
		}
		lineNum++

		key := Key{ID: line.ID, Pending: line.Pending}
		if err := s.Put(ctx, line.Collection, key, line.Body); err != nil {
			return nil, fmt.Errorf("failed to import line %d: %w", lineNum, err)
		}

		result.Documents++
		if !seen[line.Collection] {
			seen[line.Collection] = true
			result.Collections++
		}
	}

	return result, nil
}
