package engine

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"os"
	"reflect"
	"sync"
	"time"

	"github.com/lanesync/lanesync/internal/docstore"
	"github.com/lanesync/lanesync/internal/gateway"
	gocache "github.com/patrickmn/go-cache"
)

// StorageIntegrityError reports that a document read back from the
// store did not match what was fetched from the gateway. Never
// swallowed: it is acknowledged upstream as a failure and recorded in
// the sync status.
type StorageIntegrityError struct {
	Collection string
	ID         string
}

func (e *StorageIntegrityError) Error() string {
	return fmt.Sprintf("storage integrity: %s/%s readback does not match fetched payload", e.Collection, e.ID)
}

// Repository owns one collection of replicated reference data. It is
// the only component that writes the collection; the UI and the
// calculation engine read through its accessors.
//
// TemporalLoad and ClearPending serialize on the repository's own
// mutex. Repositories never take each other's locks.
type Repository struct {
	entityType string
	collection string
	label      string

	store  *docstore.Store
	gw     gateway.Gateway
	gate   *ActivityGate
	logger *log.Logger

	// cache fronts GetByID for the sell-screen hot path. Any write
	// or delete invalidates the affected entry.
	cache *gocache.Cache

	mu sync.Mutex
}

// RepositoryConfig describes one synced entity type.
type RepositoryConfig struct {
	// EntityType is the tag used in change notifications and gateway
	// paths, e.g. "item".
	EntityType string

	// Collection is the document store collection, e.g. "items".
	Collection string

	// Label is the operator-facing name shown in bootstrap progress,
	// e.g. "Catalog items".
	Label string
}

// NewRepository creates a repository for one entity type.
func NewRepository(config RepositoryConfig, store *docstore.Store, gw gateway.Gateway, gate *ActivityGate, logger *log.Logger) (*Repository, error) {
	if config.EntityType == "" {
		return nil, fmt.Errorf("entity type cannot be empty")
	}
	if config.Collection == "" {
		return nil, fmt.Errorf("collection cannot be empty")
	}
	if store == nil {
		return nil, fmt.Errorf("store cannot be nil")
	}
	if gw == nil {
		return nil, fmt.Errorf("gateway cannot be nil")
	}
	if gate == nil {
		return nil, fmt.Errorf("gate cannot be nil")
	}
	if logger == nil {
		logger = log.New(os.Stderr, "[repo:"+config.EntityType+"] ", log.LstdFlags)
	}
	label := config.Label
	if label == "" {
		label = config.EntityType
	}

	return &Repository{
		entityType: config.EntityType,
		collection: config.Collection,
		label:      label,
		store:      store,
		gw:         gw,
		gate:       gate,
		logger:     logger,
		cache:      gocache.New(5*time.Minute, 10*time.Minute),
	}, nil
}

// EntityType returns the notification tag this repository handles.
func (r *Repository) EntityType() string { return r.entityType }

// Collection returns the backing document store collection.
func (r *Repository) Collection() string { return r.collection }

// Label returns the operator-facing name for progress reporting.
func (r *Repository) Label() string { return r.label }

// BulkLoad replicates the full entity listing from the gateway into the
// local collection, page by page. A page shorter than pageSize ends the
// load. Any page failure aborts this entity's load; the bootstrap
// loader carries on with the next entity.
func (r *Repository) BulkLoad(ctx context.Context, pageSize int) (int, error) {
	if pageSize <= 0 {
		return 0, fmt.Errorf("page size must be positive (got %d)", pageSize)
	}

	var (
		cursor string
		total  int
	)
	for {
		records, next, err := r.gw.ListPage(ctx, r.entityType, cursor, pageSize, time.Time{})
		if err != nil {
			return total, fmt.Errorf("bulk load %s page failed after %d records: %w", r.entityType, total, err)
		}

		docs := make([]docstore.Document, 0, len(records))
		for _, rec := range records {
			docs = append(docs, docstore.Document{
				Key:  docstore.Canonical(rec.ID),
				Body: rec.Body,
			})
		}
		if err := r.store.PutMany(ctx, r.collection, docs); err != nil {
			return total, fmt.Errorf("bulk load %s persist failed: %w", r.entityType, err)
		}
		total += len(records)

		if len(records) < pageSize {
			break
		}
		cursor = next
	}

	r.cache.Flush()
	r.logger.Printf("Bulk load complete: %d %s records", total, r.entityType)
	return total, nil
}

// TemporalLoad fetches the entity's state as of asOf and applies it
// locally.
//
// Upstream deletion (ErrGone) removes the local copies and reports
// success. While a sale is active the fetched state lands under the
// pending key so the canonical record backing the sale is never
// rewritten mid-transaction; a second update for the same entity simply
// overwrites the shadow with the newer state. With no sale active, any
// leftover shadows in this collection are resolved first, then the
// canonical document is written. Either way the written document is
// read back and structurally compared to the fetched payload.
func (r *Repository) TemporalLoad(ctx context.Context, id string, asOf time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	rec, err := r.gw.GetAtTime(ctx, r.entityType, id, asOf)
	if errors.Is(err, gateway.ErrGone) {
		if err := r.store.Delete(ctx, r.collection, docstore.Canonical(id)); err != nil {
			return err
		}
		if err := r.store.Delete(ctx, r.collection, docstore.PendingKey(id)); err != nil {
			return err
		}
		r.cache.Delete(id)
		r.logger.Printf("Entity gone upstream, removed locally: %s/%s", r.entityType, id)
		return nil
	}
	if err != nil {
		return fmt.Errorf("temporal load %s/%s failed: %w", r.entityType, id, err)
	}

	if r.gate.Active() {
		// Sale in progress: quarantine the update under the pending
		// key and leave every canonical document alone.
		if err := r.store.Put(ctx, r.collection, docstore.PendingKey(id), rec.Body); err != nil {
			return err
		}
		stored, err := r.store.Get(ctx, r.collection, docstore.PendingKey(id))
		if err != nil {
			return fmt.Errorf("temporal load %s/%s readback failed: %w", r.entityType, id, err)
		}
		if !jsonEqual(stored.Body, rec.Body) {
			return &StorageIntegrityError{Collection: r.collection, ID: id}
		}
		r.logger.Printf("Sale in progress, deferred update: %s/%s", r.entityType, id)
		return nil
	}

	if err := r.clearPendingLocked(ctx); err != nil {
		return err
	}

	if err := r.store.Put(ctx, r.collection, docstore.Canonical(id), rec.Body); err != nil {
		return err
	}
	r.cache.Delete(id)

	// Read back and compare structurally. A mismatch means the store
	// did not persist what we were given.
	stored, err := r.store.Get(ctx, r.collection, docstore.Canonical(id))
	if err != nil {
		return fmt.Errorf("temporal load %s/%s readback failed: %w", r.entityType, id, err)
	}
	if !jsonEqual(stored.Body, rec.Body) {
		return &StorageIntegrityError{Collection: r.collection, ID: id}
	}
	return nil
}

// Delete removes the entity's local copies. Idempotent.
func (r *Repository) Delete(ctx context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if err := r.store.Delete(ctx, r.collection, docstore.Canonical(id)); err != nil {
		return err
	}
	if err := r.store.Delete(ctx, r.collection, docstore.PendingKey(id)); err != nil {
		return err
	}
	r.cache.Delete(id)
	return nil
}

// ClearPending folds every pending shadow in this collection into its
// canonical document. Called by the engine when the activity gate
// releases, and by TemporalLoad before a canonical write.
func (r *Repository) ClearPending(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.clearPendingLocked(ctx)
}

func (r *Repository) clearPendingLocked(ctx context.Context) error {
	pending, err := r.store.ListPending(ctx, r.collection)
	if err != nil {
		return err
	}
	for _, doc := range pending {
		if err := r.store.Resolve(ctx, r.collection, doc.Key.ID); err != nil {
			return err
		}
		r.cache.Delete(doc.Key.ID)
		r.logger.Printf("Resolved pending update: %s/%s", r.entityType, doc.Key.ID)
	}
	return nil
}

// GetByID returns one canonical document's body, caching the result.
func (r *Repository) GetByID(ctx context.Context, id string) (json.RawMessage, error) {
	if cached, ok := r.cache.Get(id); ok {
		return cached.(json.RawMessage), nil
	}

	doc, err := r.store.Get(ctx, r.collection, docstore.Canonical(id))
	if err != nil {
		return nil, err
	}
	r.cache.Set(id, doc.Body, gocache.DefaultExpiration)
	return doc.Body, nil
}

// GetAll returns every canonical document in the collection.
func (r *Repository) GetAll(ctx context.Context) ([]docstore.Document, error) {
	return r.store.List(ctx, r.collection)
}

// FindByField returns canonical documents whose top-level JSON field
// equals value.
func (r *Repository) FindByField(ctx context.Context, field string, value any) ([]docstore.Document, error) {
	return r.store.FindByField(ctx, r.collection, field, value)
}

// SearchText returns canonical documents whose field contains needle.
func (r *Repository) SearchText(ctx context.Context, field, needle string) ([]docstore.Document, error) {
	return r.store.SearchText(ctx, r.collection, field, needle)
}

// Count returns the number of canonical documents.
func (r *Repository) Count(ctx context.Context) (int, error) {
	return r.store.Count(ctx, r.collection)
}

// jsonEqual compares two JSON payloads structurally, ignoring field
// ordering and whitespace.
func jsonEqual(a, b json.RawMessage) bool {
	var av, bv any
	if err := json.Unmarshal(a, &av); err != nil {
		return false
	}
	if err := json.Unmarshal(b, &bv); err != nil {
		return false
	}
	return reflect.DeepEqual(av, bv)
}
