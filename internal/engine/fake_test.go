package engine

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/lanesync/lanesync/internal/docstore"
	"github.com/lanesync/lanesync/internal/gateway"
)

// fakeGateway is a configurable in-memory Gateway for engine tests.
// Unset function fields fall back to benign defaults.
type fakeGateway struct {
	mu sync.Mutex

	listPage        func(entityType, cursor string, pageSize int) ([]gateway.Record, string, error)
	getAtTime       func(entityType, id string, at time.Time) (*gateway.Record, error)
	pollChangeCount func() (int, error)
	fetchChanges    func() ([]gateway.Change, error)
	probe           func() bool
	push            func(rec gateway.OutboundRecord) error

	acks []ackCall
}

type ackCall struct {
	change  gateway.Change
	outcome gateway.Outcome
}

func (f *fakeGateway) ListPage(_ context.Context, entityType, cursor string, pageSize int, _ time.Time) ([]gateway.Record, string, error) {
	if f.listPage == nil {
		return nil, "", nil
	}
	return f.listPage(entityType, cursor, pageSize)
}

func (f *fakeGateway) GetAtTime(_ context.Context, entityType, id string, at time.Time) (*gateway.Record, error) {
	if f.getAtTime == nil {
		return nil, gateway.ErrGone
	}
	return f.getAtTime(entityType, id, at)
}

func (f *fakeGateway) PollChangeCount(context.Context) (int, error) {
	if f.pollChangeCount == nil {
		return 0, nil
	}
	return f.pollChangeCount()
}

func (f *fakeGateway) FetchChanges(context.Context) ([]gateway.Change, error) {
	if f.fetchChanges == nil {
		return nil, nil
	}
	return f.fetchChanges()
}

func (f *fakeGateway) Acknowledge(_ context.Context, change gateway.Change, outcome gateway.Outcome) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.acks = append(f.acks, ackCall{change, outcome})
	return nil
}

func (f *fakeGateway) Probe(context.Context) bool {
	if f.probe == nil {
		return true
	}
	return f.probe()
}

func (f *fakeGateway) Push(_ context.Context, rec gateway.OutboundRecord) error {
	if f.push == nil {
		return nil
	}
	return f.push(rec)
}

func (f *fakeGateway) ackCalls() []ackCall {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]ackCall, len(f.acks))
	copy(out, f.acks)
	return out
}

// recordPages builds a paged listing from a flat record slice, the way
// the real backend pages: cursor is the stringified offset.
func recordPages(records []gateway.Record) func(entityType, cursor string, pageSize int) ([]gateway.Record, string, error) {
	return func(_, cursor string, pageSize int) ([]gateway.Record, string, error) {
		offset := 0
		if cursor != "" {
			fmt.Sscanf(cursor, "%d", &offset)
		}
		end := offset + pageSize
		if end > len(records) {
			end = len(records)
		}
		return records[offset:end], fmt.Sprintf("%d", end), nil
	}
}

func itemRecord(id string, priceCents int) gateway.Record {
	body, _ := json.Marshal(map[string]any{
		"id":          id,
		"name":        "Item " + id,
		"price_cents": priceCents,
	})
	return gateway.Record{ID: id, Body: body}
}

func openEngineStore(t *testing.T) *docstore.Store {
	t.Helper()
	s, err := docstore.Open(filepath.Join(t.TempDir(), "lane.db"))
	if err != nil {
		t.Fatalf("docstore.Open() failed: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func quietLogger() *log.Logger {
	return log.New(io.Discard, "", 0)
}

func newTestRepository(t *testing.T, store *docstore.Store, gw gateway.Gateway, gate *ActivityGate) *Repository {
	t.Helper()
	repo, err := NewRepository(RepositoryConfig{
		EntityType: "item",
		Collection: "items",
		Label:      "Catalog items",
	}, store, gw, gate, quietLogger())
	if err != nil {
		t.Fatalf("NewRepository() failed: %v", err)
	}
	return repo
}
