package docstore

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"path/filepath"
	"testing"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()

	path := filepath.Join(t.TempDir(), "lanesync.db")
	s, err := Open(path)
	if err != nil {
		t.Fatalf("Open() failed: %v", err)
	}
	t.Cleanup(func() {
		if err := s.Close(); err != nil {
			t.Errorf("Close() failed: %v", err)
		}
	})
	return s
}

func TestPutGetDelete(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	body := json.RawMessage(`{"name":"Espresso","price_cents":350}`)
	if err := s.Put(ctx, "items", Canonical("37"), body); err != nil {
		t.Fatalf("Put() failed: %v", err)
	}

	doc, err := s.Get(ctx, "items", Canonical("37"))
	if err != nil {
		t.Fatalf("Get() failed: %v", err)
	}
	if doc.Key.ID != "37" || doc.Key.Pending {
		t.Errorf("Get() key = %+v, want canonical 37", doc.Key)
	}
	if string(doc.Body) != string(body) {
		t.Errorf("Get() body = %s, want %s", doc.Body, body)
	}

	if err := s.Delete(ctx, "items", Canonical("37")); err != nil {
		t.Fatalf("Delete() failed: %v", err)
	}
	if _, err := s.Get(ctx, "items", Canonical("37")); !errors.Is(err, ErrNotFound) {
		t.Errorf("Get() after delete = %v, want ErrNotFound", err)
	}

	// Deleting again must not be an error.
	if err := s.Delete(ctx, "items", Canonical("37")); err != nil {
		t.Errorf("second Delete() failed: %v", err)
	}
}

func TestInvalidID(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	if err := s.Put(ctx, "items", Canonical("bad~id"), json.RawMessage(`{}`)); err == nil {
		t.Error("Put() with '~' in id should fail")
	}
	if ValidID("") {
		t.Error("ValidID(\"\") should be false")
	}
	if !ValidID("sku-100") {
		t.Error("ValidID(\"sku-100\") should be true")
	}
}

func TestPendingShadowIsSeparateDocument(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	canonical := json.RawMessage(`{"price_cents":350}`)
	shadow := json.RawMessage(`{"price_cents":399}`)

	if err := s.Put(ctx, "items", Canonical("37"), canonical); err != nil {
		t.Fatalf("Put() canonical failed: %v", err)
	}
	if err := s.Put(ctx, "items", PendingKey("37"), shadow); err != nil {
		t.Fatalf("Put() pending failed: %v", err)
	}

	doc, err := s.Get(ctx, "items", Canonical("37"))
	if err != nil {
		t.Fatalf("Get() canonical failed: %v", err)
	}
	if string(doc.Body) != string(canonical) {
		t.Errorf("canonical body = %s, want untouched %s", doc.Body, canonical)
	}

	pending, err := s.ListPending(ctx, "items")
	if err != nil {
		t.Fatalf("ListPending() failed: %v", err)
	}
	if len(pending) != 1 || pending[0].Key.ID != "37" || !pending[0].Key.Pending {
		t.Fatalf("ListPending() = %+v, want single pending doc for 37", pending)
	}

	// Canonical listing must not leak the shadow.
	docs, err := s.List(ctx, "items")
	if err != nil {
		t.Fatalf("List() failed: %v", err)
	}
	if len(docs) != 1 || docs[0].Key.Pending {
		t.Fatalf("List() = %+v, want only canonical doc", docs)
	}
}

func TestResolve(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	if err := s.Put(ctx, "items", Canonical("37"), json.RawMessage(`{"price_cents":350}`)); err != nil {
		t.Fatalf("Put() canonical failed: %v", err)
	}
	if err := s.Put(ctx, "items", PendingKey("37"), json.RawMessage(`{"price_cents":399}`)); err != nil {
		t.Fatalf("Put() pending failed: %v", err)
	}

	if err := s.Resolve(ctx, "items", "37"); err != nil {
		t.Fatalf("Resolve() failed: %v", err)
	}

	doc, err := s.Get(ctx, "items", Canonical("37"))
	if err != nil {
		t.Fatalf("Get() after resolve failed: %v", err)
	}
	if string(doc.Body) != `{"price_cents":399}` {
		t.Errorf("resolved body = %s, want pending content", doc.Body)
	}

	pending, err := s.ListPending(ctx, "items")
	if err != nil {
		t.Fatalf("ListPending() failed: %v", err)
	}
	if len(pending) != 0 {
		t.Errorf("ListPending() after resolve = %d docs, want 0", len(pending))
	}
}

func TestResolveWithoutCanonical(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	// Entity first seen mid-sale: only the shadow exists.
	if err := s.Put(ctx, "items", PendingKey("88"), json.RawMessage(`{"name":"New"}`)); err != nil {
		t.Fatalf("Put() pending failed: %v", err)
	}
	if err := s.Resolve(ctx, "items", "88"); err != nil {
		t.Fatalf("Resolve() failed: %v", err)
	}

	doc, err := s.Get(ctx, "items", Canonical("88"))
	if err != nil {
		t.Fatalf("Get() failed: %v", err)
	}
	if string(doc.Body) != `{"name":"New"}` {
		t.Errorf("body = %s, want promoted pending content", doc.Body)
	}
}

func TestResolveNoPendingIsNoop(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	if err := s.Resolve(ctx, "items", "404"); err != nil {
		t.Errorf("Resolve() with no pending doc = %v, want nil", err)
	}
}

func TestFindByField(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	items := []Document{
		{Key: Canonical("1"), Body: json.RawMessage(`{"name":"Espresso","category_id":"hot"}`)},
		{Key: Canonical("2"), Body: json.RawMessage(`{"name":"Cold Brew","category_id":"cold"}`)},
		{Key: Canonical("3"), Body: json.RawMessage(`{"name":"Latte","category_id":"hot"}`)},
	}
	if err := s.PutMany(ctx, "items", items); err != nil {
		t.Fatalf("PutMany() failed: %v", err)
	}

	hot, err := s.FindByField(ctx, "items", "category_id", "hot")
	if err != nil {
		t.Fatalf("FindByField() failed: %v", err)
	}
	if len(hot) != 2 {
		t.Fatalf("FindByField() = %d docs, want 2", len(hot))
	}

	matches, err := s.SearchText(ctx, "items", "name", "brew")
	if err != nil {
		t.Fatalf("SearchText() failed: %v", err)
	}
	if len(matches) != 1 || matches[0].Key.ID != "2" {
		t.Fatalf("SearchText() = %+v, want Cold Brew only", matches)
	}
}

func TestWipeKeepsDeviceRegion(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	if err := s.Put(ctx, "items", Canonical("1"), json.RawMessage(`{}`)); err != nil {
		t.Fatalf("Put() failed: %v", err)
	}
	if err := s.Put(ctx, "device", Canonical("register"), json.RawMessage(`{"register_id":"r1"}`)); err != nil {
		t.Fatalf("Put() failed: %v", err)
	}

	if err := s.Wipe(ctx, "device"); err != nil {
		t.Fatalf("Wipe() failed: %v", err)
	}

	if _, err := s.Get(ctx, "items", Canonical("1")); !errors.Is(err, ErrNotFound) {
		t.Errorf("items should be wiped, got %v", err)
	}
	if _, err := s.Get(ctx, "device", Canonical("register")); err != nil {
		t.Errorf("device region should survive wipe, got %v", err)
	}
}

func TestCount(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	for _, id := range []string{"1", "2", "3"} {
		if err := s.Put(ctx, "items", Canonical(id), json.RawMessage(`{}`)); err != nil {
			t.Fatalf("Put() failed: %v", err)
		}
	}
	// Shadows do not count.
	if err := s.Put(ctx, "items", PendingKey("1"), json.RawMessage(`{}`)); err != nil {
		t.Fatalf("Put() failed: %v", err)
	}

	count, err := s.Count(ctx, "items")
	if err != nil {
		t.Fatalf("Count() failed: %v", err)
	}
	if count != 3 {
		t.Errorf("Count() = %d, want 3", count)
	}
}

func TestExportImportRoundTrip(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	if err := s.Put(ctx, "outbound_transactions", Canonical("tx-1"),
		json.RawMessage(`{"state":"pending","total_cents":1200}`)); err != nil {
		t.Fatalf("Put() failed: %v", err)
	}
	if err := s.Put(ctx, "items", PendingKey("9"), json.RawMessage(`{"name":"Shadow"}`)); err != nil {
		t.Fatalf("Put() failed: %v", err)
	}

	var buf bytes.Buffer
	result, err := s.ExportJSONL(ctx, &buf)
	if err != nil {
		t.Fatalf("ExportJSONL() failed: %v", err)
	}
	if result.Documents != 2 {
		t.Errorf("export documents = %d, want 2", result.Documents)
	}

	other := openTestStore(t)
	imported, err := other.ImportJSONL(ctx, &buf)
	if err != nil {
		t.Fatalf("ImportJSONL() failed: %v", err)
	}
	if imported.Documents != 2 {
		t.Errorf("import documents = %d, want 2", imported.Documents)
	}

	doc, err := other.Get(ctx, "outbound_transactions", Canonical("tx-1"))
	if err != nil {
		t.Fatalf("Get() after import failed: %v", err)
	}
	if string(doc.Body) != `{"state":"pending","total_cents":1200}` {
		t.Errorf("imported body = %s", doc.Body)
	}

	pending, err := other.ListPending(ctx, "items")
	if err != nil {
		t.Fatalf("ListPending() failed: %v", err)
	}
	if len(pending) != 1 {
		t.Errorf("pending shadows should survive the round trip, got %d", len(pending))
	}
}
