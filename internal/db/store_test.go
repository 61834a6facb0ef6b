package db

import (
	"context"
	"fmt"
	"testing"
	"time"
)

func TestSetOverwritesAndGetReportsMissingKeys(t *testing.T) {
	store, cleanup := newTestStore(t)
	defer cleanup()
	ctx := context.Background()

	if _, ok, err := store.Get(ctx, "eisenhower_data"); err != nil || ok {
		t.Fatalf("expected missing key, got ok=%v err=%v", ok, err)
	}

	if err := store.Set(ctx, "eisenhower_data", `{"tasks":[]}`); err != nil {
		t.Fatalf("set: %v", err)
	}
	if err := store.Set(ctx, "eisenhower_data", `{"tasks":[1]}`); err != nil {
		t.Fatalf("overwrite: %v", err)
	}

	value, ok, err := store.Get(ctx, "eisenhower_data")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if !ok || value != `{"tasks":[1]}` {
		t.Fatalf("expected overwritten value, got %q ok=%v", value, ok)
	}

	if err := store.Delete(ctx, "eisenhower_data"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if _, ok, _ := store.Get(ctx, "eisenhower_data"); ok {
		t.Fatalf("expected key to be deleted")
	}
}

func TestSyncLogIsNewestFirstAndBounded(t *testing.T) {
	store, cleanup := newTestStore(t)
	defer cleanup()
	ctx := context.Background()

	store.LogLimit = 3
	for i := 0; i < 5; i++ {
		if _, err := store.AppendSyncLog(ctx, "Write_Synced", fmt.Sprintf("write %d", i)); err != nil {
			t.Fatalf("append %d: %v", i, err)
		}
	}

	entries, err := store.ListSyncLog(ctx, 10)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(entries) != 3 {
		t.Fatalf("expected 3 entries after pruning, got %d", len(entries))
	}
	if entries[0].Detail != "write 4" || entries[2].Detail != "write 2" {
		t.Fatalf("expected newest first, got %q .. %q", entries[0].Detail, entries[2].Detail)
	}
	if entries[0].Kind != "write_synced" {
		t.Fatalf("expected normalized kind, got %q", entries[0].Kind)
	}
	if !entries[0].CreatedAt.Equal(time.UnixMilli(1_700_000_000_000)) {
		t.Fatalf("expected fixed clock timestamp, got %v", entries[0].CreatedAt)
	}
}

func TestSchemaReapplyKeepsValues(t *testing.T) {
	store, cleanup := newTestStore(t)
	defer cleanup()
	ctx := context.Background()

	if err := store.Set(ctx, "theme", "dark"); err != nil {
		t.Fatalf("set: %v", err)
	}
	if err := applySchema(ctx, store.DB); err != nil {
		t.Fatalf("reapply schema: %v", err)
	}

	var count int
	if err := store.DB.QueryRowContext(ctx, "SELECT COUNT(*) FROM pragma_table_info('kv') WHERE name = 'updated_at'").Scan(&count); err != nil {
		t.Fatalf("inspect kv: %v", err)
	}
	if count != 1 {
		t.Fatalf("expected one updated_at column, got %d", count)
	}

	var updatedAt int64
	if err := store.DB.QueryRowContext(ctx, "SELECT updated_at FROM kv WHERE key = 'theme'").Scan(&updatedAt); err != nil {
		t.Fatalf("read updated_at: %v", err)
	}
	if updatedAt != 1_700_000_000_000 {
		t.Fatalf("expected write timestamp, got %d", updatedAt)
	}
	if value, ok, _ := store.Get(ctx, "theme"); !ok || value != "dark" {
		t.Fatalf("expected value to survive, got %q ok=%v", value, ok)
	}
}

func newTestStore(t *testing.T) (*Store, func()) {
	t.Helper()
	db, err := Open(":memory:")
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	store := NewStore(db)
	store.now = func() time.Time { return time.UnixMilli(1_700_000_000_000) }
	return store, func() {
		_ = db.Close()
	}
}
