package storage

import (
	"bytes"
	"context"
	"errors"
	"testing"
)

func TestBuildSnapshotPaths(t *testing.T) {
	key, err := BuildSnapshotTablePath("7b1c", "customers")
	if err != nil {
		t.Fatalf("BuildSnapshotTablePath() error = %v", err)
	}
	if key != "snapshots/7b1c/customers.parquet" {
		t.Fatalf("BuildSnapshotTablePath() = %q", key)
	}

	manifest, err := BuildManifestPath("7b1c")
	if err != nil {
		t.Fatalf("BuildManifestPath() error = %v", err)
	}
	if manifest != "snapshots/7b1c/manifest.json" {
		t.Fatalf("BuildManifestPath() = %q", manifest)
	}

	prefix, err := SnapshotPrefix("7b1c")
	if err != nil || prefix != "snapshots/7b1c/" {
		t.Fatalf("SnapshotPrefix() = %q, %v", prefix, err)
	}
}

func TestBuildPathRejectsInvalidComponent(t *testing.T) {
	if _, err := BuildSnapshotTablePath("../oops", "customers"); err == nil {
		t.Fatal("expected invalid component error")
	}
	if _, err := BuildSnapshotTablePath("id", "a/b"); err == nil {
		t.Fatal("expected invalid table name error")
	}
}

func TestSnapshotIDFromKey(t *testing.T) {
	if id, ok := SnapshotIDFromKey("snapshots/abc-1/customers.parquet"); !ok || id != "abc-1" {
		t.Fatalf("SnapshotIDFromKey() = %q, %v", id, ok)
	}
	for _, key := range []string{LatestPointerPath, "other/abc/x", "snapshots/"} {
		if _, ok := SnapshotIDFromKey(key); ok {
			t.Fatalf("SnapshotIDFromKey(%q) should fail", key)
		}
	}
}

func TestMemoryStoreRoundTrip(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()

	if _, err := store.Put(ctx, "snapshots/a/x.parquet", bytes.NewBufferString("abc"), 3, PutOptions{}); err != nil {
		t.Fatalf("Put() error = %v", err)
	}
	if _, err := store.Put(ctx, "snapshots/b/x.parquet", bytes.NewBufferString("de"), 2, PutOptions{}); err != nil {
		t.Fatalf("Put() error = %v", err)
	}

	data, err := ReadAll(ctx, store, "snapshots/a/x.parquet")
	if err != nil || string(data) != "abc" {
		t.Fatalf("ReadAll() = %q, %v", data, err)
	}
	info, err := store.Stat(ctx, "snapshots/b/x.parquet")
	if err != nil || info.Size != 2 || info.ETag == "" {
		t.Fatalf("Stat() = %+v, %v", info, err)
	}

	listed, err := store.List(ctx, "snapshots/")
	if err != nil || len(listed) != 2 || listed[0].Key != "snapshots/a/x.parquet" {
		t.Fatalf("List() = %+v, %v", listed, err)
	}

	if err := store.Delete(ctx, "snapshots/a/x.parquet"); err != nil {
		t.Fatalf("Delete() error = %v", err)
	}
	if _, err := store.Get(ctx, "snapshots/a/x.parquet"); !errors.Is(err, ErrObjectNotFound) {
		t.Fatalf("Get() error = %v, want ErrObjectNotFound", err)
	}
}

func TestDeleteAllUsesBatchWhenAvailable(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	for _, key := range []string{"snapshots/a/x.parquet", "snapshots/a/y.parquet", "snapshots/b/x.parquet"} {
		if _, err := store.Put(ctx, key, bytes.NewBufferString("x"), 1, PutOptions{Metadata: map[string]string{"table": "x"}}); err != nil {
			t.Fatalf("Put() error = %v", err)
		}
	}
	if metadata, ok := store.Metadata("snapshots/a/x.parquet"); !ok || metadata["table"] != "x" {
		t.Fatalf("Metadata() = %v, %v", metadata, ok)
	}

	if err := DeleteAll(ctx, store, []string{"snapshots/a/x.parquet", "snapshots/a/y.parquet", "snapshots/a/missing"}); err != nil {
		t.Fatalf("DeleteAll() error = %v", err)
	}
	listed, err := store.List(ctx, "snapshots/")
	if err != nil || len(listed) != 1 || listed[0].Key != "snapshots/b/x.parquet" {
		t.Fatalf("List() = %+v, %v", listed, err)
	}

	var calls int
	fallback := deleteCounter{ObjectStore: store, calls: &calls}
	if err := DeleteAll(ctx, fallback, []string{"snapshots/b/x.parquet"}); err != nil || calls != 1 {
		t.Fatalf("DeleteAll() fallback calls = %d, err = %v", calls, err)
	}
}

// deleteCounter hides DeleteMany so DeleteAll falls back to single deletes.
type deleteCounter struct {
	ObjectStore
	calls *int
}

func (d deleteCounter) Delete(ctx context.Context, key string) error {
	*d.calls++
	return d.ObjectStore.Delete(ctx, key)
}
