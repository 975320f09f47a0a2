// Package snapshot exports the clinic tables to Parquet files in object
// storage so generated SQL can run against a read-only copy of the store.
package snapshot

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/clinicsql/clinicsql/internal/storage"
)

// ErrNoSnapshot is returned when the object store has no LATEST pointer.
var ErrNoSnapshot = errors.New("no snapshot has been exported")

type Manifest struct {
	SnapshotID    string      `json:"snapshot_id"`
	CreatedAt     time.Time   `json:"created_at"`
	SchemaVersion string      `json:"schema_version"`
	SourceDriver  string      `json:"source_driver"`
	Tables        []TableFile `json:"tables"`
}

type TableFile struct {
	Table      string `json:"table"`
	ObjectPath string `json:"object_path"`
	Rows       int64  `json:"rows"`
	SizeBytes  int64  `json:"size_bytes"`
}

func (m Manifest) Table(name string) (TableFile, bool) {
	for _, table := range m.Tables {
		if table.Table == name {
			return table, true
		}
	}
	return TableFile{}, false
}

func (m Manifest) TotalRows() int64 {
	var total int64
	for _, table := range m.Tables {
		total += table.Rows
	}
	return total
}

// LoadLatest follows the LATEST pointer and returns that snapshot's manifest.
func LoadLatest(ctx context.Context, store storage.ObjectStore) (Manifest, error) {
	pointer, err := storage.ReadAll(ctx, store, storage.LatestPointerPath)
	if err != nil {
		if errors.Is(err, storage.ErrObjectNotFound) {
			return Manifest{}, ErrNoSnapshot
		}
		return Manifest{}, fmt.Errorf("read latest pointer: %w", err)
	}
	snapshotID := strings.TrimSpace(string(pointer))
	if snapshotID == "" {
		return Manifest{}, ErrNoSnapshot
	}
	return Load(ctx, store, snapshotID)
}

func Load(ctx context.Context, store storage.ObjectStore, snapshotID string) (Manifest, error) {
	key, err := storage.BuildManifestPath(snapshotID)
	if err != nil {
		return Manifest{}, err
	}
	data, err := storage.ReadAll(ctx, store, key)
	if err != nil {
		return Manifest{}, fmt.Errorf("read manifest %q: %w", key, err)
	}
	var manifest Manifest
	if err := json.Unmarshal(data, &manifest); err != nil {
		return Manifest{}, fmt.Errorf("decode manifest %q: %w", key, err)
	}
	if manifest.SnapshotID != snapshotID {
		return Manifest{}, fmt.Errorf("manifest %q carries snapshot id %q", key, manifest.SnapshotID)
	}
	return manifest, nil
}

func putManifest(ctx context.Context, store storage.ObjectStore, manifest Manifest) error {
	key, err := storage.BuildManifestPath(manifest.SnapshotID)
	if err != nil {
		return err
	}
	data, err := json.MarshalIndent(manifest, "", "  ")
	if err != nil {
		return fmt.Errorf("encode manifest: %w", err)
	}
	if _, err := store.Put(ctx, key, bytes.NewReader(data), int64(len(data)), storage.PutOptions{ContentType: "application/json"}); err != nil {
		return fmt.Errorf("put manifest: %w", err)
	}
	return nil
}

func putLatest(ctx context.Context, store storage.ObjectStore, snapshotID string) error {
	body := []byte(snapshotID + "\n")
	if _, err := store.Put(ctx, storage.LatestPointerPath, bytes.NewReader(body), int64(len(body)), storage.PutOptions{ContentType: "text/plain"}); err != nil {
		return fmt.Errorf("put latest pointer: %w", err)
	}
	return nil
}
