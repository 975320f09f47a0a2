package snapshot

import (
	"bytes"
	"context"
	"errors"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/parquet-go/parquet-go"

	"github.com/clinicsql/clinicsql/internal/clinictest"
	"github.com/clinicsql/clinicsql/internal/config"
	"github.com/clinicsql/clinicsql/internal/schema"
	"github.com/clinicsql/clinicsql/internal/storage"
	"github.com/clinicsql/clinicsql/internal/store"
)

func TestExportWritesTablesManifestAndLatest(t *testing.T) {
	ctx := context.Background()
	db := clinictest.OpenDuckDB(t)
	objects := storage.NewMemoryStore()

	exporter := NewExporter(&store.Store{DB: db, Driver: config.DriverDuckDB}, objects, 0, nil)
	exporter.NewID = func() string { return "snap-1" }
	exporter.Now = func() time.Time { return time.Date(2024, 6, 1, 8, 0, 0, 0, time.UTC) }

	manifest, err := exporter.Export(ctx)
	if err != nil {
		t.Fatalf("Export() error = %v", err)
	}
	if manifest.SnapshotID != "snap-1" || manifest.SchemaVersion != schema.ClinicVersion || manifest.SourceDriver != "duckdb" {
		t.Fatalf("manifest = %+v", manifest)
	}
	if len(manifest.Tables) != len(clinictest.TableRows) {
		t.Fatalf("tables = %d", len(manifest.Tables))
	}
	for name, rows := range clinictest.TableRows {
		table, ok := manifest.Table(name)
		if !ok {
			t.Fatalf("manifest missing table %s", name)
		}
		if table.Rows != rows || table.SizeBytes <= 0 {
			t.Fatalf("table %s = %+v", name, table)
		}
		if table.ObjectPath != "snapshots/snap-1/"+name+".parquet" {
			t.Fatalf("ObjectPath = %q", table.ObjectPath)
		}
	}

	latest, err := LoadLatest(ctx, objects)
	if err != nil {
		t.Fatalf("LoadLatest() error = %v", err)
	}
	if latest.SnapshotID != "snap-1" || !latest.CreatedAt.Equal(manifest.CreatedAt) || latest.TotalRows() != manifest.TotalRows() {
		t.Fatalf("latest = %+v", latest)
	}
}

func TestExportedCustomersDecode(t *testing.T) {
	ctx := context.Background()
	objects := storage.NewMemoryStore()
	exporter := NewExporter(&store.Store{DB: clinictest.OpenDuckDB(t), Driver: config.DriverDuckDB}, objects, 0, nil)

	manifest, err := exporter.Export(ctx)
	if err != nil {
		t.Fatalf("Export() error = %v", err)
	}
	table, _ := manifest.Table("customers")
	data, err := storage.ReadAll(ctx, objects, table.ObjectPath)
	if err != nil {
		t.Fatalf("ReadAll() error = %v", err)
	}
	rows, err := parquet.Read[customerRow](bytes.NewReader(data), int64(len(data)))
	if err != nil {
		t.Fatalf("parquet.Read() error = %v", err)
	}
	if len(rows) != clinictest.Customers {
		t.Fatalf("rows = %d", len(rows))
	}
	first := rows[0]
	if first.CustomerID != 1 || first.RegisterDate != "2023-01-05" || first.MembershipLevel != schema.TierDiamond {
		t.Fatalf("first = %+v", first)
	}
	if first.LastVisitDate == nil || *first.LastVisitDate != "2024-05-01" {
		t.Fatalf("LastVisitDate = %v", first.LastVisitDate)
	}
	sixth := rows[5]
	if sixth.Phone != nil || sixth.ConsultantID != nil || sixth.LastVisitDate != nil {
		t.Fatalf("sixth = %+v, want null phone, consultant and visit", sixth)
	}
}

func TestExportRequiresStores(t *testing.T) {
	if _, err := NewExporter(nil, storage.NewMemoryStore(), 0, nil).Export(context.Background()); err == nil {
		t.Fatal("expected error without source store")
	}
	source := &store.Store{DB: clinictest.OpenDuckDB(t), Driver: config.DriverDuckDB}
	if _, err := NewExporter(source, nil, 0, nil).Export(context.Background()); err == nil {
		t.Fatal("expected error without object store")
	}
}

func TestExportPrunesOldSnapshots(t *testing.T) {
	ctx := context.Background()
	objects := storage.NewMemoryStore()
	exporter := NewExporter(&store.Store{DB: clinictest.OpenDuckDB(t), Driver: config.DriverDuckDB}, objects, 1, nil)

	ids := []string{"snap-a", "snap-b"}
	for _, id := range ids {
		exporter.NewID = func() string { return id }
		if _, err := exporter.Export(ctx); err != nil {
			t.Fatalf("Export(%s) error = %v", id, err)
		}
	}

	listed, err := objects.List(ctx, "snapshots/snap-a/")
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}
	if len(listed) != 0 {
		t.Fatalf("snap-a objects = %+v, want pruned", listed)
	}
	latest, err := LoadLatest(ctx, objects)
	if err != nil || latest.SnapshotID != "snap-b" {
		t.Fatalf("LoadLatest() = %+v, %v", latest, err)
	}
	metadata, ok := objects.Metadata("snapshots/snap-b/customers.parquet")
	if !ok || metadata["snapshot-id"] != "snap-b" || metadata["table"] != "customers" || metadata["rows"] != strconv.Itoa(clinictest.Customers) {
		t.Fatalf("Metadata() = %v, %v", metadata, ok)
	}
}

func TestPruneKeepsNewestAndCurrent(t *testing.T) {
	ctx := context.Background()
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	objects := &datedStore{MemoryStore: storage.NewMemoryStore(), modified: map[string]time.Time{}}
	for i, id := range []string{"s1", "s2", "s3", "s4"} {
		for _, name := range []string{"customers.parquet", "manifest.json"} {
			key := "snapshots/" + id + "/" + name
			if _, err := objects.Put(ctx, key, strings.NewReader("x"), 1, storage.PutOptions{}); err != nil {
				t.Fatalf("Put() error = %v", err)
			}
			objects.modified[key] = base.Add(time.Duration(i) * time.Hour)
		}
	}
	if _, err := objects.Put(ctx, storage.LatestPointerPath, strings.NewReader("s1"), 2, storage.PutOptions{}); err != nil {
		t.Fatalf("Put() error = %v", err)
	}

	deleted, err := Prune(ctx, objects, 2, "s1")
	if err != nil {
		t.Fatalf("Prune() error = %v", err)
	}
	if strings.Join(deleted, ",") != "s3,s2" {
		t.Fatalf("deleted = %v", deleted)
	}
	for _, id := range []string{"s1", "s4"} {
		listed, _ := objects.List(ctx, "snapshots/"+id+"/")
		if len(listed) != 2 {
			t.Fatalf("%s objects = %d, want kept", id, len(listed))
		}
	}
	if _, err := objects.Stat(ctx, storage.LatestPointerPath); err != nil {
		t.Fatalf("LATEST removed: %v", err)
	}

	if _, err := Prune(ctx, objects, 0, ""); err == nil {
		t.Fatal("expected error for keep < 1")
	}
}

func TestLoadLatestWithoutSnapshot(t *testing.T) {
	if _, err := LoadLatest(context.Background(), storage.NewMemoryStore()); !errors.Is(err, ErrNoSnapshot) {
		t.Fatalf("LoadLatest() error = %v, want ErrNoSnapshot", err)
	}
}

func TestLoadRejectsMismatchedManifest(t *testing.T) {
	ctx := context.Background()
	objects := storage.NewMemoryStore()
	body := `{"snapshot_id":"other","tables":[]}`
	if _, err := objects.Put(ctx, "snapshots/snap-1/manifest.json", strings.NewReader(body), int64(len(body)), storage.PutOptions{}); err != nil {
		t.Fatalf("Put() error = %v", err)
	}
	if _, err := Load(ctx, objects, "snap-1"); err == nil {
		t.Fatal("expected mismatched snapshot id error")
	}
}

func TestNewObjectStoreMemoryEndpoint(t *testing.T) {
	objects, err := NewObjectStore(context.Background(), config.ObjectStoreConfig{Endpoint: config.ObjectStoreMemory})
	if err != nil {
		t.Fatalf("NewObjectStore() error = %v", err)
	}
	if _, ok := objects.(*storage.MemoryStore); !ok {
		t.Fatalf("NewObjectStore() = %T", objects)
	}
}

func TestSelectStoredColumnsSkipsDerived(t *testing.T) {
	table, _ := schema.Clinic().Table("unspent_balances")
	got := selectStoredColumns(table)
	if strings.Contains(got, "remaining_amount") {
		t.Fatalf("select = %q", got)
	}
	if !strings.HasSuffix(got, "FROM unspent_balances ORDER BY balance_id") {
		t.Fatalf("select = %q", got)
	}
}

type datedStore struct {
	*storage.MemoryStore
	modified map[string]time.Time
}

func (d *datedStore) List(ctx context.Context, prefix string) ([]storage.ObjectInfo, error) {
	listed, err := d.MemoryStore.List(ctx, prefix)
	for i := range listed {
		if modified, ok := d.modified[listed[i].Key]; ok {
			listed[i].LastModified = modified
		}
	}
	return listed, err
}
