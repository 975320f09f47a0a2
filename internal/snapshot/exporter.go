package snapshot

import (
	"bytes"
	"context"
	"database/sql"
	"fmt"
	"io"
	"log/slog"
	"slices"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/clinicsql/clinicsql/internal/config"
	"github.com/clinicsql/clinicsql/internal/observability"
	"github.com/clinicsql/clinicsql/internal/schema"
	"github.com/clinicsql/clinicsql/internal/storage"
	"github.com/clinicsql/clinicsql/internal/storage/s3"
	"github.com/clinicsql/clinicsql/internal/store"
)

const uploadConcurrency = 4

type Exporter struct {
	Source  *store.Store
	Objects storage.ObjectStore
	Schema  schema.Schema
	// Keep is how many snapshots survive pruning; zero disables pruning.
	Keep   int
	Logger *slog.Logger
	Now    func() time.Time
	NewID  func() string
}

func NewExporter(source *store.Store, objects storage.ObjectStore, keep int, logger *slog.Logger) *Exporter {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Exporter{
		Source:  source,
		Objects: objects,
		Schema:  schema.Clinic(),
		Keep:    keep,
		Logger:  logger,
		Now:     func() time.Time { return time.Now().UTC() },
		NewID:   func() string { return uuid.NewString() },
	}
}

// Export reads every stored table inside one transaction, uploads one Parquet
// file per table, then publishes the manifest and moves the LATEST pointer.
func (e *Exporter) Export(ctx context.Context) (manifest Manifest, err error) {
	start := time.Now()
	defer func() {
		rowsByTable := map[string]int64{}
		for _, table := range manifest.Tables {
			rowsByTable[table.Table] = table.Rows
		}
		observability.ObserveSnapshotExport(err, time.Since(start), rowsByTable)
	}()

	if e.Source == nil || e.Source.DB == nil {
		return Manifest{}, fmt.Errorf("source store is required")
	}
	if e.Objects == nil {
		return Manifest{}, fmt.Errorf("object store is required")
	}

	snapshotID := e.NewID()
	encoded, err := e.readTables(ctx)
	if err != nil {
		return Manifest{}, err
	}

	files := make([]TableFile, len(encoded))
	group, groupCtx := errgroup.WithContext(ctx)
	group.SetLimit(uploadConcurrency)
	for i, table := range encoded {
		group.Go(func() error {
			key, err := storage.BuildSnapshotTablePath(snapshotID, table.name)
			if err != nil {
				return err
			}
			info, err := e.Objects.Put(groupCtx, key, bytes.NewReader(table.Data), int64(len(table.Data)), storage.PutOptions{
				ContentType: "application/vnd.apache.parquet",
				Metadata: map[string]string{
					"snapshot-id": snapshotID,
					"table":       table.name,
					"rows":        strconv.FormatInt(table.Rows, 10),
				},
			})
			if err != nil {
				return fmt.Errorf("upload table %q: %w", table.name, err)
			}
			size := info.Size
			if size == 0 {
				size = int64(len(table.Data))
			}
			files[i] = TableFile{Table: table.name, ObjectPath: key, Rows: table.Rows, SizeBytes: size}
			return nil
		})
	}
	if err := group.Wait(); err != nil {
		return Manifest{}, err
	}

	manifest = Manifest{
		SnapshotID:    snapshotID,
		CreatedAt:     e.Now(),
		SchemaVersion: e.Schema.Version,
		SourceDriver:  e.Source.Driver,
		Tables:        files,
	}
	if err := putManifest(ctx, e.Objects, manifest); err != nil {
		return Manifest{}, err
	}
	if err := putLatest(ctx, e.Objects, snapshotID); err != nil {
		return Manifest{}, err
	}

	e.Logger.Info("snapshot_exported",
		slog.String("snapshot_id", snapshotID),
		slog.Int("tables", len(files)),
		slog.Int64("rows", manifest.TotalRows()),
		slog.Duration("duration", time.Since(start)),
	)

	if e.Keep > 0 {
		if deleted, err := Prune(ctx, e.Objects, e.Keep, snapshotID); err != nil {
			e.Logger.Warn("snapshot_prune_failed", slog.String("error", err.Error()))
		} else if len(deleted) > 0 {
			e.Logger.Info("snapshot_pruned", slog.Any("snapshot_ids", deleted))
		}
	}
	return manifest, nil
}

type namedTable struct {
	name string
	encodedTable
}

func (e *Exporter) readTables(ctx context.Context) ([]namedTable, error) {
	var opts *sql.TxOptions
	if e.Source.ReadOnlyTx {
		opts = &sql.TxOptions{ReadOnly: true, Isolation: sql.LevelRepeatableRead}
	}
	tx, err := e.Source.DB.BeginTx(ctx, opts)
	if err != nil {
		return nil, fmt.Errorf("begin snapshot transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	tables := make([]namedTable, 0, len(e.Schema.Tables))
	for _, table := range e.Schema.Tables {
		encode, ok := tableEncoders[table.Name]
		if !ok {
			return nil, fmt.Errorf("no parquet encoder for table %q", table.Name)
		}
		encoded, err := readTable(ctx, tx, table, encode)
		if err != nil {
			return nil, fmt.Errorf("export table %q: %w", table.Name, err)
		}
		tables = append(tables, namedTable{name: table.Name, encodedTable: encoded})
	}
	return tables, nil
}

func readTable(ctx context.Context, tx *sql.Tx, table schema.Table, encode tableEncoder) (encodedTable, error) {
	rows, err := tx.QueryContext(ctx, selectStoredColumns(table))
	if err != nil {
		return encodedTable{}, err
	}
	defer func() { _ = rows.Close() }()
	return encode(rows)
}

func selectStoredColumns(table schema.Table) string {
	columns := table.StoredColumns()
	names := make([]string, 0, len(columns))
	orderBy := ""
	for _, column := range columns {
		names = append(names, column.Name)
		if column.PrimaryKey && orderBy == "" {
			orderBy = " ORDER BY " + column.Name
		}
	}
	return "SELECT " + strings.Join(names, ", ") + " FROM " + table.Name + orderBy
}

// Prune deletes all but the newest keep snapshots. The snapshot named by
// current is never deleted.
func Prune(ctx context.Context, objects storage.ObjectStore, keep int, current string) ([]string, error) {
	if keep < 1 {
		return nil, fmt.Errorf("keep must be >= 1")
	}
	listed, err := objects.List(ctx, storage.SnapshotRoot+"/")
	if err != nil {
		return nil, fmt.Errorf("list snapshots: %w", err)
	}

	keysByID := map[string][]string{}
	newest := map[string]time.Time{}
	for _, object := range listed {
		id, ok := storage.SnapshotIDFromKey(object.Key)
		if !ok {
			continue
		}
		keysByID[id] = append(keysByID[id], object.Key)
		if object.LastModified.After(newest[id]) {
			newest[id] = object.LastModified
		}
	}

	ids := make([]string, 0, len(keysByID))
	for id := range keysByID {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool {
		if ids[i] == current || ids[j] == current {
			return ids[i] == current
		}
		if !newest[ids[i]].Equal(newest[ids[j]]) {
			return newest[ids[i]].After(newest[ids[j]])
		}
		return ids[i] > ids[j]
	})
	if len(ids) <= keep {
		return nil, nil
	}

	// The manifest goes first so a half-deleted snapshot is never loadable.
	deleted := make([]string, 0, len(ids)-keep)
	for _, id := range ids[keep:] {
		manifestKey, err := storage.BuildManifestPath(id)
		if err != nil {
			return deleted, err
		}
		if err := objects.Delete(ctx, manifestKey); err != nil {
			return deleted, fmt.Errorf("delete %q: %w", manifestKey, err)
		}
		rest := slices.DeleteFunc(keysByID[id], func(key string) bool { return key == manifestKey })
		if err := storage.DeleteAll(ctx, objects, rest); err != nil {
			return deleted, fmt.Errorf("delete snapshot %q: %w", id, err)
		}
		deleted = append(deleted, id)
	}
	return deleted, nil
}

// NewObjectStore opens the configured snapshot bucket. The "memory" endpoint
// keeps snapshots in process.
func NewObjectStore(ctx context.Context, cfg config.ObjectStoreConfig) (storage.ObjectStore, error) {
	if cfg.Endpoint == config.ObjectStoreMemory {
		return storage.NewMemoryStore(), nil
	}
	objects, err := s3.New(ctx, s3.Config{
		Endpoint:         cfg.Endpoint,
		Region:           cfg.Region,
		Bucket:           cfg.Bucket,
		AccessKeyID:      cfg.AccessKeyID,
		SecretAccessKey:  cfg.SecretAccessKey,
		UseSSL:           cfg.UseSSL,
		Prefix:           cfg.Prefix,
		AutoCreateBucket: cfg.AutoCreateBucket,
	})
	if err != nil {
		return nil, fmt.Errorf("open object store: %w", err)
	}
	return objects, nil
}
