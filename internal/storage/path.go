package storage

import (
	"fmt"
	"path"
	"regexp"
	"strings"
)

const (
	SnapshotRoot      = "snapshots"
	LatestPointerPath = SnapshotRoot + "/LATEST"
	manifestFileName  = "manifest.json"
)

var pathComponentPattern = regexp.MustCompile(`^[a-zA-Z0-9][a-zA-Z0-9._-]{0,127}$`)

func SnapshotPrefix(snapshotID string) (string, error) {
	if err := validatePathComponent(snapshotID, "snapshot id"); err != nil {
		return "", err
	}
	return path.Join(SnapshotRoot, snapshotID) + "/", nil
}

func BuildSnapshotTablePath(snapshotID, tableName string) (string, error) {
	if err := validatePathComponent(snapshotID, "snapshot id"); err != nil {
		return "", err
	}
	if err := validatePathComponent(tableName, "table name"); err != nil {
		return "", err
	}
	return path.Join(SnapshotRoot, snapshotID, tableName+".parquet"), nil
}

func BuildManifestPath(snapshotID string) (string, error) {
	if err := validatePathComponent(snapshotID, "snapshot id"); err != nil {
		return "", err
	}
	return path.Join(SnapshotRoot, snapshotID, manifestFileName), nil
}

// SnapshotIDFromKey extracts the snapshot id from any key under a snapshot
// prefix.
func SnapshotIDFromKey(key string) (string, bool) {
	rest, ok := strings.CutPrefix(key, SnapshotRoot+"/")
	if !ok {
		return "", false
	}
	id, _, ok := strings.Cut(rest, "/")
	if !ok || validatePathComponent(id, "snapshot id") != nil {
		return "", false
	}
	return id, true
}

func validatePathComponent(value, field string) error {
	if !pathComponentPattern.MatchString(value) {
		return fmt.Errorf("invalid %s: %q", field, value)
	}
	return nil
}
