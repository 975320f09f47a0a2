// Package maintenance runs periodic snapshot work inside long-lived
// processes: scheduled exports and integrity checks of exported files.
package maintenance

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/clinicsql/clinicsql/internal/snapshot"
	"github.com/clinicsql/clinicsql/internal/storage"
)

type Exporter interface {
	Export(ctx context.Context) (snapshot.Manifest, error)
}

type Config struct {
	// ExportInterval and IntegrityInterval disable their loop when zero.
	ExportInterval         time.Duration
	IntegrityInterval      time.Duration
	IntegritySnapshotLimit int
}

type Service struct {
	Exporter    Exporter
	ObjectStore storage.ObjectStore
	Config      Config
	Logger      *slog.Logger
}

type IntegritySummary struct {
	SnapshotsScanned    int `json:"snapshots_scanned"`
	ReferencedFiles     int `json:"referenced_files"`
	MissingFiles        int `json:"missing_files"`
	SizeMismatchFiles   int `json:"size_mismatch_files"`
	OperationalFailures int `json:"operational_failures"`
}

// Run blocks until ctx is done. It returns immediately when both loops are
// disabled.
func (s *Service) Run(ctx context.Context) error {
	s.ensureDefaults()
	if s.Config.ExportInterval <= 0 && s.Config.IntegrityInterval <= 0 {
		return nil
	}

	var exportC, integrityC <-chan time.Time
	if s.Config.ExportInterval > 0 {
		if s.Exporter == nil {
			return fmt.Errorf("exporter is required for scheduled exports")
		}
		ticker := time.NewTicker(s.Config.ExportInterval)
		defer ticker.Stop()
		exportC = ticker.C
	}
	if s.Config.IntegrityInterval > 0 {
		if s.ObjectStore == nil {
			return fmt.Errorf("object store is required for integrity checks")
		}
		ticker := time.NewTicker(s.Config.IntegrityInterval)
		defer ticker.Stop()
		integrityC = ticker.C
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-exportC:
			manifest, err := s.RunExportOnce(ctx)
			if err != nil {
				s.Logger.ErrorContext(ctx, "scheduled export failed", slog.Any("error", err))
				continue
			}
			s.Logger.InfoContext(ctx, "scheduled export completed", slog.String("snapshot_id", manifest.SnapshotID))
		case <-integrityC:
			summary, err := s.RunIntegrityCheckOnce(ctx)
			if err != nil {
				s.Logger.ErrorContext(ctx, "integrity check failed", slog.Any("error", err), slog.Any("summary", summary))
				continue
			}
			s.Logger.InfoContext(ctx, "integrity check completed", slog.Any("summary", summary))
		}
	}
}

func (s *Service) RunExportOnce(ctx context.Context) (snapshot.Manifest, error) {
	s.ensureDefaults()
	if s.Exporter == nil {
		return snapshot.Manifest{}, fmt.Errorf("exporter is required")
	}
	manifest, err := s.Exporter.Export(ctx)
	if err != nil {
		scheduledExportsTotal.WithLabelValues("failed").Inc()
		return snapshot.Manifest{}, err
	}
	scheduledExportsTotal.WithLabelValues("completed").Inc()
	return manifest, nil
}

// RunIntegrityCheckOnce checks that every table file referenced by the newest
// manifests exists with the recorded size.
func (s *Service) RunIntegrityCheckOnce(ctx context.Context) (IntegritySummary, error) {
	s.ensureDefaults()
	if s.ObjectStore == nil {
		return IntegritySummary{}, fmt.Errorf("object store is required")
	}

	ids, err := s.recentSnapshotIDs(ctx)
	if err != nil {
		return IntegritySummary{}, err
	}

	summary := IntegritySummary{SnapshotsScanned: len(ids)}
	const maxIssueSamples = 20
	issueSamples := make([]string, 0, maxIssueSamples)
	issueCount := 0
	addIssue := func(message string) {
		issueCount++
		if len(issueSamples) < maxIssueSamples {
			issueSamples = append(issueSamples, message)
		}
	}

	for _, id := range ids {
		manifest, err := snapshot.Load(ctx, s.ObjectStore, id)
		if err != nil {
			summary.OperationalFailures++
			addIssue(fmt.Sprintf("snapshot %s manifest: %v", id, err))
			continue
		}
		summary.ReferencedFiles += len(manifest.Tables)

		for _, file := range manifest.Tables {
			info, err := s.ObjectStore.Stat(ctx, file.ObjectPath)
			if err != nil {
				if errors.Is(err, storage.ErrObjectNotFound) {
					summary.MissingFiles++
					addIssue(fmt.Sprintf("snapshot %s missing file %s", id, file.ObjectPath))
					continue
				}
				summary.OperationalFailures++
				addIssue(fmt.Sprintf("snapshot %s stat file %s: %v", id, file.ObjectPath, err))
				continue
			}
			if info.Size != file.SizeBytes {
				summary.SizeMismatchFiles++
				addIssue(fmt.Sprintf("snapshot %s size mismatch for %s (expected=%d actual=%d)", id, file.ObjectPath, file.SizeBytes, info.Size))
			}
		}
	}

	if summary.ReferencedFiles > 0 {
		integrityFilesCheckedTotal.Add(float64(summary.ReferencedFiles))
	}
	if summary.MissingFiles > 0 {
		integrityMissingFilesTotal.Add(float64(summary.MissingFiles))
	}
	if summary.SizeMismatchFiles > 0 {
		integritySizeMismatchFilesTotal.Add(float64(summary.SizeMismatchFiles))
	}
	if issueCount > 0 {
		integrityRunsTotal.WithLabelValues("failed").Inc()
		extra := issueCount - len(issueSamples)
		if extra > 0 {
			return summary, fmt.Errorf("integrity check found %d issue(s): %s; ... plus %d more", issueCount, strings.Join(issueSamples, "; "), extra)
		}
		return summary, fmt.Errorf("integrity check found %d issue(s): %s", issueCount, strings.Join(issueSamples, "; "))
	}
	integrityRunsTotal.WithLabelValues("completed").Inc()
	return summary, nil
}

// recentSnapshotIDs returns ids that have a manifest, newest first, capped at
// IntegritySnapshotLimit.
func (s *Service) recentSnapshotIDs(ctx context.Context) ([]string, error) {
	objects, err := s.ObjectStore.List(ctx, storage.SnapshotRoot+"/")
	if err != nil {
		return nil, fmt.Errorf("list snapshots: %w", err)
	}

	manifests := make([]storage.ObjectInfo, 0)
	for _, object := range objects {
		id, ok := storage.SnapshotIDFromKey(object.Key)
		if !ok {
			continue
		}
		if manifestPath, err := storage.BuildManifestPath(id); err == nil && manifestPath == object.Key {
			manifests = append(manifests, object)
		}
	}
	sort.SliceStable(manifests, func(i, j int) bool {
		return manifests[i].LastModified.After(manifests[j].LastModified)
	})

	ids := make([]string, 0, min(len(manifests), s.Config.IntegritySnapshotLimit))
	for _, object := range manifests {
		if len(ids) == s.Config.IntegritySnapshotLimit {
			break
		}
		id, _ := storage.SnapshotIDFromKey(object.Key)
		ids = append(ids, id)
	}
	return ids, nil
}

func (s *Service) ensureDefaults() {
	if s.Logger == nil {
		s.Logger = slog.Default()
	}
	if s.Config.IntegritySnapshotLimit <= 0 {
		s.Config.IntegritySnapshotLimit = 5
	}
}
