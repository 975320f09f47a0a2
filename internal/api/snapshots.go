package api

import (
	"errors"
	"net/http"

	"github.com/clinicsql/clinicsql/internal/auth"
	"github.com/clinicsql/clinicsql/internal/snapshot"
)

func handleSnapshotExport(deps Dependencies, w http.ResponseWriter, r *http.Request) {
	if deps.Snapshots == nil {
		writeError(r.Context(), w, http.StatusNotImplemented, "SNAPSHOTS_NOT_CONFIGURED", "snapshots are not enabled", false, nil)
		return
	}
	if err := auth.RequireRole(r.Context(), auth.RoleSnapshotWriter); err != nil {
		writeError(r.Context(), w, http.StatusForbidden, "FORBIDDEN", err.Error(), false, nil)
		return
	}

	manifest, err := deps.Snapshots.Export(r.Context())
	if err != nil {
		writeError(r.Context(), w, http.StatusInternalServerError, "SNAPSHOT_EXPORT_FAILED", "snapshot export failed", true, map[string]any{"details": err.Error()})
		return
	}
	writeJSON(w, http.StatusCreated, manifest)
}

func handleLatestSnapshot(deps Dependencies, w http.ResponseWriter, r *http.Request) {
	if deps.SnapshotStore == nil {
		writeError(r.Context(), w, http.StatusNotImplemented, "SNAPSHOTS_NOT_CONFIGURED", "snapshots are not enabled", false, nil)
		return
	}
	if err := auth.RequireRole(r.Context(), auth.RoleQueryReader); err != nil {
		writeError(r.Context(), w, http.StatusForbidden, "FORBIDDEN", err.Error(), false, nil)
		return
	}

	manifest, err := snapshot.LoadLatest(r.Context(), deps.SnapshotStore)
	if err != nil {
		if errors.Is(err, snapshot.ErrNoSnapshot) {
			writeError(r.Context(), w, http.StatusNotFound, "SNAPSHOT_NOT_FOUND", err.Error(), false, nil)
			return
		}
		writeError(r.Context(), w, http.StatusInternalServerError, "SNAPSHOT_LOAD_FAILED", "failed to load latest snapshot", true, map[string]any{"details": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, manifest)
}
