package api

import (
	"encoding/json"
	"net/http"

	"github.com/clinicsql/clinicsql/internal/auth"
	"github.com/clinicsql/clinicsql/internal/pipeline"
)

type queryRequest struct {
	Query string `json:"query"`
	Limit int    `json:"limit"`
}

type translateResponse struct {
	Success   bool               `json:"success"`
	SQL       string             `json:"sql,omitempty"`
	Error     string             `json:"error,omitempty"`
	ErrorKind pipeline.ErrorKind `json:"error_kind,omitempty"`
	Stats     pipeline.Stats     `json:"stats"`
}

// handleQuery always answers 200 once the body parses; the envelope's
// success flag carries the pipeline outcome.
func handleQuery(deps Dependencies, w http.ResponseWriter, r *http.Request) {
	request, ok := decodeQueryRequest(deps, w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, deps.Pipeline.Run(r.Context(), request))
}

func handleTranslate(deps Dependencies, w http.ResponseWriter, r *http.Request) {
	request, ok := decodeQueryRequest(deps, w, r)
	if !ok {
		return
	}
	response := deps.Pipeline.Translate(r.Context(), request)
	writeJSON(w, http.StatusOK, translateResponse{
		Success:   response.Success,
		SQL:       response.SQL,
		Error:     response.Error,
		ErrorKind: response.ErrorKind,
		Stats:     response.Stats,
	})
}

func decodeQueryRequest(deps Dependencies, w http.ResponseWriter, r *http.Request) (pipeline.Request, bool) {
	if deps.Pipeline == nil {
		writeError(r.Context(), w, http.StatusNotImplemented, "QUERY_NOT_CONFIGURED", "query pipeline is not configured", false, nil)
		return pipeline.Request{}, false
	}
	if err := auth.RequireRole(r.Context(), auth.RoleQueryReader); err != nil {
		writeError(r.Context(), w, http.StatusForbidden, "FORBIDDEN", err.Error(), false, nil)
		return pipeline.Request{}, false
	}

	var request queryRequest
	decoder := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxRequestBodyBytes))
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(&request); err != nil {
		writeError(r.Context(), w, http.StatusBadRequest, "INVALID_JSON", "invalid query request body", false, map[string]any{"details": err.Error()})
		return pipeline.Request{}, false
	}
	return pipeline.Request{Query: request.Query, Limit: request.Limit}, true
}
