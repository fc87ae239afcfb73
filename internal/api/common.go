package api

import (
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/audioserve/audioserve/internal/httputil"
)

// collectionID resolves the optional leading {col} path segment, defaulting
// to 0: /col denotes an optional leading /{collection_id}/ segment,
// default 0.
func collectionID(r *http.Request) int {
	v := chi.URLParam(r, "col")
	if v == "" {
		return 0
	}
	id, err := strconv.Atoi(v)
	if err != nil {
		return 0
	}
	return id
}

// relPath returns the "*" wildcard portion of a collection-scoped route,
// i.e. the path relative to the collection root.
func relPath(r *http.Request) string {
	return chi.URLParam(r, "*")
}

// writeNotFound reports a missing folder/file the way every other error
// path in this package does.
func writeNotFound(w http.ResponseWriter, what string) {
	httputil.WriteError(w, http.StatusNotFound, "NOT_FOUND", what+" not found")
}
