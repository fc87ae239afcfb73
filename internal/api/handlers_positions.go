package api

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/audioserve/audioserve/internal/httputil"
	"github.com/audioserve/audioserve/internal/position"
)

// splitGroupAndPath decodes "{group}/{rel_path...}"; an empty rel_path
// means the group's generic latest, matching the "?" query form.
func splitGroupAndPath(raw string) (group, rel string) {
	parts := strings.SplitN(raw, "/", 2)
	if len(parts) == 1 {
		return parts[0], ""
	}
	return parts[0], parts[1]
}

// handlePositionsGet answers GET /col/positions/{group}[/{rel_path}], the
// REST mirror of the query message.
func (s *Server) handlePositionsGet(w http.ResponseWriter, r *http.Request) {
	colID := collectionID(r)
	group, rel := splitGroupAndPath(relPath(r))
	if group == "" {
		httputil.WriteError(w, http.StatusBadRequest, "BAD_REQUEST", "group is required")
		return
	}

	if rel == "" {
		resp, err := s.hub.GenericQuery(r.Context(), group)
		if err != nil {
			httputil.WriteError(w, http.StatusInternalServerError, "INTERNAL", err.Error())
			return
		}
		httputil.WriteRaw(w, http.StatusOK, resp)
		return
	}

	resp, err := s.hub.Query(r.Context(), group, colID, rel)
	if err != nil {
		httputil.WriteError(w, http.StatusInternalServerError, "INTERNAL", err.Error())
		return
	}
	httputil.WriteRaw(w, http.StatusOK, resp)
}

// handlePositionsPost answers POST /col/positions/{group}/{rel_path}, the
// REST mirror of the update message.
func (s *Server) handlePositionsPost(w http.ResponseWriter, r *http.Request) {
	colID := collectionID(r)
	group, rel := splitGroupAndPath(relPath(r))
	if group == "" || rel == "" {
		httputil.WriteError(w, http.StatusBadRequest, "BAD_REQUEST", "group and rel_path are required")
		return
	}

	if err := r.ParseForm(); err != nil {
		httputil.WriteError(w, http.StatusBadRequest, "BAD_REQUEST", "malformed form body")
		return
	}
	secs, err := strconv.ParseFloat(r.FormValue("position"), 64)
	if err != nil {
		httputil.WriteError(w, http.StatusBadRequest, "BAD_REQUEST", "position must be a number")
		return
	}
	var ts int64
	if v := r.FormValue("timestamp"); v != "" {
		ts, _ = strconv.ParseInt(v, 10, 64)
	}

	err = s.hub.Apply(r.Context(), position.Update{
		Group: group, CollectionID: colID, RelPath: rel,
		PositionSecs: secs, TimestampUnix: ts,
	})
	if err != nil {
		httputil.WriteError(w, http.StatusInternalServerError, "INTERNAL", err.Error())
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// handlePositionUpgrade answers GET /position: the websocket upgrade for
// the long-lived full-duplex position protocol.
func (s *Server) handlePositionUpgrade(w http.ResponseWriter, r *http.Request) {
	position.NewTransport(s.hub).ServeHTTP(w, r)
}
