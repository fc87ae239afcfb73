package api

import (
	"errors"
	"net/http"

	"github.com/audioserve/audioserve/internal/httputil"
	"github.com/audioserve/audioserve/internal/index"
)

// handleFolder answers /col/folder/{path}?ord=a|m with the folder's
// FolderRecord, ordered per ord (falling back to the collection's
// configured default order when ord is absent).
func (s *Server) handleFolder(w http.ResponseWriter, r *http.Request) {
	colID := collectionID(r)
	rec, err := s.idx.ListFolder(r.Context(), colID, relPath(r))
	if err != nil {
		if errors.Is(err, index.ErrNoCollection) {
			writeNotFound(w, "collection")
			return
		}
		writeNotFound(w, "folder")
		return
	}

	ord := r.URL.Query().Get("ord")
	if ord == "" {
		if col, ok := s.idx.Collection(colID); ok {
			ord = col.Options.DefaultOrder
		}
	}
	httputil.WriteRaw(w, http.StatusOK, index.Ordered(rec, ord))
}

// handleSearch answers /col/search?q=...: conjunctive folder-path search.
// Results come back in byte order of their paths; the ord parameter is not
// read.
func (s *Server) handleSearch(w http.ResponseWriter, r *http.Request) {
	colID := collectionID(r)
	q := r.URL.Query().Get("q")
	paths, err := s.idx.Search(colID, q)
	if err != nil {
		writeNotFound(w, "collection")
		return
	}
	httputil.WriteRaw(w, http.StatusOK, map[string]interface{}{"paths": paths})
}

// handleRecent answers /col/recent: the top-64 folders by mtime descending.
func (s *Server) handleRecent(w http.ResponseWriter, r *http.Request) {
	colID := collectionID(r)
	paths, err := s.idx.Recent(colID, 64)
	if err != nil {
		writeNotFound(w, "collection")
		return
	}
	httputil.WriteRaw(w, http.StatusOK, map[string]interface{}{"paths": paths})
}
