package api

import (
	"net/http"
	"path/filepath"

	"github.com/audioserve/audioserve/internal/httputil"
	"github.com/audioserve/audioserve/internal/index"
	"github.com/audioserve/audioserve/internal/stream"
)

// handleCover answers /col/cover/{path}: the bytes of the folder's cover
// image.
func (s *Server) handleCover(w http.ResponseWriter, r *http.Request) {
	s.serveFolderAsset(w, r, func(rec index.FolderRecord) *index.CoverRef { return rec.Cover })
}

// handleDesc answers /col/desc/{path}: the bytes of the folder's
// description file.
func (s *Server) handleDesc(w http.ResponseWriter, r *http.Request) {
	s.serveFolderAsset(w, r, func(rec index.FolderRecord) *index.CoverRef { return rec.Description })
}

func (s *Server) serveFolderAsset(w http.ResponseWriter, r *http.Request, pick func(index.FolderRecord) *index.CoverRef) {
	colID := collectionID(r)
	col, ok := s.idx.Collection(colID)
	if !ok {
		writeNotFound(w, "collection")
		return
	}
	rec, err := s.idx.ListFolder(r.Context(), colID, relPath(r))
	if err != nil {
		writeNotFound(w, "folder")
		return
	}
	ref := pick(rec)
	if ref == nil {
		writeNotFound(w, "asset")
		return
	}

	full := filepath.Join(col.Root, filepath.FromSlash(ref.Path))
	if err := stream.ServeDirectFile(w, r, full); err != nil {
		httputil.WriteError(w, http.StatusNotFound, "NOT_FOUND", "asset file missing on disk")
	}
}
