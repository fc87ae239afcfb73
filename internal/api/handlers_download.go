package api

import (
	"archive/tar"
	"archive/zip"
	"io"
	"log"
	"net/http"
	"os"
	"path/filepath"

	"github.com/audioserve/audioserve/internal/httputil"
)

// handleDownload answers /col/download/{path}?fmt=zip|tar: an archive
// stream of the folder's audio files plus its cover and description, if
// any. No ecosystem archiver is needed for a flat folder-to-archive stream,
// so this uses the standard library's archive/zip and archive/tar.
func (s *Server) handleDownload(w http.ResponseWriter, r *http.Request) {
	if s.cfg.DisableFolderDownload {
		httputil.WriteError(w, http.StatusNotFound, "NOT_FOUND", "folder download is disabled")
		return
	}

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

	type member struct {
		relName string
		absPath string
	}
	var members []member
	for _, f := range rec.Files {
		members = append(members, member{relName: filepath.Base(f.Path), absPath: filepath.Join(col.Root, filepath.FromSlash(f.Path))})
	}
	if rec.Cover != nil {
		members = append(members, member{relName: filepath.Base(rec.Cover.Path), absPath: filepath.Join(col.Root, filepath.FromSlash(rec.Cover.Path))})
	}
	if rec.Description != nil {
		members = append(members, member{relName: filepath.Base(rec.Description.Path), absPath: filepath.Join(col.Root, filepath.FromSlash(rec.Description.Path))})
	}

	format := r.URL.Query().Get("fmt")
	if format == "" {
		format = "zip"
	}

	switch format {
	case "tar":
		w.Header().Set("Content-Type", "application/x-tar")
		w.WriteHeader(http.StatusOK)
		tw := tar.NewWriter(w)
		defer tw.Close()
		for _, m := range members {
			if err := addTarMember(tw, m.relName, m.absPath); err != nil {
				log.Printf("[api] download tar member %s: %v", m.relName, err)
				return
			}
		}
	case "zip":
		w.Header().Set("Content-Type", "application/zip")
		w.WriteHeader(http.StatusOK)
		zw := zip.NewWriter(w)
		defer zw.Close()
		for _, m := range members {
			if err := addZipMember(zw, m.relName, m.absPath); err != nil {
				log.Printf("[api] download zip member %s: %v", m.relName, err)
				return
			}
		}
	default:
		httputil.WriteError(w, http.StatusBadRequest, "BAD_REQUEST", "fmt must be zip or tar")
	}
}

func addZipMember(zw *zip.Writer, name, path string) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()
	stat, err := f.Stat()
	if err != nil {
		return err
	}
	hdr, err := zip.FileInfoHeader(stat)
	if err != nil {
		return err
	}
	hdr.Name = name
	hdr.Method = zip.Store
	out, err := zw.CreateHeader(hdr)
	if err != nil {
		return err
	}
	_, err = io.Copy(out, f)
	return err
}

func addTarMember(tw *tar.Writer, name, path string) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()
	stat, err := f.Stat()
	if err != nil {
		return err
	}
	hdr, err := tar.FileInfoHeader(stat, "")
	if err != nil {
		return err
	}
	hdr.Name = name
	if err := tw.WriteHeader(hdr); err != nil {
		return err
	}
	_, err = io.Copy(tw, f)
	return err
}
