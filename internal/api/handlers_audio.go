package api

import (
	"io"
	"log"
	"net/http"
	"os"
	"path/filepath"
	"strconv"

	"github.com/audioserve/audioserve/internal/chapters"
	"github.com/audioserve/audioserve/internal/httputil"
	"github.com/audioserve/audioserve/internal/stream"
	"github.com/audioserve/audioserve/internal/transcode"
)

// handleAudio answers /col/audio/{path}?trans=l|m|h|0&seek=secs: a raw byte
// range for trans=0 (or absent) on a real file, otherwise a transcoded
// chunked stream. A virtual chapter path always takes the transcoded branch:
// virtual chapters are always streamed via the transcoding pipeline.
func (s *Server) handleAudio(w http.ResponseWriter, r *http.Request) {
	colID := collectionID(r)
	col, ok := s.idx.Collection(colID)
	if !ok {
		writeNotFound(w, "collection")
		return
	}
	reqPath := relPath(r)

	trans := r.URL.Query().Get("trans")
	seekSecs, _ := strconv.ParseFloat(r.URL.Query().Get("seek"), 64)

	if vp, err := chapters.Parse(reqPath); err == nil {
		s.serveVirtualChapter(w, r, col.Root, vp, trans, seekSecs)
		return
	}

	sourcePath := filepath.Join(col.Root, filepath.FromSlash(reqPath))
	if trans == "" || trans == "0" {
		if seekSecs != 0 {
			httputil.WriteError(w, http.StatusBadRequest, "BAD_REQUEST", "seek requires trans != 0")
			return
		}
		if err := stream.ServeDirectFile(w, r, sourcePath); err != nil {
			httputil.WriteError(w, http.StatusNotFound, "NOT_FOUND", "file not found")
		}
		return
	}

	profile, ok := resolveLevel(trans, r.UserAgent())
	if !ok {
		httputil.WriteError(w, http.StatusBadRequest, "BAD_REQUEST", "unknown trans level")
		return
	}
	s.serveTranscoded(w, r, sourcePath, uint64(seekSecs*1000), 0, profile, seekSecs == 0 && !col.Options.NoCache)
}

func resolveLevel(trans, userAgent string) (transcode.Profile, bool) {
	profiles := transcode.ProfilesForUserAgent(userAgent)
	return transcode.ForLevel(trans, profiles)
}

// serveVirtualChapter maps a chapter's [start_ms, end_ms) (shifted by an
// optional seek) onto the transcoding pipeline's start/duration arguments;
// direct byte serving of a virtual path (trans=0) is refused here with 409,
// and an absent trans defaults to the "m" profile.
func (s *Server) serveVirtualChapter(w http.ResponseWriter, r *http.Request, colRoot string, vp chapters.Path, trans string, seekSecs float64) {
	if trans == "0" {
		httputil.WriteError(w, http.StatusConflict, "CONFLICT", "virtual chapters cannot be served as direct byte ranges")
		return
	}
	if trans == "" {
		trans = "m"
	}
	profile, ok := resolveLevel(trans, r.UserAgent())
	if !ok {
		httputil.WriteError(w, http.StatusBadRequest, "BAD_REQUEST", "unknown trans level")
		return
	}

	seekMs := uint64(seekSecs * 1000)
	startMs := vp.StartMs + seekMs
	remaining := vp.DurationMs()
	if seekMs >= remaining {
		remaining = 0
	} else {
		remaining -= seekMs
	}

	sourcePath := filepath.Join(colRoot, filepath.FromSlash(vp.Base))
	// A virtual chapter is always a partial slice of its backing file, even
	// when the chapter itself starts at 0ms (the first chapter) or the
	// request adds no further seek: it must never share the whole-file
	// cache key of a plain, unseeked transcode of the same source+profile.
	s.serveTranscoded(w, r, sourcePath, startMs, remaining, profile, false)
}

// serveTranscoded streams profile's encoding of sourcePath starting at
// startMs for durationMs (0 = to end). cacheEligible must be true only for
// a real, unseeked, whole-file request — never for a virtual chapter, even
// one whose chapter happens to start at 0ms — since seeked/partial streams
// are never cached: a cache hit is served straight from disk, a cache miss
// tees the live ffmpeg output to both the response and the cache's temp file.
func (s *Server) serveTranscoded(w http.ResponseWriter, r *http.Request, sourcePath string, startMs, durationMs uint64, profile transcode.Profile, cacheEligible bool) {
	w.Header().Set("Content-Type", profile.Mime)

	if s.cache != nil && cacheEligible {
		if fi, err := os.Stat(sourcePath); err == nil {
			key := transcode.Key(sourcePath, fi.ModTime().Unix(), 0, profile)
			if cached, ok := s.cache.Lookup(key); ok {
				f, err := os.Open(cached)
				if err == nil {
					defer f.Close()
					w.WriteHeader(http.StatusOK)
					io.Copy(w, f)
					return
				}
			}

			w.WriteHeader(http.StatusOK)
			pr, pw := io.Pipe()
			go func() {
				err := s.pool.RunRange(r.Context(), sourcePath, startMs, durationMs, profile, io.MultiWriter(w, pw))
				pw.CloseWithError(err)
			}()
			if _, err := s.cache.Store(key, profile, pr); err != nil {
				log.Printf("[api] cache store %s: %v", sourcePath, err)
			}
			return
		}
	}

	w.WriteHeader(http.StatusOK)
	if err := s.pool.RunRange(r.Context(), sourcePath, startMs, durationMs, profile, w); err != nil {
		log.Printf("[api] transcode %s: %v", sourcePath, err)
	}
}
