// Package stream serves audio bytes to HTTP clients directly: the source
// file unmodified, with single-range byte support. Virtual chapter paths
// never reach this package — they're always served through
// transcode.Pool, since a chapter slice isn't seekable without reencoding.
package stream

import (
	"fmt"
	"io"
	"net/http"
	"os"
	"strconv"
	"strings"
)

var directMimeByExt = map[string]string{
	".mp3":  "audio/mpeg",
	".m4a":  "audio/mp4",
	".m4b":  "audio/mp4",
	".aac":  "audio/aac",
	".flac": "audio/flac",
	".ogg":  "audio/ogg",
	".opus": "audio/opus",
	".wav":  "audio/wav",
	".wma":  "audio/x-ms-wma",
}

func mimeForExt(filePath string) string {
	lower := strings.ToLower(filePath)
	for ext, mime := range directMimeByExt {
		if strings.HasSuffix(lower, ext) {
			return mime
		}
	}
	return "application/octet-stream"
}

// ServeDirectFile serves filePath as-is, honoring a Range request.
func ServeDirectFile(w http.ResponseWriter, r *http.Request, filePath string) error {
	file, err := os.Open(filePath)
	if err != nil {
		return fmt.Errorf("open file: %w", err)
	}
	defer file.Close()

	stat, err := file.Stat()
	if err != nil {
		return fmt.Errorf("stat file: %w", err)
	}

	fileSize := stat.Size()
	contentType := mimeForExt(filePath)

	if rangeHeader := r.Header.Get("Range"); rangeHeader != "" {
		return serveRange(w, file, fileSize, rangeHeader, contentType)
	}

	w.Header().Set("Content-Type", contentType)
	w.Header().Set("Content-Length", strconv.FormatInt(fileSize, 10))
	w.Header().Set("Accept-Ranges", "bytes")
	w.WriteHeader(http.StatusOK)
	_, err = io.Copy(w, file)
	return err
}

func serveRange(w http.ResponseWriter, file *os.File, fileSize int64, rangeHeader, contentType string) error {
	rangeHeader = strings.TrimPrefix(rangeHeader, "bytes=")
	parts := strings.SplitN(rangeHeader, "-", 2)
	if len(parts) != 2 {
		return fmt.Errorf("invalid range header")
	}

	var start, end int64
	if parts[0] != "" {
		s, err := strconv.ParseInt(parts[0], 10, 64)
		if err != nil {
			return err
		}
		start = s
	}
	if parts[1] != "" {
		e, err := strconv.ParseInt(parts[1], 10, 64)
		if err != nil {
			return err
		}
		end = e
	} else {
		end = fileSize - 1
	}

	if start >= fileSize || start > end {
		w.WriteHeader(http.StatusRequestedRangeNotSatisfiable)
		return nil
	}
	if end >= fileSize {
		end = fileSize - 1
	}

	length := end - start + 1
	if _, err := file.Seek(start, io.SeekStart); err != nil {
		return err
	}

	w.Header().Set("Content-Type", contentType)
	w.Header().Set("Content-Length", strconv.FormatInt(length, 10))
	w.Header().Set("Content-Range", fmt.Sprintf("bytes %d-%d/%d", start, end, fileSize))
	w.Header().Set("Accept-Ranges", "bytes")
	w.WriteHeader(http.StatusPartialContent)

	_, err := io.CopyN(w, file, length)
	return err
}
