// Package index maintains the on-disk indexed cache of each collection's
// directory tree. It owns ingestion, the search/recent derived
// views, and synchronous on-demand folder reads.
package index

import "github.com/audioserve/audioserve/internal/chapters"

// FileMeta is the probed, cacheable subset of a file's audio properties.
// Zero means "unknown" (a failed probe downgrades to this rather than
// aborting ingestion of the rest of the folder).
type FileMeta struct {
	DurationSecs uint32 `json:"duration"`
	BitrateKbps  uint32 `json:"bitrate"`
}

// Section marks a FileEntry as a chapter slice of a backing container file.
type Section struct {
	StartMs   uint64 `json:"start_ms"`
	DurationMs uint64 `json:"duration_ms"`
}

// FileEntry is one audio (or virtual chapter) child of a folder.
type FileEntry struct {
	Name    string            `json:"name"`
	Path    string            `json:"path"`
	Mime    string            `json:"mime"`
	Meta    FileMeta          `json:"meta"`
	Section *Section          `json:"section,omitempty"`
	Tags    map[string]string `json:"tags,omitempty"`
}

// SubfolderRef is one child folder, real or a synthesized virtual-chapter
// pseudo-folder.
type SubfolderRef struct {
	Name         string `json:"name"`
	Path         string `json:"path"`
	IsFilePseudo bool   `json:"is_file,omitempty"`
}

// CoverRef points at the first cover/description candidate in a folder.
type CoverRef struct {
	Path string `json:"path"`
	Mime string `json:"mime"`
}

// FolderRecord is the indexed, JSON-serializable summary of one directory
// The same shape represents a real folder, a chapter-collapsed
// "folder of chapter files", and a CD-collapsed merge; that polymorphism
// never leaks to the wire.
type FolderRecord struct {
	MtimeUnix   int64          `json:"mtime"`
	Subfolders  []SubfolderRef `json:"subfolders"`
	Files       []FileEntry    `json:"files"`
	Cover       *CoverRef      `json:"cover,omitempty"`
	Description *CoverRef      `json:"description,omitempty"`
	Tags        map[string]string `json:"tags,omitempty"`
	TotalTimeSecs uint32       `json:"total_time"`
}

// chapterTable is a convenience alias kept local to avoid every file in
// this package importing chapters just for the type name.
type chapterTable = chapters.Table
