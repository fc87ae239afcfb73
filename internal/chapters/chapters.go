// Package chapters implements the $$-sigil virtual chapter path grammar and
// chapter table acquisition (sidecar CSV, probed metadata, synthesized).
package chapters

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"log"
	"os"
	"strconv"
	"strings"
	"time"
)

// Sigil is the reserved path separator used to encode a chapter range inside
// a container file. It must never appear in a real file-system entry name.
const Sigil = "$$"

var (
	// ErrNotVirtual is returned by Parse when the path carries no sigil.
	ErrNotVirtual = errors.New("chapters: path is not a virtual chapter path")
	// ErrReserved is returned when ingestion sees a real path containing the sigil.
	ErrReserved = errors.New("chapters: path contains reserved sigil \"$$\"")
)

// Path is the parsed form of a virtual chapter path.
//
//	BASE[/|$$]CHAPTER_NAME$$START_MS-END_MS$$.EXT
type Path struct {
	Base      string // backing file path, relative to the collection root
	Name      string // chapter title, must not contain '/' or "$$"
	StartMs   uint64
	EndMs     uint64
	Ext       string // includes the leading dot, e.g. ".m4b"
	Collapsed bool   // true: "$$" separator between Base and Name; false: "/"
}

// DurationMs is EndMs - StartMs.
func (p Path) DurationMs() uint64 {
	if p.EndMs < p.StartMs {
		return 0
	}
	return p.EndMs - p.StartMs
}

// Render encodes the path byte-exactly; Parse(Render(p)) == p for any p whose
// Name contains neither '/' nor "$$".
func (p Path) Render() string {
	sep := "/"
	if p.Collapsed {
		sep = Sigil
	}
	return fmt.Sprintf("%s%s%s%s%d-%d%s%s", p.Base, sep, p.Name, Sigil, p.StartMs, p.EndMs, Sigil, p.Ext)
}

// IsReserved reports whether a raw (non-virtual) path illegally contains the sigil.
func IsReserved(path string) bool {
	return strings.Contains(path, Sigil)
}

// Parse decodes a virtual chapter path produced by Render. It returns
// ErrNotVirtual for ordinary paths so callers can fall through to normal
// file/folder handling.
func Parse(path string) (Path, error) {
	lastSigil := strings.LastIndex(path, Sigil)
	if lastSigil < 0 {
		return Path{}, ErrNotVirtual
	}
	ext := path[lastSigil+len(Sigil):]

	rest := path[:lastSigil]
	rangeSigil := strings.LastIndex(rest, Sigil)
	if rangeSigil < 0 {
		return Path{}, fmt.Errorf("%w: missing range separator", ErrNotVirtual)
	}
	rangeStr := rest[rangeSigil+len(Sigil):]
	startMs, endMs, err := parseRange(rangeStr)
	if err != nil {
		return Path{}, fmt.Errorf("chapters: bad range %q: %w", rangeStr, err)
	}

	rest = rest[:rangeSigil]

	collapsedIdx := strings.LastIndex(rest, Sigil)
	slashIdx := strings.LastIndex(rest, "/")

	var base, name string
	collapsed := false
	if collapsedIdx > slashIdx {
		collapsed = true
		base = rest[:collapsedIdx]
		name = rest[collapsedIdx+len(Sigil):]
	} else {
		if slashIdx < 0 {
			return Path{}, fmt.Errorf("%w: missing name separator", ErrNotVirtual)
		}
		base = rest[:slashIdx]
		name = rest[slashIdx+1:]
	}

	return Path{Base: base, Name: name, StartMs: startMs, EndMs: endMs, Ext: ext, Collapsed: collapsed}, nil
}

func parseRange(s string) (uint64, uint64, error) {
	parts := strings.SplitN(s, "-", 2)
	if len(parts) != 2 {
		return 0, 0, errors.New("expected START-END")
	}
	start, err := strconv.ParseUint(parts[0], 10, 64)
	if err != nil {
		return 0, 0, err
	}
	end, err := strconv.ParseUint(parts[1], 10, 64)
	if err != nil {
		return 0, 0, err
	}
	return start, end, nil
}

// Chapter is one entry of a chapter table, independent of encoding.
type Chapter struct {
	Title   string
	StartMs uint64
	EndMs   uint64
}

// Table is an ordered, validated chapter list for one backing file.
type Table []Chapter

// sanitizeName strips the sigil and path separator so a chapter title is
// always safe to embed as Path.Name.
func sanitizeName(s string) string {
	s = strings.ReplaceAll(s, Sigil, "-")
	s = strings.ReplaceAll(s, "/", "-")
	return strings.TrimSpace(s)
}

// LoadCSV reads a sibling ".chapters" file: header "title,start,end", one
// chapter per row, times as decimal seconds or HH:MM:SS.mmm. Rows with
// negative or non-monotonic times are dropped and returned as errors, one
// per rejected row, for the caller to log (LoadSidecar logs each as a WARN).
func LoadCSV(r io.Reader) (Table, []error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = 3
	header, err := cr.Read()
	if err != nil {
		return nil, []error{fmt.Errorf("chapters: read header: %w", err)}
	}
	if len(header) != 3 || strings.ToLower(header[0]) != "title" ||
		strings.ToLower(header[1]) != "start" || strings.ToLower(header[2]) != "end" {
		return nil, []error{errors.New("chapters: expected header \"title,start,end\"")}
	}

	var table Table
	var rejected []error
	prevEnd := int64(-1)
	for {
		rec, err := cr.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			rejected = append(rejected, err)
			continue
		}
		startMs, err := parseTimeField(rec[1])
		if err != nil {
			rejected = append(rejected, fmt.Errorf("chapters: row %q: bad start: %w", rec[0], err))
			continue
		}
		endMs, err := parseTimeField(rec[2])
		if err != nil {
			rejected = append(rejected, fmt.Errorf("chapters: row %q: bad end: %w", rec[0], err))
			continue
		}
		if startMs < 0 || endMs < 0 || endMs <= startMs || startMs < prevEnd {
			rejected = append(rejected, fmt.Errorf("chapters: row %q: non-monotonic or negative range", rec[0]))
			continue
		}
		table = append(table, Chapter{Title: sanitizeName(rec[0]), StartMs: uint64(startMs), EndMs: uint64(endMs)})
		prevEnd = endMs
	}
	return table, rejected
}

func parseTimeField(s string) (int64, error) {
	s = strings.TrimSpace(s)
	if strings.Contains(s, ":") {
		parts := strings.Split(s, ":")
		if len(parts) != 3 {
			return 0, fmt.Errorf("expected HH:MM:SS.mmm")
		}
		h, err := strconv.Atoi(parts[0])
		if err != nil {
			return 0, err
		}
		m, err := strconv.Atoi(parts[1])
		if err != nil {
			return 0, err
		}
		secF, err := strconv.ParseFloat(parts[2], 64)
		if err != nil {
			return 0, err
		}
		d := time.Duration(h)*time.Hour + time.Duration(m)*time.Minute +
			time.Duration(secF*float64(time.Second))
		return d.Milliseconds(), nil
	}
	secF, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, err
	}
	return int64(secF * 1000), nil
}

// LoadSidecar reads "<name>.chapters" next to the source file, if present.
func LoadSidecar(sourcePath string) (Table, error) {
	f, err := os.Open(sourcePath + ".chapters")
	if err != nil {
		return nil, err
	}
	defer f.Close()
	table, rejected := LoadCSV(f)
	for _, e := range rejected {
		// One WARN per rejected row; the rest of the table is still used.
		log.Printf("[chapters] WARN %s.chapters: %v", sourcePath, e)
	}
	return table, nil
}

// Synthesize builds equal-size chapters covering [0, durationMs) in steps of
// chapterMs, used when no sidecar or embedded chapter table exists and
// --chapters-from-duration applies.
func Synthesize(durationMs, chapterMs uint64) Table {
	if chapterMs == 0 || durationMs == 0 {
		return nil
	}
	var table Table
	n := 1
	for start := uint64(0); start < durationMs; start += chapterMs {
		end := start + chapterMs
		if end > durationMs {
			end = durationMs
		}
		table = append(table, Chapter{
			Title:   fmt.Sprintf("Chapter %d", n),
			StartMs: start,
			EndMs:   end,
		})
		n++
	}
	return table
}

// Clamp ensures a chapter range never exceeds the measured source duration.
// Called once the real duration is known (it may not have been known when
// the table was acquired).
func Clamp(table Table, durationMs uint64) Table {
	if durationMs == 0 {
		return table
	}
	out := make(Table, 0, len(table))
	for _, c := range table {
		if c.StartMs >= durationMs {
			continue
		}
		if c.EndMs > durationMs {
			c.EndMs = durationMs
		}
		out = append(out, c)
	}
	return out
}
