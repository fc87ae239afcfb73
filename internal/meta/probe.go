// Package meta wraps the external metadata-decoding binding assumed by the
// collection index: given a file path it returns duration, bitrate, a
// chapter table, and a flat tag map. The binding is modeled as an interface
// so the index package never depends on a concrete decoder.
package meta

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"os"
	"os/exec"
	"strconv"
	"strings"
	"unicode/utf8"

	"github.com/dhowden/tag"
	"golang.org/x/text/encoding"
	"golang.org/x/text/encoding/htmlindex"

	"github.com/audioserve/audioserve/internal/chapters"
)

// defaultTagKeys is the built-in recognized tag set, used when --tags is
// not configured.
var defaultTagKeys = []string{"title", "artist", "album", "album_artist", "genre", "year", "track"}

// Result is what a successful probe yields. A failed probe downgrades the
// caller's FileEntry to a zeroed Result rather than aborting ingestion.
type Result struct {
	DurationSecs uint32
	BitrateKbps  uint32
	Chapters     chapters.Table
	Tags         map[string]string
}

// Prober is the in-process decoder binding: open(path) -> (duration,
// bitrate, chapters[], tags{}).
type Prober interface {
	Probe(ctx context.Context, path string) (Result, error)
}

// FFProbeBinding shells out to an ffprobe-compatible binary for duration,
// bitrate and embedded chapters, and reads ID3/Vorbis/MP4 tags in-process via
// github.com/dhowden/tag. This is the concrete stand-in for the external
// media-decoding library, assumed elsewhere to be an in-process binding.
type FFProbeBinding struct {
	BinaryPath string

	// recognizedTags is the tag-key allowlist surfaced by readTags;
	// --tags overrides defaultTagKeys wholesale when non-empty.
	recognizedTags map[string]bool
	// customTags are additional raw frame/comment keys (matched
	// case-insensitively against tag.Metadata.Raw()) surfaced alongside
	// recognizedTags, per --tags-custom.
	customTags []string
	// legacyEncoding decodes tag values that arrive as non-UTF-8 bytes
	// (typically ID3v1, which carries no declared encoding), per
	// --tags-encoding. nil means no transcoding is attempted.
	legacyEncoding encoding.Encoding
}

func NewFFProbeBinding(binaryPath string) *FFProbeBinding {
	return NewFFProbeBindingWithTags(binaryPath, "", "", "")
}

// NewFFProbeBindingWithTags builds an FFProbeBinding honoring the --tags,
// --tags-custom and --tags-encoding flags. tagsCSV/tagsCustomCSV are
// comma-separated tag-key lists; tagsEncoding is an IANA/MIME encoding name
// (e.g. "windows-1250"). An unresolvable encoding name is logged and
// ignored rather than failing startup.
func NewFFProbeBindingWithTags(binaryPath, tagsCSV, tagsCustomCSV, tagsEncoding string) *FFProbeBinding {
	if binaryPath == "" {
		binaryPath = "ffprobe"
	}
	var recognized map[string]bool
	if tagsCSV != "" {
		keys := splitCSV(tagsCSV)
		recognized = make(map[string]bool, len(keys))
		for _, k := range keys {
			recognized[k] = true
		}
	}

	var enc encoding.Encoding
	if tagsEncoding != "" {
		e, err := htmlindex.Get(tagsEncoding)
		if err != nil {
			log.Printf("[meta] tags-encoding %q: %v; legacy tags kept as-is", tagsEncoding, err)
		} else {
			enc = e
		}
	}

	return &FFProbeBinding{
		BinaryPath:     binaryPath,
		recognizedTags: recognized,
		customTags:     splitCSV(tagsCustomCSV),
		legacyEncoding: enc,
	}
}

func splitCSV(s string) []string {
	if s == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

type ffprobeOutput struct {
	Format struct {
		Duration string            `json:"duration"`
		BitRate  string            `json:"bit_rate"`
		Tags     map[string]string `json:"tags"`
	} `json:"format"`
	Chapters []struct {
		StartTime string            `json:"start_time"`
		EndTime   string            `json:"end_time"`
		Tags      map[string]string `json:"tags"`
	} `json:"chapters"`
}

func (b *FFProbeBinding) Probe(ctx context.Context, path string) (Result, error) {
	cmd := exec.CommandContext(ctx, b.BinaryPath,
		"-v", "quiet",
		"-print_format", "json",
		"-show_format",
		"-show_chapters",
		path,
	)
	out, err := cmd.Output()
	if err != nil {
		return Result{}, fmt.Errorf("meta: ffprobe: %w", err)
	}

	var data ffprobeOutput
	if err := json.Unmarshal(out, &data); err != nil {
		return Result{}, fmt.Errorf("meta: parse ffprobe output: %w", err)
	}

	var res Result
	if data.Format.Duration != "" {
		if d, err := strconv.ParseFloat(data.Format.Duration, 64); err == nil {
			res.DurationSecs = uint32(d + 0.5)
		}
	}
	if data.Format.BitRate != "" {
		if br, err := strconv.Atoi(data.Format.BitRate); err == nil {
			res.BitrateKbps = uint32(br / 1000)
		}
	}

	for _, c := range data.Chapters {
		startSec, _ := strconv.ParseFloat(c.StartTime, 64)
		endSec, _ := strconv.ParseFloat(c.EndTime, 64)
		title := c.Tags["title"]
		if title == "" {
			title = fmt.Sprintf("Chapter %d", len(res.Chapters)+1)
		}
		res.Chapters = append(res.Chapters, chapters.Chapter{
			Title:   title,
			StartMs: uint64(startSec * 1000),
			EndMs:   uint64(endSec * 1000),
		})
	}

	res.Tags = b.readTags(path)
	return res, nil
}

// readTags extracts a flat tag map via dhowden/tag, filtered to the
// recognized tag set plus any configured custom keys, transcoding values
// through legacyEncoding when one is configured. A read failure (e.g. a
// format dhowden/tag cannot parse) is not fatal to the probe as a whole.
func (b *FFProbeBinding) readTags(path string) map[string]string {
	f, err := os.Open(path)
	if err != nil {
		return nil
	}
	defer f.Close()

	m, err := tag.ReadFrom(f)
	if err != nil {
		return nil
	}

	all := map[string]string{}
	if v := m.Title(); v != "" {
		all["title"] = v
	}
	if v := m.Artist(); v != "" {
		all["artist"] = v
	}
	if v := m.Album(); v != "" {
		all["album"] = v
	}
	if v := m.AlbumArtist(); v != "" {
		all["album_artist"] = v
	}
	if v := m.Genre(); v != "" {
		all["genre"] = v
	}
	if y := m.Year(); y != 0 {
		all["year"] = strconv.Itoa(y)
	}
	if n, _ := m.Track(); n != 0 {
		all["track"] = strconv.Itoa(n)
	}
	for _, key := range b.customTags {
		if _, ok := all[key]; ok {
			continue
		}
		if v, ok := rawTagValue(m, key); ok {
			all[key] = v
		}
	}

	recognized := b.recognizedTags
	if recognized == nil {
		recognized = defaultRecognizedSet
	}

	out := map[string]string{}
	for k, v := range all {
		if !recognized[k] && !containsFold(b.customTags, k) {
			continue
		}
		out[k] = b.decodeLegacy(v)
	}
	if len(out) == 0 {
		return nil
	}
	return out
}

var defaultRecognizedSet = func() map[string]bool {
	m := make(map[string]bool, len(defaultTagKeys))
	for _, k := range defaultTagKeys {
		m[k] = true
	}
	return m
}()

// rawTagValue looks up key case-insensitively in m.Raw(), the raw
// frame/comment map dhowden/tag exposes beyond its typed accessors; this is
// how --tags-custom reaches format-specific frames (e.g. ID3 "TXXX:MOOD",
// a Vorbis comment key) the typed API doesn't surface.
func rawTagValue(m tag.Metadata, key string) (string, bool) {
	for k, v := range m.Raw() {
		if strings.EqualFold(k, key) {
			return fmt.Sprint(v), true
		}
	}
	return "", false
}

func containsFold(keys []string, key string) bool {
	for _, k := range keys {
		if strings.EqualFold(k, key) {
			return true
		}
	}
	return false
}

// decodeLegacy transcodes v through legacyEncoding when v isn't valid UTF-8
// (the case for an ID3v1 frame, which carries no declared encoding); a
// well-formed UTF-8 value (ID3v2, Vorbis comments, MP4 atoms) passes through
// untouched.
func (b *FFProbeBinding) decodeLegacy(v string) string {
	if b.legacyEncoding == nil || utf8.ValidString(v) {
		return v
	}
	decoded, err := b.legacyEncoding.NewDecoder().String(v)
	if err != nil {
		return v
	}
	return decoded
}

