package index

import (
	"context"
	"fmt"
	"log"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"

	"github.com/audioserve/audioserve/internal/chapters"
)

// IngestFolder reads relPath's directory from disk, probes every audio file,
// applies CD-folder collapsing and single-file chapter collapsing, persists
// the resulting FolderRecord and refreshes the derived search/recent views.
// It never recurses beyond one level of CD-folder merge: ordinary
// subdirectories are listed but not themselves ingested here.
func (ix *Index) IngestFolder(ctx context.Context, mc *managedCollection, relPath string) (FolderRecord, error) {
	absDir := filepath.Join(mc.col.Root, filepath.FromSlash(relPath))
	entries, err := os.ReadDir(absDir)
	if err != nil {
		return FolderRecord{}, fmt.Errorf("index: read dir %s: %w", absDir, err)
	}

	info, err := os.Stat(absDir)
	if err != nil {
		return FolderRecord{}, fmt.Errorf("index: stat %s: %w", absDir, err)
	}

	var previous FolderRecord
	hadPrevious := mc.st.GetJSON(folderKey(relPath), &previous) == nil

	var subfolders []SubfolderRef
	var audioFiles []os.DirEntry
	var imageFiles []os.DirEntry
	var textFiles []os.DirEntry

	for _, e := range entries {
		name := e.Name()
		if name == "" || name[0] == '.' {
			continue
		}
		if chapters.IsReserved(name) {
			continue // the sigil is reserved; real filesystem entries never carry it
		}

		if e.IsDir() {
			if mc.col.Options.CollapseCDFolders && mc.col.Options.CDFolderRegexp != nil &&
				mc.col.Options.CDFolderRegexp.MatchString(name) {
				merged, err := ix.collapseCDFolder(ctx, mc, relPath, name)
				if err != nil {
					continue
				}
				audioFiles = append(audioFiles, merged...)
				continue
			}
			subfolders = append(subfolders, SubfolderRef{
				Name: name,
				Path: path.Join(relPath, name),
			})
			continue
		}

		switch {
		case isAudioEntry(name):
			audioFiles = append(audioFiles, e)
		case isImageEntry(name):
			imageFiles = append(imageFiles, e)
		case isTextEntry(name):
			textFiles = append(textFiles, e)
		}
	}

	rec := FolderRecord{MtimeUnix: info.ModTime().Unix()}

	if len(imageFiles) > 0 {
		name := imageFiles[0].Name()
		mime, _ := imageMime(name)
		rec.Cover = &CoverRef{Path: path.Join(relPath, name), Mime: mime}
	}
	if len(textFiles) > 0 {
		name := textFiles[0].Name()
		mime, _ := textMime(name)
		rec.Description = &CoverRef{Path: path.Join(relPath, name), Mime: mime}
	}

	files, tables, total, commonTags := ix.buildFileEntries(ctx, mc, relPath, audioFiles)
	rec.TotalTimeSecs = total
	rec.Tags = commonTags

	// Single-file chapter collapse: exactly one real audio file, no
	// subdirectories survived CD-collapsing, and it carries more than one
	// chapter — the folder becomes a folder of virtual chapter pseudo-folders,
	// one per chapter, and files[] is cleared.
	if len(subfolders) == 0 && len(audioFiles) == 1 && !mc.col.Options.NoDirCollaps {
		if chapterFolders, ok := collapseChapterFile(files[0], tables[0]); ok {
			subfolders = chapterFolders
			rec.Files = nil
		} else {
			rec.Files = files
		}
	} else {
		rec.Files = files
	}
	rec.Subfolders = subfolders

	if err := mc.st.PutJSON(folderKey(relPath), &rec); err != nil {
		return FolderRecord{}, fmt.Errorf("index: persist folder %s: %w", relPath, err)
	}

	mc.indexForSearch(relPath)
	mc.indexForRecent(relPath, rec.MtimeUnix)

	if hadPrevious {
		ix.removeVanishedSubfolders(mc, previous.Subfolders, rec.Subfolders)
	}

	return rec, nil
}

// virtualChapterFolder renders a one-file FolderRecord for a virtual
// chapter's pseudo-folder path: navigating into one of the subfolders
// produced by collapseChapterFile lands here, with the chapter itself
// presented as the folder's sole (collapsed-form) file entry.
func virtualChapterFolder(vp chapters.Path) FolderRecord {
	mime, _ := audioMime(vp.Ext)
	collapsed := vp
	collapsed.Collapsed = true
	return FolderRecord{
		Files: []FileEntry{{
			Name:    vp.Name + vp.Ext,
			Path:    collapsed.Render(),
			Mime:    mime,
			Meta:    FileMeta{DurationSecs: uint32(vp.DurationMs() / 1000)},
			Section: &Section{StartMs: vp.StartMs, DurationMs: vp.DurationMs()},
		}},
	}
}

func isAudioEntry(name string) bool { _, ok := audioMime(name); return ok }
func isImageEntry(name string) bool { _, ok := imageMime(name); return ok }
func isTextEntry(name string) bool  { _, ok := textMime(name); return ok }

// collapseCDFolder recurses one level into a CD-style sibling directory and
// returns its audio files with names prefixed so they read as one merged
// track listing in the parent folder.
func (ix *Index) collapseCDFolder(ctx context.Context, mc *managedCollection, parentRel, cdName string) ([]os.DirEntry, error) {
	absCD := filepath.Join(mc.col.Root, filepath.FromSlash(parentRel), cdName)
	entries, err := os.ReadDir(absCD)
	if err != nil {
		return nil, err
	}
	var out []os.DirEntry
	for _, e := range entries {
		if !e.IsDir() && isAudioEntry(e.Name()) {
			out = append(out, cdPrefixedEntry{DirEntry: e, prefix: cdName, parentRel: parentRel})
		}
	}
	return out, nil
}

// cdPrefixedEntry decorates a DirEntry from inside a collapsed CD folder so
// downstream probing can still find the file on disk (via relPath) while the
// displayed Name carries the CD folder prefix.
type cdPrefixedEntry struct {
	os.DirEntry
	prefix    string
	parentRel string
}

func (c cdPrefixedEntry) Name() string { return c.prefix + " - " + c.DirEntry.Name() }

// sourceRelPath returns the real on-disk relative path for an audio DirEntry,
// accounting for the CD-folder prefix decoration.
func sourceRelPath(relPath string, e os.DirEntry) string {
	if cd, ok := e.(cdPrefixedEntry); ok {
		return path.Join(cd.parentRel, cd.prefix, cd.DirEntry.Name())
	}
	return path.Join(relPath, e.Name())
}

// buildFileEntries probes each audio entry, builds its FileEntry, acquires
// its chapter table (sidecar, then probed, then synthesized), and computes
// the folder's total duration and any tag values shared identically across
// every file (promoted to the folder level). The returned chapters.Table
// slice is parallel to the FileEntry slice for the benefit of the single-file
// collapse check in IngestFolder.
func (ix *Index) buildFileEntries(ctx context.Context, mc *managedCollection, relPath string, entries []os.DirEntry) ([]FileEntry, []chapters.Table, uint32, map[string]string) {
	type built struct {
		entry FileEntry
		table chapters.Table
	}
	items := make([]built, 0, len(entries))
	var total uint32
	common := map[string]string{}
	first := true

	for _, e := range entries {
		name := e.Name()
		srcRel := sourceRelPath(relPath, e)
		absPath := filepath.Join(mc.col.Root, filepath.FromSlash(srcRel))
		mime, _ := audioMime(name)

		fe := FileEntry{Name: name, Path: path.Join(relPath, name), Mime: mime}
		var table chapters.Table

		res, err := ix.prober.Probe(ctx, absPath)
		if err == nil {
			fe.Meta = FileMeta{DurationSecs: res.DurationSecs, BitrateKbps: res.BitrateKbps}
			// Copy: tag promotion below deletes keys from fe.Tags, and the
			// prober's own map must stay untouched.
			if len(res.Tags) > 0 {
				fe.Tags = make(map[string]string, len(res.Tags))
				for k, v := range res.Tags {
					fe.Tags[k] = v
				}
			}
			total += res.DurationSecs
			if !mc.col.Options.IgnoreChaptersMeta {
				table = res.Chapters
			}
		}

		if sidecar, serr := chapters.LoadSidecar(absPath); serr == nil && len(sidecar) > 0 {
			table = sidecar
		}
		if len(table) == 0 && mc.col.Options.ChaptersFromDuration > 0 {
			durationMs := uint64(fe.Meta.DurationSecs) * 1000
			if durationMs >= uint64(mc.col.Options.ChaptersFromDuration)*1000 {
				table = chapters.Synthesize(durationMs, uint64(mc.col.Options.ChaptersDuration)*1000)
			}
		}
		table = chapters.Clamp(table, uint64(fe.Meta.DurationSecs)*1000)

		items = append(items, built{entry: fe, table: table})

		if first {
			for k, v := range fe.Tags {
				common[k] = v
			}
			first = false
		} else {
			for k, v := range common {
				if fe.Tags[k] != v {
					delete(common, k)
				}
			}
		}
	}

	if len(common) == 0 {
		common = nil
	}

	// Tags promoted to the folder level are dropped from the per-file
	// entries: FileEntry.Tags carries only per-file tags surviving the
	// folder-level promotion.
	for i := range items {
		if len(common) == 0 || len(items[i].entry.Tags) == 0 {
			continue
		}
		for k := range common {
			delete(items[i].entry.Tags, k)
		}
		if len(items[i].entry.Tags) == 0 {
			items[i].entry.Tags = nil
		}
	}

	sort.Slice(items, func(i, j int) bool { return items[i].entry.Name < items[j].entry.Name })

	files := make([]FileEntry, len(items))
	tables := make([]chapters.Table, len(items))
	for i, it := range items {
		files[i] = it.entry
		tables[i] = it.table
	}
	return files, tables, total, common
}

// collapseChapterFile turns a single audio FileEntry carrying a chapter table
// into a slice of virtual chapter pseudo-folders, one per chapter, named by
// the $$-sigil grammar's pseudo-folder form. It reports ok=false when the
// source has fewer than two chapters, leaving the caller to keep the plain
// file entry. Listing one of these pseudo-folder paths resolves to a
// one-file FolderRecord via virtualChapterFolder (index.go).
func collapseChapterFile(fe FileEntry, table chapters.Table) ([]SubfolderRef, bool) {
	if len(table) < 2 {
		return nil, false
	}

	ext := filepath.Ext(fe.Name)
	out := make([]SubfolderRef, 0, len(table))
	for _, ch := range table {
		vp := chapters.Path{
			Base:      fe.Path,
			Name:      ch.Title,
			StartMs:   ch.StartMs,
			EndMs:     ch.EndMs,
			Ext:       ext,
			Collapsed: false,
		}
		out = append(out, SubfolderRef{
			Name:         ch.Title,
			Path:         vp.Render(),
			IsFilePseudo: true,
		})
	}
	return out, true
}

// removeVanishedSubfolders diffs a folder's previously-stored real (i.e.
// non-pseudo) subfolder list against the freshly-ingested one and removes
// the stored record tree of every child that no longer exists on disk —
// a renamed or deleted child directory (e.g. "Author/Book" -> "Author/Book2")
// must stop being servable immediately, not only at the next periodic
// verification walk.
func (ix *Index) removeVanishedSubfolders(mc *managedCollection, oldSubs, newSubs []SubfolderRef) {
	stillPresent := make(map[string]struct{}, len(newSubs))
	for _, s := range newSubs {
		if !s.IsFilePseudo {
			stillPresent[s.Path] = struct{}{}
		}
	}
	for _, s := range oldSubs {
		if s.IsFilePseudo {
			continue // virtual chapter pseudo-folders were never stored
		}
		if _, ok := stillPresent[s.Path]; ok {
			continue
		}
		ix.removeFolderTree(mc, s.Path)
	}
}

// removeFolderTree deletes relPath's own stored record along with every
// descendant folder record beneath it, and drops each from the derived
// search/recent views, so a vanished subtree never lingers as servable
// stale state.
func (ix *Index) removeFolderTree(mc *managedCollection, relPath string) {
	prefix := folderKey(relPath)
	var descendants []string
	_ = mc.st.ScanPrefix(prefix, func(key string, _ []byte) error {
		rel := relPathFromKey(key)
		if rel == relPath || strings.HasPrefix(rel, relPath+"/") {
			descendants = append(descendants, rel)
		}
		return nil
	})

	for _, rel := range descendants {
		mc.removeFromSearch(rel)
		mc.removeFromRecent(rel)
		if err := mc.st.Delete(folderKey(rel)); err != nil {
			log.Printf("[index] remove vanished folder %s: %v", rel, err)
		}
	}
}
