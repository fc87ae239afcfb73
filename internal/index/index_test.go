package index

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"

	"github.com/audioserve/audioserve/internal/chapters"
	"github.com/audioserve/audioserve/internal/collection"
	"github.com/audioserve/audioserve/internal/meta"
)

// fakeProber returns a fixed duration for every file so tests don't depend on
// a real ffprobe binary being installed.
type fakeProber struct {
	durationSecs uint32
	chapters     chapters.Table
	tags         map[string]string
}

func (f fakeProber) Probe(ctx context.Context, path string) (meta.Result, error) {
	return meta.Result{DurationSecs: f.durationSecs, Chapters: f.chapters, Tags: f.tags}, nil
}

func mustWriteFile(t *testing.T, path string) {
	t.Helper()
	if err := os.WriteFile(path, []byte("x"), 0o644); err != nil {
		t.Fatalf("write %s: %v", path, err)
	}
}

func TestIngestFolderBasic(t *testing.T) {
	root := t.TempDir()
	mustWriteFile(t, filepath.Join(root, "01.mp3"))
	mustWriteFile(t, filepath.Join(root, "02.mp3"))
	mustWriteFile(t, filepath.Join(root, "cover.jpg"))
	if err := os.Mkdir(filepath.Join(root, "Extras"), 0o755); err != nil {
		t.Fatal(err)
	}

	col := collection.Collection{ID: 0, Name: "books", Root: root}
	ix := New(fakeProber{durationSecs: 100})
	if err := ix.Attach(t.TempDir(), col); err != nil {
		t.Fatalf("attach: %v", err)
	}
	defer ix.CloseAll()

	rec, err := ix.ListFolder(context.Background(), 0, "")
	if err != nil {
		t.Fatalf("ListFolder: %v", err)
	}
	if len(rec.Files) != 2 {
		t.Fatalf("want 2 audio files, got %d: %+v", len(rec.Files), rec.Files)
	}
	if len(rec.Subfolders) != 1 || rec.Subfolders[0].Name != "Extras" {
		t.Fatalf("want Extras subfolder, got %+v", rec.Subfolders)
	}
	if rec.Cover == nil || rec.Cover.Path != "cover.jpg" {
		t.Fatalf("want cover.jpg, got %+v", rec.Cover)
	}
	if rec.TotalTimeSecs != 200 {
		t.Fatalf("want total 200s, got %d", rec.TotalTimeSecs)
	}
}

func TestIngestFolderSingleFileChapterCollapse(t *testing.T) {
	root := t.TempDir()
	mustWriteFile(t, filepath.Join(root, "book.m4b"))

	table := chapters.Table{
		{Title: "Chapter One", StartMs: 0, EndMs: 60000},
		{Title: "Chapter Two", StartMs: 60000, EndMs: 120000},
	}
	col := collection.Collection{ID: 0, Name: "books", Root: root}
	ix := New(fakeProber{durationSecs: 120, chapters: table})
	if err := ix.Attach(t.TempDir(), col); err != nil {
		t.Fatalf("attach: %v", err)
	}
	defer ix.CloseAll()

	rec, err := ix.ListFolder(context.Background(), 0, "")
	if err != nil {
		t.Fatalf("ListFolder: %v", err)
	}
	if len(rec.Files) != 0 {
		t.Fatalf("want files[] cleared on chapter collapse, got %+v", rec.Files)
	}
	if len(rec.Subfolders) != 2 {
		t.Fatalf("want 2 virtual chapter pseudo-folders, got %d: %+v", len(rec.Subfolders), rec.Subfolders)
	}
	for _, sf := range rec.Subfolders {
		if !sf.IsFilePseudo {
			t.Fatalf("want is_file_pseudo_folder set, got %+v", sf)
		}
		vp, err := chapters.Parse(sf.Path)
		if err != nil {
			t.Fatalf("expected virtual chapter path, got %q: %v", sf.Path, err)
		}

		chapterRec, err := ix.ListFolder(context.Background(), 0, sf.Path)
		if err != nil {
			t.Fatalf("ListFolder(%q): %v", sf.Path, err)
		}
		if len(chapterRec.Files) != 1 {
			t.Fatalf("want 1 file in chapter pseudo-folder, got %+v", chapterRec.Files)
		}
		if _, err := chapters.Parse(chapterRec.Files[0].Path); err != nil {
			t.Fatalf("expected collapsed virtual chapter path, got %q: %v", chapterRec.Files[0].Path, err)
		}
		_ = vp
	}
}

func TestSearchAndRecent(t *testing.T) {
	root := t.TempDir()
	if err := os.MkdirAll(filepath.Join(root, "Tolkien", "Hobbit"), 0o755); err != nil {
		t.Fatal(err)
	}
	mustWriteFile(t, filepath.Join(root, "Tolkien", "Hobbit", "01.mp3"))

	col := collection.Collection{ID: 0, Name: "books", Root: root}
	ix := New(fakeProber{durationSecs: 10})
	if err := ix.Attach(t.TempDir(), col); err != nil {
		t.Fatalf("attach: %v", err)
	}
	defer ix.CloseAll()

	if _, err := ix.ListFolder(context.Background(), 0, "Tolkien/Hobbit"); err != nil {
		t.Fatalf("ListFolder: %v", err)
	}

	results, err := ix.Search(0, "hobbit")
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	found := false
	for _, r := range results {
		if r == "Tolkien/Hobbit" {
			found = true
		}
	}
	if !found {
		t.Fatalf("expected Tolkien/Hobbit in results, got %v", results)
	}

	recent, err := ix.Recent(0, 10)
	if err != nil {
		t.Fatalf("Recent: %v", err)
	}
	if len(recent) != 1 || recent[0] != "Tolkien/Hobbit" {
		t.Fatalf("want [Tolkien/Hobbit], got %v", recent)
	}
}

// TestRescanUnchangedDirectoryIsIdempotent checks the round-trip invariant:
// re-ingesting a directory that hasn't changed on disk produces a
// bit-identical FolderRecord, excluding the mtime field itself.
func TestRescanUnchangedDirectoryIsIdempotent(t *testing.T) {
	root := t.TempDir()
	mustWriteFile(t, filepath.Join(root, "01.mp3"))
	mustWriteFile(t, filepath.Join(root, "02.mp3"))
	mustWriteFile(t, filepath.Join(root, "cover.jpg"))

	col := collection.Collection{ID: 0, Name: "books", Root: root}
	ix := New(fakeProber{durationSecs: 42, tags: map[string]string{"artist": "Someone"}})
	if err := ix.Attach(t.TempDir(), col); err != nil {
		t.Fatalf("attach: %v", err)
	}
	defer ix.CloseAll()

	first, err := ix.ListFolder(context.Background(), 0, "")
	if err != nil {
		t.Fatalf("ListFolder (first): %v", err)
	}
	second, err := ix.IngestFolderForced(context.Background(), 0, "")
	if err != nil {
		t.Fatalf("IngestFolderForced (rescan): %v", err)
	}

	if diff := cmp.Diff(first, second, cmpopts.IgnoreFields(FolderRecord{}, "MtimeUnix")); diff != "" {
		t.Fatalf("rescan of an unchanged directory is not idempotent (-first +second):\n%s", diff)
	}
}
