package index

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/audioserve/audioserve/internal/chapters"
	"github.com/audioserve/audioserve/internal/collection"
	"github.com/audioserve/audioserve/internal/meta"
	"github.com/audioserve/audioserve/internal/store"
)

const folderKeyPrefix = "folder:"

// Index owns one managed collection per declared collection.Collection and
// serves the synchronous read contract: ListFolder, Search, Recent.
type Index struct {
	mu          sync.RWMutex
	collections map[int]*managedCollection
	prober      meta.Prober
	onDemandTO  time.Duration
}

type managedCollection struct {
	col collection.Collection
	st  *store.Store

	mu      sync.Mutex // guards postings + recent (the in-memory derived views)
	postings map[string]map[string]struct{}
	recent   []recentEntry
}

type recentEntry struct {
	Path  string
	Mtime int64
}

// New builds an Index with no collections yet attached; call Attach per
// declared collection during startup.
func New(prober meta.Prober) *Index {
	return &Index{
		collections: make(map[int]*managedCollection),
		prober:      prober,
		onDemandTO:  3 * time.Second,
	}
}

// Attach opens (or creates) the backing store for col and rebuilds the
// in-memory search/recent derived views from it. It does not scan the file
// system; callers separately enqueue a full scan or verification walk.
func (ix *Index) Attach(dataDir string, col collection.Collection) error {
	st, err := store.Open(dataDir, col.Root)
	if err != nil {
		return fmt.Errorf("index: attach collection %d: %w", col.ID, err)
	}
	mc := &managedCollection{
		col:      col,
		st:       st,
		postings: make(map[string]map[string]struct{}),
	}
	if err := mc.rebuildDerivedViews(); err != nil {
		log.Printf("[index] collection %d: rebuild derived views: %v", col.ID, err)
	}

	ix.mu.Lock()
	ix.collections[col.ID] = mc
	ix.mu.Unlock()
	return nil
}

// CloseAll closes every collection's store, used on graceful shutdown.
func (ix *Index) CloseAll() {
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	for id, mc := range ix.collections {
		if err := mc.st.Close(); err != nil {
			log.Printf("[index] collection %d: close: %v", id, err)
		}
	}
}

// IsEmpty reports whether a collection's store has never been populated,
// used at startup to choose a full scan over a verification walk.
func (ix *Index) IsEmpty(colID int) bool {
	mc := ix.get(colID)
	if mc == nil {
		return true
	}
	return mc.st.IsEmpty()
}

func (ix *Index) get(colID int) *managedCollection {
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	return ix.collections[colID]
}

// Collection returns the static declaration for colID, for handlers that
// need the root path or options.
func (ix *Index) Collection(colID int) (collection.Collection, bool) {
	mc := ix.get(colID)
	if mc == nil {
		return collection.Collection{}, false
	}
	return mc.col, true
}

// Store exposes the backing KV store for colID, used by the position
// package to persist records in the same per-collection database.
func (ix *Index) Store(colID int) (*store.Store, bool) {
	mc := ix.get(colID)
	if mc == nil {
		return nil, false
	}
	return mc.st, true
}

// Collections returns every attached collection, ordered by ID.
func (ix *Index) Collections() []collection.Collection {
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	out := make([]collection.Collection, 0, len(ix.collections))
	for _, mc := range ix.collections {
		out = append(out, mc.col)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

var ErrNoCollection = fmt.Errorf("index: unknown collection")
var ErrNotFound = fmt.Errorf("index: folder not found")

// ListFolder returns the stored record for relPath, ingesting it
// synchronously with a bounded timeout when missing: a folder whose
// record is missing is fetched synchronously on demand.
func (ix *Index) ListFolder(ctx context.Context, colID int, relPath string) (FolderRecord, error) {
	mc := ix.get(colID)
	if mc == nil {
		return FolderRecord{}, ErrNoCollection
	}

	if vp, err := chapters.Parse(relPath); err == nil {
		return virtualChapterFolder(vp), nil
	}

	var rec FolderRecord
	key := folderKey(relPath)
	if err := mc.st.GetJSON(key, &rec); err == nil {
		return rec, nil
	}

	onDemandCtx, cancel := context.WithTimeout(ctx, ix.onDemandTO)
	defer cancel()
	rec, err := ix.IngestFolder(onDemandCtx, mc, relPath)
	if err != nil {
		return FolderRecord{}, fmt.Errorf("%w: %s: %v", ErrNotFound, relPath, err)
	}
	return rec, nil
}

// StoredFolder returns the persisted record for relPath without falling
// back to on-demand ingestion, used by the verification walk to compare
// stored mtime against the directory's current mtime.
func (ix *Index) StoredFolder(colID int, relPath string) (FolderRecord, error) {
	mc := ix.get(colID)
	if mc == nil {
		return FolderRecord{}, ErrNoCollection
	}
	var rec FolderRecord
	if err := mc.st.GetJSON(folderKey(relPath), &rec); err != nil {
		return FolderRecord{}, fmt.Errorf("%w: %s: %v", ErrNotFound, relPath, err)
	}
	return rec, nil
}

// IngestFolderForced re-ingests relPath unconditionally, used by the full
// scan, the verification walk, and the watcher's debounce flush.
func (ix *Index) IngestFolderForced(ctx context.Context, colID int, relPath string) (FolderRecord, error) {
	mc := ix.get(colID)
	if mc == nil {
		return FolderRecord{}, ErrNoCollection
	}
	return ix.IngestFolder(ctx, mc, relPath)
}

// RemoveFolder deletes a folder's record and derived-view entries, used when
// the verification walk or watcher observes its directory has vanished.
func (ix *Index) RemoveFolder(colID int, relPath string) error {
	mc := ix.get(colID)
	if mc == nil {
		return ErrNoCollection
	}
	mc.removeFromSearch(relPath)
	mc.removeFromRecent(relPath)
	return mc.st.Delete(folderKey(relPath))
}

func folderKey(relPath string) string {
	return folderKeyPrefix + filepath.ToSlash(relPath)
}

// relPathFromKey inverts folderKey.
func relPathFromKey(key string) string {
	return store.TrimPrefix(key, folderKeyPrefix)
}

func (mc *managedCollection) rebuildDerivedViews() error {
	return mc.st.ScanPrefix(folderKeyPrefix, func(key string, val []byte) error {
		relPath := relPathFromKey(key)
		var rec FolderRecord
		if err := json.Unmarshal(val, &rec); err != nil {
			return nil // corrupt single record: skip, don't abort the whole rebuild
		}
		mc.indexForSearch(relPath)
		mc.indexForRecent(relPath, rec.MtimeUnix)
		return nil
	})
}
