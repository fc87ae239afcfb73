package transcode

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/cespare/xxhash/v2"
	"github.com/google/uuid"

	"github.com/audioserve/audioserve/internal/store"
)

const cacheEntryPrefix = "tc:"

// cacheEntry is the metadata kept for one cached transcode output; the audio
// bytes themselves live on disk under Cache.dir, not in the metadata store.
type cacheEntry struct {
	RelFile        string `json:"file"`
	SizeBytes      int64  `json:"size"`
	LastAccessUnix int64  `json:"last_access"`
}

// Cache is the optional content-addressed transcode output cache. A
// collection with NoCache set never consults one.
type Cache struct {
	dir      string
	st       *store.Store
	maxBytes int64
	maxFiles int
	mu       sync.Mutex
}

// OpenCache opens (creating if needed) the shared transcode cache under
// dataDir, bounded to maxBytes of audio payload.
func OpenCache(dataDir string, maxBytes int64) (*Cache, error) {
	return OpenCacheWithLimits(dataDir, maxBytes, 0)
}

// OpenCacheWithLimits is OpenCache plus a max-entry-count bound
// (--t-cache-max-files); 0 disables the file-count bound.
func OpenCacheWithLimits(dataDir string, maxBytes int64, maxFiles int) (*Cache, error) {
	dir := filepath.Join(dataDir, "audioserve-cache")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("transcode: mkdir %s: %w", dir, err)
	}
	st, err := store.Open(dataDir, "audioserve-transcode-cache-index")
	if err != nil {
		return nil, fmt.Errorf("transcode: open cache index: %w", err)
	}
	return &Cache{dir: dir, st: st, maxBytes: maxBytes, maxFiles: maxFiles}, nil
}

func (c *Cache) Close() error { return c.st.Close() }

// Key deterministically names a cache entry for one (source, start offset,
// profile) triple. Source identity includes its mtime so an edited file
// can't serve a stale cached transcode.
func Key(sourcePath string, sourceModUnix int64, startMs uint64, profile Profile) string {
	composite := fmt.Sprintf("%s|%d|%d|%s", sourcePath, sourceModUnix, startMs, profile.Name)
	return fmt.Sprintf("%016x", xxhash.Sum64String(composite))
}

// Lookup returns the on-disk path of a cached transcode, if present, and
// bumps its last-access time for the LRU.
func (c *Cache) Lookup(key string) (path string, ok bool) {
	var entry cacheEntry
	if err := c.st.GetJSON(cacheEntryPrefix+key, &entry); err != nil {
		return "", false
	}
	full := filepath.Join(c.dir, entry.RelFile)
	if _, err := os.Stat(full); err != nil {
		_ = c.st.Delete(cacheEntryPrefix + key)
		return "", false
	}
	entry.LastAccessUnix = time.Now().UnixNano()
	_ = c.st.PutJSON(cacheEntryPrefix+key, &entry)
	return full, true
}

// Store writes r's contents to the cache under key and evicts older entries
// if the cache now exceeds its byte budget.
func (c *Cache) Store(key string, profile Profile, r io.Reader) (string, error) {
	relFile := key + profile.Ext
	full := filepath.Join(c.dir, relFile)
	// Unique per write attempt, not per key: two overlapping misses on the
	// same key (a thundering-herd request pair) must not tee into the same
	// temp file.
	tmp := full + "." + uuid.NewString() + ".tmp"

	f, err := os.Create(tmp)
	if err != nil {
		return "", fmt.Errorf("transcode: create %s: %w", tmp, err)
	}
	n, copyErr := io.Copy(f, r)
	closeErr := f.Close()
	if copyErr != nil {
		os.Remove(tmp)
		return "", fmt.Errorf("transcode: write cache entry: %w", copyErr)
	}
	if closeErr != nil {
		os.Remove(tmp)
		return "", fmt.Errorf("transcode: close cache entry: %w", closeErr)
	}
	if err := os.Rename(tmp, full); err != nil {
		os.Remove(tmp)
		return "", fmt.Errorf("transcode: rename cache entry: %w", err)
	}

	entry := cacheEntry{RelFile: relFile, SizeBytes: n, LastAccessUnix: time.Now().UnixNano()}
	if err := c.st.PutJSON(cacheEntryPrefix+key, &entry); err != nil {
		return "", fmt.Errorf("transcode: record cache entry: %w", err)
	}

	c.evictIfOverBudget()
	return full, nil
}

// Sweep runs the same budget check Store runs inline; the cache-eviction
// job's handler calls it. It does not look for entries whose file is gone
// from disk: Lookup drops such an entry when it meets one.
func (c *Cache) Sweep() {
	c.evictIfOverBudget()
}

// evictIfOverBudget removes least-recently-accessed entries until the cache
// is back under both its byte budget and its file-count budget.
func (c *Cache) evictIfOverBudget() {
	if c.maxBytes <= 0 && c.maxFiles <= 0 {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	type keyed struct {
		key   string
		entry cacheEntry
	}
	var all []keyed
	var total int64
	_ = c.st.ScanPrefix(cacheEntryPrefix, func(key string, val []byte) error {
		var e cacheEntry
		if err := json.Unmarshal(val, &e); err != nil {
			return nil
		}
		total += e.SizeBytes
		all = append(all, keyed{key: key, entry: e})
		return nil
	})
	overBytes := c.maxBytes > 0 && total > c.maxBytes
	overFiles := c.maxFiles > 0 && len(all) > c.maxFiles
	if !overBytes && !overFiles {
		return
	}

	sort.Slice(all, func(i, j int) bool { return all[i].entry.LastAccessUnix < all[j].entry.LastAccessUnix })
	count := len(all)
	for _, k := range all {
		overBytes = c.maxBytes > 0 && total > c.maxBytes
		overFiles = c.maxFiles > 0 && count > c.maxFiles
		if !overBytes && !overFiles {
			break
		}
		os.Remove(filepath.Join(c.dir, k.entry.RelFile))
		_ = c.st.Delete(k.key)
		total -= k.entry.SizeBytes
		count--
	}
}
