package jobs

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"os"
	"path/filepath"

	"github.com/hibiken/asynq"

	"github.com/audioserve/audioserve/internal/index"
	"github.com/audioserve/audioserve/internal/transcode"
)

// FullScanPayload enqueues a recursive walk of an entire collection,
// re-ingesting every folder unconditionally.
type FullScanPayload struct {
	CollectionID int `json:"collection_id"`
}

// VerifyFolderPayload is one folder of the background verification walk:
// re-ingest only if its on-disk mtime has moved past what's stored.
type VerifyFolderPayload struct {
	CollectionID int    `json:"collection_id"`
	RelPath      string `json:"rel_path"`
}

// IngestFolderPayload forces re-ingestion of one folder, used by the watcher
// once its debounce window flushes.
type IngestFolderPayload struct {
	CollectionID int    `json:"collection_id"`
	RelPath      string `json:"rel_path"`
}

// CacheEvictPayload carries no state: the handler just asks the cache to
// check its own byte budget.
type CacheEvictPayload struct{}

// RegisterIndexHandlers wires the full-scan/verify/ingest task types to ix.
// The watcher and startup path enqueue them through the Enqueue* helpers
// below.
func RegisterIndexHandlers(q *Queue, ix *index.Index) {
	q.RegisterHandler(TaskFullScan, asynq.HandlerFunc(func(ctx context.Context, t *asynq.Task) error {
		var p FullScanPayload
		if err := json.Unmarshal(t.Payload(), &p); err != nil {
			return fmt.Errorf("jobs: decode full-scan payload: %w", err)
		}
		return runFullScan(ctx, ix, p.CollectionID)
	}))

	q.RegisterHandler(TaskVerifyFolder, asynq.HandlerFunc(func(ctx context.Context, t *asynq.Task) error {
		var p VerifyFolderPayload
		if err := json.Unmarshal(t.Payload(), &p); err != nil {
			return fmt.Errorf("jobs: decode verify-folder payload: %w", err)
		}
		return runVerifyFolder(ctx, ix, p.CollectionID, p.RelPath)
	}))

	q.RegisterHandler(TaskIngestFolder, asynq.HandlerFunc(func(ctx context.Context, t *asynq.Task) error {
		var p IngestFolderPayload
		if err := json.Unmarshal(t.Payload(), &p); err != nil {
			return fmt.Errorf("jobs: decode ingest-folder payload: %w", err)
		}
		_, err := ix.IngestFolderForced(ctx, p.CollectionID, p.RelPath)
		return err
	}))
}

// RegisterCacheHandlers wires the cache-eviction sweep task.
func RegisterCacheHandlers(q *Queue, cache *transcode.Cache) {
	q.RegisterHandler(TaskCacheEvict, asynq.HandlerFunc(func(ctx context.Context, t *asynq.Task) error {
		cache.Sweep()
		return nil
	}))
}

// EnqueueFullScan requests TaskFullScan for colID.
func EnqueueFullScan(q *Queue, colID int) error {
	_, err := q.EnqueueUnique(TaskFullScan, FullScanPayload{CollectionID: colID}, fmt.Sprintf("full-scan-%d", colID))
	return err
}

// EnqueueIngestFolder requests a forced re-ingest of one folder, used by the
// watcher once a debounce window flushes.
func EnqueueIngestFolder(q *Queue, colID int, relPath string) error {
	uniqueID := fmt.Sprintf("ingest-%d-%s", colID, relPath)
	_, err := q.EnqueueUnique(TaskIngestFolder, IngestFolderPayload{CollectionID: colID, RelPath: relPath}, uniqueID)
	return err
}

// EnqueueVerifyWalk walks every directory under the collection root and
// enqueues a TaskVerifyFolder per folder, touching each stored folder's
// mtime and re-ingesting only the ones whose directory mtime has moved.
// This is the background "verification" walk the startup path schedules in
// place of a full scan when a collection's store is already populated, and
// what the periodic scheduler re-runs on its verifyEvery tick.
func EnqueueVerifyWalk(q *Queue, ix *index.Index, colID int) error {
	col, ok := ix.Collection(colID)
	if !ok {
		return index.ErrNoCollection
	}
	return filepath.WalkDir(col.Root, func(path string, d os.DirEntry, err error) error {
		if err != nil || !d.IsDir() {
			return nil
		}
		rel, relErr := filepath.Rel(col.Root, path)
		if relErr != nil {
			return nil
		}
		if rel == "." {
			rel = ""
		}
		uniqueID := fmt.Sprintf("verify-%d-%s", colID, rel)
		_, err = q.EnqueueUnique(TaskVerifyFolder, VerifyFolderPayload{CollectionID: colID, RelPath: filepath.ToSlash(rel)}, uniqueID)
		return err
	})
}

// runFullScan walks every directory under the collection root and
// unconditionally re-ingests each one.
func runFullScan(ctx context.Context, ix *index.Index, colID int) error {
	col, ok := ix.Collection(colID)
	if !ok {
		return index.ErrNoCollection
	}
	log.Printf("[jobs] collection %d: full scan starting", colID)

	count := 0
	err := filepath.WalkDir(col.Root, func(path string, d os.DirEntry, err error) error {
		if err != nil || !d.IsDir() {
			return nil
		}
		rel, relErr := filepath.Rel(col.Root, path)
		if relErr != nil {
			return nil
		}
		if rel == "." {
			rel = ""
		}
		if _, err := ix.IngestFolderForced(ctx, colID, filepath.ToSlash(rel)); err != nil {
			log.Printf("[jobs] collection %d: ingest %q: %v", colID, rel, err)
			return nil
		}
		count++
		return nil
	})
	log.Printf("[jobs] collection %d: full scan ingested %d folders", colID, count)
	return err
}

// runVerifyFolder re-ingests relPath only if its directory mtime has moved
// past the stored record's, as part of the periodic verification walk.
func runVerifyFolder(ctx context.Context, ix *index.Index, colID int, relPath string) error {
	col, ok := ix.Collection(colID)
	if !ok {
		return index.ErrNoCollection
	}
	abs := filepath.Join(col.Root, filepath.FromSlash(relPath))
	info, err := os.Stat(abs)
	if err != nil {
		// Directory vanished: remove its record rather than leaving it stale.
		return ix.RemoveFolder(colID, relPath)
	}

	rec, err := ix.StoredFolder(colID, relPath)
	if err == nil && rec.MtimeUnix == info.ModTime().Unix() {
		return nil // unchanged since last ingestion
	}
	_, err = ix.IngestFolderForced(ctx, colID, relPath)
	return err
}
