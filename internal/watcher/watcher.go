// Package watcher watches each collection's root tree for filesystem changes
// and debounces them into folder-level invalidation callbacks: the
// watcher marks a folder dirty rather than re-ingesting inline.
package watcher

import (
	"log"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/audioserve/audioserve/internal/collection"
)

// DefaultDebounce is the quiet period after the last event in a folder
// before OnFolderChanged fires for it.
const DefaultDebounce = 2 * time.Second

// OnFolderChanged is invoked once per folder, after debounce, naming the
// collection and the folder's path relative to that collection's root. An
// empty relPath means the collection root itself changed.
type OnFolderChanged func(colID int, relPath string)

// Watcher monitors every attached collection's root for changes.
type Watcher struct {
	callback  OnFolderChanged
	debounce  time.Duration
	watcher   *fsnotify.Watcher

	mu       sync.Mutex
	watched  map[string]watchedDir // real, symlink-resolved dir path -> owner
	debTimer map[string]*time.Timer
	stop     chan struct{}
}

type watchedDir struct {
	colID   int
	colRoot string
}

// New creates a filesystem watcher with the given per-folder debounce
// (DefaultDebounce when zero).
func New(debounce time.Duration, cb OnFolderChanged) (*Watcher, error) {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if debounce <= 0 {
		debounce = DefaultDebounce
	}
	return &Watcher{
		callback: cb,
		debounce: debounce,
		watcher:  fw,
		watched:  make(map[string]watchedDir),
		debTimer: make(map[string]*time.Timer),
		stop:     make(chan struct{}),
	}, nil
}

// Start begins the event loop. Call Watch for each collection afterward (or
// before; Watch is safe to call anytime before Stop).
func (w *Watcher) Start() {
	go w.eventLoop()
	log.Println("[watcher] filesystem watcher started")
}

// Stop terminates the watcher and releases its inotify/kqueue handle.
func (w *Watcher) Stop() {
	close(w.stop)
	w.watcher.Close()
}

// Watch adds col's root (and every real subdirectory) to the watch set.
// Symlinked directories below the root are never followed, whether or not
// col.Options.AllowSymlinks is set: filepath.WalkDir reports a symlink as a
// non-directory entry, and the walk skips those.
func (w *Watcher) Watch(col collection.Collection) error {
	visited := make(map[string]struct{})
	return w.addRecursive(col.Root, col, visited)
}

// Unwatch removes every watched path belonging to colID, used when a
// collection is detached at runtime.
func (w *Watcher) Unwatch(colID int) {
	w.mu.Lock()
	defer w.mu.Unlock()
	for p, wd := range w.watched {
		if wd.colID == colID {
			w.watcher.Remove(p)
			delete(w.watched, p)
		}
	}
}

func (w *Watcher) addRecursive(root string, col collection.Collection, visited map[string]struct{}) error {
	real, err := filepath.EvalSymlinks(root)
	if err != nil {
		return err
	}
	if _, ok := visited[real]; ok {
		return nil // already descended through this real path: cycle guard
	}
	visited[real] = struct{}{}

	return filepath.WalkDir(root, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return nil // skip inaccessible entries, don't abort the whole walk
		}
		if !d.IsDir() {
			return nil
		}

		info, statErr := os.Lstat(path)
		if statErr == nil && info.Mode()&os.ModeSymlink != 0 {
			if !col.Options.AllowSymlinks {
				return filepath.SkipDir
			}
			target, resolveErr := filepath.EvalSymlinks(path)
			if resolveErr != nil {
				return filepath.SkipDir
			}
			if _, ok := visited[target]; ok {
				return filepath.SkipDir // cycle guard
			}
			if err := w.addRecursive(path, col, visited); err != nil {
				log.Printf("[watcher] collection %d: symlinked dir %s: %v", col.ID, path, err)
			}
			return filepath.SkipDir // addRecursive above already walked it
		}

		if err := w.watcher.Add(path); err != nil {
			return nil
		}
		w.mu.Lock()
		w.watched[path] = watchedDir{colID: col.ID, colRoot: col.Root}
		w.mu.Unlock()
		return nil
	})
}

func (w *Watcher) eventLoop() {
	for {
		select {
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			w.handleEvent(event)
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			log.Printf("[watcher] error: %v", err)
		case <-w.stop:
			return
		}
	}
}

func (w *Watcher) handleEvent(event fsnotify.Event) {
	base := filepath.Base(event.Name)
	if strings.HasPrefix(base, ".") || strings.HasSuffix(base, ".tmp") || strings.HasSuffix(base, ".part") {
		return
	}

	if event.Has(fsnotify.Create) {
		if info, err := os.Stat(event.Name); err == nil && info.IsDir() {
			w.mu.Lock()
			wd, ok := w.watched[filepath.Dir(event.Name)]
			w.mu.Unlock()
			if ok {
				if err := w.watcher.Add(event.Name); err == nil {
					w.mu.Lock()
					w.watched[event.Name] = wd
					w.mu.Unlock()
				}
			}
		}
	}

	colID, relPath, ok := w.resolve(event.Name)
	if !ok {
		return
	}
	w.scheduleCallback(colID, relPath)
}

// resolve walks up from path's directory to find the nearest watched
// ancestor, returning the owning collection and path relative to its root.
func (w *Watcher) resolve(changedPath string) (colID int, relPath string, ok bool) {
	w.mu.Lock()
	defer w.mu.Unlock()

	dir := filepath.Dir(changedPath)
	for dir != string(filepath.Separator) && dir != "." {
		if wd, found := w.watched[dir]; found {
			rel, err := filepath.Rel(wd.colRoot, dir)
			if err != nil || rel == "." {
				rel = ""
			}
			return wd.colID, filepath.ToSlash(rel), true
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			break
		}
		dir = parent
	}
	return 0, "", false
}

func (w *Watcher) scheduleCallback(colID int, relPath string) {
	key := debounceKey(colID, relPath)

	w.mu.Lock()
	if timer, ok := w.debTimer[key]; ok {
		timer.Stop()
	}
	w.debTimer[key] = time.AfterFunc(w.debounce, func() {
		w.mu.Lock()
		delete(w.debTimer, key)
		w.mu.Unlock()
		w.callback(colID, relPath)
	})
	w.mu.Unlock()
}

func debounceKey(colID int, relPath string) string {
	return filepath.ToSlash(relPath) + "@" + strconv.Itoa(colID)
}
