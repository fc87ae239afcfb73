package position

import (
	"context"
	"fmt"
	"path"
	"sync"
	"time"

	"github.com/audioserve/audioserve/internal/store"
)

const (
	positionKeyPrefix = "pos:"
	latestKeyPrefix   = "poslatest:"
)

// Record is one persisted playback-position snapshot.
type Record struct {
	File          string  `json:"file"`
	Folder        string  `json:"folder"`
	PositionSecs  float64 `json:"position"`
	TimestampUnix int64   `json:"timestamp"`
}

func (r Record) equal(o *Record) bool {
	if o == nil {
		return false
	}
	return r == *o
}

// Update is one write request for a (group, collection, folder) key.
type Update struct {
	Group         string
	CollectionID  int
	RelPath       string // full path to the file, relative to the collection root
	PositionSecs  float64
	TimestampUnix int64 // 0 means "now"
}

// Response is the wire shape of a query: JSON {folder: PositionRecord|null,
// last: PositionRecord|null}. If folder == last, folder is set to null.
type Response struct {
	Folder *Record `json:"folder"`
	Last   *Record `json:"last"`
}

// StoreLookup resolves a collection id to its backing KV store, satisfied by
// *index.Index without this package importing index (which itself does not
// depend on position).
type StoreLookup func(collectionID int) (*store.Store, bool)

// Hub serializes every read and write for a group through that group's own
// actor goroutine, serializing every read and write for a group through
// that group's own goroutine, and persists through to the owning
// collection's store on every accepted write.
type Hub struct {
	mu            sync.Mutex
	groups        map[string]*groupActor
	storeFor      StoreLookup
	queryTimeout  time.Duration
	collectionIDs []int
}

// NewHub builds a Hub backed by storeFor, with a 3s default query timeout.
func NewHub(storeFor StoreLookup) *Hub {
	return &Hub{
		groups:       make(map[string]*groupActor),
		storeFor:     storeFor,
		queryTimeout: 3 * time.Second,
	}
}

type groupActor struct {
	tasks chan func()
}

func newGroupActor() *groupActor {
	ga := &groupActor{tasks: make(chan func(), 64)}
	go ga.run()
	return ga
}

func (ga *groupActor) run() {
	for fn := range ga.tasks {
		fn()
	}
}

// do runs fn on the actor goroutine and blocks until it completes, or ctx is
// done first.
func (ga *groupActor) do(ctx context.Context, fn func()) error {
	done := make(chan struct{})
	select {
	case ga.tasks <- func() { fn(); close(done) }:
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (h *Hub) actorFor(group string) *groupActor {
	h.mu.Lock()
	defer h.mu.Unlock()
	ga, ok := h.groups[group]
	if !ok {
		ga = newGroupActor()
		h.groups[group] = ga
	}
	return ga
}

// Apply writes upd, dropping it silently if it violates monotonicity (an
// update with an older timestamp than the stored record for the same key).
func (h *Hub) Apply(ctx context.Context, upd Update) error {
	ga := h.actorFor(upd.Group)
	var applyErr error
	err := ga.do(ctx, func() {
		applyErr = h.applyLocked(upd)
	})
	if err != nil {
		return err
	}
	return applyErr
}

func (h *Hub) applyLocked(upd Update) error {
	st, ok := h.storeFor(upd.CollectionID)
	if !ok {
		return fmt.Errorf("position: unknown collection %d", upd.CollectionID)
	}

	folder := folderOf(upd.RelPath)
	file := path.Base(upd.RelPath)
	ts := upd.TimestampUnix
	if ts == 0 {
		ts = time.Now().Unix()
	}

	key := positionKey(upd.Group, upd.CollectionID, folder)
	var existing Record
	if err := st.GetJSON(key, &existing); err == nil && ts < existing.TimestampUnix {
		return nil // older than what's stored; drop silently
	}

	// The wire/persisted Folder carries the collection id prefix (e.g.
	// "0/Author/Book"): a group's records can span collections, and the
	// bare relative path alone wouldn't disambiguate them for the client.
	qualifiedFolder := fmt.Sprintf("%d/%s", upd.CollectionID, folder)
	rec := Record{File: file, Folder: qualifiedFolder, PositionSecs: upd.PositionSecs, TimestampUnix: ts}
	if err := st.PutJSON(key, &rec); err != nil {
		return fmt.Errorf("position: persist: %w", err)
	}

	latestKey := latestKeyPrefix + upd.Group
	var latest Record
	if err := st.GetJSON(latestKey, &latest); err != nil || ts >= latest.TimestampUnix {
		if err := st.PutJSON(latestKey, &rec); err != nil {
			return fmt.Errorf("position: persist latest: %w", err)
		}
	}
	return nil
}

// Query answers a folder-scoped query, bounded by the hub's query timeout on
// top of ctx.
func (h *Hub) Query(ctx context.Context, group string, collectionID int, relPath string) (Response, error) {
	ctx, cancel := context.WithTimeout(ctx, h.queryTimeout)
	defer cancel()

	ga := h.actorFor(group)
	var resp Response
	var queryErr error
	err := ga.do(ctx, func() {
		resp, queryErr = h.queryLocked(group, collectionID, relPath)
	})
	if err != nil {
		return Response{}, err
	}
	return resp, queryErr
}

func (h *Hub) queryLocked(group string, collectionID int, relPath string) (Response, error) {
	st, ok := h.storeFor(collectionID)
	if !ok {
		return Response{}, fmt.Errorf("position: unknown collection %d", collectionID)
	}

	folder := folderOf(relPath)
	var folderRec *Record
	var rec Record
	if err := st.GetJSON(positionKey(group, collectionID, folder), &rec); err == nil {
		folderRec = &rec
	}

	last := h.groupLatest(group)
	if folderRec != nil && folderRec.equal(last) {
		folderRec = nil
	}
	return Response{Folder: folderRec, Last: last}, nil
}

// GenericQuery answers "?" / empty queries, which carry only the group-wide
// latest record.
func (h *Hub) GenericQuery(ctx context.Context, group string) (Response, error) {
	ctx, cancel := context.WithTimeout(ctx, h.queryTimeout)
	defer cancel()

	ga := h.actorFor(group)
	var resp Response
	err := ga.do(ctx, func() {
		resp = Response{Last: h.groupLatest(group)}
	})
	if err != nil {
		return Response{}, err
	}
	return resp, nil
}

// groupLatest scans every attached collection's latest-index entry for group
// and returns the one with the newest timestamp. Position records for a
// group may live in more than one collection's store since collection id is
// part of the key, not the group.
func (h *Hub) groupLatest(group string) *Record {
	var best *Record
	for _, colID := range h.knownCollections() {
		st, ok := h.storeFor(colID)
		if !ok {
			continue
		}
		var rec Record
		if err := st.GetJSON(latestKeyPrefix+group, &rec); err != nil {
			continue
		}
		if best == nil || rec.TimestampUnix > best.TimestampUnix {
			r := rec
			best = &r
		}
	}
	return best
}

// knownCollections is overridden by NewHub's caller via SetCollectionIDs;
// left empty defaults to "collection 0 only" being unreachable, so wiring
// code must call SetCollectionIDs once collections are attached.
func (h *Hub) knownCollections() []int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.collectionIDs
}

// SetCollectionIDs tells the hub which collection ids exist, so a generic
// ("?") query can find the group-wide latest across every collection.
func (h *Hub) SetCollectionIDs(ids []int) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.collectionIDs = append([]int(nil), ids...)
}

func positionKey(group string, collectionID int, folder string) string {
	return fmt.Sprintf("%s%s:%d:%s", positionKeyPrefix, group, collectionID, folder)
}
