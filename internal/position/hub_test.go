package position

import (
	"context"
	"testing"

	"github.com/audioserve/audioserve/internal/store"
)

func newTestHub(t *testing.T, ids ...int) (*Hub, func()) {
	t.Helper()
	stores := make(map[int]*store.Store)
	var closers []func()
	for _, id := range ids {
		st, err := store.Open(t.TempDir(), t.Name())
		if err != nil {
			t.Fatalf("open store: %v", err)
		}
		stores[id] = st
		closers = append(closers, func() { st.Close() })
	}
	h := NewHub(func(colID int) (*store.Store, bool) {
		st, ok := stores[colID]
		return st, ok
	})
	h.SetCollectionIDs(ids)
	return h, func() {
		for _, c := range closers {
			c()
		}
	}
}

func TestApplyAndQueryRoundtrip(t *testing.T) {
	h, cleanup := newTestHub(t, 1)
	defer cleanup()

	ctx := context.Background()
	if err := h.Apply(ctx, Update{
		Group: "alice", CollectionID: 1, RelPath: "Book/ch1.mp3",
		PositionSecs: 12.5, TimestampUnix: 100,
	}); err != nil {
		t.Fatalf("apply: %v", err)
	}

	resp, err := h.Query(ctx, "alice", 1, "Book/ch1.mp3")
	if err != nil {
		t.Fatalf("query: %v", err)
	}
	if resp.Last == nil || resp.Last.PositionSecs != 12.5 {
		t.Fatalf("expected last record with position 12.5, got %+v", resp.Last)
	}
	if resp.Folder != nil {
		t.Fatalf("folder == last, expected folder to be nilled out, got %+v", resp.Folder)
	}
}

func TestApplyDropsOlderTimestamp(t *testing.T) {
	h, cleanup := newTestHub(t, 1)
	defer cleanup()

	ctx := context.Background()
	update := func(secs float64, ts int64) {
		if err := h.Apply(ctx, Update{
			Group: "alice", CollectionID: 1, RelPath: "Book/ch1.mp3",
			PositionSecs: secs, TimestampUnix: ts,
		}); err != nil {
			t.Fatalf("apply: %v", err)
		}
	}
	update(10, 200)
	update(5, 100) // older, should be dropped silently

	resp, err := h.Query(ctx, "alice", 1, "Book/ch1.mp3")
	if err != nil {
		t.Fatalf("query: %v", err)
	}
	if resp.Last == nil || resp.Last.PositionSecs != 10 {
		t.Fatalf("expected stale update to be dropped, got %+v", resp.Last)
	}
}

func TestGenericQueryReturnsGroupLatestAcrossCollections(t *testing.T) {
	h, cleanup := newTestHub(t, 1, 2)
	defer cleanup()

	ctx := context.Background()
	if err := h.Apply(ctx, Update{Group: "bob", CollectionID: 1, RelPath: "A/one.mp3", PositionSecs: 1, TimestampUnix: 100}); err != nil {
		t.Fatalf("apply 1: %v", err)
	}
	if err := h.Apply(ctx, Update{Group: "bob", CollectionID: 2, RelPath: "B/two.mp3", PositionSecs: 2, TimestampUnix: 200}); err != nil {
		t.Fatalf("apply 2: %v", err)
	}

	resp, err := h.GenericQuery(ctx, "bob")
	if err != nil {
		t.Fatalf("generic query: %v", err)
	}
	if resp.Last == nil || resp.Last.PositionSecs != 2 {
		t.Fatalf("expected latest across collections to be position 2, got %+v", resp.Last)
	}
}

func TestSessionShortUpdateRequiresPriorLong(t *testing.T) {
	h, cleanup := newTestHub(t, 1)
	defer cleanup()

	sess := NewSession(h, "")
	_, err := sess.Handle(context.Background(), Message{Kind: KindUpdateShort, Secs: 9})
	if err != ErrNoPrevious {
		t.Fatalf("expected ErrNoPrevious, got %v", err)
	}
}

func TestSessionShortUpdateReusesLastLongTarget(t *testing.T) {
	h, cleanup := newTestHub(t, 1)
	defer cleanup()

	ctx := context.Background()
	sess := NewSession(h, "")
	if _, err := sess.Handle(ctx, Message{
		Kind: KindUpdateLong, Secs: 1, Group: "carl", Col: 1, RelPath: "X/f.mp3",
	}); err != nil {
		t.Fatalf("long update: %v", err)
	}
	if _, err := sess.Handle(ctx, Message{Kind: KindUpdateShort, Secs: 42}); err != nil {
		t.Fatalf("short update: %v", err)
	}

	resp, err := h.Query(ctx, "carl", 1, "X/f.mp3")
	if err != nil {
		t.Fatalf("query: %v", err)
	}
	if resp.Last == nil || resp.Last.PositionSecs != 42 {
		t.Fatalf("expected short update to land at 42, got %+v", resp.Last)
	}
}

func TestSessionGenericQueryFallsBackToSeededGroup(t *testing.T) {
	h, cleanup := newTestHub(t, 0)
	defer cleanup()
	ctx := context.Background()

	// First connection: a long update establishes "grp"'s latest record.
	first := NewSession(h, "")
	if _, err := first.Handle(ctx, Message{
		Kind: KindUpdateLong, Secs: 60.5, Group: "grp", Col: 0, RelPath: "Author/Book/01.mp3",
	}); err != nil {
		t.Fatalf("long update: %v", err)
	}

	// Second, fresh connection seeded with the same group at upgrade time
	// (no long update of its own yet) must still answer a bare "?" with
	// that group's latest, per spec end-to-end scenario 5.
	second := NewSession(h, "grp")
	resp, err := second.Handle(ctx, Message{Kind: KindGenericQuery})
	if err != nil {
		t.Fatalf("generic query: %v", err)
	}
	if resp.Last == nil || resp.Last.PositionSecs != 60.5 {
		t.Fatalf("expected seeded-group latest 60.5, got %+v", resp.Last)
	}
	if resp.Folder != nil {
		t.Fatalf("expected folder to be nil on a bare generic query, got %+v", resp.Folder)
	}
}

func TestBackupAndRestoreRoundtrip(t *testing.T) {
	h, cleanup := newTestHub(t, 1)
	defer cleanup()

	ctx := context.Background()
	if err := h.Apply(ctx, Update{
		Group: "dana", CollectionID: 1, RelPath: "Book/ch1.mp3",
		PositionSecs: 7, TimestampUnix: 500,
	}); err != nil {
		t.Fatalf("apply: %v", err)
	}

	path := t.TempDir() + "/positions-backup.json"
	if err := h.Backup(path, []int{1}); err != nil {
		t.Fatalf("backup: %v", err)
	}

	h2, cleanup2 := newTestHub(t, 1)
	defer cleanup2()
	if err := h2.Restore(path, []int{1}); err != nil {
		t.Fatalf("restore: %v", err)
	}

	resp, err := h2.Query(ctx, "dana", 1, "Book/ch1.mp3")
	if err != nil {
		t.Fatalf("query after restore: %v", err)
	}
	if resp.Last == nil || resp.Last.PositionSecs != 7 {
		t.Fatalf("expected restored position 7, got %+v", resp.Last)
	}
}
