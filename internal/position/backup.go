package position

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// BackupEntry is one row of the positions backup dump: every (group,
// collection, folder) record the hub currently holds for collectionID.
type BackupEntry struct {
	Group        string `json:"group"`
	CollectionID int    `json:"collection_id"`
	Record       Record `json:"record"`
}

// Backup writes every position record across the given collection ids to
// path as JSON, atomically (write to a temp file, then rename) so a crash
// mid-dump never leaves a half-written file behind.
func (h *Hub) Backup(path string, collectionIDs []int) error {
	var entries []BackupEntry
	for _, colID := range collectionIDs {
		st, ok := h.storeFor(colID)
		if !ok {
			continue
		}
		err := st.ScanPrefix(positionKeyPrefix, func(key string, val []byte) error {
			var rec Record
			if err := json.Unmarshal(val, &rec); err != nil {
				return nil
			}
			group := groupFromPositionKey(key, colID)
			if group == "" {
				return nil
			}
			entries = append(entries, BackupEntry{Group: group, CollectionID: colID, Record: rec})
			return nil
		})
		if err != nil {
			return fmt.Errorf("position: backup scan collection %d: %w", colID, err)
		}
	}

	tmp := path + ".tmp"
	f, err := os.Create(tmp)
	if err != nil {
		return fmt.Errorf("position: create backup temp file: %w", err)
	}
	enc := json.NewEncoder(f)
	enc.SetIndent("", "  ")
	encErr := enc.Encode(entries)
	closeErr := f.Close()
	if encErr != nil {
		os.Remove(tmp)
		return fmt.Errorf("position: write backup: %w", encErr)
	}
	if closeErr != nil {
		os.Remove(tmp)
		return fmt.Errorf("position: close backup temp file: %w", closeErr)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("position: mkdir %s: %w", filepath.Dir(path), err)
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("position: rename backup into place: %w", err)
	}
	return nil
}

// groupFromPositionKey recovers the group name from a "pos:<group>:<col>:<folder>"
// key, since the stored Record itself doesn't carry the group.
func groupFromPositionKey(key string, colID int) string {
	rest := key[len(positionKeyPrefix):]
	suffix := fmt.Sprintf(":%d:", colID)
	i := indexOf(rest, suffix)
	if i < 0 {
		return ""
	}
	return rest[:i]
}

// stripCollectionPrefix removes a leading "<colID>/" from folder, if
// present, inverting the qualifier Hub.applyLocked adds when persisting a
// Record's Folder field.
func stripCollectionPrefix(folder string, colID int) string {
	return strings.TrimPrefix(folder, fmt.Sprintf("%d/", colID))
}

func indexOf(s, sub string) int {
	for i := 0; i+len(sub) <= len(s); i++ {
		if s[i:i+len(sub)] == sub {
			return i
		}
	}
	return -1
}

// Restore reloads a prior Backup dump, used when the process restarts between
// scheduled backups and wants positions warm again before the first client
// reconnects. Entries already present in the store (a clean shutdown) are
// left untouched in favor of whatever is newer.
func (h *Hub) Restore(path string, collectionIDs []int) error {
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("position: read backup: %w", err)
	}
	var entries []BackupEntry
	if err := json.Unmarshal(data, &entries); err != nil {
		return fmt.Errorf("position: parse backup: %w", err)
	}

	known := make(map[int]bool, len(collectionIDs))
	for _, id := range collectionIDs {
		known[id] = true
	}

	for _, e := range entries {
		if !known[e.CollectionID] {
			continue
		}
		// Record.Folder carries the "<collection_id>/" qualifier (see
		// Hub.applyLocked); strip it back off before rebuilding RelPath,
		// since applyLocked re-adds it from Update.CollectionID.
		folder := stripCollectionPrefix(e.Record.Folder, e.CollectionID)
		if err := h.Apply(context.Background(), Update{
			Group:         e.Group,
			CollectionID:  e.CollectionID,
			RelPath:       filepath.Join(folder, e.Record.File),
			PositionSecs:  e.Record.PositionSecs,
			TimestampUnix: e.Record.TimestampUnix,
		}); err != nil {
			return fmt.Errorf("position: restore entry for group %s: %w", e.Group, err)
		}
	}
	return nil
}
