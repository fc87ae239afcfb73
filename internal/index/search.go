package index

import (
	"sort"
	"strings"
)

const recentLimit = 64

// tokenize lowercases and splits on whitespace, path separators ('/', '\\')
// and the word separators '_', '-' and '.', building
// token-per-word inverted postings from the full relative path.
func tokenize(relPath string) []string {
	normalized := strings.Map(func(r rune) rune {
		switch r {
		case '/', '\\', '_', '-', '.':
			return ' '
		}
		return r
	}, relPath)
	fields := strings.Fields(strings.ToLower(normalized))
	seen := make(map[string]struct{}, len(fields))
	out := fields[:0]
	for _, f := range fields {
		if _, ok := seen[f]; ok {
			continue
		}
		seen[f] = struct{}{}
		out = append(out, f)
	}
	return out
}

func (mc *managedCollection) indexForSearch(relPath string) {
	mc.mu.Lock()
	defer mc.mu.Unlock()
	for _, tok := range tokenize(relPath) {
		set, ok := mc.postings[tok]
		if !ok {
			set = make(map[string]struct{})
			mc.postings[tok] = set
		}
		set[relPath] = struct{}{}
	}
}

func (mc *managedCollection) removeFromSearch(relPath string) {
	mc.mu.Lock()
	defer mc.mu.Unlock()
	for _, tok := range tokenize(relPath) {
		if set, ok := mc.postings[tok]; ok {
			delete(set, relPath)
			if len(set) == 0 {
				delete(mc.postings, tok)
			}
		}
	}
}

func (mc *managedCollection) indexForRecent(relPath string, mtime int64) {
	mc.mu.Lock()
	defer mc.mu.Unlock()
	for i, e := range mc.recent {
		if e.Path == relPath {
			mc.recent = append(mc.recent[:i], mc.recent[i+1:]...)
			break
		}
	}
	mc.recent = append(mc.recent, recentEntry{Path: relPath, Mtime: mtime})
	sort.Slice(mc.recent, func(i, j int) bool { return mc.recent[i].Mtime > mc.recent[j].Mtime })
	if len(mc.recent) > recentLimit {
		mc.recent = mc.recent[:recentLimit]
	}
}

func (mc *managedCollection) removeFromRecent(relPath string) {
	mc.mu.Lock()
	defer mc.mu.Unlock()
	for i, e := range mc.recent {
		if e.Path == relPath {
			mc.recent = append(mc.recent[:i], mc.recent[i+1:]...)
			return
		}
	}
}

// Search returns folder paths matching every token conjunctively, excluding
// any result whose ancestor already matched (truncation).
func (ix *Index) Search(colID int, query string) ([]string, error) {
	mc := ix.get(colID)
	if mc == nil {
		return nil, ErrNoCollection
	}

	tokens := tokenize(query)
	if len(tokens) == 0 {
		return nil, nil
	}

	mc.mu.Lock()
	var candidates map[string]struct{}
	for i, tok := range tokens {
		set := mc.postings[tok]
		if i == 0 {
			candidates = make(map[string]struct{}, len(set))
			for p := range set {
				candidates[p] = struct{}{}
			}
			continue
		}
		for p := range candidates {
			if _, ok := set[p]; !ok {
				delete(candidates, p)
			}
		}
	}
	mc.mu.Unlock()

	results := make([]string, 0, len(candidates))
	for p := range candidates {
		results = append(results, p)
	}
	sort.Strings(results)
	return truncateByAncestor(results), nil
}

// truncateByAncestor drops any result that has another result as a strict
// path ancestor. Input must be sorted lexicographically.
func truncateByAncestor(sorted []string) []string {
	out := make([]string, 0, len(sorted))
	for _, p := range sorted {
		isDescendant := false
		for _, kept := range out {
			if kept == "" || strings.HasPrefix(p, kept+"/") {
				isDescendant = true
				break
			}
		}
		if !isDescendant {
			out = append(out, p)
		}
	}
	return out
}

// Recent returns up to limit folder paths ordered by mtime descending.
func (ix *Index) Recent(colID int, limit int) ([]string, error) {
	mc := ix.get(colID)
	if mc == nil {
		return nil, ErrNoCollection
	}
	if limit <= 0 || limit > recentLimit {
		limit = recentLimit
	}

	mc.mu.Lock()
	defer mc.mu.Unlock()
	out := make([]string, 0, limit)
	for i, e := range mc.recent {
		if i >= limit {
			break
		}
		out = append(out, e.Path)
	}
	return out, nil
}
