package index

import (
	"os"
	"sort"
	"strings"

	"golang.org/x/text/collate"
	"golang.org/x/text/language"
)

// Ordered returns a copy of rec with Subfolders and Files sorted by name
// (collation-aware, see nameLess). Every ord value, "a", "m" or anything
// else, gives this same name order: per-child mtimes are not stored, so "m"
// does not sort a folder's children by mtime.
func Ordered(rec FolderRecord, ord string) FolderRecord {
	out := rec
	out.Subfolders = append([]SubfolderRef(nil), rec.Subfolders...)
	out.Files = append([]FileEntry(nil), rec.Files...)

	if ord == "m" {
		// Folder records don't carry per-child mtimes beyond the folder's own,
		// so "m" falls back to the same collated name order for a folder's
		// direct children.
		ord = "a"
	}

	less := nameLess()
	sort.SliceStable(out.Subfolders, func(i, j int) bool {
		return less(out.Subfolders[i].Name, out.Subfolders[j].Name)
	})
	sort.SliceStable(out.Files, func(i, j int) bool {
		return less(out.Files[i].Name, out.Files[j].Name)
	})
	return out
}

// nameLess resolves AUDIOSERVE_COLLATE/LC_ALL/LC_COLLATE/LANG, in that
// precedence order, to a locale-aware collator when the named locale parses;
// otherwise it uses an en-US collator, and only if that cannot be built
// does it fall back to plain case-insensitive comparison.
func nameLess() func(a, b string) bool {
	for _, envVar := range []string{"AUDIOSERVE_COLLATE", "LC_ALL", "LC_COLLATE", "LANG"} {
		if v := os.Getenv(envVar); v != "" {
			if tag, err := language.Parse(localeTag(v)); err == nil {
				c := collate.New(tag)
				return func(a, b string) bool { return c.CompareString(a, b) < 0 }
			}
		}
	}
	if tag, err := language.Parse("en-US"); err == nil {
		c := collate.New(tag)
		return func(a, b string) bool { return c.CompareString(a, b) < 0 }
	}
	return func(a, b string) bool { return strings.ToLower(a) < strings.ToLower(b) }
}

// localeTag strips a POSIX locale's encoding/modifier suffix ("en_US.UTF-8"
// -> "en-US") so it parses as a BCP 47 tag.
func localeTag(posix string) string {
	if i := strings.IndexAny(posix, ".@"); i >= 0 {
		posix = posix[:i]
	}
	return strings.ReplaceAll(posix, "_", "-")
}
