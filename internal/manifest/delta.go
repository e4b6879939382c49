package manifest

import "sort"

// ChangeTag classifies how an entry changed between two manifests.
type ChangeTag string

const (
	// ChangeAdded marks an entry present only in the newer manifest.
	ChangeAdded ChangeTag = "added"
	// ChangeModified marks an entry whose hash changed.
	ChangeModified ChangeTag = "modified"
	// ChangeRemoved marks an entry present only in the older manifest.
	ChangeRemoved ChangeTag = "removed"
)

// Delta is the set of entry changes between two manifests, keyed by URL path.
type Delta struct {
	Added    []Entry
	Modified []Entry
	Removed  []Entry
}

// IsEmpty reports whether the two manifests describe the same files.
func (d *Delta) IsEmpty() bool {
	return len(d.Added) == 0 && len(d.Modified) == 0 && len(d.Removed) == 0
}

// Diff compares two manifests by URL path and content hash. Entries without
// a hash on either side are reported as modified unless both are cacheable.
// Each list is sorted by URL path.
func Diff(older, newer *Manifest) *Delta {
	delta := &Delta{
		Added:    []Entry{},
		Modified: []Entry{},
		Removed:  []Entry{},
	}

	oldByURL := make(map[string]Entry, len(older.Entries))
	for _, e := range older.Entries {
		oldByURL[e.URLPath] = e
	}
	newByURL := make(map[string]Entry, len(newer.Entries))
	for _, e := range newer.Entries {
		newByURL[e.URLPath] = e
	}

	for urlPath, e := range newByURL {
		prev, ok := oldByURL[urlPath]
		switch {
		case !ok:
			delta.Added = append(delta.Added, e)
		case !sameContent(prev, e):
			delta.Modified = append(delta.Modified, e)
		}
	}
	for urlPath, e := range oldByURL {
		if _, ok := newByURL[urlPath]; !ok {
			delta.Removed = append(delta.Removed, e)
		}
	}

	sortByURL(delta.Added)
	sortByURL(delta.Modified)
	sortByURL(delta.Removed)
	return delta
}

func sameContent(a, b Entry) bool {
	if a.Hash != "" && b.Hash != "" {
		return a.Hash == b.Hash
	}
	return a.Cacheable && b.Cacheable
}

func sortByURL(entries []Entry) {
	sort.Slice(entries, func(i, j int) bool {
		return entries[i].URLPath < entries[j].URLPath
	})
}
