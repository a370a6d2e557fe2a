package catalog

import "sort"

// GroupDelta is the difference between two item group filters.
type GroupDelta struct {
	Added     []string `json:"added"`
	Removed   []string `json:"removed"`
	Unchanged []string `json:"unchanged"`
}

// Empty reports whether the filters are equal.
func (d GroupDelta) Empty() bool {
	return len(d.Added) == 0 && len(d.Removed) == 0
}

// CalculateGroupDelta compares the old and new group filters. Duplicates and
// empty names are ignored; each slice is sorted.
func CalculateGroupDelta(oldGroups, newGroups []string) GroupDelta {
	oldSet := make(map[string]struct{}, len(oldGroups))
	for _, g := range oldGroups {
		if g != "" {
			oldSet[g] = struct{}{}
		}
	}
	newSet := make(map[string]struct{}, len(newGroups))
	for _, g := range newGroups {
		if g != "" {
			newSet[g] = struct{}{}
		}
	}

	d := GroupDelta{Added: []string{}, Removed: []string{}, Unchanged: []string{}}
	for g := range newSet {
		if _, ok := oldSet[g]; ok {
			d.Unchanged = append(d.Unchanged, g)
		} else {
			d.Added = append(d.Added, g)
		}
	}
	for g := range oldSet {
		if _, ok := newSet[g]; !ok {
			d.Removed = append(d.Removed, g)
		}
	}
	sort.Strings(d.Added)
	sort.Strings(d.Removed)
	sort.Strings(d.Unchanged)
	return d
}
