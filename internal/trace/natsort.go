package trace

import (
	"sort"

	"github.com/maruel/natural"
)

// Comparator orders two attribute value tuples. It reports whether a sorts
// before b.
type Comparator func(a, b []string) bool

// Comparators holds the built-in comparators selectable by name from
// configuration.
var Comparators = map[string]Comparator{
	"natural": NaturalTuples,
	"lexical": LexicalTuples,
}

// NaturalSort sorts ids in place using numeric-aware ordering.
func NaturalSort(ids []string) {
	sort.SliceStable(ids, func(i, j int) bool {
		return natural.Less(ids[i], ids[j])
	})
}

// NaturalSorted returns a naturally sorted copy of ids.
func NaturalSorted(ids []string) []string {
	out := make([]string, len(ids))
	copy(out, ids)
	NaturalSort(out)
	return out
}

// NaturalTuples compares value tuples element-wise using natural ordering.
func NaturalTuples(a, b []string) bool {
	for i := 0; i < len(a) && i < len(b); i++ {
		if a[i] == b[i] {
			continue
		}
		return natural.Less(a[i], b[i])
	}
	return len(a) < len(b)
}

// LexicalTuples compares value tuples element-wise byte by byte.
func LexicalTuples(a, b []string) bool {
	for i := 0; i < len(a) && i < len(b); i++ {
		if a[i] != b[i] {
			return a[i] < b[i]
		}
	}
	return len(a) < len(b)
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	NaturalSort(keys)
	return keys
}

func contains(slice []string, s string) bool {
	for _, v := range slice {
		if v == s {
			return true
		}
	}
	return false
}
