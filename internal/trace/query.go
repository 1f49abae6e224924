package trace

import (
	"regexp"
	"sort"

	"github.com/maruel/natural"
	"github.com/pkg/errors"
)

// Query selects items of a collection. Placeholders never match.
type Query struct {
	// Pattern is searched for in the item identifier. Empty matches all.
	Pattern string
	// Attributes must all match (see Item.AttributesMatch).
	Attributes AttributeFilter
	// SortAttributes sorts on the tuple of these attribute values instead of
	// the identifier.
	SortAttributes []string
	Reverse        bool
	// NoSort keeps map order when SortAttributes is empty.
	NoSort bool
}

func (q Query) compile() (*regexp.Regexp, error) {
	re, err := regexp.Compile(q.Pattern)
	if err != nil {
		return nil, errors.Wrapf(err, "invalid item pattern %q", q.Pattern)
	}
	return re, nil
}

// GetItems returns the identifiers of the items selected by q.
func (c *Collection) GetItems(q Query) ([]string, error) {
	items, err := c.match(q)
	if err != nil {
		return nil, err
	}
	ids := make([]string, len(items))
	for i, it := range items {
		ids[i] = it.id
	}
	return ids, nil
}

// GetItemObjects is GetItems returning the items themselves.
func (c *Collection) GetItemObjects(q Query) ([]*Item, error) {
	return c.match(q)
}

func (c *Collection) match(q Query) ([]*Item, error) {
	re, err := q.compile()
	if err != nil {
		return nil, err
	}
	var out []*Item
	for _, it := range c.items {
		if it.placeholder || !it.Matches(re) {
			continue
		}
		if len(q.Attributes) > 0 && !it.AttributesMatch(q.Attributes) {
			continue
		}
		out = append(out, it)
	}

	switch {
	case len(q.SortAttributes) > 0:
		less := Comparator(LexicalTuples)
		for _, attr := range q.SortAttributes {
			if cmp, ok := c.comparer(attr); ok {
				less = cmp
				break
			}
		}
		// Ties keep identifier order so the result does not depend on map
		// iteration.
		sort.SliceStable(out, func(i, j int) bool {
			return natural.Less(out[i].id, out[j].id)
		})
		sort.SliceStable(out, func(i, j int) bool {
			a := out[i].Attributes(q.SortAttributes)
			b := out[j].Attributes(q.SortAttributes)
			if q.Reverse {
				return less(b, a)
			}
			return less(a, b)
		})
	case !q.NoSort:
		sort.SliceStable(out, func(i, j int) bool {
			if q.Reverse {
				return natural.Less(out[j].id, out[i].id)
			}
			return natural.Less(out[i].id, out[j].id)
		})
	}
	return out, nil
}

// AreRelated reports whether source reaches target through one of relations.
// Both must be real items. No relations means any registered relation.
func (c *Collection) AreRelated(source string, relations []string, target string) bool {
	src, ok := c.items[source]
	if !ok || src.placeholder {
		return false
	}
	if tgt, ok := c.items[target]; !ok || tgt.placeholder {
		return false
	}
	if len(relations) == 0 {
		relations = c.relations.Sorted()
	}
	return src.IsRelated(relations, target)
}

// ExternalTargets maps every target of relation that matches pattern at its
// start to the naturally sorted items referencing it. It is meant for
// relations without reverse, whose targets are not items.
func (c *Collection) ExternalTargets(pattern, relation string) (map[string][]string, error) {
	re, err := regexp.Compile(pattern)
	if err != nil {
		return nil, errors.Wrapf(err, "invalid external target pattern %q", pattern)
	}
	out := make(map[string][]string)
	for id, it := range c.items {
		for _, tgt := range it.Targets(relation, true, true) {
			if loc := re.FindStringIndex(tgt); loc == nil || loc[0] != 0 {
				continue
			}
			out[tgt] = append(out[tgt], id)
		}
	}
	for tgt := range out {
		NaturalSort(out[tgt])
	}
	return out, nil
}
