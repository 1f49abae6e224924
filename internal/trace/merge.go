package trace

import (
	"fmt"
)

// MergeFrom folds other into c. It is used by the coordinator to combine the
// collections built independently by each worker. other is not modified and
// nothing of it is aliased by c afterwards.
func (c *Collection) MergeFrom(other *Collection) error {
	if other == c {
		return nil
	}
	if err := c.mergeRelations(other); err != nil {
		return err
	}
	for _, id := range other.ItemIDs() {
		locs := other.locations(id)
		for _, loc := range locs {
			if err := c.checkDuplicate(id, loc); err != nil {
				return err
			}
		}
		if err := c.mergeItem(other.items[id].clone()); err != nil {
			return err
		}
		for _, loc := range locs {
			c.see(id, loc)
		}
	}
	for _, n := range other.nodes {
		if !c.hasEffect(n) {
			c.nodes = append(c.nodes, n)
		}
	}
	for attr, less := range other.comparers {
		if _, ok := c.comparers[attr]; !ok {
			c.comparers[attr] = less
		}
	}
	for _, id := range other.Attributes() {
		c.mergeAttribute(other.attributes[id])
	}
	c.restoreReverseRelations()
	return nil
}

func (c *Collection) mergeRelations(other *Collection) error {
	for _, rel := range other.relations.Sorted() {
		rev, _ := other.relations.Reverse(rel)
		mine, ok := c.relations.Reverse(rel)
		if !ok {
			c.relations.pairs[rel] = rev
			c.relations.sorted = nil
			continue
		}
		if mine != rev {
			return &MergeConflictError{Reason: fmt.Sprintf("conflicting reverse relation for %q: %q vs %q", rel, mine, rev)}
		}
	}
	return nil
}

func (c *Collection) mergeItem(in *Item) error {
	in.collection = c
	cur, ok := c.items[in.id]
	switch {
	case !ok:
		c.items[in.id] = in
	case cur.placeholder && !in.placeholder:
		// The real definition wins, but edges found before it was known stay.
		in.mergeRelations(cur)
		c.items[in.id] = in
	case cur.placeholder || in.placeholder:
		cur.mergeRelations(in)
	case cur.loc.Docname == in.loc.Docname && cur.loc.Line == in.loc.Line:
		if cur.caption != in.caption || cur.content != in.content {
			return &MergeConflictError{
				Location: in.loc,
				Reason:   fmt.Sprintf("item %s declared twice at the same location with different content", in.id),
			}
		}
		cur.mergeRelations(in)
	case cur.loc.Docname != in.loc.Docname:
		cur.mergeRelations(in)
	default:
		return &DuplicateItemError{Location: in.loc, ID: in.id, Other: cur.loc}
	}
	return nil
}

// locations returns every real declaration location of id known to c.
func (c *Collection) locations(id string) []Location {
	if locs := c.seen[id]; len(locs) > 0 {
		return locs
	}
	if it, ok := c.items[id]; ok && !it.placeholder && it.HasLocation() {
		return []Location{it.loc}
	}
	return nil
}

func (c *Collection) see(id string, loc Location) {
	if loc.Docname == "" {
		return
	}
	for _, l := range c.seen[id] {
		if l == loc {
			return
		}
	}
	if c.seen == nil {
		c.seen = make(map[string][]Location)
	}
	c.seen[id] = append(c.seen[id], loc)
}

// checkDuplicate fails when id is already declared in the document of loc
// at another line.
func (c *Collection) checkDuplicate(id string, loc Location) error {
	for _, l := range c.locations(id) {
		if l.Docname == loc.Docname && l.Line != loc.Line {
			return &DuplicateItemError{Location: loc, ID: id, Other: l}
		}
	}
	return nil
}

func (c *Collection) mergeAttribute(in *Attribute) {
	cur, ok := c.attributes[in.ID]
	if !ok {
		c.attributes[in.ID] = in.clone()
		return
	}
	if cur.Caption == "" {
		cur.Caption = in.Caption
	}
	if cur.Docname == "" && in.Docname != "" {
		cur.Location = in.Location
	}
	if in.Content != "" {
		cur.Content = in.Content
	}
	cur.ID = in.ID
}

// restoreReverseRelations adds the implicit reverse edges a worker could not
// add because the target lived in another worker's documents.
func (c *Collection) restoreReverseRelations() {
	for _, id := range c.ItemIDs() {
		it := c.items[id]
		for _, rel := range sortedKeys(it.explicit) {
			rev, ok := c.relations.Reverse(rel)
			if !ok || rev == NoReverse {
				continue
			}
			for _, tgtID := range it.explicit[rel] {
				tgt, ok := c.items[tgtID]
				if !ok {
					continue
				}
				if contains(tgt.explicit[rev], id) || contains(tgt.implicit[rev], id) {
					continue
				}
				addTarget(tgt.implicit, rev, id)
			}
		}
	}
}
