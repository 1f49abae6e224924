package trace

import (
	"sort"
	"strings"
)

// SelfTest validates the whole graph and returns a *ConsistencyError listing
// every problem found, or nil.
//
// With docname set only items of that document (and items without location)
// are checked. Items without location are skipped entirely when
// notificationItem names an existing item: warnings about them are attributed
// to that item's document instead.
func (c *Collection) SelfTest(notificationItem, docname string) error {
	if c.relations.Len() == 0 {
		return ErrNoRelations
	}
	notify := notificationItem != "" && c.HasItem(notificationItem)

	var errs []error
	reported := make(map[string]struct{})
	report := func(key string, err error) {
		if _, ok := reported[key]; ok {
			return
		}
		reported[key] = struct{}{}
		errs = append(errs, err)
	}

	for _, id := range c.ItemIDs() {
		it := c.items[id]
		if docname != "" && it.loc.Docname != docname && it.loc.Docname != "" {
			continue
		}
		if it.loc.Docname == "" && notify {
			continue
		}
		if err := it.SelfTest(); err != nil {
			errs = append(errs, err)
		}
		for _, rel := range c.relations.Sorted() {
			rev, _ := c.relations.Reverse(rel)
			if rev == NoReverse {
				continue
			}
			c.checkRelation(it, rel, rev, report)
		}
	}
	if len(errs) > 0 {
		return &ConsistencyError{Errors: errs}
	}
	return nil
}

func (c *Collection) checkRelation(it *Item, rel, rev string, report func(string, error)) {
	for _, tgtID := range it.Targets(rel, true, true) {
		tgt, ok := c.items[tgtID]
		if !ok {
			report("dangling\x00"+it.id+"\x00"+rel+"\x00"+tgtID,
				&DanglingTargetError{Location: it.loc, Source: it.id, Relation: rel, Target: tgtID})
			continue
		}
		if !contains(tgt.Targets(rev, true, true), it.id) {
			report("reverse\x00"+tgtID+"\x00"+rev+"\x00"+it.id,
				&MissingReverseError{Location: it.loc, Source: tgtID, Relation: rev, Target: it.id})
		}
		// Both ends declare the same relation to each other.
		if contains(it.explicit[rel], tgtID) && contains(tgt.explicit[rel], it.id) {
			report(cycleKey(rel, rev, it.id, tgtID),
				&CircularRelationError{Location: it.loc, Relation: rel, Path: []string{it.id, tgtID, it.id}})
		}
		// Symmetric relations naturally form triangles.
		if rel == rev {
			continue
		}
		for _, nested := range tgt.Targets(rel, true, true) {
			if nested == it.id || nested == tgtID {
				continue
			}
			if contains(it.Targets(rev, true, true), nested) {
				report(cycleKey(rel, rev, it.id, tgtID, nested),
					&CircularRelationError{Location: it.loc, Relation: rel, Path: []string{it.id, tgtID, nested, it.id}})
			}
		}
	}
}

// cycleKey identifies a cycle regardless of the item it was found from and
// of the direction it was walked in.
func cycleKey(rel, rev string, ids ...string) string {
	if rev < rel {
		rel = rev
	}
	sorted := append([]string(nil), ids...)
	sort.Strings(sorted)
	return "cycle\x00" + rel + "\x00" + strings.Join(sorted, "\x00")
}
