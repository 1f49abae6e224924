// Package trace holds the traceability graph: items, their attributes and the
// typed bidirectional relations between them.
package trace

import (
	"io"

	"github.com/sirupsen/logrus"
)

// Collection owns every item and attribute definition of one build (or of
// one worker during a parallel build).
type Collection struct {
	items      map[string]*Item
	relations  *Relations
	attributes map[string]*Attribute
	comparers  map[string]Comparator
	nodes      []Effect
	// seen holds every real declaration location of an identifier, so
	// duplicates are found whatever order collections are merged in.
	seen map[string][]Location

	log logrus.FieldLogger
}

// Option configures a Collection.
type Option func(*Collection)

// WithLogger sets the logger used for warnings raised while applying deferred
// effects.
func WithLogger(l logrus.FieldLogger) Option {
	return func(c *Collection) {
		c.log = l
	}
}

// NewCollection returns an empty collection.
func NewCollection(opts ...Option) *Collection {
	c := &Collection{
		items:      make(map[string]*Item),
		relations:  newRelations(),
		attributes: make(map[string]*Attribute),
		comparers:  make(map[string]Comparator),
		seen:       make(map[string][]Location),
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.log == nil {
		l := logrus.New()
		l.SetOutput(io.Discard)
		c.log = l
	}
	return c
}

// Logger returns the logger warnings are reported to.
func (c *Collection) Logger() logrus.FieldLogger { return c.log }

// AddRelationPair registers forward and its reverse (or NoReverse).
func (c *Collection) AddRelationPair(forward, reverse string) {
	c.relations.AddPair(forward, reverse)
}

// ReverseRelation returns the reverse keyword of relation.
func (c *Collection) ReverseRelation(relation string) (string, bool) {
	return c.relations.Reverse(relation)
}

// Relations returns the registered relation keywords in natural order.
func (c *Collection) Relations() []string {
	return c.relations.Sorted()
}

// IsExternalRelation reports whether relation has no reverse.
func (c *Collection) IsExternalRelation(relation string) bool {
	return c.relations.IsExternal(relation)
}

// AddItem stores item. An existing placeholder with the same identifier is
// folded into item; an existing real item is a duplicate.
func (c *Collection) AddItem(item *Item) error {
	if old, ok := c.items[item.id]; ok {
		if !old.placeholder {
			return &DuplicateItemError{Location: item.loc, ID: item.id, Other: old.loc}
		}
		if err := item.Update(old); err != nil {
			return err
		}
	}
	if !item.placeholder {
		c.see(item.id, item.loc)
	}
	item.collection = c
	c.items[item.id] = item
	return nil
}

// GetItem returns the item with id, or nil.
func (c *Collection) GetItem(id string) *Item {
	return c.items[id]
}

// HasItem reports whether id is known, placeholder or not.
func (c *Collection) HasItem(id string) bool {
	_, ok := c.items[id]
	return ok
}

// Len returns the number of stored items, placeholders included.
func (c *Collection) Len() int {
	return len(c.items)
}

// ItemIDs returns every identifier, placeholders included, in natural order.
func (c *Collection) ItemIDs() []string {
	return sortedKeys(c.items)
}

// RemoveItem deletes id and every implicit relation pointing to it.
func (c *Collection) RemoveItem(id string) {
	delete(c.items, id)
	delete(c.seen, id)
	for _, it := range c.items {
		it.RemoveTargets(id, false, true)
	}
}

// DocumentItems returns the items declared in docname.
func (c *Collection) DocumentItems(docname string) map[string]*Item {
	out := make(map[string]*Item)
	for id, it := range c.items {
		if it.loc.Docname == docname {
			out[id] = it
		}
	}
	return out
}

// AddRelation adds the explicit edge source -relation-> target and, when the
// relation has a reverse, the implicit reverse edge on target. Unknown
// endpoints become placeholders.
func (c *Collection) AddRelation(source, relation, target string) error {
	src, ok := c.items[source]
	if !ok {
		src = newPlaceholder(source)
		src.collection = c
		c.items[source] = src
	}
	if !c.relations.Has(relation) {
		return &UnknownRelationError{Location: src.loc, Relation: relation}
	}
	if err := src.AddTarget(relation, target, false); err != nil {
		return err
	}
	reverse, _ := c.relations.Reverse(relation)
	if reverse == NoReverse {
		return nil
	}
	tgt, ok := c.items[target]
	if !ok {
		tgt = newPlaceholder(target)
		tgt.collection = c
		c.items[target] = tgt
	}
	// Both directions declared explicitly.
	if contains(tgt.explicit[reverse], source) {
		return nil
	}
	return tgt.AddTarget(reverse, source, true)
}

// DefineAttribute registers attr, replacing an existing definition with the
// same identifier.
func (c *Collection) DefineAttribute(attr *Attribute) {
	c.attributes[attr.ID] = attr
}

// Attribute returns the definition of id, or nil.
func (c *Collection) Attribute(id string) *Attribute {
	if a, ok := c.attributes[id]; ok {
		return a
	}
	return c.attributes[ToID(id)]
}

// Attributes returns the defined attribute identifiers in natural order.
func (c *Collection) Attributes() []string {
	return sortedKeys(c.attributes)
}

// SetAttributeComparator makes queries sorting on attr use less. attr is
// matched case-insensitively.
func (c *Collection) SetAttributeComparator(attr string, less Comparator) {
	c.comparers[ToID(attr)] = less
}

func (c *Collection) comparer(attr string) (Comparator, bool) {
	less, ok := c.comparers[ToID(attr)]
	return less, ok
}

// AddAttributeSortingRule sets the attribute order of every item matching
// filter. Items that already have an order keep it and are returned.
func (c *Collection) AddAttributeSortingRule(filter string, attributes []string) ([]string, error) {
	ids, err := c.GetItems(Query{Pattern: filter})
	if err != nil {
		return nil, err
	}
	var ignored []string
	for _, id := range ids {
		it := c.items[id]
		if len(it.attrOrder) > 0 {
			ignored = append(ignored, id)
			continue
		}
		it.SetAttributeOrder(attributes)
	}
	return ignored, nil
}

// RemoveItemsFromDocument purges every item declared in docname, the
// relations other items hold to them and the deferred effects queued by the
// document.
func (c *Collection) RemoveItemsFromDocument(docname string) {
	var removed []string
	for id, it := range c.items {
		if it.loc.Docname == docname {
			removed = append(removed, id)
		}
	}
	for _, id := range removed {
		delete(c.items, id)
	}
	for id, locs := range c.seen {
		kept := locs[:0]
		for _, loc := range locs {
			if loc.Docname != docname {
				kept = append(kept, loc)
			}
		}
		if len(kept) == 0 {
			delete(c.seen, id)
		} else {
			c.seen[id] = kept
		}
	}
	for _, it := range c.items {
		it.RemoveTargetsByIDs(removed)
	}
	kept := c.nodes[:0]
	for _, n := range c.nodes {
		if n.Origin().Docname != docname {
			kept = append(kept, n)
		}
	}
	c.nodes = kept
}

// Records returns the export records of all real items in natural order.
func (c *Collection) Records() []Record {
	var recs []Record
	for _, id := range c.ItemIDs() {
		if rec, ok := c.items[id].Record(); ok {
			recs = append(recs, rec)
		}
	}
	return recs
}
