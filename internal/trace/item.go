package trace

import (
	"crypto/md5"
	"encoding/hex"
	"regexp"

	"github.com/pkg/errors"
)

// Item is a traceable documentation item: a requirement, a test case, ...
//
// Explicit relations come from declarations; implicit relations are only
// added as automatic reverse edges. A (relation, target) pair is never held in
// both sets at the same time.
type Item struct {
	id          string
	placeholder bool
	explicit    map[string][]string
	implicit    map[string][]string
	attributes  map[string]string
	attrOrder   []string

	loc     Location
	caption string
	content string

	collection *Collection
}

// NewItem creates a real (non-placeholder) item.
func NewItem(id string) *Item {
	return &Item{
		id:         id,
		explicit:   make(map[string][]string),
		implicit:   make(map[string][]string),
		attributes: make(map[string]string),
	}
}

func newPlaceholder(id string) *Item {
	it := NewItem(id)
	it.placeholder = true
	return it
}

// ID returns the item identifier.
func (it *Item) ID() string { return it.id }

// IsPlaceholder reports whether the item is only known as a relation target.
func (it *Item) IsPlaceholder() bool { return it.placeholder }

// Docname returns the document the item is declared in.
func (it *Item) Docname() string { return it.loc.Docname }

// Line returns the declaration line, 0 when unknown.
func (it *Item) Line() int { return it.loc.Line }

// Location returns where the item is declared.
func (it *Item) Location() Location { return it.loc }

// HasLocation reports whether the declaring document is known.
func (it *Item) HasLocation() bool { return it.loc.Docname != "" }

// Caption returns the short title.
func (it *Item) Caption() string { return it.caption }

// Content returns the body text.
func (it *Item) Content() string { return it.content }

// SetLocation records where the item is declared.
func (it *Item) SetLocation(docname string, line int) {
	it.loc = Location{Docname: docname, Line: line}
}

// SetCaption sets the short title.
func (it *Item) SetCaption(caption string) { it.caption = caption }

// SetContent sets the body text.
func (it *Item) SetContent(content string) { it.content = content }

// AddTarget adds a relation to another item without creating the reverse
// edge; Collection.AddRelation takes care of that. Adding an explicit target
// that is already implicit promotes it.
func (it *Item) AddTarget(relation, target string, implicit bool) error {
	if target == it.id {
		return &SelfRelationError{Location: it.loc, ID: it.id, Relation: relation}
	}
	switch {
	case contains(it.explicit[relation], target):
		return &RelationConflictError{Location: it.loc, Source: it.id, Relation: relation, Target: target, Implicit: implicit}
	case contains(it.implicit[relation], target):
		if implicit {
			return &RelationConflictError{Location: it.loc, Source: it.id, Relation: relation, Target: target, Implicit: true}
		}
		removeTarget(it.implicit, relation, target)
		addTarget(it.explicit, relation, target)
	case implicit:
		addTarget(it.implicit, relation, target)
	default:
		addTarget(it.explicit, relation, target)
	}
	return nil
}

// RemoveTargets drops target from the selected relation sets. When relations
// is empty every relation is affected.
func (it *Item) RemoveTargets(target string, explicit, implicit bool, relations ...string) {
	for _, set := range it.sets(explicit, implicit) {
		for rel := range set {
			if len(relations) > 0 && !contains(relations, rel) {
				continue
			}
			removeTarget(set, rel, target)
		}
	}
}

// RemoveTargetsByIDs drops every relation, explicit or implicit, to any of ids.
func (it *Item) RemoveTargetsByIDs(ids []string) {
	for _, id := range ids {
		it.RemoveTargets(id, true, true)
	}
}

// Targets returns the naturally sorted targets of relation from the selected
// sets.
func (it *Item) Targets(relation string, explicit, implicit bool) []string {
	var out []string
	for _, set := range it.sets(explicit, implicit) {
		for _, tgt := range set[relation] {
			if !contains(out, tgt) {
				out = append(out, tgt)
			}
		}
	}
	NaturalSort(out)
	return out
}

// Relations returns the relations with at least one target, naturally sorted.
func (it *Item) Relations() []string {
	seen := make(map[string]struct{})
	for _, set := range []map[string][]string{it.explicit, it.implicit} {
		for rel, tgts := range set {
			if len(tgts) > 0 {
				seen[rel] = struct{}{}
			}
		}
	}
	return sortedKeys(seen)
}

func (it *Item) sets(explicit, implicit bool) []map[string][]string {
	var sets []map[string][]string
	if explicit {
		sets = append(sets, it.explicit)
	}
	if implicit {
		sets = append(sets, it.implicit)
	}
	return sets
}

// AddAttribute sets attribute key to value after validating it against the
// definition registered in the owning collection. With overwrite false an
// existing value is kept.
func (it *Item) AddAttribute(key, value string, overwrite bool) error {
	if key == "" || value == "" {
		return &AttributeValidationError{Location: it.loc, Item: it.id, Key: key, Value: value}
	}
	var attr *Attribute
	if it.collection != nil {
		attr = it.collection.Attribute(key)
	}
	if attr == nil {
		return &AttributeValidationError{Location: it.loc, Item: it.id, Key: key, Value: value}
	}
	if !attr.CanAccept(value) {
		return &AttributeValidationError{Location: it.loc, Item: it.id, Key: key, Value: value, Pattern: attr.Pattern}
	}
	if _, ok := it.attributes[attr.ID]; ok && !overwrite {
		return nil
	}
	it.attributes[attr.ID] = value
	return nil
}

// RemoveAttribute deletes attribute key.
func (it *Item) RemoveAttribute(key string) error {
	if key == "" {
		return &AttributeValidationError{Location: it.loc, Item: it.id}
	}
	delete(it.attributes, key)
	delete(it.attributes, ToID(key))
	return nil
}

// Attribute returns the value of key, or "" when unset.
func (it *Item) Attribute(key string) string {
	if v, ok := it.attributes[key]; ok {
		return v
	}
	return it.attributes[ToID(key)]
}

// Attributes returns the values of keys in order, "" for unset ones.
func (it *Item) Attributes(keys []string) []string {
	values := make([]string, len(keys))
	for i, k := range keys {
		values[i] = it.Attribute(k)
	}
	return values
}

// AttributeKeys returns the set attribute keys: first those in the item's
// attribute order, then the others in natural order.
func (it *Item) AttributeKeys() []string {
	var keys []string
	for _, k := range it.attrOrder {
		if _, ok := it.attributes[k]; ok {
			keys = append(keys, k)
		}
	}
	for _, k := range sortedKeys(it.attributes) {
		if !contains(keys, k) {
			keys = append(keys, k)
		}
	}
	return keys
}

// AttributeOrder returns the preferred attribute order.
func (it *Item) AttributeOrder() []string { return it.attrOrder }

// SetAttributeOrder replaces the preferred attribute order.
func (it *Item) SetAttributeOrder(order []string) {
	it.attrOrder = append([]string(nil), order...)
}

// Matches reports whether re matches somewhere in the identifier.
func (it *Item) Matches(re *regexp.Regexp) bool {
	return re.MatchString(it.id)
}

// AttributeFilter maps attribute keys to the pattern their value must match.
// A nil pattern matches anything, including an unset attribute.
type AttributeFilter map[string]*regexp.Regexp

// ParseAttributeFilter compiles a key to pattern mapping. Empty patterns
// compile to nil.
func ParseAttributeFilter(patterns map[string]string) (AttributeFilter, error) {
	if len(patterns) == 0 {
		return nil, nil
	}
	filter := make(AttributeFilter, len(patterns))
	for key, p := range patterns {
		if p == "" {
			filter[key] = nil
			continue
		}
		re, err := regexp.Compile(p)
		if err != nil {
			return nil, errors.Wrapf(err, "attribute filter %s", key)
		}
		filter[key] = re
	}
	return filter, nil
}

// AttributesMatch reports whether every pattern in filter matches.
func (it *Item) AttributesMatch(filter AttributeFilter) bool {
	for key, re := range filter {
		if re == nil {
			continue
		}
		v, ok := it.attributes[key]
		if !ok {
			v, ok = it.attributes[ToID(key)]
		}
		if !ok || !re.MatchString(v) {
			return false
		}
	}
	return true
}

// HasRelations reports whether the item has a target for at least one of
// relations. An empty list matches any item.
func (it *Item) HasRelations(relations []string) bool {
	if len(relations) == 0 {
		return true
	}
	for _, rel := range relations {
		if len(it.explicit[rel]) > 0 || len(it.implicit[rel]) > 0 {
			return true
		}
	}
	return false
}

// IsRelated reports whether target is reachable through one of relations.
func (it *Item) IsRelated(relations []string, target string) bool {
	for _, rel := range relations {
		if contains(it.explicit[rel], target) || contains(it.implicit[rel], target) {
			return true
		}
	}
	return false
}

// Update folds other into it: relations are united and provenance that it
// lacks is copied over.
func (it *Item) Update(other *Item) error {
	if it.id != other.id {
		return errors.Errorf("update error %s vs %s", it.id, other.id)
	}
	it.mergeRelations(other)
	if !other.placeholder {
		it.placeholder = false
	}
	if it.loc.Docname == "" && other.loc.Docname != "" {
		it.loc = other.loc
	}
	if it.caption == "" {
		it.caption = other.caption
	}
	if it.content == "" {
		it.content = other.content
	}
	for k, v := range other.attributes {
		if _, ok := it.attributes[k]; !ok {
			it.attributes[k] = v
		}
	}
	if len(it.attrOrder) == 0 {
		it.SetAttributeOrder(other.attrOrder)
	}
	return nil
}

// mergeRelations unites other's relation sets into it. An explicit edge wins
// over an implicit copy of the same pair.
func (it *Item) mergeRelations(other *Item) {
	for _, rel := range sortedKeys(other.explicit) {
		for _, tgt := range other.explicit[rel] {
			if tgt == it.id || contains(it.explicit[rel], tgt) {
				continue
			}
			removeTarget(it.implicit, rel, tgt)
			addTarget(it.explicit, rel, tgt)
		}
	}
	for _, rel := range sortedKeys(other.implicit) {
		for _, tgt := range other.implicit[rel] {
			if tgt == it.id || contains(it.explicit[rel], tgt) || contains(it.implicit[rel], tgt) {
				continue
			}
			addTarget(it.implicit, rel, tgt)
		}
	}
}

// SelfTest checks the item is declared, located and free of duplicate
// targets.
func (it *Item) SelfTest() error {
	if it.placeholder {
		return &ItemError{Location: it.loc, ID: it.id, Reason: "is not defined"}
	}
	if it.loc.Docname == "" {
		return &ItemError{ID: it.id, Reason: "has no reference to source document"}
	}
	for _, rel := range it.Relations() {
		seen := make(map[string]struct{})
		for _, set := range []map[string][]string{it.explicit, it.implicit} {
			for _, tgt := range set[rel] {
				if _, dup := seen[tgt]; dup {
					return &ItemError{Location: it.loc, ID: it.id, Reason: "has duplicate targets for " + rel}
				}
				seen[tgt] = struct{}{}
			}
		}
	}
	return nil
}

// Record is the export representation of an item.
type Record struct {
	ID          string              `json:"id"`
	Caption     string              `json:"caption"`
	Document    string              `json:"document"`
	Line        int                 `json:"line"`
	ContentHash string              `json:"content-hash"`
	Targets     map[string][]string `json:"targets"`
}

// Record returns the export record of the item. Placeholders have none.
func (it *Item) Record() (Record, bool) {
	if it.placeholder {
		return Record{}, false
	}
	rec := Record{
		ID:          it.id,
		Caption:     it.caption,
		Document:    it.loc.Docname,
		Line:        it.loc.Line,
		ContentHash: ContentHash(it.content),
		Targets:     make(map[string][]string),
	}
	for _, rel := range it.Relations() {
		rec.Targets[rel] = it.Targets(rel, true, true)
	}
	return rec, true
}

// ContentHash returns the change-detection hash of content, "0" when empty.
func ContentHash(content string) string {
	if content == "" {
		return "0"
	}
	sum := md5.Sum([]byte(content))
	return hex.EncodeToString(sum[:])
}

func (it *Item) clone() *Item {
	c := NewItem(it.id)
	c.placeholder = it.placeholder
	c.loc = it.loc
	c.caption = it.caption
	c.content = it.content
	c.attrOrder = append([]string(nil), it.attrOrder...)
	for k, v := range it.attributes {
		c.attributes[k] = v
	}
	copySet(c.explicit, it.explicit)
	copySet(c.implicit, it.implicit)
	return c
}

func copySet(dst, src map[string][]string) {
	for rel, tgts := range src {
		dst[rel] = append([]string(nil), tgts...)
	}
}

func addTarget(set map[string][]string, relation, target string) {
	if !contains(set[relation], target) {
		set[relation] = append(set[relation], target)
	}
}

func removeTarget(set map[string][]string, relation, target string) {
	tgts := set[relation]
	for i, t := range tgts {
		if t == target {
			set[relation] = append(tgts[:i:i], tgts[i+1:]...)
			break
		}
	}
	if len(set[relation]) == 0 {
		delete(set, relation)
	}
}
