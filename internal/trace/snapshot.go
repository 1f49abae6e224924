package trace

import (
	"regexp"

	"github.com/pkg/errors"
)

// Snapshot is the serialisable form of a Collection, used to hand worker
// results to the coordinator and to cache per-document results.
//
// Attribute comparators are functions and are not part of a snapshot; a
// restored collection gets them from configuration again.
type Snapshot struct {
	Relations  map[string]string   `json:"relations" msgpack:"relations"`
	Attributes []AttributeSnapshot `json:"attributes,omitempty" msgpack:"attributes,omitempty"`
	Items      []ItemSnapshot      `json:"items,omitempty" msgpack:"items,omitempty"`
	Effects    []EffectRecord      `json:"effects,omitempty" msgpack:"effects,omitempty"`
}

// AttributeSnapshot is the serialisable form of an Attribute. The compiled
// pattern is rebuilt on restore.
type AttributeSnapshot struct {
	ID       string   `json:"id" msgpack:"id"`
	Pattern  string   `json:"pattern" msgpack:"pattern"`
	Caption  string   `json:"caption,omitempty" msgpack:"caption,omitempty"`
	Content  string   `json:"content,omitempty" msgpack:"content,omitempty"`
	Location Location `json:"location" msgpack:"location"`
}

// ItemSnapshot is the serialisable form of an Item.
type ItemSnapshot struct {
	ID             string              `json:"id" msgpack:"id"`
	Placeholder    bool                `json:"placeholder,omitempty" msgpack:"placeholder,omitempty"`
	Location       Location            `json:"location" msgpack:"location"`
	Caption        string              `json:"caption,omitempty" msgpack:"caption,omitempty"`
	Content        string              `json:"content,omitempty" msgpack:"content,omitempty"`
	Explicit       map[string][]string `json:"explicit,omitempty" msgpack:"explicit,omitempty"`
	Implicit       map[string][]string `json:"implicit,omitempty" msgpack:"implicit,omitempty"`
	Attributes     map[string]string   `json:"attributes,omitempty" msgpack:"attributes,omitempty"`
	AttributeOrder []string            `json:"attribute_order,omitempty" msgpack:"attribute_order,omitempty"`
}

// EffectRecord is the tagged union of every Effect variant.
type EffectRecord struct {
	Kind     EffectKind `json:"kind" msgpack:"kind"`
	Location Location   `json:"location" msgpack:"location"`

	Sources  []string `json:"sources,omitempty" msgpack:"sources,omitempty"`
	Source   string   `json:"source,omitempty" msgpack:"source,omitempty"`
	Targets  []string `json:"targets,omitempty" msgpack:"targets,omitempty"`
	Target   string   `json:"target,omitempty" msgpack:"target,omitempty"`
	Relation string   `json:"relation,omitempty" msgpack:"relation,omitempty"`

	Item      string `json:"item,omitempty" msgpack:"item,omitempty"`
	Value     string `json:"value,omitempty" msgpack:"value,omitempty"`
	Attribute string `json:"attribute,omitempty" msgpack:"attribute,omitempty"`
}

// Effect returns the live effect described by r.
func (r EffectRecord) Effect() (Effect, error) {
	switch r.Kind {
	case KindItemLink:
		return &ItemLink{
			Location: r.Location,
			Sources:  r.Sources,
			Source:   r.Source,
			Targets:  r.Targets,
			Target:   r.Target,
			Relation: r.Relation,
		}, nil
	case KindItemRelink:
		return &ItemRelink{Location: r.Location, Source: r.Source, Target: r.Target, Relation: r.Relation}, nil
	case KindCheckboxResult:
		return &CheckboxResult{Location: r.Location, Item: r.Item, Value: r.Value, Attribute: r.Attribute}, nil
	default:
		return nil, errors.Errorf("unknown effect kind %q", r.Kind)
	}
}

// Snapshot returns a deep copy of c in serialisable form. Items and
// attributes are in natural identifier order.
func (c *Collection) Snapshot() Snapshot {
	s := Snapshot{Relations: c.relations.toMap()}
	for _, id := range c.Attributes() {
		a := c.attributes[id]
		s.Attributes = append(s.Attributes, AttributeSnapshot{
			ID:       a.ID,
			Pattern:  a.Pattern,
			Caption:  a.Caption,
			Content:  a.Content,
			Location: a.Location,
		})
	}
	for _, id := range c.ItemIDs() {
		it := c.items[id]
		snap := ItemSnapshot{
			ID:          it.id,
			Placeholder: it.placeholder,
			Location:    it.loc,
			Caption:     it.caption,
			Content:     it.content,
		}
		if len(it.explicit) > 0 {
			snap.Explicit = make(map[string][]string, len(it.explicit))
			copySet(snap.Explicit, it.explicit)
		}
		if len(it.implicit) > 0 {
			snap.Implicit = make(map[string][]string, len(it.implicit))
			copySet(snap.Implicit, it.implicit)
		}
		if len(it.attributes) > 0 {
			snap.Attributes = make(map[string]string, len(it.attributes))
			for k, v := range it.attributes {
				snap.Attributes[k] = v
			}
		}
		snap.AttributeOrder = append([]string(nil), it.attrOrder...)
		s.Items = append(s.Items, snap)
	}
	for _, n := range c.nodes {
		s.Effects = append(s.Effects, n.record())
	}
	return s
}

// FromSnapshot rebuilds a collection from s. Attribute patterns are compiled
// again; an invalid one fails the restore.
func FromSnapshot(s Snapshot, opts ...Option) (*Collection, error) {
	c := NewCollection(opts...)
	for fwd, rev := range s.Relations {
		c.relations.pairs[fwd] = rev
	}
	for _, as := range s.Attributes {
		re, err := regexp.Compile(as.Pattern)
		if err != nil {
			return nil, errors.Wrapf(err, "attribute %s: invalid pattern", as.ID)
		}
		c.attributes[as.ID] = &Attribute{
			ID:       as.ID,
			Pattern:  as.Pattern,
			Caption:  as.Caption,
			Content:  as.Content,
			Location: as.Location,
			re:       re,
		}
	}
	for _, is := range s.Items {
		it := NewItem(is.ID)
		it.placeholder = is.Placeholder
		it.loc = is.Location
		it.caption = is.Caption
		it.content = is.Content
		copySet(it.explicit, is.Explicit)
		copySet(it.implicit, is.Implicit)
		for k, v := range is.Attributes {
			it.attributes[k] = v
		}
		it.SetAttributeOrder(is.AttributeOrder)
		it.collection = c
		c.items[it.id] = it
		if !it.placeholder {
			c.see(it.id, it.loc)
		}
	}
	for _, rec := range s.Effects {
		e, err := rec.Effect()
		if err != nil {
			return nil, err
		}
		c.nodes = append(c.nodes, e)
	}
	return c, nil
}
