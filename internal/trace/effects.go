package trace

import (
	"sort"

	"github.com/sirupsen/logrus"
)

// EffectKind names a deferred effect variant.
type EffectKind string

const (
	KindItemLink       EffectKind = "item-link"
	KindItemRelink     EffectKind = "item-relink"
	KindCheckboxResult EffectKind = "checkbox-result"
)

// Effect is a directive whose work has to wait until every document has been
// read. Effects run in ascending Order; equal orders keep queue order.
type Effect interface {
	Kind() EffectKind
	Order() int
	Origin() Location
	Apply(c *Collection)

	record() EffectRecord
}

// AddIntermediateNode queues e for ProcessIntermediateNodes.
func (c *Collection) AddIntermediateNode(e Effect) {
	c.nodes = append(c.nodes, e)
}

// IntermediateNodes returns the queued effects in queue order.
func (c *Collection) IntermediateNodes() []Effect {
	return append([]Effect(nil), c.nodes...)
}

// ProcessIntermediateNodes applies every queued effect and empties the queue.
// Failures are logged as warnings attributed to the effect's origin.
func (c *Collection) ProcessIntermediateNodes() {
	nodes := c.nodes
	c.nodes = nil
	sort.SliceStable(nodes, func(i, j int) bool {
		return nodes[i].Order() < nodes[j].Order()
	})
	for _, n := range nodes {
		n.Apply(c)
	}
}

func (c *Collection) hasEffect(e Effect) bool {
	for _, n := range c.nodes {
		if n.Kind() == e.Kind() && n.Origin() == e.Origin() {
			return true
		}
	}
	return false
}

func (c *Collection) warn(loc Location, kind EffectKind, msg string) {
	c.log.WithFields(logrus.Fields{
		"document":  loc.Docname,
		"line":      loc.Line,
		"directive": string(kind),
	}).Warn(msg)
}

// ItemLink adds Relation from every source to every target. Sources and
// Targets are explicit lists; Source and Target are identifier patterns used
// when the matching list is empty.
type ItemLink struct {
	Location
	Sources  []string
	Source   string
	Targets  []string
	Target   string
	Relation string
}

// Kind returns KindItemLink.
func (l *ItemLink) Kind() EffectKind { return KindItemLink }

// Order puts links before relinks and checkbox results.
func (l *ItemLink) Order() int { return 10 }

// Origin returns where the link was declared.
func (l *ItemLink) Origin() Location { return l.Location }

// Apply adds the edges, warning about unresolvable selections.
func (l *ItemLink) Apply(c *Collection) {
	sources, err := l.resolve(c, l.Sources, l.Source)
	if err != nil {
		c.warn(l.Location, l.Kind(), err.Error())
		return
	}
	targets, err := l.resolve(c, l.Targets, l.Target)
	if err != nil {
		c.warn(l.Location, l.Kind(), err.Error())
		return
	}
	for _, src := range sources {
		for _, tgt := range targets {
			if err := c.AddRelation(src, l.Relation, tgt); err != nil {
				c.warn(l.Location, l.Kind(), err.Error())
			}
		}
	}
}

func (l *ItemLink) resolve(c *Collection, ids []string, pattern string) ([]string, error) {
	if len(ids) > 0 {
		return ids, nil
	}
	return c.GetItems(Query{Pattern: pattern})
}

func (l *ItemLink) record() EffectRecord {
	return EffectRecord{
		Kind:     l.Kind(),
		Location: l.Location,
		Sources:  l.Sources,
		Source:   l.Source,
		Targets:  l.Targets,
		Target:   l.Target,
		Relation: l.Relation,
	}
}

// ItemRelink moves every Relation edge pointing at Source to Target, or
// drops those edges when Target is empty. A placeholder Source disappears.
type ItemRelink struct {
	Location
	Source   string
	Target   string
	Relation string
}

// Kind returns KindItemRelink.
func (r *ItemRelink) Kind() EffectKind { return KindItemRelink }

// Order runs relinks after links.
func (r *ItemRelink) Order() int { return 20 }

// Origin returns where the relink was declared.
func (r *ItemRelink) Origin() Location { return r.Location }

// Apply rewrites the edges pointing at Source.
func (r *ItemRelink) Apply(c *Collection) {
	rev, ok := c.ReverseRelation(r.Relation)
	if !ok {
		c.warn(r.Location, r.Kind(), (&UnknownRelationError{Location: r.Location, Relation: r.Relation}).Error())
		return
	}

	var affected []string
	source := c.GetItem(r.Source)
	if rev == NoReverse {
		// External targets are not items; find the referencing items instead.
		for _, id := range c.ItemIDs() {
			if contains(c.items[id].explicit[r.Relation], r.Source) {
				affected = append(affected, id)
			}
		}
	} else {
		if source == nil {
			c.warn(r.Location, r.Kind(), "could not find source item "+r.Source)
			return
		}
		affected = source.Targets(rev, true, true)
	}

	for _, id := range affected {
		it := c.GetItem(id)
		if it == nil {
			continue
		}
		it.RemoveTargets(r.Source, true, true, r.Relation)
		if source != nil && rev != NoReverse {
			source.RemoveTargets(id, true, true, rev)
		}
		if r.Target == "" {
			continue
		}
		if err := c.AddRelation(id, r.Relation, r.Target); err != nil {
			c.warn(r.Location, r.Kind(), err.Error())
		}
	}
	if source != nil && source.placeholder {
		c.RemoveItem(r.Source)
	}
}

func (r *ItemRelink) record() EffectRecord {
	return EffectRecord{
		Kind:     r.Kind(),
		Location: r.Location,
		Source:   r.Source,
		Target:   r.Target,
		Relation: r.Relation,
	}
}

// CheckboxResult sets the checklist attribute of Item to Value. An empty
// Attribute means the checklist is not configured.
type CheckboxResult struct {
	Location
	Item      string
	Value     string
	Attribute string
}

// Kind returns KindCheckboxResult.
func (r *CheckboxResult) Kind() EffectKind { return KindCheckboxResult }

// Order runs checkbox results last.
func (r *CheckboxResult) Order() int { return 30 }

// Origin returns where the checkbox result was declared.
func (r *CheckboxResult) Origin() Location { return r.Location }

// Apply sets the checklist attribute of Item.
func (r *CheckboxResult) Apply(c *Collection) {
	it := c.GetItem(r.Item)
	if it == nil || it.placeholder {
		c.warn(r.Location, r.Kind(), "could not find item "+r.Item)
		return
	}
	if r.Attribute == "" {
		c.warn(r.Location, r.Kind(), "the checklist attribute is not configured")
		return
	}
	if err := it.AddAttribute(r.Attribute, r.Value, true); err != nil {
		c.warn(r.Location, r.Kind(), "checkbox value invalid: "+err.Error())
	}
}

func (r *CheckboxResult) record() EffectRecord {
	return EffectRecord{
		Kind:      r.Kind(),
		Location:  r.Location,
		Item:      r.Item,
		Value:     r.Value,
		Attribute: r.Attribute,
	}
}
