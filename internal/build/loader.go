package build

import (
	"strings"

	"github.com/phobologic/traceguide/internal/lang"
	"github.com/phobologic/traceguide/internal/model"
	"github.com/phobologic/traceguide/internal/trace"
)

// Sink receives the items, attributes and deferred effects of a document.
// *trace.Collection implements it.
type Sink interface {
	AddItem(item *trace.Item) error
	GetItem(id string) *trace.Item
	AddRelation(source, relation, target string) error
	ReverseRelation(relation string) (string, bool)
	Attribute(id string) *trace.Attribute
	DefineAttribute(attr *trace.Attribute)
	AddIntermediateNode(e trace.Effect)
}

// LoadOptions configures how directives become collection entries.
type LoadOptions struct {
	// ChecklistAttribute receives checkbox-result values.
	ChecklistAttribute string
}

// itemKeys are item directive fields that are neither relations nor
// attributes.
var itemKeys = map[string]struct{}{
	"id":      {},
	"caption": {},
	"content": {},
}

// Load adds every directive of doc to sink. Authoring problems are recorded
// as warnings on doc; loading continues with the next directive.
func Load(doc *model.Document, sink Sink, opts LoadOptions) {
	for _, d := range doc.Directives {
		switch d.Kind {
		case model.ItemDirective:
			loadItem(doc, d, sink)
		case model.AttributeDirective:
			loadAttribute(doc, d, sink)
		case model.LinkDirective:
			loadLink(doc, d, sink)
		case model.RelinkDirective:
			loadRelink(doc, d, sink)
		case model.CheckboxDirective:
			loadCheckbox(doc, d, sink, opts)
		}
	}
}

func location(doc *model.Document, d model.Directive) trace.Location {
	return trace.Location{Docname: doc.Path, Line: d.Line}
}

func loadItem(doc *model.Document, d model.Directive, sink Sink) {
	id := d.String("id")
	if id == "" {
		doc.Warn(d.Line, "%s: missing id", d.Kind)
		return
	}
	it := trace.NewItem(id)
	it.SetLocation(doc.Path, d.Line)
	it.SetCaption(lang.CollapseWhitespace(d.String("caption")))
	it.SetContent(strings.TrimSpace(d.String("content")))
	if err := sink.AddItem(it); err != nil {
		doc.Warn(d.Line, "%s: %v", d.Kind, err)
		return
	}
	// AddItem may have folded a placeholder into the stored item.
	it = sink.GetItem(id)

	for _, key := range d.Keys() {
		if _, ok := itemKeys[key]; ok {
			continue
		}
		if _, ok := sink.ReverseRelation(key); ok {
			for _, target := range d.List(key) {
				if err := sink.AddRelation(id, key, target); err != nil {
					doc.Warn(d.Line, "%s %s: %v", d.Kind, id, err)
				}
			}
			continue
		}
		if sink.Attribute(key) != nil {
			if err := it.AddAttribute(key, d.String(key), true); err != nil {
				doc.Warn(d.Line, "%s %s: %v", d.Kind, id, err)
			}
			continue
		}
		doc.Warn(d.Line, "%s %s: unknown option %q", d.Kind, id, key)
	}
}

func loadAttribute(doc *model.Document, d model.Directive, sink Sink) {
	id := d.String("id")
	if id == "" {
		doc.Warn(d.Line, "%s: missing id", d.Kind)
		return
	}
	attr := sink.Attribute(id)
	if attr == nil {
		doc.Warn(d.Line, "%s: attribute %q is not defined in the configuration", d.Kind, id)
		var err error
		if attr, err = trace.NewAttribute(id, ".*"); err != nil {
			doc.Warn(d.Line, "%s: %v", d.Kind, err)
			return
		}
		sink.DefineAttribute(attr)
	}
	attr.Caption = lang.CollapseWhitespace(d.String("caption"))
	attr.Content = strings.TrimSpace(d.String("content"))
	attr.Location = location(doc, d)
}

// exactlyOne returns the list under one of two keys when exactly one is set.
func exactlyOne(doc *model.Document, d model.Directive, single, plural string) ([]string, string, bool) {
	switch {
	case d.Has(single) && d.Has(plural):
		doc.Warn(d.Line, "%s: use either %s or %s, not both", d.Kind, single, plural)
		return nil, "", false
	case d.Has(plural):
		list := d.List(plural)
		if len(list) == 0 {
			doc.Warn(d.Line, "%s: %s is empty", d.Kind, plural)
			return nil, "", false
		}
		return list, "", true
	case d.String(single) != "":
		return nil, d.String(single), true
	default:
		doc.Warn(d.Line, "%s: %s or %s is required", d.Kind, single, plural)
		return nil, "", false
	}
}

func loadLink(doc *model.Document, d model.Directive, sink Sink) {
	sources, source, ok := exactlyOne(doc, d, "source", "sources")
	if !ok {
		return
	}
	targets, target, ok := exactlyOne(doc, d, "target", "targets")
	if !ok {
		return
	}
	rel := d.String("type")
	if rel == "" {
		doc.Warn(d.Line, "%s: type is required", d.Kind)
		return
	}
	sink.AddIntermediateNode(&trace.ItemLink{
		Location: location(doc, d),
		Sources:  sources,
		Source:   source,
		Targets:  targets,
		Target:   target,
		Relation: rel,
	})
}

func loadRelink(doc *model.Document, d model.Directive, sink Sink) {
	source, rel := d.String("source"), d.String("type")
	if source == "" || rel == "" {
		doc.Warn(d.Line, "%s: source and type are required", d.Kind)
		return
	}
	sink.AddIntermediateNode(&trace.ItemRelink{
		Location: location(doc, d),
		Source:   source,
		Target:   d.String("target"),
		Relation: rel,
	})
}

func loadCheckbox(doc *model.Document, d model.Directive, sink Sink, opts LoadOptions) {
	id, value := d.String("id"), d.String("value")
	if id == "" || value == "" {
		doc.Warn(d.Line, "%s: id and value are required", d.Kind)
		return
	}
	sink.AddIntermediateNode(&trace.CheckboxResult{
		Location:  location(doc, d),
		Item:      id,
		Value:     value,
		Attribute: opts.ChecklistAttribute,
	})
}
