// Package model defines the plain records produced by reading documents.
package model

import (
	"fmt"
	"sort"
	"strings"
)

// DirectiveKind names a fenced directive block.
type DirectiveKind string

const (
	ItemDirective      DirectiveKind = "item"
	AttributeDirective DirectiveKind = "item-attribute"
	LinkDirective      DirectiveKind = "item-link"
	RelinkDirective    DirectiveKind = "item-relink"
	CheckboxDirective  DirectiveKind = "checkbox-result"
)

// DirectiveKinds lists every directive in the order they are documented.
var DirectiveKinds = []DirectiveKind{
	ItemDirective,
	AttributeDirective,
	LinkDirective,
	RelinkDirective,
	CheckboxDirective,
}

// ParseDirectiveKind maps a fence info string to a directive kind.
func ParseDirectiveKind(s string) (DirectiveKind, bool) {
	for _, k := range DirectiveKinds {
		if string(k) == s {
			return k, true
		}
	}
	return "", false
}

// Directive is one decoded directive block.
type Directive struct {
	Kind DirectiveKind
	// Line is the 1-based line of the opening fence.
	Line   int
	Fields map[string]any
}

// Has reports whether key is present.
func (d Directive) Has(key string) bool {
	_, ok := d.Fields[key]
	return ok
}

// String returns a scalar field as a trimmed string, or "" when absent.
func (d Directive) String(key string) string {
	v, ok := d.Fields[key]
	if !ok || v == nil {
		return ""
	}
	return strings.TrimSpace(fmt.Sprint(v))
}

// List returns a field holding either a single value or a list of values.
// Empty entries are dropped.
func (d Directive) List(key string) []string {
	v, ok := d.Fields[key]
	if !ok || v == nil {
		return nil
	}
	var raw []any
	switch x := v.(type) {
	case []any:
		raw = x
	case []string:
		for _, s := range x {
			raw = append(raw, s)
		}
	default:
		raw = []any{x}
	}
	out := make([]string, 0, len(raw))
	for _, r := range raw {
		if r == nil {
			continue
		}
		s := strings.TrimSpace(fmt.Sprint(r))
		if s != "" {
			out = append(out, s)
		}
	}
	return out
}

// Keys returns field names sorted.
func (d Directive) Keys() []string {
	keys := make([]string, 0, len(d.Fields))
	for k := range d.Fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Warning is a non-fatal problem found while reading a document.
type Warning struct {
	Line    int    `msgpack:"line"`
	Message string `msgpack:"message"`
}

// Document holds the directives read from a single file.
type Document struct {
	// Path is relative to the build root, slash separated.
	Path       string
	Directives []Directive
	Warnings   []Warning
}

// Warn records a warning at line.
func (d *Document) Warn(line int, format string, args ...any) {
	d.Warnings = append(d.Warnings, Warning{Line: line, Message: fmt.Sprintf(format, args...)})
}
