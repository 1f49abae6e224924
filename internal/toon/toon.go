// Package toon implements TOON (Token-Oriented Object Notation) encoding of
// traceability collections and matrices.
package toon

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/phobologic/traceguide/internal/export"
	"github.com/phobologic/traceguide/internal/matrix"
	"github.com/phobologic/traceguide/internal/trace"
)

var (
	needsQuoting = regexp.MustCompile(`[,:"\\{}\[\]]`)
	looksNumeric = regexp.MustCompile(`^-?(?:0|[1-9]\d*)(?:\.\d+)?$`)
	keywords     = map[string]struct{}{
		"true":  {},
		"false": {},
		"null":  {},
	}
)

// Summary is the header of an encoded collection.
type Summary struct {
	Root      string
	Documents int
	Problems  []error
}

// EncodeCollection converts a collection into TOON format. Placeholders are
// left out of the items table; their edges still show up as relations.
func EncodeCollection(s Summary, c *trace.Collection) string {
	var parts []string

	parts = append(parts, fmt.Sprintf("root: %s", encodeValue(s.Root)))
	parts = append(parts, fmt.Sprintf("documents: %d", s.Documents))

	var itemRows, relRows [][]string
	for _, id := range c.ItemIDs() {
		it := c.GetItem(id)
		if !it.IsPlaceholder() {
			itemRows = append(itemRows, []string{
				id,
				it.Caption(),
				it.Docname(),
				fmt.Sprintf("%d", it.Line()),
				attributes(it),
			})
		}
		for _, rel := range it.Relations() {
			for _, tgt := range it.Targets(rel, true, false) {
				relRows = append(relRows, []string{id, rel, tgt})
			}
		}
	}
	parts = append(parts, formatTabular("items", []string{"id", "caption", "document", "line", "attributes"}, itemRows))
	parts = append(parts, formatTabular("relations", []string{"source", "relation", "target"}, relRows))

	if len(s.Problems) > 0 {
		var rows [][]string
		for _, p := range s.Problems {
			rows = append(rows, []string{p.Error()})
		}
		parts = append(parts, formatTabular("problems", []string{"message"}, rows))
	}

	return strings.Join(parts, "\n")
}

// EncodeMatrix converts a matrix into TOON format. Each target column holds
// the covering items separated by spaces.
func EncodeMatrix(m *matrix.Matrix) string {
	columns := []string{"source"}
	columns = append(columns, m.Attributes...)
	if m.Intermediate != "" {
		columns = append(columns, "intermediate")
	}
	for i := range m.Targets {
		columns = append(columns, fmt.Sprintf("target%d", i+1))
	}
	columns = append(columns, "covered")

	var rows [][]string
	for _, r := range m.Rows {
		row := []string{r.Source}
		row = append(row, r.Attributes...)
		if m.Intermediate != "" {
			row = append(row, strings.Join(r.Intermediates, " "))
		}
		for _, cell := range r.Cells {
			row = append(row, strings.Join(cell, " "))
		}
		row = append(row, yesNo(r.Covered))
		rows = append(rows, row)
	}

	var parts []string
	if m.Intermediate != "" {
		parts = append(parts, fmt.Sprintf("intermediate: %s", encodeValue(m.Intermediate)))
	}
	for i, t := range m.Targets {
		parts = append(parts, fmt.Sprintf("target%d: %s", i+1, encodeValue(t)))
	}
	parts = append(parts, formatTabular("rows", columns, rows))
	parts = append(parts, fmt.Sprintf("covered: %d", m.Stats.Covered))
	parts = append(parts, fmt.Sprintf("total: %d", m.Stats.Total))
	parts = append(parts, fmt.Sprintf("percentage: %d", m.Stats.Percentage))
	return strings.Join(parts, "\n")
}

// EncodeChanges converts the difference between two exports into TOON
// format.
func EncodeChanges(d export.Diff) string {
	var rows [][]string
	for _, c := range []struct {
		kind string
		ids  []string
	}{{"added", d.Added}, {"removed", d.Removed}, {"changed", d.Changed}} {
		for _, id := range c.ids {
			rows = append(rows, []string{id, c.kind})
		}
	}
	return formatTabular("changes", []string{"id", "change"}, rows)
}

func yesNo(b bool) string {
	if b {
		return "yes"
	}
	return "no"
}

func attributes(it *trace.Item) string {
	keys := it.AttributeKeys()
	pairs := make([]string, 0, len(keys))
	for _, k := range keys {
		pairs = append(pairs, k+"="+it.Attribute(k))
	}
	return strings.Join(pairs, " ")
}

func formatTabular(name string, columns []string, rows [][]string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s[%d]{%s}:", name, len(rows), strings.Join(columns, ","))
	for _, row := range rows {
		encoded := make([]string, len(row))
		for i, cell := range row {
			encoded[i] = encodeValue(cell)
		}
		fmt.Fprintf(&b, "\n  %s", strings.Join(encoded, ","))
	}
	return b.String()
}

func encodeValue(value string) string {
	if value == "" {
		return `""`
	}

	if value != strings.TrimSpace(value) {
		return quote(value)
	}

	if strings.ContainsAny(value, "\n\r\t") {
		return quote(value)
	}

	if _, ok := keywords[strings.ToLower(value)]; ok {
		return quote(value)
	}

	if looksNumeric.MatchString(value) {
		return value
	}

	if needsQuoting.MatchString(value) {
		return quote(value)
	}

	if strings.HasPrefix(value, "-") {
		return quote(value)
	}

	return value
}

func quote(value string) string {
	escaped := strings.ReplaceAll(value, `\`, `\\`)
	escaped = strings.ReplaceAll(escaped, `"`, `\"`)
	escaped = strings.ReplaceAll(escaped, "\n", `\n`)
	escaped = strings.ReplaceAll(escaped, "\r", `\r`)
	escaped = strings.ReplaceAll(escaped, "\t", `\t`)
	return `"` + escaped + `"`
}
