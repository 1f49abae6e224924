// Package matrix computes cross-reference matrices and coverage statistics
// over a traceability collection.
package matrix

import (
	"fmt"
	"regexp"

	"github.com/pkg/errors"

	"github.com/phobologic/traceguide/internal/trace"
)

// Group places covered and uncovered rows.
type Group string

const (
	// GroupNone keeps rows in source order.
	GroupNone Group = ""
	// GroupTop lists uncovered rows first.
	GroupTop Group = "top"
	// GroupBottom lists uncovered rows last.
	GroupBottom Group = "bottom"
)

// ParseGroup validates a group name.
func ParseGroup(s string) (Group, error) {
	switch g := Group(s); g {
	case GroupNone, GroupTop, GroupBottom:
		return g, nil
	default:
		return "", errors.Errorf("invalid group %q (want top or bottom)", s)
	}
}

// Spec describes a matrix.
type Spec struct {
	// Source selects the row items by identifier pattern.
	Source string
	// SourceFilter further restricts rows by attribute value.
	SourceFilter trace.AttributeFilter
	// Targets selects the items of each target column.
	Targets []string
	// Relations a source must hold to a target to cover it. Empty means every
	// relation that has a reverse. External relations are only used when listed.
	Relations []string
	// SourceType keeps only sources having at least one of these relations.
	SourceType []string
	// Attributes are source attribute columns.
	Attributes  []string
	Group       Group
	OnlyCovered bool

	// Intermediate selects the items that link a source to its targets.
	// Relations then lead from a source to an intermediate and Via from an
	// intermediate to a target.
	Intermediate string
	Via          []string
	// CoveredIntermediates drops a source as soon as one of its
	// intermediates has no target.
	CoveredIntermediates bool
	// SplitIntermediates gives every intermediate of a source its own row.
	SplitIntermediates bool
}

// Row is one source with the targets it covers per column.
type Row struct {
	Source string
	// External is set when Source is the target of an external relation
	// rather than an item.
	External   bool
	Attributes []string
	// Intermediates link Source to the targets in Cells.
	Intermediates []string
	Cells         [][]string
	Covered       bool
}

// Stats summarises coverage.
type Stats struct {
	Covered    int
	Total      int
	Percentage int
}

func (s Stats) String() string {
	return fmt.Sprintf("Statistics: %d out of %d covered: %d%%", s.Covered, s.Total, s.Percentage)
}

// Matrix is a computed cross-reference matrix.
type Matrix struct {
	Targets      []string
	Attributes   []string
	Intermediate string
	Rows         []Row
	Stats        Stats
}

// Build computes the matrix described by s over c.
func Build(c *trace.Collection, s Spec) (*Matrix, error) {
	if len(s.Targets) == 0 {
		return nil, errors.New("matrix: at least one target pattern is required")
	}
	sources, err := c.GetItems(trace.Query{Pattern: s.Source, Attributes: s.SourceFilter})
	if err != nil {
		return nil, err
	}
	targetIDs := make([][]string, len(s.Targets))
	for i, t := range s.Targets {
		if targetIDs[i], err = c.GetItems(trace.Query{Pattern: t}); err != nil {
			return nil, err
		}
	}

	relations, external := splitRelations(c, s.Relations)

	var links map[string][]link
	if s.Intermediate != "" {
		if links, err = viaIntermediates(c, s, sources, targetIDs); err != nil {
			return nil, err
		}
	}

	var covered, uncovered []Row
	var sorted []Row
	store := func(r Row) {
		if r.Covered {
			covered = append(covered, r)
			sorted = append(sorted, r)
			return
		}
		uncovered = append(uncovered, r)
		if !s.OnlyCovered {
			sorted = append(sorted, r)
		}
	}

	duplicates := 0
	for _, id := range sources {
		src := c.GetItem(id)
		if len(s.SourceType) > 0 && !src.HasRelations(s.SourceType) {
			continue
		}
		row := Row{Source: id, Attributes: src.Attributes(s.Attributes), Cells: make([][]string, len(s.Targets))}
		if s.Intermediate != "" {
			rows := intermediateRows(row, links[id], s.SplitIntermediates)
			duplicates += len(rows) - 1
			for _, r := range rows {
				store(r)
			}
			continue
		}
		for _, rel := range external {
			for _, ext := range src.Targets(rel, true, true) {
				for i := range row.Cells {
					row.Cells[i] = append(row.Cells[i], ext)
				}
				row.Covered = true
			}
		}
		for i, ids := range targetIDs {
			for _, tgt := range ids {
				if c.AreRelated(id, relations, tgt) {
					row.Cells[i] = append(row.Cells[i], tgt)
					row.Covered = true
				}
			}
		}
		store(row)
	}

	if len(sources) == 0 {
		if err := externalRows(c, s, external, store); err != nil {
			return nil, err
		}
	}

	m := &Matrix{Targets: s.Targets, Attributes: s.Attributes, Intermediate: s.Intermediate}
	switch s.Group {
	case GroupTop:
		m.Rows = append(visible(uncovered, s.OnlyCovered), covered...)
	case GroupBottom:
		m.Rows = append(covered, visible(uncovered, s.OnlyCovered)...)
	default:
		m.Rows = sorted
	}

	// A split source counts once.
	m.Stats.Covered = len(covered) - duplicates
	m.Stats.Total = len(covered) + len(uncovered) - duplicates
	if m.Stats.Total > 0 {
		m.Stats.Percentage = 100 * m.Stats.Covered / m.Stats.Total
	}
	return m, nil
}

// link is one intermediate of a source with the targets it reaches per
// column.
type link struct {
	intermediate string
	targets      [][]string
}

// viaIntermediates maps every covered source to the intermediates linking
// it to at least one target.
func viaIntermediates(c *trace.Collection, s Spec, sources []string, targetIDs [][]string) (map[string][]link, error) {
	if len(s.Relations) == 0 || len(s.Via) == 0 {
		return nil, errors.New("matrix: an intermediate needs relations to it and from it")
	}
	backward := make([]string, 0, len(s.Relations))
	for _, rel := range s.Relations {
		rev, ok := c.ReverseRelation(rel)
		if !ok || rev == trace.NoReverse {
			return nil, errors.Errorf("matrix: relation %q cannot lead to an intermediate", rel)
		}
		backward = append(backward, rev)
	}
	intermediates, err := c.GetItems(trace.Query{Pattern: s.Intermediate})
	if err != nil {
		return nil, err
	}

	wanted := make(map[string]struct{}, len(sources))
	for _, id := range sources {
		wanted[id] = struct{}{}
	}
	excluded := make(map[string]struct{})
	links := make(map[string][]link)
	for _, id := range intermediates {
		it := c.GetItem(id)
		var linked []string
		for _, rel := range backward {
			for _, src := range it.Targets(rel, true, true) {
				_, ok := wanted[src]
				_, out := excluded[src]
				if ok && !out && !contains(linked, src) {
					linked = append(linked, src)
				}
			}
		}
		if len(linked) == 0 {
			continue
		}

		reached := make(map[string]struct{})
		for _, rel := range s.Via {
			for _, tgt := range it.Targets(rel, true, true) {
				reached[tgt] = struct{}{}
			}
		}
		l := link{intermediate: id, targets: make([][]string, len(targetIDs))}
		covered := false
		for i, ids := range targetIDs {
			for _, tgt := range ids {
				if _, ok := reached[tgt]; ok {
					l.targets[i] = append(l.targets[i], tgt)
					covered = true
				}
			}
		}
		switch {
		case covered:
			for _, src := range linked {
				links[src] = append(links[src], l)
			}
		case s.CoveredIntermediates:
			for _, src := range linked {
				excluded[src] = struct{}{}
			}
		}
	}
	for src := range excluded {
		delete(links, src)
	}
	return links, nil
}

// intermediateRows returns the rows of one source: a single uncovered row
// without links, otherwise one row per link when split or one merged row.
func intermediateRows(base Row, links []link, split bool) []Row {
	if len(links) == 0 {
		return []Row{base}
	}
	if split {
		rows := make([]Row, len(links))
		for i, l := range links {
			r := base
			r.Intermediates = []string{l.intermediate}
			r.Cells = l.targets
			r.Covered = true
			rows[i] = r
		}
		return rows
	}
	row := base
	row.Covered = true
	for _, l := range links {
		row.Intermediates = append(row.Intermediates, l.intermediate)
		for i, ids := range l.targets {
			for _, id := range ids {
				if !contains(row.Cells[i], id) {
					row.Cells[i] = append(row.Cells[i], id)
				}
			}
		}
	}
	for _, cell := range row.Cells {
		trace.NaturalSort(cell)
	}
	return []Row{row}
}

func contains(ids []string, id string) bool {
	for _, v := range ids {
		if v == id {
			return true
		}
	}
	return false
}

func visible(rows []Row, onlyCovered bool) []Row {
	if onlyCovered {
		return nil
	}
	return rows
}

// splitRelations returns the relations used for internal coverage and the
// external ones among them.
func splitRelations(c *trace.Collection, requested []string) (relations, external []string) {
	if len(requested) == 0 {
		for _, rel := range c.Relations() {
			if !c.IsExternalRelation(rel) {
				relations = append(relations, rel)
			}
		}
		return relations, nil
	}
	for _, rel := range requested {
		if c.IsExternalRelation(rel) {
			external = append(external, rel)
		}
	}
	return requested, external
}

// externalRows lists external targets matching the source pattern as rows
// holding the items that reference them.
func externalRows(c *trace.Collection, s Spec, external []string, store func(Row)) error {
	targetRes := make([]*regexp.Regexp, len(s.Targets))
	for i, t := range s.Targets {
		re, err := regexp.Compile("^(?:" + t + ")")
		if err != nil {
			return errors.Wrapf(err, "invalid target pattern %q", t)
		}
		targetRes[i] = re
	}
	for _, rel := range external {
		refs, err := c.ExternalTargets(s.Source, rel)
		if err != nil {
			return err
		}
		for _, ext := range trace.NaturalSorted(keys(refs)) {
			row := Row{Source: ext, External: true, Attributes: make([]string, len(s.Attributes)), Cells: make([][]string, len(s.Targets))}
			for i, re := range targetRes {
				for _, id := range refs[ext] {
					if re.MatchString(id) {
						row.Cells[i] = append(row.Cells[i], id)
						row.Covered = true
					}
				}
			}
			store(row)
		}
	}
	return nil
}

func keys(m map[string][]string) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	return out
}
