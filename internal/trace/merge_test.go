package trace

import (
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newWorker(t *testing.T) *Collection {
	t.Helper()
	c := NewCollection()
	c.AddRelationPair("implements", "implemented_by")
	return c
}

func TestMergeRestoresReverseAcrossWorkers(t *testing.T) {
	t.Parallel()
	w1 := newWorker(t)
	addTestItem(t, w1, "X", "x.md", 1)
	require.NoError(t, w1.AddRelation("X", "implements", "Y"))

	w2 := newWorker(t)
	addTestItem(t, w2, "Y", "y.md", 1)

	merged := newWorker(t)
	require.NoError(t, merged.MergeFrom(w1))
	require.NoError(t, merged.MergeFrom(w2))

	y := merged.GetItem("Y")
	require.NotNil(t, y)
	assert.False(t, y.IsPlaceholder())
	assert.Equal(t, "y.md", y.Docname())
	assert.Equal(t, []string{"X"}, y.Targets("implemented_by", true, true))
	require.NoError(t, merged.SelfTest("", ""))

	// Merge order does not matter.
	other := newWorker(t)
	require.NoError(t, other.MergeFrom(w2))
	require.NoError(t, other.MergeFrom(w1))
	assert.Equal(t, []string{"X"}, other.GetItem("Y").Targets("implemented_by", true, true))
	require.NoError(t, other.SelfTest("", ""))
}

func TestMergeRestoresReverseWithoutPlaceholders(t *testing.T) {
	t.Parallel()
	w1 := newWorker(t)
	x := addTestItem(t, w1, "X", "x.md", 1)
	// A worker that never created the target placeholder.
	require.NoError(t, x.AddTarget("implements", "Y", false))

	w2 := newWorker(t)
	addTestItem(t, w2, "Y", "y.md", 1)

	merged := newWorker(t)
	require.NoError(t, merged.MergeFrom(w1))
	require.NoError(t, merged.MergeFrom(w2))
	assert.Equal(t, []string{"X"}, merged.GetItem("Y").Targets("implemented_by", false, true))
}

func TestMergeDuplicateSameDocument(t *testing.T) {
	t.Parallel()
	w1 := newWorker(t)
	addTestItem(t, w1, "Z", "doc.md", 10)
	w2 := newWorker(t)
	addTestItem(t, w2, "Z", "doc.md", 20)

	merged := newWorker(t)
	require.NoError(t, merged.MergeFrom(w1))
	err := merged.MergeFrom(w2)
	var derr *DuplicateItemError
	require.True(t, errors.As(err, &derr), "got %v", err)
	assert.Contains(t, err.Error(), "10")
	assert.Contains(t, err.Error(), "20")
}

func TestMergeDuplicateAnyOrder(t *testing.T) {
	t.Parallel()
	locations := []Location{
		{Docname: "a.md", Line: 1},
		{Docname: "b.md", Line: 5},
		{Docname: "b.md", Line: 7},
	}
	tests := []struct {
		name  string
		order []int
	}{
		{"first other document", []int{0, 1, 2}},
		{"first other document, reversed", []int{0, 2, 1}},
		{"same document first", []int{1, 2, 0}},
		{"same document first, reversed", []int{2, 1, 0}},
		{"other document between", []int{1, 0, 2}},
		{"other document between, reversed", []int{2, 0, 1}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			merged := newWorker(t)
			var err error
			for _, i := range tt.order {
				w := newWorker(t)
				addTestItem(t, w, "Z", locations[i].Docname, locations[i].Line)
				if err = merged.MergeFrom(w); err != nil {
					break
				}
			}
			var derr *DuplicateItemError
			require.True(t, errors.As(err, &derr), "got %v", err)
			assert.Equal(t, "b.md", derr.Docname)
			assert.Equal(t, "b.md", derr.Other.Docname)
			assert.ElementsMatch(t, []int{5, 7}, []int{derr.Line, derr.Other.Line})
		})
	}
}

func TestMergeDuplicateThroughSnapshot(t *testing.T) {
	t.Parallel()
	merged := newWorker(t)
	for _, loc := range []Location{{Docname: "b.md", Line: 5}, {Docname: "a.md", Line: 1}} {
		w := newWorker(t)
		addTestItem(t, w, "Z", loc.Docname, loc.Line)
		require.NoError(t, merged.MergeFrom(w))
	}
	restored, err := FromSnapshot(merged.Snapshot())
	require.NoError(t, err)

	w := newWorker(t)
	addTestItem(t, w, "Z", "b.md", 7)
	var derr *DuplicateItemError
	require.True(t, errors.As(restored.MergeFrom(w), &derr))
}

func TestMergeSameLocationIsIdempotent(t *testing.T) {
	t.Parallel()
	build := func() *Collection {
		w := newWorker(t)
		z := addTestItem(t, w, "Z", "doc.md", 10)
		z.SetCaption("Same")
		z.SetContent("body")
		require.NoError(t, w.AddRelation("Z", "implements", "R"))
		return w
	}
	merged := newWorker(t)
	require.NoError(t, merged.MergeFrom(build()))
	require.NoError(t, merged.MergeFrom(build()))
	assert.Equal(t, 2, merged.Len())
	assert.Equal(t, []string{"R"}, merged.GetItem("Z").Targets("implements", true, true))

	require.NoError(t, merged.MergeFrom(merged))
	assert.Equal(t, 2, merged.Len())
}

func TestMergeSameLocationDifferentContent(t *testing.T) {
	t.Parallel()
	w1 := newWorker(t)
	addTestItem(t, w1, "Z", "doc.md", 10).SetContent("one")
	w2 := newWorker(t)
	addTestItem(t, w2, "Z", "doc.md", 10).SetContent("two")

	merged := newWorker(t)
	require.NoError(t, merged.MergeFrom(w1))
	var merr *MergeConflictError
	require.True(t, errors.As(merged.MergeFrom(w2), &merr))
}

func TestMergeCrossDocumentKeepsFirstContent(t *testing.T) {
	t.Parallel()
	w1 := newWorker(t)
	addTestItem(t, w1, "Z", "a.md", 1).SetContent("first")
	w2 := newWorker(t)
	z := addTestItem(t, w2, "Z", "b.md", 1)
	z.SetContent("second")
	require.NoError(t, w2.AddRelation("Z", "implements", "R"))

	merged := newWorker(t)
	require.NoError(t, merged.MergeFrom(w1))
	require.NoError(t, merged.MergeFrom(w2))
	got := merged.GetItem("Z")
	assert.Equal(t, "first", got.Content())
	assert.Equal(t, "a.md", got.Docname())
	assert.Equal(t, []string{"R"}, got.Targets("implements", true, false))
}

func TestMergePlaceholderAndReal(t *testing.T) {
	t.Parallel()
	// Local placeholder replaced by the incoming real item.
	local := newWorker(t)
	addTestItem(t, local, "A", "a.md", 1)
	require.NoError(t, local.AddRelation("A", "implements", "B"))
	incoming := newWorker(t)
	b := addTestItem(t, incoming, "B", "b.md", 3)
	b.SetCaption("Real B")

	require.NoError(t, local.MergeFrom(incoming))
	got := local.GetItem("B")
	assert.False(t, got.IsPlaceholder())
	assert.Equal(t, "Real B", got.Caption())
	assert.Equal(t, []string{"A"}, got.Targets("implemented_by", true, true))

	// Incoming placeholder only contributes relations.
	local2 := newWorker(t)
	addTestItem(t, local2, "B", "b.md", 3).SetCaption("Real B")
	incoming2 := newWorker(t)
	require.NoError(t, incoming2.AddRelation("A", "implements", "B"))

	require.NoError(t, local2.MergeFrom(incoming2))
	got = local2.GetItem("B")
	assert.False(t, got.IsPlaceholder())
	assert.Equal(t, "Real B", got.Caption())
	assert.Equal(t, []string{"A"}, got.Targets("implemented_by", true, true))
	assert.True(t, local2.GetItem("A").IsPlaceholder())
}

func TestMergeDoesNotAlias(t *testing.T) {
	t.Parallel()
	w := newWorker(t)
	addTestItem(t, w, "A", "a.md", 1)
	merged := newWorker(t)
	require.NoError(t, merged.MergeFrom(w))

	require.NoError(t, merged.AddRelation("A", "implements", "B"))
	assert.Empty(t, w.GetItem("A").Relations())
	assert.NotSame(t, w.GetItem("A"), merged.GetItem("A"))
}

func TestMergeRelationConflict(t *testing.T) {
	t.Parallel()
	a := NewCollection()
	a.AddRelationPair("implements", "implemented_by")
	b := NewCollection()
	b.AddRelationPair("implements", "realised_by")

	var merr *MergeConflictError
	require.True(t, errors.As(a.MergeFrom(b), &merr))
	assert.Contains(t, merr.Error(), "implements")

	c := NewCollection()
	c.AddRelationPair("jira", NoReverse)
	require.NoError(t, a.MergeFrom(c))
	assert.True(t, a.IsExternalRelation("jira"))
}

func TestMergeAttributes(t *testing.T) {
	t.Parallel()
	merged := newWorker(t)
	status, err := NewAttribute("status", "^(draft|approved)$")
	require.NoError(t, err)
	merged.DefineAttribute(status)

	w := newWorker(t)
	documented, err := NewAttribute("status", "^(draft|approved)$")
	require.NoError(t, err)
	documented.Caption = "Review status"
	documented.Location = Location{Docname: "attrs.md", Line: 4}
	documented.Content = "Status of the review."
	w.DefineAttribute(documented)
	extra, err := NewAttribute("owner", ".+")
	require.NoError(t, err)
	w.DefineAttribute(extra)
	w.SetAttributeComparator("owner", NaturalTuples)

	require.NoError(t, merged.MergeFrom(w))
	got := merged.Attribute("status")
	require.NotNil(t, got)
	assert.Same(t, status, got)
	assert.Equal(t, "Review status", got.Caption)
	assert.Equal(t, "attrs.md", got.Docname)
	assert.Equal(t, "Status of the review.", got.Content)
	require.NotNil(t, merged.Attribute("owner"))
	assert.NotSame(t, extra, merged.Attribute("owner"))
	assert.Equal(t, []string{"owner", "status"}, merged.Attributes())
}

func TestMergeEffects(t *testing.T) {
	t.Parallel()
	w1 := newWorker(t)
	w1.AddIntermediateNode(&ItemLink{Location: Location{Docname: "a.md", Line: 3}, Source: "A", Target: "B", Relation: "implements"})
	w2 := newWorker(t)
	w2.AddIntermediateNode(&CheckboxResult{Location: Location{Docname: "b.md", Line: 1}, Item: "A", Value: "yes"})

	merged := newWorker(t)
	require.NoError(t, merged.MergeFrom(w1))
	require.NoError(t, merged.MergeFrom(w2))
	require.NoError(t, merged.MergeFrom(w1))
	assert.Len(t, merged.IntermediateNodes(), 2)
}
