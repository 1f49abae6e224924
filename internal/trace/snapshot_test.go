package trace

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vmihailenco/msgpack/v5"
)

func TestSnapshotRoundTrip(t *testing.T) {
	t.Parallel()
	c := newTestCollection(t)
	req := addTestItem(t, c, "REQ-1", "a.md", 3)
	req.SetCaption("Boot")
	req.SetContent("Boots fast.")
	require.NoError(t, req.AddAttribute("status", "approved", true))
	req.SetAttributeOrder([]string{"status"})
	require.NoError(t, c.AddRelation("REQ-1", "validated_by", "TST-1"))
	require.NoError(t, c.AddRelation("REQ-1", "jira", "PROJ-1"))
	c.Attribute("status").Caption = "Status"
	c.AddIntermediateNode(&ItemLink{Location: Location{Docname: "a.md", Line: 9}, Sources: []string{"REQ-1"}, Target: "^TST", Relation: "validated_by"})
	c.AddIntermediateNode(&ItemRelink{Location: Location{Docname: "a.md", Line: 10}, Source: "X", Relation: "depends_on"})
	c.AddIntermediateNode(&CheckboxResult{Location: Location{Docname: "a.md", Line: 11}, Item: "REQ-1", Value: "draft", Attribute: "status"})

	data, err := msgpack.Marshal(c.Snapshot())
	require.NoError(t, err)
	var snap Snapshot
	require.NoError(t, msgpack.Unmarshal(data, &snap))

	got, err := FromSnapshot(snap)
	require.NoError(t, err)
	assert.Equal(t, c.Snapshot(), got.Snapshot())

	assert.Equal(t, c.ItemIDs(), got.ItemIDs())
	assert.Equal(t, c.Records(), got.Records())
	assert.True(t, got.GetItem("TST-1").IsPlaceholder())
	assert.True(t, got.IsExternalRelation("jira"))
	assert.Equal(t, "Status", got.Attribute("status").Caption)

	// The pattern is compiled again and still validates.
	it := got.GetItem("REQ-1")
	require.Error(t, it.AddAttribute("status", "bogus", true))
	require.NoError(t, it.AddAttribute("status", "draft", true))

	nodes := got.IntermediateNodes()
	require.Len(t, nodes, 3)
	assert.Equal(t, KindItemLink, nodes[0].Kind())
	assert.Equal(t, KindItemRelink, nodes[1].Kind())
	assert.Equal(t, KindCheckboxResult, nodes[2].Kind())
	assert.Equal(t, Location{Docname: "a.md", Line: 11}, nodes[2].Origin())
}

func TestFromSnapshotErrors(t *testing.T) {
	t.Parallel()
	_, err := FromSnapshot(Snapshot{Attributes: []AttributeSnapshot{{ID: "x", Pattern: "("}}})
	require.Error(t, err)

	_, err = FromSnapshot(Snapshot{Effects: []EffectRecord{{Kind: "bogus"}}})
	require.Error(t, err)
}
