package export

import (
	"bytes"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/phobologic/traceguide/internal/trace"
)

func record(id, hash string, targets map[string][]string) trace.Record {
	if targets == nil {
		targets = map[string][]string{}
	}
	return trace.Record{ID: id, Document: "a.md", Line: 1, ContentHash: hash, Targets: targets}
}

func TestWriteRead(t *testing.T) {
	t.Parallel()
	records := []trace.Record{
		record("REQ-1", trace.ContentHash("boots"), map[string][]string{"validated_by": {"TST-1"}}),
		record("TST-1", "0", map[string][]string{"validates": {"REQ-1"}}),
	}

	var buf bytes.Buffer
	require.NoError(t, Write(&buf, records))
	assert.Contains(t, buf.String(), `"content-hash": "0"`)

	got, err := Read(&buf)
	require.NoError(t, err)
	assert.Equal(t, records, got)
}

func TestWriteEmpty(t *testing.T) {
	t.Parallel()
	var buf bytes.Buffer
	require.NoError(t, Write(&buf, nil))
	assert.Equal(t, "[]\n", buf.String())
}

func TestReadInvalid(t *testing.T) {
	t.Parallel()
	_, err := Read(strings.NewReader(`{"id": "REQ-1"}`))
	require.Error(t, err)
}

func TestFiles(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "items.json")
	records := []trace.Record{record("REQ-1", "0", nil)}
	require.NoError(t, WriteFile(path, records))

	got, err := ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, records, got)

	_, err = ReadFile(filepath.Join(t.TempDir(), "missing.json"))
	require.Error(t, err)
}

func TestCompare(t *testing.T) {
	t.Parallel()
	old := []trace.Record{
		record("REQ-1", "aaa", nil),
		record("REQ-2", "bbb", map[string][]string{"validated_by": {"TST-1"}}),
		record("REQ-10", "ccc", nil),
		record("REQ-3", "ddd", nil),
	}
	cur := []trace.Record{
		record("REQ-1", "aaa", nil),
		record("REQ-2", "bbb", map[string][]string{"validated_by": {"TST-2"}}),
		record("REQ-10", "changed", nil),
		record("REQ-11", "eee", nil),
		record("REQ-4", "fff", nil),
	}

	d := Compare(old, cur)
	assert.Equal(t, []string{"REQ-4", "REQ-11"}, d.Added)
	assert.Equal(t, []string{"REQ-3"}, d.Removed)
	assert.Equal(t, []string{"REQ-2", "REQ-10"}, d.Changed)
	assert.False(t, d.Empty())

	assert.True(t, Compare(old, old).Empty())
}
