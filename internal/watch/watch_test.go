package watch

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/phobologic/traceguide/internal/build"
	"github.com/phobologic/traceguide/internal/config"
)

func TestClassify(t *testing.T) {
	t.Parallel()
	docs := []string{"a.md", "reqs/b.md", "reqs/sub/c.md", "reqsx/d.md"}
	present := map[string]bool{"moved.md": true}
	exists := func(p string) bool { return present[p] }

	tests := []struct {
		name        string
		events      []Event
		wantRemoved []string
		wantChanged bool
	}{
		{"modify", []Event{{Path: "a.md", Type: EventModify}}, nil, true},
		{"create", []Event{{Path: "new.md", Type: EventCreate}}, nil, true},
		{"delete document", []Event{{Path: "a.md", Type: EventDelete}}, []string{"a.md"}, false},
		{"delete directory", []Event{{Path: "reqs", Type: EventDelete}}, []string{"reqs/b.md", "reqs/sub/c.md"}, false},
		{"rename away", []Event{{Path: "reqs/b.md", Type: EventRename}}, []string{"reqs/b.md"}, false},
		{"rename onto", []Event{{Path: "moved.md", Type: EventRename}}, nil, true},
		{"unknown delete", []Event{{Path: "tmp.md", Type: EventDelete}}, nil, false},
		{"mixed", []Event{{Path: "a.md", Type: EventDelete}, {Path: "x.md", Type: EventModify}}, []string{"a.md"}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			removed, changed := classify(tt.events, docs, exists)
			assert.Equal(t, tt.wantRemoved, removed)
			assert.Equal(t, tt.wantChanged, changed)
		})
	}
}

func TestIgnored(t *testing.T) {
	t.Parallel()
	assert.True(t, ignored(".git/HEAD"))
	assert.True(t, ignored("docs/node_modules/x.md"))
	assert.False(t, ignored("docs/x.md"))
	assert.False(t, ignored("build"), "the entry itself is not checked")
}

func TestEventTypeString(t *testing.T) {
	t.Parallel()
	assert.Equal(t, "create", EventCreate.String())
	assert.Equal(t, "rename", EventRename.String())
	assert.Equal(t, "unknown", EventType(42).String())
}

func TestNewRequiresBuilder(t *testing.T) {
	t.Parallel()
	_, err := New(Options{})
	require.Error(t, err)
}

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
}

// waitFor receives results until one has the wanted items.
func waitFor(t *testing.T, results <-chan []string, want []string) {
	t.Helper()
	timeout := time.After(5 * time.Second)
	var last []string
	for {
		select {
		case ids := <-results:
			if assert.ObjectsAreEqual(want, ids) {
				return
			}
			last = ids
		case <-timeout:
			t.Fatalf("timed out waiting for items %v, last saw %v", want, last)
		}
	}
}

func TestWatcherRun(t *testing.T) {
	t.Parallel()
	root := t.TempDir()
	writeFile(t, filepath.Join(root, "reqs.md"), "```item\nid: REQ-1\n```\n")

	logger, _ := test.NewNullLogger()
	b, err := build.New(build.Options{Root: root, Config: config.Default(), Logger: logger})
	require.NoError(t, err)

	results := make(chan []string, 16)
	w, err := New(Options{
		Builder: b,
		Logger:  logger,
		Window:  20 * time.Millisecond,
		OnResult: func(res *build.Result) {
			results <- res.Collection.ItemIDs()
		},
	})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	errc := make(chan error, 1)
	go func() { errc <- w.Run(ctx) }()

	waitFor(t, results, []string{"REQ-1"})

	writeFile(t, filepath.Join(root, "tests", "boot.md"), "```item\nid: TST-1\nvalidates: REQ-1\n```\n")
	waitFor(t, results, []string{"REQ-1", "TST-1"})

	require.NoError(t, os.RemoveAll(filepath.Join(root, "tests")))
	waitFor(t, results, []string{"REQ-1"})

	cancel()
	select {
	case err := <-errc:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("watcher did not stop")
	}
}
