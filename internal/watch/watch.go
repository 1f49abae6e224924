// Package watch rebuilds a traceability collection when documents change.
package watch

import (
	"context"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/phobologic/traceguide/internal/build"
	"github.com/phobologic/traceguide/internal/discover"
)

// EventType classifies a file system event.
type EventType int

const (
	EventCreate EventType = iota
	EventModify
	EventDelete
	EventRename
)

func (e EventType) String() string {
	switch e {
	case EventCreate:
		return "create"
	case EventModify:
		return "modify"
	case EventDelete:
		return "delete"
	case EventRename:
		return "rename"
	default:
		return "unknown"
	}
}

// Event is a change below the root. Path is root-relative and slash
// separated.
type Event struct {
	Path string
	Type EventType
}

const (
	DefaultWindow   = 300 * time.Millisecond
	DefaultMaxBatch = 100
)

// Options configures a Watcher.
type Options struct {
	Builder  *build.Builder
	Logger   logrus.FieldLogger
	Window   time.Duration
	MaxBatch int
	// OnResult is called after the initial build and after every update.
	// The result may be modified by the next update.
	OnResult func(*build.Result)
}

// Watcher keeps a build result current while documents change.
type Watcher struct {
	opts      Options
	builder   *build.Builder
	root      string
	log       logrus.FieldLogger
	fs        *fsnotify.Watcher
	debouncer *Debouncer
	batches   chan []Event
	done      chan struct{}
	current   *build.Result
}

// New returns a Watcher for the root of opts.Builder.
func New(opts Options) (*Watcher, error) {
	if opts.Builder == nil {
		return nil, errors.New("watch: builder is required")
	}
	if opts.Logger == nil {
		opts.Logger = logrus.StandardLogger()
	}
	if opts.Window <= 0 {
		opts.Window = DefaultWindow
	}
	if opts.MaxBatch <= 0 {
		opts.MaxBatch = DefaultMaxBatch
	}
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, errors.Wrap(err, "creating file watcher")
	}
	w := &Watcher{
		opts:    opts,
		builder: opts.Builder,
		root:    opts.Builder.Root(),
		log:     opts.Logger.WithField("component", "watch"),
		fs:      fsw,
		batches: make(chan []Event),
		done:    make(chan struct{}),
	}
	w.debouncer = NewDebouncer(opts.Window, opts.MaxBatch, w.enqueue)
	return w, nil
}

// Run builds once, then applies debounced changes until ctx is done. The
// watcher cannot be reused afterwards.
func (w *Watcher) Run(ctx context.Context) error {
	defer w.close()

	if err := w.addRecursive(w.root); err != nil {
		return err
	}
	res, err := w.builder.Build(ctx)
	if err != nil {
		return err
	}
	w.current = res
	w.emit()

	for {
		select {
		case <-ctx.Done():
			return nil

		case ev, ok := <-w.fs.Events:
			if !ok {
				return nil
			}
			w.handle(ev)

		case err, ok := <-w.fs.Errors:
			if !ok {
				return nil
			}
			w.log.WithError(err).Warn("file watcher error")

		case batch := <-w.batches:
			w.apply(ctx, batch)
		}
	}
}

func (w *Watcher) close() {
	close(w.done)
	w.debouncer.Stop()
	if err := w.fs.Close(); err != nil {
		w.log.WithError(err).Debug("closing file watcher")
	}
}

func (w *Watcher) enqueue(events []Event) {
	select {
	case w.batches <- events:
	case <-w.done:
	}
}

func (w *Watcher) addRecursive(dir string) error {
	return filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if path == dir {
				return errors.Wrap(err, "watching root")
			}
			w.log.WithError(err).WithField("path", path).Debug("skipping")
			return nil
		}
		if !d.IsDir() {
			return nil
		}
		if path != w.root && discover.SkipDir(d.Name()) {
			return filepath.SkipDir
		}
		if err := w.fs.Add(path); err != nil {
			w.log.WithError(err).WithField("path", path).Debug("failed to watch directory")
		}
		return nil
	})
}

func (w *Watcher) handle(ev fsnotify.Event) {
	rel, err := filepath.Rel(w.root, ev.Name)
	if err != nil || rel == "." || strings.HasPrefix(rel, "..") {
		return
	}
	rel = filepath.ToSlash(rel)
	if ignored(rel) {
		return
	}

	var event Event
	switch {
	case ev.Has(fsnotify.Create):
		event = Event{Path: rel, Type: EventCreate}
		if info, err := os.Stat(ev.Name); err == nil && info.IsDir() {
			if discover.SkipDir(info.Name()) {
				return
			}
			// Files may have landed before the watch was added.
			if err := w.addRecursive(ev.Name); err != nil {
				w.log.WithError(err).WithField("path", rel).Debug("failed to watch directory")
			}
			w.debouncer.Add(event)
			return
		}
	case ev.Has(fsnotify.Write):
		event = Event{Path: rel, Type: EventModify}
	case ev.Has(fsnotify.Remove):
		event = Event{Path: rel, Type: EventDelete}
	case ev.Has(fsnotify.Rename):
		event = Event{Path: rel, Type: EventRename}
	default:
		return
	}

	// Removed paths may be directories, which never match.
	if event.Type != EventDelete && event.Type != EventRename && w.builder.Matcher().Match(rel) == "" {
		return
	}
	w.log.WithFields(logrus.Fields{"path": rel, "op": event.Type}).Debug("file event")
	w.debouncer.Add(event)
}

func (w *Watcher) apply(ctx context.Context, batch []Event) {
	removed, changed := classify(batch, w.current.Documents, w.exists)

	switch {
	case changed:
		res, err := w.builder.Build(ctx)
		if err != nil {
			if ctx.Err() == nil {
				w.log.WithError(err).Error("rebuild failed")
			}
			return
		}
		w.current = res
	case len(removed) > 0:
		res, err := w.builder.Purge(ctx, removed...)
		if err != nil {
			if ctx.Err() == nil {
				w.log.WithError(err).Error("purging documents failed")
			}
			return
		}
		w.current = res
		for _, doc := range removed {
			w.log.WithField("document", doc).Info("document removed")
		}
	default:
		return
	}
	w.emit()
}

func (w *Watcher) emit() {
	res := w.current
	w.log.WithFields(logrus.Fields{
		"documents": len(res.Documents),
		"items":     len(res.Collection.ItemIDs()),
		"cached":    res.Cached,
		"problems":  len(res.Problems),
	}).Info("collection updated")
	if w.opts.OnResult != nil {
		w.opts.OnResult(res)
	}
}

func (w *Watcher) exists(rel string) bool {
	_, err := os.Stat(filepath.Join(w.root, filepath.FromSlash(rel)))
	return err == nil
}

// classify splits a batch into known documents that are gone and whether
// anything else changed. A removed directory removes the documents below it.
func classify(events []Event, documents []string, exists func(string) bool) (removed []string, changed bool) {
	for _, ev := range events {
		switch ev.Type {
		case EventCreate, EventModify:
			changed = true
		case EventDelete, EventRename:
			if exists(ev.Path) {
				changed = true
				continue
			}
			prefix := ev.Path + "/"
			for _, doc := range documents {
				if doc == ev.Path || strings.HasPrefix(doc, prefix) {
					removed = append(removed, doc)
				}
			}
		}
	}
	return removed, changed
}

// ignored reports whether rel lies below a directory that is never watched.
func ignored(rel string) bool {
	parts := strings.Split(rel, "/")
	for _, dir := range parts[:len(parts)-1] {
		if discover.SkipDir(dir) {
			return true
		}
	}
	return false
}
