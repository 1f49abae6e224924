// Package build loads documents in parallel and folds them into one checked
// traceability collection.
package build

import (
	"context"
	"os"
	"path/filepath"
	"runtime"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/phobologic/traceguide/internal/cache"
	"github.com/phobologic/traceguide/internal/config"
	"github.com/phobologic/traceguide/internal/discover"
	"github.com/phobologic/traceguide/internal/lang"
	"github.com/phobologic/traceguide/internal/model"
	"github.com/phobologic/traceguide/internal/parse"
	"github.com/phobologic/traceguide/internal/trace"
)

// DefaultMaxFileSize skips documents larger than 1 MB.
const DefaultMaxFileSize = 1_000_000

// Options configures a Builder.
type Options struct {
	Root   string
	Config *config.Config
	// Cache stores per-document results. Nil loads every document.
	Cache  *cache.Cache
	Logger logrus.FieldLogger
	// MaxFileSize in bytes. Zero means DefaultMaxFileSize.
	MaxFileSize int64
}

// Builder runs builds for one root and configuration.
type Builder struct {
	opts        Options
	matcher     *discover.Matcher
	fingerprint string
	log         logrus.FieldLogger
}

// Result is the outcome of a build.
type Result struct {
	Collection *trace.Collection
	Documents  []string
	// Cached counts documents restored from the cache.
	Cached int
	// Problems are the self test findings, in item order.
	Problems []error
}

// loaded is what one worker produced for one document.
type loaded struct {
	entry  cache.Entry
	cached bool
}

// New validates opts and returns a Builder.
func New(opts Options) (*Builder, error) {
	if opts.Config == nil {
		return nil, errors.New("build: config is required")
	}
	if opts.Logger == nil {
		opts.Logger = logrus.StandardLogger()
	}
	if opts.MaxFileSize == 0 {
		opts.MaxFileSize = DefaultMaxFileSize
	}
	root, err := filepath.Abs(opts.Root)
	if err != nil {
		return nil, errors.Wrap(err, "resolving root")
	}
	info, err := os.Stat(root)
	if err != nil {
		return nil, errors.Wrap(err, "root path")
	}
	if !info.IsDir() {
		return nil, errors.Errorf("%s: not a directory", root)
	}
	opts.Root = root

	m, err := discover.NewMatcher(opts.Config.Documents.Include, opts.Config.Documents.Exclude)
	if err != nil {
		return nil, err
	}
	return &Builder{
		opts:        opts,
		matcher:     m,
		fingerprint: opts.Config.Fingerprint(),
		log:         opts.Logger,
	}, nil
}

// Root returns the absolute build root.
func (b *Builder) Root() string { return b.opts.Root }

// Matcher returns the document matcher.
func (b *Builder) Matcher() *discover.Matcher { return b.matcher }

// Build discovers, loads, merges and checks every document.
func (b *Builder) Build(ctx context.Context) (*Result, error) {
	files, err := discover.Files(b.opts.Root, b.matcher)
	if err != nil {
		return nil, errors.Wrap(err, "discovering documents")
	}
	files = b.filterBySize(files)

	results, err := b.loadConcurrent(ctx, files)
	if err != nil {
		return nil, err
	}

	merged, err := b.newCollection()
	if err != nil {
		return nil, err
	}
	res := &Result{Collection: merged}
	for i, f := range files {
		r := results[i]
		if r == nil {
			continue
		}
		res.Documents = append(res.Documents, f.Path)
		if r.cached {
			res.Cached++
		}
		b.report(f.Path, r.entry.Warnings)

		worker, err := trace.FromSnapshot(r.entry.Snapshot, trace.WithLogger(b.log))
		if err != nil {
			return nil, errors.Wrapf(err, "restoring %s", f.Path)
		}
		if err := merged.MergeFrom(worker); err != nil {
			return nil, errors.Wrapf(err, "merging %s", f.Path)
		}
	}

	if err := b.opts.Config.ApplySortingRules(merged, b.log); err != nil {
		return nil, err
	}
	merged.ProcessIntermediateNodes()
	res.Problems = Check(merged, b.opts.Config.NotificationItem)

	if b.opts.Cache != nil {
		pruned, err := b.opts.Cache.Prune(res.Documents)
		if err != nil {
			b.log.WithError(err).Warn("pruning cache")
		}
		for _, doc := range pruned {
			b.log.WithField("document", doc).Debug("dropped from cache")
		}
	}
	return res, nil
}

// Forget drops doc from the cache.
func (b *Builder) Forget(doc string) error {
	if b.opts.Cache == nil {
		return nil
	}
	return b.opts.Cache.Delete(doc)
}

// Purge drops docs from the cache and builds again. Effects of a removed
// document may already have changed other items, so the remaining documents
// are merged from scratch; with a cache they all come from their snapshots.
func (b *Builder) Purge(ctx context.Context, docs ...string) (*Result, error) {
	for _, doc := range docs {
		if err := b.Forget(doc); err != nil {
			return nil, errors.Wrapf(err, "forgetting %s", doc)
		}
	}
	return b.Build(ctx)
}

// Check runs the collection self test and returns its findings.
func Check(c *trace.Collection, notificationItem string) []error {
	err := c.SelfTest(notificationItem, "")
	if err == nil {
		return nil
	}
	var cerr *trace.ConsistencyError
	if errors.As(err, &cerr) {
		return cerr.Errors
	}
	return []error{err}
}

func (b *Builder) newCollection() (*trace.Collection, error) {
	c := trace.NewCollection(trace.WithLogger(b.log))
	if err := b.opts.Config.Seed(c); err != nil {
		return nil, errors.Wrap(err, "seeding collection")
	}
	return c, nil
}

func (b *Builder) report(doc string, warnings []model.Warning) {
	for _, w := range warnings {
		b.log.WithFields(logrus.Fields{"document": doc, "line": w.Line}).Warn(w.Message)
	}
}

func (b *Builder) filterBySize(files []discover.FileEntry) []discover.FileEntry {
	var kept []discover.FileEntry
	for _, f := range files {
		fi, err := os.Stat(filepath.Join(b.opts.Root, f.Path))
		if err != nil {
			kept = append(kept, f) // keep if can't stat
			continue
		}
		if fi.Size() > b.opts.MaxFileSize {
			b.log.WithField("document", f.Path).Warnf("skipped (>%d bytes)", b.opts.MaxFileSize)
			continue
		}
		kept = append(kept, f)
	}
	return kept
}

func (b *Builder) workers(n int) int {
	w := b.opts.Config.Workers
	if w <= 0 {
		w = runtime.GOMAXPROCS(0)
	}
	if w > n {
		w = n
	}
	if w < 1 {
		w = 1
	}
	return w
}

// loadConcurrent loads files on a bounded worker pool. Results keep the
// order of files; unreadable documents are logged and left nil.
func (b *Builder) loadConcurrent(ctx context.Context, files []discover.FileEntry) ([]*loaded, error) {
	results := make([]*loaded, len(files))
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(b.workers(len(files)))

	for i, f := range files {
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			r, err := b.loadDocument(ctx, f)
			if err != nil {
				if ctx.Err() != nil {
					return ctx.Err()
				}
				b.log.WithField("document", f.Path).WithError(err).Warn("failed to load")
				return nil
			}
			results[i] = r
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, errors.Wrap(err, "loading documents")
	}
	return results, nil
}

func (b *Builder) loadDocument(ctx context.Context, f discover.FileEntry) (*loaded, error) {
	source, err := os.ReadFile(filepath.Join(b.opts.Root, f.Path))
	if err != nil {
		return nil, errors.Wrap(err, "reading")
	}
	digest := cache.Digest(source, b.fingerprint)
	if b.opts.Cache != nil {
		entry, ok, err := b.opts.Cache.Get(f.Path, digest)
		if err != nil {
			b.log.WithField("document", f.Path).WithError(err).Warn("cache lookup failed")
		} else if ok {
			return &loaded{entry: *entry, cached: true}, nil
		}
	}

	l := lang.Languages[f.Language]
	if l == nil {
		return nil, errors.Errorf("unsupported language %q", f.Language)
	}
	q, err := l.GetDirectiveQuery()
	if err != nil {
		return nil, err
	}
	// Parsers are not safe for concurrent use.
	parser := l.NewParser()
	defer parser.Close()

	doc, err := parse.ExtractDirectives(ctx, parser, q, source, f.Path)
	if err != nil {
		return nil, err
	}
	worker, err := b.newCollection()
	if err != nil {
		return nil, err
	}
	Load(doc, worker, LoadOptions{ChecklistAttribute: b.opts.Config.Checklist.Attribute})

	entry := cache.Entry{Snapshot: worker.Snapshot(), Warnings: doc.Warnings}
	if b.opts.Cache != nil {
		if err := b.opts.Cache.Put(f.Path, digest, entry); err != nil {
			b.log.WithField("document", f.Path).WithError(err).Warn("cache store failed")
		}
	}
	return &loaded{entry: entry}, nil
}
