// Package cache stores per-document collection snapshots in badger so
// unchanged documents are not read again.
package cache

import (
	"crypto/sha256"
	"encoding/hex"
	"os"
	"sort"
	"strings"

	"github.com/dgraph-io/badger/v4"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"github.com/vmihailenco/msgpack/v5"

	"github.com/phobologic/traceguide/internal/model"
	"github.com/phobologic/traceguide/internal/trace"
)

const docPrefix = "doc/"

// Config configures the cache database.
type Config struct {
	// Path is the database directory. Required unless InMemory is set.
	Path     string
	InMemory bool
	// Logger receives badger messages. Nil disables them.
	Logger logrus.FieldLogger
}

// badgerLogger demotes badger's chatty info messages to debug.
type badgerLogger struct {
	log logrus.FieldLogger
}

func (l *badgerLogger) Errorf(format string, args ...interface{})   { l.log.Errorf(format, args...) }
func (l *badgerLogger) Warningf(format string, args ...interface{}) { l.log.Warnf(format, args...) }
func (l *badgerLogger) Infof(format string, args ...interface{})    { l.log.Debugf(format, args...) }
func (l *badgerLogger) Debugf(format string, args ...interface{})   { l.log.Debugf(format, args...) }

// Cache maps documents to what their last load produced. It is safe
// for concurrent use.
type Cache struct {
	db *badger.DB
}

// Entry is what one document load produced.
type Entry struct {
	Snapshot trace.Snapshot  `msgpack:"snapshot"`
	Warnings []model.Warning `msgpack:"warnings,omitempty"`
}

type record struct {
	Digest string `msgpack:"digest"`
	Entry  Entry  `msgpack:"entry"`
}

// Open opens or creates the cache database.
func Open(cfg Config) (*Cache, error) {
	if !cfg.InMemory && cfg.Path == "" {
		return nil, errors.New("cache path is required")
	}

	var opts badger.Options
	if cfg.InMemory {
		opts = badger.DefaultOptions("").WithInMemory(true)
	} else {
		if err := os.MkdirAll(cfg.Path, 0750); err != nil {
			return nil, errors.Wrapf(err, "creating cache directory %s", cfg.Path)
		}
		opts = badger.DefaultOptions(cfg.Path)
	}
	opts = opts.WithNumVersionsToKeep(1)

	if cfg.Logger != nil {
		opts = opts.WithLogger(&badgerLogger{log: cfg.Logger.WithField("component", "cache")})
	} else {
		opts = opts.WithLogger(nil)
	}

	db, err := badger.Open(opts)
	if err != nil {
		return nil, errors.Wrap(err, "opening cache")
	}
	return &Cache{db: db}, nil
}

// Close releases the database.
func (c *Cache) Close() error {
	return c.db.Close()
}

// Digest identifies a document revision under a configuration fingerprint.
func Digest(content []byte, fingerprint string) string {
	h := sha256.New()
	h.Write(content)
	h.Write([]byte{0})
	h.Write([]byte(fingerprint))
	return hex.EncodeToString(h.Sum(nil))
}

func key(doc string) []byte {
	return []byte(docPrefix + doc)
}

// Get returns the entry stored for doc when it was stored with digest.
func (c *Cache) Get(doc, digest string) (*Entry, bool, error) {
	var e record
	err := c.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(key(doc))
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			return msgpack.Unmarshal(val, &e)
		})
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, errors.Wrapf(err, "reading cache entry %s", doc)
	}
	if e.Digest != digest {
		return nil, false, nil
	}
	return &e.Entry, true, nil
}

// Put stores the entry of doc, replacing any previous revision.
func (c *Cache) Put(doc, digest string, e Entry) error {
	val, err := msgpack.Marshal(&record{Digest: digest, Entry: e})
	if err != nil {
		return errors.Wrapf(err, "encoding cache entry %s", doc)
	}
	err = c.db.Update(func(txn *badger.Txn) error {
		return txn.Set(key(doc), val)
	})
	return errors.Wrapf(err, "writing cache entry %s", doc)
}

// Delete forgets doc.
func (c *Cache) Delete(doc string) error {
	err := c.db.Update(func(txn *badger.Txn) error {
		return txn.Delete(key(doc))
	})
	return errors.Wrapf(err, "deleting cache entry %s", doc)
}

// Documents lists the cached documents in sorted order.
func (c *Cache) Documents() ([]string, error) {
	var docs []string
	err := c.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		opts.Prefix = []byte(docPrefix)
		it := txn.NewIterator(opts)
		defer it.Close()
		for it.Rewind(); it.Valid(); it.Next() {
			docs = append(docs, strings.TrimPrefix(string(it.Item().Key()), docPrefix))
		}
		return nil
	})
	if err != nil {
		return nil, errors.Wrap(err, "listing cache")
	}
	sort.Strings(docs)
	return docs, nil
}

// Prune deletes every cached document not in keep and returns them.
func (c *Cache) Prune(keep []string) ([]string, error) {
	docs, err := c.Documents()
	if err != nil {
		return nil, err
	}
	wanted := make(map[string]struct{}, len(keep))
	for _, d := range keep {
		wanted[d] = struct{}{}
	}
	var pruned []string
	for _, d := range docs {
		if _, ok := wanted[d]; ok {
			continue
		}
		if err := c.Delete(d); err != nil {
			return pruned, err
		}
		pruned = append(pruned, d)
	}
	return pruned, nil
}
