// Package export writes and reads JSON item records and compares two exports
// by content hash.
package export

import (
	"encoding/json"
	"io"
	"os"

	"github.com/pkg/errors"

	"github.com/phobologic/traceguide/internal/trace"
)

// Write encodes records as an indented JSON array.
func Write(w io.Writer, records []trace.Record) error {
	if records == nil {
		records = []trace.Record{}
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "    ")
	return errors.Wrap(enc.Encode(records), "encoding records")
}

// WriteFile writes records to path.
func WriteFile(path string, records []trace.Record) (err error) {
	f, err := os.Create(path)
	if err != nil {
		return errors.Wrap(err, "creating export")
	}
	defer func() {
		if cerr := f.Close(); err == nil && cerr != nil {
			err = errors.Wrap(cerr, "closing export")
		}
	}()
	return Write(f, records)
}

// Read decodes a JSON array of records.
func Read(r io.Reader) ([]trace.Record, error) {
	var records []trace.Record
	if err := json.NewDecoder(r).Decode(&records); err != nil {
		return nil, errors.Wrap(err, "decoding records")
	}
	return records, nil
}

// ReadFile reads the records stored at path.
func ReadFile(path string) ([]trace.Record, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrap(err, "opening export")
	}
	defer f.Close()
	records, err := Read(f)
	return records, errors.Wrap(err, path)
}

// Diff lists item identifiers that differ between two exports.
type Diff struct {
	Added   []string
	Removed []string
	// Changed items have a different content hash or different targets.
	Changed []string
}

// Empty reports whether the exports hold the same items.
func (d Diff) Empty() bool {
	return len(d.Added) == 0 && len(d.Removed) == 0 && len(d.Changed) == 0
}

// Compare returns what changed from old to new. Identifiers are naturally
// sorted.
func Compare(old, new []trace.Record) Diff {
	before := index(old)
	after := index(new)

	var d Diff
	for id, rec := range after {
		prev, ok := before[id]
		switch {
		case !ok:
			d.Added = append(d.Added, id)
		case prev.ContentHash != rec.ContentHash || !sameTargets(prev.Targets, rec.Targets):
			d.Changed = append(d.Changed, id)
		}
	}
	for id := range before {
		if _, ok := after[id]; !ok {
			d.Removed = append(d.Removed, id)
		}
	}
	for _, ids := range [][]string{d.Added, d.Removed, d.Changed} {
		trace.NaturalSort(ids)
	}
	return d
}

func index(records []trace.Record) map[string]trace.Record {
	m := make(map[string]trace.Record, len(records))
	for _, r := range records {
		m[r.ID] = r
	}
	return m
}

func sameTargets(a, b map[string][]string) bool {
	if len(a) != len(b) {
		return false
	}
	for rel, x := range a {
		y, ok := b[rel]
		if !ok || len(x) != len(y) {
			return false
		}
		for i := range x {
			if x[i] != y[i] {
				return false
			}
		}
	}
	return true
}
