package trace

import (
	"fmt"
	"strings"

	"github.com/pkg/errors"
)

// Location is a position in a source document. An empty Docname means the
// location is unknown.
type Location struct {
	Docname string `json:"document,omitempty" msgpack:"document,omitempty"`
	Line    int    `json:"line,omitempty" msgpack:"line,omitempty"`
}

func (l Location) String() string {
	if l.Docname == "" {
		return ""
	}
	if l.Line > 0 {
		return fmt.Sprintf("%s:%d", l.Docname, l.Line)
	}
	return l.Docname
}

func withLocation(msg string, loc Location) string {
	if s := loc.String(); s != "" {
		return s + ": " + msg
	}
	return msg
}

// DuplicateItemError reports an identifier declared as a real item twice.
type DuplicateItemError struct {
	Location
	ID    string
	Other Location
}

func (e *DuplicateItemError) Error() string {
	if e.Other.Docname != "" && e.Other.Docname == e.Docname {
		return fmt.Sprintf("duplicate item %q found in document %s at lines %d and %d",
			e.ID, e.Docname, e.Other.Line, e.Line)
	}
	msg := fmt.Sprintf("duplicating %s", e.ID)
	if o := e.Other.String(); o != "" {
		msg += " (first declared at " + o + ")"
	}
	return withLocation(msg, e.Location)
}

// UnknownRelationError reports a relation keyword that was never registered.
type UnknownRelationError struct {
	Location
	Relation string
}

func (e *UnknownRelationError) Error() string {
	return withLocation(fmt.Sprintf("relation %s not known", e.Relation), e.Location)
}

// SelfRelationError reports an item targeting itself.
type SelfRelationError struct {
	Location
	ID       string
	Relation string
}

func (e *SelfRelationError) Error() string {
	return withLocation(fmt.Sprintf("item %s cannot target itself through %s", e.ID, e.Relation), e.Location)
}

// RelationConflictError reports a (relation, target) pair that is already
// present on the item and cannot be promoted.
type RelationConflictError struct {
	Location
	Source   string
	Relation string
	Target   string
	Implicit bool
}

func (e *RelationConflictError) Error() string {
	return withLocation(fmt.Sprintf("duplicating %s %s %s", e.Source, e.Relation, e.Target), e.Location)
}

// MergeConflictError reports data that cannot be reconciled while merging
// worker collections.
type MergeConflictError struct {
	Location
	Reason string
}

func (e *MergeConflictError) Error() string {
	return withLocation(e.Reason, e.Location)
}

// AttributeValidationError reports an attribute write that was rejected.
type AttributeValidationError struct {
	Location
	Item    string
	Key     string
	Value   string
	Pattern string
}

func (e *AttributeValidationError) Error() string {
	var msg string
	switch {
	case e.Key == "":
		msg = fmt.Sprintf("item %s: no valid attribute key given", e.Item)
	case e.Value == "":
		msg = fmt.Sprintf("item %s: no valid value given for attribute %s", e.Item, e.Key)
	case e.Pattern == "":
		msg = fmt.Sprintf("item %s: attribute %s is not defined", e.Item, e.Key)
	default:
		msg = fmt.Sprintf("item %s: invalid value %q for attribute %s (expected %s)", e.Item, e.Value, e.Key, e.Pattern)
	}
	return withLocation(msg, e.Location)
}

// ItemError reports an item-level problem found by a self test.
type ItemError struct {
	Location
	ID     string
	Reason string
}

func (e *ItemError) Error() string {
	return withLocation(fmt.Sprintf("item %s %s", e.ID, e.Reason), e.Location)
}

// ConsistencyError bundles every violation found by a collection self test.
type ConsistencyError struct {
	Errors []error
}

func (e *ConsistencyError) Error() string {
	lines := make([]string, len(e.Errors))
	for i, err := range e.Errors {
		lines[i] = err.Error()
	}
	return fmt.Sprintf("%d traceability problem(s):\n%s", len(e.Errors), strings.Join(lines, "\n"))
}

func (e *ConsistencyError) Unwrap() []error {
	return e.Errors
}

// ErrNoRelations is returned by a self test of a collection without any
// registered relation.
var ErrNoRelations = errors.New("no relations configured")

// DanglingTargetError reports a bidirectional relation to an unknown item.
type DanglingTargetError struct {
	Location
	Source   string
	Relation string
	Target   string
}

func (e *DanglingTargetError) Error() string {
	return withLocation(fmt.Sprintf("%s %s %s, but %s is not known", e.Source, e.Relation, e.Target, e.Target), e.Location)
}

// MissingReverseError reports a relation whose automatic reverse edge is
// absent on the target.
type MissingReverseError struct {
	Location
	Source   string
	Relation string
	Target   string
}

func (e *MissingReverseError) Error() string {
	return withLocation(fmt.Sprintf("no automatic reverse relation: %s %s %s", e.Source, e.Relation, e.Target), e.Location)
}

// CircularRelationError reports a relation chain that leads back to where it
// started. Path lists the visited items, first and last being equal.
type CircularRelationError struct {
	Location
	Relation string
	Path     []string
}

func (e *CircularRelationError) Error() string {
	return withLocation(fmt.Sprintf("circular relationship found: %s",
		strings.Join(e.Path, " "+e.Relation+" ")), e.Location)
}
