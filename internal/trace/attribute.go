package trace

import (
	"regexp"

	"github.com/pkg/errors"
	"golang.org/x/text/cases"
)

// Attribute is the definition of a named property that items can carry.
// Pattern is the source of truth; the compiled expression is a cache that is
// rebuilt whenever it is missing.
type Attribute struct {
	ID      string
	Pattern string
	Caption string
	Content string
	Location

	re *regexp.Regexp
}

// ToID converts an attribute identifier to its stored form.
func ToID(id string) string {
	return cases.Fold().String(id)
}

// NewAttribute defines an attribute whose values must match pattern.
func NewAttribute(id, pattern string) (*Attribute, error) {
	if id == "" {
		return nil, errors.New("attribute identifier is empty")
	}
	re, err := regexp.Compile(pattern)
	if err != nil {
		return nil, errors.Wrapf(err, "attribute %s: invalid pattern", id)
	}
	return &Attribute{ID: ToID(id), Pattern: pattern, re: re}, nil
}

// CanAccept reports whether value is acceptable for this attribute. The
// pattern has to match at the start of the value.
func (a *Attribute) CanAccept(value string) bool {
	if a.re == nil {
		re, err := regexp.Compile(a.Pattern)
		if err != nil {
			return false
		}
		a.re = re
	}
	loc := a.re.FindStringIndex(value)
	return loc != nil && loc[0] == 0
}

// IsPlaceholder reports whether the definition only came from configuration.
func (a *Attribute) IsPlaceholder() bool {
	return a.Docname == "" && a.Content == ""
}

// Update folds other into a, preferring other's pattern.
func (a *Attribute) Update(other *Attribute) {
	if other.Pattern != "" && other.Pattern != a.Pattern {
		a.Pattern = other.Pattern
		a.re = nil
	}
	if other.Caption != "" {
		a.Caption = other.Caption
	}
	if other.Docname != "" {
		a.Location = other.Location
	}
	if other.Content != "" {
		a.Content = other.Content
	}
}

func (a *Attribute) clone() *Attribute {
	c := *a
	c.re = nil
	return &c
}
