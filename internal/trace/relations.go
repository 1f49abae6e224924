package trace

// NoReverse marks a relation without automatic reverse, e.g. a link to an
// external system.
const NoReverse = ""

// Relations maps relation keywords to their reverse keyword.
type Relations struct {
	pairs  map[string]string
	sorted []string
}

func newRelations() *Relations {
	return &Relations{pairs: make(map[string]string)}
}

// AddPair registers forward and its reverse. The reverse direction is
// registered too unless reverse is NoReverse.
func (r *Relations) AddPair(forward, reverse string) {
	r.pairs[forward] = reverse
	if reverse != NoReverse {
		r.pairs[reverse] = forward
	}
	r.sorted = nil
}

// Reverse returns the reverse keyword of relation.
func (r *Relations) Reverse(relation string) (string, bool) {
	rev, ok := r.pairs[relation]
	return rev, ok
}

// Has reports whether relation is registered.
func (r *Relations) Has(relation string) bool {
	_, ok := r.pairs[relation]
	return ok
}

// IsExternal reports whether relation is registered without reverse.
func (r *Relations) IsExternal(relation string) bool {
	rev, ok := r.pairs[relation]
	return ok && rev == NoReverse
}

// Len returns the number of registered keywords, counting both directions.
func (r *Relations) Len() int {
	return len(r.pairs)
}

// Sorted returns all registered keywords in natural order.
func (r *Relations) Sorted() []string {
	if len(r.sorted) != len(r.pairs) {
		r.sorted = sortedKeys(r.pairs)
	}
	out := make([]string, len(r.sorted))
	copy(out, r.sorted)
	return out
}

func (r *Relations) toMap() map[string]string {
	m := make(map[string]string, len(r.pairs))
	for k, v := range r.pairs {
		m[k] = v
	}
	return m
}
