package cache

// TagIndex maps a tag to the set of keys carrying it.
//
// TagIndex does no locking of its own; Store mutates it only while holding
// the same lock that guards the entries, so the pair is never observed
// half-updated. Empty buckets are removed eagerly.
type TagIndex struct {
	buckets map[string]map[string]struct{}
}

// NewTagIndex returns an empty index.
func NewTagIndex() *TagIndex {
	return &TagIndex{buckets: make(map[string]map[string]struct{})}
}

// Associate adds key to the tag bucket. Repeating it is a no-op.
func (ti *TagIndex) Associate(tag, key string) {
	b, ok := ti.buckets[tag]
	if !ok {
		b = make(map[string]struct{})
		ti.buckets[tag] = b
	}
	b[key] = struct{}{}
}

// Disassociate removes key from the tag bucket. Removing a non-member is a no-op.
func (ti *TagIndex) Disassociate(tag, key string) {
	b, ok := ti.buckets[tag]
	if !ok {
		return
	}
	delete(b, key)
	if len(b) == 0 {
		delete(ti.buckets, tag)
	}
}

// KeysForTag returns a copy of the keys carrying tag. Unknown tags yield an empty set.
func (ti *TagIndex) KeysForTag(tag string) map[string]struct{} {
	b := ti.buckets[tag]
	out := make(map[string]struct{}, len(b))
	for k := range b {
		out[k] = struct{}{}
	}
	return out
}

// KeysForPattern returns the keys of every tag whose name matches p.
func (ti *TagIndex) KeysForPattern(p *Pattern) map[string]struct{} {
	out := make(map[string]struct{})
	if p.IsLiteral() {
		for k := range ti.buckets[p.String()] {
			out[k] = struct{}{}
		}
		return out
	}
	for tag, b := range ti.buckets {
		if !p.Match(tag) {
			continue
		}
		for k := range b {
			out[k] = struct{}{}
		}
	}
	return out
}

// Has reports whether key is in the tag bucket.
func (ti *TagIndex) Has(tag, key string) bool {
	_, ok := ti.buckets[tag][key]
	return ok
}

// Len returns the number of non-empty tags.
func (ti *TagIndex) Len() int { return len(ti.buckets) }

// Tags returns every tag currently holding at least one key.
func (ti *TagIndex) Tags() []string {
	out := make([]string, 0, len(ti.buckets))
	for tag := range ti.buckets {
		out = append(out, tag)
	}
	return out
}

// Reset drops every bucket.
func (ti *TagIndex) Reset() {
	ti.buckets = make(map[string]map[string]struct{})
}
