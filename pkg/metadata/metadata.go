// Package metadata implements the ordered (key, value) multimap carried as
// initial and trailing metadata on every call, per spec.md C1.
package metadata

import (
	"strings"
	"unicode/utf8"
)

// BinarySuffix marks a key as carrying opaque binary values rather than
// UTF-8 text. Keys ending in this suffix may hold arbitrary bytes.
const BinarySuffix = "-bin"

// MD is an ordered multimap of metadata entries. Keys are case-insensitive
// for lookup and storage, but the case they were first set/added with is
// preserved on Keys() and iteration. The zero value is an empty MD ready
// to use.
type MD struct {
	// keys preserves insertion order of distinct (lower-cased) keys.
	keys []string
	// values maps a lower-cased key to its ordered list of values.
	values map[string][]string
	// original remembers the first-seen casing for each lower-cased key.
	original map[string]string
}

// New builds an MD from a flat map of key to one-or-more values, as a
// convenience for literal construction in tests and call sites.
func New(m map[string][]string) *MD {
	md := &MD{
		values:   make(map[string][]string, len(m)),
		original: make(map[string]string, len(m)),
	}
	for k, vs := range m {
		for _, v := range vs {
			md.Add(k, v)
		}
	}
	return md
}

// Pairs builds an MD from an alternating key, value, key, value list.
func Pairs(kv ...string) *MD {
	if len(kv)%2 != 0 {
		panic("metadata: Pairs got an odd number of key/value arguments")
	}
	md := &MD{values: make(map[string][]string), original: make(map[string]string)}
	for i := 0; i < len(kv); i += 2 {
		md.Add(kv[i], kv[i+1])
	}
	return md
}

func normalize(key string) string {
	return strings.ToLower(key)
}

// IsBinary reports whether key is a binary-valued key (ends in "-bin").
func IsBinary(key string) bool {
	return strings.HasSuffix(normalize(key), BinarySuffix)
}

func (md *MD) ensure() {
	if md.values == nil {
		md.values = make(map[string][]string)
	}
	if md.original == nil {
		md.original = make(map[string]string)
	}
}

// Set replaces all values currently stored under key with the given values.
func (md *MD) Set(key string, values ...string) {
	md.ensure()
	lk := normalize(key)
	if _, exists := md.values[lk]; !exists {
		md.keys = append(md.keys, lk)
		md.original[lk] = key
	}
	md.values[lk] = append([]string(nil), values...)
}

// Add appends a single value under key, preserving any values already
// present.
func (md *MD) Add(key, value string) {
	md.ensure()
	lk := normalize(key)
	if !IsBinary(key) && !utf8.ValidString(value) {
		value = strings.ToValidUTF8(value, "�")
	}
	if _, exists := md.values[lk]; !exists {
		md.keys = append(md.keys, lk)
		md.original[lk] = key
	}
	md.values[lk] = append(md.values[lk], value)
}

// Get returns the ordered list of values under key, or nil if absent.
// The returned slice must not be mutated by the caller.
func (md *MD) Get(key string) []string {
	if md == nil {
		return nil
	}
	return md.values[normalize(key)]
}

// Delete removes all values under key.
func (md *MD) Delete(key string) {
	if md == nil || md.values == nil {
		return
	}
	lk := normalize(key)
	if _, exists := md.values[lk]; !exists {
		return
	}
	delete(md.values, lk)
	delete(md.original, lk)
	for i, k := range md.keys {
		if k == lk {
			md.keys = append(md.keys[:i], md.keys[i+1:]...)
			break
		}
	}
}

// Keys returns the metadata's keys in first-insertion order, using the
// casing each key was first set/added with.
func (md *MD) Keys() []string {
	if md == nil {
		return nil
	}
	out := make([]string, 0, len(md.keys))
	for _, lk := range md.keys {
		out = append(out, md.original[lk])
	}
	return out
}

// Len reports the number of distinct keys.
func (md *MD) Len() int {
	if md == nil {
		return 0
	}
	return len(md.keys)
}

// Clone returns a fully independent deep copy: mutating the clone never
// affects the original and vice versa (spec.md property 5).
func (md *MD) Clone() *MD {
	out := &MD{
		keys:     append([]string(nil), md.keys...),
		values:   make(map[string][]string, len(md.values)),
		original: make(map[string]string, len(md.original)),
	}
	for k, vs := range md.values {
		out.values[k] = append([]string(nil), vs...)
	}
	for k, v := range md.original {
		out.original[k] = v
	}
	return out
}

// Merge appends every entry of other into md, preserving order: md's
// existing entries first, then other's. Used by composeCall to combine two
// call credentials' generated metadata (spec.md §4.3).
func (md *MD) Merge(other *MD) *MD {
	out := md.Clone()
	if other == nil {
		return out
	}
	for _, k := range other.Keys() {
		for _, v := range other.Get(k) {
			out.Add(k, v)
		}
	}
	return out
}

// Entries returns a flattened snapshot of (key, value) pairs in order, used
// by wire transports to serialize metadata onto the connection.
func (md *MD) Entries() []Entry {
	if md == nil {
		return nil
	}
	var out []Entry
	for _, lk := range md.keys {
		key := md.original[lk]
		for _, v := range md.values[lk] {
			out = append(out, Entry{Key: key, Value: v})
		}
	}
	return out
}

// Entry is a single flattened (key, value) metadata pair.
type Entry struct {
	Key   string
	Value string
}

// FromEntries rebuilds an MD from a flattened entry list, the inverse of
// Entries.
func FromEntries(entries []Entry) *MD {
	md := &MD{values: make(map[string][]string), original: make(map[string]string)}
	for _, e := range entries {
		md.Add(e.Key, e.Value)
	}
	return md
}
