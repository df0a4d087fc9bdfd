package reconcile

import (
	"maps"
	"slices"
)

// Set is a set of uids.
type Set map[string]struct{}

// NewSet returns a set holding the given uids.
func NewSet(uids ...string) Set {
	s := make(Set, len(uids))
	for _, uid := range uids {
		s.Add(uid)
	}
	return s
}

func (s Set) Add(uid string) {
	s[uid] = struct{}{}
}

func (s Set) Has(uid string) bool {
	_, ok := s[uid]
	return ok
}

func (s Set) Len() int {
	return len(s)
}

// Difference returns the members of s that are not in other.
func (s Set) Difference(other Set) Set {
	out := make(Set)
	for uid := range s {
		if !other.Has(uid) {
			out.Add(uid)
		}
	}
	return out
}

// Intersection returns the members present in both sets.
func (s Set) Intersection(other Set) Set {
	out := make(Set)
	for uid := range s {
		if other.Has(uid) {
			out.Add(uid)
		}
	}
	return out
}

// Sorted returns the members in lexical order, never nil.
func (s Set) Sorted() []string {
	out := slices.Sorted(maps.Keys(s))
	if out == nil {
		return []string{}
	}
	return out
}
