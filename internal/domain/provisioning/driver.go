package provisioning

import (
	"slices"
	"strconv"
	"strings"
)

// DriverID is the numeric code a driver types on the equipment keypad.
type DriverID int64

// String returns the decimal representation of the id.
func (id DriverID) String() string { return strconv.FormatInt(int64(id), 10) }

// Valid reports whether the id can be provisioned on a keypad.
func (id DriverID) Valid() bool { return id > 0 }

// DriverSet is an unordered set of driver ids. The zero value is an empty set
// ready to use for reads; use NewDriverSet before calling Add.
type DriverSet map[DriverID]struct{}

// NewDriverSet builds a set from ids, collapsing duplicates.
func NewDriverSet(ids ...DriverID) DriverSet {
	s := make(DriverSet, len(ids))
	for _, id := range ids {
		s[id] = struct{}{}
	}
	return s
}

// Add inserts id into the set.
func (s DriverSet) Add(id DriverID) { s[id] = struct{}{} }

// Remove deletes id from the set.
func (s DriverSet) Remove(id DriverID) { delete(s, id) }

// Contains reports whether id is in the set.
func (s DriverSet) Contains(id DriverID) bool {
	_, ok := s[id]
	return ok
}

// Len returns the number of ids in the set.
func (s DriverSet) Len() int { return len(s) }

// Clone returns an independent copy.
func (s DriverSet) Clone() DriverSet {
	c := make(DriverSet, len(s))
	for id := range s {
		c[id] = struct{}{}
	}
	return c
}

// Difference returns the ids in s that are not in other.
func (s DriverSet) Difference(other DriverSet) DriverSet {
	out := make(DriverSet)
	for id := range s {
		if !other.Contains(id) {
			out[id] = struct{}{}
		}
	}
	return out
}

// Intersect returns the ids present in both sets.
func (s DriverSet) Intersect(other DriverSet) DriverSet {
	out := make(DriverSet)
	for id := range s {
		if other.Contains(id) {
			out[id] = struct{}{}
		}
	}
	return out
}

// Union returns the ids present in either set.
func (s DriverSet) Union(other DriverSet) DriverSet {
	out := s.Clone()
	for id := range other {
		out[id] = struct{}{}
	}
	return out
}

// Equal reports whether both sets hold exactly the same ids.
func (s DriverSet) Equal(other DriverSet) bool {
	if len(s) != len(other) {
		return false
	}
	for id := range s {
		if !other.Contains(id) {
			return false
		}
	}
	return true
}

// Sorted returns the ids in ascending order. Commands are issued in this
// order so runs are reproducible.
func (s DriverSet) Sorted() []DriverID {
	ids := make([]DriverID, 0, len(s))
	for id := range s {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	return ids
}

// String renders the set as {1,2,3}.
func (s DriverSet) String() string {
	ids := s.Sorted()
	parts := make([]string, len(ids))
	for i, id := range ids {
		parts[i] = id.String()
	}
	return "{" + strings.Join(parts, ",") + "}"
}

// DriverListing is the raw list the vendor reports for one piece of
// equipment. It keeps multiplicity because the keypad can hold the same id
// more than once.
type DriverListing struct {
	IDs []DriverID
}

// Set collapses the listing into a set.
func (l DriverListing) Set() DriverSet { return NewDriverSet(l.IDs...) }

// Duplicates returns the ids that appear more than once in the listing.
func (l DriverListing) Duplicates() DriverSet {
	seen := make(map[DriverID]int, len(l.IDs))
	dups := make(DriverSet)
	for _, id := range l.IDs {
		seen[id]++
		if seen[id] == 2 {
			dups[id] = struct{}{}
		}
	}
	return dups
}
