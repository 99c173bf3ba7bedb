package checkpoint

import (
	"encoding/json"
	"sort"
)

// AccountSet is a set of account handles. It serializes as a sorted JSON array.
type AccountSet map[string]struct{}

// NewAccountSet builds a set from handles.
func NewAccountSet(handles ...string) AccountSet {
	s := make(AccountSet, len(handles))
	for _, h := range handles {
		s[h] = struct{}{}
	}
	return s
}

func (s AccountSet) Add(handle string) {
	s[handle] = struct{}{}
}

func (s AccountSet) Remove(handle string) {
	delete(s, handle)
}

func (s AccountSet) Has(handle string) bool {
	_, ok := s[handle]
	return ok
}

func (s AccountSet) Len() int {
	return len(s)
}

// Sorted returns the handles in ascending order.
func (s AccountSet) Sorted() []string {
	out := make([]string, 0, len(s))
	for h := range s {
		out = append(out, h)
	}
	sort.Strings(out)
	return out
}

// PopMin removes and returns the lexicographically smallest handle.
func (s AccountSet) PopMin() (string, bool) {
	if len(s) == 0 {
		return "", false
	}
	first := true
	var min string
	for h := range s {
		if first || h < min {
			min = h
			first = false
		}
	}
	delete(s, min)
	return min, true
}

func (s AccountSet) Clone() AccountSet {
	c := make(AccountSet, len(s))
	for h := range s {
		c[h] = struct{}{}
	}
	return c
}

// Equal reports set equality.
func (s AccountSet) Equal(other AccountSet) bool {
	if len(s) != len(other) {
		return false
	}
	for h := range s {
		if !other.Has(h) {
			return false
		}
	}
	return true
}

func (s AccountSet) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.Sorted())
}

func (s *AccountSet) UnmarshalJSON(data []byte) error {
	var handles []string
	if err := json.Unmarshal(data, &handles); err != nil {
		return err
	}
	*s = NewAccountSet(handles...)
	return nil
}
