package domain

import (
	"encoding/json"
	"strconv"
)

// CompletionSet the set of completed lesson ids for one user. Internally an
// explicit set; the wire/storage format is a sparse map of string lesson id to
// true (never false), converted only at the persistence boundary.
type CompletionSet map[int64]struct{}

// NewCompletionSet build a set from the given lesson ids
func NewCompletionSet(ids ...int64) CompletionSet {
	s := make(CompletionSet, len(ids))
	for _, id := range ids {
		s[id] = struct{}{}
	}
	return s
}

// Add mark a lesson as completed
func (s CompletionSet) Add(id int64) {
	s[id] = struct{}{}
}

// Remove clear a lesson's completion. Deleting beats storing false, the
// persisted form stays sparse.
func (s CompletionSet) Remove(id int64) {
	delete(s, id)
}

// Has report whether a lesson is completed
func (s CompletionSet) Has(id int64) bool {
	_, ok := s[id]
	return ok
}

// Len number of completed lessons
func (s CompletionSet) Len() int {
	return len(s)
}

// MarshalJSON encode as the sparse { "<lessonId>": true } storage format
func (s CompletionSet) MarshalJSON() ([]byte, error) {
	sparse := make(map[string]bool, len(s))
	for id := range s {
		sparse[strconv.FormatInt(id, 10)] = true
	}
	return json.Marshal(sparse)
}

// UnmarshalJSON decode the sparse storage format. Entries with a false value
// or a non-numeric key are dropped instead of failing the whole load.
func (s *CompletionSet) UnmarshalJSON(data []byte) error {
	var sparse map[string]bool
	if err := json.Unmarshal(data, &sparse); err != nil {
		return err
	}
	set := make(CompletionSet, len(sparse))
	for key, done := range sparse {
		if !done {
			continue
		}
		id, err := strconv.ParseInt(key, 10, 64)
		if err != nil {
			continue
		}
		set[id] = struct{}{}
	}
	*s = set
	return nil
}
