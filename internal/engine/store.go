package engine

import (
	"sort"
)

// Store holds the PullRequestState records of one repository. It is owned by
// that repository's watcher and needs no locking: all access happens on the
// watcher's goroutine.
type Store struct {
	states map[int]*PullRequestState
}

// NewStore creates an empty state store.
func NewStore() *Store {
	return &Store{states: make(map[int]*PullRequestState)}
}

// Get returns the state for a pull request id, or nil.
func (s *Store) Get(id int) *PullRequestState {
	return s.states[id]
}

// Ensure returns the state for a pull request id, creating an empty record
// the first time the id is observed.
func (s *Store) Ensure(id int) *PullRequestState {
	if state, ok := s.states[id]; ok {
		return state
	}
	state := &PullRequestState{PullRequestID: id}
	s.states[id] = state
	return state
}

// Remove deletes the state for a pull request id.
func (s *Store) Remove(id int) {
	delete(s.states, id)
}

// Len returns the number of tracked pull requests.
func (s *Store) Len() int {
	return len(s.states)
}

// Snapshot returns the current state map. Callers must treat the returned
// map as read-only input to the engine.
func (s *Store) Snapshot() map[int]*PullRequestState {
	return s.states
}

// IDs returns the tracked pull request ids in ascending order.
func (s *Store) IDs() []int {
	ids := make([]int, 0, len(s.states))
	for id := range s.states {
		ids = append(ids, id)
	}
	sort.Ints(ids)
	return ids
}
