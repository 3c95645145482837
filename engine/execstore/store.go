package execstore

import "github.com/powelleric/cromwell/engine/execkey"

// Entry is one row of the Execution Store: a key and its current status.
type Entry struct {
	Key    execkey.ExecutionKey
	Status Status
}

// Store is the in-memory map from ExecutionKey to Status that the Workflow
// FSM (C6) owns exclusively and mutates only from its own goroutine (§3
// "Ownership & lifecycle"). It is deliberately not synchronized: callers
// outside the owning workflow goroutine must not touch it directly.
type Store struct {
	entries map[string]*Entry
}

// NewStore returns an empty store.
func NewStore() *Store {
	return &Store{entries: make(map[string]*Entry)}
}

// Insert adds a new key at the given status, overwriting any prior entry for
// the same key identity.
func (s *Store) Insert(key execkey.ExecutionKey, status Status) {
	s.entries[key.Unique()] = &Entry{Key: key, Status: status}
}

// Get returns the entry for key, if present.
func (s *Store) Get(key execkey.ExecutionKey) (*Entry, bool) {
	e, ok := s.entries[key.Unique()]
	return e, ok
}

// Set updates the status of an existing key. It is a caller bug to Set a key
// that was never Inserted.
func (s *Store) Set(key execkey.ExecutionKey, status Status) {
	if e, ok := s.entries[key.Unique()]; ok {
		e.Status = status
		return
	}
	s.Insert(key, status)
}

// Rollback forces a key's status backward, used only by restart handling
// (§4.6), which is explicitly exempted from the monotonic-forward invariant.
func (s *Store) Rollback(key execkey.ExecutionKey, status Status) {
	s.Set(key, status)
}

// All returns every entry in the store. Iteration order is not semantically
// significant (§4.2).
func (s *Store) All() []*Entry {
	out := make([]*Entry, 0, len(s.entries))
	for _, e := range s.entries {
		out = append(out, e)
	}
	return out
}

// ByScope returns every entry whose key scope has the given fully-qualified
// name, optionally restricted to a specific shard index (nil matches the
// aggregated/unindexed form only).
func (s *Store) ByScope(fqn string, index *int) []*Entry {
	var out []*Entry
	for _, e := range s.entries {
		if e.Key.Scope.FullyQualifiedName != fqn {
			continue
		}
		if !sameIndex(e.Key.Index, index) {
			continue
		}
		out = append(out, e)
	}
	return out
}

// ShardsOf returns every shard entry (Index != nil) for the given scope,
// ordered by ascending index. Used by the Collector (C5) and by the
// Dependency Resolver's downstream-collector rule (§4.2 step 2).
func (s *Store) ShardsOf(fqn string) []*Entry {
	var out []*Entry
	for _, e := range s.entries {
		if e.Key.Scope.FullyQualifiedName == fqn && e.Key.Index != nil {
			out = append(out, e)
		}
	}
	sortByIndex(out)
	return out
}

func sameIndex(a, b *int) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return *a == *b
}

func sortByIndex(entries []*Entry) {
	for i := 1; i < len(entries); i++ {
		for j := i; j > 0 && *entries[j].Key.Index < *entries[j-1].Key.Index; j-- {
			entries[j], entries[j-1] = entries[j-1], entries[j]
		}
	}
}

// AllTerminalOrNotStarted reports whether every entry in the store is terminal or still
// NotStarted, the condition the Workflow FSM checks to decide Aborted
// (Testable Property #3).
func (s *Store) AllTerminalOrNotStarted() bool {
	for _, e := range s.entries {
		if e.Status != NotStarted && !e.Status.IsTerminal() {
			return false
		}
	}
	return true
}

// AllDone reports whether every entry is Done, the condition for Succeeded
// (Testable Property #2).
func (s *Store) AllDone() bool {
	for _, e := range s.entries {
		if e.Status != Done {
			return false
		}
	}
	return true
}
