// Package execstore implements the Execution Store (C1) and the Dependency
// Resolver (C2).
package execstore

// Status is the ordered lifecycle of one ExecutionKey (§3). Terminal states
// are Done, Failed, and Aborted. A key only moves forward except at an
// explicit restart-driven rollback (§4.6 "Restart semantics").
type Status string

const (
	NotStarted Status = "NotStarted"
	Starting   Status = "Starting"
	Running    Status = "Running"
	Done       Status = "Done"
	Failed     Status = "Failed"
	Aborted    Status = "Aborted"
)

var order = map[Status]int{
	NotStarted: 0,
	Starting:   1,
	Running:    2,
	Done:       3,
	Failed:     3,
	Aborted:    3,
}

// IsTerminal reports whether s is one of {Done, Failed, Aborted}.
func (s Status) IsTerminal() bool {
	return s == Done || s == Failed || s == Aborted
}

// Regresses reports whether moving from s to next would violate the
// monotonic-forward invariant (Testable Property #1), ignoring explicit
// restart rollbacks which callers apply via Store.Rollback instead of
// Store.Set.
func (s Status) Regresses(next Status) bool {
	return order[next] < order[s]
}

// CallStatus is the durable form of one key's status plus its backend return
// code, if any.
type CallStatus struct {
	Status     Status
	ReturnCode *int
}
