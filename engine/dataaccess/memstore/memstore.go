// Package memstore is an in-memory DataAccess used by tests and by
// single-process deployments that don't need cross-restart durability
// across process boundaries. Exact map semantics are what restart/crash
// tests need to assert against deterministically, which is why this
// reference implementation is plain synchronized Go maps rather than a
// library-backed store — see DESIGN.md for the "why stdlib here" note.
package memstore

import (
	"context"
	"fmt"
	"sync"

	"github.com/powelleric/cromwell/engine/core"
	"github.com/powelleric/cromwell/engine/dataaccess"
	"github.com/powelleric/cromwell/engine/execkey"
	"github.com/powelleric/cromwell/engine/execstore"
	"github.com/powelleric/cromwell/engine/symbol"
	"github.com/powelleric/cromwell/engine/wfdesc"
)

type workflowRecord struct {
	descriptor *wfdesc.WorkflowDescriptor
	state      string
	statuses   map[string]dataaccess.StoredStatus
	symbols    map[string][]*symbol.Symbol // keyed by FQN
	outputs    map[string][]*symbol.Symbol // keyed by execkey.Unique()
	backends   map[string]string           // keyed by execkey.Unique()
	options    wfdesc.Options
}

// Store is a thread-safe in-memory DataAccess.
type Store struct {
	mu        sync.Mutex
	workflows map[core.ID]*workflowRecord
}

// New returns an empty Store.
func New() *Store {
	return &Store{workflows: make(map[core.ID]*workflowRecord)}
}

var _ dataaccess.DataAccess = (*Store)(nil)

func (s *Store) CreateWorkflow(
	_ context.Context,
	descriptor *wfdesc.WorkflowDescriptor,
	symbols []*symbol.Symbol,
	calls []execkey.ExecutionKey,
	backendName string,
) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec := &workflowRecord{
		descriptor: descriptor,
		state:      "Submitted",
		statuses:   make(map[string]dataaccess.StoredStatus),
		symbols:    make(map[string][]*symbol.Symbol),
		outputs:    make(map[string][]*symbol.Symbol),
		backends:   make(map[string]string),
		options:    descriptor.Options,
	}
	for _, sym := range symbols {
		rec.symbols[sym.FullyQualifiedName()] = append(rec.symbols[sym.FullyQualifiedName()], sym)
	}
	for _, key := range calls {
		rec.statuses[key.Unique()] = dataaccess.StoredStatus{
			Key:    key,
			Status: execstore.CallStatus{Status: execstore.NotStarted},
		}
		rec.backends[key.Unique()] = backendName
	}
	s.workflows[descriptor.ID] = rec
	return nil
}

func (s *Store) GetExecutionStatuses(
	_ context.Context,
	workflowID core.ID,
) (map[string]dataaccess.StoredStatus, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, err := s.require(workflowID)
	if err != nil {
		return nil, err
	}
	out := make(map[string]dataaccess.StoredStatus, len(rec.statuses))
	for k, v := range rec.statuses {
		out[k] = v
	}
	return out, nil
}

func (s *Store) SetStatus(
	_ context.Context,
	workflowID core.ID,
	keys []execkey.ExecutionKey,
	status execstore.CallStatus,
) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, err := s.require(workflowID)
	if err != nil {
		return err
	}
	for _, key := range keys {
		rec.statuses[key.Unique()] = dataaccess.StoredStatus{Key: key, Status: status}
	}
	return nil
}

func (s *Store) SetOutputs(
	_ context.Context,
	workflowID core.ID,
	key execkey.ExecutionKey,
	outputs []*symbol.Symbol,
) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, err := s.require(workflowID)
	if err != nil {
		return err
	}
	rec.outputs[key.Unique()] = outputs
	for _, sym := range outputs {
		rec.symbols[sym.FullyQualifiedName()] = append(rec.symbols[sym.FullyQualifiedName()], sym)
	}
	return nil
}

func (s *Store) InsertCalls(
	_ context.Context,
	workflowID core.ID,
	keys []execkey.ExecutionKey,
	backendName string,
) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, err := s.require(workflowID)
	if err != nil {
		return err
	}
	for _, key := range keys {
		rec.statuses[key.Unique()] = dataaccess.StoredStatus{
			Key:    key,
			Status: execstore.CallStatus{Status: execstore.NotStarted},
		}
		rec.backends[key.Unique()] = backendName
	}
	return nil
}

func (s *Store) UpdateWorkflowState(_ context.Context, workflowID core.ID, state string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, err := s.require(workflowID)
	if err != nil {
		return err
	}
	rec.state = state
	return nil
}

func (s *Store) GetInputs(
	_ context.Context,
	workflowID core.ID,
	call execkey.ExecutionKey,
) ([]*symbol.Symbol, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, err := s.require(workflowID)
	if err != nil {
		return nil, err
	}
	var out []*symbol.Symbol
	for _, syms := range rec.symbols {
		for _, sym := range syms {
			if sym.IsInput && sym.Scope == call.Scope.FullyQualifiedName {
				out = append(out, sym)
			}
		}
	}
	return out, nil
}

func (s *Store) GetOutputs(
	_ context.Context,
	workflowID core.ID,
	key execkey.ExecutionKey,
) ([]*symbol.Symbol, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, err := s.require(workflowID)
	if err != nil {
		return nil, err
	}
	return rec.outputs[key.Unique()], nil
}

func (s *Store) GetFullyQualifiedName(
	_ context.Context,
	workflowID core.ID,
	fqn string,
) ([]*symbol.Symbol, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, err := s.require(workflowID)
	if err != nil {
		return nil, err
	}
	return rec.symbols[fqn], nil
}

func (s *Store) UpdateWorkflowOptions(_ context.Context, workflowID core.ID, options wfdesc.Options) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, err := s.require(workflowID)
	if err != nil {
		return err
	}
	rec.options = options
	return nil
}

func (s *Store) require(workflowID core.ID) (*workflowRecord, error) {
	rec, ok := s.workflows[workflowID]
	if !ok {
		return nil, fmt.Errorf("workflow %s not found", workflowID)
	}
	return rec, nil
}
