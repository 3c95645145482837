// Package inmemory is a deterministic reference Backend: it "executes" a
// call by echoing its inputs as outputs, or by returning a per-call scripted
// outcome override instead. It exists so the rest of
// the engine can be exercised without a real job scheduler.
package inmemory

import (
	"context"
	"fmt"
	"sync"

	"github.com/powelleric/cromwell/engine/backend"
	"github.com/powelleric/cromwell/engine/core"
	"github.com/powelleric/cromwell/engine/execkey"
	"github.com/powelleric/cromwell/engine/symbol"
	"github.com/powelleric/cromwell/engine/wfdesc"
)

// Outcome lets a test script a specific call's result in advance.
type Outcome struct {
	Outputs    []*symbol.Symbol
	ReturnCode int
	Err        error
}

// Backend is the in-memory reference implementation.
type Backend struct {
	mu         sync.Mutex
	scripted   map[string]Outcome
	resumable  map[string]backend.JobKey
	cleanedUp  map[core.ID]bool
	restartLog []core.ID
}

// New builds an empty Backend.
func New() *Backend {
	return &Backend{
		scripted:  make(map[string]Outcome),
		resumable: make(map[string]backend.JobKey),
		cleanedUp: make(map[core.ID]bool),
	}
}

var _ backend.Backend = (*Backend)(nil)

// Script pre-records the outcome Execute/Resume will return for key, letting
// a test exercise CallCompleted/CallFailed paths deterministically.
func (b *Backend) Script(key execkey.ExecutionKey, outcome Outcome) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.scripted[key.Unique()] = outcome
}

// MarkResumable records key as backed by a resumable job, surfaced by a
// later FindResumableExecutions call (used to exercise restart semantics).
func (b *Backend) MarkResumable(key execkey.ExecutionKey, job backend.JobKey) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.resumable[key.Unique()] = job
}

func (b *Backend) InitializeForWorkflow(
	_ context.Context,
	descriptor *wfdesc.WorkflowDescriptor,
) (backend.HostInputs, error) {
	inputs := make(backend.HostInputs, len(descriptor.Options))
	for k, v := range descriptor.Options {
		inputs[k] = core.NewValue(v)
	}
	return inputs, nil
}

func (b *Backend) PrepareForRestart(_ context.Context, _ *wfdesc.WorkflowDescriptor) error {
	return nil
}

func (b *Backend) FindResumableExecutions(
	_ context.Context,
	_ core.ID,
) (map[string]backend.JobKey, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make(map[string]backend.JobKey, len(b.resumable))
	for k, v := range b.resumable {
		out[k] = v
	}
	return out, nil
}

func (b *Backend) Execute(
	_ context.Context,
	key execkey.ExecutionKey,
	inputs []*symbol.Symbol,
	_ *wfdesc.WorkflowDescriptor,
) (backend.CallOutcome, error) {
	return b.run(key, inputs)
}

func (b *Backend) Resume(
	_ context.Context,
	key execkey.ExecutionKey,
	inputs []*symbol.Symbol,
	_ backend.JobKey,
	_ *wfdesc.WorkflowDescriptor,
) (backend.CallOutcome, error) {
	return b.run(key, inputs)
}

func (b *Backend) run(key execkey.ExecutionKey, inputs []*symbol.Symbol) (backend.CallOutcome, error) {
	b.mu.Lock()
	outcome, ok := b.scripted[key.Unique()]
	b.mu.Unlock()
	if ok {
		if outcome.Err != nil {
			return backend.CallOutcome{}, outcome.Err
		}
		return backend.CallOutcome{Outputs: outcome.Outputs, ReturnCode: outcome.ReturnCode}, nil
	}

	outputs := make([]*symbol.Symbol, 0, len(inputs))
	for _, in := range inputs {
		outputs = append(outputs, &symbol.Symbol{
			Scope: key.Scope.FullyQualifiedName,
			Name:  fmt.Sprintf("%s_out", in.Name),
			Index: key.Index,
			Type:  in.Type,
			Value: in.Value,
		})
	}
	return backend.CallOutcome{Outputs: outputs, ReturnCode: 0}, nil
}

func (b *Backend) CleanUpForWorkflow(_ context.Context, descriptor *wfdesc.WorkflowDescriptor) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.cleanedUp[descriptor.ID] = true
	b.restartLog = append(b.restartLog, descriptor.ID)
	return nil
}

// CleanedUp reports whether CleanUpForWorkflow has run for id, for test
// assertions on terminal-transition cleanup ordering.
func (b *Backend) CleanedUp(id core.ID) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.cleanedUp[id]
}
