// Package backend defines the Backend capability set (§6): the pluggable
// job-execution surface the Call Runner (C7) drives. Concrete backends
// (a container scheduler, a grid-engine submitter, ...) are external
// collaborators; this module ships an in-memory reference implementation
// under backend/inmemory for tests and for standalone operation.
package backend

import (
	"context"

	"github.com/powelleric/cromwell/engine/core"
	"github.com/powelleric/cromwell/engine/execkey"
	"github.com/powelleric/cromwell/engine/symbol"
	"github.com/powelleric/cromwell/engine/wfdesc"
)

// JobKey identifies a backend's own notion of an in-flight job, opaque to
// the engine, handed back on resume.
type JobKey string

// HostInputs is the backend-resolved, host-local form of a workflow's
// declared inputs (e.g. paths rewritten onto the backend's filesystem).
type HostInputs map[string]core.Value

// CallOutcome is the result of a completed Execute or Resume call.
type CallOutcome struct {
	Outputs    []*symbol.Symbol
	ReturnCode int
}

// Backend is the capability set a Call Runner drives. Every method is
// asynchronous in the source spec; here that is expressed with a
// context.Context for cancellation rather than a returned future, per the
// module's "accept interfaces, explicit error returns" convention.
type Backend interface {
	InitializeForWorkflow(ctx context.Context, descriptor *wfdesc.WorkflowDescriptor) (HostInputs, error)
	PrepareForRestart(ctx context.Context, descriptor *wfdesc.WorkflowDescriptor) error
	FindResumableExecutions(ctx context.Context, workflowID core.ID) (map[string]JobKey, error)
	Execute(
		ctx context.Context,
		key execkey.ExecutionKey,
		inputs []*symbol.Symbol,
		descriptor *wfdesc.WorkflowDescriptor,
	) (CallOutcome, error)
	Resume(
		ctx context.Context,
		key execkey.ExecutionKey,
		inputs []*symbol.Symbol,
		job JobKey,
		descriptor *wfdesc.WorkflowDescriptor,
	) (CallOutcome, error)
	CleanUpForWorkflow(ctx context.Context, descriptor *wfdesc.WorkflowDescriptor) error
}
