// Package dataaccess defines the DataAccess capability set (§6) and holds
// concrete implementations (postgres, memstore).
package dataaccess

import (
	"context"

	"github.com/powelleric/cromwell/engine/core"
	"github.com/powelleric/cromwell/engine/execkey"
	"github.com/powelleric/cromwell/engine/execstore"
	"github.com/powelleric/cromwell/engine/symbol"
	"github.com/powelleric/cromwell/engine/wfdesc"
)

// DataAccess is the durable storage capability set every component above
// C1/C2 is built against (§6). Implementations must provide at-least
// transactional semantics for SetStatus, SetOutputs, InsertCalls, and
// UpdateWorkflowState (§5 "Shared-resource policy") — partial persistence of
// a call completion is a correctness bug.
type DataAccess interface {
	CreateWorkflow(
		ctx context.Context,
		descriptor *wfdesc.WorkflowDescriptor,
		symbols []*symbol.Symbol,
		calls []execkey.ExecutionKey,
		backendName string,
	) error
	GetExecutionStatuses(ctx context.Context, workflowID core.ID) (map[string]StoredStatus, error)
	SetStatus(ctx context.Context, workflowID core.ID, keys []execkey.ExecutionKey, status execstore.CallStatus) error
	SetOutputs(ctx context.Context, workflowID core.ID, key execkey.ExecutionKey, outputs []*symbol.Symbol) error
	InsertCalls(ctx context.Context, workflowID core.ID, keys []execkey.ExecutionKey, backendName string) error
	UpdateWorkflowState(ctx context.Context, workflowID core.ID, state string) error
	GetInputs(ctx context.Context, workflowID core.ID, call execkey.ExecutionKey) ([]*symbol.Symbol, error)
	GetOutputs(ctx context.Context, workflowID core.ID, key execkey.ExecutionKey) ([]*symbol.Symbol, error)
	GetFullyQualifiedName(ctx context.Context, workflowID core.ID, fqn string) ([]*symbol.Symbol, error)
	UpdateWorkflowOptions(ctx context.Context, workflowID core.ID, options wfdesc.Options) error
}

// StoredStatus is one row of the persisted execution-status table: the key
// identity, in the loosely-typed form storage round-trips it through, plus
// its CallStatus.
type StoredStatus struct {
	Key    execkey.ExecutionKey
	Status execstore.CallStatus
}
