// Package scatter implements the Scatter Expander (C4, §4.4): expanding a
// runnable ScatterKey into one shard CallKey per element of its evaluated
// collection.
package scatter

import (
	"context"
	"fmt"

	"github.com/powelleric/cromwell/engine/core"
	"github.com/powelleric/cromwell/engine/dataaccess"
	"github.com/powelleric/cromwell/engine/execkey"
	"github.com/powelleric/cromwell/engine/execstore"
	"github.com/powelleric/cromwell/engine/symbol"
)

// Graph is the structural lookup the Expander needs beyond what
// symbol.Graph already exposes: the call scopes lexically nested directly
// inside a scatter scope.
type Graph interface {
	CallsInScatter(scope *execkey.Scope) []*execkey.Scope
}

// Expander implements C4 against a workflow's own ExecutionStore and
// DataAccess. It is called synchronously from the Workflow FSM's handler for
// a runnable ScatterKey — the FSM owns Store and serializes all access to it.
type Expander struct {
	Resolver *symbol.Resolver
	Graph    Graph
	Store    *execstore.Store
	Data     dataaccess.DataAccess
	Backend  string
}

// New builds an Expander.
func New(resolver *symbol.Resolver, graph Graph, store *execstore.Store, data dataaccess.DataAccess, backend string) *Expander {
	return &Expander{Resolver: resolver, Graph: graph, Store: store, Data: data, Backend: backend}
}

// Expand runs the transactional sequence of §4.4 against the runnable
// ScatterKey identified by key. A non-Array collection or evaluation failure
// is returned as an error; the caller (Workflow FSM) is responsible for
// failing the workflow in response, matching every other C4 caller contract.
func (x *Expander) Expand(ctx context.Context, workflowID core.ID, key execkey.ExecutionKey) ([]execkey.ExecutionKey, error) {
	if key.Kind != execkey.KindScatter {
		return nil, fmt.Errorf("scatter expansion requested for non-scatter key %s", key)
	}
	itemVar, collectionExpr, ok := x.Resolver.Graph.ScatterItemVar(key.Scope)
	if !ok {
		return nil, fmt.Errorf("scope %s has no registered scatter collection expression", key.Scope)
	}
	_ = itemVar

	rc := symbol.Context{WorkflowID: workflowID, CallKey: key}
	collection, err := x.Resolver.ResolveExpression(ctx, rc, collectionExpr)
	if err != nil {
		return nil, err
	}
	elems, err := collection.Array()
	if err != nil {
		return nil, fmt.Errorf("scatter collection for %s did not evaluate to an Array: %w", key.Scope, err)
	}
	n := len(elems)

	if err := x.Data.SetStatus(ctx, workflowID, []execkey.ExecutionKey{key},
		execstore.CallStatus{Status: execstore.Starting}); err != nil {
		return nil, &core.PersistenceError{Operation: "setStatus(scatter Starting)", Cause: err}
	}
	x.Store.Set(key, execstore.Starting)

	callScopes := x.Graph.CallsInScatter(key.Scope)
	shardKeys := make([]execkey.ExecutionKey, 0, len(callScopes)*n)
	for _, scope := range callScopes {
		for idx := 0; idx < n; idx++ {
			shardKeys = append(shardKeys, execkey.CallKey(scope, intPtr(idx)))
		}
	}

	if err := x.Data.InsertCalls(ctx, workflowID, shardKeys, x.Backend); err != nil {
		return nil, &core.PersistenceError{Operation: "insertCalls(scatter shards)", Cause: err}
	}
	for _, shardKey := range shardKeys {
		x.Store.Insert(shardKey, execstore.NotStarted)
	}

	returnCode := 0
	if err := x.Data.SetStatus(ctx, workflowID, []execkey.ExecutionKey{key},
		execstore.CallStatus{Status: execstore.Done, ReturnCode: &returnCode}); err != nil {
		return nil, &core.PersistenceError{Operation: "setStatus(scatter Done)", Cause: err}
	}
	x.Store.Set(key, execstore.Done)

	return shardKeys, nil
}

func intPtr(i int) *int { return &i }
