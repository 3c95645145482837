// Package collector implements the Collector (C5, §4.5): assembling the
// per-output arrays of a scattered call from its shards' outputs and
// reporting the aggregate result to the Workflow FSM.
package collector

import (
	"context"
	"fmt"
	"sort"

	"github.com/powelleric/cromwell/engine/core"
	"github.com/powelleric/cromwell/engine/dataaccess"
	"github.com/powelleric/cromwell/engine/execkey"
	"github.com/powelleric/cromwell/engine/execstore"
	"github.com/powelleric/cromwell/engine/symbol"
	"github.com/powelleric/cromwell/engine/wfmsg"
	"github.com/powelleric/cromwell/pkg/actor"
)

// Graph is the structural lookup the Collector needs: the declared output
// names of the task underlying a scattered call.
type Graph interface {
	DeclaredOutputs(scope *execkey.Scope) []string
}

// Collector implements C5 against a workflow's DataAccess, posting its
// result to the owning Workflow FSM's mailbox.
type Collector struct {
	Data   dataaccess.DataAccess
	Graph  Graph
	Parent *actor.Worker[wfmsg.Event]
}

// New builds a Collector.
func New(data dataaccess.DataAccess, graph Graph, parent *actor.Worker[wfmsg.Event]) *Collector {
	return &Collector{Data: data, Graph: graph, Parent: parent}
}

// Collect runs the sequence of §4.5 against a runnable CollectorKey and its
// shard set (already ordered by ascending index by the caller's Dependency
// Resolver scan, but re-sorted here defensively).
func (c *Collector) Collect(
	ctx context.Context,
	workflowID core.ID,
	key execkey.ExecutionKey,
	shards []execkey.ExecutionKey,
) error {
	if key.Kind != execkey.KindCollector {
		return fmt.Errorf("collection requested for non-collector key %s", key)
	}
	sorted := make([]execkey.ExecutionKey, len(shards))
	copy(sorted, shards)
	sort.Slice(sorted, func(i, j int) bool { return *sorted[i].Index < *sorted[j].Index })

	if err := c.Data.SetStatus(ctx, workflowID, []execkey.ExecutionKey{key},
		execstore.CallStatus{Status: execstore.Starting}); err != nil {
		return &core.PersistenceError{Operation: "setStatus(collector Starting)", Cause: err}
	}

	outputs, err := c.assemble(ctx, workflowID, key, sorted)
	if err != nil {
		return c.fail(ctx, key, err)
	}
	return c.succeed(ctx, key, outputs)
}

func (c *Collector) assemble(
	ctx context.Context,
	workflowID core.ID,
	key execkey.ExecutionKey,
	sorted []execkey.ExecutionKey,
) ([]*symbol.Symbol, error) {
	names := c.Graph.DeclaredOutputs(key.Scope)
	n := len(sorted)

	shardOutputs := make([]map[string]*symbol.Symbol, n)
	for i, shard := range sorted {
		syms, err := c.Data.GetOutputs(ctx, workflowID, shard)
		if err != nil {
			return nil, fmt.Errorf("reading outputs for shard %d: %w", i, err)
		}
		byName := make(map[string]*symbol.Symbol, len(syms))
		for _, s := range syms {
			byName[s.Name] = s
		}
		shardOutputs[i] = byName
	}

	outputs := make([]*symbol.Symbol, 0, len(names))
	for _, name := range names {
		elems := make([]core.Value, n)
		var elemType core.Type
		for i, byName := range shardOutputs {
			s, ok := byName[name]
			if !ok || s.Value == nil {
				return nil, fmt.Errorf("shard %d missing output %q", i, name)
			}
			elems[i] = *s.Value
			elemType = s.Value.Type
		}
		v := core.Value{Type: core.TypeArray, Raw: elems}
		outputs = append(outputs, &symbol.Symbol{
			Scope: key.Scope.FullyQualifiedName,
			Name:  name,
			Type:  elemType,
			Value: &v,
		})
	}
	return outputs, nil
}

func (c *Collector) succeed(ctx context.Context, key execkey.ExecutionKey, outputs []*symbol.Symbol) error {
	return c.Parent.Send(ctx, wfmsg.CallCompleted{Key: key, Outputs: outputs, ReturnCode: 0})
}

func (c *Collector) fail(ctx context.Context, key execkey.ExecutionKey, cause error) error {
	return c.Parent.Send(ctx, wfmsg.CallFailed{Key: key, Err: cause})
}
