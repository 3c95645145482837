package execstore

import "github.com/powelleric/cromwell/engine/execkey"

// Graph is the minimal view of the parsed workflow graph the Dependency
// Resolver needs: for any scope, which scopes must complete before it can
// run. The actual graph/AST (Namespace, Scope, Expression) is an external
// collaborator per §1's Out-of-scope list; Graph is the narrow interface
// this component consumes from it.
type Graph interface {
	PrerequisiteScopes(scope *execkey.Scope) []*execkey.Scope
}

// Resolver implements the Dependency Resolver (C2, §4.2).
type Resolver struct {
	Graph Graph
}

// NewResolver builds a Resolver against the given workflow graph.
func NewResolver(graph Graph) *Resolver {
	return &Resolver{Graph: graph}
}

// Runnable implements isRunnable(entry): the entry must be NotStarted and
// every prerequisite-scope set must be non-empty and entirely Done.
func (r *Resolver) Runnable(store *Store, key execkey.ExecutionKey) bool {
	entry, ok := store.Get(key)
	if !ok || entry.Status != NotStarted {
		return false
	}
	return r.prerequisitesSatisfied(store, key) && r.downstreamSatisfied(store, key)
}

// prerequisitesSatisfied implements §4.2 step 1 (Upstream).
func (r *Resolver) prerequisitesSatisfied(store *Store, key execkey.ExecutionKey) bool {
	for _, prereq := range r.Graph.PrerequisiteScopes(key.Scope) {
		ancestor := execkey.ClosestCommonAncestor(prereq, key.Scope)
		var upstream []*Entry
		if ancestor != nil && ancestor.IsScatter {
			// Same-shard dependency: both sides of the scatter boundary are
			// addressed at the same index.
			upstream = store.ByScope(prereq.FullyQualifiedName, key.Index)
		} else {
			// Depend on the aggregated (collected) form.
			upstream = store.ByScope(prereq.FullyQualifiedName, nil)
		}
		if len(upstream) == 0 {
			// The scatter producing this prerequisite hasn't been expanded yet.
			return false
		}
		for _, e := range upstream {
			if e.Status != Done {
				return false
			}
		}
	}
	return true
}

// downstreamSatisfied implements §4.2 step 2 (Downstream): a CollectorKey
// additionally requires every shard of its target scope to be Done.
func (r *Resolver) downstreamSatisfied(store *Store, key execkey.ExecutionKey) bool {
	if key.Kind != execkey.KindCollector {
		return true
	}
	shards := store.ShardsOf(key.Scope.FullyQualifiedName)
	if len(shards) == 0 {
		return false
	}
	for _, e := range shards {
		if e.Status != Done {
			return false
		}
	}
	return true
}

// ScanRunnable returns every key currently runnable. Callers loop calling
// ScanRunnable and dispatching until a pass produces no newly-started keys,
// the fixed point §4.2 describes.
func (r *Resolver) ScanRunnable(store *Store) []execkey.ExecutionKey {
	var runnable []execkey.ExecutionKey
	for _, e := range store.All() {
		if r.Runnable(store, e.Key) {
			runnable = append(runnable, e.Key)
		}
	}
	return runnable
}
