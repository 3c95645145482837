package execkey

import "fmt"

// Kind discriminates the ExecutionKey variant.
type Kind string

const (
	KindCall      Kind = "Call"
	KindScatter   Kind = "Scatter"
	KindCollector Kind = "Collector"
)

// ExecutionKey is the tagged-variant key addressing one entry in the
// Execution Store (§3). Within one workflow, (Scope.FullyQualifiedName,
// Index) uniquely identifies a key.
type ExecutionKey struct {
	Kind  Kind
	Scope *Scope
	// Index is nil except for CallKey/ScatterKey entries inside a scatter.
	// CollectorKey.Index is always nil.
	Index *int
}

// CallKey builds a concrete task-invocation key.
func CallKey(scope *Scope, index *int) ExecutionKey {
	return ExecutionKey{Kind: KindCall, Scope: scope, Index: index}
}

// ScatterKey builds a key for the scatter node itself.
func ScatterKey(scope *Scope, index *int) ExecutionKey {
	return ExecutionKey{Kind: KindScatter, Scope: scope, Index: index}
}

// CollectorKey builds a key for the shard-aggregation sink of a scattered
// call. CollectorKey never carries an index.
func CollectorKey(scope *Scope) ExecutionKey {
	return ExecutionKey{Kind: KindCollector, Scope: scope, Index: nil}
}

// Unique returns the identity string used as a map key: the fully qualified
// name, the index when present, and the kind ("fqn[idx]#Kind").
func (k ExecutionKey) Unique() string {
	if k.Index == nil {
		return fmt.Sprintf("%s#%s", k.Scope.FullyQualifiedName, k.Kind)
	}
	return fmt.Sprintf("%s[%d]#%s", k.Scope.FullyQualifiedName, *k.Index, k.Kind)
}

func (k ExecutionKey) String() string {
	return k.Unique()
}

// WithIndex returns a copy of k addressed at a specific shard index.
func (k ExecutionKey) WithIndex(index int) ExecutionKey {
	k.Index = &index
	return k
}

// IsShard reports whether this key carries a scatter-shard index.
func (k ExecutionKey) IsShard() bool {
	return k.Index != nil
}
