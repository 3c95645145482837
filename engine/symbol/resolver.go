package symbol

import (
	"context"
	"fmt"

	"github.com/powelleric/cromwell/engine/core"
	"github.com/powelleric/cromwell/engine/execkey"
	"github.com/powelleric/cromwell/engine/expr"
)

// Lookup is the narrow slice of DataAccess (§6) the Symbol Resolver needs:
// reading previously-written symbols by fully-qualified name or by the
// outputs of a specific execution key.
type Lookup interface {
	GetFullyQualifiedName(ctx context.Context, workflowID core.ID, fqn string) ([]*Symbol, error)
	GetOutputs(ctx context.Context, workflowID core.ID, key execkey.ExecutionKey) ([]*Symbol, error)
}

// Namespace models an imported namespace lookup (an external collaborator
// per §1; this is the narrow interface the resolver calls against it).
type Namespace interface {
	ResolveImport(name string) (Namespace, bool)
}

// Graph is the lexical-structure view the resolver needs from the parsed
// workflow graph: scatter item-variable bindings and call-by-name lookup.
type Graph interface {
	ScatterItemVar(scope *execkey.Scope) (itemVar string, collectionExpr string, ok bool)
	ResolveImport(fromScope *execkey.Scope, name string) (Namespace, bool)
	ResolveCallByName(fromScope *execkey.Scope, name string) (*execkey.Scope, bool)
	ResolveDeclarationFQN(fromScope *execkey.Scope, name string) (string, bool)
}

// Context carries the resolving call and the ambient variable bindings
// (workflow inputs, etc.) expressions evaluated during resolution may need.
type Context struct {
	WorkflowID core.ID
	CallKey    execkey.ExecutionKey
	Vars       map[string]any
}

// Resolver implements the Symbol Resolver (C3).
type Resolver struct {
	Lookup Lookup
	Graph  Graph
	Expr   *expr.Evaluator
}

// NewResolver builds a Resolver.
func NewResolver(lookup Lookup, graph Graph, evaluator *expr.Evaluator) *Resolver {
	return &Resolver{Lookup: lookup, Graph: graph, Expr: evaluator}
}

// Resolve attempts resolution in the strict precedence order of §4.3:
// scatter variable, imported namespace, call, declaration. The first
// successful resolution wins; if all fail the operation fails with a
// WdlExpressionError naming the unresolved identifier.
func (r *Resolver) Resolve(ctx context.Context, rc Context, ident string) (core.Value, error) {
	if v, ok, err := r.resolveScatterVar(ctx, rc, ident); err != nil {
		return core.Value{}, err
	} else if ok {
		return v, nil
	}
	if v, ok, err := r.resolveNamespace(ctx, rc, ident); err != nil {
		return core.Value{}, err
	} else if ok {
		return v, nil
	}
	if v, ok, err := r.resolveCall(ctx, rc, ident); err != nil {
		return core.Value{}, err
	} else if ok {
		return v, nil
	}
	if v, ok, err := r.resolveDeclaration(ctx, rc, ident); err != nil {
		return core.Value{}, err
	} else if ok {
		return v, nil
	}
	return core.Value{}, &core.WdlExpressionError{
		Identifier: ident,
		Cause:      fmt.Errorf("no scatter variable, namespace, call, or declaration named %q was found", ident),
	}
}

// resolveScatterVar implements precedence step 1.
func (r *Resolver) resolveScatterVar(ctx context.Context, rc Context, ident string) (core.Value, bool, error) {
	for scope := rc.CallKey.Scope; scope != nil; scope = scope.Parent {
		if !scope.IsScatter {
			continue
		}
		itemVar, collectionExpr, ok := r.Graph.ScatterItemVar(scope)
		if !ok || itemVar != ident {
			continue
		}
		if rc.CallKey.Index == nil {
			return core.Value{}, false, &core.WdlExpressionError{
				Identifier: ident,
				Cause:      fmt.Errorf("scatter variable %q referenced outside a shard context", ident),
			}
		}
		collection, err := r.Expr.Evaluate(ctx, collectionExpr, rc.Vars)
		if err != nil {
			return core.Value{}, false, &core.WdlExpressionError{Identifier: ident, Cause: err}
		}
		arr, err := collection.Array()
		if err != nil {
			return core.Value{}, false, &core.WdlExpressionError{Identifier: ident, Cause: err}
		}
		idx := *rc.CallKey.Index
		if idx < 0 || idx >= len(arr) {
			return core.Value{}, false, &core.WdlExpressionError{
				Identifier: ident,
				Cause:      fmt.Errorf("shard index %d out of range for scatter collection of length %d", idx, len(arr)),
			}
		}
		return arr[idx], true, nil
	}
	return core.Value{}, false, nil
}

// resolveNamespace implements precedence step 2. A bare namespace identifier
// never resolves to a value on its own — "ns.member" access is a dotted
// expression handled entirely at the CEL expression layer, not here — so
// this step always falls through to step 3 regardless of whether ident names
// an import.
func (r *Resolver) resolveNamespace(_ context.Context, _ Context, _ string) (core.Value, bool, error) {
	return core.Value{}, false, nil
}

// resolveCall implements precedence step 3: if the matched call shares a
// Scatter ancestor with the resolving key, return that shard's output;
// otherwise return the collected array.
func (r *Resolver) resolveCall(ctx context.Context, rc Context, ident string) (core.Value, bool, error) {
	targetScope, ok := r.Graph.ResolveCallByName(rc.CallKey.Scope, ident)
	if !ok {
		return core.Value{}, false, nil
	}
	resolvingAncestor, resolvingHasScatter := rc.CallKey.Scope.ScatterAncestor()
	targetAncestor, targetHasScatter := targetScope.ScatterAncestor()
	sameShardDependency := resolvingHasScatter && targetHasScatter &&
		resolvingAncestor.FullyQualifiedName == targetAncestor.FullyQualifiedName

	var key execkey.ExecutionKey
	switch {
	case sameShardDependency:
		key = execkey.CallKey(targetScope, rc.CallKey.Index)
	case targetHasScatter:
		// Crossing out of target's Scatter boundary: the per-shard outputs
		// were never written under a CallKey at all — the Collector (C5)
		// assembled them into the shard-aggregation sink and persisted them
		// there, so that is where the collected form must be read back from.
		key = execkey.CollectorKey(targetScope)
	default:
		key = execkey.CallKey(targetScope, nil)
	}
	outputs, err := r.Lookup.GetOutputs(ctx, rc.WorkflowID, key)
	if err != nil {
		return core.Value{}, false, &core.WdlExpressionError{Identifier: ident, Cause: err}
	}
	if len(outputs) == 0 {
		return core.Value{}, false, &core.WdlExpressionError{
			Identifier: ident,
			Cause:      fmt.Errorf("call %q has no recorded outputs yet", targetScope.FullyQualifiedName),
		}
	}
	return aggregateSymbolValue(outputs), true, nil
}

// resolveDeclaration implements precedence step 4: fetch the declaration's
// fully-qualified symbol value.
func (r *Resolver) resolveDeclaration(ctx context.Context, rc Context, ident string) (core.Value, bool, error) {
	fqn, ok := r.Graph.ResolveDeclarationFQN(rc.CallKey.Scope, ident)
	if !ok {
		return core.Value{}, false, nil
	}
	syms, err := r.Lookup.GetFullyQualifiedName(ctx, rc.WorkflowID, fqn)
	if err != nil {
		return core.Value{}, false, &core.WdlExpressionError{Identifier: ident, Cause: err}
	}
	if len(syms) == 0 {
		return core.Value{}, false, &core.WdlExpressionError{
			Identifier: ident,
			Cause:      fmt.Errorf("declaration %q has no value yet", fqn),
		}
	}
	return aggregateSymbolValue(syms), true, nil
}

// aggregateSymbolValue returns a single symbol's value, or an Array of
// shard values (ordered by index) when multiple symbols share the name —
// the collected form of a scattered call's output.
func aggregateSymbolValue(syms []*Symbol) core.Value {
	if len(syms) == 1 && syms[0].Index == nil {
		if syms[0].Value == nil {
			return core.Value{Type: core.TypeNull}
		}
		return *syms[0].Value
	}
	ordered := make([]*Symbol, len(syms))
	copy(ordered, syms)
	for i := 1; i < len(ordered); i++ {
		for j := i; j > 0 && indexOf(ordered[j]) < indexOf(ordered[j-1]); j-- {
			ordered[j], ordered[j-1] = ordered[j-1], ordered[j]
		}
	}
	values := make([]core.Value, 0, len(ordered))
	for _, s := range ordered {
		if s.Value == nil {
			values = append(values, core.Value{Type: core.TypeNull})
			continue
		}
		values = append(values, *s.Value)
	}
	return core.Value{Type: core.TypeArray, Raw: values}
}

func indexOf(s *Symbol) int {
	if s.Index == nil {
		return -1
	}
	return *s.Index
}

// ResolveExpression evaluates an arbitrary expression (as opposed to a bare
// identifier) in rc's scope: a bare identifier is resolved through the full
// precedence chain in Resolve; anything else is handed to the CEL evaluator
// with rc.Vars as the activation. This is the concrete backing for the
// abstract Expression.evaluate(lookup, functions) contract a scatter
// collection expression or collector output expression is defined against.
func (r *Resolver) ResolveExpression(ctx context.Context, rc Context, expression string) (core.Value, error) {
	if isBareIdentifier(expression) {
		if v, err := r.Resolve(ctx, rc, expression); err == nil {
			return v, nil
		}
	}
	v, err := r.Expr.Evaluate(ctx, expression, rc.Vars)
	if err != nil {
		return core.Value{}, &core.WdlExpressionError{Identifier: expression, Cause: err}
	}
	return v, nil
}

func isBareIdentifier(s string) bool {
	if s == "" {
		return false
	}
	for i, r := range s {
		isAlpha := (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || r == '_'
		isDigit := r >= '0' && r <= '9'
		if i == 0 && !isAlpha {
			return false
		}
		if i > 0 && !isAlpha && !isDigit {
			return false
		}
	}
	return true
}

// ResolveAndCoerce resolves ident, then coerces the result to target,
// returning a WdlExpressionError on coercion failure (fatal for the call).
func (r *Resolver) ResolveAndCoerce(
	ctx context.Context,
	rc Context,
	ident string,
	target core.Type,
) (core.Value, error) {
	v, err := r.Resolve(ctx, rc, ident)
	if err != nil {
		return core.Value{}, err
	}
	coerced, err := v.Coerce(target)
	if err != nil {
		return core.Value{}, &core.WdlExpressionError{Identifier: ident, Cause: err}
	}
	return coerced, nil
}
