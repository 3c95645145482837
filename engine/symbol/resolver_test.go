package symbol

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/powelleric/cromwell/engine/core"
	"github.com/powelleric/cromwell/engine/execkey"
	"github.com/powelleric/cromwell/engine/expr"
)

type fakeLookup struct {
	byFQN map[string][]*Symbol
	byKey map[string][]*Symbol
}

func (l *fakeLookup) GetFullyQualifiedName(_ context.Context, _ core.ID, fqn string) ([]*Symbol, error) {
	return l.byFQN[fqn], nil
}

func (l *fakeLookup) GetOutputs(_ context.Context, _ core.ID, key execkey.ExecutionKey) ([]*Symbol, error) {
	return l.byKey[key.Unique()], nil
}

type fakeGraph struct {
	scatterVar   map[string][2]string // scope FQN -> [itemVar, collectionExpr]
	calls        map[string]*execkey.Scope
	declarations map[string]string
}

func (g *fakeGraph) ScatterItemVar(scope *execkey.Scope) (string, string, bool) {
	pair, ok := g.scatterVar[scope.FullyQualifiedName]
	if !ok {
		return "", "", false
	}
	return pair[0], pair[1], true
}

func (g *fakeGraph) ResolveImport(*execkey.Scope, string) (Namespace, bool) { return nil, false }

func (g *fakeGraph) ResolveCallByName(_ *execkey.Scope, name string) (*execkey.Scope, bool) {
	s, ok := g.calls[name]
	return s, ok
}

func (g *fakeGraph) ResolveDeclarationFQN(_ *execkey.Scope, name string) (string, bool) {
	fqn, ok := g.declarations[name]
	return fqn, ok
}

func newEvaluator(t *testing.T) *expr.Evaluator {
	t.Helper()
	e, err := expr.NewEvaluator()
	require.NoError(t, err)
	return e
}

func TestResolver_Resolve_Precedence(t *testing.T) {
	t.Run("Should prefer a scatter variable over a same-named call or declaration", func(t *testing.T) {
		wf := execkey.NewScope(nil, "wf", false)
		scatter := execkey.NewScope(wf, "s1", true)
		inner := execkey.NewScope(scatter, "inner", false)

		graph := &fakeGraph{
			scatterVar:   map[string][2]string{"wf.s1": {"x", "[10, 20, 30]"}},
			calls:        map[string]*execkey.Scope{"x": inner},
			declarations: map[string]string{"x": "wf.x"},
		}
		lookup := &fakeLookup{}
		r := NewResolver(lookup, graph, newEvaluator(t))

		rc := Context{WorkflowID: "wf-1", CallKey: execkey.CallKey(inner, intPtr(1))}
		v, err := r.Resolve(context.Background(), rc, "x")
		require.NoError(t, err)
		assert.Equal(t, int64(20), v.Raw)
	})

	t.Run("Should fall through to a call when no scatter variable matches", func(t *testing.T) {
		wf := execkey.NewScope(nil, "wf", false)
		callA := execkey.NewScope(wf, "callA", false)
		callB := execkey.NewScope(wf, "callB", false)

		graph := &fakeGraph{calls: map[string]*execkey.Scope{"callA": callA}}
		val := core.NewValue("hello")
		lookup := &fakeLookup{byKey: map[string][]*Symbol{
			execkey.CallKey(callA, nil).Unique(): {{Scope: "wf.callA", Name: "out", Value: &val}},
		}}
		r := NewResolver(lookup, graph, newEvaluator(t))

		rc := Context{WorkflowID: "wf-1", CallKey: execkey.CallKey(callB, nil)}
		v, err := r.Resolve(context.Background(), rc, "callA")
		require.NoError(t, err)
		assert.Equal(t, "hello", v.Raw)
	})

	t.Run("Should fall through to a declaration when nothing else matches", func(t *testing.T) {
		wf := execkey.NewScope(nil, "wf", false)
		callA := execkey.NewScope(wf, "callA", false)

		graph := &fakeGraph{declarations: map[string]string{"greeting": "wf.greeting"}}
		val := core.NewValue("hi")
		lookup := &fakeLookup{byFQN: map[string][]*Symbol{
			"wf.greeting": {{Scope: "wf", Name: "greeting", Value: &val}},
		}}
		r := NewResolver(lookup, graph, newEvaluator(t))

		rc := Context{WorkflowID: "wf-1", CallKey: execkey.CallKey(callA, nil)}
		v, err := r.Resolve(context.Background(), rc, "greeting")
		require.NoError(t, err)
		assert.Equal(t, "hi", v.Raw)
	})

	t.Run("Should fail with WdlExpressionError when nothing resolves the identifier", func(t *testing.T) {
		wf := execkey.NewScope(nil, "wf", false)
		callA := execkey.NewScope(wf, "callA", false)
		r := NewResolver(&fakeLookup{}, &fakeGraph{}, newEvaluator(t))

		rc := Context{WorkflowID: "wf-1", CallKey: execkey.CallKey(callA, nil)}
		_, err := r.Resolve(context.Background(), rc, "unknown")

		var wdl *core.WdlExpressionError
		require.ErrorAs(t, err, &wdl)
		assert.Equal(t, "unknown", wdl.Identifier)
	})
}

func TestResolver_resolveCall_ShardAlignment(t *testing.T) {
	t.Run("Should read the same-shard output when both calls share a scatter ancestor", func(t *testing.T) {
		wf := execkey.NewScope(nil, "wf", false)
		scatter := execkey.NewScope(wf, "s1", true)
		producer := execkey.NewScope(scatter, "producer", false)
		consumer := execkey.NewScope(scatter, "consumer", false)

		graph := &fakeGraph{calls: map[string]*execkey.Scope{"producer": producer}}
		v0 := core.NewValue("shard-0")
		v1 := core.NewValue("shard-1")
		lookup := &fakeLookup{byKey: map[string][]*Symbol{
			execkey.CallKey(producer, intPtr(0)).Unique(): {{Value: &v0}},
			execkey.CallKey(producer, intPtr(1)).Unique(): {{Value: &v1}},
		}}
		r := NewResolver(lookup, graph, newEvaluator(t))

		rc := Context{WorkflowID: "wf-1", CallKey: execkey.CallKey(consumer, intPtr(1))}
		v, err := r.Resolve(context.Background(), rc, "producer")
		require.NoError(t, err)
		assert.Equal(t, "shard-1", v.Raw)
	})
}

func TestResolver_resolveCall_CollectedForm(t *testing.T) {
	t.Run("Should read the collector's aggregated output when crossing a scatter boundary", func(t *testing.T) {
		wf := execkey.NewScope(nil, "wf", false)
		scatter := execkey.NewScope(wf, "s1", true)
		producer := execkey.NewScope(scatter, "producer", false)
		consumer := execkey.NewScope(wf, "consumer", false)

		graph := &fakeGraph{calls: map[string]*execkey.Scope{"producer": producer}}
		arr := core.Value{Type: core.TypeArray, Raw: []core.Value{core.NewValue("shard-0"), core.NewValue("shard-1")}}
		lookup := &fakeLookup{byKey: map[string][]*Symbol{
			execkey.CollectorKey(producer).Unique(): {{Value: &arr}},
		}}
		r := NewResolver(lookup, graph, newEvaluator(t))

		rc := Context{WorkflowID: "wf-1", CallKey: execkey.CallKey(consumer, nil)}
		v, err := r.Resolve(context.Background(), rc, "producer")
		require.NoError(t, err)
		got, err := v.Array()
		require.NoError(t, err)
		require.Len(t, got, 2)
		assert.Equal(t, "shard-0", got[0].Raw)
		assert.Equal(t, "shard-1", got[1].Raw)
	})
}

func TestResolver_ResolveExpression(t *testing.T) {
	t.Run("Should hand a non-identifier expression to the CEL evaluator", func(t *testing.T) {
		r := NewResolver(&fakeLookup{}, &fakeGraph{}, newEvaluator(t))
		wf := execkey.NewScope(nil, "wf", false)
		callA := execkey.NewScope(wf, "callA", false)
		rc := Context{WorkflowID: "wf-1", CallKey: execkey.CallKey(callA, nil), Vars: map[string]any{"n": int64(4)}}

		v, err := r.ResolveExpression(context.Background(), rc, "n * 2")
		require.NoError(t, err)
		assert.Equal(t, int64(8), v.Raw)
	})
}

func intPtr(i int) *int { return &i }
