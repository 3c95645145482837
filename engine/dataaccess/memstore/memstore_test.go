package memstore

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/powelleric/cromwell/engine/core"
	"github.com/powelleric/cromwell/engine/execkey"
	"github.com/powelleric/cromwell/engine/execstore"
	"github.com/powelleric/cromwell/engine/symbol"
	"github.com/powelleric/cromwell/engine/wfdesc"
)

func TestStore_CreateAndGetExecutionStatuses(t *testing.T) {
	t.Run("Should seed every call at NotStarted", func(t *testing.T) {
		ctx := context.Background()
		s := New()
		wf := execkey.NewScope(nil, "wf", false)
		callA := execkey.CallKey(execkey.NewScope(wf, "callA", false), nil)

		desc := &wfdesc.WorkflowDescriptor{ID: core.ID("wf-1")}
		require.NoError(t, s.CreateWorkflow(ctx, desc, nil, []execkey.ExecutionKey{callA}, "local"))

		statuses, err := s.GetExecutionStatuses(ctx, "wf-1")
		require.NoError(t, err)
		require.Contains(t, statuses, callA.Unique())
		assert.Equal(t, execstore.NotStarted, statuses[callA.Unique()].Status.Status)
	})

	t.Run("Should error for an unknown workflow", func(t *testing.T) {
		_, err := New().GetExecutionStatuses(context.Background(), "missing")
		assert.Error(t, err)
	})
}

func TestStore_SetStatus(t *testing.T) {
	t.Run("Should overwrite the stored status for each key", func(t *testing.T) {
		ctx := context.Background()
		s := New()
		wf := execkey.NewScope(nil, "wf", false)
		callA := execkey.CallKey(execkey.NewScope(wf, "callA", false), nil)
		desc := &wfdesc.WorkflowDescriptor{ID: core.ID("wf-1")}
		require.NoError(t, s.CreateWorkflow(ctx, desc, nil, []execkey.ExecutionKey{callA}, "local"))

		rc := 0
		require.NoError(t, s.SetStatus(ctx, "wf-1", []execkey.ExecutionKey{callA},
			execstore.CallStatus{Status: execstore.Done, ReturnCode: &rc}))

		statuses, err := s.GetExecutionStatuses(ctx, "wf-1")
		require.NoError(t, err)
		assert.Equal(t, execstore.Done, statuses[callA.Unique()].Status.Status)
	})
}

func TestStore_SetAndGetOutputs(t *testing.T) {
	t.Run("Should round-trip outputs for a key and index them by FQN", func(t *testing.T) {
		ctx := context.Background()
		s := New()
		wf := execkey.NewScope(nil, "wf", false)
		callA := execkey.CallKey(execkey.NewScope(wf, "callA", false), nil)
		desc := &wfdesc.WorkflowDescriptor{ID: core.ID("wf-1")}
		require.NoError(t, s.CreateWorkflow(ctx, desc, nil, []execkey.ExecutionKey{callA}, "local"))

		v := core.NewValue("hi")
		out := &symbol.Symbol{Scope: "wf.callA", Name: "greeting", Type: core.TypeString, Value: &v}
		require.NoError(t, s.SetOutputs(ctx, "wf-1", callA, []*symbol.Symbol{out}))

		got, err := s.GetOutputs(ctx, "wf-1", callA)
		require.NoError(t, err)
		require.Len(t, got, 1)
		assert.Equal(t, "greeting", got[0].Name)

		byFQN, err := s.GetFullyQualifiedName(ctx, "wf-1", "wf.callA.greeting")
		require.NoError(t, err)
		require.Len(t, byFQN, 1)
	})
}

func TestStore_GetInputs(t *testing.T) {
	t.Run("Should return only the declared inputs scoped to the requested call", func(t *testing.T) {
		ctx := context.Background()
		s := New()
		wf := execkey.NewScope(nil, "wf", false)
		scopeA := execkey.NewScope(wf, "callA", false)
		scopeB := execkey.NewScope(wf, "callB", false)
		callA := execkey.CallKey(scopeA, nil)
		callB := execkey.CallKey(scopeB, nil)

		inA := &symbol.Symbol{Scope: "wf.callA", Name: "x", IsInput: true, Type: core.TypeInt}
		inB := &symbol.Symbol{Scope: "wf.callB", Name: "y", IsInput: true, Type: core.TypeInt}
		desc := &wfdesc.WorkflowDescriptor{ID: core.ID("wf-1")}
		require.NoError(t, s.CreateWorkflow(ctx, desc, []*symbol.Symbol{inA, inB},
			[]execkey.ExecutionKey{callA, callB}, "local"))

		got, err := s.GetInputs(ctx, "wf-1", callA)
		require.NoError(t, err)
		require.Len(t, got, 1)
		assert.Equal(t, "x", got[0].Name)
	})
}

func TestStore_InsertCalls(t *testing.T) {
	t.Run("Should add new NotStarted entries for scatter shard expansion", func(t *testing.T) {
		ctx := context.Background()
		s := New()
		desc := &wfdesc.WorkflowDescriptor{ID: core.ID("wf-1")}
		require.NoError(t, s.CreateWorkflow(ctx, desc, nil, nil, "local"))

		wf := execkey.NewScope(nil, "wf", false)
		scatter := execkey.NewScope(wf, "s1", true)
		inner := execkey.NewScope(scatter, "inner", false)
		shard := execkey.CallKey(inner, intPtr(0))
		require.NoError(t, s.InsertCalls(ctx, "wf-1", []execkey.ExecutionKey{shard}, "local"))

		statuses, err := s.GetExecutionStatuses(ctx, "wf-1")
		require.NoError(t, err)
		assert.Contains(t, statuses, shard.Unique())
	})
}

func intPtr(i int) *int { return &i }
