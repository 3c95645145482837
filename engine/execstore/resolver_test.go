package execstore

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/powelleric/cromwell/engine/execkey"
)

type fakeGraph struct {
	prereqs map[string][]*execkey.Scope
}

func (g *fakeGraph) PrerequisiteScopes(scope *execkey.Scope) []*execkey.Scope {
	return g.prereqs[scope.FullyQualifiedName]
}

func TestResolver_Runnable(t *testing.T) {
	t.Run("Should be runnable with no prerequisites", func(t *testing.T) {
		wf := execkey.NewScope(nil, "wf", false)
		callA := execkey.NewScope(wf, "callA", false)
		store := NewStore()
		store.Insert(execkey.CallKey(callA, nil), NotStarted)

		r := NewResolver(&fakeGraph{})
		assert.True(t, r.Runnable(store, execkey.CallKey(callA, nil)))
	})

	t.Run("Should not be runnable when its prerequisite is not Done", func(t *testing.T) {
		wf := execkey.NewScope(nil, "wf", false)
		callA := execkey.NewScope(wf, "callA", false)
		callB := execkey.NewScope(wf, "callB", false)
		store := NewStore()
		store.Insert(execkey.CallKey(callA, nil), Running)
		store.Insert(execkey.CallKey(callB, nil), NotStarted)

		r := NewResolver(&fakeGraph{prereqs: map[string][]*execkey.Scope{"wf.callB": {callA}}})
		assert.False(t, r.Runnable(store, execkey.CallKey(callB, nil)))
	})

	t.Run("Should become runnable once its prerequisite is Done", func(t *testing.T) {
		wf := execkey.NewScope(nil, "wf", false)
		callA := execkey.NewScope(wf, "callA", false)
		callB := execkey.NewScope(wf, "callB", false)
		store := NewStore()
		store.Insert(execkey.CallKey(callA, nil), Done)
		store.Insert(execkey.CallKey(callB, nil), NotStarted)

		r := NewResolver(&fakeGraph{prereqs: map[string][]*execkey.Scope{"wf.callB": {callA}}})
		assert.True(t, r.Runnable(store, execkey.CallKey(callB, nil)))
	})

	t.Run("Should not be runnable twice: already Starting is excluded", func(t *testing.T) {
		wf := execkey.NewScope(nil, "wf", false)
		callA := execkey.NewScope(wf, "callA", false)
		store := NewStore()
		store.Insert(execkey.CallKey(callA, nil), Starting)

		r := NewResolver(&fakeGraph{})
		assert.False(t, r.Runnable(store, execkey.CallKey(callA, nil)))
	})

	t.Run("Should depend on the same shard across a scatter boundary", func(t *testing.T) {
		wf := execkey.NewScope(nil, "wf", false)
		scatter := execkey.NewScope(wf, "s1", true)
		producer := execkey.NewScope(scatter, "producer", false)
		consumer := execkey.NewScope(scatter, "consumer", false)
		store := NewStore()
		store.Insert(execkey.CallKey(producer, intPtr(0)), Done)
		store.Insert(execkey.CallKey(producer, intPtr(1)), Running)
		store.Insert(execkey.CallKey(consumer, intPtr(0)), NotStarted)
		store.Insert(execkey.CallKey(consumer, intPtr(1)), NotStarted)

		r := NewResolver(&fakeGraph{prereqs: map[string][]*execkey.Scope{
			"wf.s1.consumer": {producer},
		}})

		assert.True(t, r.Runnable(store, execkey.CallKey(consumer, intPtr(0))))
		assert.False(t, r.Runnable(store, execkey.CallKey(consumer, intPtr(1))))
	})

	t.Run("Should depend on the aggregated form when crossing outside a scatter", func(t *testing.T) {
		wf := execkey.NewScope(nil, "wf", false)
		scatter := execkey.NewScope(wf, "s1", true)
		inner := execkey.NewScope(scatter, "inner", false)
		after := execkey.NewScope(wf, "after", false)
		store := NewStore()
		store.Insert(execkey.CallKey(inner, intPtr(0)), Done)
		store.Insert(execkey.CallKey(inner, intPtr(1)), Done)
		store.Insert(execkey.CallKey(after, nil), NotStarted)

		r := NewResolver(&fakeGraph{prereqs: map[string][]*execkey.Scope{"wf.after": {inner}}})
		// Shards aren't yet aggregated into the unindexed (collector) form.
		assert.False(t, r.Runnable(store, execkey.CallKey(after, nil)))

		store.Insert(execkey.CollectorKey(inner), Done)
		assert.True(t, r.Runnable(store, execkey.CallKey(after, nil)))
	})

	t.Run("CollectorKey should require every shard Done", func(t *testing.T) {
		wf := execkey.NewScope(nil, "wf", false)
		scatter := execkey.NewScope(wf, "s1", true)
		inner := execkey.NewScope(scatter, "inner", false)
		store := NewStore()
		store.Insert(execkey.CallKey(inner, intPtr(0)), Done)
		store.Insert(execkey.CallKey(inner, intPtr(1)), Running)
		store.Insert(execkey.CollectorKey(inner), NotStarted)

		r := NewResolver(&fakeGraph{})
		assert.False(t, r.Runnable(store, execkey.CollectorKey(inner)))

		store.Set(execkey.CallKey(inner, intPtr(1)), Done)
		assert.True(t, r.Runnable(store, execkey.CollectorKey(inner)))
	})
}

func TestResolver_ScanRunnable(t *testing.T) {
	t.Run("Should return every currently-runnable key in one pass", func(t *testing.T) {
		wf := execkey.NewScope(nil, "wf", false)
		callA := execkey.NewScope(wf, "callA", false)
		callB := execkey.NewScope(wf, "callB", false)
		callC := execkey.NewScope(wf, "callC", false)
		store := NewStore()
		store.Insert(execkey.CallKey(callA, nil), Done)
		store.Insert(execkey.CallKey(callB, nil), NotStarted)
		store.Insert(execkey.CallKey(callC, nil), NotStarted)

		r := NewResolver(&fakeGraph{prereqs: map[string][]*execkey.Scope{
			"wf.callB": {callA},
		}})

		runnable := r.ScanRunnable(store)
		require.Len(t, runnable, 2)
	})
}

func intPtr(i int) *int { return &i }
