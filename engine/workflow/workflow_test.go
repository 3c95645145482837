package workflow

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/powelleric/cromwell/engine/backend"
	"github.com/powelleric/cromwell/engine/backend/inmemory"
	"github.com/powelleric/cromwell/engine/blacklist"
	"github.com/powelleric/cromwell/engine/cachecopy"
	"github.com/powelleric/cromwell/engine/core"
	"github.com/powelleric/cromwell/engine/dataaccess/memstore"
	"github.com/powelleric/cromwell/engine/execkey"
	"github.com/powelleric/cromwell/engine/execstore"
	"github.com/powelleric/cromwell/engine/ioclient"
	"github.com/powelleric/cromwell/engine/symbol"
	"github.com/powelleric/cromwell/engine/wfdesc"
)

// fakeDepGraph is the minimal execstore.Graph a sequential-call test needs:
// a static map of scope FQN to its prerequisite scopes.
type fakeDepGraph struct {
	prereqs map[string][]*execkey.Scope
}

func (g *fakeDepGraph) PrerequisiteScopes(scope *execkey.Scope) []*execkey.Scope {
	return g.prereqs[scope.FullyQualifiedName]
}

func waitForState(t *testing.T, wf *Workflow, want string, timeout time.Duration) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if wf.State() == want {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for state %q, last seen %q", want, wf.State())
}

func newDescriptor(t *testing.T) (*wfdesc.WorkflowDescriptor, core.ID) {
	t.Helper()
	id, err := core.NewID()
	require.NoError(t, err)
	return &wfdesc.WorkflowDescriptor{ID: id, Options: wfdesc.Options{"secret": "shh"}}, id
}

func inputSymbol(scope, name string, v core.Value) *symbol.Symbol {
	return &symbol.Symbol{Scope: scope, Name: name, IsInput: true, Type: v.Type, Value: &v}
}

func TestWorkflowHappyPath(t *testing.T) {
	t.Run("Should run two sequential calls to Succeeded", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()

		descriptor, id := newDescriptor(t)
		scopeA := execkey.NewScope(nil, "wf.a", false)
		scopeB := execkey.NewScope(nil, "wf.b", false)
		keyA := execkey.CallKey(scopeA, nil)
		keyB := execkey.CallKey(scopeB, nil)

		data := memstore.New()
		back := inmemory.New()
		resolver := symbol.NewResolver(nil, nil, nil)
		graph := &fakeDepGraph{prereqs: map[string][]*execkey.Scope{"wf.b": {scopeA}}}

		wf := New(ctx, Config{
			ID:          id,
			Descriptor:  descriptor,
			BackendName: "local",
			Data:        data,
			Backend:     back,
			Resolver:    resolver,
			DepGraph:    graph,
		})

		symbols := []*symbol.Symbol{inputSymbol("wf.a", "in", core.NewValue("hi"))}
		require.NoError(t, wf.Start(ctx, []execkey.ExecutionKey{keyA, keyB}, symbols))

		waitForState(t, wf, StateSucceeded, 2*time.Second)

		statuses, err := data.GetExecutionStatuses(ctx, id)
		require.NoError(t, err)
		require.Equal(t, "Done", string(statuses[keyA.Unique()].Status.Status))
		require.Equal(t, "Done", string(statuses[keyB.Unique()].Status.Status))

		require.True(t, back.CleanedUp(id))
		require.Nil(t, descriptor.Options)
	})
}

func TestWorkflowCallFailureFailsWorkflow(t *testing.T) {
	t.Run("Should move to Failed when a call fails and report the cause", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()

		descriptor, id := newDescriptor(t)
		scopeA := execkey.NewScope(nil, "wf.a", false)
		keyA := execkey.CallKey(scopeA, nil)

		data := memstore.New()
		back := inmemory.New()
		back.Script(keyA, inmemory.Outcome{Err: errBoom})
		resolver := symbol.NewResolver(nil, nil, nil)
		graph := &fakeDepGraph{}

		wf := New(ctx, Config{
			ID:          id,
			Descriptor:  descriptor,
			BackendName: "local",
			Data:        data,
			Backend:     back,
			Resolver:    resolver,
			DepGraph:    graph,
		})

		require.NoError(t, wf.Start(ctx, []execkey.ExecutionKey{keyA}, nil))
		waitForState(t, wf, StateFailed, 5*time.Second)

		msg, err := wf.FailureMessage(ctx)
		require.NoError(t, err)
		require.Contains(t, msg, "boom")
	})
}

func TestWorkflowAbort(t *testing.T) {
	t.Run("Should move Running call to Aborted on Abort", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()

		descriptor, id := newDescriptor(t)
		scopeA := execkey.NewScope(nil, "wf.a", false)
		keyA := execkey.CallKey(scopeA, nil)

		data := memstore.New()
		back := &blockingBackend{started: make(chan struct{}, 1)}
		resolver := symbol.NewResolver(nil, nil, nil)
		graph := &fakeDepGraph{}

		wf := New(ctx, Config{
			ID:          id,
			Descriptor:  descriptor,
			BackendName: "local",
			Data:        data,
			Backend:     back,
			Resolver:    resolver,
			DepGraph:    graph,
		})

		require.NoError(t, wf.Start(ctx, []execkey.ExecutionKey{keyA}, nil))

		select {
		case <-back.started:
		case <-time.After(2 * time.Second):
			t.Fatal("backend never observed call start")
		}

		require.NoError(t, wf.Abort(ctx))
		waitForState(t, wf, StateAborted, 2*time.Second)

		statuses, err := data.GetExecutionStatuses(ctx, id)
		require.NoError(t, err)
		require.Equal(t, "Aborted", string(statuses[keyA.Unique()].Status.Status))
	})
}

// stateRecordingData wraps a memstore.Store and records every state name
// passed to UpdateWorkflowState, in call order, so tests can assert that
// Running and Aborting are persisted exactly like the terminal states.
type stateRecordingData struct {
	*memstore.Store
	mu     sync.Mutex
	states []string
}

func newStateRecordingData() *stateRecordingData {
	return &stateRecordingData{Store: memstore.New()}
}

func (d *stateRecordingData) UpdateWorkflowState(ctx context.Context, workflowID core.ID, state string) error {
	d.mu.Lock()
	d.states = append(d.states, state)
	d.mu.Unlock()
	return d.Store.UpdateWorkflowState(ctx, workflowID, state)
}

func (d *stateRecordingData) recorded() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([]string, len(d.states))
	copy(out, d.states)
	return out
}

func TestWorkflowPersistsNonTerminalStates(t *testing.T) {
	t.Run("Should persist Running before reaching Succeeded", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()

		descriptor, id := newDescriptor(t)
		scopeA := execkey.NewScope(nil, "wf.a", false)
		keyA := execkey.CallKey(scopeA, nil)

		data := newStateRecordingData()
		back := inmemory.New()
		resolver := symbol.NewResolver(nil, nil, nil)
		graph := &fakeDepGraph{}

		wf := New(ctx, Config{
			ID:          id,
			Descriptor:  descriptor,
			BackendName: "local",
			Data:        data,
			Backend:     back,
			Resolver:    resolver,
			DepGraph:    graph,
		})

		require.NoError(t, wf.Start(ctx, []execkey.ExecutionKey{keyA}, nil))
		waitForState(t, wf, StateSucceeded, 2*time.Second)

		require.Equal(t, []string{StateRunning, StateSucceeded}, data.recorded())
	})

	t.Run("Should persist Aborting before reaching Aborted", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()

		descriptor, id := newDescriptor(t)
		scopeA := execkey.NewScope(nil, "wf.a", false)
		keyA := execkey.CallKey(scopeA, nil)

		data := newStateRecordingData()
		back := &blockingBackend{started: make(chan struct{}, 1)}
		resolver := symbol.NewResolver(nil, nil, nil)
		graph := &fakeDepGraph{}

		wf := New(ctx, Config{
			ID:          id,
			Descriptor:  descriptor,
			BackendName: "local",
			Data:        data,
			Backend:     back,
			Resolver:    resolver,
			DepGraph:    graph,
		})

		require.NoError(t, wf.Start(ctx, []execkey.ExecutionKey{keyA}, nil))

		select {
		case <-back.started:
		case <-time.After(2 * time.Second):
			t.Fatal("backend never observed call start")
		}

		require.NoError(t, wf.Abort(ctx))
		waitForState(t, wf, StateAborted, 2*time.Second)

		require.Equal(t, []string{StateRunning, StateAborting, StateAborted}, data.recorded())
	})
}

func TestWorkflowCacheHitFallback(t *testing.T) {
	t.Run("Should fall back to normal execution when the only cache candidate's copy fails", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()

		descriptor, id := newDescriptor(t)
		scopeA := execkey.NewScope(nil, "wf.a", false)
		keyA := execkey.CallKey(scopeA, nil)

		data := memstore.New()
		back := inmemory.New()
		resolver := symbol.NewResolver(nil, nil, nil)
		graph := &fakeDepGraph{}
		bl := blacklist.New(blacklist.DefaultConfig(), nil)
		io := newWorkflowFakeIO()
		cacheIdx := &staticCacheIndex{
			candidates: []CacheCandidate{{
				Hit: cachecopy.CacheHit{
					ID:       "hit-1",
					Detritus: map[string]string{cachecopy.CallRootPathKey: "gs://bucket/src"},
				},
				Simpletons:       []cachecopy.Simpleton{{Name: "out1", Path: "gs://bucket/src/out1.txt"}},
				JobDetritusFiles: map[string]string{cachecopy.CallRootPathKey: "gs://bucket/dst"},
			}},
		}

		wf := New(ctx, Config{
			ID:          id,
			Descriptor:  descriptor,
			BackendName: "local",
			Data:        data,
			Backend:     back,
			Resolver:    resolver,
			Blacklist:   bl,
			IO:          io,
			CacheIndex:  cacheIdx,
			DepGraph:    graph,
		})

		require.NoError(t, wf.Start(ctx, []execkey.ExecutionKey{keyA}, nil))

		var cmd ioclient.IoCommand
		require.Eventually(t, func() bool {
			sent := io.sentCommands()
			if len(sent) == 0 {
				return false
			}
			cmd = sent[0]
			return true
		}, 2*time.Second, 5*time.Millisecond)

		io.resp <- ioclient.IoResponse{Command: cmd, Success: false, FailKind: ioclient.IoFailGeneric}

		waitForState(t, wf, StateSucceeded, 2*time.Second)

		statuses, err := data.GetExecutionStatuses(ctx, id)
		require.NoError(t, err)
		require.Equal(t, "Done", string(statuses[keyA.Unique()].Status.Status))
	})
}

func TestWorkflowRestartRollsBackStartingCall(t *testing.T) {
	t.Run("Should roll a Starting call back to NotStarted and re-run it", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()

		descriptor, id := newDescriptor(t)
		scopeA := execkey.NewScope(nil, "wf.a", false)
		keyA := execkey.CallKey(scopeA, nil)

		data := memstore.New()
		require.NoError(t, data.CreateWorkflow(ctx, descriptor, nil, []execkey.ExecutionKey{keyA}, "local"))
		require.NoError(t, data.SetStatus(ctx, id, []execkey.ExecutionKey{keyA}, statusStarting()))

		back := inmemory.New()
		resolver := symbol.NewResolver(nil, nil, nil)
		graph := &fakeDepGraph{}

		wf := New(ctx, Config{
			ID:          id,
			Descriptor:  descriptor,
			BackendName: "local",
			Data:        data,
			Backend:     back,
			Resolver:    resolver,
			DepGraph:    graph,
		})

		require.NoError(t, wf.Restart(ctx))
		waitForState(t, wf, StateSucceeded, 2*time.Second)

		statuses, err := data.GetExecutionStatuses(ctx, id)
		require.NoError(t, err)
		require.Equal(t, "Done", string(statuses[keyA.Unique()].Status.Status))
	})
}

func TestWorkflowRestartResumesRunningCall(t *testing.T) {
	t.Run("Should resume a Running call with a resumable job key", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()

		descriptor, id := newDescriptor(t)
		scopeA := execkey.NewScope(nil, "wf.a", false)
		keyA := execkey.CallKey(scopeA, nil)

		data := memstore.New()
		require.NoError(t, data.CreateWorkflow(ctx, descriptor, nil, []execkey.ExecutionKey{keyA}, "local"))
		require.NoError(t, data.SetStatus(ctx, id, []execkey.ExecutionKey{keyA}, statusRunning()))

		back := inmemory.New()
		back.MarkResumable(keyA, "job-1")
		resolver := symbol.NewResolver(nil, nil, nil)
		graph := &fakeDepGraph{}

		wf := New(ctx, Config{
			ID:          id,
			Descriptor:  descriptor,
			BackendName: "local",
			Data:        data,
			Backend:     back,
			Resolver:    resolver,
			DepGraph:    graph,
		})

		require.NoError(t, wf.Restart(ctx))
		waitForState(t, wf, StateSucceeded, 2*time.Second)
	})
}

type blockingBackend struct {
	started chan struct{}
}

func (b *blockingBackend) InitializeForWorkflow(
	context.Context, *wfdesc.WorkflowDescriptor,
) (backend.HostInputs, error) {
	return nil, nil
}

func (b *blockingBackend) PrepareForRestart(context.Context, *wfdesc.WorkflowDescriptor) error { return nil }

func (b *blockingBackend) FindResumableExecutions(
	context.Context, core.ID,
) (map[string]backend.JobKey, error) {
	return nil, nil
}

func (b *blockingBackend) Execute(
	ctx context.Context, _ execkey.ExecutionKey, _ []*symbol.Symbol, _ *wfdesc.WorkflowDescriptor,
) (backend.CallOutcome, error) {
	select {
	case b.started <- struct{}{}:
	default:
	}
	<-ctx.Done()
	return backend.CallOutcome{}, ctx.Err()
}

func (b *blockingBackend) Resume(
	ctx context.Context, key execkey.ExecutionKey, inputs []*symbol.Symbol, _ backend.JobKey, d *wfdesc.WorkflowDescriptor,
) (backend.CallOutcome, error) {
	return b.Execute(ctx, key, inputs, d)
}

func (b *blockingBackend) CleanUpForWorkflow(context.Context, *wfdesc.WorkflowDescriptor) error { return nil }

type staticCacheIndex struct {
	candidates []CacheCandidate
}

func (s *staticCacheIndex) Lookup(
	context.Context, core.ID, execkey.ExecutionKey,
) ([]CacheCandidate, error) {
	return s.candidates, nil
}

type workflowFakeIO struct {
	mu   sync.Mutex
	sent []ioclient.IoCommand
	resp chan ioclient.IoResponse
}

func newWorkflowFakeIO() *workflowFakeIO {
	return &workflowFakeIO{resp: make(chan ioclient.IoResponse, 16)}
}

func (f *workflowFakeIO) Send(_ context.Context, cmd ioclient.IoCommand) error {
	f.mu.Lock()
	f.sent = append(f.sent, cmd)
	f.mu.Unlock()
	return nil
}

func (f *workflowFakeIO) Responses() <-chan ioclient.IoResponse { return f.resp }

func (f *workflowFakeIO) sentCommands() []ioclient.IoCommand {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]ioclient.IoCommand, len(f.sent))
	copy(out, f.sent)
	return out
}

var errBoom = boomError{}

type boomError struct{}

func (boomError) Error() string { return "boom" }

func statusStarting() execstore.CallStatus { return execstore.CallStatus{Status: execstore.Starting} }

func statusRunning() execstore.CallStatus { return execstore.CallStatus{Status: execstore.Running} }
