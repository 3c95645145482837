// Package workflow implements the Workflow FSM (C6, §4.6): the long-lived
// actor that owns one workflow instance's Execution Store, drives the
// Dependency Resolver's scan-and-dispatch loop, and composes every other
// component (Scatter Expander, Collector, Call Runner, Cache-Hit Copy FSM)
// behind a single mailbox.
//
// The macro-states are modeled with the same looplab/fsm enter-callback and
// before/after-event observer idiom the cachecopy and the teacher's
// orchestrator executor use; the moment-to-moment bookkeeping a long-lived
// async actor needs (store mutations, dispatch, retry/fallback) is plain Go
// driven off the incoming message's type, with the FSM reserved for the
// handful of events that actually change the workflow's macro-state.
package workflow

import (
	"context"
	"fmt"

	"github.com/looplab/fsm"

	"github.com/powelleric/cromwell/engine/backend"
	"github.com/powelleric/cromwell/engine/blacklist"
	"github.com/powelleric/cromwell/engine/cachecopy"
	"github.com/powelleric/cromwell/engine/callrunner"
	"github.com/powelleric/cromwell/engine/collector"
	"github.com/powelleric/cromwell/engine/core"
	"github.com/powelleric/cromwell/engine/dataaccess"
	"github.com/powelleric/cromwell/engine/execkey"
	"github.com/powelleric/cromwell/engine/execstore"
	"github.com/powelleric/cromwell/engine/ioclient"
	"github.com/powelleric/cromwell/engine/metrics"
	"github.com/powelleric/cromwell/engine/scatter"
	"github.com/powelleric/cromwell/engine/symbol"
	"github.com/powelleric/cromwell/engine/telemetry"
	"github.com/powelleric/cromwell/engine/wfdesc"
	"github.com/powelleric/cromwell/engine/wfmsg"
	"github.com/powelleric/cromwell/pkg/actor"
	"github.com/powelleric/cromwell/pkg/logger"
)

const (
	StateSubmitted = "Submitted"
	StateRunning   = "Running"
	StateSucceeded = "Succeeded"
	StateFailed    = "Failed"
	StateAborting  = "Aborting"
	StateAborted   = "Aborted"
)

const (
	eventStoreReady = "store_ready"
	eventAllDone    = "all_done"
	eventCallFailed = "call_failed"
	eventAbort      = "abort"
	eventAllAborted = "all_aborted"
)

// CacheCandidate is one reusable prior outcome a runnable CallKey could copy
// from instead of re-executing, in the form the Cache-Hit Copy FSM needs.
type CacheCandidate struct {
	Hit              cachecopy.CacheHit
	Simpletons       []cachecopy.Simpleton
	JobDetritusFiles map[string]string
}

// CacheIndex is the external collaborator (per §1's Out-of-scope list) that
// names, for a runnable call, every prior outcome available for reuse,
// most-preferred first. A nil CacheIndex disables cache-hit copy entirely.
type CacheIndex interface {
	Lookup(ctx context.Context, workflowID core.ID, key execkey.ExecutionKey) ([]CacheCandidate, error)
}

// Config wires the collaborators one Workflow instance needs. ID, Descriptor,
// BackendName, Data, Backend, Resolver and DepGraph are always required;
// fields documented below as optional may be nil; the remaining collaborators
// are used only once the workflow reaches cache-hit copy, scatter or
// collection. MailboxCapacity defaults to 64 when not positive.
type Config struct {
	ID          core.ID
	Descriptor  *wfdesc.WorkflowDescriptor
	BackendName string

	Data       dataaccess.DataAccess
	Backend    backend.Backend
	Resolver   *symbol.Resolver
	Blacklist  *blacklist.Cache
	IO         ioclient.Client
	CacheIndex CacheIndex
	Duplicator cachecopy.Duplicator
	// AdditionalSets contributes further ordered copy command sets (§4.8
	// step 6) beyond the head copy+detritus set. Nil means none.
	AdditionalSets cachecopy.AdditionalSets
	// Telemetry publishes JobSucceededResponse/CopyingOutputsFailedResponse/
	// JobAbortedResponse (§6) for call outcomes and cache-hit copy attempts.
	// A nil Telemetry is equivalent to telemetry.Noop.
	Telemetry telemetry.Publisher
	// Metrics counts cache-hit copy outcomes. A nil Metrics disables counting.
	Metrics *metrics.Metrics

	DepGraph       execstore.Graph
	ScatterGraph   scatter.Graph
	CollectorGraph collector.Graph

	MailboxCapacity int
}

// Workflow is one running instance of the Workflow FSM. Every field below
// the mailbox is touched only from the actor's own goroutine, inside
// handle — the same exclusive-ownership discipline execstore.Store already
// documents.
type Workflow struct {
	id          core.ID
	descriptor  *wfdesc.WorkflowDescriptor
	backendName string

	data           dataaccess.DataAccess
	backendImp     backend.Backend
	resolver       *symbol.Resolver
	blacklist      *blacklist.Cache
	io             ioclient.Client
	cacheIndex     CacheIndex
	duplicator     cachecopy.Duplicator
	additionalSets cachecopy.AdditionalSets
	telemetry      telemetry.Publisher
	metrics        *metrics.Metrics

	store       *execstore.Store
	depResolver *execstore.Resolver
	scatterExp  *scatter.Expander
	collect     *collector.Collector

	machine *fsm.FSM
	mailbox *actor.Worker[wfmsg.Event]

	cacheCandidates map[string][]CacheCandidate
	cacheAttempt    map[string]int
	activeCopy      map[string]*cachecopy.Copier
	cancels         map[string]context.CancelFunc

	failure error
}

// New builds a Workflow and starts its mailbox goroutine. The workflow does
// nothing further until Start or Restart is called.
func New(ctx context.Context, cfg Config) *Workflow {
	store := execstore.NewStore()
	w := &Workflow{
		id:              cfg.ID,
		descriptor:      cfg.Descriptor,
		backendName:     cfg.BackendName,
		data:            cfg.Data,
		backendImp:      cfg.Backend,
		resolver:        cfg.Resolver,
		blacklist:       cfg.Blacklist,
		io:              cfg.IO,
		cacheIndex:      cfg.CacheIndex,
		duplicator:      cfg.Duplicator,
		additionalSets:  cfg.AdditionalSets,
		telemetry:       cfg.Telemetry,
		metrics:         cfg.Metrics,
		store:           store,
		depResolver:     execstore.NewResolver(cfg.DepGraph),
		scatterExp:      scatter.New(cfg.Resolver, cfg.ScatterGraph, store, cfg.Data, cfg.BackendName),
		cacheCandidates: make(map[string][]CacheCandidate),
		cacheAttempt:    make(map[string]int),
		activeCopy:      make(map[string]*cachecopy.Copier),
		cancels:         make(map[string]context.CancelFunc),
	}
	w.machine = newWorkflowFSM(ctx, w)

	capacity := cfg.MailboxCapacity
	if capacity <= 0 {
		capacity = 64
	}
	w.mailbox = actor.NewWorker[wfmsg.Event](ctx, capacity, w.handle)
	w.collect = collector.New(cfg.Data, cfg.CollectorGraph, w.mailbox)

	if w.io != nil {
		go w.driveIoResponses(ctx)
	}
	return w
}

// Start submits a fresh workflow run: initialKeys are the graph's top-level
// (unindexed) scatter/call/collector keys, symbols its declared inputs.
func (w *Workflow) Start(ctx context.Context, initialKeys []execkey.ExecutionKey, symbols []*symbol.Symbol) error {
	return w.mailbox.Send(ctx, wfmsg.Start{InitialKeys: initialKeys, Symbols: symbols})
}

// Restart recovers a previously-submitted workflow's state from DataAccess
// after a process restart (§4.6 "Restart semantics").
func (w *Workflow) Restart(ctx context.Context) error {
	return w.mailbox.Send(ctx, wfmsg.Restart{})
}

// Abort requests the workflow move to Aborting.
func (w *Workflow) Abort(ctx context.Context) error {
	return w.mailbox.Send(ctx, wfmsg.AbortWorkflow{})
}

// FailureMessage asks a Failed workflow why, blocking for its reply.
func (w *Workflow) FailureMessage(ctx context.Context) (string, error) {
	reply := make(chan string, 1)
	if err := w.mailbox.Send(ctx, wfmsg.GetFailureMessage{Reply: reply}); err != nil {
		select {
		case <-w.mailbox.Done():
			// The mailbox goroutine has exited, so failure no longer changes.
			if w.failure == nil {
				return "", nil
			}
			return w.failure.Error(), nil
		case <-ctx.Done():
			return "", err
		}
	}
	select {
	case msg := <-reply:
		return msg, nil
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

// State returns the workflow's current macro-state.
func (w *Workflow) State() string {
	return w.machine.Current()
}

// Done returns a channel closed once the workflow's mailbox goroutine has
// exited (after a terminal state arms Terminate).
func (w *Workflow) Done() <-chan struct{} {
	return w.mailbox.Done()
}

func (w *Workflow) driveIoResponses(ctx context.Context) {
	for {
		select {
		case resp, ok := <-w.io.Responses():
			if !ok {
				return
			}
			_ = w.mailbox.Send(ctx, wfmsg.IoResponseReceived{Resp: resp})
		case <-ctx.Done():
			return
		}
	}
}

// handle is the actor's single message-dispatch point; every mutation of
// store/cacheAttempt/activeCopy/cancels happens on this goroutine.
func (w *Workflow) handle(ctx context.Context, msg wfmsg.Event) {
	switch m := msg.(type) {
	case wfmsg.Start:
		w.onStart(ctx, m)
	case wfmsg.Restart:
		w.onRestart(ctx)
	case wfmsg.CallStarted:
		w.store.Set(m.Key, execstore.Running)
	case wfmsg.CallCompleted:
		w.onCallCompleted(ctx, m)
	case wfmsg.CallFailed:
		w.onCallFailed(ctx, m)
	case wfmsg.AbortWorkflow:
		w.onAbortWorkflow(ctx)
	case wfmsg.AbortComplete:
		w.onAbortComplete(ctx, m)
	case wfmsg.IoResponseReceived:
		w.onIoResponse(ctx, m)
	case wfmsg.GetFailureMessage:
		w.onGetFailureMessage(m)
	case wfmsg.Terminate:
		w.mailbox.Stop()
	default:
		logger.FromContext(ctx).Warn("workflow received unrecognized message", "type", fmt.Sprintf("%T", msg))
	}
}

func (w *Workflow) onStart(ctx context.Context, m wfmsg.Start) {
	if err := w.data.CreateWorkflow(ctx, w.descriptor, m.Symbols, m.InitialKeys, w.backendName); err != nil {
		w.fail(ctx, &core.PersistenceError{Operation: "createWorkflow", Cause: err})
		return
	}
	for _, key := range m.InitialKeys {
		w.store.Insert(key, execstore.NotStarted)
	}
	if _, err := w.backendImp.InitializeForWorkflow(ctx, w.descriptor); err != nil {
		w.fail(ctx, &core.BackendError{Cause: err})
		return
	}
	if err := w.fire(ctx, eventStoreReady); err != nil {
		w.fail(ctx, err)
		return
	}
	w.runDispatchLoop(ctx)
}

// onRestart implements §4.6's restart recovery: a scatter caught mid-Starting
// is an unrecoverable configuration defect (its shard set may be partially
// persisted); a call caught Starting rolls back to NotStarted; a call caught
// Running is handed to the backend's own resumable-job bookkeeping before
// falling back to the same rollback.
func (w *Workflow) onRestart(ctx context.Context) {
	if err := w.backendImp.PrepareForRestart(ctx, w.descriptor); err != nil {
		w.fail(ctx, &core.BackendError{Cause: err})
		return
	}
	stored, err := w.data.GetExecutionStatuses(ctx, w.id)
	if err != nil {
		w.fail(ctx, &core.PersistenceError{Operation: "getExecutionStatuses", Cause: err})
		return
	}
	resumable, err := w.backendImp.FindResumableExecutions(ctx, w.id)
	if err != nil {
		w.fail(ctx, &core.BackendError{Cause: err})
		return
	}
	for _, s := range stored {
		if !w.recoverEntry(ctx, s, resumable) {
			return
		}
	}
	if err := w.fire(ctx, eventStoreReady); err != nil {
		w.fail(ctx, err)
		return
	}
	w.runDispatchLoop(ctx)
}

func (w *Workflow) recoverEntry(ctx context.Context, s dataaccess.StoredStatus, resumable map[string]backend.JobKey) bool {
	key := s.Key
	switch {
	case key.Kind == execkey.KindScatter && s.Status.Status == execstore.Starting:
		w.fail(ctx, &core.FatalConfigurationError{
			Detail: fmt.Sprintf("scatter %s was Starting at the time of the crash; operator intervention required", key.String()),
		})
		return false
	case s.Status.Status == execstore.Starting:
		return w.rollbackToNotStarted(ctx, key)
	case s.Status.Status == execstore.Running:
		if job, ok := resumable[key.Unique()]; ok {
			w.store.Insert(key, execstore.Running)
			w.startCallRunner(ctx, key, callrunner.ModeResume, job)
			return true
		}
		return w.rollbackToNotStarted(ctx, key)
	default:
		w.store.Insert(key, s.Status.Status)
		return true
	}
}

func (w *Workflow) rollbackToNotStarted(ctx context.Context, key execkey.ExecutionKey) bool {
	if err := w.data.SetStatus(ctx, w.id, []execkey.ExecutionKey{key},
		execstore.CallStatus{Status: execstore.NotStarted}); err != nil {
		w.fail(ctx, &core.PersistenceError{Operation: "restart rollback to NotStarted", Cause: err})
		return false
	}
	w.store.Insert(key, execstore.NotStarted)
	return true
}

// runDispatchLoop scans for runnable keys and dispatches each, repeating
// until a pass starts nothing new — the fixed point §4.2 describes.
func (w *Workflow) runDispatchLoop(ctx context.Context) {
	for {
		runnable := w.depResolver.ScanRunnable(w.store)
		progressed := false
		for _, key := range runnable {
			if err := w.dispatchKey(ctx, key); err != nil {
				w.fail(ctx, err)
				return
			}
			progressed = true
		}
		if !progressed {
			return
		}
	}
}

func (w *Workflow) dispatchKey(ctx context.Context, key execkey.ExecutionKey) error {
	switch key.Kind {
	case execkey.KindScatter:
		return w.dispatchScatter(ctx, key)
	case execkey.KindCollector:
		return w.dispatchCollector(ctx, key)
	case execkey.KindCall:
		return w.dispatchCall(ctx, key)
	default:
		return fmt.Errorf("unknown execution key kind %q", key.Kind)
	}
}

func (w *Workflow) dispatchScatter(ctx context.Context, key execkey.ExecutionKey) error {
	if _, err := w.scatterExp.Expand(ctx, w.id, key); err != nil {
		return err
	}
	return nil
}

func (w *Workflow) dispatchCollector(ctx context.Context, key execkey.ExecutionKey) error {
	w.store.Set(key, execstore.Starting)
	shardEntries := w.store.ShardsOf(key.Scope.FullyQualifiedName)
	shards := make([]execkey.ExecutionKey, len(shardEntries))
	for i, e := range shardEntries {
		shards[i] = e.Key
	}
	return w.collect.Collect(ctx, w.id, key, shards)
}

func (w *Workflow) dispatchCall(ctx context.Context, key execkey.ExecutionKey) error {
	w.store.Set(key, execstore.Starting)
	if candidate, ok := w.nextCacheCandidate(ctx, key); ok {
		return w.startCacheCopy(ctx, key, candidate)
	}
	w.startCallRunner(ctx, key, callrunner.ModeStart, "")
	return nil
}

func (w *Workflow) nextCacheCandidate(ctx context.Context, key execkey.ExecutionKey) (CacheCandidate, bool) {
	uniq := key.Unique()
	candidates, seen := w.cacheCandidates[uniq]
	if !seen {
		candidates = w.lookupCacheCandidates(ctx, key)
		w.cacheCandidates[uniq] = candidates
	}
	attempt := w.cacheAttempt[uniq]
	if attempt >= len(candidates) {
		return CacheCandidate{}, false
	}
	return candidates[attempt], true
}

func (w *Workflow) lookupCacheCandidates(ctx context.Context, key execkey.ExecutionKey) []CacheCandidate {
	if w.cacheIndex == nil {
		return nil
	}
	candidates, err := w.cacheIndex.Lookup(ctx, w.id, key)
	if err != nil {
		logger.FromContext(ctx).Warn("cache index lookup failed, executing normally", "key", key.String(), "error", err)
		return nil
	}
	return candidates
}

func (w *Workflow) startCacheCopy(ctx context.Context, key execkey.ExecutionKey, candidate CacheCandidate) error {
	uniq := key.Unique()
	w.cacheAttempt[uniq]++
	copier := cachecopy.New(
		w.blacklist, w.io, w.mailbox, w.backendName, w.duplicator, w.id, w.telemetry, w.metrics, w.additionalSets,
	)
	w.activeCopy[uniq] = copier
	cmd := cachecopy.CopyOutputsCommand{
		Simpletons:       candidate.Simpletons,
		JobDetritusFiles: candidate.JobDetritusFiles,
		CacheHit:         candidate.Hit,
	}
	return copier.Start(ctx, key, w.cacheAttempt[uniq], cmd)
}

func (w *Workflow) startCallRunner(ctx context.Context, key execkey.ExecutionKey, mode callrunner.Mode, job backend.JobKey) {
	callCtx, cancel := context.WithCancel(ctx)
	w.cancels[key.Unique()] = cancel
	runner := callrunner.New(w.resolver, w.data, w.backendImp, w.mailbox, w.descriptor, w.telemetry)
	go runner.Run(callCtx, w.id, key, mode, job)
}

func (w *Workflow) onCallCompleted(ctx context.Context, m wfmsg.CallCompleted) {
	uniq := m.Key.Unique()
	delete(w.cancels, uniq)
	delete(w.activeCopy, uniq)

	if err := w.data.SetOutputs(ctx, w.id, m.Key, m.Outputs); err != nil {
		w.fail(ctx, &core.PersistenceError{Operation: "setOutputs", Cause: err})
		return
	}
	rc := m.ReturnCode
	if err := w.data.SetStatus(ctx, w.id, []execkey.ExecutionKey{m.Key},
		execstore.CallStatus{Status: execstore.Done, ReturnCode: &rc}); err != nil {
		w.fail(ctx, &core.PersistenceError{Operation: "setStatus(Done)", Cause: err})
		return
	}
	w.store.Set(m.Key, execstore.Done)

	if w.machine.Current() == StateAborting {
		w.checkAbortComplete(ctx)
		return
	}
	w.runDispatchLoop(ctx)
	if w.machine.Current() == StateRunning && w.store.AllDone() {
		_ = w.fire(ctx, eventAllDone)
	}
}

// onCallFailed handles a terminal failure from either a Call Runner or a
// Cache-Hit Copy FSM attempt. A failed copy attempt falls back to the next
// cache candidate, then to a normal backend execution, before the failure is
// treated as fatal for the whole workflow.
func (w *Workflow) onCallFailed(ctx context.Context, m wfmsg.CallFailed) {
	uniq := m.Key.Unique()
	if _, wasCopy := w.activeCopy[uniq]; wasCopy {
		delete(w.activeCopy, uniq)
		if w.machine.Current() == StateAborting {
			w.failCallPermanently(ctx, m)
			return
		}
		if candidate, ok := w.nextCacheCandidate(ctx, m.Key); ok {
			if err := w.startCacheCopy(ctx, m.Key, candidate); err != nil {
				w.fail(ctx, err)
			}
			return
		}
		w.startCallRunner(ctx, m.Key, callrunner.ModeStart, "")
		return
	}
	delete(w.cancels, uniq)
	w.failCallPermanently(ctx, m)
}

func (w *Workflow) failCallPermanently(ctx context.Context, m wfmsg.CallFailed) {
	if err := w.data.SetStatus(ctx, w.id, []execkey.ExecutionKey{m.Key},
		execstore.CallStatus{Status: execstore.Failed, ReturnCode: m.ReturnCode}); err != nil {
		logger.FromContext(ctx).Error("could not persist call failure", "key", m.Key.String(), "error", err)
	}
	w.store.Set(m.Key, execstore.Failed)

	if w.machine.Current() == StateAborting {
		w.checkAbortComplete(ctx)
		return
	}
	w.fail(ctx, m.Err)
}

func (w *Workflow) onAbortWorkflow(ctx context.Context) {
	if err := w.fire(ctx, eventAbort); err != nil {
		logger.FromContext(ctx).Warn("abort requested outside Running", "workflow", w.id.String(), "state", w.machine.Current())
		return
	}
	for _, e := range w.store.All() {
		if e.Status != execstore.Starting && e.Status != execstore.Running {
			continue
		}
		uniq := e.Key.Unique()
		if copier, ok := w.activeCopy[uniq]; ok {
			_ = copier.Abort(ctx)
			continue
		}
		if cancel, ok := w.cancels[uniq]; ok {
			cancel()
		}
	}
	w.checkAbortComplete(ctx)
}

func (w *Workflow) onAbortComplete(ctx context.Context, m wfmsg.AbortComplete) {
	uniq := m.Key.Unique()
	delete(w.cancels, uniq)
	delete(w.activeCopy, uniq)
	if err := w.data.SetStatus(ctx, w.id, []execkey.ExecutionKey{m.Key},
		execstore.CallStatus{Status: execstore.Aborted}); err != nil {
		logger.FromContext(ctx).Error("could not persist call abort", "key", m.Key.String(), "error", err)
	}
	w.store.Set(m.Key, execstore.Aborted)
	w.checkAbortComplete(ctx)
}

func (w *Workflow) checkAbortComplete(ctx context.Context) {
	if w.machine.Current() != StateAborting {
		return
	}
	if w.store.AllTerminalOrNotStarted() {
		_ = w.fire(ctx, eventAllAborted)
	}
}

func (w *Workflow) onIoResponse(ctx context.Context, m wfmsg.IoResponseReceived) {
	copier, ok := w.activeCopy[m.Resp.Command.Owner]
	if !ok {
		return
	}
	if err := copier.HandleIoResponse(ctx, m.Resp); err != nil {
		logger.FromContext(ctx).Error("cache-hit copy response handling failed", "owner", m.Resp.Command.Owner, "error", err)
	}
}

func (w *Workflow) onGetFailureMessage(m wfmsg.GetFailureMessage) {
	msg := ""
	if w.failure != nil {
		msg = w.failure.Error()
	}
	select {
	case m.Reply <- msg:
	default:
	}
}

func (w *Workflow) fail(ctx context.Context, cause error) {
	w.failure = cause
	logger.FromContext(ctx).Error("workflow failing", "workflow", w.id.String(), "error", cause)
	if err := w.fire(ctx, eventCallFailed); err != nil {
		logger.FromContext(ctx).Error("could not transition workflow to Failed", "workflow", w.id.String(), "error", err)
	}
}

func (w *Workflow) fire(ctx context.Context, event string) error {
	if err := w.machine.Event(ctx, event); err != nil && !isNoTransitionErr(err) {
		return err
	}
	return nil
}

func isNoTransitionErr(err error) bool {
	_, ok := err.(fsm.NoTransitionError)
	return ok
}

// onEnterTerminal implements §4.6's terminal cleanup ordering: backend
// teardown, clearing option values, then persisting the terminal state
// before anything is logged about it, finally arming self-Terminate.
func (w *Workflow) onEnterTerminal(ctx context.Context, state string) {
	log := logger.FromContext(ctx)
	if err := w.backendImp.CleanUpForWorkflow(ctx, w.descriptor); err != nil {
		log.Error("backend cleanup failed", "workflow", w.id.String(), "error", err)
	}
	w.descriptor.Options = nil

	w.persistState(ctx, state)
	if err := w.mailbox.Send(ctx, wfmsg.Terminate{}); err != nil {
		log.Error("could not arm workflow termination", "workflow", w.id.String(), "error", err)
	}
}

// onEnterNonTerminal persists Running and Aborting the same way
// onEnterTerminal persists the terminal states: before any enter_<state>
// callback returns, the new macro-state is already durable, so the
// after_event observer log that follows never describes a state the store
// doesn't yet have.
func (w *Workflow) onEnterNonTerminal(ctx context.Context, state string) {
	w.persistState(ctx, state)
}

func (w *Workflow) persistState(ctx context.Context, state string) {
	log := logger.FromContext(ctx)
	if err := w.data.UpdateWorkflowState(ctx, w.id, state); err != nil {
		log.Error("persisting workflow state failed", "workflow", w.id.String(), "state", state, "error", err)
		return
	}
	log.Info("workflow entered state", "workflow", w.id.String(), "state", state)
}

func newWorkflowFSM(ctx context.Context, w *Workflow) *fsm.FSM {
	observer := newWorkflowObserver(ctx)
	return fsm.NewFSM(StateSubmitted, fsm.Events{
		{Name: eventStoreReady, Src: []string{StateSubmitted}, Dst: StateRunning},
		{Name: eventAllDone, Src: []string{StateRunning}, Dst: StateSucceeded},
		{Name: eventCallFailed, Src: []string{StateSubmitted, StateRunning}, Dst: StateFailed},
		{Name: eventAbort, Src: []string{StateRunning}, Dst: StateAborting},
		{Name: eventAllAborted, Src: []string{StateAborting}, Dst: StateAborted},
	}, fsm.Callbacks{
		"before_event": func(cbCtx context.Context, e *fsm.Event) { observer.before(cbCtx, e) },
		"after_event":  func(cbCtx context.Context, e *fsm.Event) { observer.after(cbCtx, e) },
		"enter_" + StateRunning: func(cbCtx context.Context, _ *fsm.Event) {
			w.onEnterNonTerminal(cbCtx, StateRunning)
		},
		"enter_" + StateAborting: func(cbCtx context.Context, _ *fsm.Event) {
			w.onEnterNonTerminal(cbCtx, StateAborting)
		},
		"enter_" + StateSucceeded: func(cbCtx context.Context, _ *fsm.Event) {
			w.onEnterTerminal(cbCtx, StateSucceeded)
		},
		"enter_" + StateFailed: func(cbCtx context.Context, _ *fsm.Event) {
			w.onEnterTerminal(cbCtx, StateFailed)
		},
		"enter_" + StateAborted: func(cbCtx context.Context, _ *fsm.Event) {
			w.onEnterTerminal(cbCtx, StateAborted)
		},
	})
}

type workflowObserver struct {
	baseCtx context.Context
}

func newWorkflowObserver(ctx context.Context) *workflowObserver {
	return &workflowObserver{baseCtx: ctx}
}

func (o *workflowObserver) resolveContext(cbCtx context.Context) context.Context {
	if cbCtx != nil {
		return cbCtx
	}
	return o.baseCtx
}

func (o *workflowObserver) before(cbCtx context.Context, e *fsm.Event) {
	logger.FromContext(o.resolveContext(cbCtx)).Debug(
		"workflow fsm transition start", "event", e.Event, "from", e.Src, "to", e.Dst)
}

func (o *workflowObserver) after(cbCtx context.Context, e *fsm.Event) {
	logger.FromContext(o.resolveContext(cbCtx)).Debug(
		"workflow fsm transition complete", "event", e.Event, "from", e.Src, "to", e.Dst)
}
