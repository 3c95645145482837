// Package cachecopy implements the Cache-Hit Copy FSM (C8, §4.8): copying a
// prior call's outputs into a cache-hitting call's own paths, short-circuited
// by the Blacklist Cache and driven by responses from an IoClient.
//
// The state machine is built on the same looplab/fsm enter-callback pattern
// the teacher uses for its orchestrator executor FSM: each state's entry
// handler does the state's work and returns the next event to fire, rather
// than callers driving transitions directly.
package cachecopy

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/looplab/fsm"

	"github.com/powelleric/cromwell/engine/blacklist"
	"github.com/powelleric/cromwell/engine/core"
	"github.com/powelleric/cromwell/engine/execkey"
	"github.com/powelleric/cromwell/engine/ioclient"
	"github.com/powelleric/cromwell/engine/metrics"
	"github.com/powelleric/cromwell/engine/symbol"
	"github.com/powelleric/cromwell/engine/telemetry"
	"github.com/powelleric/cromwell/engine/wfmsg"
	"github.com/powelleric/cromwell/pkg/actor"
	"github.com/powelleric/cromwell/pkg/logger"
)

// CallRootPathKey is the well-known detritus key naming a call's root
// directory (GLOSSARY: "Detritus Key").
const CallRootPathKey = "CallRootPathKey"

const (
	StateIdle                        = "Idle"
	StateWaitingForIoResponses       = "WaitingForIoResponses"
	StateFailedState                 = "FailedState"
	StateWaitingForOnSuccessResponse = "WaitingForOnSuccessResponse"
	StateStopped                     = "Stopped"
)

const (
	eventStart       = "start"
	eventIoSuccess   = "io_success"
	eventIoFail      = "io_fail"
	eventIoFailStop  = "io_fail_stop"
	eventAllSetsDone = "all_sets_done"
	eventDrainDone   = "drain_done"
)

// Simpleton is a flattened key-value form of a structured output value
// (GLOSSARY): one file-valued output and the path it currently lives at.
type Simpleton struct {
	Name string
	Path string
}

// CacheHit is a prior invocation whose outputs are candidates for reuse.
type CacheHit struct {
	ID       string
	Detritus map[string]string
}

// CopyOutputsCommand is the entry payload of §4.8 step "Entry (Idle, ...)".
type CopyOutputsCommand struct {
	Simpletons       []Simpleton
	JobDetritusFiles map[string]string
	CacheHit         CacheHit
	ReturnCode       int
}

// Duplicator is the optional server-side-copy optimization of §4.8 step 5.
// A nil Duplicator is equivalent to always returning (false, nil, nil) — no
// optimization available, fall through to the I/O broker.
type Duplicator interface {
	Duplicate(ctx context.Context, pairs []CopyPair) (attempted bool, outputs []Simpleton, err error)
}

// CopyPair is one source/destination path the copy plan produced.
type CopyPair struct {
	Source      string
	Destination string
}

// AdditionalSets is the optional §4.8 step 6 hook: after the head
// copy+detritus set is built, an implementation may contribute further
// ordered command sets (CacheCopyData.commandsToWaitFor) that drain one at a
// time, in order, once the head set finishes. A nil AdditionalSets is
// equivalent to always returning no extra sets.
type AdditionalSets interface {
	AdditionalIoCommands(ctx context.Context, cmd CopyOutputsCommand) ([][]ioclient.IoCommand, error)
}

// Copier runs one Cache-Hit Copy FSM instance for a single call's cache-hit
// attempt. A fresh Copier is used per attempt (§8 invariant 7: a hit marked
// Bad is never attempted again — enforced by the Blacklist Cache, not by
// reusing a Copier).
type Copier struct {
	Blacklist   *blacklist.Cache
	IO          ioclient.Client
	Parent      *actor.Worker[wfmsg.Event]
	BackendName string
	Duplicator  Duplicator
	// Extra contributes the additional ordered command sets of §4.8 step 6.
	// A nil Extra means the head copy+detritus set is the only set dispatched.
	Extra AdditionalSets
	// Telemetry publishes JobSucceededResponse / CopyingOutputsFailedResponse
	// / JobAbortedResponse (§6) to the engine's metadata/telemetry
	// subscriber. A nil Telemetry is equivalent to telemetry.Noop.
	Telemetry telemetry.Publisher
	// Metrics counts copy attempt outcomes (succeeded/failed/skipped) by
	// result label. A nil Metrics disables counting.
	Metrics *metrics.Metrics

	workflowID core.ID

	key     execkey.ExecutionKey
	attempt int
	cmd     CopyOutputsCommand

	machine *fsm.FSM

	headSet      map[ioclient.CommandID]ioclient.IoCommand
	headResults  []Simpleton
	pendingSets  [][]ioclient.IoCommand
	sourceHit    string
	sourceBucket string
}

// New builds a Copier.
func New(
	bl *blacklist.Cache,
	io ioclient.Client,
	parent *actor.Worker[wfmsg.Event],
	backendName string,
	dup Duplicator,
	workflowID core.ID,
	pub telemetry.Publisher,
	met *metrics.Metrics,
	extra AdditionalSets,
) *Copier {
	if pub == nil {
		pub = telemetry.Noop{}
	}
	return &Copier{
		Blacklist:   bl,
		IO:          io,
		Parent:      parent,
		BackendName: backendName,
		Duplicator:  dup,
		Extra:       extra,
		Telemetry:   pub,
		Metrics:     met,
		workflowID:  workflowID,
	}
}

func (c *Copier) recordOutcome(result string) {
	if c.Metrics == nil {
		return
	}
	c.Metrics.CopyOutcomes.WithLabelValues(result).Inc()
}

func (c *Copier) additionalSets(ctx context.Context) ([][]ioclient.IoCommand, error) {
	if c.Extra == nil {
		return nil, nil
	}
	return c.Extra.AdditionalIoCommands(ctx, c.cmd)
}

// Start runs the §4.8 Idle entry sequence for key's cache-hit attempt.
func (c *Copier) Start(ctx context.Context, key execkey.ExecutionKey, attempt int, cmd CopyOutputsCommand) error {
	c.key = key
	c.attempt = attempt
	c.cmd = cmd
	c.sourceHit = cmd.CacheHit.ID
	c.sourceBucket = extractBlacklistPrefix(cmd.CacheHit.Detritus[CallRootPathKey])

	c.machine = fsm.NewFSM(StateIdle, fsm.Events{
		{Name: eventStart, Src: []string{StateIdle}, Dst: StateWaitingForIoResponses},
		{Name: eventAllSetsDone, Src: []string{StateIdle, StateWaitingForIoResponses}, Dst: StateWaitingForOnSuccessResponse},
		{Name: eventIoSuccess, Src: []string{StateWaitingForIoResponses}, Dst: StateWaitingForIoResponses},
		{Name: eventIoFail, Src: []string{StateWaitingForIoResponses}, Dst: StateFailedState},
		{Name: eventIoFailStop, Src: []string{StateWaitingForIoResponses}, Dst: StateStopped},
		{Name: eventDrainDone, Src: []string{StateFailedState}, Dst: StateStopped},
	}, fsm.Callbacks{
		"enter_" + StateWaitingForOnSuccessResponse: func(_ context.Context, e *fsm.Event) {
			c.onEnterWaitingForOnSuccessResponse(e)
		},
	})

	return c.enterIdle(ctx)
}

// enterIdle runs §4.8 steps 1-7, short-circuiting on a blacklist hit or
// configuration error before ever touching the FSM's transition table.
func (c *Copier) enterIdle(ctx context.Context) error {
	log := logger.FromContext(ctx)

	if status := c.Blacklist.HitStatus(c.sourceHit); status == blacklist.Bad {
		return c.skip(ctx, core.HitBlacklisted)
	}
	if status := c.Blacklist.BucketStatus(c.sourceBucket); status == blacklist.Bad {
		return c.skip(ctx, core.BucketBlacklisted)
	}

	sourceRoot, ok := c.cmd.CacheHit.Detritus[CallRootPathKey]
	if !ok {
		return c.fail(ctx, &core.FatalConfigurationError{Detail: "cache hit is missing " + CallRootPathKey})
	}
	destRoot, ok := c.cmd.JobDetritusFiles[CallRootPathKey]
	if !ok {
		return c.fail(ctx, &core.FatalConfigurationError{Detail: "call is missing " + CallRootPathKey})
	}

	copySet, detritusSet, outputs := c.buildCommands(sourceRoot, destRoot)
	c.headResults = outputs

	if c.Duplicator != nil {
		pairs := pairsFromCommands(append(copySet, detritusSet...))
		attempted, dupOutputs, err := c.Duplicator.Duplicate(ctx, pairs)
		if attempted {
			if err != nil {
				return c.fail(ctx, &core.CopyAttemptError{Cause: err})
			}
			c.headResults = dupOutputs
			return c.fire(ctx, eventAllSetsDone)
		}
	}

	firstSet := append(copySet, detritusSet...)
	pendingSets, err := c.additionalSets(ctx)
	if err != nil {
		return c.fail(ctx, &core.CopyAttemptError{Cause: err})
	}
	c.pendingSets = pendingSets
	if len(firstSet) == 0 {
		return c.fire(ctx, eventAllSetsDone)
	}
	if err := c.dispatchSet(ctx, firstSet); err != nil {
		return err
	}
	log.Debug("cache-hit copy dispatched", "key", c.key.String(), "attempt", c.attempt, "commands", len(firstSet))
	return c.fire(ctx, eventStart)
}

func (c *Copier) buildCommands(sourceRoot, destRoot string) ([]ioclient.IoCommand, []ioclient.IoCommand, []Simpleton) {
	copySet := make([]ioclient.IoCommand, 0, len(c.cmd.Simpletons))
	outputs := make([]Simpleton, 0, len(c.cmd.Simpletons))
	for _, s := range c.cmd.Simpletons {
		rel := strings.TrimPrefix(s.Path, sourceRoot)
		dest := destRoot + rel
		copySet = append(copySet, ioclient.IoCommand{
			ID:          ioclient.NewCommandID(),
			Source:      s.Path,
			Destination: dest,
			Owner:       c.key.Unique(),
		})
		outputs = append(outputs, Simpleton{Name: s.Name, Path: dest})
	}

	detritusSet := make([]ioclient.IoCommand, 0, len(c.cmd.CacheHit.Detritus))
	for key, sourcePath := range c.cmd.CacheHit.Detritus {
		if key == CallRootPathKey {
			continue
		}
		destPath, ok := c.cmd.JobDetritusFiles[key]
		if !ok {
			continue
		}
		detritusSet = append(detritusSet, ioclient.IoCommand{
			ID:          ioclient.NewCommandID(),
			Source:      sourcePath,
			Destination: destPath,
			Owner:       c.key.Unique(),
		})
	}
	return copySet, detritusSet, outputs
}

func (c *Copier) dispatchSet(ctx context.Context, set []ioclient.IoCommand) error {
	c.headSet = make(map[ioclient.CommandID]ioclient.IoCommand, len(set))
	for _, cmd := range set {
		c.headSet[cmd.ID] = cmd
		if err := c.IO.Send(ctx, cmd); err != nil {
			return fmt.Errorf("dispatching cache-hit copy command %s: %w", cmd.ID, err)
		}
	}
	return nil
}

// HandleIoResponse processes one response delivered by the IoClient while in
// WaitingForIoResponses or FailedState.
func (c *Copier) HandleIoResponse(ctx context.Context, resp ioclient.IoResponse) error {
	switch c.machine.Current() {
	case StateWaitingForIoResponses:
		return c.handleResponseWaiting(ctx, resp)
	case StateFailedState:
		return c.handleResponseDraining(ctx, resp)
	default:
		return nil
	}
}

func (c *Copier) handleResponseWaiting(ctx context.Context, resp ioclient.IoResponse) error {
	delete(c.headSet, resp.Command.ID)

	if resp.Success {
		if len(c.headSet) > 0 {
			return c.fire(ctx, eventIoSuccess)
		}
		return c.advanceAfterHeadDrained(ctx)
	}

	if resp.FailKind == ioclient.IoFailReadOnly {
		c.Blacklist.MarkHit(c.sourceHit, blacklist.Bad, c.BackendName)
		c.Blacklist.MarkBucket(extractBlacklistPrefix(resp.ForbiddenPath), blacklist.Bad, c.BackendName)
	} else {
		c.Blacklist.MarkBucket(c.sourceBucket, blacklist.Bad, c.BackendName)
	}
	return c.failAndAwaitPendingResponses(ctx, resp)
}

func (c *Copier) handleResponseDraining(ctx context.Context, resp ioclient.IoResponse) error {
	delete(c.headSet, resp.Command.ID)
	if !resp.Success {
		if resp.FailKind == ioclient.IoFailReadOnly {
			c.Blacklist.MarkHit(c.sourceHit, blacklist.Bad, c.BackendName)
			c.Blacklist.MarkBucket(extractBlacklistPrefix(resp.ForbiddenPath), blacklist.Bad, c.BackendName)
		} else {
			c.Blacklist.MarkBucket(c.sourceBucket, blacklist.Bad, c.BackendName)
		}
	}
	if len(c.headSet) == 0 {
		return c.fire(ctx, eventDrainDone)
	}
	return nil
}

func (c *Copier) advanceAfterHeadDrained(ctx context.Context) error {
	if len(c.pendingSets) == 0 {
		return c.fire(ctx, eventAllSetsDone)
	}
	next := c.pendingSets[0]
	c.pendingSets = c.pendingSets[1:]
	if len(next) == 0 {
		return c.advanceAfterHeadDrained(ctx)
	}
	return c.dispatchSet(ctx, next)
}

// failAndAwaitPendingResponses implements the named §4.8 step: notify the
// parent, then either drain remaining in-flight commands or stop outright.
func (c *Copier) failAndAwaitPendingResponses(ctx context.Context, resp ioclient.IoResponse) error {
	var cause error
	if resp.FailKind == ioclient.IoFailReadOnly {
		cause = &core.BlacklistSkip{Category: core.HitBlacklisted}
	} else {
		cause = &core.CopyAttemptError{Cause: resp.Err}
	}
	c.publishFailed(ctx, cause)
	c.recordOutcome("failed")
	if err := c.Parent.Send(ctx, copyFailedMessage(c.key, c.attempt, cause)); err != nil {
		return err
	}
	if len(c.headSet) > 0 {
		return c.fire(ctx, eventIoFail)
	}
	return c.fire(ctx, eventIoFailStop)
}

func (c *Copier) skip(ctx context.Context, category core.BlacklistCategory) error {
	cause := &core.BlacklistSkip{Category: category}
	c.publishFailed(ctx, cause)
	c.recordOutcome("skipped")
	return c.Parent.Send(ctx, copyFailedMessage(c.key, c.attempt, cause))
}

func (c *Copier) fail(ctx context.Context, cause error) error {
	c.publishFailed(ctx, cause)
	c.recordOutcome("failed")
	return c.Parent.Send(ctx, copyFailedMessage(c.key, c.attempt, cause))
}

// Abort implements §5 "Cancellation semantics": cache-hit copy rejects
// mid-flight abort and replies immediately rather than honoring it.
func (c *Copier) Abort(ctx context.Context) error {
	c.publishEvent(ctx, telemetry.Event{Kind: telemetry.KindJobAborted})
	return c.Parent.Send(ctx, wfmsg.AbortComplete{Key: c.key})
}

func (c *Copier) publishFailed(ctx context.Context, cause error) {
	c.publishEvent(ctx, telemetry.Event{
		Kind:          telemetry.KindCopyingOutputsFailed,
		FailureReason: cause.Error(),
	})
}

func (c *Copier) publishEvent(ctx context.Context, evt telemetry.Event) {
	evt.WorkflowID = c.workflowID
	evt.Key = c.key
	evt.Attempt = c.attempt
	evt.OccurredAt = time.Now()
	pub := c.Telemetry
	if pub == nil {
		pub = telemetry.Noop{}
	}
	if err := pub.Publish(ctx, evt); err != nil {
		logger.FromContext(ctx).Warn("publishing cache-hit copy telemetry failed", "key", c.key.String(), "error", err)
	}
}

func (c *Copier) fire(ctx context.Context, event string) error {
	if err := c.machine.Event(ctx, event); err != nil && !isNoTransitionErr(err) {
		return err
	}
	return nil
}

func isNoTransitionErr(err error) bool {
	_, ok := err.(fsm.NoTransitionError)
	return ok
}

func (c *Copier) onEnterWaitingForOnSuccessResponse(_ *fsm.Event) {
	c.Blacklist.MarkHit(c.sourceHit, blacklist.Good, c.BackendName)
	c.Blacklist.MarkBucket(c.sourceBucket, blacklist.Good, c.BackendName)
	c.recordOutcome("succeeded")
	rc := c.cmd.ReturnCode
	c.publishEvent(context.Background(), telemetry.Event{
		Kind:       telemetry.KindJobSucceeded,
		ResultMode: telemetry.ResultCallCached,
		ReturnCode: &rc,
	})
	outputs := make([]Simpleton, len(c.headResults))
	copy(outputs, c.headResults)
	_ = c.Parent.Send(context.Background(), wfmsg.CallCompleted{
		Key:        c.key,
		Outputs:    simpletonsToSymbols(c.key, outputs),
		ReturnCode: c.cmd.ReturnCode,
	})
}

func copyFailedMessage(key execkey.ExecutionKey, attempt int, cause error) wfmsg.Event {
	rc := -1
	return wfmsg.CallFailed{Key: key, ReturnCode: &rc, Err: fmt.Errorf("cache-hit copy attempt %d: %w", attempt, cause)}
}

// extractBlacklistPrefix derives the bucket/prefix portion of a storage path
// for blacklisting: everything up to (and including) the third "/"-segment,
// covering "scheme://bucket" object-store layouts.
func extractBlacklistPrefix(path string) string {
	parts := strings.SplitN(path, "/", 4)
	if len(parts) < 3 {
		return path
	}
	return strings.Join(parts[:3], "/")
}

func simpletonsToSymbols(key execkey.ExecutionKey, outputs []Simpleton) []*symbol.Symbol {
	syms := make([]*symbol.Symbol, 0, len(outputs))
	for _, o := range outputs {
		v := core.Value{Type: core.TypeFile, Raw: o.Path}
		syms = append(syms, &symbol.Symbol{
			Scope: key.Scope.FullyQualifiedName,
			Name:  o.Name,
			Index: key.Index,
			Type:  core.TypeFile,
			Value: &v,
		})
	}
	return syms
}

func pairsFromCommands(cmds []ioclient.IoCommand) []CopyPair {
	pairs := make([]CopyPair, 0, len(cmds))
	for _, cmd := range cmds {
		pairs = append(pairs, CopyPair{Source: cmd.Source, Destination: cmd.Destination})
	}
	return pairs
}
