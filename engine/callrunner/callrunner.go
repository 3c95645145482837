// Package callrunner implements the Call Runner (C7, §4.7): the per-call
// child worker that resolves a call's inputs, invokes the Backend, and
// reports the outcome to the Workflow FSM.
package callrunner

import (
	"context"
	"errors"
	"time"

	"github.com/sethvargo/go-retry"

	"github.com/powelleric/cromwell/engine/backend"
	"github.com/powelleric/cromwell/engine/core"
	"github.com/powelleric/cromwell/engine/dataaccess"
	"github.com/powelleric/cromwell/engine/execkey"
	"github.com/powelleric/cromwell/engine/execstore"
	"github.com/powelleric/cromwell/engine/symbol"
	"github.com/powelleric/cromwell/engine/telemetry"
	"github.com/powelleric/cromwell/engine/wfdesc"
	"github.com/powelleric/cromwell/engine/wfmsg"
	"github.com/powelleric/cromwell/pkg/actor"
	"github.com/powelleric/cromwell/pkg/logger"
)

// Mode selects between a fresh invocation and resuming a previously
// recorded job (restart semantics, §4.6).
type Mode int

const (
	ModeStart Mode = iota
	ModeResume
)

// Runner is a one-shot worker for a single CallKey. A Workflow FSM spawns
// one as a goroutine per runnable call; the Runner owns no state shared with
// any other Runner.
type Runner struct {
	Resolver    *symbol.Resolver
	Data        dataaccess.DataAccess
	Backend     backend.Backend
	Parent      *actor.Worker[wfmsg.Event]
	Descriptor  *wfdesc.WorkflowDescriptor
	MaxRetries  uint64
	BaseBackoff time.Duration
	// Telemetry publishes JobSucceededResponse/JobAbortedResponse (§6) for
	// this call's outcome. A nil Telemetry is equivalent to telemetry.Noop.
	Telemetry telemetry.Publisher
}

// New builds a Runner with the teacher's default retry shape: bounded
// exponential backoff (§4.7 does not mandate a count; 3 retries after the
// first attempt, 4 attempts in all, matches the
// corpus's getChildStateWithRetry default order of magnitude).
func New(
	resolver *symbol.Resolver,
	data dataaccess.DataAccess,
	back backend.Backend,
	parent *actor.Worker[wfmsg.Event],
	descriptor *wfdesc.WorkflowDescriptor,
	pub telemetry.Publisher,
) *Runner {
	if pub == nil {
		pub = telemetry.Noop{}
	}
	return &Runner{
		Resolver:    resolver,
		Data:        data,
		Backend:     back,
		Parent:      parent,
		Descriptor:  descriptor,
		MaxRetries:  3,
		BaseBackoff: 200 * time.Millisecond,
		Telemetry:   pub,
	}
}

// Run executes the §4.7 contract for key and reports its outcome to Parent.
// It is meant to be invoked on its own goroutine; ctx cancellation is how
// the Workflow FSM delivers AbortCall.
func (r *Runner) Run(ctx context.Context, workflowID core.ID, key execkey.ExecutionKey, mode Mode, job backend.JobKey) {
	log := logger.FromContext(ctx)

	if err := r.Data.SetStatus(ctx, workflowID, []execkey.ExecutionKey{key},
		execstore.CallStatus{Status: execstore.Starting}); err != nil {
		r.fail(ctx, key, &core.PersistenceError{Operation: "setStatus(call Starting)", Cause: err})
		return
	}
	if err := r.Parent.Send(ctx, wfmsg.CallStarted{Key: key}); err != nil {
		log.Debug("call runner could not notify parent of start", "key", key.String(), "error", err)
	}

	inputs, err := r.resolveInputs(ctx, workflowID, key)
	if err != nil {
		r.fail(ctx, key, err)
		return
	}

	outcome, err := r.invokeBackend(ctx, key, inputs, mode, job)
	if ctx.Err() != nil {
		r.publish(context.Background(), workflowID, key, telemetry.Event{Kind: telemetry.KindJobAborted})
		if sendErr := r.Parent.Send(context.Background(), wfmsg.AbortComplete{Key: key}); sendErr != nil {
			log.Error("call runner could not report AbortComplete", "key", key.String(), "error", sendErr)
		}
		return
	}
	if err != nil {
		r.fail(ctx, key, err)
		return
	}
	rc := outcome.ReturnCode
	r.publish(ctx, workflowID, key, telemetry.Event{
		Kind:       telemetry.KindJobSucceeded,
		ResultMode: telemetry.ResultRun,
		ReturnCode: &rc,
	})
	if sendErr := r.Parent.Send(ctx, wfmsg.CallCompleted{
		Key:        key,
		Outputs:    outcome.Outputs,
		ReturnCode: outcome.ReturnCode,
	}); sendErr != nil {
		log.Error("call runner could not report CallCompleted", "key", key.String(), "error", sendErr)
	}
}

func (r *Runner) publish(ctx context.Context, workflowID core.ID, key execkey.ExecutionKey, evt telemetry.Event) {
	evt.WorkflowID = workflowID
	evt.Key = key
	evt.OccurredAt = time.Now()
	pub := r.Telemetry
	if pub == nil {
		pub = telemetry.Noop{}
	}
	if err := pub.Publish(ctx, evt); err != nil {
		logger.FromContext(ctx).Warn("publishing call runner telemetry failed", "key", key.String(), "error", err)
	}
}

// resolveInputs fetches the call's declared input symbols, evaluates each
// unevaluated Expression against the resolver, and coerces the result to
// the symbol's declared type.
func (r *Runner) resolveInputs(ctx context.Context, workflowID core.ID, key execkey.ExecutionKey) ([]*symbol.Symbol, error) {
	declared, err := r.Data.GetInputs(ctx, workflowID, key)
	if err != nil {
		return nil, &core.PersistenceError{Operation: "getInputs", Cause: err}
	}
	rc := symbol.Context{WorkflowID: workflowID, CallKey: key}
	resolved := make([]*symbol.Symbol, 0, len(declared))
	for _, in := range declared {
		if in.Value != nil {
			resolved = append(resolved, in)
			continue
		}
		v, err := r.Resolver.ResolveExpression(ctx, rc, in.Expression)
		if err != nil {
			return nil, err
		}
		coerced, err := v.Coerce(in.Type)
		if err != nil {
			return nil, &core.WdlExpressionError{Identifier: in.Name, Cause: err}
		}
		resolved = append(resolved, &symbol.Symbol{
			Scope: in.Scope, Name: in.Name, Index: in.Index, IsInput: true, Type: in.Type, Value: &coerced,
		})
	}
	return resolved, nil
}

func (r *Runner) invokeBackend(
	ctx context.Context,
	key execkey.ExecutionKey,
	inputs []*symbol.Symbol,
	mode Mode,
	job backend.JobKey,
) (backend.CallOutcome, error) {
	var outcome backend.CallOutcome
	backoff := retry.WithMaxRetries(r.MaxRetries, retry.NewExponential(r.BaseBackoff))
	err := retry.Do(ctx, backoff, func(ctx context.Context) error {
		var execErr error
		if mode == ModeResume {
			outcome, execErr = r.Backend.Resume(ctx, key, inputs, job, r.Descriptor)
		} else {
			outcome, execErr = r.Backend.Execute(ctx, key, inputs, r.Descriptor)
		}
		if execErr == nil {
			return nil
		}
		if ctx.Err() != nil || errors.Is(execErr, context.Canceled) {
			return execErr
		}
		return retry.RetryableError(&core.BackendError{Cause: execErr})
	})
	return outcome, err
}

func (r *Runner) fail(ctx context.Context, key execkey.ExecutionKey, cause error) {
	log := logger.FromContext(ctx)
	if sendErr := r.Parent.Send(context.Background(), wfmsg.CallFailed{Key: key, Err: cause}); sendErr != nil {
		log.Error("call runner could not report CallFailed", "key", key.String(), "error", sendErr)
	}
}
