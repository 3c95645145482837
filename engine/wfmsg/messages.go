// Package wfmsg defines the message types exchanged between the Workflow
// FSM (C6) and its children (Call Runner, Cache-Hit Copy FSM, Scatter
// Expander, Collector). It is a leaf package so every component can depend
// on the message shapes without depending on the Workflow FSM itself.
package wfmsg

import (
	"github.com/powelleric/cromwell/engine/execkey"
	"github.com/powelleric/cromwell/engine/ioclient"
	"github.com/powelleric/cromwell/engine/symbol"
)

// Event is the Workflow FSM's mailbox message type. It is deliberately `any`
// rather than a closed sum type: Go has no sealed interfaces, and a type
// switch over the concrete structs below plays that role at the call site.
type Event any

// Start requests a fresh workflow run, carrying the graph's initial
// (top-level, unindexed) execution keys and the workflow's declared input
// symbols to persist at creation.
type Start struct {
	InitialKeys []execkey.ExecutionKey
	Symbols     []*symbol.Symbol
}

// Restart requests recovery of a previously-submitted workflow after a
// process restart.
type Restart struct{}

// ExecutionStoreCreated reports that the store has been loaded (fresh or
// recovered) and names which of Start/Restart produced it.
type ExecutionStoreCreated struct {
	Mode string // "Start" or "Restart"
}

// CallStarted reports that a Call Runner has begun executing k.
type CallStarted struct {
	Key execkey.ExecutionKey
}

// CallCompleted reports a successful call, scatter, or collector outcome.
type CallCompleted struct {
	Key        execkey.ExecutionKey
	Outputs    []*symbol.Symbol
	ReturnCode int
}

// CallFailed reports a failed call, scatter, or collector outcome.
// ReturnCode is nil when the backend never reported one (e.g. an expression
// error that never reached the backend).
type CallFailed struct {
	Key        execkey.ExecutionKey
	ReturnCode *int
	Err        error
}

// AbortWorkflow requests that the whole workflow move to Aborting.
type AbortWorkflow struct{}

// AbortCall is sent to a single child (Call Runner or Cache-Hit Copy FSM)
// asking it to abort. A Cache-Hit Copy FSM rejects this with
// JobAbortedResponse rather than honoring it (§5 "Cancellation semantics").
type AbortCall struct {
	Key execkey.ExecutionKey
}

// AbortComplete reports that a child finished aborting k.
type AbortComplete struct {
	Key execkey.ExecutionKey
}

// GetFailureMessage asks a Failed workflow to report why.
type GetFailureMessage struct {
	Reply chan string
}

// Terminate asks a Succeeded (or otherwise done) workflow to stop itself.
type Terminate struct{}

// IoResponseReceived wraps one IoClient response for delivery through the
// Workflow FSM's own mailbox, so routing it to the right Cache-Hit Copy FSM
// instance happens on the workflow's single goroutine like everything else.
type IoResponseReceived struct {
	Resp ioclient.IoResponse
}
