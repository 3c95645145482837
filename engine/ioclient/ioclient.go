// Package ioclient defines the IoClient capability set (§6): asynchronous
// dispatch of IoCommand to an external I/O broker, with responses delivered
// back to the issuing Cache-Hit Copy FSM as IoSuccess or IoFailAck.
package ioclient

import (
	"context"

	"github.com/google/uuid"
)

// CommandID identifies one dispatched IoCommand for correlation with its
// eventual response (Testable Property #6: every IoSuccess consumed by a
// Cache-Hit Copy FSM corresponds to a previously dispatched command from the
// same instance).
type CommandID string

// NewCommandID mints a fresh correlation ID for a command about to be
// dispatched to a broker. Callers assign it before Send so they can index
// their own pending-response bookkeeping by ID ahead of time.
func NewCommandID() CommandID {
	return CommandID(uuid.NewString())
}

// IoCommand names one file operation the broker should perform: copying
// cached outputs from Source to Destination.
type IoCommand struct {
	ID          CommandID
	Source      string
	Destination string
	// Owner correlates a command with the Cache-Hit Copy FSM instance that
	// issued it, so a Workflow FSM driving many concurrent copies can route
	// an incoming IoResponse without inspecting command IDs.
	Owner string
}

// IoFailKind discriminates an ordinary I/O failure from the specialization
// carrying a forbidden path.
type IoFailKind string

const (
	IoFailGeneric  IoFailKind = "generic"
	IoFailReadOnly IoFailKind = "read_forbidden"
)

// IoResponse is the outcome of one dispatched IoCommand.
type IoResponse struct {
	Command       IoCommand
	Success       bool
	Payload       string
	FailKind      IoFailKind
	ForbiddenPath string
	Err           error
}

// Client is the capability set a Cache-Hit Copy FSM drives. Responses are
// delivered asynchronously to responses, not returned from Send — Send only
// reports a dispatch failure (the broker was unreachable), matching the
// spec's "send is asynchronous" framing.
type Client interface {
	Send(ctx context.Context, cmd IoCommand) error
	Responses() <-chan IoResponse
}
