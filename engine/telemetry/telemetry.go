// Package telemetry emits the three event kinds the execution core reports
// to its parent for metadata/telemetry purposes (§6 "Event kinds the core
// emits to a parent"): JobSucceededResponse, CopyingOutputsFailedResponse,
// and JobAbortedResponse.
//
// These are a side channel distinct from the wfmsg messages that drive the
// Workflow FSM's own state machine — losing a telemetry publish never
// affects correctness, only observability, so every Publisher call site
// treats a publish error as loggable, not fatal.
//
// The subject scheme and publish path are grounded on the teacher's
// engine/core event/subject machinery (pkg/nats, engine/core/subject.go,
// engine/core/event.go), simplified to a JSON payload in place of the
// teacher's protobuf schema: this module has no other protobuf surface, so
// pulling in protoc code generation for three small event structs would be
// pure ceremony.
package telemetry

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/nats-io/nats.go/jetstream"

	"github.com/powelleric/cromwell/engine/core"
	"github.com/powelleric/cromwell/engine/execkey"
)

// SubjectPrefix namespaces every subject this package builds, mirroring the
// teacher's "compozy" prefix convention.
const SubjectPrefix = "wfexec"

// Kind discriminates the three event shapes §6 names.
type Kind string

const (
	KindJobSucceeded         Kind = "JobSucceededResponse"
	KindCopyingOutputsFailed Kind = "CopyingOutputsFailedResponse"
	KindJobAborted           Kind = "JobAbortedResponse"
)

// ResultGenerationMode records whether a JobSucceededResponse's outputs came
// from running the task (Run) or from a cache-hit copy (CallCached, §4.8
// step 7: "resultGenerationMode = CallCached").
type ResultGenerationMode string

const (
	ResultRun        ResultGenerationMode = "Run"
	ResultCallCached ResultGenerationMode = "CallCached"
)

// Event is one occurrence of a Kind for one call in one workflow.
type Event struct {
	Kind          Kind
	WorkflowID    core.ID
	Key           execkey.ExecutionKey
	Attempt       int
	ResultMode    ResultGenerationMode
	ReturnCode    *int
	FailureReason string
	OccurredAt    time.Time
}

// Subject builds the dot-delimited NATS subject for e, following the
// teacher's "<prefix>.<workflow>.<component>.<action>" subject shape
// (engine/core/subject.go BuildSubject), scoped down to this module's single
// component.
func (e Event) Subject() string {
	parts := []string{
		SubjectPrefix,
		string(e.WorkflowID),
		sanitizeSubjectPart(e.Key.Scope.FullyQualifiedName),
		string(e.Kind),
	}
	return strings.Join(parts, ".")
}

func sanitizeSubjectPart(s string) string {
	if s == "" {
		return "_"
	}
	return strings.ReplaceAll(s, ".", "_")
}

// Publisher delivers Events to whatever watches the core's telemetry
// channel. Implementations must be safe for concurrent use: a Workflow FSM,
// every Call Runner it spawns, and every Cache-Hit Copy FSM it spawns may
// all publish concurrently.
type Publisher interface {
	Publish(ctx context.Context, evt Event) error
}

// Noop discards every event. It is the default Publisher when a host
// process has not wired telemetry, so the core never requires one to
// function.
type Noop struct{}

func (Noop) Publish(context.Context, Event) error { return nil }

// JetStreamPublisher publishes Events as JSON payloads over a NATS
// JetStream context, grounded on the teacher's pkg/nats.Client.JetStream()
// accessor.
type JetStreamPublisher struct {
	JS jetstream.JetStream
}

// NewJetStreamPublisher wraps an already-configured JetStream context.
func NewJetStreamPublisher(js jetstream.JetStream) *JetStreamPublisher {
	return &JetStreamPublisher{JS: js}
}

// wireEvent is Event's flattened JSON shape: the key is rendered as its
// Unique() string rather than the full Scope chain, since the Scope tree is
// durable-storage shape, not telemetry payload.
type wireEvent struct {
	Kind          Kind                 `json:"kind"`
	WorkflowID    string               `json:"workflow_id"`
	Key           string               `json:"key"`
	Attempt       int                  `json:"attempt"`
	ResultMode    ResultGenerationMode `json:"result_mode,omitempty"`
	ReturnCode    *int                 `json:"return_code,omitempty"`
	FailureReason string               `json:"failure_reason,omitempty"`
	OccurredAt    time.Time            `json:"occurred_at"`
}

func (p *JetStreamPublisher) Publish(ctx context.Context, evt Event) error {
	payload, err := json.Marshal(wireEvent{
		Kind:          evt.Kind,
		WorkflowID:    evt.WorkflowID.String(),
		Key:           evt.Key.Unique(),
		Attempt:       evt.Attempt,
		ResultMode:    evt.ResultMode,
		ReturnCode:    evt.ReturnCode,
		FailureReason: evt.FailureReason,
		OccurredAt:    evt.OccurredAt,
	})
	if err != nil {
		return fmt.Errorf("marshaling telemetry event: %w", err)
	}
	if _, err := p.JS.Publish(ctx, evt.Subject(), payload); err != nil {
		return fmt.Errorf("publishing telemetry event %s: %w", evt.Subject(), err)
	}
	return nil
}
