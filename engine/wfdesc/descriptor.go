// Package wfdesc holds the WorkflowDescriptor value (§3): the immutable
// identity and configuration a workflow instance carries for its whole
// lifetime.
package wfdesc

import (
	"github.com/powelleric/cromwell/engine/core"
	"github.com/powelleric/cromwell/engine/symbol"
)

// Options is the opaque workflow-options bag (WorkflowOptionsJson in the
// teacher's terminology), kept as a newtype so it is never accidentally
// passed where a plain map of task inputs is expected.
type Options map[string]any

// WorkflowDescriptor is immutable once created.
type WorkflowDescriptor struct {
	ID      core.ID
	Graph   symbol.Graph
	Options Options
}
