// Package symbol implements the Symbol type (§3) and the Symbol Resolver
// (C3, §4.3): strict-precedence identifier resolution plus input coercion.
package symbol

import "github.com/powelleric/cromwell/engine/core"

// Symbol is written once at creation (workflow/call inputs) or when a call
// produces outputs; it is never mutated afterward (§3). A declared input
// carries Expression (its unevaluated source text, bound against the
// declaring scope's lexical environment at call time); an output, or an
// input that has already been evaluated and coerced, carries Value instead.
type Symbol struct {
	Scope      string
	Name       string
	Index      *int
	IsInput    bool
	Type       core.Type
	Expression string
	Value      *core.Value
}

// FullyQualifiedName returns scope.name, the identity DataAccess indexes
// symbols by.
func (s *Symbol) FullyQualifiedName() string {
	return s.Scope + "." + s.Name
}
