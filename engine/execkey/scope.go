// Package execkey defines ExecutionKey and the Scope tree it is addressed
// against (§3 of the spec).
package execkey

import "strings"

// Scope names one node of the workflow's lexical tree: the workflow itself,
// a scatter block, or a call. Fully-qualified names are dot-joined, mirroring
// the teacher's FQN conventions elsewhere in the corpus.
type Scope struct {
	FullyQualifiedName string
	Parent             *Scope
	IsScatter          bool
	IsCollector        bool
}

// NewScope creates a child scope under parent with the given local name.
func NewScope(parent *Scope, localName string, isScatter bool) *Scope {
	fqn := localName
	if parent != nil && parent.FullyQualifiedName != "" {
		fqn = parent.FullyQualifiedName + "." + localName
	}
	return &Scope{FullyQualifiedName: fqn, Parent: parent, IsScatter: isScatter}
}

// ScatterAncestor returns the nearest enclosing scatter scope, if any. Per
// the spec's Non-goals/Open Questions, only a single level of scatter is
// supported: a second scatter ancestor above the first is never searched.
func (s *Scope) ScatterAncestor() (*Scope, bool) {
	if s == nil {
		return nil, false
	}
	if s.IsScatter {
		return s, true
	}
	if s.Parent == nil {
		return nil, false
	}
	return s.Parent.ScatterAncestor()
}

// ClosestCommonAncestor walks both scope chains to find the nearest scope
// that is an ancestor of (or equal to) both a and b. Used by the Dependency
// Resolver (§4.2) to decide whether an upstream dependency crosses a Scatter
// boundary.
func ClosestCommonAncestor(a, b *Scope) *Scope {
	ancestorsA := ancestorChain(a)
	for cur := b; cur != nil; cur = cur.Parent {
		if _, ok := ancestorsA[cur.FullyQualifiedName]; ok {
			return cur
		}
	}
	return nil
}

func ancestorChain(s *Scope) map[string]*Scope {
	chain := make(map[string]*Scope)
	for cur := s; cur != nil; cur = cur.Parent {
		chain[cur.FullyQualifiedName] = cur
	}
	return chain
}

// Segments splits the fully-qualified name into its dot-separated parts.
func (s *Scope) Segments() []string {
	if s == nil || s.FullyQualifiedName == "" {
		return nil
	}
	return strings.Split(s.FullyQualifiedName, ".")
}

func (s *Scope) String() string {
	if s == nil {
		return ""
	}
	return s.FullyQualifiedName
}
