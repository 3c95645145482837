// Package expr implements the Expression evaluation consumed by the Symbol
// Resolver (C3) and Scatter Expander (C4). The workflow language's parser
// and AST are external collaborators (§1); this package supplies the
// concrete Expression.evaluate(lookup, functions) contract those components
// call against, backed by CEL.
package expr

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/dgraph-io/ristretto/v2"
	"github.com/google/cel-go/cel"
	"github.com/google/cel-go/common/types/ref"

	"github.com/powelleric/cromwell/engine/core"
)

const defaultCostLimit = 1000

// Option configures an Evaluator.
type Option func(*Evaluator)

// WithCostLimit caps the CEL interpreter's per-evaluation cost budget,
// guarding against runaway expressions written by a workflow author.
func WithCostLimit(limit uint64) Option {
	return func(e *Evaluator) { e.costLimit = limit }
}

// Evaluator evaluates scatter-collection and identifier expressions against
// a variable binding supplied by the caller (the "lookup" side of
// Expression.evaluate(lookup, functions)).
type Evaluator struct {
	costLimit    uint64
	programCache *ristretto.Cache[string, cel.Program]
}

// NewEvaluator builds an Evaluator with a compiled-program cache.
func NewEvaluator(opts ...Option) (*Evaluator, error) {
	e := &Evaluator{costLimit: defaultCostLimit}
	for _, opt := range opts {
		opt(e)
	}
	cache, err := ristretto.NewCache(&ristretto.Config[string, cel.Program]{
		NumCounters: 10_000,
		MaxCost:     1_000,
		BufferItems: 64,
	})
	if err != nil {
		return nil, fmt.Errorf("creating expression program cache: %w", err)
	}
	e.programCache = cache
	return e, nil
}

// Evaluate compiles (or reuses a cached compilation of) expression against
// the variable names present in vars, then runs it with vars bound as the
// CEL activation. The result is converted into a core.Value.
func (e *Evaluator) Evaluate(ctx context.Context, expression string, vars map[string]any) (core.Value, error) {
	key := cacheKey(expression, vars)
	prg, ok := e.programCache.Get(key)
	if !ok {
		var err error
		prg, err = e.compile(expression, vars)
		if err != nil {
			return core.Value{}, err
		}
		e.programCache.Set(key, prg, 1)
	}
	out, _, err := prg.ContextEval(ctx, vars)
	if err != nil {
		return core.Value{}, fmt.Errorf("evaluating expression %q: %w", expression, err)
	}
	return fromCEL(out)
}

func (e *Evaluator) compile(expression string, vars map[string]any) (cel.Program, error) {
	decls := make([]cel.EnvOption, 0, len(vars))
	for name := range vars {
		decls = append(decls, cel.Variable(name, cel.DynType))
	}
	env, err := cel.NewEnv(decls...)
	if err != nil {
		return nil, fmt.Errorf("building expression environment: %w", err)
	}
	ast, iss := env.Compile(expression)
	if iss != nil && iss.Err() != nil {
		return nil, fmt.Errorf("compiling expression %q: %w", expression, iss.Err())
	}
	prg, err := env.Program(ast, cel.CostLimit(e.costLimit))
	if err != nil {
		return nil, fmt.Errorf("planning expression %q: %w", expression, err)
	}
	return prg, nil
}

func cacheKey(expression string, vars map[string]any) string {
	names := make([]string, 0, len(vars))
	for name := range vars {
		names = append(names, name)
	}
	sort.Strings(names)
	return expression + "|" + strings.Join(names, ",")
}

func fromCEL(val ref.Val) (core.Value, error) {
	return toValue(val.Value())
}

func toValue(v any) (core.Value, error) {
	switch t := v.(type) {
	case []ref.Val:
		elems := make([]core.Value, 0, len(t))
		for _, item := range t {
			elemVal, err := toValue(item.Value())
			if err != nil {
				return core.Value{}, err
			}
			elems = append(elems, elemVal)
		}
		return core.Value{Type: core.TypeArray, Raw: elems}, nil
	case []any:
		elems := make([]core.Value, 0, len(t))
		for _, item := range t {
			elemVal, err := toValue(item)
			if err != nil {
				return core.Value{}, err
			}
			elems = append(elems, elemVal)
		}
		return core.Value{Type: core.TypeArray, Raw: elems}, nil
	case map[string]any:
		m := make(map[string]core.Value, len(t))
		for k, item := range t {
			itemVal, err := toValue(item)
			if err != nil {
				return core.Value{}, err
			}
			m[k] = itemVal
		}
		return core.Value{Type: core.TypeMap, Raw: m}, nil
	default:
		return core.NewValue(v), nil
	}
}
