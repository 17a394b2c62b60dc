// Package rules evaluates integration event filters. A filter is a boolean
// expr-lang expression evaluated against the webhook payload, e.g.
// `event == "message.created" && payload.channel != "internal"`.
package rules

import (
	"fmt"
	"sync"

	"github.com/expr-lang/expr"
	"github.com/expr-lang/expr/vm"
)

// Engine compiles and caches filter expressions. Compilation is cached by
// source text; the cache only grows with the number of distinct filters.
type Engine struct {
	mu    sync.RWMutex
	cache map[string]*vm.Program
}

// NewEngine creates a new filter engine
func NewEngine() *Engine {
	return &Engine{cache: make(map[string]*vm.Program)}
}

// Validate checks that an expression compiles and yields a boolean.
func (e *Engine) Validate(source string) error {
	_, err := e.compile(source)
	return err
}

// EvaluateBool runs a filter against an event environment. An empty source
// matches everything.
func (e *Engine) EvaluateBool(source string, env map[string]interface{}) (bool, error) {
	if source == "" {
		return true, nil
	}

	program, err := e.compile(source)
	if err != nil {
		return false, err
	}

	output, err := expr.Run(program, env)
	if err != nil {
		return false, fmt.Errorf("filter evaluation failed: %w", err)
	}

	result, ok := output.(bool)
	if !ok {
		return false, fmt.Errorf("filter must evaluate to a boolean, got %T", output)
	}
	return result, nil
}

func (e *Engine) compile(source string) (*vm.Program, error) {
	e.mu.RLock()
	program, hit := e.cache[source]
	e.mu.RUnlock()
	if hit {
		return program, nil
	}

	program, err := expr.Compile(source,
		expr.AllowUndefinedVariables(),
		expr.AsBool(),
	)
	if err != nil {
		return nil, fmt.Errorf("invalid filter expression: %w", err)
	}

	e.mu.Lock()
	e.cache[source] = program
	e.mu.Unlock()
	return program, nil
}
