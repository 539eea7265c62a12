package core

import "context"

// Agent is the minimal executable unit of a turn.
//
// Run reads only the keys it needs from in and must substitute neutral defaults
// for missing ones. A unit reports failure by setting Result.Error, by returning
// a non-nil error, or by panicking; the registry treats all three the same way.
type Agent interface {
	Name() string
	Run(ctx context.Context, in ExecutionContext) (*Result, error)
}

// AgentFunc adapts a function into an Agent with a fixed name.
type AgentFunc struct {
	AgentName string
	Fn        func(ctx context.Context, in ExecutionContext) (*Result, error)
}

// Name implements Agent.
func (f AgentFunc) Name() string { return f.AgentName }

// Run implements Agent.
func (f AgentFunc) Run(ctx context.Context, in ExecutionContext) (*Result, error) {
	return f.Fn(ctx, in)
}

// TokenSink receives streamed synthesis tokens one at a time, in generation order.
type TokenSink func(ctx context.Context, token string) error
