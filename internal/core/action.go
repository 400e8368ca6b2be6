package core

import "context"

// Invocation is a `uses:` step about to run.
type Invocation struct {
	Request    StepRequest
	With       map[string]string
	Repository string
	Revision   string
}

// Input returns a with-input or def when it is missing or empty.
func (inv Invocation) Input(key, def string) string {
	if v := inv.With[key]; v != "" {
		return v
	}
	return def
}

// Action is a built-in step implementation.
type Action interface {
	Run(ctx context.Context, inv Invocation) (StepOutput, error)
}

// ActionFunc adapts a function to Action.
type ActionFunc func(ctx context.Context, inv Invocation) (StepOutput, error)

func (f ActionFunc) Run(ctx context.Context, inv Invocation) (StepOutput, error) {
	return f(ctx, inv)
}

// ActionSet maps `uses:` names to actions.
type ActionSet map[string]Action
