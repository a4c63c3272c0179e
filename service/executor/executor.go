// Package executor defines the pluggable per-action-type side-effect
// performers. The core owns none of them; concrete email/call/CRM/document
// senders register here and are looked up by action type at dispatch time.
package executor

import (
	"context"

	"github.com/sk-go/actioncore/model/action"
)

// Service performs the actual side effect of one action type.
type Service interface {
	Execute(ctx context.Context, a *action.Action) (*action.Result, error)
}

// Func adapts a plain function to Service.
type Func func(ctx context.Context, a *action.Action) (*action.Result, error)

func (f Func) Execute(ctx context.Context, a *action.Action) (*action.Result, error) {
	return f(ctx, a)
}
