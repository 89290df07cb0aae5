// Package auth turns bearer tokens into the Actor identity the ledger
// consumes. It carries no authorization logic of its own: the ledger
// core only ever sees the admin/locked booleans.
package auth

import (
	"context"
	"errors"

	"github.com/gridsplit/gridsplit/pkg/ledger"
)

type contextKey string

const actorKey contextKey = "actor"

// WithActor attaches an Actor to the context.
func WithActor(ctx context.Context, a ledger.Actor) context.Context {
	return context.WithValue(ctx, actorKey, a)
}

// GetActor retrieves the Actor from the context.
func GetActor(ctx context.Context) (ledger.Actor, error) {
	a, ok := ctx.Value(actorKey).(ledger.Actor)
	if !ok {
		return ledger.Actor{}, errors.New("no actor in context")
	}
	return a, nil
}
