// Package forward gates execution of opaque external actions on the sender
// holding voting power.
package forward

import (
	"context"
	"log/slog"

	"github.com/google/uuid"

	"github.com/quorumlabs/votegrid/pkg/aggregate"
	"github.com/quorumlabs/votegrid/pkg/power"
)

// Action is an opaque unit of work forwarded on behalf of a sender. The gate
// never interprets the payload.
type Action struct {
	ID      uuid.UUID
	Sender  string
	Payload []byte
}

// NewAction wraps a payload for the sender with a fresh identifier.
func NewAction(sender string, payload []byte) Action {
	return Action{ID: uuid.New(), Sender: sender, Payload: payload}
}

// Executor runs an action externally. exclude lists addresses the executor
// must not touch on the sender's behalf; the gate itself keeps no state.
type Executor interface {
	Execute(ctx context.Context, action Action, exclude []string) error
}

// Gate exposes the "has power" predicate and forwards actions through it.
type Gate struct {
	engine   *aggregate.Engine
	executor Executor
	exclude  []string
	log      *slog.Logger
}

// New creates a gate over the engine. exclude is handed to the executor on
// every forwarded action.
func New(engine *aggregate.Engine, executor Executor, exclude []string) *Gate {
	return &Gate{
		engine:   engine,
		executor: executor,
		exclude:  exclude,
		log:      slog.Default().With("component", "forward"),
	}
}

// CanAct reports whether the sender holds any voting power at the current
// point. Before the engine is initialized it degrades to false rather than
// failing, as does any query error.
func (g *Gate) CanAct(ctx context.Context, sender string) bool {
	if g == nil || g.engine == nil {
		return false
	}
	balance, err := g.engine.BalanceOf(ctx, sender)
	if err != nil {
		g.log.WarnContext(ctx, "power check failed", "sender", sender, "error", err)
		return false
	}
	return balance > 0
}

// Act forwards the action to the executor. It fails with
// power.ErrActionDenied when the sender holds no power.
func (g *Gate) Act(ctx context.Context, action Action) error {
	if !g.CanAct(ctx, action.Sender) {
		return power.ErrActionDenied
	}
	g.log.InfoContext(ctx, "action forwarded", "action_id", action.ID.String(), "sender", action.Sender)
	return g.executor.Execute(ctx, action, g.exclude)
}
