// Package source defines the read-only query surface of external power
// sources and an HTTP client implementation that speaks to a source daemon.
package source

import (
	"context"

	"github.com/quorumlabs/votegrid/pkg/power"
)

// Querier is the full selector set across both source shapes. A concrete
// source only answers the pair matching its declared kind; the engine
// dispatches on (call kind, source kind) and never invokes the other pair.
//
// Every selector is read-only and side-effect free. A call failure is
// distinguishable from a call returning zero.
type Querier interface {
	// CheckpointedToken selectors.
	BalanceOfAt(ctx context.Context, owner string, at power.Point) (uint64, error)
	TotalSupplyAt(ctx context.Context, at power.Point) (uint64, error)

	// StakingHistory selectors.
	TotalStakedForAt(ctx context.Context, owner string, at power.Point) (uint64, error)
	TotalStakedAt(ctx context.Context, at power.Point) (uint64, error)
}

// Resolver maps a source identifier to its querier. Resolve fails when the
// identifier does not refer to a callable target; the registry's sanity probe
// relies on that to reject dead addresses at registration time.
type Resolver interface {
	Resolve(ctx context.Context, id string) (Querier, error)
}

// Select invokes the selector matching (kind, call) on q. The four valid
// combinations map to the four native selectors; anything else fails with
// power.ErrInvalidSelector.
func Select(ctx context.Context, q Querier, kind power.SourceKind, call power.CallKind, owner string, at power.Point) (uint64, error) {
	switch {
	case kind == power.CheckpointedToken && call == power.BalanceOf:
		return q.BalanceOfAt(ctx, owner, at)
	case kind == power.CheckpointedToken && call == power.TotalSupply:
		return q.TotalSupplyAt(ctx, at)
	case kind == power.StakingHistory && call == power.BalanceOf:
		return q.TotalStakedForAt(ctx, owner, at)
	case kind == power.StakingHistory && call == power.TotalSupply:
		return q.TotalStakedAt(ctx, at)
	default:
		return 0, power.ErrInvalidSelector
	}
}
