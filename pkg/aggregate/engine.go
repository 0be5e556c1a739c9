// Package aggregate computes weighted sums over active power sources at a
// given point by invoking each source's external query interface.
package aggregate

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/quorumlabs/votegrid/pkg/power"
	"github.com/quorumlabs/votegrid/pkg/registry"
	"github.com/quorumlabs/votegrid/pkg/source"
)

// sanityProbeOwner is the representative owner argument used by the
// registration-time probe. Any well-formed identifier works; sources must
// answer balance queries for unknown owners with zero, not an error.
const sanityProbeOwner = "votegrid:probe"

// Engine aggregates voting power across the registry's active sources.
//
// Aggregation is fail-fast: the first failing external call aborts the whole
// query with power.ErrSourceCallFailed and no partial total. Skipping failing
// sources would silently change the voting semantics being aggregated.
// ResultCache stores aggregate results for historical points. Entries are
// keyed by the registry fingerprint in addition to the query itself: a
// reweight changes the fingerprint and so retires every total computed under
// the old weights.
type ResultCache interface {
	Get(ctx context.Context, fingerprint uint64, call power.CallKind, owner string, at power.Point) (uint64, bool)
	Put(ctx context.Context, fingerprint uint64, call power.CallKind, owner string, at power.Point, value uint64)
}

type Engine struct {
	reg      *registry.Registry
	resolver source.Resolver
	points   power.PointSource
	cache    ResultCache
	log      *slog.Logger
}

// New creates an engine over the given registry.
func New(reg *registry.Registry, resolver source.Resolver, points power.PointSource) *Engine {
	return &Engine{
		reg:      reg,
		resolver: resolver,
		points:   points,
		log:      slog.Default().With("component", "aggregate"),
	}
}

// WithCache enables the read-through cache for historical points.
func (e *Engine) WithCache(c ResultCache) *Engine {
	e.cache = c
	return e
}

// initialized reports whether the engine is wired to a registry. The
// conventional balance accessors degrade to zero rather than failing when it
// is not, so they stay substitutable for ordinary balance queries.
func (e *Engine) initialized() bool {
	return e != nil && e.reg != nil && e.resolver != nil && e.points != nil
}

// AggregateAt computes the weighted sum for call at the given point. Sources
// are visited in insertion order; each active source's value is multiplied by
// its weight and accumulated with overflow-checked arithmetic.
func (e *Engine) AggregateAt(ctx context.Context, at power.Point, call power.CallKind, owner string) (uint64, error) {
	if !e.initialized() {
		return 0, errors.New("aggregation engine not initialized")
	}

	historical := at < e.points.Current()
	var fingerprint uint64
	if e.cache != nil && historical {
		fingerprint = e.reg.Fingerprint()
		if v, ok := e.cache.Get(ctx, fingerprint, call, owner, at); ok {
			return v, nil
		}
	}

	var total uint64
	for _, src := range e.reg.Active(at) {
		q, err := e.resolver.Resolve(ctx, src.ID)
		if err != nil {
			return 0, fmt.Errorf("%w: %s: %v", power.ErrSourceCallFailed, src.ID, err)
		}
		v, err := source.Select(ctx, q, src.Kind, call, owner, at)
		if err != nil {
			if errors.Is(err, power.ErrInvalidSelector) {
				return 0, err
			}
			return 0, fmt.Errorf("%w: %s: %v", power.ErrSourceCallFailed, src.ID, err)
		}

		term, err := power.MulChecked(v, src.Weight)
		if err != nil {
			return 0, fmt.Errorf("source %s: %w", src.ID, err)
		}
		total, err = power.AddChecked(total, term)
		if err != nil {
			return 0, err
		}
	}

	if e.cache != nil && historical {
		e.cache.Put(ctx, fingerprint, call, owner, at, total)
	}
	return total, nil
}

// BalanceOfAt returns the owner's aggregated voting power at the given point.
// Returns zero when the engine is uninitialized.
func (e *Engine) BalanceOfAt(ctx context.Context, owner string, at power.Point) (uint64, error) {
	if !e.initialized() {
		return 0, nil
	}
	return e.AggregateAt(ctx, at, power.BalanceOf, owner)
}

// TotalSupplyAt returns the aggregated total power at the given point.
// Returns zero when the engine is uninitialized.
func (e *Engine) TotalSupplyAt(ctx context.Context, at power.Point) (uint64, error) {
	if !e.initialized() {
		return 0, nil
	}
	return e.AggregateAt(ctx, at, power.TotalSupply, "")
}

// BalanceOf is BalanceOfAt evaluated at the current point.
func (e *Engine) BalanceOf(ctx context.Context, owner string) (uint64, error) {
	if !e.initialized() {
		return 0, nil
	}
	return e.BalanceOfAt(ctx, owner, e.points.Current())
}

// TotalSupply is TotalSupplyAt evaluated at the current point.
func (e *Engine) TotalSupply(ctx context.Context) (uint64, error) {
	if !e.initialized() {
		return 0, nil
	}
	return e.TotalSupplyAt(ctx, e.points.Current())
}

// Compile-time interface check.
var _ registry.Prober = (*Engine)(nil)

// Probe implements registry.Prober. It requires the identifier to resolve to
// a callable target and both selector shapes of the declared kind to answer
// at the current point.
func (e *Engine) Probe(ctx context.Context, id string, kind power.SourceKind, at power.Point) error {
	if !e.initialized() {
		return errors.New("aggregation engine not initialized")
	}

	q, err := e.resolver.Resolve(ctx, id)
	if err != nil {
		return fmt.Errorf("no callable target: %w", err)
	}
	if _, err := source.Select(ctx, q, kind, power.BalanceOf, sanityProbeOwner, at); err != nil {
		return fmt.Errorf("owner balance selector: %w", err)
	}
	if _, err := source.Select(ctx, q, kind, power.TotalSupply, "", at); err != nil {
		return fmt.Errorf("total supply selector: %w", err)
	}
	return nil
}
