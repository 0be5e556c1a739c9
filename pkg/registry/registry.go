// Package registry owns the set of power sources, their declared kind,
// weight, and activation history. It is the source of truth the aggregation
// engine reads from.
package registry

import (
	"context"
	"fmt"
	"hash/fnv"
	"log/slog"
	"sync"

	"github.com/quorumlabs/votegrid/pkg/history"
	"github.com/quorumlabs/votegrid/pkg/power"
)

// MaxSources bounds the registry. Aggregation iterates every active source,
// so the bound caps the cost of a single query.
const MaxSources = 20

// Operation names an administrative mutation for the authorization gate and
// the audit trail.
type Operation string

const (
	OpAddSource     Operation = "add_source"
	OpChangeWeight  Operation = "change_weight"
	OpDisableSource Operation = "disable_source"
	OpEnableSource  Operation = "enable_source"
)

// Authorizer is the external permission gate. A false result fails the
// operation with power.ErrAccessDenied. The args carry operation-specific
// context: (id, weight) for add, (newWeight, prevWeight) for reweight,
// (0) for disable and (1) for enable.
type Authorizer interface {
	Authorize(ctx context.Context, sender string, op Operation, args ...any) bool
}

// Prober is the sanity check run against a candidate source before it is
// accepted. Implemented by the aggregation engine.
type Prober interface {
	Probe(ctx context.Context, id string, kind power.SourceKind, at power.Point) error
}

// Journal persists registry mutations as they commit. Implementations live in
// pkg/store; a nil journal keeps the registry memory-only.
type Journal interface {
	SaveSource(ctx context.Context, id string, kind power.SourceKind, weight uint64, enabledFrom power.Point) error
	UpdateWeight(ctx context.Context, id string, weight uint64) error
	AppendPeriod(ctx context.Context, id string, from power.Point) error
	ClosePeriod(ctx context.Context, id string, on power.Point) error
}

// Source is one registered power source. Owned exclusively by the registry.
type Source struct {
	Kind    power.SourceKind
	Weight  uint64
	History *history.History
}

// Details is the read-accessor view of a source.
type Details struct {
	Kind       power.SourceKind
	Weight     uint64
	HistoryLen int
}

// ActiveSource is one source selected for aggregation at a given point.
type ActiveSource struct {
	ID     string
	Kind   power.SourceKind
	Weight uint64
}

// Record is the persisted form of a source, used to restore the registry
// from a journal snapshot at startup.
type Record struct {
	ID      string
	Kind    power.SourceKind
	Weight  uint64
	Periods []history.Period
}

// Registry tracks sources in insertion order. Identifiers are never removed
// and never reordered; disabling is the only removal primitive, which keeps
// historical queries deterministic.
//
// Mutations serialize on the write lock: each completes fully before the next
// begins and is observed as a single indivisible transition. Reads take the
// read lock and never block each other.
type Registry struct {
	mu      sync.RWMutex
	order   []string
	sources map[string]*Source

	auth    Authorizer
	prober  Prober
	points  power.PointSource
	journal Journal
	log     *slog.Logger
}

// New creates an empty registry. A prober must be attached with WithProber
// before sources can be added; the aggregation engine provides one.
func New(auth Authorizer, points power.PointSource) *Registry {
	return &Registry{
		sources: make(map[string]*Source),
		auth:    auth,
		points:  points,
		log:     slog.Default().With("component", "registry"),
	}
}

// WithProber attaches the sanity probe. Separate from New because the engine
// implementing it is constructed over this registry.
func (r *Registry) WithProber(p Prober) *Registry {
	r.prober = p
	return r
}

// WithJournal enables write-through persistence of mutations.
func (r *Registry) WithJournal(j Journal) *Registry {
	r.journal = j
	return r
}

// Add registers a new source and opens its first activation period at the
// current point.
func (r *Registry) Add(ctx context.Context, sender, id string, kind power.SourceKind, weight uint64) error {
	if !r.auth.Authorize(ctx, sender, OpAddSource, id, weight) {
		return power.ErrAccessDenied
	}
	if !kind.Valid() {
		return power.ErrInvalidSourceKind
	}
	if weight == 0 {
		return power.ErrZeroWeight
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.points.Current()

	// Best-effort compatibility check, not a security guarantee: the source
	// can still fail at arbitrary points later.
	if r.prober == nil {
		return fmt.Errorf("%w: no prober attached", power.ErrInvalidSource)
	}
	if err := r.prober.Probe(ctx, id, kind, now); err != nil {
		return fmt.Errorf("%w: %v", power.ErrInvalidSource, err)
	}
	if _, exists := r.sources[id]; exists {
		return power.ErrSourceAlreadyAdded
	}
	if len(r.order) == MaxSources {
		return power.ErrTooManySources
	}

	if r.journal != nil {
		if err := r.journal.SaveSource(ctx, id, kind, weight, now); err != nil {
			return fmt.Errorf("persist source: %w", err)
		}
	}

	src := &Source{Kind: kind, Weight: weight, History: &history.History{}}
	if err := src.History.StartPeriod(now); err != nil {
		return err
	}
	r.order = append(r.order, id)
	r.sources[id] = src

	r.log.InfoContext(ctx, "source added",
		"id", id, "kind", kind.String(), "weight", weight, "point", now.String(), "sender", sender)
	return nil
}

// SetWeight replaces a source's weight in place. History is untouched, so the
// new weight applies to every point, past and future.
func (r *Registry) SetWeight(ctx context.Context, sender, id string, weight uint64) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	src, exists := r.sources[id]
	if !exists {
		return power.ErrNoPowerSource
	}
	if !r.auth.Authorize(ctx, sender, OpChangeWeight, weight, src.Weight) {
		return power.ErrAccessDenied
	}
	if weight == 0 {
		return power.ErrZeroWeight
	}
	if weight == src.Weight {
		return power.ErrSameWeight
	}

	if r.journal != nil {
		if err := r.journal.UpdateWeight(ctx, id, weight); err != nil {
			return fmt.Errorf("persist weight: %w", err)
		}
	}

	prev := src.Weight
	src.Weight = weight

	r.log.InfoContext(ctx, "weight changed", "id", id, "weight", weight, "previous", prev, "sender", sender)
	return nil
}

// Disable closes the source's open period at the point after the current one.
// A read issued at the same point as the disable still observes the
// pre-disable state; this is the consistency boundary, not an off-by-one.
func (r *Registry) Disable(ctx context.Context, sender, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	src, exists := r.sources[id]
	if !exists {
		return power.ErrNoPowerSource
	}
	if !r.auth.Authorize(ctx, sender, OpDisableSource, 0) {
		return power.ErrAccessDenied
	}

	// Validate, persist, then mutate: a failed journal write must leave the
	// in-memory history untouched so the operation stays retryable.
	on := r.points.Current().Next()
	if err := src.History.CanStopPeriod(on); err != nil {
		return err
	}
	if r.journal != nil {
		if err := r.journal.ClosePeriod(ctx, id, on); err != nil {
			return fmt.Errorf("persist period close: %w", err)
		}
	}
	if err := src.History.StopPeriod(on); err != nil {
		return err
	}

	r.log.InfoContext(ctx, "source disabled", "id", id, "effective", on.String(), "sender", sender)
	return nil
}

// Enable opens a new activation period starting at the current point.
func (r *Registry) Enable(ctx context.Context, sender, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	src, exists := r.sources[id]
	if !exists {
		return power.ErrNoPowerSource
	}
	if !r.auth.Authorize(ctx, sender, OpEnableSource, 1) {
		return power.ErrAccessDenied
	}

	from := r.points.Current()
	if err := src.History.CanStartPeriod(from); err != nil {
		return err
	}
	if r.journal != nil {
		if err := r.journal.AppendPeriod(ctx, id, from); err != nil {
			return fmt.Errorf("persist period open: %w", err)
		}
	}
	if err := src.History.StartPeriod(from); err != nil {
		return err
	}

	r.log.InfoContext(ctx, "source enabled", "id", id, "from", from.String(), "sender", sender)
	return nil
}

// Details returns the declared kind, weight and history length of a source.
func (r *Registry) Details(id string) (Details, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	src, exists := r.sources[id]
	if !exists {
		return Details{}, power.ErrNoPowerSource
	}
	return Details{Kind: src.Kind, Weight: src.Weight, HistoryLen: src.History.Len()}, nil
}

// ActivationPeriod returns the i-th activation period of a source.
func (r *Registry) ActivationPeriod(id string, i int) (history.Period, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	src, exists := r.sources[id]
	if !exists {
		return history.Period{}, power.ErrNoPowerSource
	}
	return src.History.Period(i)
}

// Count returns the number of registered sources, enabled or not.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.order)
}

// Order returns the source identifiers in insertion order.
func (r *Registry) Order() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, len(r.order))
	copy(out, r.order)
	return out
}

// Fingerprint digests the registered sources: identifier, kind and weight in
// insertion order. A reweight applies to every point retroactively, so any
// consumer caching point-in-time aggregates must key them by this digest;
// enable and disable only touch points at or after the current one and leave
// the digest unchanged.
func (r *Registry) Fingerprint() uint64 {
	r.mu.RLock()
	defer r.mu.RUnlock()

	h := fnv.New64a()
	for _, id := range r.order {
		src := r.sources[id]
		fmt.Fprintf(h, "%s\x00%s\x00%d\x00", id, src.Kind, src.Weight)
	}
	return h.Sum64()
}

// EnabledAt reports whether a source was active at the given point.
func (r *Registry) EnabledAt(id string, at power.Point) (bool, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	src, exists := r.sources[id]
	if !exists {
		return false, power.ErrNoPowerSource
	}
	return src.History.EnabledAt(at), nil
}

// Active returns the sources enabled at the given point, in insertion order.
// The slice is a consistent snapshot: a concurrent mutation is either fully
// visible or not at all.
func (r *Registry) Active(at power.Point) []ActiveSource {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []ActiveSource
	for _, id := range r.order {
		src := r.sources[id]
		if src.History.EnabledAt(at) {
			out = append(out, ActiveSource{ID: id, Kind: src.Kind, Weight: src.Weight})
		}
	}
	return out
}

// Restore rebuilds the registry from a persisted snapshot. It refuses
// snapshots violating the structural invariants and must be called before
// the registry serves traffic.
func (r *Registry) Restore(records []Record) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if len(r.order) != 0 {
		return fmt.Errorf("restore into non-empty registry")
	}
	if len(records) > MaxSources {
		return power.ErrTooManySources
	}

	order := make([]string, 0, len(records))
	sources := make(map[string]*Source, len(records))
	for _, rec := range records {
		if _, dup := sources[rec.ID]; dup {
			return fmt.Errorf("%w: %s", power.ErrSourceAlreadyAdded, rec.ID)
		}
		if !rec.Kind.Valid() {
			return fmt.Errorf("%w: %s", power.ErrInvalidSourceKind, rec.ID)
		}
		if rec.Weight == 0 {
			return fmt.Errorf("%w: %s", power.ErrZeroWeight, rec.ID)
		}
		h, err := history.Restore(rec.Periods)
		if err != nil {
			return fmt.Errorf("source %s: %w", rec.ID, err)
		}
		order = append(order, rec.ID)
		sources[rec.ID] = &Source{Kind: rec.Kind, Weight: rec.Weight, History: h}
	}

	r.order = order
	r.sources = sources
	r.log.Info("registry restored", "sources", len(order))
	return nil
}
