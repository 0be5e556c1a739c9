package aggregate

import (
	"context"
	"errors"
	"fmt"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quorumlabs/votegrid/pkg/power"
	"github.com/quorumlabs/votegrid/pkg/registry"
	"github.com/quorumlabs/votegrid/pkg/source"
)

// stubQuerier answers every selector from fixed values, or fails entirely.
type stubQuerier struct {
	balance uint64
	supply  uint64
	fail    error
	calls   int
}

func (s *stubQuerier) BalanceOfAt(context.Context, string, power.Point) (uint64, error) {
	s.calls++
	if s.fail != nil {
		return 0, s.fail
	}
	return s.balance, nil
}

func (s *stubQuerier) TotalSupplyAt(context.Context, power.Point) (uint64, error) {
	s.calls++
	if s.fail != nil {
		return 0, s.fail
	}
	return s.supply, nil
}

func (s *stubQuerier) TotalStakedForAt(ctx context.Context, owner string, at power.Point) (uint64, error) {
	return s.BalanceOfAt(ctx, owner, at)
}

func (s *stubQuerier) TotalStakedAt(ctx context.Context, at power.Point) (uint64, error) {
	return s.TotalSupplyAt(ctx, at)
}

// stubResolver maps identifiers to stub queriers.
type stubResolver struct {
	queriers map[string]*stubQuerier
}

func (r *stubResolver) Resolve(_ context.Context, id string) (source.Querier, error) {
	q, ok := r.queriers[id]
	if !ok {
		return nil, errors.New("no callable target")
	}
	return q, nil
}

// allowAll is a permissive authorization gate for tests.
type allowAll struct{}

func (allowAll) Authorize(context.Context, string, registry.Operation, ...any) bool { return true }

type fixture struct {
	reg      *registry.Registry
	eng      *Engine
	resolver *stubResolver
	points   *power.ManualPointSource
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	points := power.NewManualPointSource(10)
	resolver := &stubResolver{queriers: make(map[string]*stubQuerier)}
	reg := registry.New(allowAll{}, points)
	eng := New(reg, resolver, points)
	reg.WithProber(eng)
	return &fixture{reg: reg, eng: eng, resolver: resolver, points: points}
}

func (f *fixture) addSource(t *testing.T, id string, kind power.SourceKind, weight uint64, q *stubQuerier) {
	t.Helper()
	f.resolver.queriers[id] = q
	require.NoError(t, f.reg.Add(context.Background(), "admin", id, kind, weight))
}

func TestEmptyRegistryReturnsZero(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	v, err := f.eng.BalanceOf(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, uint64(0), v)

	v, err = f.eng.TotalSupply(ctx)
	require.NoError(t, err)
	assert.Equal(t, uint64(0), v)
}

func TestUninitializedEngineReturnsZero(t *testing.T) {
	ctx := context.Background()
	var e *Engine

	v, err := e.BalanceOf(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, uint64(0), v)

	v, err = e.TotalSupplyAt(ctx, 5)
	require.NoError(t, err)
	assert.Equal(t, uint64(0), v)

	// The explicit aggregate entry point stays strict.
	_, err = e.AggregateAt(ctx, 5, power.BalanceOf, "alice")
	assert.Error(t, err)
}

func TestSingleWeightedSource(t *testing.T) {
	// One checkpointed token with weight 3, enabled from point 10; the
	// external balance at point 12 is 7 → aggregated balance 21.
	ctx := context.Background()
	f := newFixture(t)
	f.addSource(t, "token-a", power.CheckpointedToken, 3, &stubQuerier{balance: 7, supply: 100})
	f.points.Set(12)

	v, err := f.eng.BalanceOfAt(ctx, "alice", 12)
	require.NoError(t, err)
	assert.Equal(t, uint64(21), v)

	// Before the source was enabled the aggregate is zero.
	v, err = f.eng.BalanceOfAt(ctx, "alice", 9)
	require.NoError(t, err)
	assert.Equal(t, uint64(0), v)

	v, err = f.eng.TotalSupplyAt(ctx, 12)
	require.NoError(t, err)
	assert.Equal(t, uint64(300), v)
}

func TestTwoSourcesWeightedSum(t *testing.T) {
	// Weights 2 and 5 over external balances 10 and 4 → 2*10 + 5*4 = 40.
	ctx := context.Background()
	f := newFixture(t)
	f.addSource(t, "token-a", power.CheckpointedToken, 2, &stubQuerier{balance: 10, supply: 50})
	f.addSource(t, "stake-b", power.StakingHistory, 5, &stubQuerier{balance: 4, supply: 20})

	v, err := f.eng.BalanceOf(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, uint64(40), v)

	v, err = f.eng.TotalSupply(ctx)
	require.NoError(t, err)
	assert.Equal(t, uint64(2*50+5*20), v)
}

func TestDisabledSourceExcluded(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.addSource(t, "token-a", power.CheckpointedToken, 2, &stubQuerier{balance: 10})
	f.addSource(t, "stake-b", power.StakingHistory, 5, &stubQuerier{balance: 4})

	f.points.Set(20)
	require.NoError(t, f.reg.Disable(ctx, "admin", "token-a"))

	// At the disable point the source still counts.
	v, err := f.eng.BalanceOfAt(ctx, "alice", 20)
	require.NoError(t, err)
	assert.Equal(t, uint64(40), v)

	// One point later it does not.
	f.points.Set(21)
	v, err = f.eng.BalanceOf(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, uint64(20), v)
}

func TestFailFastAggregation(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	good := &stubQuerier{balance: 10}
	f.addSource(t, "token-a", power.CheckpointedToken, 2, good)
	bad := &stubQuerier{}
	f.addSource(t, "stake-b", power.StakingHistory, 5, bad)
	tail := &stubQuerier{balance: 99}
	f.addSource(t, "token-c", power.CheckpointedToken, 1, tail)

	bad.fail = errors.New("revert")
	tail.calls = 0

	_, err := f.eng.BalanceOf(ctx, "alice")
	assert.ErrorIs(t, err, power.ErrSourceCallFailed)
	// Short-circuit: sources after the failing one are never called.
	assert.Equal(t, 0, tail.calls)
}

func TestUnresolvableActiveSourceFailsAggregation(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.addSource(t, "token-a", power.CheckpointedToken, 2, &stubQuerier{balance: 10})
	delete(f.resolver.queriers, "token-a")

	_, err := f.eng.BalanceOf(ctx, "alice")
	assert.ErrorIs(t, err, power.ErrSourceCallFailed)
}

func TestOverflowIsFatal(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	t.Run("term overflow", func(t *testing.T) {
		f.addSource(t, "token-a", power.CheckpointedToken, 2, &stubQuerier{balance: math.MaxUint64})
		_, err := f.eng.BalanceOf(ctx, "alice")
		assert.ErrorIs(t, err, power.ErrArithmeticOverflow)
	})

	t.Run("sum overflow", func(t *testing.T) {
		g := newFixture(t)
		g.addSource(t, "token-a", power.CheckpointedToken, 1, &stubQuerier{balance: math.MaxUint64})
		g.addSource(t, "token-b", power.CheckpointedToken, 1, &stubQuerier{balance: 1})
		_, err := g.eng.BalanceOf(ctx, "alice")
		assert.ErrorIs(t, err, power.ErrArithmeticOverflow)
	})
}

func TestAggregationCommutativity(t *testing.T) {
	// The weighted sum must not depend on insertion order when all sources
	// answer successfully.
	ctx := context.Background()

	f := newFixture(t)
	f.addSource(t, "token-a", power.CheckpointedToken, 2, &stubQuerier{balance: 10})
	f.addSource(t, "stake-b", power.StakingHistory, 5, &stubQuerier{balance: 4})

	g := newFixture(t)
	g.addSource(t, "stake-b", power.StakingHistory, 5, &stubQuerier{balance: 4})
	g.addSource(t, "token-a", power.CheckpointedToken, 2, &stubQuerier{balance: 10})

	v1, err := f.eng.BalanceOf(ctx, "alice")
	require.NoError(t, err)
	v2, err := g.eng.BalanceOf(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, v1, v2)
}

func TestProbe(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	t.Run("accepts answering target", func(t *testing.T) {
		f.resolver.queriers["token-a"] = &stubQuerier{balance: 0, supply: 10}
		assert.NoError(t, f.eng.Probe(ctx, "token-a", power.CheckpointedToken, 10))
	})

	t.Run("rejects unresolvable target", func(t *testing.T) {
		assert.Error(t, f.eng.Probe(ctx, "ghost", power.CheckpointedToken, 10))
	})

	t.Run("rejects failing selectors", func(t *testing.T) {
		f.resolver.queriers["broken"] = &stubQuerier{fail: errors.New("revert")}
		assert.Error(t, f.eng.Probe(ctx, "broken", power.StakingHistory, 10))
	})
}

// memoryCache is an in-process ResultCache for tests.
type memoryCache struct {
	entries map[string]uint64
	hits    int
	puts    int
}

func newMemoryCache() *memoryCache {
	return &memoryCache{entries: make(map[string]uint64)}
}

func (m *memoryCache) key(fingerprint uint64, call power.CallKind, owner string, at power.Point) string {
	return fmt.Sprintf("%x:%s:%s:%s", fingerprint, call, owner, at)
}

func (m *memoryCache) Get(_ context.Context, fingerprint uint64, call power.CallKind, owner string, at power.Point) (uint64, bool) {
	v, ok := m.entries[m.key(fingerprint, call, owner, at)]
	if ok {
		m.hits++
	}
	return v, ok
}

func (m *memoryCache) Put(_ context.Context, fingerprint uint64, call power.CallKind, owner string, at power.Point, value uint64) {
	m.puts++
	m.entries[m.key(fingerprint, call, owner, at)] = value
}

func TestHistoricalCacheHit(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	cache := newMemoryCache()
	f.eng.WithCache(cache)

	q := &stubQuerier{balance: 7}
	f.addSource(t, "token-a", power.CheckpointedToken, 3, q)
	f.points.Set(20)

	v, err := f.eng.BalanceOfAt(ctx, "alice", 12)
	require.NoError(t, err)
	assert.Equal(t, uint64(21), v)
	live := q.calls

	// Second historical query is served from the cache.
	v, err = f.eng.BalanceOfAt(ctx, "alice", 12)
	require.NoError(t, err)
	assert.Equal(t, uint64(21), v)
	assert.Equal(t, live, q.calls)
	assert.Equal(t, 1, cache.hits)

	// The current point is never cached: its aggregate can still change.
	_, err = f.eng.BalanceOf(ctx, "alice")
	require.NoError(t, err)
	assert.Greater(t, q.calls, live)
	assert.Equal(t, 1, cache.puts)
}

func TestHistoricalCacheReflectsReweight(t *testing.T) {
	// A reweight applies to every point, past and future. Totals cached under
	// the old weight must not survive it.
	ctx := context.Background()
	f := newFixture(t)
	f.eng.WithCache(newMemoryCache())

	f.addSource(t, "token-a", power.CheckpointedToken, 3, &stubQuerier{balance: 7})
	f.points.Set(20)

	v, err := f.eng.BalanceOfAt(ctx, "alice", 12)
	require.NoError(t, err)
	assert.Equal(t, uint64(21), v)

	require.NoError(t, f.reg.SetWeight(ctx, "admin", "token-a", 5))

	v, err = f.eng.BalanceOfAt(ctx, "alice", 12)
	require.NoError(t, err)
	assert.Equal(t, uint64(35), v, "historical query must reflect the new weight")
}

func TestHistoricalCacheSurvivesDisable(t *testing.T) {
	// Disable closes the period at current+1 and never rewrites points below
	// current, so entries cached before it stay valid and keep being served.
	ctx := context.Background()
	f := newFixture(t)
	cache := newMemoryCache()
	f.eng.WithCache(cache)

	q := &stubQuerier{balance: 7}
	f.addSource(t, "token-a", power.CheckpointedToken, 3, q)
	f.points.Set(20)

	_, err := f.eng.BalanceOfAt(ctx, "alice", 12)
	require.NoError(t, err)
	require.NoError(t, f.reg.Disable(ctx, "admin", "token-a"))

	v, err := f.eng.BalanceOfAt(ctx, "alice", 12)
	require.NoError(t, err)
	assert.Equal(t, uint64(21), v)
	assert.Equal(t, 1, cache.hits)
}

func TestSelectorDispatchPerKind(t *testing.T) {
	// BalanceOf on a staking source must hit the staked-for selector, and
	// TotalSupply the staked selector; the stub routes both pairs to the same
	// counters, so distinct values per call kind prove the mapping.
	ctx := context.Background()
	f := newFixture(t)
	f.addSource(t, "stake-b", power.StakingHistory, 1, &stubQuerier{balance: 11, supply: 17})

	v, err := f.eng.BalanceOf(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, uint64(11), v)

	v, err = f.eng.TotalSupply(ctx)
	require.NoError(t, err)
	assert.Equal(t, uint64(17), v)
}
