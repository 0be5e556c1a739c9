package source

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quorumlabs/votegrid/pkg/power"
)

// newTestDaemon serves a single source "token-a" with fixed selector values
// and counts requests per selector.
func newTestDaemon(t *testing.T, hits *atomic.Int64) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("GET /v1/sources/token-a", func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(sourceDescriptor{ID: "token-a", Kind: "checkpointed-token"})
	})
	mux.HandleFunc("GET /v1/sources/token-a/{selector}", func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		switch r.PathValue("selector") {
		case "balance":
			_ = json.NewEncoder(w).Encode(valueResponse{Value: 7})
		case "supply":
			_ = json.NewEncoder(w).Encode(valueResponse{Value: 100})
		case "staked-for":
			_ = json.NewEncoder(w).Encode(valueResponse{Value: 3})
		case "staked":
			_ = json.NewEncoder(w).Encode(valueResponse{Value: 30})
		default:
			w.WriteHeader(http.StatusNotFound)
			_ = json.NewEncoder(w).Encode(&DaemonError{Code: "not_found", Msg: "unknown selector"})
		}
	})
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		_ = json.NewEncoder(w).Encode(&DaemonError{Code: "not_found", Msg: "unknown source"})
	})
	return httptest.NewServer(mux)
}

func TestClientSelectors(t *testing.T) {
	var hits atomic.Int64
	srv := newTestDaemon(t, &hits)
	defer srv.Close()

	ctx := context.Background()
	c := NewClient(srv.URL, "token-a", nil)

	v, err := c.BalanceOfAt(ctx, "alice", 12)
	require.NoError(t, err)
	assert.Equal(t, uint64(7), v)

	v, err = c.TotalSupplyAt(ctx, 12)
	require.NoError(t, err)
	assert.Equal(t, uint64(100), v)

	v, err = c.TotalStakedForAt(ctx, "alice", 12)
	require.NoError(t, err)
	assert.Equal(t, uint64(3), v)

	v, err = c.TotalStakedAt(ctx, 12)
	require.NoError(t, err)
	assert.Equal(t, uint64(30), v)
}

func TestClientErrorVersusZero(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /v1/sources/token-a/balance", func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(valueResponse{Value: 0})
	})
	mux.HandleFunc("GET /v1/sources/token-a/supply", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
		_ = json.NewEncoder(w).Encode(&DaemonError{Code: "internal", Msg: "state unavailable"})
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	ctx := context.Background()
	c := NewClient(srv.URL, "token-a", nil)

	// A zero result is a successful call.
	v, err := c.BalanceOfAt(ctx, "alice", 5)
	require.NoError(t, err)
	assert.Equal(t, uint64(0), v)

	// A failed call is an error, never a zero.
	_, err = c.TotalSupplyAt(ctx, 5)
	require.Error(t, err)
	assert.True(t, IsDaemonError(err, "internal"))
}

func TestClientUnreachableDaemon(t *testing.T) {
	c := NewClient("http://127.0.0.1:1", "token-a", nil)
	_, err := c.BalanceOfAt(context.Background(), "alice", 1)
	assert.Error(t, err)
}

func TestClientHistoricalCache(t *testing.T) {
	var hits atomic.Int64
	srv := newTestDaemon(t, &hits)
	defer srv.Close()

	ctx := context.Background()
	points := power.NewManualPointSource(100)
	c := NewClient(srv.URL, "token-a", points)

	// Point 12 is below current: the second query is served from cache.
	_, err := c.BalanceOfAt(ctx, "alice", 12)
	require.NoError(t, err)
	_, err = c.BalanceOfAt(ctx, "alice", 12)
	require.NoError(t, err)
	assert.Equal(t, int64(1), hits.Load())

	// The current point is never cached.
	_, err = c.BalanceOfAt(ctx, "alice", 100)
	require.NoError(t, err)
	_, err = c.BalanceOfAt(ctx, "alice", 100)
	require.NoError(t, err)
	assert.Equal(t, int64(3), hits.Load())
}

func TestHTTPResolver(t *testing.T) {
	var hits atomic.Int64
	srv := newTestDaemon(t, &hits)
	defer srv.Close()

	ctx := context.Background()
	r := NewHTTPResolver(srv.URL, nil)

	q, err := r.Resolve(ctx, "token-a")
	require.NoError(t, err)
	require.NotNil(t, q)

	// Clients are reused per identifier.
	q2, err := r.Resolve(ctx, "token-a")
	require.NoError(t, err)
	assert.Same(t, q, q2)

	_, err = r.Resolve(ctx, "no-such-target")
	require.Error(t, err)
	assert.True(t, IsDaemonError(err, "not_found"))
}

func TestSelectDispatch(t *testing.T) {
	var hits atomic.Int64
	srv := newTestDaemon(t, &hits)
	defer srv.Close()

	ctx := context.Background()
	c := NewClient(srv.URL, "token-a", nil)

	cases := []struct {
		kind power.SourceKind
		call power.CallKind
		want uint64
	}{
		{power.CheckpointedToken, power.BalanceOf, 7},
		{power.CheckpointedToken, power.TotalSupply, 100},
		{power.StakingHistory, power.BalanceOf, 3},
		{power.StakingHistory, power.TotalSupply, 30},
	}
	for _, tc := range cases {
		v, err := Select(ctx, c, tc.kind, tc.call, "alice", 12)
		require.NoError(t, err)
		assert.Equal(t, tc.want, v, "%s/%s", tc.kind, tc.call)
	}

	_, err := Select(ctx, c, power.SourceKind(99), power.BalanceOf, "alice", 12)
	assert.ErrorIs(t, err, power.ErrInvalidSelector)
}
