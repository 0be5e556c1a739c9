package source

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/quorumlabs/votegrid/pkg/power"
)

// DefaultPointRefresh bounds how often the daemon is asked for the current
// point. The point only moves forward, so a slightly stale value is safe: it
// makes fewer results cacheable, never wrong ones.
const DefaultPointRefresh = 2 * time.Second

// pointResponse is the daemon's reply to the current-point query.
type pointResponse struct {
	Point string `json:"point"`
}

// DaemonPointSource reads the current point from the source daemon, caching
// it for a short refresh interval. It never moves backwards: a daemon reply
// below the last observed point is ignored.
type DaemonPointSource struct {
	client  *Client
	refresh time.Duration

	mu      sync.Mutex
	point   power.Point
	fetched time.Time
}

// Compile-time interface check.
var _ power.PointSource = (*DaemonPointSource)(nil)

// NewDaemonPointSource creates a point source backed by the daemon at baseURL.
func NewDaemonPointSource(baseURL string) *DaemonPointSource {
	return &DaemonPointSource{
		client:  NewClient(baseURL, "", nil),
		refresh: DefaultPointRefresh,
	}
}

// SetRefresh overrides the refresh interval. Primarily for tests; pass 0 to
// keep the current value.
func (s *DaemonPointSource) SetRefresh(d time.Duration) {
	if d > 0 {
		s.refresh = d
	}
}

// Current returns the last known point, refreshing from the daemon when the
// cached value is older than the refresh interval. A failed refresh falls
// back to the cached value.
func (s *DaemonPointSource) Current() power.Point {
	s.mu.Lock()
	defer s.mu.Unlock()

	if time.Since(s.fetched) < s.refresh {
		return s.point
	}

	ctx, cancel := context.WithTimeout(context.Background(), s.client.queryTimeout)
	defer cancel()

	var resp pointResponse
	endpoint := fmt.Sprintf("%s/v1/point", s.client.baseURL)
	if err := s.client.get(ctx, endpoint, &resp); err != nil {
		return s.point
	}
	p, err := power.ParsePoint(resp.Point)
	if err != nil {
		return s.point
	}

	s.fetched = time.Now()
	if p > s.point {
		s.point = p
	}
	return s.point
}

// Ping verifies the daemon answers the current-point query. Used by startup
// checks before the server begins serving traffic.
func (s *DaemonPointSource) Ping(ctx context.Context) error {
	var resp pointResponse
	endpoint := fmt.Sprintf("%s/v1/point", s.client.baseURL)
	if err := s.client.get(ctx, endpoint, &resp); err != nil {
		return err
	}
	if _, err := power.ParsePoint(resp.Point); err != nil {
		return fmt.Errorf("source daemon point query: %w", err)
	}
	return nil
}
