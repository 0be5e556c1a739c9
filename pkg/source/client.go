package source

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/quorumlabs/votegrid/pkg/power"
)

const (
	// DefaultDialTimeout is the timeout for establishing a TCP connection to
	// the source daemon.
	DefaultDialTimeout = 5 * time.Second

	// DefaultQueryTimeout is the timeout for a complete query (send request +
	// receive response).
	DefaultQueryTimeout = 10 * time.Second

	// ValueCacheCapacity is the maximum number of historical query results
	// cached per source.
	ValueCacheCapacity = 4096
)

// DaemonError is an error response from the source daemon. It carries a
// machine-readable code alongside the human-readable message, so callers can
// distinguish a missing target from an internal daemon failure.
type DaemonError struct {
	Code string `json:"code"`
	Msg  string `json:"message"`
}

func (e *DaemonError) Error() string {
	return fmt.Sprintf("daemon error [%s]: %s", e.Code, e.Msg)
}

// IsDaemonError checks whether err is a DaemonError with the given code,
// unwrapping as needed.
func IsDaemonError(err error, code string) bool {
	var de *DaemonError
	if errors.As(err, &de) {
		return de.Code == code
	}
	return false
}

// valueKey identifies one selector invocation in the historical value cache.
type valueKey struct {
	selector string
	owner    string
	at       power.Point
}

// Client queries a single external power source through the daemon's HTTP
// API. Results for points strictly below the current point are immutable and
// cached in a bounded LRU; queries at or past the current point always go to
// the daemon.
type Client struct {
	baseURL      string
	sourceID     string
	httpClient   *http.Client
	queryTimeout time.Duration
	points       power.PointSource // optional cache gate; nil disables caching
	values       *lruCache[valueKey, uint64]
}

// Compile-time interface check.
var _ Querier = (*Client)(nil)

// NewClient creates a querier for sourceID served by the daemon at baseURL.
// points may be nil, which disables the historical value cache.
func NewClient(baseURL, sourceID string, points power.PointSource) *Client {
	return &Client{
		baseURL:  baseURL,
		sourceID: sourceID,
		httpClient: &http.Client{
			// Timeouts are per-request via context, not on the client.
			Transport: &http.Transport{
				MaxIdleConns:        10,
				MaxIdleConnsPerHost: 10,
				IdleConnTimeout:     90 * time.Second,
				DialContext: (&net.Dialer{
					Timeout: DefaultDialTimeout,
				}).DialContext,
			},
		},
		queryTimeout: DefaultQueryTimeout,
		points:       points,
		values:       newLRUCache[valueKey, uint64](ValueCacheCapacity),
	}
}

// SetQueryTimeout overrides the per-query timeout. Primarily for tests; pass
// 0 to keep the current value.
func (c *Client) SetQueryTimeout(d time.Duration) {
	if d > 0 {
		c.queryTimeout = d
	}
}

func (c *Client) BalanceOfAt(ctx context.Context, owner string, at power.Point) (uint64, error) {
	return c.query(ctx, "balance", owner, at)
}

func (c *Client) TotalSupplyAt(ctx context.Context, at power.Point) (uint64, error) {
	return c.query(ctx, "supply", "", at)
}

func (c *Client) TotalStakedForAt(ctx context.Context, owner string, at power.Point) (uint64, error) {
	return c.query(ctx, "staked-for", owner, at)
}

func (c *Client) TotalStakedAt(ctx context.Context, at power.Point) (uint64, error) {
	return c.query(ctx, "staked", "", at)
}

// valueResponse is the daemon's reply to a selector query.
type valueResponse struct {
	Value uint64 `json:"value"`
}

func (c *Client) cacheable(at power.Point) bool {
	return c.points != nil && at < c.points.Current()
}

func (c *Client) query(ctx context.Context, selector, owner string, at power.Point) (uint64, error) {
	key := valueKey{selector: selector, owner: owner, at: at}
	if c.cacheable(at) {
		if v, ok := c.values.Get(key); ok {
			return v, nil
		}
	}

	q := url.Values{}
	q.Set("at", at.String())
	if owner != "" {
		q.Set("owner", owner)
	}
	endpoint := fmt.Sprintf("%s/v1/sources/%s/%s?%s", c.baseURL, url.PathEscape(c.sourceID), selector, q.Encode())

	var resp valueResponse
	if err := c.get(ctx, endpoint, &resp); err != nil {
		return 0, err
	}

	if c.cacheable(at) {
		c.values.Put(key, resp.Value)
	}
	return resp.Value, nil
}

// get performs a GET with the query timeout applied and decodes a JSON body.
// Non-2xx responses are decoded into a DaemonError.
func (c *Client) get(ctx context.Context, endpoint string, out any) error {
	ctx, cancel := context.WithTimeout(ctx, c.queryTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("source daemon unreachable: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		de := &DaemonError{}
		if jsonErr := json.Unmarshal(body, de); jsonErr != nil || de.Code == "" {
			de.Code = "internal"
			de.Msg = fmt.Sprintf("HTTP %d", resp.StatusCode)
		}
		return de
	}

	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

// sourceDescriptor is the daemon's description of a registered target.
type sourceDescriptor struct {
	ID   string `json:"id"`
	Kind string `json:"kind"`
}

// HTTPResolver builds per-source clients against one daemon. Clients are
// reused per identifier so their historical caches survive across queries.
type HTTPResolver struct {
	baseURL string
	points  power.PointSource

	mu      sync.Mutex
	clients map[string]*Client
}

// Compile-time interface check.
var _ Resolver = (*HTTPResolver)(nil)

// NewHTTPResolver creates a resolver for the daemon at baseURL.
func NewHTTPResolver(baseURL string, points power.PointSource) *HTTPResolver {
	return &HTTPResolver{
		baseURL: baseURL,
		points:  points,
		clients: make(map[string]*Client),
	}
}

// Resolve returns the querier for id. It fails when the daemon does not know
// a callable target behind the identifier, which is what lets the sanity
// probe reject dead addresses at registration time.
func (r *HTTPResolver) Resolve(ctx context.Context, id string) (Querier, error) {
	r.mu.Lock()
	client, ok := r.clients[id]
	r.mu.Unlock()
	if ok {
		return client, nil
	}

	probe := NewClient(r.baseURL, id, r.points)
	var desc sourceDescriptor
	endpoint := fmt.Sprintf("%s/v1/sources/%s", r.baseURL, url.PathEscape(id))
	if err := probe.get(ctx, endpoint, &desc); err != nil {
		return nil, fmt.Errorf("resolve %q: %w", id, err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if existing, ok := r.clients[id]; ok {
		return existing, nil
	}
	r.clients[id] = probe
	return probe, nil
}
