package policy

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/fcaptcha/sentinel/internal/httputil"
	"github.com/fcaptcha/sentinel/internal/logging"
	"github.com/fcaptcha/sentinel/internal/metrics"
)

// Version is sent with every config request so the policy service can shape
// responses per engine generation.
const Version = "sentinel/1"

// cacheEntry is the persisted cache shape: the document plus when it was
// fetched. Freshness is judged against the document's own TTL.
type cacheEntry struct {
	Policy    *Policy   `json:"policy"`
	FetchedAt time.Time `json:"fetchedAt"`
}

func (e *cacheEntry) fresh(now time.Time) bool {
	return e != nil && e.Policy != nil && now.Sub(e.FetchedAt) < e.Policy.TTL()
}

// Store resolves policies through an ordered chain of fallible tiers:
// fresh memory cache, fresh persisted cache, network, stale persisted cache,
// hard-coded defaults. The first tier to produce a document wins.
type Store struct {
	baseURL string
	client  *http.Client
	rdb     *redis.Client // nil disables the persisted tier

	mu     sync.Mutex
	memory map[string]*cacheEntry

	now func() time.Time
}

// Option configures a Store.
type Option func(*Store)

// WithRedis enables the persisted cache tier.
func WithRedis(rdb *redis.Client) Option {
	return func(s *Store) { s.rdb = rdb }
}

// WithHTTPClient overrides the fetch client, for tests.
func WithHTTPClient(c *http.Client) Option {
	return func(s *Store) { s.client = c }
}

// WithClock overrides the time source, for tests.
func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

// NewStore creates a policy store fetching from baseURL (GET {baseURL}/config).
// An empty baseURL disables the network tier.
func NewStore(baseURL string, opts ...Option) *Store {
	s := &Store{
		baseURL: baseURL,
		client:  httputil.Client(httputil.TierConfig),
		memory:  make(map[string]*cacheEntry),
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// cacheKey incorporates both the tenant identifier and the requesting origin
// so one site's policy can never bleed into another's.
func cacheKey(widgetID, origin string) string {
	return fmt.Sprintf("sentinel:policy:%s:%s", widgetID, origin)
}

// Fetch resolves a usable policy. It never returns an error and never blocks
// past the config timeout: every failure falls through to the next tier and
// the final tier always succeeds.
func (s *Store) Fetch(ctx context.Context, widgetID, origin string) *Policy {
	key := cacheKey(widgetID, origin)
	now := s.now()

	type resolver struct {
		source string
		fn     func() *Policy
	}
	chain := []resolver{
		{"memory", func() *Policy { return s.fromMemory(key, now) }},
		{"redis", func() *Policy { return s.fromRedis(ctx, key, now, false) }},
		{"network", func() *Policy { return s.fromNetwork(ctx, key, widgetID) }},
		{"stale", func() *Policy { return s.fromRedis(ctx, key, now, true) }},
		{"default", func() *Policy { return Default() }},
	}

	for _, r := range chain {
		if p := r.fn(); p != nil {
			metrics.PolicyResolutionsTotal.WithLabelValues(r.source).Inc()
			return p
		}
	}
	// Unreachable; the default tier always resolves.
	return Default()
}

func (s *Store) fromMemory(key string, now time.Time) *Policy {
	s.mu.Lock()
	defer s.mu.Unlock()
	if e := s.memory[key]; e.fresh(now) {
		return e.Policy
	}
	return nil
}

// fromRedis reads the persisted tier. With stale=true, freshness is ignored
// and any readable entry is accepted as a last resort before defaults.
func (s *Store) fromRedis(ctx context.Context, key string, now time.Time, stale bool) *Policy {
	if s.rdb == nil {
		return nil
	}

	data, err := s.rdb.Get(ctx, key).Bytes()
	if err != nil {
		return nil
	}

	var e cacheEntry
	if err := json.Unmarshal(data, &e); err != nil || e.Policy == nil {
		return nil
	}
	if !stale && !e.fresh(now) {
		return nil
	}

	e.Policy.Normalize()
	if !stale {
		// Promote to memory so repeated reads skip Redis.
		s.storeMemory(key, &e)
	}
	return e.Policy
}

func (s *Store) fromNetwork(ctx context.Context, key, widgetID string) *Policy {
	if s.baseURL == "" {
		return nil
	}

	timeout := s.client.Timeout
	if timeout <= 0 {
		timeout = httputil.Timeout(httputil.TierConfig)
	}
	reqCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	u := fmt.Sprintf("%s/config?widgetId=%s", s.baseURL, url.QueryEscape(widgetID))
	req, err := http.NewRequestWithContext(reqCtx, http.MethodGet, u, nil)
	if err != nil {
		return nil
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("X-Sentinel-Version", Version)

	resp, err := s.client.Do(req)
	if err != nil {
		logging.L(ctx).Debug("policy fetch failed", "error", err)
		return nil
	}
	defer httputil.DrainAndClose(resp.Body)

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		logging.L(ctx).Debug("policy fetch non-2xx", "status", resp.StatusCode)
		return nil
	}

	body, err := httputil.ReadResponseBody(resp.Body, httputil.MaxResponseSize)
	if err != nil {
		return nil
	}

	var p Policy
	if err := json.Unmarshal(body, &p); err != nil || !validShape(&p) {
		// Malformed responses are fetch failures, not candidates for repair.
		logging.L(ctx).Debug("policy fetch malformed", "error", err)
		return nil
	}
	p.Normalize()

	e := &cacheEntry{Policy: &p, FetchedAt: s.now()}
	s.storeMemory(key, e)
	s.storeRedis(ctx, key, e)
	return &p
}

func (s *Store) storeMemory(key string, e *cacheEntry) {
	s.mu.Lock()
	s.memory[key] = e
	s.mu.Unlock()
}

func (s *Store) storeRedis(ctx context.Context, key string, e *cacheEntry) {
	if s.rdb == nil {
		return
	}
	data, err := json.Marshal(e)
	if err != nil {
		return
	}
	// Persist well past freshness so the stale tier has something to serve.
	ttl := 24 * time.Hour
	if err := s.rdb.Set(ctx, key, data, ttl).Err(); err != nil {
		logging.L(ctx).Debug("policy cache write failed", "error", err)
	}
}
