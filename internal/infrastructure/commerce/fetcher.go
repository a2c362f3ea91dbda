package commerce

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/vendorhub/storefront/internal/domain/offline"
	"github.com/vendorhub/storefront/internal/domain/reference"
	"github.com/vendorhub/storefront/internal/domain/shared"
	"github.com/vendorhub/storefront/internal/infrastructure/cache"
	"github.com/vendorhub/storefront/internal/infrastructure/config"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
)

// MutationQueue accepts write requests for replay once connectivity returns
type MutationQueue interface {
	Add(ctx context.Context, url string, opts offline.RequestOptions) (*offline.QueuedMutation, error)
}

// ConnectivityState reports whether the backend is believed reachable
type ConnectivityState interface {
	IsOnline() bool
}

type alwaysOnline struct{}

func (alwaysOnline) IsOnline() bool { return true }

// QueuedError is returned when a write was deferred to the mutation queue.
// It unwraps to shared.ErrQueuedOffline.
type QueuedError struct {
	Mutation *offline.QueuedMutation
	Cause    error
}

func (e *QueuedError) Error() string {
	return fmt.Sprintf("request queued as %s: %v", e.Mutation.ID, e.Cause)
}

func (e *QueuedError) Unwrap() []error {
	return []error{shared.ErrQueuedOffline, e.Cause}
}

// Fetcher wraps Client with per-attempt timeouts, exponential backoff for
// idempotent requests, a read-through cache and offline write queueing.
// Concurrent identical GETs share one network call.
type Fetcher struct {
	client  *Client
	cache   *cache.Manager
	queue   MutationQueue
	conn    ConnectivityState
	timeout time.Duration

	attempts  int
	baseDelay time.Duration
	maxDelay  time.Duration

	group  singleflight.Group
	sleep  func(ctx context.Context, d time.Duration) error
	logger *zap.Logger
}

// FetcherOption configures a Fetcher
type FetcherOption func(*Fetcher)

// WithCache enables the read-through cache for GetJSON
func WithCache(m *cache.Manager) FetcherOption {
	return func(f *Fetcher) {
		f.cache = m
	}
}

// WithMutationQueue enables offline queueing of write requests
func WithMutationQueue(q MutationQueue) FetcherOption {
	return func(f *Fetcher) {
		f.queue = q
	}
}

// WithConnectivity sets the connectivity source
func WithConnectivity(c ConnectivityState) FetcherOption {
	return func(f *Fetcher) {
		f.conn = c
	}
}

// WithFetcherLogger sets the logger
func WithFetcherLogger(l *zap.Logger) FetcherOption {
	return func(f *Fetcher) {
		f.logger = l
	}
}

// WithSleeper replaces the backoff sleep; used by tests
func WithSleeper(sleep func(ctx context.Context, d time.Duration) error) FetcherOption {
	return func(f *Fetcher) {
		f.sleep = sleep
	}
}

// NewFetcher creates a fetcher using the retry settings of cfg
func NewFetcher(client *Client, cfg config.CommerceConfig, opts ...FetcherOption) *Fetcher {
	f := &Fetcher{
		client:    client,
		conn:      alwaysOnline{},
		timeout:   cfg.RequestTimeout,
		attempts:  cfg.RetryAttempts,
		baseDelay: cfg.RetryBaseDelay,
		maxDelay:  cfg.RetryMaxDelay,
		sleep:     sleepContext,
		logger:    zap.NewNop(),
	}
	if f.attempts < 1 {
		f.attempts = 1
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// Request is a single logical request
type Request struct {
	Method  string
	URL     string
	Headers map[string]string
	Body    []byte
}

// Fetch performs req. Idempotent requests are retried with backoff while the
// failure is retryable. Other requests are attempted once; when that fails
// for lack of connectivity, or the host is offline, they are queued and a
// *QueuedError is returned.
func (f *Fetcher) Fetch(ctx context.Context, req Request) (*Response, error) {
	if req.Method == "" {
		req.Method = http.MethodGet
	}

	if offline.IsIdempotentMethod(req.Method) {
		if !f.conn.IsOnline() {
			return nil, fmt.Errorf("%s %s: %w", req.Method, req.URL, shared.ErrConnectivityLost)
		}
		if req.Method != http.MethodGet || len(req.Body) > 0 {
			return f.withRetry(ctx, req)
		}
		return f.shared(ctx, req)
	}

	if !f.conn.IsOnline() {
		return nil, f.enqueue(ctx, req, shared.ErrConnectivityLost)
	}
	resp, err := f.attempt(ctx, req)
	if err != nil && (errors.Is(err, shared.ErrConnectivityLost) || !f.conn.IsOnline()) {
		return nil, f.enqueue(ctx, req, err)
	}
	return resp, err
}

// GetJSON reads url through the cache. A cached value younger than maxAge is
// decoded into dest without a network call; otherwise the response is
// fetched, decoded and cached.
func (f *Fetcher) GetJSON(ctx context.Context, url string, maxAge time.Duration, dest any) error {
	if f.cache != nil {
		hit, err := f.cache.Get(ctx, url, maxAge, dest)
		if err != nil {
			f.logger.Warn("cache read failed", zap.String("url", url), zap.Error(err))
		}
		if hit {
			return nil
		}
	}

	resp, err := f.Fetch(ctx, Request{Method: http.MethodGet, URL: url, Headers: map[string]string{"Accept": "application/json"}})
	if err != nil {
		return err
	}
	if err := decodeJSON(resp.Body, dest); err != nil {
		return err
	}

	if f.cache != nil {
		if err := f.cache.Set(ctx, url, dest); err != nil {
			f.logger.Warn("cache write failed", zap.String("url", url), zap.Error(err))
		}
	}
	return nil
}

// URL resolves a backend path against the configured base URL
func (f *Fetcher) URL(path string) string {
	return f.client.URL(path)
}

// FetchResource downloads one reference resource with retries. The response
// cache is bypassed so a sync always sees the server's current data.
func (f *Fetcher) FetchResource(ctx context.Context, name reference.Collection) ([]reference.Entity, error) {
	resp, err := f.Fetch(ctx, Request{
		Method:  http.MethodGet,
		URL:     f.client.ResourceURL(name),
		Headers: map[string]string{"Accept": "application/json"},
	})
	if err != nil {
		return nil, err
	}
	return DecodeResourceResponse(name, resp.Body)
}

// shared runs req once for every concurrent caller of the same GET. The
// call itself is detached from any single caller's cancellation; each caller
// stops waiting when its own context ends.
func (f *Fetcher) shared(ctx context.Context, req Request) (*Response, error) {
	detached := context.WithoutCancel(ctx)
	ch := f.group.DoChan(req.Method+" "+req.URL, func() (any, error) {
		return f.withRetry(detached, req)
	})
	select {
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.(*Response), nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (f *Fetcher) withRetry(ctx context.Context, req Request) (*Response, error) {
	var lastErr error
	for attempt := 1; attempt <= f.attempts; attempt++ {
		resp, err := f.attempt(ctx, req)
		if err == nil {
			return resp, nil
		}
		lastErr = err
		if !shared.IsRetryable(err) || attempt == f.attempts {
			break
		}

		delay := Backoff(attempt, f.baseDelay, f.maxDelay)
		f.logger.Debug("retrying request",
			zap.String("url", req.URL),
			zap.Int("attempt", attempt),
			zap.Duration("delay", delay),
			zap.Error(err),
		)
		if err := f.sleep(ctx, delay); err != nil {
			return nil, err
		}
	}
	return nil, lastErr
}

func (f *Fetcher) attempt(ctx context.Context, req Request) (*Response, error) {
	if f.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, f.timeout)
		defer cancel()
	}
	return f.client.Do(ctx, req.Method, req.URL, req.Headers, req.Body)
}

func (f *Fetcher) enqueue(ctx context.Context, req Request, cause error) error {
	if f.queue == nil {
		return cause
	}
	m, err := f.queue.Add(ctx, req.URL, offline.RequestOptions{
		Method:  req.Method,
		Headers: req.Headers,
		Body:    req.Body,
	})
	if err != nil {
		return fmt.Errorf("failed to queue %s %s: %w", req.Method, req.URL, err)
	}
	f.logger.Info("request queued for replay",
		zap.String("mutation_id", m.ID.String()),
		zap.String("method", req.Method),
		zap.String("url", req.URL),
	)
	return &QueuedError{Mutation: m, Cause: cause}
}

// Backoff returns base * 2^(attempt-1) capped at max
func Backoff(attempt int, base, max time.Duration) time.Duration {
	if base <= 0 {
		return 0
	}
	d := base
	for i := 1; i < attempt; i++ {
		d *= 2
		if max > 0 && d >= max {
			return max
		}
	}
	if max > 0 && d > max {
		return max
	}
	return d
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
