package queue

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/vendorhub/storefront/internal/domain/offline"
	"github.com/vendorhub/storefront/internal/domain/shared"
	"github.com/vendorhub/storefront/internal/infrastructure/commerce"
	"github.com/vendorhub/storefront/internal/infrastructure/connectivity"
	"go.uber.org/zap"
)

// Replayer sends a stored request again
type Replayer interface {
	Do(ctx context.Context, method, url string, headers map[string]string, body []byte) (*commerce.Response, error)
}

// OfflineQueue stores write requests that failed while offline and replays
// them when connectivity returns. Delivery is at-least-once and unordered
// across retries.
type OfflineQueue struct {
	repo     offline.MutationRepository
	replayer Replayer
	validate *validator.Validate
	logger   *zap.Logger
	now      func() time.Time
	observe  func(context.Context, offline.ProcessResult)

	baseDelay time.Duration
	maxDelay  time.Duration

	processing   atomic.Bool
	registerOnce sync.Once

	mu          sync.Mutex
	closed      bool
	signals     SignalSource
	unsubscribe func()
	timer       *time.Timer
	reflushes   int
	wg          sync.WaitGroup
}

// OfflineQueueOption configures an OfflineQueue
type OfflineQueueOption func(*OfflineQueue)

// WithReflushBackoff sets the delay bounds for re-flushing leftovers
func WithReflushBackoff(base, max time.Duration) OfflineQueueOption {
	return func(q *OfflineQueue) {
		q.baseDelay = base
		q.maxDelay = max
	}
}

// WithOfflineLogger sets the logger
func WithOfflineLogger(l *zap.Logger) OfflineQueueOption {
	return func(q *OfflineQueue) {
		q.logger = l
	}
}

// WithFlushObserver is called after every flush that attempted something
func WithFlushObserver(fn func(context.Context, offline.ProcessResult)) OfflineQueueOption {
	return func(q *OfflineQueue) {
		q.observe = fn
	}
}

// WithOfflineClock replaces time.Now
func WithOfflineClock(now func() time.Time) OfflineQueueOption {
	return func(q *OfflineQueue) {
		q.now = now
	}
}

// NewOfflineQueue creates a mutation queue
func NewOfflineQueue(repo offline.MutationRepository, replayer Replayer, opts ...OfflineQueueOption) *OfflineQueue {
	q := &OfflineQueue{
		repo:      repo,
		replayer:  replayer,
		validate:  validator.New(),
		logger:    zap.NewNop(),
		now:       time.Now,
		baseDelay: time.Second,
		maxDelay:  5 * time.Minute,
	}
	for _, opt := range opts {
		opt(q)
	}
	return q
}

// Add stores a mutation for later replay
func (q *OfflineQueue) Add(ctx context.Context, url string, opts offline.RequestOptions) (*offline.QueuedMutation, error) {
	m := offline.NewQueuedMutation(url, opts, q.now().UTC())
	if err := q.validate.Struct(m); err != nil {
		return nil, fmt.Errorf("%w: %v", shared.ErrInvalidInput, err)
	}
	if err := q.repo.Save(ctx, m); err != nil {
		return nil, fmt.Errorf("failed to queue mutation: %w", err)
	}
	q.logger.Debug("mutation queued",
		zap.String("mutation_id", m.ID.String()),
		zap.String("method", m.Request.Method),
		zap.String("url", m.URL),
	)
	return m, nil
}

// GetAll returns the queued mutations oldest first
func (q *OfflineQueue) GetAll(ctx context.Context) ([]*offline.QueuedMutation, error) {
	return q.repo.FindAll(ctx)
}

// Remove discards one mutation
func (q *OfflineQueue) Remove(ctx context.Context, id uuid.UUID) error {
	return q.repo.Delete(ctx, id)
}

// Clear discards every mutation
func (q *OfflineQueue) Clear(ctx context.Context) error {
	return q.repo.DeleteAll(ctx)
}

// Count returns the number of queued mutations
func (q *OfflineQueue) Count(ctx context.Context) (int64, error) {
	return q.repo.Count(ctx)
}

// ProcessAll attempts every queued mutation once. Successful replays are
// removed; failures stay for the next flush. A call made while another flush
// is running returns without attempting anything.
func (q *OfflineQueue) ProcessAll(ctx context.Context) (offline.ProcessResult, error) {
	var result offline.ProcessResult
	if !q.processing.CompareAndSwap(false, true) {
		n, err := q.repo.Count(ctx)
		result.Remaining = int(n)
		return result, err
	}
	defer q.processing.Store(false)

	snapshot, err := q.repo.FindAll(ctx)
	if err != nil {
		return result, fmt.Errorf("failed to load queued mutations: %w", err)
	}

	for _, m := range snapshot {
		if ctx.Err() != nil {
			break
		}
		result.Attempted++
		_, err := q.replayer.Do(ctx, m.Request.Method, m.URL, m.Request.Headers, m.Request.Body)
		if err != nil {
			result.Failed++
			q.logger.Warn("mutation replay failed",
				zap.String("mutation_id", m.ID.String()),
				zap.String("url", m.URL),
				zap.Error(err),
			)
			continue
		}
		if err := q.repo.Delete(ctx, m.ID); err != nil {
			q.logger.Error("failed to remove replayed mutation", zap.String("mutation_id", m.ID.String()), zap.Error(err))
			result.Failed++
			continue
		}
		result.Succeeded++
	}

	n, err := q.repo.Count(context.WithoutCancel(ctx))
	if err != nil {
		return result, err
	}
	result.Remaining = int(n)

	if result.Attempted > 0 {
		q.logger.Info("mutation queue flushed",
			zap.Int("succeeded", result.Succeeded),
			zap.Int("failed", result.Failed),
			zap.Int("remaining", result.Remaining),
		)
		if q.observe != nil {
			q.observe(ctx, result)
		}
	}
	return result, nil
}

// Register subscribes the queue to connectivity signals. Only the first call
// has an effect. Every restored-connectivity signal triggers a flush, and
// leftovers are re-flushed with exponential backoff while still online.
func (q *OfflineQueue) Register(signals SignalSource) {
	q.registerOnce.Do(func() {
		q.mu.Lock()
		defer q.mu.Unlock()
		if q.closed {
			return
		}
		q.signals = signals
		q.unsubscribe = signals.Subscribe(func(s connectivity.Signal) {
			if s == connectivity.SignalOnline {
				q.resetBackoff()
				q.launchFlush()
			}
		})
	})
}

func (q *OfflineQueue) resetBackoff() {
	q.mu.Lock()
	q.reflushes = 0
	if q.timer != nil {
		q.timer.Stop()
		q.timer = nil
	}
	q.mu.Unlock()
}

func (q *OfflineQueue) launchFlush() {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return
	}
	q.wg.Add(1)
	q.mu.Unlock()

	go func() {
		defer q.wg.Done()
		q.flush(context.Background())
	}()
}

func (q *OfflineQueue) flush(ctx context.Context) {
	result, err := q.ProcessAll(ctx)
	if err != nil {
		q.logger.Error("mutation flush failed", zap.Error(err))
	}

	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed || q.signals == nil || !q.signals.IsOnline() || (err == nil && result.Remaining == 0) {
		q.reflushes = 0
		return
	}

	q.reflushes++
	delay := commerce.Backoff(q.reflushes, q.baseDelay, q.maxDelay)
	if q.timer != nil {
		q.timer.Stop()
	}
	q.timer = time.AfterFunc(delay, q.launchFlush)
	q.logger.Debug("mutation re-flush scheduled", zap.Duration("delay", delay), zap.Int("remaining", result.Remaining))
}

// Close stops re-flushes and waits for a running flush to finish
func (q *OfflineQueue) Close() error {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return nil
	}
	q.closed = true
	if q.timer != nil {
		q.timer.Stop()
		q.timer = nil
	}
	unsubscribe := q.unsubscribe
	q.unsubscribe = nil
	q.mu.Unlock()

	if unsubscribe != nil {
		unsubscribe()
	}
	q.wg.Wait()
	return nil
}
