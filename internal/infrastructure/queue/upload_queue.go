package queue

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"sync/atomic"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/vendorhub/storefront/internal/domain/offline"
	"github.com/vendorhub/storefront/internal/domain/shared"
	"github.com/vendorhub/storefront/internal/infrastructure/commerce"
	"github.com/vendorhub/storefront/internal/infrastructure/connectivity"
	"github.com/vendorhub/storefront/internal/infrastructure/lease"
	"github.com/vendorhub/storefront/internal/infrastructure/logger"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

const tracerName = "github.com/vendorhub/storefront/internal/infrastructure/queue"

// Submitter delivers one multipart submission to the commerce backend
type Submitter interface {
	Submit(ctx context.Context, contentType string, body io.Reader) (*commerce.SubmitResult, error)
}

// SignalSource is the connectivity monitor as seen by the queues
type SignalSource interface {
	IsOnline() bool
	Subscribe(connectivity.Listener) func()
}

// UploadCompletion is delivered to listeners after the server confirmed a job
type UploadCompletion struct {
	JobID    int64
	ServerID string
}

// UploadQueueConfig holds the upload queue settings
type UploadQueueConfig struct {
	MaxRetries           int
	RescheduleInterval   time.Duration
	SubmitTimeout        time.Duration
	StaleProcessingAfter time.Duration
	LeaseTTL             time.Duration
}

// DefaultUploadQueueConfig returns the default settings
func DefaultUploadQueueConfig() UploadQueueConfig {
	return UploadQueueConfig{
		MaxRetries:           offline.DefaultMaxRetries,
		RescheduleInterval:   2 * time.Second,
		StaleProcessingAfter: 10 * time.Minute,
		LeaseTTL:             5 * time.Minute,
	}
}

// DrainResult summarizes one drain cycle
type DrainResult struct {
	Skipped   bool   `json:"skipped"`
	Reason    string `json:"reason,omitempty"`
	Attempted int    `json:"attempted"`
	Succeeded int    `json:"succeeded"`
	Retrying  int    `json:"retrying"`
	Failed    int    `json:"failed"`
	Remaining int64  `json:"remaining"`
}

// UploadQueue stores multi-part submissions and delivers them one at a time.
// Only one drain runs per process; the lease extends that to every process
// sharing the store.
type UploadQueue struct {
	repo      offline.UploadJobRepository
	submitter Submitter
	codec     *PayloadCodec
	locker    lease.Locker
	signals   SignalSource
	cfg       UploadQueueConfig
	validate  *validator.Validate
	logger    *zap.Logger
	tracer    trace.Tracer
	now       func() time.Time
	observe   func(context.Context, DrainResult)

	isProcessing atomic.Bool
	kickPending  atomic.Bool

	listenerMu sync.RWMutex
	listeners  map[int]func(UploadCompletion)
	nextID     int

	lifeMu      sync.Mutex
	running     bool
	ctx         context.Context
	cancel      context.CancelFunc
	wg          sync.WaitGroup
	timer       *time.Timer
	timerDue    time.Time
	unsubscribe func()
}

// UploadQueueOption configures an UploadQueue
type UploadQueueOption func(*UploadQueue)

// WithUploadConfig overrides the default settings
func WithUploadConfig(cfg UploadQueueConfig) UploadQueueOption {
	return func(q *UploadQueue) {
		q.cfg = cfg
	}
}

// WithCodec sets the payload codec
func WithCodec(c *PayloadCodec) UploadQueueOption {
	return func(q *UploadQueue) {
		q.codec = c
	}
}

// WithLocker enables cross-process exclusion of drains
func WithLocker(l lease.Locker) UploadQueueOption {
	return func(q *UploadQueue) {
		q.locker = l
	}
}

// WithSignals connects the queue to host connectivity signals
func WithSignals(s SignalSource) UploadQueueOption {
	return func(q *UploadQueue) {
		q.signals = s
	}
}

// WithUploadLogger sets the logger
func WithUploadLogger(l *zap.Logger) UploadQueueOption {
	return func(q *UploadQueue) {
		q.logger = l
	}
}

// WithDrainObserver is called after every drain cycle that ran
func WithDrainObserver(fn func(context.Context, DrainResult)) UploadQueueOption {
	return func(q *UploadQueue) {
		q.observe = fn
	}
}

// WithUploadClock replaces time.Now
func WithUploadClock(now func() time.Time) UploadQueueOption {
	return func(q *UploadQueue) {
		q.now = now
	}
}

// NewUploadQueue creates a queue. It does not drain until Start is called.
func NewUploadQueue(repo offline.UploadJobRepository, submitter Submitter, opts ...UploadQueueOption) *UploadQueue {
	q := &UploadQueue{
		repo:      repo,
		submitter: submitter,
		cfg:       DefaultUploadQueueConfig(),
		validate:  validator.New(),
		logger:    zap.NewNop(),
		tracer:    otel.Tracer(tracerName),
		now:       time.Now,
		listeners: make(map[int]func(UploadCompletion)),
	}
	for _, opt := range opts {
		opt(q)
	}
	if q.codec == nil {
		q.codec = NewPayloadCodec(nil, 0, q.logger)
	}
	if q.cfg.MaxRetries <= 0 {
		q.cfg.MaxRetries = offline.DefaultMaxRetries
	}
	return q
}

func (q *UploadQueue) clock() time.Time {
	return q.now().UTC()
}

// Start recovers jobs abandoned in processing by a previous process,
// subscribes to connectivity signals and kicks off a drain when pending
// jobs exist.
func (q *UploadQueue) Start(ctx context.Context) error {
	q.lifeMu.Lock()
	if q.running {
		q.lifeMu.Unlock()
		return nil
	}
	q.ctx, q.cancel = context.WithCancel(context.WithoutCancel(ctx))
	q.running = true
	q.lifeMu.Unlock()

	if q.cfg.StaleProcessingAfter > 0 {
		now := q.clock()
		n, err := q.repo.ResetStaleProcessing(ctx, now.Add(-q.cfg.StaleProcessingAfter), now)
		if err != nil {
			return fmt.Errorf("failed to recover stale uploads: %w", err)
		}
		if n > 0 {
			q.logger.Warn("recovered uploads left in processing", zap.Int64("count", n))
		}
	}

	if q.signals != nil {
		q.unsubscribe = q.signals.Subscribe(q.onSignal)
	}

	q.kickIfPending(ctx)
	q.logger.Info("upload queue started",
		zap.Int("max_retries", q.cfg.MaxRetries),
		zap.Duration("reschedule_interval", q.cfg.RescheduleInterval),
	)
	return nil
}

// Stop cancels scheduled drains and waits for a running one to finish
func (q *UploadQueue) Stop(ctx context.Context) error {
	q.lifeMu.Lock()
	if !q.running {
		q.lifeMu.Unlock()
		return nil
	}
	q.running = false
	if q.timer != nil {
		q.timer.Stop()
		q.timer = nil
	}
	q.cancel()
	unsubscribe := q.unsubscribe
	q.unsubscribe = nil
	q.lifeMu.Unlock()

	if unsubscribe != nil {
		unsubscribe()
	}

	done := make(chan struct{})
	go func() {
		q.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		q.logger.Info("upload queue stopped")
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (q *UploadQueue) onSignal(s connectivity.Signal) {
	switch s {
	case connectivity.SignalOnline, connectivity.SignalVisible:
		if !q.isProcessing.Load() {
			q.kickIfPending(context.Background())
		}
	}
}

func (q *UploadQueue) kickIfPending(ctx context.Context) {
	counts, err := q.repo.CountByStatus(ctx)
	if err != nil {
		q.logger.Error("failed to count pending uploads", zap.Error(err))
		return
	}
	if counts[offline.UploadStatusPending] > 0 {
		q.schedule(0)
	}
}

// schedule arms the drain timer unless an earlier drain is already due
func (q *UploadQueue) schedule(d time.Duration) {
	q.lifeMu.Lock()
	defer q.lifeMu.Unlock()
	if !q.running {
		return
	}

	now := time.Now()
	due := now.Add(d)
	if q.timer != nil && q.timerDue.After(now) && !q.timerDue.After(due) {
		return
	}
	if q.timer != nil {
		q.timer.Stop()
	}
	q.timerDue = due
	q.timer = time.AfterFunc(d, q.runScheduled)
}

func (q *UploadQueue) runScheduled() {
	q.lifeMu.Lock()
	if !q.running {
		q.lifeMu.Unlock()
		return
	}
	ctx := q.ctx
	q.wg.Add(1)
	q.lifeMu.Unlock()
	defer q.wg.Done()

	if _, err := q.ProcessPending(ctx); err != nil {
		q.logger.Error("upload drain failed", zap.Error(err))
	}
}

// AddUpload serializes the submission, stores it as a pending job and
// schedules a drain. The submission's readers are fully consumed.
func (q *UploadQueue) AddUpload(ctx context.Context, sub *offline.Submission) (int64, error) {
	if sub == nil {
		return 0, fmt.Errorf("%w: submission is required", shared.ErrInvalidInput)
	}
	if err := q.validate.Struct(sub); err != nil {
		return 0, fmt.Errorf("%w: %v", shared.ErrInvalidInput, err)
	}

	payload, err := q.codec.Serialize(ctx, sub)
	if err != nil {
		return 0, err
	}

	job := offline.NewUploadJob(payload, q.clock())
	job.MaxRetries = q.cfg.MaxRetries
	if err := q.repo.Create(ctx, job); err != nil {
		q.codec.Release(ctx, payload)
		return 0, fmt.Errorf("failed to store upload: %w", err)
	}

	logger.WithLogger(logger.WithJobID(ctx, job.ID), q.logger).Info("upload queued",
		zap.Int("fields", len(payload.ScalarFields)),
		zap.Int("attachments", len(payload.Attachments)),
		zap.Int64("bytes", payload.TotalBytes()),
	)

	if !q.isProcessing.Load() {
		q.schedule(0)
	} else {
		q.kickPending.Store(true)
	}
	return job.ID, nil
}

// GetStatus reports queue depth by state
func (q *UploadQueue) GetStatus(ctx context.Context) (offline.UploadStatusSummary, error) {
	counts, err := q.repo.CountByStatus(ctx)
	if err != nil {
		return offline.UploadStatusSummary{}, err
	}
	s := offline.UploadStatusSummary{
		Pending:      counts[offline.UploadStatusPending],
		Processing:   counts[offline.UploadStatusProcessing],
		Failed:       counts[offline.UploadStatusFailed],
		IsProcessing: q.isProcessing.Load(),
	}
	s.Total = s.Pending + s.Processing + s.Failed
	return s, nil
}

// GetFailedUploads returns the jobs that reached the retry ceiling
func (q *UploadQueue) GetFailedUploads(ctx context.Context) ([]*offline.UploadJob, error) {
	return q.repo.FindByStatus(ctx, offline.UploadStatusFailed)
}

// RetryFailedUploads returns every failed job to pending with MaxRetries more
// attempts and reports how many were re-queued.
func (q *UploadQueue) RetryFailedUploads(ctx context.Context) (int, error) {
	failed, err := q.repo.FindByStatus(ctx, offline.UploadStatusFailed)
	if err != nil {
		return 0, err
	}

	n := 0
	now := q.clock()
	for _, job := range failed {
		if err := job.ResetForRetry(q.cfg.MaxRetries, now); err != nil {
			continue
		}
		if err := q.repo.Update(ctx, job); err != nil {
			return n, fmt.Errorf("failed to re-queue upload %d: %w", job.ID, err)
		}
		n++
	}

	if n > 0 {
		q.logger.Info("failed uploads re-queued", zap.Int("count", n))
		q.schedule(0)
	}
	return n, nil
}

// RemoveUpload discards a failed job. Jobs that may still be delivered
// cannot be removed.
func (q *UploadQueue) RemoveUpload(ctx context.Context, id int64) error {
	job, err := q.repo.FindByID(ctx, id)
	if err != nil {
		return err
	}
	if !job.IsFailed() {
		return shared.ErrUploadNotFailed
	}
	if err := q.repo.Delete(ctx, id); err != nil {
		return err
	}
	q.codec.Release(ctx, job.Payload)
	return nil
}

// OnComplete registers a listener for confirmed uploads and returns a
// function removing it
func (q *UploadQueue) OnComplete(fn func(UploadCompletion)) func() {
	q.listenerMu.Lock()
	id := q.nextID
	q.nextID++
	q.listeners[id] = fn
	q.listenerMu.Unlock()

	return func() {
		q.listenerMu.Lock()
		delete(q.listeners, id)
		q.listenerMu.Unlock()
	}
}

func (q *UploadQueue) notify(c UploadCompletion) {
	q.listenerMu.RLock()
	fns := make([]func(UploadCompletion), 0, len(q.listeners))
	for _, fn := range q.listeners {
		fns = append(fns, fn)
	}
	q.listenerMu.RUnlock()

	for _, fn := range fns {
		fn(c)
	}
}

// ProcessPending runs one drain cycle. It returns immediately with Skipped
// set when another drain is running, the host is offline or another process
// holds the drain lease.
func (q *UploadQueue) ProcessPending(ctx context.Context) (DrainResult, error) {
	if !q.isProcessing.CompareAndSwap(false, true) {
		q.kickPending.Store(true)
		return DrainResult{Skipped: true, Reason: "drain already running"}, nil
	}
	defer func() {
		q.isProcessing.Store(false)
		if q.kickPending.Swap(false) {
			q.kickIfPending(context.WithoutCancel(ctx))
		}
	}()

	if q.signals != nil && !q.signals.IsOnline() {
		return DrainResult{Skipped: true, Reason: "offline"}, nil
	}

	if q.locker != nil {
		ok, err := q.locker.TryAcquire(ctx, lease.UploadDrain, q.cfg.LeaseTTL)
		if err != nil {
			return DrainResult{}, err
		}
		if !ok {
			q.schedule(q.cfg.RescheduleInterval)
			return DrainResult{Skipped: true, Reason: "lease held by another process"}, nil
		}
		defer func() {
			if err := q.locker.Release(context.WithoutCancel(ctx), lease.UploadDrain); err != nil {
				q.logger.Warn("failed to release drain lease", zap.Error(err))
			}
		}()
	}

	ctx, span := q.tracer.Start(ctx, "upload.drain")
	defer span.End()

	result, err := q.drain(ctx)
	span.SetAttributes(
		attribute.Int("upload.attempted", result.Attempted),
		attribute.Int("upload.succeeded", result.Succeeded),
		attribute.Int64("upload.remaining", result.Remaining),
	)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	if q.observe != nil {
		q.observe(ctx, result)
	}
	return result, err
}

func (q *UploadQueue) drain(ctx context.Context) (DrainResult, error) {
	var result DrainResult

	jobs, err := q.repo.FindByStatus(ctx, offline.UploadStatusPending)
	if err != nil {
		return result, fmt.Errorf("failed to load pending uploads: %w", err)
	}

	for _, job := range jobs {
		if ctx.Err() != nil {
			break
		}
		if !job.IsVisible() {
			continue
		}
		q.processJob(ctx, job, &result)
	}

	counts, err := q.repo.CountByStatus(context.WithoutCancel(ctx))
	if err != nil {
		return result, fmt.Errorf("failed to count pending uploads: %w", err)
	}
	result.Remaining = counts[offline.UploadStatusPending]
	if result.Remaining > 0 && ctx.Err() == nil {
		q.schedule(q.cfg.RescheduleInterval)
	}
	return result, nil
}

func (q *UploadQueue) processJob(ctx context.Context, job *offline.UploadJob, result *DrainResult) {
	ctx = logger.WithJobID(ctx, job.ID)
	log := logger.WithLogger(ctx, q.logger)

	claimed, err := q.repo.ClaimPending(ctx, job.ID, q.clock())
	if err != nil {
		log.Error("failed to claim upload", zap.Error(err))
		return
	}
	if !claimed {
		return
	}
	if err := job.MarkProcessing(q.clock()); err != nil {
		log.Warn("claimed upload was not pending", zap.Error(err))
		return
	}
	result.Attempted++

	res, err := q.submit(ctx, job)
	if err == nil {
		if err := q.repo.Delete(context.WithoutCancel(ctx), job.ID); err != nil {
			log.Error("failed to delete delivered upload", zap.Error(err))
			return
		}
		q.codec.Release(context.WithoutCancel(ctx), job.Payload)
		result.Succeeded++
		log.Info("upload delivered", zap.String("server_id", res.ID))
		q.notify(UploadCompletion{JobID: job.ID, ServerID: res.ID})
		return
	}

	// shutdown interrupted the attempt; it does not count against the budget
	if ctx.Err() != nil && !errors.Is(err, shared.ErrTimeout) {
		job.Status = offline.UploadStatusPending
		job.UpdatedAt = q.clock()
		if err := q.repo.Update(context.WithoutCancel(ctx), job); err != nil {
			log.Error("failed to return interrupted upload to pending", zap.Error(err))
		}
		return
	}

	job.MarkAttemptFailed(err.Error(), q.clock())
	if updateErr := q.repo.Update(context.WithoutCancel(ctx), job); updateErr != nil {
		log.Error("failed to record upload failure", zap.Error(updateErr))
		return
	}
	if job.IsFailed() {
		result.Failed++
		log.Warn("upload failed permanently",
			zap.Int("retry_count", job.RetryCount),
			zap.String("last_error", job.LastError),
		)
		return
	}
	result.Retrying++
	log.Warn("upload attempt failed",
		zap.Int("retry_count", job.RetryCount),
		zap.Error(err),
	)
}

func (q *UploadQueue) submit(ctx context.Context, job *offline.UploadJob) (*commerce.SubmitResult, error) {
	contentType, body, err := q.codec.BuildMultipart(ctx, job.Payload)
	if err != nil {
		return nil, err
	}
	if q.cfg.SubmitTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, q.cfg.SubmitTimeout)
		defer cancel()
	}
	return q.submitter.Submit(ctx, contentType, body)
}
