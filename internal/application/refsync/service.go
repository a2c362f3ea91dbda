// Package refsync keeps the local reference-data store in step with the
// commerce backend's taxonomy.
package refsync

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/vendorhub/storefront/internal/domain/reference"
	"github.com/vendorhub/storefront/internal/domain/shared"
	"github.com/vendorhub/storefront/internal/infrastructure/lease"
	"github.com/vendorhub/storefront/internal/infrastructure/logger"
	"github.com/vendorhub/storefront/internal/infrastructure/persistence"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

// Stages reported through progress events
const (
	StageFetchCategories = "fetch_categories"
	StageFetchBrands     = "fetch_brands"
	StageFetchAttributes = "fetch_attributes"
	StageFetchLocations  = "fetch_locations"
	StageBuildTrees      = "build_trees"
	StageBuildMappings   = "build_mappings"
	StagePersist         = "persist"
)

const totalSteps = 7

// ResourceFetcher downloads one static reference resource
type ResourceFetcher interface {
	FetchResource(ctx context.Context, name reference.Collection) ([]reference.Entity, error)
}

// Store is the part of the local data store the sync writes to
type Store interface {
	NeedsRefresh(ctx context.Context) (bool, error)
	GetLastSyncTime(ctx context.Context) (time.Time, bool, error)
	SaveAll(ctx context.Context, snap persistence.Snapshot) error
	Counts(ctx context.Context) (map[reference.Collection]int64, error)
}

// Progress is emitted after each phase of a sync. It is informational only.
type Progress struct {
	SyncID string `json:"sync_id"`
	Stage  string `json:"stage"`
	Step   int    `json:"step"`
	Total  int    `json:"total"`
	Detail string `json:"detail,omitempty"`
}

// SyncStatus describes the current state of the local reference data
type SyncStatus struct {
	IsSyncing    bool                           `json:"is_syncing"`
	NeedsRefresh bool                           `json:"needs_refresh"`
	LastSyncTime *time.Time                     `json:"last_sync_time,omitempty"`
	LastError    string                         `json:"last_error,omitempty"`
	Counts       map[reference.Collection]int64 `json:"counts"`
}

// DataSyncService downloads every reference collection, derives trees and
// category attribute mappings and replaces the local copy in one
// transaction. Categories and attributes are required; brands and
// locations degrade to empty collections when unavailable.
type DataSyncService struct {
	fetcher  ResourceFetcher
	store    Store
	table    reference.AttributeTable
	locker   lease.Locker
	leaseTTL time.Duration
	logger   *zap.Logger
	tracer   trace.Tracer
	now      func() time.Time
	observe  func(ctx context.Context, synced bool, err error)

	isSyncing atomic.Bool

	mu        sync.RWMutex
	lastError string
	listeners map[int]func(Progress)
	nextID    int
}

// Option configures a DataSyncService
type Option func(*DataSyncService)

// WithAttributeTable replaces the built-in category attribute table
func WithAttributeTable(t reference.AttributeTable) Option {
	return func(s *DataSyncService) {
		s.table = t
	}
}

// WithLocker enables cross-process exclusion of syncs
func WithLocker(l lease.Locker, ttl time.Duration) Option {
	return func(s *DataSyncService) {
		s.locker = l
		s.leaseTTL = ttl
	}
}

// WithLogger sets the logger
func WithLogger(l *zap.Logger) Option {
	return func(s *DataSyncService) {
		s.logger = l
	}
}

// WithRunObserver is called with the result of every SyncAll call
func WithRunObserver(fn func(ctx context.Context, synced bool, err error)) Option {
	return func(s *DataSyncService) {
		s.observe = fn
	}
}

// WithClock replaces time.Now
func WithClock(now func() time.Time) Option {
	return func(s *DataSyncService) {
		s.now = now
	}
}

// NewDataSyncService creates the service
func NewDataSyncService(fetcher ResourceFetcher, store Store, opts ...Option) *DataSyncService {
	s := &DataSyncService{
		fetcher:   fetcher,
		store:     store,
		table:     reference.DefaultAttributeTable(),
		leaseTTL:  10 * time.Minute,
		logger:    zap.NewNop(),
		tracer:    otel.Tracer("github.com/vendorhub/storefront/internal/application/refsync"),
		now:       time.Now,
		listeners: make(map[int]func(Progress)),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// OnProgress registers a progress listener and returns a function removing it
func (s *DataSyncService) OnProgress(fn func(Progress)) func() {
	s.mu.Lock()
	id := s.nextID
	s.nextID++
	s.listeners[id] = fn
	s.mu.Unlock()

	return func() {
		s.mu.Lock()
		delete(s.listeners, id)
		s.mu.Unlock()
	}
}

func (s *DataSyncService) emit(p Progress) {
	s.mu.RLock()
	fns := make([]func(Progress), 0, len(s.listeners))
	for _, fn := range s.listeners {
		fns = append(fns, fn)
	}
	s.mu.RUnlock()

	p.Total = totalSteps
	for _, fn := range fns {
		fn(p)
	}
}

// GetSyncStatus reports freshness, the last failure and stored counts
func (s *DataSyncService) GetSyncStatus(ctx context.Context) (*SyncStatus, error) {
	needs, err := s.store.NeedsRefresh(ctx)
	if err != nil {
		return nil, err
	}
	counts, err := s.store.Counts(ctx)
	if err != nil {
		return nil, err
	}

	status := &SyncStatus{
		IsSyncing:    s.isSyncing.Load(),
		NeedsRefresh: needs,
		Counts:       counts,
	}
	last, ok, err := s.store.GetLastSyncTime(ctx)
	if err != nil {
		return nil, err
	}
	if ok {
		status.LastSyncTime = &last
	}

	s.mu.RLock()
	status.LastError = s.lastError
	s.mu.RUnlock()
	return status, nil
}

// SyncAll refreshes the local reference data. Without force it does nothing
// while the data is fresh and reports false. A call made while another sync
// runs fails with shared.ErrSyncInProgress.
func (s *DataSyncService) SyncAll(ctx context.Context, force bool) (synced bool, err error) {
	if s.observe != nil {
		defer func() { s.observe(ctx, synced, err) }()
	}
	return s.syncAll(ctx, force)
}

func (s *DataSyncService) syncAll(ctx context.Context, force bool) (bool, error) {
	if !s.isSyncing.CompareAndSwap(false, true) {
		return false, shared.ErrSyncInProgress
	}
	defer s.isSyncing.Store(false)

	if !force {
		needs, err := s.store.NeedsRefresh(ctx)
		if err != nil {
			return false, fmt.Errorf("failed to check reference data freshness: %w", err)
		}
		if !needs {
			return false, nil
		}
	}

	if s.locker != nil {
		ok, err := s.locker.TryAcquire(ctx, lease.ReferenceSync, s.leaseTTL)
		if err != nil {
			return false, err
		}
		if !ok {
			return false, shared.ErrLeaseHeld
		}
		defer func() {
			if err := s.locker.Release(context.WithoutCancel(ctx), lease.ReferenceSync); err != nil {
				s.logger.Warn("failed to release sync lease", zap.Error(err))
			}
		}()
	}

	syncID := uuid.NewString()
	ctx = logger.WithSyncID(ctx, syncID)
	ctx, span := s.tracer.Start(ctx, "refsync.sync_all", trace.WithAttributes(
		attribute.String("sync.id", syncID),
		attribute.Bool("sync.force", force),
	))
	defer span.End()

	log := logger.WithLogger(ctx, s.logger)
	start := s.now()
	log.Info("reference data sync started", zap.Bool("force", force))

	snap, err := s.collect(ctx, syncID)
	if err == nil {
		snap.SyncedAt = s.now().UTC()
		err = s.store.SaveAll(ctx, snap)
		if err == nil {
			s.emit(Progress{SyncID: syncID, Stage: StagePersist, Step: 7})
		} else {
			err = fmt.Errorf("failed to persist reference data: %w", err)
		}
	}

	s.mu.Lock()
	if err != nil {
		s.lastError = err.Error()
	} else {
		s.lastError = ""
	}
	s.mu.Unlock()

	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		log.Error("reference data sync failed", zap.Error(err))
		return false, err
	}

	log.Info("reference data sync completed",
		zap.Int("categories", len(snap.Categories)),
		zap.Int("brands", len(snap.Brands)),
		zap.Int("attributes", len(snap.Attributes)),
		zap.Int("locations", len(snap.Locations)),
		zap.Int("mappings", len(snap.Mappings)),
		zap.Duration("duration", s.now().Sub(start)),
	)
	return true, nil
}

func (s *DataSyncService) collect(ctx context.Context, syncID string) (persistence.Snapshot, error) {
	var snap persistence.Snapshot
	log := logger.WithLogger(ctx, s.logger)

	steps := []struct {
		collection reference.Collection
		stage      string
		required   bool
		dest       *[]reference.Entity
	}{
		{reference.CollectionCategories, StageFetchCategories, true, &snap.Categories},
		{reference.CollectionBrands, StageFetchBrands, false, &snap.Brands},
		{reference.CollectionAttributes, StageFetchAttributes, true, &snap.Attributes},
		{reference.CollectionLocations, StageFetchLocations, false, &snap.Locations},
	}

	for i, step := range steps {
		items, err := s.fetcher.FetchResource(ctx, step.collection)
		if err != nil {
			if step.required || errors.Is(err, context.Canceled) {
				return snap, fmt.Errorf("failed to fetch %s: %w", step.collection, err)
			}
			log.Warn("optional reference collection unavailable, storing it empty",
				zap.String("collection", string(step.collection)),
				zap.Error(err),
			)
			items = []reference.Entity{}
		}
		*step.dest = items
		s.emit(Progress{
			SyncID: syncID,
			Stage:  step.stage,
			Step:   i + 1,
			Detail: fmt.Sprintf("%d %s", len(items), step.collection),
		})
	}

	snap.CategoryTree = reference.BuildTree(snap.Categories)
	snap.LocationTree = reference.BuildTree(snap.Locations)
	s.emit(Progress{SyncID: syncID, Stage: StageBuildTrees, Step: 5})

	snap.Mappings = reference.BuildCategoryAttributeMappings(snap.Categories, snap.Attributes, s.table)
	s.emit(Progress{
		SyncID: syncID,
		Stage:  StageBuildMappings,
		Step:   6,
		Detail: fmt.Sprintf("%d mappings", len(snap.Mappings)),
	})
	return snap, nil
}

// Run checks staleness immediately and then every interval until ctx is done
func (s *DataSyncService) Run(ctx context.Context, interval time.Duration) {
	s.runOnce(ctx)
	if interval <= 0 {
		return
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.runOnce(ctx)
		}
	}
}

func (s *DataSyncService) runOnce(ctx context.Context) {
	_, err := s.SyncAll(ctx, false)
	switch {
	case err == nil:
	case errors.Is(err, shared.ErrSyncInProgress), errors.Is(err, shared.ErrLeaseHeld):
		s.logger.Debug("scheduled sync skipped", zap.Error(err))
	default:
		s.logger.Warn("scheduled sync failed", zap.Error(err))
	}
}
