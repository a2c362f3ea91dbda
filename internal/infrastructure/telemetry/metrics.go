package telemetry

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetricgrpc"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.uber.org/zap"
)

// MeterName is the instrumentation scope of the daemon's own metrics
const MeterName = "github.com/vendorhub/storefront"

// MeterProvider owns the SDK meter provider installed as the global one
type MeterProvider struct {
	provider *sdkmetric.MeterProvider
	logger   *zap.Logger
}

// NewMeterProvider installs a periodic OTLP/gRPC meter provider. A zero
// interval exports every 60s.
func NewMeterProvider(ctx context.Context, cfg Config, interval time.Duration, logger *zap.Logger) (*MeterProvider, error) {
	mp := &MeterProvider{logger: logger}
	if !cfg.Enabled {
		logger.Debug("metrics disabled")
		return mp, nil
	}
	if interval <= 0 {
		interval = 60 * time.Second
	}

	exporterOpts := []otlpmetricgrpc.Option{otlpmetricgrpc.WithEndpoint(cfg.CollectorEndpoint)}
	if cfg.Insecure {
		exporterOpts = append(exporterOpts, otlpmetricgrpc.WithInsecure())
	}
	exporter, err := otlpmetricgrpc.New(ctx, exporterOpts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create OTLP metrics exporter: %w", err)
	}

	res, err := newResource(cfg)
	if err != nil {
		return nil, err
	}

	mp.provider = sdkmetric.NewMeterProvider(
		sdkmetric.WithResource(res),
		sdkmetric.WithReader(sdkmetric.NewPeriodicReader(exporter, sdkmetric.WithInterval(interval))),
	)
	otel.SetMeterProvider(mp.provider)

	logger.Info("meter provider initialized",
		zap.String("collector_endpoint", cfg.CollectorEndpoint),
		zap.Duration("export_interval", interval),
	)
	return mp, nil
}

// Meter returns the daemon's meter
func (mp *MeterProvider) Meter() metric.Meter {
	if mp.provider == nil {
		return otel.GetMeterProvider().Meter(MeterName)
	}
	return mp.provider.Meter(MeterName)
}

// Shutdown flushes pending measurements
func (mp *MeterProvider) Shutdown(ctx context.Context) error {
	if mp.provider == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(ctx, shutdownTimeout)
	defer cancel()
	if err := mp.provider.Shutdown(ctx); err != nil {
		return fmt.Errorf("failed to shutdown meter provider: %w", err)
	}
	return nil
}

// Attribute keys used on the queue instruments
var (
	AttrStatus  = attribute.Key("status")
	AttrOutcome = attribute.Key("outcome")
)

// UploadDepth reports upload jobs per state
type UploadDepth func(ctx context.Context) (pending, processing, failed int64, err error)

// MutationDepth reports the number of queued mutations
type MutationDepth func(ctx context.Context) (int64, error)

// QueueMetrics holds the storefront's queue and sync instruments
type QueueMetrics struct {
	uploads   metric.Int64Counter
	replays   metric.Int64Counter
	syncs     metric.Int64Counter
	gaugeReg  metric.Registration
	uploadsFn UploadDepth
	mutateFn  MutationDepth
}

// NewQueueMetrics creates the counters and registers one callback observing
// the depth of both queues on every collection.
func NewQueueMetrics(meter metric.Meter, uploads UploadDepth, mutations MutationDepth) (*QueueMetrics, error) {
	m := &QueueMetrics{uploadsFn: uploads, mutateFn: mutations}

	var err error
	if m.uploads, err = meter.Int64Counter("storefront.uploads.finished",
		metric.WithDescription("Upload attempts by outcome"),
		metric.WithUnit("{job}"),
	); err != nil {
		return nil, fmt.Errorf("failed to create upload counter: %w", err)
	}
	if m.replays, err = meter.Int64Counter("storefront.mutations.replayed",
		metric.WithDescription("Queued mutation replays by outcome"),
		metric.WithUnit("{request}"),
	); err != nil {
		return nil, fmt.Errorf("failed to create replay counter: %w", err)
	}
	if m.syncs, err = meter.Int64Counter("storefront.sync.runs",
		metric.WithDescription("Reference data sync runs by outcome"),
		metric.WithUnit("{run}"),
	); err != nil {
		return nil, fmt.Errorf("failed to create sync counter: %w", err)
	}

	uploadDepth, err := meter.Int64ObservableGauge("storefront.uploads.depth",
		metric.WithDescription("Upload jobs by state"),
		metric.WithUnit("{job}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create upload gauge: %w", err)
	}
	mutationDepth, err := meter.Int64ObservableGauge("storefront.mutations.depth",
		metric.WithDescription("Mutations waiting for connectivity"),
		metric.WithUnit("{request}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create mutation gauge: %w", err)
	}

	m.gaugeReg, err = meter.RegisterCallback(func(ctx context.Context, o metric.Observer) error {
		if m.uploadsFn != nil {
			if pending, processing, failed, err := m.uploadsFn(ctx); err == nil {
				o.ObserveInt64(uploadDepth, pending, metric.WithAttributes(AttrStatus.String("pending")))
				o.ObserveInt64(uploadDepth, processing, metric.WithAttributes(AttrStatus.String("processing")))
				o.ObserveInt64(uploadDepth, failed, metric.WithAttributes(AttrStatus.String("failed")))
			}
		}
		if m.mutateFn != nil {
			if n, err := m.mutateFn(ctx); err == nil {
				o.ObserveInt64(mutationDepth, n)
			}
		}
		return nil
	}, uploadDepth, mutationDepth)
	if err != nil {
		return nil, fmt.Errorf("failed to register queue gauges: %w", err)
	}
	return m, nil
}

// RecordUploads adds the outcome of one drain cycle
func (m *QueueMetrics) RecordUploads(ctx context.Context, succeeded, retrying, failed int) {
	add(ctx, m.uploads, succeeded, "succeeded")
	add(ctx, m.uploads, retrying, "retrying")
	add(ctx, m.uploads, failed, "failed")
}

// RecordReplays adds the outcome of one mutation flush
func (m *QueueMetrics) RecordReplays(ctx context.Context, succeeded, failed int) {
	add(ctx, m.replays, succeeded, "succeeded")
	add(ctx, m.replays, failed, "failed")
}

// RecordSync counts one sync run. outcome is synced, fresh or error.
func (m *QueueMetrics) RecordSync(ctx context.Context, outcome string) {
	m.syncs.Add(ctx, 1, metric.WithAttributes(AttrOutcome.String(outcome)))
}

// Close unregisters the gauge callback
func (m *QueueMetrics) Close() error {
	if m.gaugeReg == nil {
		return nil
	}
	return m.gaugeReg.Unregister()
}

func add(ctx context.Context, c metric.Int64Counter, n int, outcome string) {
	if n <= 0 {
		return
	}
	c.Add(ctx, int64(n), metric.WithAttributes(AttrOutcome.String(outcome)))
}
