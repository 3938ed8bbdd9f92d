package cache

import (
	"context"
	"fmt"
	"time"

	"github.com/hatlonely/esmap/log/logger"
	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

type ObservableStoreOptions struct {
	// Name 组件名称，作为指标名前缀以及日志和 span 的 component 属性
	Name string `cfg:"name" def:"esmap_cache" validate:"required"`

	EnableMetrics bool `cfg:"enableMetrics" def:"true"`
	EnableLogging bool `cfg:"enableLogging" def:"false"`
	EnableTracing bool `cfg:"enableTracing" def:"false"`
}

// ObservableMetrics 封装 prometheus 指标
type ObservableMetrics struct {
	operationCounter  *prometheus.CounterVec
	operationDuration *prometheus.HistogramVec
}

// NewObservableMetrics 创建指标收集器并注册到 registerer，registerer 为 nil 时使用默认 registry
func NewObservableMetrics(name string, registerer prometheus.Registerer) (*ObservableMetrics, error) {
	metrics := &ObservableMetrics{
		operationCounter: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: name + "_operations_total",
				Help: "Total number of cache store operations",
			},
			[]string{"operation", "status"},
		),
		operationDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    name + "_operation_duration_seconds",
				Help:    "Duration of cache store operations in seconds",
				Buckets: []float64{0.00001, 0.0001, 0.001, 0.01, 0.1, 1.0},
			},
			[]string{"operation"},
		),
	}

	if registerer == nil {
		registerer = prometheus.DefaultRegisterer
	}
	for _, c := range []prometheus.Collector{metrics.operationCounter, metrics.operationDuration} {
		if err := registerer.Register(c); err != nil {
			return nil, errors.Wrap(err, "failed to register metrics")
		}
	}

	return metrics, nil
}

// ObservableStore 装饰器，为任何 Store 添加指标、日志和追踪
type ObservableStore[K comparable, V any] struct {
	store Store[K, V]

	logger  logger.Logger
	metrics *ObservableMetrics
	tracer  trace.Tracer
	name    string
}

func NewObservableStore[K comparable, V any](store Store[K, V], options *ObservableStoreOptions, registerer prometheus.Registerer, l logger.Logger) (*ObservableStore[K, V], error) {
	if store == nil {
		return nil, fmt.Errorf("store cannot be nil")
	}
	if options == nil {
		options = &ObservableStoreOptions{Name: "esmap_cache", EnableMetrics: true}
	}

	obs := &ObservableStore[K, V]{
		store: store,
		name:  options.Name,
	}
	if options.EnableLogging && l != nil {
		obs.logger = l.WithGroup("cacheStore")
	}
	if options.EnableMetrics {
		metrics, err := NewObservableMetrics(options.Name, registerer)
		if err != nil {
			return nil, err
		}
		obs.metrics = metrics
	}
	if options.EnableTracing {
		obs.tracer = otel.Tracer(fmt.Sprintf("cache.%s", options.Name))
	}

	return obs, nil
}

func (obs *ObservableStore[K, V]) observe(ctx context.Context, operation string, fn func(context.Context) error) error {
	start := time.Now()

	var span trace.Span
	if obs.tracer != nil {
		ctx, span = obs.tracer.Start(ctx, fmt.Sprintf("cache.%s", operation),
			trace.WithAttributes(
				attribute.String("component", obs.name),
				attribute.String("operation", operation),
			),
		)
		defer span.End()
	}

	err := fn(ctx)
	duration := time.Since(start)

	// 未命中不算失败
	status := "success"
	switch {
	case errors.Is(err, ErrKeyNotFound):
		status = "miss"
	case errors.Is(err, ErrConditionFailed):
		status = "exists"
	case err != nil:
		status = "error"
	}

	if span != nil {
		span.SetAttributes(attribute.String("status", status))
		if status == "error" {
			span.SetStatus(codes.Error, err.Error())
			span.RecordError(err)
		} else {
			span.SetStatus(codes.Ok, "")
		}
	}

	if obs.metrics != nil {
		obs.metrics.operationCounter.WithLabelValues(operation, status).Inc()
		obs.metrics.operationDuration.WithLabelValues(operation).Observe(duration.Seconds())
	}

	if obs.logger != nil {
		if status == "error" {
			obs.logger.ErrorContext(ctx, "cache operation failed",
				"component", obs.name,
				"operation", operation,
				"error", err.Error(),
			)
		} else {
			obs.logger.DebugContext(ctx, "cache operation completed",
				"component", obs.name,
				"operation", operation,
				"status", status,
				"duration_us", duration.Microseconds(),
			)
		}
	}

	return err
}

func (obs *ObservableStore[K, V]) Set(ctx context.Context, key K, value V, opts ...setOption) error {
	return obs.observe(ctx, "set", func(ctx context.Context) error {
		return obs.store.Set(ctx, key, value, opts...)
	})
}

func (obs *ObservableStore[K, V]) Get(ctx context.Context, key K) (V, error) {
	var result V
	err := obs.observe(ctx, "get", func(ctx context.Context) error {
		var getErr error
		result, getErr = obs.store.Get(ctx, key)
		return getErr
	})
	return result, err
}

func (obs *ObservableStore[K, V]) Del(ctx context.Context, key K) error {
	return obs.observe(ctx, "del", func(ctx context.Context) error {
		return obs.store.Del(ctx, key)
	})
}

func (obs *ObservableStore[K, V]) Range(ctx context.Context, fn func(key K, value V) bool) error {
	return obs.observe(ctx, "range", func(ctx context.Context) error {
		return obs.store.Range(ctx, fn)
	})
}

func (obs *ObservableStore[K, V]) Close() error {
	return obs.observe(context.Background(), "close", func(ctx context.Context) error {
		return obs.store.Close()
	})
}
