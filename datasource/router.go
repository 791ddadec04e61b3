// ABOUTME: Metric query routing across prioritized providers
// ABOUTME: Bounded retry with fixed interval, fall-through on exhaustion, result caching

package datasource

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/openstack/watcher-sub000/cache"
	"github.com/openstack/watcher-sub000/models"
)

// Router answers metric queries against an ordered provider list. For
// each query it walks the providers that cover the metric, retrying
// transient failures per provider before falling through to the next.
type Router struct {
	providers  []Provider
	maxRetries int
	interval   time.Duration
	timeout    time.Duration
	cache      *cache.Cache
}

// NewRouter builds a router. cache may be nil to disable result caching.
func NewRouter(providers []Provider, maxRetries int, interval, timeout time.Duration, c *cache.Cache) *Router {
	if maxRetries < 1 {
		maxRetries = 1
	}
	return &Router{
		providers:  providers,
		maxRetries: maxRetries,
		interval:   interval,
		timeout:    timeout,
		cache:      c,
	}
}

// Providers returns the configured providers in priority order.
func (r *Router) Providers() []Provider {
	return r.providers
}

// StatisticAggregation resolves a scalar aggregation. A nil result with a
// nil error means the backend has no data for the resource.
func (r *Router) StatisticAggregation(ctx context.Context, q Query) (*float64, error) {
	key := r.cacheKey("agg", q)
	if r.cache != nil {
		if v, ok := r.cache.Get(key); ok {
			return v.(*float64), nil
		}
	}

	var result *float64
	err := r.route(ctx, q, func(ctx context.Context, p Provider) error {
		v, err := p.StatisticAggregation(ctx, q)
		if err != nil {
			return err
		}
		result = v
		return nil
	})
	if err != nil {
		return nil, err
	}
	if r.cache != nil && result != nil {
		r.cache.Set(key, result)
	}
	return result, nil
}

// StatisticSeries resolves a time series. A nil series with a nil error
// means the backend has no data for the resource.
func (r *Router) StatisticSeries(ctx context.Context, q Query) ([]Point, error) {
	var result []Point
	err := r.route(ctx, q, func(ctx context.Context, p Provider) error {
		pts, err := p.StatisticSeries(ctx, q)
		if err != nil {
			return err
		}
		result = pts
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// route walks the providers covering q.Metric and applies the retry and
// fall-through policy. A NotFound from a provider means the backend
// authoritatively has no record; that short-circuits to success with no
// result. Transient faults are retried maxRetries times with the fixed
// interval, then the next provider is tried.
func (r *Router) route(ctx context.Context, q Query, fn func(context.Context, Provider) error) error {
	if len(r.providers) == 0 {
		return models.ErrNoDatasourceAvailable
	}

	var lastErr error
	covered := false
	for _, p := range r.providers {
		if !serves(p, []string{q.Metric}) {
			continue
		}
		covered = true

		err := r.withRetries(ctx, p, q, fn)
		if err == nil {
			return nil
		}
		if errors.Is(err, models.ErrNotFound) {
			// The backend has no record for this resource; callers get
			// a null result rather than a retry storm.
			slog.Debug("Datasource has no record", "datasource", p.Name(), "metric", q.Metric)
			return nil
		}
		lastErr = err
		slog.Warn("Datasource exhausted, falling through",
			"datasource", p.Name(), "metric", q.Metric, "error", err)
	}

	if !covered {
		return fmt.Errorf("metric %q not served by any configured datasource: %w",
			q.Metric, models.ErrMetricNotAvailable)
	}
	return fmt.Errorf("all datasources exhausted for metric %q (last error: %v): %w",
		q.Metric, lastErr, models.ErrMetricNotAvailable)
}

func (r *Router) withRetries(ctx context.Context, p Provider, q Query, fn func(context.Context, Provider) error) error {
	var lastErr error
	for attempt := 1; attempt <= r.maxRetries; attempt++ {
		attemptCtx := ctx
		var cancel context.CancelFunc
		if r.timeout > 0 {
			attemptCtx, cancel = context.WithTimeout(ctx, r.timeout)
		}
		err := fn(attemptCtx, p)
		if cancel != nil {
			cancel()
		}
		if err == nil {
			return nil
		}
		if errors.Is(err, models.ErrNotFound) {
			return err
		}
		lastErr = err
		if attempt < r.maxRetries {
			slog.Debug("Retrying metric query",
				"datasource", p.Name(), "metric", q.Metric, "attempt", attempt, "error", err)
			select {
			case <-time.After(r.interval):
			case <-ctx.Done():
				return ctx.Err()
			}
		}
	}
	return lastErr
}

func (r *Router) cacheKey(kind string, q Query) string {
	host, uuid := q.ResourceID()
	return fmt.Sprintf("ds:%s:%s:%s:%s:%s:%s:%d",
		kind, q.Metric, q.ResourceType, host, uuid, q.Aggregate, int(q.Period.Seconds()))
}
