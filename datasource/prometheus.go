// ABOUTME: Prometheus and Aetos datasource providers via the Prometheus query API
// ABOUTME: Builds PromQL from configured host/instance labels and the metric map

package datasource

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/prometheus/client_golang/api"
	promv1 "github.com/prometheus/client_golang/api/prometheus/v1"
	"github.com/prometheus/common/model"

	"github.com/openstack/watcher-sub000/config"
	"github.com/openstack/watcher-sub000/models"
)

type prometheusOptions struct {
	name      string
	host      string
	port      string
	fqdnLabel string
	uuidLabel string
	metricMap config.MetricMap
}

// prometheusProvider serves both the prometheus and aetos datasources;
// aetos exposes the same query API behind a multi-tenant facade, so only
// the endpoint and metric map differ.
type prometheusProvider struct {
	name      string
	api       promv1.API
	fqdnLabel string
	uuidLabel string
	metrics   map[string]string
}

func newPrometheusProvider(opts prometheusOptions) (Provider, error) {
	if opts.host == "" || opts.port == "" {
		return nil, models.Invalid("datasource %q requires a host and port", opts.name)
	}
	client, err := api.NewClient(api.Config{
		Address: fmt.Sprintf("http://%s:%s", opts.host, opts.port),
	})
	if err != nil {
		return nil, fmt.Errorf("creating %s client: %w", opts.name, err)
	}
	return &prometheusProvider{
		name:      opts.name,
		api:       promv1.NewAPI(client),
		fqdnLabel: opts.fqdnLabel,
		uuidLabel: opts.uuidLabel,
		metrics:   opts.metricMap[opts.name],
	}, nil
}

func (p *prometheusProvider) Name() string { return p.name }

func (p *prometheusProvider) ListMetrics() []string {
	out := make([]string, 0, len(p.metrics))
	for alias := range p.metrics {
		out = append(out, alias)
	}
	return out
}

func (p *prometheusProvider) CheckAvailability(ctx context.Context) error {
	if _, err := p.api.Runtimeinfo(ctx); err != nil {
		return models.Transient(fmt.Errorf("%s unavailable: %w", p.name, err))
	}
	return nil
}

func (p *prometheusProvider) StatisticAggregation(ctx context.Context, q Query) (*float64, error) {
	selector, err := p.selector(q)
	if err != nil {
		return nil, err
	}
	fn, err := rangeFunction(q.Aggregate)
	if err != nil {
		return nil, err
	}
	period := q.Period
	if period <= 0 {
		period = 300 * time.Second
	}
	promql := fmt.Sprintf("%s(%s[%ds])", fn, selector, int(period.Seconds()))

	value, warnings, err := p.api.Query(ctx, promql, time.Now())
	if err != nil {
		return nil, models.Transient(fmt.Errorf("%s query %q failed: %w", p.name, promql, err))
	}
	for _, w := range warnings {
		slog.Warn("Prometheus query warning", "datasource", p.name, "warning", w)
	}

	vector, ok := value.(model.Vector)
	if !ok {
		return nil, models.Invalid("unexpected %s result type %s for query %q", p.name, value.Type(), promql)
	}
	if len(vector) == 0 {
		return nil, nil
	}
	v := float64(vector[0].Value)
	return &v, nil
}

func (p *prometheusProvider) StatisticSeries(ctx context.Context, q Query) ([]Point, error) {
	selector, err := p.selector(q)
	if err != nil {
		return nil, err
	}
	step := q.Granularity
	if step <= 0 {
		step = time.Minute
	}
	r := promv1.Range{Start: q.Start, End: q.End, Step: step}

	value, warnings, err := p.api.QueryRange(ctx, selector, r)
	if err != nil {
		return nil, models.Transient(fmt.Errorf("%s range query %q failed: %w", p.name, selector, err))
	}
	for _, w := range warnings {
		slog.Warn("Prometheus query warning", "datasource", p.name, "warning", w)
	}

	matrix, ok := value.(model.Matrix)
	if !ok {
		return nil, models.Invalid("unexpected %s result type %s for query %q", p.name, value.Type(), selector)
	}
	if len(matrix) == 0 {
		return nil, nil
	}

	points := make([]Point, 0, len(matrix[0].Values))
	for _, sample := range matrix[0].Values {
		points = append(points, Point{
			Timestamp: sample.Timestamp.Time(),
			Value:     float64(sample.Value),
		})
	}
	return points, nil
}

// selector builds the instant-vector selector for the query's resource.
// Compute nodes are matched on the configured FQDN label, instances on
// the configured uuid label.
func (p *prometheusProvider) selector(q Query) (string, error) {
	native, ok := p.metrics[q.Metric]
	if !ok {
		return "", fmt.Errorf("metric %q not served by %s: %w", q.Metric, p.name, models.ErrMetricNotAvailable)
	}
	hostname, uuid := q.ResourceID()
	switch q.ResourceType {
	case ResourceTypeComputeNode:
		return fmt.Sprintf("%s{%s=%q}", native, p.fqdnLabel, hostname), nil
	case ResourceTypeInstance:
		return fmt.Sprintf("%s{%s=%q}", native, p.uuidLabel, uuid), nil
	}
	return "", models.Invalid("unsupported resource type %q", q.ResourceType)
}

func rangeFunction(aggregate string) (string, error) {
	switch aggregate {
	case AggregateMean, "":
		return "avg_over_time", nil
	case AggregateMin:
		return "min_over_time", nil
	case AggregateMax:
		return "max_over_time", nil
	}
	return "", models.Invalid("unsupported aggregate %q", aggregate)
}
