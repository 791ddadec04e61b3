// ABOUTME: InfluxDB datasource provider using Flux queries
// ABOUTME: Aggregates per-host and per-instance measurements from a metrics bucket

package datasource

import (
	"context"
	"fmt"
	"time"

	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	influxapi "github.com/influxdata/influxdb-client-go/v2/api"

	"github.com/openstack/watcher-sub000/config"
	"github.com/openstack/watcher-sub000/models"
)

type influxDBProvider struct {
	client  influxdb2.Client
	query   influxapi.QueryAPI
	bucket  string
	metrics map[string]string
}

func newInfluxDBProvider(url, token, org, bucket string, metricMap config.MetricMap) Provider {
	client := influxdb2.NewClient(url, token)
	return &influxDBProvider{
		client:  client,
		query:   client.QueryAPI(org),
		bucket:  bucket,
		metrics: metricMap[config.DatasourceInfluxDB],
	}
}

func (p *influxDBProvider) Name() string { return config.DatasourceInfluxDB }

func (p *influxDBProvider) ListMetrics() []string {
	out := make([]string, 0, len(p.metrics))
	for alias := range p.metrics {
		out = append(out, alias)
	}
	return out
}

func (p *influxDBProvider) CheckAvailability(ctx context.Context) error {
	ok, err := p.client.Ping(ctx)
	if err != nil || !ok {
		return models.Transient(fmt.Errorf("influxdb unavailable: %v", err))
	}
	return nil
}

func (p *influxDBProvider) StatisticAggregation(ctx context.Context, q Query) (*float64, error) {
	filter, err := p.filter(q)
	if err != nil {
		return nil, err
	}
	period := q.Period
	if period <= 0 {
		period = 300 * time.Second
	}

	flux := fmt.Sprintf(`
		from(bucket: %q)
		  |> range(start: -%ds)
		  %s
		  |> %s()
	`, p.bucket, int(period.Seconds()), filter, fluxAggregate(q.Aggregate))

	result, err := p.query.Query(ctx, flux)
	if err != nil {
		return nil, models.Transient(fmt.Errorf("influxdb query failed: %w", err))
	}
	defer result.Close()

	for result.Next() {
		if v, ok := result.Record().Value().(float64); ok {
			return &v, nil
		}
	}
	if result.Err() != nil {
		return nil, models.Transient(fmt.Errorf("reading influxdb result: %w", result.Err()))
	}
	return nil, nil
}

func (p *influxDBProvider) StatisticSeries(ctx context.Context, q Query) ([]Point, error) {
	filter, err := p.filter(q)
	if err != nil {
		return nil, err
	}
	every := q.Granularity
	if every <= 0 {
		every = time.Minute
	}

	flux := fmt.Sprintf(`
		from(bucket: %q)
		  |> range(start: %s, stop: %s)
		  %s
		  |> aggregateWindow(every: %ds, fn: %s, createEmpty: false)
		  |> sort(columns: ["_time"], desc: false)
	`, p.bucket,
		q.Start.UTC().Format(time.RFC3339), q.End.UTC().Format(time.RFC3339),
		filter, int(every.Seconds()), fluxAggregate(q.Aggregate))

	result, err := p.query.Query(ctx, flux)
	if err != nil {
		return nil, models.Transient(fmt.Errorf("influxdb query failed: %w", err))
	}
	defer result.Close()

	var points []Point
	for result.Next() {
		record := result.Record()
		if v, ok := record.Value().(float64); ok {
			points = append(points, Point{Timestamp: record.Time(), Value: v})
		}
	}
	if result.Err() != nil {
		return nil, models.Transient(fmt.Errorf("reading influxdb result: %w", result.Err()))
	}
	return points, nil
}

// filter builds the measurement and tag filter lines for the query's
// resource. Host measurements are tagged with hostname, instance
// measurements with instance_id.
func (p *influxDBProvider) filter(q Query) (string, error) {
	native, ok := p.metrics[q.Metric]
	if !ok {
		return "", fmt.Errorf("metric %q not served by influxdb: %w", q.Metric, models.ErrMetricNotAvailable)
	}
	hostname, uuid := q.ResourceID()
	var tag, value string
	switch q.ResourceType {
	case ResourceTypeComputeNode:
		tag, value = "hostname", hostname
	case ResourceTypeInstance:
		tag, value = "instance_id", uuid
	default:
		return "", models.Invalid("unsupported resource type %q", q.ResourceType)
	}
	return fmt.Sprintf(`|> filter(fn: (r) => r._measurement == %q)
		  |> filter(fn: (r) => r.%s == %q)`, native, tag, value), nil
}

func fluxAggregate(aggregate string) string {
	switch aggregate {
	case AggregateMin:
		return "min"
	case AggregateMax:
		return "max"
	default:
		return "mean"
	}
}
