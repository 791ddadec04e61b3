// ABOUTME: Monasca datasource provider over the metrics statistics REST API
// ABOUTME: Queries per-dimension statistics with keystone token auth

package datasource

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/openstack/watcher-sub000/config"
	"github.com/openstack/watcher-sub000/models"
)

type monascaProvider struct {
	endpoint string
	token    string
	client   *http.Client
	metrics  map[string]string
}

func newMonascaProvider(endpoint, token string, timeout time.Duration, metricMap config.MetricMap) Provider {
	return &monascaProvider{
		endpoint: strings.TrimRight(endpoint, "/"),
		token:    token,
		client:   newHTTPClient(timeout),
		metrics:  metricMap[config.DatasourceMonasca],
	}
}

func (m *monascaProvider) Name() string { return config.DatasourceMonasca }

func (m *monascaProvider) ListMetrics() []string {
	out := make([]string, 0, len(m.metrics))
	for alias := range m.metrics {
		out = append(out, alias)
	}
	return out
}

func (m *monascaProvider) CheckAvailability(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, m.endpoint+"/v2.0/metrics?limit=1", nil)
	if err != nil {
		return fmt.Errorf("creating monasca metrics request: %w", err)
	}
	req.Header.Set("X-Auth-Token", m.token)

	resp, err := m.client.Do(req)
	if err != nil {
		return models.Transient(fmt.Errorf("monasca unavailable: %w", err))
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return restError(config.DatasourceMonasca, resp)
	}
	return nil
}

func (m *monascaProvider) StatisticAggregation(ctx context.Context, q Query) (*float64, error) {
	points, err := m.statistics(ctx, q, time.Now().Add(-q.Period), time.Time{}, int(q.Period.Seconds()))
	if err != nil || len(points) == 0 {
		return nil, err
	}
	v := points[len(points)-1].Value
	return &v, nil
}

func (m *monascaProvider) StatisticSeries(ctx context.Context, q Query) ([]Point, error) {
	period := int(q.Granularity.Seconds())
	if period <= 0 {
		period = 60
	}
	return m.statistics(ctx, q, q.Start, q.End, period)
}

// monascaStatistics mirrors the statistics response: each element carries
// column names and rows where the first column is the timestamp and the
// requested statistic follows.
type monascaStatistics struct {
	Elements []struct {
		Columns    []string `json:"columns"`
		Statistics [][]any  `json:"statistics"`
	} `json:"elements"`
}

func (m *monascaProvider) statistics(ctx context.Context, q Query, start, end time.Time, periodSeconds int) ([]Point, error) {
	native, ok := m.metrics[q.Metric]
	if !ok {
		return nil, fmt.Errorf("metric %q not served by monasca: %w", q.Metric, models.ErrMetricNotAvailable)
	}

	dimension, err := monascaDimension(q)
	if err != nil {
		return nil, err
	}

	params := url.Values{}
	params.Set("name", native)
	params.Set("dimensions", dimension)
	params.Set("statistics", monascaStatistic(q.Aggregate))
	params.Set("start_time", start.UTC().Format(time.RFC3339))
	if !end.IsZero() {
		params.Set("end_time", end.UTC().Format(time.RFC3339))
	}
	if periodSeconds > 0 {
		params.Set("period", fmt.Sprintf("%d", periodSeconds))
	}
	params.Set("merge_metrics", "true")

	u := m.endpoint + "/v2.0/metrics/statistics?" + params.Encode()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, fmt.Errorf("creating monasca statistics request: %w", err)
	}
	req.Header.Set("X-Auth-Token", m.token)

	resp, err := m.client.Do(req)
	if err != nil {
		return nil, models.Transient(fmt.Errorf("monasca request failed: %w", err))
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, restError(config.DatasourceMonasca, resp)
	}

	var stats monascaStatistics
	if err := json.NewDecoder(resp.Body).Decode(&stats); err != nil {
		return nil, models.Transient(fmt.Errorf("parsing monasca statistics: %w", err))
	}
	if len(stats.Elements) == 0 {
		return nil, nil
	}

	var points []Point
	for _, row := range stats.Elements[0].Statistics {
		if len(row) < 2 {
			continue
		}
		tsStr, ok := row[0].(string)
		if !ok {
			continue
		}
		value, ok := row[1].(float64)
		if !ok {
			continue
		}
		ts, err := time.Parse("2006-01-02T15:04:05Z", tsStr)
		if err != nil {
			ts, err = time.Parse(time.RFC3339, tsStr)
			if err != nil {
				continue
			}
		}
		points = append(points, Point{Timestamp: ts, Value: value})
	}
	if len(points) == 0 {
		return nil, nil
	}
	return points, nil
}

func monascaDimension(q Query) (string, error) {
	hostname, uuid := q.ResourceID()
	switch q.ResourceType {
	case ResourceTypeComputeNode:
		return "hostname:" + hostname, nil
	case ResourceTypeInstance:
		return "resource_id:" + uuid, nil
	}
	return "", models.Invalid("unsupported resource type %q", q.ResourceType)
}

func monascaStatistic(aggregate string) string {
	switch aggregate {
	case AggregateMin:
		return "min"
	case AggregateMax:
		return "max"
	default:
		return "avg"
	}
}
