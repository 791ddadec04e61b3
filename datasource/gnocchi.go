// ABOUTME: Gnocchi datasource provider over the measures REST API
// ABOUTME: Queries per-resource aggregated measures with keystone token auth

package datasource

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/openstack/watcher-sub000/config"
	"github.com/openstack/watcher-sub000/models"
)

type gnocchiProvider struct {
	endpoint string
	token    string
	client   *http.Client
	metrics  map[string]string
}

func newGnocchiProvider(endpoint, token string, timeout time.Duration, metricMap config.MetricMap) Provider {
	return &gnocchiProvider{
		endpoint: strings.TrimRight(endpoint, "/"),
		token:    token,
		client:   newHTTPClient(timeout),
		metrics:  metricMap[config.DatasourceGnocchi],
	}
}

func (g *gnocchiProvider) Name() string { return config.DatasourceGnocchi }

func (g *gnocchiProvider) ListMetrics() []string {
	out := make([]string, 0, len(g.metrics))
	for alias := range g.metrics {
		out = append(out, alias)
	}
	return out
}

func (g *gnocchiProvider) CheckAvailability(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, g.endpoint+"/v1/status", nil)
	if err != nil {
		return fmt.Errorf("creating gnocchi status request: %w", err)
	}
	req.Header.Set("X-Auth-Token", g.token)

	resp, err := g.client.Do(req)
	if err != nil {
		return models.Transient(fmt.Errorf("gnocchi unavailable: %w", err))
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return restError(config.DatasourceGnocchi, resp)
	}
	return nil
}

func (g *gnocchiProvider) StatisticAggregation(ctx context.Context, q Query) (*float64, error) {
	points, err := g.measures(ctx, q, time.Now().Add(-q.Period), time.Time{})
	if err != nil || len(points) == 0 {
		return nil, err
	}
	// Gnocchi aggregates per granularity window; the newest measure is
	// the aggregation over the most recent complete window.
	v := points[len(points)-1].Value
	return &v, nil
}

func (g *gnocchiProvider) StatisticSeries(ctx context.Context, q Query) ([]Point, error) {
	return g.measures(ctx, q, q.Start, q.End)
}

func (g *gnocchiProvider) measures(ctx context.Context, q Query, start, stop time.Time) ([]Point, error) {
	native, ok := g.metrics[q.Metric]
	if !ok {
		return nil, fmt.Errorf("metric %q not served by gnocchi: %w", q.Metric, models.ErrMetricNotAvailable)
	}

	resourceID, err := gnocchiResourceID(q)
	if err != nil {
		return nil, err
	}

	params := url.Values{}
	params.Set("aggregation", gnocchiAggregation(q.Aggregate))
	if !start.IsZero() {
		params.Set("start", start.UTC().Format(time.RFC3339))
	}
	if !stop.IsZero() {
		params.Set("stop", stop.UTC().Format(time.RFC3339))
	}
	if q.Granularity > 0 {
		params.Set("granularity", fmt.Sprintf("%d", int(q.Granularity.Seconds())))
	}

	u := fmt.Sprintf("%s/v1/resource/generic/%s/metric/%s/measures?%s",
		g.endpoint, url.PathEscape(resourceID), url.PathEscape(native), params.Encode())

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, fmt.Errorf("creating gnocchi measures request: %w", err)
	}
	req.Header.Set("X-Auth-Token", g.token)

	resp, err := g.client.Do(req)
	if err != nil {
		return nil, models.Transient(fmt.Errorf("gnocchi request failed: %w", err))
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, restError(config.DatasourceGnocchi, resp)
	}

	// Measures arrive as [timestamp, granularity, value] triplets.
	var raw [][]any
	if err := json.NewDecoder(resp.Body).Decode(&raw); err != nil {
		return nil, models.Transient(fmt.Errorf("parsing gnocchi measures: %w", err))
	}

	points := make([]Point, 0, len(raw))
	for _, m := range raw {
		if len(m) != 3 {
			continue
		}
		tsStr, ok := m[0].(string)
		if !ok {
			continue
		}
		value, ok := m[2].(float64)
		if !ok {
			continue
		}
		ts, err := time.Parse(time.RFC3339, tsStr)
		if err != nil {
			continue
		}
		points = append(points, Point{Timestamp: ts, Value: value})
	}
	if len(points) == 0 {
		return nil, nil
	}
	return points, nil
}

func gnocchiResourceID(q Query) (string, error) {
	hostname, uuid := q.ResourceID()
	switch q.ResourceType {
	case ResourceTypeComputeNode:
		if hostname == "" {
			return "", errors.New("compute node query without hostname")
		}
		return hostname, nil
	case ResourceTypeInstance:
		if uuid == "" {
			return "", errors.New("instance query without uuid")
		}
		return uuid, nil
	}
	return "", models.Invalid("unsupported resource type %q", q.ResourceType)
}

func gnocchiAggregation(aggregate string) string {
	switch aggregate {
	case AggregateMin:
		return "min"
	case AggregateMax:
		return "max"
	default:
		return "mean"
	}
}
