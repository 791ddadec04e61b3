// ABOUTME: Datasource provider contract and query types
// ABOUTME: Providers translate metric aliases to native queries against a metrics backend

package datasource

import (
	"context"
	"time"

	"github.com/openstack/watcher-sub000/models"
)

// ResourceType tells a provider what kind of entity a query targets.
type ResourceType string

const (
	ResourceTypeComputeNode ResourceType = "compute_node"
	ResourceTypeInstance    ResourceType = "instance"
)

// Aggregate functions accepted in queries.
const (
	AggregateMean = "mean"
	AggregateMin  = "min"
	AggregateMax  = "max"
)

// Query is one metric request from a strategy. Resource is a typed CDM
// entity (*models.ComputeNode or *models.Instance); providers derive the
// native identifier from it.
type Query struct {
	Resource     any
	ResourceType ResourceType
	Metric       string // metric alias, translated via the metric map
	Period       time.Duration
	Aggregate    string
	Granularity  time.Duration

	// Series bounds, used by StatisticSeries only.
	Start time.Time
	End   time.Time
}

// ResourceID returns the hostname and uuid of the query's resource.
func (q Query) ResourceID() (hostname, uuid string) {
	switch r := q.Resource.(type) {
	case *models.ComputeNode:
		return r.Hostname, r.UUID
	case *models.Instance:
		return r.Name, r.UUID
	}
	return "", ""
}

// Point is one sample of a time series.
type Point struct {
	Timestamp time.Time
	Value     float64
}

// Provider is one metrics backend. StatisticAggregation returns nil when
// the backend legitimately has no data for the query; that is not an
// error. Infrastructure faults are wrapped with models.ErrTransient so
// the router can retry them; a NotFound from the backend (404) is final
// and short-circuits to a nil result.
type Provider interface {
	Name() string
	CheckAvailability(ctx context.Context) error
	ListMetrics() []string
	StatisticAggregation(ctx context.Context, q Query) (*float64, error)
	StatisticSeries(ctx context.Context, q Query) ([]Point, error)
}

// serves reports whether the provider covers every requested metric alias.
func serves(p Provider, metrics []string) bool {
	available := make(map[string]bool)
	for _, m := range p.ListMetrics() {
		available[m] = true
	}
	for _, m := range metrics {
		if !available[m] {
			return false
		}
	}
	return true
}
