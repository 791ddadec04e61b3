// ABOUTME: Datasource manager: builds providers from configuration in priority order
// ABOUTME: Rejects conflicting configurations and selects backends per strategy needs

package datasource

import (
	"fmt"
	"time"

	"github.com/openstack/watcher-sub000/cache"
	"github.com/openstack/watcher-sub000/config"
	"github.com/openstack/watcher-sub000/models"
)

// Manager owns the configured providers, in the deployment's priority
// order, and hands out routers to strategies.
type Manager struct {
	providers  []Provider
	maxRetries int
	interval   time.Duration
	timeout    time.Duration
	cache      *cache.Cache
}

// NewManager builds providers for every configured datasource name. A
// configuration listing both prometheus and aetos is rejected: aetos is a
// multi-tenant facade over prometheus and the two would answer the same
// metrics with different authority.
func NewManager(cfg *config.Config, metricMap config.MetricMap, c *cache.Cache) (*Manager, error) {
	hasPrometheus, hasAetos := false, false
	for _, name := range cfg.Datasources {
		switch name {
		case config.DatasourcePrometheus:
			hasPrometheus = true
		case config.DatasourceAetos:
			hasAetos = true
		}
	}
	if hasPrometheus && hasAetos {
		return nil, fmt.Errorf("datasources %q and %q cannot be configured together: %w",
			config.DatasourcePrometheus, config.DatasourceAetos, models.ErrDataSourceConfigConflict)
	}

	providers := make([]Provider, 0, len(cfg.Datasources))
	for _, name := range cfg.Datasources {
		p, err := buildProvider(name, cfg, metricMap)
		if err != nil {
			return nil, fmt.Errorf("building datasource %q: %w", name, err)
		}
		providers = append(providers, p)
	}

	return &Manager{
		providers:  providers,
		maxRetries: cfg.QueryMaxRetries,
		interval:   cfg.QueryInterval,
		timeout:    cfg.QueryTimeout,
		cache:      c,
	}, nil
}

// NewManagerWithProviders wires pre-built providers; used by tests.
func NewManagerWithProviders(providers []Provider, maxRetries int, interval, timeout time.Duration, c *cache.Cache) *Manager {
	return &Manager{
		providers:  providers,
		maxRetries: maxRetries,
		interval:   interval,
		timeout:    timeout,
		cache:      c,
	}
}

func buildProvider(name string, cfg *config.Config, metricMap config.MetricMap) (Provider, error) {
	switch name {
	case config.DatasourcePrometheus:
		return newPrometheusProvider(prometheusOptions{
			name:      config.DatasourcePrometheus,
			host:      cfg.PrometheusHost,
			port:      cfg.PrometheusPort,
			fqdnLabel: cfg.PrometheusFQDNLabel,
			uuidLabel: cfg.PrometheusUUIDLabel,
			metricMap: metricMap,
		})
	case config.DatasourceAetos:
		return newPrometheusProvider(prometheusOptions{
			name:      config.DatasourceAetos,
			host:      cfg.AetosHost,
			port:      cfg.AetosPort,
			fqdnLabel: cfg.PrometheusFQDNLabel,
			uuidLabel: cfg.PrometheusUUIDLabel,
			metricMap: metricMap,
		})
	case config.DatasourceGnocchi:
		return newGnocchiProvider(cfg.GnocchiEndpoint, cfg.GnocchiToken, cfg.QueryTimeout, metricMap), nil
	case config.DatasourceMonasca:
		return newMonascaProvider(cfg.MonascaEndpoint, cfg.MonascaToken, cfg.QueryTimeout, metricMap), nil
	case config.DatasourceInfluxDB:
		return newInfluxDBProvider(cfg.InfluxDBURL, cfg.InfluxDBToken, cfg.InfluxDBOrg, cfg.InfluxDBBucket, metricMap), nil
	default:
		return nil, models.Invalid("unknown datasource %q", name)
	}
}

// GetBackend returns the first provider, in configured order, that covers
// every requested metric alias. When none does, the query cannot be
// served and ErrMetricNotAvailable is returned.
func (m *Manager) GetBackend(metrics []string) (Provider, error) {
	if len(m.providers) == 0 {
		return nil, models.ErrNoDatasourceAvailable
	}
	for _, p := range m.providers {
		if serves(p, metrics) {
			return p, nil
		}
	}
	return nil, fmt.Errorf("no datasource covers metrics %v: %w", metrics, models.ErrMetricNotAvailable)
}

// Router returns a router over the configured providers. When preference
// names providers, those are moved to the front in preference order; the
// rest keep their configured order behind them.
func (m *Manager) Router(preference []string) *Router {
	ordered := m.providers
	if len(preference) > 0 {
		byName := make(map[string]Provider, len(m.providers))
		for _, p := range m.providers {
			byName[p.Name()] = p
		}
		ordered = make([]Provider, 0, len(m.providers))
		seen := make(map[string]bool, len(m.providers))
		for _, name := range preference {
			if p, ok := byName[name]; ok && !seen[name] {
				ordered = append(ordered, p)
				seen[name] = true
			}
		}
		for _, p := range m.providers {
			if !seen[p.Name()] {
				ordered = append(ordered, p)
			}
		}
	}
	return NewRouter(ordered, m.maxRetries, m.interval, m.timeout, m.cache)
}
