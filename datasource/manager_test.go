// ABOUTME: Tests for datasource manager construction and backend selection
// ABOUTME: Covers the prometheus/aetos conflict and preference reordering

package datasource

import (
	"errors"
	"testing"
	"time"

	"github.com/openstack/watcher-sub000/config"
	"github.com/openstack/watcher-sub000/models"
)

func TestNewManagerRejectsPrometheusWithAetos(t *testing.T) {
	cfg := &config.Config{
		Datasources:     []string{config.DatasourcePrometheus, config.DatasourceAetos},
		QueryMaxRetries: 3,
	}
	_, err := NewManager(cfg, config.MetricMap{}, nil)
	if !errors.Is(err, models.ErrDataSourceConfigConflict) {
		t.Errorf("expected ErrDataSourceConfigConflict, got %v", err)
	}
}

func TestNewManagerUnknownDatasource(t *testing.T) {
	cfg := &config.Config{
		Datasources:     []string{"graphite"},
		QueryMaxRetries: 3,
	}
	_, err := NewManager(cfg, config.MetricMap{}, nil)
	if !errors.Is(err, models.ErrInvalid) {
		t.Errorf("expected ErrInvalid for unknown datasource, got %v", err)
	}
}

func TestGetBackendPicksFirstCoveringProvider(t *testing.T) {
	partial := &stubProvider{name: "partial", metrics: []string{"host_ram_usage"}}
	full := &stubProvider{name: "full", metrics: []string{"host_ram_usage", "host_cpu_usage"}}
	m := NewManagerWithProviders([]Provider{partial, full}, 3, time.Second, time.Second, nil)

	p, err := m.GetBackend([]string{"host_cpu_usage", "host_ram_usage"})
	if err != nil {
		t.Fatalf("GetBackend returned error: %v", err)
	}
	if p.Name() != "full" {
		t.Errorf("expected provider %q, got %q", "full", p.Name())
	}
}

func TestGetBackendNoProviders(t *testing.T) {
	m := NewManagerWithProviders(nil, 3, time.Second, time.Second, nil)
	_, err := m.GetBackend([]string{"host_cpu_usage"})
	if !errors.Is(err, models.ErrNoDatasourceAvailable) {
		t.Errorf("expected ErrNoDatasourceAvailable, got %v", err)
	}
}

func TestGetBackendNoCoverage(t *testing.T) {
	p := &stubProvider{name: "one", metrics: []string{"host_ram_usage"}}
	m := NewManagerWithProviders([]Provider{p}, 3, time.Second, time.Second, nil)

	_, err := m.GetBackend([]string{"host_outlet_temp"})
	if !errors.Is(err, models.ErrMetricNotAvailable) {
		t.Errorf("expected ErrMetricNotAvailable, got %v", err)
	}
}

func TestRouterPreferenceReordering(t *testing.T) {
	a := &stubProvider{name: "a", metrics: []string{"host_cpu_usage"}}
	b := &stubProvider{name: "b", metrics: []string{"host_cpu_usage"}}
	c := &stubProvider{name: "c", metrics: []string{"host_cpu_usage"}}
	m := NewManagerWithProviders([]Provider{a, b, c}, 3, time.Second, time.Second, nil)

	r := m.Router([]string{"c", "b"})
	got := make([]string, 0, 3)
	for _, p := range r.Providers() {
		got = append(got, p.Name())
	}
	want := []string{"c", "b", "a"}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("expected order %v, got %v", want, got)
		}
	}
}

func TestRouterWithoutPreferenceKeepsConfiguredOrder(t *testing.T) {
	a := &stubProvider{name: "a", metrics: []string{"host_cpu_usage"}}
	b := &stubProvider{name: "b", metrics: []string{"host_cpu_usage"}}
	m := NewManagerWithProviders([]Provider{a, b}, 3, time.Second, time.Second, nil)

	r := m.Router(nil)
	providers := r.Providers()
	if len(providers) != 2 || providers[0].Name() != "a" || providers[1].Name() != "b" {
		t.Errorf("expected configured order preserved, got %v", providers)
	}
}
