// ABOUTME: API handler tests over a fake-backed engine and in-memory store
// ABOUTME: Exercises audit, action plan, strategy, data model, health routes

package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/openstack/watcher-sub000/applier"
	"github.com/openstack/watcher-sub000/clients"
	"github.com/openstack/watcher-sub000/collector"
	"github.com/openstack/watcher-sub000/config"
	"github.com/openstack/watcher-sub000/datasource"
	"github.com/openstack/watcher-sub000/engine"
	"github.com/openstack/watcher-sub000/models"
	"github.com/openstack/watcher-sub000/planner"
	"github.com/openstack/watcher-sub000/pool"
	"github.com/openstack/watcher-sub000/store"
)

type metricsStub struct {
	usage map[string]float64
}

func (s *metricsStub) Name() string                            { return "stub" }
func (s *metricsStub) CheckAvailability(context.Context) error { return nil }
func (s *metricsStub) ListMetrics() []string {
	return []string{config.MetricHostCPUUsage, config.MetricHostRAMUsage}
}

func (s *metricsStub) StatisticAggregation(_ context.Context, q datasource.Query) (*float64, error) {
	host, _ := q.ResourceID()
	v, ok := s.usage[host]
	if !ok {
		return nil, nil
	}
	return &v, nil
}

func (s *metricsStub) StatisticSeries(context.Context, datasource.Query) ([]datasource.Point, error) {
	return nil, nil
}

type apiFixture struct {
	server   *httptest.Server
	store    store.Store
	launcher *pool.Pool
}

func newAPIFixture(t *testing.T) *apiFixture {
	t.Helper()

	compute := clients.NewFakeComputeClient()
	usage := map[string]float64{}
	for i, load := range []float64{50, 10, 15, 5, 5} {
		hostname := fmt.Sprintf("node-%d", i)
		compute.AddNode(clients.Hypervisor{
			UUID:     fmt.Sprintf("uuid-%d", i),
			Hostname: hostname,
			State:    "up",
			Status:   "enabled",
			MemoryMB: 65536,
			VCPUs:    32,
			DiskGB:   1000,
		})
		usage[hostname] = load
	}
	compute.SetAggregates([]clients.Aggregate{{
		Name:  "general",
		Hosts: []string{"node-0", "node-1", "node-2", "node-3", "node-4"},
	}})
	for i := 0; i < 2; i++ {
		compute.AddServer(clients.Server{
			UUID:     fmt.Sprintf("inst-%d", i),
			Host:     "node-3",
			State:    "active",
			MemoryMB: 2048,
			VCPUs:    2,
			DiskGB:   20,
		})
	}

	st := store.NewMemory()
	workers := pool.New("api-test-general", 10)
	launcher := pool.New("api-test-launcher", 2)
	computeCollector := collector.NewComputeCollector(
		compute, clients.NewFakePlacementClient(), workers, -1, nil)
	storageClient := clients.NewFakeStorageClient()
	storageCollector := collector.NewStorageCollector(storageClient, workers)
	manager := datasource.NewManagerWithProviders(
		[]datasource.Provider{&metricsStub{usage: usage}}, 1, time.Millisecond, time.Second, nil)

	a := applier.New(applier.Options{
		Store:         st,
		Compute:       compute,
		Storage:       storageClient,
		Workers:       pool.New("api-test-applier", 4),
		Hostname:      "api-test-host",
		ActionTimeout: 5 * time.Second,
		PollInterval:  time.Millisecond,
		ExecutionRule: config.ExecutionRuleHalt,
		MaxRetries:    2,
		RetryInterval: time.Millisecond,
	})

	eng := engine.New(engine.Options{
		Store:       st,
		Compute:     computeCollector,
		Storage:     storageCollector,
		Dispatcher:  collector.NewDispatcher(computeCollector, storageCollector, compute, storageClient),
		Datasources: manager,
		Planner:     planner.New(st),
		Applier:     a,
		Launcher:    launcher,
		Bus:         engine.NewBus(workers),
	})

	mux := http.NewServeMux()
	New(eng, st, workers, launcher).Register(mux)
	server := httptest.NewServer(mux)
	t.Cleanup(server.Close)

	return &apiFixture{server: server, store: st, launcher: launcher}
}

func (f *apiFixture) post(t *testing.T, path string, body any) *http.Response {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode body: %v", err)
		}
	}
	resp, err := http.Post(f.server.URL+path, "application/json", &buf)
	if err != nil {
		t.Fatalf("POST %s: %v", path, err)
	}
	return resp
}

func (f *apiFixture) get(t *testing.T, path string) *http.Response {
	t.Helper()
	resp, err := http.Get(f.server.URL + path)
	if err != nil {
		t.Fatalf("GET %s: %v", path, err)
	}
	return resp
}

func (f *apiFixture) del(t *testing.T, path string) *http.Response {
	t.Helper()
	req, err := http.NewRequest(http.MethodDelete, f.server.URL+path, nil)
	if err != nil {
		t.Fatalf("build DELETE %s: %v", path, err)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("DELETE %s: %v", path, err)
	}
	return resp
}

func decode[T any](t *testing.T, resp *http.Response) T {
	t.Helper()
	defer resp.Body.Close()
	var out T
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	return out
}

func TestHealthEndpoint(t *testing.T) {
	f := newAPIFixture(t)
	resp := f.get(t, "/api/v1/health")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	health := decode[struct {
		Status  string       `json:"status"`
		Workers []pool.Stats `json:"workers"`
	}](t, resp)
	if health.Status != "ok" {
		t.Errorf("expected status ok, got %q", health.Status)
	}
	if len(health.Workers) != 2 {
		t.Errorf("expected 2 worker pool stats, got %d", len(health.Workers))
	}
}

func TestCreateTriggerAndInspectAudit(t *testing.T) {
	f := newAPIFixture(t)

	resp := f.post(t, "/api/v1/audits", map[string]any{
		"name":       "drain-underused",
		"strategy":   "basic_consolidation",
		"parameters": map[string]any{"threshold": 0.6},
		"scope":      map[string]any{"host_aggregates": []string{"*"}},
	})
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("expected 201, got %d", resp.StatusCode)
	}
	audit := decode[models.Audit](t, resp)
	if audit.UUID == "" || audit.State != models.AuditPending {
		t.Fatalf("unexpected created audit: %+v", audit)
	}

	resp = f.post(t, "/api/v1/audits/"+audit.UUID+"/trigger", nil)
	if resp.StatusCode != http.StatusAccepted {
		t.Fatalf("expected 202 on trigger, got %d", resp.StatusCode)
	}
	resp.Body.Close()
	f.launcher.Wait()

	resp = f.get(t, "/api/v1/audits/"+audit.UUID)
	final := decode[models.Audit](t, resp)
	if final.State != models.AuditSucceeded {
		t.Fatalf("expected SUCCEEDED audit, got %s (%s)", final.State, final.Message)
	}

	resp = f.get(t, "/api/v1/action_plans?audit_uuid="+audit.UUID)
	listing := decode[struct {
		ActionPlans []*models.ActionPlan `json:"action_plans"`
	}](t, resp)
	if len(listing.ActionPlans) != 1 {
		t.Fatalf("expected 1 plan, got %d", len(listing.ActionPlans))
	}

	resp = f.get(t, "/api/v1/action_plans/"+listing.ActionPlans[0].UUID)
	detail := decode[struct {
		UUID    string           `json:"uuid"`
		State   models.PlanState `json:"state"`
		Actions []*models.Action `json:"actions"`
	}](t, resp)
	if detail.State != models.PlanRecommended {
		t.Errorf("expected RECOMMENDED plan, got %s", detail.State)
	}
	if len(detail.Actions) != 3 {
		t.Errorf("expected disable + 2 migrations, got %d actions", len(detail.Actions))
	}
}

func TestCreateAuditWithTriggerFlag(t *testing.T) {
	f := newAPIFixture(t)
	resp := f.post(t, "/api/v1/audits", map[string]any{
		"strategy":   "basic_consolidation",
		"parameters": map[string]any{"threshold": 0.6},
		"scope":      map[string]any{"host_aggregates": []string{"*"}},
		"trigger":    true,
	})
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("expected 201, got %d", resp.StatusCode)
	}
	audit := decode[models.Audit](t, resp)
	f.launcher.Wait()

	final, err := f.store.GetAudit(audit.UUID)
	if err != nil {
		t.Fatalf("GetAudit: %v", err)
	}
	if final.State != models.AuditSucceeded {
		t.Errorf("expected SUCCEEDED audit, got %s (%s)", final.State, final.Message)
	}
}

func TestCreateAuditRejectsUnknownStrategy(t *testing.T) {
	f := newAPIFixture(t)
	resp := f.post(t, "/api/v1/audits", map[string]any{"strategy": "does_not_exist"})
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("expected 404, got %d", resp.StatusCode)
	}
}

func TestCreateAuditRejectsMalformedBody(t *testing.T) {
	f := newAPIFixture(t)
	resp, err := http.Post(f.server.URL+"/api/v1/audits", "application/json",
		bytes.NewBufferString(`{"strategy": `))
	if err != nil {
		t.Fatalf("POST: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("expected 400, got %d", resp.StatusCode)
	}
}

func TestGetAuditNotFound(t *testing.T) {
	f := newAPIFixture(t)
	resp := f.get(t, "/api/v1/audits/missing")
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("expected 404, got %d", resp.StatusCode)
	}
}

func TestLaunchRejectsTerminalPlan(t *testing.T) {
	f := newAPIFixture(t)
	plan := &models.ActionPlan{
		UUID:      "plan-done",
		AuditUUID: "audit-x",
		State:     models.PlanSucceeded,
		CreatedAt: time.Now().UTC(),
	}
	if err := f.store.CreatePlan(plan); err != nil {
		t.Fatalf("CreatePlan: %v", err)
	}
	resp := f.post(t, "/api/v1/action_plans/plan-done/launch", nil)
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("expected 400, got %d", resp.StatusCode)
	}
}

func TestCancelUnknownPlan(t *testing.T) {
	f := newAPIFixture(t)
	resp := f.post(t, "/api/v1/action_plans/missing/cancel", nil)
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("expected 404, got %d", resp.StatusCode)
	}
}

func TestDeleteAuditAndActionPlan(t *testing.T) {
	f := newAPIFixture(t)

	create := f.post(t, "/api/v1/audits", map[string]any{
		"strategy":   "basic_consolidation",
		"parameters": map[string]any{"threshold": 0.6},
		"scope":      map[string]any{"host_aggregates": []string{"*"}},
		"trigger":    true,
	})
	audit := decode[models.Audit](t, create)
	f.launcher.Wait()

	listing := decode[struct {
		ActionPlans []*models.ActionPlan `json:"action_plans"`
	}](t, f.get(t, "/api/v1/action_plans?audit_uuid="+audit.UUID))
	if len(listing.ActionPlans) != 1 {
		t.Fatalf("expected 1 plan, got %d", len(listing.ActionPlans))
	}
	planUUID := listing.ActionPlans[0].UUID

	resp := f.del(t, "/api/v1/action_plans/"+planUUID)
	resp.Body.Close()
	if resp.StatusCode != http.StatusNoContent {
		t.Fatalf("expected 204 deleting plan, got %d", resp.StatusCode)
	}
	resp = f.get(t, "/api/v1/action_plans/"+planUUID)
	resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("expected 404 after plan delete, got %d", resp.StatusCode)
	}

	resp = f.del(t, "/api/v1/audits/"+audit.UUID)
	resp.Body.Close()
	if resp.StatusCode != http.StatusNoContent {
		t.Fatalf("expected 204 deleting audit, got %d", resp.StatusCode)
	}
	resp = f.get(t, "/api/v1/audits/"+audit.UUID)
	resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("expected 404 after audit delete, got %d", resp.StatusCode)
	}
}

func TestDeleteRejectsInFlightPlan(t *testing.T) {
	f := newAPIFixture(t)
	plan := &models.ActionPlan{
		UUID:      "plan-busy",
		AuditUUID: "audit-x",
		State:     models.PlanOngoing,
		CreatedAt: time.Now().UTC(),
	}
	if err := f.store.CreatePlan(plan); err != nil {
		t.Fatalf("CreatePlan: %v", err)
	}
	resp := f.del(t, "/api/v1/action_plans/plan-busy")
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("expected 400 deleting ONGOING plan, got %d", resp.StatusCode)
	}
}

func TestStrategyEndpoints(t *testing.T) {
	f := newAPIFixture(t)
	resp := f.get(t, "/api/v1/strategies")
	listing := decode[struct {
		Strategies []*engine.StrategyInfo `json:"strategies"`
	}](t, resp)
	found := false
	for _, s := range listing.Strategies {
		if s.Name == "basic_consolidation" {
			found = true
		}
	}
	if !found {
		t.Fatalf("basic_consolidation missing from strategy listing")
	}

	resp = f.get(t, "/api/v1/strategies/basic_consolidation")
	info := decode[engine.StrategyInfo](t, resp)
	if info.DisplayName == "" || len(info.RequiredMetrics) == 0 {
		t.Errorf("incomplete strategy info: %+v", info)
	}

	resp = f.get(t, "/api/v1/strategies/does_not_exist")
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("expected 404, got %d", resp.StatusCode)
	}
}

func TestDataModelEndpoint(t *testing.T) {
	f := newAPIFixture(t)

	resp := f.get(t, "/api/v1/data_model")
	resp.Body.Close()
	if resp.StatusCode != http.StatusServiceUnavailable {
		t.Fatalf("expected 503 before a model build, got %d", resp.StatusCode)
	}

	create := f.post(t, "/api/v1/audits", map[string]any{
		"strategy":   "basic_consolidation",
		"parameters": map[string]any{"threshold": 0.6},
		"scope":      map[string]any{"host_aggregates": []string{"*"}},
		"trigger":    true,
	})
	decode[models.Audit](t, create)
	f.launcher.Wait()

	resp = f.get(t, "/api/v1/data_model")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	snap := decode[models.ComputeSnapshot](t, resp)
	if len(snap.Nodes) != 5 {
		t.Errorf("expected 5 nodes in snapshot, got %d", len(snap.Nodes))
	}

	resp = f.get(t, "/api/v1/data_model?type=quantum")
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("expected 400 for unknown model type, got %d", resp.StatusCode)
	}
}
