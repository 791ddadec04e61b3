// ABOUTME: End-to-end pipeline scenarios over fakes: audit to applied plan,
// ABOUTME: datasource fall-through, mid-plan cancel, notification folding

package e2e

import (
	"context"
	"errors"
	"fmt"
	"reflect"
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
	"github.com/openstack/watcher-sub000/strategy"
)

// stubProvider serves host metrics from a static per-hostname map.
type stubProvider struct {
	name  string
	usage map[string]float64
}

func (s *stubProvider) Name() string                            { return s.name }
func (s *stubProvider) CheckAvailability(context.Context) error { return nil }
func (s *stubProvider) ListMetrics() []string {
	return []string{config.MetricHostCPUUsage, config.MetricHostRAMUsage}
}

func (s *stubProvider) StatisticAggregation(_ context.Context, q datasource.Query) (*float64, error) {
	host, _ := q.ResourceID()
	v, ok := s.usage[host]
	if !ok {
		return nil, nil
	}
	return &v, nil
}

func (s *stubProvider) StatisticSeries(context.Context, datasource.Query) ([]datasource.Point, error) {
	return nil, nil
}

// flakyProvider covers the host metrics but every query fails with a
// transient fault, driving the router's retry-then-fall-through path.
type flakyProvider struct {
	name  string
	calls int
}

func (f *flakyProvider) Name() string                            { return f.name }
func (f *flakyProvider) CheckAvailability(context.Context) error { return nil }
func (f *flakyProvider) ListMetrics() []string {
	return []string{config.MetricHostCPUUsage, config.MetricHostRAMUsage}
}

func (f *flakyProvider) StatisticAggregation(context.Context, datasource.Query) (*float64, error) {
	f.calls++
	return nil, models.Transient(fmt.Errorf("%s: 503 service unavailable", f.name))
}

func (f *flakyProvider) StatisticSeries(context.Context, datasource.Query) ([]datasource.Point, error) {
	return nil, models.Transient(fmt.Errorf("%s: 503 service unavailable", f.name))
}

type controlPlane struct {
	engine     *engine.Engine
	store      store.Store
	compute    *clients.FakeComputeClient
	storage    *clients.FakeStorageClient
	collector  *collector.ComputeCollector
	dispatcher *collector.Dispatcher
	applier    *applier.Applier
	launcher   *pool.Pool
}

func newControlPlane(t *testing.T, providers []datasource.Provider) *controlPlane {
	t.Helper()

	compute := clients.NewFakeComputeClient()
	storageClient := clients.NewFakeStorageClient()
	st := store.NewMemory()
	workers := pool.New("e2e-general", 10)
	launcher := pool.New("e2e-launcher", 2)

	computeCollector := collector.NewComputeCollector(
		compute, clients.NewFakePlacementClient(), workers, -1, nil)
	storageCollector := collector.NewStorageCollector(storageClient, workers)
	dispatcher := collector.NewDispatcher(computeCollector, storageCollector, compute, storageClient)
	manager := datasource.NewManagerWithProviders(providers, 2, time.Millisecond, time.Second, nil)

	a := applier.New(applier.Options{
		Store:             st,
		Compute:           compute,
		Storage:           storageClient,
		Workers:           pool.New("e2e-applier", 4),
		Hostname:          "e2e-test-host",
		ActionTimeout:     5 * time.Second,
		PollInterval:      time.Millisecond,
		ExecutionRule:     config.ExecutionRuleHalt,
		MaxRetries:        2,
		RetryInterval:     time.Millisecond,
		HeartbeatInterval: 10 * time.Millisecond,
	})

	eng := engine.New(engine.Options{
		Store:       st,
		Compute:     computeCollector,
		Storage:     storageCollector,
		Dispatcher:  dispatcher,
		Datasources: manager,
		Planner:     planner.New(st),
		Applier:     a,
		Launcher:    launcher,
		Bus:         engine.NewBus(workers),
	})

	return &controlPlane{
		engine:     eng,
		store:      st,
		compute:    compute,
		storage:    storageClient,
		collector:  computeCollector,
		dispatcher: dispatcher,
		applier:    a,
		launcher:   launcher,
	}
}

func addNode(f *clients.FakeComputeClient, i int) {
	f.AddNode(clients.Hypervisor{
		UUID:     fmt.Sprintf("uuid-%d", i),
		Hostname: fmt.Sprintf("node-%d", i),
		State:    "up",
		Status:   "enabled",
		MemoryMB: 65536,
		VCPUs:    32,
		DiskGB:   1000,
	})
}

func addInstance(f *clients.FakeComputeClient, uuid, host string) {
	f.AddServer(clients.Server{
		UUID:     uuid,
		Host:     host,
		State:    "active",
		MemoryMB: 2048,
		VCPUs:    2,
		DiskGB:   20,
	})
}

// assertNoLiveActions checks that a terminal plan left no action in
// PENDING or ONGOING.
func assertNoLiveActions(t *testing.T, st store.Store, planUUID string) {
	t.Helper()
	actions, err := st.ListActionsForPlan(planUUID)
	if err != nil {
		t.Fatalf("ListActionsForPlan: %v", err)
	}
	for _, a := range actions {
		if a.State == models.ActionPending || a.State == models.ActionOngoing {
			t.Errorf("terminal plan holds live action %s in %s", a.UUID, a.State)
		}
	}
}

func runAudit(t *testing.T, cp *controlPlane, audit *models.Audit) (*models.Audit, []*models.ActionPlan) {
	t.Helper()
	uuid, err := cp.engine.CreateAudit(audit)
	if err != nil {
		t.Fatalf("CreateAudit: %v", err)
	}
	if err := cp.engine.RunAudit(context.Background(), uuid); err != nil {
		t.Fatalf("RunAudit: %v", err)
	}
	cp.launcher.Wait()

	final, err := cp.store.GetAudit(uuid)
	if err != nil {
		t.Fatalf("GetAudit: %v", err)
	}
	plans, err := cp.store.ListPlansForAudit(uuid)
	if err != nil {
		t.Fatalf("ListPlansForAudit: %v", err)
	}
	return final, plans
}

// Five nodes with skewed cpu load; the cold node holding instances is
// drained onto the mid-load nodes and the plan applies cleanly.
func TestConsolidationAppliesEndToEnd(t *testing.T) {
	usage := map[string]float64{"node-0": 50, "node-1": 10, "node-2": 15, "node-3": 5, "node-4": 5}
	cp := newControlPlane(t, []datasource.Provider{&stubProvider{name: "stub", usage: usage}})
	for i := 0; i < 5; i++ {
		addNode(cp.compute, i)
	}
	cp.compute.SetAggregates([]clients.Aggregate{{
		Name:  "general",
		Hosts: []string{"node-0", "node-1", "node-2", "node-3", "node-4"},
	}})
	for i := 0; i < 6; i++ {
		addInstance(cp.compute, fmt.Sprintf("busy-%d", i), "node-0")
	}
	addInstance(cp.compute, "cold-0", "node-3")
	addInstance(cp.compute, "cold-1", "node-3")

	audit, plans := runAudit(t, cp, &models.Audit{
		Type:         models.AuditOneshot,
		StrategyName: strategy.BasicConsolidationName,
		Parameters:   map[string]any{"threshold": 0.6},
		Scope:        models.AuditScope{HostAggregates: []string{"*"}},
		AutoTrigger:  true,
	})
	if audit.State != models.AuditSucceeded {
		t.Fatalf("expected SUCCEEDED audit, got %s (%s)", audit.State, audit.Message)
	}
	if len(plans) != 1 {
		t.Fatalf("expected 1 plan, got %d", len(plans))
	}
	plan := plans[0]
	if plan.State != models.PlanSucceeded {
		t.Fatalf("expected SUCCEEDED plan, got %s (%s)", plan.State, plan.Message)
	}
	assertNoLiveActions(t, cp.store, plan.UUID)

	actions, _ := cp.store.ListActionsForPlan(plan.UUID)
	if actions[0].Type != models.ActionChangeNovaServiceState ||
		actions[0].InputString(models.ParamResourceID) != "node-3" {
		t.Errorf("first action should disable node-3, got %s on %q",
			actions[0].Type, actions[0].InputString(models.ParamResourceID))
	}
	for _, a := range actions {
		if a.Type == models.ActionChangeNovaServiceState &&
			a.InputString(models.ParamState) == string(models.NodeStatusEnabled) {
			t.Errorf("consolidation must not emit an enable action")
		}
	}
	for _, inst := range []string{"cold-0", "cold-1"} {
		server, _ := cp.compute.GetInstance(context.Background(), inst)
		if server.Host != "node-1" && server.Host != "node-2" {
			t.Errorf("instance %s should land on node-1 or node-2, got %q", inst, server.Host)
		}
	}
}

// Maintenance drain with a designated backup: disable first, then live
// migrations onto the backup node, in that order.
func TestHostMaintenanceLiveMigrates(t *testing.T) {
	cp := newControlPlane(t, nil)
	for i := 0; i < 3; i++ {
		addNode(cp.compute, i)
	}
	addInstance(cp.compute, "inst-a", "node-0")
	addInstance(cp.compute, "inst-b", "node-0")

	audit, plans := runAudit(t, cp, &models.Audit{
		Type:         models.AuditOneshot,
		StrategyName: strategy.HostMaintenanceName,
		Parameters: map[string]any{
			"maintenance_node": "node-0",
			"backup_node":      "node-1",
		},
		AutoTrigger: true,
	})
	if audit.State != models.AuditSucceeded {
		t.Fatalf("expected SUCCEEDED audit, got %s (%s)", audit.State, audit.Message)
	}
	plan := plans[0]
	if plan.State != models.PlanSucceeded {
		t.Fatalf("expected SUCCEEDED plan, got %s (%s)", plan.State, plan.Message)
	}

	actions, _ := cp.store.ListActionsForPlan(plan.UUID)
	if len(actions) != 3 {
		t.Fatalf("expected disable + 2 migrations, got %d actions", len(actions))
	}
	if actions[0].Type != models.ActionChangeNovaServiceState ||
		actions[0].InputString(models.ParamDisabledReason) != strategy.MaintenanceReason {
		t.Errorf("first action should disable with the maintenance reason, got %s (%q)",
			actions[0].Type, actions[0].InputString(models.ParamDisabledReason))
	}
	for _, a := range actions[1:] {
		if a.Type != models.ActionMigrate {
			t.Fatalf("expected migrate, got %s", a.Type)
		}
		if a.InputString(models.ParamMigrationType) != models.MigrationLive {
			t.Errorf("active instances should live-migrate, got %q",
				a.InputString(models.ParamMigrationType))
		}
		if a.InputString(models.ParamDestinationNode) != "node-1" {
			t.Errorf("migration should target the backup node, got %q",
				a.InputString(models.ParamDestinationNode))
		}
	}

	node, _ := cp.compute.GetComputeNodeByHostname(context.Background(), "node-0")
	if node.Status != "disabled" || node.DisabledReason != strategy.MaintenanceReason {
		t.Errorf("node-0 should be disabled for maintenance, got %s (%q)",
			node.Status, node.DisabledReason)
	}
	for _, inst := range []string{"inst-a", "inst-b"} {
		server, _ := cp.compute.GetInstance(context.Background(), inst)
		if server.Host != "node-1" {
			t.Errorf("instance %s should be on node-1, got %q", inst, server.Host)
		}
	}
}

// With both migration paths ruled out, instances are stopped in place.
func TestHostMaintenanceStopsWhenMigrationsDisabled(t *testing.T) {
	cp := newControlPlane(t, nil)
	for i := 0; i < 2; i++ {
		addNode(cp.compute, i)
	}
	addInstance(cp.compute, "inst-a", "node-0")
	addInstance(cp.compute, "inst-b", "node-0")

	audit, plans := runAudit(t, cp, &models.Audit{
		Type:         models.AuditOneshot,
		StrategyName: strategy.HostMaintenanceName,
		Parameters: map[string]any{
			"maintenance_node":       "node-0",
			"disable_live_migration": true,
			"disable_cold_migration": true,
		},
		AutoTrigger: true,
	})
	if audit.State != models.AuditSucceeded {
		t.Fatalf("expected SUCCEEDED audit, got %s (%s)", audit.State, audit.Message)
	}
	actions, _ := cp.store.ListActionsForPlan(plans[0].UUID)
	if len(actions) != 3 {
		t.Fatalf("expected disable + 2 stops, got %d actions", len(actions))
	}
	stops := 0
	for _, a := range actions {
		switch a.Type {
		case models.ActionStopInstance:
			stops++
		case models.ActionMigrate:
			t.Errorf("migrations are disabled, yet got a migrate action")
		}
	}
	if stops != 2 {
		t.Errorf("expected 2 stop actions, got %d", stops)
	}
	for _, inst := range []string{"inst-a", "inst-b"} {
		server, _ := cp.compute.GetInstance(context.Background(), inst)
		if server.State != "stopped" {
			t.Errorf("instance %s should be stopped, got %q", inst, server.State)
		}
	}
}

// The first provider fails every query with 5xx; after retry exhaustion
// the router falls through and the audit succeeds on the second provider.
func TestDatasourceFallThrough(t *testing.T) {
	usage := map[string]float64{"node-0": 50, "node-1": 10, "node-2": 15, "node-3": 5, "node-4": 5}
	flaky := &flakyProvider{name: "gnocchi"}
	cp := newControlPlane(t, []datasource.Provider{
		flaky,
		&stubProvider{name: "monasca", usage: usage},
	})
	for i := 0; i < 5; i++ {
		addNode(cp.compute, i)
	}
	addInstance(cp.compute, "cold-0", "node-3")
	addInstance(cp.compute, "cold-1", "node-3")

	audit, plans := runAudit(t, cp, &models.Audit{
		Type:         models.AuditOneshot,
		StrategyName: strategy.BasicConsolidationName,
		Parameters:   map[string]any{"threshold": 0.6},
	})
	if audit.State != models.AuditSucceeded {
		t.Fatalf("fall-through should keep the audit alive, got %s (%s)", audit.State, audit.Message)
	}
	if flaky.calls == 0 {
		t.Error("first provider should have been tried before the fallback")
	}
	if len(plans) != 1 {
		t.Fatalf("expected 1 plan from the fallback values, got %d", len(plans))
	}
	actions, _ := cp.store.ListActionsForPlan(plans[0].UUID)
	if len(actions) != 3 {
		t.Errorf("expected disable + 2 migrations from monasca values, got %d actions", len(actions))
	}
}

// Five chained migrations; cancel lands while the third is in flight. The
// in-flight migration is aborted at the infrastructure, the rest cancel.
func TestCancelMidChain(t *testing.T) {
	cp := newControlPlane(t, nil)
	addNode(cp.compute, 1)
	addNode(cp.compute, 2)
	cp.compute.AutoComplete = false
	for i := 1; i <= 5; i++ {
		addInstance(cp.compute, fmt.Sprintf("inst-%d", i), "node-1")
	}

	plan := &models.ActionPlan{
		UUID:      "plan-chain",
		AuditUUID: "audit-chain",
		State:     models.PlanRecommended,
		CreatedAt: time.Now().UTC(),
	}
	if err := cp.store.CreatePlan(plan); err != nil {
		t.Fatalf("CreatePlan: %v", err)
	}
	now := time.Now().UTC()
	var prev string
	for i := 1; i <= 5; i++ {
		action := &models.Action{
			UUID:     fmt.Sprintf("act-%d", i),
			PlanUUID: plan.UUID,
			Type:     models.ActionMigrate,
			Input: map[string]any{
				models.ParamResourceID:      fmt.Sprintf("inst-%d", i),
				models.ParamMigrationType:   models.MigrationLive,
				models.ParamSourceNode:      "node-1",
				models.ParamDestinationNode: "node-2",
			},
			State:     models.ActionPending,
			CreatedAt: now.Add(time.Duration(i) * time.Millisecond),
		}
		if prev != "" {
			action.Parents = []string{prev}
		}
		if err := cp.store.CreateAction(action); err != nil {
			t.Fatalf("CreateAction: %v", err)
		}
		prev = action.UUID
	}

	done := make(chan error, 1)
	go func() { done <- cp.applier.Execute(context.Background(), plan.UUID) }()

	waitRunning := func(inst string) {
		t.Helper()
		deadline := time.Now().Add(5 * time.Second)
		for time.Now().Before(deadline) {
			migs, _ := cp.compute.ListMigrations(context.Background(), inst)
			for _, m := range migs {
				if m.Status == "running" {
					return
				}
			}
			time.Sleep(time.Millisecond)
		}
		t.Fatalf("migration for %s never started", inst)
	}

	waitRunning("inst-1")
	cp.compute.CompleteMigration("inst-1")
	waitRunning("inst-2")
	cp.compute.CompleteMigration("inst-2")
	waitRunning("inst-3")

	if err := cp.applier.Cancel(context.Background(), plan.UUID); err != nil {
		t.Fatalf("Cancel: %v", err)
	}
	<-done

	final, _ := cp.store.GetPlan(plan.UUID)
	if final.State != models.PlanCancelled {
		t.Fatalf("expected CANCELLED plan, got %s (%s)", final.State, final.Message)
	}
	assertNoLiveActions(t, cp.store, plan.UUID)

	actions, _ := cp.store.ListActionsForPlan(plan.UUID)
	want := map[string]models.ActionState{
		"act-1": models.ActionSucceeded,
		"act-2": models.ActionSucceeded,
		"act-3": models.ActionCancelled,
		"act-4": models.ActionCancelled,
		"act-5": models.ActionCancelled,
	}
	for _, a := range actions {
		if a.State != want[a.UUID] {
			t.Errorf("action %s: expected %s, got %s (%s)", a.UUID, want[a.UUID], a.State, a.Message)
		}
	}

	aborted := false
	for _, inst := range cp.compute.Aborted {
		if inst == "inst-3" {
			aborted = true
		}
	}
	if !aborted {
		t.Errorf("in-flight migration of inst-3 should have been aborted, got %v", cp.compute.Aborted)
	}
}

// An instance event for a host outside the current model pulls the node
// in from the compute service instead of dropping the event.
func TestNotificationUpsertsUnknownNode(t *testing.T) {
	cp := newControlPlane(t, nil)
	for i := 0; i < 3; i++ {
		addNode(cp.compute, i)
	}
	cp.compute.SetAggregates([]clients.Aggregate{{
		Name:  "core",
		Hosts: []string{"node-0", "node-1"},
	}})

	model, err := cp.collector.Execute(context.Background(),
		models.AuditScope{HostAggregates: []string{"core"}})
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if got := len(model.Nodes()); got != 2 {
		t.Fatalf("scoped model should hold 2 nodes, got %d", got)
	}

	addInstance(cp.compute, "inst-new", "node-2")
	err = cp.dispatcher.Dispatch(context.Background(), collector.Event{
		PublisherID: "compute.node-2",
		EventType:   "instance.create.end",
		Payload: map[string]any{
			"uuid":      "inst-new",
			"host":      "node-2",
			"state":     "active",
			"memory_mb": float64(2048),
			"vcpus":     float64(2),
		},
	})
	if err != nil {
		t.Fatalf("Dispatch: %v", err)
	}

	if got := len(model.Nodes()); got != 3 {
		t.Errorf("model should have grown to 3 nodes, got %d", got)
	}
	node, err := model.NodeForInstance("inst-new")
	if err != nil || node.Hostname != "node-2" {
		t.Errorf("instance should map to the upserted node-2, got %v (%v)", node, err)
	}
}

// Lock/unlock streams of different lengths settle on the same state.
func TestLockUnlockIdempotence(t *testing.T) {
	cp := newControlPlane(t, nil)
	addNode(cp.compute, 0)
	addInstance(cp.compute, "inst-a", "node-0")

	model, err := cp.collector.Execute(context.Background(), models.AuditScope{})
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}

	dispatch := func(eventType string) {
		t.Helper()
		err := cp.dispatcher.Dispatch(context.Background(), collector.Event{
			EventType: eventType,
			Payload:   map[string]any{"uuid": "inst-a"},
		})
		if err != nil {
			t.Fatalf("Dispatch %s: %v", eventType, err)
		}
	}

	for _, eventType := range []string{"instance.lock", "instance.unlock"} {
		dispatch(eventType)
	}
	inst, _ := model.GetInstance("inst-a")
	if inst.Locked {
		t.Fatalf("instance should be unlocked after lock/unlock")
	}

	for _, eventType := range []string{"instance.lock", "instance.unlock", "instance.lock", "instance.unlock"} {
		dispatch(eventType)
	}
	inst, _ = model.GetInstance("inst-a")
	if inst.Locked {
		t.Errorf("longer lock/unlock stream should settle unlocked too")
	}
}

// service.delete followed by service.create leaves exactly one node record.
func TestServiceDeleteThenCreateKeepsOneNode(t *testing.T) {
	cp := newControlPlane(t, nil)
	addNode(cp.compute, 0)
	addNode(cp.compute, 1)

	model, err := cp.collector.Execute(context.Background(), models.AuditScope{})
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}

	for _, eventType := range []string{"service.delete", "service.create"} {
		err := cp.dispatcher.Dispatch(context.Background(), collector.Event{
			EventType: eventType,
			Payload:   map[string]any{"host": "node-1", "state": "up", "status": "enabled"},
		})
		if err != nil {
			t.Fatalf("Dispatch %s: %v", eventType, err)
		}
	}

	count := 0
	for _, n := range model.Nodes() {
		if n.Hostname == "node-1" {
			count++
		}
	}
	if count != 1 {
		t.Errorf("expected exactly one node-1 record, got %d", count)
	}
}

// Two collector runs with no intervening events produce equal snapshots.
func TestRebuildYieldsEquivalentModel(t *testing.T) {
	cp := newControlPlane(t, nil)
	for i := 0; i < 3; i++ {
		addNode(cp.compute, i)
	}
	addInstance(cp.compute, "inst-a", "node-0")
	addInstance(cp.compute, "inst-b", "node-2")

	first, err := cp.collector.Execute(context.Background(), models.AuditScope{})
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	snapA := first.Snapshot()

	second, err := cp.collector.Execute(context.Background(), models.AuditScope{})
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	snapB := second.Snapshot()

	if !reflect.DeepEqual(snapA, snapB) {
		t.Errorf("rebuild changed the model:\n%+v\nvs\n%+v", snapA, snapB)
	}
}

// prometheus and aetos are mutually exclusive datasource backends.
func TestPrometheusAetosConflict(t *testing.T) {
	cfg := &config.Config{
		Datasources:     []string{config.DatasourcePrometheus, config.DatasourceAetos},
		QueryMaxRetries: 1,
	}
	_, err := datasource.NewManager(cfg, nil, nil)
	if !errors.Is(err, models.ErrDataSourceConfigConflict) {
		t.Fatalf("expected ErrDataSourceConfigConflict, got %v", err)
	}
}
