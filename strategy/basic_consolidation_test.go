// ABOUTME: Tests for the basic consolidation strategy against a synthetic fleet
// ABOUTME: Covers source/destination selection, empty outcomes, and failures

package strategy

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/openstack/watcher-sub000/config"
	"github.com/openstack/watcher-sub000/datasource"
	"github.com/openstack/watcher-sub000/models"
)

// metricsStub serves host cpu usage from a static hostname map; hosts
// absent from the map report no data.
type metricsStub struct {
	usage map[string]float64
}

func (m *metricsStub) Name() string                                 { return "stub" }
func (m *metricsStub) CheckAvailability(ctx context.Context) error  { return nil }
func (m *metricsStub) ListMetrics() []string {
	return []string{config.MetricHostCPUUsage, config.MetricHostRAMUsage}
}

func (m *metricsStub) StatisticAggregation(ctx context.Context, q datasource.Query) (*float64, error) {
	host, _ := q.ResourceID()
	if v, ok := m.usage[host]; ok {
		value := v
		return &value, nil
	}
	return nil, nil
}

func (m *metricsStub) StatisticSeries(ctx context.Context, q datasource.Query) ([]datasource.Point, error) {
	return nil, nil
}

// fiveNodeFleet builds the consolidation scenario: N0 busy, N1/N2 midway,
// N3/N4 nearly idle, with two instances on N3.
func fiveNodeFleet(t *testing.T) (*models.ComputeModel, *datasource.Router) {
	t.Helper()
	model := models.NewComputeModel()
	for i := 0; i < 5; i++ {
		model.AddNode(&models.ComputeNode{
			UUID:     fmt.Sprintf("uuid-n%d", i),
			Hostname: fmt.Sprintf("n%d", i),
			MemoryMB: 65536, VCPUs: 32, DiskGB: 1000,
			MemoryRatio: 1, VCPURatio: 1, DiskRatio: 1,
			State: models.NodeStateUp, Status: models.NodeStatusEnabled,
		})
	}
	for i := 0; i < 2; i++ {
		inst := &models.Instance{
			UUID:     fmt.Sprintf("inst-%d", i),
			Name:     fmt.Sprintf("vm-%d", i),
			MemoryMB: 2048, VCPUs: 2, DiskGB: 20,
			State: models.InstanceStateActive,
		}
		model.AddInstance(inst)
		if err := model.MapInstance(inst.UUID, "uuid-n3"); err != nil {
			t.Fatalf("mapping instance: %v", err)
		}
	}

	stub := &metricsStub{usage: map[string]float64{
		"n0": 50, "n1": 10, "n2": 15, "n3": 5, "n4": 5,
	}}
	router := datasource.NewRouter([]datasource.Provider{stub}, 1, 0, 0, nil)
	return model, router
}

func runStrategy(t *testing.T, s Strategy, sc *Context) error {
	t.Helper()
	ctx := context.Background()
	if err := s.PreExecute(ctx, sc); err != nil {
		return err
	}
	if err := s.DoExecute(ctx, sc); err != nil {
		return err
	}
	return s.PostExecute(ctx, sc)
}

func TestBasicConsolidationDrainsIdleNode(t *testing.T) {
	model, router := fiveNodeFleet(t)
	sc := &Context{
		Model:    model,
		Router:   router,
		Params:   map[string]any{"threshold": 0.6},
		Solution: &models.Solution{StrategyName: BasicConsolidationName},
	}
	s, err := New(BasicConsolidationName)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if err := runStrategy(t, s, sc); err != nil {
		t.Fatalf("strategy failed: %v", err)
	}

	actions := sc.Solution.Actions
	if len(actions) != 3 {
		t.Fatalf("expected disable + 2 migrations, got %d actions: %+v", len(actions), actions)
	}

	// The drained node is disabled first and never re-enabled.
	if actions[0].Type != models.ActionChangeNovaServiceState {
		t.Fatalf("first action must disable the source, got %s", actions[0].Type)
	}
	if actions[0].Input[models.ParamResourceID] != "n3" {
		t.Errorf("expected source n3, got %v", actions[0].Input[models.ParamResourceID])
	}
	if actions[0].Input[models.ParamState] != string(models.NodeStatusDisabled) {
		t.Errorf("expected disabled state, got %v", actions[0].Input[models.ParamState])
	}

	for _, a := range actions[1:] {
		if a.Type != models.ActionMigrate {
			t.Fatalf("expected migrate, got %s", a.Type)
		}
		if a.Input[models.ParamSourceNode] != "n3" {
			t.Errorf("expected source n3, got %v", a.Input[models.ParamSourceNode])
		}
		dest := a.Input[models.ParamDestinationNode]
		if dest != "n1" && dest != "n2" {
			t.Errorf("destination must be n1 or n2, got %v", dest)
		}
		if a.Input[models.ParamMigrationType] != models.MigrationLive {
			t.Errorf("active instances migrate live, got %v", a.Input[models.ParamMigrationType])
		}
	}

	for _, a := range actions {
		if a.Type == models.ActionChangeNovaServiceState &&
			a.Input[models.ParamState] == string(models.NodeStatusEnabled) {
			t.Error("consolidation must not re-enable the drained node")
		}
	}

	if sc.Solution.GlobalEfficacy <= 0 {
		t.Error("expected a positive global efficacy after draining a node")
	}
}

func TestBasicConsolidationNothingToDrain(t *testing.T) {
	model := models.NewComputeModel()
	model.AddNode(&models.ComputeNode{
		UUID: "uuid-n0", Hostname: "n0",
		MemoryMB: 65536, VCPUs: 32, DiskGB: 1000,
		MemoryRatio: 1, VCPURatio: 1, DiskRatio: 1,
		State: models.NodeStateUp, Status: models.NodeStatusEnabled,
	})
	stub := &metricsStub{usage: map[string]float64{"n0": 50}}
	sc := &Context{
		Model:    model,
		Router:   datasource.NewRouter([]datasource.Provider{stub}, 1, 0, 0, nil),
		Params:   map[string]any{},
		Solution: &models.Solution{},
	}
	s, _ := New(BasicConsolidationName)
	if err := runStrategy(t, s, sc); err != nil {
		t.Fatalf("strategy failed: %v", err)
	}
	if len(sc.Solution.Actions) != 0 {
		t.Errorf("expected empty solution, got %d actions", len(sc.Solution.Actions))
	}
}

func TestBasicConsolidationEmptyCluster(t *testing.T) {
	sc := &Context{
		Model:    models.NewComputeModel(),
		Params:   map[string]any{},
		Solution: &models.Solution{},
	}
	s, _ := New(BasicConsolidationName)
	err := s.PreExecute(context.Background(), sc)
	if !errors.Is(err, models.ErrClusterEmpty) {
		t.Errorf("expected ErrClusterEmpty, got %v", err)
	}
}

func TestBasicConsolidationRejectsBadThreshold(t *testing.T) {
	model, router := fiveNodeFleet(t)
	sc := &Context{
		Model:    model,
		Router:   router,
		Params:   map[string]any{"threshold": 1.5},
		Solution: &models.Solution{},
	}
	s, _ := New(BasicConsolidationName)
	err := s.PreExecute(context.Background(), sc)
	if !errors.Is(err, models.ErrInvalid) {
		t.Errorf("expected ErrInvalid for threshold > 1, got %v", err)
	}
}

func TestUnknownStrategy(t *testing.T) {
	_, err := New("no_such_strategy")
	if !errors.Is(err, models.ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestRegisteredNames(t *testing.T) {
	names := Names()
	want := map[string]bool{BasicConsolidationName: false, HostMaintenanceName: false}
	for _, n := range names {
		if _, ok := want[n]; ok {
			want[n] = true
		}
	}
	for n, seen := range want {
		if !seen {
			t.Errorf("strategy %q not registered", n)
		}
	}
}
