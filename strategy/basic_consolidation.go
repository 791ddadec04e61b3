// ABOUTME: Basic consolidation strategy: drain the least-loaded node
// ABOUTME: Disables an underutilized source and migrates its instances to mid-load nodes

package strategy

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/openstack/watcher-sub000/config"
	"github.com/openstack/watcher-sub000/datasource"
	"github.com/openstack/watcher-sub000/models"
)

// BasicConsolidationName is the registry name of the strategy.
const BasicConsolidationName = "basic_consolidation"

func init() {
	Register(BasicConsolidationName, func() Strategy { return &BasicConsolidation{} })
}

type basicConsolidationParams struct {
	// Threshold is the overload ceiling as a fraction: a destination's
	// projected cpu usage must stay at or below threshold*100 percent.
	Threshold float64 `json:"threshold" validate:"gt=0,lte=1"`

	// UnderloadThreshold is the cpu percentage below which a node is
	// considered underutilized and a drain candidate.
	UnderloadThreshold float64 `json:"underload_threshold" validate:"gte=0,lt=100"`

	// PeriodSeconds is the aggregation window for usage queries.
	PeriodSeconds int `json:"period" validate:"gte=0"`
}

// BasicConsolidation drains the least-loaded underutilized node: it
// disables the node, then live-migrates every instance off it onto nodes
// loaded below the fleet mean. The drained node stays disabled so the
// scheduler cannot refill it; operators re-enable it explicitly.
type BasicConsolidation struct {
	params basicConsolidationParams

	usage      map[string]float64 // node uuid -> cpu percent
	migrations int
	released   int
	totalNodes int
}

func (s *BasicConsolidation) Name() string        { return BasicConsolidationName }
func (s *BasicConsolidation) DisplayName() string { return "Basic offline consolidation" }

func (s *BasicConsolidation) RequiredMetrics() []string {
	return []string{config.MetricHostCPUUsage}
}

func (s *BasicConsolidation) DatasourcePreference() []string { return nil }

func (s *BasicConsolidation) ParameterSpec() map[string]ParameterDesc {
	return map[string]ParameterDesc{
		"threshold": {
			Type:        "number",
			Description: "Overload ceiling for destinations, as a fraction of full load",
			Default:     0.6,
		},
		"underload_threshold": {
			Type:        "number",
			Description: "CPU percentage below which a node is a drain candidate",
			Default:     10.0,
		},
		"period": {
			Type:        "number",
			Description: "Aggregation window for usage queries, in seconds",
			Default:     300,
		},
	}
}

func (s *BasicConsolidation) PreExecute(ctx context.Context, sc *Context) error {
	s.params = basicConsolidationParams{
		Threshold:          0.6,
		UnderloadThreshold: 10.0,
		PeriodSeconds:      300,
	}
	if err := decodeParams(sc.Params, &s.params); err != nil {
		return err
	}
	if sc.Model == nil || len(sc.Model.Nodes()) == 0 {
		return models.ErrClusterEmpty
	}
	return nil
}

func (s *BasicConsolidation) DoExecute(ctx context.Context, sc *Context) error {
	nodes := sc.Model.Nodes()
	s.totalNodes = len(nodes)

	if err := s.measureUsage(ctx, sc, nodes); err != nil {
		return err
	}

	source := s.pickSource(sc, nodes)
	if source == nil {
		// Nothing underutilized with instances: an empty solution is a
		// valid outcome, not a failure.
		return nil
	}

	destinations := s.pickDestinations(sc, nodes, source)
	if len(destinations) == 0 {
		return models.Invalid("no eligible destination node for draining %s", source.Hostname)
	}

	sc.Solution.AddAction(models.ActionChangeNovaServiceState, map[string]any{
		models.ParamResourceID: source.Hostname,
		models.ParamState:      string(models.NodeStatusDisabled),
	})

	freeMB := make(map[string]int, len(destinations))
	projected := make(map[string]float64, len(destinations))
	for _, d := range destinations {
		freeMB[d.UUID] = freeMemoryMB(sc.Model, d)
		projected[d.UUID] = s.usage[d.UUID]
	}

	for _, inst := range sc.Model.InstancesOnNode(source.UUID) {
		dest := s.bestDestination(destinations, inst, freeMB, projected)
		if dest == nil {
			return models.Invalid("instance %s does not fit on any destination", inst.UUID)
		}
		migrationType := models.MigrationLive
		if inst.State != models.InstanceStateActive {
			migrationType = models.MigrationCold
		}
		sc.Solution.AddAction(models.ActionMigrate, map[string]any{
			models.ParamResourceID:      inst.UUID,
			models.ParamMigrationType:   migrationType,
			models.ParamSourceNode:      source.Hostname,
			models.ParamDestinationNode: dest.Hostname,
		})
		freeMB[dest.UUID] -= inst.MemoryMB
		projected[dest.UUID] += instanceLoadShare(inst, dest)
		s.migrations++
	}
	s.released = 1
	return nil
}

func (s *BasicConsolidation) PostExecute(ctx context.Context, sc *Context) error {
	sc.Solution.AddIndicator("released_nodes_count", "nodes",
		"Compute nodes drained and disabled", float64(s.released))
	sc.Solution.AddIndicator("instance_migrations_count", "migrations",
		"Instance migrations proposed", float64(s.migrations))
	if s.totalNodes > 0 {
		sc.Solution.GlobalEfficacy = float64(s.released) / float64(s.totalNodes) * 100
	}
	return nil
}

// measureUsage queries cpu usage for every node. Nodes the datasource has
// no record for are excluded from consolidation rather than failing the
// whole audit.
func (s *BasicConsolidation) measureUsage(ctx context.Context, sc *Context, nodes []*models.ComputeNode) error {
	s.usage = make(map[string]float64, len(nodes))
	for _, node := range nodes {
		v, err := sc.Router.StatisticAggregation(ctx, datasource.Query{
			Resource:     node,
			ResourceType: datasource.ResourceTypeComputeNode,
			Metric:       config.MetricHostCPUUsage,
			Period:       time.Duration(s.params.PeriodSeconds) * time.Second,
			Aggregate:    datasource.AggregateMean,
		})
		if err != nil {
			return fmt.Errorf("measuring %s: %w", node.Hostname, err)
		}
		if v == nil {
			continue
		}
		s.usage[node.UUID] = *v
	}
	return nil
}

// pickSource returns the least-loaded underutilized node that actually
// hosts instances, or nil when there is nothing to drain.
func (s *BasicConsolidation) pickSource(sc *Context, nodes []*models.ComputeNode) *models.ComputeNode {
	candidates := make([]*models.ComputeNode, 0)
	for _, node := range nodes {
		usage, measured := s.usage[node.UUID]
		if !measured || !schedulable(node) {
			continue
		}
		if usage < s.params.UnderloadThreshold && len(sc.Model.InstancesOnNode(node.UUID)) > 0 {
			candidates = append(candidates, node)
		}
	}
	if len(candidates) == 0 {
		return nil
	}
	sort.Slice(candidates, func(i, j int) bool {
		ui, uj := s.usage[candidates[i].UUID], s.usage[candidates[j].UUID]
		if ui != uj {
			return ui < uj
		}
		return candidates[i].Hostname < candidates[j].Hostname
	})
	return candidates[0]
}

// pickDestinations returns the nodes loaded below the fleet mean that are
// neither underutilized themselves nor the source.
func (s *BasicConsolidation) pickDestinations(sc *Context, nodes []*models.ComputeNode, source *models.ComputeNode) []*models.ComputeNode {
	var sum float64
	var measured int
	for _, node := range nodes {
		if usage, ok := s.usage[node.UUID]; ok {
			sum += usage
			measured++
		}
	}
	if measured == 0 {
		return nil
	}
	mean := sum / float64(measured)

	out := make([]*models.ComputeNode, 0)
	for _, node := range nodes {
		usage, ok := s.usage[node.UUID]
		if !ok || node.UUID == source.UUID || !schedulable(node) {
			continue
		}
		if usage < s.params.UnderloadThreshold {
			continue // draining one node onto another drain candidate is churn
		}
		if usage < mean && usage <= s.params.Threshold*100 {
			out = append(out, node)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Hostname < out[j].Hostname })
	return out
}

// bestDestination picks the destination with the lowest projected load
// that still fits the instance's memory and stays under the overload
// ceiling.
func (s *BasicConsolidation) bestDestination(destinations []*models.ComputeNode, inst *models.Instance, freeMB map[string]int, projected map[string]float64) *models.ComputeNode {
	var best *models.ComputeNode
	for _, d := range destinations {
		if freeMB[d.UUID] < inst.MemoryMB {
			continue
		}
		if projected[d.UUID]+instanceLoadShare(inst, d) > s.params.Threshold*100 {
			continue
		}
		if best == nil || projected[d.UUID] < projected[best.UUID] {
			best = d
		}
	}
	return best
}

// instanceLoadShare estimates the cpu percentage an instance adds to a
// node, from its vcpu share of the node's schedulable cpu.
func instanceLoadShare(inst *models.Instance, node *models.ComputeNode) float64 {
	capacity := node.VCPUCapacity()
	if capacity <= 0 {
		return 100
	}
	return float64(inst.VCPUs) / float64(capacity) * 100
}

func freeMemoryMB(model *models.ComputeModel, node *models.ComputeNode) int {
	free := node.MemoryCapacityMB()
	for _, inst := range model.InstancesOnNode(node.UUID) {
		free -= inst.MemoryMB
	}
	return free
}

func schedulable(node *models.ComputeNode) bool {
	return node.State == models.NodeStateUp && node.Status == models.NodeStatusEnabled
}
