// ABOUTME: Compute-scope cluster model collector
// ABOUTME: Three-tier parallel build: scope resolution, node detail, instance enumeration

package collector

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/openstack/watcher-sub000/cache"
	"github.com/openstack/watcher-sub000/clients"
	"github.com/openstack/watcher-sub000/models"
	"github.com/openstack/watcher-sub000/pool"
)

// ComputeCollector builds and publishes the compute-scope cluster model.
// Execute swaps the published model atomically, so concurrent readers see
// either the previous build or the new one, never a partial model.
type ComputeCollector struct {
	compute   clients.ComputeClient
	placement clients.PlacementClient
	workers   *pool.Pool
	limit     int
	cache     *cache.Cache

	model atomic.Pointer[models.ComputeModel]

	mu        sync.Mutex
	lastScope models.AuditScope
	hasScope  bool
}

// NewComputeCollector wires the collector. placement may be nil; capacity
// then comes from the node-reported values. limit caps the per-node
// instance page; -1 means no limit.
func NewComputeCollector(compute clients.ComputeClient, placement clients.PlacementClient, workers *pool.Pool, limit int, c *cache.Cache) *ComputeCollector {
	return &ComputeCollector{
		compute:   compute,
		placement: placement,
		workers:   workers,
		limit:     limit,
		cache:     c,
	}
}

// Model returns the published compute model, or ErrClusterStateNotDefined
// when no audit has forced a build yet.
func (c *ComputeCollector) Model() (*models.ComputeModel, error) {
	m := c.model.Load()
	if m == nil {
		return nil, models.ErrClusterStateNotDefined
	}
	return m, nil
}

// Execute builds a fresh model restricted to the audit scope and publishes
// it. A scope different from the previous build invalidates the cached
// query results before rebuilding.
func (c *ComputeCollector) Execute(ctx context.Context, scope models.AuditScope) (*models.ComputeModel, error) {
	c.mu.Lock()
	if c.hasScope && !scope.Equal(c.lastScope) {
		slog.Info("Audit scope changed, rebuilding compute model from scratch",
			"aggregates", scope.HostAggregates, "zones", scope.AvailabilityZones)
		c.model.Store(nil)
		if c.cache != nil {
			c.cache.Flush()
		}
	}
	c.mu.Unlock()

	hosts, err := c.resolveScope(ctx, scope)
	if err != nil {
		return nil, err
	}

	model := models.NewComputeModel()
	nodes, err := c.collectNodes(ctx, hosts)
	if err != nil {
		return nil, err
	}
	for _, n := range nodes {
		model.AddNode(n)
	}

	if err := c.collectInstances(ctx, model, nodes); err != nil {
		return nil, err
	}

	c.mu.Lock()
	c.lastScope = scope
	c.hasScope = true
	c.mu.Unlock()
	c.model.Store(model)

	slog.Info("Compute model built", "nodes", len(nodes), "instances", len(model.Instances()))
	return model, nil
}

// resolveScope turns the audit scope into a hostname set: the union of the
// listed aggregates' members and the listed zones' hosts. "*" in either
// list means any member. Empty lists on both axes select the full fleet.
func (c *ComputeCollector) resolveScope(ctx context.Context, scope models.AuditScope) (map[string]bool, error) {
	hosts := make(map[string]bool)

	if len(scope.HostAggregates) == 0 && len(scope.AvailabilityZones) == 0 {
		hypervisors, err := c.compute.ListComputeNodes(ctx)
		if err != nil {
			return nil, fmt.Errorf("listing compute nodes: %w", err)
		}
		for _, h := range hypervisors {
			hosts[h.Hostname] = true
		}
		return hosts, nil
	}

	var mu sync.Mutex
	g, gctx := c.workers.Group(ctx)

	if len(scope.HostAggregates) > 0 {
		wanted := stringSet(scope.HostAggregates)
		g.Go(func() error {
			aggregates, err := c.compute.ListAggregates(gctx)
			if err != nil {
				return fmt.Errorf("listing aggregates: %w", err)
			}
			mu.Lock()
			defer mu.Unlock()
			for _, agg := range aggregates {
				if wanted["*"] || wanted[agg.Name] {
					for _, h := range agg.Hosts {
						hosts[h] = true
					}
				}
			}
			return nil
		})
	}

	if len(scope.AvailabilityZones) > 0 {
		wanted := stringSet(scope.AvailabilityZones)
		g.Go(func() error {
			zones, err := c.compute.ListAvailabilityZones(gctx)
			if err != nil {
				return fmt.Errorf("listing availability zones: %w", err)
			}
			mu.Lock()
			defer mu.Unlock()
			for _, zone := range zones {
				if wanted["*"] || wanted[zone.Name] {
					for _, h := range zone.Hosts {
						hosts[h] = true
					}
				}
			}
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}
	return hosts, nil
}

// collectNodes fetches node details in parallel, dropping ironic nodes:
// baremetal hosts take no placement decisions.
func (c *ComputeCollector) collectNodes(ctx context.Context, hosts map[string]bool) ([]*models.ComputeNode, error) {
	var mu sync.Mutex
	nodes := make([]*models.ComputeNode, 0, len(hosts))

	g, gctx := c.workers.Group(ctx)
	for hostname := range hosts {
		g.Go(func() error {
			hv, err := c.compute.GetComputeNodeByHostname(gctx, hostname)
			if err != nil {
				if errors.Is(err, models.ErrNotFound) {
					slog.Warn("Compute node vanished during collection", "hostname", hostname)
					return nil
				}
				return fmt.Errorf("fetching node %s: %w", hostname, err)
			}
			if strings.EqualFold(hv.HypervisorType, "ironic") {
				slog.Debug("Skipping baremetal node", "hostname", hostname)
				return nil
			}
			node := c.buildNode(gctx, hv)
			mu.Lock()
			nodes = append(nodes, node)
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return nodes, nil
}

// buildNode derives the node's capacity, preferring placement inventories
// and falling back to the node-reported totals with ratio 1.0 and no
// reservation.
func (c *ComputeCollector) buildNode(ctx context.Context, hv clients.Hypervisor) *models.ComputeNode {
	node := &models.ComputeNode{
		UUID:           hv.UUID,
		Hostname:       hv.Hostname,
		MemoryMB:       hv.MemoryMB,
		VCPUs:          hv.VCPUs,
		DiskGB:         hv.DiskGB,
		MemoryRatio:    1.0,
		VCPURatio:      1.0,
		DiskRatio:      1.0,
		State:          models.NodeState(hv.State),
		Status:         models.NodeStatus(hv.Status),
		DisabledReason: hv.DisabledReason,
	}
	if c.placement == nil {
		return node
	}

	inventories, err := c.placement.GetInventories(ctx, hv.UUID)
	if err != nil {
		slog.Warn("Placement inventory unavailable, using node-reported capacity",
			"hostname", hv.Hostname, "error", err)
		return node
	}
	if inv, ok := inventories[clients.ResourceClassVCPU]; ok {
		node.VCPUs = inv.Total
		node.VCPUReserved = inv.Reserved
		node.VCPURatio = inv.AllocationRatio
	}
	if inv, ok := inventories[clients.ResourceClassMemoryMB]; ok {
		node.MemoryMB = inv.Total
		node.MemoryReserved = inv.Reserved
		node.MemoryRatio = inv.AllocationRatio
	}
	if inv, ok := inventories[clients.ResourceClassDiskGB]; ok {
		node.DiskGB = inv.Total
		node.DiskReserved = inv.Reserved
		node.DiskRatio = inv.AllocationRatio
	}
	return node
}

// collectInstances enumerates each node's servers in parallel and maps
// them onto their node. Deleted instances never enter the model.
func (c *ComputeCollector) collectInstances(ctx context.Context, model *models.ComputeModel, nodes []*models.ComputeNode) error {
	g, gctx := c.workers.Group(ctx)
	for _, node := range nodes {
		g.Go(func() error {
			servers, err := c.compute.ListInstances(gctx, clients.ListInstancesOpts{
				Host:  node.Hostname,
				Limit: c.limit,
			})
			if err != nil {
				return fmt.Errorf("listing instances on %s: %w", node.Hostname, err)
			}
			for _, s := range servers {
				if models.InstanceState(s.State) == models.InstanceStateDeleted {
					continue
				}
				inst := serverToInstance(s)
				model.AddInstance(inst)
				if err := model.MapInstance(inst.UUID, node.UUID); err != nil {
					return fmt.Errorf("mapping instance %s: %w", inst.UUID, err)
				}
			}
			return nil
		})
	}
	return g.Wait()
}

func serverToInstance(s clients.Server) *models.Instance {
	return &models.Instance{
		UUID:      s.UUID,
		Name:      s.Name,
		MemoryMB:  s.MemoryMB,
		VCPUs:     s.VCPUs,
		DiskGB:    s.DiskGB,
		State:     models.InstanceState(s.State),
		Locked:    s.Locked,
		ProjectID: s.ProjectID,
		Metadata:  s.Metadata,
	}
}

func stringSet(values []string) map[string]bool {
	set := make(map[string]bool, len(values))
	for _, v := range values {
		set[v] = true
	}
	return set
}
