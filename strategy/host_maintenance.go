// ABOUTME: Host maintenance strategy: drain a node ahead of planned work
// ABOUTME: Disables the host, then migrates or stops its instances per policy

package strategy

import (
	"context"

	"github.com/openstack/watcher-sub000/models"
)

// HostMaintenanceName is the registry name of the strategy.
const HostMaintenanceName = "host_maintenance"

// MaintenanceReason is the disabled_reason recorded on the drained host.
const MaintenanceReason = "watcher_maintaining"

func init() {
	Register(HostMaintenanceName, func() Strategy { return &HostMaintenance{} })
}

type hostMaintenanceParams struct {
	// MaintenanceNode is the hostname to drain.
	MaintenanceNode string `json:"maintenance_node" validate:"required"`

	// BackupNode receives the drained instances. Empty picks any
	// schedulable node with room.
	BackupNode string `json:"backup_node" validate:"omitempty,nefield=MaintenanceNode"`

	// DisableLiveMigration and DisableColdMigration control how
	// instances leave the node. With both set, instances are stopped in
	// place instead of moved.
	DisableLiveMigration bool `json:"disable_live_migration"`
	DisableColdMigration bool `json:"disable_cold_migration"`
}

// HostMaintenance prepares one node for maintenance: disable it with the
// watcher_maintaining reason, then move every instance to the backup node,
// or stop them in place when migrations are ruled out.
type HostMaintenance struct {
	params hostMaintenanceParams

	migrations int
	stopped    int
}

func (s *HostMaintenance) Name() string        { return HostMaintenanceName }
func (s *HostMaintenance) DisplayName() string { return "Host maintenance" }

// RequiredMetrics is empty: draining is driven by the model alone.
func (s *HostMaintenance) RequiredMetrics() []string { return nil }

func (s *HostMaintenance) DatasourcePreference() []string { return nil }

func (s *HostMaintenance) ParameterSpec() map[string]ParameterDesc {
	return map[string]ParameterDesc{
		"maintenance_node": {
			Type:        "string",
			Description: "Hostname of the node to drain",
			Required:    true,
		},
		"backup_node": {
			Type:        "string",
			Description: "Hostname receiving the drained instances",
		},
		"disable_live_migration": {
			Type:        "boolean",
			Description: "Never live-migrate instances off the node",
			Default:     false,
		},
		"disable_cold_migration": {
			Type:        "boolean",
			Description: "Never cold-migrate instances off the node",
			Default:     false,
		},
	}
}

func (s *HostMaintenance) PreExecute(ctx context.Context, sc *Context) error {
	s.params = hostMaintenanceParams{}
	if err := decodeParams(sc.Params, &s.params); err != nil {
		return err
	}
	if sc.Model == nil || len(sc.Model.Nodes()) == 0 {
		return models.ErrClusterEmpty
	}
	if _, err := sc.Model.GetNodeByHostname(s.params.MaintenanceNode); err != nil {
		return err
	}
	if s.params.BackupNode != "" {
		if _, err := sc.Model.GetNodeByHostname(s.params.BackupNode); err != nil {
			return err
		}
	}
	return nil
}

func (s *HostMaintenance) DoExecute(ctx context.Context, sc *Context) error {
	node, err := sc.Model.GetNodeByHostname(s.params.MaintenanceNode)
	if err != nil {
		return err
	}

	sc.Solution.AddAction(models.ActionChangeNovaServiceState, map[string]any{
		models.ParamResourceID:     node.Hostname,
		models.ParamState:          string(models.NodeStatusDisabled),
		models.ParamDisabledReason: MaintenanceReason,
	})

	instances := sc.Model.InstancesOnNode(node.UUID)
	if len(instances) == 0 {
		return nil
	}

	if s.params.DisableLiveMigration && s.params.DisableColdMigration {
		for _, inst := range instances {
			sc.Solution.AddAction(models.ActionStopInstance, map[string]any{
				models.ParamResourceID: inst.UUID,
			})
			s.stopped++
		}
		return nil
	}

	dest, err := s.destination(sc, node, instances)
	if err != nil {
		return err
	}
	for _, inst := range instances {
		migrationType := models.MigrationLive
		if s.params.DisableLiveMigration || inst.State != models.InstanceStateActive {
			migrationType = models.MigrationCold
		}
		sc.Solution.AddAction(models.ActionMigrate, map[string]any{
			models.ParamResourceID:      inst.UUID,
			models.ParamMigrationType:   migrationType,
			models.ParamSourceNode:      node.Hostname,
			models.ParamDestinationNode: dest.Hostname,
		})
		s.migrations++
	}
	return nil
}

func (s *HostMaintenance) PostExecute(ctx context.Context, sc *Context) error {
	sc.Solution.AddIndicator("instance_migrations_count", "migrations",
		"Instance migrations proposed", float64(s.migrations))
	sc.Solution.AddIndicator("stopped_instances_count", "instances",
		"Instances stopped in place", float64(s.stopped))
	sc.Solution.GlobalEfficacy = 100
	return nil
}

// destination resolves the node receiving the drained instances: the
// configured backup node, or the schedulable node with the most free
// memory when none is configured.
func (s *HostMaintenance) destination(sc *Context, source *models.ComputeNode, instances []*models.Instance) (*models.ComputeNode, error) {
	var required int
	for _, inst := range instances {
		required += inst.MemoryMB
	}

	if s.params.BackupNode != "" {
		dest, err := sc.Model.GetNodeByHostname(s.params.BackupNode)
		if err != nil {
			return nil, err
		}
		if freeMemoryMB(sc.Model, dest) < required {
			return nil, models.Invalid("backup node %s lacks memory for %d MB", dest.Hostname, required)
		}
		return dest, nil
	}

	var best *models.ComputeNode
	bestFree := 0
	for _, node := range sc.Model.Nodes() {
		if node.UUID == source.UUID || !schedulable(node) {
			continue
		}
		if free := freeMemoryMB(sc.Model, node); free >= required && free > bestFree {
			best, bestFree = node, free
		}
	}
	if best == nil {
		return nil, models.Invalid("no node can absorb %d MB from %s", required, source.Hostname)
	}
	return best, nil
}
