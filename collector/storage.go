// ABOUTME: Storage-scope cluster model collector
// ABOUTME: Builds storage nodes from pool names and maps volumes onto pools

package collector

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/openstack/watcher-sub000/clients"
	"github.com/openstack/watcher-sub000/models"
	"github.com/openstack/watcher-sub000/pool"
)

// StorageCollector builds and publishes the storage-scope cluster model.
type StorageCollector struct {
	storage clients.StorageClient
	workers *pool.Pool

	model atomic.Pointer[models.StorageModel]

	mu        sync.Mutex
	lastScope models.AuditScope
	hasScope  bool
}

func NewStorageCollector(storage clients.StorageClient, workers *pool.Pool) *StorageCollector {
	return &StorageCollector{
		storage: storage,
		workers: workers,
	}
}

// Model returns the published storage model, or ErrClusterStateNotDefined
// when no audit has forced a build yet.
func (c *StorageCollector) Model() (*models.StorageModel, error) {
	m := c.model.Load()
	if m == nil {
		return nil, models.ErrClusterStateNotDefined
	}
	return m, nil
}

// Execute builds a fresh storage model restricted to the scope's pool
// names and publishes it atomically.
func (c *StorageCollector) Execute(ctx context.Context, scope models.AuditScope) (*models.StorageModel, error) {
	c.mu.Lock()
	if c.hasScope && !scope.Equal(c.lastScope) {
		slog.Info("Audit scope changed, rebuilding storage model from scratch",
			"pools", scope.PoolNames)
		c.model.Store(nil)
	}
	c.mu.Unlock()

	model := models.NewStorageModel()

	var (
		pools   []clients.StoragePool
		volumes []clients.BlockVolume
	)
	g, gctx := c.workers.Group(ctx)
	g.Go(func() error {
		var err error
		pools, err = c.storage.ListPools(gctx)
		if err != nil {
			return fmt.Errorf("listing storage pools: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		var err error
		volumes, err = c.storage.ListVolumes(gctx)
		if err != nil {
			return fmt.Errorf("listing volumes: %w", err)
		}
		return nil
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}

	wanted := stringSet(scope.PoolNames)
	inScope := func(name string) bool {
		return len(wanted) == 0 || wanted["*"] || wanted[name]
	}

	for _, p := range pools {
		if !inScope(p.Name) {
			continue
		}
		if node := storageNodeFromPoolName(p.Name); node != nil {
			model.AddStorageNode(node)
		}
		model.AddPool(&models.Pool{
			Name:              p.Name,
			TotalCapacityGB:   p.TotalCapacityGB,
			FreeCapacityGB:    p.FreeCapacityGB,
			AllocatedGB:       p.AllocatedGB,
			ProvisionedGB:     p.ProvisionedGB,
			TotalVolumesCount: p.TotalVolumesCount,
		})
	}

	for _, v := range volumes {
		if v.Status == "deleted" || !inScope(v.Host) {
			continue
		}
		vol := blockVolumeToVolume(v)
		model.AddVolume(vol)
		if _, err := model.GetPool(v.Host); err == nil {
			if err := model.MapVolume(vol.UUID, v.Host); err != nil {
				return nil, fmt.Errorf("mapping volume %s: %w", vol.UUID, err)
			}
		}
	}

	c.mu.Lock()
	c.lastScope = scope
	c.hasScope = true
	c.mu.Unlock()
	c.model.Store(model)

	slog.Info("Storage model built", "pools", len(model.Pools()))
	return model, nil
}

// storageNodeFromPoolName derives the host@backend parent from a
// host@backend#pool name. Nil when the name has no backend part.
func storageNodeFromPoolName(name string) *models.StorageNode {
	hostBackend, _, _ := strings.Cut(name, "#")
	host, backend, ok := strings.Cut(hostBackend, "@")
	if !ok {
		return nil
	}
	return &models.StorageNode{
		Host:    host,
		Backend: backend,
		State:   "up",
		Status:  "enabled",
	}
}

func blockVolumeToVolume(v clients.BlockVolume) *models.Volume {
	vol := &models.Volume{
		UUID:       v.UUID,
		Name:       v.Name,
		SizeGB:     v.SizeGB,
		Status:     v.Status,
		Bootable:   v.Bootable,
		SnapshotID: v.SnapshotID,
		ProjectID:  v.ProjectID,
		VolumeType: v.VolumeType,
	}
	for _, server := range v.AttachedTo {
		vol.Attachments = append(vol.Attachments, models.VolumeAttachment{ServerID: server})
	}
	return vol
}
