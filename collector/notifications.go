// ABOUTME: Notification fold keeping the cluster models current between audits
// ABOUTME: Flat event-type table; handlers are idempotent and tolerate out-of-order arrival

package collector

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/openstack/watcher-sub000/clients"
	"github.com/openstack/watcher-sub000/models"
)

// Event is one notification from an external service bus.
type Event struct {
	PublisherID string         `json:"publisher_id"`
	EventType   string         `json:"event_type"`
	Payload     map[string]any `json:"payload"`
}

// Dispatcher routes events to cluster model handlers. Before the first
// audit has built a model, every handler is a no-op: there is nothing to
// fold the event into, and the next full build will capture the state.
type Dispatcher struct {
	compute    *ComputeCollector
	storage    *StorageCollector
	computeAPI clients.ComputeClient
	storageAPI clients.StorageClient
	handlers   map[string]func(context.Context, Event) error
}

func NewDispatcher(compute *ComputeCollector, storage *StorageCollector, computeAPI clients.ComputeClient, storageAPI clients.StorageClient) *Dispatcher {
	d := &Dispatcher{
		compute:    compute,
		storage:    storage,
		computeAPI: computeAPI,
		storageAPI: storageAPI,
	}

	stateChange := func(state models.InstanceState) func(context.Context, Event) error {
		return func(ctx context.Context, e Event) error {
			return d.setInstanceState(ctx, e, state)
		}
	}

	d.handlers = map[string]func(context.Context, Event) error{
		"service.create": d.upsertService,
		"service.update": d.upsertService,
		"service.delete": d.deleteService,

		"instance.create.end":      d.createInstance,
		"instance.update":          d.updateInstance,
		"instance.delete.end":      d.deleteInstance,
		"instance.soft_delete.end": d.deleteInstance,

		"instance.live_migration_post.end":           d.remapInstance,
		"instance.live_migration_force_complete.end": d.remapInstance,

		"instance.lock":   d.setInstanceLocked(true),
		"instance.unlock": d.setInstanceLocked(false),

		"instance.pause.end":          stateChange(models.InstanceStatePaused),
		"instance.unpause.end":        stateChange(models.InstanceStateActive),
		"instance.power_off.end":      stateChange(models.InstanceStateStopped),
		"instance.power_on.end":       stateChange(models.InstanceStateActive),
		"instance.shelve.end":         stateChange(models.InstanceStateShelved),
		"instance.unshelve.end":       stateChange(models.InstanceStateActive),
		"instance.suspend.end":        stateChange(models.InstanceStateSuspended),
		"instance.resume.end":         stateChange(models.InstanceStateActive),
		"instance.rescue.end":         stateChange(models.InstanceStateRescued),
		"instance.unrescue.end":       stateChange(models.InstanceStateActive),
		"instance.rebuild.end":        stateChange(models.InstanceStateActive),
		"instance.resize_confirm.end": stateChange(models.InstanceStateActive),
		"instance.restore.end":        stateChange(models.InstanceStateActive),
		"instance.shutdown.end":       stateChange(models.InstanceStateStopped),

		"capacity.pool": d.updatePoolCapacity,

		"volume.create.end": d.upsertVolume,
		"volume.update.end": d.upsertVolume,
		"volume.attach.end": d.upsertVolume,
		"volume.detach.end": d.upsertVolume,
		"volume.resize.end": d.upsertVolume,
		"volume.delete.end": d.deleteVolume,
	}
	return d
}

// Dispatch routes one event. Unknown event types are dropped quietly; the
// subscription is broader than the handled set.
func (d *Dispatcher) Dispatch(ctx context.Context, e Event) error {
	handler, ok := d.handlers[e.EventType]
	if !ok {
		slog.Debug("Unhandled notification", "event_type", e.EventType, "publisher", e.PublisherID)
		return nil
	}
	if err := handler(ctx, e); err != nil {
		return fmt.Errorf("handling %s: %w", e.EventType, err)
	}
	return nil
}

// EventTypes returns the handled event types, for subscription setup.
func (d *Dispatcher) EventTypes() []string {
	out := make([]string, 0, len(d.handlers))
	for t := range d.handlers {
		out = append(out, t)
	}
	return out
}

func (d *Dispatcher) upsertService(ctx context.Context, e Event) error {
	model, err := d.compute.Model()
	if err != nil {
		return nil
	}
	hostname := str(e.Payload, "host")
	if hostname == "" {
		return models.Invalid("service event without host")
	}

	node, err := d.lazyNode(ctx, model, hostname)
	if err != nil || node == nil {
		return err
	}

	err = model.UpdateNode(node.UUID, func(n *models.ComputeNode) {
		if v := str(e.Payload, "state"); v != "" {
			n.State = models.NodeState(v)
		}
		if v := str(e.Payload, "status"); v != "" {
			n.Status = models.NodeStatus(v)
		}
		if v, ok := e.Payload["disabled_reason"]; ok {
			n.DisabledReason, _ = v.(string)
		}
	})
	if errors.Is(err, models.ErrNotFound) {
		return nil // removed concurrently, the next event recreates it
	}
	return err
}

func (d *Dispatcher) deleteService(ctx context.Context, e Event) error {
	model, err := d.compute.Model()
	if err != nil {
		return nil
	}
	hostname := str(e.Payload, "host")
	node, err := model.GetNodeByHostname(hostname)
	if err != nil {
		return nil // already gone, the delete is idempotent
	}
	return model.RemoveNode(node.UUID)
}

func (d *Dispatcher) createInstance(ctx context.Context, e Event) error {
	model, err := d.compute.Model()
	if err != nil {
		return nil
	}
	uuid := str(e.Payload, "uuid")
	if uuid == "" {
		return models.Invalid("instance event without uuid")
	}

	inst := &models.Instance{
		UUID:      uuid,
		Name:      str(e.Payload, "name"),
		MemoryMB:  num(e.Payload, "memory_mb"),
		VCPUs:     num(e.Payload, "vcpus"),
		DiskGB:    num(e.Payload, "disk_gb"),
		State:     models.InstanceStateActive,
		ProjectID: str(e.Payload, "project_id"),
	}
	if v := str(e.Payload, "state"); v != "" {
		inst.State = models.InstanceState(v)
	}
	model.AddInstance(inst)
	return d.mapToHost(ctx, model, uuid, str(e.Payload, "host"))
}

func (d *Dispatcher) updateInstance(ctx context.Context, e Event) error {
	model, err := d.compute.Model()
	if err != nil {
		return nil
	}
	// Builds are transient: the create.end event carries the settled state.
	if str(e.Payload, "state") == string(models.InstanceStateBuilding) {
		return nil
	}
	uuid := str(e.Payload, "uuid")
	if uuid == "" {
		return models.Invalid("instance event without uuid")
	}

	inst, err := d.lazyInstance(ctx, model, uuid)
	if err != nil || inst == nil {
		return err
	}

	err = model.UpdateInstance(uuid, func(i *models.Instance) {
		if v := str(e.Payload, "state"); v != "" {
			i.State = models.InstanceState(v)
		}
		if v := num(e.Payload, "memory_mb"); v > 0 {
			i.MemoryMB = v
		}
		if v := num(e.Payload, "vcpus"); v > 0 {
			i.VCPUs = v
		}
		if v := num(e.Payload, "disk_gb"); v > 0 {
			i.DiskGB = v
		}
	})
	if err != nil && !errors.Is(err, models.ErrNotFound) {
		return err
	}

	if host := str(e.Payload, "host"); host != "" {
		current, err := model.NodeForInstance(uuid)
		if err != nil || current.Hostname != host {
			return d.mapToHost(ctx, model, uuid, host)
		}
	}
	return nil
}

func (d *Dispatcher) deleteInstance(ctx context.Context, e Event) error {
	model, err := d.compute.Model()
	if err != nil {
		return nil
	}
	uuid := str(e.Payload, "uuid")
	if err := model.RemoveInstance(uuid); err != nil && !errors.Is(err, models.ErrNotFound) {
		return err
	}
	return nil
}

func (d *Dispatcher) remapInstance(ctx context.Context, e Event) error {
	model, err := d.compute.Model()
	if err != nil {
		return nil
	}
	uuid := str(e.Payload, "uuid")
	inst, err := d.lazyInstance(ctx, model, uuid)
	if err != nil || inst == nil {
		return err
	}
	err = model.UpdateInstance(uuid, func(i *models.Instance) {
		i.State = models.InstanceStateActive
	})
	if err != nil && !errors.Is(err, models.ErrNotFound) {
		return err
	}
	return d.mapToHost(ctx, model, uuid, str(e.Payload, "host"))
}

func (d *Dispatcher) setInstanceLocked(locked bool) func(context.Context, Event) error {
	return func(ctx context.Context, e Event) error {
		model, err := d.compute.Model()
		if err != nil {
			return nil
		}
		inst, err := d.lazyInstance(ctx, model, str(e.Payload, "uuid"))
		if err != nil || inst == nil {
			return err
		}
		err = model.UpdateInstance(inst.UUID, func(i *models.Instance) {
			i.Locked = locked
		})
		if errors.Is(err, models.ErrNotFound) {
			return nil
		}
		return err
	}
}

func (d *Dispatcher) setInstanceState(ctx context.Context, e Event, state models.InstanceState) error {
	model, err := d.compute.Model()
	if err != nil {
		return nil
	}
	inst, err := d.lazyInstance(ctx, model, str(e.Payload, "uuid"))
	if err != nil || inst == nil {
		return err
	}
	err = model.UpdateInstance(inst.UUID, func(i *models.Instance) {
		i.State = state
	})
	if errors.Is(err, models.ErrNotFound) {
		return nil
	}
	return err
}

func (d *Dispatcher) updatePoolCapacity(ctx context.Context, e Event) error {
	model, err := d.storage.Model()
	if err != nil {
		return nil
	}
	name := str(e.Payload, "name_to_id")
	if name == "" {
		name = str(e.Payload, "pool")
	}
	if name == "" {
		return models.Invalid("capacity event without pool name")
	}

	pool, err := d.lazyPool(ctx, model, name)
	if err != nil || pool == nil {
		return err
	}

	err = model.UpdatePool(pool.Name, func(p *models.Pool) {
		if v := num(e.Payload, "total_capacity_gb"); v > 0 {
			p.TotalCapacityGB = v
		}
		if v, ok := e.Payload["free_capacity_gb"]; ok {
			p.FreeCapacityGB = toInt(v)
		}
		if v, ok := e.Payload["allocated_capacity_gb"]; ok {
			p.AllocatedGB = toInt(v)
		}
		if v, ok := e.Payload["provisioned_capacity_gb"]; ok {
			p.ProvisionedGB = toInt(v)
		}
		if v, ok := e.Payload["total_volumes"]; ok {
			p.TotalVolumesCount = toInt(v)
		}
	})
	if errors.Is(err, models.ErrNotFound) {
		return nil
	}
	return err
}

func (d *Dispatcher) upsertVolume(ctx context.Context, e Event) error {
	model, err := d.storage.Model()
	if err != nil {
		return nil
	}
	uuid := str(e.Payload, "volume_id")
	if uuid == "" {
		uuid = str(e.Payload, "uuid")
	}
	if uuid == "" {
		return models.Invalid("volume event without uuid")
	}

	bv, err := d.storageAPI.GetVolume(ctx, uuid)
	if err != nil {
		if errors.Is(err, models.ErrNotFound) {
			slog.Warn("Volume in notification unknown to storage service, dropping", "uuid", uuid)
			return nil
		}
		return err
	}

	vol := blockVolumeToVolume(bv)
	model.AddVolume(vol)
	if bv.Host == "" {
		return nil
	}
	pool, err := d.lazyPool(ctx, model, bv.Host)
	if err != nil || pool == nil {
		return err
	}
	return model.MapVolume(vol.UUID, bv.Host)
}

func (d *Dispatcher) deleteVolume(ctx context.Context, e Event) error {
	model, err := d.storage.Model()
	if err != nil {
		return nil
	}
	uuid := str(e.Payload, "volume_id")
	if uuid == "" {
		uuid = str(e.Payload, "uuid")
	}
	if err := model.RemoveVolume(uuid); err != nil && !errors.Is(err, models.ErrNotFound) {
		return err
	}
	return nil
}

// lazyNode resolves a node, creating it from the compute service when the
// model has no record. A nil node with nil error means the external
// service has no record either and the event should be dropped.
func (d *Dispatcher) lazyNode(ctx context.Context, model *models.ComputeModel, hostname string) (*models.ComputeNode, error) {
	node, err := model.GetNodeByHostname(hostname)
	if err == nil {
		return node, nil
	}
	hv, err := d.computeAPI.GetComputeNodeByHostname(ctx, hostname)
	if err != nil {
		if errors.Is(err, models.ErrNotFound) {
			slog.Warn("Node in notification unknown to compute service, dropping", "hostname", hostname)
			return nil, nil
		}
		return nil, err
	}
	node = &models.ComputeNode{
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
	model.AddNode(node)
	return node, nil
}

// lazyInstance resolves an instance, creating it from the compute service
// when the model has no record yet (events can arrive out of order).
func (d *Dispatcher) lazyInstance(ctx context.Context, model *models.ComputeModel, uuid string) (*models.Instance, error) {
	if uuid == "" {
		return nil, models.Invalid("instance event without uuid")
	}
	inst, err := model.GetInstance(uuid)
	if err == nil {
		return inst, nil
	}
	server, err := d.computeAPI.GetInstance(ctx, uuid)
	if err != nil {
		if errors.Is(err, models.ErrNotFound) {
			slog.Warn("Instance in notification unknown to compute service, dropping", "uuid", uuid)
			return nil, nil
		}
		return nil, err
	}
	inst = serverToInstance(server)
	model.AddInstance(inst)
	if server.Host != "" {
		if err := d.mapToHost(ctx, model, inst.UUID, server.Host); err != nil {
			return nil, err
		}
	}
	return inst, nil
}

// lazyPool resolves a pool, creating it from the storage service when the
// model has no record.
func (d *Dispatcher) lazyPool(ctx context.Context, model *models.StorageModel, name string) (*models.Pool, error) {
	pool, err := model.GetPool(name)
	if err == nil {
		return pool, nil
	}
	sp, err := d.storageAPI.GetPool(ctx, name)
	if err != nil {
		if errors.Is(err, models.ErrNotFound) {
			slog.Warn("Pool in notification unknown to storage service, dropping", "pool", name)
			return nil, nil
		}
		return nil, err
	}
	pool = &models.Pool{
		Name:              sp.Name,
		TotalCapacityGB:   sp.TotalCapacityGB,
		FreeCapacityGB:    sp.FreeCapacityGB,
		AllocatedGB:       sp.AllocatedGB,
		ProvisionedGB:     sp.ProvisionedGB,
		TotalVolumesCount: sp.TotalVolumesCount,
	}
	if node := storageNodeFromPoolName(name); node != nil {
		model.AddStorageNode(node)
	}
	model.AddPool(pool)
	return pool, nil
}

// mapToHost maps an instance onto the node for hostname, lazily creating
// the node if needed. An empty hostname unmaps the instance.
func (d *Dispatcher) mapToHost(ctx context.Context, model *models.ComputeModel, instanceUUID, hostname string) error {
	if hostname == "" {
		model.UnmapInstance(instanceUUID)
		return nil
	}
	node, err := d.lazyNode(ctx, model, hostname)
	if err != nil || node == nil {
		return err
	}
	return model.MapInstance(instanceUUID, node.UUID)
}

func str(payload map[string]any, key string) string {
	v, _ := payload[key].(string)
	return v
}

func num(payload map[string]any, key string) int {
	return toInt(payload[key])
}

func toInt(v any) int {
	switch n := v.(type) {
	case int:
		return n
	case int64:
		return int(n)
	case float64:
		return int(n)
	}
	return 0
}
