// ABOUTME: Tests for the notification fold: idempotence, lazy creation,
// ABOUTME: out-of-order tolerance, and the no-model no-op rule

package collector

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/openstack/watcher-sub000/clients"
	"github.com/openstack/watcher-sub000/models"
)

func builtDispatcher(t *testing.T) (*Dispatcher, *models.ComputeModel, *clients.FakeComputeClient) {
	t.Helper()
	compute := seedCluster(t)
	cc := NewComputeCollector(compute, nil, testPool(), 1000, nil)
	model, err := cc.Execute(context.Background(), models.AuditScope{})
	if err != nil {
		t.Fatalf("building model: %v", err)
	}
	storage := clients.NewFakeStorageClient()
	sc := NewStorageCollector(storage, testPool())
	d := NewDispatcher(cc, sc, compute, storage)
	return d, model, compute
}

func TestDispatchWithoutModelIsNoOp(t *testing.T) {
	compute := clients.NewFakeComputeClient()
	storage := clients.NewFakeStorageClient()
	cc := NewComputeCollector(compute, nil, testPool(), 1000, nil)
	sc := NewStorageCollector(storage, testPool())
	d := NewDispatcher(cc, sc, compute, storage)

	err := d.Dispatch(context.Background(), Event{
		EventType: "instance.update",
		Payload:   map[string]any{"uuid": "inst-1", "state": "stopped"},
	})
	if err != nil {
		t.Errorf("events before the first build must be dropped without error, got %v", err)
	}
}

func TestServiceUpdateChangesNodeStatus(t *testing.T) {
	d, model, _ := builtDispatcher(t)

	err := d.Dispatch(context.Background(), Event{
		EventType: "service.update",
		Payload: map[string]any{
			"host": "compute-1", "status": "disabled", "disabled_reason": "maintenance",
		},
	})
	if err != nil {
		t.Fatalf("Dispatch: %v", err)
	}
	node, err := model.GetNodeByHostname("compute-1")
	if err != nil {
		t.Fatalf("GetNodeByHostname: %v", err)
	}
	if node.Status != models.NodeStatusDisabled || node.DisabledReason != "maintenance" {
		t.Errorf("expected disabled/maintenance, got %s/%s", node.Status, node.DisabledReason)
	}
}

func TestServiceDeleteUnmapsInstances(t *testing.T) {
	d, model, _ := builtDispatcher(t)

	err := d.Dispatch(context.Background(), Event{
		EventType: "service.delete",
		Payload:   map[string]any{"host": "compute-1"},
	})
	if err != nil {
		t.Fatalf("Dispatch: %v", err)
	}
	if _, err := model.GetNodeByHostname("compute-1"); !errors.Is(err, models.ErrNotFound) {
		t.Errorf("node should be removed, got %v", err)
	}
	// Instances survive unmapped.
	if _, err := model.GetInstance("inst-1"); err != nil {
		t.Errorf("instance must survive node removal: %v", err)
	}
	if _, err := model.NodeForInstance("inst-1"); !errors.Is(err, models.ErrNotFound) {
		t.Errorf("instance must be unmapped, got %v", err)
	}
}

func TestInstanceCreateMapsToNode(t *testing.T) {
	d, model, _ := builtDispatcher(t)

	err := d.Dispatch(context.Background(), Event{
		EventType: "instance.create.end",
		Payload: map[string]any{
			"uuid": "inst-new", "name": "api-1", "host": "compute-2",
			"memory_mb": float64(1024), "vcpus": float64(1), "disk_gb": float64(10),
		},
	})
	if err != nil {
		t.Fatalf("Dispatch: %v", err)
	}
	node, err := model.NodeForInstance("inst-new")
	if err != nil {
		t.Fatalf("NodeForInstance: %v", err)
	}
	if node.Hostname != "compute-2" {
		t.Errorf("expected mapping to compute-2, got %s", node.Hostname)
	}
}

func TestInstanceUpdateIgnoresBuildingState(t *testing.T) {
	d, model, _ := builtDispatcher(t)

	err := d.Dispatch(context.Background(), Event{
		EventType: "instance.update",
		Payload:   map[string]any{"uuid": "inst-1", "state": "building"},
	})
	if err != nil {
		t.Fatalf("Dispatch: %v", err)
	}
	inst, err := model.GetInstance("inst-1")
	if err != nil {
		t.Fatalf("GetInstance: %v", err)
	}
	if inst.State != models.InstanceStateActive {
		t.Errorf("building update must be ignored, state is %s", inst.State)
	}
}

func TestInstanceUpdateRemapsOnHostChange(t *testing.T) {
	d, model, _ := builtDispatcher(t)

	err := d.Dispatch(context.Background(), Event{
		EventType: "instance.update",
		Payload:   map[string]any{"uuid": "inst-1", "state": "active", "host": "compute-2"},
	})
	if err != nil {
		t.Fatalf("Dispatch: %v", err)
	}
	node, err := model.NodeForInstance("inst-1")
	if err != nil {
		t.Fatalf("NodeForInstance: %v", err)
	}
	if node.Hostname != "compute-2" {
		t.Errorf("expected remap to compute-2, got %s", node.Hostname)
	}
	// Partial function: the old node no longer lists the instance.
	old, _ := model.GetNodeByHostname("compute-1")
	for _, inst := range model.InstancesOnNode(old.UUID) {
		if inst.UUID == "inst-1" {
			t.Error("inst-1 must not remain mapped to compute-1")
		}
	}
}

func TestLiveMigrationRemap(t *testing.T) {
	d, model, _ := builtDispatcher(t)

	err := d.Dispatch(context.Background(), Event{
		EventType: "instance.live_migration_post.end",
		Payload:   map[string]any{"uuid": "inst-2", "host": "compute-2"},
	})
	if err != nil {
		t.Fatalf("Dispatch: %v", err)
	}
	node, err := model.NodeForInstance("inst-2")
	if err != nil {
		t.Fatalf("NodeForInstance: %v", err)
	}
	if node.Hostname != "compute-2" {
		t.Errorf("expected remap to compute-2, got %s", node.Hostname)
	}
}

func TestInstanceDeleteIsIdempotent(t *testing.T) {
	d, model, _ := builtDispatcher(t)

	e := Event{EventType: "instance.delete.end", Payload: map[string]any{"uuid": "inst-3"}}
	if err := d.Dispatch(context.Background(), e); err != nil {
		t.Fatalf("first delete: %v", err)
	}
	if err := d.Dispatch(context.Background(), e); err != nil {
		t.Errorf("second delete must be a no-op, got %v", err)
	}
	if _, err := model.GetInstance("inst-3"); !errors.Is(err, models.ErrNotFound) {
		t.Errorf("instance should be gone, got %v", err)
	}
}

func TestStateFlagEvents(t *testing.T) {
	d, model, _ := builtDispatcher(t)

	cases := []struct {
		event string
		want  models.InstanceState
	}{
		{"instance.power_off.end", models.InstanceStateStopped},
		{"instance.power_on.end", models.InstanceStateActive},
		{"instance.pause.end", models.InstanceStatePaused},
		{"instance.unpause.end", models.InstanceStateActive},
		{"instance.suspend.end", models.InstanceStateSuspended},
		{"instance.resume.end", models.InstanceStateActive},
		{"instance.shelve.end", models.InstanceStateShelved},
		{"instance.unshelve.end", models.InstanceStateActive},
	}
	for _, tc := range cases {
		err := d.Dispatch(context.Background(), Event{
			EventType: tc.event,
			Payload:   map[string]any{"uuid": "inst-1"},
		})
		if err != nil {
			t.Fatalf("%s: %v", tc.event, err)
		}
		inst, err := model.GetInstance("inst-1")
		if err != nil {
			t.Fatalf("GetInstance: %v", err)
		}
		if inst.State != tc.want {
			t.Errorf("%s: expected state %s, got %s", tc.event, tc.want, inst.State)
		}
	}
}

func TestLockUnlock(t *testing.T) {
	d, model, _ := builtDispatcher(t)

	if err := d.Dispatch(context.Background(), Event{
		EventType: "instance.lock", Payload: map[string]any{"uuid": "inst-1"},
	}); err != nil {
		t.Fatalf("lock: %v", err)
	}
	inst, _ := model.GetInstance("inst-1")
	if !inst.Locked {
		t.Error("expected instance locked")
	}

	if err := d.Dispatch(context.Background(), Event{
		EventType: "instance.unlock", Payload: map[string]any{"uuid": "inst-1"},
	}); err != nil {
		t.Fatalf("unlock: %v", err)
	}
	inst, _ = model.GetInstance("inst-1")
	if inst.Locked {
		t.Error("expected instance unlocked")
	}
}

func TestLazyInstanceCreationFromService(t *testing.T) {
	d, model, compute := builtDispatcher(t)

	// The event references an instance the model never saw; the compute
	// service still knows it, so the handler creates it on the fly.
	compute.AddServer(clients.Server{
		UUID: "inst-late", Name: "late-1", Host: "compute-2", State: "active",
		MemoryMB: 512, VCPUs: 1, DiskGB: 5,
	})
	err := d.Dispatch(context.Background(), Event{
		EventType: "instance.power_off.end",
		Payload:   map[string]any{"uuid": "inst-late"},
	})
	if err != nil {
		t.Fatalf("Dispatch: %v", err)
	}
	inst, err := model.GetInstance("inst-late")
	if err != nil {
		t.Fatalf("lazy-created instance missing: %v", err)
	}
	if inst.State != models.InstanceStateStopped {
		t.Errorf("expected stopped, got %s", inst.State)
	}
}

func TestUnknownEntityEventDropped(t *testing.T) {
	d, _, _ := builtDispatcher(t)

	// Neither the model nor the compute service knows this uuid: the
	// event is logged and dropped, not surfaced as an error.
	err := d.Dispatch(context.Background(), Event{
		EventType: "instance.power_off.end",
		Payload:   map[string]any{"uuid": "no-such-instance"},
	})
	if err != nil {
		t.Errorf("expected drop without error, got %v", err)
	}
}

func TestUnhandledEventTypeIgnored(t *testing.T) {
	d, _, _ := builtDispatcher(t)
	err := d.Dispatch(context.Background(), Event{EventType: "instance.exists"})
	if err != nil {
		t.Errorf("unhandled event types must be ignored, got %v", err)
	}
}

func TestVolumeAndCapacityEvents(t *testing.T) {
	compute := seedCluster(t)
	cc := NewComputeCollector(compute, nil, testPool(), 1000, nil)
	if _, err := cc.Execute(context.Background(), models.AuditScope{}); err != nil {
		t.Fatalf("compute build: %v", err)
	}

	storage := clients.NewFakeStorageClient()
	storage.AddPool(clients.StoragePool{Name: "stor-1@lvm#pool-a", TotalCapacityGB: 1000, FreeCapacityGB: 800})
	sc := NewStorageCollector(storage, testPool())
	model, err := sc.Execute(context.Background(), models.AuditScope{})
	if err != nil {
		t.Fatalf("storage build: %v", err)
	}
	d := NewDispatcher(cc, sc, compute, storage)

	// A new volume appears via notification.
	storage.AddVolume(clients.BlockVolume{
		UUID: "vol-1", SizeGB: 50, Status: "in-use", Host: "stor-1@lvm#pool-a",
	})
	err = d.Dispatch(context.Background(), Event{
		EventType: "volume.create.end",
		Payload:   map[string]any{"volume_id": "vol-1"},
	})
	if err != nil {
		t.Fatalf("volume.create.end: %v", err)
	}
	pool, err := model.PoolForVolume("vol-1")
	if err != nil {
		t.Fatalf("PoolForVolume: %v", err)
	}
	if pool.Name != "stor-1@lvm#pool-a" {
		t.Errorf("expected pool stor-1@lvm#pool-a, got %s", pool.Name)
	}

	// Capacity update folds into the pool record.
	err = d.Dispatch(context.Background(), Event{
		EventType: "capacity.pool",
		Payload: map[string]any{
			"pool": "stor-1@lvm#pool-a", "free_capacity_gb": float64(750),
		},
	})
	if err != nil {
		t.Fatalf("capacity.pool: %v", err)
	}
	p, err := model.GetPool("stor-1@lvm#pool-a")
	if err != nil {
		t.Fatalf("GetPool: %v", err)
	}
	if p.FreeCapacityGB != 750 {
		t.Errorf("expected free capacity 750, got %d", p.FreeCapacityGB)
	}

	// Delete removes the volume and its mapping, idempotently.
	e := Event{EventType: "volume.delete.end", Payload: map[string]any{"volume_id": "vol-1"}}
	if err := d.Dispatch(context.Background(), e); err != nil {
		t.Fatalf("volume.delete.end: %v", err)
	}
	if err := d.Dispatch(context.Background(), e); err != nil {
		t.Errorf("second delete must be a no-op, got %v", err)
	}
	if _, err := model.GetVolume("vol-1"); !errors.Is(err, models.ErrNotFound) {
		t.Errorf("volume should be gone, got %v", err)
	}
}

// Two events touching different fields of one instance must both land,
// whichever order their handlers interleave in.
func TestConcurrentEventsForOneInstanceKeepBothUpdates(t *testing.T) {
	d, model, _ := builtDispatcher(t)
	ctx := context.Background()

	for round := 0; round < 200; round++ {
		for _, reset := range []string{"instance.unlock", "instance.unpause.end"} {
			if err := d.Dispatch(ctx, Event{
				EventType: reset, Payload: map[string]any{"uuid": "inst-1"},
			}); err != nil {
				t.Fatalf("%s: %v", reset, err)
			}
		}

		start := make(chan struct{})
		errs := make(chan error, 2)
		var wg sync.WaitGroup
		for _, eventType := range []string{"instance.lock", "instance.pause.end"} {
			wg.Add(1)
			go func() {
				defer wg.Done()
				<-start
				errs <- d.Dispatch(ctx, Event{
					EventType: eventType, Payload: map[string]any{"uuid": "inst-1"},
				})
			}()
		}
		close(start)
		wg.Wait()
		close(errs)
		for err := range errs {
			if err != nil {
				t.Fatalf("Dispatch: %v", err)
			}
		}

		inst, err := model.GetInstance("inst-1")
		if err != nil {
			t.Fatalf("GetInstance: %v", err)
		}
		if !inst.Locked || inst.State != models.InstanceStatePaused {
			t.Fatalf("round %d lost an update: locked=%v state=%s",
				round, inst.Locked, inst.State)
		}
	}
}
