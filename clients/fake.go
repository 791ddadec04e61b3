// ABOUTME: In-memory fake compute, placement, and storage clients
// ABOUTME: Back the test suites and local development without a real cloud

package clients

import (
	"context"
	"fmt"
	"sync"

	"github.com/openstack/watcher-sub000/models"
)

// FakeComputeClient is an in-memory ComputeClient. Migrations move the
// server immediately when AutoComplete is true; otherwise they stay
// "running" until CompleteMigration or AbortLiveMigration is called,
// which lets tests exercise polling and cancellation.
type FakeComputeClient struct {
	mu sync.Mutex

	nodes      map[string]*Hypervisor // hostname -> node
	servers    map[string]*Server     // uuid -> server
	aggregates []Aggregate
	zones      []AvailabilityZone

	migrations map[string][]Migration
	nextMigID  int

	// AutoComplete makes migrations finish synchronously.
	AutoComplete bool

	// failures maps method name -> remaining transient failures to inject.
	failures map[string]int

	// Aborted records instance uuids whose live migration was aborted.
	Aborted []string
}

// NewFakeComputeClient returns an empty fake with AutoComplete enabled.
func NewFakeComputeClient() *FakeComputeClient {
	return &FakeComputeClient{
		nodes:        make(map[string]*Hypervisor),
		servers:      make(map[string]*Server),
		migrations:   make(map[string][]Migration),
		AutoComplete: true,
		failures:     make(map[string]int),
	}
}

// AddNode registers a hypervisor.
func (f *FakeComputeClient) AddNode(h Hypervisor) {
	f.mu.Lock()
	defer f.mu.Unlock()
	copied := h
	f.nodes[h.Hostname] = &copied
}

// AddServer registers a server.
func (f *FakeComputeClient) AddServer(s Server) {
	f.mu.Lock()
	defer f.mu.Unlock()
	copied := s
	f.servers[s.UUID] = &copied
}

// SetAggregates configures the aggregate listing.
func (f *FakeComputeClient) SetAggregates(aggs []Aggregate) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.aggregates = aggs
}

// SetZones configures the availability-zone listing.
func (f *FakeComputeClient) SetZones(zones []AvailabilityZone) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.zones = zones
}

// FailNext makes the named method return a transient error for the next n
// calls.
func (f *FakeComputeClient) FailNext(method string, n int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failures[method] = n
}

func (f *FakeComputeClient) maybeFail(method string) error {
	if f.failures[method] > 0 {
		f.failures[method]--
		return models.Transient(fmt.Errorf("injected %s failure", method))
	}
	return nil
}

func (f *FakeComputeClient) ListComputeNodes(_ context.Context) ([]Hypervisor, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.maybeFail("ListComputeNodes"); err != nil {
		return nil, err
	}
	out := make([]Hypervisor, 0, len(f.nodes))
	for _, n := range f.nodes {
		out = append(out, *n)
	}
	return out, nil
}

func (f *FakeComputeClient) GetComputeNodeByHostname(_ context.Context, hostname string) (Hypervisor, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.maybeFail("GetComputeNodeByHostname"); err != nil {
		return Hypervisor{}, err
	}
	n, ok := f.nodes[hostname]
	if !ok {
		return Hypervisor{}, models.NotFound("compute node", hostname)
	}
	return *n, nil
}

func (f *FakeComputeClient) GetComputeNodeByUUID(_ context.Context, uuid string) (Hypervisor, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, n := range f.nodes {
		if n.UUID == uuid {
			return *n, nil
		}
	}
	return Hypervisor{}, models.NotFound("compute node", uuid)
}

func (f *FakeComputeClient) ListAggregates(_ context.Context) ([]Aggregate, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]Aggregate(nil), f.aggregates...), nil
}

func (f *FakeComputeClient) ListAvailabilityZones(_ context.Context) ([]AvailabilityZone, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]AvailabilityZone(nil), f.zones...), nil
}

func (f *FakeComputeClient) ListInstances(_ context.Context, opts ListInstancesOpts) ([]Server, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.maybeFail("ListInstances"); err != nil {
		return nil, err
	}
	var out []Server
	for _, s := range f.servers {
		if opts.Host != "" && s.Host != opts.Host {
			continue
		}
		if opts.Limit > 0 && len(out) >= opts.Limit {
			break
		}
		out = append(out, *s)
	}
	return out, nil
}

func (f *FakeComputeClient) GetInstance(_ context.Context, uuid string) (Server, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	s, ok := f.servers[uuid]
	if !ok {
		return Server{}, models.NotFound("instance", uuid)
	}
	return *s, nil
}

func (f *FakeComputeClient) LiveMigrate(_ context.Context, instanceID, destHost string, _ bool) error {
	return f.migrate("LiveMigrate", instanceID, destHost)
}

func (f *FakeComputeClient) ColdMigrate(_ context.Context, instanceID, destHost string) error {
	return f.migrate("ColdMigrate", instanceID, destHost)
}

func (f *FakeComputeClient) migrate(method, instanceID, destHost string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.maybeFail(method); err != nil {
		return err
	}
	s, ok := f.servers[instanceID]
	if !ok {
		return models.NotFound("instance", instanceID)
	}
	if _, ok := f.nodes[destHost]; !ok {
		return models.NotFound("compute node", destHost)
	}

	f.nextMigID++
	mig := Migration{ID: f.nextMigID, InstanceID: instanceID, Status: "running", DestHost: destHost}
	if f.AutoComplete {
		s.Host = destHost
		mig.Status = "completed"
	}
	f.migrations[instanceID] = append(f.migrations[instanceID], mig)
	return nil
}

// CompleteMigration finishes a pending migration, moving the server.
func (f *FakeComputeClient) CompleteMigration(instanceID string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	migs := f.migrations[instanceID]
	for i := range migs {
		if migs[i].Status == "running" {
			migs[i].Status = "completed"
			if s, ok := f.servers[instanceID]; ok {
				s.Host = migs[i].DestHost
			}
		}
	}
}

func (f *FakeComputeClient) AbortLiveMigration(_ context.Context, instanceID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	migs := f.migrations[instanceID]
	aborted := false
	for i := range migs {
		if migs[i].Status == "running" {
			migs[i].Status = "cancelled"
			aborted = true
		}
	}
	if !aborted {
		return models.NotFound("running migration for instance", instanceID)
	}
	f.Aborted = append(f.Aborted, instanceID)
	return nil
}

func (f *FakeComputeClient) ListMigrations(_ context.Context, instanceID string) ([]Migration, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]Migration(nil), f.migrations[instanceID]...), nil
}

func (f *FakeComputeClient) Resize(_ context.Context, instanceID, flavor string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.maybeFail("Resize"); err != nil {
		return err
	}
	s, ok := f.servers[instanceID]
	if !ok {
		return models.NotFound("instance", instanceID)
	}
	if s.Metadata == nil {
		s.Metadata = make(map[string]string)
	}
	s.Metadata["flavor"] = flavor
	s.Metadata["resize_pending"] = "true"
	return nil
}

func (f *FakeComputeClient) ConfirmResize(_ context.Context, instanceID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	s, ok := f.servers[instanceID]
	if !ok {
		return models.NotFound("instance", instanceID)
	}
	delete(s.Metadata, "resize_pending")
	return nil
}

func (f *FakeComputeClient) EnableService(_ context.Context, hostname string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	n, ok := f.nodes[hostname]
	if !ok {
		return models.NotFound("compute node", hostname)
	}
	n.Status = "enabled"
	n.DisabledReason = ""
	return nil
}

func (f *FakeComputeClient) DisableService(_ context.Context, hostname, reason string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.maybeFail("DisableService"); err != nil {
		return err
	}
	n, ok := f.nodes[hostname]
	if !ok {
		return models.NotFound("compute node", hostname)
	}
	n.Status = "disabled"
	n.DisabledReason = reason
	return nil
}

func (f *FakeComputeClient) StopInstance(_ context.Context, instanceID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	s, ok := f.servers[instanceID]
	if !ok {
		return models.NotFound("instance", instanceID)
	}
	s.State = "stopped"
	return nil
}

func (f *FakeComputeClient) StartInstance(_ context.Context, instanceID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	s, ok := f.servers[instanceID]
	if !ok {
		return models.NotFound("instance", instanceID)
	}
	s.State = "active"
	return nil
}

// FakePlacementClient serves inventories from a static map.
type FakePlacementClient struct {
	mu          sync.Mutex
	Inventories map[string]map[string]Inventory // node uuid -> class -> inventory
}

func NewFakePlacementClient() *FakePlacementClient {
	return &FakePlacementClient{Inventories: make(map[string]map[string]Inventory)}
}

// SetInventory registers the inventories for a node uuid.
func (f *FakePlacementClient) SetInventory(nodeUUID string, inv map[string]Inventory) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Inventories[nodeUUID] = inv
}

func (f *FakePlacementClient) GetInventories(_ context.Context, nodeUUID string) (map[string]Inventory, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	inv, ok := f.Inventories[nodeUUID]
	if !ok {
		return nil, models.NotFound("placement inventory", nodeUUID)
	}
	return inv, nil
}

// FakeStorageClient is an in-memory StorageClient.
type FakeStorageClient struct {
	mu      sync.Mutex
	pools   map[string]*StoragePool
	volumes map[string]*BlockVolume
}

func NewFakeStorageClient() *FakeStorageClient {
	return &FakeStorageClient{
		pools:   make(map[string]*StoragePool),
		volumes: make(map[string]*BlockVolume),
	}
}

func (f *FakeStorageClient) AddPool(p StoragePool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	copied := p
	f.pools[p.Name] = &copied
}

func (f *FakeStorageClient) AddVolume(v BlockVolume) {
	f.mu.Lock()
	defer f.mu.Unlock()
	copied := v
	f.volumes[v.UUID] = &copied
}

func (f *FakeStorageClient) ListPools(_ context.Context) ([]StoragePool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]StoragePool, 0, len(f.pools))
	for _, p := range f.pools {
		out = append(out, *p)
	}
	return out, nil
}

func (f *FakeStorageClient) GetPool(_ context.Context, name string) (StoragePool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	p, ok := f.pools[name]
	if !ok {
		return StoragePool{}, models.NotFound("pool", name)
	}
	return *p, nil
}

func (f *FakeStorageClient) ListVolumes(_ context.Context) ([]BlockVolume, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]BlockVolume, 0, len(f.volumes))
	for _, v := range f.volumes {
		out = append(out, *v)
	}
	return out, nil
}

func (f *FakeStorageClient) GetVolume(_ context.Context, uuid string) (BlockVolume, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	v, ok := f.volumes[uuid]
	if !ok {
		return BlockVolume{}, models.NotFound("volume", uuid)
	}
	return *v, nil
}

func (f *FakeStorageClient) MigrateVolume(_ context.Context, volumeID, destPool string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	v, ok := f.volumes[volumeID]
	if !ok {
		return models.NotFound("volume", volumeID)
	}
	if _, ok := f.pools[destPool]; !ok {
		return models.NotFound("pool", destPool)
	}
	v.Host = destPool
	v.MigrationStatus = "success"
	return nil
}

func (f *FakeStorageClient) RetypeVolume(_ context.Context, volumeID, newType string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	v, ok := f.volumes[volumeID]
	if !ok {
		return models.NotFound("volume", volumeID)
	}
	v.VolumeType = newType
	v.MigrationStatus = "success"
	return nil
}
