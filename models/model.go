// ABOUTME: In-memory cluster data model roots for the compute and storage scopes
// ABOUTME: Arena of entities keyed by uuid plus separate mapping tables, guarded by a RWMutex

package models

import (
	"sort"
	"sync"
)

// ComputeModel is the live cluster data model for the compute scope. All
// graph traversal goes through uuid lookups; the instance-to-node relation
// is kept in separate mapping tables rather than on the entities, so the
// model has no cyclic references.
//
// Mutations take the write lock, so notification-driven updates are
// serialized. Readers (strategies, applier pre/post conditions) either see
// the model before or after a mutation, never a partial one.
type ComputeModel struct {
	mu sync.RWMutex

	nodes          map[string]*ComputeNode // node uuid -> node
	nodesByHost    map[string]string       // hostname -> node uuid
	instances      map[string]*Instance    // instance uuid -> instance
	instanceToNode map[string]string       // instance uuid -> node uuid
	nodeInstances  map[string]map[string]bool
}

// NewComputeModel returns an empty compute model.
func NewComputeModel() *ComputeModel {
	return &ComputeModel{
		nodes:          make(map[string]*ComputeNode),
		nodesByHost:    make(map[string]string),
		instances:      make(map[string]*Instance),
		instanceToNode: make(map[string]string),
		nodeInstances:  make(map[string]map[string]bool),
	}
}

// AddNode inserts or replaces a compute node.
func (m *ComputeModel) AddNode(n *ComputeNode) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if prev, ok := m.nodes[n.UUID]; ok && prev.Hostname != n.Hostname {
		delete(m.nodesByHost, prev.Hostname)
	}
	m.nodes[n.UUID] = n
	m.nodesByHost[n.Hostname] = n.UUID
	if m.nodeInstances[n.UUID] == nil {
		m.nodeInstances[n.UUID] = make(map[string]bool)
	}
}

// RemoveNode deletes a node and unmaps any instances still placed on it.
// The instances themselves stay in the model as unmapped.
func (m *ComputeModel) RemoveNode(uuid string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	n, ok := m.nodes[uuid]
	if !ok {
		return NotFound("compute node", uuid)
	}
	for inst := range m.nodeInstances[uuid] {
		delete(m.instanceToNode, inst)
	}
	delete(m.nodeInstances, uuid)
	delete(m.nodesByHost, n.Hostname)
	delete(m.nodes, uuid)
	return nil
}

// GetNode returns the node with the given uuid.
func (m *ComputeModel) GetNode(uuid string) (*ComputeNode, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	n, ok := m.nodes[uuid]
	if !ok {
		return nil, NotFound("compute node", uuid)
	}
	return n, nil
}

// GetNodeByHostname returns the node with the given hostname.
func (m *ComputeModel) GetNodeByHostname(hostname string) (*ComputeNode, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	uuid, ok := m.nodesByHost[hostname]
	if !ok {
		return nil, NotFound("compute node", hostname)
	}
	return m.nodes[uuid], nil
}

// UpdateNode applies fn to a copy of the node and publishes the copy,
// all under the write lock. Concurrent field updates for the same node
// are serialized, so neither overwrites the other's change.
func (m *ComputeModel) UpdateNode(uuid string, fn func(*ComputeNode)) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	n, ok := m.nodes[uuid]
	if !ok {
		return NotFound("compute node", uuid)
	}
	updated := *n
	fn(&updated)
	if updated.Hostname != n.Hostname {
		delete(m.nodesByHost, n.Hostname)
		m.nodesByHost[updated.Hostname] = uuid
	}
	m.nodes[uuid] = &updated
	return nil
}

// Nodes returns all nodes sorted by hostname for deterministic iteration.
func (m *ComputeModel) Nodes() []*ComputeNode {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]*ComputeNode, 0, len(m.nodes))
	for _, n := range m.nodes {
		out = append(out, n)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Hostname < out[j].Hostname })
	return out
}

// AddInstance inserts or replaces an instance without touching its mapping.
func (m *ComputeModel) AddInstance(i *Instance) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.instances[i.UUID] = i
}

// RemoveInstance deletes an instance and its node mapping.
func (m *ComputeModel) RemoveInstance(uuid string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.instances[uuid]; !ok {
		return NotFound("instance", uuid)
	}
	if node, ok := m.instanceToNode[uuid]; ok {
		delete(m.nodeInstances[node], uuid)
		delete(m.instanceToNode, uuid)
	}
	delete(m.instances, uuid)
	return nil
}

// GetInstance returns the instance with the given uuid.
func (m *ComputeModel) GetInstance(uuid string) (*Instance, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	i, ok := m.instances[uuid]
	if !ok {
		return nil, NotFound("instance", uuid)
	}
	return i, nil
}

// UpdateInstance applies fn to a copy of the instance and publishes the
// copy, all under the write lock. One in-flight update per instance at a
// time: notification handlers folding different fields of the same
// instance never lose each other's writes.
func (m *ComputeModel) UpdateInstance(uuid string, fn func(*Instance)) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	i, ok := m.instances[uuid]
	if !ok {
		return NotFound("instance", uuid)
	}
	updated := *i
	fn(&updated)
	m.instances[uuid] = &updated
	return nil
}

// Instances returns all instances sorted by uuid.
func (m *ComputeModel) Instances() []*Instance {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]*Instance, 0, len(m.instances))
	for _, i := range m.instances {
		out = append(out, i)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UUID < out[j].UUID })
	return out
}

// MapInstance places an instance on a node, replacing any previous mapping.
// The mapping relation is a partial function: an instance is on at most one
// node at any time.
func (m *ComputeModel) MapInstance(instanceUUID, nodeUUID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.instances[instanceUUID]; !ok {
		return NotFound("instance", instanceUUID)
	}
	if _, ok := m.nodes[nodeUUID]; !ok {
		return NotFound("compute node", nodeUUID)
	}
	if prev, ok := m.instanceToNode[instanceUUID]; ok {
		delete(m.nodeInstances[prev], instanceUUID)
	}
	m.instanceToNode[instanceUUID] = nodeUUID
	m.nodeInstances[nodeUUID][instanceUUID] = true
	return nil
}

// UnmapInstance removes the instance's node mapping, if any.
func (m *ComputeModel) UnmapInstance(instanceUUID string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if node, ok := m.instanceToNode[instanceUUID]; ok {
		delete(m.nodeInstances[node], instanceUUID)
		delete(m.instanceToNode, instanceUUID)
	}
}

// NodeForInstance returns the node hosting the instance, or ErrNotFound if
// the instance is unmapped.
func (m *ComputeModel) NodeForInstance(instanceUUID string) (*ComputeNode, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	node, ok := m.instanceToNode[instanceUUID]
	if !ok {
		return nil, NotFound("mapping for instance", instanceUUID)
	}
	return m.nodes[node], nil
}

// InstancesOnNode returns the instances mapped to a node, sorted by uuid.
func (m *ComputeModel) InstancesOnNode(nodeUUID string) []*Instance {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]*Instance, 0, len(m.nodeInstances[nodeUUID]))
	for uuid := range m.nodeInstances[nodeUUID] {
		out = append(out, m.instances[uuid])
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UUID < out[j].UUID })
	return out
}

// Equal reports structural equality with another model: same nodes, same
// instances, same mappings. Used to verify rebuild idempotence.
func (m *ComputeModel) Equal(other *ComputeModel) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	other.mu.RLock()
	defer other.mu.RUnlock()

	if len(m.nodes) != len(other.nodes) ||
		len(m.instances) != len(other.instances) ||
		len(m.instanceToNode) != len(other.instanceToNode) {
		return false
	}
	for uuid, n := range m.nodes {
		o, ok := other.nodes[uuid]
		if !ok || *n != *o {
			return false
		}
	}
	for uuid, i := range m.instances {
		o, ok := other.instances[uuid]
		if !ok || !instanceEqual(i, o) {
			return false
		}
	}
	for inst, node := range m.instanceToNode {
		if other.instanceToNode[inst] != node {
			return false
		}
	}
	return true
}

func instanceEqual(a, b *Instance) bool {
	if a.UUID != b.UUID || a.Name != b.Name || a.MemoryMB != b.MemoryMB ||
		a.VCPUs != b.VCPUs || a.DiskGB != b.DiskGB || a.State != b.State ||
		a.Locked != b.Locked || a.ProjectID != b.ProjectID {
		return false
	}
	if len(a.Metadata) != len(b.Metadata) {
		return false
	}
	for k, v := range a.Metadata {
		if b.Metadata[k] != v {
			return false
		}
	}
	return true
}

// ComputeSnapshot is the serializable form of the compute model.
type ComputeSnapshot struct {
	Nodes     []*ComputeNode    `json:"nodes"`
	Instances []*Instance       `json:"instances"`
	Mappings  map[string]string `json:"mappings"` // instance uuid -> node uuid
}

// Snapshot returns a deep-enough copy for serialization over the API.
func (m *ComputeModel) Snapshot() ComputeSnapshot {
	m.mu.RLock()
	defer m.mu.RUnlock()

	snap := ComputeSnapshot{
		Mappings: make(map[string]string, len(m.instanceToNode)),
	}
	for _, n := range m.nodes {
		c := *n
		snap.Nodes = append(snap.Nodes, &c)
	}
	for _, i := range m.instances {
		c := *i
		snap.Instances = append(snap.Instances, &c)
	}
	for inst, node := range m.instanceToNode {
		snap.Mappings[inst] = node
	}
	sort.Slice(snap.Nodes, func(i, j int) bool { return snap.Nodes[i].Hostname < snap.Nodes[j].Hostname })
	sort.Slice(snap.Instances, func(i, j int) bool { return snap.Instances[i].UUID < snap.Instances[j].UUID })
	return snap
}

// StorageModel is the live cluster data model for the storage scope.
type StorageModel struct {
	mu sync.RWMutex

	nodes       map[string]*StorageNode // host@backend -> node
	pools       map[string]*Pool        // host@backend#pool -> pool
	volumes     map[string]*Volume      // volume uuid -> volume
	volumeToPool map[string]string      // volume uuid -> pool name
	poolVolumes map[string]map[string]bool
}

// NewStorageModel returns an empty storage model.
func NewStorageModel() *StorageModel {
	return &StorageModel{
		nodes:        make(map[string]*StorageNode),
		pools:        make(map[string]*Pool),
		volumes:      make(map[string]*Volume),
		volumeToPool: make(map[string]string),
		poolVolumes:  make(map[string]map[string]bool),
	}
}

// AddStorageNode inserts or replaces a storage node.
func (m *StorageModel) AddStorageNode(n *StorageNode) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nodes[n.ID()] = n
}

// GetStorageNode returns a storage node by its host@backend id.
func (m *StorageModel) GetStorageNode(id string) (*StorageNode, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	n, ok := m.nodes[id]
	if !ok {
		return nil, NotFound("storage node", id)
	}
	return n, nil
}

// AddPool inserts or replaces a pool.
func (m *StorageModel) AddPool(p *Pool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.pools[p.Name] = p
	if m.poolVolumes[p.Name] == nil {
		m.poolVolumes[p.Name] = make(map[string]bool)
	}
}

// GetPool returns a pool by its host@backend#pool name.
func (m *StorageModel) GetPool(name string) (*Pool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	p, ok := m.pools[name]
	if !ok {
		return nil, NotFound("pool", name)
	}
	return p, nil
}

// UpdatePool applies fn to a copy of the pool and publishes the copy
// under the write lock, serializing capacity updates per pool.
func (m *StorageModel) UpdatePool(name string, fn func(*Pool)) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	p, ok := m.pools[name]
	if !ok {
		return NotFound("pool", name)
	}
	updated := *p
	fn(&updated)
	m.pools[name] = &updated
	return nil
}

// Pools returns all pools sorted by name.
func (m *StorageModel) Pools() []*Pool {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]*Pool, 0, len(m.pools))
	for _, p := range m.pools {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// AddVolume inserts or replaces a volume without touching its mapping.
func (m *StorageModel) AddVolume(v *Volume) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.volumes[v.UUID] = v
}

// RemoveVolume deletes a volume and its pool mapping.
func (m *StorageModel) RemoveVolume(uuid string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.volumes[uuid]; !ok {
		return NotFound("volume", uuid)
	}
	if pool, ok := m.volumeToPool[uuid]; ok {
		delete(m.poolVolumes[pool], uuid)
		delete(m.volumeToPool, uuid)
	}
	delete(m.volumes, uuid)
	return nil
}

// GetVolume returns a volume by uuid.
func (m *StorageModel) GetVolume(uuid string) (*Volume, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	v, ok := m.volumes[uuid]
	if !ok {
		return nil, NotFound("volume", uuid)
	}
	return v, nil
}

// MapVolume places a volume in a pool, replacing any previous mapping.
// Like the compute mapping, this relation is a partial function.
func (m *StorageModel) MapVolume(volumeUUID, poolName string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.volumes[volumeUUID]; !ok {
		return NotFound("volume", volumeUUID)
	}
	if _, ok := m.pools[poolName]; !ok {
		return NotFound("pool", poolName)
	}
	if prev, ok := m.volumeToPool[volumeUUID]; ok {
		delete(m.poolVolumes[prev], volumeUUID)
	}
	m.volumeToPool[volumeUUID] = poolName
	m.poolVolumes[poolName][volumeUUID] = true
	return nil
}

// PoolForVolume returns the pool holding the volume.
func (m *StorageModel) PoolForVolume(volumeUUID string) (*Pool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	name, ok := m.volumeToPool[volumeUUID]
	if !ok {
		return nil, NotFound("mapping for volume", volumeUUID)
	}
	return m.pools[name], nil
}

// VolumesInPool returns the volumes mapped to a pool, sorted by uuid.
func (m *StorageModel) VolumesInPool(poolName string) []*Volume {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]*Volume, 0, len(m.poolVolumes[poolName]))
	for uuid := range m.poolVolumes[poolName] {
		out = append(out, m.volumes[uuid])
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UUID < out[j].UUID })
	return out
}

// StorageSnapshot is the serializable form of the storage model.
type StorageSnapshot struct {
	Nodes    []*StorageNode    `json:"nodes"`
	Pools    []*Pool           `json:"pools"`
	Volumes  []*Volume         `json:"volumes"`
	Mappings map[string]string `json:"mappings"` // volume uuid -> pool name
}

// Snapshot returns a copy for serialization over the API.
func (m *StorageModel) Snapshot() StorageSnapshot {
	m.mu.RLock()
	defer m.mu.RUnlock()

	snap := StorageSnapshot{
		Mappings: make(map[string]string, len(m.volumeToPool)),
	}
	for _, n := range m.nodes {
		c := *n
		snap.Nodes = append(snap.Nodes, &c)
	}
	for _, p := range m.pools {
		c := *p
		snap.Pools = append(snap.Pools, &c)
	}
	for _, v := range m.volumes {
		c := *v
		snap.Volumes = append(snap.Volumes, &c)
	}
	for vol, pool := range m.volumeToPool {
		snap.Mappings[vol] = pool
	}
	sort.Slice(snap.Nodes, func(i, j int) bool { return snap.Nodes[i].ID() < snap.Nodes[j].ID() })
	sort.Slice(snap.Pools, func(i, j int) bool { return snap.Pools[i].Name < snap.Pools[j].Name })
	sort.Slice(snap.Volumes, func(i, j int) bool { return snap.Volumes[i].UUID < snap.Volumes[j].UUID })
	return snap
}
