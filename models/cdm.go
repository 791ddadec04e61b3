// ABOUTME: Cluster data model entities for the compute and storage scopes
// ABOUTME: Nodes, instances, storage pools, and volumes with capacity figures

package models

// NodeState is the liveness of a compute node as reported by the service.
type NodeState string

const (
	NodeStateUp   NodeState = "up"
	NodeStateDown NodeState = "down"
)

// NodeStatus is the administrative status of a compute node.
type NodeStatus string

const (
	NodeStatusEnabled  NodeStatus = "enabled"
	NodeStatusDisabled NodeStatus = "disabled"
)

// InstanceState is the runtime state of an instance.
type InstanceState string

const (
	InstanceStateActive    InstanceState = "active"
	InstanceStateStopped   InstanceState = "stopped"
	InstanceStatePaused    InstanceState = "paused"
	InstanceStateSuspended InstanceState = "suspended"
	InstanceStateShelved   InstanceState = "shelved"
	InstanceStateRescued   InstanceState = "rescued"
	InstanceStateError     InstanceState = "error"
	InstanceStateDeleted   InstanceState = "deleted"
	InstanceStateBuilding  InstanceState = "building"
	InstanceStateMigrating InstanceState = "migrating"
)

// ComputeNode is a hypervisor host in the cluster data model.
type ComputeNode struct {
	UUID     string `json:"uuid"`
	Hostname string `json:"hostname"`

	MemoryMB int `json:"memory_mb"`
	VCPUs    int `json:"vcpus"`
	DiskGB   int `json:"disk_gb"`

	MemoryReserved int `json:"memory_reserved"`
	VCPUReserved   int `json:"vcpu_reserved"`
	DiskReserved   int `json:"disk_reserved"`

	MemoryRatio float64 `json:"memory_ratio"`
	VCPURatio   float64 `json:"vcpu_ratio"`
	DiskRatio   float64 `json:"disk_ratio"`

	State          NodeState  `json:"state"`
	Status         NodeStatus `json:"status"`
	DisabledReason string     `json:"disabled_reason,omitempty"`
}

// MemoryCapacityMB returns the schedulable memory after applying the
// allocation ratio and subtracting the reservation.
func (n *ComputeNode) MemoryCapacityMB() int {
	return applyRatio(n.MemoryMB, n.MemoryRatio) - n.MemoryReserved
}

// VCPUCapacity returns the schedulable vCPU count.
func (n *ComputeNode) VCPUCapacity() int {
	return applyRatio(n.VCPUs, n.VCPURatio) - n.VCPUReserved
}

// DiskCapacityGB returns the schedulable disk capacity.
func (n *ComputeNode) DiskCapacityGB() int {
	return applyRatio(n.DiskGB, n.DiskRatio) - n.DiskReserved
}

func applyRatio(total int, ratio float64) int {
	if ratio <= 0 {
		ratio = 1.0
	}
	return int(float64(total) * ratio)
}

// Instance is a virtual machine in the cluster data model.
type Instance struct {
	UUID string `json:"uuid"`
	Name string `json:"name"`

	MemoryMB int `json:"memory_mb"`
	VCPUs    int `json:"vcpus"`
	DiskGB   int `json:"disk_gb"`

	State     InstanceState     `json:"state"`
	Locked    bool              `json:"locked"`
	ProjectID string            `json:"project_id"`
	Metadata  map[string]string `json:"metadata,omitempty"`
}

// StorageNode is a volume backend host (host@backend).
type StorageNode struct {
	Host    string `json:"host"`
	Backend string `json:"backend"`
	State   string `json:"state"`
	Status  string `json:"status"`
}

// ID returns the host@backend identifier.
func (s *StorageNode) ID() string {
	return s.Host + "@" + s.Backend
}

// Pool is a storage pool, child of a StorageNode, identified by
// host@backend#pool.
type Pool struct {
	Name              string `json:"name"`
	TotalCapacityGB   int    `json:"total_capacity_gb"`
	FreeCapacityGB    int    `json:"free_capacity_gb"`
	AllocatedGB       int    `json:"allocated_capacity_gb"`
	ProvisionedGB     int    `json:"provisioned_capacity_gb"`
	TotalVolumesCount int    `json:"total_volumes"`
}

// VolumeAttachment records a volume attached to an instance.
type VolumeAttachment struct {
	ServerID string `json:"server_id"`
	Device   string `json:"device,omitempty"`
}

// Volume is a block volume in the storage scope.
type Volume struct {
	UUID        string             `json:"uuid"`
	Name        string             `json:"name,omitempty"`
	SizeGB      int                `json:"size_gb"`
	Status      string             `json:"status"`
	Bootable    bool               `json:"bootable"`
	SnapshotID  string             `json:"snapshot_id,omitempty"`
	Attachments []VolumeAttachment `json:"attachments,omitempty"`
	ProjectID   string             `json:"project_id"`
	VolumeType  string             `json:"volume_type"`
}
