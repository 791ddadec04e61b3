// ABOUTME: Narrow interfaces for the external compute, placement, and identity services
// ABOUTME: The core consumes these; concrete clients exist per target cloud

package clients

import "context"

// Hypervisor is a compute node as reported by the compute service.
type Hypervisor struct {
	UUID           string
	Hostname       string
	HypervisorType string // "ironic" nodes are excluded from the model
	State          string // up / down
	Status         string // enabled / disabled
	DisabledReason string
	MemoryMB       int
	VCPUs          int
	DiskGB         int
}

// Server is an instance as reported by the compute service.
type Server struct {
	UUID      string
	Name      string
	Host      string
	State     string
	Locked    bool
	ProjectID string
	MemoryMB  int
	VCPUs     int
	DiskGB    int
	Metadata  map[string]string
}

// Aggregate is a named host grouping.
type Aggregate struct {
	Name  string
	Hosts []string
}

// AvailabilityZone is a zone with its member hosts.
type AvailabilityZone struct {
	Name  string
	Hosts []string
}

// Migration is an in-flight or finished migration record.
type Migration struct {
	ID         int
	InstanceID string
	Status     string // running, completed, error, cancelled
	DestHost   string
}

// ListInstancesOpts filters an instance listing. Limit caps the page size;
// -1 means no limit.
type ListInstancesOpts struct {
	Host  string
	Limit int
}

// ComputeClient is the surface the core needs from a compute service.
type ComputeClient interface {
	ListComputeNodes(ctx context.Context) ([]Hypervisor, error)
	GetComputeNodeByHostname(ctx context.Context, hostname string) (Hypervisor, error)
	GetComputeNodeByUUID(ctx context.Context, uuid string) (Hypervisor, error)
	ListAggregates(ctx context.Context) ([]Aggregate, error)
	ListAvailabilityZones(ctx context.Context) ([]AvailabilityZone, error)
	ListInstances(ctx context.Context, opts ListInstancesOpts) ([]Server, error)
	GetInstance(ctx context.Context, uuid string) (Server, error)

	LiveMigrate(ctx context.Context, instanceID, destHost string, blockMigration bool) error
	ColdMigrate(ctx context.Context, instanceID, destHost string) error
	AbortLiveMigration(ctx context.Context, instanceID string) error
	ListMigrations(ctx context.Context, instanceID string) ([]Migration, error)

	Resize(ctx context.Context, instanceID, flavor string) error
	ConfirmResize(ctx context.Context, instanceID string) error

	EnableService(ctx context.Context, hostname string) error
	DisableService(ctx context.Context, hostname, reason string) error

	StopInstance(ctx context.Context, instanceID string) error
	StartInstance(ctx context.Context, instanceID string) error
}

// Inventory is a placement inventory record for one resource class.
type Inventory struct {
	Total           int
	Reserved        int
	AllocationRatio float64
}

// Placement resource classes.
const (
	ResourceClassVCPU     = "VCPU"
	ResourceClassMemoryMB = "MEMORY_MB"
	ResourceClassDiskGB   = "DISK_GB"
)

// PlacementClient serves resource inventories per compute node.
type PlacementClient interface {
	GetInventories(ctx context.Context, nodeUUID string) (map[string]Inventory, error)
}
