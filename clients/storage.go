// ABOUTME: Narrow interface for the external block-storage service
// ABOUTME: Pools, volumes, and the two volume change operations

package clients

import "context"

// StoragePool is a pool as reported by the storage scheduler, identified
// by host@backend#pool.
type StoragePool struct {
	Name              string
	TotalCapacityGB   int
	FreeCapacityGB    int
	AllocatedGB       int
	ProvisionedGB     int
	TotalVolumesCount int
}

// BlockVolume is a volume as reported by the storage service.
type BlockVolume struct {
	UUID        string
	Name        string
	SizeGB      int
	Status      string
	Bootable    bool
	SnapshotID  string
	ProjectID   string
	VolumeType  string
	Host        string // host@backend#pool placement
	MigrationStatus string
	AttachedTo  []string // server uuids
}

// StorageClient is the surface the core needs from a block-storage service.
type StorageClient interface {
	ListPools(ctx context.Context) ([]StoragePool, error)
	GetPool(ctx context.Context, name string) (StoragePool, error)
	ListVolumes(ctx context.Context) ([]BlockVolume, error)
	GetVolume(ctx context.Context, uuid string) (BlockVolume, error)

	MigrateVolume(ctx context.Context, volumeID, destPool string) error
	RetypeVolume(ctx context.Context, volumeID, newType string) error
}
