// ABOUTME: vSphere implementation of the ComputeClient interface via govmomi
// ABOUTME: ESXi hosts are compute nodes, VMs are instances, VMotion backs migrations

package clients

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"strconv"
	"strings"
	"sync"

	"github.com/vmware/govmomi"
	"github.com/vmware/govmomi/find"
	"github.com/vmware/govmomi/object"
	"github.com/vmware/govmomi/vim25/mo"
	"github.com/vmware/govmomi/vim25/types"
)

// VSphereCredentials holds vCenter connection info.
type VSphereCredentials struct {
	Host       string
	Username   string
	Password   string
	Datacenter string
	Insecure   bool
}

// VSphereClient implements ComputeClient against a vCenter. Enable and
// disable of a "service" map to leaving and entering maintenance mode.
type VSphereClient struct {
	creds      VSphereCredentials
	client     *govmomi.Client
	finder     *find.Finder
	datacenter *object.Datacenter

	mu         sync.Mutex
	migrations map[string]*vsphereMigration // instance uuid -> latest migration
	nextMigID  int
}

type vsphereMigration struct {
	id       int
	status   string
	destHost string
	task     *object.Task
}

// NewVSphereClient creates a vSphere compute client. Connect must be
// called before any other method.
func NewVSphereClient(creds VSphereCredentials) *VSphereClient {
	return &VSphereClient{
		creds:      creds,
		migrations: make(map[string]*vsphereMigration),
	}
}

// Connect establishes the vCenter session.
func (v *VSphereClient) Connect(ctx context.Context) error {
	host := v.creds.Host
	if !strings.HasPrefix(host, "https://") && !strings.HasPrefix(host, "http://") {
		host = "https://" + host
	}

	u, err := url.Parse(host + "/sdk")
	if err != nil {
		return fmt.Errorf("invalid vCenter URL '%s': %w", v.creds.Host, err)
	}
	u.User = url.UserPassword(v.creds.Username, v.creds.Password)

	client, err := govmomi.NewClient(ctx, u, v.creds.Insecure)
	if err != nil {
		errStr := err.Error()
		if strings.Contains(errStr, "401") || strings.Contains(errStr, "Cannot complete login") {
			return fmt.Errorf("vCenter authentication failed - verify username and password")
		}
		if strings.Contains(errStr, "certificate") || strings.Contains(errStr, "x509") {
			return fmt.Errorf("SSL certificate error connecting to %s - try setting VSPHERE_INSECURE=true", v.creds.Host)
		}
		return fmt.Errorf("failed to connect to vCenter at %s: %w", v.creds.Host, err)
	}

	v.client = client
	v.finder = find.NewFinder(client.Client, true)

	dc, err := v.finder.Datacenter(ctx, v.creds.Datacenter)
	if err != nil {
		return fmt.Errorf("error accessing datacenter '%s': %w", v.creds.Datacenter, err)
	}
	v.datacenter = dc
	v.finder.SetDatacenter(dc)

	slog.Info("vSphere connected", "host", v.creds.Host, "datacenter", v.creds.Datacenter)
	return nil
}

// Disconnect closes the vCenter session.
func (v *VSphereClient) Disconnect(ctx context.Context) error {
	if v.client != nil {
		return v.client.Logout(ctx)
	}
	return nil
}

func (v *VSphereClient) ListComputeNodes(ctx context.Context) ([]Hypervisor, error) {
	hosts, err := v.finder.HostSystemList(ctx, "*")
	if err != nil {
		return nil, fmt.Errorf("listing ESXi hosts: %w", err)
	}

	result := make([]Hypervisor, 0, len(hosts))
	for _, host := range hosts {
		h, err := v.hypervisorInfo(ctx, host)
		if err != nil {
			return nil, fmt.Errorf("getting host %s info: %w", host.Name(), err)
		}
		result = append(result, h)
	}
	return result, nil
}

func (v *VSphereClient) GetComputeNodeByHostname(ctx context.Context, hostname string) (Hypervisor, error) {
	host, err := v.finder.HostSystem(ctx, hostname)
	if err != nil {
		if _, ok := err.(*find.NotFoundError); ok {
			return Hypervisor{}, fmt.Errorf("ESXi host %s not found", hostname)
		}
		return Hypervisor{}, fmt.Errorf("finding ESXi host %s: %w", hostname, err)
	}
	return v.hypervisorInfo(ctx, host)
}

func (v *VSphereClient) GetComputeNodeByUUID(ctx context.Context, uuid string) (Hypervisor, error) {
	nodes, err := v.ListComputeNodes(ctx)
	if err != nil {
		return Hypervisor{}, err
	}
	for _, n := range nodes {
		if n.UUID == uuid {
			return n, nil
		}
	}
	return Hypervisor{}, fmt.Errorf("ESXi host with uuid %s not found", uuid)
}

func (v *VSphereClient) hypervisorInfo(ctx context.Context, host *object.HostSystem) (Hypervisor, error) {
	var hostMo mo.HostSystem
	err := host.Properties(ctx, host.Reference(), []string{"summary", "runtime", "hardware"}, &hostMo)
	if err != nil {
		return Hypervisor{}, fmt.Errorf("getting host properties: %w", err)
	}

	h := Hypervisor{
		UUID:           host.Reference().Value,
		Hostname:       host.Name(),
		HypervisorType: "vmware",
		MemoryMB:       int(hostMo.Summary.Hardware.MemorySize / (1024 * 1024)),
		VCPUs:          int(hostMo.Summary.Hardware.NumCpuThreads),
	}
	if hostMo.Hardware != nil && hostMo.Hardware.SystemInfo.Uuid != "" {
		h.UUID = hostMo.Hardware.SystemInfo.Uuid
	}

	if hostMo.Runtime.PowerState == types.HostSystemPowerStatePoweredOn {
		h.State = "up"
	} else {
		h.State = "down"
	}
	if hostMo.Runtime.InMaintenanceMode {
		h.Status = "disabled"
		h.DisabledReason = "maintenance mode"
	} else {
		h.Status = "enabled"
	}
	return h, nil
}

// ListAggregates maps vSphere clusters to host aggregates.
func (v *VSphereClient) ListAggregates(ctx context.Context) ([]Aggregate, error) {
	clusters, err := v.finder.ClusterComputeResourceList(ctx, "*")
	if err != nil {
		return nil, fmt.Errorf("listing clusters: %w", err)
	}

	result := make([]Aggregate, 0, len(clusters))
	for _, cluster := range clusters {
		var clusterMo mo.ClusterComputeResource
		if err := cluster.Properties(ctx, cluster.Reference(), []string{"host"}, &clusterMo); err != nil {
			return nil, fmt.Errorf("getting cluster %s properties: %w", cluster.Name(), err)
		}
		agg := Aggregate{Name: cluster.Name()}
		for _, ref := range clusterMo.Host {
			agg.Hosts = append(agg.Hosts, object.NewHostSystem(v.client.Client, ref).Name())
		}
		result = append(result, agg)
	}
	return result, nil
}

// ListAvailabilityZones reports the datacenter as one zone holding every
// host; vSphere has no zone concept of its own.
func (v *VSphereClient) ListAvailabilityZones(ctx context.Context) ([]AvailabilityZone, error) {
	hosts, err := v.finder.HostSystemList(ctx, "*")
	if err != nil {
		return nil, fmt.Errorf("listing ESXi hosts: %w", err)
	}
	zone := AvailabilityZone{Name: v.creds.Datacenter}
	for _, h := range hosts {
		zone.Hosts = append(zone.Hosts, h.Name())
	}
	return []AvailabilityZone{zone}, nil
}

func (v *VSphereClient) ListInstances(ctx context.Context, opts ListInstancesOpts) ([]Server, error) {
	vms, err := v.finder.VirtualMachineList(ctx, "*")
	if err != nil {
		if _, ok := err.(*find.NotFoundError); ok {
			return nil, nil
		}
		return nil, fmt.Errorf("listing VMs: %w", err)
	}

	var result []Server
	for _, vm := range vms {
		if opts.Limit > 0 && len(result) >= opts.Limit {
			break
		}
		s, err := v.serverInfo(ctx, vm)
		if err != nil {
			continue // skip VMs we cannot read
		}
		if opts.Host != "" && s.Host != opts.Host {
			continue
		}
		result = append(result, s)
	}
	return result, nil
}

func (v *VSphereClient) GetInstance(ctx context.Context, uuid string) (Server, error) {
	vm, err := v.findVM(ctx, uuid)
	if err != nil {
		return Server{}, err
	}
	return v.serverInfo(ctx, vm)
}

func (v *VSphereClient) serverInfo(ctx context.Context, vm *object.VirtualMachine) (Server, error) {
	var vmMo mo.VirtualMachine
	err := vm.Properties(ctx, vm.Reference(), []string{"config", "runtime", "summary"}, &vmMo)
	if err != nil {
		return Server{}, err
	}

	s := Server{
		UUID: vm.Reference().Value,
		Name: vm.Name(),
	}
	if vmMo.Config != nil {
		s.UUID = vmMo.Config.Uuid
		s.MemoryMB = int(vmMo.Config.Hardware.MemoryMB)
		s.VCPUs = int(vmMo.Config.Hardware.NumCPU)
	}
	switch vmMo.Runtime.PowerState {
	case types.VirtualMachinePowerStatePoweredOn:
		s.State = "active"
	case types.VirtualMachinePowerStatePoweredOff:
		s.State = "stopped"
	case types.VirtualMachinePowerStateSuspended:
		s.State = "suspended"
	}
	if vmMo.Runtime.Host != nil {
		s.Host = object.NewHostSystem(v.client.Client, *vmMo.Runtime.Host).Name()
	}
	return s, nil
}

func (v *VSphereClient) findVM(ctx context.Context, uuid string) (*object.VirtualMachine, error) {
	vms, err := v.finder.VirtualMachineList(ctx, "*")
	if err != nil {
		return nil, fmt.Errorf("listing VMs: %w", err)
	}
	for _, vm := range vms {
		var vmMo mo.VirtualMachine
		if err := vm.Properties(ctx, vm.Reference(), []string{"config"}, &vmMo); err != nil {
			continue
		}
		if vmMo.Config != nil && vmMo.Config.Uuid == uuid {
			return vm, nil
		}
		if vm.Reference().Value == uuid {
			return vm, nil
		}
	}
	return nil, fmt.Errorf("VM with uuid %s not found", uuid)
}

// LiveMigrate relocates a running VM to the destination host (VMotion).
// The relocation runs as a vCenter task tracked through ListMigrations.
func (v *VSphereClient) LiveMigrate(ctx context.Context, instanceID, destHost string, _ bool) error {
	return v.relocate(ctx, instanceID, destHost)
}

// ColdMigrate relocates a powered-off VM; vCenter accepts the same
// relocation call regardless of power state.
func (v *VSphereClient) ColdMigrate(ctx context.Context, instanceID, destHost string) error {
	return v.relocate(ctx, instanceID, destHost)
}

func (v *VSphereClient) relocate(ctx context.Context, instanceID, destHost string) error {
	vm, err := v.findVM(ctx, instanceID)
	if err != nil {
		return err
	}
	host, err := v.finder.HostSystem(ctx, destHost)
	if err != nil {
		return fmt.Errorf("finding destination host %s: %w", destHost, err)
	}

	ref := host.Reference()
	spec := types.VirtualMachineRelocateSpec{Host: &ref}
	task, err := vm.Relocate(ctx, spec, types.VirtualMachineMovePriorityDefaultPriority)
	if err != nil {
		return fmt.Errorf("starting relocation of %s: %w", instanceID, err)
	}

	v.mu.Lock()
	v.nextMigID++
	mig := &vsphereMigration{id: v.nextMigID, status: "running", destHost: destHost, task: task}
	v.migrations[instanceID] = mig
	v.mu.Unlock()

	go func() {
		err := task.Wait(context.Background())
		v.mu.Lock()
		defer v.mu.Unlock()
		if err != nil {
			mig.status = "error"
			slog.Warn("VM relocation failed", "instance", instanceID, "dest", destHost, "error", err)
			return
		}
		mig.status = "completed"
	}()
	return nil
}

// AbortLiveMigration cancels the in-flight relocation task.
func (v *VSphereClient) AbortLiveMigration(ctx context.Context, instanceID string) error {
	v.mu.Lock()
	mig := v.migrations[instanceID]
	v.mu.Unlock()

	if mig == nil || mig.status != "running" {
		return fmt.Errorf("no running migration for instance %s", instanceID)
	}
	if err := mig.task.Cancel(ctx); err != nil {
		return fmt.Errorf("cancelling relocation of %s: %w", instanceID, err)
	}
	v.mu.Lock()
	mig.status = "cancelled"
	v.mu.Unlock()
	return nil
}

func (v *VSphereClient) ListMigrations(_ context.Context, instanceID string) ([]Migration, error) {
	v.mu.Lock()
	defer v.mu.Unlock()

	mig, ok := v.migrations[instanceID]
	if !ok {
		return nil, nil
	}
	return []Migration{{
		ID:         mig.id,
		InstanceID: instanceID,
		Status:     mig.status,
		DestHost:   mig.destHost,
	}}, nil
}

// Resize reconfigures the VM's CPU and memory. The flavor is encoded as
// "<vcpus>:<memory_mb>" since vSphere has no flavor catalog.
func (v *VSphereClient) Resize(ctx context.Context, instanceID, flavor string) error {
	parts := strings.SplitN(flavor, ":", 2)
	if len(parts) != 2 {
		return fmt.Errorf("flavor %q: expected \"<vcpus>:<memory_mb>\"", flavor)
	}
	vcpus, err := strconv.Atoi(parts[0])
	if err != nil {
		return fmt.Errorf("flavor %q: bad vcpu count: %w", flavor, err)
	}
	memoryMB, err := strconv.Atoi(parts[1])
	if err != nil {
		return fmt.Errorf("flavor %q: bad memory size: %w", flavor, err)
	}

	vm, err := v.findVM(ctx, instanceID)
	if err != nil {
		return err
	}
	task, err := vm.Reconfigure(ctx, types.VirtualMachineConfigSpec{
		NumCPUs:  int32(vcpus),
		MemoryMB: int64(memoryMB),
	})
	if err != nil {
		return fmt.Errorf("reconfiguring %s: %w", instanceID, err)
	}
	return task.Wait(ctx)
}

// ConfirmResize is a no-op: vSphere reconfiguration has no confirm step.
func (v *VSphereClient) ConfirmResize(_ context.Context, _ string) error {
	return nil
}

// EnableService takes the host out of maintenance mode.
func (v *VSphereClient) EnableService(ctx context.Context, hostname string) error {
	host, err := v.finder.HostSystem(ctx, hostname)
	if err != nil {
		return fmt.Errorf("finding ESXi host %s: %w", hostname, err)
	}
	task, err := host.ExitMaintenanceMode(ctx, 0)
	if err != nil {
		return fmt.Errorf("exiting maintenance mode on %s: %w", hostname, err)
	}
	return task.Wait(ctx)
}

// DisableService puts the host into maintenance mode. vSphere has no
// per-host reason field, so the reason is only logged.
func (v *VSphereClient) DisableService(ctx context.Context, hostname, reason string) error {
	host, err := v.finder.HostSystem(ctx, hostname)
	if err != nil {
		return fmt.Errorf("finding ESXi host %s: %w", hostname, err)
	}
	slog.Info("Entering maintenance mode", "host", hostname, "reason", reason)
	task, err := host.EnterMaintenanceMode(ctx, 0, false, nil)
	if err != nil {
		return fmt.Errorf("entering maintenance mode on %s: %w", hostname, err)
	}
	return task.Wait(ctx)
}

func (v *VSphereClient) StopInstance(ctx context.Context, instanceID string) error {
	vm, err := v.findVM(ctx, instanceID)
	if err != nil {
		return err
	}
	task, err := vm.PowerOff(ctx)
	if err != nil {
		return fmt.Errorf("powering off %s: %w", instanceID, err)
	}
	return task.Wait(ctx)
}

func (v *VSphereClient) StartInstance(ctx context.Context, instanceID string) error {
	vm, err := v.findVM(ctx, instanceID)
	if err != nil {
		return err
	}
	task, err := vm.PowerOn(ctx)
	if err != nil {
		return fmt.Errorf("powering on %s: %w", instanceID, err)
	}
	return task.Wait(ctx)
}

// IsConnected returns true if the client has an active session.
func (v *VSphereClient) IsConnected() bool {
	return v.client != nil && v.client.Valid()
}
