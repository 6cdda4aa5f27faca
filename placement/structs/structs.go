// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: BUSL-1.1

package structs

import (
	"fmt"
	"slices"

	"github.com/vmplacement/deployplanner/helper/pointer"
)

// AllocationState is the administrative state of a data center, pod,
// cluster or host. Disabled resources never receive new placements.
type AllocationState string

const (
	AllocationStateEnabled  AllocationState = "enabled"
	AllocationStateDisabled AllocationState = "disabled"
)

// Enabled returns true unless the state is explicitly disabled. The empty
// value is treated as enabled.
func (s AllocationState) Enabled() bool {
	return s != AllocationStateDisabled
}

// HypervisorType identifies the virtualization technology of a cluster or
// host, and the one a VM was built for.
type HypervisorType string

const (
	HypervisorAny       HypervisorType = ""
	HypervisorKVM       HypervisorType = "KVM"
	HypervisorXenServer HypervisorType = "XenServer"
	HypervisorVMware    HypervisorType = "VMware"
	HypervisorHyperV    HypervisorType = "Hyperv"
	HypervisorBareMetal HypervisorType = "BareMetal"
)

// Compatible returns whether a VM built for h can run on a resource of
// hypervisor other. HypervisorAny on either side matches everything.
func (h HypervisorType) Compatible(other HypervisorType) bool {
	return h == HypervisorAny || other == HypervisorAny || h == other
}

const (
	HostStatusUp          = "up"
	HostStatusDown        = "down"
	HostStatusMaintenance = "maintenance"
)

const (
	StoragePoolStatusUp          = "up"
	StoragePoolStatusMaintenance = "maintenance"
)

// StoragePoolScope describes from where a storage pool is reachable.
type StoragePoolScope string

const (
	// StoragePoolScopeHost pools are local to a single host.
	StoragePoolScopeHost StoragePoolScope = "host"

	// StoragePoolScopeCluster pools are shared by all hosts of a cluster.
	StoragePoolScopeCluster StoragePoolScope = "cluster"

	// StoragePoolScopeZone pools are shared by every host of a data center.
	StoragePoolScopeZone StoragePoolScope = "zone"
)

// VolumeType is the role of a disk attached to a VM.
type VolumeType string

const (
	VolumeTypeRoot     VolumeType = "ROOT"
	VolumeTypeDataDisk VolumeType = "DATADISK"
)

// DataCenter is the top level placement scope, also called a zone.
type DataCenter struct {
	ID              int64
	Name            string
	AllocationState AllocationState
}

func (d *DataCenter) Copy() *DataCenter {
	if d == nil {
		return nil
	}
	nd := *d
	return &nd
}

// Pod is a rack-level grouping of clusters inside a data center.
type Pod struct {
	ID              int64
	DataCenterID    int64
	Name            string
	AllocationState AllocationState
}

func (p *Pod) Copy() *Pod {
	if p == nil {
		return nil
	}
	np := *p
	return &np
}

// Cluster is a group of homogeneous hosts sharing primary storage.
type Cluster struct {
	ID              int64
	PodID           int64
	DataCenterID    int64
	Name            string
	Hypervisor      HypervisorType
	AllocationState AllocationState

	// CPUOvercommitRatio and MemoryOvercommitRatio scale the raw capacity
	// of the cluster hosts. Values <= 0 are treated as 1.
	CPUOvercommitRatio    float64
	MemoryOvercommitRatio float64

	// CPUDisableThreshold and MemoryDisableThreshold override the global
	// disable thresholds for this cluster when set.
	CPUDisableThreshold    *float64
	MemoryDisableThreshold *float64
}

func (c *Cluster) Copy() *Cluster {
	if c == nil {
		return nil
	}
	nc := *c
	nc.CPUDisableThreshold = pointer.Copy(c.CPUDisableThreshold)
	nc.MemoryDisableThreshold = pointer.Copy(c.MemoryDisableThreshold)
	return &nc
}

// CPUOvercommit returns the effective CPU overcommit ratio.
func (c *Cluster) CPUOvercommit() float64 {
	if c.CPUOvercommitRatio <= 0 {
		return 1
	}
	return c.CPUOvercommitRatio
}

// MemoryOvercommit returns the effective memory overcommit ratio.
func (c *Cluster) MemoryOvercommit() float64 {
	if c.MemoryOvercommitRatio <= 0 {
		return 1
	}
	return c.MemoryOvercommitRatio
}

// Host is a hypervisor host that VMs are placed on.
type Host struct {
	ID           int64
	ClusterID    int64
	PodID        int64
	DataCenterID int64
	Name         string

	Hypervisor        HypervisorType
	HypervisorVersion string

	AllocationState AllocationState
	Status          string

	// Raw capacity and what is already allocated, before overcommit.
	CPUMHz       int64
	MemoryMB     int64
	CPUUsedMHz   int64
	MemoryUsedMB int64

	Tags []string
}

func (h *Host) Copy() *Host {
	if h == nil {
		return nil
	}
	nh := *h
	nh.Tags = slices.Clone(h.Tags)
	return &nh
}

// Ready returns whether the host can accept new placements.
func (h *Host) Ready() bool {
	return h.Status == HostStatusUp && h.AllocationState.Enabled()
}

func (h *Host) String() string {
	return fmt.Sprintf("Host(%d)", h.ID)
}

// StoragePool is primary storage that VM volumes are placed on.
type StoragePool struct {
	ID           int64
	DataCenterID int64
	PodID        int64
	ClusterID    int64
	HostID       int64
	Name         string
	Scope        StoragePoolScope
	Status       string

	CapacityBytes int64
	UsedBytes     int64

	Tags []string
}

func (p *StoragePool) Copy() *StoragePool {
	if p == nil {
		return nil
	}
	np := *p
	np.Tags = slices.Clone(p.Tags)
	return &np
}

// FreeBytes returns the unallocated space of the pool.
func (p *StoragePool) FreeBytes() int64 {
	return p.CapacityBytes - p.UsedBytes
}

// ReachableFrom returns whether the pool can serve volumes of a VM running
// on host.
func (p *StoragePool) ReachableFrom(host *Host) bool {
	if host == nil || p.DataCenterID != host.DataCenterID {
		return false
	}
	switch p.Scope {
	case StoragePoolScopeHost:
		return p.HostID == host.ID
	case StoragePoolScopeCluster:
		return p.ClusterID == host.ClusterID
	case StoragePoolScopeZone:
		return true
	default:
		return false
	}
}

func (p *StoragePool) String() string {
	return fmt.Sprintf("Pool(%d)", p.ID)
}

// Volume is a disk of a VM that may need a storage pool.
type Volume struct {
	ID        int64
	Name      string
	Type      VolumeType
	SizeBytes int64

	// PoolID is set once the volume already lives on a pool, in which case
	// it does not take part in storage selection.
	PoolID int64
}

func (v *Volume) Copy() *Volume {
	if v == nil {
		return nil
	}
	nv := *v
	return &nv
}

// NeedsPool returns whether storage selection must find a pool for v.
func (v *Volume) NeedsPool() bool {
	return v.PoolID == 0
}

func (v *Volume) String() string {
	return fmt.Sprintf("Volume(%d|%s)", v.ID, v.Type)
}

// VirtualMachineProfile is the placement request side of a VM: what it
// needs, who owns it and where it currently runs.
type VirtualMachineProfile struct {
	ID        int64
	Name      string
	AccountID string

	Hypervisor HypervisorType

	// HypervisorVersion is an optional version constraint, e.g. ">= 6.5",
	// the chosen host must satisfy.
	HypervisorVersion string

	CPUMHz   int64
	MemoryMB int64

	Volumes []*Volume

	HostTags    []string
	StorageTags []string

	// ImplicitDedication requests hosts that are not shared with other
	// accounts.
	ImplicitDedication bool

	// CurrentHostID is the host the VM runs on today, zero for new VMs.
	CurrentHostID int64
}

func (vm *VirtualMachineProfile) Copy() *VirtualMachineProfile {
	if vm == nil {
		return nil
	}
	nvm := *vm
	nvm.HostTags = slices.Clone(vm.HostTags)
	nvm.StorageTags = slices.Clone(vm.StorageTags)
	if vm.Volumes != nil {
		nvm.Volumes = make([]*Volume, len(vm.Volumes))
		for i, v := range vm.Volumes {
			nvm.Volumes[i] = v.Copy()
		}
	}
	return &nvm
}

// VolumesNeedingPool returns the volumes that storage selection must place.
func (vm *VirtualMachineProfile) VolumesNeedingPool() []*Volume {
	var out []*Volume
	for _, v := range vm.Volumes {
		if v.NeedsPool() {
			out = append(out, v)
		}
	}
	return out
}

func (vm *VirtualMachineProfile) String() string {
	return fmt.Sprintf("VM(%d|%s)", vm.ID, vm.Name)
}

// VirtualMachine is an already placed VM. Placed VMs feed the user
// dispersion, pod concentration and implicit dedication orderings.
type VirtualMachine struct {
	ID           int64
	AccountID    string
	DataCenterID int64
	PodID        int64
	ClusterID    int64
	HostID       int64

	// Usage is the tenancy the VM was placed under. Dedicated VMs keep
	// other accounts off their host.
	Usage PlannerResourceUsage
}

// Dedicated returns whether the VM holds its host for its account.
func (vm *VirtualMachine) Dedicated() bool {
	return vm.Usage == PlannerResourceUsageDedicated
}

// TenancyConflict returns why a host running vms cannot take the VM under
// the given usage, or "" when it can.
//
//   - bare metal VMs need a host without any VM or allocated capacity
//   - dedicated VMs need a host without VMs of other accounts
//   - shared VMs need a host without dedicated VMs of other accounts
func TenancyConflict(host *Host, vms []*VirtualMachine, vm *VirtualMachineProfile, usage PlannerResourceUsage) string {
	if vm.Hypervisor == HypervisorBareMetal {
		if len(vms) > 0 || host.CPUUsedMHz > 0 || host.MemoryUsedMB > 0 {
			return "host is not empty"
		}
		return ""
	}
	for _, other := range vms {
		switch {
		case other.AccountID == vm.AccountID:
		case usage == PlannerResourceUsageDedicated:
			return fmt.Sprintf("host runs vms of account %q", other.AccountID)
		case other.Dedicated():
			return fmt.Sprintf("host is dedicated to account %q", other.AccountID)
		}
	}
	return ""
}

// Inventory is a complete set of placement resources, as loaded into a
// state store in one go.
type Inventory struct {
	DataCenters     []*DataCenter
	Pods            []*Pod
	Clusters        []*Cluster
	Hosts           []*Host
	StoragePools    []*StoragePool
	VirtualMachines []*VirtualMachine
}

// hashByID restricts hashstructure to the ID field so that a resource
// hashes the same regardless of how its capacity snapshot changed.
func hashByID(field string) (bool, error) {
	return field == "ID", nil
}

func (d DataCenter) HashInclude(field string, _ interface{}) (bool, error) { return hashByID(field) }
func (p Pod) HashInclude(field string, _ interface{}) (bool, error)        { return hashByID(field) }
func (c Cluster) HashInclude(field string, _ interface{}) (bool, error)    { return hashByID(field) }
func (h Host) HashInclude(field string, _ interface{}) (bool, error)       { return hashByID(field) }
