// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: BUSL-1.1

package mock

import (
	"fmt"

	"github.com/vmplacement/deployplanner/placement/structs"
)

const (
	// GiB in bytes, for pool and volume sizes.
	GiB = int64(1) << 30

	// Account is the account owning VMs returned by VM.
	Account = "acct-1"
)

func DataCenter(id int64) *structs.DataCenter {
	return &structs.DataCenter{
		ID:              id,
		Name:            fmt.Sprintf("zone%d", id),
		AllocationState: structs.AllocationStateEnabled,
	}
}

func Pod(id int64, dc *structs.DataCenter) *structs.Pod {
	return &structs.Pod{
		ID:              id,
		DataCenterID:    dc.ID,
		Name:            fmt.Sprintf("pod%d", id),
		AllocationState: structs.AllocationStateEnabled,
	}
}

func Cluster(id int64, pod *structs.Pod) *structs.Cluster {
	return &structs.Cluster{
		ID:                    id,
		PodID:                 pod.ID,
		DataCenterID:          pod.DataCenterID,
		Name:                  fmt.Sprintf("cluster%d", id),
		Hypervisor:            structs.HypervisorKVM,
		AllocationState:       structs.AllocationStateEnabled,
		CPUOvercommitRatio:    1,
		MemoryOvercommitRatio: 1,
	}
}

// Host returns an empty, ready KVM host with 16 GHz and 64 GiB.
func Host(id int64, cluster *structs.Cluster) *structs.Host {
	return &structs.Host{
		ID:                id,
		ClusterID:         cluster.ID,
		PodID:             cluster.PodID,
		DataCenterID:      cluster.DataCenterID,
		Name:              fmt.Sprintf("host%d", id),
		Hypervisor:        cluster.Hypervisor,
		HypervisorVersion: "8.2.0",
		AllocationState:   structs.AllocationStateEnabled,
		Status:            structs.HostStatusUp,
		CPUMHz:            16000,
		MemoryMB:          65536,
	}
}

// ClusterPool returns a 1 TiB pool shared by the cluster's hosts.
func ClusterPool(id int64, cluster *structs.Cluster) *structs.StoragePool {
	return &structs.StoragePool{
		ID:            id,
		DataCenterID:  cluster.DataCenterID,
		PodID:         cluster.PodID,
		ClusterID:     cluster.ID,
		Name:          fmt.Sprintf("pool%d", id),
		Scope:         structs.StoragePoolScopeCluster,
		Status:        structs.StoragePoolStatusUp,
		CapacityBytes: 1024 * GiB,
	}
}

// ZonePool returns a 4 TiB pool shared by every host of the data center.
func ZonePool(id int64, dc *structs.DataCenter) *structs.StoragePool {
	return &structs.StoragePool{
		ID:            id,
		DataCenterID:  dc.ID,
		Name:          fmt.Sprintf("zonepool%d", id),
		Scope:         structs.StoragePoolScopeZone,
		Status:        structs.StoragePoolStatusUp,
		CapacityBytes: 4096 * GiB,
	}
}

// HostPool returns a 500 GiB pool local to the host.
func HostPool(id int64, host *structs.Host) *structs.StoragePool {
	return &structs.StoragePool{
		ID:            id,
		DataCenterID:  host.DataCenterID,
		PodID:         host.PodID,
		ClusterID:     host.ClusterID,
		HostID:        host.ID,
		Name:          fmt.Sprintf("local%d", id),
		Scope:         structs.StoragePoolScopeHost,
		Status:        structs.StoragePoolStatusUp,
		CapacityBytes: 500 * GiB,
	}
}

// VM returns a KVM VM of Account with a single 20 GiB root volume that
// still needs a pool. The volume id is 10 times the VM id.
func VM(id int64) *structs.VirtualMachineProfile {
	return &structs.VirtualMachineProfile{
		ID:         id,
		Name:       fmt.Sprintf("vm%d", id),
		AccountID:  Account,
		Hypervisor: structs.HypervisorKVM,
		CPUMHz:     1000,
		MemoryMB:   2048,
		Volumes: []*structs.Volume{
			{
				ID:        id * 10,
				Name:      fmt.Sprintf("ROOT-%d", id),
				Type:      structs.VolumeTypeRoot,
				SizeBytes: 20 * GiB,
			},
		},
	}
}

// PlacedVM returns a VM of the account already running on host.
func PlacedVM(id int64, account string, host *structs.Host) *structs.VirtualMachine {
	return &structs.VirtualMachine{
		ID:           id,
		AccountID:    account,
		DataCenterID: host.DataCenterID,
		PodID:        host.PodID,
		ClusterID:    host.ClusterID,
		HostID:       host.ID,
		Usage:        structs.PlannerResourceUsageShared,
	}
}

// Inventory returns a small data center:
//
//	zone1
//	├── pod1
//	│   ├── cluster1: host11, host12, pool101
//	│   └── cluster2: host21, host22, pool102
//	└── pod2
//	    └── cluster3: host31, host32, pool103
//
// plus the zone wide pool900. Nothing is allocated.
func Inventory() *structs.Inventory {
	dc := DataCenter(1)
	pod1 := Pod(1, dc)
	pod2 := Pod(2, dc)
	inv := &structs.Inventory{
		DataCenters:  []*structs.DataCenter{dc},
		Pods:         []*structs.Pod{pod1, pod2},
		StoragePools: []*structs.StoragePool{ZonePool(900, dc)},
	}
	for _, c := range []*structs.Cluster{Cluster(1, pod1), Cluster(2, pod1), Cluster(3, pod2)} {
		inv.Clusters = append(inv.Clusters, c)
		inv.Hosts = append(inv.Hosts, Host(c.ID*10+1, c), Host(c.ID*10+2, c))
		inv.StoragePools = append(inv.StoragePools, ClusterPool(100+c.ID, c))
	}
	return inv
}
