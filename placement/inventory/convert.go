// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: BUSL-1.1

package inventory

import (
	"fmt"
	"strings"

	"github.com/hashicorp/go-multierror"
	"github.com/hashicorp/go-set/v3"
	"github.com/vmplacement/deployplanner/helper/uuid"
	"github.com/vmplacement/deployplanner/placement/structs"
)

// ReservationCaller is recorded as the caller of every reservation context
// built from a request file.
const ReservationCaller = "deployplanner"

var hypervisors = map[string]structs.HypervisorType{
	"kvm":       structs.HypervisorKVM,
	"xenserver": structs.HypervisorXenServer,
	"vmware":    structs.HypervisorVMware,
	"hyperv":    structs.HypervisorHyperV,
	"baremetal": structs.HypervisorBareMetal,
}

func parseHypervisor(s string) (structs.HypervisorType, bool) {
	h, ok := hypervisors[strings.ToLower(s)]
	return h, ok
}

func parseAdjustment(s string) (structs.HostPriorityAdjustment, bool) {
	for _, adj := range []structs.HostPriorityAdjustment{
		structs.HostPriorityDefault,
		structs.HostPriorityHigher,
		structs.HostPriorityLower,
		structs.HostPriorityProhibit,
	} {
		if strings.EqualFold(s, adj.String()) {
			return adj, true
		}
	}
	return 0, false
}

func allocationState(disabled bool) structs.AllocationState {
	if disabled {
		return structs.AllocationStateDisabled
	}
	return structs.AllocationStateEnabled
}

// idSet tracks the ids seen for one kind of resource.
type idSet struct {
	kind string
	seen *set.Set[int64]
}

func newIDSet(kind string) *idSet {
	return &idSet{kind: kind, seen: set.New[int64](0)}
}

func (s *idSet) add(mErr *multierror.Error, id int64) {
	if id <= 0 {
		mErr.Errors = append(mErr.Errors, fmt.Errorf("%s id must be positive, got %d", s.kind, id))
		return
	}
	if !s.seen.Insert(id) {
		mErr.Errors = append(mErr.Errors, fmt.Errorf("duplicate %s id %d", s.kind, id))
	}
}

// inventoryBuilder accumulates resources and validation errors while
// walking the datacenter blocks.
type inventoryBuilder struct {
	inv  *structs.Inventory
	mErr multierror.Error

	dcIDs, podIDs, clusterIDs, hostIDs, poolIDs *idSet
	hosts                                       map[int64]*structs.Host
}

// Inventory converts the datacenter and placed_vm blocks into an
// Inventory, returning every validation problem found.
func (f *File) Inventory() (*structs.Inventory, error) {
	b := &inventoryBuilder{
		inv:        &structs.Inventory{},
		dcIDs:      newIDSet("datacenter"),
		podIDs:     newIDSet("pod"),
		clusterIDs: newIDSet("cluster"),
		hostIDs:    newIDSet("host"),
		poolIDs:    newIDSet("storage pool"),
		hosts:      make(map[int64]*structs.Host),
	}

	for _, dcb := range f.DataCenters {
		b.addDataCenter(dcb)
	}

	vmIDs := newIDSet("placed vm")
	for _, vb := range f.PlacedVMs {
		vmIDs.add(&b.mErr, vb.ID)
		host, ok := b.hosts[vb.Host]
		if !ok {
			b.errorf("placed vm %d: unknown host %d", vb.ID, vb.Host)
			continue
		}
		if vb.Account == "" {
			b.errorf("placed vm %d: missing account", vb.ID)
		}
		usage := structs.PlannerResourceUsageShared
		if vb.Dedicated {
			usage = structs.PlannerResourceUsageDedicated
		}
		b.inv.VirtualMachines = append(b.inv.VirtualMachines, &structs.VirtualMachine{
			ID:           vb.ID,
			AccountID:    vb.Account,
			DataCenterID: host.DataCenterID,
			PodID:        host.PodID,
			ClusterID:    host.ClusterID,
			HostID:       host.ID,
			Usage:        usage,
		})
	}

	if err := b.mErr.ErrorOrNil(); err != nil {
		return nil, err
	}
	return b.inv, nil
}

func (b *inventoryBuilder) errorf(format string, args ...any) {
	b.mErr.Errors = append(b.mErr.Errors, fmt.Errorf(format, args...))
}

func (b *inventoryBuilder) addDataCenter(dcb *DataCenterBlock) {
	b.dcIDs.add(&b.mErr, dcb.ID)
	dc := &structs.DataCenter{
		ID:              dcb.ID,
		Name:            dcb.Name,
		AllocationState: allocationState(dcb.Disabled),
	}
	b.inv.DataCenters = append(b.inv.DataCenters, dc)

	for _, pb := range dcb.StoragePools {
		b.addPool(pb, &structs.StoragePool{
			DataCenterID: dc.ID,
			Scope:        structs.StoragePoolScopeZone,
		})
	}

	for _, podb := range dcb.Pods {
		b.podIDs.add(&b.mErr, podb.ID)
		pod := &structs.Pod{
			ID:              podb.ID,
			DataCenterID:    dc.ID,
			Name:            podb.Name,
			AllocationState: allocationState(podb.Disabled),
		}
		b.inv.Pods = append(b.inv.Pods, pod)

		for _, cb := range podb.Clusters {
			b.addCluster(cb, pod)
		}
	}
}

func (b *inventoryBuilder) addCluster(cb *ClusterBlock, pod *structs.Pod) {
	b.clusterIDs.add(&b.mErr, cb.ID)
	hv, ok := parseHypervisor(cb.Hypervisor)
	if !ok {
		b.errorf("cluster %d: unknown hypervisor %q", cb.ID, cb.Hypervisor)
	}
	for _, th := range []struct {
		name string
		v    *float64
	}{
		{"cpu_disable_threshold", cb.CPUDisableThreshold},
		{"memory_disable_threshold", cb.MemoryDisableThreshold},
	} {
		if th.v != nil && (*th.v < 0 || *th.v > 1) {
			b.errorf("cluster %d: %s must be between 0 and 1, got %v", cb.ID, th.name, *th.v)
		}
	}
	if cb.CPUOvercommitRatio < 0 || cb.MemoryOvercommitRatio < 0 {
		b.errorf("cluster %d: overcommit ratios must not be negative", cb.ID)
	}

	cluster := &structs.Cluster{
		ID:                     cb.ID,
		PodID:                  pod.ID,
		DataCenterID:           pod.DataCenterID,
		Name:                   cb.Name,
		Hypervisor:             hv,
		AllocationState:        allocationState(cb.Disabled),
		CPUOvercommitRatio:     cb.CPUOvercommitRatio,
		MemoryOvercommitRatio:  cb.MemoryOvercommitRatio,
		CPUDisableThreshold:    cb.CPUDisableThreshold,
		MemoryDisableThreshold: cb.MemoryDisableThreshold,
	}
	b.inv.Clusters = append(b.inv.Clusters, cluster)

	for _, pb := range cb.StoragePools {
		b.addPool(pb, &structs.StoragePool{
			DataCenterID: cluster.DataCenterID,
			PodID:        cluster.PodID,
			ClusterID:    cluster.ID,
			Scope:        structs.StoragePoolScopeCluster,
		})
	}
	for _, hb := range cb.Hosts {
		b.addHost(hb, cluster)
	}
}

func (b *inventoryBuilder) addHost(hb *HostBlock, cluster *structs.Cluster) {
	b.hostIDs.add(&b.mErr, hb.ID)

	status := hb.Status
	switch status {
	case "":
		status = structs.HostStatusUp
	case structs.HostStatusUp, structs.HostStatusDown, structs.HostStatusMaintenance:
	default:
		b.errorf("host %d: unknown status %q", hb.ID, hb.Status)
	}
	if hb.CPUMHz <= 0 || hb.Memory <= 0 {
		b.errorf("host %d: cpu_mhz and memory must be positive", hb.ID)
	}
	if hb.CPUUsedMHz < 0 || hb.MemoryUsed < 0 {
		b.errorf("host %d: used capacity must not be negative", hb.ID)
	}

	host := &structs.Host{
		ID:                hb.ID,
		ClusterID:         cluster.ID,
		PodID:             cluster.PodID,
		DataCenterID:      cluster.DataCenterID,
		Name:              hb.Name,
		Hypervisor:        cluster.Hypervisor,
		HypervisorVersion: hb.HypervisorVersion,
		AllocationState:   allocationState(hb.Disabled),
		Status:            status,
		CPUMHz:            hb.CPUMHz,
		MemoryMB:          hb.Memory.MB(),
		CPUUsedMHz:        hb.CPUUsedMHz,
		MemoryUsedMB:      hb.MemoryUsed.MB(),
		Tags:              hb.Tags,
	}
	b.inv.Hosts = append(b.inv.Hosts, host)
	b.hosts[host.ID] = host

	for _, pb := range hb.StoragePools {
		b.addPool(pb, &structs.StoragePool{
			DataCenterID: host.DataCenterID,
			PodID:        host.PodID,
			ClusterID:    host.ClusterID,
			HostID:       host.ID,
			Scope:        structs.StoragePoolScopeHost,
		})
	}
}

// addPool completes pool, which carries the scope and location of the
// enclosing block, from pb.
func (b *inventoryBuilder) addPool(pb *StoragePoolBlock, pool *structs.StoragePool) {
	b.poolIDs.add(&b.mErr, pb.ID)

	status := pb.Status
	switch status {
	case "":
		status = structs.StoragePoolStatusUp
	case structs.StoragePoolStatusUp, structs.StoragePoolStatusMaintenance:
	default:
		b.errorf("storage pool %d: unknown status %q", pb.ID, pb.Status)
	}
	if pb.Used < 0 || pb.Used > pb.Capacity {
		b.errorf("storage pool %d: used %d exceeds capacity %d", pb.ID, pb.Used, pb.Capacity)
	}

	pool.ID = pb.ID
	pool.Name = pb.Name
	pool.Status = status
	pool.CapacityBytes = int64(pb.Capacity)
	pool.UsedBytes = int64(pb.Used)
	pool.Tags = pb.Tags
	b.inv.StoragePools = append(b.inv.StoragePools, pool)
}

// Request is one VM to place together with the plan describing where.
type Request struct {
	VM   *structs.VirtualMachineProfile
	Plan *structs.DataCenterDeployment
}

// Requests converts the vm blocks into placement requests. Every request
// gets a fresh reservation context and, when the file lists resources to
// avoid, its own exclude list.
func (f *File) Requests() ([]*Request, error) {
	var mErr multierror.Error
	errorf := func(format string, args ...any) {
		mErr.Errors = append(mErr.Errors, fmt.Errorf(format, args...))
	}

	vmIDs, volumeIDs := newIDSet("vm"), newIDSet("volume")
	requests := make([]*Request, 0, len(f.VMs))
	for _, vb := range f.VMs {
		vmIDs.add(&mErr, vb.ID)

		vm := &structs.VirtualMachineProfile{
			ID:                 vb.ID,
			Name:               vb.Name,
			AccountID:          vb.Account,
			HypervisorVersion:  vb.HypervisorVersion,
			CPUMHz:             vb.CPUMHz,
			MemoryMB:           vb.Memory.MB(),
			HostTags:           vb.HostTags,
			StorageTags:        vb.StorageTags,
			ImplicitDedication: vb.ImplicitDedication,
			CurrentHostID:      vb.CurrentHost,
		}
		if vb.Hypervisor != "" {
			hv, ok := parseHypervisor(vb.Hypervisor)
			if !ok {
				errorf("vm %q: unknown hypervisor %q", vb.Name, vb.Hypervisor)
			}
			vm.Hypervisor = hv
		}
		if vb.Account == "" {
			errorf("vm %q: missing account", vb.Name)
		}
		if vb.CPUMHz <= 0 || vb.Memory <= 0 {
			errorf("vm %q: cpu_mhz and memory must be positive", vb.Name)
		}

		for _, volb := range vb.Volumes {
			volumeIDs.add(&mErr, volb.ID)
			vt := structs.VolumeTypeDataDisk
			switch strings.ToUpper(volb.Type) {
			case "", string(structs.VolumeTypeDataDisk):
			case string(structs.VolumeTypeRoot):
				vt = structs.VolumeTypeRoot
			default:
				errorf("vm %q: volume %d has unknown type %q", vb.Name, volb.ID, volb.Type)
			}
			if volb.Size <= 0 {
				errorf("vm %q: volume %d size must be positive", vb.Name, volb.ID)
			}
			vm.Volumes = append(vm.Volumes, &structs.Volume{
				ID:        volb.ID,
				Name:      volb.Name,
				Type:      vt,
				SizeBytes: int64(volb.Size),
				PoolID:    volb.Pool,
			})
		}

		if vb.Deployment == nil {
			errorf("vm %q: missing deployment block", vb.Name)
			continue
		}
		plan, err := vb.Deployment.plan(vm)
		if err != nil {
			errorf("vm %q: %v", vb.Name, err)
			continue
		}
		requests = append(requests, &Request{VM: vm, Plan: plan})
	}

	if err := mErr.ErrorOrNil(); err != nil {
		return nil, err
	}
	return requests, nil
}

func (d *DeploymentBlock) plan(vm *structs.VirtualMachineProfile) (*structs.DataCenterDeployment, error) {
	if d.DataCenter <= 0 {
		return nil, fmt.Errorf("deployment datacenter must be positive, got %d", d.DataCenter)
	}

	opts := []structs.PlanOption{
		structs.WithReservation(&structs.ReservationContext{
			ID:        uuid.Generate(),
			AccountID: vm.AccountID,
			Caller:    ReservationCaller,
		}),
	}
	pins := []struct {
		v   *int64
		opt func(int64) structs.PlanOption
	}{
		{d.Pod, structs.WithPod},
		{d.Cluster, structs.WithCluster},
		{d.Host, structs.WithHost},
		{d.Pool, structs.WithPool},
		{d.PhysicalNetwork, structs.WithPhysicalNetwork},
	}
	for _, pin := range pins {
		if pin.v != nil {
			opts = append(opts, pin.opt(*pin.v))
		}
	}
	if d.Migration {
		opts = append(opts, structs.WithMigration())
	}

	plan := structs.NewDeployment(d.DataCenter, opts...)
	if len(d.PreferredHosts) > 0 {
		plan.SetPreferredHosts(d.PreferredHosts)
	}
	for _, hp := range d.HostPriorities {
		adj, ok := parseAdjustment(hp.Adjust)
		if !ok {
			return nil, fmt.Errorf("host %d: unknown priority adjustment %q", hp.Host, hp.Adjust)
		}
		plan.AdjustHostPriority(hp.Host, adj)
	}

	if a := d.Avoid; a != nil {
		avoid := structs.NewExcludeList()
		for _, id := range a.DataCenters {
			avoid.AddDataCenter(id)
		}
		avoid.AddPodList(a.Pods)
		avoid.AddClusterList(a.Clusters)
		avoid.AddHostList(a.Hosts)
		for _, id := range a.Pools {
			avoid.AddPool(id)
		}
		plan.SetAvoids(avoid)
	}
	return plan, nil
}
