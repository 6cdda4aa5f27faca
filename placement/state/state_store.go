// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: BUSL-1.1

package state

import (
	"cmp"
	"fmt"
	"slices"

	"github.com/hashicorp/go-hclog"
	"github.com/hashicorp/go-memdb"
	"github.com/vmplacement/deployplanner/placement/structs"
)

// StateStore holds the inventory the planners read: data centers, pods,
// clusters, hosts, storage pools and placed VMs. Reads are lock free MVCC
// snapshots; writes are serialized by go-memdb, which is what makes
// ReserveCapacity an atomic conditional commit.
type StateStore struct {
	logger hclog.Logger
	db     *memdb.MemDB
}

// NewStateStore is used to create a new state store
func NewStateStore(logger hclog.Logger) (*StateStore, error) {
	db, err := memdb.NewMemDB(stateStoreSchema())
	if err != nil {
		return nil, fmt.Errorf("state store setup failed: %v", err)
	}
	if logger == nil {
		logger = hclog.NewNullLogger()
	}
	return &StateStore{
		logger: logger.Named("state_store"),
		db:     db,
	}, nil
}

// Snapshot returns a read-only point in time view of the store. Planners
// rank against a snapshot so that one ranking pass sees a consistent set
// of capacity counters.
func (s *StateStore) Snapshot() *StateSnapshot {
	return &StateSnapshot{
		StateStore: StateStore{
			logger: s.logger,
			db:     s.db.Snapshot(),
		},
	}
}

// StateSnapshot is a StateStore that should only be read from.
type StateSnapshot struct {
	StateStore
}

func (s *StateStore) upsert(table string, obj any) error {
	txn := s.db.Txn(true)
	defer txn.Abort()
	if err := txn.Insert(table, obj); err != nil {
		return fmt.Errorf("%s insert failed: %v", table, err)
	}
	txn.Commit()
	return nil
}

// UpsertDataCenter inserts or replaces a data center.
func (s *StateStore) UpsertDataCenter(dc *structs.DataCenter) error {
	return s.upsert(TableDataCenters, dc.Copy())
}

// UpsertPod inserts or replaces a pod.
func (s *StateStore) UpsertPod(pod *structs.Pod) error {
	return s.upsert(TablePods, pod.Copy())
}

// UpsertCluster inserts or replaces a cluster.
func (s *StateStore) UpsertCluster(cluster *structs.Cluster) error {
	return s.upsert(TableClusters, cluster.Copy())
}

// UpsertHost inserts or replaces a host.
func (s *StateStore) UpsertHost(host *structs.Host) error {
	return s.upsert(TableHosts, host.Copy())
}

// UpsertStoragePool inserts or replaces a storage pool.
func (s *StateStore) UpsertStoragePool(pool *structs.StoragePool) error {
	return s.upsert(TableStoragePools, pool.Copy())
}

// UpsertVirtualMachine records a placed VM.
func (s *StateStore) UpsertVirtualMachine(vm *structs.VirtualMachine) error {
	cp := *vm
	return s.upsert(TableVirtualMachines, &cp)
}

// UpsertInventory loads a complete inventory in a single transaction so
// that readers never observe a host without its cluster.
func (s *StateStore) UpsertInventory(inv *structs.Inventory) error {
	txn := s.db.Txn(true)
	defer txn.Abort()

	insert := func(table string, obj any) error {
		if err := txn.Insert(table, obj); err != nil {
			return fmt.Errorf("%s insert failed: %v", table, err)
		}
		return nil
	}
	for _, dc := range inv.DataCenters {
		if err := insert(TableDataCenters, dc.Copy()); err != nil {
			return err
		}
	}
	for _, pod := range inv.Pods {
		if err := insert(TablePods, pod.Copy()); err != nil {
			return err
		}
	}
	for _, cluster := range inv.Clusters {
		if err := insert(TableClusters, cluster.Copy()); err != nil {
			return err
		}
	}
	for _, host := range inv.Hosts {
		if err := insert(TableHosts, host.Copy()); err != nil {
			return err
		}
	}
	for _, pool := range inv.StoragePools {
		if err := insert(TableStoragePools, pool.Copy()); err != nil {
			return err
		}
	}
	for _, vm := range inv.VirtualMachines {
		cp := *vm
		if err := insert(TableVirtualMachines, &cp); err != nil {
			return err
		}
	}
	txn.Commit()

	s.logger.Debug("inventory loaded",
		"datacenters", len(inv.DataCenters), "pods", len(inv.Pods),
		"clusters", len(inv.Clusters), "hosts", len(inv.Hosts),
		"storage_pools", len(inv.StoragePools), "vms", len(inv.VirtualMachines))
	return nil
}

func first[T any](s *StateStore, table string, id int64) (*T, error) {
	txn := s.db.Txn(false)
	defer txn.Abort()

	raw, err := txn.First(table, indexID, id)
	if err != nil {
		return nil, fmt.Errorf("%s lookup failed: %v", table, err)
	}
	if raw == nil {
		return nil, nil
	}
	return raw.(*T), nil
}

func list[T any](s *StateStore, table, index string, args ...any) ([]*T, error) {
	txn := s.db.Txn(false)
	defer txn.Abort()

	iter, err := txn.Get(table, index, args...)
	if err != nil {
		return nil, fmt.Errorf("%s lookup failed: %v", table, err)
	}
	var out []*T
	for raw := iter.Next(); raw != nil; raw = iter.Next() {
		out = append(out, raw.(*T))
	}
	return out, nil
}

// DataCenterByID returns the data center or nil if it does not exist.
func (s *StateStore) DataCenterByID(id int64) (*structs.DataCenter, error) {
	return first[structs.DataCenter](s, TableDataCenters, id)
}

// PodByID returns the pod or nil if it does not exist.
func (s *StateStore) PodByID(id int64) (*structs.Pod, error) {
	return first[structs.Pod](s, TablePods, id)
}

// ClusterByID returns the cluster or nil if it does not exist.
func (s *StateStore) ClusterByID(id int64) (*structs.Cluster, error) {
	return first[structs.Cluster](s, TableClusters, id)
}

// HostByID returns the host or nil if it does not exist.
func (s *StateStore) HostByID(id int64) (*structs.Host, error) {
	return first[structs.Host](s, TableHosts, id)
}

// StoragePoolByID returns the storage pool or nil if it does not exist.
func (s *StateStore) StoragePoolByID(id int64) (*structs.StoragePool, error) {
	return first[structs.StoragePool](s, TableStoragePools, id)
}

// DataCenters returns every data center, ordered by id.
func (s *StateStore) DataCenters() ([]*structs.DataCenter, error) {
	return list[structs.DataCenter](s, TableDataCenters, indexID)
}

// PodsByDataCenter returns the pods of a data center ordered by id.
func (s *StateStore) PodsByDataCenter(dcID int64) ([]*structs.Pod, error) {
	return list[structs.Pod](s, TablePods, indexDataCenter, dcID)
}

// ClustersByDataCenter returns the clusters of a data center ordered by id.
func (s *StateStore) ClustersByDataCenter(dcID int64) ([]*structs.Cluster, error) {
	return list[structs.Cluster](s, TableClusters, indexDataCenter, dcID)
}

// ClustersByPod returns the clusters of a pod ordered by id.
func (s *StateStore) ClustersByPod(podID int64) ([]*structs.Cluster, error) {
	return list[structs.Cluster](s, TableClusters, indexPod, podID)
}

// HostsByCluster returns the hosts of a cluster ordered by id.
func (s *StateStore) HostsByCluster(clusterID int64) ([]*structs.Host, error) {
	return list[structs.Host](s, TableHosts, indexCluster, clusterID)
}

// StoragePoolsByDataCenter returns every pool of the data center, whatever
// its scope, ordered by id.
func (s *StateStore) StoragePoolsByDataCenter(dcID int64) ([]*structs.StoragePool, error) {
	return list[structs.StoragePool](s, TableStoragePools, indexDataCenter, dcID)
}

// VirtualMachinesByAccount returns the placed VMs owned by the account.
func (s *StateStore) VirtualMachinesByAccount(accountID string) ([]*structs.VirtualMachine, error) {
	vms, err := list[structs.VirtualMachine](s, TableVirtualMachines, indexAccount, accountID)
	if err != nil {
		return nil, err
	}
	slices.SortFunc(vms, func(a, b *structs.VirtualMachine) int { return cmp.Compare(a.ID, b.ID) })
	return vms, nil
}

// VirtualMachinesByHost returns the VMs placed on the host.
func (s *StateStore) VirtualMachinesByHost(hostID int64) ([]*structs.VirtualMachine, error) {
	return list[structs.VirtualMachine](s, TableVirtualMachines, indexHost, hostID)
}

// ClusterCapacity computes the cluster's aggregate capacity from its hosts.
// It is computed on every call and never cached.
func (s *StateStore) ClusterCapacity(clusterID int64) (*structs.ClusterCapacity, error) {
	cluster, err := s.ClusterByID(clusterID)
	if err != nil {
		return nil, err
	}
	if cluster == nil {
		return nil, fmt.Errorf("cluster %d not found", clusterID)
	}
	hosts, err := s.HostsByCluster(clusterID)
	if err != nil {
		return nil, err
	}
	return structs.NewClusterCapacity(cluster, hosts), nil
}

// ReserveCapacity atomically commits the VM's CPU, memory and volume sizes
// against the destination's host and pools and records the VM as placed
// under the given usage. The host, its VMs and the pools are re-read
// inside the write transaction; if any of them no longer has room, or is
// no longer usable for the VM's tenancy, nothing is written and a
// CapacityError scoped to the offending resource is returned.
func (s *StateStore) ReserveCapacity(vm *structs.VirtualMachineProfile, dest *structs.DeployDestination,
	usage structs.PlannerResourceUsage) error {
	txn := s.db.Txn(true)
	defer txn.Abort()

	raw, err := txn.First(TableClusters, indexID, dest.Cluster.ID)
	if err != nil {
		return fmt.Errorf("cluster lookup failed: %v", err)
	}
	if raw == nil {
		return structs.NewResourceUnavailableError(structs.ScopeCluster, dest.Cluster.ID, "cluster not found")
	}
	cluster := raw.(*structs.Cluster)

	raw, err = txn.First(TableHosts, indexID, dest.Host.ID)
	if err != nil {
		return fmt.Errorf("host lookup failed: %v", err)
	}
	if raw == nil {
		return structs.NewResourceUnavailableError(structs.ScopeHost, dest.Host.ID, "host not found")
	}
	host := raw.(*structs.Host)
	if !host.Ready() {
		return structs.NewResourceUnavailableError(structs.ScopeHost, host.ID, "host is %s", host.Status)
	}

	iter, err := txn.Get(TableVirtualMachines, indexHost, host.ID)
	if err != nil {
		return fmt.Errorf("vm lookup failed: %v", err)
	}
	var resident []*structs.VirtualMachine
	for raw := iter.Next(); raw != nil; raw = iter.Next() {
		resident = append(resident, raw.(*structs.VirtualMachine))
	}
	if reason := structs.TenancyConflict(host, resident, vm, usage); reason != "" {
		return structs.NewResourceUnavailableError(structs.ScopeHost, host.ID, "%s", reason)
	}

	if !structs.HostFits(cluster, host, vm.CPUMHz, vm.MemoryMB) {
		return structs.NewInsufficientCapacityError(structs.ScopeHost, host.ID,
			"requested cpu=%d memory=%d", vm.CPUMHz, vm.MemoryMB)
	}

	// Several volumes may land on the same pool, so sizes are summed per
	// pool before checking.
	pools := make(map[int64]*structs.StoragePool)
	for _, p := range dest.Storage {
		pool, ok := pools[p.Pool.ID]
		if !ok {
			raw, err := txn.First(TableStoragePools, indexID, p.Pool.ID)
			if err != nil {
				return fmt.Errorf("storage pool lookup failed: %v", err)
			}
			if raw == nil {
				return structs.NewResourceUnavailableError(structs.ScopeStoragePool, p.Pool.ID, "storage pool not found")
			}
			pool = raw.(*structs.StoragePool).Copy()
			if pool.Status != structs.StoragePoolStatusUp {
				return structs.NewResourceUnavailableError(structs.ScopeStoragePool, pool.ID, "storage pool is %s", pool.Status)
			}
			pools[pool.ID] = pool
		}
		pool.UsedBytes += p.Volume.SizeBytes
		if pool.UsedBytes > pool.CapacityBytes {
			return structs.NewInsufficientCapacityError(structs.ScopeStoragePool, pool.ID,
				"volume %d needs %d bytes", p.Volume.ID, p.Volume.SizeBytes)
		}
	}

	host = host.Copy()
	host.CPUUsedMHz += vm.CPUMHz
	host.MemoryUsedMB += vm.MemoryMB
	if err := txn.Insert(TableHosts, host); err != nil {
		return fmt.Errorf("host update failed: %v", err)
	}
	for _, pool := range pools {
		if err := txn.Insert(TableStoragePools, pool); err != nil {
			return fmt.Errorf("storage pool update failed: %v", err)
		}
	}

	// A migrated VM releases what it held on its previous host.
	if vm.CurrentHostID != 0 && vm.CurrentHostID != host.ID {
		raw, err := txn.First(TableHosts, indexID, vm.CurrentHostID)
		if err != nil {
			return fmt.Errorf("host lookup failed: %v", err)
		}
		if raw != nil {
			prev := raw.(*structs.Host).Copy()
			prev.CPUUsedMHz = max(0, prev.CPUUsedMHz-vm.CPUMHz)
			prev.MemoryUsedMB = max(0, prev.MemoryUsedMB-vm.MemoryMB)
			if err := txn.Insert(TableHosts, prev); err != nil {
				return fmt.Errorf("host update failed: %v", err)
			}
		}
	}

	placed := &structs.VirtualMachine{
		ID:           vm.ID,
		AccountID:    vm.AccountID,
		DataCenterID: dest.DataCenter.ID,
		PodID:        dest.Pod.ID,
		ClusterID:    dest.Cluster.ID,
		HostID:       host.ID,
		Usage:        usage,
	}
	if err := txn.Insert(TableVirtualMachines, placed); err != nil {
		return fmt.Errorf("vm insert failed: %v", err)
	}
	txn.Commit()

	s.logger.Debug("reserved capacity", "vm_id", vm.ID, "host_id", host.ID, "usage", usage, "pools", len(pools))
	return nil
}
