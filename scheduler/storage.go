// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: BUSL-1.1

package scheduler

import (
	"cmp"
	"slices"

	"github.com/hashicorp/go-set/v3"
	"github.com/vmplacement/deployplanner/placement/structs"
)

// scopeRank orders pools from the most local to the most shared.
var scopeRank = map[structs.StoragePoolScope]int{
	structs.StoragePoolScopeHost:    0,
	structs.StoragePoolScopeCluster: 1,
	structs.StoragePoolScopeZone:    2,
}

// StorageSelector assigns storage pools to the volumes of a VM for a given
// host. Pool filter reasons are recorded once per pool and request.
type StorageSelector struct {
	ctx   Context
	vm    *structs.VirtualMachineProfile
	plan  structs.DeploymentPlan
	avoid *structs.ExcludeList

	pools    *poolsByDataCenterCache
	recorded *set.Set[int64]
}

func NewStorageSelector(ctx Context, vm *structs.VirtualMachineProfile, plan structs.DeploymentPlan,
	avoid *structs.ExcludeList) *StorageSelector {

	return &StorageSelector{
		ctx:      ctx,
		vm:       vm,
		plan:     plan,
		avoid:    avoid,
		pools:    newPoolsCache(ctx.State()),
		recorded: set.New[int64](0),
	}
}

func (s *StorageSelector) filterPool(pool *structs.StoragePool, reason string) {
	if s.recorded.Insert(pool.ID) {
		s.ctx.Metrics().FilterPool(reason)
	}
}

// candidates returns the pools reachable from the host that may hold any
// of the VM's volumes, most local first, then by free space descending and
// ascending id.
func (s *StorageSelector) candidates(host *structs.Host) ([]*structs.StoragePool, error) {
	all, err := s.pools.get(host.DataCenterID)
	if err != nil {
		return nil, err
	}

	pin := s.plan.PoolID()
	out := make([]*structs.StoragePool, 0, len(all))
	for _, pool := range all {
		if !pool.ReachableFrom(host) {
			continue
		}
		if pin != nil && pool.ID != *pin {
			continue
		}
		switch {
		case pool.Status != structs.StoragePoolStatusUp:
			s.filterPool(pool, FilterStoragePoolStatus)
		case s.avoid.ShouldAvoidPool(pool):
			s.filterPool(pool, FilterStoragePoolExclude)
		case !tagsSatisfied(pool.Tags, s.vm.StorageTags):
			s.filterPool(pool, FilterStoragePoolTags)
		default:
			out = append(out, pool)
		}
	}

	slices.SortFunc(out, func(a, b *structs.StoragePool) int {
		if c := cmp.Compare(scopeRank[a.Scope], scopeRank[b.Scope]); c != 0 {
			return c
		}
		if c := cmp.Compare(b.FreeBytes(), a.FreeBytes()); c != 0 {
			return c
		}
		return cmp.Compare(a.ID, b.ID)
	})
	return out, nil
}

// Select assigns a pool to every volume still needing one, in ascending
// volume id order, accounting for the space earlier volumes take. It
// returns false when some volume fits no pool.
func (s *StorageSelector) Select(host *structs.Host) (map[*structs.Volume]*structs.StoragePool, bool, error) {
	volumes := s.vm.VolumesNeedingPool()
	if len(volumes) == 0 {
		return nil, true, nil
	}
	slices.SortFunc(volumes, func(a, b *structs.Volume) int {
		return cmp.Compare(a.ID, b.ID)
	})

	pools, err := s.candidates(host)
	if err != nil {
		return nil, false, err
	}

	free := make(map[int64]int64, len(pools))
	for _, p := range pools {
		free[p.ID] = p.FreeBytes()
	}

	out := make(map[*structs.Volume]*structs.StoragePool, len(volumes))
	for _, vol := range volumes {
		var chosen *structs.StoragePool
		for _, p := range pools {
			if free[p.ID] >= vol.SizeBytes {
				chosen = p
				break
			}
		}
		if chosen == nil {
			return nil, false, nil
		}
		free[chosen.ID] -= vol.SizeBytes
		out[vol] = chosen
	}
	return out, true, nil
}
