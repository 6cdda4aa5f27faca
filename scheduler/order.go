// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: BUSL-1.1

package scheduler

import (
	"cmp"
	"fmt"
	"slices"

	"github.com/vmplacement/deployplanner/placement/structs"
	"github.com/vmplacement/deployplanner/placement/structs/config"
)

// OrderClusters sorts feasible candidates according to the allocation
// algorithm. Every ordering breaks ties by ascending cluster id, and the
// random orderings shuffle a canonical id order, so equal inputs and seeds
// always produce the same order.
func OrderClusters(ctx Context, vm *structs.VirtualMachineProfile, algorithm config.AllocationAlgorithm,
	candidates []*RankedCluster) ([]*RankedCluster, error) {

	out := slices.Clone(candidates)
	slices.SortFunc(out, func(a, b *RankedCluster) int {
		return cmp.Compare(a.Cluster.ID, b.Cluster.ID)
	})

	capType := ctx.Config().OrderCapacityType()

	switch algorithm {
	case config.AlgorithmRandom:
		shuffle(ctx.Rand(), out)

	case config.AlgorithmFirstFit:
		orderByFreeCapacity(out, capType)

	case config.AlgorithmFirstFitLeastConsumed:
		for _, c := range out {
			c.Score = allocatedFraction(c.Capacity, capType)
		}
		slices.SortStableFunc(out, func(a, b *RankedCluster) int {
			return byScoreThenID(a.Score, b.Score, a.Cluster.ID, b.Cluster.ID)
		})

	case config.AlgorithmUserDispersing:
		vms, err := ctx.State().VirtualMachinesByAccount(vm.AccountID)
		if err != nil {
			return nil, fmt.Errorf("failed to look up vms of account %q: %w", vm.AccountID, err)
		}
		orderByDispersion(out, accountVMCounts(vms, clusterOf), ctx.Config().DispersionWeight(), capType)

	case config.AlgorithmUserConcentratedPodRandom, config.AlgorithmUserConcentratedPodFirstFit:
		vms, err := ctx.State().VirtualMachinesByAccount(vm.AccountID)
		if err != nil {
			return nil, fmt.Errorf("failed to look up vms of account %q: %w", vm.AccountID, err)
		}
		out = orderByPodConcentration(ctx, out, accountVMCounts(vms, podOf), algorithm.IsRandom(), capType)

	default:
		return nil, fmt.Errorf("unsupported allocation algorithm %q", algorithm)
	}
	return out, nil
}

func clusterOf(vm *structs.VirtualMachine) int64 { return vm.ClusterID }
func podOf(vm *structs.VirtualMachine) int64     { return vm.PodID }
func hostOf(vm *structs.VirtualMachine) int64    { return vm.HostID }

func freeCapacity(c *structs.ClusterCapacity, capType config.CapacityType) float64 {
	if capType == config.CapacityTypeCPU {
		return c.FreeCPU()
	}
	return c.FreeMemory()
}

func allocatedFraction(c *structs.ClusterCapacity, capType config.CapacityType) float64 {
	if capType == config.CapacityTypeCPU {
		return c.CPUFraction(0)
	}
	return c.MemoryFraction(0)
}

// orderByFreeCapacity puts the clusters with the most free capacity first.
func orderByFreeCapacity(clusters []*RankedCluster, capType config.CapacityType) {
	for _, c := range clusters {
		c.Score = freeCapacity(c.Capacity, capType)
	}
	slices.SortStableFunc(clusters, func(a, b *RankedCluster) int {
		return byScoreThenID(b.Score, a.Score, a.Cluster.ID, b.Cluster.ID)
	})
}

// orderByDispersion scores clusters by w * accountVMs/maxAccountVMs +
// (1-w) * allocated fraction and puts the lowest score first.
func orderByDispersion(clusters []*RankedCluster, counts map[int64]int, weight float64, capType config.CapacityType) {
	maxVMs := 0
	for _, c := range clusters {
		maxVMs = max(maxVMs, counts[c.Cluster.ID])
	}
	for _, c := range clusters {
		var vmRatio float64
		if maxVMs > 0 {
			vmRatio = float64(counts[c.Cluster.ID]) / float64(maxVMs)
		}
		c.Score = weight*vmRatio + (1-weight)*allocatedFraction(c.Capacity, capType)
	}
	slices.SortStableFunc(clusters, func(a, b *RankedCluster) int {
		return byScoreThenID(a.Score, b.Score, a.Cluster.ID, b.Cluster.ID)
	})
}

// orderByPodConcentration groups clusters by pod, pods holding the most
// VMs of the account first, and orders clusters within each pod by free
// capacity or randomly.
func orderByPodConcentration(ctx Context, clusters []*RankedCluster, counts map[int64]int,
	random bool, capType config.CapacityType) []*RankedCluster {

	byPod := make(map[int64][]*RankedCluster)
	var pods []int64
	for _, c := range clusters {
		if _, ok := byPod[c.Cluster.PodID]; !ok {
			pods = append(pods, c.Cluster.PodID)
		}
		byPod[c.Cluster.PodID] = append(byPod[c.Cluster.PodID], c)
	}
	slices.SortFunc(pods, func(a, b int64) int {
		if c := cmp.Compare(counts[b], counts[a]); c != 0 {
			return c
		}
		return cmp.Compare(a, b)
	})

	out := make([]*RankedCluster, 0, len(clusters))
	for _, pod := range pods {
		group := byPod[pod]
		if random {
			shuffle(ctx.Rand(), group)
		} else {
			orderByFreeCapacity(group, capType)
		}
		out = append(out, group...)
	}
	return out
}

// clusterIDs flattens ranked clusters into their ids.
func clusterIDs(clusters []*RankedCluster) []int64 {
	ids := make([]int64, len(clusters))
	for i, c := range clusters {
		ids[i] = c.Cluster.ID
	}
	return ids
}
