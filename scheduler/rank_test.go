// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: BUSL-1.1

package scheduler

import (
	"slices"
	"testing"

	"github.com/shoenig/test/must"
	"github.com/vmplacement/deployplanner/ci"
	"github.com/vmplacement/deployplanner/placement/mock"
	"github.com/vmplacement/deployplanner/placement/structs"
	"github.com/vmplacement/deployplanner/placement/structs/config"
)

func rankedIDs(hosts []*RankedHost) []int64 {
	ids := make([]int64, len(hosts))
	for i, h := range hosts {
		ids[i] = h.Host.ID
	}
	return ids
}

func testRankHosts(t *testing.T, inv *structs.Inventory, algorithm config.AllocationAlgorithm,
	plan structs.DeploymentPlan, order ...int64) []int64 {

	t.Helper()
	_, ctx := testContext(t, inv, nil)
	hosts := make([]*structs.Host, 0, len(order))
	for _, id := range order {
		hosts = append(hosts, invHost(inv, id))
	}
	ranked, err := RankHosts(ctx, mock.VM(1), plan, algorithm, invCluster(inv, 1), hosts)
	must.NoError(t, err)
	return rankedIDs(ranked)
}

// rankInventory adds a third host to cluster1 and loads host 11 so that
// the hosts' free fractions differ.
func rankInventory() *structs.Inventory {
	inv := mock.Inventory()
	h13 := mock.Host(13, invCluster(inv, 1))
	inv.Hosts = append(inv.Hosts, h13)
	invHost(inv, 11).CPUUsedMHz = 8000
	invHost(inv, 11).MemoryUsedMB = 32768
	return inv
}

func TestRankHosts_Algorithms(t *testing.T) {
	ci.Parallel(t)

	cases := []struct {
		algorithm config.AllocationAlgorithm
		vms       []int64
		expect    []int64
	}{
		{
			algorithm: config.AlgorithmFirstFit,
			expect:    []int64{11, 12, 13},
		},
		{
			algorithm: config.AlgorithmUserConcentratedPodFirstFit,
			expect:    []int64{11, 12, 13},
		},
		{
			algorithm: config.AlgorithmFirstFitLeastConsumed,
			expect:    []int64{12, 13, 11},
		},
		{
			// host 12 runs two of the account's VMs, host 13 one
			algorithm: config.AlgorithmUserDispersing,
			vms:       []int64{12, 12, 13},
			expect:    []int64{11, 13, 12},
		},
		{
			// ties on account VMs fall back to free fraction
			algorithm: config.AlgorithmUserDispersing,
			expect:    []int64{12, 13, 11},
		},
	}

	for _, tc := range cases {
		t.Run(string(tc.algorithm), func(t *testing.T) {
			inv := rankInventory()
			for i, hostID := range tc.vms {
				inv.VirtualMachines = append(inv.VirtualMachines,
					mock.PlacedVM(int64(i+1), mock.Account, invHost(inv, hostID)))
			}
			ids := testRankHosts(t, inv, tc.algorithm, structs.NewDataCenterDeployment(1), 13, 12, 11)
			must.Eq(t, tc.expect, ids)
		})
	}
}

func TestRankHosts_Random(t *testing.T) {
	ci.Parallel(t)

	inv := rankInventory()
	plan := structs.NewDataCenterDeployment(1)
	first := testRankHosts(t, inv, config.AlgorithmRandom, plan, 11, 12, 13)
	second := testRankHosts(t, inv, config.AlgorithmRandom, plan, 13, 11, 12)
	must.Eq(t, first, second)

	sorted := slices.Clone(first)
	slices.Sort(sorted)
	must.Eq(t, []int64{11, 12, 13}, sorted)
}

func TestRankHosts_Priority(t *testing.T) {
	ci.Parallel(t)

	cases := []struct {
		name    string
		prepare func(*structs.DataCenterDeployment)
		expect  []int64
	}{
		{
			name: "higher first",
			prepare: func(plan *structs.DataCenterDeployment) {
				plan.AdjustHostPriority(13, structs.HostPriorityHigher)
			},
			expect: []int64{13, 11, 12},
		},
		{
			name: "lower last",
			prepare: func(plan *structs.DataCenterDeployment) {
				plan.AdjustHostPriority(11, structs.HostPriorityLower)
			},
			expect: []int64{12, 13, 11},
		},
		{
			name: "cumulative",
			prepare: func(plan *structs.DataCenterDeployment) {
				plan.AdjustHostPriority(12, structs.HostPriorityHigher)
				plan.AdjustHostPriority(13, structs.HostPriorityHigher)
				plan.AdjustHostPriority(13, structs.HostPriorityHigher)
			},
			expect: []int64{13, 12, 11},
		},
		{
			name: "preferred",
			prepare: func(plan *structs.DataCenterDeployment) {
				plan.SetPreferredHosts([]int64{13, 99, 12})
			},
			expect: []int64{13, 12, 11},
		},
		{
			name: "priority before preference",
			prepare: func(plan *structs.DataCenterDeployment) {
				plan.SetPreferredHosts([]int64{13})
				plan.AdjustHostPriority(12, structs.HostPriorityHigher)
			},
			expect: []int64{12, 13, 11},
		},
		{
			name: "reset to default",
			prepare: func(plan *structs.DataCenterDeployment) {
				plan.AdjustHostPriority(13, structs.HostPriorityHigher)
				plan.AdjustHostPriority(13, structs.HostPriorityDefault)
			},
			expect: []int64{11, 12, 13},
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			plan := structs.NewDataCenterDeployment(1)
			tc.prepare(plan)
			ids := testRankHosts(t, rankInventory(), config.AlgorithmFirstFit, plan, 11, 12, 13)
			must.Eq(t, tc.expect, ids)
		})
	}
}

func TestRankHosts_Metadata(t *testing.T) {
	ci.Parallel(t)

	inv := rankInventory()
	_, ctx := testContext(t, inv, nil)
	plan := structs.NewDataCenterDeployment(1)
	plan.SetPreferredHosts([]int64{12})
	plan.AdjustHostPriority(11, structs.HostPriorityLower)

	ranked, err := RankHosts(ctx, mock.VM(1), plan, config.AlgorithmFirstFitLeastConsumed,
		invCluster(inv, 1), []*structs.Host{invHost(inv, 11), invHost(inv, 12)})
	must.NoError(t, err)
	must.Len(t, 2, ranked)

	must.Eq(t, 12, ranked[0].Host.ID)
	must.Eq(t, 0, ranked[0].Preferred)
	must.Eq(t, 1.0, ranked[0].Score)

	must.Eq(t, 11, ranked[1].Host.ID)
	must.Eq(t, -1, ranked[1].Preferred)
	must.Eq(t, structs.Biased(-1), ranked[1].Priority)
	must.Eq(t, 0.5, ranked[1].Score)
}

func TestRankHosts_Unsupported(t *testing.T) {
	ci.Parallel(t)

	_, ctx := testContext(t, nil, nil)
	_, err := RankHosts(ctx, mock.VM(1), structs.NewDataCenterDeployment(1), "bestfit", nil, nil)
	must.ErrorContains(t, err, "unsupported allocation algorithm")
}
