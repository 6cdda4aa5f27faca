// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: BUSL-1.1

package scheduler

import (
	"testing"

	"github.com/shoenig/test/must"
	"github.com/vmplacement/deployplanner/ci"
	"github.com/vmplacement/deployplanner/placement/mock"
	"github.com/vmplacement/deployplanner/placement/structs"
)

func TestStaticHostIterator_Reset(t *testing.T) {
	ci.Parallel(t)

	_, ctx := testContext(t, nil, nil)
	cluster := mock.Cluster(1, mock.Pod(1, mock.DataCenter(1)))
	hosts := []*structs.Host{mock.Host(1, cluster), mock.Host(2, cluster), mock.Host(3, cluster)}
	static := NewStaticHostIterator(ctx, hosts)

	for i := 0; i < 6; i++ {
		static.Reset()
		for j := 0; j < i; j++ {
			static.Next()
		}
		static.Reset()
		must.Eq(t, []int64{1, 2, 3}, hostIDs(collectHosts(static)))
	}
	must.Eq(t, 30, ctx.Metrics().HostsEvaluated)
}

func TestStaticHostIterator_SetHosts(t *testing.T) {
	ci.Parallel(t)

	_, ctx := testContext(t, nil, nil)
	cluster := mock.Cluster(1, mock.Pod(1, mock.DataCenter(1)))
	static := NewStaticHostIterator(ctx, []*structs.Host{mock.Host(1, cluster)})
	static.Next()

	static.SetHosts([]*structs.Host{mock.Host(5, cluster), mock.Host(6, cluster)})
	must.Eq(t, []int64{5, 6}, hostIDs(collectHosts(static)))
}

func TestHostStack(t *testing.T) {
	ci.Parallel(t)

	cases := []struct {
		name      string
		inventory func(*structs.Inventory)
		vm        func(*structs.VirtualMachineProfile)
		plan      []structs.PlanOption
		prepare   func(*structs.DataCenterDeployment, *structs.ExcludeList)
		extra     func(Context, *structs.VirtualMachineProfile) []HostChecker
		expect    []int64
		reason    string
		exhausted string
	}{
		{
			name:   "all feasible",
			expect: []int64{11, 12},
		},
		{
			name:   "host pin",
			plan:   []structs.PlanOption{structs.WithHost(12)},
			expect: []int64{12},
			reason: FilterHostPin,
		},
		{
			name: "host down",
			inventory: func(inv *structs.Inventory) {
				invHost(inv, 11).Status = structs.HostStatusDown
			},
			expect: []int64{12},
			reason: FilterHostNotReady,
		},
		{
			name: "host disabled",
			inventory: func(inv *structs.Inventory) {
				invHost(inv, 11).AllocationState = structs.AllocationStateDisabled
			},
			expect: []int64{12},
			reason: FilterHostNotReady,
		},
		{
			name: "hypervisor",
			inventory: func(inv *structs.Inventory) {
				invHost(inv, 12).Hypervisor = structs.HypervisorVMware
			},
			expect: []int64{11},
			reason: FilterHypervisor,
		},
		{
			name: "prohibited",
			prepare: func(plan *structs.DataCenterDeployment, _ *structs.ExcludeList) {
				plan.AdjustHostPriority(11, structs.HostPriorityProhibit)
			},
			expect: []int64{12},
			reason: FilterHostProhibited,
		},
		{
			name: "excluded",
			prepare: func(_ *structs.DataCenterDeployment, avoid *structs.ExcludeList) {
				avoid.AddHost(11)
			},
			expect: []int64{12},
			reason: FilterExcluded,
		},
		{
			name: "current host of migration",
			vm: func(vm *structs.VirtualMachineProfile) {
				vm.CurrentHostID = 11
			},
			plan:   []structs.PlanOption{structs.WithMigration()},
			expect: []int64{12},
			reason: FilterHostCurrent,
		},
		{
			name: "current host without migration",
			vm: func(vm *structs.VirtualMachineProfile) {
				vm.CurrentHostID = 11
			},
			expect: []int64{11, 12},
		},
		{
			name: "host tags",
			inventory: func(inv *structs.Inventory) {
				invHost(inv, 11).Tags = []string{"ssd"}
				invHost(inv, 12).Tags = []string{"ssd", "gpu"}
			},
			vm: func(vm *structs.VirtualMachineProfile) {
				vm.HostTags = []string{"gpu", "ssd"}
			},
			expect: []int64{12},
			reason: FilterHostTags,
		},
		{
			name: "hypervisor version",
			inventory: func(inv *structs.Inventory) {
				invHost(inv, 12).HypervisorVersion = "9.0.1"
			},
			vm: func(vm *structs.VirtualMachineProfile) {
				vm.HypervisorVersion = ">= 8.5"
			},
			expect: []int64{12},
			reason: FilterHostVersion,
		},
		{
			name: "unparsable host version",
			inventory: func(inv *structs.Inventory) {
				invHost(inv, 11).HypervisorVersion = "latest"
			},
			vm: func(vm *structs.VirtualMachineProfile) {
				vm.HypervisorVersion = ">= 8.0"
			},
			expect: []int64{12},
			reason: FilterHostVersion,
		},
		{
			name: "cpu exhausted",
			inventory: func(inv *structs.Inventory) {
				invHost(inv, 11).CPUUsedMHz = 15500
			},
			expect:    []int64{12},
			exhausted: ExhaustedCPU,
		},
		{
			name: "memory exhausted",
			inventory: func(inv *structs.Inventory) {
				invHost(inv, 11).MemoryUsedMB = 64000
			},
			expect:    []int64{12},
			exhausted: ExhaustedMemory,
		},
		{
			name: "overcommit",
			inventory: func(inv *structs.Inventory) {
				invCluster(inv, 1).CPUOvercommitRatio = 2
				invHost(inv, 11).CPUUsedMHz = 30000
			},
			expect: []int64{11, 12},
		},
		{
			name: "dedication",
			inventory: func(inv *structs.Inventory) {
				inv.VirtualMachines = []*structs.VirtualMachine{
					mock.PlacedVM(101, "other", invHost(inv, 11)),
					mock.PlacedVM(102, mock.Account, invHost(inv, 12)),
				}
			},
			extra: func(ctx Context, vm *structs.VirtualMachineProfile) []HostChecker {
				return []HostChecker{NewHostTenancyChecker(ctx, vm, structs.PlannerResourceUsageDedicated)}
			},
			expect: []int64{12},
			reason: FilterDedication,
		},
		{
			name: "shared avoids dedicated host",
			inventory: func(inv *structs.Inventory) {
				dedicated := mock.PlacedVM(101, "other", invHost(inv, 11))
				dedicated.Usage = structs.PlannerResourceUsageDedicated
				inv.VirtualMachines = []*structs.VirtualMachine{
					dedicated,
					mock.PlacedVM(102, "other", invHost(inv, 12)),
				}
			},
			extra: func(ctx Context, vm *structs.VirtualMachineProfile) []HostChecker {
				return []HostChecker{NewHostTenancyChecker(ctx, vm, structs.PlannerResourceUsageShared)}
			},
			expect: []int64{12},
			reason: FilterDedication,
		},
		{
			name: "empty host",
			inventory: func(inv *structs.Inventory) {
				invHost(inv, 11).Hypervisor = structs.HypervisorBareMetal
				invHost(inv, 12).Hypervisor = structs.HypervisorBareMetal
				inv.VirtualMachines = []*structs.VirtualMachine{
					mock.PlacedVM(101, mock.Account, invHost(inv, 12)),
				}
			},
			vm: func(vm *structs.VirtualMachineProfile) {
				vm.Hypervisor = structs.HypervisorBareMetal
			},
			extra: func(ctx Context, vm *structs.VirtualMachineProfile) []HostChecker {
				return []HostChecker{NewHostTenancyChecker(ctx, vm, structs.PlannerResourceUsageShared)}
			},
			expect: []int64{11},
			reason: FilterHostNotEmpty,
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			inv := mock.Inventory()
			if tc.inventory != nil {
				tc.inventory(inv)
			}
			store, ctx := testContext(t, inv, nil)

			vm := mock.VM(1)
			if tc.vm != nil {
				tc.vm(vm)
			}
			plan := structs.NewDeployment(1, tc.plan...)
			avoid := structs.NewExcludeList()
			if tc.prepare != nil {
				tc.prepare(plan, avoid)
			}
			var extra []HostChecker
			if tc.extra != nil {
				extra = tc.extra(ctx, vm)
			}

			stack, err := NewHostStack(ctx, vm, plan, avoid, extra...)
			must.NoError(t, err)

			cluster, err := store.ClusterByID(1)
			must.NoError(t, err)
			hosts, err := store.HostsByCluster(1)
			must.NoError(t, err)
			stack.SetCluster(cluster, hosts)

			must.Eq(t, tc.expect, hostIDs(stack.Feasible()))
			metrics := ctx.Metrics()
			must.Eq(t, 2, metrics.HostsEvaluated)
			if tc.reason != "" {
				must.Eq(t, 1, metrics.HostFilterReasons[tc.reason])
			}
			if tc.exhausted != "" {
				must.Eq(t, 1, metrics.DimensionExhausted[tc.exhausted])
			}
		})
	}
}

func TestHostStack_InvalidVersionConstraint(t *testing.T) {
	ci.Parallel(t)

	_, ctx := testContext(t, nil, nil)
	vm := mock.VM(1)
	vm.HypervisorVersion = "~> not a version"

	_, err := NewHostStack(ctx, vm, structs.NewDataCenterDeployment(1), nil)
	must.ErrorContains(t, err, "invalid hypervisor version constraint")
}

func TestHostStack_ProhibitedNotExcluded(t *testing.T) {
	ci.Parallel(t)

	store, ctx := testContext(t, mock.Inventory(), nil)
	plan := structs.NewDataCenterDeployment(1)
	plan.AdjustHostPriority(11, structs.HostPriorityProhibit)
	plan.AdjustHostPriority(12, structs.HostPriorityProhibit)
	avoid := structs.NewExcludeList()

	stack, err := NewHostStack(ctx, mock.VM(1), plan, avoid)
	must.NoError(t, err)
	cluster, _ := store.ClusterByID(1)
	hosts, _ := store.HostsByCluster(1)
	stack.SetCluster(cluster, hosts)

	must.SliceEmpty(t, stack.Feasible())
	must.True(t, avoid.Empty())
}
