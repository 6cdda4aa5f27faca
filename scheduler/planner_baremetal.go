// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: BUSL-1.1

package scheduler

import (
	"cmp"
	"slices"

	"github.com/vmplacement/deployplanner/placement/structs"
)

// BareMetalPlanner is a legacy single shot planner for bare metal VMs. It
// takes the first empty, ready bare metal host of the feasible clusters in
// ascending cluster and host id order. Bare metal VMs use local disks, so
// no storage is selected.
type BareMetalPlanner struct {
	reserver Reserver
}

// NewBareMetalPlanner returns the planner. When reserver is set the chosen
// host is committed before Plan returns.
func NewBareMetalPlanner(reserver Reserver) *BareMetalPlanner {
	return &BareMetalPlanner{reserver: reserver}
}

func (p *BareMetalPlanner) Name() string {
	return "BareMetalPlanner"
}

func (p *BareMetalPlanner) CanHandle(vm *structs.VirtualMachineProfile, _ structs.DeploymentPlan, _ *structs.ExcludeList) bool {
	return vm.Hypervisor == structs.HypervisorBareMetal
}

func (p *BareMetalPlanner) Plan(ctx Context, vm *structs.VirtualMachineProfile, plan structs.DeploymentPlan,
	avoid *structs.ExcludeList) (*structs.DeployDestination, error) {

	candidates, err := NewClusterStack(ctx, vm, plan, avoid).Candidates()
	if err != nil {
		return nil, err
	}
	slices.SortFunc(candidates, func(a, b *RankedCluster) int {
		return cmp.Compare(a.Cluster.ID, b.Cluster.ID)
	})

	stack, err := NewHostStack(ctx, vm, plan, avoid,
		NewHostTenancyChecker(ctx, vm, structs.PlannerResourceUsageShared))
	if err != nil {
		return nil, err
	}

	state := ctx.State()
	for _, option := range candidates {
		hosts, err := state.HostsByCluster(option.Cluster.ID)
		if err != nil {
			return nil, err
		}
		stack.SetCluster(option.Cluster, hosts)
		feasible := stack.Feasible()
		if len(feasible) == 0 {
			ctx.Metrics().ExhaustedCluster()
			continue
		}

		dest, err := buildDestination(state, option.Cluster, feasible[0], nil)
		if err != nil {
			return nil, err
		}
		if p.reserver != nil {
			if err := p.reserver.ReserveCapacity(vm, dest, structs.PlannerResourceUsageShared); err != nil {
				return nil, err
			}
		}
		return dest, nil
	}
	return nil, nil
}
