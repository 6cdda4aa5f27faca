// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: BUSL-1.1

package scheduler

import (
	"slices"

	"github.com/vmplacement/deployplanner/placement/structs"
	"github.com/vmplacement/deployplanner/placement/structs/config"
)

// basePlanner implements the cluster ordering shared by every cluster
// planner: resolve the candidate universe, filter it and order it with
// the configured algorithm.
type basePlanner struct {
	name   string
	config *config.PlannerConfig

	// extra returns checkers appended to the cluster stack
	extra func(ctx Context, vm *structs.VirtualMachineProfile) []ClusterChecker
}

func (p *basePlanner) Name() string {
	return p.name
}

func (p *basePlanner) algorithm() config.AllocationAlgorithm {
	return p.config.Algorithm()
}

// standardVM returns whether the VM is served by the shared tenancy
// planners: neither bare metal nor implicitly dedicated.
func standardVM(vm *structs.VirtualMachineProfile) bool {
	return vm.Hypervisor != structs.HypervisorBareMetal && !vm.ImplicitDedication
}

func (p *basePlanner) OrderClusters(ctx Context, vm *structs.VirtualMachineProfile,
	plan structs.DeploymentPlan, avoid *structs.ExcludeList) ([]int64, error) {

	var extra []ClusterChecker
	if p.extra != nil {
		extra = p.extra(ctx, vm)
	}
	candidates, err := NewClusterStack(ctx, vm, plan, avoid, extra...).Candidates()
	if err != nil {
		return nil, err
	}
	ordered, err := OrderClusters(ctx, vm, p.algorithm(), candidates)
	if err != nil {
		return nil, err
	}
	return clusterIDs(ordered), nil
}

func (p *basePlanner) ResourceUsage(*structs.VirtualMachineProfile, structs.DeploymentPlan,
	*structs.ExcludeList) structs.PlannerResourceUsage {
	return structs.PlannerResourceUsageShared
}

// FirstFitPlanner serves the random, firstfit and firstfitleastconsumed
// algorithms for shared tenancy VMs.
type FirstFitPlanner struct {
	basePlanner
}

func NewFirstFitPlanner(cfg *config.PlannerConfig) *FirstFitPlanner {
	return &FirstFitPlanner{basePlanner{name: "FirstFitPlanner", config: cfg}}
}

func (p *FirstFitPlanner) CanHandle(vm *structs.VirtualMachineProfile, _ structs.DeploymentPlan, _ *structs.ExcludeList) bool {
	return standardVM(vm) && slices.Contains([]config.AllocationAlgorithm{
		config.AlgorithmRandom,
		config.AlgorithmFirstFit,
		config.AlgorithmFirstFitLeastConsumed,
	}, p.algorithm())
}

// UserDispersingPlanner spreads the VMs of an account across clusters.
type UserDispersingPlanner struct {
	basePlanner
}

func NewUserDispersingPlanner(cfg *config.PlannerConfig) *UserDispersingPlanner {
	return &UserDispersingPlanner{basePlanner{name: "UserDispersingPlanner", config: cfg}}
}

func (p *UserDispersingPlanner) CanHandle(vm *structs.VirtualMachineProfile, _ structs.DeploymentPlan, _ *structs.ExcludeList) bool {
	return standardVM(vm) && p.algorithm() == config.AlgorithmUserDispersing
}

// UserConcentratedPodPlanner keeps the VMs of an account in the pods that
// already run most of them.
type UserConcentratedPodPlanner struct {
	basePlanner
}

func NewUserConcentratedPodPlanner(cfg *config.PlannerConfig) *UserConcentratedPodPlanner {
	return &UserConcentratedPodPlanner{basePlanner{name: "UserConcentratedPodPlanner", config: cfg}}
}

func (p *UserConcentratedPodPlanner) CanHandle(vm *structs.VirtualMachineProfile, _ structs.DeploymentPlan, _ *structs.ExcludeList) bool {
	switch p.algorithm() {
	case config.AlgorithmUserConcentratedPodRandom, config.AlgorithmUserConcentratedPodFirstFit:
		return standardVM(vm)
	}
	return false
}

// ImplicitDedicationPlanner places VMs that must not share hosts with
// other accounts. It only offers clusters holding at least one host that
// is empty or already dedicated to the VM's account, ordered with the
// configured algorithm.
type ImplicitDedicationPlanner struct {
	basePlanner
}

func NewImplicitDedicationPlanner(cfg *config.PlannerConfig) *ImplicitDedicationPlanner {
	p := &ImplicitDedicationPlanner{basePlanner{name: "ImplicitDedicationPlanner", config: cfg}}
	p.extra = func(ctx Context, vm *structs.VirtualMachineProfile) []ClusterChecker {
		return []ClusterChecker{NewDedicationClusterChecker(ctx, vm)}
	}
	return p
}

func (p *ImplicitDedicationPlanner) CanHandle(vm *structs.VirtualMachineProfile, _ structs.DeploymentPlan, _ *structs.ExcludeList) bool {
	return vm.ImplicitDedication && vm.Hypervisor != structs.HypervisorBareMetal
}

func (p *ImplicitDedicationPlanner) ResourceUsage(*structs.VirtualMachineProfile, structs.DeploymentPlan,
	*structs.ExcludeList) structs.PlannerResourceUsage {
	return structs.PlannerResourceUsageDedicated
}

// DefaultPlanners returns every shipped planner in chain order. The
// reserver commits legacy bare metal placements and may be nil.
func DefaultPlanners(cfg *config.PlannerConfig, reserver Reserver) []Planner {
	return []Planner{
		NewFirstFitPlanner(cfg),
		NewUserDispersingPlanner(cfg),
		NewUserConcentratedPodPlanner(cfg),
		NewImplicitDedicationPlanner(cfg),
		NewBareMetalPlanner(reserver),
	}
}
