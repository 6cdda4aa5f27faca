// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: BUSL-1.1

package scheduler

import (
	"fmt"

	"github.com/vmplacement/deployplanner/helper/pointer"
	"github.com/vmplacement/deployplanner/placement/structs"
)

// RankedCluster is a candidate cluster along with the capacity snapshot it
// was filtered and ordered against.
type RankedCluster struct {
	Cluster  *structs.Cluster
	Capacity *structs.ClusterCapacity
	Score    float64
}

func (r *RankedCluster) GoString() string {
	return fmt.Sprintf("<Cluster: %d Score: %0.3f>", r.Cluster.ID, r.Score)
}

// ClusterChecker is used to check if a single cluster meets a set of
// requirements. Checkers record the reason of a rejection in the context
// metrics themselves.
type ClusterChecker interface {
	Feasible(*RankedCluster) bool
}

// ClusterStack produces the feasible candidate clusters of a plan. The
// candidate universe comes from the plan pins; candidates then go through
// the administrative checks, the disable thresholds and finally the
// exclude list, in that order.
type ClusterStack struct {
	ctx   Context
	vm    *structs.VirtualMachineProfile
	plan  structs.DeploymentPlan
	avoid *structs.ExcludeList

	checkers []ClusterChecker
}

// NewClusterStack constructs a stack for the request. Extra checkers run
// after the built in ones.
func NewClusterStack(ctx Context, vm *structs.VirtualMachineProfile, plan structs.DeploymentPlan,
	avoid *structs.ExcludeList, extra ...ClusterChecker) *ClusterStack {

	s := &ClusterStack{
		ctx:   ctx,
		vm:    vm,
		plan:  plan,
		avoid: avoid,
	}
	s.checkers = append([]ClusterChecker{
		NewAdminClusterChecker(ctx, vm),
		NewThresholdChecker(ctx, vm),
		NewExcludeClusterChecker(ctx, avoid),
	}, extra...)
	return s
}

// Candidates returns the feasible clusters in ascending id order.
func (s *ClusterStack) Candidates() ([]*RankedCluster, error) {
	universe, err := s.universe()
	if err != nil {
		return nil, err
	}

	state := s.ctx.State()
	metrics := s.ctx.Metrics()
	out := make([]*RankedCluster, 0, len(universe))

OUTER:
	for _, cluster := range universe {
		metrics.EvaluateCluster()

		capacity, err := state.ClusterCapacity(cluster.ID)
		if err != nil {
			return nil, fmt.Errorf("failed to compute capacity of cluster %d: %w", cluster.ID, err)
		}
		option := &RankedCluster{Cluster: cluster, Capacity: capacity}
		for _, checker := range s.checkers {
			if !checker.Feasible(option) {
				continue OUTER
			}
		}
		out = append(out, option)
	}
	return out, nil
}

// universe resolves the plan pins into the clusters worth looking at. An
// unknown data center is an error; a disabled or excluded one yields no
// candidates.
func (s *ClusterStack) universe() ([]*structs.Cluster, error) {
	state := s.ctx.State()
	metrics := s.ctx.Metrics()

	dcID := s.plan.DataCenterID()
	dc, err := state.DataCenterByID(dcID)
	if err != nil {
		return nil, err
	}
	if dc == nil {
		return nil, fmt.Errorf("data center %d not found", dcID)
	}
	if !dc.AllocationState.Enabled() {
		metrics.FilterCluster(FilterDataCenterDisabled)
		return nil, nil
	}
	if s.avoid.ShouldAvoidDataCenter(dc) {
		metrics.FilterCluster(FilterDataCenterExcluded)
		return nil, nil
	}

	var clusters []*structs.Cluster
	switch {
	case s.plan.ClusterID() != nil:
		cluster, err := state.ClusterByID(*s.plan.ClusterID())
		if err != nil {
			return nil, err
		}
		if cluster != nil {
			clusters = []*structs.Cluster{cluster}
		}
	case s.plan.PodID() != nil:
		clusters, err = state.ClustersByPod(*s.plan.PodID())
	default:
		clusters, err = state.ClustersByDataCenter(dcID)
	}
	if err != nil {
		return nil, err
	}

	// Pins that contradict each other leave nothing to place on.
	out := clusters[:0:0]
	for _, c := range clusters {
		if c.DataCenterID != dcID || (s.plan.PodID() != nil && c.PodID != *s.plan.PodID()) {
			metrics.FilterCluster(FilterClusterPin)
			continue
		}
		out = append(out, c)
	}
	return out, nil
}

// AdminClusterChecker drops clusters that are administratively disabled,
// sit in a disabled pod, or run a hypervisor the VM cannot use.
type AdminClusterChecker struct {
	ctx  Context
	vm   *structs.VirtualMachineProfile
	pods map[int64]*structs.Pod
}

func NewAdminClusterChecker(ctx Context, vm *structs.VirtualMachineProfile) *AdminClusterChecker {
	return &AdminClusterChecker{
		ctx:  ctx,
		vm:   vm,
		pods: make(map[int64]*structs.Pod),
	}
}

func (c *AdminClusterChecker) pod(id int64) *structs.Pod {
	if pod, ok := c.pods[id]; ok {
		return pod
	}
	pod, err := c.ctx.State().PodByID(id)
	if err != nil {
		c.ctx.Logger().Error("failed to look up pod", "pod_id", id, "error", err)
		return nil
	}
	c.pods[id] = pod
	return pod
}

func (c *AdminClusterChecker) Feasible(option *RankedCluster) bool {
	cluster := option.Cluster
	if !cluster.AllocationState.Enabled() {
		c.ctx.Metrics().FilterCluster(FilterClusterDisabled)
		return false
	}
	if pod := c.pod(cluster.PodID); pod == nil || !pod.AllocationState.Enabled() {
		c.ctx.Metrics().FilterCluster(FilterPodDisabled)
		return false
	}
	if !c.vm.Hypervisor.Compatible(cluster.Hypervisor) {
		c.ctx.Metrics().FilterCluster(FilterHypervisor)
		return false
	}
	return true
}

// ThresholdChecker drops clusters whose allocated CPU or memory fraction,
// counting the requested VM, would exceed the cluster's disable threshold.
// Per cluster thresholds override the configured ones.
type ThresholdChecker struct {
	ctx Context
	vm  *structs.VirtualMachineProfile
}

func NewThresholdChecker(ctx Context, vm *structs.VirtualMachineProfile) *ThresholdChecker {
	return &ThresholdChecker{ctx: ctx, vm: vm}
}

func (c *ThresholdChecker) Feasible(option *RankedCluster) bool {
	cfg := c.ctx.Config()
	if !cfg.ThresholdsEnabled() {
		return true
	}

	cluster := option.Cluster
	cpu := pointer.ValueOr(cluster.CPUDisableThreshold, cfg.CPUThreshold())
	if option.Capacity.CPUFraction(c.vm.CPUMHz) > cpu {
		c.ctx.Metrics().FilterCluster(FilterCPUThreshold)
		return false
	}
	mem := pointer.ValueOr(cluster.MemoryDisableThreshold, cfg.MemoryThreshold())
	if option.Capacity.MemoryFraction(c.vm.MemoryMB) > mem {
		c.ctx.Metrics().FilterCluster(FilterMemoryThreshold)
		return false
	}
	return true
}

// ExcludeClusterChecker drops clusters the exclude list avoids.
type ExcludeClusterChecker struct {
	ctx   Context
	avoid *structs.ExcludeList
}

func NewExcludeClusterChecker(ctx Context, avoid *structs.ExcludeList) *ExcludeClusterChecker {
	return &ExcludeClusterChecker{ctx: ctx, avoid: avoid}
}

func (c *ExcludeClusterChecker) Feasible(option *RankedCluster) bool {
	if c.avoid.ShouldAvoidCluster(option.Cluster) {
		c.ctx.Metrics().FilterCluster(FilterExcluded)
		return false
	}
	return true
}

// DedicationClusterChecker keeps only clusters with at least one ready
// host that is empty or runs nothing but the account's VMs.
type DedicationClusterChecker struct {
	ctx Context
	vm  *structs.VirtualMachineProfile
}

func NewDedicationClusterChecker(ctx Context, vm *structs.VirtualMachineProfile) *DedicationClusterChecker {
	return &DedicationClusterChecker{ctx: ctx, vm: vm}
}

func (c *DedicationClusterChecker) Feasible(option *RankedCluster) bool {
	hosts, err := c.ctx.State().HostsByCluster(option.Cluster.ID)
	if err != nil {
		c.ctx.Logger().Error("failed to look up hosts", "cluster_id", option.Cluster.ID, "error", err)
		return false
	}
	for _, host := range hosts {
		if !host.Ready() {
			continue
		}
		vms, err := c.ctx.State().VirtualMachinesByHost(host.ID)
		if err != nil {
			c.ctx.Logger().Error("failed to look up vms", "host_id", host.ID, "error", err)
			return false
		}
		if structs.TenancyConflict(host, vms, c.vm, structs.PlannerResourceUsageDedicated) == "" {
			return true
		}
	}
	c.ctx.Metrics().FilterCluster(FilterDedication)
	return false
}
