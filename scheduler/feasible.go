// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: BUSL-1.1

package scheduler

import (
	"fmt"

	"github.com/hashicorp/go-version"
	"github.com/vmplacement/deployplanner/placement/structs"
)

// HostIterator is used to iteratively yield hosts that match feasibility
// constraints. The iterators may manage some state for performance
// optimizations.
type HostIterator interface {
	// Next yields a feasible host or nil if exhausted
	Next() *structs.Host

	// Reset is invoked when the hosts of a new cluster are set
	Reset()
}

// HostChecker is used to check if a single host meets a set of
// requirements. Checkers record the reason of a rejection in the context
// metrics themselves.
type HostChecker interface {
	Feasible(*structs.Host) bool
}

// StaticHostIterator is a HostIterator over a fixed list of hosts.
type StaticHostIterator struct {
	ctx    Context
	hosts  []*structs.Host
	offset int
}

// NewStaticHostIterator constructs an iterator over the hosts, in order.
func NewStaticHostIterator(ctx Context, hosts []*structs.Host) *StaticHostIterator {
	return &StaticHostIterator{
		ctx:   ctx,
		hosts: hosts,
	}
}

func (iter *StaticHostIterator) Next() *structs.Host {
	if iter.offset == len(iter.hosts) {
		return nil
	}
	host := iter.hosts[iter.offset]
	iter.offset += 1
	iter.ctx.Metrics().EvaluateHost()
	return host
}

func (iter *StaticHostIterator) Reset() {
	iter.offset = 0
}

// SetHosts replaces the hosts and rewinds the iterator.
func (iter *StaticHostIterator) SetHosts(hosts []*structs.Host) {
	iter.hosts = hosts
	iter.Reset()
}

// FeasibleHostIterator applies a chain of checkers to the hosts of its
// source, yielding only those passing every one.
type FeasibleHostIterator struct {
	ctx      Context
	source   HostIterator
	checkers []HostChecker
}

func NewFeasibleHostIterator(ctx Context, source HostIterator, checkers ...HostChecker) *FeasibleHostIterator {
	return &FeasibleHostIterator{
		ctx:      ctx,
		source:   source,
		checkers: checkers,
	}
}

func (iter *FeasibleHostIterator) Next() *structs.Host {
OUTER:
	for {
		option := iter.source.Next()
		if option == nil {
			return nil
		}
		for _, checker := range iter.checkers {
			if !checker.Feasible(option) {
				continue OUTER
			}
		}
		return option
	}
}

func (iter *FeasibleHostIterator) Reset() {
	iter.source.Reset()
}

// collectHosts drains the iterator.
func collectHosts(iter HostIterator) []*structs.Host {
	var out []*structs.Host
	for {
		next := iter.Next()
		if next == nil {
			break
		}
		out = append(out, next)
	}
	return out
}

// HostPinChecker drops every host but the one the plan pins, if any.
type HostPinChecker struct {
	ctx  Context
	plan structs.DeploymentPlan
}

func NewHostPinChecker(ctx Context, plan structs.DeploymentPlan) *HostPinChecker {
	return &HostPinChecker{ctx: ctx, plan: plan}
}

func (c *HostPinChecker) Feasible(host *structs.Host) bool {
	if pin := c.plan.HostID(); pin != nil && *pin != host.ID {
		c.ctx.Metrics().FilterHost(FilterHostPin)
		return false
	}
	return true
}

// HostReadyChecker drops hosts that are down, disabled or run a
// hypervisor the VM cannot use.
type HostReadyChecker struct {
	ctx Context
	vm  *structs.VirtualMachineProfile
}

func NewHostReadyChecker(ctx Context, vm *structs.VirtualMachineProfile) *HostReadyChecker {
	return &HostReadyChecker{ctx: ctx, vm: vm}
}

func (c *HostReadyChecker) Feasible(host *structs.Host) bool {
	if !host.Ready() {
		c.ctx.Metrics().FilterHost(FilterHostNotReady)
		return false
	}
	if !c.vm.Hypervisor.Compatible(host.Hypervisor) {
		c.ctx.Metrics().FilterHost(FilterHypervisor)
		return false
	}
	return true
}

// HostPriorityChecker drops hosts the plan prohibits. Prohibition is plan
// local and never reaches the exclude list.
type HostPriorityChecker struct {
	ctx  Context
	plan structs.DeploymentPlan
}

func NewHostPriorityChecker(ctx Context, plan structs.DeploymentPlan) *HostPriorityChecker {
	return &HostPriorityChecker{ctx: ctx, plan: plan}
}

func (c *HostPriorityChecker) Feasible(host *structs.Host) bool {
	if c.plan.HostPriority(host.ID).IsProhibited() {
		c.ctx.Metrics().FilterHost(FilterHostProhibited)
		return false
	}
	return true
}

// HostExcludeChecker drops hosts the exclude list avoids.
type HostExcludeChecker struct {
	ctx   Context
	avoid *structs.ExcludeList
}

func NewHostExcludeChecker(ctx Context, avoid *structs.ExcludeList) *HostExcludeChecker {
	return &HostExcludeChecker{ctx: ctx, avoid: avoid}
}

func (c *HostExcludeChecker) Feasible(host *structs.Host) bool {
	if c.avoid.ShouldAvoidHost(host) {
		c.ctx.Metrics().FilterHost(FilterExcluded)
		return false
	}
	return true
}

// CurrentHostChecker drops the host a migrating VM runs on today.
type CurrentHostChecker struct {
	ctx  Context
	vm   *structs.VirtualMachineProfile
	plan structs.DeploymentPlan
}

func NewCurrentHostChecker(ctx Context, vm *structs.VirtualMachineProfile, plan structs.DeploymentPlan) *CurrentHostChecker {
	return &CurrentHostChecker{ctx: ctx, vm: vm, plan: plan}
}

func (c *CurrentHostChecker) Feasible(host *structs.Host) bool {
	if c.plan.MigrationPlan() && c.vm.CurrentHostID != 0 && host.ID == c.vm.CurrentHostID {
		c.ctx.Metrics().FilterHost(FilterHostCurrent)
		return false
	}
	return true
}

// HostTagChecker drops hosts lacking any of the requested host tags.
type HostTagChecker struct {
	ctx  Context
	tags []string
}

func NewHostTagChecker(ctx Context, tags []string) *HostTagChecker {
	return &HostTagChecker{ctx: ctx, tags: tags}
}

func (c *HostTagChecker) Feasible(host *structs.Host) bool {
	if !tagsSatisfied(host.Tags, c.tags) {
		c.ctx.Metrics().FilterHost(FilterHostTags)
		return false
	}
	return true
}

// HostVersionChecker drops hosts whose hypervisor version does not satisfy
// the VM's version constraint. Hosts reporting an unparsable version never
// satisfy a constraint.
type HostVersionChecker struct {
	ctx        Context
	constraint version.Constraints
}

// NewHostVersionChecker parses the constraint up front. An empty
// constraint accepts every host.
func NewHostVersionChecker(ctx Context, constraint string) (*HostVersionChecker, error) {
	c := &HostVersionChecker{ctx: ctx}
	if constraint == "" {
		return c, nil
	}
	parsed, err := version.NewConstraint(constraint)
	if err != nil {
		return nil, fmt.Errorf("invalid hypervisor version constraint %q: %w", constraint, err)
	}
	c.constraint = parsed
	return c, nil
}

func (c *HostVersionChecker) Feasible(host *structs.Host) bool {
	if len(c.constraint) == 0 {
		return true
	}
	v, err := version.NewVersion(host.HypervisorVersion)
	if err != nil || !c.constraint.Check(v) {
		c.ctx.Metrics().FilterHost(FilterHostVersion)
		return false
	}
	return true
}

// HostTenancyChecker drops hosts whose resident VMs rule out the request
// under the planner's resource usage: bare metal takes only empty hosts,
// dedicated usage takes hosts without other accounts' VMs and shared usage
// avoids hosts dedicated to other accounts.
type HostTenancyChecker struct {
	ctx   Context
	vm    *structs.VirtualMachineProfile
	usage structs.PlannerResourceUsage
}

func NewHostTenancyChecker(ctx Context, vm *structs.VirtualMachineProfile, usage structs.PlannerResourceUsage) *HostTenancyChecker {
	return &HostTenancyChecker{ctx: ctx, vm: vm, usage: usage}
}

func (c *HostTenancyChecker) Feasible(host *structs.Host) bool {
	vms, err := c.ctx.State().VirtualMachinesByHost(host.ID)
	if err != nil {
		c.ctx.Logger().Error("failed to look up vms", "host_id", host.ID, "error", err)
		return false
	}
	if structs.TenancyConflict(host, vms, c.vm, c.usage) == "" {
		return true
	}
	if c.vm.Hypervisor == structs.HypervisorBareMetal {
		c.ctx.Metrics().FilterHost(FilterHostNotEmpty)
	} else {
		c.ctx.Metrics().FilterHost(FilterDedication)
	}
	return false
}

// HostCapacityChecker drops hosts without room for the VM's CPU and
// memory under the cluster overcommit ratios. The cluster is set per
// cluster being walked.
type HostCapacityChecker struct {
	ctx     Context
	vm      *structs.VirtualMachineProfile
	cluster *structs.Cluster
}

func NewHostCapacityChecker(ctx Context, vm *structs.VirtualMachineProfile) *HostCapacityChecker {
	return &HostCapacityChecker{ctx: ctx, vm: vm}
}

func (c *HostCapacityChecker) SetCluster(cluster *structs.Cluster) {
	c.cluster = cluster
}

func (c *HostCapacityChecker) Feasible(host *structs.Host) bool {
	if structs.HostFits(c.cluster, host, c.vm.CPUMHz, c.vm.MemoryMB) {
		return true
	}
	if !structs.HostFits(c.cluster, host, c.vm.CPUMHz, 0) {
		c.ctx.Metrics().ExhaustedHost(ExhaustedCPU)
	} else {
		c.ctx.Metrics().ExhaustedHost(ExhaustedMemory)
	}
	return false
}

// HostStack chains the host checkers of one request. It is built once per
// request and pointed at each candidate cluster in turn.
type HostStack struct {
	ctx      Context
	source   *StaticHostIterator
	capacity *HostCapacityChecker
	feasible *FeasibleHostIterator
}

// NewHostStack constructs the host stack for a request. Checkers run in
// order: plan pin, readiness, prohibition, exclude list, current host,
// tags, hypervisor version, the extra checkers and finally capacity.
func NewHostStack(ctx Context, vm *structs.VirtualMachineProfile, plan structs.DeploymentPlan,
	avoid *structs.ExcludeList, extra ...HostChecker) (*HostStack, error) {

	versions, err := NewHostVersionChecker(ctx, vm.HypervisorVersion)
	if err != nil {
		return nil, err
	}

	s := &HostStack{
		ctx:      ctx,
		source:   NewStaticHostIterator(ctx, nil),
		capacity: NewHostCapacityChecker(ctx, vm),
	}
	checkers := []HostChecker{
		NewHostPinChecker(ctx, plan),
		NewHostReadyChecker(ctx, vm),
		NewHostPriorityChecker(ctx, plan),
		NewHostExcludeChecker(ctx, avoid),
		NewCurrentHostChecker(ctx, vm, plan),
		NewHostTagChecker(ctx, vm.HostTags),
		versions,
	}
	checkers = append(checkers, extra...)
	checkers = append(checkers, s.capacity)
	s.feasible = NewFeasibleHostIterator(ctx, s.source, checkers...)
	return s, nil
}

// SetCluster points the stack at the hosts of a cluster.
func (s *HostStack) SetCluster(cluster *structs.Cluster, hosts []*structs.Host) {
	s.capacity.SetCluster(cluster)
	s.source.SetHosts(hosts)
}

// Feasible returns the hosts of the current cluster passing every check,
// in source order.
func (s *HostStack) Feasible() []*structs.Host {
	return collectHosts(s.feasible)
}
