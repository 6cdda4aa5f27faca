// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: BUSL-1.1

package scheduler

import (
	"fmt"

	"github.com/hashicorp/go-hclog"
	"github.com/vmplacement/deployplanner/placement/structs"
)

// Allocator picks a host and storage within the ordered clusters returned
// by a ClusterPlanner. A nil destination with a nil error means none of the
// clusters had room. A structs.CapacityError means the choice was lost to
// a concurrent reservation and may be retried.
type Allocator interface {
	Allocate(ctx Context, vm *structs.VirtualMachineProfile, plan structs.DeploymentPlan,
		avoid *structs.ExcludeList, clusters []int64, usage structs.PlannerResourceUsage) (*structs.DeployDestination, error)
}

// HostAllocator walks the clusters in order and, within each, the ranked
// feasible hosts, taking the first host that also has storage for every
// volume. When a Reserver is set the choice is committed before it is
// returned.
type HostAllocator struct {
	logger   hclog.Logger
	reserver Reserver
}

// NewHostAllocator returns an allocator. A nil reserver makes it a dry run
// that only proposes destinations.
func NewHostAllocator(logger hclog.Logger, reserver Reserver) *HostAllocator {
	if logger == nil {
		logger = hclog.NewNullLogger()
	}
	return &HostAllocator{
		logger:   logger.Named("allocator"),
		reserver: reserver,
	}
}

func (a *HostAllocator) Allocate(ctx Context, vm *structs.VirtualMachineProfile, plan structs.DeploymentPlan,
	avoid *structs.ExcludeList, clusters []int64, usage structs.PlannerResourceUsage) (*structs.DeployDestination, error) {

	stack, err := NewHostStack(ctx, vm, plan, avoid, NewHostTenancyChecker(ctx, vm, usage))
	if err != nil {
		return nil, err
	}
	storage := NewStorageSelector(ctx, vm, plan, avoid)
	algorithm := ctx.Config().Algorithm()
	state := ctx.State()

	for _, id := range clusters {
		cluster, err := state.ClusterByID(id)
		if err != nil {
			return nil, err
		}
		if cluster == nil {
			a.logger.Warn("ordered cluster no longer exists", "cluster_id", id)
			continue
		}
		hosts, err := state.HostsByCluster(id)
		if err != nil {
			return nil, fmt.Errorf("failed to look up hosts of cluster %d: %w", id, err)
		}

		stack.SetCluster(cluster, hosts)
		ranked, err := RankHosts(ctx, vm, plan, algorithm, cluster, stack.Feasible())
		if err != nil {
			return nil, err
		}

		for _, option := range ranked {
			pools, ok, err := storage.Select(option.Host)
			if err != nil {
				return nil, fmt.Errorf("failed to select storage on host %d: %w", option.Host.ID, err)
			}
			if !ok {
				ctx.Metrics().ExhaustedHost(ExhaustedStorage)
				continue
			}
			return a.finalize(ctx, vm, cluster, option.Host, pools, usage)
		}
		ctx.Metrics().ExhaustedCluster()
	}
	return nil, nil
}

// finalize assembles the destination and commits it when a reserver is
// set.
func (a *HostAllocator) finalize(ctx Context, vm *structs.VirtualMachineProfile, cluster *structs.Cluster,
	host *structs.Host, pools map[*structs.Volume]*structs.StoragePool, usage structs.PlannerResourceUsage) (*structs.DeployDestination, error) {

	dest, err := buildDestination(ctx.State(), cluster, host, pools)
	if err != nil {
		return nil, err
	}
	if a.reserver != nil {
		if err := a.reserver.ReserveCapacity(vm, dest, usage); err != nil {
			a.logger.Debug("reservation failed", "vm_id", vm.ID, "destination", dest, "error", err)
			return nil, err
		}
	}
	return dest, nil
}

// buildDestination resolves the pod and data center of the cluster and
// assembles a validated destination.
func buildDestination(s State, cluster *structs.Cluster, host *structs.Host,
	pools map[*structs.Volume]*structs.StoragePool) (*structs.DeployDestination, error) {

	pod, err := s.PodByID(cluster.PodID)
	if err != nil {
		return nil, err
	}
	dc, err := s.DataCenterByID(cluster.DataCenterID)
	if err != nil {
		return nil, err
	}
	dest, err := structs.NewDeployDestination(dc, pod, cluster, host, pools)
	if err != nil {
		return nil, fmt.Errorf("invalid destination: %w", err)
	}
	return dest, nil
}
