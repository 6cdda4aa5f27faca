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

// RankedHost is a feasible host along with the ranking metadata used to
// order it.
type RankedHost struct {
	Host     *structs.Host
	Priority structs.HostPriority

	// Preferred is the position of the host in the plan's preferred host
	// list, or -1.
	Preferred int

	Score float64
}

func (r *RankedHost) GoString() string {
	return fmt.Sprintf("<Host: %d Priority: %s Score: %0.3f>", r.Host.ID, r.Priority, r.Score)
}

// RankHosts orders the feasible hosts of a cluster. The algorithm gives
// the base order, then a stable sort moves hosts with a higher plan
// priority first and, within equal priority, preferred hosts first in the
// order the plan lists them.
func RankHosts(ctx Context, vm *structs.VirtualMachineProfile, plan structs.DeploymentPlan,
	algorithm config.AllocationAlgorithm, cluster *structs.Cluster, hosts []*structs.Host) ([]*RankedHost, error) {

	preferred := make(map[int64]int)
	for i, id := range plan.PreferredHosts() {
		if _, ok := preferred[id]; !ok {
			preferred[id] = i
		}
	}

	out := make([]*RankedHost, 0, len(hosts))
	for _, h := range hosts {
		pos, ok := preferred[h.ID]
		if !ok {
			pos = -1
		}
		out = append(out, &RankedHost{
			Host:      h,
			Priority:  plan.HostPriority(h.ID),
			Preferred: pos,
		})
	}
	slices.SortFunc(out, func(a, b *RankedHost) int {
		return cmp.Compare(a.Host.ID, b.Host.ID)
	})

	switch algorithm {
	case config.AlgorithmFirstFit, config.AlgorithmUserConcentratedPodFirstFit:
		// id order

	case config.AlgorithmRandom, config.AlgorithmUserConcentratedPodRandom:
		shuffle(ctx.Rand(), out)

	case config.AlgorithmFirstFitLeastConsumed:
		for _, h := range out {
			h.Score = structs.HostFreeFraction(cluster, h.Host)
		}
		slices.SortStableFunc(out, func(a, b *RankedHost) int {
			return byScoreThenID(b.Score, a.Score, a.Host.ID, b.Host.ID)
		})

	case config.AlgorithmUserDispersing:
		vms, err := ctx.State().VirtualMachinesByAccount(vm.AccountID)
		if err != nil {
			return nil, fmt.Errorf("failed to look up vms of account %q: %w", vm.AccountID, err)
		}
		counts := accountVMCounts(vms, hostOf)
		for _, h := range out {
			h.Score = float64(counts[h.Host.ID])
		}
		slices.SortStableFunc(out, func(a, b *RankedHost) int {
			if c := cmp.Compare(a.Score, b.Score); c != 0 {
				return c
			}
			return byScoreThenID(
				structs.HostFreeFraction(cluster, b.Host),
				structs.HostFreeFraction(cluster, a.Host),
				a.Host.ID, b.Host.ID)
		})

	default:
		return nil, fmt.Errorf("unsupported allocation algorithm %q", algorithm)
	}

	slices.SortStableFunc(out, func(a, b *RankedHost) int {
		if c := cmp.Compare(b.Priority.Bias(), a.Priority.Bias()); c != 0 {
			return c
		}
		switch {
		case a.Preferred >= 0 && b.Preferred >= 0:
			return cmp.Compare(a.Preferred, b.Preferred)
		case a.Preferred >= 0:
			return -1
		case b.Preferred >= 0:
			return 1
		}
		return 0
	})
	return out, nil
}
