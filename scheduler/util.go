// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: BUSL-1.1

package scheduler

import (
	"cmp"
	"math/rand"

	"github.com/hashicorp/go-set/v3"
	"github.com/vmplacement/deployplanner/placement/structs"
)

// shuffle randomizes the order of items in place with the Fisher-Yates
// algorithm. Callers sort the input first so that a fixed seed yields a
// fixed order.
func shuffle[T any](r *rand.Rand, items []T) {
	n := len(items)
	for i := n - 1; i > 0; i-- {
		j := r.Intn(i + 1)
		items[i], items[j] = items[j], items[i]
	}
}

// tagsSatisfied returns whether have contains every tag in want.
func tagsSatisfied(have, want []string) bool {
	if len(want) == 0 {
		return true
	}
	return set.From(have).Subset(set.From(want))
}

// accountVMCounts tallies the account's placed VMs by the given key.
func accountVMCounts(vms []*structs.VirtualMachine, key func(*structs.VirtualMachine) int64) map[int64]int {
	counts := make(map[int64]int, len(vms))
	for _, vm := range vms {
		counts[key(vm)]++
	}
	return counts
}

// byScoreThenID orders ascending by score with ties broken by ascending
// id.
func byScoreThenID(scoreA, scoreB float64, idA, idB int64) int {
	if c := cmp.Compare(scoreA, scoreB); c != 0 {
		return c
	}
	return cmp.Compare(idA, idB)
}

// poolsByDataCenterCache memoizes pool lookups for the duration of one
// allocation pass.
type poolsByDataCenterCache struct {
	state State
	pools map[int64][]*structs.StoragePool
}

func newPoolsCache(s State) *poolsByDataCenterCache {
	return &poolsByDataCenterCache{state: s, pools: make(map[int64][]*structs.StoragePool)}
}

func (c *poolsByDataCenterCache) get(dcID int64) ([]*structs.StoragePool, error) {
	if pools, ok := c.pools[dcID]; ok {
		return pools, nil
	}
	pools, err := c.state.StoragePoolsByDataCenter(dcID)
	if err != nil {
		return nil, err
	}
	c.pools[dcID] = pools
	return pools, nil
}
