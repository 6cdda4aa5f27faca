// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: BUSL-1.1

package structs

import "fmt"

// ClusterCapacity is a point in time view of a cluster's aggregate compute
// capacity. Totals already include the cluster overcommit ratios.
type ClusterCapacity struct {
	ClusterID int64

	CPUTotalMHz   float64
	CPUUsedMHz    int64
	MemoryTotalMB float64
	MemoryUsedMB  int64
}

// NewClusterCapacity sums the capacity of the cluster's hosts that are up.
func NewClusterCapacity(cluster *Cluster, hosts []*Host) *ClusterCapacity {
	c := &ClusterCapacity{ClusterID: cluster.ID}
	for _, h := range hosts {
		if h.ClusterID != cluster.ID || h.Status != HostStatusUp {
			continue
		}
		c.CPUTotalMHz += float64(h.CPUMHz) * cluster.CPUOvercommit()
		c.MemoryTotalMB += float64(h.MemoryMB) * cluster.MemoryOvercommit()
		c.CPUUsedMHz += h.CPUUsedMHz
		c.MemoryUsedMB += h.MemoryUsedMB
	}
	return c
}

func fraction(used, requested int64, total float64) float64 {
	if total <= 0 {
		// A cluster without capacity is treated as full.
		return 1
	}
	return float64(used+requested) / total
}

// CPUFraction returns the fraction of CPU allocated once requested MHz are
// added.
func (c *ClusterCapacity) CPUFraction(requested int64) float64 {
	return fraction(c.CPUUsedMHz, requested, c.CPUTotalMHz)
}

// MemoryFraction returns the fraction of memory allocated once requested
// MB are added.
func (c *ClusterCapacity) MemoryFraction(requested int64) float64 {
	return fraction(c.MemoryUsedMB, requested, c.MemoryTotalMB)
}

// FreeCPU returns the unallocated CPU in MHz.
func (c *ClusterCapacity) FreeCPU() float64 {
	return c.CPUTotalMHz - float64(c.CPUUsedMHz)
}

// FreeMemory returns the unallocated memory in MB.
func (c *ClusterCapacity) FreeMemory() float64 {
	return c.MemoryTotalMB - float64(c.MemoryUsedMB)
}

func (c *ClusterCapacity) String() string {
	return fmt.Sprintf("Cluster(%d) cpu=%d/%.0f mem=%d/%.0f",
		c.ClusterID, c.CPUUsedMHz, c.CPUTotalMHz, c.MemoryUsedMB, c.MemoryTotalMB)
}

// HostFits returns whether the host has room for the requested CPU and
// memory under the cluster overcommit ratios.
func HostFits(cluster *Cluster, host *Host, cpuMHz, memoryMB int64) bool {
	cpuTotal := float64(host.CPUMHz) * cluster.CPUOvercommit()
	memTotal := float64(host.MemoryMB) * cluster.MemoryOvercommit()
	return float64(host.CPUUsedMHz+cpuMHz) <= cpuTotal &&
		float64(host.MemoryUsedMB+memoryMB) <= memTotal
}

// HostFreeFraction returns the fraction of the host's memory and CPU that
// is unallocated, averaged. Used to order hosts within a cluster.
func HostFreeFraction(cluster *Cluster, host *Host) float64 {
	cpuTotal := float64(host.CPUMHz) * cluster.CPUOvercommit()
	memTotal := float64(host.MemoryMB) * cluster.MemoryOvercommit()
	if cpuTotal <= 0 || memTotal <= 0 {
		return 0
	}
	cpu := 1 - float64(host.CPUUsedMHz)/cpuTotal
	mem := 1 - float64(host.MemoryUsedMB)/memTotal
	return (cpu + mem) / 2
}
