// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: BUSL-1.1

// Package inventory decodes HCL files describing placement resources and
// the VMs to place on them.
package inventory

import (
	"fmt"
	"reflect"

	"github.com/vmplacement/deployplanner/helper/hcl"
)

// File is the decoded form of an inventory or request file. Inventory
// blocks (datacenter, placed_vm) and request blocks (vm) may share a file.
type File struct {
	DataCenters []*DataCenterBlock `hcl:"datacenter,block"`
	PlacedVMs   []*PlacedVMBlock   `hcl:"placed_vm,block"`
	VMs         []*VMBlock         `hcl:"vm,block"`
}

// ByteSize is a size in bytes written either as a number or as a human
// readable string such as "64 GiB".
type ByteSize int64

// MB returns the size in mebibytes, rounded down.
func (b ByteSize) MB() int64 {
	return int64(b) >> 20
}

type DataCenterBlock struct {
	Name         string              `hcl:"name,label"`
	ID           int64               `hcl:"id"`
	Disabled     bool                `hcl:"disabled,optional"`
	Pods         []*PodBlock         `hcl:"pod,block"`
	StoragePools []*StoragePoolBlock `hcl:"storage_pool,block"`
}

type PodBlock struct {
	Name     string          `hcl:"name,label"`
	ID       int64           `hcl:"id"`
	Disabled bool            `hcl:"disabled,optional"`
	Clusters []*ClusterBlock `hcl:"cluster,block"`
}

type ClusterBlock struct {
	Name       string `hcl:"name,label"`
	ID         int64  `hcl:"id"`
	Hypervisor string `hcl:"hypervisor"`
	Disabled   bool   `hcl:"disabled,optional"`

	CPUOvercommitRatio     float64  `hcl:"cpu_overcommit_ratio,optional"`
	MemoryOvercommitRatio  float64  `hcl:"memory_overcommit_ratio,optional"`
	CPUDisableThreshold    *float64 `hcl:"cpu_disable_threshold,optional"`
	MemoryDisableThreshold *float64 `hcl:"memory_disable_threshold,optional"`

	Hosts        []*HostBlock        `hcl:"host,block"`
	StoragePools []*StoragePoolBlock `hcl:"storage_pool,block"`
}

type HostBlock struct {
	Name              string `hcl:"name,label"`
	ID                int64  `hcl:"id"`
	HypervisorVersion string `hcl:"hypervisor_version,optional"`
	Status            string `hcl:"status,optional"`
	Disabled          bool   `hcl:"disabled,optional"`

	CPUMHz     int64    `hcl:"cpu_mhz"`
	CPUUsedMHz int64    `hcl:"cpu_used_mhz,optional"`
	Memory     ByteSize `hcl:"memory"`
	MemoryUsed ByteSize `hcl:"memory_used,optional"`

	Tags         []string            `hcl:"tags,optional"`
	StoragePools []*StoragePoolBlock `hcl:"storage_pool,block"`
}

// StoragePoolBlock takes its scope from where it is declared: in a
// datacenter, a cluster or a host block.
type StoragePoolBlock struct {
	Name     string   `hcl:"name,label"`
	ID       int64    `hcl:"id"`
	Status   string   `hcl:"status,optional"`
	Capacity ByteSize `hcl:"capacity"`
	Used     ByteSize `hcl:"used,optional"`
	Tags     []string `hcl:"tags,optional"`
}

// PlacedVMBlock is a VM already running on a host.
type PlacedVMBlock struct {
	ID        int64  `hcl:"id"`
	Account   string `hcl:"account"`
	Host      int64  `hcl:"host"`
	Dedicated bool   `hcl:"dedicated,optional"`
}

type VMBlock struct {
	Name              string   `hcl:"name,label"`
	ID                int64    `hcl:"id"`
	Account           string   `hcl:"account"`
	Hypervisor        string   `hcl:"hypervisor,optional"`
	HypervisorVersion string   `hcl:"hypervisor_version,optional"`
	CPUMHz            int64    `hcl:"cpu_mhz"`
	Memory            ByteSize `hcl:"memory"`

	HostTags           []string `hcl:"host_tags,optional"`
	StorageTags        []string `hcl:"storage_tags,optional"`
	ImplicitDedication bool     `hcl:"implicit_dedication,optional"`
	CurrentHost        int64    `hcl:"current_host,optional"`

	Volumes    []*VolumeBlock   `hcl:"volume,block"`
	Deployment *DeploymentBlock `hcl:"deployment,block"`
}

type VolumeBlock struct {
	Name string   `hcl:"name,label"`
	ID   int64    `hcl:"id"`
	Type string   `hcl:"type,optional"`
	Size ByteSize `hcl:"size"`
	Pool int64    `hcl:"pool,optional"`
}

type DeploymentBlock struct {
	DataCenter      int64  `hcl:"datacenter"`
	Pod             *int64 `hcl:"pod,optional"`
	Cluster         *int64 `hcl:"cluster,optional"`
	Host            *int64 `hcl:"host,optional"`
	Pool            *int64 `hcl:"pool,optional"`
	PhysicalNetwork *int64 `hcl:"physical_network,optional"`
	Migration       bool   `hcl:"migration,optional"`

	PreferredHosts []int64              `hcl:"preferred_hosts,optional"`
	HostPriorities []*HostPriorityBlock `hcl:"host_priority,block"`
	Avoid          *AvoidBlock          `hcl:"avoid,block"`
}

// HostPriorityBlock adjusts the priority of one host. Blocks are applied
// in file order.
type HostPriorityBlock struct {
	Host   int64  `hcl:"host"`
	Adjust string `hcl:"adjust"`
}

type AvoidBlock struct {
	DataCenters []int64 `hcl:"datacenters,optional"`
	Pods        []int64 `hcl:"pods,optional"`
	Clusters    []int64 `hcl:"clusters,optional"`
	Hosts       []int64 `hcl:"hosts,optional"`
	Pools       []int64 `hcl:"pools,optional"`
}

func newParser() *hcl.Parser {
	p := hcl.NewParser()
	size := ByteSize(0)
	p.AddExpressionDecoder(reflect.TypeOf(size), hcl.DecodeBytes)
	p.AddExpressionDecoder(reflect.TypeOf(&size), hcl.DecodeBytes)
	return p
}

// Parse decodes HCL source into a File.
func Parse(src []byte, filename string) (*File, error) {
	var f File
	if diags := newParser().Parse(src, &f, filename); diags.HasErrors() {
		return nil, fmt.Errorf("failed to parse %s: %w", filename, diags)
	}
	return &f, nil
}

// LoadFile reads and decodes the HCL file at path.
func LoadFile(path string) (*File, error) {
	var f File
	if err := newParser().ParseFile(path, &f); err != nil {
		return nil, fmt.Errorf("failed to parse %s: %w", path, err)
	}
	return &f, nil
}
