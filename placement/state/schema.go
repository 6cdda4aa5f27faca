// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: BUSL-1.1

package state

import (
	"github.com/hashicorp/go-memdb"
)

const (
	TableDataCenters     = "datacenters"
	TablePods            = "pods"
	TableClusters        = "clusters"
	TableHosts           = "hosts"
	TableStoragePools    = "storage_pools"
	TableVirtualMachines = "vms"
)

const (
	indexID         = "id"
	indexDataCenter = "datacenter"
	indexPod        = "pod"
	indexCluster    = "cluster"
	indexHost       = "host"
	indexAccount    = "account"
)

// stateStoreSchema is used to return the schema for the state store
func stateStoreSchema() *memdb.DBSchema {
	db := &memdb.DBSchema{
		Tables: make(map[string]*memdb.TableSchema),
	}

	for _, fn := range []func() *memdb.TableSchema{
		dataCenterTableSchema,
		podTableSchema,
		clusterTableSchema,
		hostTableSchema,
		storagePoolTableSchema,
		vmTableSchema,
	} {
		schema := fn()
		db.Tables[schema.Name] = schema
	}
	return db
}

func idIndex() *memdb.IndexSchema {
	return &memdb.IndexSchema{
		Name:         indexID,
		AllowMissing: false,
		Unique:       true,
		Indexer:      &memdb.IntFieldIndex{Field: "ID"},
	}
}

func intIndex(name, field string) *memdb.IndexSchema {
	return &memdb.IndexSchema{
		Name:         name,
		AllowMissing: false,
		Unique:       false,
		Indexer:      &memdb.IntFieldIndex{Field: field},
	}
}

func dataCenterTableSchema() *memdb.TableSchema {
	return &memdb.TableSchema{
		Name: TableDataCenters,
		Indexes: map[string]*memdb.IndexSchema{
			indexID: idIndex(),
		},
	}
}

func podTableSchema() *memdb.TableSchema {
	return &memdb.TableSchema{
		Name: TablePods,
		Indexes: map[string]*memdb.IndexSchema{
			indexID:         idIndex(),
			indexDataCenter: intIndex(indexDataCenter, "DataCenterID"),
		},
	}
}

func clusterTableSchema() *memdb.TableSchema {
	return &memdb.TableSchema{
		Name: TableClusters,
		Indexes: map[string]*memdb.IndexSchema{
			indexID:         idIndex(),
			indexDataCenter: intIndex(indexDataCenter, "DataCenterID"),
			indexPod:        intIndex(indexPod, "PodID"),
		},
	}
}

func hostTableSchema() *memdb.TableSchema {
	return &memdb.TableSchema{
		Name: TableHosts,
		Indexes: map[string]*memdb.IndexSchema{
			indexID:      idIndex(),
			indexCluster: intIndex(indexCluster, "ClusterID"),
		},
	}
}

// storagePoolTableSchema indexes pools by data center only; zone wide
// pools carry no cluster and are filtered by scope in Go.
func storagePoolTableSchema() *memdb.TableSchema {
	return &memdb.TableSchema{
		Name: TableStoragePools,
		Indexes: map[string]*memdb.IndexSchema{
			indexID:         idIndex(),
			indexDataCenter: intIndex(indexDataCenter, "DataCenterID"),
		},
	}
}

func vmTableSchema() *memdb.TableSchema {
	return &memdb.TableSchema{
		Name: TableVirtualMachines,
		Indexes: map[string]*memdb.IndexSchema{
			indexID:   idIndex(),
			indexHost: intIndex(indexHost, "HostID"),
			indexAccount: {
				Name:         indexAccount,
				AllowMissing: true,
				Unique:       false,
				Indexer:      &memdb.StringFieldIndex{Field: "AccountID"},
			},
		},
	}
}
