// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: BUSL-1.1

package command

import (
	"cmp"
	"fmt"
	"slices"
	"strings"

	"github.com/hashicorp/go-bexpr"
	"github.com/posener/complete"
	"github.com/vmplacement/deployplanner/helper/pointer"
	"github.com/vmplacement/deployplanner/placement/state"
	"github.com/vmplacement/deployplanner/placement/structs"
	"github.com/vmplacement/deployplanner/placement/structs/config"
)

type InventoryCommand struct {
	Meta
}

func (c *InventoryCommand) Help() string {
	helpText := `
Usage: deployplanner inventory [options] <inventory>

  Displays the allocated capacity of every cluster in the inventory and
  whether the cluster can still receive placements under the configured
  disable thresholds. Storage pools are listed with their free space.

General Options:
` + generalOptionsUsage() + `
Inventory Options:

  -config=<path>
    Path to an HCL planner configuration file providing the disable
    thresholds.

  -filter=<expression>
    Only list the clusters matching the boolean expression, evaluated
    against the cluster fields, e.g. 'Hypervisor == "KVM"'.

  -storage=<bool>
    Whether to list the storage pools. Defaults to true.
`
	return strings.TrimSpace(helpText)
}

func (c *InventoryCommand) Synopsis() string {
	return "Display cluster capacity and threshold status"
}

func (c *InventoryCommand) AutocompleteFlags() complete.Flags {
	return mergeAutocompleteFlags(c.Meta.AutocompleteFlags(FlagSetDefault),
		complete.Flags{
			"-config":  complete.PredictFiles("*.hcl"),
			"-filter":  complete.PredictAnything,
			"-storage": complete.PredictNothing,
		})
}

func (c *InventoryCommand) AutocompleteArgs() complete.Predictor {
	return complete.PredictFiles("*.hcl")
}

func (c *InventoryCommand) Name() string { return "inventory" }

func (c *InventoryCommand) Run(args []string) int {
	var configPath, filter string
	var storage bool

	flagSet := c.Meta.FlagSet(c.Name(), FlagSetDefault)
	flagSet.Usage = func() { c.Ui.Output(c.Help()) }
	flagSet.StringVar(&configPath, "config", "", "")
	flagSet.StringVar(&filter, "filter", "", "")
	flagSet.BoolVar(&storage, "storage", true, "")

	if err := flagSet.Parse(args); err != nil {
		return 1
	}

	// Check that we got exactly one argument
	args = flagSet.Args()
	if len(args) != 1 {
		c.Ui.Error("This command takes one argument: <inventory>")
		c.Ui.Error(commandErrorText(c))
		return 1
	}

	var eval *bexpr.Evaluator
	if filter != "" {
		var err error
		if eval, err = bexpr.CreateEvaluator(filter); err != nil {
			c.Ui.Error(fmt.Sprintf("Error parsing filter: %s", err))
			return 1
		}
	}

	cfg, err := loadConfig(configPath)
	if err != nil {
		c.Ui.Error(fmt.Sprintf("Error loading configuration: %s", err))
		return 1
	}
	inv, _, err := loadInventory(args[0])
	if err != nil {
		c.Ui.Error(fmt.Sprintf("Error loading inventory: %s", err))
		return 1
	}

	store, err := state.NewStateStore(newLogger(c.Ui, cfg.LogLevel))
	if err != nil {
		c.Ui.Error(fmt.Sprintf("Error creating state store: %s", err))
		return 1
	}
	if err := store.UpsertInventory(inv); err != nil {
		c.Ui.Error(fmt.Sprintf("Error loading inventory: %s", err))
		return 1
	}

	clusters, err := c.clusterRows(store, cfg, eval)
	if err != nil {
		c.Ui.Error(fmt.Sprintf("Error reading capacity: %s", err))
		return 1
	}
	c.Ui.Output(c.Colorize().Color("[bold]Clusters[reset]"))
	c.Ui.Output(formatList(clusters))

	if !storage {
		return 0
	}
	pools, err := c.poolRows(store)
	if err != nil {
		c.Ui.Error(fmt.Sprintf("Error reading storage pools: %s", err))
		return 1
	}
	c.Ui.Output(c.Colorize().Color("\n[bold]Storage Pools[reset]"))
	c.Ui.Output(formatList(pools))
	return 0
}

func (c *InventoryCommand) clusterRows(store *state.StateStore, cfg *config.PlannerConfig, eval *bexpr.Evaluator) ([]string, error) {
	rows := []string{"ID|Name|Data Center|Pod|Hypervisor|Hosts|CPU|CPU Used|Memory|Memory Used|Status"}

	dcs, err := store.DataCenters()
	if err != nil {
		return nil, err
	}
	slices.SortFunc(dcs, func(a, b *structs.DataCenter) int { return cmp.Compare(a.ID, b.ID) })

	for _, dc := range dcs {
		clusters, err := store.ClustersByDataCenter(dc.ID)
		if err != nil {
			return nil, err
		}
		slices.SortFunc(clusters, func(a, b *structs.Cluster) int { return cmp.Compare(a.ID, b.ID) })

		for _, cluster := range clusters {
			if eval != nil {
				match, err := eval.Evaluate(cluster)
				if err != nil {
					return nil, fmt.Errorf("failed to filter cluster %d: %w", cluster.ID, err)
				}
				if !match {
					continue
				}
			}

			pod, err := store.PodByID(cluster.PodID)
			if err != nil {
				return nil, err
			}
			hosts, err := store.HostsByCluster(cluster.ID)
			if err != nil {
				return nil, err
			}
			capacity, err := store.ClusterCapacity(cluster.ID)
			if err != nil {
				return nil, err
			}

			podName := ""
			podEnabled := true
			if pod != nil {
				podName = pod.Name
				podEnabled = pod.AllocationState.Enabled()
			}
			status := clusterStatus(cfg, capacity, cluster,
				dc.AllocationState.Enabled() && podEnabled && cluster.AllocationState.Enabled())

			rows = append(rows, fmt.Sprintf("%d|%s|%s|%s|%s|%d|%.0f MHz|%s|%s|%s|%s",
				cluster.ID, cluster.Name, dc.Name, podName, cluster.Hypervisor, len(hosts),
				capacity.CPUTotalMHz, formatPercent(capacity.CPUFraction(0)),
				formatMB(int64(capacity.MemoryTotalMB)), formatPercent(capacity.MemoryFraction(0)),
				status))
		}
	}
	return rows, nil
}

// clusterStatus describes whether the cluster can take new placements.
func clusterStatus(cfg *config.PlannerConfig, capacity *structs.ClusterCapacity, cluster *structs.Cluster, enabled bool) string {
	if !enabled {
		return "disabled"
	}
	if !cfg.ThresholdsEnabled() {
		return "ok"
	}
	cpu := pointer.ValueOr(cluster.CPUDisableThreshold, cfg.CPUThreshold())
	mem := pointer.ValueOr(cluster.MemoryDisableThreshold, cfg.MemoryThreshold())
	switch {
	case capacity.CPUFraction(0) > cpu:
		return fmt.Sprintf("over cpu threshold (%s)", formatPercent(cpu))
	case capacity.MemoryFraction(0) > mem:
		return fmt.Sprintf("over memory threshold (%s)", formatPercent(mem))
	default:
		return "ok"
	}
}

func (c *InventoryCommand) poolRows(store *state.StateStore) ([]string, error) {
	rows := []string{"ID|Name|Scope|Owner|Status|Capacity|Used|Free|Tags"}

	dcs, err := store.DataCenters()
	if err != nil {
		return nil, err
	}
	var pools []*structs.StoragePool
	for _, dc := range dcs {
		dcPools, err := store.StoragePoolsByDataCenter(dc.ID)
		if err != nil {
			return nil, err
		}
		pools = append(pools, dcPools...)
	}
	slices.SortFunc(pools, func(a, b *structs.StoragePool) int { return cmp.Compare(a.ID, b.ID) })

	for _, p := range pools {
		var owner int64
		switch p.Scope {
		case structs.StoragePoolScopeHost:
			owner = p.HostID
		case structs.StoragePoolScopeCluster:
			owner = p.ClusterID
		default:
			owner = p.DataCenterID
		}
		rows = append(rows, fmt.Sprintf("%d|%s|%s|%d|%s|%s|%s|%s|%s",
			p.ID, p.Name, p.Scope, owner, p.Status,
			formatBytes(p.CapacityBytes), formatBytes(p.UsedBytes), formatBytes(p.FreeBytes()),
			strings.Join(p.Tags, ",")))
	}
	return rows, nil
}
