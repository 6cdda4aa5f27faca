// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: BUSL-1.1

package command

import (
	"fmt"
	"slices"
	"strings"

	"github.com/hashicorp/go-set/v3"
	"github.com/posener/complete"
	"github.com/vmplacement/deployplanner/placement/inventory"
	"github.com/vmplacement/deployplanner/placement/structs"
	"github.com/vmplacement/deployplanner/placement/structs/config"
)

type ValidateCommand struct {
	Meta
}

func (c *ValidateCommand) Help() string {
	helpText := `
Usage: deployplanner validate [options] <inventory> [<requests>]

  Checks that the inventory file, and the requests file when given, decode
  and describe a consistent set of resources. Requests that pin resources
  missing from the inventory are reported as warnings.

General Options:
` + generalOptionsUsage() + `
Validate Options:

  -config=<path>
    Path to an HCL planner configuration file to validate as well.
`
	return strings.TrimSpace(helpText)
}

func (c *ValidateCommand) Synopsis() string {
	return "Checks inventory, request and configuration files"
}

func (c *ValidateCommand) AutocompleteFlags() complete.Flags {
	return mergeAutocompleteFlags(c.Meta.AutocompleteFlags(FlagSetDefault),
		complete.Flags{
			"-config": complete.PredictFiles("*.hcl"),
		})
}

func (c *ValidateCommand) AutocompleteArgs() complete.Predictor {
	return complete.PredictFiles("*.hcl")
}

func (c *ValidateCommand) Name() string { return "validate" }

func (c *ValidateCommand) Run(args []string) int {
	var configPath string

	flagSet := c.Meta.FlagSet(c.Name(), FlagSetDefault)
	flagSet.Usage = func() { c.Ui.Output(c.Help()) }
	flagSet.StringVar(&configPath, "config", "", "")

	if err := flagSet.Parse(args); err != nil {
		return 1
	}

	// Check that we got one or two arguments
	args = flagSet.Args()
	if l := len(args); l < 1 || l > 2 {
		c.Ui.Error("This command takes one or two arguments: <inventory> [<requests>]")
		c.Ui.Error(commandErrorText(c))
		return 1
	}

	var cfg *config.PlannerConfig
	if configPath != "" {
		var err error
		if cfg, err = config.LoadPlannerConfig(configPath); err != nil {
			c.Ui.Error(wrapAtLength(fmt.Sprintf("Error validating configuration: %s", err)))
			return 1
		}
	}

	inv, invFile, err := loadInventory(args[0])
	if err != nil {
		c.Ui.Error(wrapAtLength(fmt.Sprintf("Error validating inventory: %s", err)))
		return 1
	}
	var requestsPath string
	if len(args) == 2 {
		requestsPath = args[1]
	}
	reqs, err := loadRequests(invFile, requestsPath)
	if err != nil {
		c.Ui.Error(wrapAtLength(fmt.Sprintf("Error validating requests: %s", err)))
		return 1
	}

	summary := []string{
		fmt.Sprintf("Data Centers|%d", len(inv.DataCenters)),
		fmt.Sprintf("Pods|%d", len(inv.Pods)),
		fmt.Sprintf("Clusters|%d", len(inv.Clusters)),
		fmt.Sprintf("Hosts|%d", len(inv.Hosts)),
		fmt.Sprintf("Storage Pools|%d", len(inv.StoragePools)),
		fmt.Sprintf("Placed VMs|%d", len(inv.VirtualMachines)),
		fmt.Sprintf("Requests|%d", len(reqs)),
	}
	if cfg != nil {
		summary = append(summary, fmt.Sprintf("Allocation Algorithm|%s", cfg.Algorithm()))
	}
	c.Ui.Output(formatKV(summary))

	for _, warning := range unknownReferences(inv, reqs) {
		c.Ui.Warn(wrapAtLength(warning))
	}
	return 0
}

// unknownReferences lists, per kind, the resources requests pin or prefer
// that the inventory does not have.
func unknownReferences(inv *structs.Inventory, reqs []*inventory.Request) []string {
	known := map[string]*set.Set[int64]{
		"data centers":  set.New[int64](len(inv.DataCenters)),
		"pods":          set.New[int64](len(inv.Pods)),
		"clusters":      set.New[int64](len(inv.Clusters)),
		"hosts":         set.New[int64](len(inv.Hosts)),
		"storage pools": set.New[int64](len(inv.StoragePools)),
	}
	for _, dc := range inv.DataCenters {
		known["data centers"].Insert(dc.ID)
	}
	for _, pod := range inv.Pods {
		known["pods"].Insert(pod.ID)
	}
	for _, cluster := range inv.Clusters {
		known["clusters"].Insert(cluster.ID)
	}
	for _, host := range inv.Hosts {
		known["hosts"].Insert(host.ID)
	}
	for _, pool := range inv.StoragePools {
		known["storage pools"].Insert(pool.ID)
	}

	referenced := make(map[string]*set.Set[int64], len(known))
	for kind := range known {
		referenced[kind] = set.New[int64](0)
	}
	ref := func(kind string, id *int64) {
		if id != nil {
			referenced[kind].Insert(*id)
		}
	}
	for _, req := range reqs {
		plan := req.Plan
		dc := plan.DataCenterID()
		ref("data centers", &dc)
		ref("pods", plan.PodID())
		ref("clusters", plan.ClusterID())
		ref("hosts", plan.HostID())
		ref("storage pools", plan.PoolID())
		referenced["hosts"].InsertSlice(plan.PreferredHosts())
	}

	var warnings []string
	for _, kind := range []string{"data centers", "pods", "clusters", "hosts", "storage pools"} {
		missing := referenced[kind].Difference(known[kind])
		if missing.Empty() {
			continue
		}
		ids := missing.Slice()
		slices.Sort(ids)
		warnings = append(warnings, fmt.Sprintf("Requests reference %s missing from the inventory: %s",
			kind, formatIDs(ids)))
	}
	return warnings
}
