// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: BUSL-1.1

package command

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"slices"
	"strings"

	"github.com/posener/complete"
	"github.com/ryanuber/go-glob"
	flaghelper "github.com/vmplacement/deployplanner/helper/flags"
	"github.com/vmplacement/deployplanner/placement/inventory"
	"github.com/vmplacement/deployplanner/placement/state"
	"github.com/vmplacement/deployplanner/placement/structs/config"
	"github.com/vmplacement/deployplanner/scheduler"
	"golang.org/x/sync/errgroup"
)

const (
	// planExitCapacity is returned when at least one VM could not be
	// placed for lack of capacity and no request failed otherwise.
	planExitCapacity = 2

	defaultPlanParallelism = 4
)

type PlanCommand struct {
	Meta
}

func (c *PlanCommand) Help() string {
	helpText := `
Usage: deployplanner plan [options] <inventory> [<requests>]

  Finds a deployment destination for every VM request against the inventory
  and reserves its capacity, so that later requests see earlier placements.
  Requests are read from the vm blocks of the requests file, or of the
  inventory file when no requests file is given. Requests are planned
  concurrently.

  The exit code is 0 when every VM was placed, 2 when at least one VM could
  not be placed for lack of capacity and 1 on any other error.

General Options:
` + generalOptionsUsage() + `
Plan Options:

  -config=<path>
    Path to an HCL planner configuration file.

  -algorithm=<name>
    Overrides the allocation algorithm of the configuration. One of random,
    firstfit, userdispersing, userconcentratedpod_random,
    userconcentratedpod_firstfit or firstfitleastconsumed.

  -seed=<n>
    Seeds the random orderings so that runs can be reproduced.

  -vm=<pattern>
    Only plan the VMs whose name matches the pattern, where "*" matches any
    sequence of characters. May be specified more than once.

  -parallelism=<n>
    Maximum number of requests planned at the same time. Defaults to 4.

  -verbose
    Show the planning metrics, storage placements and exclude list of every
    request.

  -log-level=<level>
    Overrides the log level of the configuration.
`
	return strings.TrimSpace(helpText)
}

func (c *PlanCommand) Synopsis() string {
	return "Plan VM deployments against an inventory"
}

func (c *PlanCommand) AutocompleteFlags() complete.Flags {
	algorithms := make([]string, len(config.AllocationAlgorithms))
	for i, a := range config.AllocationAlgorithms {
		algorithms[i] = string(a)
	}
	return mergeAutocompleteFlags(c.Meta.AutocompleteFlags(FlagSetDefault),
		complete.Flags{
			"-config":      complete.PredictFiles("*.hcl"),
			"-algorithm":   complete.PredictSet(algorithms...),
			"-seed":        complete.PredictAnything,
			"-vm":          complete.PredictAnything,
			"-parallelism": complete.PredictAnything,
			"-verbose":     complete.PredictNothing,
			"-log-level":   complete.PredictSet("trace", "debug", "info", "warn", "error"),
		})
}

func (c *PlanCommand) AutocompleteArgs() complete.Predictor {
	return complete.PredictFiles("*.hcl")
}

func (c *PlanCommand) Name() string { return "plan" }

func (c *PlanCommand) Run(args []string) int {
	var configPath, algorithm, logLevel string
	var seed int64
	var parallelism int
	var verbose bool
	var only flaghelper.StringFlag

	flagSet := c.Meta.FlagSet(c.Name(), FlagSetDefault)
	flagSet.Usage = func() { c.Ui.Output(c.Help()) }
	flagSet.StringVar(&configPath, "config", "", "")
	flagSet.StringVar(&algorithm, "algorithm", "", "")
	flagSet.Int64Var(&seed, "seed", 0, "")
	flagSet.Var(&only, "vm", "")
	flagSet.IntVar(&parallelism, "parallelism", defaultPlanParallelism, "")
	flagSet.BoolVar(&verbose, "verbose", false, "")
	flagSet.StringVar(&logLevel, "log-level", "", "")

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
	if parallelism < 1 {
		c.Ui.Error("-parallelism must be at least 1")
		return 1
	}

	cfg, err := loadConfig(configPath)
	if err != nil {
		c.Ui.Error(fmt.Sprintf("Error loading configuration: %s", err))
		return 1
	}
	override := &config.PlannerConfig{
		AllocationAlgorithm: config.AllocationAlgorithm(algorithm),
		LogLevel:            logLevel,
	}
	flagSet.Visit(func(f *flag.Flag) {
		if f.Name == "seed" {
			override.RandomSeed = &seed
		}
	})
	cfg = cfg.Merge(override)
	if err := cfg.Validate(); err != nil {
		c.Ui.Error(fmt.Sprintf("Invalid configuration: %s", err))
		return 1
	}

	inv, invFile, err := loadInventory(args[0])
	if err != nil {
		c.Ui.Error(fmt.Sprintf("Error loading inventory: %s", err))
		return 1
	}
	var requestsPath string
	if len(args) == 2 {
		requestsPath = args[1]
	}
	reqs, err := loadRequests(invFile, requestsPath)
	if err != nil {
		c.Ui.Error(fmt.Sprintf("Error loading requests: %s", err))
		return 1
	}
	if len(only) > 0 {
		reqs = slices.DeleteFunc(reqs, func(r *inventory.Request) bool {
			return !slices.ContainsFunc(only, func(pattern string) bool {
				return glob.Glob(pattern, r.VM.Name)
			})
		})
	}
	if len(reqs) == 0 {
		c.Ui.Error("No VM requests to plan")
		return 1
	}

	logger := newLogger(c.Ui, cfg.LogLevel)
	store, err := state.NewStateStore(logger)
	if err != nil {
		c.Ui.Error(fmt.Sprintf("Error creating state store: %s", err))
		return 1
	}
	if err := store.UpsertInventory(inv); err != nil {
		c.Ui.Error(fmt.Sprintf("Error loading inventory: %s", err))
		return 1
	}

	chain, err := scheduler.NewPlannerChain(scheduler.DefaultPlanners(cfg, store)...)
	if err != nil {
		c.Ui.Error(fmt.Sprintf("Error building planners: %s", err))
		return 1
	}
	deployer := scheduler.NewDeployer(logger, store, cfg, chain, scheduler.NewHostAllocator(logger, store))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	results := make([]*scheduler.DeployResult, len(reqs))
	errs := make([]error, len(reqs))
	var g errgroup.Group
	g.SetLimit(parallelism)
	for i, req := range reqs {
		g.Go(func() error {
			results[i], errs[i] = deployer.Deploy(ctx, req.VM, req.Plan)
			return nil
		})
	}
	_ = g.Wait()

	return c.output(reqs, results, errs, verbose)
}

// output prints one row per request followed by the details, and returns
// the exit code.
func (c *PlanCommand) output(reqs []*inventory.Request, results []*scheduler.DeployResult, errs []error, verbose bool) int {
	rows := make([]string, 1, len(reqs)+1)
	rows[0] = "VM|Account|State|Planner|Attempts|Data Center|Pod|Cluster|Host"

	code := 0
	placed := 0
	for i, req := range reqs {
		res := results[i]
		if res == nil {
			rows = append(rows, fmt.Sprintf("%s|%s|%s||||||", req.VM.Name, req.VM.AccountID, "error"))
			code = 1
			continue
		}

		dc, pod, cluster, host := "", "", "", ""
		if d := res.Destination; d != nil {
			dc, pod, cluster, host = d.DataCenter.Name, d.Pod.Name, d.Cluster.Name, d.Host.Name
			placed++
		}
		rows = append(rows, fmt.Sprintf("%s|%s|%s|%s|%d|%s|%s|%s|%s",
			req.VM.Name, req.VM.AccountID, res.State, res.Planner, res.Attempts,
			dc, pod, cluster, host))

		switch {
		case res.State == scheduler.AttemptSucceeded:
		case errors.Is(errs[i], scheduler.ErrInsufficientCapacity):
			if code == 0 {
				code = planExitCapacity
			}
		default:
			code = 1
		}
	}

	c.Ui.Output(c.Colorize().Color("[bold]Placements[reset]"))
	c.Ui.Output(formatList(rows))

	for i, req := range reqs {
		if errs[i] != nil {
			c.Ui.Error(fmt.Sprintf("%s: %s", req.VM.Name, errs[i]))
		}
	}

	if verbose {
		for i, req := range reqs {
			if results[i] != nil {
				c.outputDetails(req, results[i])
			}
		}
	}

	summary := fmt.Sprintf("%d of %d VMs placed", placed, len(reqs))
	switch code {
	case 0:
		c.Ui.Output(c.Colorize().Color("\n[green]" + summary))
	default:
		c.Ui.Output(c.Colorize().Color("\n[yellow]" + summary))
	}
	return code
}

func (c *PlanCommand) outputDetails(req *inventory.Request, res *scheduler.DeployResult) {
	c.Ui.Output(c.Colorize().Color(fmt.Sprintf("\n[bold]%s[reset]", req.VM.Name)))

	basic := []string{
		fmt.Sprintf("Plan|%s", req.Plan),
		fmt.Sprintf("Resource Usage|%s", res.Usage),
		fmt.Sprintf("CPU|%d MHz", req.VM.CPUMHz),
		fmt.Sprintf("Memory|%s", formatMB(req.VM.MemoryMB)),
	}
	if res.Destination != nil {
		basic = append(basic, fmt.Sprintf("Destination|%s", res.Destination))
	}
	if res.Exclude != nil && !res.Exclude.Empty() {
		basic = append(basic, fmt.Sprintf("Excluded|%s", res.Exclude))
	}
	if m := res.Metrics; m != nil {
		basic = append(basic,
			fmt.Sprintf("Clusters Evaluated|%d", m.ClustersEvaluated),
			fmt.Sprintf("Clusters Filtered|%d", m.ClustersFiltered),
			fmt.Sprintf("Clusters Exhausted|%d", m.ClustersExhausted),
			fmt.Sprintf("Hosts Evaluated|%d", m.HostsEvaluated),
			fmt.Sprintf("Hosts Filtered|%d", m.HostsFiltered),
			fmt.Sprintf("Hosts Exhausted|%d", m.HostsExhausted),
			fmt.Sprintf("Allocation Time|%s", m.AllocationTime),
		)
		for _, reasons := range []map[string]int{
			m.ClusterFilterReasons, m.HostFilterReasons, m.DimensionExhausted, m.PoolFilterReasons,
		} {
			keys := make([]string, 0, len(reasons))
			for k := range reasons {
				keys = append(keys, k)
			}
			slices.Sort(keys)
			for _, k := range keys {
				basic = append(basic, fmt.Sprintf("  %s|%d", k, reasons[k]))
			}
		}
	}
	c.Ui.Output(formatKV(basic))

	if res.Destination == nil || len(res.Destination.Storage) == 0 {
		return
	}
	storage := []string{"Volume|Type|Size|Pool|Scope|Pool Free"}
	for _, p := range res.Destination.Storage {
		storage = append(storage, fmt.Sprintf("%s|%s|%s|%s|%s|%s",
			p.Volume.Name, p.Volume.Type, formatBytes(p.Volume.SizeBytes),
			p.Pool.Name, p.Pool.Scope, formatBytes(p.Pool.FreeBytes())))
	}
	c.Ui.Output(formatList(storage))
}
