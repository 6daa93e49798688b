package main

import (
	"fmt"

	"github.com/spf13/cobra"

	v1 "github.com/scaleway/vmware2scw/api/v1"
	"github.com/scaleway/vmware2scw/internal/catalog"
	"github.com/scaleway/vmware2scw/internal/orchestrator"
	"github.com/scaleway/vmware2scw/internal/pipeline"
	"github.com/scaleway/vmware2scw/internal/statestore"
	"github.com/scaleway/vmware2scw/internal/util"
	"github.com/scaleway/vmware2scw/pkg/vmware"
)

func newMigrateCmd(flags *rootFlags) *cobra.Command {
	var (
		targetType string
		zone       string
		priority   int
	)

	cmd := &cobra.Command{
		Use:   "migrate [vm-name]",
		Short: "Migrate a single VM without building a full plan",
		Args:  cobra.ExactArgs(1),
		RunE: func(c *cobra.Command, args []string) error {
			cfg, err := loadConfig(flags)
			if err != nil {
				return err
			}
			if err := cfg.Validate(); err != nil {
				return err
			}

			vms, err := loadInventoryMap(cfg.Orchestrator.StateDir)
			if err != nil {
				return err
			}
			vm, ok := vms[args[0]]
			if !ok {
				return fmt.Errorf("vm %q not found in the cached inventory (run 'inventory' first)", args[0])
			}

			if zone == "" {
				zone = cfg.Scaleway.DefaultZone
			}

			// priorityOverride is nil unless the operator explicitly passed
			// --priority, distinguishing "use the zero value" from "not set".
			var priorityOverride *int
			if c.Flags().Changed("priority") {
				priorityOverride = util.IntPtr(priority)
			}
			entry := v1.MigrationEntry{VMName: vm.Name, TargetType: targetType}
			if priorityOverride != nil {
				entry.Priority = *priorityOverride
			}

			plan := &v1.BatchPlan{
				Version:    1,
				Defaults:   v1.PlanDefaults{Zone: zone},
				Migrations: []v1.MigrationEntry{entry},
			}

			ctx := c.Context()
			deps, err := buildDeps(ctx, cfg)
			if err != nil {
				return err
			}
			defer deps.Source.(*vmware.VMManager).Close(ctx)

			stateStore, err := statestore.New(cfg.Orchestrator.StateDir)
			if err != nil {
				return err
			}

			jobs := orchestrator.JobsFromPlan(plan, vms)
			if len(jobs) == 0 {
				return fmt.Errorf("vm %q produced no migration job (check its guest OS and disk records)", args[0])
			}
			if jobs[0].TargetType == "" {
				mapper := catalog.NewMapper(catalog.DefaultCatalog())
				spec, err := mapper.Suggest(vm, catalog.Classify(vm.GuestOSID) == v1.OSFamilyWindows, v1.StrategyOptimize)
				if err != nil {
					return err
				}
				jobs[0].TargetType = spec.Name
			}

			o := orchestrator.New(cfg.Orchestrator.Concurrency, pipeline.NewStageHandlers(deps), stateStore)
			state, err := o.Run(ctx, [][]*v1.VMJob{jobs}, []v1.PauseAfter{v1.PauseContinue})
			if err != nil {
				return err
			}
			fmt.Println(orchestrator.GenerateReport(state))
			return nil
		},
	}

	cmd.Flags().StringVar(&targetType, "target-type", "", "target Scaleway instance type (auto-suggested when omitted)")
	cmd.Flags().StringVar(&zone, "zone", "", "target Scaleway zone (defaults to scaleway.default_zone)")
	cmd.Flags().IntVar(&priority, "priority", 0, "migration priority, lower runs first in multi-VM plans")
	return cmd
}
