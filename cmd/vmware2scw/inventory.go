package main

import (
	"fmt"
	"path/filepath"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	v1 "github.com/scaleway/vmware2scw/api/v1"
	"github.com/scaleway/vmware2scw/internal/catalog"
	"github.com/scaleway/vmware2scw/internal/planner"
	"github.com/scaleway/vmware2scw/internal/store"
	"github.com/scaleway/vmware2scw/pkg/vmware"
)

func openInventoryStore(stateDir string) (*store.Store, error) {
	db, err := store.NewDB(filepath.Join(stateDir, "inventory.db"))
	if err != nil {
		return nil, err
	}
	return store.NewStore(db), nil
}

func newInventoryCmd(flags *rootFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "inventory",
		Short: "Collect the VM inventory from vCenter and cache it locally",
		RunE: func(c *cobra.Command, args []string) error {
			cfg, err := loadConfig(flags)
			if err != nil {
				return err
			}
			if cfg.VMware.VCenter == "" || cfg.VMware.Username == "" {
				return fmt.Errorf("vmware.vcenter and vmware.username must be set")
			}

			ctx := c.Context()
			manager, err := vmware.NewVMManager(ctx, vmware.Config{
				VCenter:  cfg.VMware.VCenter,
				Username: cfg.VMware.Username,
				Password: cfg.VMware.Password,
				Insecure: cfg.VMware.Insecure,
			})
			if err != nil {
				return err
			}
			defer manager.Close(ctx)

			vms, err := manager.ListVMs(ctx)
			if err != nil {
				return err
			}

			s, err := openInventoryStore(cfg.Orchestrator.StateDir)
			if err != nil {
				return err
			}
			defer s.Close()

			if err := s.Inventory().Replace(ctx, vms); err != nil {
				return err
			}
			zap.S().Infow("inventory collected", "vm_count", len(vms))
			fmt.Printf("collected %d VMs\n", len(vms))
			return nil
		},
	}
	return cmd
}

func newInventoryPlanCmd(flags *rootFlags) *cobra.Command {
	var (
		outPath    string
		xlsxPath   string
		filterArgs []string
		excludeArgs []string
		zone       string
		strategy   string
	)

	cmd := &cobra.Command{
		Use:   "inventory-plan",
		Short: "Build a batch plan from the cached inventory",
		RunE: func(c *cobra.Command, args []string) error {
			cfg, err := loadConfig(flags)
			if err != nil {
				return err
			}

			s, err := openInventoryStore(cfg.Orchestrator.StateDir)
			if err != nil {
				return err
			}
			defer s.Close()

			ctx := c.Context()
			vms, err := s.Inventory().List(ctx, store.WithDefaultSort())
			if err != nil {
				return err
			}

			mapper := catalog.NewMapper(catalog.DefaultCatalog())
			builder := planner.NewPlanBuilder(mapper)

			if zone == "" {
				zone = cfg.Scaleway.DefaultZone
			}
			plan, err := builder.Build(vms, planner.BuildOptions{
				SourceID:       cfg.VMware.VCenter,
				Zone:           zone,
				SizingStrategy: v1.SizingStrategy(strategy),
				Filter:         planner.FromCLIFilters(filterArgs),
				Exclude:        planner.FromCLIFilters(excludeArgs),
			})
			if err != nil {
				return err
			}

			raw, err := yaml.Marshal(plan)
			if err != nil {
				return err
			}
			if err := writeFile(outPath, raw); err != nil {
				return err
			}
			fmt.Printf("wrote plan for %d migrations to %s\n", len(plan.Migrations), outPath)

			if xlsxPath != "" {
				if err := planner.ExportXLSX(plan, xlsxPath); err != nil {
					return err
				}
				fmt.Printf("wrote spreadsheet to %s\n", xlsxPath)
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&outPath, "out", "plan.yaml", "path to write the generated plan")
	cmd.Flags().StringVar(&xlsxPath, "xlsx", "", "optional path to also export the plan as a spreadsheet")
	cmd.Flags().StringArrayVar(&filterArgs, "filter", nil, "key:value inventory filter, repeatable (e.g. cluster:prod-a)")
	cmd.Flags().StringArrayVar(&excludeArgs, "exclude", nil, "key:value inventory exclusion, repeatable")
	cmd.Flags().StringVar(&zone, "zone", "", "target Scaleway zone (defaults to scaleway.default_zone)")
	cmd.Flags().StringVar(&strategy, "sizing-strategy", string(v1.StrategyOptimize), "instance sizing strategy: exact, optimize, or cost")
	return cmd
}
