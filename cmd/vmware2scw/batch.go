package main

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	v1 "github.com/scaleway/vmware2scw/api/v1"
	"github.com/scaleway/vmware2scw/internal/adapt"
	"github.com/scaleway/vmware2scw/internal/catalog"
	"github.com/scaleway/vmware2scw/internal/config"
	"github.com/scaleway/vmware2scw/internal/convert"
	"github.com/scaleway/vmware2scw/internal/orchestrator"
	"github.com/scaleway/vmware2scw/internal/pipeline"
	"github.com/scaleway/vmware2scw/internal/planner"
	"github.com/scaleway/vmware2scw/internal/server"
	"github.com/scaleway/vmware2scw/internal/statestore"
	"github.com/scaleway/vmware2scw/internal/store"
	"github.com/scaleway/vmware2scw/pkg/objectstore"
	"github.com/scaleway/vmware2scw/pkg/scaleway"
	"github.com/scaleway/vmware2scw/pkg/subprocess"
	"github.com/scaleway/vmware2scw/pkg/vmware"
)

func newBatchCmd(flags *rootFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "batch",
		Short: "Estimate, run, resume, and inspect batch migrations",
	}
	cmd.AddCommand(
		newBatchEstimateCmd(flags),
		newBatchRunCmd(flags),
		newBatchResumeCmd(flags),
		newBatchStatusCmd(flags),
		newBatchReportCmd(flags),
	)
	return cmd
}

func loadPlan(path string) (*v1.BatchPlan, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var plan v1.BatchPlan
	if err := yaml.Unmarshal(raw, &plan); err != nil {
		return nil, err
	}
	return &plan, nil
}

func loadInventoryMap(stateDir string) (map[string]v1.VMRecord, error) {
	s, err := openInventoryStore(stateDir)
	if err != nil {
		return nil, err
	}
	defer s.Close()

	vms, err := s.Inventory().List(context.Background(), store.WithDefaultSort())
	if err != nil {
		return nil, err
	}
	byName := make(map[string]v1.VMRecord, len(vms))
	for _, vm := range vms {
		byName[vm.Name] = vm
	}
	return byName, nil
}

// buildDeps wires the live collaborator graph newBatchRunCmd and
// newBatchResumeCmd both need: vCenter as the export/snapshot source,
// qemu-img-backed conversion, the guest adapters, S3-compatible object
// storage, and the Scaleway Instance client. Callers are responsible for
// closing the returned source manager via Deps.Source.(*vmware.VMManager).
func buildDeps(ctx context.Context, cfg *config.Config) (pipeline.Deps, error) {
	source, err := vmware.NewVMManager(ctx, vmware.Config{
		VCenter:  cfg.VMware.VCenter,
		Username: cfg.VMware.Username,
		Password: cfg.VMware.Password,
		Insecure: cfg.VMware.Insecure,
	})
	if err != nil {
		return pipeline.Deps{}, err
	}

	target, err := scaleway.NewClient(scaleway.Config{
		SecretKey:      cfg.Scaleway.SecretKey,
		ProjectID:      cfg.Scaleway.ProjectID,
		Zone:           cfg.Scaleway.DefaultZone,
		OrganizationID: cfg.Scaleway.OrganizationID,
	})
	if err != nil {
		return pipeline.Deps{}, err
	}

	objects, err := objectstore.NewStore(ctx, objectstore.Config{
		Region:          cfg.Scaleway.S3Region,
		Endpoint:        cfg.Scaleway.S3Endpoint,
		AccessKeyID:     cfg.Scaleway.AccessKey,
		SecretAccessKey: cfg.Scaleway.SecretKey,
		Bucket:          cfg.Scaleway.S3Bucket,
	})
	if err != nil {
		return pipeline.Deps{}, err
	}

	runner := subprocess.NewRunner()
	return pipeline.Deps{
		Source:     source,
		Mapper:     catalog.NewMapper(catalog.DefaultCatalog()),
		Disks:      convert.NewDiskConverter(runner, cfg.Conversion.QemuImgPath),
		Linux:      adapt.NewLinuxAdapter(runner),
		Windows:    adapt.NewWindowsAdapter(runner),
		UEFI:       adapt.NewBios2UefiEngine(runner),
		Objects:    objects,
		Target:     target,
		WorkDir:    cfg.Conversion.WorkDir,
		VirtioISO:  cfg.Conversion.VirtioWinISO,
		OVMFPath:   cfg.Conversion.OVMFPath,
		CompressQ2: cfg.Conversion.CompressQcow2,
	}, nil
}

func newBatchEstimateCmd(flags *rootFlags) *cobra.Command {
	var planPath string
	cmd := &cobra.Command{
		Use:   "estimate",
		Short: "Estimate the time and resource cost of a plan without running it",
		RunE: func(c *cobra.Command, args []string) error {
			cfg, err := loadConfig(flags)
			if err != nil {
				return err
			}
			plan, err := loadPlan(planPath)
			if err != nil {
				return err
			}
			vms, err := loadInventoryMap(cfg.Orchestrator.StateDir)
			if err != nil {
				return err
			}
			concurrency := cfg.Orchestrator.Concurrency
			if plan.Concurrency != (v1.Concurrency{}) {
				concurrency = plan.Concurrency
			}
			est := planner.NewEstimator().Estimate(plan, vms, concurrency)
			raw, err := yaml.Marshal(est)
			if err != nil {
				return err
			}
			fmt.Println(string(raw))
			return nil
		},
	}
	cmd.Flags().StringVar(&planPath, "plan", "plan.yaml", "path to the batch plan")
	return cmd
}

func newBatchRunCmd(flags *rootFlags) *cobra.Command {
	var planPath string
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run a batch plan end to end",
		RunE: func(c *cobra.Command, args []string) error {
			cfg, err := loadConfig(flags)
			if err != nil {
				return err
			}
			if err := cfg.Validate(); err != nil {
				return err
			}
			plan, err := loadPlan(planPath)
			if err != nil {
				return err
			}
			vms, err := loadInventoryMap(cfg.Orchestrator.StateDir)
			if err != nil {
				return err
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

			concurrency := cfg.Orchestrator.Concurrency
			if plan.Concurrency != (v1.Concurrency{}) {
				concurrency = plan.Concurrency
			}
			o := orchestrator.New(concurrency, pipeline.NewStageHandlers(deps), stateStore)
			if cfg.Dashboard.Enabled {
				dashboard := orchestrator.NewDashboard(cfg.Dashboard)
				o.SetProgress(dashboard.Callback())
			}

			jobs := orchestrator.JobsFromPlan(plan, vms)
			waves, pauses := orchestrator.BuildWaves(jobs, plan.Waves)

			state, err := o.Run(ctx, waves, pauses)
			if err != nil {
				return err
			}
			fmt.Printf("batch %s finished with status %s (%d succeeded, %d failed)\n",
				state.BatchID, state.Status, len(state.Succeeded()), len(state.Failed()))
			return nil
		},
	}
	cmd.Flags().StringVar(&planPath, "plan", "plan.yaml", "path to the batch plan")
	return cmd
}

func newBatchResumeCmd(flags *rootFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "resume [batch-id]",
		Short: "Resume a paused or partially failed batch",
		Args:  cobra.ExactArgs(1),
		RunE: func(c *cobra.Command, args []string) error {
			cfg, err := loadConfig(flags)
			if err != nil {
				return err
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

			o := orchestrator.New(cfg.Orchestrator.Concurrency, pipeline.NewStageHandlers(deps), stateStore)
			if cfg.Dashboard.Enabled {
				dashboard := orchestrator.NewDashboard(cfg.Dashboard)
				o.SetProgress(dashboard.Callback())
			}

			state, err := o.Resume(ctx, args[0])
			if err != nil {
				return err
			}
			fmt.Printf("batch %s resumed with status %s (%d succeeded, %d failed)\n",
				state.BatchID, state.Status, len(state.Succeeded()), len(state.Failed()))
			return nil
		},
	}
	return cmd
}

func newBatchStatusCmd(flags *rootFlags) *cobra.Command {
	var serve bool
	var addr string
	cmd := &cobra.Command{
		Use:   "status",
		Short: "List known batches, or serve the status API with --serve",
		RunE: func(c *cobra.Command, args []string) error {
			cfg, err := loadConfig(flags)
			if err != nil {
				return err
			}
			stateStore, err := statestore.New(cfg.Orchestrator.StateDir)
			if err != nil {
				return err
			}

			if serve {
				srv := server.NewServer(addr, server.NewStatusHandlers(stateStore).Register)
				zap.S().Infow("status server listening", "addr", addr)
				return srv.Start(c.Context())
			}

			ids, err := stateStore.List()
			if err != nil {
				return err
			}
			for _, id := range ids {
				state, err := stateStore.Load(id)
				if err != nil {
					return err
				}
				fmt.Printf("%s\t%s\t%d/%d succeeded\n", state.BatchID, state.Status, len(state.Succeeded()), len(state.Jobs))
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&serve, "serve", false, "serve the status API instead of printing a summary")
	cmd.Flags().StringVar(&addr, "addr", ":8080", "address to serve the status API on")
	return cmd
}

func newBatchReportCmd(flags *rootFlags) *cobra.Command {
	var outPath string
	cmd := &cobra.Command{
		Use:   "report [batch-id]",
		Short: "Render a batch's migration report",
		Args:  cobra.ExactArgs(1),
		RunE: func(c *cobra.Command, args []string) error {
			cfg, err := loadConfig(flags)
			if err != nil {
				return err
			}
			stateStore, err := statestore.New(cfg.Orchestrator.StateDir)
			if err != nil {
				return err
			}
			state, err := stateStore.Load(args[0])
			if err != nil {
				return err
			}
			if outPath == "" {
				fmt.Println(orchestrator.GenerateReport(state))
				return nil
			}
			return orchestrator.WriteReport(state, outPath)
		},
	}
	cmd.Flags().StringVar(&outPath, "out", "", "path to write the report (prints to stdout when omitted)")
	return cmd
}
