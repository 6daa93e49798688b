package planner

import (
	"fmt"
	"time"

	v1 "github.com/scaleway/vmware2scw/api/v1"
	"github.com/scaleway/vmware2scw/internal/catalog"
)

// defaultPriority is the priority every generated MigrationEntry gets unless
// a later hand-edit of the plan changes it, placing every VM in the same
// implicit wave by default.
const defaultPriority = 5

// BuildOptions configures PlanBuilder.Build.
type BuildOptions struct {
	SourceID       string
	Zone           string
	SizingStrategy v1.SizingStrategy
	Filter         *InventoryFilter
	Exclude        *InventoryFilter
	Tags           []string
}

// PlanBuilder turns a filtered inventory snapshot into a BatchPlan, auto
// assigning a target instance type to every entry that doesn't carry one
// already.
type PlanBuilder struct {
	mapper *catalog.Mapper
}

func NewPlanBuilder(mapper *catalog.Mapper) *PlanBuilder {
	return &PlanBuilder{mapper: mapper}
}

// Build filters vms with opts.Filter, drops anything matching opts.Exclude,
// and produces one MigrationEntry per surviving VM with an auto-suggested
// target_type.
func (b *PlanBuilder) Build(vms []v1.VMRecord, opts BuildOptions) (*v1.BatchPlan, error) {
	filtered := vms
	if opts.Filter != nil {
		filtered = opts.Filter.Apply(filtered)
	}
	if opts.Exclude != nil {
		var kept []v1.VMRecord
		for _, vm := range filtered {
			if !opts.Exclude.Matches(vm) {
				kept = append(kept, vm)
			}
		}
		filtered = kept
	}

	strategy := opts.SizingStrategy
	if strategy == "" {
		strategy = v1.StrategyOptimize
	}

	plan := &v1.BatchPlan{
		Version: 1,
		Metadata: v1.PlanMetadata{
			GeneratedAt: time.Now(),
			SourceID:    opts.SourceID,
			TotalVMs:    len(filtered),
		},
		Defaults: v1.PlanDefaults{
			Zone:           opts.Zone,
			SizingStrategy: strategy,
			Tags:           opts.Tags,
		},
		Concurrency: v1.DefaultConcurrency(),
	}

	var totalDisk float64
	for _, vm := range filtered {
		windows := catalog.Classify(vm.GuestOSID) == v1.OSFamilyWindows
		spec, err := b.mapper.Suggest(vm, windows, strategy)
		if err != nil {
			return nil, fmt.Errorf("vm %s: %w", vm.Name, err)
		}

		plan.Migrations = append(plan.Migrations, v1.MigrationEntry{
			VMName:     vm.Name,
			TargetType: spec.Name,
			Priority:   defaultPriority,
		})

		if windows {
			plan.Metadata.WindowsVMs++
		} else {
			plan.Metadata.LinuxVMs++
		}
		totalDisk += vm.TotalDiskGB()
	}
	plan.Metadata.TotalDiskGB = totalDisk

	return plan, nil
}
