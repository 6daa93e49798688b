package planner

import (
	v1 "github.com/scaleway/vmware2scw/api/v1"
	"github.com/scaleway/vmware2scw/internal/catalog"
	"github.com/scaleway/vmware2scw/internal/util"
)

// TimeBreakdown is the estimated wall-clock minutes each stage group will
// consume across the whole batch, assuming full use of the configured
// concurrency.
type TimeBreakdown struct {
	ExportMinutes  float64
	ConvertMinutes float64
	AdaptMinutes   float64
	UploadMinutes  float64
	ImportMinutes  float64
	TotalMinutes   float64
}

// Estimate is the full report Estimator.Estimate produces.
type Estimate struct {
	VMCount       int
	WorkspaceGB   float64
	TimeBreakdown TimeBreakdown
	Warnings      []string
}

// Estimator approximates work-directory disk usage, wall-clock duration,
// and risk warnings for a BatchPlan before it runs.
type Estimator struct{}

func NewEstimator() *Estimator { return &Estimator{} }

// per-GB-of-disk and per-VM minute rates, calibrated against the original tool's
// estimate_migration timing model.
const (
	exportMinutesPerGB       = 0.5
	convertMinutesPerGB      = 0.3
	adaptMinutesPerVMLinux   = 0.5
	adaptMinutesPerVMWindows = 7.0
	uploadMinutesPerGB       = 0.4
	importMinutesPerVM       = 3.0

	// totalSafetyMargin inflates the aggregate estimate above the naive
	// per-stage sum: stages never overlap as cleanly as the budget model
	// assumes, and this is a planning number operators size schedules by.
	totalSafetyMargin = 1.3

	// workspaceMultiplier: the work directory needs room for the source
	// export plus the converted qcow2 plus headroom for BIOS->UEFI/VirtIO
	// intermediates, all held at once during the busiest overlap.
	workspaceMultiplier = 1.5
)

// Estimate computes the estimate for plan given the resolved VMRecords it
// references (by name) and the concurrency budget that will run it.
func (e *Estimator) Estimate(plan *v1.BatchPlan, vms map[string]v1.VMRecord, concurrency v1.Concurrency) Estimate {
	var totalDisk float64
	var windowsCount, linuxCount int
	for _, m := range plan.Migrations {
		vm, ok := vms[m.VMName]
		if !ok {
			continue
		}
		totalDisk += vm.TotalDiskGB()
		if catalog.Classify(vm.GuestOSID) == v1.OSFamilyWindows {
			windowsCount++
		} else {
			linuxCount++
		}
	}

	est := Estimate{
		VMCount:     len(plan.Migrations),
		WorkspaceGB: util.Round(totalDisk * workspaceMultiplier),
	}

	exportConc := float64(maxInt(concurrency.MaxExportsPerHost, 1))
	convertConc := float64(maxInt(concurrency.MaxConcurrentConversions, 1))
	uploadConc := float64(maxInt(concurrency.MaxConcurrentUploads, 1))
	importConc := float64(maxInt(concurrency.MaxConcurrentImports, 1))

	est.TimeBreakdown = TimeBreakdown{
		ExportMinutes:  util.Round(totalDisk * exportMinutesPerGB / exportConc),
		ConvertMinutes: util.Round(totalDisk * convertMinutesPerGB / convertConc),
		AdaptMinutes:   util.Round(float64(linuxCount)*adaptMinutesPerVMLinux + float64(windowsCount)*adaptMinutesPerVMWindows),
		UploadMinutes:  util.Round(totalDisk * uploadMinutesPerGB / uploadConc),
		ImportMinutes:  util.Round(float64(est.VMCount) * importMinutesPerVM / importConc),
	}
	bd := &est.TimeBreakdown
	overallConc := float64(maxInt(concurrency.MaxTotalWorkers, 1))
	sum := bd.ExportMinutes + bd.ConvertMinutes + bd.AdaptMinutes + bd.UploadMinutes + bd.ImportMinutes
	bd.TotalMinutes = util.Round(sum / overallConc * totalSafetyMargin)

	if windowsCount > 0 && concurrency.MaxConcurrentConversions < 1 {
		est.Warnings = append(est.Warnings, "Windows VMs present but no conversion workers configured")
	}
	if windowsCount > 0 {
		est.Warnings = append(est.Warnings, "Windows VMs require a KVM-capable conversion host for VirtIO injection")
	}
	if est.VMCount > 20 && concurrency.MaxTotalWorkers < 5 {
		est.Warnings = append(est.Warnings, "large batch (>20 VMs) with low overall concurrency will run far longer than the per-stage estimates suggest")
	}

	return est
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}
