package catalog

import (
	"fmt"
	"sort"

	v1 "github.com/scaleway/vmware2scw/api/v1"
	vmerrors "github.com/scaleway/vmware2scw/pkg/errors"
)

// Mapper suggests a target InstanceTypeSpec for a VMRecord under one of the
// three sizing strategies.
type Mapper struct {
	catalog *TypeCatalog
}

func NewMapper(catalog *TypeCatalog) *Mapper {
	return &Mapper{catalog: catalog}
}

// Suggest picks the best candidate type for vm under strategy. windows
// narrows candidates to types that support Windows guests.
//
// Scoring, from lowest to highest strategy strictness:
//   - cost: cheapest price_hour_eur among candidates
//   - exact: minimizes cpu_waste + ram_waste (fewest wasted cores/GiB)
//   - optimize: 0.6*cpu_waste + 0.4*ram_waste - 0.05 if the type is not
//     shared-vCPU — favours a dedicated-vCPU type when the margin is thin
func (m *Mapper) Suggest(vm v1.VMRecord, windows bool, strategy v1.SizingStrategy) (v1.InstanceTypeSpec, error) {
	candidates := m.catalog.Candidates(vm, windows)
	if len(candidates) == 0 {
		return v1.InstanceTypeSpec{}, vmerrors.NewPreconditionError(
			"no instance type in the catalog satisfies %d vCPU / %.1f GiB RAM%s for vm %s",
			vm.CPU, vm.MemoryGB(), windowsSuffix(windows), vm.Name)
	}

	score := func(s v1.InstanceTypeSpec) float64 {
		switch strategy {
		case v1.StrategyCost:
			return s.PriceHourEUR
		case v1.StrategyOptimize:
			cw := float64(s.VCPUs) - float64(vm.CPU)
			rw := s.RAMGB() - vm.MemoryGB()
			penalty := 0.0
			if !s.SharedVCPU {
				penalty = 0.05
			}
			return 0.6*cw + 0.4*rw - penalty
		default: // StrategyExact
			cw := float64(s.VCPUs) - float64(vm.CPU)
			rw := s.RAMGB() - vm.MemoryGB()
			return cw + rw
		}
	}

	sort.SliceStable(candidates, func(i, j int) bool {
		return score(candidates[i]) < score(candidates[j])
	})
	return candidates[0], nil
}

// Validate returns the human-readable reasons typeName cannot legally host
// vm: unknown type, insufficient vCPU/RAM, too many disks, not enough local
// storage for a non-block-storage type, or a Windows/Linux licensing
// mismatch. An empty result means the fit is valid.
func (m *Mapper) Validate(vm v1.VMRecord, windows bool, typeName string) []string {
	spec, ok := m.catalog.Get(typeName)
	if !ok {
		return []string{fmt.Sprintf("unknown instance type %q", typeName)}
	}

	var issues []string
	if spec.VCPUs < vm.CPU {
		issues = append(issues, fmt.Sprintf("instance type %s has %d vCPU, vm %s needs %d", typeName, spec.VCPUs, vm.Name, vm.CPU))
	}
	if spec.RAMGB() < vm.MemoryGB() {
		issues = append(issues, fmt.Sprintf("instance type %s has %.1f GiB RAM, vm %s needs %.1f GiB", typeName, spec.RAMGB(), vm.Name, vm.MemoryGB()))
	}
	if diskCount := len(vm.Disks); spec.MaxVolumes < diskCount {
		issues = append(issues, fmt.Sprintf("instance type %s allows at most %d volumes, vm %s has %d", typeName, spec.MaxVolumes, vm.Name, diskCount))
	}
	if !spec.BlockStorage && spec.LocalStorageGB() < vm.TotalDiskGB() {
		issues = append(issues, fmt.Sprintf("instance type %s has %.1f GiB local storage, vm %s needs %.1f GiB", typeName, spec.LocalStorageGB(), vm.Name, vm.TotalDiskGB()))
	}
	if windows && !spec.Windows {
		issues = append(issues, fmt.Sprintf("instance type %s does not support Windows guests", typeName))
	}
	return issues
}

func windowsSuffix(windows bool) string {
	if windows {
		return " (Windows-capable)"
	}
	return ""
}
