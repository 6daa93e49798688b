// Package catalog holds the compiled-in Scaleway instance type catalog and
// the sizing logic (classify guest OS family, suggest a target type) used by
// the planner when a migration entry omits an explicit target_type.
package catalog

import v1 "github.com/scaleway/vmware2scw/api/v1"

// TypeCatalog is a frozen, in-memory index of every InstanceTypeSpec the
// planner can suggest. It is built once at program start and never mutated.
type TypeCatalog struct {
	byName map[string]v1.InstanceTypeSpec
	all    []v1.InstanceTypeSpec
}

// NewTypeCatalog indexes the given specs by name.
func NewTypeCatalog(specs []v1.InstanceTypeSpec) *TypeCatalog {
	c := &TypeCatalog{byName: make(map[string]v1.InstanceTypeSpec, len(specs)), all: specs}
	for _, s := range specs {
		c.byName[s.Name] = s
	}
	return c
}

// DefaultCatalog returns the catalog of general-purpose Scaleway instance
// types this engine ships with. Prices are list EUR/hour at time of writing
// and are illustrative only — the orchestrator never bills against them.
func DefaultCatalog() *TypeCatalog {
	return NewTypeCatalog([]v1.InstanceTypeSpec{
		{Name: "DEV1-S", VCPUs: 2, RAM: v1.Qty(2), Category: v1.CategoryDevelopment, SharedVCPU: true, BlockStorage: true, MaxVolumes: 4, MaxVolumeSizeGB: 300, PriceHourEUR: 0.01},
		{Name: "DEV1-M", VCPUs: 3, RAM: v1.Qty(4), Category: v1.CategoryDevelopment, SharedVCPU: true, BlockStorage: true, MaxVolumes: 4, MaxVolumeSizeGB: 300, PriceHourEUR: 0.02},
		{Name: "DEV1-L", VCPUs: 4, RAM: v1.Qty(8), Category: v1.CategoryDevelopment, SharedVCPU: true, BlockStorage: true, MaxVolumes: 4, MaxVolumeSizeGB: 300, PriceHourEUR: 0.035},
		{Name: "DEV1-XL", VCPUs: 4, RAM: v1.Qty(12), Category: v1.CategoryDevelopment, SharedVCPU: true, BlockStorage: true, MaxVolumes: 4, MaxVolumeSizeGB: 300, PriceHourEUR: 0.05},
		{Name: "GP1-XS", VCPUs: 4, RAM: v1.Qty(16), Category: v1.CategoryGeneral, Windows: true, BlockStorage: true, MaxVolumes: 15, MaxVolumeSizeGB: 10000, PriceHourEUR: 0.1338},
		{Name: "GP1-S", VCPUs: 8, RAM: v1.Qty(32), Category: v1.CategoryGeneral, Windows: true, BlockStorage: true, MaxVolumes: 15, MaxVolumeSizeGB: 10000, PriceHourEUR: 0.2676},
		{Name: "GP1-M", VCPUs: 16, RAM: v1.Qty(64), Category: v1.CategoryGeneral, Windows: true, BlockStorage: true, MaxVolumes: 15, MaxVolumeSizeGB: 10000, PriceHourEUR: 0.5352},
		{Name: "GP1-L", VCPUs: 32, RAM: v1.Qty(128), Category: v1.CategoryGeneral, Windows: true, BlockStorage: true, MaxVolumes: 15, MaxVolumeSizeGB: 10000, PriceHourEUR: 1.0704},
		{Name: "GP1-XL", VCPUs: 64, RAM: v1.Qty(256), Category: v1.CategoryGeneral, Windows: true, BlockStorage: true, MaxVolumes: 15, MaxVolumeSizeGB: 10000, PriceHourEUR: 2.1408},
		{Name: "PRO2-XXS", VCPUs: 2, RAM: v1.Qty(4), Category: v1.CategoryCompute, Windows: true, BlockStorage: true, MaxVolumes: 15, MaxVolumeSizeGB: 10000, PriceHourEUR: 0.0417},
		{Name: "PRO2-XS", VCPUs: 4, RAM: v1.Qty(8), Category: v1.CategoryCompute, Windows: true, BlockStorage: true, MaxVolumes: 15, MaxVolumeSizeGB: 10000, PriceHourEUR: 0.0834},
		{Name: "PRO2-S", VCPUs: 8, RAM: v1.Qty(16), Category: v1.CategoryCompute, Windows: true, BlockStorage: true, MaxVolumes: 15, MaxVolumeSizeGB: 10000, PriceHourEUR: 0.1668},
		{Name: "PRO2-M", VCPUs: 16, RAM: v1.Qty(32), Category: v1.CategoryCompute, Windows: true, BlockStorage: true, MaxVolumes: 15, MaxVolumeSizeGB: 10000, PriceHourEUR: 0.3336},
		{Name: "PRO2-L", VCPUs: 32, RAM: v1.Qty(64), Category: v1.CategoryCompute, Windows: true, BlockStorage: true, MaxVolumes: 15, MaxVolumeSizeGB: 10000, PriceHourEUR: 0.6672},
		{Name: "RENDER-S", VCPUs: 10, RAM: v1.Qty(45), Category: v1.CategoryGPU, BlockStorage: true, MaxVolumes: 15, MaxVolumeSizeGB: 10000, PriceHourEUR: 1.3},
	})
}

// Get looks up an instance type by name.
func (c *TypeCatalog) Get(name string) (v1.InstanceTypeSpec, bool) {
	s, ok := c.byName[name]
	return s, ok
}

// All returns every catalog entry.
func (c *TypeCatalog) All() []v1.InstanceTypeSpec {
	return c.all
}

// Candidates returns catalog entries that can legally host vm: enough vCPU
// and RAM, and Windows licensing support if the guest needs it (a Linux
// guest is unconstrained by the windows flag; a Windows guest requires it).
func (c *TypeCatalog) Candidates(vm v1.VMRecord, windows bool) []v1.InstanceTypeSpec {
	var out []v1.InstanceTypeSpec
	for _, s := range c.all {
		if s.VCPUs < vm.CPU {
			continue
		}
		if s.RAMGB() < vm.MemoryGB() {
			continue
		}
		if windows && !s.Windows {
			continue
		}
		out = append(out, s)
	}
	return out
}
