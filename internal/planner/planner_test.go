package planner_test

import (
	"os"
	"path/filepath"
	"testing"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	v1 "github.com/scaleway/vmware2scw/api/v1"
	"github.com/scaleway/vmware2scw/internal/catalog"
	"github.com/scaleway/vmware2scw/internal/planner"
)

func TestPlanner(t *testing.T) {
	RegisterFailHandler(Fail)
	RunSpecs(t, "Planner Suite")
}

func sampleVMs() []v1.VMRecord {
	return []v1.VMRecord{
		{
			Name: "web-01", CPU: 2, MemoryMB: 2048, GuestOSID: "rhel9_64Guest",
			Datacenter: "dc1", Cluster: "prod", PowerState: v1.PowerStateOn,
			Disks: []v1.Disk{{SizeGB: 40}},
		},
		{
			Name: "win-dc-01", CPU: 4, MemoryMB: 8192, GuestOSID: "windows2019srv_64Guest",
			Datacenter: "dc1", Cluster: "prod", PowerState: v1.PowerStateOn,
			Disks: []v1.Disk{{SizeGB: 80}, {SizeGB: 100}},
		},
		{
			Name: "archive-01", CPU: 1, MemoryMB: 1024, GuestOSID: "centos7_64Guest",
			Datacenter: "dc2", Cluster: "dev", PowerState: v1.PowerStateOff,
			Disks: []v1.Disk{{SizeGB: 500}},
		},
	}
}

var _ = Describe("InventoryFilter", func() {
	It("ANDs predicates across different keys", func() {
		f := planner.FromCLIFilters([]string{"dc:dc1", "state:poweredon"})
		out := f.Apply(sampleVMs())
		Expect(out).To(HaveLen(2))
	})

	It("falls back to a name glob match for bare strings", func() {
		f := planner.FromCLIFilters([]string{"win*"})
		out := f.Apply(sampleVMs())
		Expect(out).To(HaveLen(1))
		Expect(out[0].Name).To(Equal("win-dc-01"))
	})

	It("ignores unknown keys entirely rather than folding them into name", func() {
		f := planner.FromCLIFilters([]string{"bogus_key:win"})
		out := f.Apply(sampleVMs())
		Expect(out).To(HaveLen(3))
	})

	It("matches os by classified family, os_id by glob, and firmware exactly", func() {
		f := planner.FromCLIFilters([]string{"os:windows"})
		Expect(f.Apply(sampleVMs())).To(HaveLen(1))

		f = planner.FromCLIFilters([]string{"os_id:rhel*"})
		Expect(f.Apply(sampleVMs())).To(HaveLen(1))

		f = planner.FromCLIFilters([]string{"firmware:efi"})
		Expect(f.Apply(sampleVMs())).To(BeEmpty())
	})

	It("matches regex against the full vm name", func() {
		f := planner.FromCLIFilters([]string{"regex:^web-\\d+$"})
		Expect(f.Apply(sampleVMs())).To(HaveLen(1))
	})
})

var _ = Describe("PlanBuilder", func() {
	It("builds a plan with an auto-suggested type per surviving vm", func() {
		mapper := catalog.NewMapper(catalog.DefaultCatalog())
		b := planner.NewPlanBuilder(mapper)

		plan, err := b.Build(sampleVMs(), planner.BuildOptions{
			SourceID: "vcenter-1",
			Zone:     "fr-par-1",
			Exclude:  planner.FromCLIFilters([]string{"dc:dc2"}),
		})
		Expect(err).NotTo(HaveOccurred())
		Expect(plan.Migrations).To(HaveLen(2))
		Expect(plan.Metadata.WindowsVMs).To(Equal(1))
		Expect(plan.Metadata.LinuxVMs).To(Equal(1))
		Expect(plan.Metadata.GeneratedAt.IsZero()).To(BeFalse())

		for _, m := range plan.Migrations {
			Expect(m.TargetType).NotTo(BeEmpty())
		}
	})
})

var _ = Describe("Estimator", func() {
	It("warns that windows vms need a KVM-capable conversion host", func() {
		mapper := catalog.NewMapper(catalog.DefaultCatalog())
		b := planner.NewPlanBuilder(mapper)
		vms := sampleVMs()
		plan, err := b.Build(vms, planner.BuildOptions{SourceID: "vcenter-1", Zone: "fr-par-1"})
		Expect(err).NotTo(HaveOccurred())

		byName := map[string]v1.VMRecord{}
		for _, vm := range vms {
			byName[vm.Name] = vm
		}

		est := planner.NewEstimator().Estimate(plan, byName, v1.Concurrency{
			MaxTotalWorkers: 2, MaxExportsPerHost: 1, MaxConcurrentConversions: 1,
			MaxConcurrentUploads: 1, MaxConcurrentImports: 1,
		})
		Expect(est.VMCount).To(Equal(3))
		Expect(est.WorkspaceGB).To(BeNumerically(">", 0))
		Expect(est.TimeBreakdown.TotalMinutes).To(BeNumerically(">", 0))
		Expect(est.Warnings).To(ContainElement(ContainSubstring("KVM")))
	})
})

var _ = Describe("ExportXLSX", func() {
	It("writes a spreadsheet with one row per migration entry", func() {
		mapper := catalog.NewMapper(catalog.DefaultCatalog())
		b := planner.NewPlanBuilder(mapper)
		plan, err := b.Build(sampleVMs(), planner.BuildOptions{SourceID: "vcenter-1", Zone: "fr-par-1"})
		Expect(err).NotTo(HaveOccurred())

		path := filepath.Join(GinkgoT().TempDir(), "plan.xlsx")
		Expect(planner.ExportXLSX(plan, path)).To(Succeed())

		info, err := os.Stat(path)
		Expect(err).NotTo(HaveOccurred())
		Expect(info.Size()).To(BeNumerically(">", 0))
	})
})
