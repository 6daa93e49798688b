package catalog_test

import (
	"testing"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	v1 "github.com/scaleway/vmware2scw/api/v1"
	"github.com/scaleway/vmware2scw/internal/catalog"
)

func TestCatalog(t *testing.T) {
	RegisterFailHandler(Fail)
	RunSpecs(t, "Catalog Suite")
}

var _ = Describe("Classify", func() {
	It("classifies exact known guest ids", func() {
		Expect(catalog.Classify("rhel9_64Guest")).To(Equal(v1.OSFamilyLinux))
		Expect(catalog.Classify("windows2019srv_64Guest")).To(Equal(v1.OSFamilyWindows))
	})

	It("falls back to a substring match for unknown ids", func() {
		Expect(catalog.Classify("windows2025srvNext_64Guest")).To(Equal(v1.OSFamilyWindows))
		Expect(catalog.Classify("oracleLinux9_64Guest")).To(Equal(v1.OSFamilyLinux))
		Expect(catalog.Classify("fooLinuxGuest")).To(Equal(v1.OSFamilyLinux))
	})

	It("fails open to linux, labelled Unknown, when nothing matches", func() {
		fam, label := catalog.ClassifyLabel("someBespokeAppliance64Guest")
		Expect(fam).To(Equal(v1.OSFamilyLinux))
		Expect(label).To(Equal("Unknown(someBespokeAppliance64Guest)"))
	})
})

var _ = Describe("Mapper", func() {
	var mapper *catalog.Mapper

	BeforeEach(func() {
		mapper = catalog.NewMapper(catalog.DefaultCatalog())
	})

	It("suggests the cheapest candidate under the cost strategy", func() {
		vm := v1.VMRecord{Name: "small", CPU: 2, MemoryMB: 2048}
		spec, err := mapper.Suggest(vm, false, v1.StrategyCost)
		Expect(err).NotTo(HaveOccurred())
		Expect(spec.Name).To(Equal("DEV1-S"))
	})

	It("suggests a non-shared-vCPU type for Windows guests", func() {
		vm := v1.VMRecord{Name: "win", CPU: 4, MemoryMB: 8192}
		spec, err := mapper.Suggest(vm, true, v1.StrategyExact)
		Expect(err).NotTo(HaveOccurred())
		Expect(spec.SharedVCPU).To(BeFalse())
	})

	It("errors when no type can satisfy the request", func() {
		vm := v1.VMRecord{Name: "huge", CPU: 999, MemoryMB: 999999}
		_, err := mapper.Suggest(vm, false, v1.StrategyExact)
		Expect(err).To(HaveOccurred())
	})

	It("validates an explicit type against the vm's requirements", func() {
		vm := v1.VMRecord{Name: "web", CPU: 2, MemoryMB: 2048}
		Expect(mapper.Validate(vm, false, "DEV1-S")).To(BeEmpty())
		Expect(mapper.Validate(vm, false, "no-such-type")).NotTo(BeEmpty())
	})

	It("flags a volume count the type can't host", func() {
		vm := v1.VMRecord{Name: "wide", CPU: 2, MemoryMB: 2048, Disks: make([]v1.Disk, 5)}
		Expect(mapper.Validate(vm, false, "DEV1-S")).NotTo(BeEmpty())
	})

	It("flags a Windows guest against a type without Windows support", func() {
		vm := v1.VMRecord{Name: "win", CPU: 2, MemoryMB: 2048}
		Expect(mapper.Validate(vm, true, "DEV1-S")).NotTo(BeEmpty())
		Expect(mapper.Validate(vm, true, "GP1-XS")).To(BeEmpty())
	})
})
