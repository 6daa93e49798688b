package pipeline_test

import (
	"context"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	v1 "github.com/scaleway/vmware2scw/api/v1"
	"github.com/scaleway/vmware2scw/internal/catalog"
	"github.com/scaleway/vmware2scw/internal/pipeline"
	vmerrors "github.com/scaleway/vmware2scw/pkg/errors"
	"github.com/scaleway/vmware2scw/pkg/vmware"
)

type fakeSource struct {
	validateErr error
	resolveErr  error
	vmRecord    v1.VMRecord
	exportPaths []string
	removedName string
}

func (f *fakeSource) ValidatePrivileges(ctx context.Context, moid string, required []string) error {
	return f.validateErr
}

func (f *fakeSource) ResolveVM(ctx context.Context, name string) (v1.VMRecord, error) {
	if f.resolveErr != nil {
		return v1.VMRecord{}, f.resolveErr
	}
	if f.vmRecord.Name == "" {
		return v1.VMRecord{Name: name}, nil
	}
	return f.vmRecord, nil
}

func (f *fakeSource) CreateSnapshot(ctx context.Context, req vmware.CreateSnapshotRequest) error {
	return nil
}

func (f *fakeSource) RemoveSnapshot(ctx context.Context, req vmware.RemoveSnapshotRequest) error {
	f.removedName = req.SnapshotName
	return nil
}

func (f *fakeSource) ExportDisks(ctx context.Context, moid, destDir string, progress func(pct float64)) ([]string, error) {
	return f.exportPaths, nil
}

var _ = Describe("NewStageHandlers", func() {
	It("wires validate, snapshot, export and cleanup to the source collaborator", func() {
		source := &fakeSource{
			vmRecord:    v1.VMRecord{Name: "web-01", GuestOSID: "rhel9_64Guest"},
			exportPaths: []string{"/work/disk-0.vmdk"},
		}
		handlers := pipeline.NewStageHandlers(pipeline.Deps{Source: source, WorkDir: GinkgoT().TempDir()})
		job := &v1.VMJob{VMName: "web-01", MigrationID: "abc123", OSFamily: v1.OSFamilyLinux}

		Expect(handlers[v1.StageValidate](context.Background(), job)).To(Succeed())

		Expect(handlers[v1.StageSnapshot](context.Background(), job)).To(Succeed())
		Expect(job.Artifacts.SnapshotName).To(Equal("vmware2scw-abc123"))

		Expect(handlers[v1.StageExport](context.Background(), job)).To(Succeed())
		Expect(job.Artifacts.DiskPaths).To(Equal([]string{"/work/disk-0.vmdk"}))

		Expect(handlers[v1.StageCleanup](context.Background(), job)).To(Succeed())
		Expect(source.removedName).To(Equal("vmware2scw-abc123"))
	})

	It("propagates a validate failure from the source collaborator", func() {
		source := &fakeSource{validateErr: vmerrors.NewPreconditionError("insufficient privileges")}
		handlers := pipeline.NewStageHandlers(pipeline.Deps{Source: source, WorkDir: GinkgoT().TempDir()})
		job := &v1.VMJob{VMName: "web-01", OSFamily: v1.OSFamilyLinux}
		Expect(handlers[v1.StageValidate](context.Background(), job)).To(MatchError(source.validateErr))
	})

	It("resolves the vm, fills vm_info, and classifies os_family during validate", func() {
		source := &fakeSource{vmRecord: v1.VMRecord{
			Name: "win-01", GuestOSID: "windows2019srv_64Guest", Firmware: v1.FirmwareEFI,
		}}
		handlers := pipeline.NewStageHandlers(pipeline.Deps{Source: source, WorkDir: GinkgoT().TempDir()})
		job := &v1.VMJob{VMName: "win-01"}

		Expect(handlers[v1.StageValidate](context.Background(), job)).To(Succeed())
		Expect(job.Artifacts.VMInfo).NotTo(BeNil())
		Expect(job.Artifacts.VMInfo.GuestOSID).To(Equal("windows2019srv_64Guest"))
		Expect(job.OSFamily).To(Equal(v1.OSFamilyWindows))
		Expect(job.Firmware).To(Equal(v1.FirmwareEFI))
	})

	It("fails validate when the target type can't host the vm", func() {
		source := &fakeSource{vmRecord: v1.VMRecord{Name: "huge", CPU: 64, MemoryMB: 262144, GuestOSID: "rhel9_64Guest"}}
		mapper := catalog.NewMapper(catalog.DefaultCatalog())
		handlers := pipeline.NewStageHandlers(pipeline.Deps{Source: source, Mapper: mapper, WorkDir: GinkgoT().TempDir()})
		job := &v1.VMJob{VMName: "huge", TargetType: "DEV1-S"}

		err := handlers[v1.StageValidate](context.Background(), job)
		Expect(err).To(HaveOccurred())
		Expect(vmerrors.IsPreconditionError(err)).To(BeTrue())
	})

	It("skips blocking preconditions, but still classifies, under skip_validation", func() {
		source := &fakeSource{vmRecord: v1.VMRecord{Name: "huge", CPU: 64, MemoryMB: 262144, GuestOSID: "rhel9_64Guest"}}
		mapper := catalog.NewMapper(catalog.DefaultCatalog())
		handlers := pipeline.NewStageHandlers(pipeline.Deps{Source: source, Mapper: mapper, WorkDir: GinkgoT().TempDir()})
		job := &v1.VMJob{VMName: "huge", TargetType: "DEV1-S", SkipValidation: true}

		Expect(handlers[v1.StageValidate](context.Background(), job)).To(Succeed())
		Expect(job.OSFamily).To(Equal(v1.OSFamilyLinux))
	})

	It("fails verify when no target image id was recorded", func() {
		handlers := pipeline.NewStageHandlers(pipeline.Deps{WorkDir: GinkgoT().TempDir()})
		job := &v1.VMJob{VMName: "web-01"}
		err := handlers[v1.StageVerify](context.Background(), job)
		Expect(err).To(HaveOccurred())
		Expect(vmerrors.IsIntegrityError(err)).To(BeTrue())
	})

	It("treats clean_tools and fix_bootloader as no-ops folded into inject_virtio", func() {
		handlers := pipeline.NewStageHandlers(pipeline.Deps{WorkDir: GinkgoT().TempDir()})
		job := &v1.VMJob{VMName: "win-01", OSFamily: v1.OSFamilyWindows}
		Expect(handlers[v1.StageCleanTools](context.Background(), job)).To(Succeed())
		Expect(handlers[v1.StageFixBootloader](context.Background(), job)).To(Succeed())
	})
})
