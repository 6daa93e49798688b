package pipeline

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"go.uber.org/zap"

	v1 "github.com/scaleway/vmware2scw/api/v1"
	"github.com/scaleway/vmware2scw/internal/adapt"
	"github.com/scaleway/vmware2scw/internal/catalog"
	"github.com/scaleway/vmware2scw/internal/convert"
	vmerrors "github.com/scaleway/vmware2scw/pkg/errors"
	"github.com/scaleway/vmware2scw/pkg/objectstore"
	"github.com/scaleway/vmware2scw/pkg/scaleway"
	"github.com/scaleway/vmware2scw/pkg/vmware"
)

var handlersLog = zap.S().Named("pipeline")

// Deps collects every external collaborator a production StageHandlers set
// calls into. WorkDir is the scratch volume exports, conversions, and
// adapted images are staged under before upload.
type Deps struct {
	Source     vmware.VMOperator
	Mapper     *catalog.Mapper
	Disks      *convert.DiskConverter
	Linux      *adapt.LinuxAdapter
	Windows    *adapt.WindowsAdapter
	UEFI       *adapt.Bios2UefiEngine
	Objects    *objectstore.Store
	Target     *scaleway.Client
	WorkDir    string
	VirtioISO  string
	OVMFPath   string
	CompressQ2 bool
}

// NewStageHandlers builds the production StageHandlers map every real batch
// run executes, wiring each stage of spec.md §4.5/§4.6/§4.7 to its external
// collaborator. Tests that don't need real tools build their own
// StageHandlers map directly instead of calling this.
func NewStageHandlers(d Deps) StageHandlers {
	return StageHandlers{
		v1.StageValidate:      d.validate,
		v1.StageSnapshot:      d.snapshot,
		v1.StageExport:        d.export,
		v1.StageConvert:       d.convertDisks,
		v1.StageAdaptGuest:    d.adaptLinux,
		v1.StageCleanTools:    d.noopStage,
		v1.StageInjectVirtio:  d.injectVirtio,
		v1.StageFixBootloader: d.noopStage,
		v1.StageEnsureUEFI:    d.ensureUEFI,
		v1.StageUpload:        d.upload,
		v1.StageImport:        d.importImage,
		v1.StageVerify:        d.verify,
		v1.StageCleanup:       d.cleanup,
	}
}

func (d Deps) jobDir(job *v1.VMJob) string {
	return filepath.Join(d.WorkDir, job.MigrationID)
}

// validate checks the source account's snapshot and disk-export privileges
// (also under skip_validation), resolves the live VMRecord, copies it into
// artifacts.vm_info, classifies the guest's OS family and firmware, and —
// unless skip_validation is set — runs the blocking preconditions a
// migration needs before it touches the source VM: a sane target type fit
// and no raw-device-mapping disks (qemu-img cannot export those). Under
// skip_validation the record is still fetched and classified,
// since the rest of the pipeline needs os_family and firmware either way.
func (d Deps) validate(ctx context.Context, job *v1.VMJob) error {
	if err := d.Source.ValidatePrivileges(ctx, job.VMName, []string{
		"VirtualMachine.State.CreateSnapshot",
		"VirtualMachine.State.RemoveSnapshot",
		"VirtualMachine.Provisioning.DiskExport",
	}); err != nil {
		return err
	}

	vm, err := d.Source.ResolveVM(ctx, job.VMName)
	if err != nil {
		return err
	}
	job.Artifacts.VMInfo = &vm

	family, _ := catalog.ClassifyLabel(vm.GuestOSID)
	job.OSFamily = family
	job.Firmware = vm.Firmware

	if job.SkipValidation {
		return nil
	}

	if len(vm.Snapshots) > 3 {
		handlersLog.Warnw("vm carries more snapshots than recommended", "vm", job.VMName, "count", len(vm.Snapshots))
	}

	var issues []string
	if vm.GuestOSID == "" {
		issues = append(issues, "vm reports no guest OS identifier")
	}
	for i, disk := range vm.Disks {
		if disk.FilePath == "" {
			issues = append(issues, fmt.Sprintf("disk %d has no backing file path, likely a raw device mapping", i))
		}
	}
	if job.TargetType != "" && d.Mapper != nil {
		issues = append(issues, d.Mapper.Validate(vm, family == v1.OSFamilyWindows, job.TargetType)...)
	}

	if len(issues) > 0 {
		return vmerrors.NewPreconditionError("validate: %s: %s", job.VMName, strings.Join(issues, "; "))
	}
	return nil
}

func (d Deps) snapshot(ctx context.Context, job *v1.VMJob) error {
	name := "vmware2scw-" + job.MigrationID
	if err := d.Source.CreateSnapshot(ctx, vmware.CreateSnapshotRequest{
		VmId:         job.VMName,
		SnapshotName: name,
		Description:  "pre-migration snapshot for " + job.MigrationID,
		Memory:       false,
		Quiesce:      true,
	}); err != nil {
		return err
	}
	job.Artifacts.SnapshotName = name
	return nil
}

func (d Deps) export(ctx context.Context, job *v1.VMJob) error {
	paths, err := d.Source.ExportDisks(ctx, job.VMName, d.jobDir(job), nil)
	if err != nil {
		return err
	}
	job.Artifacts.DiskPaths = paths
	return nil
}

// convertDisks converts each exported source-format disk to qcow2.
// Compression is forced off for Windows guests regardless of configuration:
// a compressed qcow2 forces the later VirtIO/UEFI emulator-boot stages onto
// qemu's much slower compressed-cluster read path, which dominates the
// Windows adaptation budget. Once a disk converts cleanly, its source file
// is removed — it has no further use and the work directory has to hold the
// export, the qcow2, and adaptation intermediates at once.
func (d Deps) convertDisks(ctx context.Context, job *v1.VMJob) error {
	compress := d.CompressQ2
	if job.OSFamily == v1.OSFamilyWindows {
		compress = false
	}

	images := make([]string, 0, len(job.Artifacts.DiskPaths))
	for i, disk := range job.Artifacts.DiskPaths {
		out := filepath.Join(d.jobDir(job), fmt.Sprintf("disk-%d.qcow2", i))
		if err := d.Disks.Convert(ctx, disk, out, compress, nil); err != nil {
			return err
		}
		images = append(images, out)
		if err := os.Remove(disk); err != nil && !os.IsNotExist(err) {
			handlersLog.Warnw("could not remove source disk after conversion", "path", disk, "error", err)
		}
	}
	job.Artifacts.ImagePaths = images
	return nil
}

// bootDisk is the boot disk's converted qcow2 path; every adapt stage
// mutates this one image (disk 0 is always the boot disk, api/v1.VMRecord's
// invariant).
func bootDisk(job *v1.VMJob) string {
	if len(job.Artifacts.ImagePaths) == 0 {
		return ""
	}
	return job.Artifacts.ImagePaths[0]
}

func (d Deps) adaptLinux(ctx context.Context, job *v1.VMJob) error {
	if job.OSFamily != v1.OSFamilyLinux {
		return nil
	}
	return d.Linux.Adapt(ctx, bootDisk(job), job.Firmware == v1.FirmwareBIOS)
}

// injectVirtio carries the Windows sequence's clean_tools/inject_virtio/
// fix_bootloader work: WindowsAdapter.InstallVirtIO bundles the offline NTFS
// fix, driver/registry staging, and the merged QEMU boot that actually
// installs the drivers into one atomic operation (windows.go), so the
// clean_tools and fix_bootloader stages around it are no-ops that exist for
// timing/status reporting.
func (d Deps) injectVirtio(ctx context.Context, job *v1.VMJob) error {
	if job.OSFamily != v1.OSFamilyWindows {
		return nil
	}
	firmware := "bios"
	if job.Firmware == v1.FirmwareEFI {
		firmware = "efi"
	}
	return d.Windows.InstallVirtIO(ctx, bootDisk(job), d.VirtioISO, firmware, d.jobDir(job))
}

func (d Deps) ensureUEFI(ctx context.Context, job *v1.VMJob) error {
	_, err := d.UEFI.Convert(ctx, bootDisk(job), job.OSFamily == v1.OSFamilyWindows)
	return err
}

func (d Deps) upload(ctx context.Context, job *v1.VMJob) error {
	keys := make([]string, 0, len(job.Artifacts.ImagePaths))
	for i, path := range job.Artifacts.ImagePaths {
		key := fmt.Sprintf("%s/disk-%d.qcow2", job.MigrationID, i)
		if err := d.Objects.UploadFile(ctx, path, key); err != nil {
			return err
		}
		keys = append(keys, key)
	}
	job.Artifacts.ObjectKeys = keys
	job.Artifacts.ObjectBucket = d.Objects.Bucket()
	return nil
}

func (d Deps) importImage(ctx context.Context, job *v1.VMJob) error {
	if len(job.Artifacts.ObjectKeys) == 0 {
		return nil
	}
	snap, err := d.Target.ImportSnapshot(ctx, job.VMName+"-"+job.MigrationID, job.Artifacts.ObjectBucket, job.Artifacts.ObjectKeys[0])
	if err != nil {
		return err
	}
	snap, err = d.Target.WaitSnapshotAvailable(ctx, snap.ID)
	if err != nil {
		return err
	}
	job.Artifacts.TargetSnapshotIDs = append(job.Artifacts.TargetSnapshotIDs, snap.ID)

	image, err := d.Target.CreateImage(ctx, job.VMName+"-"+job.MigrationID, snap.ID)
	if err != nil {
		return err
	}
	job.Artifacts.TargetImageID = image.ID
	return nil
}

func (d Deps) verify(ctx context.Context, job *v1.VMJob) error {
	if job.Artifacts.TargetImageID == "" {
		return vmerrors.NewIntegrityError("verify: no target image id recorded for %s", job.VMName)
	}
	return nil
}

func (d Deps) cleanup(ctx context.Context, job *v1.VMJob) error {
	if job.Artifacts.SnapshotName == "" {
		return nil
	}
	if err := d.Source.RemoveSnapshot(ctx, vmware.RemoveSnapshotRequest{
		VmId:         job.VMName,
		SnapshotName: job.Artifacts.SnapshotName,
		Consolidate:  true,
	}); err != nil {
		// Cleanup failures are logged here, never surfaced as a pipeline
		// failure (spec.md §7 propagation policy).
		handlersLog.Warnw("snapshot cleanup failed", "vm", job.VMName, "snapshot", job.Artifacts.SnapshotName, "error", err)
		return nil
	}
	return nil
}

func (d Deps) noopStage(ctx context.Context, job *v1.VMJob) error { return nil }
