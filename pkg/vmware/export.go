package vmware

import (
	"context"
	"os"
	"path/filepath"

	"github.com/vmware/govmomi/nfc"
	"github.com/vmware/govmomi/vim25/soap"

	vmerrors "github.com/scaleway/vmware2scw/pkg/errors"
)

// ExportDisks exports every disk of the VM named by moid as a stream of VMDK
// files into destDir, reporting aggregate byte progress through progress.
// It is the "export" stage's only collaborator call; conversion afterward
// works purely on the local files it returns. Idempotent: a disk whose
// destination file already exists with the expected size is not
// re-downloaded, so a process restart mid-export resumes rather than
// starting over.
func (m *VMManager) ExportDisks(ctx context.Context, moid, destDir string, progress func(pct float64)) ([]string, error) {
	vm := m.vmFromMoid(moid)

	lease, err := vm.Export(ctx)
	if err != nil {
		return nil, vmerrors.NewTransientError(err, "requesting export lease for vm %s", moid)
	}
	defer lease.Complete(ctx)

	info, err := lease.Wait(ctx, nil)
	if err != nil {
		return nil, vmerrors.NewTransientError(err, "waiting for export lease on vm %s", moid)
	}

	updater := lease.StartUpdater(ctx, info)
	defer updater.Done()

	var paths []string
	devices := diskURLs(info)
	total := len(devices)
	for i, device := range devices {
		dst := filepath.Join(destDir, filepath.Base(device.TargetId)+".vmdk")

		if fi, err := os.Stat(dst); err == nil && device.Size > 0 && fi.Size() == device.Size {
			m.log.Infow("disk already exported, skipping", "vm", moid, "path", dst)
			paths = append(paths, dst)
			if progress != nil {
				progress(float64(i+1) / float64(total) * 100)
			}
			continue
		}

		if err := lease.DownloadFile(ctx, dst, device, soap.Download{}); err != nil {
			return nil, vmerrors.NewTransientError(err, "downloading disk %s for vm %s", device.Url, moid)
		}
		paths = append(paths, dst)

		if progress != nil {
			progress(float64(i+1) / float64(total) * 100)
		}
	}

	return paths, nil
}

// diskURLs filters the lease's device list down to disk devices; the OVF
// descriptor and any ISO/floppy backing are not disks to convert.
func diskURLs(info *nfc.LeaseInfo) []nfc.DeviceURL {
	var out []nfc.DeviceURL
	for _, d := range info.Items {
		if d.Disk {
			out = append(out, d)
		}
	}
	return out
}
