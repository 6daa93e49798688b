package vmware

import (
	"context"

	"github.com/vmware/govmomi/object"

	vmerrors "github.com/scaleway/vmware2scw/pkg/errors"
)

// CreateSnapshotRequest names the VM and snapshot properties for the
// pre-export snapshot the snapshot stage creates.
type CreateSnapshotRequest struct {
	VmId         string
	SnapshotName string
	Description  string
	Memory       bool
	Quiesce      bool
}

// RemoveSnapshotRequest names the snapshot the cleanup stage removes once
// the export completes.
type RemoveSnapshotRequest struct {
	VmId         string
	SnapshotName string
	Consolidate  bool
}

// CreateSnapshot takes a quiesced, memory-less snapshot by default so the
// export stage has a crash-consistent point-in-time disk state without
// pausing the running VM. Quiesce requires VMware Tools cooperation and
// fails on its own for reasons unrelated to the rest of the request (tools
// not running, quiesce provider error); on that failure it falls back to a
// non-quiesced snapshot rather than blocking the whole migration on it.
func (m *VMManager) CreateSnapshot(ctx context.Context, req CreateSnapshotRequest) error {
	vm := m.vmFromMoid(req.VmId)

	if err := m.takeSnapshot(ctx, vm, req, req.Quiesce); err != nil {
		if !req.Quiesce {
			return err
		}
		m.log.Warnw("quiesced snapshot failed, falling back to non-quiesced", "vm", req.VmId, "error", err)
		if err := m.takeSnapshot(ctx, vm, req, false); err != nil {
			return err
		}
	}
	return nil
}

func (m *VMManager) takeSnapshot(ctx context.Context, vm *object.VirtualMachine, req CreateSnapshotRequest, quiesce bool) error {
	t, err := vm.CreateSnapshot(ctx, req.SnapshotName, req.Description, req.Memory, quiesce)
	if err != nil {
		return vmerrors.NewTransientError(err, "requesting snapshot %s on vm %s", req.SnapshotName, req.VmId)
	}
	if _, err := t.WaitForResult(ctx, nil); err != nil {
		return vmerrors.NewTransientError(err, "waiting for snapshot %s on vm %s", req.SnapshotName, req.VmId)
	}
	return nil
}

// RemoveSnapshot removes the named snapshot, consolidating the delta disks
// into the base disk by default so no orphaned redo logs accumulate across
// a long batch run. A snapshot that no longer exists is treated as success:
// cleanup is idempotent across a resumed batch.
func (m *VMManager) RemoveSnapshot(ctx context.Context, req RemoveSnapshotRequest) error {
	vm := m.vmFromMoid(req.VmId)

	ref, err := vm.FindSnapshot(ctx, req.SnapshotName)
	if err != nil {
		return nil
	}

	snapshot := object.NewVirtualMachineSnapshot(m.gc.Client, *ref)
	t, err := snapshot.RemoveWithChildren(ctx, &req.Consolidate)
	if err != nil {
		return vmerrors.NewTransientError(err, "requesting removal of snapshot %s on vm %s", req.SnapshotName, req.VmId)
	}
	if _, err := t.WaitForResult(ctx, nil); err != nil {
		return vmerrors.NewTransientError(err, "waiting for snapshot removal %s on vm %s", req.SnapshotName, req.VmId)
	}
	return nil
}
