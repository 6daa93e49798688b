package vmware

import (
	"context"

	"github.com/vmware/govmomi/object"
	"github.com/vmware/govmomi/view"
	"github.com/vmware/govmomi/vim25/mo"
	"github.com/vmware/govmomi/vim25/types"

	v1 "github.com/scaleway/vmware2scw/api/v1"
	vmerrors "github.com/scaleway/vmware2scw/pkg/errors"
)

// ListVMs walks the full VM inventory under the root folder and returns one
// VMRecord per virtual machine. It is called once at plan-build time; the
// records it returns are never refreshed mid-batch.
func (m *VMManager) ListVMs(ctx context.Context) ([]v1.VMRecord, error) {
	mgr := view.NewManager(m.gc.Client)

	cv, err := mgr.CreateContainerView(ctx, m.gc.ServiceContent.RootFolder, []string{"VirtualMachine"}, true)
	if err != nil {
		return nil, vmerrors.NewTransientError(err, "creating inventory container view")
	}
	defer cv.Destroy(ctx)

	var raw []mo.VirtualMachine
	if err := cv.Retrieve(ctx, []string{"VirtualMachine"}, []string{
		"name", "config", "guest", "runtime", "resourcePool", "snapshot", "summary",
	}, &raw); err != nil {
		return nil, vmerrors.NewTransientError(err, "retrieving VM properties")
	}

	records := make([]v1.VMRecord, 0, len(raw))
	for _, vm := range raw {
		records = append(records, toVMRecord(vm))
	}
	return records, nil
}

// ResolveVM opens a read session against the inventory and returns the
// VMRecord for the single VM named name. Used by the validate stage, which
// needs a fresh record rather than the one captured at plan-build time.
func (m *VMManager) ResolveVM(ctx context.Context, name string) (v1.VMRecord, error) {
	mgr := view.NewManager(m.gc.Client)

	cv, err := mgr.CreateContainerView(ctx, m.gc.ServiceContent.RootFolder, []string{"VirtualMachine"}, true)
	if err != nil {
		return v1.VMRecord{}, vmerrors.NewTransientError(err, "creating inventory container view")
	}
	defer cv.Destroy(ctx)

	var raw []mo.VirtualMachine
	if err := cv.Retrieve(ctx, []string{"VirtualMachine"}, []string{
		"name", "config", "guest", "runtime", "resourcePool", "snapshot", "summary",
	}, &raw); err != nil {
		return v1.VMRecord{}, vmerrors.NewTransientError(err, "retrieving VM properties")
	}

	for _, vm := range raw {
		if vm.Name == name {
			return toVMRecord(vm), nil
		}
	}
	return v1.VMRecord{}, vmerrors.NewNotFoundError("vm %q not found in inventory", name)
}

func toVMRecord(vm mo.VirtualMachine) v1.VMRecord {
	rec := v1.VMRecord{
		Name:  vm.Name,
		Moref: vm.Self.Value,
		UUID:  vm.Config.Uuid,
	}

	switch vm.Runtime.PowerState {
	case types.VirtualMachinePowerStatePoweredOn:
		rec.PowerState = v1.PowerStateOn
	case types.VirtualMachinePowerStatePoweredOff:
		rec.PowerState = v1.PowerStateOff
	case types.VirtualMachinePowerStateSuspended:
		rec.PowerState = v1.PowerStateSuspended
	}

	if vm.Config != nil {
		rec.CPU = int(vm.Config.Hardware.NumCPU)
		rec.MemoryMB = int64(vm.Config.Hardware.MemoryMB)
		if vm.Config.Firmware == string(types.GuestOsDescriptorFirmwareTypeEfi) {
			rec.Firmware = v1.FirmwareEFI
		} else {
			rec.Firmware = v1.FirmwareBIOS
		}
		rec.Disks = disksFromDevices(vm.Config.Hardware.Device)
		rec.NICs = nicsFromDevices(vm.Config.Hardware.Device)
	}

	if vm.Guest != nil {
		rec.GuestOSID = vm.Guest.GuestId
		rec.GuestOSFull = vm.Guest.GuestFullName
		rec.ToolsStatus = string(vm.Guest.ToolsStatus)
	}

	if vm.Snapshot != nil {
		rec.Snapshots = snapshotTree(vm.Snapshot.RootSnapshotList)
	}

	if vm.Runtime.Host != nil {
		rec.Host = vm.Runtime.Host.Value
	}

	return rec
}

func disksFromDevices(devices object.VirtualDeviceList) []v1.Disk {
	var disks []v1.Disk
	for _, d := range devices {
		disk, ok := d.(*types.VirtualDisk)
		if !ok {
			continue
		}
		var backing *types.VirtualDiskFlatVer2BackingInfo
		if b, ok := disk.Backing.(*types.VirtualDiskFlatVer2BackingInfo); ok {
			backing = b
		}
		entry := v1.Disk{
			SizeGB:     float64(disk.CapacityInKB) / (1024 * 1024),
			Controller: v1.ControllerSCSI,
		}
		if backing != nil {
			entry.Thin = backing.ThinProvisioned != nil && *backing.ThinProvisioned
			if backing.Datastore != nil {
				entry.Datastore = backing.Datastore.Value
			}
			entry.FilePath = backing.FileName
		}
		disks = append(disks, entry)
	}
	return disks
}

func nicsFromDevices(devices object.VirtualDeviceList) []v1.NIC {
	var nics []v1.NIC
	for _, d := range devices {
		nic, ok := d.(types.BaseVirtualEthernetCard)
		if !ok {
			continue
		}
		card := nic.GetVirtualEthernetCard()
		entry := v1.NIC{MAC: card.MacAddress}
		if card.DeviceInfo != nil {
			entry.Name = card.DeviceInfo.GetDescription().Label
			entry.Network = card.DeviceInfo.GetDescription().Summary
		}
		nics = append(nics, entry)
	}
	return nics
}

func snapshotTree(tree []types.VirtualMachineSnapshotTree) []v1.Snapshot {
	var out []v1.Snapshot
	for _, s := range tree {
		out = append(out, v1.Snapshot{Name: s.Name, CreatedAt: s.CreateTime})
		out = append(out, snapshotTree(s.ChildSnapshotList)...)
	}
	return out
}

