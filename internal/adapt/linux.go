// Package adapt runs the guest-adaptation stage: rewriting the converted
// disk image so it boots under KVM on Scaleway instead of under the
// VMware hypervisor it was captured from.
package adapt

import (
	"context"

	"github.com/scaleway/vmware2scw/pkg/subprocess"
)

// LinuxAdapter rewrites a Linux boot disk in a single virt-customize
// invocation: strip VMware tools, inject VirtIO modules into the
// initramfs, repoint fstab/GRUB device references at /dev/vd*, configure
// a serial console, and leave a UEFI fallback boot entry in place. One
// call instead of several separate guestfs appliance boots.
type LinuxAdapter struct {
	runner *subprocess.Runner
}

func NewLinuxAdapter(runner *subprocess.Runner) *LinuxAdapter {
	return &LinuxAdapter{runner: runner}
}

// Adapt runs the unified virt-customize pass against bootDisk. Individual
// --run-command steps are tolerant of failure (wrong package manager,
// missing bootloader) so the whole call runs best-effort; only an
// un-runnable virt-customize binary surfaces as an error.
func (a *LinuxAdapter) Adapt(ctx context.Context, bootDisk string, skipUEFIFallback bool) error {
	args := []string{"virt-customize", "-a", bootDisk}
	args = append(args, cleanVMwareToolsCommands()...)
	args = append(args, injectVirtIOCommands()...)
	args = append(args, fixBootloaderCommands()...)
	args = append(args, cleanNetworkCommands()...)
	if !skipUEFIFallback {
		args = append(args, uefiFallbackCommands()...)
	}

	_, err := a.runner.Run(ctx, args, subprocess.Options{
		BestEffort: true,
		Env:        subprocess.GuestfsEnv,
	})
	return err
}

func cleanVMwareToolsCommands() []string {
	return runCommands(
		"apt-get remove -y open-vm-tools open-vm-tools-desktop 2>/dev/null || true",
		"yum remove -y open-vm-tools open-vm-tools-desktop 2>/dev/null || true",
		"dnf remove -y open-vm-tools open-vm-tools-desktop 2>/dev/null || true",
		"zypper remove -y open-vm-tools open-vm-tools-desktop 2>/dev/null || true",
		"rm -rf /etc/vmware-tools /usr/lib/vmware-tools 2>/dev/null || true",
		"rm -f /etc/udev/rules.d/*vmware* /etc/udev/rules.d/99-vmware-scsi-udev.rules 2>/dev/null || true",
		"systemctl disable vmtoolsd.service vmware-tools.service 2>/dev/null || true",
	)
}

func injectVirtIOCommands() []string {
	return runCommands(
		"if command -v update-initramfs >/dev/null 2>&1; then "+
			"for mod in virtio_blk virtio_scsi virtio_net virtio_pci; do "+
			"grep -q $mod /etc/initramfs-tools/modules 2>/dev/null || echo $mod >> /etc/initramfs-tools/modules; "+
			"done; update-initramfs -u; fi",
		"if command -v dracut >/dev/null 2>&1; then "+
			"dracut --force --add-drivers 'virtio_blk virtio_scsi virtio_net virtio_pci' 2>/dev/null || true; fi",
	)
}

func fixBootloaderCommands() []string {
	return runCommands(
		"if [ -f /etc/fstab ]; then cp /etc/fstab /etc/fstab.vmware2scw.bak; "+
			"sed -i 's|/dev/sda|/dev/vda|g; s|/dev/sdb|/dev/vdb|g; s|/dev/sdc|/dev/vdc|g' /etc/fstab; fi",
		"if [ -f /etc/default/grub ]; then cp /etc/default/grub /etc/default/grub.vmware2scw.bak; "+
			"sed -i 's|/dev/sda|/dev/vda|g' /etc/default/grub; fi",
		"if [ -f /etc/default/grub ]; then "+
			"sed -i '/^GRUB_TERMINAL_OUTPUT=/d; /^GRUB_TERMINAL=/d; /^GRUB_SERIAL_COMMAND=/d; "+
			"/^GRUB_GFXMODE=/d; /^GRUB_GFXPAYLOAD_LINUX=/d' /etc/default/grub; "+
			"echo 'GRUB_TERMINAL=\"console serial\"' >> /etc/default/grub; "+
			"echo 'GRUB_SERIAL_COMMAND=\"serial --speed=115200 --unit=0 --word=8 --parity=no --stop=1\"' >> /etc/default/grub; "+
			"echo 'GRUB_TERMINAL_OUTPUT=\"console serial\"' >> /etc/default/grub; "+
			"sed -i 's/^GRUB_CMDLINE_LINUX_DEFAULT=.*/GRUB_CMDLINE_LINUX_DEFAULT=\"console=tty1 console=ttyS0,115200n8\"/' /etc/default/grub; fi",
		"if [ -f /boot/grub/device.map ]; then sed -i 's|/dev/sda|/dev/vda|g' /boot/grub/device.map; fi",
		"if command -v grub-mkconfig >/dev/null 2>&1; then grub-mkconfig -o /boot/grub/grub.cfg 2>/dev/null || true; "+
			"elif command -v grub2-mkconfig >/dev/null 2>&1; then grub2-mkconfig -o /boot/grub2/grub.cfg 2>/dev/null || true; fi",
		"rm -f /etc/modprobe.d/*vmw* /etc/modprobe.d/*vmware* 2>/dev/null || true",
	)
}

func cleanNetworkCommands() []string {
	return runCommands(
		"rm -f /etc/udev/rules.d/70-persistent-net.rules /etc/udev/rules.d/75-persistent-net-generator.rules 2>/dev/null || true",
		"if [ -d /etc/netplan ]; then printf 'network:\\n  version: 2\\n  ethernets:\\n    ens2:\\n      dhcp4: true\\n    eth0:\\n      dhcp4: true\\n' > /etc/netplan/50-cloud-init.yaml; "+
			"elif [ -d /etc/sysconfig/network-scripts ]; then printf 'DEVICE=eth0\\nONBOOT=yes\\nBOOTPROTO=dhcp\\n' > /etc/sysconfig/network-scripts/ifcfg-eth0; fi",
	)
}

func uefiFallbackCommands() []string {
	var shims string
	for _, distro := range []string{"ubuntu", "debian", "centos", "fedora", "rocky", "almalinux", "rhel"} {
		shims += "/boot/efi/EFI/" + distro + "/shimx64.efi /boot/efi/EFI/" + distro + "/grubx64.efi "
	}
	shims += "/boot/efi/EFI/sles/grubx64.efi /boot/efi/EFI/opensuse/grubx64.efi"

	return runCommands(
		"if [ -d /boot/efi/EFI ]; then mkdir -p /boot/efi/EFI/BOOT; "+
			"for src in "+shims+"; do "+
			"if [ -f \"$src\" ]; then cp \"$src\" /boot/efi/EFI/BOOT/BOOTX64.EFI; break; fi; done; fi",
	)
}

// runCommands turns a list of shell one-liners into alternating
// "--run-command", script pairs for the virt-customize argv.
func runCommands(scripts ...string) []string {
	out := make([]string, 0, len(scripts)*2)
	for _, s := range scripts {
		out = append(out, "--run-command", s)
	}
	return out
}
