package adapt

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"strings"

	vmerrors "github.com/scaleway/vmware2scw/pkg/errors"
	"github.com/scaleway/vmware2scw/pkg/subprocess"
)

// BootType is the boot/partition layout detected on a source disk.
type BootType string

const (
	BootUEFI    BootType = "uefi"
	BootBIOSGPT BootType = "bios-gpt"
	BootBIOSMBR BootType = "bios-mbr"
)

// espSizeMB is the size of the EFI System Partition this engine creates
// when converting a BIOS disk to UEFI.
const espSizeMB = 200

// Bios2UefiEngine converts a BIOS/MBR-booting qcow2 image to UEFI/GPT,
// matching the firmware Scaleway instances expect. Windows guests are not
// converted: Bios2UefiEngine.Convert returns (false, nil) for them and
// leaves the image as it is.
type Bios2UefiEngine struct {
	runner *subprocess.Runner
}

func NewBios2UefiEngine(runner *subprocess.Runner) *Bios2UefiEngine {
	return &Bios2UefiEngine{runner: runner}
}

// DetectBootType inspects qcow2Path's partition table via guestfish.
func (e *Bios2UefiEngine) DetectBootType(ctx context.Context, qcow2Path string) (BootType, error) {
	res, err := e.runner.Run(ctx, []string{
		"guestfish", "--ro", "-a", qcow2Path, "--", "run", ":", "part-get-parttype", "/dev/sda",
	}, subprocess.Options{BestEffort: true, Env: subprocess.GuestfsEnv})
	if err != nil {
		return "", err
	}
	partType := strings.TrimSpace(res.Stdout)

	switch partType {
	case "gpt":
		for part := 1; part < 10; part++ {
			r, err := e.runner.Run(ctx, []string{
				"guestfish", "--ro", "-a", qcow2Path, "--", "run", ":", "part-get-gpt-type", "/dev/sda", strconv.Itoa(part),
			}, subprocess.Options{BestEffort: true, Env: subprocess.GuestfsEnv})
			if err != nil || r.ExitCode != 0 {
				break
			}
			if strings.ToUpper(strings.TrimSpace(r.Stdout)) == "C12A7328-F81F-11D2-BA4B-00A0C93EC93B" {
				return BootUEFI, nil
			}
		}
		mounts, err := e.runner.Run(ctx, []string{
			"guestfish", "--ro", "-a", qcow2Path, "-i", "--", "mountpoints",
		}, subprocess.Options{BestEffort: true, Env: subprocess.GuestfsEnv})
		if err == nil && strings.Contains(mounts.Stdout, "/boot/efi") {
			return BootUEFI, nil
		}
		return BootBIOSGPT, nil
	case "msdos", "dos":
		return BootBIOSMBR, nil
	default:
		return BootBIOSMBR, nil
	}
}

// Convert converts qcow2Path in place from BIOS to UEFI boot, returning
// (false, nil) if it is already UEFI or the guest is Windows. A BIOS
// Windows image is returned unchanged; no component in this tree converts
// one to UEFI (WindowsAdapter only boots an already-UEFI image with OVMF).
func (e *Bios2UefiEngine) Convert(ctx context.Context, qcow2Path string, windows bool) (bool, error) {
	bootType, err := e.DetectBootType(ctx, qcow2Path)
	if err != nil {
		return false, err
	}
	if bootType == BootUEFI {
		return false, nil
	}
	if windows {
		return false, nil
	}

	rawPath := qcow2Path + ".raw"
	newPath := qcow2Path + ".new"
	cleanup := func() {
		os.Remove(rawPath)
		os.Remove(newPath)
	}

	run := func(cmd []string) error {
		_, err := e.runner.Run(ctx, cmd, subprocess.Options{Env: subprocess.GuestfsEnv})
		return err
	}

	if err := run([]string{"qemu-img", "convert", "-f", "qcow2", "-O", "raw", qcow2Path, rawPath}); err != nil {
		cleanup()
		return false, err
	}
	if err := run([]string{"qemu-img", "resize", "-f", "raw", rawPath, fmt.Sprintf("+%dM", espSizeMB)}); err != nil {
		cleanup()
		return false, err
	}

	if bootType == BootBIOSGPT {
		if err := run([]string{"sgdisk", "-e", rawPath}); err != nil {
			cleanup()
			return false, err
		}
	} else {
		if err := run([]string{"sgdisk", "--mbrtogpt", rawPath}); err != nil {
			cleanup()
			return false, err
		}
	}

	lastPart, err := e.lastPartitionNumber(ctx, rawPath)
	if err != nil {
		cleanup()
		return false, err
	}
	newPart := lastPart + 1

	if err := run([]string{
		"sgdisk",
		fmt.Sprintf("-n%d:0:+%dM", newPart, espSizeMB),
		fmt.Sprintf("-t%d:EF00", newPart),
		fmt.Sprintf("-c%d:EFI-System", newPart),
		rawPath,
	}); err != nil {
		cleanup()
		return false, err
	}

	offset, sizelimit, err := e.espGeometry(ctx, rawPath, newPart)
	if err != nil {
		cleanup()
		return false, err
	}

	if err := e.formatESP(ctx, rawPath, offset, sizelimit); err != nil {
		cleanup()
		return false, err
	}

	if err := run([]string{"qemu-img", "convert", "-f", "raw", "-O", "qcow2", rawPath, newPath}); err != nil {
		cleanup()
		return false, err
	}
	if err := os.Remove(rawPath); err != nil {
		return false, vmerrors.NewTransientError(err, "removing intermediate raw image")
	}
	if err := os.Remove(qcow2Path); err != nil {
		return false, vmerrors.NewTransientError(err, "removing original qcow2 image")
	}
	if err := os.Rename(newPath, qcow2Path); err != nil {
		return false, vmerrors.NewTransientError(err, "replacing qcow2 image with UEFI-converted copy")
	}

	if err := run([]string{
		"virt-customize", "-a", qcow2Path,
		"--install", "grub-efi-amd64,grub-efi-amd64-bin,dosfstools",
		"--run-command", grubEFIScript(newPart),
	}); err != nil {
		return false, err
	}

	return true, nil
}

func (e *Bios2UefiEngine) lastPartitionNumber(ctx context.Context, rawPath string) (int, error) {
	res, err := e.runner.Run(ctx, []string{"sgdisk", "-p", rawPath}, subprocess.Options{})
	if err != nil {
		return 0, err
	}
	last := 0
	for _, line := range strings.Split(res.Stdout, "\n") {
		line = strings.TrimSpace(line)
		if line == "" || line[0] < '0' || line[0] > '9' {
			continue
		}
		fields := strings.Fields(line)
		if n, err := strconv.Atoi(fields[0]); err == nil {
			last = n
		}
	}
	if last == 0 {
		return 0, vmerrors.NewIntegrityError("no partitions found on disk")
	}
	return last, nil
}

func (e *Bios2UefiEngine) espGeometry(ctx context.Context, rawPath string, part int) (offset, sizelimit int64, err error) {
	res, runErr := e.runner.Run(ctx, []string{"sgdisk", "-i", strconv.Itoa(part), rawPath}, subprocess.Options{})
	if runErr != nil {
		return 0, 0, runErr
	}

	const sectorSize = 512
	var startSector, sizeSectors int64
	for _, line := range strings.Split(res.Stdout, "\n") {
		if v, ok := fieldAfterColon(line, "First sector:"); ok {
			startSector = v
		}
		if v, ok := fieldAfterColon(line, "Partition size:"); ok {
			sizeSectors = v
		}
	}
	if startSector == 0 || sizeSectors == 0 {
		return 0, 0, vmerrors.NewIntegrityError("could not determine ESP partition geometry from sgdisk output")
	}
	return startSector * sectorSize, sizeSectors * sectorSize, nil
}

func fieldAfterColon(line, prefix string) (int64, bool) {
	if !strings.Contains(line, prefix) {
		return 0, false
	}
	parts := strings.SplitN(line, ":", 2)
	if len(parts) != 2 {
		return 0, false
	}
	fields := strings.Fields(parts[1])
	if len(fields) == 0 {
		return 0, false
	}
	n, err := strconv.ParseInt(fields[0], 10, 64)
	if err != nil {
		return 0, false
	}
	return n, true
}

func (e *Bios2UefiEngine) formatESP(ctx context.Context, rawPath string, offset, sizelimit int64) error {
	args := []string{"losetup", "--find", "--show"}
	if offset > 0 {
		args = append(args, "--offset", strconv.FormatInt(offset, 10))
	}
	if sizelimit > 0 {
		args = append(args, "--sizelimit", strconv.FormatInt(sizelimit, 10))
	}
	args = append(args, rawPath)

	res, err := e.runner.Run(ctx, args, subprocess.Options{})
	if err != nil {
		return err
	}
	loopDev := strings.TrimSpace(res.Stdout)
	defer func() { _, _ = e.runner.Run(ctx, []string{"losetup", "--detach", loopDev}, subprocess.Options{BestEffort: true}) }()

	_, err = e.runner.Run(ctx, []string{"mkfs.vfat", "-F", "32", "-n", "ESP", loopDev}, subprocess.Options{})
	return err
}

func grubEFIScript(espPartNum int) string {
	return fmt.Sprintf(`set -e
DISK="/dev/sda"
ESP_DEV="${DISK}%[1]d"
if [ ! -b "$ESP_DEV" ]; then ESP_DEV="${DISK}p%[1]d"; fi
mkdir -p /boot/efi
mount "$ESP_DEV" /boot/efi
ESP_UUID=$(blkid -o value -s UUID "$ESP_DEV")
if [ -n "$ESP_UUID" ]; then
  sed -i '\|/boot/efi|d' /etc/fstab
  echo "UUID=$ESP_UUID /boot/efi vfat umask=0077 0 1" >> /etc/fstab
fi
grub-install --target=x86_64-efi --efi-directory=/boot/efi --bootloader-id=ubuntu --recheck --no-floppy 2>&1 || \
grub-install --target=x86_64-efi --efi-directory=/boot/efi --bootloader-id=BOOT --recheck --no-floppy 2>&1 || {
  mkdir -p /boot/efi/EFI/BOOT
  cp /usr/lib/grub/x86_64-efi/monolithic/grubx64.efi /boot/efi/EFI/BOOT/BOOTX64.EFI 2>/dev/null || true
}
mkdir -p /boot/efi/EFI/BOOT
if [ -f /boot/efi/EFI/ubuntu/grubx64.efi ]; then
  cp /boot/efi/EFI/ubuntu/grubx64.efi /boot/efi/EFI/BOOT/BOOTX64.EFI
elif [ -f /boot/efi/EFI/ubuntu/shimx64.efi ]; then
  cp /boot/efi/EFI/ubuntu/shimx64.efi /boot/efi/EFI/BOOT/BOOTX64.EFI
fi
if [ -f /etc/default/grub ]; then
  sed -i 's/^GRUB_CMDLINE_LINUX_DEFAULT=.*/GRUB_CMDLINE_LINUX_DEFAULT="console=tty1 console=ttyS0,115200n8"/' /etc/default/grub
fi
grub-mkconfig -o /boot/grub/grub.cfg 2>/dev/null || true
umount /boot/efi 2>/dev/null || true
`, espPartNum)
}
