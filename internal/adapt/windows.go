package adapt

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	vmerrors "github.com/scaleway/vmware2scw/pkg/errors"
	"github.com/scaleway/vmware2scw/pkg/subprocess"
)

// virtioDriver is one of the three VirtIO drivers injected into a Windows
// guest: boot disk (viostor), the SCSI controller Scaleway actually
// presents (vioscsi), and the network adapter (netkvm).
type virtioDriver struct {
	name      string
	group     string
	imagePath string
	isoDir    string
}

var virtioDrivers = []virtioDriver{
	{name: "viostor", group: "SCSI miniport", imagePath: `system32\drivers\viostor.sys`, isoDir: "viostor"},
	{name: "vioscsi", group: "SCSI miniport", imagePath: `system32\drivers\vioscsi.sys`, isoDir: "vioscsi"},
	{name: "netkvm", group: "NDIS", imagePath: `system32\drivers\netkvm.sys`, isoDir: "NetKVM"},
}

// virtioOSSubdirs is the order of per-release driver directories tried on
// the virtio-win ISO, newest first.
var virtioOSSubdirs = []string{"2k22/amd64", "2k19/amd64", "2k16/amd64", "w11/amd64", "w10/amd64"}

const qemuBootTimeout = 420 * time.Second

// setupCmdScript is uploaded as the guest's SetupPhase command; it installs
// the staged drivers via pnputil, configures DHCP/RDP/EMS, clears the
// first-boot SetupType flags, and shuts the guest down cleanly so the
// single QEMU boot in Phase 2 can exit via -no-reboot.
const setupCmdScript = `@echo off
echo PHASE:STARTING > \\.\COM1
echo PHASE:PNPUTIL >> \\.\COM1
for /d %%D in (C:\Drivers\*) do (
    for %%F in (%%D\*.inf) do (
        pnputil /add-driver "%%F" /install
    )
)
echo PHASE:DHCP >> \\.\COM1
powershell -Command "Get-NetAdapter -EA SilentlyContinue | ForEach-Object { Set-NetIPInterface -InterfaceIndex $_.ifIndex -Dhcp Enabled -EA SilentlyContinue }"
reg add "HKLM\SYSTEM\CurrentControlSet\Control\Terminal Server" /v fDenyTSConnections /t REG_DWORD /d 0 /f
netsh advfirewall firewall set rule group="Remote Desktop" new enable=yes
echo PHASE:EMS >> \\.\COM1
bcdedit /ems "{current}" on
bcdedit /emssettings EMSPORT:1 EMSBAUDRATE:115200
bcdedit /set "{bootmgr}" bootems yes
reg add "HKLM\SYSTEM\Setup" /v SetupType /t REG_DWORD /d 0 /f
reg add "HKLM\SYSTEM\Setup" /v SystemSetupInProgress /t REG_DWORD /d 0 /f
reg add "HKLM\SYSTEM\Setup" /v CmdLine /t REG_SZ /d "" /f
echo Setup complete > C:\vmware2scw-setup.log
echo PHASE:COMPLETE >> \\.\COM1
shutdown /s /t 10
`

// WindowsAdapter installs VirtIO drivers into a Windows guest image so it
// can boot on Scaleway's virtio-scsi/virtio-net hardware. It runs in two
// phases: an offline preparation pass that stages driver files and
// registry entries via guestfish/hivexregedit, then a single QEMU boot
// (with both virtio-blk and virtio-scsi attached) during which Windows'
// own Plug-and-Play installs the remaining drivers and a scripted
// SetupPhase shuts the guest down cleanly.
type WindowsAdapter struct {
	runner *subprocess.Runner
}

func NewWindowsAdapter(runner *subprocess.Runner) *WindowsAdapter {
	return &WindowsAdapter{runner: runner}
}

// InstallVirtIO mutates qcow2Path in place, using virtioISO as the driver
// source and workDir as scratch space for the QEMU overlay and logs.
func (a *WindowsAdapter) InstallVirtIO(ctx context.Context, qcow2Path, virtioISO, firmware, workDir string) error {
	if err := os.MkdirAll(workDir, 0o755); err != nil {
		return vmerrors.NewConfigurationError("creating virtio work dir: %v", err)
	}

	if err := a.fixNTFSDirty(ctx, qcow2Path); err != nil {
		return err
	}
	if err := a.offlinePrepare(ctx, qcow2Path, virtioISO, workDir); err != nil {
		return err
	}

	completed, err := a.mergedQEMUBoot(ctx, qcow2Path, workDir, firmware)
	if err != nil {
		return err
	}
	if !completed {
		return vmerrors.NewExternalToolError("qemu-system-x86_64", -1,
			"guest did not report setup completion before timeout; manual DISM from rescue mode required")
	}
	return nil
}

// fixNTFSDirty clears the NTFS dirty bit Windows leaves after an unclean
// shutdown so guestfish can mount the volume read-write in offlinePrepare.
func (a *WindowsAdapter) fixNTFSDirty(ctx context.Context, qcow2Path string) error {
	_, _ = a.runner.Run(ctx, []string{"modprobe", "nbd", "max_part=8"}, subprocess.Options{BestEffort: true})
	_, _ = a.runner.Run(ctx, []string{"qemu-nbd", "--disconnect", "/dev/nbd0"}, subprocess.Options{BestEffort: true})

	if _, err := a.runner.Run(ctx, []string{"qemu-nbd", "--connect", "/dev/nbd0", qcow2Path}, subprocess.Options{}); err != nil {
		return err
	}
	defer func() {
		_, _ = a.runner.Run(ctx, []string{"qemu-nbd", "--disconnect", "/dev/nbd0"}, subprocess.Options{BestEffort: true})
	}()

	for i := 1; i < 8; i++ {
		part := fmt.Sprintf("/dev/nbd0p%d", i)
		if _, err := os.Stat(part); err != nil {
			continue
		}
		res, err := a.runner.Run(ctx, []string{"blkid", "-o", "value", "-s", "TYPE", part}, subprocess.Options{BestEffort: true})
		if err != nil || !strings.Contains(strings.ToLower(res.Stdout), "ntfs") {
			continue
		}
		if _, err := a.runner.Run(ctx, []string{"ntfsfix", "-d", part}, subprocess.Options{BestEffort: true}); err != nil {
			return err
		}
	}
	return nil
}

// offlinePrepare stages the three VirtIO driver packages onto the guest's
// C:\Drivers tree, copies the viostor/vioscsi .sys files into
// System32\drivers where their service ImagePath points, registers the boot-critical viostor/vioscsi services and
// the first-boot Setup command in the offline SYSTEM hive (downloaded,
// merged with hivexregedit, uploaded back), and uploads the SetupPhase
// command script that Phase 2's QEMU boot executes.
func (a *WindowsAdapter) offlinePrepare(ctx context.Context, qcow2Path, virtioISO, workDir string) error {
	mountDir := filepath.Join(workDir, "virtio-iso")
	if err := os.MkdirAll(mountDir, 0o755); err != nil {
		return vmerrors.NewConfigurationError("creating iso mount dir: %v", err)
	}
	if _, err := a.runner.Run(ctx, []string{"mount", "-o", "loop,ro", virtioISO, mountDir}, subprocess.Options{}); err != nil {
		return err
	}
	defer func() { _, _ = a.runner.Run(ctx, []string{"umount", mountDir}, subprocess.Options{BestEffort: true}) }()

	var subdir string
	for _, d := range virtioOSSubdirs {
		if _, err := os.Stat(filepath.Join(mountDir, "viostor", d)); err == nil {
			subdir = d
			break
		}
	}
	if subdir == "" {
		return vmerrors.NewPreconditionError("no supported VirtIO driver directory found on %s", virtioISO)
	}

	for _, drv := range virtioDrivers {
		src := filepath.Join(mountDir, drv.isoDir, subdir)
		dest := fmt.Sprintf("/Drivers/%s", drv.isoDir)
		if _, err := a.runner.Run(ctx, []string{
			"guestfish", "-a", qcow2Path, "-i", "--",
			"glob", "copy-in", src + "/*.*", dest,
		}, subprocess.Options{BestEffort: true, Env: subprocess.GuestfsEnv}); err != nil {
			return err
		}
		if drv.name == "viostor" || drv.name == "vioscsi" {
			if _, err := a.runner.Run(ctx, []string{
				"guestfish", "-a", qcow2Path, "-i", "--",
				"copy-in", filepath.Join(src, drv.name+".sys"), "/Windows/System32/drivers",
			}, subprocess.Options{BestEffort: true, Env: subprocess.GuestfsEnv}); err != nil {
				return err
			}
		}
	}

	setupKeys := "[\\Setup]\n" +
		`"SetupType"=dword:00000001` + "\n" +
		`"SystemSetupInProgress"=dword:00000001` + "\n" +
		`"CmdLine"="cmd.exe /c C:\\Windows\\vmware2scw-setup.cmd"` + "\n\n"
	hiveScript := filepath.Join(workDir, "services.reg")
	if err := os.WriteFile(hiveScript, []byte(bootServiceRegistry()+setupKeys), 0o644); err != nil {
		return vmerrors.NewConfigurationError("writing driver registry script: %v", err)
	}
	hiveLocal, guestHive := filepath.Join(workDir, "SYSTEM"), "/Windows/System32/config/SYSTEM"
	if _, err := a.runner.Run(ctx, []string{"guestfish", "--ro", "-a", qcow2Path, "-i", "--", "download", guestHive, hiveLocal}, subprocess.Options{Env: subprocess.GuestfsEnv}); err != nil {
		return err
	}
	if _, err := a.runner.Run(ctx, []string{
		"hivexregedit", "--merge", "--prefix", `HKEY_LOCAL_MACHINE\SYSTEM`,
		hiveLocal, hiveScript,
	}, subprocess.Options{BestEffort: true, Env: subprocess.GuestfsEnv}); err != nil {
		return err
	}
	if _, err := a.runner.Run(ctx, []string{"guestfish", "-a", qcow2Path, "-i", "--", "upload", hiveLocal, guestHive}, subprocess.Options{Env: subprocess.GuestfsEnv}); err != nil {
		return err
	}

	cmdFile := filepath.Join(workDir, "vmware2scw-setup.cmd")
	if err := os.WriteFile(cmdFile, []byte(setupCmdScript), 0o644); err != nil {
		return vmerrors.NewConfigurationError("writing setup script: %v", err)
	}
	_, err := a.runner.Run(ctx, []string{
		"guestfish", "-a", qcow2Path, "-i", "--",
		"upload", cmdFile, "/Windows/vmware2scw-setup.cmd",
	}, subprocess.Options{Env: subprocess.GuestfsEnv})
	return err
}

func bootServiceRegistry() string {
	var b strings.Builder
	for i, drv := range virtioDrivers {
		if drv.name != "viostor" && drv.name != "vioscsi" {
			continue
		}
		fmt.Fprintf(&b, "[\\ControlSet001\\Services\\%s]\n", drv.name)
		fmt.Fprintf(&b, `"Type"=dword:00000001`+"\n")
		fmt.Fprintf(&b, `"Start"=dword:00000000`+"\n")
		fmt.Fprintf(&b, `"ErrorControl"=dword:00000001`+"\n")
		fmt.Fprintf(&b, `"Group"="%s"`+"\n", drv.group)
		fmt.Fprintf(&b, `"ImagePath"="%s"`+"\n", drv.imagePath)
		fmt.Fprintf(&b, `"Tag"=dword:0000004%d`+"\n\n", i)
	}
	return b.String()
}

// mergedQEMUBoot boots qcow2Path under QEMU with both virtio-blk and
// virtio-scsi attached, writing the serial console to serial-output.log.
// The log is read for the PHASE:COMPLETE marker only after QEMU exits; it
// is not watched while the guest runs. QEMU exits before qemuBootTimeout
// only when the guest shuts itself down (-no-reboot); otherwise the runner
// stops it at the timeout.
func (a *WindowsAdapter) mergedQEMUBoot(ctx context.Context, qcow2Path, workDir, firmware string) (bool, error) {
	if _, err := os.Stat("/dev/kvm"); err != nil {
		return false, vmerrors.NewPreconditionError("windows virtio injection requires a KVM-capable host (/dev/kvm not found)")
	}

	overlay := filepath.Join(workDir, "qemu-overlay.qcow2")
	_ = os.Remove(overlay)
	abs, err := filepath.Abs(qcow2Path)
	if err != nil {
		return false, vmerrors.NewConfigurationError("resolving qcow2 path: %v", err)
	}
	if _, err := a.runner.Run(ctx, []string{
		"qemu-img", "create", "-f", "qcow2", "-b", abs, "-F", "qcow2", overlay,
	}, subprocess.Options{}); err != nil {
		return false, err
	}

	serialLog := filepath.Join(workDir, "serial-output.log")
	_ = os.Remove(serialLog)

	args := []string{"qemu-system-x86_64", "-enable-kvm", "-m", "4096", "-smp", "2", "-cpu", "host"}
	if firmware == "efi" {
		if code, varsSrc, ok := ovmfPaths(); ok {
			ovmfVars := filepath.Join(workDir, "OVMF_VARS.fd")
			if err := copyFile(varsSrc, ovmfVars); err == nil {
				args = append(args,
					"-drive", fmt.Sprintf("if=pflash,format=raw,readonly=on,file=%s", code),
					"-drive", fmt.Sprintf("if=pflash,format=raw,file=%s", ovmfVars),
				)
			}
		}
	}
	args = append(args,
		"-drive", fmt.Sprintf("file=%s,format=qcow2,if=virtio", overlay),
		"-device", "virtio-scsi-pci,id=scsi0",
		"-serial", "file:"+serialLog,
		"-display", "none",
		"-no-reboot",
	)

	if _, err := a.runner.Run(ctx, args, subprocess.Options{
		Timeout:         qemuBootTimeout,
		ProgressPattern: `PHASE:(\w+)`,
	}); err != nil && !vmerrors.IsTimeoutError(err) {
		return false, err
	}

	completed := serialLogSignalsComplete(serialLog)

	if _, err := a.runner.Run(ctx, []string{"qemu-img", "commit", overlay}, subprocess.Options{BestEffort: true}); err != nil {
		merged := filepath.Join(workDir, "merged.qcow2")
		if _, cErr := a.runner.Run(ctx, []string{"qemu-img", "convert", "-O", "qcow2", overlay, merged}, subprocess.Options{}); cErr != nil {
			return false, cErr
		}
		if err := os.Rename(merged, qcow2Path); err != nil {
			return false, vmerrors.NewTransientError(err, "replacing qcow2 with merged overlay")
		}
	}
	_ = os.Remove(overlay)

	if !completed {
		completed = a.verifySetupLogInGuest(ctx, qcow2Path, workDir)
	}
	return completed, nil
}

func serialLogSignalsComplete(path string) bool {
	f, err := os.Open(path)
	if err != nil {
		return false
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		if strings.Contains(scanner.Text(), "PHASE:COMPLETE") {
			return true
		}
	}
	return false
}

func (a *WindowsAdapter) verifySetupLogInGuest(ctx context.Context, qcow2Path, workDir string) bool {
	localLog := filepath.Join(workDir, "setup.log")
	_, err := a.runner.Run(ctx, []string{
		"guestfish", "--ro", "-a", qcow2Path, "-i", "--",
		"download", "/vmware2scw-setup.log", localLog,
	}, subprocess.Options{BestEffort: true, Env: subprocess.GuestfsEnv})
	if err != nil {
		return false
	}
	data, err := os.ReadFile(localLog)
	if err != nil {
		return false
	}
	return strings.Contains(string(data), "Setup complete")
}

func ovmfPaths() (code, vars string, ok bool) {
	code = "/usr/share/OVMF/OVMF_CODE_4M.fd"
	vars = "/usr/share/OVMF/OVMF_VARS_4M.fd"
	if _, err := os.Stat(code); err != nil {
		return "", "", false
	}
	if _, err := os.Stat(vars); err != nil {
		return "", "", false
	}
	return code, vars, true
}

func copyFile(src, dst string) error {
	data, err := os.ReadFile(src)
	if err != nil {
		return err
	}
	return os.WriteFile(dst, data, 0o644)
}
