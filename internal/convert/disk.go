// Package convert drives qemu-img to turn a VMDK export into a qcow2 image
// the adapt stages and target hypervisor can boot, with the integrity check
// qemu-img itself provides.
package convert

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"

	"go.uber.org/zap"

	vmerrors "github.com/scaleway/vmware2scw/pkg/errors"
	"github.com/scaleway/vmware2scw/pkg/subprocess"
)

// Info is the subset of `qemu-img info --output=json` this engine reads.
type Info struct {
	Filename    string `json:"filename"`
	Format      string `json:"format"`
	VirtualSize int64  `json:"virtual-size"`
	ActualSize  int64  `json:"actual-size"`
}

// DiskConverter wraps qemu-img convert/info/check for the convert stage.
type DiskConverter struct {
	runner  *subprocess.Runner
	qemuImg string
	log     *zap.SugaredLogger
}

func NewDiskConverter(runner *subprocess.Runner, qemuImgPath string) *DiskConverter {
	if qemuImgPath == "" {
		qemuImgPath = "qemu-img"
	}
	return &DiskConverter{runner: runner, qemuImg: qemuImgPath, log: zap.S().Named("convert")}
}

// Convert turns inputPath (any qemu-img-readable format, typically an
// exported VMDK) into a qcow2 image at outputPath, optionally compressed,
// then verifies the result with Check. If outputPath already exists and
// passes Check, conversion is skipped entirely — a re-run after a partial
// batch must not redo work a prior attempt already finished.
func (c *DiskConverter) Convert(ctx context.Context, inputPath, outputPath string, compress bool, progress subprocess.ProgressFunc) error {
	if _, err := os.Stat(outputPath); err == nil {
		if ok, err := c.Check(ctx, outputPath); err == nil && ok {
			c.log.Infow("output already converted, skipping", "path", outputPath)
			return nil
		}
	}

	if _, err := os.Stat(inputPath); err != nil {
		return vmerrors.NewPreconditionError("convert: input disk not found: %s", inputPath)
	}
	if err := os.MkdirAll(filepath.Dir(outputPath), 0o755); err != nil {
		return vmerrors.NewIntegrityError("convert: creating output directory: %v", err)
	}

	cmd := []string{c.qemuImg, "convert", "-O", "qcow2", "-p"}
	if compress {
		cmd = append(cmd, "-c")
	}
	cmd = append(cmd, inputPath, outputPath)

	_, err := c.runner.Run(ctx, cmd, subprocess.Options{
		ProgressPattern: `\((\d+\.\d+)/100%\)`,
		Progress:        progress,
	})
	if err != nil {
		return err
	}

	if _, err := os.Stat(outputPath); err != nil {
		return vmerrors.NewIntegrityError("convert: produced no output file: %s", outputPath)
	}
	ok, err := c.Check(ctx, outputPath)
	if err != nil {
		return err
	}
	if !ok {
		return vmerrors.NewIntegrityError("convert: output image failed integrity check: %s", outputPath)
	}
	return nil
}

// Info reads qemu-img's JSON metadata for an image.
func (c *DiskConverter) Info(ctx context.Context, path string) (Info, error) {
	res, err := c.runner.Run(ctx, []string{c.qemuImg, "info", "--output=json", path}, subprocess.Options{})
	if err != nil {
		return Info{}, err
	}
	var info Info
	if err := json.Unmarshal([]byte(res.Stdout), &info); err != nil {
		return Info{}, vmerrors.NewIntegrityError("convert: parsing qemu-img info for %s: %v", path, err)
	}
	return info, nil
}

// Check verifies a qcow2 image's integrity. Exit code 1 (fixable leaks) is
// treated as healthy; 2 and above is corruption.
func (c *DiskConverter) Check(ctx context.Context, path string) (bool, error) {
	res, err := c.runner.Run(ctx, []string{c.qemuImg, "check", path}, subprocess.Options{BestEffort: true})
	if err != nil {
		return false, err
	}
	switch {
	case res.ExitCode == 0:
		return true, nil
	case res.ExitCode == 1:
		c.log.Warnw("image has fixable leaks", "path", path)
		return true, nil
	default:
		c.log.Errorw("image check failed", "path", path, "exit_code", res.ExitCode)
		return false, nil
	}
}

// Repair attempts to fix leaked clusters in a qcow2 image.
func (c *DiskConverter) Repair(ctx context.Context, path string) error {
	_, err := c.runner.Run(ctx, []string{c.qemuImg, "check", "-r", "leaks", path}, subprocess.Options{BestEffort: true})
	return err
}
