// Package subprocess centralizes invocation of the external disk tools
// (qemu-img, guestfish, virt-customize, virt-v2v, sgdisk, mkfs.vfat,
// qemu-system-x86_64, ntfsfix, losetup, pnputil, bcdboot). It is the single
// wrapper design note calls for: argument logging with secrets redacted,
// environment merge, timeout, stderr-tail capture on failure, and an
// optional progress-regex callback.
package subprocess

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"regexp"
	"strconv"
	"strings"
	"time"

	vmerrors "github.com/scaleway/vmware2scw/pkg/errors"
	"go.uber.org/zap"
)

// DefaultTimeout is the ceiling a subprocess invocation inherits when the
// caller does not specify a domain-specific one (spec.md §5).
const DefaultTimeout = time.Hour

const stderrTailBytes = 500

// GuestfsEnv is merged into every guest-inspection invocation
// (guestfish/virt-customize), forcing the direct (non-appliance) backend.
var GuestfsEnv = map[string]string{"LIBGUESTFS_BACKEND": "direct"}

// Result is the outcome of a completed invocation.
type Result struct {
	Stdout   string
	Stderr   string
	ExitCode int
}

// ProgressFunc receives a parsed percentage (0-100) from matching
// ProgressPattern against each line of stderr as it streams.
type ProgressFunc func(pct float64)

// Options configures a single Run call.
type Options struct {
	// Env is merged over the current process environment.
	Env map[string]string
	// BestEffort, when true, makes a non-zero exit a logged warning
	// instead of an ExternalTool error — every command inside adapt_guest
	// and every cleanup step runs this way. The default (false) matches
	// the check=True default of the original subprocess wrapper.
	BestEffort bool
	// Timeout overrides DefaultTimeout; zero means DefaultTimeout.
	Timeout time.Duration
	// ProgressPattern, if set, is matched against each stderr line; the
	// first capture group is parsed as a float and passed to Progress.
	ProgressPattern string
	Progress        ProgressFunc
	// Secrets is a list of literal substrings to redact from logged
	// command lines (credentials passed as CLI args, if any).
	Secrets []string
}

// Runner executes external tools with the policy above.
type Runner struct {
	log *zap.SugaredLogger
}

func NewRunner() *Runner {
	return &Runner{log: zap.S().Named("subprocess")}
}

// Available reports whether tool is resolvable on PATH.
func (r *Runner) Available(tool string) bool {
	_, err := exec.LookPath(tool)
	return err == nil
}

// Run executes cmd[0] with cmd[1:] as arguments under opts.
func (r *Runner) Run(ctx context.Context, cmd []string, opts Options) (*Result, error) {
	if opts.Timeout == 0 {
		opts.Timeout = DefaultTimeout
	}
	if !r.Available(cmd[0]) {
		return nil, vmerrors.NewExternalToolError(cmd[0], -1, "command not found: "+cmd[0]+" (install the required package)")
	}

	runCtx, cancel := context.WithTimeout(ctx, opts.Timeout)
	defer cancel()

	c := exec.CommandContext(runCtx, cmd[0], cmd[1:]...)
	c.Env = mergeEnv(opts.Env)

	r.log.Debugf("$ %s", redact(cmd, opts.Secrets))

	var stdoutBuf bytes.Buffer
	var stderrBuf bytes.Buffer

	if opts.ProgressPattern != "" && opts.Progress != nil {
		stderrPipe, err := c.StderrPipe()
		if err != nil {
			return nil, err
		}
		c.Stdout = &stdoutBuf
		if err := c.Start(); err != nil {
			return nil, vmerrors.NewExternalToolError(cmd[0], -1, err.Error())
		}
		pattern := regexp.MustCompile(opts.ProgressPattern)
		scanner := bufio.NewScanner(stderrPipe)
		for scanner.Scan() {
			line := scanner.Text()
			stderrBuf.WriteString(line)
			stderrBuf.WriteByte('\n')
			if m := pattern.FindStringSubmatch(line); len(m) > 1 {
				if pct, err := strconv.ParseFloat(m[1], 64); err == nil {
					opts.Progress(pct)
				}
			}
		}
		waitErr := c.Wait()
		return r.finish(cmd, stdoutBuf.String(), stderrBuf.String(), c, waitErr, opts, runCtx)
	}

	c.Stdout = &stdoutBuf
	c.Stderr = &stderrBuf
	runErr := c.Run()
	return r.finish(cmd, stdoutBuf.String(), stderrBuf.String(), c, runErr, opts, runCtx)
}

func (r *Runner) finish(cmd []string, stdout, stderr string, c *exec.Cmd, runErr error, opts Options, ctx context.Context) (*Result, error) {
	exitCode := 0
	if c.ProcessState != nil {
		exitCode = c.ProcessState.ExitCode()
	}

	res := &Result{Stdout: stdout, Stderr: stderr, ExitCode: exitCode}

	if ctx.Err() != nil {
		return res, vmerrors.NewTimeoutError("%s timed out after its invocation budget", cmd[0])
	}

	if runErr != nil && exitCode == -1 {
		return res, vmerrors.NewExternalToolError(cmd[0], exitCode, runErr.Error())
	}
	if exitCode != 0 {
		if !opts.BestEffort {
			return res, vmerrors.NewExternalToolError(cmd[0], exitCode, tail(stderr))
		}
		r.log.Warnf("%s exited %d (best-effort, ignored): %s", cmd[0], exitCode, tail(stderr))
	}
	return res, nil
}

func tail(s string) string {
	s = strings.TrimSpace(s)
	if len(s) > stderrTailBytes {
		return s[len(s)-stderrTailBytes:]
	}
	return s
}

func mergeEnv(overrides map[string]string) []string {
	base := os.Environ()
	if len(overrides) == 0 {
		return base
	}
	merged := make(map[string]string, len(base)+len(overrides))
	for _, kv := range base {
		if i := strings.IndexByte(kv, '='); i >= 0 {
			merged[kv[:i]] = kv[i+1:]
		}
	}
	for k, v := range overrides {
		merged[k] = v
	}
	out := make([]string, 0, len(merged))
	for k, v := range merged {
		out = append(out, k+"="+v)
	}
	return out
}

func redact(cmd []string, secrets []string) string {
	parts := make([]string, len(cmd))
	copy(parts, cmd)
	for i, p := range parts {
		for _, s := range secrets {
			if s != "" && strings.Contains(p, s) {
				parts[i] = strings.ReplaceAll(p, s, "***REDACTED***")
			}
		}
	}
	if len(parts) > 8 {
		return fmt.Sprintf("%s ... (%d args)", strings.Join(parts[:8], " "), len(parts))
	}
	return strings.Join(parts, " ")
}
