package processstate

import (
	"context"
	"path/filepath"
	"strings"
	"time"

	"github.com/shirou/gopsutil/v3/process"

	"github.com/core-tools/hsu-multiserver/pkg/errors"
	"github.com/core-tools/hsu-multiserver/pkg/logging"
)

const (
	DefaultTerminateWaitTimeout = 10 * time.Second
	defaultPollInterval         = 100 * time.Millisecond
)

// IsProcessRunning reports whether any process with this pid exists on the host
func IsProcessRunning(pid int) (bool, error) {
	if pid <= 0 {
		return false, errors.NewValidationError("invalid PID", nil).WithContext("pid", pid)
	}
	return process.PidExists(int32(pid))
}

// FindProcess returns nil, nil when the pid is not running
func FindProcess(ctx context.Context, pid int) (*process.Process, error) {
	running, err := IsProcessRunning(pid)
	if err != nil {
		return nil, err
	}
	if !running {
		return nil, nil //nolint:nilnil
	}

	p, err := process.NewProcessWithContext(ctx, int32(pid))
	if err != nil {
		if err == process.ErrorProcessNotRunning {
			return nil, nil //nolint:nilnil
		}
		return nil, errors.NewIOError("failed to inspect process", err).WithContext("pid", pid)
	}
	return p, nil
}

// MatchesExecutable guards against pid reuse: a recorded pid only counts as ours
// while it still runs the expected binary
func MatchesExecutable(ctx context.Context, p *process.Process, executable string) bool {
	want := filepath.Base(executable)

	if exe, err := p.ExeWithContext(ctx); err == nil && exe != "" {
		if filepath.Base(exe) == want {
			return true
		}
	}

	name, err := p.NameWithContext(ctx)
	if err != nil || name == "" {
		return false
	}
	// /proc comm is truncated to 15 bytes
	return name == want || (len(name) >= 15 && strings.HasPrefix(want, name))
}

// TerminateAndKill sends a graceful termination, waits up to timeout and kills the process
// if it is still alive
func TerminateAndKill(ctx context.Context, p *process.Process, timeout time.Duration, logger logging.Logger) error {
	if timeout <= 0 {
		timeout = DefaultTerminateWaitTimeout
	}

	if err := p.TerminateWithContext(ctx); err != nil {
		if running, _ := p.IsRunningWithContext(ctx); !running {
			return nil
		}
		return errors.NewProcessError("failed to terminate process", err).WithContext("pid", p.Pid)
	}

	logger.Debugf("Waiting for process to terminate, pid: %d", p.Pid)

	waitCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	ticker := time.NewTicker(defaultPollInterval)
	defer ticker.Stop()

	for stop := false; !stop; {
		if running, _ := p.IsRunningWithContext(ctx); !running {
			return nil
		}

		select {
		case <-waitCtx.Done():
			stop = true
		case <-ticker.C:
		}
	}

	logger.Warnf("Process did not terminate in %v, killing, pid: %d", timeout, p.Pid)

	if err := p.KillWithContext(ctx); err != nil {
		if running, _ := p.IsRunningWithContext(ctx); !running {
			return nil
		}
		return errors.NewProcessError("failed to kill process", err).WithContext("pid", p.Pid)
	}

	return nil
}
