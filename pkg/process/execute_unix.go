//go:build !windows

package process

import (
	"os/exec"
	"syscall"
)

// Own process group, so the whole tree can be signalled through -pid
func setupProcessAttributes(cmd *exec.Cmd) {
	cmd.SysProcAttr = &syscall.SysProcAttr{
		Setpgid: true,
	}
}
