//go:build !windows

package process

import (
	"errors"

	"golang.org/x/sys/unix"
)

// Signals the whole group. Handle only calls this before the leader has been reaped;
// ESRCH means the group is already gone.
func signalGroup(h *Handle, sig unix.Signal) error {
	err := unix.Kill(-h.pid, sig)
	if errors.Is(err, unix.ESRCH) {
		return nil
	}
	return err
}

func sendTerminate(h *Handle) error {
	return signalGroup(h, unix.SIGTERM)
}

func sendKill(h *Handle) error {
	return signalGroup(h, unix.SIGKILL)
}
