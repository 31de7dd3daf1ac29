//go:build windows

package process

import (
	"errors"
	"os"
)

// No graceful console signal here, the process is stopped outright
func sendTerminate(h *Handle) error {
	return sendKill(h)
}

func sendKill(h *Handle) error {
	if h.Poll().Exited() {
		return nil
	}
	err := h.cmd.Process.Kill()
	if errors.Is(err, os.ErrProcessDone) {
		return nil
	}
	return err
}
