//go:build windows

package gpuusage

import (
	"os/exec"
	"syscall"
)

// hideWindow keeps vendor tool invocations from flashing a console window.
func hideWindow(cmd *exec.Cmd) {
	cmd.SysProcAttr = &syscall.SysProcAttr{HideWindow: true}
}
