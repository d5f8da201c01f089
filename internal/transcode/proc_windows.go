//go:build windows

package transcode

import (
	"os/exec"
	"syscall"
)

// detach starts the transcoder in a new process group so console Ctrl+C is
// not delivered to it directly.
func detach(cmd *exec.Cmd) {
	cmd.SysProcAttr = &syscall.SysProcAttr{CreationFlags: syscall.CREATE_NEW_PROCESS_GROUP}
}
