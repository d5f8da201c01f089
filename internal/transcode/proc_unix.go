//go:build !windows

package transcode

import (
	"os/exec"
	"syscall"
)

// detach puts the transcoder in its own process group so a terminal Ctrl+C
// reaches only this program, which then cancels the job itself.
func detach(cmd *exec.Cmd) {
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
}
