//go:build !windows

package core

import (
	"os/exec"
	"syscall"
)

// setProcessGroup 让外部工具在独立进程组中运行,取消时杀掉整个组
func setProcessGroup(cmd *exec.Cmd) {
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	cmd.Cancel = func() error {
		if cmd.Process == nil {
			return nil
		}
		return syscall.Kill(-cmd.Process.Pid, syscall.SIGKILL)
	}
}
