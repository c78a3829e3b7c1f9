//go:build windows

package core

import "os/exec"

// setProcessGroup Windows下依赖WaitDelay回收残留的子进程输出
func setProcessGroup(cmd *exec.Cmd) {}
