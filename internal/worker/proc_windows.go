//go:build windows

package worker

import (
	"os"
	"os/exec"
)

var (
	termSignal = os.Kill
	killSignal = os.Kill
)

func configureProcess(*exec.Cmd) {}

func signalGroup(cmd *exec.Cmd, _ os.Signal) {
	if cmd == nil || cmd.Process == nil {
		return
	}
	_ = cmd.Process.Kill()
}

func signalExitCode(*exec.ExitError) int {
	return 1
}
