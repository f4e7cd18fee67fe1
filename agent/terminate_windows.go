//go:build windows

package agent

import "os/exec"

func terminate(cmd *exec.Cmd) error {
	// Windows has no SIGTERM equivalent for arbitrary processes.
	return cmd.Process.Kill()
}
