//go:build !unix

package procs

import (
	"errors"
	"os/exec"
)

func setProcessGroup(*exec.Cmd) {}

func killProcessGroup(int) error {
	return errors.New("process groups are not supported on this platform")
}
