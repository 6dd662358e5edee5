//go:build windows

package block

import "os/exec"

func configureCmd(_ *exec.Cmd) {}

func signaled(_ *exec.ExitError) bool { return false }
