//go:build !unix

package fetcher

import "os/exec"

func killProcessGroup(cmd *exec.Cmd) {}
